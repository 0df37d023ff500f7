package printers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tzi-shue/print-service-deploy/agent/spooler"
)

var (
	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	repeatedUnder    = regexp.MustCompile(`_+`)
)

// SanitizeName reduces name to the characters a queue name may hold.
// An empty result falls back to Printer_<unix time>.
func SanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = repeatedUnder.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "Printer_" + strconv.FormatInt(time.Now().Unix(), 10)
	}
	return name
}

// ProvisionResult is the outcome of Install.
type ProvisionResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Name     string   `json:"printer_name"`
	Driver   string   `json:"driver,omitempty"`
	Attempts []string `json:"-"`
}

// ProvisionerOptions configures a Provisioner.
type ProvisionerOptions struct {
	Subsystem spooler.Subsystem
	Recorder  ProvenanceRecorder
	// WorkDir receives PPDs generated for driverless queues.
	WorkDir string
	Logger  Logger
}

// Provisioner creates, removes and re-drives print queues.
type Provisioner struct {
	sub      spooler.Subsystem
	recorder ProvenanceRecorder
	workDir  string
	logger   Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(opts ProvisionerOptions) *Provisioner {
	logger := opts.Logger
	if logger == nil {
		logger = nullLogger{}
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Provisioner{
		sub:      opts.Subsystem,
		recorder: opts.Recorder,
		workDir:  workDir,
		logger:   logger,
	}
}

// Ladder returns the ordered, de-duplicated driver attempts for a
// preferred driver.
func Ladder(preferred string) []string {
	candidates := []string{
		strings.TrimSpace(preferred),
		DriverGenericPostScript,
		DriverGenericPCL,
		DriverEverywhere,
		DriverDriverless,
		DriverRaw,
	}
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Install creates queue name for uri, walking the driver ladder until one
// attempt produces a queue that exists.
func (p *Provisioner) Install(ctx context.Context, name, uri, preferred string) ProvisionResult {
	name = SanitizeName(name)
	res := ProvisionResult{Name: name}

	if uri == "" || !strings.Contains(uri, "://") {
		res.Message = ErrInvalidURI.Error()
		return res
	}

	if p.sub.QueueExists(ctx, name) {
		p.logger.Info("Replacing existing queue", "printer", name)
		if err := p.sub.RemoveQueue(ctx, name); err != nil {
			p.logger.Warn("Failed to remove existing queue", "printer", name, "error", err)
		}
	}

	var lastErr error
	for _, driver := range Ladder(preferred) {
		res.Attempts = append(res.Attempts, driver)
		p.logger.Info("Installing printer", "printer", name, "uri", uri, "driver", driver)

		if err := p.tryDriver(ctx, name, uri, driver); err != nil {
			p.logger.Warn("Driver attempt failed", "printer", name, "driver", driver, "error", err)
			lastErr = err
			continue
		}

		if p.recorder != nil {
			if err := p.recorder.MarkInstalled(ctx, name, uri, driver); err != nil {
				p.logger.Warn("Failed to record provenance", "printer", name, "error", err)
			}
		}
		res.Success = true
		res.Driver = driver
		res.Message = fmt.Sprintf("printer %s added with driver %s", name, driver)
		return res
	}

	if p.sub.QueueExists(ctx, name) {
		if err := p.sub.RemoveQueue(ctx, name); err != nil {
			p.logger.Warn("Failed to remove partial queue", "printer", name, "error", err)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no driver candidates")
	}
	res.Message = "all drivers failed: " + lastErr.Error()
	return res
}

func (p *Provisioner) tryDriver(ctx context.Context, name, uri, driver string) error {
	if driver == DriverDriverless {
		return p.installDriverless(ctx, name, uri)
	}
	if err := p.sub.InstallQueue(ctx, name, uri, driver); err != nil {
		return err
	}
	return p.enableAndVerify(ctx, name)
}

// installDriverless tries the driverless model directly and falls back to a
// PPD generated from the device.
func (p *Provisioner) installDriverless(ctx context.Context, name, uri string) error {
	direct := p.sub.InstallQueue(ctx, name, uri, DriverDriverless+":"+uri)
	if direct == nil {
		if direct = p.enableAndVerify(ctx, name); direct == nil {
			return nil
		}
	}
	p.logger.Debug("Direct driverless model failed, generating PPD", "printer", name, "error", direct)

	ppd, err := p.generatePPD(ctx, uri)
	if err != nil {
		return fmt.Errorf("driverless: %v; %w", direct, err)
	}
	defer os.Remove(ppd)

	if err := p.sub.InstallQueuePPD(ctx, name, uri, ppd); err != nil {
		return err
	}
	return p.enableAndVerify(ctx, name)
}

func (p *Provisioner) generatePPD(ctx context.Context, uri string) (string, error) {
	if err := os.MkdirAll(p.workDir, 0755); err != nil {
		return "", fmt.Errorf("create PPD work directory: %w", err)
	}
	path := filepath.Join(p.workDir, "driverless-"+uuid.NewString()+".ppd")
	if err := p.sub.GenerateDriverlessPPD(ctx, uri, path); err != nil {
		os.Remove(path)
		return "", err
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		os.Remove(path)
		return "", errors.New("driverless produced no PPD")
	}
	return path, nil
}

func (p *Provisioner) enableAndVerify(ctx context.Context, name string) error {
	if err := p.sub.EnableQueue(ctx, name); err != nil {
		p.logger.Debug("Enable reported errors", "printer", name, "error", err)
	}
	if !p.sub.QueueExists(ctx, name) {
		return fmt.Errorf("queue %s not present after install", name)
	}
	return nil
}

// Remove deletes queue name and forgets its provenance.
func (p *Provisioner) Remove(ctx context.Context, name string) Result {
	if name == "" {
		return Result{Message: "printer name is required"}
	}
	if err := p.sub.RemoveQueue(ctx, name); err != nil {
		return Result{Message: fmt.Sprintf("failed to remove %s: %v", name, err)}
	}
	if p.recorder != nil {
		if err := p.recorder.Forget(ctx, name); err != nil {
			p.logger.Warn("Failed to drop provenance", "printer", name, "error", err)
		}
	}
	p.logger.Info("Printer removed", "printer", name)
	return Result{Success: true, Message: fmt.Sprintf("printer %s removed", name)}
}

// ChangeDriver re-drives an existing queue with driver and re-enables it.
func (p *Provisioner) ChangeDriver(ctx context.Context, name, driver string) Result {
	driver = strings.TrimSpace(driver)
	if name == "" || driver == "" {
		return Result{Message: "printer name and driver are required"}
	}
	if !p.sub.QueueExists(ctx, name) {
		return Result{Message: fmt.Sprintf("printer %s does not exist", name)}
	}

	var err error
	if driver == DriverDriverless {
		err = p.changeToDriverless(ctx, name)
	} else {
		err = p.sub.SetQueueModel(ctx, name, driver)
	}
	if err != nil {
		return Result{Message: fmt.Sprintf("failed to change driver of %s: %v", name, err)}
	}

	if err := p.sub.EnableQueue(ctx, name); err != nil {
		p.logger.Debug("Enable reported errors", "printer", name, "error", err)
	}
	if p.recorder != nil {
		if err := p.recorder.UpdateDriver(ctx, name, driver); err != nil {
			p.logger.Warn("Failed to record driver change", "printer", name, "error", err)
		}
	}
	p.logger.Info("Printer driver changed", "printer", name, "driver", driver)
	return Result{Success: true, Message: fmt.Sprintf("driver of %s changed to %s", name, driver)}
}

func (p *Provisioner) changeToDriverless(ctx context.Context, name string) error {
	uri, err := p.queueURI(ctx, name)
	if err != nil {
		return err
	}
	if err := p.sub.SetQueueModel(ctx, name, DriverDriverless+":"+uri); err == nil {
		return nil
	}
	ppd, err := p.generatePPD(ctx, uri)
	if err != nil {
		return err
	}
	defer os.Remove(ppd)
	return p.sub.SetQueuePPD(ctx, name, ppd)
}

func (p *Provisioner) queueURI(ctx context.Context, name string) (string, error) {
	pairs, err := p.sub.DeviceURIs(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve device URI: %w", err)
	}
	for _, pair := range pairs {
		if pair.Name == name && pair.URI != "" {
			return pair.URI, nil
		}
	}
	return "", fmt.Errorf("no device URI for %s", name)
}
