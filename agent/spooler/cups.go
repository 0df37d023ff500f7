package spooler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	acceptingRegex = regexp.MustCompile(`^(\S+)\s+(?:accepting|接受)`)
	printerRegex   = regexp.MustCompile(`^(?:printer|打印机)\s+(\S+)\s*(.*)$`)
	defaultRegex   = regexp.MustCompile(`(?:system default destination|系统默认目的地)\s*[:：]\s*(\S+)`)
	deviceRegex    = regexp.MustCompile(`^device\s+for\s+(\S+):\s*(.+)$`)
	deviceZhRegex  = regexp.MustCompile(`^(\S+)\s+的设备[：:]\s*(.+)$`)
	jobRegex       = regexp.MustCompile(`^(\S+)-(\d+)\s+(\S+)\s+(\d+)\s+(.*)$`)
	requestIDRegex = regexp.MustCompile(`(?:request id is|请求 ID 为)\s+(\S+)`)
	lpinfoRegex    = regexp.MustCompile(`^(\S+)\s+(.+)$`)
	ppdNameRegex   = regexp.MustCompile(`^\*(NickName|ModelName):\s*"([^"]*)"`)
	makeModelRegex = regexp.MustCompile(`printer-make-and-model='([^']*)'|printer-make-and-model=(\S+)`)
)

// CUPSConfig configures the CUPS adapter.
type CUPSConfig struct {
	PPDDir         string
	CommandTimeout time.Duration
	// InstallTimeout bounds lpadmin and driverless, which may contact the device.
	InstallTimeout time.Duration
}

// DefaultCUPSConfig returns the stock CUPS locations.
func DefaultCUPSConfig() CUPSConfig {
	return CUPSConfig{
		PPDDir:         "/etc/cups/ppd",
		CommandTimeout: 10 * time.Second,
		InstallTimeout: 60 * time.Second,
	}
}

// CUPS implements Subsystem with the CUPS command-line tools.
type CUPS struct {
	cfg    CUPSConfig
	runner Runner
	logger Logger
}

// NewCUPS returns a CUPS adapter. A nil runner uses ExecRunner.
func NewCUPS(cfg CUPSConfig, runner Runner, logger Logger) *CUPS {
	def := DefaultCUPSConfig()
	if cfg.PPDDir == "" {
		cfg.PPDDir = def.PPDDir
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = def.InstallTimeout
	}
	if runner == nil {
		runner = ExecRunner{DefaultTimeout: cfg.CommandTimeout}
	}
	if logger == nil {
		logger = nullLogger{}
	}
	return &CUPS{cfg: cfg, runner: runner, logger: logger}
}

func (c *CUPS) run(ctx context.Context, name string, args ...string) Result {
	res := c.runner.Run(ctx, Command{Name: name, Args: args, Env: cLocale, Timeout: c.cfg.CommandTimeout})
	if !res.OK() {
		c.logger.Debug("CUPS command failed", "cmd", name+" "+strings.Join(args, " "), "exit", res.ExitCode, "error", res.Message())
	}
	return res
}

func (c *CUPS) admin(ctx context.Context, name string, args ...string) error {
	res := c.runner.Run(ctx, Command{Name: name, Args: args, Env: cLocale, Timeout: c.cfg.InstallTimeout})
	if !res.OK() {
		return fmt.Errorf("%s: %s", name, res.Message())
	}
	return nil
}

// AcceptingQueues lists queues that accept jobs (lpstat -a).
func (c *CUPS) AcceptingQueues(ctx context.Context) ([]string, error) {
	res := c.run(ctx, "lpstat", "-a")
	if !res.OK() {
		return nil, fmt.Errorf("lpstat -a: %s", res.Message())
	}
	return parseAccepting(res.Stdout), nil
}

// Queues lists every queue with its state (lpstat -p). No queues is not an error.
func (c *CUPS) Queues(ctx context.Context) ([]QueueStatus, error) {
	res := c.run(ctx, "lpstat", "-p")
	if !res.OK() {
		if res.ExitCode == 1 && strings.TrimSpace(res.Stdout) == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("lpstat -p: %s", res.Message())
	}
	return parseQueues(res.Stdout), nil
}

// QueueDescriptors lists queue names that have a PPD in the PPD directory.
func (c *CUPS) QueueDescriptors(ctx context.Context) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(c.cfg.PPDDir, "*.ppd"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(filepath.Base(f), ".ppd"))
	}
	sort.Strings(names)
	return names, nil
}

// DefaultQueue returns the system default destination, or "".
func (c *CUPS) DefaultQueue(ctx context.Context) (string, error) {
	res := c.run(ctx, "lpstat", "-d")
	if !res.OK() {
		return "", fmt.Errorf("lpstat -d: %s", res.Message())
	}
	return parseDefault(res.Stdout), nil
}

// DeviceURIs maps queues to device URIs (lpstat -v).
func (c *CUPS) DeviceURIs(ctx context.Context) ([]QueueURI, error) {
	res := c.run(ctx, "lpstat", "-v")
	if !res.OK() {
		return nil, fmt.Errorf("lpstat -v: %s", res.Message())
	}
	return parseDeviceURIs(res.Stdout), nil
}

// DriverName returns the display name of a queue's driver: the PPD
// NickName/ModelName, else the make-and-model reported by lpoptions.
func (c *CUPS) DriverName(ctx context.Context, queue string) string {
	if name := readPPDName(filepath.Join(c.cfg.PPDDir, queue+".ppd")); name != "" {
		return name
	}
	res := c.run(ctx, "lpoptions", "-p", queue)
	if !res.OK() {
		return ""
	}
	return parseMakeModel(res.Stdout)
}

// QueueExists reports whether lpstat knows the queue.
func (c *CUPS) QueueExists(ctx context.Context, queue string) bool {
	return c.run(ctx, "lpstat", "-p", queue).OK()
}

// InstallQueue creates or replaces queue with a driver model.
func (c *CUPS) InstallQueue(ctx context.Context, queue, uri, model string) error {
	return c.admin(ctx, "lpadmin", "-p", queue, "-v", uri, "-m", model)
}

// InstallQueuePPD creates or replaces queue with a PPD file.
func (c *CUPS) InstallQueuePPD(ctx context.Context, queue, uri, ppdPath string) error {
	return c.admin(ctx, "lpadmin", "-p", queue, "-v", uri, "-P", ppdPath)
}

// EnableQueue enables the queue and makes it accept jobs.
func (c *CUPS) EnableQueue(ctx context.Context, queue string) error {
	if err := c.admin(ctx, "lpadmin", "-p", queue, "-E"); err != nil {
		return err
	}
	var errs []error
	if err := c.admin(ctx, "cupsenable", queue); err != nil {
		errs = append(errs, err)
	}
	if err := c.admin(ctx, "cupsaccept", queue); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RemoveQueue deletes a queue.
func (c *CUPS) RemoveQueue(ctx context.Context, queue string) error {
	return c.admin(ctx, "lpadmin", "-x", queue)
}

// SetQueueModel switches an existing queue to another driver model.
func (c *CUPS) SetQueueModel(ctx context.Context, queue, model string) error {
	return c.admin(ctx, "lpadmin", "-p", queue, "-m", model)
}

// SetQueuePPD switches an existing queue to a PPD file.
func (c *CUPS) SetQueuePPD(ctx context.Context, queue, ppdPath string) error {
	return c.admin(ctx, "lpadmin", "-p", queue, "-P", ppdPath)
}

// GenerateDriverlessPPD asks the driverless tool for a PPD describing the
// device at uri and writes it to dest.
func (c *CUPS) GenerateDriverlessPPD(ctx context.Context, uri, dest string) error {
	res := c.runner.Run(ctx, Command{Name: "driverless", Args: []string{uri}, Env: cLocale, Timeout: c.cfg.InstallTimeout})
	if !res.OK() {
		return fmt.Errorf("driverless: %s", res.Message())
	}
	if !strings.Contains(res.Stdout, "*PPD-Adobe") {
		return fmt.Errorf("driverless: no PPD produced for %s", uri)
	}
	if err := os.WriteFile(dest, []byte(res.Stdout), 0644); err != nil {
		return fmt.Errorf("write driverless PPD: %w", err)
	}
	return nil
}

// ListDevices lists backend devices (lpinfo -v).
func (c *CUPS) ListDevices(ctx context.Context) ([]Device, error) {
	res := c.runner.Run(ctx, Command{Name: "lpinfo", Args: []string{"-v"}, Env: cLocale, Timeout: c.cfg.InstallTimeout})
	if !res.OK() {
		return nil, fmt.Errorf("lpinfo -v: %s", res.Message())
	}
	var devices []Device
	for _, line := range lines(res.Stdout) {
		if m := lpinfoRegex.FindStringSubmatch(line); m != nil {
			devices = append(devices, Device{Class: m[1], URI: strings.TrimSpace(m[2])})
		}
	}
	return devices, nil
}

// ListModels lists installable drivers (lpinfo -m).
func (c *CUPS) ListModels(ctx context.Context) ([]Model, error) {
	res := c.runner.Run(ctx, Command{Name: "lpinfo", Args: []string{"-m"}, Env: cLocale, Timeout: c.cfg.InstallTimeout})
	if !res.OK() {
		return nil, fmt.Errorf("lpinfo -m: %s", res.Message())
	}
	var models []Model
	for _, line := range lines(res.Stdout) {
		if m := lpinfoRegex.FindStringSubmatch(line); m != nil {
			models = append(models, Model{PPD: m[1], Name: strings.TrimSpace(m[2])})
		}
	}
	return models, nil
}

// Submit sends file to queue with lp and returns the job id.
func (c *CUPS) Submit(ctx context.Context, queue, file string, copies int, options []string) (string, error) {
	if copies < 1 {
		copies = 1
	}
	args := []string{"-d", queue, "-n", strconv.Itoa(copies)}
	for _, opt := range options {
		args = append(args, "-o", opt)
	}
	args = append(args, file)

	res := c.runner.Run(ctx, Command{Name: "lp", Args: args, Env: cLocale, Timeout: c.cfg.InstallTimeout})
	if !res.OK() {
		return "", fmt.Errorf("lp: %s", res.Message())
	}
	return ParseRequestID(res.Stdout), nil
}

// Jobs lists pending jobs (lpstat -o).
func (c *CUPS) Jobs(ctx context.Context) ([]Job, error) {
	res := c.run(ctx, "lpstat", "-o")
	if !res.OK() {
		if res.ExitCode == 1 && strings.TrimSpace(res.Stdout) == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("lpstat -o: %s", res.Message())
	}
	return parseJobs(res.Stdout), nil
}

// CancelJob cancels a job by id ("Queue-12" or "12").
func (c *CUPS) CancelJob(ctx context.Context, id string) error {
	return c.admin(ctx, "cancel", id)
}

// SchedulerRunning reports whether cupsd is up (lpstat -r).
func (c *CUPS) SchedulerRunning(ctx context.Context) bool {
	res := c.run(ctx, "lpstat", "-r")
	return res.OK() && strings.Contains(res.Stdout, "is running")
}

func lines(s string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseAccepting(out string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, line := range lines(out) {
		if m := acceptingRegex.FindStringSubmatch(line); m != nil && !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func parseQueues(out string) []QueueStatus {
	var queues []QueueStatus
	for _, line := range lines(out) {
		m := printerRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		detail := m[2]
		queues = append(queues, QueueStatus{
			Name:     m[1],
			Enabled:  !strings.Contains(detail, "disabled") && !strings.Contains(detail, "已禁用"),
			Printing: strings.Contains(detail, "now printing") || strings.Contains(detail, "正在打印"),
			Detail:   detail,
		})
	}
	return queues
}

func parseDefault(out string) string {
	if m := defaultRegex.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return ""
}

func parseDeviceURIs(out string) []QueueURI {
	var uris []QueueURI
	for _, line := range lines(out) {
		m := deviceRegex.FindStringSubmatch(line)
		if m == nil {
			m = deviceZhRegex.FindStringSubmatch(line)
		}
		if m != nil {
			uris = append(uris, QueueURI{Name: m[1], URI: strings.TrimSpace(m[2])})
		}
	}
	return uris
}

func parseJobs(out string) []Job {
	var jobs []Job
	for _, line := range lines(out) {
		m := jobRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		size, _ := strconv.ParseInt(m[4], 10, 64)
		jobs = append(jobs, Job{
			ID:        m[1] + "-" + m[2],
			Printer:   m[1],
			User:      m[3],
			Size:      size,
			Submitted: strings.TrimSpace(m[5]),
		})
	}
	return jobs
}

// ParseRequestID extracts the job id from lp output such as
// "request id is Office-42 (1 file(s))".
func ParseRequestID(out string) string {
	if m := requestIDRegex.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return ""
}

func parseMakeModel(out string) string {
	m := makeModelRegex.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	name := m[1]
	if name == "" {
		name = m[2]
	}
	name = strings.ReplaceAll(name, `\ `, " ")
	switch strings.ToLower(name) {
	case "local raw printer", "raw":
		return "Raw Queue"
	}
	if strings.Contains(strings.ToLower(name), "everywhere") {
		return "IPP Everywhere"
	}
	return name
}

func readPPDName(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var modelName string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := ppdNameRegex.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if m[1] == "NickName" {
			return m[2]
		}
		if modelName == "" {
			modelName = m[2]
		}
	}
	return modelName
}
