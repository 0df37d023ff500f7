// Package autoupdate replaces the agent binary with a newer build pushed by
// the server and restarts the service.
package autoupdate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

const (
	defaultMinDiskSpaceMB = 50
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 2 * time.Second
	defaultRestartDelay   = 3 * time.Second
	defaultMaxBinaryBytes = 256 << 20
	defaultHTTPTimeout    = 60 * time.Second
)

// Logger interface for update operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

// Restarter restarts the running service.
type Restarter interface {
	Restart() error
}

// RestartFunc adapts a function to Restarter.
type RestartFunc func() error

// Restart implements Restarter.
func (f RestartFunc) Restart() error { return f() }

// Options configure the update manager.
type Options struct {
	Log            Logger
	CurrentVersion string
	BuildTime      string
	BinaryPath     string
	// StagingDir receives downloads; defaults to the binary's directory so
	// the final rename stays on one filesystem.
	StagingDir     string
	HTTPClient     *http.Client
	MinDiskSpaceMB int64
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxBinaryBytes int64
	Restarter      Restarter
	RestartDelay   time.Duration
	Clock          func() time.Time
}

// Manager performs upgrades. Only one upgrade runs at a time.
type Manager struct {
	log            Logger
	currentVersion string
	currentSemver  *semver.Version
	buildTime      string
	binaryPath     string
	stagingDir     string
	client         *http.Client
	minDiskSpace   int64
	maxRetries     int
	retryDelay     time.Duration
	maxBytes       int64
	restarter      Restarter
	restartDelay   time.Duration
	clock          func() time.Time

	mu          sync.Mutex
	status      Status
	lastUpgrade time.Time
	restartT    *time.Timer
}

// NewManager creates an update manager with the provided options.
func NewManager(opts Options) (*Manager, error) {
	if opts.CurrentVersion == "" {
		return nil, fmt.Errorf("current version is required")
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate binary: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		binaryPath = exe
	}

	m := &Manager{
		log:            opts.Log,
		currentVersion: opts.CurrentVersion,
		buildTime:      opts.BuildTime,
		binaryPath:     binaryPath,
		stagingDir:     opts.StagingDir,
		client:         opts.HTTPClient,
		minDiskSpace:   opts.MinDiskSpaceMB,
		maxRetries:     opts.MaxRetries,
		retryDelay:     opts.RetryBaseDelay,
		maxBytes:       opts.MaxBinaryBytes,
		restarter:      opts.Restarter,
		restartDelay:   opts.RestartDelay,
		clock:          opts.Clock,
		status:         StatusIdle,
	}
	if v, err := semver.NewVersion(strings.TrimPrefix(opts.CurrentVersion, "v")); err == nil {
		m.currentSemver = v
	}
	if m.stagingDir == "" {
		m.stagingDir = filepath.Dir(binaryPath)
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if m.minDiskSpace <= 0 {
		m.minDiskSpace = defaultMinDiskSpaceMB
	}
	if m.maxRetries <= 0 {
		m.maxRetries = defaultMaxRetries
	}
	if m.retryDelay <= 0 {
		m.retryDelay = defaultRetryBaseDelay
	}
	if m.maxBytes <= 0 {
		m.maxBytes = defaultMaxBinaryBytes
	}
	if m.restartDelay <= 0 {
		m.restartDelay = defaultRestartDelay
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	return m, nil
}

// Status returns the current phase.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Info describes the running binary.
func (m *Manager) Info() (VersionInfo, error) {
	info := VersionInfo{
		Version:    m.currentVersion,
		BinaryPath: m.binaryPath,
		BuildTime:  m.buildTime,
	}
	m.mu.Lock()
	info.Status = m.status
	info.LastUpgrade = m.lastUpgrade
	m.mu.Unlock()

	st, err := os.Stat(m.binaryPath)
	if err != nil {
		return info, fmt.Errorf("stat binary: %w", err)
	}
	info.ModifiedTime = st.ModTime().Format("2006-01-02 15:04:05")
	hash, err := fileSHA256(m.binaryPath)
	if err != nil {
		return info, err
	}
	info.FileHash = hash
	return info, nil
}

// Apply downloads, verifies and installs the binary named by req and
// schedules a restart after the restart delay. The returned Result is
// meant to be sent before the restart happens.
func (m *Manager) Apply(ctx context.Context, req Request) Result {
	m.mu.Lock()
	if m.status != StatusIdle && m.status != StatusFailed && m.status != StatusSkipped && m.status != StatusRolledBack {
		m.mu.Unlock()
		return Result{Message: "an upgrade is already in progress", ErrorCode: ErrCodeBusy}
	}
	m.status = StatusDownloading
	m.mu.Unlock()

	res := m.apply(ctx, req)
	if !res.Success {
		if res.ErrorCode == ErrCodeNotNewer {
			m.setStatus(StatusSkipped)
		} else if m.Status() != StatusRolledBack {
			m.setStatus(StatusFailed)
		}
		m.logWarn("Upgrade not applied", "reason", res.Message)
	}
	return res
}

func (m *Manager) apply(ctx context.Context, req Request) Result {
	res := Result{PreviousVersion: m.currentVersion, NewVersion: req.Version}

	if req.URL == "" {
		res.Message, res.ErrorCode = "download url is required", ErrCodeDownloadFailed
		return res
	}
	if needed, reason := m.isUpdateNeeded(req.Version); !needed && !req.Force {
		res.Message, res.ErrorCode = reason, ErrCodeNotNewer
		return res
	}
	if err := m.checkDiskSpace(); err != nil {
		res.Message, res.ErrorCode = err.Error(), ErrCodeDiskSpace
		return res
	}

	if err := os.MkdirAll(m.stagingDir, 0o755); err != nil {
		res.Message, res.ErrorCode = fmt.Sprintf("failed to create staging dir: %v", err), ErrCodeApplyFailed
		return res
	}
	staging := filepath.Join(m.stagingDir, "."+filepath.Base(m.binaryPath)+".new-"+uuid.NewString())
	defer os.Remove(staging)

	m.logInfo("Downloading upgrade", "url", req.URL, "version", req.Version)
	if err := m.downloadWithRetry(ctx, req.URL, staging); err != nil {
		res.Message, res.ErrorCode = err.Error(), ErrCodeDownloadFailed
		return res
	}

	m.setStatus(StatusVerifying)
	if req.SHA256 != "" {
		if err := verifyHash(staging, req.SHA256); err != nil {
			res.Message, res.ErrorCode = err.Error(), ErrCodeHashMismatch
			return res
		}
	}
	if err := validateBinary(staging); err != nil {
		res.Message, res.ErrorCode = err.Error(), ErrCodeInvalidBinary
		return res
	}

	m.setStatus(StatusApplying)
	backup := m.binaryPath + ".backup." + m.clock().Format("20060102150405")
	if err := copyFile(m.binaryPath, backup); err != nil {
		res.Message, res.ErrorCode = fmt.Sprintf("failed to back up current binary: %v", err), ErrCodeApplyFailed
		return res
	}
	res.BackupPath = backup

	if err := m.applyUpdate(staging); err != nil {
		m.logError("Applying upgrade failed, rolling back", "error", err)
		if rbErr := copyFile(backup, m.binaryPath); rbErr != nil {
			m.logError("Rollback failed", "error", rbErr)
		} else {
			m.setStatus(StatusRolledBack)
		}
		res.Message, res.ErrorCode = err.Error(), ErrCodeApplyFailed
		return res
	}

	m.mu.Lock()
	m.status = StatusRestarting
	m.lastUpgrade = m.clock()
	m.mu.Unlock()

	m.scheduleRestart()
	label := req.Version
	if label == "" {
		label = "unknown"
	}
	res.Success = true
	res.Message = fmt.Sprintf("upgrade installed, new version: %s, service restarts in %s", label, m.restartDelay)
	m.logInfo("Upgrade installed", "from", m.currentVersion, "to", label, "backup", backup)
	return res
}

// isUpdateNeeded compares target against the running version. An empty or
// unparsable target is always installed.
func (m *Manager) isUpdateNeeded(target string) (bool, string) {
	if target == "" || m.currentSemver == nil {
		return true, ""
	}
	targetSemver, err := semver.NewVersion(strings.TrimPrefix(target, "v"))
	if err != nil {
		return true, ""
	}
	if !targetSemver.GreaterThan(m.currentSemver) {
		return false, fmt.Sprintf("version %s is not newer than %s", target, m.currentVersion)
	}
	return true, ""
}

func (m *Manager) downloadWithRetry(ctx context.Context, url, destPath string) error {
	var lastErr error
	delay := m.retryDelay

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		lastErr = m.download(ctx, url, destPath)
		if lastErr == nil {
			return nil
		}
		m.logWarn("Download attempt failed", "attempt", attempt, "error", lastErr)

		if attempt < m.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", m.maxRetries, lastErr)
}

func (m *Manager) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(resp.Body, m.maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("empty download")
	}
	if n > m.maxBytes {
		return fmt.Errorf("download exceeds %d bytes", m.maxBytes)
	}
	return nil
}

func (m *Manager) checkDiskSpace() error {
	available, err := getAvailableDiskSpaceMB(m.stagingDir)
	if err != nil {
		m.logWarn("Failed to check disk space", "error", err)
		return nil
	}
	if available < m.minDiskSpace {
		return fmt.Errorf("insufficient disk space: need %d MB, have %d MB", m.minDiskSpace, available)
	}
	return nil
}

func (m *Manager) applyUpdate(stagingPath string) error {
	if err := os.Chmod(stagingPath, 0o755); err != nil {
		return fmt.Errorf("failed to set executable permission: %w", err)
	}
	if err := os.Rename(stagingPath, m.binaryPath); err != nil {
		// staging on another filesystem
		if cerr := copyFile(stagingPath, m.binaryPath); cerr != nil {
			return fmt.Errorf("failed to replace binary: %w", cerr)
		}
		return os.Chmod(m.binaryPath, 0o755)
	}
	return nil
}

func (m *Manager) scheduleRestart() {
	if m.restarter == nil {
		m.logWarn("No restarter configured, new binary runs after the next restart")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restartT != nil {
		m.restartT.Stop()
	}
	m.restartT = time.AfterFunc(m.restartDelay, func() {
		m.logInfo("Restarting service for upgrade")
		if err := m.restarter.Restart(); err != nil {
			m.logError("Service restart failed", "error", err)
			m.setStatus(StatusFailed)
		}
	})
}

// Stop cancels a pending restart.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restartT != nil {
		m.restartT.Stop()
		m.restartT = nil
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) logInfo(msg string, args ...interface{}) {
	if m.log != nil {
		m.log.Info(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...interface{}) {
	if m.log != nil {
		m.log.Warn(msg, args...)
	}
}

func (m *Manager) logError(msg string, args ...interface{}) {
	if m.log != nil {
		m.log.Error(msg, args...)
	}
}

func verifyHash(filePath, expectedHash string) error {
	actualHash, err := fileSHA256(filePath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actualHash, strings.TrimSpace(expectedHash)) {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expectedHash, actualHash)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to compute hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var executableMagic = map[string][]byte{
	"linux":   []byte("\x7fELF"),
	"freebsd": []byte("\x7fELF"),
}

// validateBinary rejects downloads that are obviously not executables for
// this platform, e.g. an HTML error page.
func validateBinary(path string) error {
	magic, ok := executableMagic[runtime.GOOS]
	if !ok {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, magic) {
		return fmt.Errorf("downloaded file is not a %s executable", runtime.GOOS)
	}
	return nil
}

// copyFile copies a file from src to dst, keeping src's permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	mode := os.FileMode(0o755)
	if st, err := in.Stat(); err == nil {
		mode = st.Mode().Perm()
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
