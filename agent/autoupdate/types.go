package autoupdate

import "time"

// Status enumerates the lifecycle phases of an upgrade.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusDownloading Status = "downloading"
	StatusVerifying   Status = "verifying"
	StatusApplying    Status = "applying"
	StatusRestarting  Status = "restarting"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusRolledBack  Status = "rolled_back"
)

// Request is an upgrade command from the server.
type Request struct {
	URL string
	// SHA256 of the new binary, hex; optional.
	SHA256 string
	// Version the new binary reports; optional. When set, only newer
	// versions are installed unless Force is true.
	Version string
	Force   bool
}

// Result is the outcome of an upgrade.
type Result struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ErrorCode       string `json:"error_code,omitempty"`
	PreviousVersion string `json:"previous_version,omitempty"`
	NewVersion      string `json:"new_version,omitempty"`
	BackupPath      string `json:"backup_path,omitempty"`
}

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version      string    `json:"version"`
	FileHash     string    `json:"file_hash"`
	ModifiedTime string    `json:"modified_time"`
	BinaryPath   string    `json:"script_path"`
	BuildTime    string    `json:"build_time,omitempty"`
	Status       Status    `json:"update_status"`
	LastUpgrade  time.Time `json:"last_upgrade,omitempty"`
}

// ErrorCode constants for structured error reporting.
const (
	ErrCodeDiskSpace      = "DISK_SPACE"
	ErrCodeDownloadFailed = "DOWNLOAD_FAILED"
	ErrCodeHashMismatch   = "HASH_MISMATCH"
	ErrCodeInvalidBinary  = "INVALID_BINARY"
	ErrCodeNotNewer       = "NOT_NEWER"
	ErrCodeApplyFailed    = "APPLY_FAILED"
	ErrCodeBusy           = "BUSY"
)
