// Package spooler is the agent's narrow interface to the local print
// subsystem. The CUPS adapter shells out to the CUPS command-line tools;
// Fake is an in-memory implementation for tests.
package spooler

import (
	"context"
	"strings"
)

// PrinterType categorizes how a printer is connected
type PrinterType string

const (
	PrinterTypeUSB     PrinterType = "usb"
	PrinterTypeLocal   PrinterType = "local"
	PrinterTypeNetwork PrinterType = "network"
	PrinterTypeVirtual PrinterType = "virtual"
	PrinterTypeUnknown PrinterType = "unknown"
)

// QueueStatus is one line of the queue status listing.
type QueueStatus struct {
	Name     string
	Enabled  bool
	Printing bool
	Detail   string
}

// QueueURI pairs a queue with its device URI.
type QueueURI struct {
	Name string
	URI  string
}

// Device is a backend device reported by the subsystem.
type Device struct {
	Class string `json:"class"`
	URI   string `json:"uri"`
}

// Model is one installable driver (PPD) entry.
type Model struct {
	PPD  string `json:"ppd"`
	Name string `json:"name"`
}

// Job is a pending job.
type Job struct {
	ID        string `json:"job_id"`
	Printer   string `json:"printer"`
	User      string `json:"user"`
	Size      int64  `json:"size"`
	Submitted string `json:"submitted"`
}

// Subsystem is everything the agent needs from the print spooler.
type Subsystem interface {
	AcceptingQueues(ctx context.Context) ([]string, error)
	Queues(ctx context.Context) ([]QueueStatus, error)
	QueueDescriptors(ctx context.Context) ([]string, error)
	DefaultQueue(ctx context.Context) (string, error)
	DeviceURIs(ctx context.Context) ([]QueueURI, error)
	DriverName(ctx context.Context, queue string) string
	QueueExists(ctx context.Context, queue string) bool

	InstallQueue(ctx context.Context, queue, uri, model string) error
	InstallQueuePPD(ctx context.Context, queue, uri, ppdPath string) error
	EnableQueue(ctx context.Context, queue string) error
	RemoveQueue(ctx context.Context, queue string) error
	SetQueueModel(ctx context.Context, queue, model string) error
	SetQueuePPD(ctx context.Context, queue, ppdPath string) error
	GenerateDriverlessPPD(ctx context.Context, uri, dest string) error

	ListDevices(ctx context.Context) ([]Device, error)
	ListModels(ctx context.Context) ([]Model, error)

	Submit(ctx context.Context, queue, file string, copies int, options []string) (string, error)
	Jobs(ctx context.Context) ([]Job, error)
	CancelJob(ctx context.Context, id string) error
	SchedulerRunning(ctx context.Context) bool
}

// ClassifyURI determines printer type from a device URI.
func ClassifyURI(uri string) PrinterType {
	uri = strings.ToLower(uri)

	switch {
	case strings.HasPrefix(uri, "usb:"):
		return PrinterTypeUSB
	case strings.HasPrefix(uri, "parallel:"), strings.HasPrefix(uri, "serial:"), strings.HasPrefix(uri, "/dev/"):
		return PrinterTypeLocal
	case strings.HasPrefix(uri, "ipp://"), strings.HasPrefix(uri, "ipps://"),
		strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"),
		strings.HasPrefix(uri, "socket://"), strings.HasPrefix(uri, "lpd://"),
		strings.HasPrefix(uri, "smb://"), strings.HasPrefix(uri, "dnssd://"):
		return PrinterTypeNetwork
	case strings.HasPrefix(uri, "cups-pdf:"), strings.HasPrefix(uri, "file:"),
		strings.HasPrefix(uri, "pipe:"), strings.Contains(uri, "pdf"):
		return PrinterTypeVirtual
	}
	return PrinterTypeUnknown
}

// Logger interface for spooler operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

// nullLogger is a no-op logger
type nullLogger struct{}

func (nullLogger) Error(msg string, context ...interface{}) {}
func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}
