// Package printers builds the printer inventory, provisions queues through a
// driver fallback ladder and suggests drivers for attached USB printers.
package printers

import (
	"context"
	"errors"
)

// Queue status values reported to the server.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// Well-known driver identifiers of the fallback ladder.
const (
	DriverGenericPostScript = "drv:///sample.drv/generic.ppd"
	DriverGenericPCL        = "drv:///sample.drv/generpcl.ppd"
	DriverEverywhere        = "everywhere"
	DriverDriverless        = "driverless"
	DriverRaw               = "raw"
)

// ErrInvalidURI is returned for device URIs without a scheme separator.
var ErrInvalidURI = errors.New("invalid printer URI")

// Record is one printer as announced to the server.
type Record struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	URI         string `json:"uri"`
	Driver      string `json:"driver"`
	IsDefault   bool   `json:"is_default"`
	Status      string `json:"status"`
	Source      string `json:"source"`
}

// DriverCandidate is a suggested driver for a detected device.
type DriverCandidate struct {
	PPD   string `json:"ppd"`
	Name  string `json:"name"`
	Score int    `json:"-"`
}

// Result is the outcome of a queue mutation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SourceLookup resolves which queues the agent created.
type SourceLookup interface {
	Sources(ctx context.Context) (map[string]string, error)
}

// ProvenanceRecorder persists which queues the agent created.
type ProvenanceRecorder interface {
	MarkInstalled(ctx context.Context, name, uri, driver string) error
	UpdateDriver(ctx context.Context, name, driver string) error
	Forget(ctx context.Context, name string) error
}

// Logger interface for printer operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nullLogger struct{}

func (nullLogger) Error(msg string, context ...interface{}) {}
func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}
