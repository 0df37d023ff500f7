//go:build !linux

package util

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("not supported on this platform")

func DiskUsage(path string) (DiskStats, error) {
	return DiskStats{Path: path}, errUnsupported
}

func Uptime() (time.Duration, float64, error) {
	return 0, 0, errUnsupported
}
