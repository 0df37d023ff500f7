//go:build linux

package util

import (
	"time"

	"golang.org/x/sys/unix"
)

// DiskUsage reports total and free bytes of the filesystem holding path.
func DiskUsage(path string) (DiskStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskStats{}, err
	}
	bsize := uint64(st.Bsize)
	return DiskStats{
		Path:       path,
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bavail * bsize,
	}, nil
}

// Uptime returns the time since boot and the 1-minute load average.
func Uptime() (time.Duration, float64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, 0, err
	}
	load := float64(si.Loads[0]) / 65536.0
	return time.Duration(si.Uptime) * time.Second, load, nil
}
