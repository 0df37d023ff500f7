//go:build linux

package util

import "testing"

func TestDiskUsageAndUptime(t *testing.T) {
	t.Parallel()

	stats, err := DiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("DiskUsage: %v", err)
	}
	if stats.TotalBytes == 0 || stats.FreeBytes > stats.TotalBytes {
		t.Errorf("implausible disk stats %+v", stats)
	}

	up, _, err := Uptime()
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if up <= 0 {
		t.Errorf("expected positive uptime, got %v", up)
	}
}
