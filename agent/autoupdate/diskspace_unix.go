//go:build unix

package autoupdate

import "golang.org/x/sys/unix"

// getAvailableDiskSpaceMB returns the available disk space in MB for the given path.
func getAvailableDiskSpaceMB(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize) / (1024 * 1024), nil
}
