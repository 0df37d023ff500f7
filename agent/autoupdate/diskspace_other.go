//go:build !unix

package autoupdate

import "errors"

func getAvailableDiskSpaceMB(path string) (int64, error) {
	return 0, errors.New("disk space check not supported")
}
