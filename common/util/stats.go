package util

// DiskStats is a filesystem capacity snapshot.
type DiskStats struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// UsedPercent returns the used share of the filesystem in percent.
func (d DiskStats) UsedPercent() float64 {
	if d.TotalBytes == 0 {
		return 0
	}
	return float64(d.TotalBytes-d.FreeBytes) * 100 / float64(d.TotalBytes)
}
