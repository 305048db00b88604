package device

import (
	"golang.org/x/sys/unix"

	"watchpod/internal/services"
)

// StorageInfo reports capacity for a mounted filesystem.
type StorageInfo struct {
	TotalBytes int64
	UsedBytes  int64
	FreeBytes  int64
}

// UsedPercent returns the used fraction as a percentage, zero for an empty
// filesystem.
func (s StorageInfo) UsedPercent() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes) * 100
}

// Statfs returns capacity information for the filesystem holding path.
func Statfs(path string) (StorageInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return StorageInfo{}, services.Wrap(services.ErrDeviceUnavailable, "device", "statfs", "read filesystem stats for "+path, err)
	}

	blockSize := int64(stat.Bsize)
	total := int64(stat.Blocks) * blockSize
	free := int64(stat.Bavail) * blockSize
	used := total - int64(stat.Bfree)*blockSize
	return StorageInfo{
		TotalBytes: total,
		UsedBytes:  used,
		FreeBytes:  free,
	}, nil
}
