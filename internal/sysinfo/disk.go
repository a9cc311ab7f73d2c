package sysinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const mb = 1024 * 1024

// DiskUsageMB returns free (available to unprivileged users) and total space
// of the filesystem holding path.
func DiskUsageMB(path string) (free, total int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("failed to statfs %s: %w", path, err)
	}
	bsize := int64(st.Bsize)
	return int64(st.Bavail) * bsize / mb, int64(st.Blocks) * bsize / mb, nil
}
