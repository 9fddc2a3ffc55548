package enrich

import (
	"os"
	"syscall"
)

// fileOwnerUID extracts the owning UID from a /proc/<pid> directory's
// FileInfo, or -1 if the platform's Stat_t shape isn't available.
func fileOwnerUID(st os.FileInfo) int {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return -1
	}
	return int(sys.Uid)
}
