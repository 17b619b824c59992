//go:build !linux && !darwin

package diag

import (
	"io"
	"os"
)

// isTerminal falls back to the stat-based check on platforms without the
// unix ioctl (e.g. windows), matching the teacher's own per-platform split
// for poller/wakeup code.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}
