//go:build linux || darwin

package diag

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// isTerminal checks whether w is a character device backed by a real
// terminal, using an ioctl rather than os.File.Stat's ModeCharDevice bit:
// a TIOCGWINSZ that succeeds means the fd is actually attached to a tty,
// not merely some other char-special file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	_, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	return err == nil
}
