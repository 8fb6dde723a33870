//go:build darwin || linux

package focus

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// InjectTTYInput pushes text plus a newline into a tty's input queue via
// TIOCSTI, byte by byte. Requires the kernel to allow faked input on the
// target tty; failure is reported, not escalated.
func InjectTTYInput(tty, text string) bool {
	ttyPath := tty
	if !strings.HasPrefix(ttyPath, "/dev/") {
		ttyPath = "/dev/" + ttyPath
	}

	fd, err := unix.Open(ttyPath, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)

	payload := []byte(text + "\n")
	for i := range payload {
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.TIOCSTI, uintptr(unsafe.Pointer(&payload[i]))); errno != 0 {
			return false
		}
	}
	return true
}
