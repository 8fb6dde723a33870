//go:build !darwin && !linux

package focus

// InjectTTYInput is unsupported on platforms without TIOCSTI.
func InjectTTYInput(tty, text string) bool {
	return false
}
