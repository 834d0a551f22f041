//go:build windows

package record

// posixOpenFlags has no meaningful POSIX translation on Windows; it
// exists only so recordStreamOpen's diagnostic logging call compiles on
// every platform the recorder runs on.
func posixOpenFlags(mode string) int {
	return 0
}
