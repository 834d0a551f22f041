//go:build !windows

package record

import "golang.org/x/sys/unix"

// posixOpenFlags translates a recorded fopen-style mode string ("r",
// "w", "a", "r+", ...) into the POSIX open(2) flags it corresponds to,
// for diagnostic logging only. Mirrors the platform-split style of a
// Unix-specific file (a plain "unix" build tag) next to an "other"
// fallback, rather than runtime branching on GOOS.
func posixOpenFlags(mode string) int {
	switch mode {
	case "r":
		return unix.O_RDONLY
	case "r+":
		return unix.O_RDWR
	case "w":
		return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
	case "w+":
		return unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC
	case "a":
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND
	case "a+":
		return unix.O_RDWR | unix.O_CREAT | unix.O_APPEND
	default:
		return unix.O_RDONLY
	}
}
