//go:build !windows

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processExists sends signal 0 to pid. EPERM still means the process is
// alive; we just may not signal it.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
