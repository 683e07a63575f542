//go:build unix

package wisent

import "golang.org/x/sys/unix"

// processExists probes a pid with the null signal.
func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
