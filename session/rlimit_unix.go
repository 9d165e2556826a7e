//go:build !windows

package session

import "syscall"

// setNoFile raises the process's open-file limit to n, best-effort: it never
// lowers the limit and returns nil if n is already below the current soft
// limit.
func setNoFile(n uint64) error {
	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return err
	}
	if rlimit.Cur >= n {
		return nil
	}
	if rlimit.Max < n {
		rlimit.Cur = rlimit.Max
	} else {
		rlimit.Cur = n
	}
	return syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rlimit)
}
