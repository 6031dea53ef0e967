//go:build unix

package preflight

import "golang.org/x/sys/unix"

// openFileLimit returns the soft RLIMIT_NOFILE.
func openFileLimit() (int, error) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, err
	}
	if limit.Cur > 1<<30 {
		return 1 << 30, nil
	}
	return int(limit.Cur), nil
}
