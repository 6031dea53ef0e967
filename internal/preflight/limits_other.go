//go:build !unix

package preflight

import "errors"

func openFileLimit() (int, error) {
	return 0, errors.New("file descriptor limits are not available on this platform")
}
