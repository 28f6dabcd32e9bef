//go:build !linux && !windows

package process

import "errors"

// TODO: resolve the executable with proc_pidpath on darwin.
func executable(pid int) (string, error) {
	return "", errors.ErrUnsupported
}
