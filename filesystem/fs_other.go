//go:build !linux

package filesystem

import (
	"fmt"
	"github.com/pkg/sftp"
	"runtime"
	"syscall"
)

// StatFS returns the status of the file system holding the store
func (s *Store) StatFS() (*sftp.StatVFS, error) {
	return nil, fmt.Errorf("%w unsupported OS: %s", syscall.ENOTSUP, runtime.GOOS)
}
