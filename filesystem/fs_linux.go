package filesystem

import (
	"fmt"
	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"
)

// StatFS returns the status of the file system holding the store
func (s *Store) StatFS() (*sftp.StatVFS, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(s.root, &stat)
	if err != nil {
		err = fmt.Errorf("error getting file system info: %w", err)
		return nil, err
	}

	sftpStatVFS := &sftp.StatVFS{
		Bsize:   uint64(stat.Bsize),
		Frsize:  uint64(stat.Frsize),
		Blocks:  stat.Blocks,
		Bfree:   stat.Bfree,
		Bavail:  stat.Bavail,
		Files:   stat.Files,
		Ffree:   stat.Ffree,
		Favail:  stat.Ffree,
		Flag:    uint64(stat.Flags) | unix.ST_RDONLY, // the sftp view never writes
		Namemax: uint64(stat.Namelen),
	}

	return sftpStatVFS, nil
}
