package sftp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/tools"
)

// ReadOnlyFS serves the relay's file store to sftp clients without ever modifying it.
type ReadOnlyFS struct {
	store  *filesystem.Store
	logger *slog.Logger
}

// NewFileSys returns the handlers of a read only view of store.
func NewFileSys(store *filesystem.Store, logger *slog.Logger) sftp.Handlers {
	v := &ReadOnlyFS{store: store, logger: logger}
	return sftp.Handlers{
		FileGet:  v,
		FilePut:  v,
		FileCmd:  v,
		FileList: v,
	}
}

func (v *ReadOnlyFS) logRequest(request *sftp.Request) {
	v.logger.Debug(request.Method,
		"request.Filepath", tools.Printable(request.Filepath, 256),
		"request.Target", tools.Printable(request.Target, 256),
		"request.Flags", request.Flags,
	)
}

// resolve maps an sftp path to a name in the store. Only the root and the files directly
// in it exist, the store is flat.
func resolve(p string) (name string, isRoot bool, err error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return "", true, nil
	}
	name = strings.TrimPrefix(p, "/")
	if strings.Contains(name, "/") {
		return "", false, sftp.ErrSSHFxNoSuchFile
	}
	return name, false, nil
}

func (v *ReadOnlyFS) Fileread(request *sftp.Request) (io.ReaderAt, error) {
	v.logRequest(request)

	name, isRoot, err := resolve(request.Filepath)
	if err != nil {
		return nil, err
	}
	if isRoot {
		return nil, sftp.ErrSSHFxFailure
	}
	file, _, _, err := v.store.Open(name)
	if err != nil {
		v.logger.Warn("error opening file", "file", name, "error", err)
		return nil, statusError(err)
	}
	return file, nil
}

func (v *ReadOnlyFS) Filewrite(request *sftp.Request) (io.WriterAt, error) {
	v.logRequest(request)
	return nil, sftp.ErrSSHFxPermissionDenied
}

func (v *ReadOnlyFS) Filecmd(request *sftp.Request) error {
	v.logRequest(request)
	return sftp.ErrSSHFxPermissionDenied
}

func (v *ReadOnlyFS) StatVFS(request *sftp.Request) (*sftp.StatVFS, error) {
	v.logRequest(request)
	return v.store.StatFS()
}

type ListerAt []os.FileInfo

// ListAt Modeled after strings.Reader's ReadAt() implementation
func (f ListerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(f)) {
		return 0, io.EOF
	}
	n := copy(ls, f[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

func (v *ReadOnlyFS) Filelist(request *sftp.Request) (sftp.ListerAt, error) {
	v.logRequest(request)

	name, isRoot, err := resolve(request.Filepath)
	if err != nil {
		return nil, err
	}

	switch request.Method {
	case MethodList:
		if !isRoot {
			return nil, sftp.ErrSSHFxNoSuchFile
		}
		entries, err := v.store.List()
		if err != nil {
			v.logger.Error("Filelist error", "error", err)
			return nil, fmt.Errorf("fileList error: %w", err)
		}
		return ListerAt(entries), nil

	case MethodStat, MethodLstat:
		var entry fs.FileInfo
		if isRoot {
			entry, err = fs.Stat(v.store.FS, ".")
		} else {
			entry, err = v.store.Stat(name)
		}
		if err != nil {
			return nil, statusError(err)
		}
		return ListerAt{entry}, nil
	}

	return nil, sftp.ErrSSHFxOpUnsupported
}

// statusError maps a store error to the sftp status the client expects.
func statusError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return sftp.ErrSSHFxNoSuchFile
	case errors.Is(err, fs.ErrPermission):
		return sftp.ErrSSHFxPermissionDenied
	}
	return err
}
