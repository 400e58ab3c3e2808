package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/wire"
)

// ErrShortFile is returned by Next when the file ends before the size announced to the requester.
var ErrShortFile = errors.New("file shrank during download")

// Download streams one stored file to the requesting session.
type Download struct {
	ID    uuid.UUID
	Name  string // sanitized name
	Size  int64  // size at open time, the exact number of bytes Next returns
	Sent  int64
	file  *os.File
	r     io.Reader
	chunk []byte
}

// OpenDownload opens the sanitized name for reading.
// chunkSize bounds every FILE_DATA payload, wire.ChunkSize is used when it is not positive.
func OpenDownload(store *filesystem.Store, name string, chunkSize int) (*Download, error) {
	if chunkSize <= 0 {
		chunkSize = wire.ChunkSize
	}
	file, info, safeName, err := store.Open(name)
	if err != nil {
		return nil, fmt.Errorf("error starting download %q: %w", name, err)
	}
	return &Download{
		ID:    uuid.New(),
		Name:  safeName,
		Size:  info.Size(),
		file:  file,
		r:     io.LimitReader(file, info.Size()),
		chunk: make([]byte, chunkSize),
	}, nil
}

// Info returns the FILE_INFO frame announcing the download to the requester.
func (d *Download) Info() wire.Frame {
	return wire.Frame{Type: wire.TypeFileInfo, Payload: wire.FileAnnounce(d.Name, d.Size)}
}

// Next returns the next FILE_DATA frame, or io.EOF once Size bytes were returned.
// Content appended after OpenDownload is never sent. A file cut below Size
// fails with ErrShortFile. The file is closed when Next returns an error.
func (d *Download) Next() (wire.Frame, error) {
	if d.file == nil {
		return wire.Frame{}, io.EOF
	}

	n, err := d.r.Read(d.chunk)
	if n > 0 {
		payload := make([]byte, n)
		copy(payload, d.chunk[:n])
		d.Sent += int64(n)
		return wire.Frame{Type: wire.TypeFileData, Payload: payload}, nil
	}

	d.Close()
	if err == nil || errors.Is(err, io.EOF) {
		if d.Sent < d.Size {
			return wire.Frame{}, fmt.Errorf("%w: %q sent %d of %d bytes", ErrShortFile, d.Name, d.Sent, d.Size)
		}
		return wire.Frame{}, io.EOF
	}
	return wire.Frame{}, fmt.Errorf("error reading file %q: %w", d.Name, err)
}

// Close releases the file. It is safe to call more than once.
func (d *Download) Close() error {
	if d.file == nil {
		return nil
	}
	file := d.file
	d.file = nil
	return file.Close()
}
