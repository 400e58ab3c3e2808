// Description: transfer package
// This package contains the per session file transfer state.
// An Upload is the Idle -> Uploading -> Idle state of one session's inbound file,
// a Download streams a stored file to the requesting session as FILE_DATA chunks.

package transfer

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/telebroad/chatrelay/filesystem"
)

// Upload is an inbound file transfer in progress.
// Name and Total never change after Begin, Received is updated by the event loop
// and may be read from other goroutines.
type Upload struct {
	ID       uuid.UUID // used to correlate log lines
	Name     string    // sanitized destination name
	Total    int64     // announced size
	received atomic.Int64
	open     atomic.Bool
	file     io.WriteCloser // nil when the file could not be opened or the upload is over
}

// Begin opens the sanitized name for writing, truncating it, and returns the upload.
// If the file cannot be opened the returned upload is inert: its data is discarded.
// The error is still returned so the caller can log or report it.
func Begin(store *filesystem.Store, name string, total int64) (*Upload, error) {
	u := &Upload{
		ID:    uuid.New(),
		Total: total,
	}

	file, safeName, err := store.Create(name)
	u.Name = safeName
	if err != nil {
		return u, fmt.Errorf("error starting upload %q: %w", name, err)
	}
	u.file = file
	u.open.Store(true)
	return u, nil
}

// Writable reports whether data written to the upload reaches a file.
func (u *Upload) Writable() bool {
	return u.open.Load()
}

// Received returns the number of bytes received so far.
func (u *Upload) Received() int64 {
	return u.received.Load()
}

// Complete reports whether the announced size has been reached.
func (u *Upload) Complete() bool {
	return u.received.Load() >= u.Total
}

// Write appends p to the file. done is true the first time the received total
// reaches or passes the announced size, at which point the file is closed.
// Writes to an inert or finished upload are discarded.
func (u *Upload) Write(p []byte) (done bool, err error) {
	if u.file == nil {
		return false, nil
	}

	if _, err = u.file.Write(p); err != nil {
		u.Close()
		return false, fmt.Errorf("error writing upload %q: %w", u.Name, err)
	}
	if u.received.Add(int64(len(p))) < u.Total {
		return false, nil
	}

	if err = u.Close(); err != nil {
		return true, err
	}
	return true, nil
}

// Close releases the file handle. It is safe to call more than once.
func (u *Upload) Close() error {
	if u.file == nil {
		return nil
	}
	file := u.file
	u.file = nil
	u.open.Store(false)
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing and saving file error: %w", err)
	}
	return nil
}
