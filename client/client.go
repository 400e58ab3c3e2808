// Description: client package
// This package contains a peer for the relay server. It sends chat text, uploads and requests
// files, and turns the frames the server pushes into Events the way the desktop peer reads them:
// a 3 field FILE_INFO is a completion notice, a 2 field FILE_INFO is the answer to a pending
// request, and a text starting with "Error:" fails the pending request.

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/telebroad/chatrelay/tools"
	"github.com/telebroad/chatrelay/wire"
)

var (
	// ErrDownloadPending is returned by Request while another download is in progress.
	ErrDownloadPending = errors.New("a download is already pending")

	// ErrDownloadFailed is carried by EventDownloadFailed.
	ErrDownloadFailed = errors.New("download failed")
)

// maxPayloadHeadroom covers the "<peer>: " prefix the server adds to relayed text.
const maxPayloadHeadroom = 256

type EventKind int

const (
	EventText             EventKind = iota // chat line relayed by the server
	EventFileNotice                        // someone finished an upload
	EventDownloadStarted                   // the server answered Request with the file size
	EventDownloadProgress                  // a FILE_DATA chunk was written to the sink
	EventDownloadComplete                  // the whole file was written to the sink
	EventDownloadFailed                    // the server reported an error for the pending request
)

var eventKindText = map[EventKind]string{
	EventText:             "text",
	EventFileNotice:       "file-notice",
	EventDownloadStarted:  "download-started",
	EventDownloadProgress: "download-progress",
	EventDownloadComplete: "download-complete",
	EventDownloadFailed:   "download-failed",
}

func (k EventKind) String() string {
	if s, ok := eventKindText[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is something the server pushed to this peer.
type Event struct {
	Kind     EventKind
	From     string // sender address of a text or a file notice
	Text     string
	File     wire.FileInfo
	Received int64 // download bytes written so far
	Err      error
}

type download struct {
	name     string
	sink     io.Writer
	size     int64
	received int64
	started  bool
}

type Client struct {
	conn       net.Conn
	rw         *tools.BufLogReadWriter
	logger     *slog.Logger
	maxPayload uint32
	chunkSize  int

	wmu sync.Mutex // serializes frame writes

	mu      sync.Mutex
	pending *download
}

type Option func(*Client)

// WithLogger sets the logger, slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMaxPayload bounds the frames accepted from the server.
func WithMaxPayload(n uint32) Option {
	return func(c *Client) { c.maxPayload = n }
}

// WithChunkSize sets the FILE_DATA size used by Upload.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// Dial connects to the relay server at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:       conn,
		maxPayload: wire.DefaultMaxPayload + maxPayloadHeadroom,
		chunkSize:  wire.ChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("module", "relay-client", "server", conn.RemoteAddr().String())
	c.rw = tools.NewBufLogReadWriter(conn, c.logger, 64)
	return c
}

// Logger returns the logger of the client.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// LocalAddr returns the local end of the connection, the address other peers see.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) send(t wire.Type, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wire.WriteFrame(c.rw, wire.Frame{Type: t, Payload: payload})
}

// SendText sends a chat line. The server relays it to every peer, this one included.
func (c *Client) SendText(text string) error {
	return c.send(wire.TypeText, []byte(text))
}

// Upload announces name with size and sends size bytes from r in chunks.
func (c *Client) Upload(name string, r io.Reader, size int64) error {
	if size < 0 {
		return fmt.Errorf("invalid upload size %d", size)
	}
	if err := c.send(wire.TypeFileInfo, wire.FileAnnounce(name, size)); err != nil {
		return fmt.Errorf("error announcing %q: %w", name, err)
	}

	buf := make([]byte, c.chunkSize)
	for sent := int64(0); sent < size; {
		n := int64(len(buf))
		if rest := size - sent; rest < n {
			n = rest
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return fmt.Errorf("error reading %q after %d bytes: %w", name, sent, err)
		}
		if err := c.send(wire.TypeFileData, buf[:n]); err != nil {
			return fmt.Errorf("error sending %q: %w", name, err)
		}
		sent += n
	}
	c.logger.Debug("upload sent", "file", name, "size", size)
	return nil
}

// UploadFile uploads a local file under its base name.
func (c *Client) UploadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("error getting file info: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return c.Upload(filepath.Base(path), file, info.Size())
}

// Request asks the server for name. The file is written to sink as Next reads it.
// Only one download may be pending at a time.
func (c *Client) Request(name string, sink io.Writer) error {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDownloadPending, c.pending.name)
	}
	c.pending = &download{name: name, sink: sink}
	c.mu.Unlock()

	if err := c.send(wire.TypeFileRequest, []byte(name)); err != nil {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		return fmt.Errorf("error requesting %q: %w", name, err)
	}
	return nil
}

// Next blocks until the server pushes something this peer reports.
// Frames that carry nothing for the caller are skipped. The error is wire.ErrDisconnected
// or wire.ErrFrameTooLarge once the connection is unusable.
func (c *Client) Next() (Event, error) {
	for {
		f, err := wire.ReadFrame(c.rw, c.maxPayload)
		if err != nil {
			return Event{}, err
		}
		if ev, ok := c.handle(f); ok {
			return ev, nil
		}
	}
}

func (c *Client) handle(f wire.Frame) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Type {
	case wire.TypeText:
		if c.pending != nil && strings.HasPrefix(string(f.Payload), "Error:") {
			d := c.pending
			c.pending = nil
			msg := strings.TrimSpace(strings.TrimPrefix(string(f.Payload), "Error:"))
			return Event{
				Kind:     EventDownloadFailed,
				Text:     string(f.Payload),
				File:     wire.FileInfo{Name: d.name, Size: d.size},
				Received: d.received,
				Err:      fmt.Errorf("%w: %s", ErrDownloadFailed, msg),
			}, true
		}
		from, text, ok := wire.SplitTextRelay(f.Payload)
		if !ok {
			text = string(f.Payload)
		}
		return Event{Kind: EventText, From: from, Text: text}, true

	case wire.TypeFileInfo:
		fi, err := wire.ParseFileInfo(f.Payload)
		if err != nil {
			c.logger.Warn("ignoring file info", "error", err)
			return Event{}, false
		}
		if fi.Notice() {
			return Event{Kind: EventFileNotice, From: fi.Sender, File: fi}, true
		}
		d := c.pending
		if d == nil || d.started {
			c.logger.Warn("unexpected file info", "file", fi.Name, "size", fi.Size)
			return Event{}, false
		}
		d.started = true
		d.size = fi.Size
		d.name = fi.Name
		if fi.Size == 0 {
			c.pending = nil
			return Event{Kind: EventDownloadComplete, File: fi}, true
		}
		return Event{Kind: EventDownloadStarted, File: fi}, true

	case wire.TypeFileData:
		d := c.pending
		if d == nil || !d.started {
			c.logger.Debug("file data without download", "size", len(f.Payload))
			return Event{}, false
		}
		fi := wire.FileInfo{Name: d.name, Size: d.size}
		if _, err := d.sink.Write(f.Payload); err != nil {
			c.pending = nil
			return Event{Kind: EventDownloadFailed, File: fi, Received: d.received, Err: fmt.Errorf("error writing %q: %w", d.name, err)}, true
		}
		d.received += int64(len(f.Payload))
		if d.received >= d.size {
			c.pending = nil
			return Event{Kind: EventDownloadComplete, File: fi, Received: d.received}, true
		}
		return Event{Kind: EventDownloadProgress, File: fi, Received: d.received}, true
	}

	c.logger.Debug("ignoring frame", "frame", f.String())
	return Event{}, false
}

// Close closes the connection. A blocked Next returns wire.ErrDisconnected.
func (c *Client) Close() error {
	return c.conn.Close()
}
