package client

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/chatrelay/wire"
)

func pipeClient(t *testing.T, opts ...Option) (*Client, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(a, opts...), b
}

// push writes frames from the server end of the pipe.
func push(conn net.Conn, frames ...wire.Frame) {
	go func() {
		for _, f := range frames {
			if err := wire.WriteFrame(conn, f); err != nil {
				return
			}
		}
	}()
}

// collect reads every frame the client writes to the server end of the pipe.
func collect(conn net.Conn) <-chan wire.Frame {
	out := make(chan wire.Frame, 64)
	go func() {
		defer close(out)
		for {
			f, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
			if err != nil {
				return
			}
			out <- f
		}
	}()
	return out
}

func frame(t wire.Type, payload string) wire.Frame {
	return wire.Frame{Type: t, Payload: []byte(payload)}
}

func Test_NextEvents(t *testing.T) {
	c, server := pipeClient(t)
	push(server,
		frame(wire.TypeText, "10.0.0.1: hi: there"),
		frame(wire.TypeFileData, "stray"),
		frame(wire.TypeFileInfo, "10.0.0.2\nreport.pdf\n2048"),
		frame(wire.TypeFileInfo, "unexpected.bin\n5"),
		frame(7, "unknown"),
		frame(wire.TypeText, "no prefix"),
	)

	ev, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "10.0.0.1", ev.From)
	assert.Equal(t, "hi: there", ev.Text)

	ev, err = c.Next()
	require.NoError(t, err)
	assert.Equal(t, EventFileNotice, ev.Kind)
	assert.Equal(t, "10.0.0.2", ev.From)
	assert.Equal(t, wire.FileInfo{Sender: "10.0.0.2", Name: "report.pdf", Size: 2048}, ev.File)

	ev, err = c.Next()
	require.NoError(t, err)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "", ev.From)
	assert.Equal(t, "no prefix", ev.Text)
}

func Test_NextDisconnected(t *testing.T) {
	c, server := pipeClient(t)
	server.Close()
	_, err := c.Next()
	require.ErrorIs(t, err, wire.ErrDisconnected)
}

func Test_RequestDownload(t *testing.T) {
	c, server := pipeClient(t)
	requests := collect(server)

	var sink bytes.Buffer
	require.NoError(t, c.Request("../notes.txt", &sink))
	req := <-requests
	assert.Equal(t, wire.TypeFileRequest, req.Type)
	assert.Equal(t, "../notes.txt", string(req.Payload))

	err := c.Request("other.txt", io.Discard)
	require.ErrorIs(t, err, ErrDownloadPending)

	push(server,
		frame(wire.TypeFileInfo, "notes.txt\n6"),
		frame(wire.TypeFileData, "abc"),
		frame(wire.TypeFileData, "def"),
	)

	want := []struct {
		kind     EventKind
		received int64
	}{
		{EventDownloadStarted, 0},
		{EventDownloadProgress, 3},
		{EventDownloadComplete, 6},
	}
	for _, w := range want {
		ev, err := c.Next()
		require.NoError(t, err)
		assert.Equal(t, w.kind, ev.Kind)
		assert.Equal(t, w.received, ev.Received)
		assert.Equal(t, "notes.txt", ev.File.Name)
		assert.Equal(t, int64(6), ev.File.Size)
	}
	assert.Equal(t, "abcdef", sink.String())

	// the slot is free again
	require.NoError(t, c.Request("again.txt", io.Discard))
}

func Test_RequestFailed(t *testing.T) {
	c, server := pipeClient(t)
	requests := collect(server)

	require.NoError(t, c.Request("missing.txt", io.Discard))
	<-requests
	push(server, frame(wire.TypeText, "Error: file not found: missing.txt"))

	ev, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, EventDownloadFailed, ev.Kind)
	assert.True(t, errors.Is(ev.Err, ErrDownloadFailed))
	assert.Contains(t, ev.Err.Error(), "file not found")

	require.NoError(t, c.Request("next.txt", io.Discard))
}

func Test_RequestEmptyFile(t *testing.T) {
	c, server := pipeClient(t)
	requests := collect(server)

	require.NoError(t, c.Request("empty", io.Discard))
	<-requests
	push(server, frame(wire.TypeFileInfo, "empty\n0"))

	ev, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, EventDownloadComplete, ev.Kind)
	assert.Equal(t, int64(0), ev.File.Size)
}

func Test_Upload(t *testing.T) {
	c, server := pipeClient(t, WithChunkSize(4))
	frames := collect(server)

	require.NoError(t, c.Upload("greeting.txt", strings.NewReader("hello world"), 11))

	want := []wire.Frame{
		frame(wire.TypeFileInfo, "greeting.txt\n11"),
		frame(wire.TypeFileData, "hell"),
		frame(wire.TypeFileData, "o wo"),
		frame(wire.TypeFileData, "rld"),
	}
	for _, w := range want {
		got := <-frames
		assert.Equal(t, w.Type, got.Type)
		assert.Equal(t, string(w.Payload), string(got.Payload))
	}
}

func Test_UploadShortReader(t *testing.T) {
	c, server := pipeClient(t)
	collect(server)

	err := c.Upload("short.txt", strings.NewReader("abc"), 10)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
