package tools

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
)

// LogReadWriter is a wrapper around an io.ReadWriter that logs the size and a printable preview
// of every read and write to a slog.Logger at debug level.
type LogReadWriter struct {
	ReadWriter io.ReadWriter
	logger     *slog.Logger
	preview    int
}

func (rw *LogReadWriter) Read(b []byte) (int, error) {
	n, err := rw.ReadWriter.Read(b)
	if rw.logger != nil && n > 0 { // Log only if n > 0 to avoid logging empty reads
		rw.logger.Debug("Received", "size", n, "body", Printable(b[:n], rw.preview))
	}
	return n, err
}

func (rw *LogReadWriter) Write(b []byte) (int, error) {
	n, err := rw.ReadWriter.Write(b)
	if rw.logger != nil {
		rw.logger.Debug("Sent", "size", n, "body", Printable(b[:n], rw.preview), "error", err)
	}
	return n, err
}

// NewLogReadWriter creates a new LogReadWriter. preview bounds the logged body, 0 logs it all.
func NewLogReadWriter(rw io.ReadWriter, logger *slog.Logger, preview int) *LogReadWriter {
	return &LogReadWriter{ReadWriter: rw, logger: logger, preview: preview}
}

type BufLogReadWriter struct {
	io.Writer
	*bufio.Reader
}

// NewBufLogReadWriter creates a new BufLogReadWriter. It wraps rw in a LogReadWriter and buffers the reads.
// the reason to divide it in 2 structs is to avoid the need to implement all the methods of bufio.ReadWriter
func NewBufLogReadWriter(rw io.ReadWriter, logger *slog.Logger, preview int) *BufLogReadWriter {
	rw = NewLogReadWriter(rw, logger, preview)

	return &BufLogReadWriter{
		Reader: bufio.NewReader(rw),
		Writer: rw,
	}
}

// HttpResponseWriter records the status and body size of a response for the access log.
type HttpResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *HttpResponseWriter) WriteHeader(statusCode int) {
	rw.status = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *HttpResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Status returns the response status, 200 if WriteHeader was never called.
func (rw *HttpResponseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// Size returns the number of body bytes written.
func (rw *HttpResponseWriter) Size() int {
	return rw.size
}

func NewHttpResponseWriter(w http.ResponseWriter) *HttpResponseWriter {
	return &HttpResponseWriter{ResponseWriter: w}
}
