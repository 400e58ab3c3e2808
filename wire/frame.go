package wire

import (
	"fmt"
	"io"
)

// DecodeHeader splits a header into its type and payload length.
func DecodeHeader(h [HeaderSize]byte) (Type, uint32) {
	return Type(h[0]), ByteOrder.Uint32(h[1:])
}

// EncodeHeader builds the header for a payload of length n.
func EncodeHeader(t Type, n uint32) (h [HeaderSize]byte) {
	h[0] = byte(t)
	ByteOrder.PutUint32(h[1:], n)
	return h
}

// AppendFrame appends the encoded frame to dst and returns the extended buffer.
func AppendFrame(dst []byte, f Frame) []byte {
	h := EncodeHeader(f.Type, uint32(len(f.Payload)))
	dst = append(dst, h[:]...)
	return append(dst, f.Payload...)
}

// EncodeFrame returns the encoded frame in a new buffer.
func EncodeFrame(t Type, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), Frame{Type: t, Payload: payload})
}

// ReadFrame reads exactly one frame from r.
// Any read that comes up short, at any point of the header or the payload, is
// reported as ErrDisconnected. A length above maxPayload is reported as
// ErrFrameTooLarge before the payload buffer is allocated.
func ReadFrame(r io.Reader, maxPayload uint32) (Frame, error) {
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return Frame{}, fmt.Errorf("%w: reading header: %w", ErrDisconnected, err)
	}

	t, n := DecodeHeader(h)
	if n > maxPayload {
		return Frame{}, fmt.Errorf("%w: %s announced %d bytes, limit %d", ErrFrameTooLarge, t, n, maxPayload)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("%w: reading %s payload: %w", ErrDisconnected, t, err)
	}
	return Frame{Type: t, Payload: payload}, nil
}

// WriteFrame writes the whole frame to w, looping until every byte is accepted
// or the writer fails.
func WriteFrame(w io.Writer, f Frame) error {
	return writeAll(w, EncodeFrame(f.Type, f.Payload))
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return fmt.Errorf("error writing frame: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("error writing frame: %w", io.ErrShortWrite)
		}
		b = b[n:]
	}
	return nil
}
