package wire

import "fmt"

// Decoder reassembles frames from a byte stream that may arrive fragmented or coalesced.
// Bytes are handed to Write as they come off the socket and complete frames are taken out with Next.
type Decoder struct {
	buf        []byte
	off        int // start of the first undecoded byte in buf
	maxPayload uint32
}

// NewDecoder returns a Decoder that rejects payloads bigger than maxPayload.
func NewDecoder(maxPayload uint32) *Decoder {
	return &Decoder{maxPayload: maxPayload}
}

// Write buffers p. It never fails.
// Bytes already decoded are dropped here, once per call, so taking frames out with Next never moves the buffer.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.off > 0 {
		rest := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:rest]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next returns the next complete frame.
// ok is false when more bytes are needed. The length field is checked as soon
// as the header is complete, so an oversized frame fails before its payload arrives.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	pending := d.buf[d.off:]
	if len(pending) < HeaderSize {
		return Frame{}, false, nil
	}

	var h [HeaderSize]byte
	copy(h[:], pending)
	t, n := DecodeHeader(h)
	if n > d.maxPayload {
		return Frame{}, false, fmt.Errorf("%w: %s announced %d bytes, limit %d", ErrFrameTooLarge, t, n, d.maxPayload)
	}

	end := HeaderSize + int(n)
	if len(pending) < end {
		return Frame{}, false, nil
	}

	payload := make([]byte, n)
	copy(payload, pending[HeaderSize:end])
	d.off += end
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}

	return Frame{Type: t, Payload: payload}, true, nil
}

// Reset drops any partially received frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}
