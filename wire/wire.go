// Description: wire package
// This package contains the relay wire format: a 5 byte header (type + length) followed by the payload.
// It also contains the payload formats used by the chat and file transfer frames.
// The package does no I/O of its own beyond the io.Reader / io.Writer it is handed.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the first byte of every frame header
type Type uint8

const (
	TypeText        Type = 0 // UTF-8 chat text
	TypeFileInfo    Type = 1 // upload announce, completion notice or download info
	TypeFileRequest Type = 2 // download request, payload is the file name
	TypeFileData    Type = 3 // raw file bytes
)

var typeText = map[Type]string{
	TypeText:        "TEXT",
	TypeFileInfo:    "FILE_INFO",
	TypeFileRequest: "FILE_REQUEST",
	TypeFileData:    "FILE_DATA",
}

func (t Type) String() string {
	if s, ok := typeText[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Known reports whether t is one of the four frame types of the protocol.
func (t Type) Known() bool {
	_, ok := typeText[t]
	return ok
}

const (
	// HeaderSize is the size of the frame header: 1 byte type + 4 bytes length.
	HeaderSize = 5

	// DefaultMaxPayload bounds the length field before anything is allocated for it.
	DefaultMaxPayload = 1 << 20 // 1 MiB

	// ChunkSize is the FILE_DATA chunk size used when streaming files.
	// It is not part of the wire contract, receivers reassemble by announced size.
	ChunkSize = 4096
)

// ByteOrder of the length field.
// The reference peer copies the host integer into the header, which is
// little-endian on every platform it ships on, so the relay fixes that order.
var ByteOrder = binary.LittleEndian

var (
	// ErrDisconnected is returned for any short or failed read of a header or payload.
	// Clean closes and I/O errors are treated the same way: the connection must be torn down.
	ErrDisconnected = errors.New("peer disconnected")

	// ErrFrameTooLarge is returned when a header announces a payload bigger than the allowed maximum.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")

	// ErrMalformedPayload is returned by the payload parsers.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Frame is one length-prefixed, typed unit of the protocol.
type Frame struct {
	Type    Type
	Payload []byte
}

// Len returns the encoded size of the frame.
func (f Frame) Len() int {
	return HeaderSize + len(f.Payload)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s(%d)", f.Type, len(f.Payload))
}
