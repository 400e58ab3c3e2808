package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// FileInfo is the decoded payload of a FILE_INFO frame.
// Sender is only set for the 3 field completion notice.
type FileInfo struct {
	Sender string
	Name   string
	Size   int64
}

// Notice reports whether the payload was the 3 field completion notice.
func (fi FileInfo) Notice() bool {
	return fi.Sender != ""
}

// TextRelay is the payload the server broadcasts for a chat message: "<peer>: <text>".
func TextRelay(peer string, text []byte) []byte {
	b := make([]byte, 0, len(peer)+2+len(text))
	b = append(b, peer...)
	b = append(b, ':', ' ')
	return append(b, text...)
}

// SplitTextRelay splits a relayed chat payload back into the sender address and the message.
// ok is false if the payload has no "<peer>: " prefix.
func SplitTextRelay(payload []byte) (peer, text string, ok bool) {
	peer, text, ok = strings.Cut(string(payload), ": ")
	return
}

// FileAnnounce builds the 2 field payload "<name>\n<size>".
// It is used by the uploading peer and by the server's reply to a FILE_REQUEST.
func FileAnnounce(name string, size int64) []byte {
	return []byte(name + "\n" + strconv.FormatInt(size, 10))
}

// FileNotice builds the 3 field completion notice "<peer>\n<name>\n<size>".
func FileNotice(peer, name string, size int64) []byte {
	return []byte(peer + "\n" + name + "\n" + strconv.FormatInt(size, 10))
}

// ParseFileAnnounce parses an upload announce "<name>\n<size>".
// The name is everything before the first '\n', it is returned unsanitized.
func ParseFileAnnounce(payload []byte) (name string, size int64, err error) {
	before, after, found := bytes.Cut(payload, []byte{'\n'})
	if !found {
		return "", 0, fmt.Errorf("%w: file announce has no size field", ErrMalformedPayload)
	}
	size, err = parseSize(after)
	if err != nil {
		return "", 0, err
	}
	return string(before), size, nil
}

// ParseFileInfo parses any FILE_INFO payload the way the peers do: by counting
// the '\n' separated fields. The last two fields are the name and the size,
// a third leading field is the sender of a completion notice.
func ParseFileInfo(payload []byte) (FileInfo, error) {
	parts := bytes.Split(payload, []byte{'\n'})
	if len(parts) < 2 {
		return FileInfo{}, fmt.Errorf("%w: file info has %d field(s)", ErrMalformedPayload, len(parts))
	}

	size, err := parseSize(parts[len(parts)-1])
	if err != nil {
		return FileInfo{}, err
	}
	fi := FileInfo{
		Name: string(parts[len(parts)-2]),
		Size: size,
	}
	if len(parts) >= 3 {
		fi.Sender = string(parts[0])
	}
	return fi, nil
}

func parseSize(b []byte) (int64, error) {
	size, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad size %q: %w", ErrMalformedPayload, b, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("%w: negative size %d", ErrMalformedPayload, size)
	}
	return size, nil
}
