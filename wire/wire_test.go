package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader hands out at most chunkSize bytes per Read call.
type chunkReader struct {
	data      []byte
	chunkSize int
}

func (r *chunkReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunkSize
	if n > len(b) {
		n = len(b)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(b, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// oneByteWriter accepts a single byte per Write call.
type oneByteWriter struct {
	bytes.Buffer
	calls int
}

func (w *oneByteWriter) Write(b []byte) (int, error) {
	w.calls++
	if len(b) == 0 {
		return 0, nil
	}
	return w.Buffer.Write(b[:1])
}

func Test_HeaderLayout(t *testing.T) {
	h := EncodeHeader(TypeFileData, 0x01020304)
	assert.Equal(t, [HeaderSize]byte{3, 0x04, 0x03, 0x02, 0x01}, h)

	typ, n := DecodeHeader(h)
	assert.Equal(t, TypeFileData, typ)
	assert.Equal(t, uint32(0x01020304), n)
}

func Test_FrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload []byte
	}{
		{"empty text", TypeText, []byte{}},
		{"text", TypeText, []byte("hello relay")},
		{"file info", TypeFileInfo, FileAnnounce("a.txt", 12)},
		{"file request", TypeFileRequest, []byte("a.txt")},
		{"binary data", TypeFileData, bytes.Repeat([]byte{0, 1, 2, 0xff}, 1024)},
		{"max payload", TypeFileData, make([]byte, 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeFrame(tt.typ, tt.payload)
			require.Len(t, encoded, HeaderSize+len(tt.payload))

			f, err := ReadFrame(bytes.NewReader(encoded), 4096)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, f.Type)
			assert.Equal(t, len(tt.payload), len(f.Payload))
			assert.True(t, bytes.Equal(tt.payload, f.Payload))
		})
	}
}

func Test_ReadFrameFragmented(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 100)
	encoded := EncodeFrame(TypeText, payload)

	for _, chunk := range []int{1, 2, 3, 4, 5, 7, 64, len(encoded)} {
		t.Run(fmt.Sprintf("chunk%d", chunk), func(t *testing.T) {
			f, err := ReadFrame(&chunkReader{data: encoded, chunkSize: chunk}, DefaultMaxPayload)
			require.NoError(t, err)
			assert.Equal(t, TypeText, f.Type)
			assert.Equal(t, payload, f.Payload)
		})
	}
}

func Test_ReadFrameDisconnected(t *testing.T) {
	encoded := EncodeFrame(TypeText, []byte("truncated"))

	tests := []struct {
		name string
		data []byte
	}{
		{"nothing", nil},
		{"mid header", encoded[:3]},
		{"header only", encoded[:HeaderSize]},
		{"mid payload", encoded[:HeaderSize+4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data), DefaultMaxPayload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDisconnected), "got %v", err)
		})
	}
}

func Test_ReadFrameTooLarge(t *testing.T) {
	h := EncodeHeader(TypeFileData, 0xffffffff)
	_, err := ReadFrame(bytes.NewReader(h[:]), DefaultMaxPayload)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func Test_WriteFrameLoopsUntilDone(t *testing.T) {
	w := &oneByteWriter{}
	err := WriteFrame(w, Frame{Type: TypeText, Payload: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, 8, w.calls)
	assert.Equal(t, EncodeFrame(TypeText, []byte("abc")), w.Bytes())
}

func Test_DecoderFragmentation(t *testing.T) {
	frames := []Frame{
		{Type: TypeText, Payload: []byte("first")},
		{Type: TypeFileInfo, Payload: FileAnnounce("f.bin", 3)},
		{Type: TypeFileData, Payload: []byte{1, 2, 3}},
		{Type: TypeText, Payload: []byte{}},
	}
	var stream []byte
	for _, f := range frames {
		stream = AppendFrame(stream, f)
	}

	for _, split := range []int{1, 2, 3, 5, 6, 11, len(stream)} {
		t.Run(fmt.Sprintf("split%d", split), func(t *testing.T) {
			d := NewDecoder(DefaultMaxPayload)
			var got []Frame
			for i := 0; i < len(stream); i += split {
				end := i + split
				if end > len(stream) {
					end = len(stream)
				}
				_, _ = d.Write(stream[i:end])
				for {
					f, ok, err := d.Next()
					require.NoError(t, err)
					if !ok {
						break
					}
					got = append(got, f)
				}
			}
			require.Len(t, got, len(frames))
			for i := range frames {
				assert.Equal(t, frames[i].Type, got[i].Type)
				assert.True(t, bytes.Equal(frames[i].Payload, got[i].Payload))
			}
			assert.Zero(t, d.Buffered())
		})
	}
}

func Test_DecoderRejectsOversizeHeader(t *testing.T) {
	d := NewDecoder(16)
	h := EncodeHeader(TypeText, 17)
	_, _ = d.Write(h[:])
	_, ok, err := d.Next()
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

// emptyFrames returns a stream of n empty TEXT frames.
func emptyFrames(n int) []byte {
	stream := make([]byte, 0, n*HeaderSize)
	for i := 0; i < n; i++ {
		stream = AppendFrame(stream, Frame{Type: TypeText})
	}
	return stream
}

func Test_DecoderManyFramesPerWrite(t *testing.T) {
	const perRead = 13107 // one 64 KiB read of empty frames
	tail := AppendFrame(nil, Frame{Type: TypeFileData, Payload: []byte("tail")})

	d := NewDecoder(DefaultMaxPayload)
	_, _ = d.Write(append(emptyFrames(perRead), tail[:7]...))

	decoded := 0
	for {
		f, ok, err := d.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, TypeText, f.Type)
		decoded++
	}
	assert.Equal(t, perRead, decoded)
	assert.Equal(t, 7, d.Buffered())
	// decoded bytes are still in place until the next Write
	assert.Equal(t, perRead*HeaderSize, d.off)

	_, _ = d.Write(tail[7:])
	assert.Zero(t, d.off)
	f, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tail", string(f.Payload))
	assert.Zero(t, d.Buffered())

	d.Reset()
	_, ok, err = d.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func Benchmark_DecoderEmptyFrames(b *testing.B) {
	stream := emptyFrames(13107)
	d := NewDecoder(DefaultMaxPayload)
	b.SetBytes(int64(len(stream)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.Write(stream)
		for {
			_, ok, err := d.Next()
			if err != nil {
				b.Fatal(err)
			}
			if !ok {
				break
			}
		}
	}
}

func Test_ParseFileInfo(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    FileInfo
		wantErr bool
	}{
		{"announce", "report.pdf\n2048", FileInfo{Name: "report.pdf", Size: 2048}, false},
		{"notice", "10.0.0.7\nreport.pdf\n2048", FileInfo{Sender: "10.0.0.7", Name: "report.pdf", Size: 2048}, false},
		{"zero size", "empty\n0", FileInfo{Name: "empty", Size: 0}, false},
		{"one field", "report.pdf", FileInfo{}, true},
		{"bad size", "report.pdf\nlots", FileInfo{}, true},
		{"negative", "report.pdf\n-1", FileInfo{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFileInfo([]byte(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Sender != "", got.Notice())
		})
	}
}

func Test_ParseFileAnnounce(t *testing.T) {
	name, size, err := ParseFileAnnounce([]byte("../dir/x.bin\n99"))
	require.NoError(t, err)
	assert.Equal(t, "../dir/x.bin", name)
	assert.Equal(t, int64(99), size)

	_, _, err = ParseFileAnnounce([]byte("nosize"))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func Test_TextRelay(t *testing.T) {
	payload := TextRelay("192.168.1.5", []byte("hi there: all"))
	assert.Equal(t, "192.168.1.5: hi there: all", string(payload))

	peer, text, ok := SplitTextRelay(payload)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.5", peer)
	assert.Equal(t, "hi there: all", text)
}
