package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/transfer"
	"github.com/telebroad/chatrelay/wire"
)

type fakeConn struct {
	sent   []wire.Frame
	closed int
}

func (c *fakeConn) Send(f wire.Frame) error {
	if c.closed > 0 {
		return errors.New("closed")
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

func Test_RegisterUntilFull(t *testing.T) {
	table := NewTable(3)
	for id := 10; id < 13; id++ {
		s, err := table.Register(id, "127.0.0.1", &fakeConn{})
		require.NoError(t, err)
		assert.Equal(t, id, s.ID)
		assert.Nil(t, s.Upload())
	}
	assert.Equal(t, 3, table.Len())

	_, err := table.Register(13, "127.0.0.1", &fakeConn{})
	require.ErrorIs(t, err, ErrTableFull)
	assert.Equal(t, 3, table.Len())

	// existing sessions are untouched by the rejection
	for id := 10; id < 13; id++ {
		_, ok := table.Lookup(id)
		assert.True(t, ok)
	}

	require.NoError(t, table.Remove(11))
	_, err = table.Register(13, "127.0.0.1", &fakeConn{})
	require.NoError(t, err)
}

func Test_RegisterDuplicate(t *testing.T) {
	table := NewTable(2)
	_, err := table.Register(4, "10.0.0.1", &fakeConn{})
	require.NoError(t, err)
	_, err = table.Register(4, "10.0.0.2", &fakeConn{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTableFull))
}

func Test_RemoveClosesUploadAndConn(t *testing.T) {
	dir := t.TempDir()
	table := NewTable(1)
	conn := &fakeConn{}
	s, err := table.Register(7, "10.1.1.1", conn)
	require.NoError(t, err)

	u, err := transfer.Begin(filesystem.NewStore(dir), "partial.bin", 100)
	require.NoError(t, err)
	_, err = u.Write([]byte("half"))
	require.NoError(t, err)
	assert.Nil(t, s.SetUpload(u))

	require.NoError(t, table.Remove(7))
	assert.Equal(t, 1, conn.closed)
	assert.False(t, u.Writable())
	assert.Nil(t, s.Upload())

	// the partial file stays on disk with what was received
	got, err := os.ReadFile(filepath.Join(dir, "partial.bin"))
	require.NoError(t, err)
	assert.Equal(t, "half", string(got))

	// idempotent
	require.NoError(t, table.Remove(7))
	assert.Equal(t, 1, conn.closed)
	_, ok := table.Lookup(7)
	assert.False(t, ok)
}

func Test_ForEachVisitsEverySessionOnce(t *testing.T) {
	table := NewTable(5)
	conns := map[int]*fakeConn{}
	for id := 1; id <= 4; id++ {
		conns[id] = &fakeConn{}
		_, err := table.Register(id, "127.0.0.1", conns[id])
		require.NoError(t, err)
	}

	frame := wire.Frame{Type: wire.TypeText, Payload: []byte("x")}
	table.ForEach(func(s *Session) {
		_ = s.Conn.Send(frame)
	})
	for id, c := range conns {
		assert.Len(t, c.sent, 1, "session %d", id)
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, table.IDs())
}

func Test_Snapshot(t *testing.T) {
	dir := t.TempDir()
	table := NewTable(4)
	_, err := table.Register(9, "10.0.0.9", &fakeConn{})
	require.NoError(t, err)
	s, err := table.Register(3, "10.0.0.3", &fakeConn{})
	require.NoError(t, err)

	u, err := transfer.Begin(filesystem.NewStore(dir), "a.txt", 8)
	require.NoError(t, err)
	_, err = u.Write([]byte("abc"))
	require.NoError(t, err)
	s.SetUpload(u)

	infos := table.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, 3, infos[0].ID)
	require.NotNil(t, infos[0].Upload)
	assert.Equal(t, UploadInfo{ID: u.ID, Name: "a.txt", Total: 8, Received: 3, Writable: true}, *infos[0].Upload)
	assert.Equal(t, 9, infos[1].ID)
	assert.Nil(t, infos[1].Upload)
	require.NoError(t, table.Remove(3))
}
