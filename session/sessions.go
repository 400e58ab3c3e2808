package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/telebroad/chatrelay/transfer"
	"github.com/telebroad/chatrelay/wire"
)

// ErrTableFull is returned by Register when every slot is taken.
var ErrTableFull = errors.New("session table is full")

// Conn is the transport side of a session.
type Conn interface {
	// Send queues a frame for the peer. A failure is advisory: the session is
	// reaped by its owner, never by the caller of Send.
	Send(f wire.Frame) error
	// Close releases the connection.
	Close() error
}

// Session is the server side state of one live client connection.
type Session struct {
	ID          int    // socket descriptor, unique while open
	PeerAddress string // textual IP of the remote end, captured at accept time
	Conn        Conn

	mu     sync.Mutex
	upload *transfer.Upload // set only while an upload is in progress
}

// Upload returns the upload in progress, or nil while idle.
func (s *Session) Upload() *transfer.Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload
}

// SetUpload replaces the session's upload and returns the previous one.
// Passing nil returns the session to idle.
func (s *Session) SetUpload(u *transfer.Upload) (prev *transfer.Upload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, s.upload = s.upload, u
	return prev
}

// UploadInfo is a point in time view of an upload.
type UploadInfo struct {
	ID       uuid.UUID `json:"transfer"`
	Name     string    `json:"name"`
	Total    int64     `json:"total"`
	Received int64     `json:"received"`
	Writable bool      `json:"writable"`
}

// Info is a point in time view of a session.
type Info struct {
	ID          int         `json:"id"`
	PeerAddress string      `json:"peer"`
	Upload      *UploadInfo `json:"upload,omitempty"`
}

// Info returns a copy of the session state that is safe to keep.
func (s *Session) Info() Info {
	info := Info{ID: s.ID, PeerAddress: s.PeerAddress}
	if u := s.Upload(); u != nil {
		info.Upload = &UploadInfo{
			ID:       u.ID,
			Name:     u.Name,
			Total:    u.Total,
			Received: u.Received(),
			Writable: u.Writable(),
		}
	}
	return info
}

// Table is a fixed capacity set of sessions addressed by socket descriptor.
type Table struct {
	capacity int
	sessions map[int]*Session // Map of active sessions
	lock     sync.RWMutex     // Protects the sessions map
}

// NewTable returns an empty table that holds at most capacity sessions.
func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		sessions: make(map[int]*Session, capacity),
	}
}

// Capacity returns the maximum number of sessions.
func (t *Table) Capacity() int {
	return t.capacity
}

// Len returns the number of active sessions.
func (t *Table) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.sessions)
}

// Register adds a session for a freshly accepted connection.
// When the table is full it returns ErrTableFull and the caller must close the raw connection.
func (t *Table) Register(id int, peerAddress string, conn Conn) (*Session, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, exists := t.sessions[id]; exists {
		return nil, fmt.Errorf("session %d is already registered", id)
	}
	if len(t.sessions) >= t.capacity {
		return nil, fmt.Errorf("%w: %d sessions", ErrTableFull, t.capacity)
	}

	s := &Session{ID: id, PeerAddress: peerAddress, Conn: conn}
	t.sessions[id] = s
	return s, nil
}

// Lookup retrieves a session by its ID.
func (t *Table) Lookup(id int) (*Session, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	s, exists := t.sessions[id]
	return s, exists
}

// Remove closes the session's upload and connection, then frees its slot.
// Removing an unknown ID is a no-op.
func (t *Table) Remove(id int) error {
	s, exists := t.Lookup(id)
	if !exists {
		return nil
	}

	var errs []error
	if u := s.SetUpload(nil); u != nil {
		errs = append(errs, u.Close())
	}
	if s.Conn != nil {
		errs = append(errs, s.Conn.Close())
	}

	t.lock.Lock()
	delete(t.sessions, id)
	t.lock.Unlock()
	return errors.Join(errs...)
}

// ForEach calls fn for every active session.
// fn must not call Register or Remove.
func (t *Table) ForEach(fn func(*Session)) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	for _, s := range t.sessions {
		fn(s)
	}
}

// IDs returns the IDs of every active session.
func (t *Table) IDs() []int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	ids := make([]int, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns the state of every session ordered by ID.
func (t *Table) Snapshot() []Info {
	t.lock.RLock()
	defer t.lock.RUnlock()
	infos := make([]Info, 0, len(t.sessions))
	for _, s := range t.sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
