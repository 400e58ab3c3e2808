// Description: relay package
// This package contains the chat and file relay server.
// A single goroutine owns a level-triggered readiness loop over non-blocking sockets,
// reassembles frames per connection and dispatches them: chat text is broadcast to every
// session, uploads are written to the store and announced, downloads are streamed back
// to the requester only.

package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/session"
	"github.com/telebroad/chatrelay/wire"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Close.
var ErrServerClosed = errors.New("relay: Server closed")

const (
	DefaultAddr       = ":8888"
	DefaultMaxClients = 100
	DefaultMaxQueued  = 8 << 20 // 8 MiB of encoded frames waiting for one slow peer

	maxEvents     = 20
	readBuffer    = 64 << 10
	backlog       = 128
	acceptBackoff = 100 * time.Millisecond
)

type Server struct {
	// Addr is the TCP address to listen on, DefaultAddr if empty.
	Addr string

	// MaxClients is the session table capacity.
	MaxClients int

	// MaxPayload bounds the length field of every inbound frame.
	MaxPayload uint32

	// ChunkSize is the FILE_DATA payload size used for downloads.
	ChunkSize int

	// MaxQueued bounds the bytes waiting in one connection's outbox.
	// A peer that falls further behind is disconnected.
	MaxQueued int

	// ErrorReplies sends the requester a TEXT frame starting with "Error: "
	// when a download or an upload cannot be served. When false nothing is sent.
	ErrorReplies bool

	store    *filesystem.Store
	sessions *session.Table
	logger   *slog.Logger

	mu       sync.Mutex
	poller   *poller
	listenFD int
	bound    *net.TCPAddr
	serving  bool
	closing  atomic.Bool
	done     chan struct{}
	shutOnce sync.Once

	// owned by the loop goroutine
	broken       []int
	buf          []byte
	acceptPaused bool
	acceptResume time.Time
}

// NewServer returns a relay server for addr that stores files in store.
func NewServer(addr string, store *filesystem.Store) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		Addr:         addr,
		MaxClients:   DefaultMaxClients,
		MaxPayload:   wire.DefaultMaxPayload,
		ChunkSize:    wire.ChunkSize,
		MaxQueued:    DefaultMaxQueued,
		ErrorReplies: true,
		store:        store,
		listenFD:     -1,
		done:         make(chan struct{}),
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l.With("module", "relay-server")
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default().With("module", "relay-server")
	}
	return s.logger
}

// Store returns the file store of the server.
func (s *Server) Store() *filesystem.Store {
	return s.store
}

// Listen binds the listening socket and sets up the session table.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poller != nil {
		return fmt.Errorf("relay server is already listening on %s", s.bound)
	}
	if s.closing.Load() {
		return ErrServerClosed
	}
	if s.MaxClients <= 0 {
		s.MaxClients = DefaultMaxClients
	}
	if s.MaxPayload == 0 {
		s.MaxPayload = wire.DefaultMaxPayload
	}
	if s.MaxQueued <= 0 {
		s.MaxQueued = DefaultMaxQueued
	}

	p, err := newPoller()
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	fd, bound, err := listenSocket(s.Addr, backlog)
	if err != nil {
		p.close()
		return fmt.Errorf("error starting server: %w", err)
	}
	if err = p.add(fd, false); err != nil {
		closeSocket(fd)
		p.close()
		return fmt.Errorf("error starting server: %w", err)
	}

	s.poller = p
	s.listenFD = fd
	s.bound = bound
	s.sessions = session.NewTable(s.MaxClients)
	s.buf = make([]byte, readBuffer)

	s.Logger().Info("relay server listening", "addr", bound.String(), "root", s.store.Root(), "max-clients", s.MaxClients)
	return nil
}

// Serve runs the readiness loop until Close is called. Listen must be called first.
// It always returns a non-nil error, ErrServerClosed after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.poller == nil {
		s.mu.Unlock()
		return errors.New("relay server is not listening")
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("relay server is already serving")
	}
	s.serving = true
	s.mu.Unlock()

	defer close(s.done)
	defer s.shutdown()

	events := make([]event, maxEvents)
	for {
		if s.closing.Load() {
			return ErrServerClosed
		}

		timeout := time.Duration(-1)
		if s.acceptPaused {
			timeout = max(time.Until(s.acceptResume), 0)
		}
		n, err := s.poller.wait(events, timeout)
		if s.closing.Load() {
			return ErrServerClosed
		}
		if err != nil {
			s.Logger().Error("readiness wait failed", "error", err)
			return fmt.Errorf("error waiting for events: %w", err)
		}
		if s.acceptPaused && !time.Now().Before(s.acceptResume) {
			s.resumeAccept()
		}

		for _, ev := range events[:n] {
			if ev.fd == s.listenFD {
				s.acceptAll()
				continue
			}
			s.handleEvent(ev)
			s.reap()
		}
	}
}

// ListenAndServe listens on Addr and runs the readiness loop.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// TryListenAndServe tries to start the relay server if there isn't an error after a certain time it returns nil
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		err := s.ListenAndServe()
		if err != nil && !errors.Is(err, ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Close stops the loop, disconnects every session and releases the listening socket.
// Open uploads are closed, the partial files are left on disk.
func (s *Server) Close(cause error) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	p, serving := s.poller, s.serving
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	s.Logger().Info("closing relay server", "cause", cause)

	if !serving {
		s.shutdown()
		return nil
	}
	if err := p.wake(); err != nil {
		return err
	}
	<-s.done
	return nil
}

// ListenAddr returns the bound address, nil before Listen.
func (s *Server) ListenAddr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Sessions returns the session table, nil before Listen.
func (s *Server) Sessions() *session.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Snapshot returns the state of every connected session.
func (s *Server) Snapshot() []session.Info {
	t := s.Sessions()
	if t == nil {
		return nil
	}
	return t.Snapshot()
}

func (s *Server) shutdown() {
	s.shutOnce.Do(func() {
		for _, id := range s.sessions.IDs() {
			s.poller.remove(id)
			if err := s.sessions.Remove(id); err != nil {
				s.Logger().Warn("error closing session", "id", id, "error", err)
			}
		}
		s.poller.remove(s.listenFD)
		if err := closeSocket(s.listenFD); err != nil {
			s.Logger().Warn("error closing listener", "error", err)
		}
		if err := s.poller.close(); err != nil {
			s.Logger().Warn("error closing poller", "error", err)
		}
		s.Logger().Info("relay server closed")
	})
}
