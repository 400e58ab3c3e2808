package relay

import (
	"errors"
	"io"
	"time"

	"github.com/telebroad/chatrelay/wire"
)

var errWouldBlock = errors.New("operation would block")

// event is one readiness report of the poller.
type event struct {
	fd       int
	readable bool
	writable bool
	hangup   bool // peer closed, or the socket has a pending error
}

// acceptAll accepts every pending connection.
// Connections over capacity are closed before any frame is exchanged.
func (s *Server) acceptAll() {
	for {
		fd, peer, err := acceptSocket(s.listenFD)
		if errors.Is(err, errWouldBlock) {
			return
		}
		if err != nil {
			s.pauseAccept(err)
			return
		}

		c := newConn(s, fd)
		sess, err := s.sessions.Register(fd, peer, c)
		if err != nil {
			s.Logger().Warn("[reject]", "peer", peer, "error", err)
			closeSocket(fd)
			continue
		}
		c.sess = sess

		if err = s.poller.add(fd, false); err != nil {
			s.Logger().Error("error watching connection", "peer", peer, "error", err)
			s.sessions.Remove(fd)
			continue
		}
		s.Logger().Info("[connect]", "peer", peer, "id", fd, "sessions", s.sessions.Len())
	}
}

// pauseAccept stops watching the listener after an accept error such as EMFILE,
// the failed connection is still pending and keeps the listener ready.
// Accepting resumes after acceptBackoff or as soon as a session is removed.
func (s *Server) pauseAccept(cause error) {
	s.Logger().Error("Error accepting connection", "error", cause, "retry-in", acceptBackoff)
	if err := s.poller.remove(s.listenFD); err != nil {
		s.Logger().Error("error pausing listener", "error", err)
	}
	s.acceptPaused = true
	s.acceptResume = time.Now().Add(acceptBackoff)
}

func (s *Server) resumeAccept() {
	if !s.acceptPaused {
		return
	}
	if err := s.poller.add(s.listenFD, false); err != nil {
		s.Logger().Error("error resuming listener", "error", err)
		s.acceptResume = time.Now().Add(acceptBackoff)
		return
	}
	s.acceptPaused = false
}

func (s *Server) handleEvent(ev event) {
	sess, ok := s.sessions.Lookup(ev.fd)
	if !ok {
		// reaped earlier in the same batch, the descriptor is already closed
		s.Logger().Debug("stale event", "fd", ev.fd)
		return
	}
	c := sess.Conn.(*conn)

	if ev.writable {
		c.flush()
	}
	if c.broken {
		return
	}
	if ev.readable || ev.hangup {
		s.readFrom(c)
	}
}

// readFrom performs one read and dispatches every frame completed by it, in order.
func (s *Server) readFrom(c *conn) {
	n, err := readSocket(c.fd, s.buf)
	switch {
	case errors.Is(err, errWouldBlock):
		return
	case err != nil:
		s.disconnect(c, err)
		return
	case n == 0:
		s.disconnect(c, io.EOF)
		return
	}
	c.in.Write(s.buf[:n])

	for !c.broken {
		f, ok, err := c.in.Next()
		if err != nil {
			s.disconnect(c, err)
			return
		}
		if !ok {
			return
		}
		s.dispatch(c, f)
	}
}

// disconnect tears the session down. Its upload file is closed, partial content stays on disk.
func (s *Server) disconnect(c *conn, cause error) {
	c.broken = true
	if err := s.poller.remove(c.fd); err != nil {
		s.Logger().Warn("error removing connection from poller", "id", c.fd, "error", err)
	}
	if err := s.sessions.Remove(c.fd); err != nil {
		s.Logger().Warn("error closing session", "id", c.fd, "error", err)
	}

	s.resumeAccept()

	level := s.Logger().Info
	if !errors.Is(cause, io.EOF) && !errors.Is(cause, wire.ErrDisconnected) {
		level = s.Logger().Warn
	}
	level("[disconnect]", "peer", c.sess.PeerAddress, "id", c.fd, "cause", cause, "sessions", s.sessions.Len())
}

// reap disconnects the connections that failed while sending.
// It runs between events so no broadcast is iterating the table.
func (s *Server) reap() {
	for len(s.broken) > 0 {
		fd := s.broken[0]
		s.broken = s.broken[1:]

		sess, ok := s.sessions.Lookup(fd)
		if !ok {
			continue
		}
		if c := sess.Conn.(*conn); !c.closed {
			s.disconnect(c, c.err)
		}
	}
}
