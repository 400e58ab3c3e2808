package relay

import (
	"github.com/telebroad/chatrelay/session"
	"github.com/telebroad/chatrelay/tools"
	"github.com/telebroad/chatrelay/transfer"
	"github.com/telebroad/chatrelay/wire"
)

// dispatch routes one frame by type. Unknown types are read in full and ignored.
func (s *Server) dispatch(c *conn, f wire.Frame) {
	switch f.Type {
	case wire.TypeText:
		s.handleText(c, f.Payload)
	case wire.TypeFileInfo:
		s.handleFileInfo(c, f.Payload)
	case wire.TypeFileData:
		s.handleFileData(c, f.Payload)
	case wire.TypeFileRequest:
		s.handleFileRequest(c, f.Payload)
	default:
		s.Logger().Debug("ignoring frame", "peer", c.sess.PeerAddress, "frame", f.String())
	}
}

// handleText relays "<peer>: <text>" to every session, the sender included.
func (s *Server) handleText(c *conn, text []byte) {
	s.Logger().Info("[text]", "peer", c.sess.PeerAddress, "text", tools.Printable(string(text), 120))
	s.broadcast(wire.Frame{Type: wire.TypeText, Payload: wire.TextRelay(c.sess.PeerAddress, text)})
}

// handleFileInfo starts an upload. A previous unfinished upload of the session is closed and abandoned.
func (s *Server) handleFileInfo(c *conn, payload []byte) {
	name, size, err := wire.ParseFileAnnounce(payload)
	if err != nil {
		s.Logger().Warn("ignoring file announce", "peer", c.sess.PeerAddress, "error", err)
		return
	}

	u, err := transfer.Begin(s.store, name, size)
	if prev := c.sess.SetUpload(u); prev != nil {
		prev.Close()
		s.Logger().Warn("upload abandoned", "peer", c.sess.PeerAddress, "file", prev.Name, "received", prev.Received(), "total", prev.Total, "transfer", prev.ID)
	}
	if err != nil {
		s.Logger().Error("upload file not writable, data will be discarded", "peer", c.sess.PeerAddress, "file", name, "transfer", u.ID, "error", err)
		s.replyError(c, "cannot store file "+name)
		return
	}

	s.Logger().Info("[file receive]", "peer", c.sess.PeerAddress, "file", u.Name, "size", size, "transfer", u.ID)
	if size == 0 {
		// no FILE_DATA follows an empty file
		s.finishUpload(c.sess, u)
	}
}

// handleFileData appends to the session's upload. Data without an upload is dropped.
func (s *Server) handleFileData(c *conn, data []byte) {
	u := c.sess.Upload()
	if u == nil {
		s.Logger().Debug("file data without upload", "peer", c.sess.PeerAddress, "size", len(data))
		return
	}

	done, err := u.Write(data)
	if err != nil {
		s.Logger().Error("upload write failed", "peer", c.sess.PeerAddress, "file", u.Name, "transfer", u.ID, "error", err)
		if !done {
			s.replyError(c, "cannot store file "+u.Name)
			return
		}
	}
	if done {
		s.finishUpload(c.sess, u)
	}
}

// finishUpload returns the session to idle and announces the file to every session.
func (s *Server) finishUpload(sess *session.Session, u *transfer.Upload) {
	sess.SetUpload(nil)
	u.Close()
	s.Logger().Info("[file received]", "peer", sess.PeerAddress, "file", u.Name, "size", u.Received(), "transfer", u.ID)
	s.broadcast(wire.Frame{Type: wire.TypeFileInfo, Payload: wire.FileNotice(sess.PeerAddress, u.Name, u.Total)})
}

// handleFileRequest streams a stored file to the requester only:
// one FILE_INFO followed by FILE_DATA chunks.
func (s *Server) handleFileRequest(c *conn, payload []byte) {
	name := string(payload)
	d, err := transfer.OpenDownload(s.store, name, s.ChunkSize)
	if err != nil {
		s.Logger().Warn("[file request] not available", "peer", c.sess.PeerAddress, "file", name, "error", err)
		s.replyError(c, "file not found: "+name)
		return
	}

	s.Logger().Info("[file request]", "peer", c.sess.PeerAddress, "file", d.Name, "size", d.Size, "transfer", d.ID)
	if err = c.Send(d.Info()); err != nil {
		d.Close()
		return
	}
	c.stream(d)
}

// replyError tells the requester a request failed. The peer treats a text
// starting with "Error:" as the end of a pending download.
func (s *Server) replyError(c *conn, msg string) {
	if !s.ErrorReplies {
		return
	}
	c.Send(wire.Frame{Type: wire.TypeText, Payload: []byte("Error: " + msg)})
}

// broadcast encodes f once and queues it for every session.
// A failing recipient is marked broken and reaped after the current event.
func (s *Server) broadcast(f wire.Frame) {
	data := wire.EncodeFrame(f.Type, f.Payload)
	delivered, failed := 0, 0
	s.sessions.ForEach(func(sess *session.Session) {
		var err error
		if c, ok := sess.Conn.(*conn); ok {
			err = c.enqueue(data)
		} else {
			err = sess.Conn.Send(f)
		}
		if err != nil {
			failed++
			return
		}
		delivered++
	})
	s.Logger().Debug("broadcast", "frame", f.String(), "delivered", delivered, "failed", failed)
}
