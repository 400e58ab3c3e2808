package relay

import (
	"errors"
	"fmt"
	"io"

	"github.com/telebroad/chatrelay/session"
	"github.com/telebroad/chatrelay/transfer"
	"github.com/telebroad/chatrelay/wire"
)

var (
	errConnClosed   = errors.New("connection is closed")
	errSlowConsumer = errors.New("outbox limit exceeded")
)

// outItem is one entry of a connection's outbox: an encoded frame or a download stream.
type outItem struct {
	data     []byte
	download *transfer.Download
}

// conn is the non-blocking transport of one session. It is only used from the loop goroutine.
type conn struct {
	fd     int
	server *Server
	sess   *session.Session
	in     *wire.Decoder

	out     []byte    // bytes of the frame being written
	queue   []outItem // waiting behind out
	queued  int       // encoded bytes in out and queue
	pollOut bool      // write readiness requested

	broken bool
	closed bool
	err    error
}

func newConn(s *Server, fd int) *conn {
	return &conn{
		fd:     fd,
		server: s,
		in:     wire.NewDecoder(s.MaxPayload),
	}
}

// Send queues f and writes as much as the socket accepts right away.
func (c *conn) Send(f wire.Frame) error {
	return c.enqueue(wire.EncodeFrame(f.Type, f.Payload))
}

// enqueue queues an encoded frame. data may be shared with other connections and is never modified.
func (c *conn) enqueue(data []byte) error {
	if c.closed || c.broken {
		return errConnClosed
	}
	if c.queued+len(data) > c.server.MaxQueued {
		return c.fail(fmt.Errorf("%w: %d bytes queued", errSlowConsumer, c.queued))
	}
	c.queue = append(c.queue, outItem{data: data})
	c.queued += len(data)
	return c.flush()
}

// stream queues a download behind everything already queued.
// Its chunks are read from disk one at a time, as the socket drains.
func (c *conn) stream(d *transfer.Download) error {
	if c.closed || c.broken {
		d.Close()
		return errConnClosed
	}
	c.queue = append(c.queue, outItem{download: d})
	return c.flush()
}

// flush writes until the outbox is empty or the socket would block.
func (c *conn) flush() error {
	if c.closed || c.broken {
		return errConnClosed
	}
	for {
		if len(c.out) == 0 && !c.fill() {
			if c.broken {
				return c.err
			}
			return c.watchWrite(false)
		}

		n, err := writeSocket(c.fd, c.out)
		if n > 0 {
			c.out = c.out[n:]
			c.queued -= n
		}
		if errors.Is(err, errWouldBlock) {
			return c.watchWrite(true)
		}
		if err != nil {
			return c.fail(err)
		}
	}
}

// fill moves the next outbox entry into out. It reports false when nothing is left
// or when a download failed, which breaks the connection.
func (c *conn) fill() bool {
	for len(c.queue) > 0 {
		item := &c.queue[0]
		if item.download == nil {
			c.out = item.data
			c.popQueue()
			return true
		}

		d := item.download
		f, err := d.Next()
		if err == nil {
			c.out = wire.EncodeFrame(f.Type, f.Payload)
			c.queued += len(c.out)
			return true
		}

		d.Close()
		c.popQueue()
		if !errors.Is(err, io.EOF) {
			// the requester already has the FILE_INFO and completes by its size only
			c.server.Logger().Error("download aborted", "peer", c.sess.PeerAddress, "file", d.Name, "sent", d.Sent, "size", d.Size, "transfer", d.ID, "error", err)
			c.fail(err)
			return false
		}
		c.server.Logger().Info("[file sent]", "peer", c.sess.PeerAddress, "file", d.Name, "size", d.Sent, "transfer", d.ID)
	}
	return false
}

func (c *conn) popQueue() {
	c.queue[0] = outItem{}
	c.queue = c.queue[1:]
}

// watchWrite asks the poller for write readiness only while something is pending.
func (c *conn) watchWrite(on bool) error {
	if c.pollOut == on {
		return nil
	}
	if err := c.server.poller.modify(c.fd, on); err != nil {
		return c.fail(err)
	}
	c.pollOut = on
	return nil
}

// fail marks the connection broken. The loop reaps it after the current event.
func (c *conn) fail(err error) error {
	if !c.broken {
		c.broken = true
		c.err = err
		c.server.broken = append(c.server.broken, c.fd)
		c.server.Logger().Debug("connection broken", "id", c.fd, "error", err)
	}
	return err
}

// Close drops everything still queued and closes the socket. It is called by the session table.
func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for _, item := range c.queue {
		if item.download != nil {
			item.download.Close()
		}
	}
	c.queue = nil
	c.out = nil
	c.queued = 0
	if err := closeSocket(c.fd); err != nil {
		return fmt.Errorf("error closing connection %d: %w", c.fd, err)
	}
	return nil
}
