// Description: sftp package
// This package serves a read only sftp view of the relay's file store, so uploaded files can be
// browsed and fetched with any sftp client. The relay protocol has no authentication and
// neither does this view.

package sftp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/keys"
	"golang.org/x/crypto/ssh"
)

type Server struct {
	Addr      string
	KeyType   string // host key kind generated when no key is set, see keys.Generate
	logger    *slog.Logger
	store     *filesystem.Store
	hostKey   ssh.Signer
	sshConfig *ssh.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

func NewSFTPServer(addr string, store *filesystem.Store) *Server {
	return &Server{
		Addr:  addr,
		store: store,
		conns: make(map[net.Conn]struct{}),
	}
}

// SetPrivateKey sets the host key of the server from a PEM private key.
// if not called the server will generate a new key
func (s *Server) SetPrivateKey(pk []byte) error {
	signer, err := keys.HostSigner(pk)
	if err != nil {
		return err
	}
	s.hostKey = signer
	return nil
}

// SetPrivateKeyFile reads the host key from a PEM file. An empty path keeps the generated key.
func (s *Server) SetPrivateKeyFile(path string) error {
	if path == "" {
		return nil
	}
	signer, err := keys.LoadOrGenerate(path, s.KeyType)
	if err != nil {
		return err
	}
	s.hostKey = signer
	return nil
}

// Listen binds the listener and prepares the ssh configuration.
func (s *Server) Listen() error {
	if s.hostKey == nil {
		signer, err := keys.LoadOrGenerate("", s.KeyType)
		if err != nil {
			return fmt.Errorf("error generating host key: %w", err)
		}
		s.hostKey = signer
	}

	s.sshConfig = &ssh.ServerConfig{
		NoClientAuth: true,
	}
	s.sshConfig.AddHostKey(s.hostKey)

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger().Error("Failed to listen", "error", err)
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.Logger().Info("Listening on "+listener.Addr().String(), "host-key", s.hostKey.PublicKey().Type())
	return nil
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("sftp server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return net.ErrClosed
			}
			s.Logger().Error("Failed to accept incoming connection", "error", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return net.ErrClosed
		}
		go s.sshHandler(conn)
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// TryListenAndServe tries to start the sftp server if there isn't an error after a certain time it returns nil
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)

	go func() {
		err := s.ListenAndServe()
		if err != nil && !errors.Is(err, net.ErrClosed) {
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

// ListenAddr returns the bound address, nil before Listen.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	for conn := range s.conns {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s.logger.With("module", "sftp-server")
}

func (s *Server) sshHandler(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	// Upgrade the connection to an SSH connection.
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.Logger().Error("Failed to handshake", "error", err)
		return
	}
	defer sshConn.Close()

	s.Logger().Info(
		"New SSH connection",
		"RemoteAddr", sshConn.RemoteAddr().String(),
		"ClientVersion", string(sshConn.ClientVersion()),
		"ssh-User", sshConn.User(),
	)
	// The incoming Request channel must be serviced.
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		// the sftp subsystem runs over a "session" channel
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.Logger().Error("Could not accept channel", "error", err)
			return
		}

		go s.filterHandler(requests)
		go s.serveChannel(sshConn, channel)
	}
}

func (s *Server) serveChannel(sshConn *ssh.ServerConn, channel ssh.Channel) {
	logger := s.Logger().With("RemoteAddr", sshConn.RemoteAddr().String())
	server := sftp.NewRequestServer(channel, NewFileSys(s.store, logger))

	if err := server.Serve(); errors.Is(err, io.EOF) {
		logger.Info("sftp client exited session.", "user", sshConn.User())
	} else if err != nil {
		logger.Error("sftp server completed with error", "error", err)
	}
	server.Close()
}

// filterHandler accepts the sftp subsystem request and refuses everything else.
func (s *Server) filterHandler(in <-chan *ssh.Request) {
	for req := range in {
		s.Logger().Debug("Request", "type", req.Type)

		ok := false
		switch req.Type {
		case "subsystem":
			if len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
				ok = true
			}
		}
		if err := req.Reply(ok, nil); err != nil {
			s.Logger().Error("Failed to reply", "error", err)
			return
		}
	}
}
