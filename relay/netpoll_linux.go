package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// poller is a level-triggered epoll instance plus an eventfd used to wake it up.
type poller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("error creating epoll instance: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("error creating eventfd: %w", err)
	}
	p := &poller{epfd: epfd, wakefd: wakefd}
	if err := p.ctl(unix.EPOLL_CTL_ADD, wakefd, false); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *poller) ctl(op, fd int, writable bool) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
	if writable {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(p.epfd, op, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
	}
	return nil
}

// add registers fd for read readiness, and write readiness when writable is set.
func (p *poller) add(fd int, writable bool) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, writable)
}

// modify switches write readiness reporting for fd on or off.
func (p *poller) modify(fd int, writable bool) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, writable)
}

// remove deregisters fd. Removing an fd that is not registered is not an error.
func (p *poller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// wait blocks until at least one registered fd is ready, the poller is woken or
// timeout expires. A negative timeout waits forever.
// Wake ups are consumed here and never show up in events.
func (p *poller) wait(events []event, timeout time.Duration) (int, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]

	for {
		n, err := unix.EpollWait(p.epfd, raw, msec)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("epoll_wait: %w", err)
		}

		count := 0
		for _, ev := range raw[:n] {
			if int(ev.Fd) == p.wakefd {
				p.drainWake()
				continue
			}
			events[count] = event{
				fd:       int(ev.Fd),
				readable: ev.Events&unix.EPOLLIN != 0,
				writable: ev.Events&unix.EPOLLOUT != 0,
				hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
			}
			count++
		}
		return count, nil
	}
}

// wake makes a blocked wait return.
func (p *poller) wake() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, err := unix.Write(p.wakefd, b[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("error waking poller: %w", err)
	}
	return nil
}

func (p *poller) drainWake() {
	var b [8]byte
	for {
		if _, err := unix.Read(p.wakefd, b[:]); err != nil {
			return
		}
	}
}

func (p *poller) close() error {
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

// listenSocket creates a non-blocking listening TCP socket bound to addr.
func listenSocket(addr string, backlog int) (int, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, fmt.Errorf("error resolving %q: %w", addr, err)
	}

	var (
		domain = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := tcpAddr.IP.To4(); tcpAddr.IP == nil || ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("error creating socket: %w", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("error setting SO_REUSEADDR: %w", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("error binding %s: %w", addr, err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("error listening on %s: %w", addr, err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("error reading bound address: %w", err)
	}
	return fd, sockaddrTCP(bound), nil
}

// acceptSocket accepts one pending connection as a non-blocking socket.
// It returns errWouldBlock once the backlog is drained.
func acceptSocket(lfd int) (int, string, error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return -1, "", errWouldBlock
		case err != nil:
			return -1, "", fmt.Errorf("accept: %w", err)
		}
		peer := ""
		if addr := sockaddrTCP(sa); addr != nil {
			peer = addr.IP.String()
		}
		return fd, peer, nil
	}
}

func readSocket(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Read(fd, b)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, errWouldBlock
		case err != nil:
			return 0, fmt.Errorf("read: %w", err)
		}
		return n, nil
	}
}

// writeSocket writes without raising SIGPIPE on a connection the peer already closed.
func writeSocket(fd int, b []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, b, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, errWouldBlock
		case err != nil:
			return 0, fmt.Errorf("write: %w", err)
		}
		return n, nil
	}
}

func closeSocket(fd int) error {
	return unix.Close(fd)
}

func sockaddrTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	}
	return nil
}
