//go:build !linux

package relay

import (
	"fmt"
	"net"
	"runtime"
	"syscall"
	"time"
)

var errUnsupported = fmt.Errorf("%w unsupported OS: %s", syscall.ENOTSUP, runtime.GOOS)

type poller struct{}

func newPoller() (*poller, error) {
	return nil, errUnsupported
}

func (p *poller) add(fd int, writable bool) error { return errUnsupported }

func (p *poller) modify(fd int, writable bool) error { return errUnsupported }

func (p *poller) remove(fd int) error { return errUnsupported }

func (p *poller) wait(events []event, timeout time.Duration) (int, error) {
	return 0, errUnsupported
}

func (p *poller) wake() error { return errUnsupported }

func (p *poller) close() error { return nil }

func listenSocket(addr string, backlog int) (int, *net.TCPAddr, error) {
	return -1, nil, errUnsupported
}

func acceptSocket(lfd int) (int, string, error) {
	return -1, "", errUnsupported
}

func readSocket(fd int, b []byte) (int, error) {
	return 0, errUnsupported
}

func writeSocket(fd int, b []byte) (int, error) {
	return 0, errUnsupported
}

func closeSocket(fd int) error {
	return errUnsupported
}
