//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// pollTransport drives non-blocking sockets with poll(2). A self-pipe lets
// Wake interrupt a wait from another goroutine.
type pollTransport struct {
	listenFD int
	wakeR    int
	wakeW    int
	addr     net.Addr
	fds      []unix.PollFd

	wakeMu sync.Mutex
	closed atomic.Bool
}

// Listen binds a non-blocking TCP listener on address (host:port).
func Listen(address string) (Transport, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}

	family, sa := sockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	fail := func(op string, err error) (Transport, error) {
		unix.Close(fd)
		return nil, os.NewSyscallError(op, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail("listen", err)
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fail("pipe2", err)
	}

	return &pollTransport{
		listenFD: fd,
		wakeR:    pipe[0],
		wakeW:    pipe[1],
		addr:     netAddr(local),
	}, nil
}

func sockaddr(a *net.TCPAddr) (int, unix.Sockaddr) {
	if a.IP == nil || a.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip4 := a.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return unix.AF_INET6, sa
}

func netAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	}
	return nil
}

func (t *pollTransport) Accept() (Handle, net.Addr, error) {
	if t.closed.Load() {
		return -1, nil, ErrClosed
	}
	for {
		fd, sa, err := unix.Accept4(t.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return Handle(fd), netAddr(sa), nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return -1, nil, ErrWouldBlock
		default:
			return -1, nil, os.NewSyscallError("accept4", err)
		}
	}
}

func (t *pollTransport) Read(h Handle, p []byte) (int, error) {
	for {
		n, err := unix.Read(int(h), p)
		switch {
		case err == nil:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

func (t *pollTransport) Write(h Handle, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.SendmsgN(int(h), p[written:], nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			written += n
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if written == 0 {
				return 0, ErrWouldBlock
			}
			return written, nil
		default:
			return written, os.NewSyscallError("sendmsg", err)
		}
	}
	return written, nil
}

func (t *pollTransport) Wait(interests []Interest, timeout time.Duration) (Ready, error) {
	if t.closed.Load() {
		return Ready{}, ErrClosed
	}

	fds := append(t.fds[:0],
		unix.PollFd{Fd: int32(t.listenFD), Events: unix.POLLIN},
		unix.PollFd{Fd: int32(t.wakeR), Events: unix.POLLIN},
	)
	for _, in := range interests {
		events := int16(unix.POLLIN)
		if in.Write {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(in.Handle), Events: events})
	}
	t.fds = fds

	n, err := unix.Poll(fds, pollTimeout(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return Ready{}, nil
		}
		return Ready{}, os.NewSyscallError("poll", err)
	}

	var ready Ready
	if n == 0 {
		return ready, nil
	}
	if fds[0].Revents&unix.POLLIN != 0 {
		ready.Accept = true
	}
	if fds[1].Revents != 0 {
		ready.Woken = true
		t.drainWake()
	}
	for _, fd := range fds[2:] {
		if fd.Revents == 0 {
			continue
		}
		ready.Events = append(ready.Events, Event{
			Handle:   Handle(fd.Fd),
			Readable: fd.Revents&unix.POLLIN != 0,
			Writable: fd.Revents&unix.POLLOUT != 0,
			Hangup:   fd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0,
		})
	}
	return ready, nil
}

func pollTimeout(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d > 0 && d < time.Millisecond:
		return 1
	default:
		return int(d / time.Millisecond)
	}
}

func (t *pollTransport) drainWake() {
	var scratch [64]byte
	for {
		n, err := unix.Read(t.wakeR, scratch[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (t *pollTransport) Wake() error {
	t.wakeMu.Lock()
	defer t.wakeMu.Unlock()

	if t.closed.Load() {
		return ErrClosed
	}
	if _, err := unix.Write(t.wakeW, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (t *pollTransport) CloseHandle(h Handle) error {
	if err := unix.Close(int(h)); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (t *pollTransport) Addr() net.Addr {
	return t.addr
}

func (t *pollTransport) Close() error {
	t.wakeMu.Lock()
	defer t.wakeMu.Unlock()

	if t.closed.Swap(true) {
		return nil
	}
	err := unix.Close(t.listenFD)
	unix.Close(t.wakeR)
	unix.Close(t.wakeW)
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}
