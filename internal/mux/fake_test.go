package mux

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"github.com/luciancaetano/relaynet/internal/transport"
)

// fakeConn scripts one accepted socket.
type fakeConn struct {
	chunks   [][]byte
	eof      bool
	readErr  error
	out      bytes.Buffer
	writeCap int // bytes accepted per Write; negative = unlimited
	writeErr error
	closed   bool
}

func (c *fakeConn) readable() bool {
	return len(c.chunks) > 0 || c.eof || c.readErr != nil
}

// fakeTransport is a deterministic in-memory Transport. Wait never sleeps;
// it reports whatever is scripted.
type fakeTransport struct {
	mu      sync.Mutex
	pending []transport.Handle
	conns   map[transport.Handle]*fakeConn
	next    transport.Handle
	woken   bool
	closed  bool
	waits   int
	waitErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		conns: make(map[transport.Handle]*fakeConn),
		next:  100,
	}
}

// connect queues a new client for Accept and returns its handle.
func (f *fakeTransport) connect() transport.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.next
	f.next++
	f.conns[h] = &fakeConn{writeCap: -1}
	f.pending = append(f.pending, h)
	return h
}

func (f *fakeTransport) conn(h transport.Handle) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[h]
}

// send scripts bytes arriving from client h.
func (f *fakeTransport) send(h transport.Handle, p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[h].chunks = append(f.conns[h].chunks, append([]byte(nil), p...))
}

// hangup scripts client h closing its side.
func (f *fakeTransport) hangup(h transport.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[h].eof = true
}

// received returns everything written to client h.
func (f *fakeTransport) received(h transport.Handle) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.conns[h].out.Bytes()...)
}

func (f *fakeTransport) Accept() (transport.Handle, net.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, nil, transport.ErrClosed
	}
	if len(f.pending) == 0 {
		return 0, nil, transport.ErrWouldBlock
	}
	h := f.pending[0]
	f.pending = f.pending[1:]
	return h, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(h)}, nil
}

func (f *fakeTransport) Read(h transport.Handle, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.conns[h]
	if len(c.chunks) > 0 {
		chunk := c.chunks[0]
		n := copy(p, chunk)
		if n < len(chunk) {
			c.chunks[0] = chunk[n:]
		} else {
			c.chunks = c.chunks[1:]
		}
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if c.eof {
		return 0, io.EOF
	}
	return 0, transport.ErrWouldBlock
}

func (f *fakeTransport) Write(h transport.Handle, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.conns[h]
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p)
	if c.writeCap >= 0 && n > c.writeCap {
		n = c.writeCap
	}
	c.out.Write(p[:n])
	if n == 0 && len(p) > 0 {
		return 0, transport.ErrWouldBlock
	}
	return n, nil
}

func (f *fakeTransport) Wait(interests []transport.Interest, _ time.Duration) (transport.Ready, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.Ready{}, transport.ErrClosed
	}
	f.waits++
	if f.waitErr != nil {
		return transport.Ready{}, f.waitErr
	}

	ready := transport.Ready{Accept: len(f.pending) > 0, Woken: f.woken}
	f.woken = false
	for _, in := range interests {
		c := f.conns[in.Handle]
		ev := transport.Event{
			Handle:   in.Handle,
			Readable: c.readable(),
			Writable: in.Write && c.writeCap != 0,
		}
		if ev.Readable || ev.Writable {
			ready.Events = append(ready.Events, ev)
		}
	}
	return ready, nil
}

func (f *fakeTransport) Wake() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.woken = true
	return nil
}

func (f *fakeTransport) CloseHandle(h transport.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[h].closed = true
	return nil
}

func (f *fakeTransport) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeWriter records router writes per handle.
type fakeWriter struct {
	out   map[transport.Handle]*bytes.Buffer
	caps  map[transport.Handle]int
	fails map[transport.Handle]error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		out:   make(map[transport.Handle]*bytes.Buffer),
		caps:  make(map[transport.Handle]int),
		fails: make(map[transport.Handle]error),
	}
}

func (w *fakeWriter) Write(h transport.Handle, p []byte) (int, error) {
	if err := w.fails[h]; err != nil {
		return 0, err
	}
	n := len(p)
	if limit, ok := w.caps[h]; ok && n > limit {
		n = limit
	}
	if w.out[h] == nil {
		w.out[h] = &bytes.Buffer{}
	}
	w.out[h].Write(p[:n])
	if n == 0 && len(p) > 0 {
		return 0, transport.ErrWouldBlock
	}
	return n, nil
}

func (w *fakeWriter) written(h transport.Handle) []byte {
	if w.out[h] == nil {
		return nil
	}
	return w.out[h].Bytes()
}
