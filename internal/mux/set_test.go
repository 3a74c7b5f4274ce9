package mux

import (
	"io"
	"testing"

	"github.com/luciancaetano/relaynet/internal/transport"
)

func transportHandle(n int) transport.Handle {
	return transport.Handle(n)
}

// TestConnectionSetSweep tests mark-then-sweep removal keeps order and indexes
func TestConnectionSetSweep(t *testing.T) {
	t.Parallel()

	s := NewConnectionSet()
	conns := make([]*Connection, 5)
	for i := range conns {
		conns[i] = testConnection(i + 1)
		s.Add(conns[i])
	}

	conns[1].MarkClosing(io.EOF)
	conns[3].MarkClosing(io.EOF)
	conns[4].MarkClosing(io.EOF)

	var released []string
	removed := s.Sweep(func(c *Connection) {
		released = append(released, c.ID())
	})

	if removed != 3 {
		t.Errorf("Sweep() = %d, want 3", removed)
	}
	if len(released) != 3 || released[0] != conns[1].ID() || released[2] != conns[4].ID() {
		t.Errorf("released = %v, want ids of conns 1, 3, 4 in order", released)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	var order []string
	s.Each(func(c *Connection) { order = append(order, c.ID()) })
	if order[0] != conns[0].ID() || order[1] != conns[2].ID() {
		t.Errorf("remaining order = %v, want conns 0 and 2", order)
	}

	if _, ok := s.Get(conns[1].ID()); ok {
		t.Error("Get() found a swept connection")
	}
	if _, ok := s.ByHandle(conns[3].handle); ok {
		t.Error("ByHandle() found a swept connection")
	}
	if c, ok := s.ByHandle(conns[2].handle); !ok || c != conns[2] {
		t.Error("ByHandle() lost a live connection")
	}
}

// TestConnectionSetOpenCount tests counting skips closing connections
func TestConnectionSetOpenCount(t *testing.T) {
	t.Parallel()

	s := NewConnectionSet()
	a, b := testConnection(1), testConnection(2)
	s.Add(a)
	s.Add(b)
	b.MarkClosing(io.EOF)

	if got := s.OpenCount(); got != 1 {
		t.Errorf("OpenCount() = %d, want 1", got)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d before sweep, want 2", got)
	}
}

// TestConnectionSetSweepEmpty tests sweeping with nothing to remove
func TestConnectionSetSweepEmpty(t *testing.T) {
	t.Parallel()

	s := NewConnectionSet()
	s.Add(testConnection(1))

	if removed := s.Sweep(func(*Connection) { t.Error("release called for open connection") }); removed != 0 {
		t.Errorf("Sweep() = %d, want 0", removed)
	}
}
