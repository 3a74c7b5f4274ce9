package mux

import (
	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/transport"
)

// ConnectionSet holds the live connections in accept order, indexed by
// identifier and by transport handle. It is not safe for concurrent use.
type ConnectionSet struct {
	byID     map[string]*Connection
	byHandle map[transport.Handle]*Connection
	order    []*Connection
}

// NewConnectionSet creates an empty set.
func NewConnectionSet() *ConnectionSet {
	return &ConnectionSet{
		byID:     make(map[string]*Connection),
		byHandle: make(map[transport.Handle]*Connection),
	}
}

// Add inserts c.
func (s *ConnectionSet) Add(c *Connection) {
	s.byID[c.id] = c
	s.byHandle[c.handle] = c
	s.order = append(s.order, c)
}

// Get returns the connection with the given identifier.
func (s *ConnectionSet) Get(id string) (*Connection, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// ByHandle returns the connection owning h.
func (s *ConnectionSet) ByHandle(h transport.Handle) (*Connection, bool) {
	c, ok := s.byHandle[h]
	return c, ok
}

// Len returns the number of connections, including ones not yet swept.
func (s *ConnectionSet) Len() int {
	return len(s.order)
}

// OpenCount returns the number of connections in StateOpen.
func (s *ConnectionSet) OpenCount() int {
	n := 0
	for _, c := range s.order {
		if c.state == relaynet.StateOpen {
			n++
		}
	}
	return n
}

// Each calls fn for every connection in accept order. fn may change a
// connection's state but must not add or remove connections.
func (s *ConnectionSet) Each(fn func(c *Connection)) {
	for _, c := range s.order {
		fn(c)
	}
}

// Sweep removes every connection that is no longer open, calling release
// for each before it leaves the set. It returns the number removed.
func (s *ConnectionSet) Sweep(release func(c *Connection)) int {
	kept := s.order[:0]
	removed := 0
	for _, c := range s.order {
		if c.state == relaynet.StateOpen {
			kept = append(kept, c)
			continue
		}
		release(c)
		delete(s.byID, c.id)
		delete(s.byHandle, c.handle)
		removed++
	}
	for i := len(kept); i < len(s.order); i++ {
		s.order[i] = nil
	}
	s.order = kept
	return removed
}
