package relaynet

import (
	"context"
	"net"
)

// Server defines a relay that accepts framed text messages and fans each one
// out to every other connected client.
//
// Example usage:
//
//	import "github.com/luciancaetano/relaynet/tcp"
//
//	server, err := tcp.New(tcp.DefaultConfig(":8412"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go server.Run(ctx)
//	defer server.Shutdown()
type Server interface {
	// Run drives the event loop until ctx is cancelled or Shutdown is called.
	// It returns nil after a clean stop.
	Run(ctx context.Context) error

	// Shutdown asks a running loop to stop. It is safe to call from any
	// goroutine and more than once.
	Shutdown()

	// Addr returns the listening address.
	Addr() net.Addr

	// Stats returns a snapshot of relay counters. Safe from any goroutine.
	Stats() Stats
}

// Gateway bridges WebSocket clients onto a relay.
//
// Example usage:
//
//	import "github.com/luciancaetano/relaynet/ws"
//
//	gw := ws.New(ws.NewConfig(":8081", "127.0.0.1:8412", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//	if err := gw.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Stop(context.Background())
type Gateway interface {
	// Start binds the HTTP listener and serves in the background.
	Start(ctx context.Context) error

	// Stop closes every session and shuts the HTTP server down.
	Stop(ctx context.Context) error

	// Addr returns the bound address.
	Addr() string

	// SessionCount returns the number of live WebSocket sessions.
	SessionCount() int
}

// Conn represents one accepted client connection as seen by lifecycle hooks.
//
// Hooks run on the relay loop; a Conn must not be retained after the
// OnClose hook for it has returned.
type Conn interface {
	// ID returns a unique identifier generated when the connection was accepted.
	ID() string

	// RemoteAddr returns the client's remote network address, "IP:port".
	RemoteAddr() string

	// State returns the lifecycle state.
	State() State
}

// State is the lifecycle of a connection: Open -> Closing -> Closed.
type State int

const (
	// StateOpen connections are read from and written to normally.
	StateOpen State = iota
	// StateClosing connections are no longer read; queued output may still be flushed.
	StateClosing
	// StateClosed connections have released their socket.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of relay activity.
type Stats struct {
	Running       bool   `json:"running"`
	Connections   int    `json:"connections"`
	FramesRelayed uint64 `json:"frames_relayed"`
	BytesIn       uint64 `json:"bytes_in"`
	BytesOut      uint64 `json:"bytes_out"`
}
