// Package relaynet provides a framed TCP chat relay: every text message a
// client sends is delivered to all other connected clients.
//
// # Architecture
//
// One goroutine owns the listening socket and every client connection. It
// waits for readiness with a bounded timeout, accepts pending connections,
// reads whatever bytes are available, reassembles them into frames and fans
// each text frame out to the other clients. Writes never block the loop:
// bytes a slow client cannot take yet are queued and flushed when its socket
// becomes writable, and a client whose queue grows past its limit is closed.
//
// Connections move through three states. Open connections are read and
// written normally. A peer close, I/O error, oversize or malformed frame,
// rate limit violation, outbound overflow or idle timeout marks a connection
// Closing. Closing connections are swept once per loop iteration: queued
// output is flushed best effort, the socket is released and the connection
// becomes Closed.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/relaynet/tcp"
//	)
//
//	cfg := tcp.DefaultConfig(":8412")
//	cfg.Hooks.OnFrame = func(conn relaynet.Conn, f relaynet.Frame) {
//	    log.Printf("%s: %s", conn.ID(), f.Payload)
//	}
//
//	server, err := tcp.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go server.Run(ctx)
//	defer server.Shutdown()
//
// Browsers can join through the WebSocket gateway in package ws, which opens
// one relay connection per WebSocket session.
//
// # Protocol Format
//
// All integers are little-endian:
//
//	[totalSize: 4 bytes][kind: 4 bytes][payloadLength: 4 bytes][payload: payloadLength bytes]
//
// totalSize is always 12 + payloadLength. Kind 1 (KindText) carries raw text
// and is the only kind the relay forwards; other kinds are decoded and passed
// to hooks but not relayed. A frame may arrive split over any number of reads
// and several frames may arrive in one read.
//
// # Limits
//
//   - Payloads above the configured maximum (default 1 MiB, never above
//     64 MiB) close the sender before any of the payload is buffered.
//   - Each connection may queue at most MaxOutbound bytes (default 1 MiB).
//   - Optional per-connection rate limiting uses a token bucket (default
//     100 frames/s, burst 200).
//   - MaxConnections caps concurrent clients; extra accepts are closed.
//
// # Important
//
// The relay loop is supported on Linux. On other platforms tcp.New returns
// an error.
package relaynet
