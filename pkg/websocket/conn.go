package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tzrikka/wsrelay/internal/logger"
)

// Role identifies which side of a connection this endpoint plays, which in
// turn determines the masking direction (spec.md section 3): a client
// masks every frame it sends and expects every frame it receives to be
// unmasked; a server does the opposite.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// phase is the connection's lifecycle state, as defined in spec.md section 3.
type phase int

const (
	phaseHandshaking phase = iota
	phaseOpen
	phaseClosing
	phaseClosed
)

// Message is a single application-visible unit delivered by
// [Conn.IncomingMessages]: either a completed text message (guaranteed
// valid UTF-8) or a completed binary message, possibly reassembled from
// several fragments. Control frames and fragmentation are never visible to
// callers.
type Message struct {
	Opcode Opcode
	Data   []byte
}

// internalMessage carries an outbound frame (data or control) through the
// writer goroutine, along with a channel the caller can use to observe the
// write's outcome.
type internalMessage struct {
	fin     bool
	opcode  Opcode
	payload []byte
	done    chan<- error
}

// Conn is an open WebSocket connection, bound to a transport, after a
// successful opening handshake. The zero value is not usable; construct
// one with [Dial], [Accept], or [NewServerConn].
type Conn struct {
	role   Role
	logger zerolog.Logger

	maxPayload       uint64
	maxHeader        int
	handshakeTimeout time.Duration

	transport net.Conn
	bufio     *bufio.ReadWriter
	tlsConfig *tls.Config

	reader chan Message
	writer chan internalMessage

	phaseMu sync.Mutex
	phase   phase

	closeReceived bool // Set by the reader goroutine; guarded by phaseMu, since Close reads it.
	closeSent     bool // Guarded by phaseMu, since Close can race the reader.

	finalMu     sync.RWMutex
	finalStatus StatusCode
	finalReason string

	// Scratch buffers, to minimize allocations; not for synchronization.
	readBuf  [8]byte
	writeBuf [8]byte
	closeBuf [maxControlPayload]byte

	// headers holds the validated request (server role) or response
	// (client role) of the opening handshake, for callers that need to
	// inspect it.
	headers handshakeHeaders

	// For unit-testing only.
	nonceGen io.Reader
}

// IncomingMessages returns the channel that publishes completed
// application [Message]s as they are received. The channel is closed when
// the connection terminates, after which [Conn.FinalStatus] and
// [Conn.FinalReason] report why.
func (c *Conn) IncomingMessages() <-chan Message {
	return c.reader
}

// FinalStatus returns the close status recorded when the connection
// terminated. It is only meaningful after [Conn.IncomingMessages] has
// been closed.
func (c *Conn) FinalStatus() StatusCode {
	c.finalMu.RLock()
	defer c.finalMu.RUnlock()
	return c.finalStatus
}

// FinalReason returns the close reason recorded when the connection
// terminated. It is only meaningful after [Conn.IncomingMessages] has
// been closed.
func (c *Conn) FinalReason() string {
	c.finalMu.RLock()
	defer c.finalMu.RUnlock()
	return c.finalReason
}

func (c *Conn) setFinal(status StatusCode, reason string) {
	c.finalMu.Lock()
	defer c.finalMu.Unlock()
	c.finalStatus = status
	c.finalReason = reason
}

func (c *Conn) setPhase(p phase) {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	c.phase = p
}

func (c *Conn) getPhase() phase {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	return c.phase
}

// startPumps spins up the connection's reader and writer goroutines, and
// moves the connection into the Open phase. It must be called exactly
// once, immediately after a successful handshake.
func (c *Conn) startPumps() {
	c.setPhase(phaseOpen)
	c.reader = make(chan Message)
	c.writer = make(chan internalMessage)

	go c.readMessages()
	go c.writeMessages()
}

// readMessages runs as a goroutine for the lifetime of the connection,
// calling readMessage continuously and publishing completed [Message]s.
func (c *Conn) readMessages() {
	for {
		msg, closeErr := c.readMessage()
		if closeErr != nil {
			c.terminate(closeErr)
			close(c.reader)
			return
		}
		if msg == nil {
			continue // Control frame handled in-loop; no message to deliver.
		}
		c.reader <- *msg
	}
}

// writeMessages runs as a goroutine for the lifetime of the connection, to
// serialize writes onto a single goroutine so two frames are never
// interleaved on the wire. Per spec.md section 5, the facade does not lock
// the write path against concurrent application-level callers beyond this:
// it is this channel that gives each enqueued frame exclusive access to
// writeFrame, not any guarantee about send ordering across goroutines.
func (c *Conn) writeMessages() {
	for msg := range c.writer {
		err := c.writeFrame(msg.fin, msg.opcode, msg.payload)
		if msg.done != nil {
			msg.done <- err
		}
	}
}

func (c *Conn) enqueueWrite(fin bool, op Opcode, payload []byte) <-chan error {
	done := make(chan error, 1)
	if c.getPhase() == phaseClosed {
		done <- &CloseError{Status: c.FinalStatus(), Reason: c.FinalReason()}
		return done
	}
	c.writer <- internalMessage{fin: fin, opcode: op, payload: payload, done: done}
	return done
}

// SendText sends a single, unfragmented text message.
func (c *Conn) SendText(s string) <-chan error {
	return c.enqueueWrite(true, OpcodeText, []byte(s))
}

// SendBinary sends a single, unfragmented binary message.
func (c *Conn) SendBinary(b []byte) <-chan error {
	return c.enqueueWrite(true, OpcodeBinary, b)
}

// SendFragmentStart begins a fragmented message (fin=0) with the given
// data opcode, which must be OpcodeText or OpcodeBinary.
func (c *Conn) SendFragmentStart(op Opcode, payload []byte) <-chan error {
	return c.enqueueWrite(false, op, payload)
}

// SendFragment continues a fragmented message with a non-final
// continuation frame.
func (c *Conn) SendFragment(payload []byte) <-chan error {
	return c.enqueueWrite(false, opcodeContinuation, payload)
}

// SendFragmentEnd concludes a fragmented message with a final continuation
// frame.
func (c *Conn) SendFragmentEnd(payload []byte) <-chan error {
	return c.enqueueWrite(true, opcodeContinuation, payload)
}

// Ping sends a PING control frame carrying payload, which must be at most
// 125 bytes.
func (c *Conn) Ping(payload []byte) <-chan error {
	return c.enqueueWrite(true, opcodePing, payload)
}

// terminate records the final status/reason and closes the transport. It
// is idempotent: only the first call has any effect (spec.md section 3,
// invariant 7: "the transport is closed exactly once").
func (c *Conn) terminate(ce *CloseError) {
	c.phaseMu.Lock()
	if c.phase == phaseClosed {
		c.phaseMu.Unlock()
		return
	}
	c.phase = phaseClosed
	c.phaseMu.Unlock()

	c.setFinal(ce.Status, ce.Reason)
	_ = c.transport.Close()
}

// Close initiates (or completes) the WebSocket closing handshake: it sends
// a CLOSE frame with the given status and reason, unless one was already
// sent. A second call is a no-op, per spec.md section 4.4.
//
// Close does not block for the peer's CLOSE frame; the connection
// transitions to Closed once the reader goroutine observes it (or the
// transport fails).
func (c *Conn) Close(status StatusCode, reason string) {
	c.sendCloseControlFrame(status, reason)
}

// Handshake completes the opening handshake on a connection created with
// [NewServerConn]. It is a no-op returning nil if the handshake already
// completed. Use this in place of [Accept] when the application needs to
// inspect the request before deciding whether to accept the connection —
// spec.md section 4.5's manual "handshake()" operation.
func (c *Conn) Handshake(ctx context.Context) error {
	if c.getPhase() != phaseHandshaking {
		return nil
	}
	if c.role != RoleServer {
		return &HandshakeError{Reason: "Handshake is server-side only"}
	}
	if err := c.serverHandshake(ctx); err != nil {
		return err
	}
	c.startPumps()
	return nil
}

// loggerFromContext returns a logger derived from ctx, tagged with role.
func loggerFromContext(ctx context.Context, role Role) zerolog.Logger {
	return logger.FromContext(ctx).With().Str("ws_role", role.String()).Logger()
}
