package websocket

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// AcceptOpt customizes a [NewServerConn] or [Accept] call with the
// functional-options pattern.
type AcceptOpt func(*Conn)

// WithHandshakeTimeout overrides [DefaultHandshakeTimeout] (in seconds)
// for this connection's opening handshake.
func WithHandshakeTimeout(seconds int) AcceptOpt {
	return func(c *Conn) {
		c.handshakeTimeout = time.Duration(seconds) * time.Second
	}
}

// WithMaxHeader overrides [DefaultMaxHeader] for this connection's opening
// handshake.
func WithMaxHeader(n int) AcceptOpt {
	return func(c *Conn) {
		c.maxHeader = n
	}
}

// WithServerMaxPayload overrides [DefaultMaxPayload] for this connection.
func WithServerMaxPayload(n uint64) AcceptOpt {
	return func(c *Conn) {
		c.maxPayload = n
	}
}

// NewServerConn wraps an already-accepted transport (e.g. from
// [net.Listener.Accept]) as a server-role [Conn] in the Handshaking phase,
// without performing the opening handshake. Use this instead of [Accept]
// when the application needs to inspect the incoming request — cookies,
// path, subprotocol request — before deciding whether to proceed; call
// [Conn.Handshake] once ready.
//
// The connection's bufio.ReadWriter is not built until the handshake
// actually runs: see serverHandshake for why.
func NewServerConn(ctx context.Context, transport net.Conn, opts ...AcceptOpt) *Conn {
	c := &Conn{
		role:             RoleServer,
		logger:           loggerFromContext(ctx, RoleServer),
		maxPayload:       DefaultMaxPayload,
		maxHeader:        DefaultMaxHeader,
		handshakeTimeout: DefaultHandshakeTimeout * time.Second,
		transport:        transport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Accept performs a WebSocket opening handshake
// (https://datatracker.ietf.org/doc/html/rfc6455#section-4.2) over an
// already-accepted transport, and returns an open [Conn] in the server
// role. This is the one-step counterpart to [NewServerConn] followed by
// [Conn.Handshake].
func Accept(ctx context.Context, transport net.Conn, opts ...AcceptOpt) (*Conn, error) {
	c := NewServerConn(ctx, transport, opts...)
	if err := c.serverHandshake(ctx); err != nil {
		return nil, err
	}
	c.startPumps()
	return c, nil
}

// Serve accepts connections from ln until ctx is canceled or Accept
// returns an error (any error, temporary or not), performing the opening handshake on each
// and dispatching the resulting [Conn] to handler in its own goroutine.
// Handshake failures are logged and the faulty connection is dropped;
// Serve itself keeps listening.
func Serve(ctx context.Context, ln net.Listener, handler func(*Conn), opts ...AcceptOpt) error {
	l := loggerFromContext(ctx, RoleServer)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("failed to accept connection: %w", err)
			}
		}

		go func(conn net.Conn) {
			wsConn, err := Accept(ctx, conn, opts...)
			if err != nil {
				l.Error().Err(err).Str("remote_addr", conn.RemoteAddr().String()).
					Msg("WebSocket handshake failed")
				return
			}
			handler(wsConn)
		}(conn)
	}
}

// serverHandshake reads the client's request, validates it, and writes the
// switching-protocols response, per spec.md section 4.2. On any failure it
// writes "HTTP/1.1 400 Bad Request" with the reason and closes the
// transport; the handshake phase is terminal-or-success, no retries.
//
// The request is parsed through a [bufio.Reader] wrapping an
// [io.LimitReader] bounded by MAX_HEADER, so an endpoint can't stall or
// exhaust memory with an oversized or endless header block. Because
// [http.ReadRequest] may have buffered bytes past the blank line that
// terminates the header block (pipelined frame data), whatever it left
// unconsumed is spliced back in front of the transport before the
// connection's real, unbounded read side is built — otherwise the first
// bytes of the client's first frame would be silently dropped.
func (c *Conn) serverHandshake(ctx context.Context) error {
	if c.handshakeTimeout > 0 {
		_ = c.transport.SetReadDeadline(time.Now().Add(c.handshakeTimeout))
		defer func() { _ = c.transport.SetReadDeadline(time.Time{}) }()
	}

	limited := io.LimitReader(c.transport, int64(c.headerLimit()))
	hsReader := bufio.NewReader(limited)

	req, err := http.ReadRequest(hsReader)
	if err != nil {
		return c.failHandshake("failed to read handshake request", err)
	}

	if req.Method != http.MethodGet {
		return c.failHandshake("handshake request method must be GET", nil)
	}
	if err := checkHTTPHeader(req.Header, "Upgrade", "websocket"); err != nil {
		return c.failHandshake("invalid handshake request", err)
	}
	if err := checkHTTPHeader(req.Header, "Connection", "Upgrade"); err != nil {
		return c.failHandshake("invalid handshake request", err)
	}
	if v := req.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return c.failHandshake(fmt.Sprintf("unsupported Sec-WebSocket-Version %q", v), nil)
	}

	// Case-insensitive header lookup, per spec.md section 4.2.
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return c.failHandshake("handshake request missing Sec-WebSocket-Key", nil)
	}

	c.headers = handshakeHeaders{
		Method: req.Method,
		URL:    req.URL.String(),
		Host:   req.Host,
		Header: req.Header,
	}

	leftover := make([]byte, hsReader.Buffered())
	_, _ = io.ReadFull(hsReader, leftover)
	c.bufio = bufio.NewReadWriter(
		bufio.NewReader(io.MultiReader(bytes.NewReader(leftover), c.transport)),
		bufio.NewWriter(c.transport),
	)

	resp := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: %s\r\n"+
		"\r\n", expectedAcceptValue(key))

	if _, err := c.bufio.WriteString(resp); err != nil {
		return c.failHandshake("failed to write handshake response", err)
	}
	if err := c.bufio.Flush(); err != nil {
		return c.failHandshake("failed to flush handshake response", err)
	}

	c.logger = c.logger.With().Str("remote_addr", c.transport.RemoteAddr().String()).Logger()
	c.logger.Debug().Str("url", c.headers.URL).Msg("WebSocket connection accepted")
	return nil
}

func (c *Conn) headerLimit() int {
	if c.maxHeader > 0 {
		return c.maxHeader
	}
	return DefaultMaxHeader
}

// failHandshake writes a 400 Bad Request with reason, closes the
// transport, and returns the error to the handshake's caller. It writes
// directly to the transport rather than through c.bufio, since a failure
// can happen before c.bufio is built.
func (c *Conn) failHandshake(reason string, err error) error {
	msg := fmt.Sprintf("HTTP/1.1 400 Bad Request\r\n\r\n%s", reason)
	_, _ = io.WriteString(c.transport, msg)
	_ = c.transport.Close()

	c.logger.Error().Err(err).Msg(reason)
	return &HandshakeError{Reason: reason, Err: err}
}
