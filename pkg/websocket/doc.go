// Package websocket implements the WebSocket protocol (RFC 6455) for both
// client and server roles.
//
// It focuses on message-oriented send/receive semantics on top of a
// caller-supplied byte-oriented duplex transport (a [net.Conn], optionally
// wrapped in TLS): the opening HTTP handshake, binary framing, fragment
// reassembly, control-frame processing (ping/pong/close), masking, and the
// closing handshake.
//
// A client connection is created with [Dial]. A server connection is
// created with [Accept] (handshake performed immediately), or with
// [NewServerConn] followed by [Conn.Handshake] for callers that need to
// inspect the request before deciding to accept it. [Serve] ties a
// [net.Listener] to a per-connection handler function.
//
// Not supported: per-message compression, protocol extension negotiation,
// subprotocol negotiation, HTTP origin/authentication policy, automatic
// reconnection, and application-layer routing. Callers that need automatic
// reconnection should build it on top of repeated calls to [Dial].
package websocket
