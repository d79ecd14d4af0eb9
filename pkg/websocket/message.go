package websocket

import (
	"bytes"
	"errors"
	"io"
)

// readMessage reads incoming frames, responds to control frames (whether
// or not they're interleaved with data frames), unmasks frames received
// from the opposite-masking role, and defragments data frames as needed.
//
// It returns exactly one of: a completed [Message], a [*CloseError]
// describing why the connection is ending, or (nil, nil) when a control
// frame was fully handled and no application message resulted.
//
// Do not call this function directly; it is meant to be used exclusively
// (and continuously) by [Conn.readMessages].
//
// It is based on:
//   - Base framing protocol: https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
//   - Fragmentation: https://datatracker.ietf.org/doc/html/rfc6455#section-5.4
//   - Control frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
//   - Data frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
//   - Receiving data: https://datatracker.ietf.org/doc/html/rfc6455#section-6.2
//   - Closing the connection: https://datatracker.ietf.org/doc/html/rfc6455#section-7
//   - Handling errors in UTF-8-encoded data: https://datatracker.ietf.org/doc/html/rfc6455#section-8.1
func (c *Conn) readMessage() (*Message, *CloseError) {
	var body bytes.Buffer
	var text incrementalUTF8
	var op Opcode
	var total uint64

	for {
		h, err := c.readFrameHeader()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.phaseMu.Lock()
				c.closeReceived = true
				c.phaseMu.Unlock()
				return nil, &CloseError{Status: StatusClosedAbnormally, Reason: "connection closed without a close frame"}
			}
			return nil, &CloseError{Status: StatusProtocolError, Reason: "frame header reading error"}
		}

		// Validate the header - including the payload-length bound - before
		// allocating or reading a single payload byte, so an attacker-
		// controlled extended length can't be used to exhaust memory.
		if status, reason := c.checkFrameHeader(h, op); status != 0 {
			return nil, &CloseError{Status: status, Reason: reason}
		}

		var payload []byte
		if h.payloadLength > 0 {
			payload = make([]byte, h.payloadLength)
			if _, err := io.ReadFull(c.bufio, payload); err != nil {
				return nil, &CloseError{Status: StatusProtocolError, Reason: "frame payload reading error"}
			}
		}

		// checkFrameHeader already enforces that only a server sees
		// masked frames (from clients) and only a client sees unmasked
		// frames (from servers), per RFC 6455 section 5.1.
		if h.masked && len(payload) > 0 {
			unmask(payload, h.maskKey[:])
		}

		switch h.opcode {
		// "A fragmented message consists of a single frame with the FIN bit
		// clear and an opcode other than 0, followed by zero or more frames
		// with the FIN bit clear and the opcode set to 0, and terminated by
		// a single frame with the FIN bit set and an opcode of 0."
		case opcodeContinuation, OpcodeText, OpcodeBinary:
			if h.opcode != opcodeContinuation {
				op = h.opcode
			}

			total += uint64(len(payload))
			if total > c.effectiveMaxPayload() {
				return nil, &CloseError{Status: StatusMessageTooBig, Reason: "message exceeds maximum payload size"}
			}

			if op == OpcodeText {
				if err := text.write(payload); err != nil {
					return nil, err.(*CloseError)
				}
			}
			if len(payload) > 0 {
				body.Write(payload) //nolint:errcheck // bytes.Buffer.Write never fails.
			}

		// "If an endpoint receives a Close frame and did not previously
		// send a Close frame, the endpoint MUST send a Close frame in
		// response."
		case opcodeClose:
			c.phaseMu.Lock()
			c.closeReceived = true
			c.phaseMu.Unlock()
			status, reason := c.parseClosePayload(payload)
			c.sendCloseControlFrame(status, reason)
			return nil, &CloseError{Status: status, Reason: reason}

		// "An endpoint MUST be capable of handling control frames in the
		// middle of a fragmented message."
		case opcodePing:
			if err := <-c.enqueueWrite(true, opcodePong, payload); err != nil {
				c.logger.Error().Err(err).Msg("failed to send WebSocket pong control frame")
			}

		case opcodePong:
			// Unsolicited pongs are not surfaced to the application;
			// this implementation does not send unsolicited pings of its
			// own that would need a matching pong to be tracked.
		}

		if h.fin && h.opcode <= OpcodeBinary {
			return c.finalizeMessage(op, &body, &text)
		}
	}
}

func (c *Conn) effectiveMaxPayload() uint64 {
	if c.maxPayload > 0 {
		return c.maxPayload
	}
	return DefaultMaxPayload
}

// finalizeMessage completes a (possibly reassembled) data message. For
// text, this is where the final chunk of incremental UTF-8 validation
// happens, per spec.md section 4.4's "CONTINUATION with fin=1" step,
// which also validates trailing UTF-8 completeness.
func (c *Conn) finalizeMessage(op Opcode, body *bytes.Buffer, text *incrementalUTF8) (*Message, *CloseError) {
	data := body.Bytes()
	if data == nil {
		data = []byte{}
	}

	if op == OpcodeText {
		if err := text.finalize(); err != nil {
			return nil, err.(*CloseError)
		}
	}

	return &Message{Opcode: op, Data: data}, nil
}
