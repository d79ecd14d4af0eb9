package websocket

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"
)

// https://datatracker.ietf.org/doc/html/rfc6455#section-5.7
func TestConnReadFrameHeader(t *testing.T) {
	tests := []struct {
		name    string
		reader  []byte
		want    frameHeader
		wantErr bool
	}{
		{
			name:   "unmasked_text_hello",
			reader: []byte{0x81, 0x05, 0x48, 0x65, 0x6c, 0x6f},
			want:   frameHeader{fin: true, opcode: OpcodeText, payloadLength: 5},
		},
		{
			name:   "masked_text_hello",
			reader: []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58},
			want: frameHeader{
				fin: true, opcode: OpcodeText, masked: true, payloadLength: 5,
				maskKey: [4]byte{0x37, 0xfa, 0x21, 0x3d},
			},
		},
		{
			name:   "first_fragment_unmasked_text_hel",
			reader: []byte{0x01, 0x03, 0x48, 0x65, 0x6c},
			want:   frameHeader{opcode: OpcodeText, payloadLength: 3},
		},
		{
			name:   "unmasked_ping",
			reader: []byte{0x89, 0x05, 0x48, 0x65, 0x6c, 0x6c, 0x6f},
			want:   frameHeader{fin: true, opcode: opcodePing, payloadLength: 5},
		},
		{
			name:   "masked_pong",
			reader: []byte{0x8a, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58},
			want: frameHeader{
				fin: true, opcode: opcodePong, masked: true, payloadLength: 5,
				maskKey: [4]byte{0x37, 0xfa, 0x21, 0x3d},
			},
		},
		{
			name:   "256b_unmasked_binary",
			reader: []byte{0x82, 0x7e, 0x01, 0x00},
			want:   frameHeader{fin: true, opcode: OpcodeBinary, payloadLength: 256},
		},
		{
			name:   "64k_unmasked_binary",
			reader: []byte{0x82, 0x7f, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00},
			want:   frameHeader{fin: true, opcode: OpcodeBinary, payloadLength: 65536},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conn{bufio: bufio.NewReadWriter(bufio.NewReader(bytes.NewReader(tt.reader)), nil)}
			got, err := c.readFrameHeader()
			if (err != nil) != tt.wantErr {
				t.Errorf("Conn.readFrameHeader() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Conn.readFrameHeader() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnCheckFrameHeader(t *testing.T) {
	tests := []struct {
		name       string
		role       Role
		h          frameHeader
		msgType    Opcode
		wantStatus StatusCode
	}{
		{
			name: "rsv_set",
			h:    frameHeader{rsv: [3]bool{true, false, false}},
		},
		{
			name:    "unknown_opcode",
			h:       frameHeader{opcode: 3},
			msgType: opcodeContinuation,
		},
		{
			name: "control_too_long",
			h:    frameHeader{fin: true, opcode: opcodePing, payloadLength: 126},
		},
		{
			name: "fragmented_control",
			h:    frameHeader{fin: false, opcode: opcodePing},
		},
		{
			name:    "nested_data_frame",
			h:       frameHeader{fin: true, opcode: OpcodeText},
			msgType: OpcodeText,
		},
		{
			name:    "unmasked_frame_at_server",
			role:    RoleServer,
			h:       frameHeader{fin: true, opcode: OpcodeText},
			msgType: opcodeContinuation,
		},
		{
			name:    "masked_frame_at_client",
			role:    RoleClient,
			h:       frameHeader{fin: true, opcode: OpcodeText, masked: true},
			msgType: opcodeContinuation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conn{role: tt.role}
			status, reason := c.checkFrameHeader(tt.h, tt.msgType)
			if status == 0 {
				t.Errorf("Conn.checkFrameHeader() = (0, %q), want a failing status", reason)
			}
		})
	}

	t.Run("valid_masked_frame_at_server", func(t *testing.T) {
		c := &Conn{role: RoleServer}
		h := frameHeader{fin: true, opcode: OpcodeText, masked: true}
		if status, reason := c.checkFrameHeader(h, opcodeContinuation); status != 0 {
			t.Errorf("Conn.checkFrameHeader() = (%v, %q), want (0, \"\")", status, reason)
		}
	})
}

// TestConnCheckFrameHeaderOversizedPayload asserts that an attacker-
// controlled payload length (up to 2^64-1 via the extended-length field)
// is rejected by checkFrameHeader itself, before any caller allocates a
// buffer for it.
func TestConnCheckFrameHeaderOversizedPayload(t *testing.T) {
	c := &Conn{role: RoleClient, maxPayload: 100}
	h := frameHeader{fin: true, opcode: OpcodeBinary, payloadLength: 1 << 40}

	status, reason := c.checkFrameHeader(h, opcodeContinuation)
	if status != StatusMessageTooBig {
		t.Errorf("Conn.checkFrameHeader() = (%v, %q), want (%v, ...)", status, reason, StatusMessageTooBig)
	}
}

func TestConnWriteFrame(t *testing.T) {
	c := &Conn{role: RoleClient}
	b := new(bytes.Buffer)
	c.bufio = bufio.NewReadWriter(nil, bufio.NewWriter(b))

	payload := []byte("hello")
	origPayload := []byte("hello")
	if err := c.writeFrame(true, OpcodeText, payload); err != nil {
		t.Fatalf("Conn.writeFrame() error = %v", err)
	}

	want := []byte{0x81, 0x85, 0, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}

	got := b.Bytes()
	for i := range 4 {
		want[2+i] = got[2+i]
	}
	for i := range payload {
		want[6+i] ^= got[2+(i%4)]
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Conn.writeFrame() output = %v, want %v", got, want)
	}

	// Input payload must no longer be masked when the function returns.
	if !reflect.DeepEqual(payload, origPayload) {
		t.Errorf("Conn.writeFrame() input = %v, want %v", payload, origPayload)
	}
}

// TestConnWriteFrameFinBit asserts the RFC-correct FIN bit encoding
// (spec.md section 9, bug 1): byte 0 sets 0x80 when fin is true, never
// the inverse.
func TestConnWriteFrameFinBit(t *testing.T) {
	tests := []struct {
		name string
		fin  bool
		want byte
	}{
		{name: "fin_true", fin: true, want: 0x80 | byte(OpcodeBinary)},
		{name: "fin_false", fin: false, want: byte(OpcodeBinary)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conn{role: RoleServer}
			b := new(bytes.Buffer)
			c.bufio = bufio.NewReadWriter(nil, bufio.NewWriter(b))

			if err := c.writeFrame(tt.fin, OpcodeBinary, nil); err != nil {
				t.Fatalf("Conn.writeFrame() error = %v", err)
			}
			if got := b.Bytes()[0]; got != tt.want {
				t.Errorf("Conn.writeFrame() byte 0 = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestConnWritePayloadLength(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []byte
	}{
		{
			name: "0",
			n:    0,
			want: []byte{0x80},
		},
		{
			name: "1",
			n:    1,
			want: []byte{0x80 | 1},
		},
		{
			name: "125",
			n:    125,
			want: []byte{0x80 | 125},
		},
		{
			name: "126",
			n:    126,
			want: []byte{0xfe, 0x00, 126},
		},
		{
			name: "65535",
			n:    65535,
			want: []byte{0xfe, 0xff, 0xff},
		},
		{
			name: "65536",
			n:    65536,
			want: []byte{0xff, 0, 0, 0, 0, 0, 1, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conn{}
			b := new(bytes.Buffer)
			c.bufio = bufio.NewReadWriter(nil, bufio.NewWriter(b))

			if err := c.writePayloadLength(tt.n, true); err != nil {
				t.Fatalf("Conn.writePayloadLength() error = %v", err)
			}

			_ = c.bufio.Flush()

			if !reflect.DeepEqual(b.Bytes(), tt.want) {
				t.Errorf("Conn.writePayloadLength() = %v, want %v", b.Bytes(), tt.want)
			}
		})
	}
}

func TestConnMaskPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{
			name: "nil_payload",
		},
		{
			name:    "empty_payload",
			payload: []byte{},
			want:    []byte{},
		},
		{
			name:    "1_byte",
			payload: []byte("a"),
			want:    []byte{88},
		},
		{
			name:    "4_bytes",
			payload: []byte("abcd"),
			want:    []byte{88, 90, 84, 82},
		},
		{
			name:    "inverse_of_4_bytes",
			payload: []byte{88, 90, 84, 82},
			want:    []byte("abcd"),
		},
		{
			name:    "6_bytes",
			payload: []byte("abcdef"),
			want:    []byte{88, 90, 84, 82, 92, 94},
		},
		{
			name:    "8_bytes",
			payload: []byte("abcdefgh"),
			want:    []byte{88, 90, 84, 82, 92, 94, 80, 94},
		},
		{
			name:    "10_bytes",
			payload: []byte("abcdefghij"),
			want:    []byte{88, 90, 84, 82, 92, 94, 80, 94, 80, 82},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conn{}
			copy(c.writeBuf[:4], []byte("9876"))

			c.maskPayload(tt.payload)
			if !reflect.DeepEqual(tt.payload, tt.want) {
				t.Errorf("Conn.maskPayload() = %v, want %v", tt.payload, tt.want)
			}
		})
	}
}

func TestUnmask(t *testing.T) {
	key := []byte("9876")
	payload := []byte("abcdefghij")
	want := []byte{88, 90, 84, 82, 92, 94, 80, 94, 80, 82}

	unmask(payload, key)
	if !reflect.DeepEqual(payload, want) {
		t.Errorf("unmask() = %v, want %v", payload, want)
	}

	unmask(payload, key)
	if !reflect.DeepEqual(payload, []byte("abcdefghij")) {
		t.Errorf("unmask() is not its own inverse: got %v", payload)
	}
}
