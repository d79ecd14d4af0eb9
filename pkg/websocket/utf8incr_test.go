package websocket

import "testing"

func TestIncrementalUTF8WholeString(t *testing.T) {
	var d incrementalUTF8
	if err := d.write([]byte("こんにちは世界")); err != nil { //nolint:gosmopolitan // Test string.
		t.Fatalf("write() error = %v", err)
	}
	if err := d.finalize(); err != nil {
		t.Fatalf("finalize() error = %v", err)
	}
}

func TestIncrementalUTF8SplitMidCodepoint(t *testing.T) {
	full := []byte("こんにちは世界") //nolint:gosmopolitan // Test string.

	for split := 1; split < len(full); split++ {
		var d incrementalUTF8
		if err := d.write(full[:split]); err != nil {
			t.Fatalf("split %d: write(first) error = %v", split, err)
		}
		if err := d.write(full[split:]); err != nil {
			t.Fatalf("split %d: write(second) error = %v", split, err)
		}
		if err := d.finalize(); err != nil {
			t.Fatalf("split %d: finalize() error = %v", split, err)
		}
	}
}

func TestIncrementalUTF8Invalid(t *testing.T) {
	var d incrementalUTF8
	err := d.write([]byte{0xff, 0xfe})
	if err == nil {
		t.Fatal("write() with invalid UTF-8 = nil error, want error")
	}
}

func TestIncrementalUTF8TruncatedAtFinalize(t *testing.T) {
	full := []byte("世") //nolint:gosmopolitan // Test string.

	var d incrementalUTF8
	if err := d.write(full[:1]); err != nil {
		t.Fatalf("write() error = %v", err)
	}
	if err := d.finalize(); err == nil {
		t.Fatal("finalize() with a truncated rune = nil error, want error")
	}
}
