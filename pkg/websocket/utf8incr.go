package websocket

import "unicode/utf8"

// incrementalUTF8 validates a UTF-8 byte stream across an arbitrary split
// into chunks, mirroring the contract of Python's
// codecs.getincrementaldecoder("utf-8"): decode(chunk, final=False) may
// leave a partial, not-yet-complete rune at the end of the buffer pending
// the next chunk; decode(chunk, final=True) requires the buffer to end
// exactly on a rune boundary.
//
// This is needed to validate fragmented WebSocket text messages (spec.md
// section 4.4) without buffering and re-validating the whole message from
// scratch on every fragment. No example repo in the corpus ships an
// incremental UTF-8 decoder as a library — see DESIGN.md for why this is
// built directly on unicode/utf8 instead.
type incrementalUTF8 struct {
	// pending holds the tail bytes of the last chunk that could not yet be
	// classified as a complete, valid, or definitely-invalid rune.
	pending []byte
}

// write validates the next chunk of a text message. It returns an error
// if the bytes seen so far (across all calls) are not a valid prefix of a
// UTF-8 string.
func (d *incrementalUTF8) write(chunk []byte) error {
	buf := append(d.pending, chunk...) //nolint:gocritic // d.pending is always reset below.
	d.pending = nil

	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r != utf8.RuneError || size > 1 { // size > 1: a literal, valid U+FFFD.
			buf = buf[size:]
			continue
		}

		switch size {
		case 0:
			// Empty buf; unreachable given the loop condition.
		case 1:
			if utf8.RuneStart(buf[0]) && !utf8.FullRune(buf) {
				// Could be a valid rune whose remaining bytes are in the
				// next chunk: carry it over instead of failing now.
				d.pending = append(d.pending, buf...)
				return nil
			}
			return errInvalidUTF8
		}
	}

	return nil
}

// finalize must be called after the last chunk of a text message. It
// fails if any bytes are still pending, since a complete message cannot
// end mid-rune.
func (d *incrementalUTF8) finalize() error {
	if len(d.pending) > 0 {
		d.pending = nil
		return errInvalidUTF8
	}
	return nil
}

var errInvalidUTF8 = &CloseError{Status: StatusInvalidData, Reason: "invalid UTF-8 text"}
