package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMissingID marks an element without an id or conversation_id.
var ErrMissingID = errors.New("record has no id")

// ErrEmptyElement marks a missing value between two commas.
var ErrEmptyElement = errors.New("empty array element")

// DecodeError reports one array element that could not be decoded. Decoding
// continues with the next element.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode conversation #%d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder reads a JSON array of export records one element at a time.
//
// Elements are split on the raw bytes (tracking nesting, strings and escapes)
// before being decoded, so a syntax error inside one element does not affect
// its neighbours. An element with unbalanced brackets swallows the rest of the
// stream; that is reported as one final *DecodeError.
type Decoder struct {
	r       *bufio.Reader
	buf     bytes.Buffer
	index   int
	started bool
	done    bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next record. A malformed element yields a *DecodeError and
// the following call moves on to the next element. io.EOF marks the end of the
// sequence.
func (d *Decoder) Next() (RawExportRecord, error) {
	if d.done {
		return RawExportRecord{}, io.EOF
	}
	if !d.started {
		d.started = true
		c, err := d.skipSpace()
		if err == io.EOF {
			d.done = true
			return RawExportRecord{}, io.EOF
		}
		if err != nil {
			return d.fail(0, err)
		}
		if c != '[' {
			return d.fail(0, fmt.Errorf("expected JSON array, got %q", c))
		}
	}

	idx := d.index
	raw, end, err := d.element()
	if err != nil {
		return d.fail(idx, err)
	}
	if end == ']' {
		d.done = true
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if end == ']' {
			// "[]" or a trailing comma.
			return RawExportRecord{}, io.EOF
		}
		d.index++
		return RawExportRecord{}, &DecodeError{Index: idx, Err: ErrEmptyElement}
	}
	d.index++
	return decodeRecord(idx, raw)
}

func decodeRecord(idx int, raw []byte) (RawExportRecord, error) {
	var rec RawExportRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RawExportRecord{}, &DecodeError{Index: idx, Err: err}
	}
	if rec.ID == "" {
		rec.ID = rec.ConversationID
	}
	if rec.ID == "" {
		return RawExportRecord{}, &DecodeError{Index: idx, Err: ErrMissingID}
	}
	return rec, nil
}

// element reads bytes up to the next top-level ',' or ']' and returns them
// together with that delimiter. The returned slice is valid until the next call.
func (d *Decoder) element() ([]byte, byte, error) {
	d.buf.Reset()
	depth := 0
	inString, escaped := false, false
	for {
		c, err := d.r.ReadByte()
		if err == io.EOF {
			if len(bytes.TrimSpace(d.buf.Bytes())) == 0 {
				return nil, 0, io.ErrUnexpectedEOF
			}
			return nil, 0, fmt.Errorf("unterminated element: %w", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return nil, 0, err
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			d.buf.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ']':
			if depth == 0 {
				return d.buf.Bytes(), c, nil
			}
			depth--
		case ',':
			if depth == 0 {
				return d.buf.Bytes(), c, nil
			}
		}
		d.buf.WriteByte(c)
	}
}

func (d *Decoder) skipSpace() (byte, error) {
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c, nil
	}
}

func (d *Decoder) fail(idx int, err error) (RawExportRecord, error) {
	d.done = true
	return RawExportRecord{}, &DecodeError{Index: idx, Err: err}
}
