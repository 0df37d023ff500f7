package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageBytes bounds the reassembly buffer.
const DefaultMaxMessageBytes = 64 << 20

var (
	// ErrMessageTooLarge means the buffered message outgrew the limit and
	// was discarded.
	ErrMessageTooLarge = errors.New("buffered message exceeds limit")
	// ErrMalformedMessage means the buffer is not, and cannot become, a
	// JSON object and was discarded.
	ErrMalformedMessage = errors.New("buffered data is not a JSON object")
)

// Assembler accumulates frame payloads until they form one complete JSON
// object. It holds at most one in-flight message.
type Assembler struct {
	buf   []byte
	limit int
}

// NewAssembler returns an Assembler that discards messages larger than
// limit bytes.
func NewAssembler(limit int) *Assembler {
	if limit <= 0 {
		limit = DefaultMaxMessageBytes
	}
	return &Assembler{limit: limit}
}

// Append adds a payload. When the buffer now holds a complete object it is
// returned and removed from the buffer; bytes after it stay buffered. On
// error the buffer has been reset.
func (a *Assembler) Append(payload []byte) ([]byte, error) {
	if len(a.buf)+len(payload) > a.limit {
		size := len(a.buf) + len(payload)
		a.Reset()
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, size, a.limit)
	}
	a.buf = append(a.buf, payload...)

	trimmed := bytes.TrimLeft(a.buf, " \t\r\n")
	if len(trimmed) == 0 {
		a.Reset()
		return nil, nil
	}
	if trimmed[0] != '{' {
		a.Reset()
		return nil, ErrMalformedMessage
	}
	// An object can only be complete once the data ends with a brace.
	if !bytes.HasSuffix(bytes.TrimRight(trimmed, " \t\r\n"), []byte("}")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, nil
		}
		a.Reset()
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := make([]byte, len(raw))
	copy(msg, raw)
	rest := bytes.TrimLeft(trimmed[dec.InputOffset():], " \t\r\n")
	a.buf = append(a.buf[:0], rest...)
	return msg, nil
}

// Pending returns the number of buffered bytes.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset drops any partial message.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}
