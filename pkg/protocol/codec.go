package protocol

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single frame. Frames are one JSON message per
// line; anything larger than this is treated as a framing failure
// rather than allowed to grow the buffer without bound.
const maxFrameSize = 16 * 1024 * 1024

// Encoder writes newline-delimited JSON frames to an underlying
// writer. It is safe for concurrent use; each Encode emits exactly one
// frame and flushes it.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates an Encoder writing frames to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode serializes m and writes it as one delimited frame.
func (e *Encoder) Encode(m Message) error {
	data, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	return e.EncodeBytes(data)
}

// EncodeBytes writes an already-serialized frame payload. The payload
// must not contain the frame delimiter.
func (e *Encoder) EncodeBytes(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write frame delimiter: %w", err)
	}
	return e.w.Flush()
}

// Decoder reads newline-delimited JSON frames from an underlying
// reader. The reader may deliver partial frames; Decode buffers bytes
// until a complete frame boundary is observed.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a Decoder reading frames from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Decoder{scanner: scanner}
}

// Decode blocks until one complete frame is available and returns the
// decoded message. It returns io.EOF once the stream ends cleanly, and
// the underlying read error otherwise. Blank frames are skipped.
func (d *Decoder) Decode() (Message, error) {
	data, err := d.DecodeBytes()
	if err != nil {
		return nil, err
	}
	return DecodeMessage(data)
}

// DecodeBytes returns the raw payload of the next non-empty frame. The
// returned slice is a copy and remains valid across further reads.
func (d *Decoder) DecodeBytes() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Copy: the scanner reuses its buffer on the next Scan.
		data := make([]byte, len(line))
		copy(data, line)
		return data, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
