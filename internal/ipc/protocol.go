// Package ipc implements the transport side of the Wayfire IPC protocol:
// unix stream sockets carrying length-prefixed JSON frames.
//
// Every frame in either direction is a 4-byte little-endian unsigned length
// followed by that many bytes of UTF-8 JSON. The protocol has no request
// identifiers; callers correlate replies by arrival order.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the length prefix in bytes
const HeaderSize = 4

// MaxFrameSize bounds inbound payloads (64MB)
const MaxFrameSize = 64 * 1024 * 1024

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes the length prefix and payload to w in a single write so
// that concurrent writers on the same stream can never interleave a header
// with another frame's body.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads one complete frame from r and returns its payload.
// It blocks until the whole frame has arrived. A stream that ends before
// the header or the payload is complete yields io.ErrUnexpectedEOF
// (or io.EOF if nothing at all was read).
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return payload, nil
}
