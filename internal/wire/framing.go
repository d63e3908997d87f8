package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame to guard against a corrupt or
// hostile length prefix requesting an unreasonable allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes one length-delimited frame: a big-endian uint32
// length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-delimited frame written by WriteFrame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", length, MaxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading frame payload: %w", err)
	}
	return payload, nil
}

// WriteMessage encodes and frames m onto w.
func WriteMessage(w io.Writer, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// ReadMessage reads one frame from r and decodes it.
func ReadMessage(r *bufio.Reader) (Message, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return Decode(b)
}

// WriteIdentityFramed prepends a peer-identity frame ahead of the message
// frame, matching the router side's "multi-part frame" requirement:
// [4-byte identity length][identity bytes][4-byte msg length][msg bytes].
func WriteIdentityFramed(w io.Writer, identity []byte, m Message) error {
	if err := WriteFrame(w, identity); err != nil {
		return fmt.Errorf("wire: writing identity frame: %w", err)
	}
	return WriteMessage(w, m)
}

// ReadIdentityFramed reads an identity frame followed by a message
// frame, the inverse of WriteIdentityFramed.
func ReadIdentityFramed(r *bufio.Reader) (identity []byte, m Message, err error) {
	identity, err = ReadFrame(r)
	if err != nil {
		return nil, Message{}, err
	}
	m, err = ReadMessage(r)
	return identity, m, err
}
