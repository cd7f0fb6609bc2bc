// Package wire implements the length-prefixed framing shared by every frame
// stream in the pipeline: a 4-byte big-endian unsigned length header followed
// by exactly that many payload bytes.
//
// The same convention is used over both transports. On a datagram socket one
// header+payload pair occupies one datagram; on a stream socket pairs repeat
// back to back on the persistent connection. Decoding is strict — a message
// whose payload does not match the declared length is rejected whole so a
// caller can drop it and move on, never process a partial frame.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed length of the framing header in bytes.
const HeaderSize = 4

// MaxDatagramPayload is the practical payload ceiling for a single UDP
// datagram: 65,535 bytes minus the IP/UDP headers and the 4-byte frame
// header. Encoders targeting datagram transport must stay at or below this;
// stream transport has no such ceiling.
const MaxDatagramPayload = 65503

var (
	// ErrTruncated reports a message with fewer payload bytes than the header
	// declares. Expected under lossy transport; callers drop and continue.
	ErrTruncated = errors.New("wire: message shorter than declared length")

	// ErrTrailingData reports a datagram carrying more bytes than the header
	// declares. A datagram holds exactly one message, so this is a framing
	// mismatch too.
	ErrTrailingData = errors.New("wire: message longer than declared length")

	// ErrOversized reports a payload that cannot fit in one datagram.
	ErrOversized = errors.New("wire: payload exceeds datagram ceiling")
)

// Encode prepends the 4-byte big-endian length header to payload and returns
// the framed message as a fresh slice. It never fails; use EncodeDatagram
// when the message must fit a single datagram.
func Encode(payload []byte) []byte {
	msg := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(msg, uint32(len(payload)))
	copy(msg[HeaderSize:], payload)
	return msg
}

// EncodeDatagram frames payload like Encode but fails with ErrOversized when
// the payload exceeds MaxDatagramPayload. Oversized payloads are an
// encode-time concern: the producer retries at reduced quality or drops.
func EncodeDatagram(payload []byte) ([]byte, error) {
	if len(payload) > MaxDatagramPayload {
		return nil, fmt.Errorf("wire: %d byte payload: %w", len(payload), ErrOversized)
	}
	return Encode(payload), nil
}

// Decode parses one framed message from raw and returns its payload. The
// returned slice aliases raw; callers that retain the payload beyond the
// lifetime of raw must copy it.
//
// Errors wrap ErrTruncated when raw is shorter than the header or the
// declared length, and ErrTrailingData when raw carries extra bytes. Both
// mean the whole message is discarded.
func Decode(raw []byte) ([]byte, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("wire: %d byte message, need at least %d: %w", len(raw), HeaderSize, ErrTruncated)
	}
	declared := binary.BigEndian.Uint32(raw)
	body := raw[HeaderSize:]
	if uint32(len(body)) < declared {
		return nil, fmt.Errorf("wire: header declares %d bytes, got %d: %w", declared, len(body), ErrTruncated)
	}
	if uint32(len(body)) > declared {
		return nil, fmt.Errorf("wire: header declares %d bytes, got %d: %w", declared, len(body), ErrTrailingData)
	}
	return body, nil
}

// ReadMessage reads one header+payload pair from a stream connection.
//
// maxLen bounds the declared payload length; 0 means no bound. A declared
// length above the bound fails without reading the payload, protecting the
// caller from a hostile or corrupt header allocating gigabytes.
//
// Returns io.EOF when the stream ends cleanly before a header and
// io.ErrUnexpectedEOF when it ends mid-message, so accept loops can tell an
// orderly disconnect from a torn one.
func ReadMessage(r io.Reader, maxLen uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("wire: read header: %w", err)
		}
		return nil, err
	}
	declared := binary.BigEndian.Uint32(header[:])
	if maxLen > 0 && declared > maxLen {
		return nil, fmt.Errorf("wire: declared length %d exceeds limit %d", declared, maxLen)
	}
	payload := make([]byte, declared)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

// WriteMessage frames payload and writes it to w as a single Write call so
// concurrent writers guarded by a lock never interleave header and body.
func WriteMessage(w io.Writer, payload []byte) error {
	if _, err := w.Write(Encode(payload)); err != nil {
		return fmt.Errorf("wire: write message: %w", err)
	}
	return nil
}
