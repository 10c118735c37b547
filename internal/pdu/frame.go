// Package pdu implements the on-wire framing used by every request and
// response: a fixed 9-byte header followed by a packed command and an
// optional value payload.
package pdu

import (
	"encoding/binary"
	"fmt"
)

// VersionMagic is the single leading header byte identifying this wire
// version. 'F' per the protocol's original authors.
const VersionMagic byte = 'F'

// HeaderSize is the fixed size of the PDU header in bytes.
const HeaderSize = 9

// ProtoMaxLen bounds both the protobuf-command length and the value
// length. Sized for the device's receive window; frames exceeding it are
// rejected with ErrBufferOverrun rather than attempted.
const ProtoMaxLen = 1024 * 1024

// Header is the 9-byte frame preamble: version magic, big-endian command
// length, big-endian value length.
type Header struct {
	Version        byte
	ProtobufLength uint32
	ValueLength    uint32
}

// Encode returns the network-byte-order wire representation of h.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Version
	binary.BigEndian.PutUint32(buf[1:5], h.ProtobufLength)
	binary.BigEndian.PutUint32(buf[5:9], h.ValueLength)
	return buf
}

// DecodeHeader parses a 9-byte header previously produced by Encode.
// It does not itself enforce ProtoMaxLen; callers check lengths against
// their own policy (request vs. response may allow different bounds).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &DecodeError{Kind: ErrHeaderTooShort, Detail: fmt.Sprintf("have %d bytes, need %d", len(buf), HeaderSize)}
	}
	if buf[0] != VersionMagic {
		return Header{}, &DecodeError{Kind: ErrHeaderTooShort, Detail: fmt.Sprintf("bad version magic 0x%02x", buf[0])}
	}
	return Header{
		Version:        buf[0],
		ProtobufLength: binary.BigEndian.Uint32(buf[1:5]),
		ValueLength:    binary.BigEndian.Uint32(buf[5:9]),
	}, nil
}

// Kind categorizes a framing failure so callers can branch without
// string-matching.
type Kind int

const (
	ErrHeaderTooShort Kind = iota
	ErrProtoDecode
	ErrValueTooShort
	ErrBufferOverrun
)

func (k Kind) String() string {
	switch k {
	case ErrHeaderTooShort:
		return "HEADER_TOO_SHORT"
	case ErrProtoDecode:
		return "PROTO_DECODE"
	case ErrValueTooShort:
		return "VALUE_TOO_SHORT"
	case ErrBufferOverrun:
		return "BUFFER_OVERRUN"
	default:
		return "UNKNOWN"
	}
}

// DecodeError is returned by every staged-read failure in this package.
type DecodeError struct {
	Kind   Kind
	Detail string
	Inner  error
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("pdu: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("pdu: %s", e.Kind)
}

func (e *DecodeError) Unwrap() error { return e.Inner }

// CheckLength rejects a declared length over ProtoMaxLen with
// ErrBufferOverrun, matching the sender-side check in §4.E and the
// receive-side bound in §4.A.
func CheckLength(n uint32) error {
	if n > ProtoMaxLen {
		return &DecodeError{Kind: ErrBufferOverrun, Detail: fmt.Sprintf("%d exceeds max %d", n, ProtoMaxLen)}
	}
	return nil
}
