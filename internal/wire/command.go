// Package wire defines the in-core stand-in for the protocol-buffer
// Command/Message schema spec.md §1 puts explicitly out of scope
// ("treated as an opaque encoder/decoder of a Message with a
// commandBytes field"). The core never needs to know how these bytes
// are actually encoded on a real device — only that Pack/Unpack round
// trip and that HMAC is computed over exactly the packed bytes — so
// this package hand-rolls a minimal gob-based encoding rather than
// depending on generated protobuf code that has no schema to generate
// from in this exercise (see DESIGN.md).
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// MessageType enumerates the operations spec.md §4.D's builder catalog
// covers.
type MessageType int32

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeNoop
	MessageTypePut
	MessageTypeGet
	MessageTypeGetNext
	MessageTypeGetPrevious
	MessageTypeDelete
	MessageTypeFlushAllData
	MessageTypeGetKeyRange
	MessageTypeGetLog
	MessageTypePeerToPeerPush
	MessageTypeSetup
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeNoop:
		return "NOOP"
	case MessageTypePut:
		return "PUT"
	case MessageTypeGet:
		return "GET"
	case MessageTypeGetNext:
		return "GETNEXT"
	case MessageTypeGetPrevious:
		return "GETPREVIOUS"
	case MessageTypeDelete:
		return "DELETE"
	case MessageTypeFlushAllData:
		return "FLUSHALLDATA"
	case MessageTypeGetKeyRange:
		return "GETKEYRANGE"
	case MessageTypeGetLog:
		return "GETLOG"
	case MessageTypePeerToPeerPush:
		return "PEER2PEERPUSH"
	case MessageTypeSetup:
		return "SETUP"
	default:
		return "UNKNOWN"
	}
}

// StatusCode mirrors the device-reported status body the completion
// thunk maps 1:1 to a local kinetic.Status (spec.md §7, Application row).
type StatusCode int32

const (
	StatusCodeSuccess StatusCode = iota
	StatusCodeNotFound
	StatusCodeVersionMismatch
	StatusCodeHMACFailure
	StatusCodeNotAuthorized
	StatusCodeInternalError
	StatusCodeInvalidRequest
	StatusCodeNoSpace
	StatusCodeDeviceLocked
)

// Header is the per-command routing/sequencing header.
type Header struct {
	ClusterVersion int64
	Sequence       int64
	AckSequence    int64
	MessageType    MessageType
	HasMessageType bool
	HasSequence    bool
	HasAckSequence bool
}

// KeyValue covers PUT/GET*/DELETE bodies.
type KeyValue struct {
	Key             []byte
	NewVersion      []byte
	DBVersion       []byte
	Tag             []byte
	Algorithm       int32
	MetadataOnly    bool
	Synchronization int32
}

// KeyRange covers GETKEYRANGE request parameters and the reply's key
// list.
type KeyRange struct {
	StartKey          []byte
	EndKey            []byte
	StartKeyInclusive bool
	EndKeyInclusive   bool
	MaxReturned       int32
	Reverse           bool
	Keys              [][]byte
}

// DeviceInfoType selects which log category GETLOG requests.
type DeviceInfoType int32

const (
	DeviceInfoUtilizations DeviceInfoType = iota
	DeviceInfoTemperatures
	DeviceInfoCapacities
	DeviceInfoConfiguration
	DeviceInfoStatistics
	DeviceInfoMessages
	DeviceInfoLimits
	DeviceInfoDevice
)

// GetLog covers the GETLOG request type list and the reply payload. The
// reply is modeled as a flat string map rather than the original's rich
// per-category structs: the core only needs to prove the builder's
// out-pointer assignment, not reproduce the device's full log schema.
type GetLog struct {
	Types []DeviceInfoType
	Entry map[string]string
}

// P2PPeer names the remote device a PEER2PEERPUSH targets.
type P2PPeer struct {
	Hostname string
	Port     int32
	TLS      bool
}

// P2POperationEntry is one copy instruction within a (possibly chained)
// peer-to-peer push.
type P2POperationEntry struct {
	Key     []byte
	NewKey  []byte
	Version []byte
	Force   bool
	Chained *P2POperation
	Status  *StatusCode
}

// P2POperation is the recursive peer-to-peer push body (spec.md §4.D).
type P2POperation struct {
	Peer       P2PPeer
	Operations []P2POperationEntry
}

// Setup covers SETCLUSTERVERSION.
type Setup struct {
	NewClusterVersion    int64
	HasNewClusterVersion bool
}

// PinOpType selects the administrative action a PIN-authenticated SETUP
// message requests.
type PinOpType int32

const (
	PinOpSecureErase PinOpType = iota
	PinOpErase
)

// PinOp covers INSTANTSECUREERASE.
type PinOp struct {
	PinOpType PinOpType
}

// Body is the command's message-type-specific payload; exactly one
// field is populated per message type.
type Body struct {
	KeyValue     *KeyValue
	KeyRange     *KeyRange
	GetLog       *GetLog
	P2POperation *P2POperation
	Setup        *Setup
	PinOp        *PinOp
}

// Status is the reply's device-reported outcome.
type Status struct {
	Code    StatusCode
	Message string
}

// Command is the full packed unit the PDU's command bytes represent.
type Command struct {
	Header Header
	Body   Body
	Status Status
}

// Pack serializes c. HMAC is computed over exactly these bytes
// (spec.md §4.B).
func Pack(c Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("wire: pack: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack is the inverse of Pack.
func Unpack(data []byte) (Command, error) {
	var c Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return Command{}, fmt.Errorf("wire: unpack: %w", err)
	}
	return c, nil
}
