package kinetic

import (
	"errors"

	"kinetic-client/internal/auth"
	"kinetic-client/internal/listener"
	"kinetic-client/internal/wire"
)

// newOperation assigns the next sequence number on sess (spec.md §4.D
// point 2) and returns an Operation carrying the message type and auth
// mode the caller's builder selected.
func newOperation(sess *Session, msgType wire.MessageType, authMode auth.Mode) *Operation {
	return &Operation{
		session:     sess,
		sequence:    sess.nextSequence(),
		messageType: msgType,
		authMode:    authMode,
	}
}

// statusForErr maps a reactor-level failure (timeout, connection
// close, shutdown) to the Status a caller branches on; StatusOf alone
// only recognizes this package's own *Error, not the sentinel errors
// internal/listener hands to Complete.
func statusForErr(err error) Status {
	switch {
	case errors.Is(err, listener.ErrTimeout):
		return StatusOperationTimedOut
	case errors.Is(err, listener.ErrConnectionClosed):
		return StatusConnClosed
	case errors.Is(err, listener.ErrShutdown):
		return StatusConnClosed
	default:
		return StatusOf(err)
	}
}

// replyResult turns a raw reactor completion into the CompletionResult
// every builder's default thunk hands the caller.
func replyResult(cmd wire.Command, value []byte, err error) CompletionResult {
	if err != nil {
		return CompletionResult{Status: statusForErr(err), Err: err}
	}
	status := deviceStatusToStatus(int32(cmd.Status.Code))
	res := CompletionResult{
		Status:   status,
		Value:    value,
		KeyValue: cmd.Body.KeyValue,
		KeyRange: cmd.Body.KeyRange,
		GetLog:   cmd.Body.GetLog,
		P2P:      cmd.Body.P2POperation,
	}
	if status != StatusSuccess {
		res.Err = newError(status, "device reported %s", cmd.Status.Message)
	}
	return res
}

// BuildNoop sends an empty round trip, useful for liveness checks.
func BuildNoop(sess *Session, cb CompletionFunc) (*Operation, error) {
	op := newOperation(sess, wire.MessageTypeNoop, auth.ModeHMAC)
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		if cb != nil {
			cb(replyResult(cmd, value, err))
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// BuildPut stores kv.Key/value under the session. If kv.NewVersion is
// non-empty, the completion thunk promotes it into kv.DBVersion and
// clears NewVersion on success — spec.md §4.D's secondary PUT contract,
// making version rotation atomic from the caller's view. kv is the
// caller's struct; the builder reads it when serializing and mutates
// it again from the thunk, so it must outlive the operation.
func BuildPut(sess *Session, kv *wire.KeyValue, value []byte, cb CompletionFunc) (*Operation, error) {
	if kv == nil {
		return nil, newError(StatusOperationInvalid, "put: nil key/value")
	}
	op := newOperation(sess, wire.MessageTypePut, auth.ModeHMAC)
	op.command.Body.KeyValue = kv
	op.valueToSend = value

	pendingNewVersion := kv.NewVersion
	op.thunk = func(cmd wire.Command, v []byte, err error) {
		res := replyResult(cmd, v, err)
		if res.Err == nil && len(pendingNewVersion) > 0 {
			kv.DBVersion = append([]byte(nil), pendingNewVersion...)
			kv.NewVersion = nil
		}
		if cb != nil {
			cb(res)
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

func buildGetVariant(sess *Session, msgType wire.MessageType, kv *wire.KeyValue, cb CompletionFunc) (*Operation, error) {
	if kv == nil {
		return nil, newError(StatusOperationInvalid, "get: nil key")
	}
	op := newOperation(sess, msgType, auth.ModeHMAC)
	op.command.Body.KeyValue = kv
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		if cb != nil {
			cb(replyResult(cmd, value, err))
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// BuildGet retrieves the value stored under kv.Key. If kv.MetadataOnly
// is set no value is expected; the reply still carries the key's
// version/tag metadata.
func BuildGet(sess *Session, kv *wire.KeyValue, cb CompletionFunc) (*Operation, error) {
	return buildGetVariant(sess, wire.MessageTypeGet, kv, cb)
}

// BuildGetNext retrieves the entry immediately after kv.Key.
func BuildGetNext(sess *Session, kv *wire.KeyValue, cb CompletionFunc) (*Operation, error) {
	return buildGetVariant(sess, wire.MessageTypeGetNext, kv, cb)
}

// BuildGetPrevious retrieves the entry immediately before kv.Key.
func BuildGetPrevious(sess *Session, kv *wire.KeyValue, cb CompletionFunc) (*Operation, error) {
	return buildGetVariant(sess, wire.MessageTypeGetPrevious, kv, cb)
}

// BuildDelete removes kv.Key, optionally conditioned on kv.DBVersion.
func BuildDelete(sess *Session, kv *wire.KeyValue, cb CompletionFunc) (*Operation, error) {
	if kv == nil {
		return nil, newError(StatusOperationInvalid, "delete: nil key")
	}
	op := newOperation(sess, wire.MessageTypeDelete, auth.ModeHMAC)
	op.command.Body.KeyValue = kv
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		if cb != nil {
			cb(replyResult(cmd, value, err))
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// BuildFlush requests the device flush all buffered writes to stable
// storage before replying.
func BuildFlush(sess *Session, cb CompletionFunc) (*Operation, error) {
	op := newOperation(sess, wire.MessageTypeFlushAllData, auth.ModeHMAC)
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		if cb != nil {
			cb(replyResult(cmd, value, err))
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// BuildGetKeyRange lists up to kr.MaxReturned keys between
// kr.StartKey and kr.EndKey; the reply's key list is copied back into
// kr.Keys by the thunk (CompletionResult.KeyRange carries the same
// value, for callers that prefer reading it off the result).
func BuildGetKeyRange(sess *Session, kr *wire.KeyRange, cb CompletionFunc) (*Operation, error) {
	if kr == nil {
		return nil, newError(StatusOperationInvalid, "getkeyrange: nil range")
	}
	op := newOperation(sess, wire.MessageTypeGetKeyRange, auth.ModeHMAC)
	op.command.Body.KeyRange = kr
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		res := replyResult(cmd, value, err)
		if res.Err == nil && res.KeyRange != nil {
			kr.Keys = res.KeyRange.Keys
		}
		if cb != nil {
			cb(res)
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// BuildGetLog requests the device-info categories named in types; the
// thunk assigns the reply into the caller-supplied *wire.GetLog.
func BuildGetLog(sess *Session, types []wire.DeviceInfoType, out *wire.GetLog, cb CompletionFunc) (*Operation, error) {
	if out == nil {
		return nil, newError(StatusOperationInvalid, "getlog: nil destination")
	}
	op := newOperation(sess, wire.MessageTypeGetLog, auth.ModeHMAC)
	op.command.Body.GetLog = &wire.GetLog{Types: types}
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		res := replyResult(cmd, value, err)
		if res.Err == nil && res.GetLog != nil {
			out.Types = res.GetLog.Types
			out.Entry = res.GetLog.Entry
		}
		if cb != nil {
			cb(res)
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// BuildSetClusterVersion requests the device (and, on success, the
// session) adopt newVersion as the current cluster version.
func BuildSetClusterVersion(sess *Session, newVersion int64, cb CompletionFunc) (*Operation, error) {
	op := newOperation(sess, wire.MessageTypeSetup, auth.ModeHMAC)
	op.command.Body.Setup = &wire.Setup{NewClusterVersion: newVersion, HasNewClusterVersion: true}
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		res := replyResult(cmd, value, err)
		if res.Err == nil {
			sess.SetClusterVersion(newVersion)
		}
		if cb != nil {
			cb(res)
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// BuildInstantSecureErase requests a PIN-authenticated secure erase.
// pin may be empty, matching devices configured without an erase PIN.
func BuildInstantSecureErase(sess *Session, pin []byte, cb CompletionFunc) (*Operation, error) {
	op := newOperation(sess, wire.MessageTypeSetup, auth.ModePIN)
	op.command.Body.PinOp = &wire.PinOp{PinOpType: wire.PinOpSecureErase}
	op.pin = pin
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		if cb != nil {
			cb(replyResult(cmd, value, err))
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}
