package kinetic

// Status is the outcome a completion callback observes. It mirrors
// spec.md §6's non-exhaustive status list, extended with the
// device-reported statuses the wire protocol's Status body carries.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalid
	StatusConnClosed
	StatusBufferOverrun
	StatusOperationInvalid
	StatusOperationTimedOut
	StatusSessionOverloaded
	StatusOperationFailed
	StatusProtoDecode
	StatusNotFound
	StatusVersionMismatch
	StatusHMACFailure
	StatusNotAuthorized
	StatusInternalError
	StatusNoSpace
	StatusDeviceLocked
)

// String returns the human-readable description spec.md §6 requires
// as "a sibling helper" to the raw status value.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalid:
		return "INVALID"
	case StatusConnClosed:
		return "CONN_CLOSED"
	case StatusBufferOverrun:
		return "BUFFER_OVERRUN"
	case StatusOperationInvalid:
		return "OPERATION_INVALID"
	case StatusOperationTimedOut:
		return "OPERATION_TIMEDOUT"
	case StatusSessionOverloaded:
		return "SESSION_OVERLOADED"
	case StatusOperationFailed:
		return "OPERATION_FAILED"
	case StatusProtoDecode:
		return "PROTO_DECODE"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusVersionMismatch:
		return "VERSION_MISMATCH"
	case StatusHMACFailure:
		return "HMAC_FAILURE"
	case StatusNotAuthorized:
		return "NOT_AUTHORIZED"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusNoSpace:
		return "NO_SPACE"
	case StatusDeviceLocked:
		return "DEVICE_LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Description returns a longer, user-facing explanation of s.
func (s Status) Description() string {
	switch s {
	case StatusSuccess:
		return "the operation completed successfully"
	case StatusInvalid:
		return "the request was malformed"
	case StatusConnClosed:
		return "the connection closed before a reply arrived"
	case StatusBufferOverrun:
		return "a frame length exceeded the protocol's maximum"
	case StatusOperationInvalid:
		return "the operation failed validation before it was sent"
	case StatusOperationTimedOut:
		return "no reply arrived before the operation's deadline"
	case StatusSessionOverloaded:
		return "too many operations are already outstanding on this session"
	case StatusOperationFailed:
		return "the operation failed for an unspecified reason"
	case StatusProtoDecode:
		return "the reply could not be decoded"
	case StatusNotFound:
		return "the requested key does not exist"
	case StatusVersionMismatch:
		return "the supplied version did not match the stored version"
	case StatusHMACFailure:
		return "HMAC authentication failed"
	case StatusNotAuthorized:
		return "the identity is not authorized for this operation"
	case StatusInternalError:
		return "the device reported an internal error"
	case StatusNoSpace:
		return "the device has no space remaining"
	case StatusDeviceLocked:
		return "the device is locked"
	default:
		return "unrecognized status"
	}
}

// deviceStatusToStatus maps the wire protocol's device-reported status
// code 1:1 to a local Status, the mapping spec.md §7's "Application"
// error row assigns to the completion thunk.
func deviceStatusToStatus(code int32) Status {
	switch code {
	case 0:
		return StatusSuccess
	case 1:
		return StatusNotFound
	case 2:
		return StatusVersionMismatch
	case 3:
		return StatusHMACFailure
	case 4:
		return StatusNotAuthorized
	case 5:
		return StatusInternalError
	case 6:
		return StatusOperationInvalid
	case 7:
		return StatusNoSpace
	case 8:
		return StatusDeviceLocked
	default:
		return StatusOperationFailed
	}
}
