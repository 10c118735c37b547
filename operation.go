package kinetic

import (
	"sync"
	"time"

	"kinetic-client/internal/auth"
	"kinetic-client/internal/wire"
)

// CompletionResult is what a submitted operation's callback receives,
// exactly once, regardless of outcome (spec.md §3's "exactly one
// completion fires" invariant).
type CompletionResult struct {
	Status Status
	Err    error

	// Value holds the value bytes the reply frame carried (for a
	// value-expecting GET/GETNEXT/GETPREVIOUS).
	Value []byte

	// KeyValue carries the reply's key-value metadata (dbVersion after
	// PUT's newVersion rotation, tag echoes, etc).
	KeyValue *wire.KeyValue

	// KeyRange carries GETKEYRANGE's returned key list.
	KeyRange *wire.KeyRange

	// GetLog carries GETLOG's device-info reply.
	GetLog *wire.GetLog

	// P2P carries the peer-to-peer tree with reply status codes filled
	// in at each node.
	P2P *wire.P2POperation
}

// CompletionFunc is the user-supplied closure a builder wraps in its
// own protocol-level completion thunk (spec.md §4.D point 5).
type CompletionFunc func(CompletionResult)

// Operation is one in-flight request (spec.md §3's Operation data
// model). Operations are built by the per-message-type constructors
// in builders.go/builders_p2p.go, each of which also sends the
// operation before returning it.
type Operation struct {
	session     *Session
	sequence    int64
	messageType wire.MessageType
	authMode    auth.Mode

	command     wire.Command
	valueToSend []byte
	pin         []byte // PIN payload for auth.ModePIN operations (INSTANTSECUREERASE)

	timeout time.Duration

	deadlineMu sync.Mutex
	deadline   time.Time

	once sync.Once
	// thunk is builder-installed: it translates the raw wire reply
	// into a CompletionResult (PUT's newVersion rotation, GETLOG's
	// device-info assignment, etc) before invoking the caller's
	// closure. thunk runs at most once per Operation.
	thunk func(cmd wire.Command, value []byte, err error)
}

// Sequence returns the operation's assigned sequence number, the
// immutable, session-unique request id spec.md §3 describes.
func (op *Operation) Sequence() int64 { return op.sequence }

// GetTimeoutTime returns the operation's current absolute deadline.
// Before the first SetTimeoutTime/Send call this is the zero Time.
func (op *Operation) GetTimeoutTime() time.Time {
	op.deadlineMu.Lock()
	defer op.deadlineMu.Unlock()
	return op.deadline
}

// SetTimeoutTime sets the operation's deadline to now+d, replacing
// whatever deadline a previous call established. Calling this twice
// leaves the deadline equal to the second call's result — there is no
// accumulation (spec.md §8's idempotence property).
func (op *Operation) SetTimeoutTime(d time.Duration) {
	op.deadlineMu.Lock()
	op.timeout = d
	if d > 0 {
		op.deadline = time.Now().Add(d)
	} else {
		op.deadline = time.Time{} // zero timeout means "no timeout"
	}
	op.deadlineMu.Unlock()
}

func (op *Operation) effectiveTimeout() time.Duration {
	op.deadlineMu.Lock()
	defer op.deadlineMu.Unlock()
	return op.timeout
}

// Complete implements listener.PendingEntry. The reactor dispatches it
// off its own goroutine (through Client's worker pool, or a bare
// goroutine when the pool is saturated) so a callback that submits a
// new operation never deadlocks against the reactor it is waiting on.
// sync.Once guards against two dispatched completions racing to run
// for the same slot (they can't both hold it, since Release already
// prevents a double-release, but Complete is defensive regardless).
func (op *Operation) Complete(cmd wire.Command, value []byte, err error) {
	op.once.Do(func() {
		op.thunk(cmd, value, err)
	})
}
