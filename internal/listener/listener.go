// Package listener implements the reactor spec.md §4.F and §5
// describe: a single goroutine owns the pending-operation table and is
// the only thing that ever touches a given connection's read side.
// Producers (Sessions, builders) never reach into the reactor directly
// — they hand it work through a small, bounded command queue, exactly
// as the original's single poll(2) thread accepted work items rather
// than being called into from other threads.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"kinetic-client/internal/pdu"
	"kinetic-client/internal/pending"
	"kinetic-client/internal/wire"

	"github.com/sirupsen/logrus"
)

// CommandQueueDepth is the bounded command-queue capacity spec.md §4.F
// fixes at 32; a full queue means the caller must back off rather than
// block the producer.
const CommandQueueDepth = 32

// ErrQueueFull is returned by the non-blocking command submissions
// when the command queue is saturated (SESSION_OVERLOADED upstream).
var ErrQueueFull = errors.New("listener: command queue full")

// ErrUnknownSession is returned when a command names a session the
// reactor has no record of.
var ErrUnknownSession = errors.New("listener: unknown session")

// PendingEntry is whatever the caller associates with an outstanding
// request; the reactor invokes Complete exactly once, through
// Config.Dispatch (never inline on the reactor goroutine), when a reply
// arrives or the request times out or its connection drops.
type PendingEntry interface {
	Complete(cmd wire.Command, value []byte, err error)
}

// Config tunes the reactor's fixed resources.
type Config struct {
	PendingCapacity int
	TickInterval    time.Duration
	Logger          *logrus.Logger

	// Dispatch runs a completion job off the reactor goroutine. Complete
	// is never called inline from Run's loop — spec.md §4.G requires it
	// be re-entrancy safe against a callback that submits a new
	// operation, which calling it from the same goroutine that services
	// ExpectResponse would deadlock. Callers normally set this to a
	// worker pool's TrySubmit (falling back to a bare goroutine when the
	// pool is saturated); the zero value spawns one goroutine per
	// completion.
	Dispatch func(job func())
}

func (c *Config) setDefaults() {
	if c.PendingCapacity <= 0 {
		c.PendingCapacity = pending.DefaultCapacity
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Dispatch == nil {
		c.Dispatch = func(job func()) { go job() }
	}
}

type connState struct {
	sessionID uint64
	conn      net.Conn
	decoder   *pdu.Decoder
}

type frameEvent struct {
	sessionID uint64
	cmd       wire.Command
	value     []byte
	readErr   error
}

type deadlineEntry struct {
	sessionID   uint64
	ackSequence int64
	deadline    time.Time
}

// commandKind distinguishes the small set of work items producers may
// enqueue.
type commandKind int

const (
	cmdAddSocket commandKind = iota
	cmdCloseSocket
	cmdExpectResponse
	cmdCancelResponse
	cmdShutdown
)

type command struct {
	kind commandKind

	conn      net.Conn
	sessionID uint64

	ackSequence int64
	entry       PendingEntry
	timeout     time.Duration

	result chan error
}

// Listener is the reactor: one goroutine (Run) owns table and conns.
type Listener struct {
	cfg Config

	table *pending.Table

	mu       sync.Mutex
	conns    map[uint64]*connState
	nextID   uint64
	deadline map[int64]deadlineEntry // ackSequence -> deadline, mirrors table membership

	commands chan command
	frames   chan frameEvent

	closed chan struct{}
	once   sync.Once
}

// New constructs a Listener. Call Run in its own goroutine to start
// the reactor loop.
func New(cfg Config) *Listener {
	cfg.setDefaults()
	return &Listener{
		cfg:      cfg,
		table:    pending.New(cfg.PendingCapacity),
		conns:    make(map[uint64]*connState),
		deadline: make(map[int64]deadlineEntry),
		commands: make(chan command, CommandQueueDepth),
		frames:   make(chan frameEvent, CommandQueueDepth),
		closed:   make(chan struct{}),
	}
}

// FillLevel exposes the pending table's current occupancy for
// backpressure decisions (spec.md §4.F).
func (l *Listener) FillLevel() int { return l.table.FillLevel() }

// Capacity exposes the pending table's fixed capacity.
func (l *Listener) Capacity() int { return l.table.Capacity() }

func (l *Listener) submit(c command) error {
	select {
	case l.commands <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// AddSocket registers conn with the reactor and starts a reader
// goroutine that decodes frames off it. Returns the session ID the
// reactor will use to refer to this connection in CloseSocket and
// ExpectResponse.
func (l *Listener) AddSocket(conn net.Conn) (uint64, error) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.mu.Unlock()

	result := make(chan error, 1)
	if err := l.submit(command{kind: cmdAddSocket, conn: conn, sessionID: id, result: result}); err != nil {
		return 0, err
	}
	if err := <-result; err != nil {
		return 0, err
	}
	go l.readLoop(id, conn)
	return id, nil
}

// CloseSocket tears down a connection registered with AddSocket.
func (l *Listener) CloseSocket(sessionID uint64) error {
	result := make(chan error, 1)
	if err := l.submit(command{kind: cmdCloseSocket, sessionID: sessionID, result: result}); err != nil {
		return err
	}
	return <-result
}

// ExpectResponse registers entry to receive the reply whose
// ack_sequence matches ackSequence, timing out after timeout (zero
// means no timeout, per spec.md §4.D's set_timeout_time semantics).
func (l *Listener) ExpectResponse(sessionID uint64, ackSequence int64, entry PendingEntry, timeout time.Duration) error {
	result := make(chan error, 1)
	err := l.submit(command{
		kind:        cmdExpectResponse,
		sessionID:   sessionID,
		ackSequence: ackSequence,
		entry:       entry,
		timeout:     timeout,
		result:      result,
	})
	if err != nil {
		return err
	}
	return <-result
}

// CancelResponse releases a registration made by ExpectResponse
// without invoking its Complete. The sender uses this when packing,
// length-checking or writing the frame fails after registering, so the
// synchronous error the builder returns is the only completion the
// caller observes — the entry must not also fire asynchronously.
func (l *Listener) CancelResponse(ackSequence int64) error {
	result := make(chan error, 1)
	err := l.submit(command{kind: cmdCancelResponse, ackSequence: ackSequence, result: result})
	if err != nil {
		return err
	}
	return <-result
}

// Shutdown stops the reactor loop and completes every outstanding
// entry with ErrShutdown.
func (l *Listener) Shutdown() {
	l.once.Do(func() {
		_ = l.submit(command{kind: cmdShutdown})
	})
}

// Done reports whether the reactor loop has exited.
func (l *Listener) Done() <-chan struct{} { return l.closed }

// ErrShutdown is delivered to every still-pending entry when the
// reactor shuts down.
var ErrShutdown = errors.New("listener: reactor shut down")

// ErrTimeout is delivered when an entry's deadline elapses before a
// reply arrives.
var ErrTimeout = errors.New("listener: operation timed out")

// ErrConnectionClosed is delivered to every entry outstanding on a
// connection that closes or errors.
var ErrConnectionClosed = errors.New("listener: connection closed")

// Run is the reactor's main loop. It owns the pending table and every
// registered connState; nothing outside this goroutine may touch
// either. Run blocks until ctx is cancelled or Shutdown is called.
func (l *Listener) Run(ctx context.Context) {
	defer close(l.closed)
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drainWithError(ErrShutdown)
			return
		case c := <-l.commands:
			if c.kind == cmdShutdown {
				l.drainWithError(ErrShutdown)
				return
			}
			l.handleCommand(c)
		case fe := <-l.frames:
			l.handleFrame(fe)
		case <-ticker.C:
			l.sweepTimeouts()
		}
	}
}

func (l *Listener) handleCommand(c command) {
	switch c.kind {
	case cmdAddSocket:
		l.mu.Lock()
		l.conns[c.sessionID] = &connState{
			sessionID: c.sessionID,
			conn:      c.conn,
			decoder:   pdu.NewDecoder(),
		}
		l.mu.Unlock()
		c.result <- nil

	case cmdCloseSocket:
		l.mu.Lock()
		cs, ok := l.conns[c.sessionID]
		delete(l.conns, c.sessionID)
		l.mu.Unlock()
		if !ok {
			c.result <- ErrUnknownSession
			return
		}
		_ = cs.conn.Close()
		l.completeSession(c.sessionID, ErrConnectionClosed)
		c.result <- nil

	case cmdExpectResponse:
		l.mu.Lock()
		_, ok := l.conns[c.sessionID]
		l.mu.Unlock()
		if !ok {
			c.result <- ErrUnknownSession
			return
		}
		if err := l.table.Acquire(c.ackSequence, entryRecord{sessionID: c.sessionID, entry: c.entry}); err != nil {
			c.result <- err
			return
		}
		if c.timeout > 0 {
			l.mu.Lock()
			l.deadline[c.ackSequence] = deadlineEntry{
				sessionID:   c.sessionID,
				ackSequence: c.ackSequence,
				deadline:    time.Now().Add(c.timeout),
			}
			l.mu.Unlock()
		}
		c.result <- nil

	case cmdCancelResponse:
		l.mu.Lock()
		delete(l.deadline, c.ackSequence)
		l.mu.Unlock()
		if _, err := l.table.Release(c.ackSequence); err != nil {
			c.result <- err
			return
		}
		c.result <- nil
	}
}

type entryRecord struct {
	sessionID uint64
	entry     PendingEntry
}

// unpackFrameCommand unwraps the on-wire Envelope a PDU's command
// section carries and returns the inner Command. The reactor has no
// reason to inspect a reply's auth fields (only requests carry
// meaningful HMAC/PIN data), so it discards the envelope after
// unwrapping.
func unpackFrameCommand(raw []byte) (wire.Command, error) {
	env, err := wire.UnpackEnvelope(raw)
	if err != nil {
		return wire.Command{}, err
	}
	return wire.Unpack(env.CommandBytes)
}

func (l *Listener) readLoop(sessionID uint64, conn net.Conn) {
	dec := pdu.NewDecoder()
	for {
		stage, err := dec.Step(conn)
		if err != nil {
			l.frames <- frameEvent{sessionID: sessionID, readErr: err}
			return
		}
		if !dec.CommandComplete() {
			continue
		}
		cmd, uerr := unpackFrameCommand(dec.CommandBytes())
		if uerr != nil {
			l.frames <- frameEvent{sessionID: sessionID, readErr: uerr}
			return
		}
		valLen := dec.Header().ValueLength
		var sink []byte
		if valLen > 0 {
			sink = make([]byte, valLen)
		}
		dec.BeginValue(sink)
		for stage != pdu.StageDone {
			stage, err = dec.Step(conn)
			if err != nil {
				l.frames <- frameEvent{sessionID: sessionID, readErr: err}
				return
			}
		}
		l.frames <- frameEvent{sessionID: sessionID, cmd: cmd, value: dec.Value()}
		dec.Reset()
	}
}

func (l *Listener) handleFrame(fe frameEvent) {
	if fe.readErr != nil {
		if errors.Is(fe.readErr, io.EOF) {
			l.cfg.Logger.WithField("session", fe.sessionID).Debug("connection closed by peer")
		} else {
			l.cfg.Logger.WithError(fe.readErr).WithField("session", fe.sessionID).Warn("frame read failed")
		}
		l.completeSession(fe.sessionID, ErrConnectionClosed)
		return
	}

	ack := fe.cmd.Header.AckSequence
	val, err := l.table.Release(ack)
	if err != nil {
		l.cfg.Logger.WithField("ack_sequence", ack).Warn("reply for unknown ack_sequence")
		return
	}
	l.mu.Lock()
	delete(l.deadline, ack)
	l.mu.Unlock()

	rec := val.(entryRecord)
	l.cfg.Dispatch(func() { rec.entry.Complete(fe.cmd, fe.value, nil) })
}

func (l *Listener) sweepTimeouts() {
	now := time.Now()
	var expired []int64
	l.mu.Lock()
	for ack, de := range l.deadline {
		if now.After(de.deadline) {
			expired = append(expired, ack)
		}
	}
	for _, ack := range expired {
		delete(l.deadline, ack)
	}
	l.mu.Unlock()

	for _, ack := range expired {
		val, err := l.table.Release(ack)
		if err != nil {
			continue
		}
		rec := val.(entryRecord)
		l.cfg.Dispatch(func() { rec.entry.Complete(wire.Command{}, nil, ErrTimeout) })
	}
}

func (l *Listener) completeSession(sessionID uint64, reason error) {
	// Each holds the table lock; collect acks first and Release
	// outside of it to avoid recursive locking.
	var acks []int64
	l.table.Each(func(ack int64, v any) {
		rec := v.(entryRecord)
		if rec.sessionID == sessionID {
			acks = append(acks, ack)
		}
	})
	for _, ack := range acks {
		val, err := l.table.Release(ack)
		if err != nil {
			continue
		}
		rec := val.(entryRecord)
		l.cfg.Dispatch(func() { rec.entry.Complete(wire.Command{}, nil, reason) })
	}
}

func (l *Listener) drainWithError(reason error) {
	var acks []int64
	l.table.Each(func(ack int64, v any) { acks = append(acks, ack) })
	for _, ack := range acks {
		val, err := l.table.Release(ack)
		if err != nil {
			continue
		}
		rec := val.(entryRecord)
		l.cfg.Dispatch(func() { rec.entry.Complete(wire.Command{}, nil, reason) })
	}
	l.mu.Lock()
	conns := l.conns
	l.conns = make(map[uint64]*connState)
	l.mu.Unlock()
	for _, cs := range conns {
		_ = cs.conn.Close()
	}
}

// String aids debugging/logging call sites.
func (l *Listener) String() string {
	return fmt.Sprintf("listener{fill=%d/%d}", l.table.FillLevel(), l.table.Capacity())
}
