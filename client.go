// Package kinetic implements the core of an asynchronous client for a
// key-value storage device speaking a framed, HMAC-authenticated,
// sequence-numbered binary protocol over TCP. See SPEC_FULL.md for the
// full module breakdown; this file implements the NEW ambient Client
// aggregate that owns the reactor and the session set, replacing the
// source design's global/singleton state (spec.md §9).
package kinetic

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"kinetic-client/config"
	"kinetic-client/internal/kinetlog"
	"kinetic-client/internal/listener"
	"kinetic-client/internal/workerpool"

	"github.com/sirupsen/logrus"
)

// Client owns the reactor and every Session dialed through it. One
// Client is normally enough for a process; nothing prevents running
// several for isolation between unrelated device pools.
type Client struct {
	cfg    *config.Config
	logger *logrus.Logger

	listener *listener.Listener
	pool     *workerpool.Pool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[uint64]*Session
}

// NewClient starts the reactor and worker pool described by cfg. Pass
// nil to use config.Default().
func NewClient(cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := kinetlog.New(cfg.Log.Level, nil)

	ctx, cancel := context.WithCancel(context.Background())
	pool := workerpool.New(cfg.Threads.MaxThreadpool, cfg.Threads.CompletionQueue)
	l := listener.New(listener.Config{
		PendingCapacity: cfg.Reactor.PendingCapacity,
		TickInterval:    cfg.Reactor.TickInterval,
		Logger:          logger,
		// Completion callbacks must never run on the reactor goroutine
		// (spec.md §4.G: complete is re-entrancy safe against a
		// callback that submits a new operation, which would deadlock
		// against ExpectResponse otherwise). Try the pool first; if
		// every worker is busy, fall back to a bare goroutine rather
		// than block Run's loop on a full job queue.
		Dispatch: func(job func()) {
			if !pool.TrySubmit(job) {
				go job()
			}
		},
	})

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		listener: l,
		pool:     pool,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[uint64]*Session),
	}
	go l.Run(ctx)
	return c
}

// Dial opens a new Session to addr (host:port), authenticating future
// requests with identity/secret under HMAC auth.
func (c *Client) Dial(addr string, identity int64, secret []byte) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, newError(StatusConnClosed, "dial %s: %v", addr, err)
	}
	return c.adopt(conn, identity, secret)
}

// Adopt registers an already-connected net.Conn as a Session, for
// callers that manage their own dialing (e.g. TLS handshakes, which
// this package treats as an external concern per spec.md §1).
func (c *Client) Adopt(conn net.Conn, identity int64, secret []byte) (*Session, error) {
	return c.adopt(conn, identity, secret)
}

func (c *Client) adopt(conn net.Conn, identity int64, secret []byte) (*Session, error) {
	sessionID, err := c.listener.AddSocket(conn)
	if err != nil {
		_ = conn.Close()
		return nil, newError(StatusSessionOverloaded, "register session: %v", err)
	}

	sess := &Session{
		client:         c,
		sessionID:      sessionID,
		conn:           conn,
		identity:       identity,
		secret:         secret,
		defaultTimeout: c.cfg.Operation.DefaultTimeout,
	}

	c.mu.Lock()
	c.sessions[sessionID] = sess
	c.mu.Unlock()
	return sess, nil
}

func (c *Client) forget(sessionID uint64) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// FillLevel exposes the reactor's pending-table occupancy, the
// upstream_backpressure hint spec.md §5 describes producers reading to
// throttle submission.
func (c *Client) FillLevel() int { return c.listener.FillLevel() }

// Capacity exposes the reactor's fixed pending-table capacity.
func (c *Client) Capacity() int { return c.listener.Capacity() }

// Close shuts down the reactor, completing every outstanding operation
// across every session with StatusConnClosed, then stops the worker
// pool.
func (c *Client) Close() error {
	c.listener.Shutdown()
	select {
	case <-c.listener.Done():
	case <-time.After(5 * time.Second):
	}
	c.cancel()
	c.pool.Close()
	return nil
}

func (c *Client) String() string {
	c.mu.Lock()
	n := len(c.sessions)
	c.mu.Unlock()
	return fmt.Sprintf("kinetic.Client{sessions=%d}", n)
}
