package kinetic

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Session is a long-lived connection context (spec.md §3): remote
// address, identity, shared HMAC secret, cluster version, and a
// monotonically increasing sequence counter, guarded by a write mutex
// held only across frame emission.
type Session struct {
	client    *Client
	sessionID uint64
	conn      net.Conn

	identity int64
	secret   []byte

	clusterVersion int64 // atomic
	sequence       int64 // atomic

	writeMu sync.Mutex

	defaultTimeout time.Duration
}

// nextSequence atomically advances the session's sequence counter
// under the session-level discipline spec.md §5 requires: monotonic,
// gap-free, unique per session.
func (s *Session) nextSequence() int64 {
	return atomic.AddInt64(&s.sequence, 1)
}

// ClusterVersion returns the session's last-known cluster version.
func (s *Session) ClusterVersion() int64 {
	return atomic.LoadInt64(&s.clusterVersion)
}

// SetClusterVersion updates the session's cluster version, normally
// called from a SETCLUSTERVERSION completion.
func (s *Session) SetClusterVersion(v int64) {
	atomic.StoreInt64(&s.clusterVersion, v)
}

// FillLevel exposes the owning reactor's pending-table occupancy.
func (s *Session) FillLevel() int { return s.client.listener.FillLevel() }

// Close tears the session's connection down, failing every operation
// still outstanding on it with StatusConnClosed.
func (s *Session) Close() error {
	s.client.forget(s.sessionID)
	return s.client.listener.CloseSocket(s.sessionID)
}
