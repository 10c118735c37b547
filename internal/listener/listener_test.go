package listener_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"kinetic-client/internal/listener"
	"kinetic-client/internal/pdu"
	"kinetic-client/internal/pdu/pdutest"
	"kinetic-client/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEntry is a listener.PendingEntry that records its single
// completion for assertions.
type recordingEntry struct {
	mu   sync.Mutex
	done chan struct{}
	cmd  wire.Command
	val  []byte
	err  error
}

func newRecordingEntry() *recordingEntry {
	return &recordingEntry{done: make(chan struct{})}
}

func (r *recordingEntry) Complete(cmd wire.Command, val []byte, err error) {
	r.mu.Lock()
	r.cmd, r.val, r.err = cmd, val, err
	r.mu.Unlock()
	close(r.done)
}

func (r *recordingEntry) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("entry never completed")
	}
}

func startReactor(t *testing.T) (*listener.Listener, func()) {
	t.Helper()
	l := listener.New(listener.Config{TickInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	return l, cancel
}

func writeReply(t *testing.T, conn *pdutest.Duplex, ackSequence int64, value []byte) {
	t.Helper()
	cmd := wire.Command{Header: wire.Header{AckSequence: ackSequence, HasAckSequence: true}}
	cmdBytes, err := wire.Pack(cmd)
	require.NoError(t, err)
	envBytes, err := wire.PackEnvelope(wire.Envelope{CommandBytes: cmdBytes})
	require.NoError(t, err)
	h := pdu.Header{Version: pdu.VersionMagic, ProtobufLength: uint32(len(envBytes)), ValueLength: uint32(len(value))}
	require.NoError(t, pdu.WriteFrame(conn, h, envBytes, value))
}

func TestReplyDispatchesToExpectedEntry(t *testing.T) {
	l, cancel := startReactor(t)
	defer cancel()

	clientSide, deviceSide := pdutest.NewPair()
	defer clientSide.Close()
	defer deviceSide.Close()

	sessionID, err := l.AddSocket(clientSide)
	require.NoError(t, err)

	entry := newRecordingEntry()
	require.NoError(t, l.ExpectResponse(sessionID, 42, entry, 0))

	writeReply(t, deviceSide, 42, []byte("value-bytes"))

	entry.wait(t)
	assert.NoError(t, entry.err)
	assert.Equal(t, int64(42), entry.cmd.Header.AckSequence)
	assert.Equal(t, []byte("value-bytes"), entry.val)
	assert.Equal(t, 0, l.FillLevel())
}

func TestOperationTimesOutWhenNoReplyArrives(t *testing.T) {
	l, cancel := startReactor(t)
	defer cancel()

	clientSide, deviceSide := pdutest.NewPair()
	defer clientSide.Close()
	defer deviceSide.Close()

	sessionID, err := l.AddSocket(clientSide)
	require.NoError(t, err)

	entry := newRecordingEntry()
	require.NoError(t, l.ExpectResponse(sessionID, 7, entry, 20*time.Millisecond))

	entry.wait(t)
	assert.ErrorIs(t, entry.err, listener.ErrTimeout)
}

func TestConnectionCloseCompletesOutstandingEntries(t *testing.T) {
	l, cancel := startReactor(t)
	defer cancel()

	clientSide, deviceSide := pdutest.NewPair()
	defer deviceSide.Close()

	sessionID, err := l.AddSocket(clientSide)
	require.NoError(t, err)

	entry := newRecordingEntry()
	require.NoError(t, l.ExpectResponse(sessionID, 1, entry, 0))

	require.NoError(t, l.CloseSocket(sessionID))

	entry.wait(t)
	assert.ErrorIs(t, entry.err, listener.ErrConnectionClosed)
}

func TestPendingTableFullSurfacesAsAcquireError(t *testing.T) {
	l := listener.New(listener.Config{PendingCapacity: 1, TickInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	clientSide, _ := pdutest.NewPair()
	defer clientSide.Close()

	sessionID, err := l.AddSocket(clientSide)
	require.NoError(t, err)

	first := newRecordingEntry()
	require.NoError(t, l.ExpectResponse(sessionID, 1, first, 0))

	second := newRecordingEntry()
	err = l.ExpectResponse(sessionID, 2, second, 0)
	require.Error(t, err)
}

func TestShutdownCompletesOutstandingEntries(t *testing.T) {
	l := listener.New(listener.Config{TickInterval: 10 * time.Millisecond})
	ctx := context.Background()
	go l.Run(ctx)

	clientSide, _ := pdutest.NewPair()
	defer clientSide.Close()

	sessionID, err := l.AddSocket(clientSide)
	require.NoError(t, err)

	entry := newRecordingEntry()
	require.NoError(t, l.ExpectResponse(sessionID, 9, entry, 0))

	l.Shutdown()
	entry.wait(t)
	assert.ErrorIs(t, entry.err, listener.ErrShutdown)

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reactor never exited after Shutdown")
	}
}
