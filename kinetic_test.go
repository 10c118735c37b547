package kinetic

import (
	"testing"
	"time"

	"kinetic-client/config"
	"kinetic-client/internal/pdu"
	"kinetic-client/internal/pdu/pdutest"
	"kinetic-client/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFakeDevice runs a tiny synchronous "device" on the far end of an
// in-memory duplex: it decodes one request frame at a time, asks
// handler how to respond, and (when respond is true) writes the reply
// frame back. handler stands in for everything a real Kinetic device
// would do — key/value storage, version bookkeeping, log assembly.
func startFakeDevice(t *testing.T, conn *pdutest.Duplex, handler func(cmd wire.Command, value []byte) (reply wire.Command, value2 []byte, respond bool)) {
	t.Helper()
	go func() {
		dec := pdu.NewDecoder()
		for {
			stage, err := dec.Step(conn)
			if err != nil {
				return
			}
			if !dec.CommandComplete() {
				continue
			}
			env, err := wire.UnpackEnvelope(dec.CommandBytes())
			if err != nil {
				return
			}
			cmd, err := wire.Unpack(env.CommandBytes)
			if err != nil {
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
					return
				}
			}
			reqValue := dec.Value()
			dec.Reset()

			replyCmd, replyValue, respond := handler(cmd, reqValue)
			if !respond {
				continue
			}
			replyCmd.Header.AckSequence = cmd.Header.AckSequence
			replyCmd.Header.HasAckSequence = true

			cmdBytes, err := wire.Pack(replyCmd)
			if err != nil {
				return
			}
			envBytes, err := wire.PackEnvelope(wire.Envelope{CommandBytes: cmdBytes})
			if err != nil {
				return
			}
			h := pdu.Header{Version: pdu.VersionMagic, ProtobufLength: uint32(len(envBytes)), ValueLength: uint32(len(replyValue))}
			if err := pdu.WriteFrame(conn, h, envBytes, replyValue); err != nil {
				return
			}
		}
	}()
}

func newTestClient(t *testing.T, cfg *config.Config) (*Client, *Session, *pdutest.Duplex) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
		cfg.Operation.DefaultTimeout = 2 * time.Second
	}
	cfg.Reactor.TickInterval = 5 * time.Millisecond

	c := NewClient(cfg)
	t.Cleanup(func() { _ = c.Close() })

	clientSide, deviceSide := pdutest.NewPair()
	sess, err := c.Adopt(clientSide, 1, []byte("shared-secret"))
	require.NoError(t, err)
	return c, sess, deviceSide
}

func awaitResult(t *testing.T, ch <-chan CompletionResult) CompletionResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("operation never completed")
		panic("unreachable")
	}
}

func TestNoopRoundTrip(t *testing.T) {
	_, sess, device := newTestClient(t, nil)
	startFakeDevice(t, device, func(wire.Command, []byte) (wire.Command, []byte, bool) {
		return wire.Command{Status: wire.Status{Code: wire.StatusCodeSuccess}}, nil, true
	})

	done := make(chan CompletionResult, 1)
	_, err := BuildNoop(sess, func(r CompletionResult) { done <- r })
	require.NoError(t, err)

	r := awaitResult(t, done)
	assert.NoError(t, r.Err)
	assert.Equal(t, StatusSuccess, r.Status)
}

func TestPutThenGetSameKey(t *testing.T) {
	_, sess, device := newTestClient(t, nil)

	store := map[string][]byte{}
	versions := map[string][]byte{}
	startFakeDevice(t, device, func(cmd wire.Command, value []byte) (wire.Command, []byte, bool) {
		switch cmd.Header.MessageType {
		case wire.MessageTypePut:
			kv := cmd.Body.KeyValue
			store[string(kv.Key)] = append([]byte(nil), value...)
			ver := kv.NewVersion
			if len(ver) == 0 {
				ver = []byte("v1")
			}
			versions[string(kv.Key)] = ver
			return wire.Command{Status: wire.Status{Code: wire.StatusCodeSuccess}}, nil, true

		case wire.MessageTypeGet:
			kv := cmd.Body.KeyValue
			val, ok := store[string(kv.Key)]
			if !ok {
				return wire.Command{Status: wire.Status{Code: wire.StatusCodeNotFound}}, nil, true
			}
			reply := wire.Command{
				Status: wire.Status{Code: wire.StatusCodeSuccess},
				Body: wire.Body{KeyValue: &wire.KeyValue{
					Key:       kv.Key,
					DBVersion: versions[string(kv.Key)],
				}},
			}
			return reply, val, true

		default:
			return wire.Command{Status: wire.Status{Code: wire.StatusCodeInternalError}}, nil, true
		}
	})

	putKV := &wire.KeyValue{Key: []byte("widget"), NewVersion: []byte("v1")}
	putDone := make(chan CompletionResult, 1)
	_, err := BuildPut(sess, putKV, []byte("hello-widget"), func(r CompletionResult) { putDone <- r })
	require.NoError(t, err)

	putResult := awaitResult(t, putDone)
	require.NoError(t, putResult.Err)
	assert.Equal(t, []byte("v1"), putKV.DBVersion)
	assert.Nil(t, putKV.NewVersion, "newVersion must be cleared after the rotation")

	getKV := &wire.KeyValue{Key: []byte("widget")}
	getDone := make(chan CompletionResult, 1)
	_, err = BuildGet(sess, getKV, func(r CompletionResult) { getDone <- r })
	require.NoError(t, err)

	getResult := awaitResult(t, getDone)
	require.NoError(t, getResult.Err)
	assert.Equal(t, []byte("hello-widget"), getResult.Value)
	require.NotNil(t, getResult.KeyValue)
	assert.Equal(t, []byte("v1"), getResult.KeyValue.DBVersion)
}

func TestGetMissReturnsNotFound(t *testing.T) {
	_, sess, device := newTestClient(t, nil)
	startFakeDevice(t, device, func(wire.Command, []byte) (wire.Command, []byte, bool) {
		return wire.Command{Status: wire.Status{Code: wire.StatusCodeNotFound}}, nil, true
	})

	done := make(chan CompletionResult, 1)
	_, err := BuildGet(sess, &wire.KeyValue{Key: []byte("missing")}, func(r CompletionResult) { done <- r })
	require.NoError(t, err)

	r := awaitResult(t, done)
	assert.Equal(t, StatusNotFound, r.Status)
	assert.Error(t, r.Err)
}

func TestOperationTimesOutAndLateReplyIsDropped(t *testing.T) {
	cfg := config.Default()
	cfg.Operation.DefaultTimeout = 30 * time.Millisecond
	_, sess, device := newTestClient(t, cfg)

	replyNow := make(chan struct{})
	var lateAck int64
	startFakeDevice(t, device, func(cmd wire.Command, value []byte) (wire.Command, []byte, bool) {
		lateAck = cmd.Header.AckSequence
		<-replyNow // held back until the test explicitly releases it, well past the deadline
		return wire.Command{Status: wire.Status{Code: wire.StatusCodeSuccess}}, nil, true
	})

	done := make(chan CompletionResult, 1)
	_, err := BuildNoop(sess, func(r CompletionResult) { done <- r })
	require.NoError(t, err)

	r := awaitResult(t, done)
	assert.Equal(t, StatusOperationTimedOut, r.Status)
	assert.Error(t, r.Err)

	close(replyNow)
	_ = lateAck
	// The late reply now lands on an ack_sequence the pending table no
	// longer holds; handleFrame logs and drops it rather than firing a
	// second completion. Give the reactor a moment to process it and
	// confirm nothing else arrives on done.
	select {
	case <-done:
		t.Fatal("a second completion fired for the already-timed-out operation")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueOverloadFailsSynchronously(t *testing.T) {
	cfg := config.Default()
	cfg.Reactor.PendingCapacity = 32
	cfg.Operation.DefaultTimeout = 5 * time.Second
	_, sess, _ := newTestClient(t, cfg)

	for i := 0; i < 32; i++ {
		_, err := BuildNoop(sess, func(CompletionResult) {})
		require.NoErrorf(t, err, "operation %d of 32 should be admitted", i)
	}

	_, err := BuildNoop(sess, func(CompletionResult) {})
	require.Error(t, err)
	assert.Equal(t, StatusSessionOverloaded, StatusOf(err))
}

func TestP2PChainDepthExceedsCapRejectedSynchronously(t *testing.T) {
	_, sess, _ := newTestClient(t, nil)

	root := &wire.P2POperation{Peer: wire.P2PPeer{Hostname: "peer-a"}}
	cur := root
	for i := 0; i < MaxP2PChainDepth+5; i++ {
		next := &wire.P2POperation{Peer: wire.P2PPeer{Hostname: "peer-a"}}
		cur.Operations = []wire.P2POperationEntry{{Key: []byte("k"), Chained: next}}
		cur = next
	}

	_, err := BuildP2P(sess, root, func(CompletionResult) {})
	require.Error(t, err)
	assert.Equal(t, StatusOperationInvalid, StatusOf(err))
}

func TestP2PChainWithinCapIsAccepted(t *testing.T) {
	_, sess, device := newTestClient(t, nil)
	startFakeDevice(t, device, func(cmd wire.Command, value []byte) (wire.Command, []byte, bool) {
		reply := *cmd.Body.P2POperation
		for i := range reply.Operations {
			statusVal := wire.StatusCodeSuccess
			reply.Operations[i].Status = &statusVal
		}
		return wire.Command{Status: wire.Status{Code: wire.StatusCodeSuccess}, Body: wire.Body{P2POperation: &reply}}, nil, true
	})

	root := &wire.P2POperation{
		Peer:       wire.P2PPeer{Hostname: "peer-a"},
		Operations: []wire.P2POperationEntry{{Key: []byte("k1")}, {Key: []byte("k2")}},
	}

	done := make(chan CompletionResult, 1)
	_, err := BuildP2P(sess, root, func(r CompletionResult) { done <- r })
	require.NoError(t, err)

	r := awaitResult(t, done)
	require.NoError(t, r.Err)
	require.Len(t, root.Operations, 2)
	assert.Equal(t, wire.StatusCodeSuccess, *root.Operations[0].Status)
	assert.Equal(t, wire.StatusCodeSuccess, *root.Operations[1].Status)
}

func TestSetTimeoutTimeIsIdempotent(t *testing.T) {
	op := &Operation{}
	op.SetTimeoutTime(50 * time.Millisecond)
	first := op.GetTimeoutTime()

	time.Sleep(5 * time.Millisecond)
	op.SetTimeoutTime(50 * time.Millisecond)
	second := op.GetTimeoutTime()

	assert.True(t, second.After(first), "the second call must move the deadline forward, not accumulate")
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), second, 15*time.Millisecond)
}

func TestOperationCompletesExactlyOnce(t *testing.T) {
	var n int
	op := &Operation{}
	op.thunk = func(wire.Command, []byte, error) { n++ }

	op.Complete(wire.Command{}, nil, nil)
	op.Complete(wire.Command{}, nil, nil)

	assert.Equal(t, 1, n)
}

func TestCallbackMaySubmitAnotherOperation(t *testing.T) {
	_, sess, device := newTestClient(t, nil)
	startFakeDevice(t, device, func(wire.Command, []byte) (wire.Command, []byte, bool) {
		return wire.Command{Status: wire.Status{Code: wire.StatusCodeSuccess}}, nil, true
	})

	// A callback that submits a new operation must not deadlock: the
	// reactor dispatches Complete off its own goroutine precisely so
	// this re-entrant Submit can still be serviced.
	done := make(chan CompletionResult, 1)
	var submitErr error
	_, err := BuildNoop(sess, func(r CompletionResult) {
		_, submitErr = BuildNoop(sess, func(r2 CompletionResult) { done <- r2 })
	})
	require.NoError(t, err)

	r := awaitResult(t, done)
	assert.NoError(t, r.Err)
	assert.NoError(t, submitErr)
}

func TestSessionSequenceIsMonotonicAndGapFree(t *testing.T) {
	sess := &Session{}
	prev := sess.nextSequence()
	for i := 0; i < 100; i++ {
		next := sess.nextSequence()
		assert.Equal(t, prev+1, next)
		prev = next
	}
}
