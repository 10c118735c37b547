package kinetic

import (
	"kinetic-client/internal/auth"
	"kinetic-client/internal/wire"
)

// MaxP2PChainDepth bounds how many links a peer-to-peer push's Chained
// sub-operations may nest. spec.md §4.D leaves the cap an open
// question ("capped at 1000"); DESIGN.md records the decision and the
// rejected alternative (10000).
const MaxP2PChainDepth = 1000

// BuildP2P builds a peer-to-peer push operation. p2p may describe a
// chain of sub-operations via P2POperationEntry.Chained; chains deeper
// than MaxP2PChainDepth fail synchronously with StatusOperationInvalid
// before anything is sent, matching spec.md §4.D's "fails the builder"
// wording (the alternative — failing asynchronously after a round trip
// — would leave the caller unable to distinguish a local validation
// failure from a device rejection).
func BuildP2P(sess *Session, p2p *wire.P2POperation, cb CompletionFunc) (*Operation, error) {
	if p2p == nil {
		return nil, newError(StatusOperationInvalid, "p2p: nil operation")
	}
	if depth := p2pChainDepth(p2p, 0); depth > MaxP2PChainDepth {
		return nil, newError(StatusOperationInvalid, "p2p: chain depth %d exceeds cap of %d", depth, MaxP2PChainDepth)
	}

	op := newOperation(sess, wire.MessageTypePeerToPeerPush, auth.ModeHMAC)
	op.command.Body.P2POperation = p2p
	op.thunk = func(cmd wire.Command, value []byte, err error) {
		res := replyResult(cmd, value, err)
		if res.Err == nil && res.P2P != nil {
			p2pCopyStatus(p2p, res.P2P)
		}
		// The builder owns the tree for the lifetime of the operation;
		// drop the reference once the thunk has read it so a caller
		// that discards the Operation doesn't keep it alive via a
		// closure the reactor still references.
		op.command.Body.P2POperation = nil
		if cb != nil {
			cb(res)
		}
	}
	if err := op.send(); err != nil {
		return nil, err
	}
	return op, nil
}

// p2pChainDepth returns the longest Chained link chain reachable from
// op, counting op's own level as depth+1.
func p2pChainDepth(op *wire.P2POperation, depth int) int {
	if op == nil {
		return depth
	}
	depth++
	max := depth
	for i := range op.Operations {
		if op.Operations[i].Chained != nil {
			if d := p2pChainDepth(op.Operations[i].Chained, depth); d > max {
				max = d
			}
		}
	}
	return max
}

// p2pCopyStatus walks reply's per-entry status codes into want's
// entries (spec.md §4.D point 5: "peer-to-peer walks reply status
// codes into the request tree"), recursing into chained operations.
func p2pCopyStatus(want, reply *wire.P2POperation) {
	if want == nil || reply == nil {
		return
	}
	n := len(want.Operations)
	if len(reply.Operations) < n {
		n = len(reply.Operations)
	}
	for i := 0; i < n; i++ {
		want.Operations[i].Status = reply.Operations[i].Status
		if want.Operations[i].Chained != nil && reply.Operations[i].Chained != nil {
			p2pCopyStatus(want.Operations[i].Chained, reply.Operations[i].Chained)
		}
	}
}
