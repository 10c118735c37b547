package kinetic

import (
	"errors"
	"net"

	"kinetic-client/internal/auth"
	"kinetic-client/internal/listener"
	"kinetic-client/internal/pdu"
	"kinetic-client/internal/pending"
	"kinetic-client/internal/wire"
)

// connCorker adapts a net.Conn to pdu.Corker. The real protocol's
// "cork, write header+command+value, uncork" sequence exists to make
// the three writes land in one TCP segment; batching at that
// granularity is a transport-level concern this package leaves to the
// kernel (spec.md §1 puts the concrete transport out of scope), so
// BeginPacket/FinishPacket are no-ops here.
type connCorker struct{ net.Conn }

func (connCorker) BeginPacket()  {}
func (connCorker) FinishPacket() {}

// send packs op, authenticates it per op.authMode, and writes it to
// op.session's connection.
//
// Registration happens before the write, not after, reversing the
// literal order of spec.md §4.E's numbered steps: the pending-table
// slot is reserved first so a full table or command queue (the 33rd
// outstanding operation, spec.md §8 scenario 5) fails synchronously
// with StatusSessionOverloaded without ever touching the wire. A
// registered-then-abandoned slot (write failure after registration) is
// rolled back with CancelResponse rather than left to complete
// asynchronously, so the builder's synchronous error is the only completion
// the caller observes for that failure. See DESIGN.md.
func (op *Operation) send() error {
	sess := op.session

	op.command.Header.Sequence = op.sequence
	op.command.Header.AckSequence = op.sequence
	op.command.Header.ClusterVersion = sess.ClusterVersion()
	op.command.Header.MessageType = op.messageType
	op.command.Header.HasSequence = true
	op.command.Header.HasAckSequence = true
	op.command.Header.HasMessageType = true

	timeout := op.effectiveTimeout()
	if timeout == 0 {
		timeout = sess.defaultTimeout
		op.SetTimeoutTime(timeout)
		timeout = op.effectiveTimeout()
	}

	if err := sess.client.listener.ExpectResponse(sess.sessionID, op.sequence, op, timeout); err != nil {
		return mapSubmitError(err)
	}

	cmdBytes, err := wire.Pack(op.command)
	if err != nil {
		_ = sess.client.listener.CancelResponse(op.sequence)
		return newError(StatusInvalid, "pack command: %v", err)
	}

	envelope := buildEnvelope(op, sess, cmdBytes)
	envBytes, err := wire.PackEnvelope(envelope)
	if err != nil {
		_ = sess.client.listener.CancelResponse(op.sequence)
		return newError(StatusInvalid, "pack envelope: %v", err)
	}

	if err := pdu.CheckLength(uint32(len(envBytes))); err != nil {
		_ = sess.client.listener.CancelResponse(op.sequence)
		return newError(StatusBufferOverrun, "%v", err)
	}
	if err := pdu.CheckLength(uint32(len(op.valueToSend))); err != nil {
		_ = sess.client.listener.CancelResponse(op.sequence)
		return newError(StatusBufferOverrun, "%v", err)
	}

	header := pdu.Header{
		Version:        pdu.VersionMagic,
		ProtobufLength: uint32(len(envBytes)),
		ValueLength:    uint32(len(op.valueToSend)),
	}

	sess.writeMu.Lock()
	writeErr := pdu.WriteFrame(connCorker{sess.conn}, header, envBytes, op.valueToSend)
	sess.writeMu.Unlock()
	if writeErr != nil {
		_ = sess.client.listener.CancelResponse(op.sequence)
		return newError(StatusConnClosed, "write frame: %v", writeErr)
	}
	return nil
}

// buildEnvelope selects the auth envelope op.authMode calls for and
// carries it alongside the packed command bytes it authenticates.
func buildEnvelope(op *Operation, sess *Session, cmdBytes []byte) wire.Envelope {
	var a auth.Envelope
	switch op.authMode {
	case auth.ModeHMAC:
		a = auth.NewHMACEnvelope(sess.identity, sess.secret, cmdBytes)
	case auth.ModePIN:
		a = auth.NewPINEnvelope(op.pin)
	default:
		a = auth.Envelope{Type: auth.ModeUnauthenticated}
	}

	env := wire.Envelope{
		CommandBytes: cmdBytes,
		AuthType:     int32(a.Type),
		Identity:     a.Identity,
	}
	if a.HMACAuth != nil {
		env.HMAC = a.HMACAuth.HMAC
	}
	if a.PINAuth != nil {
		env.PIN = a.PINAuth.PIN
	}
	return env
}

// mapSubmitError translates a registration failure from the reactor
// into the Status a caller expects to branch on.
func mapSubmitError(err error) error {
	switch {
	case errors.Is(err, listener.ErrQueueFull):
		return newError(StatusSessionOverloaded, "command queue full")
	case errors.Is(err, pending.ErrTableFull):
		return newError(StatusSessionOverloaded, "pending table full")
	case errors.Is(err, listener.ErrUnknownSession):
		return newError(StatusConnClosed, "session not registered with reactor")
	default:
		return newError(StatusOperationFailed, "%v", err)
	}
}
