package pdu

import "io"

// Corker is the subset of the abstract transport the sender needs to
// batch a header+command+value write into one flight. Plain and TLS
// socket transports implement this; it is the only transport contract
// the codec depends on (spec §1 non-goal: the concrete transport itself
// is out of scope).
type Corker interface {
	io.Writer
	BeginPacket()
	FinishPacket()
}

// WriteFrame corks the transport, writes header+command+optional value,
// then uncorks — even on a write failure, so the transport can flush
// whatever partial state it buffered. The first error encountered is
// returned; the caller (component E, the sender) treats any error as
// synchronous and does not invoke a completion callback for it.
func WriteFrame(c Corker, h Header, command []byte, value []byte) error {
	c.BeginPacket()
	defer c.FinishPacket()

	hdr := h.Encode()
	if _, err := c.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := c.Write(command); err != nil {
		return err
	}
	if len(value) > 0 {
		if _, err := c.Write(value); err != nil {
			return err
		}
	}
	return nil
}
