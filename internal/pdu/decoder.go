package pdu

import "io"

// Stage identifies where a Decoder currently sits in the three-stage
// read described in spec §4.A: header, command, value.
type Stage int

const (
	StageHeader Stage = iota
	StageCommand
	StageValue
	StageDone
)

// Decoder drives the resumable, three-stage frame read. A short read on a
// non-blocking socket simply leaves the Decoder's internal offsets
// advanced; the caller re-invokes Step once the socket is readable again
// and the read resumes exactly where it left off. One Decoder is owned
// per connection.
type Decoder struct {
	stage Stage

	hdrBuf [HeaderSize]byte
	hdrN   int
	header Header

	cmdBuf []byte
	cmdN   int

	sink     []byte
	sinkN    int
	haveSink bool
}

// NewDecoder returns a Decoder positioned at the start of a new frame.
func NewDecoder() *Decoder {
	return &Decoder{stage: StageHeader}
}

// Reset rearms the Decoder to read the next frame. The listener calls it
// after each completed frame; on a decode error its read loop stops for
// that connection instead of resetting and resyncing.
func (d *Decoder) Reset() {
	*d = Decoder{stage: StageHeader}
}

// Step reads from r and advances the state machine as far as that data
// allows. A call may issue more than one Read: completing the header
// continues straight into the command read, and the value stage keeps
// reading until its sink is full or a Read returns no bytes. It returns
// the Stage reached:
//
//   - StageCommand: the header has been read and the command is being
//     read; once CommandComplete reports true, Header() and
//     CommandBytes() are valid. The caller must then call BeginValue or
//     DiscardValue before the next Step to enter the value stage.
//   - StageDone: the frame (including any value) is fully read; Value()
//     returns the bytes placed in the caller's sink (or nil if the frame
//     carried no value). The caller should Reset before decoding the next
//     frame.
//   - Any other return with err == nil means more data is needed; call
//     Step again once the connection is readable.
func (d *Decoder) Step(r io.Reader) (Stage, error) {
	switch d.stage {
	case StageHeader:
		n, err := r.Read(d.hdrBuf[d.hdrN:])
		if n > 0 {
			d.hdrN += n
		}
		if err != nil {
			return d.stage, err
		}
		if d.hdrN < HeaderSize {
			return d.stage, nil
		}
		h, derr := DecodeHeader(d.hdrBuf[:])
		if derr != nil {
			return d.stage, derr
		}
		if err := CheckLength(h.ProtobufLength); err != nil {
			return d.stage, err
		}
		if err := CheckLength(h.ValueLength); err != nil {
			return d.stage, err
		}
		d.header = h
		d.cmdBuf = make([]byte, h.ProtobufLength)
		d.stage = StageCommand
		fallthrough

	case StageCommand:
		if d.cmdN < len(d.cmdBuf) {
			n, err := r.Read(d.cmdBuf[d.cmdN:])
			if n > 0 {
				d.cmdN += n
			}
			if err != nil {
				return d.stage, err
			}
			if d.cmdN < len(d.cmdBuf) {
				return d.stage, nil
			}
		}
		return StageCommand, nil

	case StageValue:
		if !d.haveSink {
			return d.stage, &DecodeError{Kind: ErrValueTooShort, Detail: "value stage entered without a sink"}
		}
		for d.sinkN < len(d.sink) {
			chunk := d.sink[d.sinkN:]
			n, err := r.Read(chunk)
			if n > 0 {
				d.sinkN += n
			}
			if err != nil {
				return d.stage, err
			}
			if n == 0 {
				return d.stage, nil
			}
		}
		d.stage = StageDone
		return StageDone, nil

	default: // StageDone
		return d.stage, nil
	}
}

// CommandComplete reports whether the full command payload has been
// read. Step can return StageCommand repeatedly while the command is
// still arriving in pieces — callers waiting for the command to be
// ready must check this, not just compare the returned Stage.
func (d *Decoder) CommandComplete() bool {
	return d.stage == StageCommand && d.cmdN == len(d.cmdBuf)
}

// Header returns the decoded header. Valid once Step has reached
// StageCommand or later.
func (d *Decoder) Header() Header { return d.header }

// CommandBytes returns the raw packed command. Valid once Step has
// reached StageCommand or later.
func (d *Decoder) CommandBytes() []byte { return d.cmdBuf }

// BeginValue arms the value stage with the caller's destination buffer,
// which must be exactly Header().ValueLength bytes. When the caller
// doesn't want the bytes copied anywhere durable, use
// DiscardValue instead, which reads into an internal
// scratch buffer so the stream stays in sync without the caller owning
// memory sized to an attacker/peer-controlled length.
func (d *Decoder) BeginValue(sink []byte) {
	d.sink = sink
	d.sinkN = 0
	d.haveSink = true
	d.stage = StageValue
	if len(sink) == 0 {
		d.stage = StageDone
	}
}

// DiscardValue drains ValueLength bytes without retaining them, used
// when the response carries a value the caller didn't ask for.
func (d *Decoder) DiscardValue() {
	n := int(d.header.ValueLength)
	if n == 0 {
		d.stage = StageDone
		return
	}
	d.sink = make([]byte, n)
	d.sinkN = 0
	d.haveSink = true
	d.stage = StageValue
}

// Value returns the bytes read into the sink during the value stage.
func (d *Decoder) Value() []byte {
	if !d.haveSink {
		return nil
	}
	return d.sink[:d.sinkN]
}
