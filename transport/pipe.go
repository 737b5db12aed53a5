// Package transport
package transport

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Pipe returns a connected pair of in-memory channels. Frames sent on one
// end arrive on the other in order; a frame larger than the receiver's
// buffer is consumed across successive Receive calls, the way a real
// socket channel reports byte counts. Useful for tests and for wiring two
// in-process message handlers together.
//
// Data frames hand over synchronously: Send blocks until the peer has
// received the frame or the context ends. Close never blocks.
func Pipe() (Channel, Channel) {
	ab := make(chan *pipeFrame)
	ba := make(chan *pipeFrame)
	abClose := make(chan *pipeFrame, 1)
	baClose := make(chan *pipeFrame, 1)
	a := &pipeChannel{in: ba, out: ab, closeIn: baClose, closeOut: abClose}
	b := &pipeChannel{in: ab, out: ba, closeIn: abClose, closeOut: baClose}
	return a, b
}

type pipeFrame struct {
	kind    Kind
	payload []byte
	final   bool
}

type pipeChannel struct {
	in       chan *pipeFrame
	out      chan *pipeFrame
	closeIn  chan *pipeFrame
	closeOut chan *pipeFrame
	state    atomic.Int32
	current  *pipeFrame // partially consumed inbound frame
}

func (p *pipeChannel) Receive(ctx context.Context, buf []byte) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	// A received close is permanent; every later receive reports it again.
	switch p.State() {
	case StateCloseReceived, StateClosed:
		return Frame{Kind: KindClose}, nil
	}

	if p.current == nil {
		var f *pipeFrame
		// Drain queued data before looking at the close lane so a close
		// never overtakes frames already handed over.
		select {
		case f = <-p.in:
		default:
			select {
			case f = <-p.in:
			case f = <-p.closeIn:
			case <-ctx.Done():
				return Frame{}, ctx.Err()
			}
		}
		if f.kind == KindClose {
			if !p.casState(StateOpen, StateCloseReceived) {
				p.casState(StateCloseSent, StateClosed)
			}
			return Frame{Kind: KindClose}, nil
		}
		p.current = f
	}

	n := copy(buf, p.current.payload)
	p.current.payload = p.current.payload[n:]
	f := Frame{Kind: p.current.kind, N: n}
	if len(p.current.payload) == 0 {
		f.Final = p.current.final
		p.current = nil
	}
	return f, nil
}

func (p *pipeChannel) Send(ctx context.Context, data []byte, kind Kind, final bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch p.State() {
	case StateCloseSent, StateClosed:
		return ErrClosed
	}
	if kind != KindText && kind != KindBinary {
		return errors.Errorf("pipe send: kind %s not sendable", kind)
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	select {
	case p.out <- &pipeFrame{kind: kind, payload: payload, final: final}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeChannel) Close(ctx context.Context, status StatusCode, reason string) error {
	switch p.State() {
	case StateCloseSent, StateClosed:
		return nil
	}

	// The close lane holds one frame; if one is already queued the peer
	// has all it needs.
	select {
	case p.closeOut <- &pipeFrame{kind: KindClose}:
	default:
	}

	if !p.casState(StateOpen, StateCloseSent) {
		p.casState(StateCloseReceived, StateClosed)
	}
	return nil
}

func (p *pipeChannel) State() State {
	return State(p.state.Load())
}

func (p *pipeChannel) casState(from, to State) bool {
	return p.state.CompareAndSwap(int32(from), int32(to))
}
