// Package message
package message

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrPumpStopped is returned by Pump.Send after the pump's Run has
// finished.
var ErrPumpStopped = errors.New("message: pump stopped")

type PumpOption = func(*PumpOptions)

// WithOnMessage sets the callback handed every received message.
// Required; a callback error stops the pump.
func WithOnMessage(f func(body interface{}) error) PumpOption {
	return func(op *PumpOptions) {
		op.OnMessage = f
	}
}

// WithNewValue sets the factory producing decode targets for the read
// loop. Defaults to a fresh *interface{} per message.
func WithNewValue(f func() interface{}) PumpOption {
	return func(op *PumpOptions) {
		op.NewValue = f
	}
}

// WithQueueSize sets the outbound queue depth.
func WithQueueSize(n int) PumpOption {
	return func(op *PumpOptions) {
		op.QueueSize = n
	}
}

type PumpOptions struct {
	OnMessage func(body interface{}) error
	NewValue  func() interface{}
	QueueSize int
}

func (op *PumpOptions) Apply(options []PumpOption) {
	for _, f := range options {
		f(op)
	}
}

func defaultPumpOptions() *PumpOptions {
	return &PumpOptions{
		NewValue:  func() interface{} { return new(interface{}) },
		QueueSize: 1,
	}
}

// NewPump wraps a handler with the one-read-loop/one-write-queue
// discipline the handler's single-reader/single-writer contract asks
// for. The pump adds no dispatch, correlation, or retry.
func NewPump(h *Handler, options ...PumpOption) (*Pump, error) {
	if h == nil {
		return nil, errors.New("message: nil handler")
	}

	ops := defaultPumpOptions()
	ops.Apply(options)
	if ops.OnMessage == nil {
		return nil, errors.New("message: nil OnMessage callback")
	}
	if ops.QueueSize <= 0 {
		ops.QueueSize = 1
	}

	p := &Pump{
		h:         h,
		onMessage: ops.OnMessage,
		newValue:  ops.NewValue,
		sending:   make(chan interface{}, ops.QueueSize),
		done:      make(chan struct{}),
		id:        uuid.NewString(),
	}
	p.log = log.WithFields(log.Fields{
		"Name":    "MessagePump",
		"ID":      p.id,
		"Handler": h.ID(),
	})
	return p, nil
}

type Pump struct {
	h         *Handler
	onMessage func(body interface{}) error
	newValue  func() interface{}
	sending   chan interface{}
	done      chan struct{}
	id        string
	log       *log.Entry
}

// Run drives the read loop and the write queue until the peer closes the
// channel (returns nil), the context ends, or an I/O or callback error
// occurs. Call it once.
func (p *Pump) Run(ctx context.Context) error {
	defer close(p.done)

	p.log.Debug("pump running")
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return p.readLoop(ctx)
	})
	group.Go(func() error {
		return p.writeLoop(ctx)
	})

	err := group.Wait()
	if err == io.EOF {
		err = nil
	}
	p.log.Debugf("pump stopped: %v", err)
	return err
}

// Send queues body for the write loop. It blocks while the queue is full
// and fails once the pump has stopped.
func (p *Pump) Send(ctx context.Context, body interface{}) error {
	if body == nil {
		return ErrNilMessage
	}
	select {
	case <-p.done:
		return ErrPumpStopped
	default:
	}
	select {
	case p.sending <- body:
		return nil
	case <-p.done:
		return ErrPumpStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pump) readLoop(ctx context.Context) error {
	for {
		body := p.newValue()
		if err := p.h.Receive(ctx, body); err != nil {
			return err
		}
		if err := p.onMessage(body); err != nil {
			return err
		}
	}
}

func (p *Pump) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case body := <-p.sending:
			if err := p.h.Send(ctx, body); err != nil {
				return err
			}
		}
	}
}
