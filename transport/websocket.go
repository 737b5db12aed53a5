// Package transport
package transport

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// aLongTimeAgo is a deadline in the past, used to knock a blocked
// read or write off the connection when its context is canceled.
var aLongTimeAgo = time.Unix(1, 0)

const closeWriteWait = 10 * time.Second

// NewWebSocket wraps a connected *websocket.Conn into a Channel. The
// connection must not be used directly afterwards; closing the underlying
// network socket when the channel is done remains the caller's job.
//
// Gorilla treats read and write errors as permanent, so canceling an
// in-flight Receive or Send leaves the channel unusable, the same as any
// other transport failure.
func NewWebSocket(c *websocket.Conn) Channel {
	ws := &wsChannel{conn: c}
	// Record the peer's close frame instead of letting gorilla echo it;
	// answering the handshake is the message layer's decision.
	c.SetCloseHandler(func(code int, text string) error {
		if !ws.casState(StateOpen, StateCloseReceived) {
			ws.casState(StateCloseSent, StateClosed)
		}
		return nil
	})
	return ws
}

type wsChannel struct {
	conn   *websocket.Conn
	reader io.Reader // in-progress inbound message, nil between messages
	kind   Kind
	writer io.WriteCloser // in-progress outbound message, nil between messages
	state  atomic.Int32
}

func (c *wsChannel) Receive(ctx context.Context, buf []byte) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	defer armDeadline(ctx, c.conn.SetReadDeadline)()

	if c.reader == nil {
		typ, r, err := c.conn.NextReader()
		if err != nil {
			return c.readError(ctx, err)
		}
		switch typ {
		case websocket.TextMessage:
			c.kind = KindText
		default:
			c.kind = KindBinary
		}
		c.reader = r
	}

	n, err := c.reader.Read(buf)
	if err == io.EOF {
		c.reader = nil
		return Frame{Kind: c.kind, N: n, Final: true}, nil
	}
	if err != nil {
		return c.readError(ctx, err)
	}
	return Frame{Kind: c.kind, N: n}, nil
}

// readError translates gorilla read failures: a peer close frame becomes a
// KindClose receipt, a canceled context surfaces as the context's error,
// anything else is a transport fault.
func (c *wsChannel) readError(ctx context.Context, err error) (Frame, error) {
	if _, ok := err.(*websocket.CloseError); ok {
		c.reader = nil
		return Frame{Kind: KindClose}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Frame{}, ctxErr
	}
	return Frame{}, errors.Wrap(err, "websocket receive")
}

func (c *wsChannel) Send(ctx context.Context, data []byte, kind Kind, final bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch c.State() {
	case StateCloseSent, StateClosed:
		return ErrClosed
	}

	var typ int
	switch kind {
	case KindText:
		typ = websocket.TextMessage
	case KindBinary:
		typ = websocket.BinaryMessage
	default:
		return errors.Errorf("websocket send: kind %s not sendable", kind)
	}

	defer armDeadline(ctx, c.conn.SetWriteDeadline)()

	if c.writer == nil {
		w, err := c.conn.NextWriter(typ)
		if err != nil {
			return c.writeError(ctx, err)
		}
		c.writer = w
	}

	if _, err := c.writer.Write(data); err != nil {
		return c.writeError(ctx, err)
	}
	if final {
		w := c.writer
		c.writer = nil
		if err := w.Close(); err != nil {
			return c.writeError(ctx, err)
		}
	}
	return nil
}

func (c *wsChannel) writeError(ctx context.Context, err error) error {
	if err == websocket.ErrCloseSent {
		return ErrClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrap(err, "websocket send")
}

func (c *wsChannel) Close(ctx context.Context, status StatusCode, reason string) error {
	switch c.State() {
	case StateCloseSent, StateClosed:
		return nil
	}

	deadline := time.Now().Add(closeWriteWait)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	payload := websocket.FormatCloseMessage(int(status), reason)
	err := c.conn.WriteControl(websocket.CloseMessage, payload, deadline)
	if err != nil && err != websocket.ErrCloseSent {
		return errors.Wrap(err, "websocket close")
	}

	if !c.casState(StateOpen, StateCloseSent) {
		c.casState(StateCloseReceived, StateClosed)
	}
	return nil
}

func (c *wsChannel) State() State {
	return State(c.state.Load())
}

func (c *wsChannel) casState(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// armDeadline applies the context's deadline to one direction of a
// connection and knocks a blocked call loose if the context is canceled
// mid-flight. The returned func releases the watcher.
func armDeadline(ctx context.Context, set func(time.Time) error) func() bool {
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = set(deadline)
	return context.AfterFunc(ctx, func() { _ = set(aLongTimeAgo) })
}
