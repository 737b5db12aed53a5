// Package transport
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

/* socket frame layout
magic:    1 byte
flag:     1 byte
kind:     1 byte
reserved: 1 byte
crc:      4 bytes, IEEE over the payload
length:   4 bytes
payload:  length bytes
*/

const (
	socketMagic     byte = 0x6d
	socketHeaderLen      = 12

	// maxSocketPayload bounds a single frame so a corrupt length field
	// cannot demand an absurd allocation. Enforced on both paths: a
	// frame the reader would reject is never written.
	maxSocketPayload = 1 << 24

	finalFlag byte = 1
)

// NewSocket wraps a connected stream socket into a Channel using the
// length-prefixed frame layout above. Both ends must speak it; the layout
// is not websocket-compatible. A close crosses the wire as an in-band
// frame carrying status and reason. Closing the underlying connection
// when the channel is done remains the caller's job.
func NewSocket(conn net.Conn) Channel {
	return &socketChannel{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

type socketFrame struct {
	kind    Kind
	payload []byte
	final   bool
}

type socketChannel struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex // one whole frame on the wire at a time

	current *socketFrame // partially consumed inbound frame
	state   atomic.Int32
}

func (c *socketChannel) Receive(ctx context.Context, buf []byte) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	// A received close is permanent; every later receive reports it again.
	switch c.State() {
	case StateCloseReceived, StateClosed:
		return Frame{Kind: KindClose}, nil
	}

	if c.current == nil {
		f, err := c.readFrame(ctx)
		if err != nil {
			return Frame{}, err
		}
		if f.kind == KindClose {
			if !c.casState(StateOpen, StateCloseReceived) {
				c.casState(StateCloseSent, StateClosed)
			}
			return Frame{Kind: KindClose}, nil
		}
		c.current = f
	}

	n := copy(buf, c.current.payload)
	c.current.payload = c.current.payload[n:]
	f := Frame{Kind: c.current.kind, N: n}
	if len(c.current.payload) == 0 {
		f.Final = c.current.final
		c.current = nil
	}
	return f, nil
}

func (c *socketChannel) readFrame(ctx context.Context) (*socketFrame, error) {
	defer armDeadline(ctx, c.conn.SetReadDeadline)()

	var header [socketHeaderLen]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, c.readError(ctx, err)
	}
	if header[0] != socketMagic {
		return nil, errors.Errorf("socket receive: magic %#x unmatched", header[0])
	}
	kind := Kind(header[2])
	switch kind {
	case KindText, KindBinary, KindClose:
	default:
		return nil, errors.Errorf("socket receive: kind %#x unknown", header[2])
	}
	sum := binary.BigEndian.Uint32(header[4:])
	length := binary.BigEndian.Uint32(header[8:])
	if length > maxSocketPayload {
		return nil, errors.Errorf("socket receive: frame of %d bytes over limit", length)
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, c.readError(ctx, err)
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, errors.New("socket receive: checksum unmatched")
	}

	return &socketFrame{
		kind:    kind,
		payload: payload,
		final:   header[1]&finalFlag != 0,
	}, nil
}

func (c *socketChannel) readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrap(err, "socket receive")
}

func (c *socketChannel) Send(ctx context.Context, data []byte, kind Kind, final bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch c.State() {
	case StateCloseSent, StateClosed:
		return ErrClosed
	}
	if kind != KindText && kind != KindBinary {
		return errors.Errorf("socket send: kind %s not sendable", kind)
	}

	var flag byte
	if final {
		flag = finalFlag
	}
	return c.writeFrame(ctx, kind, flag, data)
}

func (c *socketChannel) writeFrame(ctx context.Context, kind Kind, flag byte, payload []byte) error {
	if len(payload) > maxSocketPayload {
		return errors.Errorf("socket send: frame of %d bytes over limit", len(payload))
	}

	buf := make([]byte, socketHeaderLen+len(payload))
	buf[0] = socketMagic
	buf[1] = flag
	buf[2] = byte(kind)
	binary.BigEndian.PutUint32(buf[4:], crc32.ChecksumIEEE(payload))
	binary.BigEndian.PutUint32(buf[8:], uint32(len(payload)))
	copy(buf[socketHeaderLen:], payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	defer armDeadline(ctx, c.conn.SetWriteDeadline)()

	if _, err := c.conn.Write(buf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrap(err, "socket send")
	}
	return nil
}

func (c *socketChannel) Close(ctx context.Context, status StatusCode, reason string) error {
	switch c.State() {
	case StateCloseSent, StateClosed:
		return nil
	}

	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(status))
	copy(payload[2:], reason)
	if err := c.writeFrame(ctx, KindClose, finalFlag, payload); err != nil {
		return err
	}

	if !c.casState(StateOpen, StateCloseSent) {
		c.casState(StateCloseReceived, StateClosed)
	}
	return nil
}

func (c *socketChannel) State() State {
	return State(c.state.Load())
}

func (c *socketChannel) casState(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
