// Package message reassembles logical messages from the frames of a
// socket channel and fragments outgoing messages back into frames, with
// optional transport-level gzip compression on both paths. It owns
// exactly one connected channel and gives up permanently on the first
// transport fault; reconnecting is the caller's business.
package message

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/yingshulu/wsmsg/codec"
	"github.com/yingshulu/wsmsg/transport"
)

// closeReason is the fixed reason sent when answering a peer's close frame.
const closeReason = "received close frame"

// ErrNilMessage is returned by Send for a nil body. The call fails, the
// channel stays usable.
var ErrNilMessage = errors.New("message: nil body")

// NewHandler builds a handler over a connected channel. The channel is
// exclusively the handler's from here on: one logical reader and one
// logical writer may use the handler concurrently, but concurrent
// Receives (or concurrent Sends) must be serialized by the caller, e.g.
// with a Pump.
func NewHandler(ch transport.Channel, options ...Option) (*Handler, error) {
	if ch == nil {
		return nil, errors.New("message: nil channel")
	}

	ops := defaultOptions()
	ops.Apply(options)
	if ops.SegmentSize <= 0 {
		return nil, errors.Errorf("message: segment size %d, must be positive", ops.SegmentSize)
	}
	if ops.Serializer == nil {
		return nil, errors.New("message: nil serializer")
	}

	h := &Handler{
		ch:         ch,
		serializer: ops.Serializer,
		compress:   ops.Compress,
		segSize:    ops.SegmentSize,
		id:         uuid.NewString(),
	}
	h.log = log.WithFields(log.Fields{
		"Name":     "MessageHandler",
		"ID":       h.id,
		"Compress": h.compress,
	})
	return h, nil
}

type Handler struct {
	ch         transport.Channel
	serializer codec.Serializer
	compress   bool
	segSize    int
	id         string
	log        *log.Entry

	lastSend    atomicTime
	lastReceive atomicTime
}

func (h *Handler) ID() string {
	return h.id
}

// Receive reassembles the next logical message from the channel and
// decodes it into body. It returns io.EOF when the peer closed the
// channel or the message carried zero bytes; any other error is fatal to
// the channel, except a deserialization failure, which spoils only this
// message. body must not retain the decode buffer after the call.
func (h *Handler) Receive(ctx context.Context, body interface{}) error {
	acc := getBuffer()
	defer putBuffer(acc)
	scratch := getScratch(h.segSize)
	defer putScratch(scratch)

	for {
		f, err := h.ch.Receive(ctx, scratch)
		if err != nil {
			return err
		}
		if f.Kind == transport.KindClose {
			// Short-circuits even mid-message; partial bytes are dropped.
			return h.answerClose(ctx)
		}
		acc.Write(scratch[:f.N])
		h.lastReceive.set(time.Now())
		if f.Final {
			break
		}
	}

	if acc.Len() == 0 {
		return io.EOF
	}

	content := acc.Bytes()
	if h.compress {
		plain := getBuffer()
		defer putBuffer(plain)
		if err := gunzip(plain, content); err != nil {
			return errors.Wrap(err, "decompress message")
		}
		content = plain.Bytes()
	}

	h.log.Debugf("received message, %d bytes", len(content))
	return h.serializer.Unmarshal(content, body)
}

// answerClose performs the close handshake when the channel state still
// permits one and reports end of stream either way.
func (h *Handler) answerClose(ctx context.Context) error {
	switch h.ch.State() {
	case transport.StateOpen, transport.StateCloseReceived, transport.StateCloseSent:
		if err := h.ch.Close(ctx, transport.StatusNormalClosure, closeReason); err != nil {
			h.log.Debugf("close handshake: %v", err)
		}
	}
	return io.EOF
}

// Send encodes body and transmits it as one logical message. With
// compression enabled the frames always go out as binary, whatever the
// serializer declares. Cancellation is honored after serialization,
// before the first frame, and again before every following frame; a
// message interrupted mid-transmission leaves the channel desynced and
// unusable, like any other transport fault.
func (h *Handler) Send(ctx context.Context, body interface{}) error {
	if body == nil {
		return ErrNilMessage
	}

	kind := transport.KindBinary
	if codec.IsTextual(h.serializer) {
		kind = transport.KindText
	}

	data, err := h.serializer.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "serialize message")
	}

	// Serializing a large body takes a while; give the caller one last
	// exit before anything reaches the wire.
	if err = ctx.Err(); err != nil {
		return err
	}

	if t, ok := h.serializer.(codec.Tracer); ok {
		t.OnSerialized(body, data)
	}

	if h.compress {
		packed := getBuffer()
		defer putBuffer(packed)
		if err = gzipInto(packed, data); err != nil {
			return errors.Wrap(err, "compress message")
		}
		data = packed.Bytes()
		kind = transport.KindBinary
	}

	return h.transmit(ctx, data, kind)
}

// transmit fragments data into segment-size frames and flags the last
// one. A zero-length message still produces one empty final frame.
func (h *Handler) transmit(ctx context.Context, data []byte, kind transport.Kind) error {
	total := len(data)
	for sent := 0; ; {
		n := total - sent
		if n > h.segSize {
			n = h.segSize
		}
		final := sent+n == total
		if err := h.ch.Send(ctx, data[sent:sent+n], kind, final); err != nil {
			return err
		}
		h.lastSend.set(time.Now())
		sent += n
		if final {
			break
		}
	}
	h.log.Debugf("sent message, %d bytes", total)
	return nil
}

// Flush is a no-op: every frame is handed to the channel as an
// immediately dispatched unit, so nothing is left to push.
func (h *Handler) Flush(context.Context) error {
	return nil
}

// LastSend reports when the handler last put a frame on the wire.
// Zero until the first frame.
func (h *Handler) LastSend() time.Time {
	return h.lastSend.get()
}

// LastReceive reports when the handler last took a frame off the wire.
// Zero until the first frame.
func (h *Handler) LastReceive() time.Time {
	return h.lastReceive.get()
}

func gzipInto(dst *bytes.Buffer, src []byte) error {
	w := getGzipWriter(dst)
	defer putGzipWriter(w)
	if _, err := w.Write(src); err != nil {
		return err
	}
	return w.Close()
}

func gunzip(dst *bytes.Buffer, src []byte) error {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return err
	}
	if _, err = dst.ReadFrom(r); err != nil {
		return err
	}
	return r.Close()
}

// atomicTime is a unix-nano timestamp readable without blocking.
type atomicTime struct {
	ns atomic.Int64
}

func (t *atomicTime) set(v time.Time) {
	t.ns.Store(v.UnixNano())
}

func (t *atomicTime) get() time.Time {
	ns := t.ns.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
