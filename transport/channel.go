// Package transport
package transport

import (
	"context"

	"github.com/pkg/errors"
)

// Kind tags one transport frame.
type Kind byte

const (
	KindText Kind = iota + 1
	KindBinary
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindClose:
		return "close"
	}
	return "unknown"
}

// State reports how far a channel's close handshake has progressed.
type State int32

const (
	StateOpen State = iota
	StateCloseReceived
	StateCloseSent
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCloseReceived:
		return "close-received"
	case StateCloseSent:
		return "close-sent"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// StatusCode is a close handshake status. Numbering follows RFC 6455
// section 7.4 so websocket channels can carry it unchanged.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusProtocolError   StatusCode = 1002
	StatusInternalFailure StatusCode = 1011
)

// Frame is the receipt of one Receive call: the kind of the frame the
// bytes belong to, how many bytes landed in the caller's buffer, and
// whether they end the logical message. A close signal arrives as
// Kind == KindClose with no payload.
type Frame struct {
	Kind  Kind
	N     int
	Final bool
}

// ErrClosed is returned by Send once the local end has sent its close
// frame or the handshake has completed.
var ErrClosed = errors.New("transport: channel closed")

// Channel is one connected, full-duplex, frame-oriented socket. A logical
// message crosses it as one or more frames, the last one flagged final.
//
// A channel supports one in-flight Receive and one in-flight Send at a
// time; callers with multiple readers or writers serialize them above
// this interface.
type Channel interface {
	// Receive fills buf with the next frame fragment, at most len(buf)
	// bytes. Fragments of a frame larger than buf arrive over successive
	// calls. Final marks the end-of-message boundary; it arrives with the
	// message's last bytes or just after them as an empty receipt.
	Receive(ctx context.Context, buf []byte) (Frame, error)

	// Send transmits data as one fragment of the current outgoing
	// message. final ends the message. Kind must be KindText or
	// KindBinary and must not change within one message.
	Send(ctx context.Context, data []byte, kind Kind, final bool) error

	// Close performs the local half of the close handshake with the
	// given status and reason. It is idempotent; repeated calls after
	// the close frame is on the wire are no-ops.
	Close(ctx context.Context, status StatusCode, reason string) error

	// State reports the close-handshake state without blocking.
	State() State
}
