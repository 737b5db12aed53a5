// Package message
package message

import (
	"github.com/yingshulu/wsmsg/codec"
)

const defaultSegmentSize = 4096

type Option = func(*Options)

// WithCompression turns on the gzip transform for both directions. The
// setting is fixed for the handler's lifetime and both peers must agree
// on it out of band.
func WithCompression() Option {
	return func(op *Options) {
		op.Compress = true
	}
}

// WithSegmentSize sets the receive scratch size and the outgoing fragment
// size. It does not bound message size; larger messages just take more
// frames.
func WithSegmentSize(n int) Option {
	return func(op *Options) {
		op.SegmentSize = n
	}
}

// WithSerializer sets the pluggable serializer. The default is the
// registered JSON serializer.
func WithSerializer(s codec.Serializer) Option {
	return func(op *Options) {
		op.Serializer = s
	}
}

type Options struct {
	Compress    bool
	SegmentSize int
	Serializer  codec.Serializer
}

func (op *Options) Apply(options []Option) {
	for _, f := range options {
		f(op)
	}
}

func defaultOptions() *Options {
	return &Options{
		SegmentSize: defaultSegmentSize,
		Serializer:  codec.GetSerializer("json"),
	}
}
