// Package message
package message

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Accumulation and compression buffers live exactly as long as one
// Receive or Send call; the pools keep their backing storage out of the
// garbage collector's way between calls.

var bufPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

func getBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putBuffer(b *bytes.Buffer) {
	bufPool.Put(b)
}

// scratchPool recycles the per-call receive scratch. Capacity follows the
// handler's segment size; a slice too small for the requesting handler is
// dropped on the floor and reallocated.
var scratchPool sync.Pool

func getScratch(n int) []byte {
	if v := scratchPool.Get(); v != nil {
		if s := v.([]byte); cap(s) >= n {
			return s[:n]
		}
	}
	return make([]byte, n)
}

func putScratch(s []byte) {
	scratchPool.Put(s[:cap(s)])
}

// gzipWriterPool recycles compressors; a gzip.Writer carries sizable
// dictionaries worth keeping warm. BestSpeed: the transform trades ratio
// for latency on the hot send path.
var gzipWriterPool = sync.Pool{New: func() interface{} {
	w, err := gzip.NewWriterLevel(nil, gzip.BestSpeed)
	if err != nil {
		panic(err)
	}
	return w
}}

func getGzipWriter(dst *bytes.Buffer) *gzip.Writer {
	w := gzipWriterPool.Get().(*gzip.Writer)
	w.Reset(dst)
	return w
}

func putGzipWriter(w *gzip.Writer) {
	gzipWriterPool.Put(w)
}
