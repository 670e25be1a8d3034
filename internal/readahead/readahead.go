// Package readahead decouples a slow byte source from its consumer by
// filling buffers on a background goroutine.
package readahead

import (
	"errors"
	"io"
	"sync"
)

const (
	defaultBufferSize = 1 << 20
	defaultBuffers    = 2
)

type chunk struct {
	buf []byte
	n   int
	err error // set on the last chunk when the source failed
}

// Reader is a forward-only io.Reader backed by a fixed pool of buffers.
// The pool is the only backpressure on the source: once every buffer is
// filled and unread, the producer blocks.
type Reader struct {
	src    io.Reader
	empty  chan []byte
	filled chan chunk
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	cur  chunk
	off  int
	eof  bool
	rerr error
}

// Option configures a Reader.
type Option func(*options)

type options struct {
	size    int
	buffers int
}

// WithBufferSize sets the size of each buffer. Default 1 MiB.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithBuffers sets how many buffers circulate. Default 2.
func WithBuffers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffers = n
		}
	}
}

// NewReader starts reading src in the background.
func NewReader(src io.Reader, opts ...Option) *Reader {
	o := options{size: defaultBufferSize, buffers: defaultBuffers}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Reader{
		src:    src,
		empty:  make(chan []byte, o.buffers),
		filled: make(chan chunk, o.buffers),
		stop:   make(chan struct{}),
	}
	for i := 0; i < o.buffers; i++ {
		r.empty <- make([]byte, o.size)
	}
	r.wg.Add(1)
	go r.produce()
	return r
}

func (r *Reader) produce() {
	defer r.wg.Done()
	defer close(r.filled)
	for {
		var buf []byte
		select {
		case buf = <-r.empty:
		case <-r.stop:
			return
		}
		n, err := io.ReadFull(r.src, buf)
		last := err != nil
		c := chunk{buf: buf, n: n}
		if last && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			c.err = err
		}
		if n > 0 || c.err != nil {
			select {
			case r.filled <- c:
			case <-r.stop:
				return
			}
		}
		if last {
			return
		}
	}
}

// next makes the next filled chunk current. With block false it returns
// false when none is ready yet.
func (r *Reader) next(block bool) bool {
	if r.cur.buf != nil {
		r.empty <- r.cur.buf
		r.cur = chunk{}
	}
	var (
		c  chunk
		ok bool
	)
	if block {
		c, ok = <-r.filled
	} else {
		select {
		case c, ok = <-r.filled:
		default:
			return false
		}
	}
	if !ok {
		r.eof = true
		return true
	}
	r.cur, r.off = c, 0
	return true
}

// Read copies buffered bytes into p. It returns fewer than len(p) bytes when
// the current buffer runs out, blocks while no buffer is ready, and returns
// io.EOF only once every byte has been delivered. A source error is returned
// after the bytes read before it.
func (r *Reader) Read(p []byte) (int, error) {
	n, _, err := r.read(p, true)
	return n, err
}

// TryRead is Read without blocking: ok is false when no data is ready yet.
func (r *Reader) TryRead(p []byte) (n int, ok bool, err error) {
	return r.read(p, false)
}

func (r *Reader) read(p []byte, block bool) (int, bool, error) {
	if len(p) == 0 {
		return 0, true, nil
	}
	for {
		if r.rerr != nil {
			return 0, true, r.rerr
		}
		if r.eof {
			return 0, true, io.EOF
		}
		if r.off < r.cur.n {
			n := copy(p, r.cur.buf[r.off:r.cur.n])
			r.off += n
			return n, true, nil
		}
		if r.cur.err != nil {
			r.rerr = r.cur.err
			continue
		}
		if !r.next(block) {
			return 0, false, nil
		}
	}
}

// Close stops the producer, waits for it and closes the source if it is an
// io.Closer. The producer may stay blocked inside a source Read until that
// read returns.
func (r *Reader) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		if c, ok := r.src.(io.Closer); ok {
			err = c.Close()
		}
		r.wg.Wait()
	})
	return err
}
