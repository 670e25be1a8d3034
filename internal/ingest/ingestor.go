// Package ingest feeds line sources into a span store, one goroutine per
// file, backing off while the store is full or the ingestor is paused.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/loglens/internal/spanstore"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

const (
	DefaultBlockChars   = 1_000_000
	DefaultPollInterval = 100 * time.Millisecond
)

// Fullness is the store's advisory backpressure signal.
type Fullness interface {
	IsFull() bool
}

// Options configures an Ingestor.
type Options struct {
	// BlockChars is the accumulated line length at which a block is handed
	// to the store.
	BlockChars   int
	PollInterval time.Duration
	Logger       logpkg.Logger
}

// Ingestor moves lines from a LineSource into a file's Appender.
type Ingestor struct {
	store Fullness
	app   *spanstore.Appender
	src   LineSource
	opts  Options
	log   logpkg.Logger

	paused   atomic.Bool
	stopping atomic.Bool
	finished atomic.Bool
	lines    atomic.Int64

	startOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

// New prepares an ingestor for app's file. It starts paused; call Start.
func New(store Fullness, app *spanstore.Appender, src LineSource, opts Options) *Ingestor {
	if opts.BlockChars <= 0 {
		opts.BlockChars = DefaultBlockChars
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger()
	}
	in := &Ingestor{
		store: store,
		app:   app,
		src:   src,
		opts:  opts,
		log:   opts.Logger.With(logpkg.Component("ingest"), logpkg.FileID(string(app.File()))),
		done:  make(chan struct{}),
	}
	in.paused.Store(true)
	return in
}

// File is the id of the file being ingested.
func (in *Ingestor) File() spanstore.FileID { return in.app.File() }

// Start launches the ingestion goroutine on first call and resumes it on
// later calls.
func (in *Ingestor) Start() {
	in.paused.Store(false)
	in.startOnce.Do(func() {
		in.wg.Add(1)
		go in.loop()
	})
}

// Pause makes the goroutine sleep-poll before reading the next line.
func (in *Ingestor) Pause() { in.paused.Store(true) }

func (in *Ingestor) Paused() bool { return in.paused.Load() }

// Finished reports whether every line has been read and harvested. It stays
// false when ingestion ended on an error.
func (in *Ingestor) Finished() bool { return in.finished.Load() }

// Done is closed when ingestion ends for any reason.
func (in *Ingestor) Done() <-chan struct{} { return in.done }

// LinesRead counts lines taken from the source so far.
func (in *Ingestor) LinesRead() int64 { return in.lines.Load() }

// Err returns the source error that ended ingestion, if any.
func (in *Ingestor) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Close stops the goroutine and waits for it. No store mutation by this
// ingestor happens after Close returns.
func (in *Ingestor) Close() error {
	in.stopping.Store(true)
	in.startOnce.Do(func() { close(in.done); in.closeSource() })
	in.wg.Wait()
	return nil
}

func (in *Ingestor) loop() {
	defer in.wg.Done()
	defer close(in.done)

	var (
		block []string
		size  int
	)
	// flush reports false when the store refused the block.
	flush := func() bool {
		if len(block) == 0 {
			return true
		}
		err := in.app.Append(block)
		block, size = nil, 0
		if err != nil {
			in.fail(err)
			return false
		}
		return true
	}

	start := time.Now()
	for {
		for in.paused.Load() || in.store.IsFull() {
			if in.stopping.Load() {
				in.closeSource()
				return
			}
			time.Sleep(in.opts.PollInterval)
		}
		if in.stopping.Load() {
			in.closeSource()
			return
		}

		line, err := in.src.ReadLine()
		if err != nil {
			clean := errors.Is(err, io.EOF)
			if !clean {
				if line != "" {
					in.lines.Add(1)
					block = append(block, line)
				}
				in.fail(err)
			}
			flush()
			in.closeSource()
			in.app.Wait()
			if clean {
				in.finished.Store(true)
			}
			in.log.Info("ingestion ended", logpkg.Bool("complete", clean),
				logpkg.Int64("lines", in.lines.Load()), logpkg.Dur("elapsed", time.Since(start)))
			return
		}
		in.lines.Add(1)
		block = append(block, line)
		size += len(line)
		if size > in.opts.BlockChars && !flush() {
			in.closeSource()
			return
		}
	}
}

func (in *Ingestor) fail(err error) {
	in.mu.Lock()
	if in.err == nil {
		in.err = fmt.Errorf("ingest file %s: %w", in.app.File(), err)
	}
	in.mu.Unlock()
	in.log.Error("ingestion failed", logpkg.Err(err))
}

func (in *Ingestor) closeSource() {
	if c, ok := in.src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			in.log.Warn("close source", logpkg.Err(err))
		}
	}
}
