package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/loglens/internal/spanstore"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// SpanSource provides a snapshot of a file's spans.
type SpanSource interface {
	Spans(file spanstore.FileID) []*spanstore.Span
}

// MetricsHook observes searches.
type MetricsHook interface {
	SearchStarted(spans int)
	SearchFinished(matches int, terminated bool, elapsed time.Duration)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) SearchStarted(int)                      {}
func (NoopMetrics) SearchFinished(int, bool, time.Duration) {}

// Option configures a Searcher.
type Option func(*Searcher)

// WithParallelism bounds concurrent span scans. Default runtime.NumCPU().
func WithParallelism(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

func WithLogger(l logpkg.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m MetricsHook) Option {
	return func(s *Searcher) {
		if m != nil {
			s.metrics = m
		}
	}
}

// FindOptions tunes one search run.
type FindOptions struct {
	// MaxMatches caps delivered matches; 0 means unlimited. Hitting the cap
	// appends the terminated sentinel and stops the run.
	MaxMatches int
	// Filter is an optional CEL expression over line, line_number, file and
	// json that a matching line must also satisfy.
	Filter string
}

// Poll reports the state of the current run after a GetNewResults call.
type Poll struct {
	Done    bool `json:"done"`
	Percent int  `json:"percent"`
}

// Searcher searches one file. StartFind, GetNewResults and StopFind are
// meant to be driven by a single consumer.
type Searcher struct {
	src         SpanSource
	file        spanstore.FileID
	parallelism int
	logger      logpkg.Logger
	metrics     MetricsHook

	// beforeScan, when set, runs in the worker right before a span is
	// decompressed.
	beforeScan func(slot int)

	mu  sync.Mutex
	run *run
}

type slot struct {
	span    *spanstore.Span
	ready   atomic.Bool
	matches []Match
	err     error
	// gone is set when the file was unloaded under the scan.
	gone bool
}

type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	term     string
	filter   lineFilter
	max      int
	slots    []slot
	next     int
	emitted  int
	finished bool
	percent  int
	err      error
	started  time.Time
}

// New creates a Searcher for file.
func New(src SpanSource, file spanstore.FileID, opts ...Option) *Searcher {
	s := &Searcher{
		src:         src,
		file:        file,
		parallelism: runtime.NumCPU(),
		logger:      logpkg.NewLogger(),
		metrics:     NoopMetrics{},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(logpkg.Component("search"), logpkg.FileID(string(file)))
	return s
}

// StartFind stops any previous run and starts scanning the spans published
// so far for term, case-insensitively. An empty term matches every line.
// Cancelling ctx stops the run.
func (s *Searcher) StartFind(ctx context.Context, term string, opts FindOptions) error {
	filter, err := newLineFilter(opts.Filter)
	if err != nil {
		return fmt.Errorf("search: filter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	spans := s.src.Spans(s.file)
	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:     rctx,
		cancel:  cancel,
		term:    term,
		filter:  filter,
		max:     opts.MaxMatches,
		slots:   make([]slot, len(spans)),
		started: time.Now(),
	}
	for i, sp := range spans {
		r.slots[i].span = sp
	}
	s.run = r
	s.metrics.SearchStarted(len(spans))
	s.logger.Debug("search started", logpkg.Str("term", term), logpkg.Int("spans", len(spans)))

	go func() {
		var g errgroup.Group
		g.SetLimit(s.parallelism)
		for i := range r.slots {
			i := i
			g.Go(func() error {
				s.scan(r, i)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return nil
}

func (s *Searcher) scan(r *run, i int) {
	sl := &r.slots[i]
	defer sl.ready.Store(true)

	done := r.ctx.Done()
	select {
	case <-done:
		return
	default:
	}
	if s.beforeScan != nil {
		s.beforeScan(i)
	}
	lines, err := sl.span.Lines()
	if errors.Is(err, spanstore.ErrUnloaded) {
		sl.gone = true
		return
	}
	if err != nil {
		sl.err = err
		return
	}
	m := newMatcher(r.term)
	file := string(s.file)
	for j, line := range lines {
		select {
		case <-done:
			return
		default:
		}
		n := sl.span.FirstLine + int64(j)
		if m.match(line) && r.filter.Eval(file, n, line) {
			sl.matches = append(sl.matches, Match{Line: line, LineNumber: n})
		}
	}
}

// GetNewResults appends matches that became available, in line order, to
// dst and returns it. Results stop at the first span still being scanned.
// With no run it reports done at 0%.
func (s *Searcher) GetNewResults(dst []Match) ([]Match, Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.run
	if r == nil {
		return dst, Poll{Done: true}, nil
	}
	if r.finished {
		return dst, Poll{Done: true, Percent: r.percent}, r.err
	}

	for r.next < len(r.slots) {
		sl := &r.slots[r.next]
		if !sl.ready.Load() {
			break
		}
		// A slot emptied by cancellation must not be taken as "no matches".
		if r.ctx.Err() != nil {
			s.finishLocked(r, r.progress(), false)
			return dst, Poll{Done: true, Percent: r.percent}, nil
		}
		if sl.gone {
			s.logger.Debug("search target unloaded")
			s.finishLocked(r, r.progress(), false)
			return dst, Poll{Done: true, Percent: r.percent}, nil
		}
		if sl.err != nil {
			r.err = fmt.Errorf("search file %s: %w", s.file, sl.err)
			s.finishLocked(r, r.progress(), false)
			s.logger.Error("search failed", logpkg.Err(sl.err))
			return dst, Poll{Done: true, Percent: r.percent}, r.err
		}
		for _, m := range sl.matches {
			dst = append(dst, m)
			r.emitted++
			if r.max > 0 && r.emitted >= r.max {
				dst = append(dst, terminated())
				s.finishLocked(r, 100, true)
				return dst, Poll{Done: true, Percent: 100}, nil
			}
		}
		sl.matches = nil
		r.next++
	}

	if r.next == len(r.slots) {
		s.finishLocked(r, 100, false)
		return dst, Poll{Done: true, Percent: 100}, nil
	}
	if r.ctx.Err() != nil {
		s.finishLocked(r, r.progress(), false)
		return dst, Poll{Done: true, Percent: r.percent}, nil
	}
	return dst, Poll{Percent: r.progress()}, nil
}

func (r *run) progress() int {
	if len(r.slots) == 0 {
		return 100
	}
	return 100 * r.next / len(r.slots)
}

func (s *Searcher) finishLocked(r *run, percent int, capped bool) {
	r.finished = true
	r.percent = percent
	r.cancel()
	s.metrics.SearchFinished(r.emitted, capped, time.Since(r.started))
	s.logger.Debug("search finished",
		logpkg.Int("matches", r.emitted), logpkg.Bool("terminated", capped), logpkg.Int("percent", percent))
}

// StopFind cancels the current run and discards its results. Spans being
// scanned stop at their next line.
func (s *Searcher) StopFind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Searcher) stopLocked() {
	if s.run == nil {
		return
	}
	if !s.run.finished {
		s.run.cancel()
	}
	s.run = nil
}

// Active reports whether a run is in progress.
func (s *Searcher) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil && !s.run.finished
}
