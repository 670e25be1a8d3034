package spanstore

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rzbill/loglens/internal/codec"
	"github.com/rzbill/loglens/pkg/id"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

const mib = 1 << 20

var (
	// ErrUnknownFile is returned when a file id is not (or no longer) loaded.
	ErrUnknownFile = errors.New("spanstore: unknown file")
	// ErrClosed is returned by Append after the store is closed.
	ErrClosed = errors.New("spanstore: closed")
	// ErrUnloaded is returned when a span's file was unloaded while the
	// span was being read. Callers treat it as a stale read, not a failure.
	ErrUnloaded = errors.New("spanstore: file unloaded")
)

// FileID identifies a loaded file for the lifetime of the process.
type FileID string

// Options configures a Store. Zero values take the documented defaults.
type Options struct {
	// TargetCapacityMB is the compressed size, in whole MiB, at which the
	// store reports full. Default 1024.
	TargetCapacityMB int
	// MaxConcurrent bounds the in-flight compression queue. Default 4.
	MaxConcurrent int
	// CacheSpans bounds how many decompressed spans stay cached. Default 64.
	CacheSpans int
	// Level is the compression level for new spans.
	Level codec.Level
	// Payloads holds compressed spans. Default is an in-heap map.
	Payloads PayloadStore
	Metrics  MetricsHook
	Logger   logpkg.Logger
}

// Store is the span engine. All methods are safe for concurrent use; writes
// to one file go through that file's Appender.
type Store struct {
	target        int64
	maxConcurrent int
	encode        func([]string) []byte
	payloads      PayloadStore
	cache         *lru.Cache[SpanKey, []string]
	metrics       MetricsHook
	logger        logpkg.Logger
	ids           *id.Generator

	mu         sync.RWMutex
	files      map[FileID]*fileRecord
	compressed int64
	raw        int64
	full       atomic.Bool
	closed     atomic.Bool

	// qmu guards queue. Lock order is qmu before mu.
	qmu   sync.Mutex
	queue []*task

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

type fileRecord struct {
	name  string
	spans []*Span
	err   error
}

// New creates a Store.
func New(opts Options) (*Store, error) {
	if opts.TargetCapacityMB <= 0 {
		opts.TargetCapacityMB = 1024
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.CacheSpans <= 0 {
		opts.CacheSpans = 64
	}
	if opts.Payloads == nil {
		opts.Payloads = NewHeapPayloads()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger()
	}
	s := &Store{
		target:        int64(opts.TargetCapacityMB),
		maxConcurrent: opts.MaxConcurrent,
		payloads:      opts.Payloads,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With(logpkg.Component("spanstore")),
		ids:           id.NewGenerator(),
		files:         make(map[FileID]*fileRecord),
		subs:          make(map[*Subscription]struct{}),
	}
	level := opts.Level
	s.encode = func(lines []string) []byte { return codec.Encode(lines, level) }

	cache, err := lru.NewWithEvict(opts.CacheSpans, func(SpanKey, []string) {
		s.metrics.CacheEvicted()
	})
	if err != nil {
		return nil, fmt.Errorf("spanstore: cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// AddFile registers a new, empty file and returns its append handle.
func (s *Store) AddFile(name string) *Appender {
	fid := FileID(s.ids.Next().String())
	s.mu.Lock()
	s.files[fid] = &fileRecord{name: name}
	s.mu.Unlock()
	s.logger.Debug("file added", logpkg.FileID(string(fid)), logpkg.Str("name", name))
	return &Appender{store: s, file: fid}
}

// Unload removes a file, its payloads and cached lines. Compression tasks
// still in flight for it are dropped when harvested. It reports whether the
// file was loaded.
func (s *Store) Unload(fid FileID) bool {
	s.mu.Lock()
	rec, ok := s.files[fid]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.files, fid)
	for _, sp := range rec.spans {
		s.compressed -= int64(sp.size)
		s.raw -= sp.CharCount
	}
	s.updateFullLocked()
	compressed, raw, full := s.compressed, s.raw, s.full.Load()
	s.mu.Unlock()

	for _, sp := range rec.spans {
		s.cache.Remove(sp.key)
	}
	if err := s.payloads.DeleteFile(fid); err != nil {
		s.logger.Warn("release payloads", logpkg.FileID(string(fid)), logpkg.Err(err))
	}
	s.metrics.StoreSize(compressed, raw, full)
	s.metrics.FileUnloaded()
	s.logger.Info("file unloaded", logpkg.FileID(string(fid)), logpkg.Str("name", rec.name), logpkg.Int("spans", len(rec.spans)))
	debug.FreeOSMemory()
	return true
}

// IsFull reports whether compressed bytes, in whole MiB, have reached the
// target capacity.
func (s *Store) IsFull() bool { return s.full.Load() }

func (s *Store) updateFullLocked() {
	s.full.Store(s.compressed/mib >= s.target)
}

// FileStatus describes a loaded file.
type FileStatus struct {
	Name            string
	Lines           int64
	Spans           int
	CompressedBytes int64
	RawBytes        int64
	// Err is set when a span could not be stored; the file stops growing.
	Err error
}

// FileStatus returns the status of fid, or false if it is not loaded.
func (s *Store) FileStatus(fid FileID) (FileStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fid]
	if !ok {
		return FileStatus{}, false
	}
	st := FileStatus{Name: rec.name, Spans: len(rec.spans), Err: rec.err}
	if n := len(rec.spans); n > 0 {
		st.Lines = rec.spans[n-1].LastLine()
	}
	for _, sp := range rec.spans {
		st.CompressedBytes += int64(sp.size)
		st.RawBytes += sp.CharCount
	}
	return st, true
}

// Files lists loaded file ids in creation order.
func (s *Store) Files() []FileID {
	s.mu.RLock()
	out := make([]FileID, 0, len(s.files))
	for fid := range s.files {
		out = append(out, fid)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Spans returns a snapshot of the file's published spans.
func (s *Store) Spans(fid FileID) []*Span {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fid]
	if !ok {
		return nil
	}
	return append([]*Span(nil), rec.spans...)
}

// GetLine returns line n (1-based) of fid. Unknown files and lines past the
// loaded range yield "" and a nil error.
func (s *Store) GetLine(fid FileID, n int64) (string, error) {
	if n < 1 {
		return "", nil
	}
	s.mu.RLock()
	rec, ok := s.files[fid]
	var spans []*Span
	if ok {
		spans = rec.spans
	}
	s.mu.RUnlock()

	i := sort.Search(len(spans), func(i int) bool { return spans[i].LastLine() >= n })
	if i == len(spans) {
		return "", nil
	}
	line, err := spans[i].Line(n)
	if errors.Is(err, ErrUnloaded) {
		return "", nil
	}
	return line, err
}

func (s *Store) hasFile(fid FileID) bool {
	s.mu.RLock()
	_, ok := s.files[fid]
	s.mu.RUnlock()
	return ok
}

// Totals aggregates the whole store.
type Totals struct {
	Files           int   `json:"files"`
	CompressedBytes int64 `json:"compressedBytes"`
	RawBytes        int64 `json:"rawBytes"`
}

func (t Totals) String() string {
	return fmt.Sprintf("%d files, %s compressed (%s raw)", t.Files,
		humanize.IBytes(uint64(t.CompressedBytes)), humanize.IBytes(uint64(t.RawBytes)))
}

// Totals returns the store-wide counters.
func (s *Store) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Totals{Files: len(s.files), CompressedBytes: s.compressed, RawBytes: s.raw}
}

// Close drains pending compression, detaches subscribers and closes the
// payload store.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.WaitForPendingSpans()
	s.subMu.Lock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.subMu.Unlock()
	s.cache.Purge()
	return s.payloads.Close()
}
