package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzbill/loglens/internal/codec"
	cfgpkg "github.com/rzbill/loglens/internal/config"
	"github.com/rzbill/loglens/internal/ingest"
	"github.com/rzbill/loglens/internal/loader"
	"github.com/rzbill/loglens/internal/metrics"
	"github.com/rzbill/loglens/internal/search"
	"github.com/rzbill/loglens/internal/spanstore"
	pebblestore "github.com/rzbill/loglens/internal/storage/pebble"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// ErrUnknownFile is returned for ids that are not loaded.
var ErrUnknownFile = spanstore.ErrUnknownFile

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Registry receives the metrics; nil creates a private one.
	Registry *prometheus.Registry
}

// Runtime is a single loglens instance.
type Runtime struct {
	config   cfgpkg.Config
	logger   logpkg.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *spanstore.Store
	closed   atomic.Bool

	mu    sync.RWMutex
	files map[spanstore.FileID]*loader.File
	order []spanstore.FileID
}

// Open validates the config and builds the store.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	level, err := codec.ParseLevel(cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	var payloads spanstore.PayloadStore
	if cfg.PayloadBackend == cfgpkg.BackendPebble {
		db, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.PayloadDir, Metrics: m})
		if err != nil {
			return nil, err
		}
		payloads = spanstore.NewPebblePayloads(db)
	}
	store, err := spanstore.New(spanstore.Options{
		TargetCapacityMB: cfg.TargetCapacityMB,
		MaxConcurrent:    cfg.MaxConcurrentCompressions,
		CacheSpans:       cfg.CacheSpans,
		Level:            level,
		Payloads:         payloads,
		Metrics:          m,
		Logger:           logger,
	})
	if err != nil {
		if payloads != nil {
			_ = payloads.Close()
		}
		return nil, err
	}
	logger.Info("runtime opened",
		logpkg.Component("runtime"),
		logpkg.Int("capacity_mb", cfg.TargetCapacityMB),
		logpkg.Str("payloads", cfg.PayloadBackend))
	return &Runtime{
		config:   cfg,
		logger:   logger.With(logpkg.Component("runtime")),
		registry: reg,
		metrics:  m,
		store:    store,
		files:    make(map[spanstore.FileID]*loader.File),
	}, nil
}

// Close stops every ingestor and releases the store.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	files := r.files
	r.files = map[spanstore.FileID]*loader.File{}
	r.order = nil
	r.mu.Unlock()
	for _, f := range files {
		_ = f.Ingestor.Close()
	}
	return r.store.Close()
}

// CheckHealth reports whether the runtime can serve requests.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.closed.Load() {
		return errors.New("runtime closed")
	}
	return ctx.Err()
}

// FileInfo is the externally visible state of a loaded file.
type FileInfo struct {
	ID              spanstore.FileID `json:"id"`
	Title           string           `json:"title"`
	Path            string           `json:"path"`
	Lines           int64            `json:"lines"`
	Spans           int              `json:"spans"`
	CompressedBytes int64            `json:"compressedBytes"`
	RawBytes        int64            `json:"rawBytes"`
	Finished        bool             `json:"finished"`
	Paused          bool             `json:"paused"`
	Error           string           `json:"error,omitempty"`
	Status          string           `json:"status"`
}

// OpenPath loads path and starts ingesting every file found in it. skipped
// counts archive entries left out by the per-archive cap.
func (r *Runtime) OpenPath(path string) (files []FileInfo, skipped int, err error) {
	if r.closed.Load() {
		return nil, 0, errors.New("runtime closed")
	}
	res, err := loader.Load(path, r.store, loader.Options{
		MaxFilesPerArchive: r.config.MaxFilesPerArchive,
		ReadAhead:          r.config.ReadAhead,
		Logger:             r.logger,
		Ingest: ingest.Options{
			BlockChars:   r.config.BlockChars,
			PollInterval: time.Duration(r.config.PollIntervalMs) * time.Millisecond,
			Logger:       r.logger,
		},
	})
	if err != nil {
		return nil, 0, err
	}
	r.mu.Lock()
	for _, f := range res.Files {
		r.files[f.ID] = f
		r.order = append(r.order, f.ID)
	}
	r.mu.Unlock()
	for _, f := range res.Files {
		f.Ingestor.Start()
		files = append(files, r.info(f))
	}
	r.logger.Info("path opened", logpkg.Str("path", path), logpkg.Int("files", len(res.Files)), logpkg.Int("skipped", res.Skipped))
	return files, res.Skipped, nil
}

func (r *Runtime) info(f *loader.File) FileInfo {
	st, _ := r.store.FileStatus(f.ID)
	fi := FileInfo{
		ID:              f.ID,
		Title:           f.Title,
		Path:            f.Path,
		Lines:           st.Lines,
		Spans:           st.Spans,
		CompressedBytes: st.CompressedBytes,
		RawBytes:        st.RawBytes,
		Finished:        f.Ingestor.Finished(),
		Paused:          f.Ingestor.Paused(),
	}
	err := f.Ingestor.Err()
	if err == nil {
		err = st.Err
	}
	switch {
	case err != nil:
		fi.Error = err.Error()
		fi.Status = fmt.Sprintf("Failed after %s lines", humanize.Comma(fi.Lines))
	case fi.Finished:
		fi.Status = fmt.Sprintf("Loaded %s lines", humanize.Comma(fi.Lines))
	default:
		fi.Status = fmt.Sprintf("Loading... %s lines", humanize.Comma(fi.Lines))
	}
	return fi
}

func (r *Runtime) lookup(id spanstore.FileID) (*loader.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, id)
	}
	return f, nil
}

// Files lists loaded files in load order.
func (r *Runtime) Files() []FileInfo {
	r.mu.RLock()
	list := make([]*loader.File, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.files[id])
	}
	r.mu.RUnlock()
	out := make([]FileInfo, 0, len(list))
	for _, f := range list {
		out = append(out, r.info(f))
	}
	return out
}

// File returns one file's info.
func (r *Runtime) File(id spanstore.FileID) (FileInfo, error) {
	f, err := r.lookup(id)
	if err != nil {
		return FileInfo{}, err
	}
	return r.info(f), nil
}

// Unload stops ingestion of id and drops it from the store.
func (r *Runtime) Unload(id spanstore.FileID) error {
	r.mu.Lock()
	f, ok := r.files[id]
	if ok {
		delete(r.files, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFile, id)
	}
	_ = f.Ingestor.Close()
	r.store.Unload(id)
	return nil
}

// Pause suspends ingestion of id, as when its view loses focus.
func (r *Runtime) Pause(id spanstore.FileID) error {
	f, err := r.lookup(id)
	if err != nil {
		return err
	}
	f.Ingestor.Pause()
	return nil
}

// Resume restarts ingestion of id.
func (r *Runtime) Resume(id spanstore.FileID) error {
	f, err := r.lookup(id)
	if err != nil {
		return err
	}
	f.Ingestor.Start()
	return nil
}

// WaitLoaded blocks until ingestion of id ends or ctx is done, and returns
// the ingestion error if any.
func (r *Runtime) WaitLoaded(ctx context.Context, id spanstore.FileID) error {
	f, err := r.lookup(id)
	if err != nil {
		return err
	}
	select {
	case <-f.Ingestor.Done():
		return f.Ingestor.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetLine returns line n of id; see spanstore.Store.GetLine.
func (r *Runtime) GetLine(id spanstore.FileID, n int64) (string, error) {
	if _, err := r.lookup(id); err != nil {
		return "", err
	}
	return r.store.GetLine(id, n)
}

// NewSearcher returns a searcher over id configured from the runtime.
func (r *Runtime) NewSearcher(id spanstore.FileID) (*search.Searcher, error) {
	if _, err := r.lookup(id); err != nil {
		return nil, err
	}
	return search.New(r.store, id,
		search.WithParallelism(r.config.SearchParallelism),
		search.WithLogger(r.logger),
		search.WithMetrics(r.metrics),
	), nil
}

// Store exposes the span store.
func (r *Runtime) Store() *spanstore.Store { return r.store }

// Registry is the Prometheus registry holding the runtime's metrics.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

func (r *Runtime) Logger() logpkg.Logger { return r.logger }
