package spanstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/loglens/internal/codec"
)

// SpanKey addresses a span: its file and its position in the file's list.
type SpanKey struct {
	File FileID
	Seq  uint32
}

// Span is an immutable block of consecutive lines of one file.
type Span struct {
	FirstLine int64
	LineCount int64
	// CharCount is the raw size of the lines in bytes.
	CharCount int64

	key   SpanKey
	size  int
	store *Store
	// mu serialises decompression of this span.
	mu sync.Mutex
}

func (sp *Span) LastLine() int64 { return sp.FirstLine + sp.LineCount - 1 }

func (sp *Span) Key() SpanKey { return sp.key }

// CompressedSize is the payload size in bytes.
func (sp *Span) CompressedSize() int { return sp.size }

// Lines returns the decompressed lines, from cache when possible. The
// returned slice is shared and must not be modified.
func (sp *Span) Lines() ([]string, error) {
	cache := sp.store.cache
	if lines, ok := cache.Get(sp.key); ok {
		return lines, nil
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if lines, ok := cache.Get(sp.key); ok {
		return lines, nil
	}

	start := time.Now()
	payload, err := sp.store.payloads.Get(sp.key.File, sp.key.Seq)
	if err != nil {
		if errors.Is(err, ErrUnknownFile) && !sp.store.hasFile(sp.key.File) {
			return nil, fmt.Errorf("file %s span %d: %w", sp.key.File, sp.key.Seq, ErrUnloaded)
		}
		return nil, fmt.Errorf("file %s span %d: %w", sp.key.File, sp.key.Seq, err)
	}
	lines, err := codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("file %s span %d: %w", sp.key.File, sp.key.Seq, err)
	}
	if int64(len(lines)) != sp.LineCount {
		return nil, fmt.Errorf("file %s span %d: %w: %d lines, want %d",
			sp.key.File, sp.key.Seq, codec.ErrCorrupt, len(lines), sp.LineCount)
	}
	cache.Add(sp.key, lines)
	// Unload deletes the file before purging its cache entries, so an entry
	// added after that purge is caught here.
	if !sp.store.hasFile(sp.key.File) {
		cache.Remove(sp.key)
	}
	sp.store.metrics.SpanDecoded(time.Since(start))
	return lines, nil
}

// Line returns line n of the file if this span holds it, else "".
func (sp *Span) Line(n int64) (string, error) {
	if n < sp.FirstLine || n > sp.LastLine() {
		return "", nil
	}
	lines, err := sp.Lines()
	if err != nil {
		return "", err
	}
	return lines[n-sp.FirstLine], nil
}
