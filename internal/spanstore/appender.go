package spanstore

import (
	"fmt"
	"time"

	logpkg "github.com/rzbill/loglens/pkg/log"
)

// Appender is the single writer for one file. It is not safe for concurrent
// use; give it to exactly one ingestion goroutine.
type Appender struct {
	store *Store
	file  FileID
}

// File returns the id of the file this appender writes to.
func (a *Appender) File() FileID { return a.file }

type task struct {
	file    FileID
	lines   []string
	count   int64
	chars   int64
	done    chan struct{}
	payload []byte
	elapsed time.Duration
}

// Append submits a block of lines for background compression. The block is
// copied. When the compression queue is at capacity the oldest task is
// harvested first, which may block until it finishes compressing.
func (a *Appender) Append(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	s := a.store
	if s.closed.Load() {
		return ErrClosed
	}
	t := &task{
		file:  a.file,
		lines: append([]string(nil), lines...),
		count: int64(len(lines)),
		done:  make(chan struct{}),
	}
	for _, l := range t.lines {
		t.chars += int64(len(l))
	}

	s.qmu.Lock()
	for len(s.queue) >= s.maxConcurrent {
		s.harvestFrontLocked()
	}
	s.queue = append(s.queue, t)
	s.qmu.Unlock()

	go s.compress(t)
	return nil
}

// Wait blocks until every block this appender submitted has been harvested.
func (a *Appender) Wait() {
	s := a.store
	s.qmu.Lock()
	defer s.qmu.Unlock()
	for s.pendingLocked(a.file) {
		s.harvestFrontLocked()
	}
}

// WaitForPendingSpans drains and harvests the whole compression queue.
func (s *Store) WaitForPendingSpans() {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	for len(s.queue) > 0 {
		s.harvestFrontLocked()
	}
}

func (s *Store) compress(t *task) {
	start := time.Now()
	t.payload = s.encode(t.lines)
	t.elapsed = time.Since(start)
	t.lines = nil
	close(t.done)
}

func (s *Store) pendingLocked(fid FileID) bool {
	for _, t := range s.queue {
		if t.file == fid {
			return true
		}
	}
	return false
}

// harvestFrontLocked pops the oldest task, waits for it and publishes its
// span. Callers hold qmu, so spans of one file are published in submission
// order.
func (s *Store) harvestFrontLocked() {
	t := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	<-t.done
	s.publish(t)
}

func (s *Store) publish(t *task) {
	s.mu.Lock()
	rec, ok := s.files[t.file]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("dropped span for unloaded file", logpkg.FileID(string(t.file)))
		return
	}
	if rec.err != nil {
		s.mu.Unlock()
		return
	}
	seq := uint32(len(rec.spans))
	if err := s.payloads.Put(t.file, seq, t.payload); err != nil {
		rec.err = fmt.Errorf("file %s span %d: store payload: %w", t.file, seq, err)
		s.mu.Unlock()
		s.logger.Error("store payload", logpkg.FileID(string(t.file)), logpkg.Err(err))
		return
	}
	first := int64(1)
	if n := len(rec.spans); n > 0 {
		first = rec.spans[n-1].LastLine() + 1
	}
	sp := &Span{
		FirstLine: first,
		LineCount: t.count,
		CharCount: t.chars,
		key:       SpanKey{File: t.file, Seq: seq},
		size:      len(t.payload),
		store:     s,
	}
	rec.spans = append(rec.spans, sp)
	s.compressed += int64(sp.size)
	s.raw += t.chars
	s.updateFullLocked()
	lines := sp.LastLine()
	compressed, raw, full := s.compressed, s.raw, s.full.Load()
	spans := len(rec.spans)
	s.mu.Unlock()

	s.metrics.SpanAppended(sp.LineCount, sp.size, int(t.chars), t.elapsed)
	s.metrics.StoreSize(compressed, raw, full)
	s.notify(FileEvent{File: t.file, Lines: lines, Spans: spans})
}
