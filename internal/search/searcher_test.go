package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/loglens/internal/codec"
	"github.com/rzbill/loglens/internal/spanstore"
	pebblestore "github.com/rzbill/loglens/internal/storage/pebble"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

func newStore(t *testing.T, opts spanstore.Options) *spanstore.Store {
	t.Helper()
	opts.Logger = logpkg.Nop()
	st, err := spanstore.New(opts)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// loadBlocks appends each block as one span.
func loadBlocks(t *testing.T, st *spanstore.Store, blocks ...[]string) spanstore.FileID {
	t.Helper()
	app := st.AddFile("test.log")
	for _, b := range blocks {
		if err := app.Append(b); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	app.Wait()
	return app.File()
}

func newSearcher(st SpanSource, fid spanstore.FileID, opts ...Option) *Searcher {
	return New(st, fid, append([]Option{WithLogger(logpkg.Nop())}, opts...)...)
}

func pollUntilDone(t *testing.T, s *Searcher) ([]Match, Poll, error) {
	t.Helper()
	var out []Match
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var p Poll
		var err error
		out, p, err = s.GetNewResults(out)
		if err != nil || p.Done {
			return out, p, err
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("search did not finish")
	return nil, Poll{}, nil
}

func waitReady(t *testing.T, s *Searcher, idx ...int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		all := true
		for _, i := range idx {
			if !s.run.slots[i].ready.Load() {
				all = false
			}
		}
		s.mu.Unlock()
		if all {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("slots %v never became ready", idx)
}

func TestResultsWaitForEarlierSpans(t *testing.T) {
	st := newStore(t, spanstore.Options{MaxConcurrent: 1})
	fid := loadBlocks(t, st,
		[]string{"ok", "ERROR one", "ok"},
		[]string{"fine", "fine"},
		[]string{"ERROR three", "ok"},
	)

	release := make(chan struct{})
	s := newSearcher(st, fid, WithParallelism(3))
	s.beforeScan = func(i int) {
		if i == 1 {
			<-release
		}
	}
	if err := s.StartFind(context.Background(), "error", FindOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitReady(t, s, 0, 2)

	got, p, err := s.GetNewResults(nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if p.Done || p.Percent != 33 {
		t.Fatalf("unexpected poll %+v", p)
	}
	if len(got) != 1 || got[0].LineNumber != 2 {
		t.Fatalf("expected only span-1 match, got %+v", got)
	}

	close(release)
	var rest []Match
	rest, p, err = pollUntilDone(t, s)
	if err != nil || !p.Done || p.Percent != 100 {
		t.Fatalf("final poll %+v, %v", p, err)
	}
	if len(rest) != 1 || rest[0].LineNumber != 6 || rest[0].Line != "ERROR three" {
		t.Fatalf("expected span-3 match, got %+v", rest)
	}
	if s.Active() {
		t.Fatalf("search still active")
	}
}

func TestResultsInLineOrder(t *testing.T) {
	st := newStore(t, spanstore.Options{MaxConcurrent: 3})
	var blocks [][]string
	n := 0
	for b := 0; b < 40; b++ {
		var block []string
		for i := 0; i < 50; i++ {
			n++
			if n%7 == 0 {
				block = append(block, fmt.Sprintf("line %d Needle", n))
			} else {
				block = append(block, fmt.Sprintf("line %d hay", n))
			}
		}
		blocks = append(blocks, block)
	}
	fid := loadBlocks(t, st, blocks...)

	s := newSearcher(st, fid, WithParallelism(8))
	if err := s.StartFind(context.Background(), "NEEDLE", FindOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, p, err := pollUntilDone(t, s)
	if err != nil || p.Percent != 100 {
		t.Fatalf("poll %+v %v", p, err)
	}
	if len(got) != n/7 {
		t.Fatalf("got %d matches, want %d", len(got), n/7)
	}
	for i := 1; i < len(got); i++ {
		if got[i].LineNumber < got[i-1].LineNumber {
			t.Fatalf("out of order at %d: %d after %d", i, got[i].LineNumber, got[i-1].LineNumber)
		}
	}
	if !strings.HasPrefix(got[0].Line, "line 7 ") {
		t.Fatalf("first match %q", got[0].Line)
	}
}

func TestMaxMatchesAppendsSentinel(t *testing.T) {
	st := newStore(t, spanstore.Options{})
	block := make([]string, 100)
	for i := range block {
		block[i] = "match me"
	}
	fid := loadBlocks(t, st, block, block)

	s := newSearcher(st, fid)
	if err := s.StartFind(context.Background(), "match", FindOptions{MaxMatches: 10}); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, p, err := pollUntilDone(t, s)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !p.Done || p.Percent != 100 {
		t.Fatalf("poll %+v", p)
	}
	if len(got) != 11 {
		t.Fatalf("got %d results, want 11", len(got))
	}
	last := got[len(got)-1]
	if !last.Terminated || last.Line != TerminatedText || last.FormattedLineNumber() != "N/A" {
		t.Fatalf("last result is not the sentinel: %+v", last)
	}
	for _, m := range got[:10] {
		if m.Terminated {
			t.Fatalf("sentinel before the end")
		}
	}
}

func TestNoSpansIsDoneImmediately(t *testing.T) {
	st := newStore(t, spanstore.Options{})
	fid := loadBlocks(t, st)
	s := newSearcher(st, fid)
	if err := s.StartFind(context.Background(), "x", FindOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, p, err := s.GetNewResults(nil)
	if err != nil || !p.Done || p.Percent != 100 || len(got) != 0 {
		t.Fatalf("got %v %+v %v", got, p, err)
	}
}

func TestStopFindDiscardsRun(t *testing.T) {
	st := newStore(t, spanstore.Options{})
	fid := loadBlocks(t, st, []string{"a", "b"})

	release := make(chan struct{})
	defer close(release)
	s := newSearcher(st, fid)
	s.beforeScan = func(int) { <-release }
	if err := s.StartFind(context.Background(), "a", FindOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.Active() {
		t.Fatalf("expected active")
	}
	s.StopFind()
	if s.Active() {
		t.Fatalf("still active after stop")
	}
	got, p, err := s.GetNewResults(nil)
	if err != nil || !p.Done || p.Percent != 0 || len(got) != 0 {
		t.Fatalf("after stop: %v %+v %v", got, p, err)
	}
}

func TestParentCancelEndsRun(t *testing.T) {
	st := newStore(t, spanstore.Options{MaxConcurrent: 1})
	fid := loadBlocks(t, st, []string{"hit"}, []string{"hit"})

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	s := newSearcher(st, fid, WithParallelism(1))
	s.beforeScan = func(int) { <-release }
	if err := s.StartFind(ctx, "hit", FindOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	close(release)

	got, p, err := pollUntilDone(t, s)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !p.Done || p.Percent == 100 {
		t.Fatalf("cancelled run reported %+v", p)
	}
	if len(got) != 0 {
		t.Fatalf("cancelled run delivered %v", got)
	}
}

func TestUnloadDuringSearchIsNotAFailure(t *testing.T) {
	for _, backend := range []string{"heap", "pebble"} {
		t.Run(backend, func(t *testing.T) {
			opts := spanstore.Options{MaxConcurrent: 1}
			if backend == "pebble" {
				db, err := pebblestore.Open(pebblestore.Options{})
				if err != nil {
					t.Fatalf("pebble: %v", err)
				}
				opts.Payloads = spanstore.NewPebblePayloads(db)
			}
			st := newStore(t, opts)
			fid := loadBlocks(t, st, []string{"hit one"}, []string{"hit two"})

			release := make(chan struct{})
			s := newSearcher(st, fid, WithParallelism(1))
			s.beforeScan = func(int) { <-release }
			if err := s.StartFind(context.Background(), "hit", FindOptions{}); err != nil {
				t.Fatalf("start: %v", err)
			}
			if !st.Unload(fid) {
				t.Fatalf("unload reported file missing")
			}
			close(release)

			got, p, err := pollUntilDone(t, s)
			if err != nil {
				t.Fatalf("unloaded target surfaced as error: %v", err)
			}
			if !p.Done || len(got) != 0 {
				t.Fatalf("unexpected result %+v %+v", p, got)
			}
		})
	}
}

func TestFilterNarrowsMatches(t *testing.T) {
	st := newStore(t, spanstore.Options{})
	fid := loadBlocks(t, st, []string{
		`{"level":"error","msg":"disk"}`,
		`{"level":"info","msg":"disk"}`,
		`plain disk line`,
	})
	s := newSearcher(st, fid)
	if err := s.StartFind(context.Background(), "disk", FindOptions{Filter: `json != null && json.level == "error"`}); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, _, err := pollUntilDone(t, s)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(got) != 1 || got[0].LineNumber != 1 {
		t.Fatalf("got %+v", got)
	}

	if err := s.StartFind(context.Background(), "", FindOptions{Filter: "line_number > 1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, _, _ = pollUntilDone(t, s)
	if len(got) != 2 || got[0].LineNumber != 2 {
		t.Fatalf("got %+v", got)
	}

	if err := s.StartFind(context.Background(), "x", FindOptions{Filter: "line +"}); err == nil {
		t.Fatalf("expected filter compile error")
	}
}

type corruptPayloads struct{ spanstore.PayloadStore }

func (corruptPayloads) Get(spanstore.FileID, uint32) ([]byte, error) { return []byte("not a payload"), nil }

func TestCorruptSpanFailsSearch(t *testing.T) {
	st := newStore(t, spanstore.Options{Payloads: corruptPayloads{spanstore.NewHeapPayloads()}})
	fid := loadBlocks(t, st, []string{"a"})
	s := newSearcher(st, fid)
	if err := s.StartFind(context.Background(), "a", FindOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, p, err := pollUntilDone(t, s)
	if !errors.Is(err, codec.ErrCorrupt) || !p.Done {
		t.Fatalf("expected ErrCorrupt, got %+v %v", p, err)
	}
	if !strings.Contains(err.Error(), string(fid)) {
		t.Fatalf("error does not name the file: %v", err)
	}
}

func TestMatcher(t *testing.T) {
	cases := []struct {
		term, line string
		want       bool
	}{
		{"error", "An ERROR occurred", true},
		{"ERR", "no problems", false},
		{"", "anything", true},
		{"ÜBER", "über alles", true},
		{"abc", "ab", false},
	}
	for _, c := range cases {
		if got := newMatcher(c.term).match(c.line); got != c.want {
			t.Fatalf("match(%q, %q) = %v", c.term, c.line, got)
		}
	}
}

func TestFormattedLineNumber(t *testing.T) {
	if got := (Match{LineNumber: 1234567}).FormattedLineNumber(); got != "1,234,567" {
		t.Fatalf("got %q", got)
	}
}
