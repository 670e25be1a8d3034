package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/loglens/internal/search"
	"github.com/rzbill/loglens/internal/spanstore"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// sseWriter emits named Server-Sent Events.
type sseWriter struct {
	w http.ResponseWriter
}

func newSSEWriter(w http.ResponseWriter) sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return sseWriter{w: w}
}

// Send writes one event with a JSON data line.
func (s sseWriter) Send(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	return nil
}

func (s sseWriter) Flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

type matchView struct {
	Line       string `json:"line"`
	LineNumber int64  `json:"lineNumber"`
	Formatted  string `json:"formatted"`
	Terminated bool   `json:"terminated,omitempty"`
}

// handleSearchSSE streams a search over the file's loaded spans. Results
// are polled every pollInterval and sent as match events in line order,
// followed by a progress event per poll and a final done event. A client
// disconnect cancels the search.
func (s *Server) handleSearchSSE(w http.ResponseWriter, r *http.Request) {
	id := spanstore.FileID(r.PathValue("id"))
	q := r.URL.Query()
	maxMatches := s.rt.Config().MaxMatches
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid max")
			return
		}
		maxMatches = n
	}
	sr, err := s.rt.NewSearcher(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	ctx := r.Context()
	if err := sr.StartFind(ctx, q.Get("q"), search.FindOptions{MaxMatches: maxMatches, Filter: q.Get("filter")}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer sr.StopFind()

	sse := newSSEWriter(w)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	var buf []search.Match
	for {
		var (
			poll search.Poll
			err  error
		)
		buf, poll, err = sr.GetNewResults(buf[:0])
		for _, m := range buf {
			if sse.Send("match", matchView{
				Line:       m.Line,
				LineNumber: m.LineNumber,
				Formatted:  m.FormattedLineNumber(),
				Terminated: m.Terminated,
			}) != nil {
				return
			}
		}
		if err != nil {
			s.logger.Warn("search failed", logpkg.FileID(string(id)), logpkg.Err(err))
			_ = sse.Send("error", map[string]string{"error": err.Error()})
			sse.Flush()
			return
		}
		if poll.Done {
			_ = sse.Send("done", poll)
			sse.Flush()
			return
		}
		if sse.Send("progress", poll) != nil {
			return
		}
		sse.Flush()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type fileEventView struct {
	File  spanstore.FileID `json:"file"`
	Lines int64            `json:"lines"`
	Spans int              `json:"spans"`
}

// handleEventsSSE streams a file event each time a loaded file gains a span.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	sub := s.rt.Store().Subscribe(64)
	defer sub.Close()
	sse := newSSEWriter(w)
	sse.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if sse.Send("file", fileEventView{File: ev.File, Lines: ev.Lines, Spans: ev.Spans}) != nil {
				return
			}
			sse.Flush()
		}
	}
}
