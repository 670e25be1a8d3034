package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/loglens/internal/config"
	"github.com/rzbill/loglens/internal/runtime"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

func newTestServer(t *testing.T) (*runtime.Runtime, *Server) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.PollIntervalMs = 2
	cfg.BlockChars = 2048
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logpkg.Nop()})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt, New(rt, WithPollInterval(5*time.Millisecond))
}

func writeLog(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i%10 == 0 {
			fmt.Fprintf(&b, "line %d ERROR disk full\n", i)
		} else {
			fmt.Fprintf(&b, "line %d INFO ok\n", i)
		}
	}
	p := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(p, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// openLoaded posts path and waits for its single file to finish loading.
func openLoaded(t *testing.T, rt *runtime.Runtime, s *Server, path string) string {
	t.Helper()
	w := do(t, s.Handler(), http.MethodPost, "/v1/files", fmt.Sprintf(`{"path":%q}`, path))
	if w.Code != http.StatusCreated {
		t.Fatalf("open status: %d %s", w.Code, w.Body.String())
	}
	var resp openResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Files) != 1 {
		t.Fatalf("files: %+v", resp.Files)
	}
	id := resp.Files[0].ID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.WaitLoaded(ctx, id); err != nil {
		t.Fatalf("wait: %v", err)
	}
	return string(id)
}

func TestHealthHandler(t *testing.T) {
	rt, s := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/v1/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	_ = rt.Close()
	w = do(t, s.Handler(), http.MethodGet, "/v1/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed status: %d", w.Code)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, s := newTestServer(t)
	if w := do(t, s.Handler(), http.MethodPost, "/v1/files", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
	missing := filepath.Join(t.TempDir(), "nope.log")
	if w := do(t, s.Handler(), http.MethodPost, "/v1/files", fmt.Sprintf(`{"path":%q}`, missing)); w.Code != http.StatusBadRequest {
		t.Fatalf("missing file status: %d", w.Code)
	}
}

func TestFileLifecycle(t *testing.T) {
	rt, s := newTestServer(t)
	id := openLoaded(t, rt, s, writeLog(t, 500))

	w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status: %d", w.Code)
	}
	var fi runtime.FileInfo
	if err := json.Unmarshal(w.Body.Bytes(), &fi); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fi.Lines != 500 || !fi.Finished || fi.Title != "app.log" {
		t.Fatalf("unexpected info: %+v", fi)
	}

	w = do(t, s.Handler(), http.MethodGet, "/v1/files", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), id) {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}

	if w := do(t, s.Handler(), http.MethodPost, "/v1/files/"+id+"/pause", ""); w.Code != http.StatusNoContent {
		t.Fatalf("pause: %d", w.Code)
	}
	if w := do(t, s.Handler(), http.MethodPost, "/v1/files/"+id+"/resume", ""); w.Code != http.StatusNoContent {
		t.Fatalf("resume: %d", w.Code)
	}
	if w := do(t, s.Handler(), http.MethodDelete, "/v1/files/"+id, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", w.Code)
	}
	if w := do(t, s.Handler(), http.MethodPost, "/v1/files/"+id+"/pause", ""); w.Code != http.StatusNotFound {
		t.Fatalf("pause after delete: %d", w.Code)
	}
}

func TestLinesHandler(t *testing.T) {
	rt, s := newTestServer(t)
	id := openLoaded(t, rt, s, writeLog(t, 50))

	w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id+"/lines?from=9&count=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Lines []lineView `json:"lines"`
		Total int64      `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 50 || len(resp.Lines) != 3 {
		t.Fatalf("unexpected: %+v", resp)
	}
	if resp.Lines[1].Number != 10 || resp.Lines[1].Text != "line 10 ERROR disk full" {
		t.Fatalf("line 10: %+v", resp.Lines[1])
	}

	w = do(t, s.Handler(), http.MethodGet, "/v1/files/"+id+"/lines?from=49&count=10", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Lines) != 2 {
		t.Fatalf("clipped range: %v %+v", err, resp)
	}
	if w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id+"/lines?from=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("from=0 status: %d", w.Code)
	}
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			out = append(out, ev)
		}
	}
	return out
}

func TestSearchSSE(t *testing.T) {
	rt, s := newTestServer(t)
	id := openLoaded(t, rt, s, writeLog(t, 1000))

	w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id+"/search?q=error", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	events := parseSSE(t, w.Body.String())
	var matches []matchView
	for _, ev := range events {
		if ev.name != "match" {
			continue
		}
		var m matchView
		if err := json.Unmarshal([]byte(ev.data), &m); err != nil {
			t.Fatalf("decode match: %v", err)
		}
		matches = append(matches, m)
	}
	if len(matches) != 100 {
		t.Fatalf("want 100 matches, got %d", len(matches))
	}
	for i, m := range matches {
		if m.LineNumber != int64(10*(i+1)) {
			t.Fatalf("match %d out of order: %+v", i, m)
		}
	}
	if matches[99].Formatted != "1,000" {
		t.Fatalf("formatted: %q", matches[99].Formatted)
	}
	last := events[len(events)-1]
	if last.name != "done" || !strings.Contains(last.data, `"percent":100`) {
		t.Fatalf("last event: %+v", last)
	}
}

func TestSearchSSEMaxMatches(t *testing.T) {
	rt, s := newTestServer(t)
	id := openLoaded(t, rt, s, writeLog(t, 1000))

	w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id+"/search?q=error&max=5", "")
	events := parseSSE(t, w.Body.String())
	var n int
	var sentinel bool
	for _, ev := range events {
		if ev.name == "match" {
			n++
			sentinel = strings.Contains(ev.data, `"terminated":true`)
		}
	}
	if n != 6 || !sentinel {
		t.Fatalf("want 5 matches and sentinel, got %d (sentinel=%v)", n, sentinel)
	}
}

func TestSearchSSEBadRequests(t *testing.T) {
	rt, s := newTestServer(t)
	id := openLoaded(t, rt, s, writeLog(t, 10))

	if w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id+"/search?q=x&filter=line+%3D%3D", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status: %d", w.Code)
	}
	if w := do(t, s.Handler(), http.MethodGet, "/v1/files/"+id+"/search?q=x&max=-1", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad max status: %d", w.Code)
	}
	if w := do(t, s.Handler(), http.MethodGet, "/v1/files/missing/search?q=x", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown file status: %d", w.Code)
	}
}

func TestEventsSSE(t *testing.T) {
	rt, s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()

	if _, _, err := rt.OpenPath(writeLog(t, 500)); err != nil {
		t.Fatalf("open: %v", err)
	}
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event: file" {
			return
		}
	}
	t.Fatalf("no file event before stream ended: %v", sc.Err())
}

func TestMetricsEndpoint(t *testing.T) {
	rt, s := newTestServer(t)
	openLoaded(t, rt, s, writeLog(t, 100))
	w := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "loglens_spans_appended_total") {
		t.Fatalf("missing span metric")
	}
}

func TestDashboardServed(t *testing.T) {
	_, s := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<title>loglens</title>") {
		t.Fatalf("dashboard: %d", w.Code)
	}
	if w := do(t, s.Handler(), http.MethodGet, "/nope.js", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing asset: %d", w.Code)
	}
}
