package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rzbill/loglens/internal/runtime"
	"github.com/rzbill/loglens/internal/spanstore"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// maxLinesPerRequest bounds GET /v1/files/{id}/lines.
const maxLinesPerRequest = 10000

type openReq struct {
	Path string `json:"path"`
}

type openResp struct {
	Files   []runtime.FileInfo `json:"files"`
	Skipped int                `json:"skipped"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"files":  s.rt.Files(),
		"totals": s.rt.Store().Totals(),
	})
}

func (s *Server) handleOpenFiles(w http.ResponseWriter, r *http.Request) {
	var req openReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	files, skipped, err := s.rt.OpenPath(req.Path)
	if err != nil {
		s.logger.Warn("open path failed", logpkg.Str("path", req.Path), logpkg.Err(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, openResp{Files: files, Skipped: skipped})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fi, err := s.rt.File(spanstore.FileID(r.PathValue("id")))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fi)
}

func (s *Server) handleUnloadFile(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Unload(spanstore.FileID(r.PathValue("id"))); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Pause(spanstore.FileID(r.PathValue("id"))); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Resume(spanstore.FileID(r.PathValue("id"))); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lineView struct {
	Number int64  `json:"number"`
	Text   string `json:"text"`
}

// handleLines returns up to count lines starting at line from (1-based).
// The range is clipped to the lines stored so far.
func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	id := spanstore.FileID(r.PathValue("id"))
	fi, err := s.rt.File(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	from, err := parseInt(r.URL.Query().Get("from"), 1)
	if err != nil || from < 1 {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	count, err := parseInt(r.URL.Query().Get("count"), 100)
	if err != nil || count < 0 {
		writeError(w, http.StatusBadRequest, "invalid count")
		return
	}
	count = min(count, maxLinesPerRequest)
	last := min(from+count-1, fi.Lines)
	out := make([]lineView, 0, max(last-from+1, 0))
	for n := from; n <= last; n++ {
		text, err := s.rt.GetLine(id, n)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		out = append(out, lineView{Number: n, Text: text})
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": out, "total": fi.Lines})
}

func parseInt(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
