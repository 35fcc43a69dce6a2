package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/reader"
)

type filesystemRequest struct {
	Root    string                   `json:"root"`
	Options models.FilesystemOptions `json:"options"`
}

type exchangeResponse struct {
	Status  string               `json:"status"`
	Result  *models.AppendResult `json:"result,omitempty"`
	Warning string               `json:"warning,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		s.respondErr(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Sync(r.Context())
	if err != nil {
		s.respondErr(w, "sync", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("max_results", query.MaxResults))
	response, err := s.svc.Search(r.Context(), &query)
	if err != nil {
		s.respondErr(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	from, err := intParam(q.Get("from"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "from must be an integer")
		return
	}
	lines, err := intParam(q.Get("lines"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "lines must be an integer")
		return
	}
	result, err := s.svc.ReadFile(r.Context(), path, from, lines)
	if err != nil {
		s.respondErr(w, "read", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleExchange never fails an exchange that was well formed: indexing errors
// are logged and reported as a warning so callers are not blocked on the index.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var ex models.Exchange
	if err := json.NewDecoder(r.Body).Decode(&ex); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.svc.IndexChatExchange(r.Context(), &ex)
	if err != nil {
		if status := statusFor(err); status == http.StatusBadRequest {
			s.respondError(w, status, err.Error())
			return
		}
		s.logger.Warn("exchange indexing failed", zap.String("session", ex.SessionID), zap.Error(err))
		s.respondJSON(w, http.StatusAccepted, exchangeResponse{Status: "accepted", Warning: err.Error()})
		return
	}
	s.respondJSON(w, http.StatusCreated, exchangeResponse{Status: "indexed", Result: result})
}

func (s *Server) handleFilesystem(w http.ResponseWriter, r *http.Request) {
	var req filesystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Root == "" {
		s.respondError(w, http.StatusBadRequest, "root is required")
		return
	}
	report, err := s.svc.IndexFilesystem(r.Context(), req.Root, req.Options)
	if err != nil {
		s.respondErr(w, "filesystem index", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidQuery),
		errors.Is(err, reader.ErrPathTraversal),
		errors.Is(err, reader.ErrUnsupportedSource),
		errors.Is(err, indexer.ErrInvalidSession),
		errors.Is(err, indexer.ErrEmptyExchange):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
