// Package authhttp exposes the contest authority over JSON HTTP. It is a
// thin codec layer: every decision lives in the authority app, this package
// only maps requests in and sentinel errors out to machine-readable codes.
package authhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/authority"
	"github.com/quizrun/quizrun/internal/models"
)

// Error codes carried in the "code" field of error responses. Clients
// branch on these, never on messages.
const (
	CodeUsernameRequired = "USERNAME_REQUIRED"
	CodeReclaimRequired  = "RECLAIM_REQUIRED"
	CodeReclaimInvalid   = "RECLAIM_INVALID"
	CodeRateLimit        = "RATE_LIMIT"
	CodeContestClosed    = "CONTEST_CLOSED"
	CodeRunNotFound      = "RUN_NOT_FOUND"
	CodeRunFinished      = "RUN_FINISHED"
	CodeNoAnswers        = "NO_ANSWERS"
	CodeAdminForbidden   = "ADMIN_FORBIDDEN"
	CodeValidation       = "VALIDATION"
	CodeInternal         = "INTERNAL"
)

// AdminSecretHeader carries the secret for the /v1/admin endpoints.
const AdminSecretHeader = "X-Admin-Secret"

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Service serves the authority's HTTP API.
type Service struct {
	app *authority.App
}

// NewService wraps the authority app.
func NewService(app *authority.App) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the API on a mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs/start", s.handleStart)
	mux.HandleFunc("POST /v1/runs/submit", s.handleSubmit)
	mux.HandleFunc("GET /v1/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /v1/rank", s.handleRank)
	mux.HandleFunc("GET /v1/search", s.handleSearch)
	mux.HandleFunc("GET /v1/flags", s.handleFlags)
	mux.HandleFunc("POST /v1/admin/flags", s.handleAdminFlags)
	mux.HandleFunc("POST /v1/admin/reset", s.handleAdminReset)
	mux.HandleFunc("GET /v1/admin/contacts", s.handleAdminContacts)
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	var req authority.StartRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := s.app.StartRun(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req authority.SubmitRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := s.app.SubmitAnswers(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Service) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	partition := queryPartition(r)
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)
	page, err := s.app.LeaderboardPage(r.Context(), partition, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Service) handleRank(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.URL.Query().Get("run_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: CodeValidation, Message: "run_id must be a uuid"})
		return
	}
	rank, err := s.app.RankOf(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rank": rank})
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	partition := queryPartition(r)
	query := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	entries, err := s.app.Search(r.Context(), partition, query, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Service) handleFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.app.RuntimeFlags(r.Context(), queryPartition(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Service) handleAdminFlags(w http.ResponseWriter, r *http.Request) {
	var flags models.RuntimeFlags
	if !decode(w, r, &flags) {
		return
	}
	if err := s.app.SetRuntimeFlags(r.Context(), r.Header.Get(AdminSecretHeader), flags); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Partition models.Partition `json:"partition"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.app.ResetPartition(r.Context(), r.Header.Get(AdminSecretHeader), req.Partition); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAdminContacts(w http.ResponseWriter, r *http.Request) {
	partition := queryPartition(r)
	limit := queryInt(r, "limit", 50)
	contacts, err := s.app.TopContacts(r.Context(), r.Header.Get(AdminSecretHeader), partition, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: CodeValidation, Message: "malformed request body"})
		return false
	}
	return true
}

func queryPartition(r *http.Request) models.Partition {
	if p := r.URL.Query().Get("partition"); p != "" {
		return models.Partition(p)
	}
	return models.PartitionMain
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, authority.ErrNameRequired):
		status, code = http.StatusBadRequest, CodeUsernameRequired
	case errors.Is(err, authority.ErrReclaimRequired):
		status, code = http.StatusConflict, CodeReclaimRequired
	case errors.Is(err, authority.ErrReclaimInvalid):
		status, code = http.StatusForbidden, CodeReclaimInvalid
	case errors.Is(err, authority.ErrRateLimited):
		status, code = http.StatusTooManyRequests, CodeRateLimit
	case errors.Is(err, authority.ErrContestClosed):
		status, code = http.StatusForbidden, CodeContestClosed
	case errors.Is(err, authority.ErrRunNotFound):
		status, code = http.StatusNotFound, CodeRunNotFound
	case errors.Is(err, authority.ErrRunFinished):
		status, code = http.StatusConflict, CodeRunFinished
	case errors.Is(err, authority.ErrNoAnswers):
		status, code = http.StatusBadRequest, CodeNoAnswers
	case errors.Is(err, authority.ErrAdminForbidden):
		status, code = http.StatusForbidden, CodeAdminForbidden
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, ErrorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
