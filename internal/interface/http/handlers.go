package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fitness-challenge/medal-engine/internal/application/query"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE RESULTS & MEDAL LOG
// ══════════════════════════════════════════════════════════════════════════════

// handleGetResults serves GET /api/v1/challenges/{challengeID}/results.
// ?fresh=true bypasses the cache.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	challengeID, ok := pathID(w, r, "challengeID")
	if !ok {
		return
	}
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))

	results, err := s.deps.Results.Handle(r.Context(), query.GetChallengeResultsQuery{
		ChallengeID: challengeID,
		SkipCache:   fresh,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

// handleGetLatestResults serves the results of the most recently ended
// challenge.
func (s *Server) handleGetLatestResults(w http.ResponseWriter, r *http.Request) {
	latest, err := s.deps.Latest.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))

	results, err := s.deps.Results.Handle(r.Context(), query.GetChallengeResultsQuery{
		ChallengeID: latest.ID,
		SkipCache:   fresh,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

// handleGetMedalLog serves the whole log, or one week's with {weekID}.
func (s *Server) handleGetMedalLog(w http.ResponseWriter, r *http.Request) {
	challengeID, ok := pathID(w, r, "challengeID")
	if !ok {
		return
	}
	var weekID int64
	if chi.URLParam(r, "weekID") != "" {
		if weekID, ok = pathID(w, r, "weekID"); !ok {
			return
		}
	}

	entries, err := s.deps.MedalLog.Handle(r.Context(), query.GetMedalLogQuery{
		ChallengeID: challengeID,
		WeekID:      weekID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []query.MedalLogEntry{}
	}
	writeJSON(w, r, http.StatusOK, entries)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeDomainError maps error kinds onto status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable):
		writeJSONError(w, r, http.StatusServiceUnavailable, "service_unavailable", "dependency unavailable, retry later")
	default:
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
		)
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
