package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/meetsearch/internal/ai"
	"github.com/seanblong/meetsearch/internal/auth"
	"github.com/seanblong/meetsearch/internal/search"
	"github.com/seanblong/meetsearch/pkg/models"
)

// searcher is the part of search.Engine the HTTP layer calls.
type searcher interface {
	Search(ctx context.Context, meetingID string, sq search.SearchQuery) (models.SearchResultPage, error)
	SearchAcrossMeetings(ctx context.Context, projectID string, sq search.SearchQuery) (models.SearchResultPage, error)
	EmbeddingConfig() ai.Status
}

type meetingLookup interface {
	GetMeeting(ctx context.Context, id string) (models.Meeting, bool, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	engine   searcher
	meetings meetingLookup
	db       pinger
	metrics  http.Handler
	timeout  time.Duration
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /embedding/status", s.handleEmbeddingStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /meetings/{id}/search", auth.OptionalAuthMiddleware(s.handleMeetingSearch))
	mux.HandleFunc("GET /projects/{id}/search", auth.OptionalAuthMiddleware(s.handleProjectSearch))
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("database ping failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.engine.EmbeddingConfig())
}

func (s *server) handleMeetingSearch(w http.ResponseWriter, r *http.Request) {
	meetingID := r.PathValue("id")
	sq, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if auth.IsAuthEnabled() {
		m, found, err := s.meetings.GetMeeting(ctx, meetingID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		// a meeting owned by someone else is reported as missing
		if !found || !auth.CanAccess(r, m.UserID) {
			writeError(w, r, search.ErrNotFound)
			return
		}
	}

	page, err := s.engine.Search(ctx, meetingID, sq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, page)
}

func (s *server) handleProjectSearch(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	sq, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user := auth.GetUserFromContext(r); user != nil {
		sq.UserID = user.ID
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	page, err := s.engine.SearchAcrossMeetings(ctx, projectID, sq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, page)
}

// parseSearchQuery reads the query string parameters shared by both search
// endpoints. Range checks are left to the engine.
func parseSearchQuery(r *http.Request) (search.SearchQuery, error) {
	v := r.URL.Query()
	sq := search.SearchQuery{
		Text:     v.Get("q"),
		Speaker:  v.Get("speaker"),
		PersonID: v.Get("person"),
	}

	var err error
	if sq.Page, err = intParam(v.Get("page"), "page"); err != nil {
		return sq, err
	}
	if sq.Limit, err = intParam(v.Get("limit"), "limit"); err != nil {
		return sq, err
	}
	if raw := v.Get("threshold"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return sq, &search.ValidationError{Field: "threshold", Reason: "not a number"}
		}
		sq.ScoreThreshold = &f
	}
	if sq.Hybrid, err = boolParam(v.Get("hybrid"), "hybrid"); err != nil {
		return sq, err
	}
	if sq.GroupByMeeting, err = boolParam(v.Get("group"), "group"); err != nil {
		return sq, err
	}
	if sq.DateFrom, err = dateParam(v.Get("from"), "from", false); err != nil {
		return sq, err
	}
	if sq.DateTo, err = dateParam(v.Get("to"), "to", true); err != nil {
		return sq, err
	}
	return sq, nil
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &search.ValidationError{Field: field, Reason: "not an integer"}
	}
	return n, nil
}

func boolParam(raw, field string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, &search.ValidationError{Field: field, Reason: "not a boolean"}
	}
	return &b, nil
}

// dateParam accepts RFC 3339 timestamps or YYYY-MM-DD dates. A bare date used
// as an upper bound covers the whole day.
func dateParam(raw, field string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &search.ValidationError{Field: field, Reason: "expected RFC 3339 or YYYY-MM-DD"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var verr *search.ValidationError
	switch {
	case errors.As(err, &verr):
		status, msg = http.StatusBadRequest, verr.Error()
	case errors.Is(err, search.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "search timed out"
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("search failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
