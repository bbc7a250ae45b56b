package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/server/middleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx reply. Code is set for
// business rejections.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps a service error onto a status code. Rejections
// carry their code so clients can branch on it.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if code, ok := domain.RejectionCodeOf(err); ok {
		status := http.StatusUnprocessableEntity
		switch code {
		case domain.RejectNoActiveSession:
			status = http.StatusNotFound
		case domain.RejectSessionAlreadyActive:
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(code)})
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("request_id", middleware.RequestIDFrom(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeBody reads a JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%s must be RFC 3339: %w", p.name, err)
		}
		*p.dst = &t
	}
	return opts, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
