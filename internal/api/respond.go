package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/deepdesk/internal/deepresearch"
	"github.com/kalambet/deepdesk/internal/session"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// sessionError maps controller and research-service errors onto HTTP
// statuses.
func sessionError(w http.ResponseWriter, err error) {
	var verr *deepresearch.ValidationError
	switch {
	case errors.Is(err, session.ErrNoActiveTask):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case deepresearch.IsAuthExpired(err):
		httpError(w, http.StatusBadGateway, "auth_expired", "research service rejected the access token: %v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
