package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

const problemBase = "https://syncdesk.dev/errors/"

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: problemBase + "unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: problemBase + "bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: problemBase + "not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: problemBase + "internal-error",
		title:   "Internal Server Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: problemBase + "service-unavailable",
		title:   "Service Unavailable",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: problemBase + "unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapJournalError converts journal errors to Problem Details responses.
func MapJournalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, txlog.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Transaction not found")
	default:
		// Never expose internal error details to client
		slog.Error("journal read failed", "path", r.URL.Path, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
