package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// maxListLimit caps the number of rows a listing returns.
const maxListLimit = 500

// Journal is the read side of the transaction journal.
type Journal interface {
	txlog.Reader
	Events(ctx context.Context, id string) ([]txlog.Event, error)
	Ping(ctx context.Context) error
}

// Handler implements the API handlers
type Handler struct {
	journal Journal
	apiKey  string
	version string
}

// NewHandler creates a Handler serving journal.
func NewHandler(j Journal, apiKey, version string) *Handler {
	return &Handler{
		journal: j,
		apiKey:  apiKey,
		version: version,
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Journal string `json:"journal"`
}

// ListResponse is the body of GET /api/v1/transactions.
type ListResponse struct {
	Transactions []txlog.Summary `json:"transactions"`
	Count        int             `json:"count"`
}

// EventsResponse is the body of GET /api/v1/transactions/{id}/events.
type EventsResponse struct {
	TransactionID string        `json:"transaction_id"`
	Events        []txlog.Event `json:"events"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Version: h.version, Journal: "ok"}
	status := http.StatusOK
	if err := h.journal.Ping(r.Context()); err != nil {
		slog.Error("journal ping failed", "error", err)
		resp.Status = "degraded"
		resp.Journal = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ListTransactions handles GET /api/v1/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := txlog.ListFilter{
		ProcessType: strings.ToUpper(strings.TrimSpace(q.Get("process"))),
		Status:      txlog.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Limit:       100,
	}
	if filter.Status != "" && !validStatus(filter.Status) {
		WriteProblem(w, r, http.StatusBadRequest, "status must be one of STARTED, COMPLETED, FAILED, CANCELLED")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		filter.Limit = n
	}

	list, err := h.journal.List(r.Context(), filter)
	if err != nil {
		MapJournalError(w, r, err)
		return
	}
	if list == nil {
		list = []txlog.Summary{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Transactions: list, Count: len(list)})
}

// GetTransaction handles GET /api/v1/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.journal.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapJournalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// TransactionEvents handles GET /api/v1/transactions/{id}/events
func (h *Handler) TransactionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.journal.Events(r.Context(), id)
	if err != nil {
		MapJournalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{TransactionID: id, Events: events})
}

func validStatus(s txlog.Status) bool {
	switch s {
	case txlog.StatusStarted, txlog.StatusCompleted, txlog.StatusFailed, txlog.StatusCancelled:
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
