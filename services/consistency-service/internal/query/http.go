package query

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/projection"
)

// Handler exposes the read surface over HTTP.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the query routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/views/", h.GetView)
	mux.HandleFunc("/api/v1/search", h.Search)
}

// GetView serves GET /api/v1/views/{projection}/{key}. The consistency query
// parameter selects the rebuild behavior: "strong" waits for projection
// sync, anything else returns possibly stale state immediately.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/views/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.Error(w, "expected /api/v1/views/{projection}/{key}", http.StatusBadRequest)
		return
	}
	projectionName, key := parts[0], parts[1]
	block := r.URL.Query().Get("consistency") == "strong"

	view, err := h.svc.GetView(r.Context(), projectionName, key, block)
	switch {
	case errors.Is(err, ErrViewNotFound):
		http.Error(w, "view not found", http.StatusNotFound)
		return
	case errors.Is(err, projection.ErrProjectionUnknown):
		http.Error(w, "unknown projection", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("get view failed", "projection", projectionName, "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Search serves GET /api/v1/search?projection=..&tenant=..&q=..
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectionName := r.URL.Query().Get("projection")
	tenantID := r.URL.Query().Get("tenant")
	term := r.URL.Query().Get("q")
	if projectionName == "" || tenantID == "" {
		http.Error(w, "projection and tenant are required", http.StatusBadRequest)
		return
	}

	results, err := h.svc.Search(r.Context(), projectionName, tenantID, term)
	if err != nil {
		h.logger.Error("search failed", "projection", projectionName, "tenant", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
