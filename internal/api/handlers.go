package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/qavit/smorrery/internal/sbdb"
	"github.com/qavit/smorrery/internal/store"
)

// errorEnvelope is the failure shape returned by the query endpoints. The
// status code mirrors the upstream response; details carry its raw body.
type errorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type handlers struct {
	client     *sbdb.Client
	bodies     *store.Store
	approaches *store.Store
	logger     *slog.Logger
	pages      *template.Template
}

func newHandlers(client *sbdb.Client, bodies, approaches *store.Store, logger *slog.Logger, webFS fs.FS) (*handlers, error) {
	pages, err := template.ParseFS(webFS, "index.html", "orrery.html")
	if err != nil {
		return nil, err
	}
	return &handlers{
		client:     client,
		bodies:     bodies,
		approaches: approaches,
		logger:     logger,
		pages:      pages,
	}, nil
}

// smallBodies fetches the fixed NEO orbital-element set, caches it, and
// returns the upstream JSON verbatim.
func (h *handlers) smallBodies(w http.ResponseWriter, r *http.Request) {
	data, err := h.client.QuerySmallBodies(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}

	// A failed file mirror is not a request failure; memory is current and
	// the response below is correct regardless.
	if err := h.bodies.Set(data); err != nil {
		h.logger.Warn("snapshot mirror failed", "component", "api", "dataset", h.bodies.Name(), "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// closeApproaches fetches close-approach records for the requested window,
// caches the projected list, and returns it.
func (h *handlers) closeApproaches(w http.ResponseWriter, r *http.Request) {
	q := sbdb.CAQuery{
		DateMin: r.URL.Query().Get("date-min"),
		DateMax: r.URL.Query().Get("date-max"),
		DistMax: r.URL.Query().Get("dist-max"),
	}

	records, err := h.client.QueryCloseApproaches(r.Context(), q)
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}

	data, err := json.Marshal(records)
	if err != nil {
		h.logger.Error("encoding close approaches", "component", "api", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.approaches.Set(data); err != nil {
		h.logger.Warn("snapshot mirror failed", "component", "api", "dataset", h.approaches.Name(), "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// index renders the landing page.
func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.pages.ExecuteTemplate(w, "index.html", nil); err != nil {
		h.logger.Error("rendering index", "component", "api", "error", err)
	}
}

// orrery renders the visualization page with the cached dataset embedded.
// It reads whatever was last cached (memory first, disk fallback) and
// never triggers a fresh upstream fetch.
func (h *handlers) orrery(w http.ResponseWriter, r *http.Request) {
	data, ok := h.bodies.Snapshot()
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "No data available"})
		return
	}

	page := struct {
		Data    template.JS
		Records int
	}{
		Data:    template.JS(data),
		Records: store.RecordCount(data),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.pages.ExecuteTemplate(w, "orrery.html", page); err != nil {
		h.logger.Error("rendering orrery", "component", "api", "error", err)
	}
}

// writeUpstreamError maps a fetch failure to the error envelope. An
// HTTP-level upstream failure mirrors the upstream status code; a
// transport failure (no response at all) maps to 502.
func (h *handlers) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	details := err.Error()

	var upstream *sbdb.UpstreamError
	if errors.As(err, &upstream) {
		status = upstream.StatusCode
		details = upstream.Body
	}

	h.logger.Error("upstream fetch failed",
		"component", "api",
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{
		Error:   "Unable to fetch data",
		Details: details,
	})
}
