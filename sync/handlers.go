package sync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/disk"
)

// StatsResponse holds aggregate daemon statistics.
type StatsResponse struct {
	Bindings       int            `json:"bindings"`
	StateCounts    map[string]int `json:"stateCounts"`
	Submitted      int64          `json:"submitted"`
	Succeeded      int64          `json:"succeeded"`
	Failed         int64          `json:"failed"`
	DiskTotal      uint64         `json:"diskTotal"`
	DiskFree       uint64         `json:"diskFree"`
	ConfigModified string         `json:"configModified"`
	LogLevel       string         `json:"logLevel"`
	RecentErrors   []LogEntry     `json:"recentErrors"`
}

// Handlers holds the HTTP handlers for the status API.
type Handlers struct {
	manager   *Manager
	listener  *ConfigListener
	events    *EventBus
	mountRoot string
}

// NewHandlers creates the status HTTP handlers. listener may be nil.
func NewHandlers(manager *Manager, listener *ConfigListener, events *EventBus, mountRoot string) *Handlers {
	return &Handlers{
		manager:   manager,
		listener:  listener,
		events:    events,
		mountRoot: mountRoot,
	}
}

// Router returns a router with every status route registered.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/bindings", h.HandleListBindings).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/events", h.HandleSSE).Methods(http.MethodGet)
	return r
}

// HandleHealth handles GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
}

// HandleListBindings handles GET /api/bindings
func (h *Handlers) HandleListBindings(w http.ResponseWriter, r *http.Request) {
	sub("handlers").Debug("HTTP list bindings")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": h.manager.Statuses()}) //nolint:errcheck
}

// HandleStats handles GET /api/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	l.Debug("HTTP stats")

	statuses := h.manager.Statuses()
	resp := StatsResponse{
		Bindings: len(statuses),
		StateCounts: lo.CountValuesBy(statuses, func(s BindingStatus) string {
			return s.State.String()
		}),
		Submitted:    lo.SumBy(statuses, func(s BindingStatus) int64 { return s.Submitted }),
		Succeeded:    lo.SumBy(statuses, func(s BindingStatus) int64 { return s.Succeeded }),
		Failed:       lo.SumBy(statuses, func(s BindingStatus) int64 { return s.Failed }),
		LogLevel:     LogLevel().String(),
		RecentErrors: RecentErrors(),
	}
	if h.listener != nil {
		resp.ConfigModified = h.listener.LastToken()
	}
	if usage, err := disk.Usage(h.mountRoot); err == nil {
		resp.DiskTotal = usage.Total
		resp.DiskFree = usage.Free
	} else {
		l.Debug("disk usage unavailable", "root", h.mountRoot, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// HandleSSE handles GET /api/events (Server-Sent Events stream).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n") //nolint:errcheck
			flusher.Flush()
		}
	}
}
