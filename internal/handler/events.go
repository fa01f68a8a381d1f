package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"arbor/internal/bus"
	"arbor/internal/httputil"
)

// EventsHandler bridges the observer bus to Server-Sent Events so clients
// can re-query the store when conversations change instead of polling.
type EventsHandler struct {
	bus    *bus.Bus
	logger *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(b *bus.Bus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: b, logger: logger}
}

// Events streams reload notifications
// GET /api/events
func (h *EventsHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Buffered so a notification arriving while the previous one is being
	// written is not lost; further ones coalesce (a reload is a reload).
	notify := make(chan struct{}, 1)
	unsubscribe := h.bus.Subscribe(bus.TopicReload, func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	fmt.Fprint(w, "event: open\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-notify:
			if _, err := fmt.Fprint(w, "event: reload\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
