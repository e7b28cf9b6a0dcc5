package edge

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lucentgrid/meridian/internal/broker"
)

// sseEventName is the event name every envelope is sent under, per spec
// §6 ("event: hsafa"). The event type itself travels inside the JSON
// payload's "type" field; the SSE event name is a constant wire detail,
// not a dispatch key.
const sseEventName = "hsafa"

const keepAliveInterval = 30 * time.Second

// serveSSE writes replay then live entries as SSE frames until the
// request context is canceled, interleaving a keep-alive comment every
// 30s per spec §6. Grounded on the teacher pack's only SSE handler
// (kadirpekel-hector's pkg/a2a/server.go: headers, http.Flusher check,
// one write-then-flush per event).
func serveSSE(w http.ResponseWriter, r *http.Request, logger *slog.Logger, replay []broker.StreamEntry, live <-chan []byte) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)

	for _, entry := range replay {
		if !writeSSEFrame(w, entry.ID, entry.Payload) {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-live:
			if !ok {
				return
			}
			if !writeSSEFrame(w, "", payload) {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				if logger != nil {
					logger.Debug("sse: keepalive write failed", "error", err)
				}
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEFrame writes one event/data frame, prefixed with an id: line
// when id is non-empty (replayed entries carry their broker-assigned
// stream id; live entries already embed their own id inside payload).
func writeSSEFrame(w http.ResponseWriter, id string, payload []byte) bool {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventName, payload); err != nil {
		return false
	}
	return true
}
