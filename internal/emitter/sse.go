package emitter

import (
	"encoding/json"
	"net/http"
)

// ServeSSE streams a tenant's events as Server-Sent Events. SSE over
// WebSocket keeps the browser side dependency-free. The stream ends when the
// client disconnects or the subscriber falls behind and is dropped.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "tenant query parameter is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.Subscribe(tenantID, 0)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			w.Write([]byte("event: "))
			w.Write([]byte(e.Kind))
			w.Write([]byte("\ndata: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
