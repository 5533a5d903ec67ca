package server

import (
	"fmt"
	"net/http"
)

// StreamHandler serves the composited video and overlay as MJPEG.
type StreamHandler struct {
	tracker Tracker
}

// NewStreamHandler creates a new StreamHandler fed by the given tracker.
func NewStreamHandler(t Tracker) *StreamHandler {
	return &StreamHandler{tracker: t}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snaps, cancel := h.tracker.Subscribe(true)
	defer cancel()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-snaps:
			if len(snap.JPEG) == 0 {
				continue
			}

			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(snap.JPEG))
			if _, err := w.Write(snap.JPEG); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
