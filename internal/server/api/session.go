// Package api implements the JSON endpoints of the local viewer.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/pinchball/internal/capture"
	"github.com/ayusman/pinchball/internal/detector"
	"github.com/ayusman/pinchball/internal/tracker"
)

// Controller starts and stops tracking.
type Controller interface {
	Session() tracker.Session
	Start(ctx context.Context) error
	Stop()
}

// SessionHandler handles /api/session and its start and stop actions.
type SessionHandler struct {
	ctrl Controller
	last func() (time.Time, bool)
}

// NewSessionHandler creates a SessionHandler. last reports the most recent
// pinch and may be nil.
func NewSessionHandler(ctrl Controller, last func() (time.Time, bool)) *SessionHandler {
	return &SessionHandler{ctrl: ctrl, last: last}
}

type sessionResponse struct {
	tracker.Session
	LastPinch string `json:"last_pinch,omitempty"`
}

// ServeHTTP routes GET /api/session, POST /api/session/start and
// POST /api/session/stop.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/session")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, h.response())
	case "start":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.start(w, r)
	case "stop":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.ctrl.Stop()
		writeJSON(w, http.StatusOK, h.response())
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *SessionHandler) start(w http.ResponseWriter, r *http.Request) {
	err := h.ctrl.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.response())
	case errors.Is(err, capture.ErrCameraDenied):
		writeError(w, http.StatusServiceUnavailable, "Camera unavailable: "+err.Error())
	case errors.Is(err, tracker.ErrStarting), errors.Is(err, tracker.ErrStopped):
		writeError(w, http.StatusConflict, "Tracking not started: "+err.Error())
	case errors.Is(err, detector.ErrModelLoadFailed):
		writeError(w, http.StatusServiceUnavailable, "Hand landmarker unavailable: "+err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Failed to start tracking: "+err.Error())
	}
}

func (h *SessionHandler) response() sessionResponse {
	resp := sessionResponse{Session: h.ctrl.Session()}
	if h.last != nil {
		if t, ok := h.last(); ok {
			resp.LastPinch = t.Format(time.RFC3339Nano)
		}
	}
	return resp
}
