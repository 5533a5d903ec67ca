package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/pinchball/internal/capture"
	"github.com/ayusman/pinchball/internal/detector"
	"github.com/ayusman/pinchball/internal/interaction"
	"github.com/ayusman/pinchball/internal/overlay"
	"github.com/ayusman/pinchball/internal/store"
	"github.com/ayusman/pinchball/internal/tracker"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

func TestAPI_TrackingWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Setup
	tmpDir := t.TempDir()
	st, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{&frame}, true)

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.PinchLandmarks(0.5, 0.5, 0.01)})

	surface := overlay.NewSurface()
	defer surface.Close()

	layer := interaction.New(interaction.DefaultConfig())
	if err := layer.SetStore(st.Cooldown()); err != nil {
		t.Fatalf("SetStore() error = %v", err)
	}

	cfg := tracker.DefaultConfig()
	cfg.Window = interaction.Size{Width: 64, Height: 48}
	tr := tracker.New(cfg, cam, func(ctx context.Context) (detector.Detector, error) { return det, nil }, surface, layer)
	defer tr.Stop()

	srv := New(Config{Store: st, Tracker: tr, LastPinch: layer.LastTrigger})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// 1. Start tracking
	resp, err := client.Post(ts.URL+"/api/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/session/start error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()

	// 2. Watch landmarks
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/tracking"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snap struct {
		Hands     []json.RawMessage      `json:"hands"`
		Indicator *interaction.Indicator `json:"indicator"`
	}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if len(snap.Hands) != 1 || snap.Indicator == nil {
		t.Fatalf("snapshot = %+v, want one hand with indicator", snap)
	}

	// 3. The pinch was persisted
	resp, _ = client.Get(ts.URL + "/api/settings/" + store.KeyLastClick)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/settings status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()

	// 4. Stop tracking
	resp, _ = client.Post(ts.URL+"/api/session/stop", "application/json", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var session struct {
		State      string `json:"state"`
		IsTracking bool   `json:"is_tracking"`
		LastPinch  string `json:"last_pinch"`
	}
	json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()

	if session.State != "stopped" || session.IsTracking {
		t.Errorf("session = %+v, want stopped", session)
	}
	if session.LastPinch == "" {
		t.Error("expected last_pinch after a pinch")
	}
	if dets := det.Calls(); dets == 0 {
		t.Error("detector never ran")
	}
}

func TestAPI_StartWithoutCamera(t *testing.T) {
	cam := capture.NewMockCamera(nil, false)
	cam.Deny(capture.ErrCameraDenied)

	surface := overlay.NewSurface()
	defer surface.Close()

	tr := tracker.New(tracker.DefaultConfig(), cam, nil, surface, nil)
	ts := httptest.NewServer(New(Config{Tracker: tr}))
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/api/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if state := tr.Session().State; state != tracker.StateCanvasReady {
		t.Errorf("state = %s, want canvas_ready", state)
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
}
