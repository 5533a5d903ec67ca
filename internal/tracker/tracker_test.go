package tracker

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/pinchball/internal/action"
	"github.com/ayusman/pinchball/internal/capture"
	"github.com/ayusman/pinchball/internal/detector"
	"github.com/ayusman/pinchball/internal/interaction"
	"github.com/ayusman/pinchball/internal/overlay"
	"gocv.io/x/gocv"
)

type fakeOverlay struct {
	mu        sync.Mutex
	w, h      int
	clears    int
	drawn     []detector.HandLandmarks
	composed  int
	resizeErr error
	clearErr  error
}

func (f *fakeOverlay) Resize(w, h int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resizeErr != nil {
		return f.resizeErr
	}
	f.w, f.h = w, h
	return nil
}

func (f *fakeOverlay) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	f.clears++
	return nil
}

func (f *fakeOverlay) DrawHand(hand detector.HandLandmarks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drawn = append(f.drawn, hand)
	return nil
}

func (f *fakeOverlay) Bounds() image.Rectangle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return image.Rect(0, 0, f.w, f.h)
}

func (f *fakeOverlay) Compose(video *gocv.Mat) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composed++
	return []byte{0xFF, 0xD8}, nil
}

func (f *fakeOverlay) draws() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drawn)
}

// manualScheduler records the callback so tests can drive frames by hand.
type manualScheduler struct {
	fn      func() bool
	stopped bool
}

func (s *manualScheduler) Start(fn func() bool) { s.fn = fn }
func (s *manualScheduler) Stop()                { s.stopped = true }

type harness struct {
	tracker *Tracker
	camera  *capture.MockCamera
	det     *detector.MockDetector
	overlay *fakeOverlay
	sched   *manualScheduler
	events  *[]action.PinchEvent
}

func newHarness(t *testing.T, times []time.Duration) *harness {
	t.Helper()

	frames := make([]*gocv.Mat, len(times))
	for i := range frames {
		m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
		frames[i] = &m
	}
	t.Cleanup(func() {
		for _, m := range frames {
			m.Close()
		}
	})

	cam := capture.NewMockCamera(frames, false)
	cam.SetTimes(times)

	det := detector.NewMockDetector()
	ov := &fakeOverlay{}
	sched := &manualScheduler{}

	var events []action.PinchEvent
	layer := interaction.New(interaction.DefaultConfig())
	layer.SetAction(action.Func(func(ctx context.Context, evt action.PinchEvent) error {
		events = append(events, evt)
		return nil
	}))

	cfg := DefaultConfig()
	cfg.Window = interaction.Size{Width: 800, Height: 600}

	load := func(ctx context.Context) (detector.Detector, error) { return det, nil }
	tr := New(cfg, cam, load, ov, layer)
	tr.SetScheduler(sched)

	return &harness{tracker: tr, camera: cam, det: det, overlay: ov, sched: sched, events: &events}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateCanvasReady, "canvas_ready"},
		{StateCameraReady, "camera_ready"},
		{StateModelReady, "model_ready"},
		{StateTracking, "tracking"},
		{StateStopped, "stopped"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestTracker_Start(t *testing.T) {
	h := newHarness(t, []time.Duration{0})

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s := h.tracker.Session()
	if s.State != StateTracking {
		t.Errorf("State = %s, want tracking", s.State)
	}
	if !s.IsStreaming || !s.IsLoaded || !s.IsTracking {
		t.Errorf("flags = %+v, want all set", s)
	}
	if h.sched.fn == nil {
		t.Error("frame loop was not scheduled")
	}
	if b := h.overlay.Bounds(); b.Dx() != 800 || b.Dy() != 600 {
		t.Errorf("overlay = %v, want window size", b)
	}
	if h.camera.Constraints().Audio {
		t.Error("camera opened with audio")
	}
}

func TestTracker_Start_CameraDenied(t *testing.T) {
	h := newHarness(t, []time.Duration{0})
	h.camera.Deny(errors.New("permission denied"))

	err := h.tracker.Start(context.Background())
	if !errors.Is(err, capture.ErrCameraDenied) {
		t.Fatalf("Start() error = %v, want ErrCameraDenied", err)
	}

	s := h.tracker.Session()
	if s.State != StateCanvasReady {
		t.Errorf("State = %s, want canvas_ready", s.State)
	}
	if s.IsStreaming || s.IsLoaded || s.IsTracking {
		t.Errorf("flags = %+v, want none set", s)
	}
	if h.sched.fn != nil {
		t.Error("frame loop scheduled without a camera")
	}
	if _, err := h.tracker.Step(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Step() error = %v, want ErrNotReady", err)
	}
	if h.det.Calls() != 0 || h.overlay.draws() != 0 {
		t.Errorf("detect calls = %d draws = %d, want none", h.det.Calls(), h.overlay.draws())
	}
}

func TestTracker_Start_ModelLoadFailed(t *testing.T) {
	h := newHarness(t, []time.Duration{0})
	h.tracker.load = func(ctx context.Context) (detector.Detector, error) {
		return nil, errors.New("model download failed")
	}

	err := h.tracker.Start(context.Background())
	if !errors.Is(err, detector.ErrModelLoadFailed) {
		t.Fatalf("Start() error = %v, want ErrModelLoadFailed", err)
	}

	s := h.tracker.Session()
	if s.State != StateCameraReady {
		t.Errorf("State = %s, want camera_ready", s.State)
	}
	if s.IsLoaded || s.IsTracking {
		t.Errorf("flags = %+v, want not loaded or tracking", s)
	}
	if h.camera.IsOpen() {
		t.Error("camera should be released after a failed load")
	}
}

func TestTracker_Start_NoOverlay(t *testing.T) {
	cam := capture.NewMockCamera(nil, false)
	tr := New(DefaultConfig(), cam, nil, nil, nil)

	if err := tr.Start(context.Background()); !errors.Is(err, overlay.ErrNoSurface) {
		t.Errorf("Start() error = %v, want ErrNoSurface", err)
	}
	if tr.Session().State != StateIdle {
		t.Errorf("State = %s, want idle", tr.Session().State)
	}
	if cam.IsOpen() {
		t.Error("camera opened without an overlay")
	}
}

// within fails the test if fn does not return before the deadline.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked for %v", what, d)
	}
}

func TestTracker_Start_DuringLoad(t *testing.T) {
	t.Run("stop cancels the load", func(t *testing.T) {
		h := newHarness(t, []time.Duration{0})
		entered := make(chan struct{})
		h.tracker.load = func(ctx context.Context) (detector.Detector, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		}

		started := make(chan error, 1)
		go func() { started <- h.tracker.Start(context.Background()) }()
		<-entered

		var s Session
		within(t, time.Second, "Session()", func() { s = h.tracker.Session() })
		if s.State != StateCameraReady || !s.IsStreaming || s.IsLoaded {
			t.Errorf("session = %+v, want camera_ready while loading", s)
		}

		if err := h.tracker.Start(context.Background()); !errors.Is(err, ErrStarting) {
			t.Errorf("second Start() error = %v, want ErrStarting", err)
		}

		within(t, time.Second, "Stop()", h.tracker.Stop)

		select {
		case err := <-started:
			if !errors.Is(err, ErrStopped) {
				t.Errorf("Start() error = %v, want ErrStopped", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Start() did not return after Stop")
		}

		if s := h.tracker.Session(); s.State != StateStopped || s.IsStreaming || s.IsTracking {
			t.Errorf("session = %+v, want stopped", s)
		}
		if h.camera.IsOpen() {
			t.Error("camera still open")
		}
		if h.sched.fn != nil {
			t.Error("frame loop scheduled after Stop")
		}

		// a fresh Start works once the interrupted one returned
		h.tracker.load = func(ctx context.Context) (detector.Detector, error) { return h.det, nil }
		if err := h.tracker.Start(context.Background()); err != nil {
			t.Fatalf("restart error = %v", err)
		}
		if h.tracker.Session().State != StateTracking {
			t.Error("restart should resume tracking")
		}
	})

	t.Run("detector loaded after stop is closed", func(t *testing.T) {
		h := newHarness(t, []time.Duration{0})
		entered := make(chan struct{})
		finish := make(chan struct{})
		h.tracker.load = func(ctx context.Context) (detector.Detector, error) {
			close(entered)
			<-finish
			return h.det, nil
		}

		started := make(chan error, 1)
		go func() { started <- h.tracker.Start(context.Background()) }()
		<-entered

		within(t, time.Second, "Stop()", h.tracker.Stop)
		close(finish)

		if err := <-started; !errors.Is(err, ErrStopped) {
			t.Errorf("Start() error = %v, want ErrStopped", err)
		}
		if !h.det.Closed() {
			t.Error("late detector should be closed")
		}
		if s := h.tracker.Session(); s.IsLoaded || s.IsTracking {
			t.Errorf("session = %+v, want nothing loaded", s)
		}
	})
}

func TestTracker_Step_SkipsUnchangedFrame(t *testing.T) {
	h := newHarness(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 133 * time.Millisecond})
	h.det.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks()})

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	first, err := h.tracker.Step(context.Background())
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if !first.Detected || !first.Drawn || first.Hands != 1 {
		t.Errorf("first step = %+v, want detected and drawn", first)
	}

	second, err := h.tracker.Step(context.Background())
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if second.Detected {
		t.Error("unchanged frame time should not run detection")
	}
	if !second.Drawn {
		t.Error("previous result should be redrawn")
	}

	if _, err := h.tracker.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if got := h.det.Calls(); got != 2 {
		t.Errorf("detect calls = %d, want 2", got)
	}
	ts := h.det.Timestamps()
	if ts[0] != 100 || ts[1] != 133 {
		t.Errorf("timestamps = %v, want [100 133]", ts)
	}
	if h.overlay.clears != 3 || h.overlay.draws() != 3 {
		t.Errorf("clears = %d draws = %d, want 3 each", h.overlay.clears, h.overlay.draws())
	}
}

func TestTracker_Step_TimestampsIncrease(t *testing.T) {
	// a camera clock that goes backwards must not reach the detector
	h := newHarness(t, []time.Duration{500 * time.Millisecond, 200 * time.Millisecond})

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.tracker.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	ts := h.det.Timestamps()
	if len(ts) != 2 || ts[1] <= ts[0] {
		t.Errorf("timestamps = %v, want strictly increasing", ts)
	}
}

func TestTracker_Step_NoHands(t *testing.T) {
	h := newHarness(t, []time.Duration{0})

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res, err := h.tracker.Step(context.Background())
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if res.Drawn || res.Hands != 0 {
		t.Errorf("step = %+v, want nothing drawn", res)
	}
	if h.overlay.clears != 1 {
		t.Errorf("clears = %d, want overlay cleared once", h.overlay.clears)
	}
	if len(*h.events) != 0 {
		t.Error("no hands should not pinch")
	}
}

func TestTracker_Step_Pinch(t *testing.T) {
	h := newHarness(t, []time.Duration{0, 33 * time.Millisecond})
	h.det.SetHands([]detector.HandLandmarks{detector.PinchLandmarks(0.5, 0.5, 0.01)})

	now := time.UnixMilli(1_700_000_000_000)
	h.tracker.SetClock(func() time.Time { return now })

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.tracker.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	if len(*h.events) != 1 {
		t.Fatalf("events = %d, want 1 inside the cooldown", len(*h.events))
	}
	evt := (*h.events)[0]
	if evt.SessionID != h.tracker.Session().ID {
		t.Error("event should carry the tracking session id")
	}
	if evt.X != 400 || evt.Y != 300 {
		t.Errorf("event position = (%f, %f), want (400, 300)", evt.X, evt.Y)
	}
}

func TestTracker_Step_SizingVideo(t *testing.T) {
	h := newHarness(t, []time.Duration{0})
	h.tracker.config.Sizing = SizingVideo
	h.det.SetHands([]detector.HandLandmarks{detector.PinchLandmarks(0.5, 0.5, 0.01)})

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cons := h.tracker.config.Constraints
	if b := h.overlay.Bounds(); b.Dx() != cons.Width || b.Dy() != cons.Height {
		t.Errorf("overlay = %v, want the requested camera size before the first frame", b)
	}

	if _, err := h.tracker.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if b := h.overlay.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("overlay = %v, want 64x48 video size", b)
	}
	if vp := h.tracker.Layer().Config().Viewport; vp.Width != 64 || vp.Height != 48 {
		t.Errorf("viewport = %+v, want 64x48", vp)
	}
	if len(*h.events) != 1 {
		t.Fatalf("events = %d, want 1", len(*h.events))
	}
	if evt := (*h.events)[0]; evt.X != 32 || evt.Y != 24 {
		t.Errorf("event position = (%f, %f), want (32, 24)", evt.X, evt.Y)
	}
}

func TestTracker_Step_StaleFrameDoesNotPinch(t *testing.T) {
	h := newHarness(t, []time.Duration{0, 0})
	h.det.SetHands([]detector.HandLandmarks{detector.PinchLandmarks(0.5, 0.5, 0.01)})

	now := time.UnixMilli(1_700_000_000_000)
	h.tracker.SetClock(func() time.Time { return now })

	snaps, cancel := h.tracker.Subscribe(false)
	defer cancel()

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := h.tracker.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	// the camera froze while the cooldown ran out
	now = now.Add(2 * time.Second)
	res, err := h.tracker.Step(context.Background())
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if res.Detected || !res.Drawn {
		t.Errorf("step = %+v, want a redraw without detection", res)
	}
	if len(*h.events) != 1 {
		t.Errorf("events = %d, want 1 for a single detected pinch", len(*h.events))
	}

	snap := <-snaps
	if snap.Indicator == nil || snap.Indicator.Pinched || snap.Indicator.Scale <= 0.5 {
		t.Errorf("indicator = %+v, want pinch scale without a new pinch", snap.Indicator)
	}
}

func TestTracker_Step_DetectError(t *testing.T) {
	h := newHarness(t, []time.Duration{0, 0})
	h.det.SetError(detector.ErrInvalidResult)

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := h.tracker.Step(context.Background()); !errors.Is(err, detector.ErrInvalidResult) {
		t.Fatalf("Step() error = %v, want ErrInvalidResult", err)
	}

	// a failed detection does not count as having seen the frame
	h.det.SetError(nil)
	res, err := h.tracker.Step(context.Background())
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if !res.Detected {
		t.Error("frame should be retried after a failed detection")
	}
}

func TestTracker_Tick(t *testing.T) {
	t.Run("rearms while tracking", func(t *testing.T) {
		h := newHarness(t, []time.Duration{0, 33 * time.Millisecond})
		if err := h.tracker.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if !h.sched.fn() {
			t.Error("tick should rearm while tracking")
		}
		if h.det.Calls() != 1 {
			t.Errorf("detect calls = %d, want 1", h.det.Calls())
		}
	})

	t.Run("halts when overlay is lost", func(t *testing.T) {
		h := newHarness(t, []time.Duration{0})
		if err := h.tracker.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		h.overlay.clearErr = overlay.ErrNoSurface

		if h.sched.fn() {
			t.Error("tick should not rearm without an overlay")
		}
		s := h.tracker.Session()
		if s.IsTracking || s.IsStreaming || s.IsLoaded {
			t.Errorf("flags = %+v, want all cleared", s)
		}
		if h.camera.IsOpen() || !h.det.Closed() {
			t.Error("camera and detector should be released")
		}
	})
}

func TestTracker_Stop(t *testing.T) {
	h := newHarness(t, []time.Duration{0})
	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.tracker.Stop()

	if !h.sched.stopped {
		t.Error("scheduler was not stopped")
	}
	s := h.tracker.Session()
	if s.State != StateStopped || s.IsTracking || s.IsStreaming || s.IsLoaded {
		t.Errorf("session = %+v, want stopped with flags cleared", s)
	}
	if h.camera.IsOpen() {
		t.Error("camera still open")
	}
	if !h.det.Closed() {
		t.Error("detector not closed")
	}
	if h.sched.fn() {
		t.Error("tick after Stop should not rearm")
	}
	if h.det.Calls() != 0 {
		t.Error("tick after Stop should not detect")
	}

	// restart after stop
	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if h.tracker.Session().State != StateTracking {
		t.Error("restart should resume tracking")
	}
}

func TestTracker_Subscribe(t *testing.T) {
	h := newHarness(t, []time.Duration{0, 33 * time.Millisecond})
	h.det.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks()})

	if err := h.tracker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	plain, cancelPlain := h.tracker.Subscribe(false)
	defer cancelPlain()
	video, cancelVideo := h.tracker.Subscribe(true)

	if _, err := h.tracker.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	select {
	case snap := <-plain:
		if len(snap.Hands) != 1 || snap.Indicator == nil {
			t.Errorf("snapshot = %+v, want one hand with indicator", snap)
		}
		if snap.JPEG != nil {
			t.Error("plain subscriber should not get frames")
		}
	default:
		t.Fatal("no snapshot published")
	}

	select {
	case snap := <-video:
		if len(snap.JPEG) == 0 {
			t.Error("video subscriber should get the composited frame")
		}
	default:
		t.Fatal("no snapshot published to video subscriber")
	}

	cancelVideo()
	cancelVideo()
	if _, err := h.tracker.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if h.overlay.composed != 1 {
		t.Errorf("composed = %d, want no compose without video subscribers", h.overlay.composed)
	}
}

func TestTickerScheduler(t *testing.T) {
	t.Run("runs until fn returns false", func(t *testing.T) {
		s := NewTickerScheduler(200)
		var mu sync.Mutex
		calls := 0
		s.Start(func() bool {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return calls < 3
		})

		deadline := time.Now().Add(2 * time.Second)
		for s.Running() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if s.Running() {
			t.Fatal("scheduler did not halt")
		}
		mu.Lock()
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		mu.Unlock()

		s.Stop()
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		s := NewTickerScheduler(100)
		s.Start(func() bool { return true })
		if !s.Running() {
			t.Fatal("scheduler not running")
		}
		s.Stop()
		s.Stop()
		if s.Running() {
			t.Error("scheduler still running after Stop")
		}
	})

	t.Run("start while running is a no-op", func(t *testing.T) {
		s := NewTickerScheduler(100)
		defer s.Stop()
		var mu sync.Mutex
		second := false
		s.Start(func() bool { return true })
		s.Start(func() bool {
			mu.Lock()
			second = true
			mu.Unlock()
			return true
		})
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if second {
			t.Error("second Start replaced the running loop")
		}
	})

	t.Run("zero rate uses default", func(t *testing.T) {
		s := NewTickerScheduler(0)
		if s.interval != time.Second/DefaultRefreshRate {
			t.Errorf("interval = %v", s.interval)
		}
	})
}
