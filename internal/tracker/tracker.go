// Package tracker runs the per-frame hand tracking loop: read the camera,
// detect when the frame changed, redraw the overlay and update the indicator.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/ayusman/pinchball/internal/capture"
	"github.com/ayusman/pinchball/internal/detector"
	"github.com/ayusman/pinchball/internal/interaction"
	"github.com/ayusman/pinchball/internal/overlay"
	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrNotReady is returned by Step unless camera, model and tracking are all ready.
	ErrNotReady = errors.New("tracker is not ready")

	// ErrNoCurrentDetection marks a frame without hands. It is benign and never
	// returned from Step.
	ErrNoCurrentDetection = errors.New("no current detection")

	// ErrStarting is returned by Start while another Start is loading the model.
	ErrStarting = errors.New("tracker is already starting")

	// ErrStopped is returned by Start when Stop interrupted the model load.
	ErrStopped = errors.New("tracker stopped while starting")
)

// State is the tracker's startup progress.
type State int

const (
	StateIdle State = iota
	StateCanvasReady
	StateCameraReady
	StateModelReady
	StateTracking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCanvasReady:
		return "canvas_ready"
	case StateCameraReady:
		return "camera_ready"
	case StateModelReady:
		return "model_ready"
	case StateTracking:
		return "tracking"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sizing selects what the overlay dimensions follow.
type Sizing string

const (
	// SizingWindow sizes the overlay to the configured window. The overlay may
	// then have a different aspect ratio than the video.
	SizingWindow Sizing = "window"
	// SizingVideo sizes the overlay to the video's intrinsic dimensions.
	SizingVideo Sizing = "video"
)

// Config holds tracker options.
type Config struct {
	Constraints capture.Constraints
	Sizing      Sizing
	Window      interaction.Size
	RefreshRate int
}

// DefaultConfig returns window-sized tracking at the display refresh rate.
func DefaultConfig() Config {
	return Config{
		Constraints: capture.DefaultConstraints(),
		Sizing:      SizingWindow,
		Window:      interaction.Size{Width: 1280, Height: 720},
		RefreshRate: DefaultRefreshRate,
	}
}

// Overlay is the drawing surface the tracker paints on.
type Overlay interface {
	Resize(w, h int) error
	Clear() error
	DrawHand(hand detector.HandLandmarks) error
	Bounds() image.Rectangle
	Compose(video *gocv.Mat) ([]byte, error)
}

// LoadFunc loads the detection runtime and model.
type LoadFunc func(ctx context.Context) (detector.Detector, error)

// Session is the tracking session state.
type Session struct {
	ID          uuid.UUID `json:"id"`
	State       State     `json:"state"`
	IsStreaming bool      `json:"is_streaming"`
	IsLoaded    bool      `json:"is_loaded"`
	IsTracking  bool      `json:"is_tracking"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// Snapshot is what viewers receive after each frame.
type Snapshot struct {
	SessionID   uuid.UUID                `json:"session_id"`
	FrameTimeMs int64                    `json:"frame_time_ms"`
	Hands       []detector.HandLandmarks `json:"hands"`
	Indicator   *interaction.Indicator   `json:"indicator,omitempty"`
	Timestamp   int64                    `json:"timestamp"`
	// JPEG holds the composited video and overlay when viewers asked for it.
	JPEG []byte `json:"-"`
}

// StepResult reports what one frame cycle did.
type StepResult struct {
	Detected bool
	Drawn    bool
	Hands    int
}

// Tracker coordinates camera, detector, overlay and interaction layer.
type Tracker struct {
	config    Config
	camera    capture.Camera
	load      LoadFunc
	overlay   Overlay
	layer     *interaction.Layer
	scheduler Scheduler
	now       func() time.Time

	mu         sync.Mutex
	session    Session
	det        detector.Detector
	generation int
	cancelLoad context.CancelFunc // non-nil while a model load is in flight

	// Owned by the frame loop, guarded by stepMu. Reset whenever a new
	// session starts.
	stepMu        sync.Mutex
	stepGen       int
	lastVideoTime time.Duration
	seenFrame     bool
	lastDetectTs  int64
	result        *detector.Result

	subMu sync.Mutex
	subs  map[chan Snapshot]bool
	jpeg  int
}

// New creates a Tracker. Nothing is acquired until Start.
func New(config Config, camera capture.Camera, load LoadFunc, ov Overlay, layer *interaction.Layer) *Tracker {
	if config.Sizing == "" {
		config.Sizing = SizingWindow
	}
	if layer == nil {
		layer = interaction.New(interaction.DefaultConfig())
	}
	return &Tracker{
		config:       config,
		camera:       camera,
		load:         load,
		overlay:      ov,
		layer:        layer,
		scheduler:    NewTickerScheduler(config.RefreshRate),
		now:          time.Now,
		session:      Session{State: StateIdle},
		subs:         make(map[chan Snapshot]bool),
		lastDetectTs: -1,
	}
}

// SetScheduler replaces the frame scheduler. Must be called before Start.
func (t *Tracker) SetScheduler(s Scheduler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduler = s
}

// SetClock replaces the wall clock used for the pinch cooldown.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Layer returns the interaction layer.
func (t *Tracker) Layer() *interaction.Layer {
	return t.layer
}

// Session returns a copy of the session state.
func (t *Tracker) Session() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Start walks the startup states in order: overlay, camera, model, then the
// frame loop. On failure the session stays in the last state reached. The
// model load runs without the session lock held, and Stop cancels it.
func (t *Tracker) Start(ctx context.Context) error {
	load, loadCtx, err := t.prepare(ctx)
	if err != nil || load == nil {
		return err
	}
	det, err := load(loadCtx)
	return t.commit(det, err)
}

// prepare sets up the overlay and camera. A nil LoadFunc with a nil error
// means tracking is already running.
func (t *Tracker) prepare(ctx context.Context) (LoadFunc, context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelLoad != nil {
		return nil, nil, ErrStarting
	}
	if t.session.State == StateTracking {
		return nil, nil, nil
	}

	t.session = Session{ID: uuid.New(), State: StateIdle, StartedAt: t.now()}
	t.layer.SetSessionID(t.session.ID)

	if err := t.setupCanvas(); err != nil {
		return nil, nil, err
	}
	t.session.State = StateCanvasReady

	cam, err := capture.Acquire(t.camera, t.config.Constraints)
	if err != nil {
		log.Printf("No stream: %v", err)
		return nil, nil, err
	}
	t.session.IsStreaming = true
	t.session.State = StateCameraReady

	if t.load == nil {
		t.releaseCamera(cam)
		return nil, nil, fmt.Errorf("%w: no loader configured", detector.ErrModelLoadFailed)
	}

	loadCtx, cancel := context.WithCancel(ctx)
	t.cancelLoad = cancel
	return t.load, loadCtx, nil
}

// commit finishes a Start once the model load returned.
func (t *Tracker) commit(det detector.Detector, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLoad()
	t.cancelLoad = nil

	if !t.session.IsStreaming {
		// Stop ran during the load and releases the camera itself.
		if det != nil {
			if cerr := det.Close(); cerr != nil {
				log.Printf("Error closing detector: %v", cerr)
			}
		}
		return ErrStopped
	}
	if err != nil {
		log.Printf("Hand landmarker not available: %v", err)
		t.releaseCamera(t.camera)
		if !errors.Is(err, detector.ErrModelLoadFailed) {
			err = fmt.Errorf("%w: %w", detector.ErrModelLoadFailed, err)
		}
		return err
	}
	t.det = det
	t.session.IsLoaded = true
	t.session.State = StateModelReady

	t.generation++
	t.session.IsTracking = true
	t.session.State = StateTracking
	t.scheduler.Start(t.tick)

	log.Println("Tracking started")
	return nil
}

func (t *Tracker) setupCanvas() error {
	if t.overlay == nil {
		return overlay.ErrNoSurface
	}

	w, h := int(t.config.Window.Width), int(t.config.Window.Height)
	if t.config.Sizing == SizingVideo {
		w, h = t.config.Constraints.Width, t.config.Constraints.Height
	}
	if err := t.overlay.Resize(w, h); err != nil {
		return fmt.Errorf("%w: %w", overlay.ErrNoSurface, err)
	}
	t.layer.SetViewport(interaction.Size{Width: float64(w), Height: float64(h)})
	return nil
}

// releaseCamera closes cam after a failed start. Caller holds mu.
func (t *Tracker) releaseCamera(cam capture.Camera) {
	if err := cam.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}
	t.session.IsStreaming = false
}

// Stop clears the readiness flags, cancels a pending model load, waits for
// the frame loop to exit and releases the camera and detector.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.session.IsTracking = false
	t.session.IsStreaming = false
	sched, cancel := t.scheduler, t.cancelLoad
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	sched.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.release()
	log.Println("Tracking stopped")
}

// release closes camera and detector. Caller holds mu.
func (t *Tracker) release() {
	if t.camera != nil && t.camera.IsOpen() {
		if err := t.camera.Close(); err != nil {
			log.Printf("Error closing camera: %v", err)
		}
	}
	if t.det != nil {
		if err := t.det.Close(); err != nil {
			log.Printf("Error closing detector: %v", err)
		}
		t.det = nil
	}
	t.session.IsStreaming = false
	t.session.IsLoaded = false
	t.session.IsTracking = false
	if t.session.State != StateIdle {
		t.session.State = StateStopped
	}
}

// ready reports whether frames may be processed, along with the detector and
// session generation to process them with.
func (t *Tracker) ready() (detector.Detector, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.session
	return t.det, t.generation, s.IsStreaming && s.IsLoaded && s.IsTracking
}

// rearm reports whether the loop should schedule another frame.
func (t *Tracker) rearm() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.IsTracking || t.session.IsStreaming
}

// tick is the scheduled per-frame callback.
func (t *Tracker) tick() bool {
	if _, _, ok := t.ready(); ok {
		if _, err := t.Step(context.Background()); err != nil {
			if errors.Is(err, overlay.ErrNoSurface) {
				log.Printf("Overlay lost, stopping: %v", err)
				t.mu.Lock()
				t.release()
				t.mu.Unlock()
				return false
			}
			log.Printf("Error processing frame: %v", err)
		}
	}
	return t.rearm()
}

// Step runs one frame cycle.
func (t *Tracker) Step(ctx context.Context) (StepResult, error) {
	t.stepMu.Lock()
	defer t.stepMu.Unlock()

	var res StepResult

	det, gen, ok := t.ready()
	if !ok {
		return res, ErrNotReady
	}
	if gen != t.stepGen {
		t.stepGen = gen
		t.seenFrame = false
		t.lastVideoTime = 0
		t.lastDetectTs = -1
		t.result = nil
	}

	frame, err := t.camera.ReadFrame()
	if err != nil {
		return res, fmt.Errorf("read frame: %w", err)
	}
	defer frame.Close()

	if t.config.Sizing == SizingVideo {
		if err := t.fitToVideo(frame); err != nil {
			return res, err
		}
	}

	if !t.seenFrame || frame.Time != t.lastVideoTime {
		ts := frame.Time.Milliseconds()
		if ts <= t.lastDetectTs {
			ts = t.lastDetectTs + 1
		}

		result, err := det.DetectForVideo(frame.Mat, ts)
		if err != nil {
			return res, fmt.Errorf("detect: %w", err)
		}
		t.seenFrame = true
		t.lastVideoTime = frame.Time
		t.lastDetectTs = ts
		t.result = result
		res.Detected = true
	}

	if err := t.overlay.Clear(); err != nil {
		return res, err
	}

	if t.result.Empty() {
		t.publish(frame, nil, nil)
		return res, nil
	}

	for _, hand := range t.result.Hands {
		if err := t.overlay.DrawHand(hand); err != nil {
			return res, err
		}
	}
	res.Drawn = true
	res.Hands = len(t.result.Hands)

	b := t.overlay.Bounds()
	bounds := r2.Box{
		Min: r2.Vec{X: float64(b.Min.X), Y: float64(b.Min.Y)},
		Max: r2.Vec{X: float64(b.Max.X), Y: float64(b.Max.Y)},
	}
	t.mu.Lock()
	now := t.now()
	t.mu.Unlock()

	// A redrawn result moves the indicator but never fires a second pinch.
	var ind interaction.Indicator
	if res.Detected {
		ind = t.layer.Update(ctx, t.result.Hands[0], bounds, now)
	} else {
		ind = t.layer.Indicate(t.result.Hands[0], bounds)
	}
	t.publish(frame, t.result.Hands, &ind)

	return res, nil
}

func (t *Tracker) fitToVideo(frame *capture.Frame) error {
	b := t.overlay.Bounds()
	if b.Dx() == frame.Width && b.Dy() == frame.Height {
		return nil
	}
	if err := t.overlay.Resize(frame.Width, frame.Height); err != nil {
		return fmt.Errorf("%w: %w", overlay.ErrNoSurface, err)
	}
	t.layer.SetViewport(interaction.Size{Width: float64(frame.Width), Height: float64(frame.Height)})
	return nil
}

// Subscribe registers a viewer. withJPEG asks for the composited frame.
// The returned function unsubscribes.
func (t *Tracker) Subscribe(withJPEG bool) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	t.subMu.Lock()
	t.subs[ch] = withJPEG
	if withJPEG {
		t.jpeg++
	}
	t.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			if t.subs[ch] {
				t.jpeg--
			}
			delete(t.subs, ch)
			t.subMu.Unlock()
		})
	}
}

// publish fans a snapshot out to viewers without blocking the loop. A viewer
// that has not consumed the previous snapshot gets the newer one instead.
func (t *Tracker) publish(frame *capture.Frame, hands []detector.HandLandmarks, ind *interaction.Indicator) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	if len(t.subs) == 0 {
		return
	}

	snap := Snapshot{
		SessionID:   t.Session().ID,
		FrameTimeMs: frame.Time.Milliseconds(),
		Hands:       append([]detector.HandLandmarks(nil), hands...),
		Indicator:   ind,
		Timestamp:   time.Now().UnixMilli(),
	}

	var jpeg []byte
	if t.jpeg > 0 {
		data, err := t.overlay.Compose(frame.Mat)
		if err != nil {
			log.Printf("Error composing frame: %v", err)
		}
		jpeg = data
	}

	for ch, wantJPEG := range t.subs {
		s := snap
		if wantJPEG {
			s.JPEG = jpeg
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
