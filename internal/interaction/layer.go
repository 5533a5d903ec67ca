package interaction

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ayusman/pinchball/internal/action"
	"github.com/ayusman/pinchball/internal/detector"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
)

// Config holds the interaction tuning.
type Config struct {
	// Viewport is the size pointer positions are scaled to.
	Viewport Size
	// CenterOffset is subtracted from both pointer coordinates.
	CenterOffset float64
	// Sensitivity is K in scale = 1 - distance*K.
	Sensitivity float64
	// PinchThreshold is the normalized distance below which a pinch fires.
	PinchThreshold float64
	// Cooldown is the minimum time between two pinches.
	Cooldown time.Duration
	// IndicatorSize is the indicator's side length in pixels.
	IndicatorSize float64
}

// DefaultConfig returns the default pinch tuning.
func DefaultConfig() Config {
	return Config{
		Viewport:       Size{Width: 1280, Height: 720},
		CenterOffset:   400,
		Sensitivity:    40,
		PinchThreshold: 0.04,
		Cooldown:       1000 * time.Millisecond,
		IndicatorSize:  25,
	}
}

// CooldownStore persists the last pinch time across restarts.
type CooldownStore interface {
	LastTrigger() (time.Time, bool, error)
	SetLastTrigger(t time.Time) error
}

// Indicator is the feedback derived from one frame.
type Indicator struct {
	Translate r2.Vec  `json:"translate"`
	Scale     float64 `json:"scale"`
	Color     Color   `json:"color"`
	Distance  float64 `json:"distance"`
	Pinched   bool    `json:"pinched"`
}

// Layer owns the cooldown timestamp and fires the pinch action.
type Layer struct {
	config      Config
	store       CooldownStore
	action      action.Action
	sessionID   uuid.UUID
	lastTrigger time.Time
	triggered   bool
	mu          sync.Mutex
}

// New creates a Layer with no persistence and a logging action.
func New(config Config) *Layer {
	return &Layer{
		config:    config,
		action:    action.LogAction{},
		sessionID: uuid.New(),
	}
}

// SetStore attaches persistence and restores the last trigger time from it.
func (l *Layer) SetStore(s CooldownStore) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.store = s
	if s == nil {
		return nil
	}

	last, ok, err := s.LastTrigger()
	if err != nil {
		return err
	}
	if ok {
		l.lastTrigger = last
		l.triggered = true
	}
	return nil
}

// SetAction replaces the action fired on pinch.
func (l *Layer) SetAction(a action.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.action = a
}

// SetSessionID tags subsequent pinch events.
func (l *Layer) SetSessionID(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = id
}

// SetViewport changes the size pointer positions are scaled to.
func (l *Layer) SetViewport(v Size) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Viewport = v
}

// Config returns the current tuning.
func (l *Layer) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config
}

// LastTrigger returns the last pinch time, if any.
func (l *Layer) LastTrigger() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTrigger, l.triggered
}

// Update computes the indicator for hand against the overlay bounds and fires
// the pinch action when the gate opens.
func (l *Layer) Update(ctx context.Context, hand detector.HandLandmarks, bounds r2.Box, now time.Time) Indicator {
	l.mu.Lock()
	ind, pos := l.indicate(hand, bounds)
	distance := ind.Distance

	if !l.open(distance, now) {
		l.mu.Unlock()
		return ind
	}

	l.lastTrigger = now
	l.triggered = true
	ind.Pinched = true

	st := l.store
	act := l.action
	evt := action.PinchEvent{
		ID:        uuid.New(),
		SessionID: l.sessionID,
		Time:      now,
		Distance:  distance,
		X:         pos.X,
		Y:         pos.Y,
	}
	l.mu.Unlock()

	if st != nil {
		if err := st.SetLastTrigger(now); err != nil {
			log.Printf("Error saving pinch cooldown: %v", err)
		}
	}
	if act != nil {
		if err := act.Fire(ctx, evt); err != nil {
			log.Printf("Error firing pinch action: %v", err)
		}
	}

	return ind
}

// Indicate computes the indicator for hand without firing the pinch action. It
// is used to redraw a result that was already seen by Update.
func (l *Layer) Indicate(hand detector.HandLandmarks, bounds r2.Box) Indicator {
	l.mu.Lock()
	defer l.mu.Unlock()
	ind, _ := l.indicate(hand, bounds)
	return ind
}

// indicate returns the indicator and pointer position. Caller holds mu.
func (l *Layer) indicate(hand detector.HandLandmarks, bounds r2.Box) (Indicator, r2.Vec) {
	cfg := l.config

	index := hand.Points[detector.IndexTip]
	thumb := hand.Points[detector.ThumbTip]

	pos := PointerPosition(index, cfg.Viewport)
	translate := r2.Sub(pos, r2.Vec{X: cfg.CenterOffset, Y: cfg.CenterOffset})

	distance := PinchDistance(index, thumb)
	scale := Scale(distance, cfg.Sensitivity)

	return Indicator{
		Translate: translate,
		Scale:     scale,
		Color:     EdgeColor(indicatorBox(translate, cfg.IndicatorSize, scale), bounds),
		Distance:  distance,
	}, pos
}

// open reports whether a pinch at distance may fire at now. Caller holds mu.
func (l *Layer) open(distance float64, now time.Time) bool {
	if distance >= l.config.PinchThreshold {
		return false
	}
	if l.triggered && now.Sub(l.lastTrigger) < l.config.Cooldown {
		return false
	}
	return true
}
