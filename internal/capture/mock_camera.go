package capture

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing
type MockCamera struct {
	frames  []*gocv.Mat
	times   []time.Duration
	index   int
	loop    bool
	deny    error
	opened  Constraints
	mu      sync.Mutex
	running bool
}

// NewMockCamera creates a MockCamera. Frame i is reported at i*33ms unless
// SetTimes overrides it.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

// SetTimes sets the playback time reported for each frame index.
func (c *MockCamera) SetTimes(times []time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times = times
}

// Deny makes the next Open calls fail with err.
func (c *MockCamera) Deny(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deny = err
}

func (c *MockCamera) Open(cons Constraints) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deny != nil {
		return c.deny
	}
	if cons.Audio {
		return fmt.Errorf("%w: audio capture is not supported", ErrConstraintsUnsatisfied)
	}
	c.opened = cons
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, fmt.Errorf("no more frames")
		}
	}

	// Clone the frame so the original isn't modified
	mat := c.frames[c.index].Clone()
	ts := time.Duration(c.index) * 33 * time.Millisecond
	if c.index < len(c.times) {
		ts = c.times[c.index]
	}
	c.index++

	return &Frame{
		Mat:    &mat,
		Time:   ts,
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}, nil
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Constraints returns the constraints passed to the last successful Open.
func (c *MockCamera) Constraints() Constraints {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
