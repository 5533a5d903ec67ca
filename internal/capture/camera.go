// Package capture provides camera acquisition for the tracker using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default capture settings
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrCameraDenied is returned when the host could not provide a capture stream.
	ErrCameraDenied = errors.New("camera access denied")

	// ErrConstraintsUnsatisfied is returned when the requested constraints cannot be met.
	ErrConstraintsUnsatisfied = errors.New("capture constraints cannot be satisfied")
)

// Constraints describes the capture stream requested from the host.
type Constraints struct {
	DeviceID int
	Audio    bool
	Width    int
	Height   int
	// Mirror flips frames horizontally so user motion matches their view.
	Mirror bool
}

// DefaultConstraints returns video-only, mirrored 640x480 capture from device 0.
func DefaultConstraints() Constraints {
	return Constraints{
		DeviceID: 0,
		Audio:    false,
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		Mirror:   true,
	}
}

// Frame is a captured video frame along with the stream's playback time.
type Frame struct {
	Mat    *gocv.Mat
	Time   time.Duration
	Width  int
	Height int
}

// Close releases the frame's Mat.
func (f *Frame) Close() error {
	if f == nil || f.Mat == nil {
		return nil
	}
	err := f.Mat.Close()
	f.Mat = nil
	return err
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open(c Constraints) error
	Close() error
	ReadFrame() (*Frame, error)
	IsOpen() bool
}

// Acquire opens cam with the given constraints. Any failure is reported as
// ErrCameraDenied so callers can treat it as "tracking unavailable".
func Acquire(cam Camera, c Constraints) (Camera, error) {
	if cam == nil {
		return nil, fmt.Errorf("%w: no camera", ErrCameraDenied)
	}
	if err := cam.Open(c); err != nil {
		if errors.Is(err, ErrCameraDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCameraDenied, err)
	}
	return cam, nil
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	capture     *gocv.VideoCapture
	constraints Constraints
	mu          sync.Mutex
	running     bool
	openedAt    time.Time
}

// NewCamera creates a Camera backed by a local capture device.
func NewCamera() Camera {
	return &cameraImpl{}
}

// Open opens the device named in c and waits for the first frame, which is
// the point the stream is considered playing.
func (c *cameraImpl) Open(cons Constraints) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	if cons.Audio {
		return fmt.Errorf("%w: audio capture is not supported", ErrConstraintsUnsatisfied)
	}
	if cons.Width <= 0 {
		cons.Width = DefaultWidth
	}
	if cons.Height <= 0 {
		cons.Height = DefaultHeight
	}

	capture, err := gocv.OpenVideoCapture(cons.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCameraDenied, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(cons.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cons.Height))

	// Warm-up read, equivalent to waiting for loaded metadata
	warm := gocv.NewMat()
	defer warm.Close()
	if ok := capture.Read(&warm); !ok || warm.Empty() {
		capture.Close()
		return fmt.Errorf("%w: device %d produced no frames", ErrCameraDenied, cons.DeviceID)
	}

	c.capture = capture
	c.constraints = cons
	c.running = true
	c.openedAt = time.Now()

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera, mirrored if requested.
// The caller is responsible for closing the returned Frame.
func (c *cameraImpl) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	if c.constraints.Mirror {
		mirrored := gocv.NewMat()
		gocv.Flip(mat, &mirrored, 1)
		mat.Close()
		mat = mirrored
	}

	return &Frame{
		Mat:    &mat,
		Time:   c.playbackTime(),
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}, nil
}

// playbackTime prefers the backend's position and falls back to wall time
// since open for live devices that always report zero.
func (c *cameraImpl) playbackTime() time.Duration {
	if ms := c.capture.Get(gocv.VideoCapturePosMsec); ms > 0 {
		return time.Duration(ms * float64(time.Millisecond))
	}
	return time.Since(c.openedAt)
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
