// Package overlay draws hand skeletons onto an off-screen surface that sits
// over the mirrored video.
package overlay

import (
	"errors"
	"image"
	"sync"

	"github.com/ayusman/pinchball/internal/detector"
	"gocv.io/x/gocv"
)

// ErrNoSurface is returned when drawing on a surface that was never sized or is closed.
var ErrNoSurface = errors.New("overlay surface is not available")

// Surface is a BGR drawing buffer of fixed pixel dimensions.
type Surface struct {
	mat    gocv.Mat
	width  int
	height int
	ready  bool
	mu     sync.Mutex
}

// NewSurface creates an unsized surface. Call Resize before drawing.
func NewSurface() *Surface {
	return &Surface{}
}

// Resize reallocates the surface to w x h pixels and clears it.
func (s *Surface) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return errors.New("overlay size must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		if s.width == w && s.height == h {
			s.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
			return nil
		}
		s.mat.Close()
	}

	s.mat = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC3)
	s.width = w
	s.height = h
	s.ready = true
	return nil
}

// Bounds returns the surface rectangle in pixels.
func (s *Surface) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return image.Rect(0, 0, s.width, s.height)
}

// Clear erases everything drawn on the surface.
func (s *Surface) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNoSurface
	}
	s.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
	return nil
}

// DrawHand draws one hand's skeleton with the default styles.
func (s *Surface) DrawHand(hand detector.HandLandmarks) error {
	if err := DrawConnectors(s, hand.Points[:], detector.HandConnections, ConnectorStyle); err != nil {
		return err
	}
	return DrawLandmarks(s, hand.Points[:], LandmarkStyle)
}

// Mat exposes the underlying buffer. Callers must not keep it past Close.
func (s *Surface) Mat() *gocv.Mat {
	return &s.mat
}

// Close releases the buffer.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil
	}
	s.ready = false
	return s.mat.Close()
}

// toPixel scales a normalized landmark by the surface dimensions.
func (s *Surface) toPixel(p detector.Point3D) image.Point {
	return image.Pt(int(p.X*float64(s.width)), int(p.Y*float64(s.height)))
}

// DrawConnectors draws a line for every connection whose endpoints exist in landmarks.
func DrawConnectors(s *Surface, landmarks []detector.Point3D, topology []detector.Connection, style Style) error {
	if s == nil {
		return ErrNoSurface
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNoSurface
	}

	for _, c := range topology {
		if c.From >= len(landmarks) || c.To >= len(landmarks) {
			continue
		}
		gocv.Line(&s.mat, s.toPixel(landmarks[c.From]), s.toPixel(landmarks[c.To]), style.Color, style.LineWidth)
	}
	return nil
}

// DrawLandmarks draws a filled circle with an outline at every landmark.
func DrawLandmarks(s *Surface, landmarks []detector.Point3D, style Style) error {
	if s == nil {
		return ErrNoSurface
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNoSurface
	}

	for _, p := range landmarks {
		center := s.toPixel(p)
		gocv.Circle(&s.mat, center, style.Radius, style.FillColor, -1)
		gocv.Circle(&s.mat, center, style.Radius, style.Color, style.LineWidth)
	}
	return nil
}

// Compose scales video to the surface size, paints every non-empty overlay
// pixel on top and returns the JPEG encoding.
func (s *Surface) Compose(video *gocv.Mat) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, ErrNoSurface
	}
	if video == nil || video.Empty() {
		return nil, errors.New("no video frame to compose")
	}

	out := gocv.NewMat()
	defer out.Close()
	gocv.Resize(*video, &out, image.Pt(s.width, s.height), 0, 0, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(s.mat, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, 0, 255, gocv.ThresholdBinary)

	s.mat.CopyToWithMask(&out, mask)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, out)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
