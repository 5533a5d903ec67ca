// Package interaction turns the index fingertip and thumb tip of the first
// tracked hand into indicator feedback and a debounced pinch trigger.
package interaction

import (
	"math"

	"github.com/ayusman/pinchball/internal/detector"
	"gonum.org/v1/gonum/spatial/r2"
)

// Color is the indicator fill, named as the viewer paints it.
type Color string

const (
	ColorInside Color = "blue"
	ColorLeft   Color = "red"
	ColorRight  Color = "green"
	ColorTop    Color = "black"
	ColorBottom Color = "yellow"
)

// Size is a viewport size in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PointerPosition scales a normalized landmark to viewport pixels.
func PointerPosition(tip detector.Point3D, viewport Size) r2.Vec {
	return r2.Vec{X: tip.X * viewport.Width, Y: tip.Y * viewport.Height}
}

// PinchDistance is the planar distance between two landmarks in normalized
// space. Depth is ignored.
func PinchDistance(a, b detector.Point3D) float64 {
	return r2.Norm(r2.Sub(r2.Vec{X: a.X, Y: a.Y}, r2.Vec{X: b.X, Y: b.Y}))
}

// Scale maps a pinch distance to indicator scale: 1 - d*k, clamped to [0, 1].
func Scale(distance, k float64) float64 {
	s := math.Min(1-distance*k, 1)
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	return s
}

// EdgeColor reports which edge of bounds the indicator crosses. Edges are
// checked left, right, top, bottom and the first crossed one wins.
func EdgeColor(indicator, bounds r2.Box) Color {
	switch {
	case indicator.Min.X < bounds.Min.X:
		return ColorLeft
	case indicator.Max.X > bounds.Max.X:
		return ColorRight
	case indicator.Min.Y < bounds.Min.Y:
		return ColorTop
	case indicator.Max.Y > bounds.Max.Y:
		return ColorBottom
	default:
		return ColorInside
	}
}

// indicatorBox is the on-screen box of a square indicator of the given size,
// translated by t and scaled about its center.
func indicatorBox(t r2.Vec, size, scale float64) r2.Box {
	half := size / 2
	center := r2.Add(t, r2.Vec{X: half, Y: half})
	ext := r2.Vec{X: half * scale, Y: half * scale}
	return r2.Box{Min: r2.Sub(center, ext), Max: r2.Add(center, ext)}
}
