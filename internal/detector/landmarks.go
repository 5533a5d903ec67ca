// Package detector provides hand landmark detection types and the MediaPipe adapter.
package detector

import (
	"fmt"
	"math"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Point3D is a landmark normalized to [0,1] relative to the frame; Z is depth
// relative to the wrist.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point3D) finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Result is the detection output for one frame.
type Result struct {
	TimestampMs int64           `json:"timestamp"`
	Hands       []HandLandmarks `json:"hands"`
}

// Empty reports whether the result holds no hands.
func (r *Result) Empty() bool {
	return r == nil || len(r.Hands) == 0
}

// Connection joins two landmark indices in a skeleton overlay.
type Connection struct {
	From, To int
}

// HandConnections is the hand skeleton topology: palm outline then the five fingers.
var HandConnections = []Connection{
	{Wrist, ThumbCMC}, {Wrist, IndexMCP}, {MiddleMCP, RingMCP},
	{RingMCP, PinkyMCP}, {IndexMCP, MiddleMCP}, {Wrist, PinkyMCP},

	{ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []jsonPoint `json:"points"`
	Handedness string      `json:"handedness"`
	Score      float64     `json:"score"`
}

type jsonPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// toHandLandmarks checks the hand against the 21-point schema.
func (h jsonHand) toHandLandmarks() (HandLandmarks, error) {
	lm := HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}

	if len(h.Points) != NumLandmarks {
		return lm, fmt.Errorf("%w: hand has %d landmarks, want %d", ErrInvalidResult, len(h.Points), NumLandmarks)
	}

	for i, p := range h.Points {
		pt := Point3D{X: p.X, Y: p.Y, Z: p.Z}
		if !pt.finite() {
			return lm, fmt.Errorf("%w: landmark %d is not finite", ErrInvalidResult, i)
		}
		lm.Points[i] = pt
	}

	return lm, nil
}
