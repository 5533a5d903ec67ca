package detector

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrModelLoadFailed is returned when the runtime or model asset could not be loaded.
	ErrModelLoadFailed = errors.New("hand landmarker failed to load")

	// ErrWrongRunningMode is returned when a video call is made on an image-mode detector.
	ErrWrongRunningMode = errors.New("detector running mode does not allow this call")

	// ErrNonMonotonicTimestamp is returned when a video frame timestamp does not increase.
	ErrNonMonotonicTimestamp = errors.New("video timestamps must be strictly increasing")

	// ErrInvalidResult is returned when the runtime produces a malformed detection result.
	ErrInvalidResult = errors.New("invalid detection result")

	// ErrClosed is returned when detecting on a closed detector.
	ErrClosed = errors.New("detector is closed")
)

// Detector defines the interface for hand landmark detection implementations.
type Detector interface {
	// DetectForVideo analyzes a video frame captured at timestampMs.
	// The result may contain zero hands.
	DetectForVideo(frame *gocv.Mat, timestampMs int64) (*Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// RunningMode selects continuous-video or single-image inference.
type RunningMode string

const (
	RunningModeVideo RunningMode = "VIDEO"
	RunningModeImage RunningMode = "IMAGE"
)

// Delegate is the hardware acceleration preference passed to the runtime.
type Delegate string

const (
	DelegateGPU Delegate = "GPU"
	DelegateCPU Delegate = "CPU"
)

// Default hand landmarker model published by MediaPipe.
const DefaultModelAssetURL = "https://storage.googleapis.com/mediapipe-models/hand_landmarker/hand_landmarker/float16/1/hand_landmarker.task"

// Config holds configuration options for hand detection.
type Config struct {
	// RunningMode is VIDEO for the tracking loop.
	RunningMode RunningMode

	// NumHands is the maximum number of hands to detect (default: 2).
	NumHands int

	// Delegate is the acceleration preference (default: GPU).
	Delegate Delegate

	// ModelAssetURL is an http(s) URL or a local path to the .task model.
	ModelAssetURL string

	// RuntimeScript is the path to the MediaPipe service script. Empty means search
	// the usual locations.
	RuntimeScript string

	// CacheDir receives downloaded model assets.
	CacheDir string

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		RunningMode:     RunningModeVideo,
		NumHands:        2,
		Delegate:        DelegateGPU,
		ModelAssetURL:   DefaultModelAssetURL,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}

func (c Config) validate() error {
	switch c.RunningMode {
	case RunningModeVideo, RunningModeImage:
	default:
		return errors.New("unknown running mode " + string(c.RunningMode))
	}
	switch c.Delegate {
	case DelegateGPU, DelegateCPU:
	default:
		return errors.New("unknown delegate " + string(c.Delegate))
	}
	if c.NumHands < 1 {
		return errors.New("num hands must be at least 1")
	}
	if c.ModelAssetURL == "" {
		return errors.New("model asset is required")
	}
	return nil
}

// Loader returns a function that loads a MediaPipe detector with config.
func Loader(config Config) func(ctx context.Context) (Detector, error) {
	return func(ctx context.Context) (Detector, error) {
		d, err := Load(ctx, config)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}
