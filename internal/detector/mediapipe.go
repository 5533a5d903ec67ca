package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
type MediaPipeDetector struct {
	config        Config
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	stdout        *bufio.Reader
	mu            sync.Mutex
	lastTimestamp int64
	closed        bool
}

// Load fetches the model asset, starts the MediaPipe runtime and waits until it
// reports ready. Every failure wraps ErrModelLoadFailed.
func Load(ctx context.Context, config Config) (*MediaPipeDetector, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}

	modelPath, err := fetchModel(ctx, config.ModelAssetURL, config.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}

	scriptPath := config.RuntimeScript
	if scriptPath == "" {
		scriptPath = findMediaPipeScript()
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("%w: hand_landmarker_service.py not found", ErrModelLoadFailed)
	}

	d := &MediaPipeDetector{config: config, lastTimestamp: -1}
	if err := d.start(ctx, scriptPath, modelPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}

	return d, nil
}

// DetectForVideo sends a frame to the runtime and returns the detected hands.
func (d *MediaPipeDetector) DetectForVideo(frame *gocv.Mat, timestampMs int64) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.config.RunningMode != RunningModeVideo {
		return nil, ErrWrongRunningMode
	}
	if timestampMs <= d.lastTimestamp {
		return nil, fmt.Errorf("%w: %d after %d", ErrNonMonotonicTimestamp, timestampMs, d.lastTimestamp)
	}

	res, err := d.roundTrip(frame, timestampMs)
	if err != nil {
		return nil, err
	}
	d.lastTimestamp = timestampMs
	return res, nil
}

// Detect analyzes a single image. Only valid in image running mode.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.config.RunningMode != RunningModeImage {
		return nil, ErrWrongRunningMode
	}
	return d.roundTrip(frame, 0)
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.stdin != nil {
		d.stdin.Close()
	}
	var err error
	if d.cmd != nil {
		err = d.cmd.Wait()
	}
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
	return err
}

func (d *MediaPipeDetector) roundTrip(frame *gocv.Mat, timestampMs int64) (*Result, error) {
	// Encode frame as JPEG
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	if err := writeRequest(d.stdin, timestampMs, buf.GetBytes()); err != nil {
		return nil, err
	}

	// Read JSON response
	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return decodeResult(line, timestampMs)
}

func (d *MediaPipeDetector) start(ctx context.Context, scriptPath, modelPath string) error {
	// Use virtual environment Python if available
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	cmd := exec.Command(pythonPath, scriptPath,
		"--model", modelPath,
		"--running-mode", string(d.config.RunningMode),
		"--num-hands", strconv.Itoa(d.config.NumHands),
		"--delegate", string(d.config.Delegate),
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	reader := bufio.NewReader(stdout)
	ready := make(chan error, 1)
	go func() {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			ready <- fmt.Errorf("read handshake: %w", err)
			return
		}
		ready <- decodeHandshake(line)
	}()

	select {
	case err := <-ready:
		if err != nil {
			stdin.Close()
			cmd.Process.Kill()
			cmd.Wait()
			return err
		}
	case <-ctx.Done():
		stdin.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return ctx.Err()
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = reader
	return nil
}

// writeRequest frames one request: 8-byte timestamp, 4-byte length, JPEG bytes.
func writeRequest(w io.Writer, timestampMs int64, data []byte) error {
	header := make([]byte, 12)
	binary.BigEndian.PutUint64(header[:8], uint64(timestampMs))
	binary.BigEndian.PutUint32(header[8:], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func decodeHandshake(line []byte) error {
	var hs struct {
		Ready bool   `json:"ready"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &hs); err != nil {
		return fmt.Errorf("parse handshake: %w", err)
	}
	if !hs.Ready {
		if hs.Error != "" {
			return fmt.Errorf("runtime not ready: %s", hs.Error)
		}
		return fmt.Errorf("runtime not ready")
	}
	return nil
}

// decodeResult parses and validates one response line.
func decodeResult(line []byte, timestampMs int64) (*Result, error) {
	var response struct {
		Hands []jsonHand `json:"hands"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", ErrInvalidResult, err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("runtime error: %s", response.Error)
	}

	result := &Result{
		TimestampMs: timestampMs,
		Hands:       make([]HandLandmarks, 0, len(response.Hands)),
	}
	for i, h := range response.Hands {
		lm, err := h.toHandLandmarks()
		if err != nil {
			return nil, fmt.Errorf("hand %d: %w", i, err)
		}
		result.Hands = append(result.Hands, lm)
	}

	return result, nil
}

func findMediaPipeScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/hand_landmarker_service.py",
		"../scripts/hand_landmarker_service.py",
		filepath.Join(execDir, "scripts/hand_landmarker_service.py"),
		filepath.Join(os.Getenv("HOME"), ".pinchball/scripts/hand_landmarker_service.py"),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".pinchball/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
