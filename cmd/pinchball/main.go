package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/ayusman/pinchball/internal/app"
	"github.com/ayusman/pinchball/internal/detector"
	"github.com/ayusman/pinchball/internal/interaction"
	"github.com/ayusman/pinchball/internal/tracker"
	"github.com/ayusman/pinchball/internal/tray"
)

func main() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %v", err)
	}

	cfg := app.DefaultConfig()

	var (
		sizing   = flag.String("sizing", string(tracker.SizingWindow), "overlay sizing: window or video")
		width    = flag.Int("window-width", 1280, "overlay width in window sizing mode")
		height   = flag.Int("window-height", 720, "overlay height in window sizing mode")
		useTray  = flag.Bool("tray", true, "show the system tray menu")
		autoRun  = flag.Bool("start", false, "start tracking immediately")
		pinchCmd = flag.String("on-pinch", "", "command to run on every pinch, receives the event as JSON on stdin")
		delegate = flag.String("delegate", string(detector.DelegateGPU), "inference delegate: GPU or CPU")
	)
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "viewer listen address (loopback only)")
	flag.StringVar(&cfg.DataDir, "data-dir", filepath.Join(homeDir, ".pinchball"), "settings and model cache directory")
	flag.StringVar(&cfg.StaticDir, "web", findWebDir(), "directory of static viewer files")
	flag.IntVar(&cfg.Tracker.Constraints.DeviceID, "device", cfg.Tracker.Constraints.DeviceID, "camera device index")
	flag.IntVar(&cfg.Tracker.Constraints.Width, "camera-width", cfg.Tracker.Constraints.Width, "requested camera width")
	flag.IntVar(&cfg.Tracker.Constraints.Height, "camera-height", cfg.Tracker.Constraints.Height, "requested camera height")
	flag.BoolVar(&cfg.Tracker.Constraints.Mirror, "mirror", cfg.Tracker.Constraints.Mirror, "mirror the camera image")
	flag.IntVar(&cfg.Tracker.RefreshRate, "fps", cfg.Tracker.RefreshRate, "frame loop rate")
	flag.StringVar(&cfg.Detector.ModelAssetURL, "model", cfg.Detector.ModelAssetURL, "hand landmarker model URL or path")
	flag.StringVar(&cfg.Detector.RuntimeScript, "runtime-script", "", "path to the landmarker service script")
	flag.IntVar(&cfg.Detector.NumHands, "num-hands", cfg.Detector.NumHands, "maximum hands to detect")
	flag.DurationVar(&cfg.Interaction.Cooldown, "cooldown", cfg.Interaction.Cooldown, "minimum time between pinches")
	flag.Float64Var(&cfg.Interaction.PinchThreshold, "pinch-threshold", cfg.Interaction.PinchThreshold, "normalized thumb to index distance that counts as a pinch")
	flag.Parse()

	cfg.Tracker.Sizing = tracker.Sizing(*sizing)
	cfg.Tracker.Window = interaction.Size{Width: float64(*width), Height: float64(*height)}
	cfg.Interaction.Viewport = cfg.Tracker.Window
	cfg.Detector.Delegate = detector.Delegate(strings.ToUpper(*delegate))
	if *pinchCmd != "" {
		fields := strings.Fields(*pinchCmd)
		cfg.PinchCommand, cfg.PinchArgs = fields[0], fields[1:]
	}

	fmt.Println("Pinchball - Hand Tracking Demo")

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StaticDir != "" {
		fmt.Printf("Serving static files from: %s\n", cfg.StaticDir)
	}

	if *autoRun || !*useTray {
		if err := a.Start(ctx); err != nil {
			log.Printf("Tracking not started: %v", err)
		}
	}

	if !*useTray {
		if err := a.Serve(ctx); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	t := tray.New()
	t.SetTracking(a.IsEnabled())
	a.AddAction(t)
	t.OnToggle(func(enabled bool) error {
		return a.SetEnabled(ctx, enabled)
	})
	t.OnViewer(func() {
		if err := openBrowser(a.ViewerURL()); err != nil {
			log.Printf("Failed to open viewer: %v", err)
		}
	})
	t.OnQuit(stop)

	go func() {
		if err := a.Serve(ctx); err != nil {
			log.Printf("Server failed: %v", err)
		}
		t.Quit()
	}()

	t.Run()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.pinchball/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".pinchball", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
