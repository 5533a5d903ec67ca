// Package main is a pinch command for the --on-pinch flag. It reads the pinch
// event from stdin and performs the system action named by its argument.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/ayusman/pinchball/internal/action"
)

// Response is written to stdout after every run.
type Response struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Error   string `json:"error,omitempty"`
}

// actionHandler performs one system action for evt.
type actionHandler func(evt action.PinchEvent) error

// actionHandlers maps action names to their handler functions.
var actionHandlers = map[string]actionHandler{
	"click":            click,
	"volume-mute":      volumeMute,
	"media-play-pause": mediaPlayPause,
	"media-next":       mediaNext,
}

// run executes a system command. Replaced in tests.
var run = func(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func main() {
	name := "media-play-pause"
	if len(os.Args) > 1 {
		name = os.Args[1]
	}

	resp := handle(name, os.Stdin)
	json.NewEncoder(os.Stdout).Encode(resp)
	if !resp.Success {
		fmt.Fprintln(os.Stderr, resp.Error)
		os.Exit(1)
	}
}

// handle decodes the pinch event from r and runs the named action.
func handle(name string, r io.Reader) Response {
	resp := Response{Action: name}

	var evt action.PinchEvent
	if err := json.NewDecoder(r).Decode(&evt); err != nil {
		resp.Error = fmt.Sprintf("failed to decode pinch event: %v", err)
		return resp
	}

	handler, ok := actionHandlers[name]
	if !ok {
		resp.Error = fmt.Sprintf("unknown action: %s", name)
		return resp
	}

	if err := handler(evt); err != nil {
		resp.Error = fmt.Sprintf("action %s failed: %v", name, err)
		return resp
	}

	resp.Success = true
	return resp
}

// runAppleScript executes an AppleScript command and returns any error.
func runAppleScript(script string) error {
	return run("osascript", "-e", script)
}

// click presses the primary mouse button at the pinch position.
func click(evt action.PinchEvent) error {
	x := strconv.Itoa(int(evt.X))
	y := strconv.Itoa(int(evt.Y))
	if runtime.GOOS == "darwin" {
		return run("cliclick", "c:"+x+","+y)
	}
	return run("xdotool", "mousemove", x, y, "click", "1")
}

// volumeMute toggles the system mute state.
func volumeMute(evt action.PinchEvent) error {
	if runtime.GOOS == "darwin" {
		return runAppleScript(`set volume output muted (not (output muted of (get volume settings)))`)
	}
	return run("xdotool", "key", "XF86AudioMute")
}

// mediaPlayPause toggles media play/pause using the Play-Pause media key.
func mediaPlayPause(evt action.PinchEvent) error {
	if runtime.GOOS == "darwin" {
		return runAppleScript(`tell application "System Events"
	key code 100
end tell`)
	}
	return run("xdotool", "key", "XF86AudioPlay")
}

// mediaNext skips to the next track using the Next media key.
func mediaNext(evt action.PinchEvent) error {
	if runtime.GOOS == "darwin" {
		return runAppleScript(`tell application "System Events"
	key code 101
end tell`)
	}
	return run("xdotool", "key", "XF86AudioNext")
}
