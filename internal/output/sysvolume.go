package output

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"
)

// systemVolume adjusts the OS master volume, best effort. Linux goes through
// amixer, macOS through osascript; anywhere else volume stays software-only.
type systemVolume struct {
	kind string
}

func newSystemVolume() *systemVolume {
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("amixer"); err == nil {
			return &systemVolume{kind: "amixer"}
		}
	case "darwin":
		return &systemVolume{kind: "osascript"}
	}
	log.Printf("SPEAKER: system volume control unavailable, software gain only")
	return &systemVolume{}
}

// Set applies a 0-100 level to the OS mixer. Failures are logged, not fatal;
// the software gain still applies either way.
func (v *systemVolume) Set(volume int) {
	var cmd *exec.Cmd
	switch v.kind {
	case "amixer":
		cmd = exec.Command("amixer", "-q", "set", "Master", fmt.Sprintf("%d%%", volume))
	case "osascript":
		cmd = exec.Command("osascript", "-e", fmt.Sprintf("set volume output volume %d", volume))
	default:
		return
	}
	if err := cmd.Run(); err != nil {
		log.Printf("SPEAKER: system volume set failed: %v", err)
	}
}
