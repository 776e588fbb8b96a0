package media

import (
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var versionRe = regexp.MustCompile(`version\s+(\S+)`)

// BinaryVersion reports whether name is on PATH and its version string.
func BinaryVersion(name string) (bool, string) {
	path, err := exec.LookPath(name)
	if err != nil {
		return false, ""
	}
	out, err := exec.Command(path, "-version").Output()
	if err != nil {
		return true, "unknown"
	}
	firstLine := strings.SplitN(string(out), "\n", 2)[0]
	if m := versionRe.FindStringSubmatch(firstLine); m != nil {
		return true, m[1]
	}
	return true, "unknown"
}

// CheckFFmpeg verifies that ffmpeg and ffprobe are installed. The bridge
// cannot move a single audio byte without them, so missing binaries are a
// startup error with install hints.
func CheckFFmpeg() error {
	ffmpegOK, ffmpegVer := BinaryVersion("ffmpeg")
	ffprobeOK, ffprobeVer := BinaryVersion("ffprobe")

	if ffmpegOK && ffprobeOK {
		log.Printf("MEDIA: ffmpeg %s, ffprobe %s", ffmpegVer, ffprobeVer)
		return nil
	}

	missing := []string{}
	if !ffmpegOK {
		missing = append(missing, "ffmpeg")
	}
	if !ffprobeOK {
		missing = append(missing, "ffprobe")
	}
	return fmt.Errorf("required binaries not found on PATH: %s\n"+
		"  Debian/Ubuntu: apt install ffmpeg\n"+
		"  macOS:         brew install ffmpeg\n"+
		"  Windows:       https://ffmpeg.org/download.html",
		strings.Join(missing, ", "))
}

// terminateProcess asks the process to exit and kills it after a grace
// period. Safe to call with a nil or already-finished command.
func terminateProcess(cmd *exec.Cmd, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(stopSignal)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		<-done
	}
}
