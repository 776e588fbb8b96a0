package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// MediaInfo is the subset of ffprobe output the bridge cares about.
type MediaInfo struct {
	Codec       string
	SampleRate  int
	Channels    int
	Bitrate     int
	Duration    float64
	IsStreaming bool
	Title       string
	Artist      string
	Album       string
}

// streamingDurationCap is one day in seconds. Anything longer is a live
// stream wearing an implausible duration, not a track.
const streamingDurationCap = 86400.0

// IsStreamingDuration reports whether a duration means a live stream:
// absent, or longer than any real track.
func IsStreamingDuration(duration float64) bool {
	return duration <= 0 || duration > streamingDurationCap
}

type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		BitRate    string `json:"bit_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		BitRate  string            `json:"bit_rate"`
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe inspects url with ffprobe without decoding it.
func Probe(ctx context.Context, url string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a:0",
		url,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams in %s", url)
	}

	stream := parsed.Streams[0]
	info := &MediaInfo{
		Codec:      stream.CodecName,
		SampleRate: atoiSafe(stream.SampleRate),
		Channels:   stream.Channels,
	}

	// Stream values win; format values fill gaps.
	info.Bitrate = atoiSafe(stream.BitRate)
	if info.Bitrate == 0 {
		info.Bitrate = atoiSafe(parsed.Format.BitRate)
	}
	info.Duration = atofSafe(stream.Duration)
	if info.Duration == 0 {
		info.Duration = atofSafe(parsed.Format.Duration)
	}
	info.IsStreaming = IsStreamingDuration(info.Duration)

	for key, val := range parsed.Format.Tags {
		switch strings.ToLower(key) {
		case "title":
			info.Title = val
		case "artist":
			info.Artist = val
		case "album":
			info.Album = val
		}
	}
	return info, nil
}

// FormatBitrate renders a bitrate for display, e.g. "320 kbps".
func FormatBitrate(bitrate int) string {
	switch {
	case bitrate <= 0:
		return ""
	case bitrate >= 1000000:
		return fmt.Sprintf("%d Mbps", bitrate/1000000)
	case bitrate >= 1000:
		return fmt.Sprintf("%d kbps", bitrate/1000)
	default:
		return fmt.Sprintf("%d bps", bitrate)
	}
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atofSafe(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
