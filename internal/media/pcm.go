// Package media wraps the external ffmpeg/ffprobe processes that move audio:
// the downloader that stream-copies a URL into a growing cache file, the
// decoder that turns the cache into raw PCM, the prober that reads media
// metadata, and the pull-model audio source that feeds the outputs.
package media

// PCMFormat selects the decoder's raw output encoding.
type PCMFormat int

const (
	// S16LE is 16-bit signed little-endian, used on the AirPlay path.
	S16LE PCMFormat = iota
	// F32LE is 32-bit float little-endian, used by the local speaker.
	F32LE
)

// Codec returns the ffmpeg audio codec name.
func (f PCMFormat) Codec() string {
	if f == F32LE {
		return "pcm_f32le"
	}
	return "pcm_s16le"
}

// FormatName returns the ffmpeg output format name.
func (f PCMFormat) FormatName() string {
	if f == F32LE {
		return "f32le"
	}
	return "s16le"
}

// BytesPerSample returns the sample width in bytes.
func (f PCMFormat) BytesPerSample() int {
	if f == F32LE {
		return 4
	}
	return 2
}

func (f PCMFormat) String() string {
	if f == F32LE {
		return "F32LE"
	}
	return "S16LE"
}
