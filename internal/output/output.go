// Package output implements the two playback sinks behind a virtual
// renderer: an AirPlay sender driving an injected RAOP client, and a local
// speaker writing to the host sound device through portaudio.
package output

// Output is what a virtual device drives. Implementations serialize their
// own stream operations; callers may invoke these from bus handlers.
type Output interface {
	// Start brings up the sink (connects the AirPlay session or opens the
	// sound device). Idempotent.
	Start() error
	// Play starts a new stream from url at position seconds, aborting any
	// stream already in flight.
	Play(url string, position float64) error
	// Stop aborts playback and discards the cache.
	Stop()
	// Pause halts playback. The AirPlay transport cannot pause, so the
	// sender implements this as Stop; the speaker keeps its cache so a
	// later Play at the recorded position resumes cheaply.
	Pause()
	SetVolume(volume int)
	SetMute(muted bool)
	// Volume and Muted report the sink's live values. ok is false when the
	// sink cannot be read (e.g. no session is up); callers fall back to
	// their cached state then.
	Volume() (volume int, ok bool)
	Muted() (muted bool, ok bool)
	// Close tears the sink down for good.
	Close()
}

// AudioSource is the pull-model PCM interface the RAOP client consumes.
// ReadFrames returns big-endian S16 PCM and io.EOF at end of stream.
type AudioSource interface {
	SampleRate() int
	Channels() int
	SampleSize() int
	Duration() float64
	ReadFrames(nframes int) ([]byte, error)
	Close()
}
