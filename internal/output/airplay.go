package output

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/unairplay/unairplay-go/internal/dsp"
	"github.com/unairplay/unairplay-go/internal/media"
)

// AirPlayConfig ties a sender to its speaker and audio parameters.
type AirPlayConfig struct {
	Identifier string // scanner-reported AirPlay id
	Name       string
	Address    string
	SampleRate int
	Channels   int
	CacheDir   string
	CacheName  string // device-id based cache file stem

	Dial   RAOPDialer
	Rescan Rescanner

	Enhancer   *dsp.Enhancer
	DSPEnabled func() bool
	Duration   func() float64 // current track duration for the source

	// OnStreamStart fires when the first frame reaches the wire.
	// OnStreamDone fires when a stream ends on its own (not via Stop).
	OnStreamStart func()
	OnStreamDone  func()
}

// AirPlaySender drives one RAOP client for one speaker. A single stream is
// active at a time; Play aborts the previous stream under the stream lock.
// The transport cannot pause, so Pause degrades to Stop. Mute drives the
// volume to zero and restores it on unmute.
type AirPlaySender struct {
	cfg AirPlayConfig

	streamMu sync.Mutex // serializes play/stop transitions

	mu        sync.Mutex
	client    RAOPClient
	connected bool
	address   string
	playing   bool
	volume    int
	muted     bool
	cancel    context.CancelFunc
	source    *media.Source
	gen       int
}

// NewAirPlaySender creates a disconnected sender.
func NewAirPlaySender(cfg AirPlayConfig) *AirPlaySender {
	return &AirPlaySender{cfg: cfg, volume: 100, address: cfg.Address}
}

// Start connects to the speaker, re-resolving its address first. Satisfies
// Output; reconnection after a drop goes through here as well.
func (a *AirPlaySender) Start() error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	ctx := context.Background()
	address := a.cfg.Address
	if a.cfg.Rescan != nil {
		resolved, err := a.cfg.Rescan.Resolve(ctx, a.cfg.Identifier)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", a.cfg.Name, err)
		}
		address = resolved
	}

	client := a.cfg.Dial()
	if err := client.Connect(ctx, a.cfg.Identifier, address); err != nil {
		return fmt.Errorf("connect %s at %s: %w", a.cfg.Name, address, err)
	}

	a.mu.Lock()
	a.client = client
	a.connected = true
	a.address = address
	a.mu.Unlock()

	log.Printf("AIRPLAY: connected to %s (%s)", a.cfg.Name, address)
	return nil
}

// Connected reports whether a session is up.
func (a *AirPlaySender) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Play starts streaming url at position seconds. The previous stream, if
// any, is aborted first.
func (a *AirPlaySender) Play(url string, position float64) error {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()

	a.stopCurrentStream()

	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		if err := a.Start(); err != nil {
			return err
		}
		a.mu.Lock()
	}
	client := a.client

	duration := 0.0
	if a.cfg.Duration != nil {
		duration = a.cfg.Duration()
	}
	src := media.NewSource(media.SourceConfig{
		URL:          url,
		SeekPosition: position,
		SampleRate:   a.cfg.SampleRate,
		Channels:     a.cfg.Channels,
		Duration:     duration,
		CacheDir:     a.cfg.CacheDir,
		CacheName:    a.cfg.CacheName,
		Enhancer:     a.cfg.Enhancer,
		DSPEnabled:   a.cfg.DSPEnabled,
		OnFirstFrame: a.cfg.OnStreamStart,
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.source = src
	a.playing = true
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	go func() {
		err := client.Stream(ctx, src)
		src.Close()

		a.mu.Lock()
		stale := gen != a.gen || !a.playing
		a.playing = false
		a.mu.Unlock()
		if stale {
			return
		}
		if err != nil && ctx.Err() == nil {
			log.Printf("AIRPLAY: stream to %s failed: %v", a.cfg.Name, err)
		}
		if ctx.Err() == nil && a.cfg.OnStreamDone != nil {
			a.cfg.OnStreamDone()
		}
	}()
	return nil
}

// Stop aborts the active stream.
func (a *AirPlaySender) Stop() {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	a.stopCurrentStream()
}

// Pause is Stop; the RAOP transport has no pause.
func (a *AirPlaySender) Pause() { a.Stop() }

func (a *AirPlaySender) stopCurrentStream() {
	a.mu.Lock()
	cancel := a.cancel
	src := a.source
	a.cancel = nil
	a.source = nil
	a.playing = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		src.Close()
	}
}

// SetVolume maps 0-100 linearly onto the client scale. While muted the new
// level is only remembered.
func (a *AirPlaySender) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}

	a.mu.Lock()
	a.volume = volume
	client := a.client
	muted := a.muted
	a.mu.Unlock()

	if client == nil || muted {
		return
	}
	if err := client.SetVolume(float64(volume)); err != nil {
		log.Printf("AIRPLAY: set volume on %s failed: %v", a.cfg.Name, err)
	}
}

// SetMute drives the speaker volume to zero, restoring the remembered level
// on unmute.
func (a *AirPlaySender) SetMute(muted bool) {
	a.mu.Lock()
	a.muted = muted
	client := a.client
	volume := a.volume
	a.mu.Unlock()

	if client == nil {
		return
	}
	target := float64(volume)
	if muted {
		target = 0
	}
	if err := client.SetVolume(target); err != nil {
		log.Printf("AIRPLAY: set mute on %s failed: %v", a.cfg.Name, err)
	}
}

// Volume reports the level last applied to the speaker. Readable only
// while a session is up.
func (a *AirPlaySender) Volume() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volume, a.client != nil
}

// Muted reports the live mute state while a session is up.
func (a *AirPlaySender) Muted() (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted, a.client != nil
}

// Close stops any stream and drops the session.
func (a *AirPlaySender) Close() {
	a.Stop()

	a.mu.Lock()
	client := a.client
	a.client = nil
	a.connected = false
	a.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			log.Printf("AIRPLAY: close %s: %v", a.cfg.Name, err)
		}
	}
	log.Printf("AIRPLAY: disconnected from %s", a.cfg.Name)
}
