// Package dsp implements the streaming audio enhancement graph: a combined
// equalizer and tone stage with three interchangeable implementations (IIR
// biquad chain, FFT overlap-add, FIR overlap-save), followed by a dynamic
// range compressor and a Mid-Side stereo widener.
package dsp

import (
	"log"
	"sync"
)

// Enhancer runs the full processing chain for one device. Safe for the
// audio goroutine and control-plane goroutines to share.
type Enhancer struct {
	mu sync.Mutex

	sampleRate int
	channels   int
	settings   Settings

	iir *eqToneIIR
	fft *eqToneFFT
	fir *eqToneFIR

	compressor *compressor
	stereo     *stereoEnhancer
}

// NewEnhancer creates an enhancer with factory settings applied.
func NewEnhancer(sampleRate, channels int) *Enhancer {
	e := &Enhancer{
		sampleRate: sampleRate,
		channels:   channels,
		iir:        newEQToneIIR(sampleRate, channels),
		fft:        newEQToneFFT(sampleRate, channels),
		fir:        newEQToneFIR(sampleRate, channels),
		compressor: newCompressor(),
		stereo:     newStereoEnhancer(),
	}
	e.Apply(DefaultSettings())
	log.Printf("DSP: enhancer initialized rate=%d channels=%d", sampleRate, channels)
	return e
}

// Apply pushes a full settings snapshot into every stage. Each stage does its
// own change detection, so applying an unchanged snapshot is cheap and filter
// state survives.
func (e *Enhancer) Apply(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.SpectralMode == "" {
		s.SpectralMode = "fft"
	}
	e.settings = s

	gains := s.BandGains()
	for _, mode := range e.modes() {
		mode.setEnabled(s.EQEnabled, s.SpectralEnabled)
		mode.setBandGains(gains)
		mode.setSpectralGains(s.LowFreqGain, s.HighFreqGain)
	}

	e.compressor.configure(s.UseCompression, s.CompressionThreshold, s.CompressionRatio, s.CompressionMakeup)
	e.stereo.configure(s.UseStereo, s.StereoWidth)
}

// Settings returns the current settings snapshot.
func (e *Enhancer) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Process runs the chain in place over planar audio, one slice per channel,
// samples in [-1, 1].
func (e *Enhancer) Process(audio [][]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settings.EQEnabled || e.settings.SpectralEnabled {
		e.currentMode().process(audio)
	}
	e.compressor.process(audio)
	e.stereo.process(audio)
}

// Reset clears all filter and overlap state, e.g. between tracks.
func (e *Enhancer) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, mode := range e.modes() {
		mode.reset()
	}
}

type eqToneMode interface {
	setEnabled(eq, spectral bool)
	setBandGains(gains [10]float64)
	setSpectralGains(bass, treble float64)
	process(audio [][]float64)
	reset()
}

func (e *Enhancer) modes() []eqToneMode {
	return []eqToneMode{e.iir, e.fft, e.fir}
}

func (e *Enhancer) currentMode() eqToneMode {
	switch e.settings.SpectralMode {
	case "iir":
		return e.iir
	case "fir":
		return e.fir
	default:
		return e.fft
	}
}
