package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorDisabledPassThrough(t *testing.T) {
	c := newCompressor()
	audio := [][]float64{{0.9, -0.9, 0.2}}
	c.process(audio)
	assert.Equal(t, []float64{0.9, -0.9, 0.2}, audio[0])
}

func TestCompressorKneeMath(t *testing.T) {
	c := newCompressor()
	c.configure(true, 0.5, 2.0, 1.0)

	audio := [][]float64{{0.4, 0.9, -0.9}}
	c.process(audio)

	// Below the threshold only makeup applies; above it the excess is
	// divided by the ratio, sign preserved.
	assert.InDelta(t, 0.4, audio[0][0], 1e-9)
	assert.InDelta(t, 0.7, audio[0][1], 1e-9) // 0.5 + 0.4/2
	assert.InDelta(t, -0.7, audio[0][2], 1e-9)
}

func TestCompressorMakeupClips(t *testing.T) {
	c := newCompressor()
	c.configure(true, 0.9, 4.0, 2.0)

	audio := [][]float64{{0.8, -0.8}}
	c.process(audio)
	assert.Equal(t, 1.0, audio[0][0])
	assert.Equal(t, -1.0, audio[0][1])
}

func TestStereoWidenerMonoIsInvariant(t *testing.T) {
	s := newStereoEnhancer()
	s.configure(true, 2.0)

	audio := [][]float64{{0.3, -0.4}, {0.3, -0.4}}
	s.process(audio)
	assert.InDeltaSlice(t, []float64{0.3, -0.4}, audio[0], 1e-9)
	assert.InDeltaSlice(t, []float64{0.3, -0.4}, audio[1], 1e-9)
}

func TestStereoWidenerScalesSide(t *testing.T) {
	s := newStereoEnhancer()
	s.configure(true, 2.0)

	// mid 0.3, side 0.1 -> side doubles.
	audio := [][]float64{{0.4}, {0.2}}
	s.process(audio)
	assert.InDelta(t, 0.5, audio[0][0], 1e-9)
	assert.InDelta(t, 0.1, audio[1][0], 1e-9)
}

func TestStereoWidenerZeroWidthCollapsesToMono(t *testing.T) {
	s := newStereoEnhancer()
	s.configure(true, 0)

	audio := [][]float64{{0.4}, {0.2}}
	s.process(audio)
	assert.InDelta(t, 0.3, audio[0][0], 1e-9)
	assert.InDelta(t, 0.3, audio[1][0], 1e-9)
}

func TestStereoWidenerSkipsNonStereo(t *testing.T) {
	s := newStereoEnhancer()
	s.configure(true, 2.0)
	audio := [][]float64{{0.4}}
	s.process(audio)
	assert.Equal(t, 0.4, audio[0][0])
}

func neutralSettings(mode string) Settings {
	return Settings{
		SpectralMode:    mode,
		EQEnabled:       true,
		SpectralEnabled: true,
		LowFreqGain:     1.0,
		HighFreqGain:    1.0,
	}
}

func TestEnhancerNeutralIIRIsIdentity(t *testing.T) {
	e := NewEnhancer(48000, 2)
	e.Apply(neutralSettings("iir"))

	audio := [][]float64{{0.1, -0.2, 0.3}, {-0.1, 0.2, -0.3}}
	e.Process(audio)
	assert.InDeltaSlice(t, []float64{0.1, -0.2, 0.3}, audio[0], 1e-12)
	assert.InDeltaSlice(t, []float64{-0.1, 0.2, -0.3}, audio[1], 1e-12)
}

func TestEnhancerDisabledStagesBypassSpectralProcessing(t *testing.T) {
	e := NewEnhancer(48000, 2)
	s := DefaultSettings()
	s.EQEnabled = false
	s.SpectralEnabled = false
	// Both would color the signal if their stage ran.
	s.EQ1000 = 6.0
	s.HighFreqGain = 2.0
	e.Apply(s)

	audio := [][]float64{{0.1, -0.2}, {0.2, -0.1}}
	e.Process(audio)
	assert.InDeltaSlice(t, []float64{0.1, -0.2}, audio[0], 1e-12)
	assert.InDeltaSlice(t, []float64{0.2, -0.1}, audio[1], 1e-12)
}

func TestEnhancerSpectralStageRunsWithoutEQ(t *testing.T) {
	e := NewEnhancer(48000, 1)
	s := neutralSettings("iir")
	s.EQEnabled = false
	s.HighFreqGain = 2.0
	e.Apply(s)

	// A Nyquist-rate alternation sits squarely in the treble shelf.
	audio := [][]float64{{0.3, -0.3, 0.3, -0.3}}
	e.Process(audio)
	assert.NotEqual(t, []float64{0.3, -0.3, 0.3, -0.3}, audio[0])
}

func TestEnhancerCompressorInChain(t *testing.T) {
	e := NewEnhancer(48000, 1)
	s := neutralSettings("iir")
	s.UseCompression = true
	s.CompressionThreshold = 0.5
	s.CompressionRatio = 2.0
	s.CompressionMakeup = 1.0
	e.Apply(s)

	audio := [][]float64{{0.9}}
	e.Process(audio)
	assert.InDelta(t, 0.7, audio[0][0], 1e-9)
}

func TestEnhancerDefaultsSpectralModeToFFT(t *testing.T) {
	e := NewEnhancer(48000, 2)
	s := DefaultSettings()
	s.SpectralMode = ""
	e.Apply(s)
	assert.Equal(t, "fft", e.Settings().SpectralMode)
}

func TestSettingsMergeOverlaysOnlyPresentKeys(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Merge([]byte(`{"eq_125": -3.5, "use_stereo": true}`)))

	assert.InDelta(t, -3.5, s.EQ125, 1e-9)
	assert.True(t, s.UseStereo)
	assert.InDelta(t, 1.3, s.HighFreqGain, 1e-9)
	assert.Equal(t, "fft", s.SpectralMode)
	assert.True(t, s.EQEnabled)
	assert.True(t, s.SpectralEnabled)

	require.NoError(t, s.Merge([]byte(`{"spectral_enabled": false}`)))
	assert.False(t, s.SpectralEnabled)
	assert.True(t, s.EQEnabled)
}

func TestSettingsMergeRejectsGarbage(t *testing.T) {
	s := DefaultSettings()
	assert.Error(t, s.Merge([]byte(`{"eq_125": `)))
}

func TestBandGainsOrder(t *testing.T) {
	s := Settings{EQ31: 1, EQ62: 2, EQ125: 3, EQ250: 4, EQ500: 5,
		EQ1000: 6, EQ2000: 7, EQ4000: 8, EQ8000: 9, EQ16000: 10}
	gains := s.BandGains()
	for i, g := range gains {
		assert.Equal(t, float64(i+1), g)
	}
}
