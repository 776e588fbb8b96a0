package dsp

import "encoding/json"

// EQBands are the center frequencies (Hz) of the 10-band graphic equalizer.
var EQBands = []int{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

// Settings is the serializable DSP configuration for one device. JSON keys
// match the wire format used by the control panel and the config store.
type Settings struct {
	SpectralMode    string `json:"spectral_mode"`
	EQEnabled       bool   `json:"eq_enabled"`
	SpectralEnabled bool   `json:"spectral_enabled"` // bass/treble tone stage

	EQ31    float64 `json:"eq_31"`
	EQ62    float64 `json:"eq_62"`
	EQ125   float64 `json:"eq_125"`
	EQ250   float64 `json:"eq_250"`
	EQ500   float64 `json:"eq_500"`
	EQ1000  float64 `json:"eq_1000"`
	EQ2000  float64 `json:"eq_2000"`
	EQ4000  float64 `json:"eq_4000"`
	EQ8000  float64 `json:"eq_8000"`
	EQ16000 float64 `json:"eq_16000"`

	LowFreqGain  float64 `json:"lowfreq_gain"`
	HighFreqGain float64 `json:"highfreq_gain"`

	UseCompression       bool    `json:"use_compression"`
	CompressionThreshold float64 `json:"compression_threshold"`
	CompressionRatio     float64 `json:"compression_ratio"`
	CompressionMakeup    float64 `json:"compression_makeup"`

	UseStereo   bool    `json:"use_stereo"`
	StereoWidth float64 `json:"stereo_width"`
}

// DefaultSettings returns the factory DSP configuration.
func DefaultSettings() Settings {
	return Settings{
		SpectralMode:         "fft",
		EQEnabled:            true,
		SpectralEnabled:      true,
		LowFreqGain:          1.0,
		HighFreqGain:         1.3,
		UseCompression:       false,
		CompressionThreshold: 0.7,
		CompressionRatio:     3.0,
		CompressionMakeup:    1.2,
		UseStereo:            false,
		StereoWidth:          1.2,
	}
}

// BandGains returns the 10 EQ gains in EQBands order (dB).
func (s Settings) BandGains() [10]float64 {
	return [10]float64{s.EQ31, s.EQ62, s.EQ125, s.EQ250, s.EQ500,
		s.EQ1000, s.EQ2000, s.EQ4000, s.EQ8000, s.EQ16000}
}

// Merge overlays the keys present in raw JSON onto s. Unknown keys are
// ignored so older config files and partial panel updates both work.
func (s *Settings) Merge(raw []byte) error {
	return json.Unmarshal(raw, s)
}
