package dsp

import "math"

// eqToneIIR is the zero-latency EQ+Tone mode. Ten peaking biquads cover the
// graphic EQ; a low shelf around 150 Hz and a high shelf around 8 kHz cover
// the bass/treble tone controls. Sections run serially and keep their filter
// state across blocks.
type eqToneIIR struct {
	sampleRate int
	channels   int

	eqEnabled       bool
	spectralEnabled bool

	gains  [10]float64 // dB per band
	eqQ    float64
	shelfQ float64

	lowShelfFreq  float64
	highShelfFreq float64
	bassGain      float64 // linear
	trebleGain    float64 // linear

	bands     [10]*biquad
	lowShelf  *biquad
	highShelf *biquad

	currentBassDB   float64
	currentTrebleDB float64
}

func newEQToneIIR(sampleRate, channels int) *eqToneIIR {
	p := &eqToneIIR{
		sampleRate:      sampleRate,
		channels:        channels,
		eqEnabled:       true,
		spectralEnabled: true,
		eqQ:             1.4,
		shelfQ:          0.707,
		lowShelfFreq:    150,
		highShelfFreq:   8000,
		bassGain:        1,
		trebleGain:      1,
		lowShelf:        newBiquad(channels),
		highShelf:       newBiquad(channels),
	}
	for i := range p.bands {
		p.bands[i] = newBiquad(channels)
	}
	return p
}

func (p *eqToneIIR) setEnabled(eq, spectral bool) {
	p.eqEnabled = eq
	p.spectralEnabled = spectral
}

func (p *eqToneIIR) setBandGains(gains [10]float64) {
	for i, g := range gains {
		if g == p.gains[i] {
			continue
		}
		p.gains[i] = g
		coeffs, ok := designPeaking(float64(EQBands[i]), g, p.eqQ, p.sampleRate)
		p.bands[i].update(coeffs, ok)
	}
}

func (p *eqToneIIR) setSpectralGains(bass, treble float64) {
	p.bassGain = bass
	bassDB := linearToDB(bass)
	if math.Abs(bassDB-p.currentBassDB) > 0.1 {
		p.currentBassDB = bassDB
		coeffs, ok := designLowShelf(p.lowShelfFreq, bassDB, p.shelfQ, p.sampleRate)
		p.lowShelf.update(coeffs, ok)
	}

	p.trebleGain = treble
	trebleDB := linearToDB(treble)
	if math.Abs(trebleDB-p.currentTrebleDB) > 0.1 {
		p.currentTrebleDB = trebleDB
		coeffs, ok := designHighShelf(p.highShelfFreq, trebleDB, p.shelfQ, p.sampleRate)
		p.highShelf.update(coeffs, ok)
	}
}

// process filters planar audio in place.
func (p *eqToneIIR) process(audio [][]float64) {
	for ch := range audio {
		if ch >= p.channels {
			break
		}
		if p.eqEnabled {
			for i := range p.bands {
				if p.gains[i] != 0 {
					p.bands[i].processChannel(audio[ch], ch)
				}
			}
		}
		if p.spectralEnabled {
			if p.bassGain != 1 {
				p.lowShelf.processChannel(audio[ch], ch)
			}
			if p.trebleGain != 1 {
				p.highShelf.processChannel(audio[ch], ch)
			}
		}
	}
}

func (p *eqToneIIR) reset() {
	for _, b := range p.bands {
		b.reset()
	}
	p.lowShelf.reset()
	p.highShelf.reset()
}

func linearToDB(gain float64) float64 {
	if gain <= 0 {
		return -60
	}
	return 20 * math.Log10(gain)
}
