package dsp

import "math"

// firTaps is odd for a Type I linear-phase filter.
const firTaps = 1025

// eqToneFIR designs a single linear-phase FIR from the combined EQ and tone
// response (frequency sampling with a Hamming window) and runs it with
// overlap-save FFT convolution. Tone gain changes are smoothed toward their
// target and the filter is redesigned only while the smoothed value is still
// more than 0.02 away, which keeps redesigns bounded during slider drags.
type eqToneFIR struct {
	sampleRate int
	channels   int
	nyquist    float64

	eqEnabled       bool
	spectralEnabled bool

	gains [10]float64
	shape spectralShape

	bassGain          float64
	trebleGain        float64
	smoothAlpha       float64
	currentBassGain   float64
	currentTrebleGain float64
	targetBassGain    float64
	targetTrebleGain  float64

	filter []float64
	state  [][]float64 // firTaps-1 trailing input samples per channel
}

func newEQToneFIR(sampleRate, channels int) *eqToneFIR {
	p := &eqToneFIR{
		sampleRate:        sampleRate,
		channels:          channels,
		nyquist:           float64(sampleRate) / 2,
		eqEnabled:         true,
		spectralEnabled:   true,
		shape:             spectralShape{bassFull: 150, bassEnd: 300, trebleStart: 4000, trebleFull: 8000},
		bassGain:          1,
		trebleGain:        1,
		smoothAlpha:       0.3,
		currentBassGain:   1,
		currentTrebleGain: 1,
		targetBassGain:    1,
		targetTrebleGain:  1,
		state:             make([][]float64, channels),
	}
	for ch := 0; ch < channels; ch++ {
		p.state[ch] = make([]float64, firTaps-1)
	}
	p.designFilter()
	return p
}

func (p *eqToneFIR) designFilter() {
	nFreqs := firTaps/2 + 1
	freqs := linspace(p.nyquist, nFreqs)

	response := make([]float64, nFreqs)
	for i := range response {
		response[i] = 1
	}
	if p.eqEnabled {
		eq := buildEQCurve(freqs, p.gains, p.nyquist)
		for i := range response {
			response[i] *= eq[i]
		}
	}
	if p.spectralEnabled && (p.currentBassGain != 1 || p.currentTrebleGain != 1) {
		spectral := buildSpectralCurve(freqs, p.shape, p.currentBassGain, p.currentTrebleGain)
		for i := range response {
			response[i] *= spectral[i]
		}
	}

	h := inverseRealSymmetric(response, firTaps)

	// Rotate to make the impulse causal, then window.
	rotated := make([]float64, firTaps)
	shift := firTaps / 2
	for i := range h {
		rotated[(i+shift)%firTaps] = h[i]
	}
	for i := range rotated {
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(firTaps-1))
		rotated[i] *= w
	}
	p.filter = rotated
}

func (p *eqToneFIR) setEnabled(eq, spectral bool) {
	if eq == p.eqEnabled && spectral == p.spectralEnabled {
		return
	}
	p.eqEnabled = eq
	p.spectralEnabled = spectral
	p.designFilter()
}

func (p *eqToneFIR) setBandGains(gains [10]float64) {
	if gains == p.gains {
		return
	}
	p.gains = gains
	p.designFilter()
}

func (p *eqToneFIR) setSpectralGains(bass, treble float64) {
	p.targetBassGain = bass
	p.bassGain = bass
	p.targetTrebleGain = treble
	p.trebleGain = treble
}

// filterChannel convolves one channel by overlap-save and updates the tail
// state for the next block.
func (p *eqToneFIR) filterChannel(x []float64, ch int) {
	m := len(p.filter)
	n := len(x)

	in := make([]float64, n)
	copy(in, x)

	extended := make([]float64, 0, len(p.state[ch])+n)
	extended = append(extended, p.state[ch]...)
	extended = append(extended, in...)

	size := nextPowerOfTwo(len(extended) + m - 1)
	re := make([]float64, size)
	im := make([]float64, size)
	copy(re, extended)
	hRe := make([]float64, size)
	hIm := make([]float64, size)
	copy(hRe, p.filter)

	fft(re, im, false)
	fft(hRe, hIm, false)
	for i := range re {
		re[i], im[i] = re[i]*hRe[i]-im[i]*hIm[i], re[i]*hIm[i]+im[i]*hRe[i]
	}
	fft(re, im, true)

	copy(x, re[m-1:m-1+n])

	if n >= m-1 {
		copy(p.state[ch], in[n-(m-1):])
	} else {
		keep := p.state[ch][n:]
		next := make([]float64, 0, m-1)
		next = append(next, keep...)
		next = append(next, in...)
		copy(p.state[ch], next)
	}
}

func (p *eqToneFIR) process(audio [][]float64) {
	if !p.eqEnabled && !p.spectralEnabled {
		return
	}

	bassChanged := math.Abs(p.currentBassGain-p.targetBassGain) > 0.02
	trebleChanged := math.Abs(p.currentTrebleGain-p.targetTrebleGain) > 0.02
	if bassChanged || trebleChanged {
		p.currentBassGain += p.smoothAlpha * (p.targetBassGain - p.currentBassGain)
		p.currentTrebleGain += p.smoothAlpha * (p.targetTrebleGain - p.currentTrebleGain)
		p.designFilter()
	}

	for ch := range audio {
		if ch >= p.channels {
			break
		}
		p.filterChannel(audio[ch], ch)
	}
}

func (p *eqToneFIR) reset() {
	for ch := 0; ch < p.channels; ch++ {
		p.state[ch] = make([]float64, firTaps-1)
	}
	p.currentBassGain = 1
	p.currentTrebleGain = 1
	p.targetBassGain = 1
	p.targetTrebleGain = 1
	p.designFilter()
}
