package dsp

import "math"

const (
	fftSize = 4096
	hopSize = 2048 // 50% overlap, Hann COLA
)

// eqToneFFT applies the combined EQ and tone gain curve in the frequency
// domain with a Hann-windowed overlap-add pipeline. One FFT/IFFT per frame;
// the price is hopSize samples of latency while the first frame fills.
type eqToneFFT struct {
	sampleRate int
	channels   int
	nyquist    float64

	eqEnabled       bool
	spectralEnabled bool

	gains      [10]float64
	bassGain   float64
	trebleGain float64
	shape      spectralShape

	window    []float64
	binFreqs  []float64 // bins 0..fftSize/2
	gainCurve []float64

	inBuf      [][]float64
	outBuf     [][]float64
	overlapBuf [][]float64
}

func newEQToneFFT(sampleRate, channels int) *eqToneFFT {
	p := &eqToneFFT{
		sampleRate:      sampleRate,
		channels:        channels,
		nyquist:         float64(sampleRate) / 2,
		eqEnabled:       true,
		spectralEnabled: true,
		bassGain:        1,
		trebleGain:      1,
		shape:           spectralShape{bassFull: 200, bassEnd: 300, trebleStart: 3500, trebleFull: 4500},
		inBuf:           make([][]float64, channels),
		outBuf:          make([][]float64, channels),
		overlapBuf:      make([][]float64, channels),
	}
	p.window = make([]float64, fftSize)
	for i := range p.window {
		p.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/fftSize)
	}
	p.binFreqs = make([]float64, fftSize/2+1)
	for i := range p.binFreqs {
		p.binFreqs[i] = float64(i) * float64(sampleRate) / fftSize
	}
	for ch := 0; ch < channels; ch++ {
		p.overlapBuf[ch] = make([]float64, hopSize)
	}
	p.updateGainCurve()
	return p
}

func (p *eqToneFFT) updateGainCurve() {
	eq := make([]float64, len(p.binFreqs))
	for i := range eq {
		eq[i] = 1
	}
	if p.eqEnabled {
		eq = buildEQCurve(p.binFreqs, p.gains, p.nyquist)
	}
	spectral := make([]float64, len(p.binFreqs))
	for i := range spectral {
		spectral[i] = 1
	}
	if p.spectralEnabled {
		spectral = buildSpectralCurve(p.binFreqs, p.shape, p.bassGain, p.trebleGain)
	}
	curve := make([]float64, len(p.binFreqs))
	for i := range curve {
		curve[i] = eq[i] * spectral[i]
	}
	p.gainCurve = curve
}

func (p *eqToneFFT) setEnabled(eq, spectral bool) {
	if eq == p.eqEnabled && spectral == p.spectralEnabled {
		return
	}
	p.eqEnabled = eq
	p.spectralEnabled = spectral
	p.updateGainCurve()
}

func (p *eqToneFFT) setBandGains(gains [10]float64) {
	if gains == p.gains {
		return
	}
	p.gains = gains
	p.updateGainCurve()
}

func (p *eqToneFFT) setSpectralGains(bass, treble float64) {
	if bass == p.bassGain && treble == p.trebleGain {
		return
	}
	p.bassGain = bass
	p.trebleGain = treble
	p.updateGainCurve()
}

func (p *eqToneFFT) processFrame(frame []float64) []float64 {
	re := make([]float64, fftSize)
	im := make([]float64, fftSize)
	for i := range frame {
		re[i] = frame[i] * p.window[i]
	}
	fft(re, im, false)
	applyRealGain(re, im, p.gainCurve)
	fft(re, im, true)
	return re
}

// process runs overlap-add per channel. Output length always equals input
// length; the pipeline starts with hopSize samples of silence while the
// first frame accumulates.
func (p *eqToneFFT) process(audio [][]float64) {
	if !p.eqEnabled && !p.spectralEnabled {
		return
	}
	for ch := range audio {
		if ch >= p.channels {
			break
		}
		n := len(audio[ch])
		p.inBuf[ch] = append(p.inBuf[ch], audio[ch]...)

		for len(p.inBuf[ch]) >= fftSize {
			frame := p.processFrame(p.inBuf[ch][:fftSize])

			firstHalf := make([]float64, hopSize)
			for i := range firstHalf {
				firstHalf[i] = frame[i] + p.overlapBuf[ch][i]
			}
			copy(p.overlapBuf[ch], frame[hopSize:])

			p.outBuf[ch] = append(p.outBuf[ch], firstHalf...)
			p.inBuf[ch] = p.inBuf[ch][hopSize:]
		}

		out := audio[ch]
		for i := range out {
			out[i] = 0
		}
		if len(p.outBuf[ch]) >= n {
			copy(out, p.outBuf[ch][:n])
			p.outBuf[ch] = p.outBuf[ch][n:]
		} else {
			copy(out, p.outBuf[ch])
			p.outBuf[ch] = p.outBuf[ch][:0]
		}
	}
}

func (p *eqToneFFT) reset() {
	for ch := 0; ch < p.channels; ch++ {
		p.inBuf[ch] = nil
		p.outBuf[ch] = nil
		p.overlapBuf[ch] = make([]float64, hopSize)
	}
}
