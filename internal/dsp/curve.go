package dsp

import "math"

// Gain-curve builders shared by the FFT and FIR processors. Curves are linear
// gains sampled on an ascending frequency grid.

// buildEQCurve interpolates the 10 band gains onto freqs using log-frequency
// interpolation, anchored at unity below the first band's reach and held flat
// above the last band.
func buildEQCurve(freqs []float64, gains [10]float64, nyquist float64) []float64 {
	curve := make([]float64, len(freqs))

	allZero := true
	for _, g := range gains {
		if g != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		for i := range curve {
			curve[i] = 1
		}
		return curve
	}

	// Anchor points: 1 Hz at unity, the 10 bands, Nyquist at the last band's gain.
	xs := make([]float64, 0, len(EQBands)+2)
	ys := make([]float64, 0, len(EQBands)+2)
	xs = append(xs, 0) // log10(1)
	ys = append(ys, 1)
	for i, f := range EQBands {
		xs = append(xs, math.Log10(float64(f)))
		ys = append(ys, math.Pow(10, gains[i]/20))
	}
	xs = append(xs, math.Log10(nyquist))
	ys = append(ys, ys[len(ys)-1])

	for i, f := range freqs {
		curve[i] = interp(math.Log10(math.Max(f, 1)), xs, ys)
	}
	curve[0] = 1 // DC stays at unity
	return curve
}

// spectralShape holds the transition band edges for the bass/treble curve.
type spectralShape struct {
	bassFull, bassEnd       float64
	trebleStart, trebleFull float64
}

// buildSpectralCurve applies bassGain below the bass region and trebleGain
// above the treble region with raised-cosine transitions between.
func buildSpectralCurve(freqs []float64, shape spectralShape, bassGain, trebleGain float64) []float64 {
	curve := make([]float64, len(freqs))
	for i := range curve {
		curve[i] = 1
	}
	if bassGain == 1 && trebleGain == 1 {
		return curve
	}
	for i, f := range freqs {
		switch {
		case f < shape.bassFull:
			curve[i] = bassGain
		case f < shape.bassEnd:
			t := (f - shape.bassFull) / (shape.bassEnd - shape.bassFull)
			smooth := (1 - math.Cos(math.Pi*t)) / 2
			curve[i] = bassGain + (1-bassGain)*smooth
		case f >= shape.trebleFull:
			curve[i] = trebleGain
		case f >= shape.trebleStart:
			t := (f - shape.trebleStart) / (shape.trebleFull - shape.trebleStart)
			smooth := (1 - math.Cos(math.Pi*t)) / 2
			curve[i] = 1 + (trebleGain-1)*smooth
		}
	}
	return curve
}

// interp is piecewise-linear interpolation over ascending xs, clamped at the
// edges.
func interp(x float64, xs, ys []float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[len(xs)-1] {
		return ys[len(ys)-1]
	}
	for i := 1; i < len(xs); i++ {
		if x <= xs[i] {
			t := (x - xs[i-1]) / (xs[i] - xs[i-1])
			return ys[i-1] + t*(ys[i]-ys[i-1])
		}
	}
	return ys[len(ys)-1]
}

// linspace returns n evenly spaced points over [0, max].
func linspace(max float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		return out
	}
	step := max / float64(n-1)
	for i := range out {
		out[i] = float64(i) * step
	}
	return out
}
