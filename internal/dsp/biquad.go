package dsp

import "math"

// Biquad coefficient design from Robert Bristow-Johnson's Audio EQ Cookbook.
// All designs return ok=false when the gain is close enough to unity that the
// section should be bypassed.

type biquadCoeffs struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func designPeaking(freq, gainDB, q float64, sampleRate int) (biquadCoeffs, bool) {
	if math.Abs(gainDB) < 0.01 {
		return biquadCoeffs{}, false
	}
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / float64(sampleRate)
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := 1 + alpha*a
	b1 := -2 * cosW0
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosW0
	a2 := 1 - alpha/a

	return biquadCoeffs{b0 / a0, b1 / a0, b2 / a0, a1 / a0, a2 / a0}, true
}

func designLowShelf(freq, gainDB, q float64, sampleRate int) (biquadCoeffs, bool) {
	if math.Abs(gainDB) < 0.01 {
		return biquadCoeffs{}, false
	}
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / float64(sampleRate)
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	sqrtA2Alpha := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) - (a-1)*cosW0 + sqrtA2Alpha)
	b1 := 2 * a * ((a - 1) - (a+1)*cosW0)
	b2 := a * ((a + 1) - (a-1)*cosW0 - sqrtA2Alpha)
	a0 := (a + 1) + (a-1)*cosW0 + sqrtA2Alpha
	a1 := -2 * ((a - 1) + (a+1)*cosW0)
	a2 := (a + 1) + (a-1)*cosW0 - sqrtA2Alpha

	return biquadCoeffs{b0 / a0, b1 / a0, b2 / a0, a1 / a0, a2 / a0}, true
}

func designHighShelf(freq, gainDB, q float64, sampleRate int) (biquadCoeffs, bool) {
	if math.Abs(gainDB) < 0.01 {
		return biquadCoeffs{}, false
	}
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / float64(sampleRate)
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	sqrtA2Alpha := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) + (a-1)*cosW0 + sqrtA2Alpha)
	b1 := -2 * a * ((a - 1) + (a+1)*cosW0)
	b2 := a * ((a + 1) + (a-1)*cosW0 - sqrtA2Alpha)
	a0 := (a + 1) - (a-1)*cosW0 + sqrtA2Alpha
	a1 := 2 * ((a - 1) - (a+1)*cosW0)
	a2 := (a + 1) - (a-1)*cosW0 - sqrtA2Alpha

	return biquadCoeffs{b0 / a0, b1 / a0, b2 / a0, a1 / a0, a2 / a0}, true
}

// biquad is a stateful Direct Form II Transposed section. State is kept per
// channel and survives coefficient updates so parameter changes do not click.
type biquad struct {
	coeffs biquadCoeffs
	bypass bool
	z1, z2 []float64
}

func newBiquad(channels int) *biquad {
	return &biquad{
		bypass: true,
		z1:     make([]float64, channels),
		z2:     make([]float64, channels),
	}
}

func (f *biquad) update(coeffs biquadCoeffs, active bool) {
	f.coeffs = coeffs
	f.bypass = !active
}

func (f *biquad) reset() {
	for i := range f.z1 {
		f.z1[i] = 0
		f.z2[i] = 0
	}
}

// processChannel filters one channel in place.
func (f *biquad) processChannel(x []float64, ch int) {
	if f.bypass {
		return
	}
	c := f.coeffs
	z1, z2 := f.z1[ch], f.z2[ch]
	for i, xi := range x {
		yi := c.b0*xi + z1
		z1 = c.b1*xi - c.a1*yi + z2
		z2 = c.b2*xi - c.a2*yi
		x[i] = yi
	}
	f.z1[ch], f.z2[ch] = z1, z2
}
