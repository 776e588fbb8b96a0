package dsp

import "math"

// Minimal FFT support for the frequency-domain processors. Sizes are always
// powers of two on the streaming path; the filter-design path uses a direct
// cosine transform because the tap count is odd.

// fft computes an in-place iterative radix-2 transform. len(re) must be a
// power of two. inverse=true applies conjugation and 1/n scaling.
func fft(re, im []float64, inverse bool) {
	n := len(re)
	if n < 2 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := 2 * math.Pi / float64(length)
		if !inverse {
			angle = -angle
		}
		wRe := math.Cos(angle)
		wIm := math.Sin(angle)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				i := start + k
				j := i + half
				tRe := re[j]*curRe - im[j]*curIm
				tIm := re[j]*curIm + im[j]*curRe
				re[j] = re[i] - tRe
				im[j] = im[i] - tIm
				re[i] += tRe
				im[i] += tIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}

	if inverse {
		scale := 1 / float64(n)
		for i := range re {
			re[i] *= scale
			im[i] *= scale
		}
	}
}

// applyRealGain multiplies the spectrum of a real signal by a real gain curve
// defined on bins 0..n/2, mirroring onto the negative-frequency bins.
func applyRealGain(re, im, gain []float64) {
	n := len(re)
	half := n / 2
	re[0] *= gain[0]
	im[0] *= gain[0]
	re[half] *= gain[half]
	im[half] *= gain[half]
	for k := 1; k < half; k++ {
		re[k] *= gain[k]
		im[k] *= gain[k]
		re[n-k] *= gain[k]
		im[n-k] *= gain[k]
	}
}

// inverseRealSymmetric evaluates the inverse DFT of a real, zero-phase
// spectrum sampled on bins 0..len(spectrum)-1 for a length-n signal. Used by
// the FIR designer where n is odd, so no Nyquist bin exists.
func inverseRealSymmetric(spectrum []float64, n int) []float64 {
	h := make([]float64, n)
	for j := 0; j < n; j++ {
		sum := spectrum[0]
		for k := 1; k < len(spectrum); k++ {
			sum += 2 * spectrum[k] * math.Cos(2*math.Pi*float64(k)*float64(j)/float64(n))
		}
		h[j] = sum / float64(n)
	}
	return h
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
