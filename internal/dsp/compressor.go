package dsp

import "math"

// compressor is a memoryless time-domain dynamic range compressor. Samples
// above the threshold are scaled by 1/ratio, the sign is restored, makeup
// gain is applied and the result is clipped to [-1, 1].
type compressor struct {
	enabled   bool
	threshold float64
	ratio     float64
	makeup    float64
}

func newCompressor() *compressor {
	return &compressor{threshold: 0.7, ratio: 3.0, makeup: 1.2}
}

func (c *compressor) configure(enabled bool, threshold, ratio, makeup float64) {
	c.enabled = enabled
	c.threshold = threshold
	c.ratio = ratio
	c.makeup = makeup
}

func (c *compressor) process(audio [][]float64) {
	if !c.enabled {
		return
	}
	for _, channel := range audio {
		for i, x := range channel {
			mag := math.Abs(x)
			if mag > c.threshold {
				mag = c.threshold + (mag-c.threshold)/c.ratio
			}
			y := math.Copysign(mag, x) * c.makeup
			channel[i] = clamp(y, -1, 1)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
