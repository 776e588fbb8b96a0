package dsp

// stereoEnhancer widens or narrows the stereo image with Mid-Side processing.
// Mid carries the center content, Side carries the difference; scaling Side
// by the width factor changes the perceived stage width.
type stereoEnhancer struct {
	enabled bool
	width   float64
}

func newStereoEnhancer() *stereoEnhancer {
	return &stereoEnhancer{width: 1.0}
}

func (s *stereoEnhancer) configure(enabled bool, width float64) {
	s.enabled = enabled
	s.width = width
}

func (s *stereoEnhancer) process(audio [][]float64) {
	if !s.enabled || len(audio) != 2 {
		return
	}
	left, right := audio[0], audio[1]
	for i := range left {
		mid := (left[i] + right[i]) / 2
		side := (left[i] - right[i]) / 2 * s.width
		left[i] = clamp(mid+side, -1, 1)
		right[i] = clamp(mid-side, -1, 1)
	}
}
