package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanResumeFromCache(t *testing.T) {
	cases := []struct {
		name       string
		sameURL    bool
		completed  bool
		cacheSize  int64
		position   float64
		cacheStart float64
		want       bool
	}{
		{"resume after pause", true, true, 4096, 42.0, 0, true},
		{"resume at cache start", true, true, 4096, 10.0, 10.0, true},
		{"different track", false, true, 4096, 42.0, 0, false},
		{"partial download", true, false, 4096, 42.0, 0, false},
		{"cache file gone", true, true, 0, 42.0, 0, false},
		{"seek before cache start", true, true, 4096, 5.0, 10.0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := canResumeFromCache(tc.sameURL, tc.completed, tc.cacheSize, tc.position, tc.cacheStart)
			assert.Equal(t, tc.want, got)
		})
	}
}
