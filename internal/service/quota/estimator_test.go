package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharEstimator(t *testing.T) {
	est := NewCharEstimator()

	tests := []struct {
		name   string
		prompt string
		reply  string
		want   int
	}{
		{"exact multiple", "12345678", "abcdefghijkl", 5},
		{"rounds up", "a", "", 1},
		{"empty", "", "", 0},
		{"counts characters not bytes", "你好", "世界", 1},
		{"supplementary plane characters count once", "😀😀😀😀", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, est.Estimate(tt.prompt, tt.reply))
		})
	}
}

func TestCharEstimatorZeroRatioFallsBack(t *testing.T) {
	assert.Equal(t, 5, CharEstimator{}.Estimate("12345678", "abcdefghijkl"))
}
