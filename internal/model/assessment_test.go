package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentFromScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		want  int
	}{
		{0.91, 91},
		{0.73, 73},
		{0.8, 80},
		{0, 0},
		{1, 100},
		{1.4, 100},
		{-0.2, 0},
		{0.555, 56},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PercentFromScore(tt.score), "score %v", tt.score)
	}
}

func TestAssessmentRecordScore(t *testing.T) {
	t.Parallel()

	r := AssessmentRecord{EligibilityPercentage: 91}
	assert.InDelta(t, 0.91, r.Score(), 1e-9)
}
