package refine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatingRecordNormalize(t *testing.T) {
	r := RatingRecord{
		Clarity:    Score(8),
		Structure:  Score(14),
		Engagement: Score(-2),
	}

	got, clamped := r.Normalize()

	assert.Equal(t, 8, *got.Clarity)
	assert.Equal(t, 10, *got.Structure)
	assert.Equal(t, 0, *got.Engagement)
	assert.ElementsMatch(t, []string{"structure", "engagement"}, clamped)

	// the input is left alone
	assert.Equal(t, 14, *r.Structure)
}

func TestRatingRecordNormalizeInRange(t *testing.T) {
	r := RatingRecord{Impact: Score(0), Innovation: Score(10)}
	got, clamped := r.Normalize()
	assert.Empty(t, clamped)
	assert.Equal(t, r, got)
}

func TestRatingRecordEmpty(t *testing.T) {
	assert.True(t, RatingRecord{}.Empty())
	assert.False(t, RatingRecord{Style: Score(3)}.Empty())
}
