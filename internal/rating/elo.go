// internal/rating/elo.go
package rating

import "math"

const (
	// K is the maximum swing of the win/loss term.
	K = 32.0
	// C scales how strongly the rating gap to each opponent pulls the result.
	C = 200.0
	// MinRating is the floor applied after rounding.
	MinRating = 100
)

// NewRating applies the linear Elo approximation for one entity:
//
//	R' = R + K*(W-L)/2 + K/(4C) * sum(opponent_i - R)
//
// The result is rounded half away from zero and then clamped at MinRating.
func NewRating(old int, wins, losses int, opponents []int) int {
	r := float64(old)
	score := K * float64(wins-losses) / 2

	var gap float64
	for _, o := range opponents {
		gap += float64(o) - r
	}

	next := int(math.Round(r + score + K/(4*C)*gap))
	if next < MinRating {
		return MinRating
	}
	return next
}

// Average returns the rounded mean of ratings, or 0 for an empty slice.
func Average(ratings []int) int {
	if len(ratings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range ratings {
		sum += float64(r)
	}
	return int(math.Round(sum / float64(len(ratings))))
}
