package game

import (
	"math"
	"time"
)

// Points for a correct answer decay linearly from maxQuestionPoints at t=0
// to the minQuestionPoints floor as the question window closes. Answers at or
// past the window never award points.
const (
	maxQuestionPoints = 1000
	minQuestionPoints = 100
)

// Score evaluates a selection against the authoritative correct positions.
// correct is set equality (both empty matches, for "no words" questions);
// points is 0 when incorrect or late, otherwise strictly positive and
// non-increasing in timeUsed.
func Score(correctIndices, selectedIndices []int, timeUsed, window time.Duration) (correct bool, points int) {
	correct = sameIndexSet(correctIndices, selectedIndices)
	if !correct {
		return false, 0
	}
	if window <= 0 || timeUsed >= window {
		return true, 0
	}
	if timeUsed < 0 {
		timeUsed = 0
	}
	remaining := 1 - float64(timeUsed)/float64(window)
	return true, minQuestionPoints + int(math.Round(float64(maxQuestionPoints-minQuestionPoints)*remaining))
}

func sameIndexSet(a, b []int) bool {
	want := make(map[int]struct{}, len(a))
	for _, idx := range a {
		want[idx] = struct{}{}
	}
	seen := make(map[int]struct{}, len(b))
	for _, idx := range b {
		if _, ok := want[idx]; !ok {
			return false
		}
		seen[idx] = struct{}{}
	}
	return len(seen) == len(want)
}
