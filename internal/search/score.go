package search

// ScoreFromDistance maps a cosine distance in [0, 2] to a similarity score in [0, 1].
// Identical directions score 1, orthogonal 0.5, opposite 0.
func ScoreFromDistance(d float64) float64 {
	s := 1 - d/2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// InDateRange reports whether date ("YYYY-MM-DD") falls inside the inclusive bounds.
// Either bound may be empty. An undated chunk is never in range.
func InDateRange(date, from, to string) bool {
	if date == "" {
		return false
	}
	if from != "" && date < from {
		return false
	}
	if to != "" && date > to {
		return false
	}
	return true
}
