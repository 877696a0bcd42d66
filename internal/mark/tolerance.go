package mark

// WithinTolerance reports whether guess is within tolerance percent of
// correct. The window is |correct| * tolerance/100 either side, so it is
// symmetric whether correct is positive or negative. When correct is zero
// the window collapses to exact equality; whether zero-valued answers
// should get an absolute epsilon instead is an open policy question, so the
// historical behavior stands.
func WithinTolerance(guess, correct, tolerance float64) bool {
	delta := correct * (tolerance / 100)
	if delta < 0 {
		delta = -delta
	}
	lower := correct - delta
	upper := correct + delta
	if upper < lower {
		lower, upper = upper, lower
	}
	return lower <= guess && guess <= upper
}
