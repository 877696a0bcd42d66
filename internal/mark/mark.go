// Package mark scores submitted answers against a question's bound
// variation, either with the built-in tolerance comparator or with a
// template-supplied marker script.
package mark

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/openassess/openassess/internal/model"
)

// ErrMarker is a genuine scoring failure signaled by the marker layer, as
// opposed to recoverable script trouble. Exam marking treats it as fatal
// for the whole attempt.
var ErrMarker = errors.New("marker error")

// Part is the marking outcome for one numbered part of a question.
type Part struct {
	Guess     string
	Answer    string
	Tolerance float64
	Score     float64
	Comment   string
}

// Result holds per-part marks plus an optional whole-question comment.
type Result struct {
	Parts   map[int]Part
	Overall string // whole-question comment, "" if none
}

// PartNumbers returns the marked part numbers in ascending order.
func (r Result) PartNumbers() []int {
	nums := make([]int, 0, len(r.Parts))
	for n := range r.Parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Total sums the per-part scores.
func (r Result) Total() float64 {
	total := 0.0
	for _, p := range r.Parts {
		total += p.Score
	}
	return total
}

// Flatten converts a Result to the flat G<n>/A<n>/T<n>/M<n>/C<n> key
// convention that stored scripts expect. The structured form is the
// internal representation; this is the serialization boundary.
func (r Result) Flatten() map[string]any {
	out := map[string]any{}
	for n, p := range r.Parts {
		out["G"+strconv.Itoa(n)] = p.Guess
		out["A"+strconv.Itoa(n)] = p.Answer
		out["T"+strconv.Itoa(n)] = p.Tolerance
		out["M"+strconv.Itoa(n)] = p.Score
		out["C"+strconv.Itoa(n)] = p.Comment
	}
	if r.Overall != "" {
		out["C0"] = r.Overall
	}
	return out
}

// normalizeAnswer maps missing/empty values to the "None" sentinel. Zero is
// a real answer and stays alone.
func normalizeAnswer(s string, ok bool) string {
	if !ok || s == "" {
		return "None"
	}
	return s
}

// answerValue fetches the raw A<n> value from the variation.
func answerValue(qvars model.Variation, part int) (any, bool) {
	v, ok := qvars[fmt.Sprintf("A%d", part)]
	return v, ok
}

// toleranceValue fetches T<n> as a float, defaulting to 0.
func toleranceValue(qvars model.Variation, part int) float64 {
	v, ok := qvars[fmt.Sprintf("T%d", part)]
	if !ok {
		return 0
	}
	f, ok := parseValue(v)
	if !ok {
		return 0
	}
	return f
}
