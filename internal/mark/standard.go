package mark

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/openassess/openassess/internal/model"
)

// Comment values produced by the markers. The renderer recognizes the
// literal "Correct" to color it; localization happens at render time.
const (
	CommentCorrect   = "Correct"
	CommentIncorrect = "Incorrect"
)

// Standard marks every A<n> part of the variation: numeric guesses are
// compared within T<n> percent of the answer, everything else falls back
// to a case-insensitive string match. Scoring is binary per part.
func Standard(qvars model.Variation, answers map[int]string) Result {
	if qvars == nil {
		slog.Warn("standard marker called with no variation data")
		qvars = model.Variation{}
	}
	res := Result{Parts: map[int]Part{}}
	for _, part := range qvars.PartNumbers() {
		raw, ok := answers[part]
		if !ok {
			slog.Info("null guess", "part", part)
		}
		guess := normalizeAnswer(raw, ok)

		answerRaw, ok := answerValue(qvars, part)
		answer := model.FormatValue(answerRaw)
		if !ok || answer == "" {
			answer = "None"
		}

		p := Part{
			Guess:     guess,
			Answer:    answer,
			Tolerance: toleranceValue(qvars, part),
		}

		guessF, guessNum := ParseGuess(guess)
		correctF, correctNum := parseValue(answerRaw)
		correct := false
		if guessNum && correctNum {
			correct = WithinTolerance(guessF, correctF, p.Tolerance)
		} else {
			correct = strings.EqualFold(guess, answer)
		}
		if correct {
			p.Score = 1.0
			p.Comment = CommentCorrect
		} else {
			p.Score = 0
			p.Comment = CommentIncorrect
		}
		res.Parts[part] = p
	}
	return res
}

// partKey builds a flat variable name like "G3".
func partKey(prefix string, part int) string {
	return fmt.Sprintf("%s%d", prefix, part)
}
