package render

import (
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/openassess/openassess/internal/model"
)

// Source is the slice of the store the view-time renderer needs.
type Source interface {
	Question(id int64) (model.Question, error)
	ResolveAttachment(qtID int64, variation, version int, name string) (*model.Attachment, error)
	Guesses(questionID int64) (map[int]string, error)
}

// ErrorHTML is returned in place of a question body when its template
// attachment cannot be found. Serving the page with a visible marker beats
// failing the whole exam view over one broken question.
const ErrorHTML = "QuestionError"

// Question renders the stored instance HTML for viewing: the student's
// latest guesses are substituted into the input placeholders, attachment
// paths are rewritten to live URLs, and input names are namespaced by
// question id so several questions can share one form. With readonly set,
// inputs are disabled for review pages.
func Question(src Source, questionID int64, readonly bool) (string, error) {
	q, err := src.Question(questionID)
	if err != nil {
		return "", fmt.Errorf("load question %d: %w", questionID, err)
	}
	att, err := src.ResolveAttachment(q.QTemplate, q.Variation, q.Version, model.AttQTemplateHTML)
	if err != nil {
		return "", fmt.Errorf("load question %d html: %w", questionID, err)
	}
	if att == nil {
		slog.Warn("question has no html attachment",
			"question", questionID, "qtemplate", q.QTemplate,
			"variation", q.Variation, "version", q.Version)
		return ErrorHTML, nil
	}
	guesses, err := src.Guesses(questionID)
	if err != nil {
		return "", fmt.Errorf("load question %d guesses: %w", questionID, err)
	}
	return fill(string(att.Data), q, guesses, readonly), nil
}

// fill performs the textual view-time passes. Parts and options run in
// descending order because the placeholder names are plain prefixes:
// VAL_2 must not clobber the front of VAL_25.
func fill(body string, q model.Question, guesses map[int]string, readonly bool) string {
	for part := maxFillParts; part >= 1; part-- {
		guess := guesses[part]
		for opt := maxOptions; opt >= 1; opt-- {
			mark := ""
			if guess == fmt.Sprintf("%d", opt) || guess == fmt.Sprintf("%d.0", opt) {
				mark = "CHECKED"
			}
			body = strings.ReplaceAll(body, fmt.Sprintf("QCHK_%d_%d", part, opt), mark)
			if mark == "CHECKED" {
				mark = "SELECTED"
			}
			body = strings.ReplaceAll(body, fmt.Sprintf("QSEL_%d_%d", part, opt), mark)
		}
		body = strings.ReplaceAll(body, fmt.Sprintf("VAL_%d", part), html.EscapeString(guess))
	}

	body = strings.ReplaceAll(body, "ANS_", fmt.Sprintf("Q_%d_ANS_", q.ID))
	body = strings.ReplaceAll(body, "$IMAGES$",
		fmt.Sprintf("/att/qatt/%d/%d/%d/", q.QTemplate, q.Version, q.Variation))
	body = strings.ReplaceAll(body, "$STATIC$",
		fmt.Sprintf("/att/qtatt/%d/%d/%d/", q.QTemplate, q.Version, q.Variation))

	if readonly {
		body = strings.ReplaceAll(body, "<INPUT ", "<INPUT READONLY ")
		body = strings.ReplaceAll(body, "<SELECT ", "<SELECT DISABLED ")
	}
	return body
}
