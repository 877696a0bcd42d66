// Package results turns a marking outcome into the HTML a student sees
// after submission. Templates can override the standard table with a
// results script attachment.
package results

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/openassess/openassess/internal/i18n"
	"github.com/openassess/openassess/internal/mark"
	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/render"
	"github.com/openassess/openassess/internal/script"
)

// Source is the slice of the store the results renderer reads.
type Source interface {
	render.Source
	TemplateAttachment(qtID int64, name string, version int) (*model.Attachment, error)
	QLog(qtID, questionID int64, priority, facility, message string) error
}

// Renderer produces result pages for marked questions.
type Renderer struct {
	data    Source
	scripts script.Engine
}

func NewRenderer(data Source, scripts script.Engine) *Renderer {
	return &Renderer{data: data, scripts: scripts}
}

// Render builds the marked-results HTML for one question. Templates with a
// results script attachment get the script's output; anything that goes
// wrong with the script is logged and degrades to the standard table.
func (r *Renderer) Render(ctx context.Context, questionID int64, res mark.Result) (string, error) {
	q, err := r.data.Question(questionID)
	if err != nil {
		return "", fmt.Errorf("render results for question %d: %w", questionID, err)
	}

	// Results scripts always run at the latest template version.
	att, err := r.data.TemplateAttachment(q.QTemplate, model.AttResultsScript, 0)
	if err != nil {
		return "", fmt.Errorf("render results for question %d: %w", questionID, err)
	}
	if att != nil && len(att.Data) > 2 {
		if out, ok := r.renderScript(ctx, q, att.Data, res); ok {
			return out, nil
		}
	}
	return r.renderStandard(ctx, q, res)
}

// renderStandard produces the built-in per-part mark table followed by the
// read-only question.
func (r *Renderer) renderStandard(ctx context.Context, q model.Question, res mark.Result) (string, error) {
	var b strings.Builder
	b.WriteString("<table border=1 cellpadding=2 cellspacing=0 class='results'>\n")
	fmt.Fprintf(&b, "<tr><th>%s</th><th>%s</th><th>%s</th><th>%s</th><th>%s</th><th>%s</th></tr>\n",
		i18n.T(ctx, "results.heading.part"),
		i18n.T(ctx, "results.heading.guess"),
		i18n.T(ctx, "results.heading.answer"),
		i18n.T(ctx, "results.heading.tolerance"),
		i18n.T(ctx, "results.heading.marks"),
		i18n.T(ctx, "results.heading.comment"))

	for _, n := range res.PartNumbers() {
		p := res.Parts[n]
		comment := p.Comment
		if comment == mark.CommentCorrect {
			comment = fmt.Sprintf(`<b><font color="darkgreen">%s</font></b>`, comment)
		}
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%g%%</td><td>%.1f</td><td>%s</td></tr>\n",
			n, html.EscapeString(p.Guess), html.EscapeString(p.Answer),
			p.Tolerance, p.Score, comment)
	}
	fmt.Fprintf(&b, "<tr><th colspan=4>%s</th><td>%.1f</td><td></td></tr>\n",
		i18n.T(ctx, "results.total"), res.Total())
	if res.Overall != "" {
		fmt.Fprintf(&b, "<tr><td colspan=6>%s</td></tr>\n", res.Overall)
	}
	b.WriteString("</table>\n")

	body, err := render.Question(r.data, q.ID, true)
	if err != nil {
		return "", fmt.Errorf("render marked question %d: %w", q.ID, err)
	}
	b.WriteString(body)
	b.WriteString("<hr />\n")
	return b.String(), nil
}

// renderScript runs the template's results script. ok=false means the
// caller should fall back to the standard table.
func (r *Renderer) renderScript(ctx context.Context, q model.Question, src []byte, res mark.Result) (string, bool) {
	body, err := render.Question(r.data, q.ID, true)
	if err != nil {
		r.qlog(q, fmt.Sprintf("results script skipped, question render failed: %v", err))
		return "", false
	}

	parts := res.PartNumbers()
	guesses := map[string]any{}
	answers := map[string]any{}
	tolerances := map[string]any{}
	scores := map[string]any{}
	comments := map[string]any{}
	for _, n := range parts {
		p := res.Parts[n]
		key := strconv.Itoa(n)
		guesses[key] = p.Guess
		answers[key] = p.Answer
		tolerances[key] = p.Tolerance
		scores[key] = p.Score
		comments[key] = p.Comment
	}
	vars := map[string]any{
		"questionHTML": body,
		"markeroutput": res.Flatten(),
		"numparts":     len(parts),
		"parts":        parts,
		"guesses":      guesses,
		"answers":      answers,
		"tolerances":   tolerances,
		"scores":       scores,
		"comments":     comments,
	}

	out, err := r.scripts.Exec(ctx, model.AttResultsScript, src, vars)
	if err != nil {
		r.qlog(q, fmt.Sprintf("results script failed, using standard table: %v", err))
		return "", false
	}
	resultsHTML, _ := out["resultsHTML"].(string)
	if len(resultsHTML) <= 2 {
		r.qlog(q, "results script set no resultsHTML, using standard table")
		return "", false
	}

	for name, val := range out {
		resultsHTML = strings.ReplaceAll(resultsHTML,
			fmt.Sprintf("<IMG SRC %s>", name),
			fmt.Sprintf(`<IMG SRC="$QID$%s" />`, model.FormatValue(val)))
	}
	resultsHTML = strings.ReplaceAll(resultsHTML, "$QID$", fmt.Sprintf("%d/", q.ID))
	return resultsHTML, true
}

func (r *Renderer) qlog(q model.Question, message string) {
	slog.Warn("results script problem", "qid", q.ID, "detail", message)
	if err := r.data.QLog(q.QTemplate, q.ID, "error", model.AttResultsScript, message); err != nil {
		slog.Warn("qlog write failed", "qid", q.ID, "error", err)
	}
}
