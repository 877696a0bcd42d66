package mark

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/script"
)

// Source is the slice of the store the marking engine reads.
type Source interface {
	Question(id int64) (model.Question, error)
	Template(id int64) (model.QTemplate, error)
	Variation(qtID int64, variation, version int) (model.Variation, error)
	TemplateAttachment(qtID int64, name string, version int) (*model.Attachment, error)
	QLog(qtID, questionID int64, priority, facility, message string) error
}

// Engine marks question instances, picking the strategy from the
// template's marker field.
type Engine struct {
	data    Source
	scripts script.Engine
}

func NewEngine(data Source, scripts script.Engine) *Engine {
	return &Engine{data: data, scripts: scripts}
}

// MarkQuestion marks the question against the answers given per part.
// Missing variation data degrades to an empty variation (the question marks
// entirely incorrect) rather than failing the caller; a marker-fatal
// condition comes back wrapping ErrMarker.
func (e *Engine) MarkQuestion(ctx context.Context, qid int64, answers map[int]string) (Result, error) {
	q, err := e.data.Question(qid)
	if err != nil {
		return Result{}, fmt.Errorf("mark question %d: %w", qid, err)
	}
	qvars, err := e.data.Variation(q.QTemplate, q.Variation, q.Version)
	if err != nil {
		return Result{}, fmt.Errorf("mark question %d: %w", qid, err)
	}
	if qvars == nil {
		slog.Warn("marking with no variation data", "qid", qid, "qtid", q.QTemplate,
			"variation", q.Variation, "version", q.Version)
		qvars = model.Variation{}
	}

	qt, err := e.data.Template(q.QTemplate)
	if err != nil {
		return Result{}, fmt.Errorf("mark question %d: %w", qid, err)
	}
	if qt.Marker == model.MarkerStandard {
		return Standard(qvars, answers), nil
	}

	// Markers always run at the latest version so script fixes apply to
	// old instances too.
	src, name := e.markerScript(q.QTemplate)
	if src == nil {
		slog.Info("no marker script for script-marked template, using standard marker",
			"qtid", q.QTemplate)
		return Standard(qvars, answers), nil
	}
	res, ok, err := e.runMarker(ctx, q, name, src, qvars, answers)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Standard(qvars, answers), nil
	}
	return res, nil
}

func (e *Engine) markerScript(qtID int64) ([]byte, string) {
	att, err := e.data.TemplateAttachment(qtID, model.AttMarkerScript, 0)
	if err == nil && att != nil {
		return att.Data, model.AttMarkerScript
	}
	att, err = e.data.TemplateAttachment(qtID, model.AttMarkerLegacy, 0)
	if err == nil && att != nil {
		slog.Info("template still uses the legacy marker attachment name", "qtid", qtID)
		return att.Data, model.AttMarkerLegacy
	}
	return nil, ""
}

// runMarker executes the marker script. ok=false means the caller should
// fall back to the standard marker; an error is the marker-fatal path.
func (e *Engine) runMarker(ctx context.Context, q model.Question, name string, src []byte,
	qvars model.Variation, answers map[int]string) (Result, bool, error) {

	parts := qvars.PartNumbers()
	vars := make(map[string]any, len(qvars)+len(parts)+2)
	displayAnswers := make(map[int]string, len(parts))

	// Numeric-looking values are pre-converted so scripts can do arithmetic
	// without their own parsing.
	for varName, val := range qvars {
		if s, isStr := val.(string); isStr {
			if f, ok := ParseGuess(s); ok {
				vars[varName] = f
				continue
			}
		}
		vars[varName] = val
	}
	vars["QID"] = q.ID
	vars["numanswers"] = len(parts)

	for _, part := range parts {
		raw, hasA := answerValue(qvars, part)
		displayAnswers[part] = normalizeAnswer(model.FormatValue(raw), hasA)

		guess, ok := answers[part]
		gKey := partKey("G", part)
		if !ok {
			vars[gKey] = "None"
			continue
		}
		if f, isNum := ParseGuess(guess); isNum {
			vars[gKey] = f
		} else if guess == "" {
			vars[gKey] = "None"
		} else {
			vars[gKey] = guess
		}
	}

	out, err := e.scripts.Exec(ctx, name, src, vars)
	if err != nil {
		e.qlog(q, "error", name,
			fmt.Sprintf("Falling back to standard marker: %v", err))
		return Result{}, false, nil
	}
	if msg, fatal := out["markerError"]; fatal {
		return Result{}, false, fmt.Errorf("%w: %s", ErrMarker, model.FormatValue(msg))
	}

	res := Result{Parts: map[int]Part{}}
	for _, part := range parts {
		scoreRaw, hasM := out[partKey("M", part)]
		commentRaw, hasC := out[partKey("C", part)]
		if !hasM || !hasC {
			e.qlog(q, "error", name,
				fmt.Sprintf("script did not set M%d/C%d, using standard marker", part, part))
			return Result{}, false, nil
		}
		score, _ := parseValue(scoreRaw)
		p := Part{
			Guess:     model.FormatValue(out[partKey("G", part)]),
			Answer:    displayAnswers[part],
			Tolerance: toleranceValue(qvars, part),
			Score:     score,
			Comment:   e.substituteComment(model.FormatValue(commentRaw), out, q.ID),
		}
		if t, ok := out[partKey("T", part)]; ok {
			if f, ok := parseValue(t); ok {
				p.Tolerance = f
			}
		}
		res.Parts[part] = p
	}
	if c0, ok := out["C0"]; ok {
		res.Overall = e.substituteComment(model.FormatValue(c0), out, q.ID)
	}
	return res, true, nil
}

// substituteComment expands <VAL name>/<IMG SRC name>/<ATT SRC name> tags in
// a script comment against all script-visible variables. The pass runs
// twice to cope with one level of nesting.
func (e *Engine) substituteComment(comment string, vars map[string]any, qid int64) string {
	for range 2 {
		for name, val := range vars {
			sval := model.FormatValue(val)
			comment = strings.ReplaceAll(comment,
				fmt.Sprintf("<VAL %s>", name), sval)
			comment = strings.ReplaceAll(comment,
				fmt.Sprintf("<IMG SRC %s>", name),
				fmt.Sprintf("<IMG SRC=\"$QID$%s\" />", sval))
			comment = strings.ReplaceAll(comment,
				fmt.Sprintf("<ATT SRC %s>", name),
				fmt.Sprintf("<A HREF=\"$QID$%s\" TARGET=\"_new\">(View in New Window)</a>", sval))
		}
	}
	return strings.ReplaceAll(comment, "$QID$", fmt.Sprintf("%d/", qid))
}

func (e *Engine) qlog(q model.Question, priority, facility, message string) {
	slog.Warn("marker script problem", "qid", q.ID, "script", facility, "detail", message)
	if err := e.data.QLog(q.QTemplate, q.ID, priority, facility, message); err != nil {
		slog.Warn("qlog write failed", "qid", q.ID, "error", err)
	}
}
