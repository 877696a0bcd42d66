package mark

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/script"
)

func TestStandardNumeric(t *testing.T) {
	qvars := model.Variation{"A1": 42.0, "T1": 5.0}

	res := Standard(qvars, map[int]string{1: "43"})
	if p := res.Parts[1]; p.Score != 1 || p.Comment != CommentCorrect {
		t.Errorf("43 within 5%% of 42: %+v", p)
	}
	res = Standard(qvars, map[int]string{1: "50"})
	if p := res.Parts[1]; p.Score != 0 || p.Comment != CommentIncorrect {
		t.Errorf("50 outside 5%% of 42: %+v", p)
	}
	// Hand-written scientific notation counts as numeric.
	res = Standard(model.Variation{"A1": 1.602e19, "T1": 1.0},
		map[int]string{1: "1.602 x 10^19"})
	if res.Parts[1].Score != 1 {
		t.Errorf("scientific notation guess not accepted: %+v", res.Parts[1])
	}
}

func TestStandardString(t *testing.T) {
	qvars := model.Variation{"A1": "Onehunga"}
	res := Standard(qvars, map[int]string{1: "ONEHUNGA"})
	if res.Parts[1].Score != 1 {
		t.Errorf("string match should ignore case: %+v", res.Parts[1])
	}
	res = Standard(qvars, map[int]string{1: "Penrose"})
	if res.Parts[1].Score != 0 {
		t.Errorf("wrong string scored: %+v", res.Parts[1])
	}
}

func TestStandardMissingGuess(t *testing.T) {
	res := Standard(model.Variation{"A1": 42.0, "A2": 7.0}, map[int]string{1: "42"})
	if res.Parts[1].Score != 1 {
		t.Errorf("part 1: %+v", res.Parts[1])
	}
	if p := res.Parts[2]; p.Score != 0 || p.Guess != "None" {
		t.Errorf("missing guess should mark as None and score 0: %+v", p)
	}
}

func TestResultTotalAndFlatten(t *testing.T) {
	res := Result{
		Parts: map[int]Part{
			1: {Guess: "43", Answer: "42", Tolerance: 5, Score: 1, Comment: CommentCorrect},
			2: {Guess: "9", Answer: "7", Score: 0, Comment: CommentIncorrect},
		},
		Overall: "see worked solution",
	}
	if res.Total() != 1 {
		t.Errorf("total = %g, want 1", res.Total())
	}
	flat := res.Flatten()
	if flat["G1"] != "43" || flat["M2"] != 0.0 || flat["C0"] != "see worked solution" {
		t.Errorf("unexpected flat form: %v", flat)
	}
}

// fakeData is an in-memory mark.Source.
type fakeData struct {
	question model.Question
	template model.QTemplate
	qvars    model.Variation
	marker   []byte
	logged   []string
}

func (f *fakeData) Question(id int64) (model.Question, error)  { return f.question, nil }
func (f *fakeData) Template(id int64) (model.QTemplate, error) { return f.template, nil }

func (f *fakeData) Variation(qtID int64, variation, version int) (model.Variation, error) {
	return f.qvars, nil
}

func (f *fakeData) TemplateAttachment(qtID int64, name string, version int) (*model.Attachment, error) {
	if name == model.AttMarkerScript && f.marker != nil {
		return &model.Attachment{Name: name, Data: f.marker}, nil
	}
	return nil, nil
}

func (f *fakeData) QLog(qtID, questionID int64, priority, facility, message string) error {
	f.logged = append(f.logged, message)
	return nil
}

type fakeEngine struct {
	out     map[string]any
	err     error
	gotVars map[string]any
}

func (f *fakeEngine) Exec(ctx context.Context, name string, src []byte, vars map[string]any) (map[string]any, error) {
	f.gotVars = vars
	return f.out, f.err
}

func scriptedData() *fakeData {
	return &fakeData{
		question: model.Question{ID: 5, QTemplate: 3, Variation: 1, Version: 1},
		template: model.QTemplate{ID: 3, Marker: 2},
		qvars:    model.Variation{"A1": "4700", "T1": 1.0, "units": "ohms"},
		marker:   []byte("M1 = mymark(G1)\nC1 = 'checked'\n"),
	}
}

func TestMarkQuestionStandard(t *testing.T) {
	data := scriptedData()
	data.template.Marker = model.MarkerStandard
	e := NewEngine(data, script.Disabled{})

	res, err := e.MarkQuestion(context.Background(), 5, map[int]string{1: "4705"})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if res.Parts[1].Score != 1 {
		t.Errorf("4705 within 1%% of 4700: %+v", res.Parts[1])
	}
}

func TestMarkQuestionScript(t *testing.T) {
	// A real runner hands back the whole mutated context, inputs included.
	eng := &fakeEngine{out: map[string]any{
		"M1":    1.0,
		"C1":    "Good, <VAL units> confirmed",
		"G1":    4700.0,
		"units": "ohms",
	}}
	e := NewEngine(scriptedData(), eng)

	res, err := e.MarkQuestion(context.Background(), 5, map[int]string{1: "4700"})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if res.Parts[1].Score != 1 {
		t.Errorf("script score not used: %+v", res.Parts[1])
	}
	if res.Parts[1].Comment != "Good, ohms confirmed" {
		t.Errorf("comment tags not substituted: %q", res.Parts[1].Comment)
	}

	// Numeric-looking context values arrive pre-converted, and the script
	// sees the question id and part count.
	if eng.gotVars["G1"] != 4700.0 {
		t.Errorf("guess not pre-converted to float: %v", eng.gotVars["G1"])
	}
	if eng.gotVars["A1"] != 4700.0 {
		t.Errorf("answer not pre-converted to float: %v", eng.gotVars["A1"])
	}
	if eng.gotVars["QID"] != int64(5) || eng.gotVars["numanswers"] != 1 {
		t.Errorf("script context incomplete: %v", eng.gotVars)
	}
}

func TestMarkQuestionScriptFailureFallsBack(t *testing.T) {
	data := scriptedData()
	e := NewEngine(data, &fakeEngine{err: errors.New("exit status 1")})

	res, err := e.MarkQuestion(context.Background(), 5, map[int]string{1: "4700"})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	// The standard marker takes over and still scores the part.
	if res.Parts[1].Score != 1 {
		t.Errorf("fallback did not mark: %+v", res.Parts[1])
	}
	if len(data.logged) == 0 {
		t.Error("script failure was not logged against the template")
	}
}

func TestMarkQuestionScriptOmitsPartFallsBack(t *testing.T) {
	data := scriptedData()
	e := NewEngine(data, &fakeEngine{out: map[string]any{"M1": 1.0}})

	res, err := e.MarkQuestion(context.Background(), 5, map[int]string{1: "4700"})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if res.Parts[1].Score != 1 {
		t.Errorf("fallback did not mark: %+v", res.Parts[1])
	}
	if len(data.logged) == 0 {
		t.Error("incomplete script output was not logged")
	}
}

func TestMarkQuestionMarkerError(t *testing.T) {
	e := NewEngine(scriptedData(),
		&fakeEngine{out: map[string]any{"markerError": "no data for variation"}})

	_, err := e.MarkQuestion(context.Background(), 5, map[int]string{1: "4700"})
	if !errors.Is(err, ErrMarker) {
		t.Fatalf("got %v, want ErrMarker", err)
	}
	if !strings.Contains(err.Error(), "no data for variation") {
		t.Errorf("marker message lost: %v", err)
	}
}

func TestMarkQuestionNoScriptFallsBack(t *testing.T) {
	data := scriptedData()
	data.marker = nil
	e := NewEngine(data, &fakeEngine{})

	res, err := e.MarkQuestion(context.Background(), 5, map[int]string{1: "4700"})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if res.Parts[1].Score != 1 {
		t.Errorf("standard fallback did not mark: %+v", res.Parts[1])
	}
}
