package generate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"os"
	"strings"
	"testing"

	"github.com/openassess/openassess/internal/i18n"
	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTemplate seeds a template with two variations and an html body.
func newTemplate(t *testing.T, s *store.Store) int64 {
	t.Helper()
	qtID, err := s.CreateTemplate(model.QTemplate{
		Owner: 1, Title: "Ohm's law", Marker: model.MarkerStandard, ScoreMax: 1,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	for i, r := range []float64{4700, 2200} {
		err := s.AddVariation(qtID, i+1, model.Variation{"R": r, "A1": r / 100, "T1": 1.0}, 1)
		if err != nil {
			t.Fatalf("add variation: %v", err)
		}
	}
	err = s.PutTemplateAttachment(qtID, model.AttQTemplateHTML, "text/html",
		[]byte(`R = <VAL R> ohms <ANSWER1 10>`), 1)
	if err != nil {
		t.Fatalf("put html: %v", err)
	}
	return qtID
}

func TestQuestionBakesInstance(t *testing.T) {
	s := newStore(t)
	qtID := newTemplate(t, s)
	g := New(s)
	g.pick = func(n int) int { return 0 } // always variation 1

	qid, err := g.Question(context.Background(), qtID, 7, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	q, err := s.Question(qid)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if q.QTemplate != qtID || q.Student != 7 || q.Exam != 0 {
		t.Errorf("unexpected instance row: %+v", q)
	}
	if q.Variation != 1 || q.Version != 1 {
		t.Errorf("instance not bound to variation 1 version 1: %+v", q)
	}
	if q.Status != model.QStatusUnseen {
		t.Errorf("new instance status = %d, want unseen", q.Status)
	}

	att, err := s.QuestionAttachment(qtID, 1, model.AttQTemplateHTML, 1)
	if err != nil || att == nil {
		t.Fatalf("baked html missing: att=%v err=%v", att, err)
	}
	body := string(att.Data)
	if !strings.Contains(body, "R = 4700 ohms") {
		t.Errorf("variation values not substituted:\n%s", body)
	}
	if !strings.Contains(body, "NAME='ANS_1'") {
		t.Errorf("answer tag not expanded:\n%s", body)
	}
}

func TestQuestionNoVariations(t *testing.T) {
	s := newStore(t)
	qtID, err := s.CreateTemplate(model.QTemplate{Owner: 1, Title: "empty"})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if _, err := New(s).Question(context.Background(), qtID, 7, 0); err == nil {
		t.Error("expected an error for a template with no variations")
	}
}

func TestQuestionBakesAnnotatedImage(t *testing.T) {
	s := newStore(t)
	qtID := newTemplate(t, s)

	img := image.NewPaletted(image.Rect(0, 0, 60, 30), color.Palette{color.White, color.Black})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode base gif: %v", err)
	}
	if err := s.PutTemplateAttachment(qtID, model.AttImage, "image/gif", buf.Bytes(), 1); err != nil {
		t.Fatalf("put base image: %v", err)
	}
	if err := s.AddVariation(qtID, 3, model.Variation{"A1": 1.0, "X1": 5.0, "Y1": 15.0, "Z1": "4k7"}, 1); err != nil {
		t.Fatalf("add variation: %v", err)
	}

	g := New(s)
	g.pick = func(n int) int { return 2 } // variation 3
	if _, err := g.Question(context.Background(), qtID, 7, 0); err != nil {
		t.Fatalf("generate: %v", err)
	}

	att, err := s.QuestionAttachment(qtID, 3, model.AttImage, 1)
	if err != nil || att == nil {
		t.Fatalf("baked image missing: att=%v err=%v", att, err)
	}
	if _, err := gif.Decode(bytes.NewReader(att.Data)); err != nil {
		t.Errorf("baked image is not a gif: %v", err)
	}
}

func TestExamQuestionAssignsPosition(t *testing.T) {
	s := newStore(t)
	qtID := newTemplate(t, s)
	examID, err := s.CreateExam(model.Exam{Course: 1, Owner: 1, Title: "Test 1", Duration: 60})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	if err := s.SetPositionTemplates(examID, 1, []int64{qtID}); err != nil {
		t.Fatalf("set position: %v", err)
	}

	qid, err := New(s).ExamQuestion(context.Background(), examID, 7, 1)
	if err != nil {
		t.Fatalf("generate exam question: %v", err)
	}
	got, err := s.ExamQuestionID(examID, 7, 1)
	if err != nil {
		t.Fatalf("lookup assignment: %v", err)
	}
	if got != qid {
		t.Errorf("position 1 assigned to question %d, want %d", got, qid)
	}

	q, err := s.Question(qid)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if q.Exam != examID {
		t.Errorf("instance exam = %d, want %d", q.Exam, examID)
	}
}

func TestExamQuestionEmptyPosition(t *testing.T) {
	s := newStore(t)
	examID, err := s.CreateExam(model.Exam{Course: 1, Owner: 1, Title: "Test 1", Duration: 60})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	if _, err := New(s).ExamQuestion(context.Background(), examID, 7, 2); err == nil {
		t.Error("expected an error for a position with no templates")
	}
}
