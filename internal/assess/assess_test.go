package assess

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/openassess/openassess/internal/generate"
	"github.com/openassess/openassess/internal/i18n"
	"github.com/openassess/openassess/internal/mark"
	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/results"
	"github.com/openassess/openassess/internal/script"
	"github.com/openassess/openassess/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fatalEngine simulates a marker script that reports broken question data.
type fatalEngine struct{}

func (fatalEngine) Exec(ctx context.Context, name string, src []byte, vars map[string]any) (map[string]any, error) {
	return map[string]any{"markerError": "variation data is inconsistent"}, nil
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

func newAssessor(t *testing.T, s *store.Store, eng script.Engine) *Assessor {
	t.Helper()
	return New(s, generate.New(s), mark.NewEngine(s, eng), results.NewRenderer(s, eng))
}

// standardTemplate seeds a tolerance-marked template with one variation.
func standardTemplate(t *testing.T, s *store.Store, answer float64) int64 {
	t.Helper()
	qtID, err := s.CreateTemplate(model.QTemplate{
		Owner: 1, Title: "standard", Marker: model.MarkerStandard, ScoreMax: 1,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if err := s.AddVariation(qtID, 1, model.Variation{"A1": answer, "T1": 5.0}, 1); err != nil {
		t.Fatalf("add variation: %v", err)
	}
	if err := s.PutTemplateAttachment(qtID, model.AttQTemplateHTML, "text/html",
		[]byte(`Answer: <ANSWER1 10>`), 1); err != nil {
		t.Fatalf("put html: %v", err)
	}
	return qtID
}

// scriptTemplate seeds a template marked by its own script.
func scriptTemplate(t *testing.T, s *store.Store) int64 {
	t.Helper()
	qtID, err := s.CreateTemplate(model.QTemplate{
		Owner: 1, Title: "scripted", Marker: 2, ScoreMax: 1,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if err := s.AddVariation(qtID, 1, model.Variation{"A1": 10.0}, 1); err != nil {
		t.Fatalf("add variation: %v", err)
	}
	if err := s.PutTemplateAttachment(qtID, model.AttQTemplateHTML, "text/html",
		[]byte(`Answer: <ANSWER1 10>`), 1); err != nil {
		t.Fatalf("put html: %v", err)
	}
	if err := s.PutTemplateAttachment(qtID, model.AttMarkerScript, "text/x-python",
		[]byte("M1 = mymark(G1)\nC1 = 'done'\n"), 1); err != nil {
		t.Fatalf("put marker: %v", err)
	}
	return qtID
}

func newExam(t *testing.T, s *store.Store, qtIDs ...int64) int64 {
	t.Helper()
	examID, err := s.CreateExam(model.Exam{Course: 1, Owner: 1, Title: "exam", Duration: 60})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	for i, qtID := range qtIDs {
		if err := s.SetPositionTemplates(examID, i+1, []int64{qtID}); err != nil {
			t.Fatalf("set position: %v", err)
		}
	}
	return examID
}

func TestPracticeFlow(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	qtID := standardTemplate(t, s, 42)
	ctx := context.Background()

	qid, err := a.PracticeQuestion(ctx, 7, qtID)
	if err != nil {
		t.Fatalf("practice question: %v", err)
	}
	// While unfinished, repeat visits get the same instance.
	again, err := a.PracticeQuestion(ctx, 7, qtID)
	if err != nil {
		t.Fatalf("practice question again: %v", err)
	}
	if again != qid {
		t.Errorf("unfinished practice regenerated: got %d, want %d", again, qid)
	}

	res, err := a.MarkPractice(ctx, qid, map[int]string{1: "43"})
	if err != nil {
		t.Fatalf("mark practice: %v", err)
	}
	if res.Total() != 1 {
		t.Errorf("43 within 5%% of 42 scored %g, want 1", res.Total())
	}
	q, err := s.Question(qid)
	if err != nil {
		t.Fatalf("load question: %v", err)
	}
	if q.Status != model.QStatusMarked || q.MarkTime == nil {
		t.Errorf("practice question not finalized: %+v", q)
	}

	// A marked question is finished; the next visit generates a new one.
	next, err := a.PracticeQuestion(ctx, 7, qtID)
	if err != nil {
		t.Fatalf("next practice question: %v", err)
	}
	if next == qid {
		t.Error("marked practice question was handed out again")
	}
}

func TestExamQuestionStable(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	examID := newExam(t, s, standardTemplate(t, s, 42))
	ctx := context.Background()

	qid, err := a.ExamQuestion(ctx, examID, 7, 1)
	if err != nil {
		t.Fatalf("exam question: %v", err)
	}
	q, err := s.Question(qid)
	if err != nil {
		t.Fatalf("load question: %v", err)
	}
	if q.FirstView == nil {
		t.Fatal("first view not stamped")
	}
	first := *q.FirstView

	time.Sleep(10 * time.Millisecond)
	again, err := a.ExamQuestion(ctx, examID, 7, 1)
	if err != nil {
		t.Fatalf("exam question again: %v", err)
	}
	if again != qid {
		t.Errorf("position regenerated on second view: got %d, want %d", again, qid)
	}
	q, _ = s.Question(qid)
	if !q.FirstView.Equal(first) {
		t.Errorf("first view restamped: %v -> %v", first, *q.FirstView)
	}
}

func TestMarkExam(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	examID := newExam(t, s, standardTemplate(t, s, 42), standardTemplate(t, s, 100))
	ctx := context.Background()

	if _, err := a.StartExam(examID, 7); err != nil {
		t.Fatalf("start exam: %v", err)
	}
	qids, err := a.ExamQuestions(ctx, examID, 7)
	if err != nil {
		t.Fatalf("exam questions: %v", err)
	}
	if err := s.SaveGuess(qids[0], 1, "42"); err != nil {
		t.Fatalf("save guess: %v", err)
	}
	if err := s.SaveGuess(qids[1], 1, "7"); err != nil {
		t.Fatalf("save guess: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	total, err := a.MarkExam(ctx, examID, 7)
	if err != nil {
		t.Fatalf("mark exam: %v", err)
	}
	if total != 1 {
		t.Errorf("exam total = %g, want 1 (one right, one wrong)", total)
	}

	ue, err := s.UserExam(examID, 7)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if ue.Status != model.ExamMarkedPrelim {
		t.Errorf("attempt status = %d, want marked", ue.Status)
	}
	if ue.Score != 1 {
		t.Errorf("attempt score = %g, want 1", ue.Score)
	}
	if ue.SubmitTime == nil {
		t.Error("submit time not stamped")
	}
}

func TestMarkExamAllOrNothing(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, fatalEngine{})
	examID := newExam(t, s, standardTemplate(t, s, 42), scriptTemplate(t, s))
	ctx := context.Background()

	if _, err := a.StartExam(examID, 7); err != nil {
		t.Fatalf("start exam: %v", err)
	}
	qids, err := a.ExamQuestions(ctx, examID, 7)
	if err != nil {
		t.Fatalf("exam questions: %v", err)
	}
	if err := s.SaveGuess(qids[0], 1, "42"); err != nil {
		t.Fatalf("save guess: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	_, err = a.MarkExam(ctx, examID, 7)
	if !errors.Is(err, mark.ErrMarker) {
		t.Fatalf("mark exam error = %v, want ErrMarker", err)
	}

	// Nothing may have been persisted, not even for the question that
	// marked cleanly.
	q, err := s.Question(qids[0])
	if err != nil {
		t.Fatalf("load question: %v", err)
	}
	if q.Status == model.QStatusMarked || q.MarkTime != nil {
		t.Errorf("question finalized despite aborted marking: %+v", q)
	}
	ue, err := s.UserExam(examID, 7)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if ue.Status == model.ExamMarkedPrelim {
		t.Error("attempt marked despite marker failure")
	}
	if ue.SubmitTime != nil {
		t.Error("submit time stamped despite aborted marking")
	}
}

func TestRemarkIgnoresLateGuesses(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	examID := newExam(t, s, standardTemplate(t, s, 42))
	ctx := context.Background()

	if _, err := a.StartExam(examID, 7); err != nil {
		t.Fatalf("start exam: %v", err)
	}
	qids, err := a.ExamQuestions(ctx, examID, 7)
	if err != nil {
		t.Fatalf("exam questions: %v", err)
	}
	if err := s.SaveGuess(qids[0], 1, "9000"); err != nil {
		t.Fatalf("save guess: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	total, err := a.MarkExam(ctx, examID, 7)
	if err != nil {
		t.Fatalf("mark exam: %v", err)
	}
	if total != 0 {
		t.Fatalf("wrong answer scored %g, want 0", total)
	}

	// A guess slipped in after submission must not change the result.
	time.Sleep(10 * time.Millisecond)
	if err := s.SaveGuess(qids[0], 1, "42"); err != nil {
		t.Fatalf("save late guess: %v", err)
	}
	total, err = a.RemarkExam(ctx, examID, 7)
	if err != nil {
		t.Fatalf("remark exam: %v", err)
	}
	if total != 0 {
		t.Errorf("remark total = %g, late guess leaked into the result", total)
	}
}

func TestUnsubmitReopensAttempt(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	examID := newExam(t, s, standardTemplate(t, s, 42))
	ctx := context.Background()

	if _, err := a.StartExam(examID, 7); err != nil {
		t.Fatalf("start exam: %v", err)
	}
	if _, err := a.ExamQuestions(ctx, examID, 7); err != nil {
		t.Fatalf("exam questions: %v", err)
	}
	if _, err := a.MarkExam(ctx, examID, 7); err != nil {
		t.Fatalf("mark exam: %v", err)
	}

	if err := a.Unsubmit(examID, 7); err != nil {
		t.Fatalf("unsubmit: %v", err)
	}
	ue, err := s.UserExam(examID, 7)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if ue.Status != model.ExamUnseen {
		t.Errorf("attempt status = %d, want unseen", ue.Status)
	}
	if ue.SubmitTime != nil {
		t.Error("submit time survived unsubmit")
	}
}

func TestExamDirectAccessOpensAttempt(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	examID := newExam(t, s, standardTemplate(t, s, 42))
	ctx := context.Background()

	// Straight to the question, no explicit start.
	qid, err := a.ExamQuestion(ctx, examID, 7, 1)
	if err != nil {
		t.Fatalf("exam question: %v", err)
	}
	status, err := s.UserExamStatus(examID, 7)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status == model.ExamNoRecord {
		t.Fatal("viewing a question left no attempt record")
	}

	if err := s.SaveGuess(qid, 1, "42"); err != nil {
		t.Fatalf("save guess: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	total, err := a.MarkExam(ctx, examID, 7)
	if err != nil {
		t.Fatalf("mark exam: %v", err)
	}
	if total != 1 {
		t.Errorf("exam total = %g, want 1", total)
	}
	ue, err := s.UserExam(examID, 7)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if ue.Status != model.ExamMarkedPrelim {
		t.Errorf("attempt status = %d, want marked", ue.Status)
	}
	if ue.SubmitTime == nil {
		t.Error("submit time not stamped on the attempt")
	}
	if ue.Score != 1 {
		t.Errorf("attempt score = %g, want 1", ue.Score)
	}
}

func TestStudentExamDuration(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	examID := newExam(t, s, standardTemplate(t, s, 42))
	ctx := context.Background()

	if _, err := a.StartExam(examID, 7); err != nil {
		t.Fatalf("start exam: %v", err)
	}
	if _, err := a.ExamQuestions(ctx, examID, 7); err != nil {
		t.Fatalf("exam questions: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := a.MarkExam(ctx, examID, 7); err != nil {
		t.Fatalf("mark exam: %v", err)
	}

	d, err := a.StudentExamDuration(examID, 7)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if d <= 0 {
		t.Errorf("duration = %v, want first view to submission to be positive", d)
	}

	// A student who never opened the exam has no measurable duration.
	d, err = a.StudentExamDuration(examID, 8)
	if err != nil {
		t.Fatalf("duration for absent student: %v", err)
	}
	if d != 0 {
		t.Errorf("duration for absent student = %v, want 0", d)
	}
}

func TestReview(t *testing.T) {
	s := newStore(t)
	a := newAssessor(t, s, script.Disabled{})
	examID := newExam(t, s, standardTemplate(t, s, 42))
	ctx := context.Background()

	if _, err := a.StartExam(examID, 7); err != nil {
		t.Fatalf("start exam: %v", err)
	}
	qids, err := a.ExamQuestions(ctx, examID, 7)
	if err != nil {
		t.Fatalf("exam questions: %v", err)
	}
	if err := s.SaveGuess(qids[0], 1, "42"); err != nil {
		t.Fatalf("save guess: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := a.MarkExam(ctx, examID, 7); err != nil {
		t.Fatalf("mark exam: %v", err)
	}

	review, err := a.Review(ctx, examID, 7)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(review) != 1 {
		t.Fatalf("got %d review questions, want 1", len(review))
	}
	if review[0].Score != 1 {
		t.Errorf("review score = %g, want 1", review[0].Score)
	}
	if !strings.Contains(review[0].HTML, "Correct") {
		t.Errorf("review html missing mark table:\n%s", review[0].HTML)
	}
}
