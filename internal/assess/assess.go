// Package assess drives the assessment flows: handing questions to
// students, collecting guesses, and marking practice and exam attempts.
package assess

import (
	"context"
	"fmt"
	"time"

	"github.com/openassess/openassess/internal/generate"
	"github.com/openassess/openassess/internal/mark"
	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/results"
	"github.com/openassess/openassess/internal/store"
)

// Assessor ties the stores and engines together for one deployment.
type Assessor struct {
	data    *store.Store
	gen     *generate.Generator
	marker  *mark.Engine
	results *results.Renderer
}

func New(data *store.Store, gen *generate.Generator, marker *mark.Engine, res *results.Renderer) *Assessor {
	return &Assessor{data: data, gen: gen, marker: marker, results: res}
}

// PracticeQuestion hands the student a practice instance of the template:
// an unfinished one if they have it, a freshly generated one otherwise.
// The first-view time is stamped either way.
func (a *Assessor) PracticeQuestion(ctx context.Context, student, qtID int64) (int64, error) {
	qid, err := a.data.UnfinishedPractice(student, qtID)
	if err != nil {
		return 0, fmt.Errorf("find practice question: %w", err)
	}
	if qid == 0 {
		qid, err = a.gen.Question(ctx, qtID, student, 0)
		if err != nil {
			return 0, err
		}
	}
	if err := a.data.SetFirstView(qid); err != nil {
		return 0, fmt.Errorf("stamp first view of question %d: %w", qid, err)
	}
	return qid, nil
}

// MarkPractice records the answers as guesses and marks the question
// immediately. The marked result is returned for rendering.
func (a *Assessor) MarkPractice(ctx context.Context, questionID int64, answers map[int]string) (mark.Result, error) {
	for part, value := range answers {
		if err := a.data.SaveGuess(questionID, part, value); err != nil {
			return mark.Result{}, fmt.Errorf("save guess for question %d: %w", questionID, err)
		}
	}
	res, err := a.marker.MarkQuestion(ctx, questionID, answers)
	if err != nil {
		return mark.Result{}, err
	}
	if err := a.finalizeQuestion(questionID, res.Total()); err != nil {
		return mark.Result{}, err
	}
	return res, nil
}

// RemarkPractice re-marks a practice question from its stored guesses,
// typically after a template fix.
func (a *Assessor) RemarkPractice(ctx context.Context, questionID int64) (float64, error) {
	guesses, err := a.data.Guesses(questionID)
	if err != nil {
		return 0, fmt.Errorf("load guesses for question %d: %w", questionID, err)
	}
	res, err := a.marker.MarkQuestion(ctx, questionID, guesses)
	if err != nil {
		return 0, err
	}
	if err := a.finalizeQuestion(questionID, res.Total()); err != nil {
		return 0, err
	}
	return res.Total(), nil
}

func (a *Assessor) finalizeQuestion(questionID int64, score float64) error {
	if err := a.data.UpdateQuestionScore(questionID, score); err != nil {
		return fmt.Errorf("save score for question %d: %w", questionID, err)
	}
	if err := a.data.SetQuestionStatus(questionID, model.QStatusMarked); err != nil {
		return fmt.Errorf("update status for question %d: %w", questionID, err)
	}
	if err := a.data.SetMarkTime(questionID); err != nil {
		return fmt.Errorf("stamp mark time for question %d: %w", questionID, err)
	}
	return nil
}

// StartExam opens an attempt: the per-student record is created if absent,
// the status moves to started, and the deadline clock starts ticking.
func (a *Assessor) StartExam(examID, student int64) (time.Time, error) {
	if err := a.data.CreateUserExam(examID, student); err != nil {
		return time.Time{}, fmt.Errorf("create attempt for exam %d: %w", examID, err)
	}
	status, err := a.data.UserExamStatus(examID, student)
	if err != nil {
		return time.Time{}, fmt.Errorf("read attempt status for exam %d: %w", examID, err)
	}
	if status < model.ExamStarted {
		if err := a.data.SetUserExamStatus(examID, student, model.ExamStarted); err != nil {
			return time.Time{}, fmt.Errorf("start attempt for exam %d: %w", examID, err)
		}
	}
	deadline, err := a.data.EndTime(examID, student)
	if err != nil {
		return time.Time{}, fmt.Errorf("start timer for exam %d: %w", examID, err)
	}
	return deadline, nil
}

// ExamQuestion returns the student's question instance for one exam
// position, generating and binding one on first access. Repeat calls get
// the same instance; the first-view time is only stamped once. Viewing any
// question opens the attempt: the per-student record and the personal
// countdown are created here too, so a student who skips the explicit
// start still gets a submittable attempt.
func (a *Assessor) ExamQuestion(ctx context.Context, examID, student int64, position int) (int64, error) {
	if err := a.data.CreateUserExam(examID, student); err != nil {
		return 0, fmt.Errorf("create attempt for exam %d: %w", examID, err)
	}
	if _, err := a.data.EndTime(examID, student); err != nil {
		return 0, fmt.Errorf("start timer for exam %d: %w", examID, err)
	}
	qid, err := a.data.ExamQuestionID(examID, student, position)
	if err != nil {
		return 0, fmt.Errorf("look up exam %d position %d: %w", examID, position, err)
	}
	if qid == 0 {
		qid, err = a.gen.ExamQuestion(ctx, examID, student, position)
		if err != nil {
			return 0, err
		}
	}
	if err := a.data.SetFirstView(qid); err != nil {
		return 0, fmt.Errorf("stamp first view of question %d: %w", qid, err)
	}
	return qid, nil
}

// ExamQuestions returns the student's instances for every position of the
// exam, in position order, generating whatever is still missing.
func (a *Assessor) ExamQuestions(ctx context.Context, examID, student int64) ([]int64, error) {
	n, err := a.data.NumPositions(examID)
	if err != nil {
		return nil, fmt.Errorf("count positions of exam %d: %w", examID, err)
	}
	qids := make([]int64, 0, n)
	for position := 1; position <= n; position++ {
		qid, err := a.ExamQuestion(ctx, examID, student, position)
		if err != nil {
			return nil, err
		}
		qids = append(qids, qid)
	}
	return qids, nil
}

// MarkExam marks a submitted attempt. Every question is marked in memory
// first and nothing is persisted unless all of them succeed, so a marker
// failure can never leave an attempt half scored. Guesses recorded after
// the submission instant are ignored.
func (a *Assessor) MarkExam(ctx context.Context, examID, student int64) (float64, error) {
	qids, err := a.ExamQuestions(ctx, examID, student)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now()

	type marked struct {
		qid   int64
		score float64
	}
	var scores []marked
	total := 0.0
	for _, qid := range qids {
		guesses, err := a.data.GuessesBefore(qid, cutoff)
		if err != nil {
			return 0, fmt.Errorf("load guesses for question %d: %w", qid, err)
		}
		res, err := a.marker.MarkQuestion(ctx, qid, guesses)
		if err != nil {
			return 0, fmt.Errorf("exam %d not marked: %w", examID, err)
		}
		scores = append(scores, marked{qid: qid, score: res.Total()})
		total += res.Total()
	}

	for _, m := range scores {
		if err := a.finalizeQuestion(m.qid, m.score); err != nil {
			return 0, err
		}
	}
	if err := a.data.SetSubmitTime(examID, student); err != nil {
		return 0, fmt.Errorf("stamp submit time for exam %d: %w", examID, err)
	}
	if err := a.data.SaveExamScore(examID, student, total); err != nil {
		return 0, fmt.Errorf("save score for exam %d: %w", examID, err)
	}
	if err := a.data.SetUserExamStatus(examID, student, model.ExamMarkedPrelim); err != nil {
		return 0, fmt.Errorf("update status for exam %d: %w", examID, err)
	}
	return total, nil
}

// remarkCutoff is the instant guesses stop counting for a finished attempt:
// the submission time, or the last marking time for attempts that were
// closed administratively.
func (a *Assessor) remarkCutoff(examID, student int64) (time.Time, error) {
	submitted, err := a.data.SubmitTime(examID, student)
	if err != nil {
		return time.Time{}, fmt.Errorf("read submit time for exam %d: %w", examID, err)
	}
	if submitted != nil {
		return *submitted, nil
	}
	markTime, err := a.data.ExamMarkTime(examID, student)
	if err != nil {
		return time.Time{}, fmt.Errorf("read mark time for exam %d: %w", examID, err)
	}
	if markTime != nil {
		return *markTime, nil
	}
	return time.Time{}, fmt.Errorf("exam %d was never submitted or marked for student %d", examID, student)
}

// RemarkExam re-marks a finished attempt in place, for example after a
// marker script fix. Only guesses from before the original submission
// count, so a remark can never pick up answers given after the deadline.
func (a *Assessor) RemarkExam(ctx context.Context, examID, student int64) (float64, error) {
	cutoff, err := a.remarkCutoff(examID, student)
	if err != nil {
		return 0, err
	}
	qids, err := a.ExamQuestions(ctx, examID, student)
	if err != nil {
		return 0, err
	}

	total := 0.0
	type marked struct {
		qid   int64
		score float64
	}
	var scores []marked
	for _, qid := range qids {
		guesses, err := a.data.GuessesBefore(qid, cutoff)
		if err != nil {
			return 0, fmt.Errorf("load guesses for question %d: %w", qid, err)
		}
		res, err := a.marker.MarkQuestion(ctx, qid, guesses)
		if err != nil {
			return 0, fmt.Errorf("exam %d not remarked: %w", examID, err)
		}
		scores = append(scores, marked{qid: qid, score: res.Total()})
		total += res.Total()
	}
	for _, m := range scores {
		if err := a.finalizeQuestion(m.qid, m.score); err != nil {
			return 0, err
		}
	}
	if err := a.data.SaveExamScore(examID, student, total); err != nil {
		return 0, fmt.Errorf("save score for exam %d: %w", examID, err)
	}
	return total, nil
}

// Unsubmit reopens a submitted attempt so the student can continue:
// the mark log, deadline and submission time are cleared and the attempt
// goes back to unseen, as if never opened. The countdown restarts on the
// next question view. Question scores are left alone; the next marking
// pass overwrites them.
func (a *Assessor) Unsubmit(examID, student int64) error {
	if err := a.data.ClearMarkLog(examID, student); err != nil {
		return fmt.Errorf("clear mark log for exam %d: %w", examID, err)
	}
	if err := a.data.ClearEndTime(examID, student); err != nil {
		return fmt.Errorf("clear deadline for exam %d: %w", examID, err)
	}
	if err := a.data.ClearSubmitTime(examID, student); err != nil {
		return fmt.Errorf("clear submit time for exam %d: %w", examID, err)
	}
	if err := a.data.SetUserExamStatus(examID, student, model.ExamUnseen); err != nil {
		return fmt.Errorf("reopen attempt for exam %d: %w", examID, err)
	}
	return nil
}

// StudentExamDuration reports how long the attempt took, from the first
// question view to submission (or to last marking when submission time is
// missing). Zero when either end is unknown.
func (a *Assessor) StudentExamDuration(examID, student int64) (time.Duration, error) {
	start, err := a.data.ExamStartTime(examID, student)
	if err != nil {
		return 0, fmt.Errorf("read start time for exam %d: %w", examID, err)
	}
	if start == nil {
		return 0, nil
	}
	end, err := a.remarkCutoff(examID, student)
	if err != nil {
		return 0, nil
	}
	if end.Before(*start) {
		return 0, nil
	}
	return end.Sub(*start), nil
}

// ReviewQuestion is one marked question of a finished attempt, rendered
// for the student's review page.
type ReviewQuestion struct {
	Position   int
	QuestionID int64
	Score      float64
	HTML       string
}

// Review renders the full marked attempt. Each question is re-marked from
// its submission-time guesses so the page always reflects the current
// marker, then rendered through the results renderer.
func (a *Assessor) Review(ctx context.Context, examID, student int64) ([]ReviewQuestion, error) {
	cutoff, err := a.remarkCutoff(examID, student)
	if err != nil {
		return nil, err
	}
	n, err := a.data.NumPositions(examID)
	if err != nil {
		return nil, fmt.Errorf("count positions of exam %d: %w", examID, err)
	}

	var review []ReviewQuestion
	for position := 1; position <= n; position++ {
		qid, err := a.data.ExamQuestionID(examID, student, position)
		if err != nil {
			return nil, fmt.Errorf("look up exam %d position %d: %w", examID, position, err)
		}
		if qid == 0 {
			continue
		}
		guesses, err := a.data.GuessesBefore(qid, cutoff)
		if err != nil {
			return nil, fmt.Errorf("load guesses for question %d: %w", qid, err)
		}
		res, err := a.marker.MarkQuestion(ctx, qid, guesses)
		if err != nil {
			return nil, fmt.Errorf("review exam %d: %w", examID, err)
		}
		body, err := a.results.Render(ctx, qid, res)
		if err != nil {
			return nil, err
		}
		review = append(review, ReviewQuestion{
			Position:   position,
			QuestionID: qid,
			Score:      res.Total(),
			HTML:       body,
		})
	}
	return review, nil
}
