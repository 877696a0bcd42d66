package store

import (
	"database/sql"
	"fmt"

	"github.com/openassess/openassess/internal/model"
)

// ExportExamResults builds export-ready attempt results for one exam: every
// attempt with its per-position question instances, scores and final
// guesses.
func (s *Store) ExportExamResults(examID int64) ([]model.AttemptResult, error) {
	rows, err := s.db.Query(
		`SELECT student, status, score, submittime FROM userexams
		 WHERE exam = ? ORDER BY student`, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts for exam %d: %w", examID, err)
	}
	defer rows.Close()

	var results []model.AttemptResult
	for rows.Next() {
		var r model.AttemptResult
		var submitted sql.NullTime
		if err := rows.Scan(&r.Student, &r.Status, &r.Score, &submitted); err != nil {
			return nil, err
		}
		if submitted.Valid {
			r.SubmitTime = &submitted.Time
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	n, err := s.NumPositions(examID)
	if err != nil {
		return nil, fmt.Errorf("count positions of exam %d: %w", examID, err)
	}
	for i := range results {
		questions, err := s.exportAttemptQuestions(examID, results[i].Student, n)
		if err != nil {
			return nil, err
		}
		results[i].Questions = questions
	}
	return results, nil
}

func (s *Store) exportAttemptQuestions(examID, student int64, positions int) ([]model.QuestionExport, error) {
	var out []model.QuestionExport
	for position := 1; position <= positions; position++ {
		qid, err := s.ExamQuestionID(examID, student, position)
		if err != nil {
			return nil, fmt.Errorf("exam %d position %d: %w", examID, position, err)
		}
		if qid == 0 {
			continue
		}
		q, err := s.Question(qid)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", qid, err)
		}
		guesses, err := s.Guesses(qid)
		if err != nil {
			return nil, fmt.Errorf("guesses of question %d: %w", qid, err)
		}
		out = append(out, model.QuestionExport{
			Position:  position,
			Question:  q.ID,
			QTemplate: q.QTemplate,
			Name:      q.Name,
			Variation: q.Variation,
			Version:   q.Version,
			Score:     q.Score,
			FirstView: q.FirstView,
			MarkTime:  q.MarkTime,
			Guesses:   guesses,
		})
	}
	return out, nil
}
