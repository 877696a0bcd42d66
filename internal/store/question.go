package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/openassess/openassess/internal/model"
)

// CreateQuestion inserts a question instance bound to one variation and the
// template version current at creation time.
func (s *Store) CreateQuestion(q model.Question) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO questions (qtemplate, name, student, status, variation, version, exam)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.QTemplate, q.Name, q.Student, q.Status, q.Variation, q.Version, q.Exam,
	)
	if err != nil {
		return 0, fmt.Errorf("create question: %w", err)
	}
	return res.LastInsertId()
}

// Question returns the instance row, or sql.ErrNoRows.
func (s *Store) Question(id int64) (model.Question, error) {
	var q model.Question
	var firstview, marktime sql.NullTime
	err := s.db.QueryRow(
		`SELECT question, qtemplate, name, student, status, score, firstview, marktime, variation, version, exam
		 FROM questions WHERE question = ?`, id,
	).Scan(&q.ID, &q.QTemplate, &q.Name, &q.Student, &q.Status, &q.Score,
		&firstview, &marktime, &q.Variation, &q.Version, &q.Exam)
	if err != nil {
		return q, err
	}
	if firstview.Valid {
		q.FirstView = &firstview.Time
	}
	if marktime.Valid {
		q.MarkTime = &marktime.Time
	}
	return q, nil
}

// SetFirstView stamps the time the question was first seen. First call
// wins; later calls leave the original stamp alone.
func (s *Store) SetFirstView(id int64) error {
	_, err := s.db.Exec(
		`UPDATE questions SET firstview = ? WHERE question = ? AND firstview IS NULL`,
		time.Now(), id,
	)
	return err
}

// SetMarkTime stamps when the question was marked, first call wins.
func (s *Store) SetMarkTime(id int64) error {
	_, err := s.db.Exec(
		`UPDATE questions SET marktime = ? WHERE question = ? AND marktime IS NULL`,
		time.Now(), id,
	)
	return err
}

// SetQuestionStatus updates the instance status.
func (s *Store) SetQuestionStatus(id int64, status int) error {
	_, err := s.db.Exec(`UPDATE questions SET status = ? WHERE question = ?`, status, id)
	return err
}

// UpdateQuestionScore stores the marked score for the instance.
func (s *Store) UpdateQuestionScore(id int64, score float64) error {
	_, err := s.db.Exec(`UPDATE questions SET score = ? WHERE question = ?`, score, id)
	return err
}

// UnfinishedPractice returns the id of an existing unanswered practice
// instance of the template for the student, or 0 if there is none.
func (s *Store) UnfinishedPractice(student, qtID int64) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT question FROM questions
		 WHERE student = ? AND qtemplate = ? AND status = ? AND exam = 0
		 ORDER BY question DESC LIMIT 1`,
		student, qtID, model.QStatusUnseen,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// PracticeCount returns how many times the student has submitted the
// template for practice (assessed instances excluded).
func (s *Store) PracticeCount(student, qtID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(question) FROM questions
		 WHERE qtemplate = ? AND student = ? AND status > 1 AND exam < 1`,
		qtID, student,
	).Scan(&count)
	return count, err
}

// PracticeStats summarizes a student's practice scores for one template.
type PracticeStats struct {
	Num int
	Max float64
	Min float64
	Avg float64
}

// PracticeScoreStats returns score statistics for the student's practice
// instances of the template, or nil if they have none.
func (s *Store) PracticeScoreStats(student, qtID int64) (*PracticeStats, error) {
	var num sql.NullInt64
	var max, min, avg sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT COUNT(question), MAX(score), MIN(score), AVG(score)
		 FROM questions WHERE qtemplate = ? AND student = ? AND exam < 1 AND status > 1`,
		qtID, student,
	).Scan(&num, &max, &min, &avg)
	if err != nil {
		return nil, err
	}
	if !num.Valid || num.Int64 == 0 {
		return nil, nil
	}
	return &PracticeStats{
		Num: int(num.Int64),
		Max: max.Float64,
		Min: min.Float64,
		Avg: avg.Float64,
	}, nil
}
