package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/openassess/openassess/internal/model"
)

// CreateExam inserts a new exam.
func (s *Store) CreateExam(e model.Exam) (int64, error) {
	if e.MarkStatus == 0 {
		e.MarkStatus = 1
	}
	res, err := s.db.Exec(
		`INSERT INTO exams (course, owner, title, start, end, duration, markstatus, archived)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Course, e.Owner, e.Title, e.Start, e.End, e.Duration, e.MarkStatus, e.Archived,
	)
	if err != nil {
		return 0, fmt.Errorf("create exam: %w", err)
	}
	return res.LastInsertId()
}

// Exam returns the exam row, or sql.ErrNoRows.
func (s *Store) Exam(id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT exam, course, owner, title, start, end, duration, markstatus, archived
		 FROM exams WHERE exam = ?`, id,
	).Scan(&e.ID, &e.Course, &e.Owner, &e.Title, &e.Start, &e.End,
		&e.Duration, &e.MarkStatus, &e.Archived)
	return e, err
}

// SetPositionTemplates replaces the template alternatives at one exam
// position. An empty list removes the position.
func (s *Store) SetPositionTemplates(examID int64, position int, qtIDs []int64) error {
	if _, err := s.db.Exec(
		`DELETE FROM examqtemplates WHERE exam = ? AND position = ?`, examID, position); err != nil {
		return err
	}
	for _, qtID := range qtIDs {
		if qtID <= 0 {
			continue
		}
		if _, err := s.db.Exec(
			`INSERT INTO examqtemplates (exam, position, qtemplate) VALUES (?, ?, ?)`,
			examID, position, qtID); err != nil {
			return err
		}
	}
	return nil
}

// PositionTemplates returns the template alternatives configured at the
// given position (empty when none are configured).
func (s *Store) PositionTemplates(examID int64, position int) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT qtemplate FROM examqtemplates WHERE exam = ? AND position = ?`,
		examID, position,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// NumPositions returns the number of distinct question positions in the exam.
func (s *Store) NumPositions(examID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(DISTINCT position) FROM examqtemplates WHERE exam = ?`, examID,
	).Scan(&n)
	return n, err
}

// ExamTemplates returns the template ids used by the exam, ordered by
// position.
func (s *Store) ExamTemplates(examID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT qtemplate FROM examqtemplates WHERE exam = ? ORDER BY position`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AssignExamQuestion records which question instance the student holds at a
// position. The UNIQUE(exam, student, position) constraint is the authority
// under concurrent generation: the first insert wins and later ones are
// ignored.
func (s *Store) AssignExamQuestion(examID, student int64, position int, questionID int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO examquestions (exam, student, position, question)
		 VALUES (?, ?, ?, ?)`,
		examID, student, position, questionID,
	)
	if err != nil {
		return err
	}
	return s.TouchUserExam(examID, student)
}

// ExamQuestionID returns the question instance assigned to the student at a
// position, or 0 when none is assigned yet.
func (s *Store) ExamQuestionID(examID, student int64, position int) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT question FROM examquestions WHERE exam = ? AND student = ? AND position = ?`,
		examID, student, position,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// CreateUserExam makes the per-student attempt record if it doesn't exist.
func (s *Store) CreateUserExam(examID, student int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO userexams (exam, student, status, score) VALUES (?, ?, 1, -1)`,
		examID, student,
	)
	return err
}

// UserExamStatus returns the student's attempt status, ExamNoRecord when no
// attempt row exists.
func (s *Store) UserExamStatus(examID, student int64) (model.ExamStatus, error) {
	var status int
	err := s.db.QueryRow(
		`SELECT status FROM userexams WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return model.ExamNoRecord, nil
	}
	if err != nil {
		return model.ExamNoRecord, err
	}
	return model.ExamStatus(status), nil
}

// SetUserExamStatus sets the attempt status, creating the record if needed.
func (s *Store) SetUserExamStatus(examID, student int64, status model.ExamStatus) error {
	prev, err := s.UserExamStatus(examID, student)
	if err != nil {
		return err
	}
	if prev <= 0 {
		if err := s.CreateUserExam(examID, student); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(
		`UPDATE userexams SET status = ? WHERE exam = ? AND student = ?`,
		int(status), examID, student); err != nil {
		return err
	}
	return s.TouchUserExam(examID, student)
}

// SetUserExamScore stores the attempt's total score.
func (s *Store) SetUserExamScore(examID, student int64, score float64) error {
	_, err := s.db.Exec(
		`UPDATE userexams SET score = ? WHERE exam = ? AND student = ?`,
		score, examID, student,
	)
	return err
}

// UserExam returns the full attempt record.
func (s *Store) UserExam(examID, student int64) (model.UserExam, error) {
	ue := model.UserExam{Exam: examID, Student: student}
	var status int
	var submit, change sql.NullTime
	err := s.db.QueryRow(
		`SELECT status, score, submittime, lastchange FROM userexams
		 WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&status, &ue.Score, &submit, &change)
	if err != nil {
		return ue, err
	}
	ue.Status = model.ExamStatus(status)
	if submit.Valid {
		ue.SubmitTime = &submit.Time
	}
	if change.Valid {
		ue.LastChange = &change.Time
	}
	return ue, nil
}

// SetSubmitTime stamps the attempt's submit time if not already set.
func (s *Store) SetSubmitTime(examID, student int64) error {
	if _, err := s.db.Exec(
		`UPDATE userexams SET submittime = ? WHERE exam = ? AND student = ? AND submittime IS NULL`,
		time.Now(), examID, student); err != nil {
		return err
	}
	return s.TouchUserExam(examID, student)
}

// SubmitTime returns the attempt's submit time, nil if not submitted.
func (s *Store) SubmitTime(examID, student int64) (*time.Time, error) {
	var submit sql.NullTime
	err := s.db.QueryRow(
		`SELECT submittime FROM userexams WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&submit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !submit.Valid {
		return nil, nil
	}
	return &submit.Time, nil
}

// ClearSubmitTime resets the submit time so the student can resit.
func (s *Store) ClearSubmitTime(examID, student int64) error {
	if _, err := s.db.Exec(
		`UPDATE userexams SET submittime = NULL WHERE exam = ? AND student = ?`,
		examID, student); err != nil {
		return err
	}
	return s.TouchUserExam(examID, student)
}

// EndTime returns the student's personal countdown deadline for the exam,
// lazily creating it as now + duration on first access so a reload can't
// restart the clock.
func (s *Store) EndTime(examID, student int64) (time.Time, error) {
	var end time.Time
	err := s.db.QueryRow(
		`SELECT endtime FROM examtimers WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&end)
	if err == nil {
		return end, nil
	}
	if err != sql.ErrNoRows {
		return time.Time{}, err
	}
	var duration int
	if err := s.db.QueryRow(
		`SELECT duration FROM exams WHERE exam = ?`, examID).Scan(&duration); err != nil {
		return time.Time{}, err
	}
	end = time.Now().Add(time.Duration(duration) * time.Minute)
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO examtimers (exam, student, endtime) VALUES (?, ?, ?)`,
		examID, student, end); err != nil {
		return time.Time{}, err
	}
	// Under a concurrent first access the insert may have been ignored;
	// re-read so both callers see the same deadline.
	err = s.db.QueryRow(
		`SELECT endtime FROM examtimers WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&end)
	return end, err
}

// ClearEndTime removes the student's countdown timer for a resit.
func (s *Store) ClearEndTime(examID, student int64) error {
	if _, err := s.db.Exec(
		`DELETE FROM examtimers WHERE exam = ? AND student = ?`, examID, student); err != nil {
		return err
	}
	return s.TouchUserExam(examID, student)
}

// TouchUserExam updates the attempt's lastchange marker so other places can
// tell something changed.
func (s *Store) TouchUserExam(examID, student int64) error {
	_, err := s.db.Exec(
		`UPDATE userexams SET lastchange = ? WHERE exam = ? AND student = ?`,
		time.Now(), examID, student,
	)
	return err
}

// SaveExamScore records the attempt's total in the mark log and on the
// attempt row.
func (s *Store) SaveExamScore(examID, student int64, total float64) error {
	if _, err := s.db.Exec(
		`INSERT INTO marklog (eventtime, exam, student, marker, operation, value)
		 VALUES (?, ?, ?, 1, 'Submitted', ?)`,
		time.Now(), examID, student, strconv.FormatFloat(total, 'f', -1, 64)); err != nil {
		return err
	}
	if err := s.SetUserExamScore(examID, student, total); err != nil {
		return err
	}
	return s.TouchUserExam(examID, student)
}

// ClearMarkLog removes the student's mark log entries for a resit.
func (s *Store) ClearMarkLog(examID, student int64) error {
	if _, err := s.db.Exec(
		`DELETE FROM marklog WHERE exam = ? AND student = ?`, examID, student); err != nil {
		return err
	}
	return s.TouchUserExam(examID, student)
}

// IsDoneBy reports whether the student has submitted the exam (a mark log
// entry exists).
func (s *Store) IsDoneBy(examID, student int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(id) FROM marklog WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&n)
	return n > 0, err
}

// ExamStartTime returns the earliest firstview among the student's
// questions in the exam, nil if nothing has been viewed.
func (s *Store) ExamStartTime(examID, student int64) (*time.Time, error) {
	var first sql.NullTime
	err := s.db.QueryRow(
		`SELECT MIN(firstview) FROM questions WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&first)
	if err != nil || !first.Valid {
		return nil, err
	}
	return &first.Time, nil
}

// ExamMarkTime returns the latest marktime among the student's questions in
// the exam, nil if nothing has been marked.
func (s *Store) ExamMarkTime(examID, student int64) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRow(
		`SELECT MAX(marktime) FROM questions WHERE exam = ? AND student = ?`,
		examID, student,
	).Scan(&last)
	if err != nil || !last.Valid {
		return nil, err
	}
	return &last.Time, nil
}
