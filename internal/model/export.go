package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID       int64           `json:"exam_id"`
	Title        string          `json:"title"`
	GeneratedAt  time.Time       `json:"generated_at"`
	NumPositions int             `json:"num_positions"`
	Templates    []int64         `json:"templates"`
	Results      []AttemptResult `json:"results"`
}

// AttemptResult holds one student's attempt for export.
type AttemptResult struct {
	Student    int64            `json:"student"`
	Status     ExamStatus       `json:"status"`
	Score      float64          `json:"score"`
	SubmitTime *time.Time       `json:"submit_time,omitempty"`
	Questions  []QuestionExport `json:"questions"`
}

// QuestionExport holds per-question data for export.
type QuestionExport struct {
	Position  int            `json:"position"`
	Question  int64          `json:"question"`
	QTemplate int64          `json:"qtemplate"`
	Name      string         `json:"name"`
	Variation int            `json:"variation"`
	Version   int            `json:"version"`
	Score     float64        `json:"score"`
	FirstView *time.Time     `json:"first_view,omitempty"`
	MarkTime  *time.Time     `json:"mark_time,omitempty"`
	Guesses   map[int]string `json:"guesses"`
}
