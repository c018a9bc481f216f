package models

import "time"

// ScoreCell is one student-question grading slot. A nil Score means ungraded.
type ScoreCell struct {
	StudentID  string    `db:"student_id" json:"student_id"`
	QuestionID int       `db:"question_id" json:"question_id"`
	Score      *int      `db:"score" json:"score"`
	UpdatedAt  time.Time `db:"updated_at" json:"-"`
}

// CellKey identifies a ScoreCell.
type CellKey struct {
	StudentID  string
	QuestionID int
}

// Key returns the composite key of the cell.
func (c ScoreCell) Key() CellKey {
	return CellKey{StudentID: c.StudentID, QuestionID: c.QuestionID}
}

// FinalScore is the weighted percentage for a student. Defined is false while
// grading is incomplete.
type FinalScore struct {
	StudentID string  `json:"student_id"`
	Value     float64 `json:"value"`
	Defined   bool    `json:"defined"`
}

// TableRow is the display projection of one student's grading state.
type TableRow struct {
	StudentID    string   `json:"student_id"`
	StudentName  string   `json:"student_name"`
	Scores       []string `json:"scores"`
	FinalDisplay string   `json:"final_display"`
}

// Progress counts students overall and those with a defined final score.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// CompletionRecord marks the first time a student's grading was finished.
type CompletionRecord struct {
	ID         string    `db:"id" json:"-"`
	StudentID  string    `db:"student_id" json:"student_id"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
