package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/scorebook/internal/models"
)

// SetScore records a score for one cell, creating the cell if needed. A score
// outside [0, full_score] is stored as ungraded. It returns what was stored.
func (s *Store) SetScore(studentID string, questionID int, score *int) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.studentIndex(studentID) < 0 {
		return nil, notFound("student %s not found", studentID)
	}
	qi := s.questionIndex(questionID)
	if qi < 0 {
		return nil, notFound("question %d not found", questionID)
	}

	stored := copyInt(score)
	if stored != nil && !inRange(*stored, s.questions[qi].FullScore) {
		stored = nil
	}

	key := models.CellKey{StudentID: studentID, QuestionID: questionID}
	now := time.Now().UTC()
	if i, ok := s.cellIndex[key]; ok {
		s.cells[i].Score = stored
		s.cells[i].UpdatedAt = now
	} else {
		s.cellIndex[key] = len(s.cells)
		s.cells = append(s.cells, models.ScoreCell{StudentID: studentID, QuestionID: questionID, Score: stored, UpdatedAt: now})
	}
	s.maintainLocked()
	return copyInt(stored), nil
}

// ClearScore marks a cell ungraded.
func (s *Store) ClearScore(studentID string, questionID int) error {
	_, err := s.SetScore(studentID, questionID, nil)
	return err
}

// ApplyScoreInput records raw text typed into a score field.
func (s *Store) ApplyScoreInput(studentID string, questionID int, raw string) (*int, error) {
	q, ok := s.Question(questionID)
	if !ok {
		return nil, notFound("question %d not found", questionID)
	}
	return s.SetScore(studentID, questionID, ParseScoreInput(raw, q.FullScore))
}

// ParseScoreInput converts raw score text into a score. Blank, non-numeric and
// out-of-range input all yield nil; nothing is clamped.
func ParseScoreInput(raw string, fullScore int) *int {
	t := strings.TrimSpace(raw)
	if t == "" {
		return nil
	}
	n, err := strconv.Atoi(t)
	if err != nil || !inRange(n, fullScore) {
		return nil
	}
	return &n
}
