// Package store holds the canonical in-memory gradebook: students, questions,
// the score matrix and rating buckets. It is the single writer for that state;
// every mutation restores matrix completeness before returning, so gaps left by
// a loaded snapshot are filled by the first edit after the load.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/scorebook/internal/models"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

// Store is safe for concurrent use; writes are serialised by an RWMutex.
type Store struct {
	mu        sync.RWMutex
	validator *validator.Validate

	savePath  *string
	students  []models.Student
	questions []models.Question
	cells     []models.ScoreCell
	cellIndex map[models.CellKey]int
	ratings   []models.RatingBucket
}

// New returns an empty store.
func New(validate *validator.Validate) *Store {
	if validate == nil {
		validate = validator.New()
	}
	return &Store{validator: validate, cellIndex: make(map[models.CellKey]int)}
}

// SavePath returns the last-used snapshot path, if any.
func (s *Store) SavePath() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyString(s.savePath)
}

// SetSavePath records the last-used snapshot path. Nil clears it.
func (s *Store) SetSavePath(path *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savePath = copyString(path)
}

// Students returns the students in insertion order.
func (s *Store) Students() []models.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Student(nil), s.students...)
}

// Questions returns the questions in insertion order.
func (s *Store) Questions() []models.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Question(nil), s.questions...)
}

// Ratings returns the rating buckets, highest threshold first.
func (s *Store) Ratings() []models.RatingBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RatingBucket(nil), s.ratings...)
}

// Cells returns a copy of every score cell.
func (s *Store) Cells() []models.ScoreCell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCells(s.cells)
}

// Student looks up a student by id.
func (s *Store) Student(id string) (models.Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.studentIndex(id)
	if i < 0 {
		return models.Student{}, false
	}
	return s.students[i], true
}

// Question looks up a question by id.
func (s *Store) Question(id int) (models.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.questionIndex(id)
	if i < 0 {
		return models.Question{}, false
	}
	return s.questions[i], true
}

// ScoresFor returns the recorded scores of one student keyed by question id.
// Ungraded or missing cells map to nil.
func (s *Store) ScoresFor(studentID string) map[int]*int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]*int, len(s.questions))
	for _, q := range s.questions {
		if i, ok := s.cellIndex[models.CellKey{StudentID: studentID, QuestionID: q.ID}]; ok {
			out[q.ID] = copyInt(s.cells[i].Score)
		} else {
			out[q.ID] = nil
		}
	}
	return out
}

// MaintainCompleteness inserts an ungraded cell for every student/question pair
// lacking one and returns how many were added.
func (s *Store) MaintainCompleteness() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintainLocked()
}

func (s *Store) maintainLocked() int {
	added := 0
	for _, st := range s.students {
		for _, q := range s.questions {
			key := models.CellKey{StudentID: st.ID, QuestionID: q.ID}
			if _, ok := s.cellIndex[key]; ok {
				continue
			}
			s.cellIndex[key] = len(s.cells)
			s.cells = append(s.cells, models.ScoreCell{StudentID: st.ID, QuestionID: q.ID})
			added++
		}
	}
	return added
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() *models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.Snapshot{
		SavePath:  copyString(s.savePath),
		Questions: append([]models.Question{}, s.questions...),
		Students:  append([]models.Student{}, s.students...),
		Scores:    copyCells(s.cells),
		Ratings:   append([]models.RatingBucket{}, s.ratings...),
	}
}

// Replace swaps the whole store for the snapshot contents. Completeness is not
// restored here; the next mutation of any kind does that. Duplicate cell keys
// keep their first occurrence and out-of-range scores are cleared.
func (s *Store) Replace(snap *models.Snapshot) {
	if snap == nil {
		snap = &models.Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.savePath = copyString(snap.SavePath)
	s.students = append([]models.Student{}, snap.Students...)
	s.questions = append([]models.Question{}, snap.Questions...)
	s.ratings = append([]models.RatingBucket{}, snap.Ratings...)
	sortRatings(s.ratings)

	s.cells = make([]models.ScoreCell, 0, len(snap.Scores))
	s.cellIndex = make(map[models.CellKey]int, len(snap.Scores))
	for _, c := range snap.Scores {
		if _, dup := s.cellIndex[c.Key()]; dup {
			continue
		}
		c.Score = copyInt(c.Score)
		if qi := s.questionIndex(c.QuestionID); qi >= 0 && c.Score != nil && !inRange(*c.Score, s.questions[qi].FullScore) {
			c.Score = nil
		}
		s.cellIndex[c.Key()] = len(s.cells)
		s.cells = append(s.cells, c)
	}
}

func (s *Store) studentIndex(id string) int {
	for i := range s.students {
		if s.students[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) questionIndex(id int) int {
	for i := range s.questions {
		if s.questions[i].ID == id {
			return i
		}
	}
	return -1
}

// removeCells drops every cell matching pred and rebuilds the index.
func (s *Store) removeCells(pred func(models.ScoreCell) bool) {
	kept := s.cells[:0]
	for _, c := range s.cells {
		if !pred(c) {
			kept = append(kept, c)
		}
	}
	s.cells = kept
	s.cellIndex = make(map[models.CellKey]int, len(kept))
	for i, c := range kept {
		s.cellIndex[c.Key()] = i
	}
}

func notFound(format string, args ...interface{}) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf(format, args...))
}

func inRange(score, full int) bool {
	return score >= 0 && score <= full
}

func sortRatings(r []models.RatingBucket) {
	sort.SliceStable(r, func(i, j int) bool { return r[i].MinScore > r[j].MinScore })
}

func copyCells(in []models.ScoreCell) []models.ScoreCell {
	out := make([]models.ScoreCell, len(in))
	for i, c := range in {
		c.Score = copyInt(c.Score)
		out[i] = c
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
