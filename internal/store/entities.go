package store

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/scorebook/internal/models"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

// UpsertStudents validates every row before writing any of them. Existing ids
// get their name overwritten, new ids are appended. It returns the number of
// rows inserted or changed.
func (s *Store) UpsertStudents(rows []models.Student) (int, error) {
	normalized := make([]models.Student, len(rows))
	for i, row := range rows {
		row = normalizeStudent(row)
		if err := s.validateStudent(row); err != nil {
			return 0, err
		}
		normalized[i] = row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	affected := 0
	for _, row := range normalized {
		if i := s.studentIndex(row.ID); i >= 0 {
			if s.students[i] != row {
				s.students[i] = row
				affected++
			}
			continue
		}
		s.students = append(s.students, row)
		affected++
	}
	s.maintainLocked()
	return affected, nil
}

// UpsertQuestions is the question counterpart of UpsertStudents. Lowering a
// full score clears scores that no longer fit.
func (s *Store) UpsertQuestions(rows []models.Question) (int, error) {
	normalized := make([]models.Question, len(rows))
	for i, row := range rows {
		row = normalizeQuestion(row)
		if err := s.validateQuestion(row); err != nil {
			return 0, err
		}
		normalized[i] = row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	affected := 0
	for _, row := range normalized {
		if i := s.questionIndex(row.ID); i >= 0 {
			if s.questions[i] != row {
				s.questions[i] = row
				s.clearOutOfRangeLocked(row)
				affected++
			}
			continue
		}
		s.questions = append(s.questions, row)
		affected++
	}
	s.maintainLocked()
	return affected, nil
}

// AddStudent appends a student with the next synthetic id.
func (s *Store) AddStudent(name string) (models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := normalizeStudent(models.Student{ID: s.nextStudentIDLocked(), Name: name})
	if err := s.validateStudent(st); err != nil {
		return models.Student{}, err
	}
	s.students = append(s.students, st)
	s.maintainLocked()
	return st, nil
}

// AddQuestion appends q under the next synthetic id, ignoring q.ID.
func (s *Store) AddQuestion(q models.Question) (models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q.ID = s.nextQuestionIDLocked()
	q = normalizeQuestion(q)
	if err := s.validateQuestion(q); err != nil {
		return models.Question{}, err
	}
	s.questions = append(s.questions, q)
	s.maintainLocked()
	return q, nil
}

// UpdateStudent overwrites the name of an existing student.
func (s *Store) UpdateStudent(st models.Student) error {
	st = normalizeStudent(st)
	if err := s.validateStudent(st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.studentIndex(st.ID)
	if i < 0 {
		return notFound("student %s not found", st.ID)
	}
	s.students[i] = st
	s.maintainLocked()
	return nil
}

// UpdateQuestion overwrites every non-key field of an existing question.
func (s *Store) UpdateQuestion(q models.Question) error {
	q = normalizeQuestion(q)
	if err := s.validateQuestion(q); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.questionIndex(q.ID)
	if i < 0 {
		return notFound("question %d not found", q.ID)
	}
	s.questions[i] = q
	s.clearOutOfRangeLocked(q)
	s.maintainLocked()
	return nil
}

// ApplyQuestionField applies a raw text edit to one question field. Numeric
// fields that fail to parse, parse negative or parse infinite become zero.
func (s *Store) ApplyQuestionField(id int, field models.QuestionField, raw string) (models.Question, error) {
	q, ok := s.Question(id)
	if !ok {
		return models.Question{}, notFound("question %d not found", id)
	}
	switch field {
	case models.QuestionFieldName:
		q.Name = raw
	case models.QuestionFieldComment:
		q.Comment = raw
	case models.QuestionFieldFullScore:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			n = 0
		}
		q.FullScore = n
	case models.QuestionFieldWeight:
		w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || !(w >= 0) || math.IsInf(w, 1) {
			w = 0
		}
		q.Weight = w
	default:
		return models.Question{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown question field %q", field))
	}
	if err := s.UpdateQuestion(q); err != nil {
		return models.Question{}, err
	}
	return normalizeQuestion(q), nil
}

// DeleteStudent removes a student and every score cell referencing it.
func (s *Store) DeleteStudent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.studentIndex(id)
	if i < 0 {
		return notFound("student %s not found", id)
	}
	s.students = append(s.students[:i], s.students[i+1:]...)
	s.removeCells(func(c models.ScoreCell) bool { return c.StudentID == id })
	s.maintainLocked()
	return nil
}

// DeleteQuestion removes a question and every score cell referencing it.
func (s *Store) DeleteQuestion(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.questionIndex(id)
	if i < 0 {
		return notFound("question %d not found", id)
	}
	s.questions = append(s.questions[:i], s.questions[i+1:]...)
	s.removeCells(func(c models.ScoreCell) bool { return c.QuestionID == id })
	s.maintainLocked()
	return nil
}

func (s *Store) clearOutOfRangeLocked(q models.Question) {
	for i := range s.cells {
		c := &s.cells[i]
		if c.QuestionID == q.ID && c.Score != nil && !inRange(*c.Score, q.FullScore) {
			c.Score = nil
		}
	}
}

// nextQuestionIDLocked returns max(id)+1, or 1 for an empty store.
func (s *Store) nextQuestionIDLocked() int {
	next := 1
	for _, q := range s.questions {
		if q.ID >= next {
			next = q.ID + 1
		}
	}
	return next
}

// nextStudentIDLocked increments the numeric suffix of the last student's id,
// keeping its prefix and zero padding ("A009" -> "A010"). An empty store
// starts at "S1".
func (s *Store) nextStudentIDLocked() string {
	if len(s.students) == 0 {
		return s.firstFreeStudentID("S", 1, 1)
	}
	last := s.students[len(s.students)-1].ID
	prefixEnd := strings.IndexFunc(last, unicode.IsDigit)
	if prefixEnd < 0 {
		return s.firstFreeStudentID(last, 1, 1)
	}
	prefix, digits := last[:prefixEnd], last[prefixEnd:]
	n, err := strconv.Atoi(digits)
	if err != nil {
		// Suffix mixes digits and letters; restart the numbering.
		return s.firstFreeStudentID(prefix, 1, 1)
	}
	return s.firstFreeStudentID(prefix, n+1, len(digits))
}

func (s *Store) firstFreeStudentID(prefix string, n, width int) string {
	for {
		id := fmt.Sprintf("%s%0*d", prefix, width, n)
		if s.studentIndex(id) < 0 {
			return id
		}
		n++
	}
}

func normalizeStudent(st models.Student) models.Student {
	st.ID = strings.TrimSpace(st.ID)
	st.Name = strings.TrimSpace(st.Name)
	return st
}

func normalizeQuestion(q models.Question) models.Question {
	q.Name = strings.TrimSpace(q.Name)
	return q
}

func (s *Store) validateStudent(st models.Student) error {
	if err := s.validator.Struct(st); err != nil {
		return validationError("student", st.ID, err)
	}
	return nil
}

func (s *Store) validateQuestion(q models.Question) error {
	if err := s.validator.Struct(q); err != nil {
		return validationError("question", strconv.Itoa(q.ID), err)
	}
	if math.IsInf(q.Weight, 0) || math.IsNaN(q.Weight) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid question: id=%d: weight must be a finite number", q.ID))
	}
	return nil
}

func validationError(entity, id string, err error) error {
	reason := err.Error()
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fieldName(fe.Field())
		switch fe.Tag() {
		case "required":
			reason = field + " is required"
		case "gte":
			reason = fmt.Sprintf("%s must be >= %s", field, fe.Param())
		default:
			reason = fmt.Sprintf("%s failed %s", field, fe.Tag())
		}
	}
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid %s: id=%s: %s", entity, id, reason))
}

func fieldName(goName string) string {
	switch goName {
	case "FullScore":
		return "full_score"
	case "ID":
		return "id"
	default:
		return strings.ToLower(goName)
	}
}
