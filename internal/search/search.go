// Package search looks students up by id or name and tracks the selection
// cursor of an interactive result list.
package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/scorebook/internal/models"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

// DefaultLimit caps a result list when the caller passes no limit.
const DefaultLimit = 30

// Search returns students whose id contains the query ignoring case, or whose
// name contains it ignoring ASCII case only. Results are ordered by id and
// truncated to limit.
func Search(students []models.Student, filter models.StudentFilter) []models.Student {
	query := strings.TrimSpace(filter.Query)
	if query == "" {
		return []models.Student{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	lowered := asciiLower(query)
	out := make([]models.Student, 0)
	for _, st := range students {
		if strings.Contains(asciiLower(st.ID), lowered) || strings.Contains(asciiLower(st.Name), lowered) {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// asciiLower folds A-Z only, matching SQLite LIKE; other letters keep their
// case.
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// Session holds the result list and cursor of one search box. Results from
// an older query are discarded once a newer query has begun.
type Session struct {
	mu       sync.Mutex
	seq      uint64
	results  []models.Student
	selected int
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Begin starts a new query and returns its sequence number.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Deliver installs results for the query numbered seq. It reports false and
// changes nothing when a newer query has started since.
func (s *Session) Deliver(seq uint64, results []models.Student) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return false
	}
	s.results = append([]models.Student(nil), results...)
	s.selected = 0
	return true
}

// Run searches synchronously and installs the results.
func (s *Session) Run(students []models.Student, filter models.StudentFilter) []models.Student {
	seq := s.Begin()
	results := Search(students, filter)
	s.Deliver(seq, results)
	return results
}

// Results returns the current result list.
func (s *Session) Results() []models.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Student(nil), s.results...)
}

// Selected returns the cursor position.
func (s *Session) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Up moves the cursor one row towards the top.
func (s *Session) Up() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected > 0 {
		s.selected--
	}
	return s.selected
}

// Down moves the cursor one row towards the bottom.
func (s *Session) Down() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected < len(s.results)-1 {
		s.selected++
	}
	return s.selected
}

// Confirm resolves the selected row to a student id. exists is consulted
// because the student may have been deleted after the search ran.
func (s *Session) Confirm(exists func(id string) bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return "", appErrors.Clone(appErrors.ErrLookup, "no student selected")
	}
	id := s.results[s.selected].ID
	if exists != nil && !exists(id) {
		return "", appErrors.Clone(appErrors.ErrLookup, "student "+id+" no longer exists")
	}
	return id, nil
}
