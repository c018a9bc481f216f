// Package completion records the first moment each student's grading became
// complete.
package completion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/scorebook/internal/models"
)

// Tracker is implemented by the in-memory tracker and the SQL repository.
type Tracker interface {
	MarkOnce(ctx context.Context, studentID string) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]models.CompletionRecord, error)
}

// MemoryTracker keeps completion records in memory; they travel with the
// document snapshot.
type MemoryTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]models.CompletionRecord
}

// NewMemoryTracker returns an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[string]models.CompletionRecord),
	}
}

// MarkOnce stores a record for studentID unless one exists. It reports whether
// a record was inserted.
func (t *MemoryTracker) MarkOnce(_ context.Context, studentID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[studentID]; ok {
		return false, nil
	}
	t.records[studentID] = models.CompletionRecord{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		FinishedAt: t.now(),
	}
	return true, nil
}

// ListRecent returns up to limit records, newest first. A non-positive limit
// returns all of them.
func (t *MemoryTracker) ListRecent(_ context.Context, limit int) ([]models.CompletionRecord, error) {
	out := t.Records()
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Records returns every record ordered by student id.
func (t *MemoryTracker) Records() []models.CompletionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.CompletionRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Seed replaces the tracker contents, keeping the earliest record per student.
func (t *MemoryTracker) Seed(records []models.CompletionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]models.CompletionRecord, len(records))
	for _, r := range records {
		if existing, ok := t.records[r.StudentID]; ok && !r.FinishedAt.Before(existing.FinishedAt) {
			continue
		}
		t.records[r.StudentID] = r
	}
}

// Count returns the number of students with a record.
func (t *MemoryTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
