package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scorebook/internal/models"
)

// CompletionRepository records grading completion in grading_sessions.
type CompletionRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewCompletionRepository creates a new completion repository.
func NewCompletionRepository(db *sqlx.DB) *CompletionRepository {
	return &CompletionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// MarkOnce inserts a completion for studentID unless one exists. The UNIQUE
// constraint on student_id makes the check and insert a single atomic step.
func (r *CompletionRepository) MarkOnce(ctx context.Context, studentID string) (bool, error) {
	const query = `INSERT INTO grading_sessions (id, student_id, finished_at) VALUES (?, ?, ?)
        ON CONFLICT (student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), uuid.NewString(), studentID, r.now())
	if err != nil {
		return false, fmt.Errorf("mark completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark completion: %w", err)
	}
	return n == 1, nil
}

// ListRecent returns up to limit completions, newest first. A non-positive
// limit returns all of them.
func (r *CompletionRepository) ListRecent(ctx context.Context, limit int) ([]models.CompletionRecord, error) {
	query := `SELECT id, student_id, finished_at FROM grading_sessions ORDER BY finished_at DESC, student_id`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	records := []models.CompletionRecord{}
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return records, nil
}

// Count returns the number of students with a completion record.
func (r *CompletionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM grading_sessions`); err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return n, nil
}
