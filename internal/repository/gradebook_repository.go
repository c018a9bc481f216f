package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scorebook/internal/models"
)

// ErrNotFound is returned when a delete or update touches no row.
var ErrNotFound = errors.New("record not found")

const (
	upsertStudentQuery = `INSERT INTO students (id, name) VALUES (?, ?)
        ON CONFLICT (id) DO UPDATE SET name = excluded.name`
	upsertQuestionQuery = `INSERT INTO questions (id, name, full_score, weight, comment) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET name = excluded.name, full_score = excluded.full_score, weight = excluded.weight, comment = excluded.comment`
	clearOutOfRangeQuery = `UPDATE scores SET score = NULL, updated_at = ?
        WHERE question_id = ? AND score IS NOT NULL AND (score < 0 OR score > ?)`
	fillMatrixQuery = `INSERT INTO scores (student_id, question_id, updated_at)
        SELECT s.id, q.id, CURRENT_TIMESTAMP FROM students s CROSS JOIN questions q WHERE true
        ON CONFLICT (student_id, question_id) DO NOTHING`
	upsertScoreQuery = `INSERT INTO scores (student_id, question_id, score, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (student_id, question_id) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`
)

// GradebookRepository persists students, questions, the score matrix and
// rating buckets.
type GradebookRepository struct {
	db *sqlx.DB
}

// NewGradebookRepository creates a new gradebook repository.
func NewGradebookRepository(db *sqlx.DB) *GradebookRepository {
	return &GradebookRepository{db: db}
}

// Migrate creates the schema if needed.
func (r *GradebookRepository) Migrate(ctx context.Context) error {
	return Migrate(ctx, r.db)
}

// ListStudents returns every student ordered by id.
func (r *GradebookRepository) ListStudents(ctx context.Context) ([]models.Student, error) {
	students := []models.Student{}
	if err := r.db.SelectContext(ctx, &students, `SELECT id, name FROM students ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// ListQuestions returns every question ordered by id.
func (r *GradebookRepository) ListQuestions(ctx context.Context) ([]models.Question, error) {
	questions := []models.Question{}
	if err := r.db.SelectContext(ctx, &questions, `SELECT id, name, full_score, weight, comment FROM questions ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

// ListScores returns every score cell ordered by student then question.
func (r *GradebookRepository) ListScores(ctx context.Context) ([]models.ScoreCell, error) {
	cells := []models.ScoreCell{}
	if err := r.db.SelectContext(ctx, &cells, `SELECT student_id, question_id, score, updated_at FROM scores ORDER BY student_id, question_id`); err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	return cells, nil
}

// ListRatings returns the rating buckets in stored order.
func (r *GradebookRepository) ListRatings(ctx context.Context) ([]models.RatingBucket, error) {
	buckets := []models.RatingBucket{}
	if err := r.db.SelectContext(ctx, &buckets, `SELECT label, min_score FROM rating_buckets ORDER BY position`); err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	return buckets, nil
}

// UpsertStudents writes the rows and fills the matrix in one transaction.
func (r *GradebookRepository) UpsertStudents(ctx context.Context, rows []models.Student) error {
	return r.withTx(ctx, "upsert students", func(tx *sqlx.Tx) error {
		if err := upsertStudents(ctx, tx, rows); err != nil {
			return err
		}
		return fillMatrix(ctx, tx)
	})
}

// UpsertQuestions writes the rows, clears scores beyond a lowered full score
// and fills the matrix in one transaction.
func (r *GradebookRepository) UpsertQuestions(ctx context.Context, rows []models.Question) error {
	return r.withTx(ctx, "upsert questions", func(tx *sqlx.Tx) error {
		if err := upsertQuestions(ctx, tx, rows); err != nil {
			return err
		}
		return fillMatrix(ctx, tx)
	})
}

// FillMatrix inserts an ungraded cell for every missing student/question pair.
func (r *GradebookRepository) FillMatrix(ctx context.Context) error {
	return r.withTx(ctx, "fill matrix", func(tx *sqlx.Tx) error {
		return fillMatrix(ctx, tx)
	})
}

// DeleteStudent removes a student; the schema cascades to its scores.
func (r *GradebookRepository) DeleteStudent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM students WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return expectAffected(res, "delete student")
}

// DeleteQuestion removes a question; the schema cascades to its scores.
func (r *GradebookRepository) DeleteQuestion(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM questions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	return expectAffected(res, "delete question")
}

// SetScore upserts one cell by its composite key.
func (r *GradebookRepository) SetScore(ctx context.Context, cell models.ScoreCell) error {
	if cell.UpdatedAt.IsZero() {
		cell.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(upsertScoreQuery), cell.StudentID, cell.QuestionID, cell.Score, cell.UpdatedAt); err != nil {
		return fmt.Errorf("set score: %w", err)
	}
	return nil
}

// ReplaceRatings stores the bucket list in order.
func (r *GradebookRepository) ReplaceRatings(ctx context.Context, buckets []models.RatingBucket) error {
	return r.withTx(ctx, "replace ratings", func(tx *sqlx.Tx) error {
		return replaceRatings(ctx, tx, buckets)
	})
}

// Load reads the whole gradebook. The snapshot carries no save path.
func (r *GradebookRepository) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	var err error
	if snap.Students, err = r.ListStudents(ctx); err != nil {
		return nil, err
	}
	if snap.Questions, err = r.ListQuestions(ctx); err != nil {
		return nil, err
	}
	if snap.Scores, err = r.ListScores(ctx); err != nil {
		return nil, err
	}
	if snap.Ratings, err = r.ListRatings(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save makes the database mirror snap in one transaction: rows are upserted,
// the matrix is filled and rows absent from snap are pruned.
func (r *GradebookRepository) Save(ctx context.Context, snap *models.Snapshot) error {
	return r.withTx(ctx, "save gradebook", func(tx *sqlx.Tx) error {
		if err := pruneStudents(ctx, tx, snap.Students); err != nil {
			return err
		}
		if err := pruneQuestions(ctx, tx, snap.Questions); err != nil {
			return err
		}
		if err := upsertStudents(ctx, tx, snap.Students); err != nil {
			return err
		}
		if err := upsertQuestions(ctx, tx, snap.Questions); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, c := range snap.Scores {
			updated := c.UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(upsertScoreQuery), c.StudentID, c.QuestionID, c.Score, updated); err != nil {
				return fmt.Errorf("save score %s/%d: %w", c.StudentID, c.QuestionID, err)
			}
		}
		if err := fillMatrix(ctx, tx); err != nil {
			return err
		}
		return replaceRatings(ctx, tx, snap.Ratings)
	})
}

func (r *GradebookRepository) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func upsertStudents(ctx context.Context, tx *sqlx.Tx, rows []models.Student) error {
	query := tx.Rebind(upsertStudentQuery)
	for _, st := range rows {
		if _, err := tx.ExecContext(ctx, query, st.ID, st.Name); err != nil {
			return fmt.Errorf("upsert student %s: %w", st.ID, err)
		}
	}
	return nil
}

func upsertQuestions(ctx context.Context, tx *sqlx.Tx, rows []models.Question) error {
	query := tx.Rebind(upsertQuestionQuery)
	clearQuery := tx.Rebind(clearOutOfRangeQuery)
	now := time.Now().UTC()
	for _, q := range rows {
		if _, err := tx.ExecContext(ctx, query, q.ID, q.Name, q.FullScore, q.Weight, q.Comment); err != nil {
			return fmt.Errorf("upsert question %d: %w", q.ID, err)
		}
		if _, err := tx.ExecContext(ctx, clearQuery, now, q.ID, q.FullScore); err != nil {
			return fmt.Errorf("clear scores of question %d: %w", q.ID, err)
		}
	}
	return nil
}

func fillMatrix(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, fillMatrixQuery); err != nil {
		return fmt.Errorf("fill matrix: %w", err)
	}
	return nil
}

func replaceRatings(ctx context.Context, tx *sqlx.Tx, buckets []models.RatingBucket) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM rating_buckets`); err != nil {
		return fmt.Errorf("clear ratings: %w", err)
	}
	query := tx.Rebind(`INSERT INTO rating_buckets (position, label, min_score) VALUES (?, ?, ?)`)
	for i, b := range buckets {
		if _, err := tx.ExecContext(ctx, query, i, b.Label, b.MinScore); err != nil {
			return fmt.Errorf("insert rating %q: %w", b.Label, err)
		}
	}
	return nil
}

func pruneStudents(ctx context.Context, tx *sqlx.Tx, keep []models.Student) error {
	var existing []string
	if err := tx.SelectContext(ctx, &existing, `SELECT id FROM students`); err != nil {
		return fmt.Errorf("list student ids: %w", err)
	}
	wanted := make(map[string]struct{}, len(keep))
	for _, st := range keep {
		wanted[st.ID] = struct{}{}
	}
	query := tx.Rebind(`DELETE FROM students WHERE id = ?`)
	for _, id := range existing {
		if _, ok := wanted[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("prune student %s: %w", id, err)
		}
	}
	return nil
}

func pruneQuestions(ctx context.Context, tx *sqlx.Tx, keep []models.Question) error {
	var existing []int
	if err := tx.SelectContext(ctx, &existing, `SELECT id FROM questions`); err != nil {
		return fmt.Errorf("list question ids: %w", err)
	}
	wanted := make(map[int]struct{}, len(keep))
	for _, q := range keep {
		wanted[q.ID] = struct{}{}
	}
	query := tx.Rebind(`DELETE FROM questions WHERE id = ?`)
	for _, id := range existing {
		if _, ok := wanted[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("prune question %d: %w", id, err)
		}
	}
	return nil
}

func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
