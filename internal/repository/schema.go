package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS questions (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  full_score INTEGER NOT NULL CHECK (full_score >= 0),
  weight REAL NOT NULL CHECK (weight >= 0),
  comment TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS scores (
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  score INTEGER,
  updated_at TIMESTAMP NOT NULL,
  PRIMARY KEY (student_id, question_id)
)`,
	`CREATE TABLE IF NOT EXISTS grading_sessions (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL UNIQUE,
  finished_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_grading_sessions_finished_at ON grading_sessions (finished_at)`,
	`CREATE TABLE IF NOT EXISTS rating_buckets (
  position INTEGER PRIMARY KEY,
  label TEXT NOT NULL,
  min_score INTEGER NOT NULL
)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS questions (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  full_score INTEGER NOT NULL CHECK (full_score >= 0),
  weight DOUBLE PRECISION NOT NULL CHECK (weight >= 0),
  comment TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS scores (
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  score INTEGER,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (student_id, question_id)
)`,
	`CREATE TABLE IF NOT EXISTS grading_sessions (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL UNIQUE,
  finished_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_grading_sessions_finished_at ON grading_sessions (finished_at)`,
	`CREATE TABLE IF NOT EXISTS rating_buckets (
  position INTEGER PRIMARY KEY,
  label TEXT NOT NULL,
  min_score INTEGER NOT NULL
)`,
}

// Migrate creates the gradebook tables when missing. Postgres drivers get the
// Postgres dialect, everything else the SQLite one.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements := sqliteSchema
	switch db.DriverName() {
	case "postgres", "pgx":
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
