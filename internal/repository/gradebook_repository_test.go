package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scorebook/internal/models"
	"github.com/noah-isme/scorebook/pkg/config"
	"github.com/noah-isme/scorebook/pkg/database"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver:       database.DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "gradebook.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func seed(t *testing.T, repo *GradebookRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertQuestions(ctx, []models.Question{
		{ID: 1, Name: "Q1", FullScore: 10, Weight: 1},
		{ID: 2, Name: "Q2", FullScore: 20, Weight: 1, Comment: "proof"},
	}))
	require.NoError(t, repo.UpsertStudents(ctx, []models.Student{
		{ID: "A001", Name: "Yamada"},
		{ID: "B002", Name: "Suzuki"},
	}))
}

func TestUpsertStudentsRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradebookRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO students").WithArgs("A001", "Yamada").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").WithArgs("B002", "Suzuki").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := repo.UpsertStudents(context.Background(), []models.Student{{ID: "A001", Name: "Yamada"}, {ID: "B002", Name: "Suzuki"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B002")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertQuestionsFillsMatrixInTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradebookRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO questions .* ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(3, "Q3", 5, 0.5, "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE scores SET score = NULL").
		WithArgs(sqlmock.AnyArg(), 3, 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO scores .* CROSS JOIN questions q .* DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertQuestions(context.Background(), []models.Question{{ID: 3, Name: "Q3", FullScore: 5, Weight: 0.5}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetScoreUpsertsByCompositeKey(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradebookRepository(db)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO scores .* ON CONFLICT \\(student_id, question_id\\) DO UPDATE SET score = excluded.score").
		WithArgs("A001", 1, 7, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	score := 7
	require.NoError(t, repo.SetScore(context.Background(), models.ScoreCell{StudentID: "A001", QuestionID: 1, Score: &score, UpdatedAt: at}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradebookRepository(db)

	mock.ExpectExec("DELETE FROM students WHERE id = \\?").WithArgs("Z9").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.DeleteStudent(context.Background(), "Z9"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMatrixAndCascade(t *testing.T) {
	repo := NewGradebookRepository(openSQLite(t))
	ctx := context.Background()
	seed(t, repo)

	cells, err := repo.ListScores(ctx)
	require.NoError(t, err)
	require.Len(t, cells, 4)
	for _, c := range cells {
		assert.Nil(t, c.Score)
		assert.False(t, c.UpdatedAt.IsZero())
	}

	require.NoError(t, repo.DeleteStudent(ctx, "A001"))
	require.NoError(t, repo.DeleteQuestion(ctx, 2))
	cells, err = repo.ListScores(ctx)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "B002", cells[0].StudentID)
	assert.Equal(t, 1, cells[0].QuestionID)
}

func TestSQLiteScoresClearedWhenFullScoreShrinks(t *testing.T) {
	repo := NewGradebookRepository(openSQLite(t))
	ctx := context.Background()
	seed(t, repo)

	require.NoError(t, repo.SetScore(ctx, models.ScoreCell{StudentID: "A001", QuestionID: 2, Score: models.IntPtr(18)}))
	require.NoError(t, repo.SetScore(ctx, models.ScoreCell{StudentID: "B002", QuestionID: 2, Score: models.IntPtr(4)}))
	require.NoError(t, repo.UpsertQuestions(ctx, []models.Question{{ID: 2, Name: "Q2", FullScore: 10, Weight: 1}}))

	cells, err := repo.ListScores(ctx)
	require.NoError(t, err)
	byKey := map[models.CellKey]*int{}
	for _, c := range cells {
		byKey[c.Key()] = c.Score
	}
	assert.Nil(t, byKey[models.CellKey{StudentID: "A001", QuestionID: 2}])
	assert.Equal(t, models.IntPtr(4), byKey[models.CellKey{StudentID: "B002", QuestionID: 2}])
}

func TestSQLiteForeignKeysEnforced(t *testing.T) {
	repo := NewGradebookRepository(openSQLite(t))
	err := repo.SetScore(context.Background(), models.ScoreCell{StudentID: "ghost", QuestionID: 1, Score: models.IntPtr(1)})
	assert.Error(t, err)
}

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	repo := NewGradebookRepository(openSQLite(t))
	ctx := context.Background()
	seed(t, repo)

	snap := &models.Snapshot{
		Questions: []models.Question{{ID: 1, Name: "Q1", FullScore: 10, Weight: 1, Comment: "short"}},
		Students:  []models.Student{{ID: "B002", Name: "Suzuki"}, {ID: "C003", Name: "Tanaka"}},
		Scores: []models.ScoreCell{
			{StudentID: "B002", QuestionID: 1, Score: models.IntPtr(9)},
		},
		Ratings: []models.RatingBucket{{Label: "A", MinScore: 80}, {Label: "B", MinScore: 60}},
	}
	require.NoError(t, repo.Save(ctx, snap))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Questions, loaded.Questions)
	assert.Equal(t, snap.Students, loaded.Students)
	assert.Equal(t, snap.Ratings, loaded.Ratings)
	require.Len(t, loaded.Scores, 2)
	assert.Equal(t, "B002", loaded.Scores[0].StudentID)
	assert.Equal(t, models.IntPtr(9), loaded.Scores[0].Score)
	assert.Equal(t, "C003", loaded.Scores[1].StudentID)
	assert.Nil(t, loaded.Scores[1].Score)
	assert.Nil(t, loaded.SavePath)
}
