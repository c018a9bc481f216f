package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scorebook/internal/models"
	"github.com/noah-isme/scorebook/internal/service"
	"github.com/noah-isme/scorebook/internal/snapshot"
	"github.com/noah-isme/scorebook/internal/store"
	"github.com/noah-isme/scorebook/pkg/config"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	svc := service.NewGradebookService(store.New(nil), snapshot.NewFileStore(nil, nil), nil, nil, nil, nil, nil, nil,
		service.GradebookConfig{Backend: config.BackendDocument}, nil)
	return &app{svc: svc, backend: config.BackendDocument, binWidth: 50, out: out}, out
}

func TestCommandsEditAndScore(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.run(ctx, []string{"add-student", "Alice"}))
	assert.Contains(t, out.String(), "added student S1 Alice")
	assert.Contains(t, out.String(), "changes not saved")

	require.NoError(t, a.run(ctx, []string{"add-question", "--name", "Q1", "--full", "10"}))
	out.Reset()
	require.NoError(t, a.run(ctx, []string{"score", "S1", "1", "7"}))
	assert.Contains(t, out.String(), "S1 q1 = 7, final 70.0")

	out.Reset()
	require.NoError(t, a.run(ctx, []string{"score", "S1", "1", "11"}))
	assert.Contains(t, out.String(), "S1 q1 = ungraded, final pending")

	out.Reset()
	require.NoError(t, a.run(ctx, []string{"histogram"}))
	assert.Contains(t, out.String(), "0-49")
}

func TestCommandsSearchAndSave(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.run(ctx, []string{"add-student", "Alice"}))
	require.NoError(t, a.run(ctx, []string{"add-student", "Bob"}))

	out.Reset()
	require.NoError(t, a.run(ctx, []string{"search", "bob"}))
	assert.Contains(t, out.String(), "selected S2")

	path := filepath.Join(t.TempDir(), "book.json")
	require.NoError(t, a.run(ctx, []string{"save-as", path}))
	require.NoError(t, a.run(ctx, []string{"add-student", "Carol"}))
	assert.NotContains(t, out.String(), "changes not saved")

	b, _ := newTestApp(t)
	require.NoError(t, b.run(ctx, []string{"open", path}))
	assert.Len(t, b.svc.Students(), 3)
}

func TestCommandsRejectBadInput(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	err := a.run(ctx, []string{"bogus"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 2, exitCode(err))

	err = a.run(ctx, []string{"delete-question", "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	err = a.run(ctx, []string{"delete-student", "S9"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, 3, exitCode(err))

	err = a.run(ctx, []string{"save"})
	assert.ErrorIs(t, err, appErrors.ErrNoSavePath)
}

type flakyDatabase struct {
	snap      *models.Snapshot
	saves     int
	failScore error
	failSave  error
}

func (f *flakyDatabase) Load(context.Context) (*models.Snapshot, error) { return f.snap, nil }

func (f *flakyDatabase) Save(_ context.Context, snap *models.Snapshot) error {
	if f.failSave != nil {
		return f.failSave
	}
	f.saves++
	f.snap = snap
	return nil
}

func (f *flakyDatabase) UpsertStudents(context.Context, []models.Student) error   { return nil }
func (f *flakyDatabase) UpsertQuestions(context.Context, []models.Question) error { return nil }
func (f *flakyDatabase) DeleteStudent(context.Context, string) error              { return nil }
func (f *flakyDatabase) DeleteQuestion(context.Context, int) error                { return nil }
func (f *flakyDatabase) ReplaceRatings(context.Context, []models.RatingBucket) error {
	return nil
}

func (f *flakyDatabase) SetScore(context.Context, models.ScoreCell) error { return f.failScore }

func newRelationalApp(t *testing.T, db *flakyDatabase) (*app, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	svc := service.NewGradebookService(store.New(nil), nil, db, nil, nil, nil, nil, nil,
		service.GradebookConfig{Backend: config.BackendRelational}, nil)
	a := &app{svc: svc, backend: config.BackendRelational, binWidth: 5, out: out}
	require.NoError(t, a.run(context.Background(), []string{"add-student", "Alice"}))
	require.NoError(t, a.run(context.Background(), []string{"add-question", "--name", "Q1", "--full", "10"}))
	return a, out
}

func TestRelationalCommandsSkipFullSaveWhenInSync(t *testing.T) {
	db := &flakyDatabase{}
	a, _ := newRelationalApp(t, db)

	require.NoError(t, a.run(context.Background(), []string{"score", "S1", "1", "7"}))
	assert.Equal(t, 0, db.saves)
}

func TestFailedWriteThroughFallsBackToFullSave(t *testing.T) {
	db := &flakyDatabase{failScore: errors.New("database is locked")}
	a, out := newRelationalApp(t, db)

	require.NoError(t, a.run(context.Background(), []string{"score", "S1", "1", "7"}))
	assert.Contains(t, out.String(), "saved in full instead")
	assert.Equal(t, 1, db.saves)
	require.Len(t, db.snap.Scores, 1)
	assert.Equal(t, models.IntPtr(7), db.snap.Scores[0].Score)
	assert.False(t, a.svc.Unsynced())

	db.failSave = errors.New("database is locked")
	err := a.run(context.Background(), []string{"score", "S1", "1", "8"})
	assert.ErrorIs(t, err, appErrors.ErrIO)
	assert.True(t, a.svc.Unsynced())
}
