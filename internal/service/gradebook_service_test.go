package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scorebook/internal/completion"
	"github.com/noah-isme/scorebook/internal/models"
	"github.com/noah-isme/scorebook/internal/snapshot"
	"github.com/noah-isme/scorebook/internal/store"
	"github.com/noah-isme/scorebook/pkg/config"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
	"github.com/noah-isme/scorebook/pkg/jobs"
	"github.com/noah-isme/scorebook/pkg/storage"
)

type fakeRelational struct {
	snap      *models.Snapshot
	students  []models.Student
	questions []models.Question
	scores    []models.ScoreCell
	ratings   []models.RatingBucket
	deleted   []string
	saves     int
	failScore error
	failSave  error
}

func (f *fakeRelational) Load(ctx context.Context) (*models.Snapshot, error) {
	if f.snap == nil {
		return nil, errors.New("database is locked")
	}
	return f.snap, nil
}

func (f *fakeRelational) Save(ctx context.Context, snap *models.Snapshot) error {
	if f.failSave != nil {
		return f.failSave
	}
	f.saves++
	f.snap = snap
	return nil
}

func (f *fakeRelational) UpsertStudents(ctx context.Context, rows []models.Student) error {
	f.students = append(f.students, rows...)
	return nil
}

func (f *fakeRelational) UpsertQuestions(ctx context.Context, rows []models.Question) error {
	f.questions = append(f.questions, rows...)
	return nil
}

func (f *fakeRelational) DeleteStudent(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRelational) DeleteQuestion(ctx context.Context, id int) error {
	return nil
}

func (f *fakeRelational) SetScore(ctx context.Context, cell models.ScoreCell) error {
	if f.failScore != nil {
		return f.failScore
	}
	f.scores = append(f.scores, cell)
	return nil
}

func (f *fakeRelational) ReplaceRatings(ctx context.Context, buckets []models.RatingBucket) error {
	f.ratings = buckets
	return nil
}

type harness struct {
	svc     *GradebookService
	tracker *completion.MemoryTracker
	metrics *MetricsService
	dir     string
}

func newDocumentHarness(t *testing.T) harness {
	t.Helper()
	dir := t.TempDir()
	files := storage.NewLocalStorage(dir)
	queue := jobs.NewQueue("test", jobs.QueueConfig{
		RetryDelay: time.Millisecond,
		RetryIf:    func(err error) bool { return appErrors.FromError(err).Retryable },
	})
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	st := store.New(nil)
	tracker := completion.NewMemoryTracker()
	metrics := NewMetricsService()
	exp := NewExportService(st, files, 1, nil, nil, nil)
	svc := NewGradebookService(st, snapshot.NewFileStore(files, nil), nil, tracker, queue, exp, nil, metrics, GradebookConfig{DisplayPrecision: 1}, nil)
	return harness{svc: svc, tracker: tracker, metrics: metrics, dir: dir}
}

func seedScenario(t *testing.T, svc *GradebookService) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.UpsertQuestions(ctx, []models.Question{
		{ID: 1, Name: "Q1", FullScore: 10, Weight: 1},
		{ID: 2, Name: "Q2", FullScore: 20, Weight: 1},
	})
	require.NoError(t, err)
	_, err = svc.UpsertStudents(ctx, []models.Student{
		{ID: "A001", Name: "Yamada"},
		{ID: "B002", Name: "A001 Suzuki"},
	})
	require.NoError(t, err)
	_, err = svc.SetRatings(ctx, []models.RatingBucket{{Label: "C", MinScore: 0}, {Label: "A", MinScore: 80}, {Label: "B", MinScore: 60}})
	require.NoError(t, err)
}

func pick(path string) Picker {
	return func() (string, bool) { return path, true }
}

func cancelled() (string, bool) { return "", false }

func TestGradingCompletesStudentOnce(t *testing.T) {
	h := newDocumentHarness(t)
	ctx := context.Background()
	seedScenario(t, h.svc)

	_, err := h.svc.SetScore(ctx, "A001", 1, models.IntPtr(5))
	require.NoError(t, err)
	assert.Equal(t, 0, h.tracker.Count())

	_, err = h.svc.ApplyScoreInput(ctx, "A001", 2, "10")
	require.NoError(t, err)
	_, err = h.svc.ApplyScoreInput(ctx, "A001", 2, "20")
	require.NoError(t, err)
	assert.Equal(t, 1, h.tracker.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.completionsTotal))

	final, err := h.svc.FinalScore("A001")
	require.NoError(t, err)
	assert.True(t, final.Defined)
	assert.Equal(t, 75.0, final.Value)

	assert.Equal(t, models.Progress{Total: 2, Completed: 1}, h.svc.Progress())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.completedGauge))

	stats := h.svc.RatingStats()
	require.Len(t, stats, 3)
	assert.Equal(t, "A", stats[0].Label)
	assert.Equal(t, 1, stats[1].Count)

	bins, err := h.svc.Histogram(0)
	require.NoError(t, err)
	assert.Len(t, bins, 21)
	assert.Equal(t, 1, bins[15])

	recent, err := h.svc.RecentCompletions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "A001", recent[0].StudentID)
}

func TestOutOfRangeInputIsUngraded(t *testing.T) {
	h := newDocumentHarness(t)
	seedScenario(t, h.svc)

	stored, err := h.svc.ApplyScoreInput(context.Background(), "A001", 1, "11")
	require.NoError(t, err)
	assert.Nil(t, stored)

	rows := h.svc.TableRows()
	assert.Equal(t, []string{"", ""}, rows[0].Scores)
	assert.Empty(t, rows[0].FinalDisplay)
}

func TestSaveNeedsPath(t *testing.T) {
	h := newDocumentHarness(t)
	err := h.svc.Save(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrNoSavePath)
}

func TestSaveAsCancelIsNoop(t *testing.T) {
	h := newDocumentHarness(t)
	path, err := h.svc.SaveAs(context.Background(), cancelled)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Nil(t, h.svc.Store().SavePath())
}

func TestSaveAsThenOpenRoundTrip(t *testing.T) {
	h := newDocumentHarness(t)
	ctx := context.Background()
	seedScenario(t, h.svc)
	_, err := h.svc.SetScore(ctx, "A001", 1, models.IntPtr(8))
	require.NoError(t, err)
	_, err = h.svc.SetScore(ctx, "A001", 2, models.IntPtr(10))
	require.NoError(t, err)

	written, err := h.svc.SaveAs(ctx, pick("books/term1.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, "books", "term1.json"), written)
	require.NoError(t, h.svc.Save(ctx))

	other := newDocumentHarness(t)
	path, err := other.svc.Open(ctx, pick(written))
	require.NoError(t, err)
	assert.Equal(t, written, path)

	assert.Equal(t, h.svc.Students(), other.svc.Students())
	assert.Equal(t, h.svc.Questions(), other.svc.Questions())
	assert.Equal(t, h.svc.Ratings(), other.svc.Ratings())
	assert.Equal(t, h.svc.TableRows(), other.svc.TableRows())
	assert.Equal(t, 1, other.tracker.Count())
	require.NotNil(t, other.svc.Store().SavePath())
	assert.Equal(t, written, *other.svc.Store().SavePath())
}

func TestFailedLoadKeepsState(t *testing.T) {
	h := newDocumentHarness(t)
	ctx := context.Background()
	seedScenario(t, h.svc)

	bad := filepath.Join(h.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{\"students\": [}"), 0o644))

	err := h.svc.Load(ctx, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrParse)
	diag, ok := snapshot.DiagnosticOf(err)
	require.True(t, ok)
	assert.Equal(t, snapshot.CategorySyntax, diag.Category)

	assert.Len(t, h.svc.Students(), 2)
	assert.Len(t, h.svc.Questions(), 2)

	_, err = h.svc.Open(ctx, cancelled)
	require.NoError(t, err)
	assert.Len(t, h.svc.Students(), 2)
}

func TestImportFromCSV(t *testing.T) {
	h := newDocumentHarness(t)
	ctx := context.Background()

	questions := filepath.Join(h.dir, "questions.csv")
	students := filepath.Join(h.dir, "students.csv")
	require.NoError(t, os.WriteFile(questions, []byte("id,name,full_score,weight\n1,Q1,10,1\n2,Q2,20,1\n"), 0o644))
	require.NoError(t, os.WriteFile(students, []byte("id,name\nA001,Yamada\nB002,Suzuki\n"), 0o644))

	n, err := h.svc.ImportQuestions(ctx, questions)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = h.svc.ImportStudents(ctx, students)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, h.svc.Store().Cells(), 4)

	require.NoError(t, os.WriteFile(students, []byte("id,name\nC003,Tanaka\nD004,\n"), 0o644))
	_, err = h.svc.ImportStudents(ctx, students)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Len(t, h.svc.Students(), 2)

	_, err = h.svc.ImportStudents(ctx, filepath.Join(h.dir, "missing.csv"))
	assert.ErrorIs(t, err, appErrors.ErrIO)
}

func TestSearchAndConfirm(t *testing.T) {
	h := newDocumentHarness(t)
	seedScenario(t, h.svc)

	results := h.svc.Search("a00")
	require.Len(t, results, 2)
	assert.Equal(t, "A001", results[0].ID)
	assert.Equal(t, "B002", results[1].ID)

	h.svc.SearchSession().Down()
	id, err := h.svc.ConfirmSelection()
	require.NoError(t, err)
	assert.Equal(t, "B002", id)

	require.NoError(t, h.svc.DeleteStudent(context.Background(), "B002"))
	_, err = h.svc.ConfirmSelection()
	assert.ErrorIs(t, err, appErrors.ErrLookup)
}

func TestExportThroughQueue(t *testing.T) {
	h := newDocumentHarness(t)
	seedScenario(t, h.svc)

	result, err := h.svc.Export(context.Background(), models.ExportFormatCSV, "table.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "id,name,Q1 (/10),Q2 (/20),final,rating\n")
	assert.Greater(t, testutil.CollectAndCount(h.metrics.persistTotal), 0)
}

func TestRelationalWriteThrough(t *testing.T) {
	db := &fakeRelational{}
	st := store.New(nil)
	svc := NewGradebookService(st, nil, db, completion.NewMemoryTracker(), nil, nil, nil, nil, GradebookConfig{Backend: config.BackendRelational}, nil)
	ctx := context.Background()
	seedScenario(t, svc)

	_, err := svc.SetScore(ctx, "A001", 1, models.IntPtr(8))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteStudent(ctx, "B002"))

	assert.Len(t, db.students, 2)
	assert.Len(t, db.questions, 2)
	require.Len(t, db.scores, 1)
	assert.Equal(t, models.IntPtr(8), db.scores[0].Score)
	assert.Equal(t, []string{"B002"}, db.deleted)
	assert.Equal(t, "A", db.ratings[0].Label)

	require.NoError(t, svc.Save(ctx))
	assert.Equal(t, 1, db.saves)

	_, err = svc.SaveAs(ctx, pick("x.json"))
	assert.ErrorIs(t, err, appErrors.ErrUnsupported)

	db.failScore = errors.New("disk I/O error")
	_, err = svc.SetScore(ctx, "A001", 2, models.IntPtr(1))
	assert.ErrorIs(t, err, appErrors.ErrIO)
	assert.True(t, svc.Unsynced())

	require.NoError(t, svc.Save(ctx))
	assert.False(t, svc.Unsynced())
	assert.Equal(t, 2, db.saves)
	for _, c := range db.snap.Scores {
		if c.StudentID == "A001" && c.QuestionID == 2 {
			assert.Equal(t, models.IntPtr(1), c.Score)
		}
	}
}

func TestRelationalSaveFailureIsRetryableIO(t *testing.T) {
	db := &fakeRelational{failSave: fmt.Errorf("save gradebook: begin: %w", sql.ErrConnDone)}
	svc := NewGradebookService(store.New(nil), nil, db, nil, nil, nil, nil, nil, GradebookConfig{Backend: config.BackendRelational}, nil)
	seedScenario(t, svc)

	err := svc.Save(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrIO)
	assert.True(t, appErrors.FromError(err).Retryable)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestInfiniteWeightLeavesGradebookSavable(t *testing.T) {
	h := newDocumentHarness(t)
	ctx := context.Background()

	q, err := h.svc.AddQuestion(ctx, models.Question{Name: "Q1", FullScore: 10, Weight: 1})
	require.NoError(t, err)
	st, err := h.svc.AddStudent(ctx, "Alice")
	require.NoError(t, err)

	q, err = h.svc.ApplyQuestionField(ctx, q.ID, models.QuestionFieldWeight, "inf")
	require.NoError(t, err)
	assert.Equal(t, 0.0, q.Weight)

	_, err = h.svc.SetScore(ctx, st.ID, q.ID, models.IntPtr(0))
	require.NoError(t, err)
	final, err := h.svc.FinalScore(st.ID)
	require.NoError(t, err)
	assert.False(t, final.Defined)
	assert.Equal(t, 0, h.tracker.Count())

	_, err = h.svc.SaveAs(ctx, pick(filepath.Join(h.dir, "book.json")))
	require.NoError(t, err)
}

func TestRelationalLoadFailureKeepsState(t *testing.T) {
	db := &fakeRelational{}
	svc := NewGradebookService(store.New(nil), nil, db, nil, nil, nil, nil, nil, GradebookConfig{Backend: config.BackendRelational}, nil)
	seedScenario(t, svc)

	err := svc.Load(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrIO)
	assert.Len(t, svc.Students(), 2)

	db.snap = &models.Snapshot{Students: []models.Student{{ID: "Z1", Name: "Only"}}}
	require.NoError(t, svc.Load(context.Background(), ""))
	assert.Equal(t, []models.Student{{ID: "Z1", Name: "Only"}}, svc.Students())
}
