package service

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/scorebook/internal/completion"
	"github.com/noah-isme/scorebook/internal/grading"
	"github.com/noah-isme/scorebook/internal/importer"
	"github.com/noah-isme/scorebook/internal/models"
	"github.com/noah-isme/scorebook/internal/rating"
	"github.com/noah-isme/scorebook/internal/search"
	"github.com/noah-isme/scorebook/internal/store"
	"github.com/noah-isme/scorebook/pkg/config"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
	"github.com/noah-isme/scorebook/pkg/jobs"
)

type documentGateway interface {
	Save(ctx context.Context, path string, snap *models.Snapshot) (string, error)
	Load(ctx context.Context, path string) (*models.Snapshot, error)
}

type relationalGateway interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, snap *models.Snapshot) error
	UpsertStudents(ctx context.Context, rows []models.Student) error
	UpsertQuestions(ctx context.Context, rows []models.Question) error
	DeleteStudent(ctx context.Context, id string) error
	DeleteQuestion(ctx context.Context, id int) error
	SetScore(ctx context.Context, cell models.ScoreCell) error
	ReplaceRatings(ctx context.Context, buckets []models.RatingBucket) error
}

// completionSeeder is implemented by trackers whose records travel inside
// the document snapshot.
type completionSeeder interface {
	Records() []models.CompletionRecord
	Seed(records []models.CompletionRecord)
}

type exporter interface {
	Export(ctx context.Context, format models.ExportFormat, filename string) (*models.ExportResult, error)
}

// Picker asks the user for a file path. ok is false when the user cancelled.
type Picker func() (path string, ok bool)

// GradebookConfig tunes the gradebook service.
type GradebookConfig struct {
	Backend           string
	SearchLimit       int
	HistogramBinWidth int
	DisplayPrecision  int
}

// GradebookService is the command/query surface over the in-memory store.
// Save, load, import and export run on the job queue one at a time. With the
// relational backend every accepted edit is also written through.
type GradebookService struct {
	store    *store.Store
	docs     documentGateway
	db       relationalGateway
	tracker  completion.Tracker
	queue    *jobs.Queue
	exporter exporter
	reader   *importer.Reader
	session  *search.Session
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      GradebookConfig

	// unsynced is set when a write-through fails and cleared by the next
	// successful full save or load.
	unsynced atomic.Bool
}

// NewGradebookService wires the service. docs is required for the document
// backend and db for the relational one; the other may be nil.
func NewGradebookService(st *store.Store, docs documentGateway, db relationalGateway, tracker completion.Tracker, queue *jobs.Queue, exp exporter, reader *importer.Reader, metrics *MetricsService, cfg GradebookConfig, logger *zap.Logger) *GradebookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = completion.NewMemoryTracker()
	}
	if reader == nil {
		reader = importer.NewReader(nil)
	}
	if cfg.Backend == "" {
		cfg.Backend = config.BackendDocument
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = search.DefaultLimit
	}
	if cfg.HistogramBinWidth <= 0 {
		cfg.HistogramBinWidth = rating.DefaultBinWidth
	}
	if cfg.DisplayPrecision < 0 {
		cfg.DisplayPrecision = grading.DefaultPrecision
	}
	return &GradebookService{
		store:    st,
		docs:     docs,
		db:       db,
		tracker:  tracker,
		queue:    queue,
		exporter: exp,
		reader:   reader,
		session:  search.NewSession(),
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Store exposes the underlying store for read-only projections.
func (s *GradebookService) Store() *store.Store {
	return s.store
}

// Unsynced reports whether an edit failed to reach the relational store since
// the last successful Save or Load. The in-memory state is then ahead of the
// database and a full Save reconciles it.
func (s *GradebookService) Unsynced() bool {
	return s.unsynced.Load()
}

func (s *GradebookService) relational() bool {
	return s.cfg.Backend == config.BackendRelational && s.db != nil
}

// Students lists students in store order.
func (s *GradebookService) Students() []models.Student {
	return s.store.Students()
}

// Questions lists questions in store order.
func (s *GradebookService) Questions() []models.Question {
	return s.store.Questions()
}

// Ratings lists rating buckets, highest threshold first.
func (s *GradebookService) Ratings() []models.RatingBucket {
	return s.store.Ratings()
}

// Snapshot returns a deep copy of the current state.
func (s *GradebookService) Snapshot() *models.Snapshot {
	return s.store.Snapshot()
}

// UpsertStudents validates and writes a batch of students.
func (s *GradebookService) UpsertStudents(ctx context.Context, rows []models.Student) (int, error) {
	n, err := s.store.UpsertStudents(rows)
	if err != nil {
		return 0, err
	}
	if s.relational() {
		if err := s.db.UpsertStudents(ctx, s.storedStudents(rows)); err != nil {
			return n, s.writeThroughError("upsert students", err)
		}
	}
	s.metrics.RecordEdit("student")
	s.afterStructuralChange(ctx)
	return n, nil
}

// UpsertQuestions validates and writes a batch of questions.
func (s *GradebookService) UpsertQuestions(ctx context.Context, rows []models.Question) (int, error) {
	n, err := s.store.UpsertQuestions(rows)
	if err != nil {
		return 0, err
	}
	if s.relational() {
		if err := s.db.UpsertQuestions(ctx, s.storedQuestions(rows)); err != nil {
			return n, s.writeThroughError("upsert questions", err)
		}
	}
	s.metrics.RecordEdit("question")
	s.afterStructuralChange(ctx)
	return n, nil
}

// AddStudent appends a student under the next id.
func (s *GradebookService) AddStudent(ctx context.Context, name string) (models.Student, error) {
	st, err := s.store.AddStudent(name)
	if err != nil {
		return models.Student{}, err
	}
	if s.relational() {
		if err := s.db.UpsertStudents(ctx, []models.Student{st}); err != nil {
			return st, s.writeThroughError("add student", err)
		}
	}
	s.metrics.RecordEdit("student")
	s.afterStructuralChange(ctx)
	return st, nil
}

// AddQuestion appends a question under the next id.
func (s *GradebookService) AddQuestion(ctx context.Context, q models.Question) (models.Question, error) {
	q, err := s.store.AddQuestion(q)
	if err != nil {
		return models.Question{}, err
	}
	if s.relational() {
		if err := s.db.UpsertQuestions(ctx, []models.Question{q}); err != nil {
			return q, s.writeThroughError("add question", err)
		}
	}
	s.metrics.RecordEdit("question")
	s.afterStructuralChange(ctx)
	return q, nil
}

// UpdateStudent renames an existing student.
func (s *GradebookService) UpdateStudent(ctx context.Context, st models.Student) error {
	if err := s.store.UpdateStudent(st); err != nil {
		return err
	}
	if s.relational() {
		updated, _ := s.store.Student(strings.TrimSpace(st.ID))
		if err := s.db.UpsertStudents(ctx, []models.Student{updated}); err != nil {
			return s.writeThroughError("update student", err)
		}
	}
	s.metrics.RecordEdit("student")
	return nil
}

// UpdateQuestion overwrites an existing question.
func (s *GradebookService) UpdateQuestion(ctx context.Context, q models.Question) error {
	if err := s.store.UpdateQuestion(q); err != nil {
		return err
	}
	return s.afterQuestionEdit(ctx, q.ID)
}

// ApplyQuestionField applies a raw text edit to one question field.
func (s *GradebookService) ApplyQuestionField(ctx context.Context, id int, field models.QuestionField, raw string) (models.Question, error) {
	q, err := s.store.ApplyQuestionField(id, field, raw)
	if err != nil {
		return models.Question{}, err
	}
	return q, s.afterQuestionEdit(ctx, id)
}

// DeleteStudent removes a student and its scores.
func (s *GradebookService) DeleteStudent(ctx context.Context, id string) error {
	if err := s.store.DeleteStudent(id); err != nil {
		return err
	}
	if s.relational() {
		if err := s.db.DeleteStudent(ctx, id); err != nil {
			return s.writeThroughError("delete student", err)
		}
	}
	s.metrics.RecordEdit("student")
	s.refreshProgress()
	return nil
}

// DeleteQuestion removes a question and its scores.
func (s *GradebookService) DeleteQuestion(ctx context.Context, id int) error {
	if err := s.store.DeleteQuestion(id); err != nil {
		return err
	}
	if s.relational() {
		if err := s.db.DeleteQuestion(ctx, id); err != nil {
			return s.writeThroughError("delete question", err)
		}
	}
	s.metrics.RecordEdit("question")
	// Removing a question can complete students that were waiting on it.
	s.markCompletedStudents(ctx)
	s.refreshProgress()
	return nil
}

// SetScore records a score; out-of-range values are stored as ungraded.
func (s *GradebookService) SetScore(ctx context.Context, studentID string, questionID int, score *int) (*int, error) {
	stored, err := s.store.SetScore(studentID, questionID, score)
	if err != nil {
		return nil, err
	}
	return stored, s.afterScoreEdit(ctx, studentID, questionID, stored)
}

// ApplyScoreInput records raw text typed into a score field.
func (s *GradebookService) ApplyScoreInput(ctx context.Context, studentID string, questionID int, raw string) (*int, error) {
	stored, err := s.store.ApplyScoreInput(studentID, questionID, raw)
	if err != nil {
		return nil, err
	}
	return stored, s.afterScoreEdit(ctx, studentID, questionID, stored)
}

// AddRating appends a rating bucket.
func (s *GradebookService) AddRating(ctx context.Context, label string, minScore int) ([]models.RatingBucket, error) {
	return s.afterRatingEdit(ctx, s.store.AddRating(label, minScore))
}

// UpdateRating edits the bucket at index.
func (s *GradebookService) UpdateRating(ctx context.Context, index int, label string, minScore int) ([]models.RatingBucket, error) {
	buckets, err := s.store.UpdateRating(index, label, minScore)
	if err != nil {
		return nil, err
	}
	return s.afterRatingEdit(ctx, buckets)
}

// RemoveRating deletes the bucket at index.
func (s *GradebookService) RemoveRating(ctx context.Context, index int) ([]models.RatingBucket, error) {
	buckets, err := s.store.RemoveRating(index)
	if err != nil {
		return nil, err
	}
	return s.afterRatingEdit(ctx, buckets)
}

// SetRatings replaces the bucket set.
func (s *GradebookService) SetRatings(ctx context.Context, buckets []models.RatingBucket) ([]models.RatingBucket, error) {
	return s.afterRatingEdit(ctx, s.store.SetRatings(buckets))
}

// FinalScore returns one student's final score.
func (s *GradebookService) FinalScore(studentID string) (models.FinalScore, error) {
	if _, ok := s.store.Student(studentID); !ok {
		return models.FinalScore{}, appErrors.Clone(appErrors.ErrNotFound, "student "+studentID+" not found")
	}
	v, ok := grading.ComputeFinal(s.store.Questions(), s.store.ScoresFor(studentID))
	return models.FinalScore{StudentID: studentID, Value: v, Defined: ok}, nil
}

// Finals returns every student's final score.
func (s *GradebookService) Finals() []models.FinalScore {
	return grading.Finals(s.store.Snapshot())
}

// TableRows returns the display rows with the configured precision.
func (s *GradebookService) TableRows() []models.TableRow {
	return grading.TableRows(s.store.Snapshot(), s.cfg.DisplayPrecision)
}

// Progress counts students and completed students.
func (s *GradebookService) Progress() models.Progress {
	return grading.Progress(s.store.Snapshot())
}

// RatingStats counts defined finals per rating bucket.
func (s *GradebookService) RatingStats() []models.RatingStat {
	return rating.Stats(s.Finals(), s.store.Ratings())
}

// Histogram bins the defined finals. A non-positive width uses the
// configured default.
func (s *GradebookService) Histogram(binWidth int) ([]int, error) {
	if binWidth <= 0 {
		binWidth = s.cfg.HistogramBinWidth
	}
	return rating.Histogram(grading.DefinedValues(s.Finals()), binWidth)
}

// RecentCompletions lists the latest completion records.
func (s *GradebookService) RecentCompletions(ctx context.Context, limit int) ([]models.CompletionRecord, error) {
	records, err := s.tracker.ListRecent(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrIO, "failed to list completions")
	}
	return records, nil
}

// Search runs a query and resets the selection cursor.
func (s *GradebookService) Search(query string) []models.Student {
	return s.session.Run(s.store.Students(), models.StudentFilter{Query: query, Limit: s.cfg.SearchLimit})
}

// SearchSession exposes the cursor of the search box.
func (s *GradebookService) SearchSession() *search.Session {
	return s.session
}

// ConfirmSelection resolves the selected search result to a student id.
func (s *GradebookService) ConfirmSelection() (string, error) {
	return s.session.Confirm(func(id string) bool {
		_, ok := s.store.Student(id)
		return ok
	})
}

// ImportStudents reads a students CSV file and upserts its rows.
func (s *GradebookService) ImportStudents(ctx context.Context, path string) (int, error) {
	var n int
	err := s.runJob(ctx, "import_students", func(ctx context.Context) error {
		rows, err := readImport(path, s.reader.Students)
		if err != nil {
			return err
		}
		n, err = s.UpsertStudents(ctx, rows)
		return err
	})
	if err == nil {
		s.logger.Info("students imported", zap.String("path", path), zap.Int("affected", n))
	}
	return n, err
}

// ImportQuestions reads a questions CSV file and upserts its rows.
func (s *GradebookService) ImportQuestions(ctx context.Context, path string) (int, error) {
	var n int
	err := s.runJob(ctx, "import_questions", func(ctx context.Context) error {
		rows, err := readImport(path, s.reader.Questions)
		if err != nil {
			return err
		}
		n, err = s.UpsertQuestions(ctx, rows)
		return err
	})
	if err == nil {
		s.logger.Info("questions imported", zap.String("path", path), zap.Int("affected", n))
	}
	return n, err
}

// Save persists the whole gradebook. The document backend writes to the
// remembered save path and fails with ErrNoSavePath when there is none.
func (s *GradebookService) Save(ctx context.Context) error {
	return s.runJob(ctx, "save", func(ctx context.Context) error {
		if s.relational() {
			if err := s.db.Save(ctx, s.store.Snapshot()); err != nil {
				return appErrors.Wrap(err, appErrors.ErrIO, "failed to save gradebook")
			}
			s.unsynced.Store(false)
			return nil
		}
		path := s.store.SavePath()
		if path == nil || *path == "" {
			return appErrors.ErrNoSavePath
		}
		_, err := s.saveDocument(ctx, *path)
		return err
	})
}

// SaveAs asks pick for a path and writes the snapshot there. A cancelled pick
// returns an empty path and no error.
func (s *GradebookService) SaveAs(ctx context.Context, pick Picker) (string, error) {
	if s.relational() {
		return "", appErrors.Clone(appErrors.ErrUnsupported, "save as is only available for document storage")
	}
	path, ok := pick()
	if !ok || path == "" {
		return "", nil
	}
	var written string
	err := s.runJob(ctx, "save_as", func(ctx context.Context) error {
		var err error
		written, err = s.saveDocument(ctx, path)
		return err
	})
	return written, err
}

// Open asks pick for a snapshot file and loads it. A cancelled pick is a
// no-op.
func (s *GradebookService) Open(ctx context.Context, pick Picker) (string, error) {
	if s.relational() {
		return "", appErrors.Clone(appErrors.ErrUnsupported, "open is only available for document storage")
	}
	path, ok := pick()
	if !ok || path == "" {
		return "", nil
	}
	return path, s.Load(ctx, path)
}

// Load replaces the in-memory state from storage. The path is ignored by the
// relational backend. On any failure the current state is kept.
func (s *GradebookService) Load(ctx context.Context, path string) error {
	return s.runJob(ctx, "load", func(ctx context.Context) error {
		snap, err := s.fetch(ctx, path)
		if err != nil {
			return err
		}
		s.store.Replace(snap)
		s.unsynced.Store(false)
		if seeder, ok := s.tracker.(completionSeeder); ok {
			seeder.Seed(snap.Completions)
		}
		s.refreshProgress()
		s.logger.Info("gradebook loaded",
			zap.String("backend", s.cfg.Backend),
			zap.Int("students", len(snap.Students)),
			zap.Int("questions", len(snap.Questions)),
		)
		return nil
	})
}

// Export renders the grade table through the configured exporter.
func (s *GradebookService) Export(ctx context.Context, format models.ExportFormat, filename string) (*models.ExportResult, error) {
	if s.exporter == nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupported, "export is not configured")
	}
	var result *models.ExportResult
	err := s.runJob(ctx, "export", func(ctx context.Context) error {
		var err error
		result, err = s.exporter.Export(ctx, format, filename)
		return err
	})
	return result, err
}

func (s *GradebookService) fetch(ctx context.Context, path string) (*models.Snapshot, error) {
	if s.relational() {
		snap, err := s.db.Load(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrIO, "failed to load gradebook")
		}
		return snap, nil
	}
	if path == "" {
		return nil, appErrors.ErrNoSavePath
	}
	snap, err := s.docs.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	snap.SavePath = &path
	return snap, nil
}

func (s *GradebookService) saveDocument(ctx context.Context, path string) (string, error) {
	snap := s.store.Snapshot()
	if seeder, ok := s.tracker.(completionSeeder); ok {
		snap.Completions = seeder.Records()
	}
	written, err := s.docs.Save(ctx, path, snap)
	if err != nil {
		return "", err
	}
	s.store.SetSavePath(&written)
	return written, nil
}

func readImport[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrIO, "failed to open import file")
	}
	defer f.Close()
	return parse(f)
}

func (s *GradebookService) runJob(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	var err error
	if s.queue == nil {
		err = fn(ctx)
	} else {
		err = s.queue.Do(ctx, name, fn)
	}
	s.metrics.ObservePersistence(name, s.cfg.Backend, err, time.Since(start))
	if err != nil {
		s.logger.Warn("gradebook job failed", zap.String("job", name), zap.Error(err))
	}
	return err
}

func (s *GradebookService) writeThroughError(op string, err error) error {
	s.unsynced.Store(true)
	s.logger.Warn("write-through failed", zap.String("op", op), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrIO, "failed to persist "+op)
}

func (s *GradebookService) afterStructuralChange(context.Context) {
	s.refreshProgress()
}

func (s *GradebookService) afterQuestionEdit(ctx context.Context, id int) error {
	if s.relational() {
		q, _ := s.store.Question(id)
		if err := s.db.UpsertQuestions(ctx, []models.Question{q}); err != nil {
			return s.writeThroughError("update question", err)
		}
	}
	s.metrics.RecordEdit("question")
	s.markCompletedStudents(ctx)
	s.refreshProgress()
	return nil
}

func (s *GradebookService) afterScoreEdit(ctx context.Context, studentID string, questionID int, stored *int) error {
	if s.relational() {
		cell := models.ScoreCell{StudentID: studentID, QuestionID: questionID, Score: stored, UpdatedAt: time.Now().UTC()}
		if err := s.db.SetScore(ctx, cell); err != nil {
			return s.writeThroughError("score", err)
		}
	}
	s.metrics.RecordEdit("score")
	var err error
	if grading.ComputeCompletion(s.store.Questions(), s.store.ScoresFor(studentID)) {
		err = s.markCompleted(ctx, studentID)
	}
	s.refreshProgress()
	return err
}

func (s *GradebookService) afterRatingEdit(ctx context.Context, buckets []models.RatingBucket) ([]models.RatingBucket, error) {
	if s.relational() {
		if err := s.db.ReplaceRatings(ctx, buckets); err != nil {
			return buckets, s.writeThroughError("ratings", err)
		}
	}
	s.metrics.RecordEdit("rating")
	return buckets, nil
}

func (s *GradebookService) markCompleted(ctx context.Context, studentID string) error {
	inserted, err := s.tracker.MarkOnce(ctx, studentID)
	if err != nil {
		s.logger.Warn("completion not recorded", zap.String("student_id", studentID), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrIO, "failed to record completion")
	}
	if inserted {
		s.metrics.RecordCompletion()
		s.logger.Info("student grading completed", zap.String("student_id", studentID))
	}
	return nil
}

// markCompletedStudents records every student that is now complete. Failures
// are logged; the triggering edit already succeeded.
func (s *GradebookService) markCompletedStudents(ctx context.Context) {
	for _, f := range s.Finals() {
		if f.Defined {
			_ = s.markCompleted(ctx, f.StudentID)
		}
	}
}

func (s *GradebookService) refreshProgress() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetProgress(s.Progress())
}

// storedStudents returns the normalised store copies of rows.
func (s *GradebookService) storedStudents(rows []models.Student) []models.Student {
	out := make([]models.Student, 0, len(rows))
	for _, row := range rows {
		if st, ok := s.store.Student(strings.TrimSpace(row.ID)); ok {
			out = append(out, st)
		}
	}
	return out
}

// storedQuestions returns the normalised store copies of rows.
func (s *GradebookService) storedQuestions(rows []models.Question) []models.Question {
	out := make([]models.Question, 0, len(rows))
	for _, row := range rows {
		if q, ok := s.store.Question(row.ID); ok {
			out = append(out, q)
		}
	}
	return out
}
