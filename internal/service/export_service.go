package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/scorebook/internal/grading"
	"github.com/noah-isme/scorebook/internal/models"
	"github.com/noah-isme/scorebook/internal/rating"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
	"github.com/noah-isme/scorebook/pkg/export"
)

type snapshotSource interface {
	Snapshot() *models.Snapshot
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportService renders the grade table and stores the rendered file.
type ExportService struct {
	source    snapshotSource
	storage   fileStorage
	csv       renderer
	pdf       renderer
	precision int
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers default to the
// pkg/export implementations.
func NewExportService(source snapshotSource, storage fileStorage, precision int, logger *zap.Logger, csv, pdf renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		source:    source,
		storage:   storage,
		csv:       csv,
		pdf:       pdf,
		precision: precision,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Export writes the grade table in the requested format. An empty filename
// gets a timestamped default.
func (s *ExportService) Export(ctx context.Context, format models.ExportFormat, filename string) (*models.ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dataset := BuildDataset(s.source.Snapshot(), s.precision)

	var (
		payload []byte
		err     error
	)
	switch format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render export")
	}

	if filename == "" {
		filename = s.buildFilename(format)
	}
	path, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrIO, "failed to write export")
	}
	s.logger.Info("grade table exported", zap.String("path", path), zap.String("format", string(format)), zap.Int("rows", len(dataset.Rows)))
	return &models.ExportResult{Path: path, Format: format, Rows: len(dataset.Rows)}, nil
}

func (s *ExportService) buildFilename(format models.ExportFormat) string {
	return fmt.Sprintf("gradebook_%s.%s", s.now().Format("20060102_150405"), format)
}

// BuildDataset lays out one row per student: id, name, a column per question,
// the final score and its rating. Notes summarise progress and rating counts.
func BuildDataset(snap *models.Snapshot, precision int) export.Dataset {
	headers := []string{"id", "name"}
	for _, q := range snap.Questions {
		headers = append(headers, questionHeader(q))
	}
	headers = append(headers, "final", "rating")

	rows := grading.TableRows(snap, precision)
	finals := grading.Finals(snap)
	data := export.Dataset{Title: "Gradebook", Headers: headers, Rows: make([][]string, len(rows))}
	for i, row := range rows {
		record := make([]string, 0, len(headers))
		record = append(record, row.StudentID, row.StudentName)
		record = append(record, row.Scores...)
		label := ""
		if finals[i].Defined {
			label, _ = rating.Classify(finals[i].Value, snap.Ratings)
		}
		record = append(record, row.FinalDisplay, label)
		data.Rows[i] = record
	}

	progress := grading.Progress(snap)
	data.Notes = append(data.Notes, fmt.Sprintf("Completed: %d of %d", progress.Completed, progress.Total))
	for _, st := range rating.Stats(finals, snap.Ratings) {
		data.Notes = append(data.Notes, fmt.Sprintf("%s: %d (%.1f%%)", st.Label, st.Count, st.Ratio*100))
	}
	return data
}

func questionHeader(q models.Question) string {
	name := strings.TrimSpace(q.Name)
	if name == "" {
		return fmt.Sprintf("Q%d", q.ID)
	}
	return fmt.Sprintf("%s (/%d)", name, q.FullScore)
}
