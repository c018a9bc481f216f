// Package snapshot persists a whole gradebook as one JSON document.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/scorebook/internal/models"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
	"github.com/noah-isme/scorebook/pkg/storage"
)

// FileStore reads and writes snapshot documents through LocalStorage, which
// replaces files atomically.
type FileStore struct {
	files  *storage.LocalStorage
	logger *zap.Logger
}

// NewFileStore builds a document gateway. Relative paths resolve against the
// storage base directory.
func NewFileStore(files *storage.LocalStorage, logger *zap.Logger) *FileStore {
	if files == nil {
		files = storage.NewLocalStorage("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{files: files, logger: logger}
}

// Save writes snap to path, creating parent directories as needed. The
// document's save_path records where it was written.
func (s *FileStore) Save(ctx context.Context, path string, snap *models.Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if path == "" {
		return "", appErrors.ErrNoSavePath
	}
	out := *snap
	resolved := s.files.Path(path)
	out.SavePath = &resolved

	data, err := Encode(&out)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal, "failed to encode snapshot")
	}
	written, err := s.files.Save(path, data)
	if err != nil {
		s.logger.Warn("snapshot save failed", zap.String("path", resolved), zap.Error(err))
		return "", appErrors.Wrap(err, appErrors.ErrIO, "failed to write snapshot")
	}
	s.logger.Info("snapshot saved",
		zap.String("path", written),
		zap.Int("students", len(out.Students)),
		zap.Int("questions", len(out.Questions)),
		zap.Int("bytes", len(data)),
	)
	return written, nil
}

// Load reads and decodes the document at path into a new snapshot. Nothing is
// returned on failure, so callers keep their current state.
func (s *FileStore) Load(ctx context.Context, path string) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.files.Read(path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrIO, "failed to read snapshot")
	}
	snap, err := Decode(data)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = s.files.Path(path)
			s.logger.Warn("snapshot parse failed",
				zap.String("path", perr.Path),
				zap.String("category", perr.Diagnostic.Category),
				zap.Int("line", perr.Diagnostic.Line),
				zap.Int("column", perr.Diagnostic.Column),
			)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrParse, "")
	}
	return snap, nil
}

// Encode renders snap as indented JSON with a trailing newline.
func Encode(snap *models.Snapshot) ([]byte, error) {
	out := *snap
	out.Questions = nonNil(out.Questions)
	out.Students = nonNil(out.Students)
	out.Scores = nonNil(out.Scores)
	out.Ratings = nonNil(out.Ratings)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot document. Errors are *ParseError values. A
// document that parses but breaks the data model (non-object top level,
// missing or duplicate ids, negative full scores) is rejected as a data error.
func Decode(data []byte) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &ParseError{Diagnostic: diagnose(data, err)}
	}
	if d := checkShape(data); d != nil {
		return nil, &ParseError{Diagnostic: *d}
	}
	if d := checkEntities(data, &snap); d != nil {
		return nil, &ParseError{Diagnostic: *d}
	}
	snap.Questions = nonNil(snap.Questions)
	snap.Students = nonNil(snap.Students)
	snap.Scores = nonNil(snap.Scores)
	snap.Ratings = nonNil(snap.Ratings)
	return &snap, nil
}

// DiagnosticOf extracts the parse diagnostic from err, if it carries one.
func DiagnosticOf(err error) (Diagnostic, bool) {
	var perr *ParseError
	if errors.As(err, &perr) {
		return perr.Diagnostic, true
	}
	return Diagnostic{}, false
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
