// Package importer reads student and question rows from CSV files. The first
// row is a header and is skipped; fields are trimmed.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/scorebook/internal/models"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

// Reader parses and validates import files.
type Reader struct {
	validate *validator.Validate
}

// NewReader builds a reader; a nil validator gets a default one.
func NewReader(validate *validator.Validate) *Reader {
	if validate == nil {
		validate = validator.New()
	}
	return &Reader{validate: validate}
}

// Students reads "id,name" rows.
func (r *Reader) Students(src io.Reader) ([]models.Student, error) {
	var out []models.Student
	err := r.each(src, 2, 2, func(line int, f []string) error {
		st := models.Student{ID: f[0], Name: f[1]}
		if err := r.validate.Struct(st); err != nil {
			return lineError(line, describe(err))
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

// Questions reads "id,name,full_score,weight[,comment]" rows.
func (r *Reader) Questions(src io.Reader) ([]models.Question, error) {
	var out []models.Question
	err := r.each(src, 4, 5, func(line int, f []string) error {
		id, err := strconv.Atoi(f[0])
		if err != nil {
			return lineError(line, fmt.Sprintf("id %q is not an integer", f[0]))
		}
		full, err := strconv.Atoi(f[2])
		if err != nil {
			return lineError(line, fmt.Sprintf("full_score %q is not an integer", f[2]))
		}
		weight, err := strconv.ParseFloat(f[3], 64)
		if err != nil || math.IsInf(weight, 0) || math.IsNaN(weight) {
			return lineError(line, fmt.Sprintf("weight %q is not a finite number", f[3]))
		}
		q := models.Question{ID: id, Name: f[1], FullScore: full, Weight: weight}
		if len(f) > 4 {
			q.Comment = f[4]
		}
		if err := r.validate.Struct(q); err != nil {
			return lineError(line, describe(err))
		}
		out = append(out, q)
		return nil
	})
	return out, err
}

// each walks the data rows, passing the 1-based file line and trimmed fields.
func (r *Reader) each(src io.Reader, minFields, maxFields int, fn func(line int, fields []string) error) error {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header := true
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return lineError(perr.StartLine, perr.Err.Error())
			}
			return appErrors.Wrap(err, appErrors.ErrIO, "failed to read import file")
		}
		line, _ := cr.FieldPos(0)
		if header {
			header = false
			continue
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if len(record) < minFields || len(record) > maxFields {
			return lineError(line, fmt.Sprintf("expected %s fields, got %d", fieldRange(minFields, maxFields), len(record)))
		}
		if err := fn(line, record); err != nil {
			return err
		}
	}
	if header {
		return appErrors.Clone(appErrors.ErrValidation, "import file is empty")
	}
	return nil
}

func lineError(line int, reason string) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("line %d: %s", line, reason))
}

func fieldRange(lo, hi int) string {
	if lo == hi {
		return strconv.Itoa(lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if fe.Field() == "FullScore" {
		field = "full_score"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
