package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/scorebook/internal/models"
)

var entityValidator = newEntityValidator()

// newEntityValidator reports fields by their JSON names so diagnostics match
// what the user sees in the document.
func newEntityValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// checkShape rejects documents whose top level is not an object. Only a bare
// null gets this far; other scalars fail in the decoder.
func checkShape(data []byte) *Diagnostic {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] == '{' {
		return nil
	}
	d := locate(data, len(data)-len(trimmed), CategoryData, "document must be a JSON object")
	return &d
}

// checkEntities applies the data model rules to the decoded students and
// questions and points at the first offending array element.
func checkEntities(data []byte, snap *models.Snapshot) *Diagnostic {
	seenStudents := make(map[string]bool, len(snap.Students))
	for i, st := range snap.Students {
		norm := models.Student{ID: strings.TrimSpace(st.ID), Name: strings.TrimSpace(st.Name)}
		msg := fieldProblem(entityValidator.Struct(norm))
		if msg == "" && seenStudents[norm.ID] {
			msg = fmt.Sprintf("duplicate id %q", norm.ID)
		}
		seenStudents[norm.ID] = true
		if msg != "" {
			return elementDiagnostic(data, "students", i, msg)
		}
	}

	seenQuestions := make(map[int]bool, len(snap.Questions))
	for i, q := range snap.Questions {
		norm := q
		norm.Name = strings.TrimSpace(q.Name)
		msg := fieldProblem(entityValidator.Struct(norm))
		switch {
		case msg != "":
		case math.IsInf(q.Weight, 0) || math.IsNaN(q.Weight):
			msg = "weight must be a finite number"
		case seenQuestions[q.ID]:
			msg = fmt.Sprintf("duplicate id %d", q.ID)
		}
		seenQuestions[q.ID] = true
		if msg != "" {
			return elementDiagnostic(data, "questions", i, msg)
		}
	}
	return nil
}

func fieldProblem(err error) string {
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func elementDiagnostic(data []byte, key string, index int, msg string) *Diagnostic {
	offset := 0
	if offsets := elementOffsets(data, key); index < len(offsets) {
		offset = offsets[index]
	}
	d := locate(data, offset, CategoryData, fmt.Sprintf("%s[%d]: %s", key, index, msg))
	return &d
}

// elementOffsets returns the byte offset of every element in the top-level
// array stored under key.
func elementOffsets(data []byte, key string) []int {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		if name, _ := tok.(string); name != key {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil
			}
			continue
		}
		if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
			return nil
		}
		var offsets []int
		for dec.More() {
			offsets = append(offsets, skipSeparators(data, int(dec.InputOffset())))
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return offsets
			}
		}
		return offsets
	}
	return nil
}

func skipSeparators(data []byte, offset int) int {
	for offset < len(data) {
		switch data[offset] {
		case ' ', '\t', '\r', '\n', ',':
			offset++
		default:
			return offset
		}
	}
	return offset
}
