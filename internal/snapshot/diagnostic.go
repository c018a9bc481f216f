package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Diagnostic categories.
const (
	CategorySyntax = "syntax"
	CategoryData   = "data"
	CategoryEOF    = "eof"
)

// Diagnostic pinpoints why a snapshot document could not be decoded. Line and
// Column are 1-based; Excerpt is the offending line followed by a caret line.
type Diagnostic struct {
	Category string `json:"category"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	Excerpt  string `json:"excerpt"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s error at line %d, column %d: %s", d.Category, d.Line, d.Column, d.Message)
}

// ParseError carries the diagnostic of a failed decode.
type ParseError struct {
	Path       string
	Diagnostic Diagnostic
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Diagnostic.String()
	}
	return e.Path + ": " + e.Diagnostic.String()
}

// diagnose maps a decoder error onto a position inside data.
func diagnose(data []byte, err error) Diagnostic {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case len(strings.TrimSpace(string(data))) == 0:
		return locate(data, len(data), CategoryEOF, "document is empty")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return locate(data, len(data), CategoryEOF, "unexpected end of document")
	case errors.As(err, &syntaxErr):
		if strings.Contains(syntaxErr.Error(), "unexpected end") {
			return locate(data, len(data), CategoryEOF, "unexpected end of document")
		}
		return locate(data, int(syntaxErr.Offset)-1, CategorySyntax, syntaxErr.Error())
	case errors.As(err, &typeErr):
		msg := fmt.Sprintf("expected %s, found %s", typeErr.Type, typeErr.Value)
		if typeErr.Field != "" {
			msg = fmt.Sprintf("%s: %s", typeErr.Field, msg)
		}
		// Offset points just past the offending value; step back onto it.
		return locate(data, int(typeErr.Offset)-1, CategoryData, msg)
	default:
		return locate(data, 0, CategoryData, err.Error())
	}
}

// locate converts a byte offset into a 1-based line and rune column.
func locate(data []byte, offset int, category, message string) Diagnostic {
	if offset > len(data) {
		offset = len(data)
	}
	if offset < 0 {
		offset = 0
	}
	// At end of input point at the last real character rather than past a
	// trailing newline.
	if offset == len(data) {
		for offset > 0 && (data[offset-1] == '\n' || data[offset-1] == '\r') {
			offset--
		}
		if offset > 0 {
			offset--
		}
	}

	line := 1 + strings.Count(string(data[:offset]), "\n")
	lineStart := strings.LastIndexByte(string(data[:offset]), '\n') + 1
	column := utf8.RuneCount(data[lineStart:offset]) + 1

	lineEnd := len(data)
	if i := strings.IndexByte(string(data[lineStart:]), '\n'); i >= 0 {
		lineEnd = lineStart + i
	}
	text := strings.TrimRight(string(data[lineStart:lineEnd]), "\r")

	return Diagnostic{
		Category: category,
		Line:     line,
		Column:   column,
		Message:  message,
		Excerpt:  text + "\n" + strings.Repeat(" ", column-1) + "^",
	}
}
