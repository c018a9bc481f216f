package models

// ExportFormat enumerates supported grade table export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult describes a written export file.
type ExportResult struct {
	Path   string       `json:"path"`
	Format ExportFormat `json:"format"`
	Rows   int          `json:"rows"`
}
