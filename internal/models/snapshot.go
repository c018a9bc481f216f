package models

// Snapshot is the full serialisable state of a gradebook.
type Snapshot struct {
	SavePath    *string            `json:"save_path"`
	Questions   []Question         `json:"questions"`
	Students    []Student          `json:"students"`
	Scores      []ScoreCell        `json:"scores"`
	Ratings     []RatingBucket     `json:"ratings"`
	Completions []CompletionRecord `json:"completions,omitempty"`
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}
