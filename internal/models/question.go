package models

// Question is one graded item. A zero Weight excludes it from the final score.
type Question struct {
	ID        int     `db:"id" json:"id" validate:"gte=0"`
	Name      string  `db:"name" json:"name" validate:"required"`
	FullScore int     `db:"full_score" json:"full_score" validate:"gte=0"`
	Weight    float64 `db:"weight" json:"weight" validate:"gte=0"`
	Comment   string  `db:"comment" json:"comment"`
}

// QuestionField names an editable question attribute.
type QuestionField string

const (
	QuestionFieldName      QuestionField = "name"
	QuestionFieldFullScore QuestionField = "full_score"
	QuestionFieldWeight    QuestionField = "weight"
	QuestionFieldComment   QuestionField = "comment"
)
