package models

// Student represents an examinee whose answers are graded.
type Student struct {
	ID   string `db:"id" json:"id" validate:"required"`
	Name string `db:"name" json:"name" validate:"required"`
}

// StudentFilter encapsulates search parameters for looking up students.
type StudentFilter struct {
	Query string
	Limit int
}
