package models

// RatingBucket is a labelled threshold tier; a final score at or above MinScore
// falls into the bucket unless a higher bucket already matched.
type RatingBucket struct {
	Label    string `db:"label" json:"label"`
	MinScore int    `db:"min_score" json:"min_score"`
}

// RatingStat summarises how many defined final scores landed in a bucket.
type RatingStat struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Ratio float64 `json:"ratio"`
}
