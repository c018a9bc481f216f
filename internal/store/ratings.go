package store

import (
	"fmt"

	"github.com/noah-isme/scorebook/internal/models"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

// AddRating appends a bucket and re-sorts the set.
func (s *Store) AddRating(label string, minScore int) []models.RatingBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings = append(s.ratings, models.RatingBucket{Label: label, MinScore: clampPercent(minScore)})
	sortRatings(s.ratings)
	s.maintainLocked()
	return append([]models.RatingBucket(nil), s.ratings...)
}

// UpdateRating edits the bucket at index (in the current sorted order).
func (s *Store) UpdateRating(index int, label string, minScore int) ([]models.RatingBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.ratings) {
		return nil, ratingIndexError(index)
	}
	s.ratings[index] = models.RatingBucket{Label: label, MinScore: clampPercent(minScore)}
	sortRatings(s.ratings)
	s.maintainLocked()
	return append([]models.RatingBucket(nil), s.ratings...), nil
}

// RemoveRating deletes the bucket at index.
func (s *Store) RemoveRating(index int) ([]models.RatingBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.ratings) {
		return nil, ratingIndexError(index)
	}
	s.ratings = append(s.ratings[:index], s.ratings[index+1:]...)
	s.maintainLocked()
	return append([]models.RatingBucket(nil), s.ratings...), nil
}

// SetRatings replaces the whole bucket set.
func (s *Store) SetRatings(buckets []models.RatingBucket) []models.RatingBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings = make([]models.RatingBucket, len(buckets))
	for i, b := range buckets {
		s.ratings[i] = models.RatingBucket{Label: b.Label, MinScore: clampPercent(b.MinScore)}
	}
	sortRatings(s.ratings)
	s.maintainLocked()
	return append([]models.RatingBucket(nil), s.ratings...)
}

func ratingIndexError(index int) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("rating %d not found", index))
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
