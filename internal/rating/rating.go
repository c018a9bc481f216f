// Package rating classifies final scores into labelled threshold buckets and
// builds score distributions.
package rating

import (
	"fmt"
	"math"

	"github.com/noah-isme/scorebook/internal/models"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

// DefaultBinWidth is the histogram bin width used when none is configured.
const DefaultBinWidth = 5

// Classify returns the label of the first bucket whose threshold the score
// reaches. Buckets must already be sorted highest threshold first. The second
// return value is false when the score sits below every threshold.
func Classify(score float64, buckets []models.RatingBucket) (string, bool) {
	for _, b := range buckets {
		if float64(b.MinScore) <= score {
			return b.Label, true
		}
	}
	return "", false
}

// Stats counts defined finals per bucket. Ratios are relative to the number of
// defined finals; unclassified scores are counted in the denominator only.
func Stats(finals []models.FinalScore, buckets []models.RatingBucket) []models.RatingStat {
	counts := make([]int, len(buckets))
	total := 0
	for _, f := range finals {
		if !f.Defined {
			continue
		}
		total++
		for i, b := range buckets {
			if float64(b.MinScore) <= f.Value {
				counts[i]++
				break
			}
		}
	}

	denom := float64(total)
	if total == 0 {
		denom = 1
	}
	stats := make([]models.RatingStat, len(buckets))
	for i, b := range buckets {
		stats[i] = models.RatingStat{Label: b.Label, Count: counts[i], Ratio: float64(counts[i]) / denom}
	}
	return stats
}

// Histogram buckets percentage scores into floor(100/binWidth)+1 bins. Scores
// of 100 and above land in the last bin, negative scores in the first.
func Histogram(scores []float64, binWidth int) ([]int, error) {
	if binWidth < 1 || binWidth > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("histogram bin width must be within 1..100, got %d", binWidth))
	}
	bins := make([]int, 100/binWidth+1)
	last := len(bins) - 1
	for _, s := range scores {
		idx := 0
		if s > 0 {
			f := math.Floor(s / float64(binWidth))
			if f >= float64(last) {
				idx = last
			} else {
				idx = int(f)
			}
		}
		bins[idx]++
	}
	return bins, nil
}

// BinLabels names each histogram bin by its lower bound, e.g. "0-4", "100".
func BinLabels(binWidth int) []string {
	if binWidth < 1 || binWidth > 100 {
		return nil
	}
	n := 100/binWidth + 1
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		lo := i * binWidth
		hi := lo + binWidth - 1
		switch {
		case i == n-1:
			labels[i] = fmt.Sprintf("%d+", lo)
		case hi == lo:
			labels[i] = fmt.Sprintf("%d", lo)
		default:
			labels[i] = fmt.Sprintf("%d-%d", lo, hi)
		}
	}
	return labels
}
