// Package grading derives final scores, completion and display rows from the
// gradebook state. Every function is pure; callers pass in copies.
package grading

import (
	"sort"

	"github.com/noah-isme/scorebook/internal/models"
)

// ComputeFinal returns the weighted percentage for one student. Questions with
// a non-positive weight are ignored. The result is undefined (false) when no
// weight remains, when a weighted question is ungraded, or when a weighted
// question has no positive full score.
func ComputeFinal(questions []models.Question, scores map[int]*int) (float64, bool) {
	weighted := make([]models.Question, 0, len(questions))
	for _, q := range questions {
		if q.Weight > 0 {
			weighted = append(weighted, q)
		}
	}
	if len(weighted) == 0 {
		return 0, false
	}
	// Fixed summation order keeps the float result independent of input order.
	sort.Slice(weighted, func(i, j int) bool { return weighted[i].ID < weighted[j].ID })

	var sum, totalWeight float64
	for _, q := range weighted {
		score := scores[q.ID]
		if score == nil || q.FullScore <= 0 {
			return 0, false
		}
		sum += float64(*score) / float64(q.FullScore) * q.Weight
		totalWeight += q.Weight
	}
	return sum / totalWeight * 100, true
}

// ComputeCompletion reports whether the student's final score is defined.
func ComputeCompletion(questions []models.Question, scores map[int]*int) bool {
	_, ok := ComputeFinal(questions, scores)
	return ok
}

// ScoreIndex groups snapshot cells by student then question.
func ScoreIndex(cells []models.ScoreCell) map[string]map[int]*int {
	idx := make(map[string]map[int]*int)
	for _, c := range cells {
		row, ok := idx[c.StudentID]
		if !ok {
			row = make(map[int]*int)
			idx[c.StudentID] = row
		}
		if _, dup := row[c.QuestionID]; !dup {
			row[c.QuestionID] = c.Score
		}
	}
	return idx
}

// Finals computes one FinalScore per student, in student order.
func Finals(snap *models.Snapshot) []models.FinalScore {
	if snap == nil {
		return nil
	}
	idx := ScoreIndex(snap.Scores)
	out := make([]models.FinalScore, len(snap.Students))
	for i, st := range snap.Students {
		v, ok := ComputeFinal(snap.Questions, idx[st.ID])
		out[i] = models.FinalScore{StudentID: st.ID, Value: v, Defined: ok}
	}
	return out
}

// DefinedValues returns the values of the defined finals only.
func DefinedValues(finals []models.FinalScore) []float64 {
	out := make([]float64, 0, len(finals))
	for _, f := range finals {
		if f.Defined {
			out = append(out, f.Value)
		}
	}
	return out
}
