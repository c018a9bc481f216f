package grading

import (
	"strconv"

	"github.com/noah-isme/scorebook/internal/models"
)

// DefaultPrecision is the number of decimals shown for a final score.
const DefaultPrecision = 1

// FormatFinal renders a final score; undefined finals render empty.
func FormatFinal(value float64, defined bool, precision int) string {
	if !defined {
		return ""
	}
	if precision < 0 {
		precision = DefaultPrecision
	}
	return strconv.FormatFloat(value, 'f', precision, 64)
}

// FormatScore renders a cell score; ungraded cells render empty.
func FormatScore(score *int) string {
	if score == nil {
		return ""
	}
	return strconv.Itoa(*score)
}

// TableRows projects the snapshot into one display row per student, with
// score columns in question order.
func TableRows(snap *models.Snapshot, precision int) []models.TableRow {
	if snap == nil {
		return nil
	}
	idx := ScoreIndex(snap.Scores)
	rows := make([]models.TableRow, len(snap.Students))
	for i, st := range snap.Students {
		scores := idx[st.ID]
		cols := make([]string, len(snap.Questions))
		for j, q := range snap.Questions {
			cols[j] = FormatScore(scores[q.ID])
		}
		v, ok := ComputeFinal(snap.Questions, scores)
		rows[i] = models.TableRow{
			StudentID:    st.ID,
			StudentName:  st.Name,
			Scores:       cols,
			FinalDisplay: FormatFinal(v, ok, precision),
		}
	}
	return rows
}

// Progress counts all students and those whose grading is complete.
func Progress(snap *models.Snapshot) models.Progress {
	finals := Finals(snap)
	p := models.Progress{Total: len(finals)}
	for _, f := range finals {
		if f.Defined {
			p.Completed++
		}
	}
	return p
}
