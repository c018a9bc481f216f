package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradeTable() Dataset {
	return Dataset{
		Title:   "Gradebook",
		Headers: []string{"id", "name", "Q1", "Q1", "final"},
		Rows: [][]string{
			{"A001", "Yamada", "8", "10", "65.0"},
			{"B002", "Suzuki, Jr.", "3"},
		},
		Notes: []string{"completed 1 of 2"},
	}
}

func TestCSVRenderPadsShortRows(t *testing.T) {
	out, err := NewCSVExporter().Render(gradeTable())
	require.NoError(t, err)
	assert.Equal(t, "id,name,Q1,Q1,final\nA001,Yamada,8,10,65.0\nB002,\"Suzuki, Jr.\",3,,\n", string(out))
}

func TestRenderRejectsBadDataset(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)

	_, err = NewPDFExporter().Render(Dataset{Headers: []string{"a"}, Rows: [][]string{{"1", "2"}}})
	assert.Error(t, err)
}

func TestPDFRender(t *testing.T) {
	data := gradeTable()
	for i := 0; i < 80; i++ {
		data.Rows = append(data.Rows, []string{"S", "Student", "1", "2", "3.0"})
	}
	out, err := NewPDFExporter().Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
