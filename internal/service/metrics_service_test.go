package service

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/scorebook/internal/models"
)

func TestMetricsServiceRecords(t *testing.T) {
	m := NewMetricsService()
	m.ObservePersistence("save", "document", nil, 20*time.Millisecond)
	m.ObservePersistence("save", "document", errors.New("disk full"), 40*time.Millisecond)
	m.RecordEdit("score")
	m.RecordEdit("score")
	m.SetProgress(models.Progress{Total: 3, Completed: 2})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.persistTotal.WithLabelValues("save", "document", "error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.editsTotal.WithLabelValues("score")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.studentsGauge))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.PersistOperations)
	assert.Equal(t, uint64(1), snap.PersistFailures)
	assert.InDelta(t, 30.0, snap.AveragePersistMs, 0.001)
	assert.NotNil(t, m.Registry())
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObservePersistence("save", "document", nil, time.Millisecond)
	m.RecordEdit("score")
	m.RecordCompletion()
	m.SetProgress(models.Progress{})
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
	assert.Nil(t, m.Registry())
}
