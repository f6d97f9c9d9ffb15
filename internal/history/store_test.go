package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.FlushInterval = time.Hour // tests flush explicitly
	s, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQuery(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		s.Record(Sample{
			VMID:      "vm-1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			CPU:       float64(10 * i),
			Memory:    50,
			Disk:      30,
		})
	}
	s.Record(Sample{VMID: "vm-2", Timestamp: base, CPU: 99})
	s.flush()

	samples, err := s.Query("vm-1", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 0.0, samples[0].CPU)
	assert.Equal(t, 20.0, samples[2].CPU)
	assert.True(t, samples[0].Timestamp.Before(samples[1].Timestamp))
}

func TestQueryHonorsSince(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Record(Sample{VMID: "vm-1", Timestamp: base.Add(-2 * time.Hour), CPU: 1})
	s.Record(Sample{VMID: "vm-1", Timestamp: base, CPU: 2})
	s.flush()

	samples, err := s.Query("vm-1", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].CPU)
}

func TestFullBufferTriggersFlush(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.FlushInterval = time.Hour
	cfg.WriteBufferSize = 2
	s, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Record(Sample{VMID: "vm-1", Timestamp: base, CPU: 1})
	s.Record(Sample{VMID: "vm-1", Timestamp: base.Add(time.Second), CPU: 2})

	samples, err := s.Query("vm-1", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, samples, 2, "hitting the buffer size must flush without waiting for the ticker")
}

func TestPruneDropsOldSamples(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.FlushInterval = time.Hour
	cfg.Retention = 24 * time.Hour
	s, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.Record(Sample{VMID: "vm-1", Timestamp: time.Now().Add(-48 * time.Hour), CPU: 1})
	s.Record(Sample{VMID: "vm-1", Timestamp: time.Now(), CPU: 2})
	s.flush()
	s.prune()

	samples, err := s.Query("vm-1", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].CPU)
}
