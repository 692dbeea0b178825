package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	s := New()

	s.RecordSuccess(3, 0)
	s.RecordSuccess(0, 50)
	s.RecordFailure()

	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.Submitted)
	assert.Equal(t, uint64(2), snap.Succeeded)
	assert.Equal(t, uint64(1), snap.Failed)
	assert.Equal(t, uint64(3), snap.Created)
	assert.Equal(t, uint64(50), snap.Updated)
}

func TestSnapshotInvariantUnderConcurrency(t *testing.T) {
	s := New()
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 2000 {
				if (i+j)%3 == 0 {
					s.RecordFailure()
				} else {
					s.RecordSuccess(1, 1)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap := s.Snapshot()
		require.GreaterOrEqual(t, snap.Submitted, snap.Succeeded+snap.Failed)
		select {
		case <-done:
			final := s.Snapshot()
			assert.Equal(t, uint64(16000), final.Submitted)
			assert.Equal(t, final.Submitted, final.Succeeded+final.Failed)
			return
		default:
		}
	}
}

func TestRates(t *testing.T) {
	snap := Snapshot{Submitted: 20, Succeeded: 10, Failed: 10, Created: 5, Updated: 15, Elapsed: 2 * time.Second}

	assert.InDelta(t, 5.0, snap.TPS(), 0.001)
	assert.InDelta(t, 10.0, snap.OpsRate(), 0.001)
	assert.InDelta(t, 0.5, snap.FailureRate(), 0.001)

	assert.Zero(t, Snapshot{}.TPS())
	assert.Zero(t, Snapshot{}.FailureRate())
}

func TestLine(t *testing.T) {
	snap := Snapshot{Submitted: 20, Succeeded: 18, Failed: 2, Created: 5, Updated: 15, Elapsed: 2 * time.Second}
	line := snap.Line()

	assert.True(t, strings.HasPrefix(line, "Elapsed: 2.0s"))
	assert.Contains(t, line, "TX: 20 submitted, 18 success, 2 failed")
	assert.Contains(t, line, "TPS: 9.0")
	assert.Contains(t, line, "Objects: 5 created, 15 updated")
	assert.Contains(t, line, "Ops/s: 10.0")
}

func TestLatencyPercentile(t *testing.T) {
	s := New()
	for i := 1; i <= 100; i++ {
		s.ObserveLatency(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, s.Snapshot().P99Latency)
}

func TestLatencyRingRotates(t *testing.T) {
	s := New()
	for range defaultLatencySamples {
		s.ObserveLatency(time.Millisecond)
	}
	// カウンタが動かなくても古いサンプルから順に入れ替わる
	for range defaultLatencySamples {
		s.ObserveLatency(5 * time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, s.latencyPercentile(0))
	assert.Equal(t, 5*time.Millisecond, s.Snapshot().P99Latency)
}

func TestCountsSkipsLatency(t *testing.T) {
	s := New()
	s.RecordSuccess(1, 2)
	s.RecordFailure()
	s.ObserveLatency(time.Second)

	c := s.Counts()
	assert.Equal(t, uint64(2), c.Submitted)
	assert.Equal(t, uint64(1), c.Failed)
	assert.Equal(t, uint64(2), c.Updated)
	assert.Zero(t, c.P99Latency)
	assert.Equal(t, time.Second, s.Snapshot().P99Latency)
}

func TestBeginResetsClock(t *testing.T) {
	s := New()
	time.Sleep(20 * time.Millisecond)
	s.Begin()
	assert.Less(t, s.Snapshot().Elapsed, 20*time.Millisecond)
}

func TestCollector(t *testing.T) {
	s := New()
	s.RecordSuccess(2, 4)
	s.RecordFailure()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(s)))

	expected := `
# HELP churn_submissions_total Submissions attempted
# TYPE churn_submissions_total counter
churn_submissions_total 2
# HELP churn_objects_created_total Objects created by successful submissions
# TYPE churn_objects_created_total counter
churn_objects_created_total 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"churn_submissions_total", "churn_objects_created_total")
	assert.NoError(t, err)
}

func TestReporterStartStop(t *testing.T) {
	r := NewReporter(New(), 10*time.Millisecond)
	r.Start(t.Context())
	r.Start(t.Context())
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()
}
