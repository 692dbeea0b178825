package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"churn-bench/internal/events"
	"churn-bench/internal/metrics"
)

func TestEvaluate(t *testing.T) {
	c := NewRateController(DefaultRateConfig())

	tests := []struct {
		name      string
		submitted uint64
		failed    uint64
		severity  Severity
		delay     time.Duration
	}{
		{"too few samples", 100, 90, SeverityNone, 0},
		{"healthy", 1000, 50, SeverityNone, 0},
		{"exactly high", 1000, 100, SeverityNone, 0},
		{"high", 1000, 150, SeverityHigh, 200 * time.Millisecond},
		{"exactly critical", 1000, 300, SeverityHigh, 200 * time.Millisecond},
		{"critical", 1000, 400, SeverityCritical, 5 * time.Second},
		{"nothing yet", 0, 0, SeverityNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Evaluate(tt.submitted, tt.failed)
			assert.Equal(t, tt.severity, d.Severity)
			assert.Equal(t, tt.delay, d.Delay)
		})
	}
}

func TestObservePublishesOncePerBreach(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	c := NewRateController(DefaultRateConfig())
	c.SetEventBus(bus)

	critical := metrics.Snapshot{Submitted: 200, Failed: 100}
	assert.Equal(t, 5*time.Second, c.Observe(critical))
	assert.Equal(t, 5*time.Second, c.Observe(critical))
	assert.Len(t, ch, 1)

	assert.Equal(t, time.Duration(0), c.Observe(metrics.Snapshot{Submitted: 400, Failed: 10}))
	c.Observe(critical)
	assert.Len(t, ch, 2)
}

func TestBackoffPolicyDelay(t *testing.T) {
	p := DefaultBackoffPolicy()

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Duration(0), p.Delay(9))
	assert.Equal(t, 5*time.Second, p.Delay(10))
	assert.Equal(t, 5*time.Second, p.Delay(50))

	small := BackoffPolicy{Base: 100 * time.Millisecond, Max: 5 * time.Second, Threshold: 2}
	assert.Equal(t, 200*time.Millisecond, small.Delay(2))
	assert.Equal(t, 700*time.Millisecond, small.Delay(7))
	assert.Equal(t, 5*time.Second, small.Delay(1000))
}

func TestBackoffCounter(t *testing.T) {
	b := NewBackoff(DefaultBackoffPolicy())

	for range 9 {
		assert.Equal(t, time.Duration(0), b.Failure())
	}
	assert.Equal(t, 9, b.Count())
	assert.Equal(t, 5*time.Second, b.Failure())

	b.Success()
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, time.Duration(0), b.Failure())
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "none", SeverityNone.String())
	assert.Equal(t, "high", SeverityHigh.String())
	assert.Equal(t, "critical", SeverityCritical.String())
}
