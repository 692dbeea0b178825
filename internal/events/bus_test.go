package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()
	assert.Equal(t, 0, bus.SubscriberCount())

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Unsubscribe(ch1)
	assert.Equal(t, 1, bus.SubscriberCount())

	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel must be closed")
	require.NotNil(t, ch2)
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewPressureChangeEvent("normal", "heavy", 0.87))

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := receive(t, ch)
		assert.Equal(t, EventPressureChange, ev.Type)
		assert.Equal(t, "heavy", ev.Data.Level)
		assert.Equal(t, "normal", ev.Data.Previous)
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)
	ch := bus.Subscribe()

	bus.Publish(NewBackoffEscalationEvent("worker-1", 10, 5*time.Second))
	bus.Publish(NewBackoffEscalationEvent("worker-2", 11, 5*time.Second))
	bus.Publish(NewBackoffEscalationEvent("worker-3", 12, 5*time.Second))

	ev := receive(t, ch)
	assert.Equal(t, "worker-1", ev.Source)

	select {
	case <-ch:
		t.Error("overflowing events must be dropped")
	default:
	}
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(NewRunStartedEvent("run"))
	})
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Close()

	assert.Equal(t, 0, bus.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		bus.Publish(NewRunCompletedEvent("run", nil))
		bus.Close()
	})

	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventCreation(t *testing.T) {
	t.Run("Chaos", func(t *testing.T) {
		ev := NewChaosAttackEventWithDelay("node-1", 100*time.Millisecond)
		assert.Equal(t, EventChaosAttack, ev.Type)
		assert.Equal(t, "node-1", ev.Source)
		assert.Equal(t, AttackTypeDelay, ev.Data.AttackType)
		assert.Equal(t, "100ms", ev.Data.Delay)

		assert.Equal(t, EventChaosResume, NewChaosResumeEvent("node-1").Type)
	})

	t.Run("FailureRate", func(t *testing.T) {
		ev := NewFailureRateBreachEvent(0.42, 5*time.Second)
		assert.Equal(t, EventFailureRateBreach, ev.Type)
		assert.InDelta(t, 0.42, ev.Data.FailureRate, 1e-9)
		assert.Equal(t, "5s", ev.Data.Delay)
	})

	t.Run("RunCompleted", func(t *testing.T) {
		ok := NewRunCompletedEvent("abc", nil)
		assert.Empty(t, ok.Data.Error)

		failed := NewRunCompletedEvent("abc", errors.New("setup failed"))
		assert.Equal(t, "setup failed", failed.Data.Error)
		assert.Equal(t, "abc", failed.Data.RunID)
	})
}
