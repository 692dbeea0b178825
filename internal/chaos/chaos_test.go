package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-bench/internal/events"
	"churn-bench/internal/node"
)

func nodes(t *testing.T, n int) ([]*node.Node, []Target) {
	t.Helper()
	var ns []*node.Node
	var ts []Target
	for i := range n {
		nd := node.New("ledger-" + string(rune('a'+i)))
		require.NoError(t, nd.Start(context.Background()))
		t.Cleanup(func() { _ = nd.Stop() })
		ns = append(ns, nd)
		ts = append(ts, nd)
	}
	return ns, ts
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 10*time.Second, config.Interval)
	assert.Equal(t, 1, config.TargetCount)
	assert.Len(t, config.AttackTypes, 3)
}

func TestAttackTypeString(t *testing.T) {
	assert.Equal(t, "suspend", AttackSuspend.String())
	assert.Equal(t, "delay", AttackDelay.String())
	assert.Equal(t, "fail", AttackFail.String())
	assert.Equal(t, "unknown", AttackType(99).String())

	a, ok := ParseAttackType("fail")
	assert.True(t, ok)
	assert.Equal(t, AttackFail, a)
	_, ok = ParseAttackType("kill")
	assert.False(t, ok)
}

func TestAttackSuspendAndHeal(t *testing.T) {
	ns, ts := nodes(t, 2)

	config := DefaultConfig()
	config.AttackTypes = []AttackType{AttackSuspend}
	config.FaultDuration = 10 * time.Millisecond
	m := New(ts, config)

	m.attack()

	suspended := 0
	for _, n := range ns {
		if n.Status() == node.StatusSuspended {
			suspended++
		}
	}
	assert.Equal(t, 1, suspended)
	assert.Equal(t, 1, m.Stats().Active)

	time.Sleep(15 * time.Millisecond)
	m.healExpired()
	for _, n := range ns {
		assert.Equal(t, node.StatusRunning, n.Status())
	}
	assert.Equal(t, 0, m.Stats().Active)
}

func TestAttackDelayAndFail(t *testing.T) {
	ns, ts := nodes(t, 1)
	bus := events.NewBus()
	ch := bus.Subscribe()

	config := DefaultConfig()
	config.AttackTypes = []AttackType{AttackDelay}
	config.DelayDuration = 40 * time.Millisecond
	m := New(ts, config)
	m.SetEventBus(bus)

	m.attack()
	assert.Equal(t, 40*time.Millisecond, ns[0].Delay())

	ev := <-ch
	assert.Equal(t, events.EventChaosAttack, ev.Type)
	assert.Equal(t, events.AttackTypeDelay, ev.Data.AttackType)

	// 障害中のノードは再び選ばれない
	m.attack()
	assert.Equal(t, uint64(1), m.Stats().ByType["delay"])

	m.healAll()
	assert.Zero(t, ns[0].Delay())

	config.AttackTypes = []AttackType{AttackFail}
	config.FailureRate = 0.25
	m = New(ts, config)
	m.attack()
	assert.InDelta(t, 0.25, ns[0].FailureRate(), 1e-9)
	m.healAll()
	assert.Zero(t, ns[0].FailureRate())
}

func TestMonkeyStartStop(t *testing.T) {
	ns, ts := nodes(t, 3)

	config := DefaultConfig()
	config.Interval = 20 * time.Millisecond
	config.TargetCount = 3
	config.AttackTypes = []AttackType{AttackSuspend}
	config.FaultDuration = time.Hour

	m := New(ts, config)
	assert.False(t, m.IsRunning())

	m.Start(context.Background())
	m.Start(context.Background())
	assert.True(t, m.IsRunning())

	assert.Eventually(t, func() bool { return m.AttackCount() >= 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())

	for _, n := range ns {
		assert.Equal(t, node.StatusRunning, n.Status(), "Stop must clear every fault")
	}
}
