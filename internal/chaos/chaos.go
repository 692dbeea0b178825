package chaos

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"churn-bench/internal/events"
	"churn-bench/internal/logger"
)

// AttackType は障害の種類を表す
type AttackType int

const (
	AttackSuspend AttackType = iota
	AttackDelay
	AttackFail
)

func (a AttackType) String() string {
	switch a {
	case AttackSuspend:
		return "suspend"
	case AttackDelay:
		return "delay"
	case AttackFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ParseAttackType は文字列から障害の種類を解析する
func ParseAttackType(s string) (AttackType, bool) {
	for _, a := range []AttackType{AttackSuspend, AttackDelay, AttackFail} {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}

func (a AttackType) event() events.AttackType {
	switch a {
	case AttackSuspend:
		return events.AttackTypeSuspend
	case AttackDelay:
		return events.AttackTypeDelay
	default:
		return events.AttackTypeFail
	}
}

// Target は障害を注入できる台帳ノード
type Target interface {
	ID() string
	Suspend() error
	Resume() error
	SetDelay(d time.Duration)
	SetFailureRate(rate float64)
}

// Config はChaosMonkeyの設定
type Config struct {
	Interval      time.Duration // 攻撃間隔
	TargetCount   int           // 同時攻撃対象数
	AttackTypes   []AttackType  // 有効な攻撃タイプ
	DelayDuration time.Duration // Delay攻撃時の遅延時間
	FailureRate   float64       // Fail攻撃時に拒否する送信の割合
	FaultDuration time.Duration // 障害の継続時間（0で停止まで継続）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:      10 * time.Second,
		TargetCount:   1,
		AttackTypes:   []AttackType{AttackSuspend, AttackDelay, AttackFail},
		DelayDuration: 200 * time.Millisecond,
		FailureRate:   0.5,
		FaultDuration: 3 * time.Second,
	}
}

// Stats はカオス攻撃の統計情報
type Stats struct {
	TotalAttacks uint64            `json:"total_attacks"`
	ByType       map[string]uint64 `json:"attacks_by_type"`
	Active       int               `json:"active_faults"`
}

type fault struct {
	target Target
	kind   AttackType
	since  time.Time
}

// Monkey は台帳ノードに一時的な障害を注入する
type Monkey struct {
	config   Config
	targets  []Target
	eventBus *events.Bus

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.RWMutex
	attackCount  uint64
	attackByType map[AttackType]uint64
	active       map[string]fault
}

// New は新しいChaosMonkeyを作成する
func New(targets []Target, config Config) *Monkey {
	return &Monkey{
		config:       config,
		targets:      targets,
		attackByType: make(map[AttackType]uint64),
		active:       make(map[string]fault),
	}
}

// SetEventBus はイベントバスを設定する
func (m *Monkey) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

// Start はカオス注入を開始する
func (m *Monkey) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.attackLoop()

	if m.config.FaultDuration > 0 {
		m.wg.Add(1)
		go m.healLoop()
	}

	logger.Info("chaos", "ChaosMonkey started (interval: %v, targets: %d)",
		m.config.Interval, m.config.TargetCount)
}

// Stop はカオス注入を停止し、残っている障害を全て解除する
func (m *Monkey) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()

	m.healAll()

	logger.Info("chaos", "ChaosMonkey stopped (total attacks: %d)", m.AttackCount())
}

func (m *Monkey) attackLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.attack()
		}
	}
}

func (m *Monkey) healLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(min(500*time.Millisecond, m.config.FaultDuration))
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.healExpired()
		}
	}
}

// attack は健全なノードを選んで障害を注入する
func (m *Monkey) attack() {
	m.mu.Lock()
	defer m.mu.Unlock()

	healthy := make([]Target, 0, len(m.targets))
	for _, t := range m.targets {
		if _, faulted := m.active[t.ID()]; !faulted {
			healthy = append(healthy, t)
		}
	}
	if len(healthy) == 0 {
		return
	}

	rand.Shuffle(len(healthy), func(i, j int) {
		healthy[i], healthy[j] = healthy[j], healthy[i]
	})
	count := min(max(m.config.TargetCount, 1), len(healthy))

	kind := m.selectAttackType()
	for _, t := range healthy[:count] {
		if m.inject(t, kind) {
			m.active[t.ID()] = fault{target: t, kind: kind, since: time.Now()}
			m.attackByType[kind]++
		}
	}
	m.attackCount++
}

func (m *Monkey) selectAttackType() AttackType {
	if len(m.config.AttackTypes) == 0 {
		return AttackSuspend
	}
	return m.config.AttackTypes[rand.IntN(len(m.config.AttackTypes))]
}

func (m *Monkey) inject(t Target, kind AttackType) bool {
	switch kind {
	case AttackSuspend:
		if err := t.Suspend(); err != nil {
			logger.Warn("chaos", "failed to suspend %s: %v", t.ID(), err)
			return false
		}
		logger.Warn("chaos", "suspended %s", t.ID())
		m.eventBus.Publish(events.NewChaosAttackEvent(t.ID(), kind.event()))
	case AttackDelay:
		t.SetDelay(m.config.DelayDuration)
		logger.Warn("chaos", "injected %v delay into %s", m.config.DelayDuration, t.ID())
		m.eventBus.Publish(events.NewChaosAttackEventWithDelay(t.ID(), m.config.DelayDuration))
	case AttackFail:
		t.SetFailureRate(m.config.FailureRate)
		logger.Warn("chaos", "%s now rejects %.0f%% of submissions", t.ID(), m.config.FailureRate*100)
		m.eventBus.Publish(events.NewChaosAttackEvent(t.ID(), kind.event()))
	default:
		return false
	}
	return true
}

func (m *Monkey) heal(f fault) {
	switch f.kind {
	case AttackSuspend:
		if err := f.target.Resume(); err != nil {
			logger.Warn("chaos", "failed to resume %s: %v", f.target.ID(), err)
			return
		}
	case AttackDelay:
		f.target.SetDelay(0)
	case AttackFail:
		f.target.SetFailureRate(0)
	}
	logger.Info("chaos", "cleared %s fault on %s", f.kind, f.target.ID())
	m.eventBus.Publish(events.NewChaosResumeEvent(f.target.ID()))
}

func (m *Monkey) healExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, f := range m.active {
		if now.Sub(f.since) >= m.config.FaultDuration {
			m.heal(f)
			delete(m.active, id)
		}
	}
}

func (m *Monkey) healAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.active {
		m.heal(f)
	}
	m.active = make(map[string]fault)
}

// IsRunning は実行中かどうかを返す
func (m *Monkey) IsRunning() bool {
	return m.running.Load()
}

// AttackCount は攻撃回数を返す
func (m *Monkey) AttackCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attackCount
}

// Stats は攻撃統計を返す
func (m *Monkey) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]uint64)
	for t, count := range m.attackByType {
		byType[t.String()] = count
	}

	return Stats{
		TotalAttacks: m.attackCount,
		ByType:       byType,
		Active:       len(m.active),
	}
}
