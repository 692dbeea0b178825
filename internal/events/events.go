// Package events carries run notifications from the load generator's
// control loops to observers such as the live monitor.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventRunStarted is emitted when workers begin the steady-state loop
	EventRunStarted EventType = "run_started"
	// EventRunCompleted is emitted after every worker has joined
	EventRunCompleted EventType = "run_completed"
	// EventPressureChange is emitted when the memory pressure level changes
	EventPressureChange EventType = "pressure_change"
	// EventFailureRateBreach is emitted when the global failure rate crosses the critical threshold
	EventFailureRateBreach EventType = "failure_rate_breach"
	// EventBackoffEscalation is emitted when a worker starts delaying after consecutive failures
	EventBackoffEscalation EventType = "backoff_escalation"
	// EventChaosAttack is emitted when a fault is injected into the ledger node
	EventChaosAttack EventType = "chaos_attack"
	// EventChaosResume is emitted when an injected fault is cleared
	EventChaosResume EventType = "chaos_resume"
)

// AttackType represents the type of injected fault
type AttackType string

const (
	AttackTypeSuspend AttackType = "suspend"
	AttackTypeDelay   AttackType = "delay"
	AttackTypeFail    AttackType = "fail"
)

// Event represents a run notification
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// Source names the emitter: a worker id, "pressure", "throttle" or a node id
	Source string    `json:"source"`
	Data   EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	RunID       string     `json:"run_id,omitempty"`
	Level       string     `json:"level,omitempty"`
	Previous    string     `json:"previous,omitempty"`
	Usage       float64    `json:"usage,omitempty"`
	FailureRate float64    `json:"failure_rate,omitempty"`
	Failures    int        `json:"failures,omitempty"`
	Delay       string     `json:"delay,omitempty"`
	AttackType  AttackType `json:"attack_type,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func newEvent(typ EventType, source string, data EventData) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// NewRunStartedEvent creates a run started event
func NewRunStartedEvent(runID string) Event {
	return newEvent(EventRunStarted, "", EventData{RunID: runID})
}

// NewRunCompletedEvent creates a run completed event
func NewRunCompletedEvent(runID string, err error) Event {
	data := EventData{RunID: runID}
	if err != nil {
		data.Error = err.Error()
	}
	return newEvent(EventRunCompleted, "", data)
}

// NewPressureChangeEvent creates a pressure level transition event
func NewPressureChangeEvent(previous, current string, usage float64) Event {
	return newEvent(EventPressureChange, "pressure", EventData{
		Level:    current,
		Previous: previous,
		Usage:    usage,
	})
}

// NewFailureRateBreachEvent creates a critical failure rate event
func NewFailureRateBreachEvent(rate float64, pause time.Duration) Event {
	return newEvent(EventFailureRateBreach, "throttle", EventData{
		FailureRate: rate,
		Delay:       pause.String(),
	})
}

// NewBackoffEscalationEvent creates a per-worker backoff event
func NewBackoffEscalationEvent(workerID string, failures int, delay time.Duration) Event {
	return newEvent(EventBackoffEscalation, workerID, EventData{
		Failures: failures,
		Delay:    delay.String(),
	})
}

// NewChaosAttackEvent creates a new chaos attack event
func NewChaosAttackEvent(nodeID string, attackType AttackType) Event {
	return newEvent(EventChaosAttack, nodeID, EventData{AttackType: attackType})
}

// NewChaosAttackEventWithDelay creates a chaos attack event for delay injection
func NewChaosAttackEventWithDelay(nodeID string, delay time.Duration) Event {
	return newEvent(EventChaosAttack, nodeID, EventData{
		AttackType: AttackTypeDelay,
		Delay:      delay.String(),
	})
}

// NewChaosResumeEvent creates a chaos resume event
func NewChaosResumeEvent(nodeID string) Event {
	return newEvent(EventChaosResume, nodeID, EventData{})
}
