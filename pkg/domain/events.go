package domain

import (
	"context"
	"time"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeAdvanced      Outcome = "advanced"
	OutcomeTransitioned  Outcome = "transitioned"
	OutcomeReplied       Outcome = "replied"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeLostRace      Outcome = "lost_race"
	OutcomeNotUnderstood Outcome = "not_understood"
	OutcomeFailed        Outcome = "failed"
)

// TurnEvent summarizes one dispatched inbound event.
type TurnEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Identity  Identity      `json:"identity"`
	EventID   string        `json:"event_id"`
	State     string        `json:"state"`
	Handler   string        `json:"handler"`
	Outcome   Outcome       `json:"outcome"`
	Duration  time.Duration `json:"duration"`
}

// AdvanceEvent reports the result of one step-advancement attempt.
type AdvanceEvent struct {
	Identity Identity
	Step     int
	Outcome  Outcome
}

// CacheEvent reports a cache lookup.
type CacheEvent struct {
	Identity Identity
	Hit      bool
}

// TimerEvent reports a named latency measurement taken by a handler.
type TimerEvent struct {
	Identity Identity
	Name     string
	Duration time.Duration
}

// Hooks defines callbacks for engine observability.
// All callbacks are optional and must not block.
type Hooks struct {
	OnTurn    func(context.Context, *TurnEvent)
	OnAdvance func(context.Context, *AdvanceEvent)
	OnCache   func(context.Context, *CacheEvent)
	OnTimer   func(context.Context, *TimerEvent)
}
