package domain

import (
	"fmt"
	"time"
)

// Status defines the lifecycle stage of a conversation record.
type Status string

const (
	StatusActive        Status = "ACTIVE"         // Created, no prompt answered yet
	StatusAwaitingInput Status = "AWAITING_INPUT" // A prompt is pending an answer
	StatusCompleted     Status = "COMPLETED"      // Final step acknowledged
	StatusAbandoned     Status = "ABANDONED"      // User declined or was reset
)

// Terminal reports whether no further input can change the record.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Well-known state identifiers shared by the built-in conversation types.
const (
	StateInvite   = "invite"
	StateQuestion = "question"
	StateField    = "field"
	StateLookup   = "lookup"
	StateComment  = "comment"
	StateDone     = "done"
)

// ConversationRecord is the durable progress of one conversation instance.
type ConversationRecord struct {
	Identity         Identity `json:"identity"`
	InstanceID       string   `json:"instance_id"`
	ConversationType string   `json:"conversation_type"`

	// State is the registry state the conversation currently occupies.
	State string `json:"state"`

	// CurrentStep counts answered steps. It only ever increases for an instance.
	CurrentStep int `json:"current_step"`
	TotalSteps  int `json:"total_steps"`

	// AllowsFinalFreeText routes the last scored answer to the comment state
	// instead of completing the conversation.
	AllowsFinalFreeText bool `json:"allows_final_free_text"`

	// Answers maps the 1-based step number to the committed answer.
	Answers map[int]string `json:"answers,omitempty"`

	// Payload is an opaque blob carried between turns (see pkg/payload).
	Payload []byte `json:"payload,omitempty"`

	Status      Status    `json:"status"`
	LastEventID string    `json:"last_event_id,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewRecord creates a fresh conversation instance starting at step zero.
func NewRecord(id Identity, instanceID, conversationType, state string, totalSteps int, allowsFinalFreeText bool) *ConversationRecord {
	now := time.Now().UTC()
	return &ConversationRecord{
		Identity:            id,
		InstanceID:          instanceID,
		ConversationType:    conversationType,
		State:               state,
		TotalSteps:          totalSteps,
		AllowsFinalFreeText: allowsFinalFreeText,
		Answers:             make(map[int]string),
		Status:              StatusActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Validate checks the structural invariants of the record.
func (r *ConversationRecord) Validate() error {
	if r.Identity == "" {
		return fmt.Errorf("record: identity is required")
	}
	if r.TotalSteps <= 0 {
		return fmt.Errorf("record %s: total steps must be positive, got %d", r.Identity, r.TotalSteps)
	}
	if r.CurrentStep < 0 || r.CurrentStep > r.TotalSteps {
		return fmt.Errorf("record %s: current step %d outside [0, %d]", r.Identity, r.CurrentStep, r.TotalSteps)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate shared maps or slices.
func (r *ConversationRecord) Clone() *ConversationRecord {
	if r == nil {
		return nil
	}
	next := *r
	next.Answers = make(map[int]string, len(r.Answers))
	for k, v := range r.Answers {
		next.Answers[k] = v
	}
	if r.Payload != nil {
		next.Payload = append([]byte(nil), r.Payload...)
	}
	return &next
}
