package domain

import "time"

// MaxChoices is the channel's cap on options in one interactive prompt.
const MaxChoices = 3

// Event is one inbound delivery from the channel.
// The same logical click or message may arrive more than once.
type Event struct {
	// ID is the channel's message id, stable across redeliveries.
	ID       string   `json:"id"`
	Identity Identity `json:"identity"`

	// Text holds free-text input. Empty for button clicks.
	Text string `json:"text,omitempty"`

	// ControlID identifies the clicked button, e.g. "rate:3:5".
	ControlID string `json:"control_id,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// Choice is one option of an interactive prompt.
type Choice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Step is the read-only definition of one prompt in a conversation type.
type Step struct {
	Index  int    `json:"index" mapstructure:"index"`
	Prompt string `json:"prompt" mapstructure:"prompt"`

	// Field names the value collected by an intake step.
	Field string `json:"field,omitempty" mapstructure:"field"`

	// Pattern is an optional regular expression an intake answer must match.
	Pattern string `json:"pattern,omitempty" mapstructure:"pattern"`

	// Hint is shown when the answer does not match Pattern.
	Hint string `json:"hint,omitempty" mapstructure:"hint"`
}

// Document is the result of a ticket or document lookup.
type Document struct {
	Code    string `json:"code" mapstructure:"code"`
	Title   string `json:"title" mapstructure:"title"`
	Status  string `json:"status" mapstructure:"status"`
	Summary string `json:"summary" mapstructure:"summary"`
}
