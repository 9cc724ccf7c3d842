package domain

// Advance is the conditional commit of one answered step.
// The store applies it only if the stored step still equals FromStep,
// the record is not terminal, and EventID was not already committed.
// A non-empty InstanceID or FromState must also match the stored record.
type Advance struct {
	FromStep   int
	InstanceID string
	FromState  string
	Answer     string
	EventID    string

	// ToState and ToStatus are decided once by the caller at commit time,
	// so a duplicate final answer cannot re-trigger the trailing step.
	ToState  string
	ToStatus Status
}

// AdvanceResult reports the outcome of a conditional commit.
// Success is false when the precondition did not hold; that is not an error.
type AdvanceResult struct {
	Success bool
	NewStep int
}

// Transition moves a record between states without consuming a step.
// It only applies if the stored state still equals FromState.
type Transition struct {
	FromState string
	ToState   string
	Status    Status

	// EventID, when set, is recorded as the last committed event.
	EventID string

	// Payload replaces the stored payload when SetPayload is true.
	Payload    []byte
	SetPayload bool
}
