package domain

// Field constants for payload and JSON standardization.
const (
	// KeyComment is the payload key holding the trailing free-text comment.
	KeyComment = "comment"

	// KeyDeclinedAt is the payload key set when the user declines an invitation.
	KeyDeclinedAt = "declined_at"
)
