package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Record persists one turn summary.
func (s *Store) Record(ctx context.Context, event domain.TurnEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO turns (
	identity,
	event_id,
	state,
	handler,
	outcome,
	duration_ms,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		string(event.Identity),
		event.EventID,
		event.State,
		event.Handler,
		string(event.Outcome),
		event.Duration.Milliseconds(),
		millis(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// ListTurns lists the newest turns of an identity.
func (s *Store) ListTurns(ctx context.Context, id domain.Identity, limit int) ([]domain.TurnEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	event_id,
	state,
	handler,
	outcome,
	duration_ms,
	created_at
FROM turns
WHERE identity = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]domain.TurnEvent, 0, limit)
	for rows.Next() {
		turn := domain.TurnEvent{Identity: id}
		var outcome string
		var durationMS, createdAt int64
		if err := rows.Scan(&turn.EventID, &turn.State, &turn.Handler, &outcome, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Outcome = domain.Outcome(outcome)
		turn.Duration = time.Duration(durationMS) * time.Millisecond
		turn.Timestamp = time.UnixMilli(createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}
