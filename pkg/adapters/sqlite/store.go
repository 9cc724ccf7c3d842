// Package sqlite provides a SQLite-backed progress store and turn recorder.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var (
	_ ports.ProgressStore = (*Store)(nil)
	_ ports.TurnRecorder  = (*Store)(nil)
)

const terminal = `status NOT IN ('COMPLETED', 'ABANDONED')`

// Store provides SQLite-backed conversation progress.
// Conditional writes are single UPDATE statements guarded by their precondition.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create replaces any previous instance for the identity.
func (s *Store) Create(ctx context.Context, record *domain.ConversationRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE identity = ?`, string(record.Identity)); err != nil {
			return fmt.Errorf("clear answers: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO conversations (
	identity,
	instance_id,
	conversation_type,
	state,
	current_step,
	total_steps,
	allows_final_free_text,
	payload,
	status,
	last_event_id,
	version,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)
`,
			string(record.Identity),
			record.InstanceID,
			record.ConversationType,
			record.State,
			record.CurrentStep,
			record.TotalSteps,
			record.AllowsFinalFreeText,
			record.Payload,
			string(record.Status),
			record.Version,
			millis(record.CreatedAt),
			millis(record.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for step, answer := range record.Answers {
			if _, err := tx.ExecContext(ctx, `INSERT INTO answers (identity, step, answer) VALUES (?, ?, ?)`,
				string(record.Identity), step, answer); err != nil {
				return fmt.Errorf("insert answer: %w", err)
			}
		}
		return nil
	})
}

// ReadProgress loads the record and its answers.
func (s *Store) ReadProgress(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	rec := &domain.ConversationRecord{Identity: id, Answers: make(map[int]string)}
	var status string
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	instance_id,
	conversation_type,
	state,
	current_step,
	total_steps,
	allows_final_free_text,
	payload,
	status,
	last_event_id,
	version,
	created_at,
	updated_at
FROM conversations
WHERE identity = ?
`, string(id)).Scan(
		&rec.InstanceID,
		&rec.ConversationType,
		&rec.State,
		&rec.CurrentStep,
		&rec.TotalSteps,
		&rec.AllowsFinalFreeText,
		&rec.Payload,
		&status,
		&rec.LastEventID,
		&rec.Version,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	rec.Status = domain.Status(status)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT step, answer FROM answers WHERE identity = ? ORDER BY step`, string(id))
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var step int
		var answer string
		if err := rows.Scan(&step, &answer); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		rec.Answers[step] = answer
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return rec, nil
}

// ConditionalAdvance increments the step only if every precondition still holds.
func (s *Store) ConditionalAdvance(ctx context.Context, id domain.Identity, adv domain.Advance) (domain.AdvanceResult, error) {
	var result domain.AdvanceResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE conversations SET
	current_step = current_step + 1,
	state = ?,
	status = ?,
	last_event_id = ?,
	version = version + 1,
	updated_at = ?
WHERE identity = ?
	AND current_step = ?
	AND current_step < total_steps
	AND `+terminal+`
	AND (? = '' OR last_event_id <> ?)
	AND (? = '' OR instance_id = ?)
	AND (? = '' OR state = ?)
`,
			adv.ToState,
			string(adv.ToStatus),
			adv.EventID,
			millis(time.Now()),
			string(id),
			adv.FromStep,
			adv.EventID, adv.EventID,
			adv.InstanceID, adv.InstanceID,
			adv.FromState, adv.FromState,
		)
		if err != nil {
			return fmt.Errorf("advance conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance conversation: %w", err)
		}
		if n == 0 {
			return s.exists(ctx, tx, id)
		}

		step := adv.FromStep + 1
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO answers (identity, step, answer) VALUES (?, ?, ?)`,
			string(id), step, adv.Answer); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		result = domain.AdvanceResult{Success: true, NewStep: step}
		return nil
	})
	if err != nil {
		return domain.AdvanceResult{}, err
	}
	return result, nil
}

// Transition moves between states only if the stored state still equals t.FromState.
func (s *Store) Transition(ctx context.Context, id domain.Identity, t domain.Transition) (bool, error) {
	var moved bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE conversations SET
	state = ?,
	status = ?,
	last_event_id = CASE WHEN ? <> '' THEN ? ELSE last_event_id END,
	payload = CASE WHEN ? THEN ? ELSE payload END,
	version = version + 1,
	updated_at = ?
WHERE identity = ?
	AND state = ?
	AND `+terminal+`
`,
			t.ToState,
			string(t.Status),
			t.EventID, t.EventID,
			t.SetPayload, t.Payload,
			millis(time.Now()),
			string(id),
			t.FromState,
		)
		if err != nil {
			return fmt.Errorf("transition conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transition conversation: %w", err)
		}
		if n == 0 {
			return s.exists(ctx, tx, id)
		}
		moved = true
		return nil
	})
	return moved, err
}

// SetStatus overwrites the status.
func (s *Store) SetStatus(ctx context.Context, id domain.Identity, status domain.Status) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE conversations SET status = ?, version = version + 1, updated_at = ? WHERE identity = ?`,
		string(status), millis(time.Now()), string(id))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// Delete removes the conversation and its answers.
func (s *Store) Delete(ctx context.Context, id domain.Identity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE identity = ?`, string(id)); err != nil {
			return fmt.Errorf("delete answers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE identity = ?`, string(id)); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

// List returns stored identities in lexical order.
func (s *Store) List(ctx context.Context) ([]domain.Identity, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT identity FROM conversations ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []domain.Identity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ids = append(ids, domain.Identity(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return ids, nil
}

// exists maps a zero-row conditional update to "not found" or "precondition failed".
func (s *Store) exists(ctx context.Context, tx *sql.Tx, id domain.Identity) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE identity = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrConversationNotFound
	}
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
