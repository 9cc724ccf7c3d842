package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var _ ports.ProgressStore = (*Store)(nil)

// Store implements ports.ProgressStore using Redis.
//
// Each conversation is a hash plus a hash of answers. Conditional writes run as
// Lua scripts, so the check and the write are one atomic step on the server.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration of a conversation, counted from its creation.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromURL creates a store from a redis:// URL.
func NewFromURL(url string, opts ...Option) (*Store, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewFromClient(backend.NewClient(o), opts...), nil
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "stepwise:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(id domain.Identity) string {
	return s.prefix + "conv:" + string(id)
}

func (s *Store) answersKey(id domain.Identity) string {
	return s.prefix + "conv:" + string(id) + ":answers"
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Create replaces any previous instance for the identity.
func (s *Store) Create(ctx context.Context, record *domain.ConversationRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	id := record.Identity

	// Score = Now + TTL. If TTL = 0, Score = +Inf (approx).
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.key(id), s.answersKey(id))
		pipe.HSet(ctx, s.key(id), encode(record))
		if len(record.Answers) > 0 {
			answers := make(map[string]any, len(record.Answers))
			for step, a := range record.Answers {
				answers[strconv.Itoa(step)] = a
			}
			pipe.HSet(ctx, s.answersKey(id), answers)
		}
		if s.ttl > 0 {
			pipe.PExpire(ctx, s.key(id), s.ttl)
			pipe.PExpire(ctx, s.answersKey(id), s.ttl)
		}
		pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: string(id)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation in redis: %w", err)
	}
	return nil
}

// ReadProgress loads the record and its answers.
func (s *Store) ReadProgress(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	var fields, answers *backend.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(pipe backend.Pipeliner) error {
		fields = pipe.HGetAll(ctx, s.key(id))
		answers = pipe.HGetAll(ctx, s.answersKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	if len(fields.Val()) == 0 {
		return nil, domain.ErrConversationNotFound
	}
	return decode(id, fields.Val(), answers.Val())
}

// ConditionalAdvance runs the advance script.
func (s *Store) ConditionalAdvance(ctx context.Context, id domain.Identity, adv domain.Advance) (domain.AdvanceResult, error) {
	n, err := advanceScript.Run(ctx, s.client,
		[]string{s.key(id), s.answersKey(id)},
		adv.FromStep, adv.Answer, adv.EventID, adv.ToState, string(adv.ToStatus), now(), adv.InstanceID, adv.FromState,
	).Int()
	if err != nil {
		return domain.AdvanceResult{}, fmt.Errorf("redis advance: %w", err)
	}
	switch {
	case n < 0:
		return domain.AdvanceResult{}, domain.ErrConversationNotFound
	case n == 0:
		return domain.AdvanceResult{}, nil
	default:
		return domain.AdvanceResult{Success: true, NewStep: n}, nil
	}
}

// Transition runs the transition script.
func (s *Store) Transition(ctx context.Context, id domain.Identity, t domain.Transition) (bool, error) {
	set := "0"
	if t.SetPayload {
		set = "1"
	}
	n, err := transitionScript.Run(ctx, s.client,
		[]string{s.key(id)},
		t.FromState, t.ToState, string(t.Status), t.EventID, set, t.Payload, now(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis transition: %w", err)
	}
	if n < 0 {
		return false, domain.ErrConversationNotFound
	}
	return n == 1, nil
}

// SetStatus overwrites the status.
func (s *Store) SetStatus(ctx context.Context, id domain.Identity, status domain.Status) error {
	n, err := statusScript.Run(ctx, s.client, []string{s.key(id)}, string(status), now()).Int()
	if err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	if n < 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// Delete removes the conversation.
func (s *Store) Delete(ctx context.Context, id domain.Identity) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(id), s.answersKey(id))
	pipe.ZRem(ctx, s.indexKey(), string(id))

	_, err := pipe.Exec(ctx)
	return err
}

// List returns known identities, pruning expired ones from the index first.
func (s *Store) List(ctx context.Context) ([]domain.Identity, error) {
	// Lazy Cleanup: Remove expired keys from Index
	ts := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", ts)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired conversations: %w", err)
	}

	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	ids := make([]domain.Identity, len(members))
	for i, m := range members {
		ids[i] = domain.Identity(m)
	}
	return ids, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func encode(r *domain.ConversationRecord) map[string]any {
	return map[string]any{
		"instance_id":            r.InstanceID,
		"conversation_type":      r.ConversationType,
		"state":                  r.State,
		"current_step":           r.CurrentStep,
		"total_steps":            r.TotalSteps,
		"allows_final_free_text": strconv.FormatBool(r.AllowsFinalFreeText),
		"payload":                r.Payload,
		"status":                 string(r.Status),
		"last_event_id":          "",
		"version":                r.Version,
		"created_at":             r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":             r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decode(id domain.Identity, f map[string]string, answers map[string]string) (*domain.ConversationRecord, error) {
	var errs []error
	atoi := func(k string) int {
		n, err := strconv.Atoi(f[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", k, err))
		}
		return n
	}
	ts := func(k string) time.Time {
		t, err := time.Parse(time.RFC3339Nano, f[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", k, err))
		}
		return t
	}

	rec := &domain.ConversationRecord{
		Identity:            id,
		InstanceID:          f["instance_id"],
		ConversationType:    f["conversation_type"],
		State:               f["state"],
		CurrentStep:         atoi("current_step"),
		TotalSteps:          atoi("total_steps"),
		AllowsFinalFreeText: f["allows_final_free_text"] == "true",
		Status:              domain.Status(f["status"]),
		LastEventID:         f["last_event_id"],
		Version:             int64(atoi("version")),
		CreatedAt:           ts("created_at"),
		UpdatedAt:           ts("updated_at"),
		Answers:             make(map[int]string, len(answers)),
	}
	if p := f["payload"]; p != "" {
		rec.Payload = []byte(p)
	}
	for k, v := range answers {
		step, err := strconv.Atoi(k)
		if err != nil {
			errs = append(errs, fmt.Errorf("answer key %q: %w", k, err))
			continue
		}
		rec.Answers[step] = v
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("corrupt conversation %s: %w", id, err)
	}
	return rec, nil
}
