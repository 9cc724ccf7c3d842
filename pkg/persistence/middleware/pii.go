package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
)

// Mask replaces every redacted match.
const Mask = "***"

type piiMiddleware struct {
	next     ports.ProgressStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware masks the parts of each answer that match one of the
// patterns before it is written. Masked answers cannot be recovered.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, 0, len(patternStrings))
	for _, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pii pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return func(next ports.ProgressStore) ports.ProgressStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) mask(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, Mask)
	}
	return s
}

func (m *piiMiddleware) Create(ctx context.Context, record *domain.ConversationRecord) error {
	masked := record.Clone()
	for step, answer := range masked.Answers {
		masked.Answers[step] = m.mask(answer)
	}
	return m.next.Create(ctx, masked)
}

func (m *piiMiddleware) ReadProgress(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	return m.next.ReadProgress(ctx, id)
}

func (m *piiMiddleware) ConditionalAdvance(ctx context.Context, id domain.Identity, adv domain.Advance) (domain.AdvanceResult, error) {
	adv.Answer = m.mask(adv.Answer)
	return m.next.ConditionalAdvance(ctx, id, adv)
}

func (m *piiMiddleware) Transition(ctx context.Context, id domain.Identity, t domain.Transition) (bool, error) {
	return m.next.Transition(ctx, id, t)
}

func (m *piiMiddleware) SetStatus(ctx context.Context, id domain.Identity, status domain.Status) error {
	return m.next.SetStatus(ctx, id, status)
}

func (m *piiMiddleware) Delete(ctx context.Context, id domain.Identity) error {
	return m.next.Delete(ctx, id)
}

func (m *piiMiddleware) List(ctx context.Context) ([]domain.Identity, error) {
	return m.next.List(ctx)
}
