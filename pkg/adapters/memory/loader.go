package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Steps implements ports.StepSource using an in-memory map.
type Steps struct {
	mu    sync.RWMutex
	steps map[string][]domain.Step
}

// NewSteps creates a step source from conversation type to ordered prompts.
// Step indexes are assigned from the slice order (1-based).
func NewSteps(data map[string][]string) *Steps {
	s := &Steps{steps: make(map[string][]domain.Step)}
	for kind, prompts := range data {
		steps := make([]domain.Step, 0, len(prompts))
		for i, p := range prompts {
			steps = append(steps, domain.Step{Index: i + 1, Prompt: p})
		}
		s.steps[kind] = steps
	}
	return s
}

// Put replaces the step definitions of a conversation type.
func (s *Steps) Put(conversationType string, steps ...domain.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[conversationType] = append([]domain.Step(nil), steps...)
}

// ListSteps returns a copy of the ordered steps.
func (s *Steps) ListSteps(ctx context.Context, conversationType string) ([]domain.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps, ok := s.steps[conversationType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownConversationType, conversationType)
	}
	return append([]domain.Step(nil), steps...), nil
}

// Directory implements ports.Directory in memory. Codes are case-insensitive.
type Directory struct {
	docs map[string]domain.Document
}

// NewDirectory indexes the given documents by code.
func NewDirectory(docs ...domain.Document) *Directory {
	d := &Directory{docs: make(map[string]domain.Document, len(docs))}
	for _, doc := range docs {
		d.docs[strings.ToUpper(doc.Code)] = doc
	}
	return d
}

// Find resolves a document by code.
func (d *Directory) Find(ctx context.Context, code string) (domain.Document, error) {
	doc, ok := d.docs[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return doc, nil
}
