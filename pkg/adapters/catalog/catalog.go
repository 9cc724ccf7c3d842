// Package catalog loads conversation definitions and lookup documents from YAML.
//
// A catalog file looks like:
//
//	metadata_ttl: 1h
//	conversations:
//	  survey:
//	    steps:
//	      - prompt: "How was the service?"
//	  nps:
//	    base: survey
//	    allows_final_free_text: false
//	    steps:
//	      - prompt: "Would you recommend us?"
//	documents:
//	  - code: TCK-100
//	    title: Broken login
//	    status: open
//
// Conversation types that are not built in must name a built-in base.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var (
	_ ports.StepSource = (*Catalog)(nil)
	_ ports.Directory  = (*Catalog)(nil)
)

type file struct {
	MetadataTTL   time.Duration           `mapstructure:"metadata_ttl"`
	Conversations map[string]conversation `mapstructure:"conversations"`
	Documents     []domain.Document       `mapstructure:"documents"`
}

type conversation struct {
	Base                string        `mapstructure:"base"`
	AllowsFinalFreeText *bool         `mapstructure:"allows_final_free_text"`
	Steps               []domain.Step `mapstructure:"steps"`
}

// Catalog is an immutable, validated view of a catalog file.
type Catalog struct {
	metadataTTL   time.Duration
	conversations map[string]conversation
	documents     map[string]domain.Document
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML into a validated catalog.
// Unknown keys are rejected so typos surface at load time.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	var f file
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &f,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	c := &Catalog{
		metadataTTL:   f.MetadataTTL,
		conversations: make(map[string]conversation, len(f.Conversations)),
		documents:     make(map[string]domain.Document, len(f.Documents)),
	}
	for name, conv := range f.Conversations {
		for i := range conv.Steps {
			conv.Steps[i].Index = i + 1
		}
		c.conversations[strings.TrimSpace(name)] = conv
	}
	for _, doc := range f.Documents {
		doc.Code = strings.ToUpper(strings.TrimSpace(doc.Code))
		c.documents[doc.Code] = doc
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every conversation and document.
// All problems are reported together.
func (c *Catalog) Validate() error {
	var errs []error
	if c.metadataTTL < 0 {
		errs = append(errs, fmt.Errorf("metadata_ttl must not be negative"))
	}
	for _, name := range c.Types() {
		conv := c.conversations[name]
		if name == "" {
			errs = append(errs, errors.New("conversation with empty name"))
			continue
		}
		if _, err := c.definition(name, conv); err != nil {
			errs = append(errs, err)
		}
		if len(conv.Steps) == 0 {
			errs = append(errs, fmt.Errorf("conversation %s: no steps", name))
		}
		for _, step := range conv.Steps {
			if strings.TrimSpace(step.Prompt) == "" {
				errs = append(errs, fmt.Errorf("conversation %s step %d: empty prompt", name, step.Index))
			}
			if step.Pattern != "" {
				if _, err := regexp.Compile(step.Pattern); err != nil {
					errs = append(errs, fmt.Errorf("conversation %s step %d: pattern: %w", name, step.Index, err))
				}
			}
		}
	}
	for code, doc := range c.documents {
		if code == "" {
			errs = append(errs, errors.New("document with empty code"))
		}
		if doc.Title == "" {
			errs = append(errs, fmt.Errorf("document %s: empty title", code))
		}
	}
	return errors.Join(errs...)
}

// MetadataTTL is the step-metadata TTL requested by the file, or zero.
func (c *Catalog) MetadataTTL() time.Duration {
	return c.metadataTTL
}

// Types returns the conversation types in the catalog, sorted.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.conversations))
	for name := range c.conversations {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// ListSteps returns a copy of the steps of a conversation type.
func (c *Catalog) ListSteps(_ context.Context, conversationType string) ([]domain.Step, error) {
	conv, ok := c.conversations[conversationType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownConversationType, conversationType)
	}
	return append([]domain.Step(nil), conv.Steps...), nil
}

// Find resolves a document code, case-insensitively.
func (c *Catalog) Find(_ context.Context, code string) (domain.Document, error) {
	doc, ok := c.documents[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// Register adds every catalog conversation type to reg, replacing
// built-in definitions of the same name.
func (c *Catalog) Register(reg *registry.Registry) error {
	for _, name := range c.Types() {
		def, err := c.definition(name, c.conversations[name])
		if err != nil {
			return err
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}

func (c *Catalog) definition(name string, conv conversation) (*registry.Definition, error) {
	baseName := conv.Base
	if builtin(name) != nil {
		if baseName != "" && baseName != name {
			return nil, fmt.Errorf("conversation %s: built-in type cannot change base to %s", name, baseName)
		}
		baseName = name
	}
	if baseName == "" {
		return nil, fmt.Errorf("conversation %s: base is required for custom types", name)
	}
	base := builtin(baseName)
	if base == nil {
		return nil, fmt.Errorf("conversation %s: unknown base %q", name, baseName)
	}
	def := *base
	def.Type = name
	if conv.AllowsFinalFreeText != nil {
		def.AllowsFinalFreeText = *conv.AllowsFinalFreeText
	}
	if def.AllowsFinalFreeText {
		if _, ok := def.CommentState(); !ok {
			return nil, fmt.Errorf("conversation %s: base %s has no comment state", name, baseName)
		}
	}
	return &def, nil
}

func builtin(name string) *registry.Definition {
	switch name {
	case registry.TypeSurvey:
		return registry.Survey()
	case registry.TypeIntake:
		return registry.Intake()
	case registry.TypeLookup:
		return registry.Lookup()
	}
	return nil
}
