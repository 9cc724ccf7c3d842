package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Kind is the closed set of step handlers the engine knows how to run.
type Kind int

const (
	KindNotUnderstood Kind = iota
	KindInvite
	KindRating
	KindField
	KindComment
	KindLookup
)

func (k Kind) String() string {
	switch k {
	case KindInvite:
		return "invite"
	case KindRating:
		return "rating"
	case KindField:
		return "field"
	case KindComment:
		return "comment"
	case KindLookup:
		return "lookup"
	default:
		return "not_understood"
	}
}

// ControlSeparator splits the prefix and bound parameters of a control id.
const ControlSeparator = ":"

// Control prefixes used by the built-in conversation types.
const (
	ControlInvite = "invite"
	ControlRate   = "rate"
)

// Definition describes one conversation type.
type Definition struct {
	Type string

	// States is the ordered list of states the conversation may occupy.
	States []string

	// Handlers maps a state to the handler that consumes input in that state.
	Handlers map[string]Kind

	// Controls maps a control-id prefix to the handler that consumes the click.
	Controls map[string]Kind

	// AnswerState is the state held while scored steps remain.
	AnswerState string

	// AllowsFinalFreeText is the default for new records of this type.
	AllowsFinalFreeText bool
}

// InitialState returns the state a new conversation starts in.
func (d *Definition) InitialState() string {
	return d.States[0]
}

// HasState reports whether state belongs to this definition.
func (d *Definition) HasState(state string) bool {
	for _, s := range d.States {
		if s == state {
			return true
		}
	}
	return false
}

// CommentState returns the state that collects the trailing free-text comment.
func (d *Definition) CommentState() (string, bool) {
	for _, s := range d.States {
		if d.Handlers[s] == KindComment {
			return s, true
		}
	}
	return "", false
}

// Validate checks that every mapped state is declared.
func (d *Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("definition: type is required")
	}
	if len(d.States) == 0 {
		return fmt.Errorf("definition %s: at least one state is required", d.Type)
	}
	for state := range d.Handlers {
		if !d.HasState(state) {
			return fmt.Errorf("definition %s: handler bound to undeclared state %q", d.Type, state)
		}
	}
	if !d.HasState(domain.StateDone) {
		return fmt.Errorf("definition %s: the %q state is required", d.Type, domain.StateDone)
	}
	if !d.HasState(d.AnswerState) {
		return fmt.Errorf("definition %s: answer state %q is not declared", d.Type, d.AnswerState)
	}
	for prefix := range d.Controls {
		if prefix == "" || strings.Contains(prefix, ControlSeparator) {
			return fmt.Errorf("definition %s: invalid control prefix %q", d.Type, prefix)
		}
	}
	return nil
}

// Control is a parsed control id: the prefix plus the parameters bound into it.
type Control struct {
	ID     string
	Prefix string
	Params []string
}

// ParseControl splits "rate:3:5" into prefix "rate" and params ["3", "5"].
func ParseControl(id string) Control {
	parts := strings.Split(strings.TrimSpace(id), ControlSeparator)
	return Control{ID: id, Prefix: parts[0], Params: parts[1:]}
}

// Param returns the i-th bound parameter, or "" if absent.
func (c Control) Param(i int) string {
	if i < 0 || i >= len(c.Params) {
		return ""
	}
	return c.Params[i]
}

// Int parses the i-th bound parameter as an integer.
func (c Control) Int(i int) (int, error) {
	raw := c.Param(i)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("control %q: parameter %d is not an integer: %q", c.ID, i, raw)
	}
	return n, nil
}

// RatingControl builds the control id of a rating button for a step.
func RatingControl(step, value int) string {
	return ControlRate + ControlSeparator + strconv.Itoa(step) + ControlSeparator + strconv.Itoa(value)
}

// InviteControl builds the control id of an invitation button.
func InviteControl(accept bool) string {
	if accept {
		return ControlInvite + ControlSeparator + "accept"
	}
	return ControlInvite + ControlSeparator + "decline"
}

// Resolution is the handler selected for an inbound event.
type Resolution struct {
	Kind Kind

	// Control is set when the handler was selected by a control id.
	Control *Control
}

// Registry holds the conversation definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register validates and adds a definition.
// If a definition with the same type exists, it is overwritten.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
	return nil
}

// Lookup returns the definition of a conversation type.
func (r *Registry) Lookup(conversationType string) (*Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[conversationType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownConversationType, conversationType)
	}
	return def, nil
}

// Types lists registered conversation types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Resolve selects the handler for an event: a mapped control id wins, then the
// handler of the persisted state, then KindNotUnderstood. It never fails.
func (r *Registry) Resolve(conversationType, state, controlID string) Resolution {
	def, err := r.Lookup(conversationType)
	if err != nil {
		return Resolution{Kind: KindNotUnderstood}
	}
	if controlID != "" {
		ctrl := ParseControl(controlID)
		if kind, ok := def.Controls[ctrl.Prefix]; ok {
			return Resolution{Kind: kind, Control: &ctrl}
		}
	}
	if kind, ok := def.Handlers[state]; ok {
		return Resolution{Kind: kind}
	}
	return Resolution{Kind: KindNotUnderstood}
}
