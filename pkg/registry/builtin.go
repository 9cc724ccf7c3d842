package registry

import "github.com/aretw0/stepwise/pkg/domain"

// Built-in conversation types.
const (
	TypeSurvey = "survey"
	TypeIntake = "intake"
	TypeLookup = "lookup"
)

// Survey asks scored questions (1-5), optionally followed by a free-text comment.
func Survey() *Definition {
	return &Definition{
		Type:   TypeSurvey,
		States: []string{domain.StateInvite, domain.StateQuestion, domain.StateComment, domain.StateDone},
		Handlers: map[string]Kind{
			domain.StateInvite:   KindInvite,
			domain.StateQuestion: KindRating,
			domain.StateComment:  KindComment,
		},
		Controls: map[string]Kind{
			ControlInvite: KindInvite,
			ControlRate:   KindRating,
		},
		AnswerState:         domain.StateQuestion,
		AllowsFinalFreeText: true,
	}
}

// Intake collects free-text fields, each validated by its step pattern.
func Intake() *Definition {
	return &Definition{
		Type:   TypeIntake,
		States: []string{domain.StateInvite, domain.StateField, domain.StateDone},
		Handlers: map[string]Kind{
			domain.StateInvite: KindInvite,
			domain.StateField:  KindField,
		},
		Controls: map[string]Kind{
			ControlInvite: KindInvite,
		},
		AnswerState: domain.StateField,
	}
}

// Lookup resolves a ticket or document code in a single step.
func Lookup() *Definition {
	return &Definition{
		Type:   TypeLookup,
		States: []string{domain.StateLookup, domain.StateDone},
		Handlers: map[string]Kind{
			domain.StateLookup: KindLookup,
		},
		AnswerState: domain.StateLookup,
	}
}

// Builtin returns a registry holding the built-in conversation types.
func Builtin() *Registry {
	r := NewRegistry()
	for _, def := range []*Definition{Survey(), Intake(), Lookup()} {
		if err := r.Register(def); err != nil {
			panic("registry: invalid built-in definition: " + err.Error())
		}
	}
	return r
}
