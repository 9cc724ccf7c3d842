package runtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/stepwise/internal/retry"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/payload"
	"github.com/aretw0/stepwise/pkg/registry"
)

// Rating scale bounds.
const (
	RatingMin = 1
	RatingMax = 5
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,31}$`)

func (e *Engine) handleInvite(tc *Context, ctrl *registry.Control) (domain.Outcome, error) {
	if tc.Record().State != domain.StateInvite {
		// Already answered; a second click on the same invitation.
		return domain.OutcomeDuplicate, nil
	}

	accept, ok := parseInvite(tc.Event().Text, ctrl)
	if !ok {
		return domain.OutcomeNotUnderstood, e.promptInvite(tc)
	}

	if !accept {
		moved, err := tc.Transition(domain.StateDone, domain.StatusAbandoned, payload.Bag{
			domain.KeyDeclinedAt: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil || !moved {
			return domain.OutcomeDuplicate, err
		}
		tc.Log("invitation declined")
		return domain.OutcomeTransitioned, tc.Reply(e.texts.Declined)
	}

	moved, err := tc.Transition(tc.Definition().AnswerState, domain.StatusAwaitingInput, nil)
	if err != nil || !moved {
		return domain.OutcomeDuplicate, err
	}
	return domain.OutcomeTransitioned, e.promptCurrent(tc)
}

func parseInvite(text string, ctrl *registry.Control) (accept, ok bool) {
	answer := strings.ToLower(strings.TrimSpace(text))
	if ctrl != nil {
		answer = ctrl.Param(0)
	}
	switch answer {
	case "accept", "yes", "y", "sim", "s", "ok", "1":
		return true, true
	case "decline", "no", "n", "nao", "não", "2":
		return false, true
	}
	return false, false
}

func (e *Engine) handleRating(tc *Context, ctrl *registry.Control) (domain.Outcome, error) {
	var (
		step, value int
		err         error
	)
	if tc.Record().State != tc.Definition().AnswerState {
		// A rating button clicked outside the question phase.
		return domain.OutcomeDuplicate, nil
	}
	if ctrl != nil {
		step, err = ctrl.Int(0)
		if err == nil {
			value, err = ctrl.Int(1)
		}
		if err != nil {
			tc.Warn("malformed rating control", "control_id", ctrl.ID, "error", err)
			return domain.OutcomeInvalid, e.promptCurrent(tc)
		}
	} else {
		step = tc.NextStep()
		value, err = strconv.Atoi(strings.TrimSpace(tc.Event().Text))
		if err != nil {
			return domain.OutcomeInvalid, e.reprompt(tc, e.texts.RatingInvalid)
		}
	}
	if value < RatingMin || value > RatingMax {
		return domain.OutcomeInvalid, e.reprompt(tc, e.texts.RatingInvalid)
	}

	res, err := tc.Advance(step, strconv.Itoa(value))
	if outcome, settled, err := e.settle(tc, res, err); settled {
		return outcome, err
	}
	return domain.OutcomeAdvanced, e.continueAfter(tc, res, e.texts.Thanks)
}

func (e *Engine) handleField(tc *Context) (domain.Outcome, error) {
	step := tc.NextStep()
	meta, ok := tc.Step(step)
	if !ok {
		return domain.OutcomeFailed, fmt.Errorf("no metadata for step %d of %s", step, tc.Record().ConversationType)
	}

	answer := strings.TrimSpace(tc.Event().Text)
	if err := validateField(meta, answer); err != nil {
		tc.Log("field rejected", "step", step, "error", err)
		hint := meta.Hint
		if hint == "" {
			hint = e.texts.NotUnderstood
		}
		return domain.OutcomeInvalid, e.reprompt(tc, hint)
	}

	res, err := tc.Advance(step, answer)
	if outcome, settled, err := e.settle(tc, res, err); settled {
		return outcome, err
	}
	if res.Completed() {
		// The answer is durable; the recap goes out after the turn.
		tc.Detach("completion-summary", func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
			return e.channel.SendText(cctx, tc.Identity(), e.summary(ctx, tc))
		})
		return domain.OutcomeAdvanced, nil
	}
	return domain.OutcomeAdvanced, e.continueAfter(tc, res, "")
}

func validateField(meta domain.Step, answer string) error {
	if answer == "" {
		return domain.Invalid(meta.Index, "empty answer")
	}
	if meta.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile(meta.Pattern)
	if err != nil {
		return fmt.Errorf("step %d: bad pattern: %w", meta.Index, err)
	}
	if !re.MatchString(answer) {
		return domain.Invalid(meta.Index, "does not match %s", meta.Pattern)
	}
	return nil
}

// summary lists every committed answer. Answers come from the store, since the
// cached snapshot only tracks the step position.
func (e *Engine) summary(ctx context.Context, tc *Context) string {
	rec, err := retry.Do(ctx, e.policy, func(ctx context.Context) (*domain.ConversationRecord, error) {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		return e.store.ReadProgress(cctx, tc.Identity())
	})
	if err != nil {
		tc.Warn("summary from cached snapshot", "error", err)
		rec = tc.Record()
	}

	var b strings.Builder
	b.WriteString(e.texts.Summary)
	for i := 1; i <= rec.TotalSteps; i++ {
		name := strconv.Itoa(i)
		if meta, ok := tc.Step(i); ok && meta.Field != "" {
			name = meta.Field
		}
		fmt.Fprintf(&b, "\n%s: %s", name, rec.Answers[i])
	}
	return b.String()
}

func (e *Engine) handleComment(tc *Context) (domain.Outcome, error) {
	text := strings.TrimSpace(tc.Event().Text)
	if text == "" {
		return domain.OutcomeInvalid, tc.Reply(e.texts.Comment)
	}

	moved, err := tc.Transition(domain.StateDone, domain.StatusCompleted, payload.Bag{domain.KeyComment: text})
	if err != nil || !moved {
		return domain.OutcomeDuplicate, err
	}
	return domain.OutcomeTransitioned, tc.Reply(e.texts.Thanks)
}

func (e *Engine) handleLookup(tc *Context) (domain.Outcome, error) {
	code := strings.ToUpper(strings.TrimSpace(tc.Event().Text))
	step := tc.NextStep()
	if !codePattern.MatchString(code) {
		return domain.OutcomeInvalid, e.reprompt(tc, e.texts.LookupMissing)
	}
	if e.directory == nil {
		return domain.OutcomeFailed, errors.New("lookup step without a directory")
	}

	tc.StartTimer("directory_lookup")
	doc, err := retry.Do(tc.Ctx(), e.policy, func(ctx context.Context) (domain.Document, error) {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		return e.directory.Find(cctx, code)
	})
	tc.StopTimer("directory_lookup")
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return domain.OutcomeInvalid, e.reprompt(tc, e.texts.LookupMissing)
	}
	if err != nil {
		return domain.OutcomeFailed, domain.Unavailable("find document", err)
	}

	res, err := tc.Advance(step, doc.Code)
	if outcome, settled, err := e.settle(tc, res, err); settled {
		return outcome, err
	}
	if err := tc.Reply(formatDocument(doc)); err != nil {
		return domain.OutcomeAdvanced, err
	}
	if res.Completed() {
		return domain.OutcomeAdvanced, nil
	}
	return domain.OutcomeAdvanced, e.continueAfter(tc, res, "")
}

func formatDocument(doc domain.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", doc.Code, doc.Title)
	if doc.Status != "" {
		fmt.Fprintf(&b, " [%s]", doc.Status)
	}
	if doc.Summary != "" {
		b.WriteString("\n")
		b.WriteString(doc.Summary)
	}
	return b.String()
}

func (e *Engine) handleNotUnderstood(tc *Context) (domain.Outcome, error) {
	return domain.OutcomeNotUnderstood, e.reprompt(tc, e.texts.NotUnderstood)
}

// settle handles every advancement result except success.
// Duplicates and lost races are absorbed without a reply.
func (e *Engine) settle(tc *Context, res AnswerResult, err error) (domain.Outcome, bool, error) {
	switch {
	case err == nil:
		return res.Outcome, false, nil
	case errors.Is(err, domain.ErrStaleOrDuplicate), errors.Is(err, domain.ErrLostRace):
		return res.Outcome, true, nil
	case errors.Is(err, domain.ErrValidation):
		tc.Log("answer rejected", "error", err)
		return domain.OutcomeInvalid, true, e.reprompt(tc, e.texts.NotUnderstood)
	default:
		return domain.OutcomeFailed, true, err
	}
}

// continueAfter sends what follows a committed answer.
func (e *Engine) continueAfter(tc *Context, res AnswerResult, done string) error {
	if res.Completed() {
		if done == "" {
			return nil
		}
		return tc.Reply(done)
	}
	if state, ok := tc.Definition().CommentState(); ok && res.State == state {
		return tc.Reply(e.texts.Comment)
	}
	return e.promptCurrent(tc)
}

func (e *Engine) reprompt(tc *Context, text string) error {
	if err := tc.Reply(text); err != nil {
		return err
	}
	return e.promptCurrent(tc)
}

// promptCurrent sends the prompt the conversation is waiting on.
func (e *Engine) promptCurrent(tc *Context) error {
	switch tc.Definition().Handlers[tc.Record().State] {
	case registry.KindInvite:
		return e.promptInvite(tc)
	case registry.KindRating:
		return e.promptRating(tc, tc.NextStep())
	case registry.KindField, registry.KindLookup:
		meta, ok := tc.Step(tc.NextStep())
		if !ok {
			return fmt.Errorf("no metadata for step %d of %s", tc.NextStep(), tc.Record().ConversationType)
		}
		return tc.Reply(meta.Prompt)
	case registry.KindComment:
		return tc.Reply(e.texts.Comment)
	default:
		return tc.Reply(e.texts.Help)
	}
}

func (e *Engine) promptInvite(tc *Context) error {
	return tc.ReplyWithOptions(e.texts.InviteTitle, e.texts.InviteBody, []domain.Choice{
		{ID: registry.InviteControl(true), Title: e.texts.Accept},
		{ID: registry.InviteControl(false), Title: e.texts.Decline},
	})
}

// promptRating sends the 1-5 scale for step, split across prompts of at most
// domain.MaxChoices buttons. Each button id carries the step it answers.
func (e *Engine) promptRating(tc *Context, step int) error {
	meta, ok := tc.Step(step)
	if !ok {
		return fmt.Errorf("no metadata for step %d of %s", step, tc.Record().ConversationType)
	}

	choices := make([]domain.Choice, 0, RatingMax-RatingMin+1)
	for v := RatingMin; v <= RatingMax; v++ {
		choices = append(choices, domain.Choice{ID: registry.RatingControl(step, v), Title: strconv.Itoa(v)})
	}

	title := fmt.Sprintf("%d/%d", step, tc.Record().TotalSteps)
	for i, chunk := range chunkChoices(choices, domain.MaxChoices) {
		body := meta.Prompt
		if i > 0 {
			title, body = "", e.texts.RatingMore
		}
		if err := tc.ReplyWithOptions(title, body, chunk); err != nil {
			return err
		}
	}
	return nil
}

func chunkChoices(choices []domain.Choice, size int) [][]domain.Choice {
	var out [][]domain.Choice
	for len(choices) > size {
		out = append(out, choices[:size])
		choices = choices[size:]
	}
	if len(choices) > 0 {
		out = append(out, choices)
	}
	return out
}
