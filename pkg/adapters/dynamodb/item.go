package dynamodb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func num(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func recordItem(r *domain.ConversationRecord) map[string]types.AttributeValue {
	answers := make(map[string]types.AttributeValue, len(r.Answers))
	for step, a := range r.Answers {
		answers[strconv.Itoa(step)] = &types.AttributeValueMemberS{Value: a}
	}
	item := map[string]types.AttributeValue{
		"PK":                     &types.AttributeValueMemberS{Value: pkPrefix + string(r.Identity)},
		"SK":                     &types.AttributeValueMemberS{Value: skMeta},
		"instance_id":            &types.AttributeValueMemberS{Value: r.InstanceID},
		"conversation_type":      &types.AttributeValueMemberS{Value: r.ConversationType},
		"state":                  &types.AttributeValueMemberS{Value: r.State},
		"current_step":           num(r.CurrentStep),
		"total_steps":            num(r.TotalSteps),
		"allows_final_free_text": &types.AttributeValueMemberBOOL{Value: r.AllowsFinalFreeText},
		"answers":                &types.AttributeValueMemberM{Value: answers},
		"status":                 &types.AttributeValueMemberS{Value: string(r.Status)},
		"last_event_id":          &types.AttributeValueMemberS{Value: ""},
		"version":                &types.AttributeValueMemberN{Value: strconv.FormatInt(r.Version, 10)},
		"created_at":             &types.AttributeValueMemberS{Value: timestamp(r.CreatedAt)},
		"updated_at":             &types.AttributeValueMemberS{Value: timestamp(r.UpdatedAt)},
	}
	if len(r.Payload) > 0 {
		item["payload"] = &types.AttributeValueMemberB{Value: r.Payload}
	}
	return item
}

func itemToRecord(item map[string]types.AttributeValue) (*domain.ConversationRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return nil, err
	}
	rec := &domain.ConversationRecord{
		Identity: domain.Identity(strings.TrimPrefix(pk, pkPrefix)),
		Answers:  make(map[int]string),
	}

	if rec.InstanceID, err = strAttr(item, "instance_id"); err != nil {
		return nil, err
	}
	if rec.ConversationType, err = strAttr(item, "conversation_type"); err != nil {
		return nil, err
	}
	if rec.State, err = strAttr(item, "state"); err != nil {
		return nil, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	rec.LastEventID, _ = strAttr(item, "last_event_id") // allow empty

	if rec.CurrentStep, err = intAttr(item, "current_step"); err != nil {
		return nil, err
	}
	if rec.TotalSteps, err = intAttr(item, "total_steps"); err != nil {
		return nil, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return nil, err
	}
	rec.Version = int64(version)

	if b, ok := item["allows_final_free_text"].(*types.AttributeValueMemberBOOL); ok {
		rec.AllowsFinalFreeText = b.Value
	}
	if p, ok := item["payload"].(*types.AttributeValueMemberB); ok {
		rec.Payload = p.Value
	}
	if m, ok := item["answers"].(*types.AttributeValueMemberM); ok {
		for k, v := range m.Value {
			step, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("dynamodb: answer key %q: %w", k, err)
			}
			s, ok := v.(*types.AttributeValueMemberS)
			if !ok {
				return nil, fmt.Errorf("dynamodb: answer %q is not a string", k)
			}
			rec.Answers[step] = s.Value
		}
	}
	if rec.CreatedAt, err = timeAttr(item, "created_at"); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = timeAttr(item, "updated_at"); err != nil {
		return nil, err
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamodb: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamodb: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamodb: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamodb: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("dynamodb: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamodb: parse attribute %q: %w", key, err)
	}
	return t, nil
}
