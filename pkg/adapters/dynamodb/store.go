// Package dynamodb stores conversation progress in a DynamoDB table.
//
// Table layout: partition key PK ("CONV#<identity>") and sort key SK ("META").
// Answers live in a map attribute on the same item, so every conditional
// write touches exactly one item.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefix = "CONV#"
	skMeta   = "META"
)

var _ ports.ProgressStore = (*Store)(nil)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store wraps a DynamoDB table for conversation progress.
type Store struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithTTL sets the item expiry attribute ("ttl") relative to creation.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a new Store.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	s := &Store{api: api, tableName: tableName}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func key(id domain.Identity) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + string(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// Create writes (or replaces) the conversation item.
func (s *Store) Create(ctx context.Context, record *domain.ConversationRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	item := recordItem(record)
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10)}
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: Create: %w", err)
	}
	return nil
}

// ReadProgress performs a strongly consistent read of the conversation.
func (s *Store) ReadProgress(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: ReadProgress: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, domain.ErrConversationNotFound
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: ReadProgress decode: %w", err)
	}
	return rec, nil
}

// ConditionalAdvance increments the step in one conditional UpdateItem.
func (s *Store) ConditionalAdvance(ctx context.Context, id domain.Identity, adv domain.Advance) (domain.AdvanceResult, error) {
	step := adv.FromStep + 1
	cond := "attribute_exists(PK) AND current_step = :from AND current_step < total_steps AND NOT (#status IN (:completed, :abandoned))"
	values := map[string]types.AttributeValue{
		":from":      num(adv.FromStep),
		":one":       num(1),
		":to_state":  &types.AttributeValueMemberS{Value: adv.ToState},
		":to_status": &types.AttributeValueMemberS{Value: string(adv.ToStatus)},
		":event":     &types.AttributeValueMemberS{Value: adv.EventID},
		":answer":    &types.AttributeValueMemberS{Value: adv.Answer},
		":now":       &types.AttributeValueMemberS{Value: timestamp(time.Now())},
		":completed": &types.AttributeValueMemberS{Value: string(domain.StatusCompleted)},
		":abandoned": &types.AttributeValueMemberS{Value: string(domain.StatusAbandoned)},
	}
	if adv.EventID != "" {
		cond += " AND last_event_id <> :event"
	}
	if adv.InstanceID != "" {
		cond += " AND instance_id = :instance"
		values[":instance"] = &types.AttributeValueMemberS{Value: adv.InstanceID}
	}
	if adv.FromState != "" {
		cond += " AND #state = :at_state"
		values[":at_state"] = &types.AttributeValueMemberS{Value: adv.FromState}
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 key(id),
		UpdateExpression:    aws.String("SET current_step = current_step + :one, #state = :to_state, #status = :to_status, last_event_id = :event, version = version + :one, updated_at = :now, answers.#step = :answer"),
		ConditionExpression: aws.String(cond),
		ExpressionAttributeNames: map[string]string{
			"#state":  "state",
			"#status": "status",
			"#step":   strconv.Itoa(step),
		},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if missing, ok := conditionFailed(err); ok {
			if missing {
				return domain.AdvanceResult{}, domain.ErrConversationNotFound
			}
			return domain.AdvanceResult{}, nil
		}
		return domain.AdvanceResult{}, fmt.Errorf("dynamodb: ConditionalAdvance: %w", err)
	}
	return domain.AdvanceResult{Success: true, NewStep: step}, nil
}

// Transition moves between states if the stored state still equals t.FromState.
func (s *Store) Transition(ctx context.Context, id domain.Identity, t domain.Transition) (bool, error) {
	set := []string{"#state = :to_state", "#status = :to_status", "version = version + :one", "updated_at = :now"}
	var remove []string
	values := map[string]types.AttributeValue{
		":from_state": &types.AttributeValueMemberS{Value: t.FromState},
		":to_state":   &types.AttributeValueMemberS{Value: t.ToState},
		":to_status":  &types.AttributeValueMemberS{Value: string(t.Status)},
		":one":        num(1),
		":now":        &types.AttributeValueMemberS{Value: timestamp(time.Now())},
		":completed":  &types.AttributeValueMemberS{Value: string(domain.StatusCompleted)},
		":abandoned":  &types.AttributeValueMemberS{Value: string(domain.StatusAbandoned)},
	}
	if t.EventID != "" {
		set = append(set, "last_event_id = :event")
		values[":event"] = &types.AttributeValueMemberS{Value: t.EventID}
	}
	if t.SetPayload {
		if len(t.Payload) > 0 {
			set = append(set, "payload = :payload")
			values[":payload"] = &types.AttributeValueMemberB{Value: t.Payload}
		} else {
			remove = append(remove, "payload")
		}
	}
	expr := "SET " + strings.Join(set, ", ")
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 key(id),
		UpdateExpression:    aws.String(expr),
		ConditionExpression: aws.String("attribute_exists(PK) AND #state = :from_state AND NOT (#status IN (:completed, :abandoned))"),
		ExpressionAttributeNames: map[string]string{
			"#state":  "state",
			"#status": "status",
		},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if missing, ok := conditionFailed(err); ok {
			if missing {
				return false, domain.ErrConversationNotFound
			}
			return false, nil
		}
		return false, fmt.Errorf("dynamodb: Transition: %w", err)
	}
	return true, nil
}

// SetStatus overwrites the status of an existing conversation.
func (s *Store) SetStatus(ctx context.Context, id domain.Identity, status domain.Status) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      key(id),
		UpdateExpression:         aws.String("SET #status = :status_only, version = version + :one, updated_at = :now"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status_only": &types.AttributeValueMemberS{Value: string(status)},
			":one":         num(1),
			":now":         &types.AttributeValueMemberS{Value: timestamp(time.Now())},
		},
	})
	if err != nil {
		if _, ok := conditionFailed(err); ok {
			return domain.ErrConversationNotFound
		}
		return fmt.Errorf("dynamodb: SetStatus: %w", err)
	}
	return nil
}

// Delete removes the conversation item.
func (s *Store) Delete(ctx context.Context, id domain.Identity) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(id),
	})
	if err != nil {
		return fmt.Errorf("dynamodb: Delete: %w", err)
	}
	return nil
}

// List scans the table for conversation items. Intended for admin use.
func (s *Store) List(ctx context.Context) ([]domain.Identity, error) {
	var (
		ids   []domain.Identity
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tableName),
			ProjectionExpression: aws.String("PK"),
			FilterExpression:     aws.String("SK = :meta"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta": &types.AttributeValueMemberS{Value: skMeta},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb: List: %w", err)
		}
		for _, item := range out.Items {
			pk, err := strAttr(item, "PK")
			if err != nil {
				return nil, fmt.Errorf("dynamodb: List: %w", err)
			}
			ids = append(ids, domain.Identity(strings.TrimPrefix(pk, pkPrefix)))
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		start = out.LastEvaluatedKey
	}
}

// conditionFailed reports whether err is a failed condition check and, if so,
// whether the item was missing altogether.
func conditionFailed(err error) (missing, ok bool) {
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return false, false
	}
	return len(ccf.Item) == 0, true
}
