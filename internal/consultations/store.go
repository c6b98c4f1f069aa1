package consultations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/atlasvisa/booking-platform/internal/scheduling"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store persists consultations to DynamoDB. Lifecycle transitions are
// conditional updates on the prior status so the state machine's edges hold
// under concurrent writers.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds a consultation store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("consultations: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("consultations: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger.Component("consultations")}
}

// PutHold inserts a new consultation in hold status. The conditional put
// guards against id reuse.
func (s *Store) PutHold(ctx context.Context, c *Consultation) error {
	if c == nil {
		return errors.New("consultations: consultation cannot be nil")
	}
	if c.ID == "" {
		return errors.New("consultations: id required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	c.Status = StatusHold
	c.CreatedAt = now
	c.UpdatedAt = now

	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("consultations: failed to marshal consultation: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("consultations: failed to persist consultation: %w", err)
	}
	return nil
}

// Get fetches a consultation by id.
func (s *Store) Get(ctx context.Context, id string) (*Consultation, error) {
	if id == "" {
		return nil, errors.New("consultations: id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("consultations: failed to fetch %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var c Consultation
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("consultations: failed to decode %s: %w", id, err)
	}
	return &c, nil
}

// Confirm transitions hold→confirmed and clears the hold deadline. The
// condition refuses when the row vanished (TTL reap) or already moved on.
func (s *Store) Confirm(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :confirmed, updatedAt = :updated REMOVE expiresAt"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :hold"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
			":hold":      &types.AttributeValueMemberS{Value: string(StatusHold)},
			":updated":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrInvalidTransition
		}
		return fmt.Errorf("consultations: failed to confirm %s: %w", id, err)
	}
	s.logger.Info("consultation confirmed", "consultation_id", id)
	return nil
}

// Cancel transitions hold or confirmed to cancelled.
func (s *Store) Cancel(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :cancelled, updatedAt = :updated REMOVE expiresAt"),
		ConditionExpression: aws.String("attribute_exists(id) AND (#status = :hold OR #status = :confirmed)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cancelled": &types.AttributeValueMemberS{Value: string(StatusCancelled)},
			":hold":      &types.AttributeValueMemberS{Value: string(StatusHold)},
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
			":updated":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrInvalidTransition
		}
		return fmt.Errorf("consultations: failed to cancel %s: %w", id, err)
	}
	s.logger.Info("consultation cancelled", "consultation_id", id)
	return nil
}

// MarkRescheduled retires a row whose booking moved to a new consultation.
func (s *Store) MarkRescheduled(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :rescheduled, updatedAt = :updated REMOVE expiresAt"),
		ConditionExpression: aws.String("attribute_exists(id) AND (#status = :hold OR #status = :confirmed)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rescheduled": &types.AttributeValueMemberS{Value: string(StatusRescheduled)},
			":hold":        &types.AttributeValueMemberS{Value: string(StatusHold)},
			":confirmed":   &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
			":updated":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrInvalidTransition
		}
		return fmt.Errorf("consultations: failed to mark %s rescheduled: %w", id, err)
	}
	return nil
}

// Complete transitions confirmed→completed.
func (s *Store) Complete(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :completed, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :confirmed"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
			":updated":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrInvalidTransition
		}
		return fmt.Errorf("consultations: failed to complete %s: %w", id, err)
	}
	s.logger.Info("consultation completed", "consultation_id", id)
	return nil
}

// UpdateMeta sets adviser and/or note. Metadata updates are allowed in every
// status, terminal ones included.
func (s *Store) UpdateMeta(ctx context.Context, id string, adviserID, note *string) error {
	if adviserID == nil && note == nil {
		return nil
	}
	sets := []string{"updatedAt = :updated"}
	values := map[string]types.AttributeValue{
		":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	if adviserID != nil {
		sets = append(sets, "adviserId = :adviser")
		values[":adviser"] = &types.AttributeValueMemberS{Value: *adviserID}
	}
	if note != nil {
		sets = append(sets, "note = :note")
		values[":note"] = &types.AttributeValueMemberS{Value: *note}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("consultations: failed to update %s: %w", id, err)
	}
	return nil
}

// MarkReminderSent records the reminder timestamp. The condition makes the
// reminder sweep idempotent: only one sweeper wins, and only for still
// confirmed consultations.
func (s *Store) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET reminderSentAt = :at, updatedAt = :at"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :confirmed AND attribute_not_exists(reminderSentAt)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":        &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrReminderAlreadySent
		}
		return fmt.Errorf("consultations: failed to mark reminder for %s: %w", id, err)
	}
	return nil
}

// ListByDay returns every consultation scheduled on the given day.
func (s *Store) ListByDay(ctx context.Context, day time.Time) ([]Consultation, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("day-index"),
		KeyConditionExpression: aws.String("#day = :day"),
		ExpressionAttributeNames: map[string]string{
			"#day": "day",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":day": &types.AttributeValueMemberS{Value: scheduling.DayKey(day)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("consultations: failed to query day %s: %w", scheduling.DayKey(day), err)
	}

	list := make([]Consultation, 0, len(out.Items))
	for _, item := range out.Items {
		var c Consultation
		if err := attributevalue.UnmarshalMap(item, &c); err != nil {
			s.logger.Warn("skipping undecodable consultation", "error", err)
			continue
		}
		list = append(list, c)
	}
	return list, nil
}

// Delete removes a consultation row. Used only to compensate a partially
// created booking; lifecycle exits go through the status transitions.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("consultations: failed to delete %s: %w", id, err)
	}
	return nil
}
