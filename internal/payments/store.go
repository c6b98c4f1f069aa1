package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store persists payments to DynamoDB. Every status transition is a
// conditional update on the prior status, so concurrent writers cannot
// double-apply a transition or regress a completed payment.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds a payment store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("payments: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("payments: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger.Component("payments")}
}

// Create inserts a new pending payment. The conditional put guards against id
// reuse.
func (s *Store) Create(ctx context.Context, p *Payment) error {
	if p == nil {
		return errors.New("payments: payment cannot be nil")
	}
	if p.ID == "" {
		return errors.New("payments: id required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	p.Status = StatusPending
	p.CreatedAt = now
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("payments: failed to marshal payment: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("payments: failed to persist payment: %w", err)
	}
	return nil
}

// Get fetches a payment by internal id.
func (s *Store) Get(ctx context.Context, id string) (*Payment, error) {
	if id == "" {
		return nil, errors.New("payments: id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payments: failed to fetch %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrPaymentNotFound
	}
	var p Payment
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("payments: failed to decode %s: %w", id, err)
	}
	return &p, nil
}

// GetBySession fetches a payment by its external checkout session id, the
// correlation key webhooks carry.
func (s *Store) GetBySession(ctx context.Context, sessionID string) (*Payment, error) {
	if sessionID == "" {
		return nil, errors.New("payments: sessionID required")
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("session-index"),
		KeyConditionExpression: aws.String("sessionId = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("payments: failed to query session %s: %w", sessionID, err)
	}
	if len(out.Items) == 0 {
		return nil, ErrPaymentNotFound
	}
	var p Payment
	if err := attributevalue.UnmarshalMap(out.Items[0], &p); err != nil {
		return nil, fmt.Errorf("payments: failed to decode session %s: %w", sessionID, err)
	}
	return &p, nil
}

// AttachSession records the checkout session id on a still-pending payment so
// later webhook events can be correlated back to it.
func (s *Store) AttachSession(ctx context.Context, id, sessionID string) error {
	if id == "" || sessionID == "" {
		return errors.New("payments: id and sessionID required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET sessionId = :sid, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid":     &types.AttributeValueMemberS{Value: sessionID},
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusConflict
		}
		return fmt.Errorf("payments: failed to attach session to %s: %w", id, err)
	}
	return nil
}

// MarkCompleted transitions pending to completed in a single conditional
// write, recording the provider reference and clearing the hold expiry. The
// losing trigger of a reconciliation race gets ErrStatusConflict.
func (s *Store) MarkCompleted(ctx context.Context, id, providerRef string) error {
	if id == "" {
		return errors.New("payments: id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :completed, providerRef = :ref, updatedAt = :updated REMOVE expiresAt"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":pending":   &types.AttributeValueMemberS{Value: string(StatusPending)},
			":ref":       &types.AttributeValueMemberS{Value: providerRef},
			":updated":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusConflict
		}
		return fmt.Errorf("payments: failed to complete %s: %w", id, err)
	}
	s.logger.Info("payment completed", "payment_id", id, "provider_ref", providerRef)
	return nil
}

// MarkFailed transitions pending to failed, keeping the provider's reason for
// support follow-up.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	if id == "" {
		return errors.New("payments: id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :failed, failureReason = :reason, updatedAt = :updated REMOVE expiresAt"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":  &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":reason":  &types.AttributeValueMemberS{Value: reason},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusConflict
		}
		return fmt.Errorf("payments: failed to mark %s failed: %w", id, err)
	}
	s.logger.Info("payment failed", "payment_id", id, "reason", reason)
	return nil
}

// MarkRefunded transitions completed to refunded, recording the provider's
// refund reference.
func (s *Store) MarkRefunded(ctx context.Context, id, refundRef string) error {
	if id == "" {
		return errors.New("payments: id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #status = :refunded, refundRef = :ref, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :completed"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":refunded":  &types.AttributeValueMemberS{Value: string(StatusRefunded)},
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":ref":       &types.AttributeValueMemberS{Value: refundRef},
			":updated":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusConflict
		}
		return fmt.Errorf("payments: failed to mark %s refunded: %w", id, err)
	}
	s.logger.Info("payment refunded", "payment_id", id, "refund_ref", refundRef)
	return nil
}

// SetInvoiceURL records the invoice for a payment exactly once. A second
// assignment fails with ErrInvoiceAssigned, which keeps retried
// reconciliations from minting duplicate invoices.
func (s *Store) SetInvoiceURL(ctx context.Context, id, url string) error {
	if id == "" || url == "" {
		return errors.New("payments: id and url required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET invoiceURL = :url, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(invoiceURL)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":url":     &types.AttributeValueMemberS{Value: url},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrInvoiceAssigned
		}
		return fmt.Errorf("payments: failed to set invoice on %s: %w", id, err)
	}
	return nil
}

// SetConsultation repoints the payment at a new consultation row. Reschedules
// move the original payment to the replacement booking.
func (s *Store) SetConsultation(ctx context.Context, id, consultationID string) error {
	if id == "" || consultationID == "" {
		return errors.New("payments: id and consultationID required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET consultationId = :cid, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid":     &types.AttributeValueMemberS{Value: consultationID},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("payments: failed to repoint %s: %w", id, err)
	}
	return nil
}

// Delete removes a payment outright. Used only to compensate a partially
// failed booking; settled payments are never deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("payments: id required")
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("payments: failed to delete %s: %w", id, err)
	}
	return nil
}
