// Package applications tracks visa applications and the deposit gate between
// intake and casework.
package applications

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

// Stage is the casework progression of an application.
type Stage string

const (
	StageDraft           Stage = "draft"
	StageAwaitingDeposit Stage = "awaiting_deposit"
	StageInProgress      Stage = "in_progress"
	StageSubmitted       Stage = "submitted"
	StageDecided         Stage = "decided"
)

var (
	// ErrApplicationNotFound indicates the requested application does not exist.
	ErrApplicationNotFound = errors.New("applications: application not found")
	// ErrStageConflict is returned when a stage transition loses its
	// compare-and-set, meaning the application moved underneath the caller.
	ErrStageConflict = errors.New("applications: stage conflict")
)

// Application is one client's visa case.
type Application struct {
	ID               string `dynamodbav:"id" json:"id"`
	ClientID         string `dynamodbav:"clientId" json:"clientId"`
	ClientEmail      string `dynamodbav:"clientEmail" json:"clientEmail"`
	VisaType         string `dynamodbav:"visaType" json:"visaType"`
	Stage            Stage  `dynamodbav:"stage" json:"stage"`
	DepositPaymentID string `dynamodbav:"depositPaymentId,omitempty" json:"depositPaymentId,omitempty"`
	CreatedAt        string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt        string `dynamodbav:"updatedAt" json:"updatedAt"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store persists applications to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds an application store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("applications: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("applications: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger.Component("applications")}
}

// Create inserts a new draft application.
func (s *Store) Create(ctx context.Context, app *Application) error {
	if app == nil {
		return errors.New("applications: application cannot be nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	app.Stage = StageDraft
	app.CreatedAt = now
	app.UpdatedAt = now

	item, err := attributevalue.MarshalMap(app)
	if err != nil {
		return fmt.Errorf("applications: failed to marshal application: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("applications: failed to persist application: %w", err)
	}
	return nil
}

// Get fetches an application by id.
func (s *Store) Get(ctx context.Context, id string) (*Application, error) {
	if id == "" {
		return nil, errors.New("applications: id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("applications: failed to fetch %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrApplicationNotFound
	}
	var app Application
	if err := attributevalue.UnmarshalMap(out.Item, &app); err != nil {
		return nil, fmt.Errorf("applications: failed to decode %s: %w", id, err)
	}
	return &app, nil
}

// RequestDeposit attaches a pending deposit payment and moves the application
// from draft to awaiting_deposit. The move is a compare-and-set: requesting a
// deposit twice, or on an application past intake, fails with ErrStageConflict.
func (s *Store) RequestDeposit(ctx context.Context, id, paymentID string) error {
	if id == "" || paymentID == "" {
		return errors.New("applications: id and paymentID required")
	}
	return s.advance(ctx, id, StageDraft, StageAwaitingDeposit, map[string]types.AttributeValue{
		":pid": &types.AttributeValueMemberS{Value: paymentID},
	}, ", depositPaymentId = :pid")
}

// MarkDepositPaid advances awaiting_deposit to in_progress once the deposit
// payment completes. Safe to call from concurrent reconciliation triggers:
// the loser of the compare-and-set gets ErrStageConflict.
func (s *Store) MarkDepositPaid(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("applications: id required")
	}
	return s.advance(ctx, id, StageAwaitingDeposit, StageInProgress, nil, "")
}

func (s *Store) advance(ctx context.Context, id string, from, to Stage, extraValues map[string]types.AttributeValue, extraExpr string) error {
	values := map[string]types.AttributeValue{
		":from":    &types.AttributeValueMemberS{Value: string(from)},
		":to":      &types.AttributeValueMemberS{Value: string(to)},
		":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	for k, v := range extraValues {
		values[k] = v
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          aws.String("SET stage = :to, updatedAt = :updated" + extraExpr),
		ConditionExpression:       aws.String("attribute_exists(id) AND stage = :from"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStageConflict
		}
		return fmt.Errorf("applications: failed to advance %s to %s: %w", id, to, err)
	}
	s.logger.Info("application stage advanced", "application_id", id, "from", from, "to", to)
	return nil
}
