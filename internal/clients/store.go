// Package clients persists the client identity records bookings hang off.
package clients

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
	"github.com/google/uuid"

	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// ErrClientNotFound indicates no client record exists for the email.
var ErrClientNotFound = errors.New("clients: client not found")

// Client is a person who books consultations, keyed by email.
type Client struct {
	Email     string `dynamodbav:"email" json:"email"`
	ID        string `dynamodbav:"id" json:"id"`
	Name      string `dynamodbav:"name" json:"name"`
	Phone     string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	CreatedAt string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt string `dynamodbav:"updatedAt" json:"updatedAt"`
}

// NormalizeEmail canonicalizes an email for use as a key and for ownership
// comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store persists client records to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds a client store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("clients: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("clients: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger.Component("clients")}
}

// Ensure upserts a client by email and returns the stored record. The first
// booking mints the id and createdAt; later bookings keep both and refresh the
// contact details.
func (s *Store) Ensure(ctx context.Context, email, name, phone string) (*Client, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, errors.New("clients: email required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
		UpdateExpression: aws.String("SET id = if_not_exists(id, :id), createdAt = if_not_exists(createdAt, :now), #name = :name, phone = :phone, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#name": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":    &types.AttributeValueMemberS{Value: uuid.NewString()},
			":name":  &types.AttributeValueMemberS{Value: name},
			":phone": &types.AttributeValueMemberS{Value: phone},
			":now":   &types.AttributeValueMemberS{Value: now},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("clients: failed to upsert %s: %w", email, err)
	}

	var client Client
	if err := attributevalue.UnmarshalMap(out.Attributes, &client); err != nil {
		return nil, fmt.Errorf("clients: failed to decode %s: %w", email, err)
	}
	return &client, nil
}

// GetByEmail fetches a client record.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Client, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, errors.New("clients: email required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clients: failed to fetch %s: %w", email, err)
	}
	if out.Item == nil {
		return nil, ErrClientNotFound
	}
	var client Client
	if err := attributevalue.UnmarshalMap(out.Item, &client); err != nil {
		return nil, fmt.Errorf("clients: failed to decode %s: %w", email, err)
	}
	return &client, nil
}
