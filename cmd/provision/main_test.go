package main

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	appconfig "github.com/atlasvisa/booking-platform/internal/config"
)

func TestTableSpecsCoverEveryStore(t *testing.T) {
	cfg := &appconfig.Config{
		ConsultationsTable: "consultations",
		SlotClaimsTable:    "slot-claims",
		PaymentsTable:      "payments",
		ClientsTable:       "clients",
		ApplicationsTable:  "applications",
	}

	specs := tableSpecs(cfg)
	if len(specs) != 5 {
		t.Fatalf("expected 5 tables, got %d", len(specs))
	}

	byName := map[string]tableSpec{}
	for _, s := range specs {
		byName[s.name] = s
	}

	consult := byName["consultations"]
	if consult.hashKey != "id" || len(consult.indexes) != 1 || consult.indexes[0].name != "day-index" {
		t.Fatalf("unexpected consultations spec: %+v", consult)
	}
	if consult.ttlAttr != "expiresAt" {
		t.Fatalf("expected TTL on consultations holds")
	}
	claims := byName["slot-claims"]
	if claims.hashKey != "slotKey" || claims.ttlAttr != "expiresAt" {
		t.Fatalf("unexpected slot claims spec: %+v", claims)
	}
	pay := byName["payments"]
	if len(pay.indexes) != 1 || pay.indexes[0].hashKey != "sessionId" {
		t.Fatalf("expected session index on payments, got %+v", pay)
	}
	if byName["clients"].hashKey != "email" {
		t.Fatalf("expected email key on clients")
	}
	if byName["applications"].ttlAttr != "" {
		t.Fatalf("applications must never expire")
	}
}

func TestEnsureTableCreatesWithIndexAndTTL(t *testing.T) {
	mock := &mockTableAPI{}
	spec := tableSpec{
		name:    "consultations",
		hashKey: "id",
		indexes: []indexSpec{{name: "day-index", hashKey: "day"}},
		ttlAttr: "expiresAt",
	}

	if err := ensureTable(context.Background(), mock, spec); err != nil {
		t.Fatalf("ensureTable returned error: %v", err)
	}

	input := mock.createInput
	if input == nil {
		t.Fatal("expected CreateTable to be called")
	}
	if input.BillingMode != types.BillingModePayPerRequest {
		t.Fatalf("expected on-demand billing, got %s", input.BillingMode)
	}
	if len(input.KeySchema) != 1 || *input.KeySchema[0].AttributeName != "id" {
		t.Fatalf("unexpected key schema: %+v", input.KeySchema)
	}
	if len(input.GlobalSecondaryIndexes) != 1 {
		t.Fatalf("expected one GSI, got %d", len(input.GlobalSecondaryIndexes))
	}
	gsi := input.GlobalSecondaryIndexes[0]
	if *gsi.IndexName != "day-index" || *gsi.KeySchema[0].AttributeName != "day" {
		t.Fatalf("unexpected GSI: %+v", gsi)
	}
	if gsi.Projection.ProjectionType != types.ProjectionTypeAll {
		t.Fatalf("day index must project the full item for the reminder sweep")
	}

	ttl := mock.ttlInput
	if ttl == nil {
		t.Fatal("expected UpdateTimeToLive to be called")
	}
	if *ttl.TimeToLiveSpecification.AttributeName != "expiresAt" {
		t.Fatalf("unexpected TTL attribute: %s", *ttl.TimeToLiveSpecification.AttributeName)
	}
}

func TestEnsureTableExistingTableIsNotAnError(t *testing.T) {
	mock := &mockTableAPI{createErr: &types.ResourceInUseException{}}
	spec := tableSpec{name: "clients", hashKey: "email"}

	if err := ensureTable(context.Background(), mock, spec); err != nil {
		t.Fatalf("expected existing table to be tolerated, got %v", err)
	}
	if mock.describeCalls != 0 {
		t.Fatalf("expected no waiter round trips for an existing table")
	}
}

func TestEnsureTableSkipsTTLWhenUnset(t *testing.T) {
	mock := &mockTableAPI{}
	spec := tableSpec{name: "applications", hashKey: "id"}

	if err := ensureTable(context.Background(), mock, spec); err != nil {
		t.Fatalf("ensureTable returned error: %v", err)
	}
	if mock.ttlInput != nil {
		t.Fatal("expected no TTL call for applications")
	}
}

func TestQueueNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://localhost:4566/000000000000/booking-notifications", "booking-notifications"},
		{"https://sqs.eu-west-1.amazonaws.com/123456789012/notifications/", "notifications"},
		{"bare-name", "bare-name"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := queueNameFromURL(tt.url); got != tt.want {
			t.Errorf("queueNameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestEnsureQueueToleratesExisting(t *testing.T) {
	mock := &mockQueueAPI{err: &sqstypes.QueueNameExists{}}

	if err := ensureQueue(context.Background(), mock, "booking-notifications"); err != nil {
		t.Fatalf("expected existing queue to be tolerated, got %v", err)
	}
	if mock.input == nil || *mock.input.QueueName != "booking-notifications" {
		t.Fatalf("unexpected create input: %+v", mock.input)
	}
}

func TestEnsureBucketRegionHandling(t *testing.T) {
	east := &mockBucketAPI{}
	if err := ensureBucket(context.Background(), east, "atlasvisa-invoices", "us-east-1"); err != nil {
		t.Fatalf("ensureBucket returned error: %v", err)
	}
	if east.input.CreateBucketConfiguration != nil {
		t.Fatal("us-east-1 must not send a location constraint")
	}

	west := &mockBucketAPI{}
	if err := ensureBucket(context.Background(), west, "atlasvisa-invoices", "eu-west-1"); err != nil {
		t.Fatalf("ensureBucket returned error: %v", err)
	}
	cfg := west.input.CreateBucketConfiguration
	if cfg == nil || cfg.LocationConstraint != s3types.BucketLocationConstraint("eu-west-1") {
		t.Fatalf("expected eu-west-1 location constraint, got %+v", cfg)
	}

	owned := &mockBucketAPI{err: &s3types.BucketAlreadyOwnedByYou{}}
	if err := ensureBucket(context.Background(), owned, "atlasvisa-invoices", "eu-west-1"); err != nil {
		t.Fatalf("expected owned bucket to be tolerated, got %v", err)
	}
}

type mockTableAPI struct {
	createInput   *dynamodb.CreateTableInput
	createErr     error
	describeCalls int
	ttlInput      *dynamodb.UpdateTimeToLiveInput
	ttlErr        error
}

func (m *mockTableAPI) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	m.createInput = input
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockTableAPI) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	m.describeCalls++
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   input.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func (m *mockTableAPI) UpdateTimeToLive(ctx context.Context, input *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	m.ttlInput = input
	if m.ttlErr != nil {
		return nil, m.ttlErr
	}
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

type mockQueueAPI struct {
	input *sqs.CreateQueueInput
	err   error
}

func (m *mockQueueAPI) CreateQueue(ctx context.Context, input *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.CreateQueueOutput{QueueUrl: aws.String("http://localhost:4566/000000000000/" + *input.QueueName)}, nil
}

type mockBucketAPI struct {
	input *s3.CreateBucketInput
	err   error
}

func (m *mockBucketAPI) CreateBucket(ctx context.Context, input *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	return &s3.CreateBucketOutput{}, nil
}
