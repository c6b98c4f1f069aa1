package applications

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/atlasvisa/booking-platform/pkg/logging"
)

func TestCreate_InsertsDraft(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "applications", logging.Default())

	app := &Application{ID: "app-1", ClientID: "client-1", ClientEmail: "ana@example.com", VisaType: "D7"}
	if err := store.Create(context.Background(), app); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if mock.putInput == nil {
		t.Fatal("expected PutItem to be called")
	}
	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(id)" {
		t.Fatalf("expected insert guard, got %v", expr)
	}

	var stored Application
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored application: %v", err)
	}
	if stored.Stage != StageDraft {
		t.Fatalf("expected draft stage, got %s", stored.Stage)
	}
	if stored.CreatedAt == "" || stored.UpdatedAt == "" {
		t.Fatal("expected timestamps to be populated")
	}
}

func TestRequestDeposit_CASFromDraft(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "applications", logging.Default())

	if err := store.RequestDeposit(context.Background(), "app-1", "pay-1"); err != nil {
		t.Fatalf("RequestDeposit returned error: %v", err)
	}

	update := mock.updateInputs[0]
	if got := *update.ConditionExpression; got != "attribute_exists(id) AND stage = :from" {
		t.Fatalf("unexpected condition: %s", got)
	}
	from := update.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberS).Value
	to := update.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberS).Value
	if from != string(StageDraft) || to != string(StageAwaitingDeposit) {
		t.Fatalf("unexpected stage move %s -> %s", from, to)
	}
	pid := update.ExpressionAttributeValues[":pid"].(*types.AttributeValueMemberS).Value
	if pid != "pay-1" {
		t.Fatalf("expected deposit payment attached, got %s", pid)
	}
}

func TestMarkDepositPaid_StageConflict(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	store := NewStore(mock, "applications", logging.Default())

	err := store.MarkDepositPaid(context.Background(), "app-1")
	if !errors.Is(err, ErrStageConflict) {
		t.Fatalf("expected ErrStageConflict, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := NewStore(&mockDynamo{getOutput: &dynamodb.GetItemOutput{}}, "applications", logging.Default())
	_, err := store.Get(context.Background(), "app-404")
	if !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	getOutput    *dynamodb.GetItemOutput
	getErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}
