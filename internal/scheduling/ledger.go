package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// ClaimStatus tracks whether a slot claim is a time-boxed hold or a confirmed
// booking.
type ClaimStatus string

const (
	ClaimStatusHold      ClaimStatus = "hold"
	ClaimStatusConfirmed ClaimStatus = "confirmed"
)

var (
	// ErrSlotTaken is returned when a claim loses the race for a slot. The
	// caller should re-query availability.
	ErrSlotTaken = errors.New("scheduling: slot already taken")
	// ErrClaimLost is returned when a hold's claim no longer belongs to the
	// consultation trying to promote it (the hold expired and the slot was
	// re-claimed).
	ErrClaimLost = errors.New("scheduling: slot claim lost")
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Claim is the persisted ownership record for one slot. The table's primary
// key on slotKey is the real mutual exclusion for a slot; availability reads
// are advisory.
type Claim struct {
	SlotKey        string      `dynamodbav:"slotKey" json:"slotKey"`
	ConsultationID string      `dynamodbav:"consultationId" json:"consultationId"`
	Status         ClaimStatus `dynamodbav:"status" json:"status"`
	Day            string      `dynamodbav:"day" json:"day"`
	ExpiresAt      int64       `dynamodbav:"expiresAt,omitempty" json:"-"`
	CreatedAt      string      `dynamodbav:"createdAt" json:"createdAt"`
}

// expired reports whether a hold claim's deadline has passed. Confirmed
// claims never expire.
func (c Claim) expired(now time.Time) bool {
	return c.Status == ClaimStatusHold && c.ExpiresAt > 0 && c.ExpiresAt < now.Unix()
}

// Ledger reserves and releases calendar slots against the slot_claims table.
type Ledger struct {
	client    dynamoAPI
	tableName string
	grid      Grid
	logger    *logging.Logger
	now       func() time.Time
}

// NewLedger builds a slot ledger backed by the provided DynamoDB client.
func NewLedger(client dynamoAPI, tableName string, grid Grid, logger *logging.Logger) *Ledger {
	if client == nil {
		panic("scheduling: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("scheduling: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{
		client:    client,
		tableName: tableName,
		grid:      grid,
		logger:    logger.Component("slot-ledger"),
		now:       time.Now,
	}
}

// Grid exposes the ledger's bookable grid.
func (l *Ledger) Grid() Grid {
	return l.grid
}

// Claim writes a hold claim for the slot. The conditional put succeeds when
// no claim exists or the existing claim is a hold whose expiry has passed
// (TTL reaping is lazy, so stale holds must be overwritable). Losing the
// condition means another booking owns the slot: ErrSlotTaken.
func (l *Ledger) Claim(ctx context.Context, start time.Time, consultationID string, holdExpiry time.Time) error {
	if consultationID == "" {
		return errors.New("scheduling: consultationID required")
	}
	now := l.now().UTC()
	claim := Claim{
		SlotKey:        SlotKey(start),
		ConsultationID: consultationID,
		Status:         ClaimStatusHold,
		Day:            DayKey(start),
		ExpiresAt:      holdExpiry.Unix(),
		CreatedAt:      now.Format(time.RFC3339Nano),
	}
	item, err := attributevalue.MarshalMap(claim)
	if err != nil {
		return fmt.Errorf("scheduling: failed to marshal claim: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(slotKey) OR (#status = :hold AND expiresAt < :now)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hold": &types.AttributeValueMemberS{Value: string(ClaimStatusHold)},
			":now":  &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrSlotTaken
		}
		return fmt.Errorf("scheduling: failed to claim slot %s: %w", claim.SlotKey, err)
	}
	return nil
}

// Promote upgrades a hold claim to confirmed and clears its expiry. The
// update is conditioned on the claim still belonging to the consultation; a
// failed condition means the hold lapsed and the slot was re-claimed.
func (l *Ledger) Promote(ctx context.Context, start time.Time, consultationID string) error {
	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"slotKey": &types.AttributeValueMemberS{Value: SlotKey(start)},
		},
		UpdateExpression:    aws.String("SET #status = :confirmed REMOVE expiresAt"),
		ConditionExpression: aws.String("consultationId = :cid"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":confirmed": &types.AttributeValueMemberS{Value: string(ClaimStatusConfirmed)},
			":cid":       &types.AttributeValueMemberS{Value: consultationID},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrClaimLost
		}
		return fmt.Errorf("scheduling: failed to promote claim %s: %w", SlotKey(start), err)
	}
	return nil
}

// Release deletes the slot claim if it still belongs to the consultation.
// Releasing a claim that lapsed or was re-claimed by another booking is a
// no-op, which makes release idempotent.
func (l *Ledger) Release(ctx context.Context, start time.Time, consultationID string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"slotKey": &types.AttributeValueMemberS{Value: SlotKey(start)},
		},
		ConditionExpression: aws.String("consultationId = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: consultationID},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			l.logger.Debug("release skipped, claim not owned", "slot", SlotKey(start), "consultation_id", consultationID)
			return nil
		}
		return fmt.Errorf("scheduling: failed to release claim %s: %w", SlotKey(start), err)
	}
	return nil
}

// IsSlotAvailable reports whether the slot is free right now. Advisory only:
// the conditional put in Claim decides races.
func (l *Ledger) IsSlotAvailable(ctx context.Context, start time.Time) (bool, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"slotKey": &types.AttributeValueMemberS{Value: SlotKey(start)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("scheduling: failed to read claim %s: %w", SlotKey(start), err)
	}
	if out.Item == nil {
		return true, nil
	}
	var claim Claim
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return false, fmt.Errorf("scheduling: failed to decode claim %s: %w", SlotKey(start), err)
	}
	return claim.expired(l.now().UTC()), nil
}

// AvailableSlots enumerates the grid for a day minus active claims. Expired
// holds count as free, and slots already in the past are omitted.
func (l *Ledger) AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	claimed, err := l.claimedKeys(ctx, day)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	var open []time.Time
	for _, slot := range l.grid.SlotsForDay(day) {
		if !slot.After(now) {
			continue
		}
		if claimed[SlotKey(slot)] {
			continue
		}
		open = append(open, slot)
	}
	return open, nil
}

func (l *Ledger) claimedKeys(ctx context.Context, day time.Time) (map[string]bool, error) {
	out, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		IndexName:              aws.String("day-index"),
		KeyConditionExpression: aws.String("#day = :day"),
		ExpressionAttributeNames: map[string]string{
			"#day": "day",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":day": &types.AttributeValueMemberS{Value: DayKey(day)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling: failed to query claims for %s: %w", DayKey(day), err)
	}

	now := l.now().UTC()
	claimed := make(map[string]bool, len(out.Items))
	for _, item := range out.Items {
		var claim Claim
		if err := attributevalue.UnmarshalMap(item, &claim); err != nil {
			l.logger.Warn("skipping undecodable slot claim", "error", err)
			continue
		}
		if claim.expired(now) {
			continue
		}
		claimed[claim.SlotKey] = true
	}
	return claimed, nil
}
