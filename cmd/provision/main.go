// Command provision creates the DynamoDB tables, the notification queue and
// the invoice bucket the booking platform needs. It is idempotent and points
// at LocalStack when AWS_ENDPOINT_OVERRIDE is set, so it doubles as the local
// dev bootstrap.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/atlasvisa/booking-platform/cmd/mainconfig"
	appconfig "github.com/atlasvisa/booking-platform/internal/config"
)

type tableAPI interface {
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, input *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

type queueAPI interface {
	CreateQueue(ctx context.Context, input *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
}

type bucketAPI interface {
	CreateBucket(ctx context.Context, input *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type tableSpec struct {
	name    string
	hashKey string
	indexes []indexSpec
	ttlAttr string
}

type indexSpec struct {
	name    string
	hashKey string
}

func tableSpecs(cfg *appconfig.Config) []tableSpec {
	return []tableSpec{
		{name: cfg.ConsultationsTable, hashKey: "id", indexes: []indexSpec{{name: "day-index", hashKey: "day"}}, ttlAttr: "expiresAt"},
		{name: cfg.SlotClaimsTable, hashKey: "slotKey", indexes: []indexSpec{{name: "day-index", hashKey: "day"}}, ttlAttr: "expiresAt"},
		{name: cfg.PaymentsTable, hashKey: "id", indexes: []indexSpec{{name: "session-index", hashKey: "sessionId"}}, ttlAttr: "expiresAt"},
		{name: cfg.ClientsTable, hashKey: "email"},
		{name: cfg.ApplicationsTable, hashKey: "id"},
	}
}

func main() {
	cfg := appconfig.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	client := dynamodb.NewFromConfig(awsCfg)

	for _, spec := range tableSpecs(cfg) {
		if spec.name == "" {
			log.Fatal("missing table name; check the *_TABLE environment variables")
		}
		if err := ensureTable(ctx, client, spec); err != nil {
			log.Fatalf("provision %s: %v", spec.name, err)
		}
	}

	if cfg.UseMemoryQueue {
		fmt.Println("memory queue mode, skipping SQS queue")
	} else if name := queueNameFromURL(cfg.NotificationQueueURL); name != "" {
		if err := ensureQueue(ctx, sqs.NewFromConfig(awsCfg), name); err != nil {
			log.Fatalf("provision queue %s: %v", name, err)
		}
	}

	if cfg.InvoiceBucket != "" {
		if err := ensureBucket(ctx, s3.NewFromConfig(awsCfg), cfg.InvoiceBucket, cfg.AWSRegion); err != nil {
			log.Fatalf("provision bucket %s: %v", cfg.InvoiceBucket, err)
		}
	}

	fmt.Println("provisioning complete")
}

func ensureTable(ctx context.Context, client tableAPI, spec tableSpec) error {
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(spec.name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(spec.hashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(spec.hashKey), KeyType: types.KeyTypeHash},
		},
	}
	for _, idx := range spec.indexes {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(idx.hashKey),
			AttributeType: types.ScalarAttributeTypeS,
		})
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName: aws.String(idx.name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(idx.hashKey), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	_, err := client.CreateTable(ctx, input)
	var inUse *types.ResourceInUseException
	switch {
	case errors.As(err, &inUse):
		fmt.Printf("table %s already exists\n", spec.name)
	case err != nil:
		return fmt.Errorf("create table: %w", err)
	default:
		fmt.Printf("created table %s\n", spec.name)
		waiter := dynamodb.NewTableExistsWaiter(client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(spec.name)}, time.Minute); err != nil {
			return fmt.Errorf("wait for table: %w", err)
		}
	}

	if spec.ttlAttr == "" {
		return nil
	}
	_, err = client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(spec.name),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(spec.ttlAttr),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		// Re-enabling TTL on a table that already has it is an error;
		// repeat runs hit this.
		fmt.Printf("ttl on %s: %v\n", spec.name, err)
	}
	return nil
}

// queueNameFromURL pulls the queue name off the configured queue URL, so dev
// setups configure NOTIFICATION_QUEUE_URL once and provisioning derives the
// rest.
func queueNameFromURL(queueURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(queueURL), "/")
	if trimmed == "" {
		return ""
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func ensureQueue(ctx context.Context, client queueAPI, name string) error {
	out, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(name),
		Attributes: map[string]string{
			"MessageRetentionPeriod": "1209600",
		},
	})
	var exists *sqstypes.QueueNameExists
	switch {
	case errors.As(err, &exists):
		// Creating a queue whose attributes match is a no-op success, so
		// this only fires when the existing queue was configured differently.
		fmt.Printf("queue %s already exists with different attributes\n", name)
	case err != nil:
		return fmt.Errorf("create queue: %w", err)
	default:
		fmt.Printf("queue ready at %s\n", aws.ToString(out.QueueUrl))
	}
	return nil
}

func ensureBucket(ctx context.Context, client bucketAPI, name, region string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	// us-east-1 is the one region that rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	_, err := client.CreateBucket(ctx, input)
	var owned *s3types.BucketAlreadyOwnedByYou
	var taken *s3types.BucketAlreadyExists
	switch {
	case errors.As(err, &owned), errors.As(err, &taken):
		fmt.Printf("bucket %s already exists\n", name)
	case err != nil:
		return fmt.Errorf("create bucket: %w", err)
	default:
		fmt.Printf("created bucket %s\n", name)
	}
	return nil
}
