package adapter

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/dynamo"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
)

// directoryDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the worker directory. The *dynamodb.Client
// satisfies it.
type directoryDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// Compile-time check: WorkerDirectory satisfies app.WorkerDirectory.
var _ app.WorkerDirectory = (*WorkerDirectory)(nil)

// workerItem is the DynamoDB item shape for the workers table. The table is
// owned by the platform's onboarding service; the gateway only reads it and
// touches last_seen_ms.
type workerItem struct {
	WorkerID         string `dynamodbav:"worker_id"`
	PhoneNumber      string `dynamodbav:"phone_number"`
	PreferredChannel string `dynamodbav:"preferred_channel,omitempty"`
	LastSeenMs       int64  `dynamodbav:"last_seen_ms,omitempty"`
}

// WorkerDirectory reads worker records from the platform's workers table.
type WorkerDirectory struct {
	db        directoryDynamoDB
	tableName string
}

// NewWorkerDirectory creates a WorkerDirectory backed by the given DynamoDB
// client.
func NewWorkerDirectory(db directoryDynamoDB, tableName string) *WorkerDirectory {
	return &WorkerDirectory{
		db:        db,
		tableName: tableName,
	}
}

// Exists reports whether a worker record exists, using a strongly consistent
// read so a worker who onboarded seconds ago can connect.
func (d *WorkerDirectory) Exists(ctx context.Context, workerID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "dynamo.directory.exists")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	consistentRead := true
	projExpr := "worker_id"

	out, err := d.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &d.tableName,
		Key: map[string]dynamo.AttributeValue{
			"worker_id": &dynamo.AttributeValueMemberS{Value: workerID},
		},
		ConsistentRead:       &consistentRead,
		ProjectionExpression: &projExpr,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("worker directory: exists: %w", err)
	}

	return out.Item != nil, nil
}

// Profile retrieves a worker's directory record.
// Returns domain.ErrNotFound when no worker exists for the given ID.
func (d *WorkerDirectory) Profile(ctx context.Context, workerID string) (*app.WorkerProfile, error) {
	ctx, span := tracer.Start(ctx, "dynamo.directory.profile")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	out, err := d.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &d.tableName,
		Key: map[string]dynamo.AttributeValue{
			"worker_id": &dynamo.AttributeValueMemberS{Value: workerID},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("worker directory: profile: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("worker directory: profile: %w", domain.ErrNotFound)
	}

	var item workerItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("worker directory: unmarshal worker: %w", err)
	}

	profile := &app.WorkerProfile{
		WorkerID:         item.WorkerID,
		PreferredChannel: domain.Channel(item.PreferredChannel),
		LastSeenMs:       item.LastSeenMs,
	}
	// A malformed stored number leaves the phone zero rather than failing
	// the whole read; presence lookups do not need it.
	if phone, err := domain.NewPhoneNumber(item.PhoneNumber); err == nil {
		profile.Phone = phone
	}

	return profile, nil
}

// TouchLastSeen stamps the worker's last_seen_ms.
// Returns domain.ErrNotFound when the worker record has vanished.
func (d *WorkerDirectory) TouchLastSeen(ctx context.Context, workerID string, seenAtMs int64) error {
	ctx, span := tracer.Start(ctx, "dynamo.directory.touch_last_seen")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	updateExpr := "SET last_seen_ms = :ts"
	condExpr := "attribute_exists(worker_id)"

	_, err := d.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &d.tableName,
		Key: map[string]dynamo.AttributeValue{
			"worker_id": &dynamo.AttributeValueMemberS{Value: workerID},
		},
		UpdateExpression:    &updateExpr,
		ConditionExpression: &condExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":ts": &dynamo.AttributeValueMemberN{Value: strconv.FormatInt(seenAtMs, 10)},
		},
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("worker directory: touch last seen: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("worker directory: touch last seen: %w", err)
	}

	return nil
}
