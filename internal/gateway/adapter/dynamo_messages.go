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

// messageDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the message store. The *dynamodb.Client satisfies it.
type messageDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// Compile-time check: MessageStore satisfies app.MessageStore.
var _ app.MessageStore = (*MessageStore)(nil)

// messageItem is the DynamoDB item shape for the messages table. The sort
// key is the zero-padded creation timestamp joined with the message id, so a
// partition reads back in chronological order and same-millisecond messages
// still get distinct keys.
type messageItem struct {
	WorkerID   string `dynamodbav:"worker_id"`
	SortKey    string `dynamodbav:"sk"`
	MessageID  string `dynamodbav:"message_id"`
	Sender     string `dynamodbav:"sender"`
	Content    string `dynamodbav:"content"`
	Channel    string `dynamodbav:"channel,omitempty"`
	CreatedAt  int64  `dynamodbav:"created_at_ms"`
	Read       bool   `dynamodbav:"read"`
	ReadAt     int64  `dynamodbav:"read_at_ms,omitempty"`
	ExternalID string `dynamodbav:"external_id,omitempty"`
}

// messageSortKey builds the range key for one message. The timestamp is
// padded to 13 digits so lexicographic order matches numeric order.
func messageSortKey(createdAtMs int64, messageID string) string {
	return fmt.Sprintf("%013d#%s", createdAtMs, messageID)
}

func toMessageItem(r app.MessageRecord) messageItem {
	return messageItem{
		WorkerID:   r.WorkerID,
		SortKey:    messageSortKey(r.CreatedAtMs, r.MessageID),
		MessageID:  r.MessageID,
		Sender:     string(r.Sender),
		Content:    r.Content,
		Channel:    string(r.Channel),
		CreatedAt:  r.CreatedAtMs,
		Read:       r.Read,
		ReadAt:     r.ReadAtMs,
		ExternalID: r.ExternalID,
	}
}

func fromMessageItem(item messageItem) app.MessageRecord {
	return app.MessageRecord{
		MessageID:   item.MessageID,
		WorkerID:    item.WorkerID,
		Sender:      domain.SenderRole(item.Sender),
		Content:     item.Content,
		Channel:     domain.Channel(item.Channel),
		CreatedAtMs: item.CreatedAt,
		Read:        item.Read,
		ReadAtMs:    item.ReadAt,
		ExternalID:  item.ExternalID,
	}
}

// MessageStore persists conversation messages in DynamoDB, one partition per
// worker.
type MessageStore struct {
	db        messageDynamoDB
	tableName string
}

// NewMessageStore creates a MessageStore backed by the given DynamoDB client.
func NewMessageStore(db messageDynamoDB, tableName string) *MessageStore {
	return &MessageStore{
		db:        db,
		tableName: tableName,
	}
}

// Append writes one message. Returns domain.ErrAlreadyExists when a message
// with the same key was already written, so retried appends stay idempotent.
func (s *MessageStore) Append(ctx context.Context, record app.MessageRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.messages.append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	av, err := dynamo.MarshalMap(toMessageItem(record))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("message store: marshal message: %w", err)
	}

	condExpr := "attribute_not_exists(sk)"

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: &condExpr,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("message store: append: %w", domain.ErrAlreadyExists)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("message store: append: %w", err)
	}

	return nil
}

// MarkRead flips every unread message from sender in the worker's partition
// to read, stamping readAtMs, and returns how many flipped. Zero unread
// messages means zero writes.
func (s *MessageStore) MarkRead(ctx context.Context, workerID string, sender domain.SenderRole, readAtMs int64) (int, error) {
	ctx, span := tracer.Start(ctx, "dynamo.messages.mark_read")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "Query+UpdateItem"),
	)

	updateExpr := "SET #r = :read, read_at_ms = :ts"
	count := 0

	err := s.queryUnread(ctx, workerID, sender, func(item messageItem) error {
		// Check context between multi-step operations: a cancelled caller
		// stops mid-partition rather than hammering the table.
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
			TableName: &s.tableName,
			Key: map[string]dynamo.AttributeValue{
				"worker_id": &dynamo.AttributeValueMemberS{Value: item.WorkerID},
				"sk":        &dynamo.AttributeValueMemberS{Value: item.SortKey},
			},
			UpdateExpression:         &updateExpr,
			ExpressionAttributeNames: map[string]string{"#r": "read"},
			ExpressionAttributeValues: map[string]dynamo.AttributeValue{
				":read": &dynamo.AttributeValueMemberBOOL{Value: true},
				":ts":   &dynamo.AttributeValueMemberN{Value: strconv.FormatInt(readAtMs, 10)},
			},
		})
		if err != nil {
			return fmt.Errorf("update %s: %w", item.SortKey, err)
		}
		count++
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return count, fmt.Errorf("message store: mark read: %w", err)
	}

	return count, nil
}

// UnreadCount returns how many messages from sender in the worker's
// partition are still unread. A COUNT query keeps the items off the wire.
func (s *MessageStore) UnreadCount(ctx context.Context, workerID string, sender domain.SenderRole) (int, error) {
	ctx, span := tracer.Start(ctx, "dynamo.messages.unread_count")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "Query"),
	)

	expr, err := dynamo.NewBuilder().
		WithKeyCondition(dynamo.Key("worker_id").Equal(dynamo.Value(workerID))).
		WithFilter(
			dynamo.Name("sender").Equal(dynamo.Value(string(sender))).
				And(dynamo.Name("read").Equal(dynamo.Value(false))),
		).
		Build()
	if err != nil {
		return 0, fmt.Errorf("message store: unread count: build expression: %w", err)
	}

	count := 0
	var startKey map[string]dynamo.AttributeValue
	for {
		out, err := s.db.Query(ctx, &dynamo.QueryInput{
			TableName:                 &s.tableName,
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			Select:                    dynamo.SelectCount,
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("message store: unread count: %w", err)
		}

		count += int(out.Count)
		if out.LastEvaluatedKey == nil {
			return count, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// ListRecent returns up to limit messages for the worker, newest first.
func (s *MessageStore) ListRecent(ctx context.Context, workerID string, limit int) ([]app.MessageRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.messages.list_recent")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "Query"),
	)

	keyExpr := "worker_id = :wid"

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":wid": &dynamo.AttributeValueMemberS{Value: workerID},
		},
		ScanIndexForward: dynamo.Bool(false),
		Limit:            dynamo.Int32(int32(limit)),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("message store: list recent: %w", err)
	}

	records := make([]app.MessageRecord, 0, len(out.Items))
	for _, raw := range out.Items {
		var item messageItem
		if err := dynamo.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("message store: unmarshal message: %w", err)
		}
		records = append(records, fromMessageItem(item))
	}

	return records, nil
}

// recentChannelScanLimit bounds how far back LastWorkerChannel looks for a
// worker-sent message. A worker active enough to be messaged has written
// within this window; older history defers to the directory preference.
const recentChannelScanLimit = 50

// LastWorkerChannel returns the channel of the worker's most recent message.
// Returns domain.ErrNotFound when no recent worker-sent message names one.
func (s *MessageStore) LastWorkerChannel(ctx context.Context, workerID string) (domain.Channel, error) {
	ctx, span := tracer.Start(ctx, "dynamo.messages.last_worker_channel")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "Query"),
	)

	keyExpr := "worker_id = :wid"

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":wid": &dynamo.AttributeValueMemberS{Value: workerID},
		},
		ScanIndexForward: dynamo.Bool(false),
		Limit:            dynamo.Int32(recentChannelScanLimit),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("message store: last worker channel: %w", err)
	}

	for _, raw := range out.Items {
		var item messageItem
		if err := dynamo.UnmarshalMap(raw, &item); err != nil {
			return "", fmt.Errorf("message store: unmarshal message: %w", err)
		}
		if item.Sender != string(domain.SenderWorker) {
			continue
		}
		if ch := domain.Channel(item.Channel); domain.IsValidChannel(ch) {
			return ch, nil
		}
	}

	return "", fmt.Errorf("message store: last worker channel: %w", domain.ErrNotFound)
}

// queryUnread walks every unread message from sender in the worker's
// partition, following pagination, and calls visit for each.
func (s *MessageStore) queryUnread(ctx context.Context, workerID string, sender domain.SenderRole, visit func(messageItem) error) error {
	keyExpr := "worker_id = :wid"
	filterExpr := "#s = :sender AND #r = :unread"

	var startKey map[string]dynamo.AttributeValue
	for {
		out, err := s.db.Query(ctx, &dynamo.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: &keyExpr,
			FilterExpression:       &filterExpr,
			ExpressionAttributeNames: map[string]string{
				"#s": "sender",
				"#r": "read",
			},
			ExpressionAttributeValues: map[string]dynamo.AttributeValue{
				":wid":    &dynamo.AttributeValueMemberS{Value: workerID},
				":sender": &dynamo.AttributeValueMemberS{Value: string(sender)},
				":unread": &dynamo.AttributeValueMemberBOOL{Value: false},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return fmt.Errorf("query unread: %w", err)
		}

		for _, raw := range out.Items {
			var item messageItem
			if err := dynamo.UnmarshalMap(raw, &item); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			if err := visit(item); err != nil {
				return err
			}
		}

		if out.LastEvaluatedKey == nil {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}
