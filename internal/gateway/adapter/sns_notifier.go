package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
)

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the notifier. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Compile-time interface satisfaction checks.
var _ app.Notifier = (*SNSNotifier)(nil)
var _ app.Notifier = (*LogNotifier)(nil)

// notificationMessage is the JSON payload published to the notifications
// topic. The push service and the ops escalation queue both subscribe to it.
type notificationMessage struct {
	WorkerID string `json:"worker_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// SNSNotifier queues worker notifications on an SNS topic for the platform's
// push delivery service.
type SNSNotifier struct {
	client   snsPublisher
	topicARN string
}

// NewSNSNotifier creates an SNSNotifier publishing to the given topic.
func NewSNSNotifier(client snsPublisher, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

// Queue publishes one notification for the worker.
func (n *SNSNotifier) Queue(ctx context.Context, workerID, title, body string) error {
	payload, err := json.Marshal(notificationMessage{
		WorkerID: workerID,
		Title:    title,
		Body:     body,
	})
	if err != nil {
		return fmt.Errorf("sns notifier: marshal notification: %w", err)
	}

	message := string(payload)
	attrType := "String"
	attrValue := "worker_notification"

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &n.topicARN,
		Message:  &message,
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {
				DataType:    &attrType,
				StringValue: &attrValue,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns notifier: queue for %s: %w", workerID, err)
	}

	return nil
}

// LogNotifier is a fake Notifier that logs instead of publishing. Suitable
// for local development and testing environments.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier that writes notification events to
// the given structured logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Queue logs the notification. It never reaches a real queue.
func (n *LogNotifier) Queue(ctx context.Context, workerID, title, body string) error {
	n.logger.InfoContext(ctx, "notification (log-only)",
		slog.String("worker_id", workerID),
		slog.String("title", title),
		slog.String("body", body),
	)
	return nil
}
