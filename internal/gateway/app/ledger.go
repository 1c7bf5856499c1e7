package app

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/observability"
)

// AppendMessage validates and persists one chat message, assigning the id
// and creation timestamp when the record carries none. Every conversation
// write in the gateway goes through here.
func (s *Service) AppendMessage(ctx context.Context, record MessageRecord) (*MessageRecord, error) {
	ctx, span := tracer.Start(ctx, "gateway.append_message")
	defer span.End()

	if _, err := domain.NewWorkerID(record.WorkerID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !domain.IsValidSenderRole(record.Sender) {
		err := fmt.Errorf("%w: sender %q", domain.ErrInvalidInput, record.Sender)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if record.Content == "" {
		err := fmt.Errorf("%w: empty content", domain.ErrInvalidInput)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if utf8.RuneCountInString(record.Content) > domain.MaxContentLength {
		err := fmt.Errorf("%w: content exceeds %d characters", domain.ErrMessageTooLarge, domain.MaxContentLength)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if record.Channel == "" {
		record.Channel = domain.ChannelWeb
	}
	if !domain.IsValidChannel(record.Channel) {
		err := fmt.Errorf("%w: %q", domain.ErrInvalidChannel, record.Channel)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if record.MessageID == "" {
		record.MessageID = domain.GenerateMessageID().String()
	}
	if record.CreatedAtMs == 0 {
		record.CreatedAtMs = domain.NowUTCMillis(s.clock)
	}

	if err := s.store.Append(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("append message: %w", err)
	}

	messagesStoredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sender", string(record.Sender))))
	return &record, nil
}

// MarkMessagesRead marks every unread message addressed to reader in the
// worker's conversation as read, stamping a millisecond read time so read
// watermarks order correctly within one wall-clock second. Returns the
// number of messages that flipped and the stamp used; zero means nothing
// was unread and no write happened.
func (s *Service) MarkMessagesRead(ctx context.Context, workerID string, reader domain.Role) (int, int64, error) {
	ctx, span := tracer.Start(ctx, "gateway.mark_read")
	defer span.End()

	counterpart := senderForRole(reader).Counterpart()
	readAt := domain.NowUTCMillis(s.clock)

	count, err := s.store.MarkRead(ctx, workerID, counterpart, readAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, 0, fmt.Errorf("mark read: %w", err)
	}

	if count > 0 {
		logger := observability.WithTraceID(ctx, s.logger)
		logger.InfoContext(ctx, "gateway.messages_read",
			"worker_id", workerID, "reader", string(reader), "count", count)
	}
	return count, readAt, nil
}

// UnreadCount returns how many messages addressed to forRole in the
// worker's conversation are still unread.
func (s *Service) UnreadCount(ctx context.Context, workerID string, forRole domain.Role) (int, error) {
	count, err := s.store.UnreadCount(ctx, workerID, senderForRole(forRole).Counterpart())
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// RecentMessages returns the worker's conversation newest-first, clamped to
// the page-size bounds.
func (s *Service) RecentMessages(ctx context.Context, workerID string, limit int) ([]MessageRecord, error) {
	if _, err := domain.NewWorkerID(workerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	if limit > domain.MaxPageSize {
		limit = domain.MaxPageSize
	}
	records, err := s.store.ListRecent(ctx, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	return records, nil
}
