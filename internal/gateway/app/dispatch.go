package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/observability"
	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

// HandleFrame decodes and routes one inbound frame from an authenticated
// connection. Failure paths degrade to an error frame on the sending
// connection or a log line; no inbound frame closes the connection. The
// transport calls this inline from its read loop, which keeps per-connection
// processing strictly sequential.
func (s *Service) HandleFrame(ctx context.Context, sess *Session, data []byte) {
	ctx, span := tracer.Start(ctx, "gateway.dispatch")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Size guard. The transport enforces a read limit too; frames that
	// slip through oversized are rejected, not dispatched.
	if len(data) > domain.MaxFrameSize {
		s.sendError(ctx, sess.Conn, domain.ErrMessageTooLarge, "frame exceeds size limit")
		return
	}

	// 2. Message admission, keyed per connection (fail-open — log and
	// continue if the backend fails). A denial answers with an error frame
	// and leaves the connection open; the sender may continue once the
	// window rolls over.
	allowed, err := s.admission.AdmitMessage(ctx, sess.ConnectionID.String())
	if err != nil {
		logger.WarnContext(ctx, "message admission check failed, proceeding (fail-open)",
			"error", err, "connection_id", sess.ConnectionID.String())
	} else if !allowed {
		admissionDeniedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", "message")))
		s.sendError(ctx, sess.Conn, domain.ErrRateLimited, "message rate limit exceeded")
		return
	}

	// 3. Decode the frame envelope.
	frame, err := protocol.Decode(data)
	if err != nil {
		logger.WarnContext(ctx, "gateway.malformed_frame",
			"error", err, "connection_id", sess.ConnectionID.String())
		s.sendError(ctx, sess.Conn, domain.ErrMalformedFrame, "malformed frame")
		return
	}

	framesInTotal.Add(ctx, 1, metric.WithAttributes(frameTypeAttr(frame.Type)))
	span.SetAttributes(attribute.String("frame_type", string(frame.Type)))

	// 4. Fixed dispatch table. Unrecognized types are logged and ignored;
	// they are not fatal for the connection.
	switch frame.Type {
	case protocol.FrameTypeChat:
		s.handleChat(ctx, sess, frame)
	case protocol.FrameTypeTyping:
		s.handleTyping(ctx, sess, frame)
	case protocol.FrameTypeRead:
		s.handleRead(ctx, sess, frame)
	case protocol.FrameTypeStatusQuery:
		s.handleStatusQuery(ctx, sess, frame)
	case protocol.FrameTypeWorkerAction:
		s.handleWorkerAction(ctx, sess, frame)
	case protocol.FrameTypePing:
		s.handlePing(ctx, sess, frame)
	default:
		logger.WarnContext(ctx, "gateway.unknown_frame_type",
			"frame_type", string(frame.Type), "connection_id", sess.ConnectionID.String())
	}
}

func (s *Service) handleChat(ctx context.Context, sess *Session, frame *protocol.Frame) {
	var payload protocol.Chat
	if err := frame.ParsePayload(&payload); err != nil {
		s.sendError(ctx, sess.Conn, domain.ErrMalformedFrame, "malformed chat payload")
		return
	}
	if sess.Role == domain.RoleWorker {
		s.workerChat(ctx, sess, payload)
		return
	}
	s.observerChat(ctx, sess, payload)
}

// workerChat persists an inbound worker message, mirrors it to observers,
// and starts the response pipeline for it.
func (s *Service) workerChat(ctx context.Context, sess *Session, payload protocol.Chat) {
	record, err := s.AppendMessage(ctx, MessageRecord{
		WorkerID: sess.WorkerID,
		Sender:   domain.SenderWorker,
		Content:  payload.Content,
		Channel:  domain.Channel(payload.Channel),
	})
	if err != nil {
		s.sendError(ctx, sess.Conn, err, "message rejected")
		return
	}

	s.broadcastToObservers(ctx, protocol.FrameTypeNewMessage, messagePayload(record))

	s.sendFrame(ctx, sess.Conn, protocol.FrameTypeMessageSent, protocol.MessageSent{
		MessageID: record.MessageID,
		WorkerID:  record.WorkerID,
		Delivered: true,
		Channel:   string(record.Channel),
	})

	s.StartProcessing(ctx, sess.WorkerID, record)
}

// observerChat persists an operator message and delivers it twice over:
// mirrored into the worker's live connection when one exists, and through
// the sender contract for the worker's messaging channel. When neither path
// reaches the worker the offline notification queue takes over.
func (s *Service) observerChat(ctx context.Context, sess *Session, payload protocol.Chat) {
	logger := observability.WithTraceID(ctx, s.logger)

	if payload.WorkerID == "" {
		s.sendError(ctx, sess.Conn, domain.ErrInvalidInput, "worker_id required")
		return
	}
	id, err := domain.NewWorkerID(payload.WorkerID)
	if err != nil {
		s.sendError(ctx, sess.Conn, err, "invalid worker_id")
		return
	}
	workerID := id.String()

	exists, err := s.directory.Exists(ctx, workerID)
	if err != nil {
		s.sendError(ctx, sess.Conn, fmt.Errorf("directory lookup: %w", err), "directory unavailable")
		return
	}
	if !exists {
		s.sendError(ctx, sess.Conn, domain.ErrUnknownWorker, "unknown worker")
		return
	}

	channel := s.resolveDeliveryChannel(ctx, workerID, domain.Channel(payload.Channel))

	record, err := s.AppendMessage(ctx, MessageRecord{
		WorkerID: workerID,
		Sender:   domain.SenderAdmin,
		Content:  payload.Content,
		Channel:  channel,
	})
	if err != nil {
		s.sendError(ctx, sess.Conn, err, "message rejected")
		return
	}

	// Live mirror into the worker's connection, then the channel bridge.
	delivered := false
	if chatFrame, ferr := protocol.NewFrame(protocol.FrameTypeChatMessage, messagePayload(record)); ferr == nil {
		delivered = s.ToWorker(ctx, workerID, chatFrame)
	}

	sent, sendErr := s.sender.SendToWorker(ctx, workerID, record.Content, SendOptions{
		Channel:        channel,
		ReplyToChannel: channel,
	})
	senderOK := sendErr == nil && sent != nil && sent.Success
	if sendErr != nil {
		logger.ErrorContext(ctx, "gateway.send_failed",
			"error", sendErr, "worker_id", workerID, "channel", string(channel))
	}

	if !delivered && !senderOK {
		if qErr := s.notifier.Queue(ctx, workerID, "New message from WorkLink", record.Content); qErr != nil {
			logger.ErrorContext(ctx, "gateway.notification_queue_failed",
				"error", qErr, "worker_id", workerID)
		}
	}

	s.sendFrame(ctx, sess.Conn, protocol.FrameTypeMessageSent, protocol.MessageSent{
		MessageID: record.MessageID,
		WorkerID:  workerID,
		Delivered: delivered || senderOK,
		Channel:   string(channel),
	})

	s.broadcastToObservers(ctx, protocol.FrameTypeNewMessage, messagePayload(record))
}

// handleTyping forwards a typing indicator verbatim to the counterpart.
// Never persisted, never acknowledged.
func (s *Service) handleTyping(ctx context.Context, sess *Session, frame *protocol.Frame) {
	var payload protocol.Typing
	if err := frame.ParsePayload(&payload); err != nil {
		s.sendError(ctx, sess.Conn, domain.ErrMalformedFrame, "malformed typing payload")
		return
	}

	if sess.Role == domain.RoleWorker {
		s.broadcastToObservers(ctx, protocol.FrameTypeTyping, protocol.Typing{
			WorkerID: sess.WorkerID,
			IsTyping: payload.IsTyping,
		})
		return
	}

	if payload.WorkerID == "" {
		s.sendError(ctx, sess.Conn, domain.ErrInvalidInput, "worker_id required")
		return
	}
	typingFrame, err := protocol.NewFrame(protocol.FrameTypeTyping, protocol.Typing{
		WorkerID: payload.WorkerID,
		IsTyping: payload.IsTyping,
	})
	if err != nil {
		return
	}
	s.ToWorker(ctx, payload.WorkerID, typingFrame)
}

// handleRead marks the counterpart's messages read and announces the new
// watermark. Nothing unread means nothing announced.
func (s *Service) handleRead(ctx context.Context, sess *Session, frame *protocol.Frame) {
	var payload protocol.Read
	if err := frame.ParsePayload(&payload); err != nil {
		s.sendError(ctx, sess.Conn, domain.ErrMalformedFrame, "malformed read payload")
		return
	}

	workerID := sess.WorkerID
	if sess.Role == domain.RoleObserver {
		if payload.WorkerID == "" {
			s.sendError(ctx, sess.Conn, domain.ErrInvalidInput, "worker_id required")
			return
		}
		workerID = payload.WorkerID
	}

	count, readAt, err := s.MarkMessagesRead(ctx, workerID, sess.Role)
	if err != nil {
		s.sendError(ctx, sess.Conn, err, "mark read failed")
		return
	}
	if count == 0 {
		return
	}

	receipt := protocol.MessagesRead{
		WorkerID: workerID,
		Count:    count,
		ReadAt:   readAt,
	}
	if sess.Role == domain.RoleObserver {
		if readFrame, ferr := protocol.NewFrame(protocol.FrameTypeMessagesRead, receipt); ferr == nil {
			s.ToWorker(ctx, workerID, readFrame)
		}
	}
	s.broadcastToObservers(ctx, protocol.FrameTypeMessagesRead, receipt)
}

// handleStatusQuery answers an observer with one worker's presence and, for
// offline workers, the last-seen stamp from the directory. The reply goes
// only to the requester.
func (s *Service) handleStatusQuery(ctx context.Context, sess *Session, frame *protocol.Frame) {
	if sess.Role != domain.RoleObserver {
		s.sendError(ctx, sess.Conn, domain.ErrInvalidInput, "status_query is observer-only")
		return
	}

	var payload protocol.StatusQuery
	if err := frame.ParsePayload(&payload); err != nil {
		s.sendError(ctx, sess.Conn, domain.ErrMalformedFrame, "malformed status_query payload")
		return
	}
	if payload.WorkerID == "" {
		s.sendError(ctx, sess.Conn, domain.ErrInvalidInput, "worker_id required")
		return
	}

	online := s.registry.IsWorkerOnline(payload.WorkerID)
	var lastSeen int64
	if !online {
		profile, err := s.directory.Profile(ctx, payload.WorkerID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			s.sendError(ctx, sess.Conn, domain.ErrUnknownWorker, "unknown worker")
			return
		case err != nil:
			s.sendError(ctx, sess.Conn, fmt.Errorf("directory lookup: %w", err), "directory unavailable")
			return
		}
		lastSeen = profile.LastSeenMs
	}

	s.sendFrame(ctx, sess.Conn, protocol.FrameTypeStatusChange, protocol.StatusChange{
		WorkerID: payload.WorkerID,
		Online:   online,
		LastSeen: lastSeen,
	})
}

// handleWorkerAction routes a worker-initiated platform action to the
// action handler. The gateway does not interpret the action or its result;
// only failures come back, as error frames.
func (s *Service) handleWorkerAction(ctx context.Context, sess *Session, frame *protocol.Frame) {
	if sess.Role != domain.RoleWorker {
		s.sendError(ctx, sess.Conn, domain.ErrInvalidInput, "worker_action is worker-only")
		return
	}

	var payload protocol.WorkerAction
	if err := frame.ParsePayload(&payload); err != nil {
		s.sendError(ctx, sess.Conn, domain.ErrMalformedFrame, "malformed worker_action payload")
		return
	}
	if payload.Action == "" {
		s.sendError(ctx, sess.Conn, domain.ErrInvalidInput, "action required")
		return
	}

	if err := s.actions.HandleAction(ctx, sess.WorkerID, payload.Action, payload.Payload); err != nil {
		logger := observability.WithTraceID(ctx, s.logger)
		logger.ErrorContext(ctx, "gateway.worker_action_failed",
			"error", err, "worker_id", sess.WorkerID, "action", payload.Action)
		s.sendError(ctx, sess.Conn, err, "action failed")
	}
}

// handlePing answers immediately with no side effects, echoing the client
// timestamp when one was sent.
func (s *Service) handlePing(ctx context.Context, sess *Session, frame *protocol.Frame) {
	var payload protocol.Ping
	if err := frame.ParsePayload(&payload); err != nil {
		s.sendError(ctx, sess.Conn, domain.ErrMalformedFrame, "malformed ping payload")
		return
	}
	ts := payload.Timestamp
	if ts == 0 {
		ts = domain.NowUTCMillis(s.clock)
	}
	s.sendFrame(ctx, sess.Conn, protocol.FrameTypePong, protocol.Pong{Timestamp: ts})
}

// resolveDeliveryChannel picks the channel for an operator-to-worker send:
// the explicit request channel, else the channel the worker last wrote on,
// else the directory's preferred channel, else web.
func (s *Service) resolveDeliveryChannel(ctx context.Context, workerID string, explicit domain.Channel) domain.Channel {
	if domain.IsValidChannel(explicit) {
		return explicit
	}

	ch, err := s.store.LastWorkerChannel(ctx, workerID)
	if err == nil && domain.IsValidChannel(ch) {
		return ch
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "gateway.last_channel_lookup_failed",
			"error", err, "worker_id", workerID)
	}

	profile, err := s.directory.Profile(ctx, workerID)
	if err == nil && domain.IsValidChannel(profile.PreferredChannel) {
		return profile.PreferredChannel
	}
	return domain.ChannelWeb
}

// messagePayload converts a stored record to its wire shape. One payload
// serves both chat_message and new_message frames.
func messagePayload(record *MessageRecord) protocol.Message {
	return protocol.Message{
		MessageID: record.MessageID,
		WorkerID:  record.WorkerID,
		Sender:    string(record.Sender),
		Content:   record.Content,
		Channel:   string(record.Channel),
		CreatedAt: record.CreatedAtMs,
		Read:      record.Read,
	}
}
