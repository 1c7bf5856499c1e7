package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/observability"
	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

// fallbackReplyContent is the deterministic terminal reply sent when every
// responder attempt failed. Workers always hear back within the pipeline's
// time bound, even when the response service is down.
const fallbackReplyContent = "Thanks for your message! A WorkLink coordinator will get back to you shortly."

// Terminal statuses are swept once the tracking map grows past the
// threshold; the ops API only ever needs recent runs.
const (
	maxTrackedStatuses = 2048
	statusRetentionMs  = int64(60 * 60 * 1000)
)

const deliveryFailureTitle = "Message delivery failed"

// StartProcessing creates the tracking record for one inbound worker
// message, announces it to observers, and launches the pipeline run. The
// run is detached from the triggering connection: a superseded or dropped
// connection never cancels it, and delivery resolves against whichever
// connection is current at send time.
func (s *Service) StartProcessing(ctx context.Context, workerID string, record *MessageRecord) domain.ProcessingID {
	pid := domain.GenerateProcessingID()
	startedAt := domain.NowUTCMillis(s.clock)

	s.trackStatus(&ProcessingStatus{
		ProcessingID: pid,
		WorkerID:     workerID,
		MessageID:    record.MessageID,
		State:        domain.ProcessingActive,
		StartedAtMs:  startedAt,
	})

	// Announced before the run spawns so observers always see started
	// strictly before the terminal event.
	s.broadcastToObservers(ctx, protocol.FrameTypeProcessingStarted, protocol.ProcessingStarted{
		ProcessingID: pid.String(),
		WorkerID:     workerID,
		MessageID:    record.MessageID,
	})

	bgCtx := context.WithoutCancel(ctx)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runPipeline(bgCtx, pid, workerID, record, startedAt)
	}()

	return pid
}

// Status returns a copy of one pipeline run's tracking record.
func (s *Service) Status(pid domain.ProcessingID) (*ProcessingStatus, bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.statuses[pid]
	if !ok {
		return nil, false
	}
	out := *st
	return &out, true
}

// runPipeline drives one message through the retry loop to exactly one
// terminal send: the responder's reply on success, the deterministic
// fallback on exhaustion. Attempts are independent; only a succeeding
// attempt's content is ever sent.
func (s *Service) runPipeline(ctx context.Context, pid domain.ProcessingID, workerID string, record *MessageRecord, startedAt int64) {
	ctx, span := tracer.Start(ctx, "gateway.process_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("processing_id", pid.String()),
		attribute.String("worker_id", workerID),
	)

	logger := observability.WithTraceID(ctx, s.logger)

	var result *ResponderResult
	var lastErr error
	attempts := 0

	for attempts < s.maxAttempts {
		attempts++
		s.updateStatus(pid, func(st *ProcessingStatus) { st.Attempts = attempts })
		pipelineAttemptsTotal.Add(ctx, 1)

		result, lastErr = s.attemptResponse(ctx, workerID, record)
		if lastErr == nil {
			break
		}

		logger.WarnContext(ctx, "gateway.responder_attempt_failed",
			"processing_id", pid.String(),
			"worker_id", workerID,
			"attempt", attempts,
			"error", lastErr)

		if attempts < s.maxAttempts {
			if err := s.sleep(ctx, domain.ResponderBackoff(attempts)); err != nil {
				break
			}
		}
	}

	finishedAt := domain.NowUTCMillis(s.clock)
	elapsed := finishedAt - startedAt

	if lastErr != nil {
		s.finishFailed(ctx, pid, workerID, record, attempts, elapsed, finishedAt, lastErr)
		return
	}
	s.finishCompleted(ctx, pid, workerID, record, result, attempts, elapsed, finishedAt)
}

// attemptResponse races one responder call against the attempt timeout;
// whichever resolves first wins. A timeout counts exactly like an explicit
// responder failure, and a late result from a timed-out attempt is
// discarded — it can never become the terminal send.
func (s *Service) attemptResponse(ctx context.Context, workerID string, record *MessageRecord) (*ResponderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	type outcome struct {
		result *ResponderResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.responder.ProcessMessage(ctx, workerID, record.Content, record.Channel)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no response within %s", domain.ErrResponderTimeout, s.attemptTimeout)
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrResponderFailed, out.err)
		}
		if out.result == nil || out.result.Content == "" {
			return nil, fmt.Errorf("%w: empty response", domain.ErrResponderFailed)
		}
		return out.result, nil
	}
}

func (s *Service) finishCompleted(ctx context.Context, pid domain.ProcessingID, workerID string, record *MessageRecord, result *ResponderResult, attempts int, elapsed, finishedAt int64) {
	s.updateStatus(pid, func(st *ProcessingStatus) {
		st.State = domain.ProcessingCompleted
		st.FinishedAtMs = finishedAt
	})

	delivered := s.terminalSend(ctx, workerID, result.Content, record.Channel)

	pipelineOutcomesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	s.broadcastToObservers(ctx, protocol.FrameTypeProcessingCompleted, protocol.ProcessingCompleted{
		ProcessingID: pid.String(),
		WorkerID:     workerID,
		Attempts:     attempts,
		ElapsedMs:    elapsed,
	})

	logger := observability.WithTraceID(ctx, s.logger)
	logger.InfoContext(ctx, "gateway.processing_completed",
		"processing_id", pid.String(),
		"worker_id", workerID,
		"attempts", attempts,
		"elapsed_ms", elapsed,
		"delivered", delivered,
		"source", result.Source)
}

func (s *Service) finishFailed(ctx context.Context, pid domain.ProcessingID, workerID string, record *MessageRecord, attempts int, elapsed, finishedAt int64, lastErr error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "responder attempts exhausted")

	s.updateStatus(pid, func(st *ProcessingStatus) {
		st.State = domain.ProcessingFailed
		st.FinishedAtMs = finishedAt
		st.LastError = lastErr.Error()
	})

	delivered := s.terminalSend(ctx, workerID, fallbackReplyContent, record.Channel)

	pipelineOutcomesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	s.broadcastToObservers(ctx, protocol.FrameTypeProcessingFailed, protocol.ProcessingFailed{
		ProcessingID:         pid.String(),
		WorkerID:             workerID,
		Attempts:             attempts,
		LastError:            lastErr.Error(),
		RequiresManualReview: true,
	})

	logger := observability.WithTraceID(ctx, s.logger)
	logger.ErrorContext(ctx, "gateway.processing_failed",
		"processing_id", pid.String(),
		"worker_id", workerID,
		"attempts", attempts,
		"elapsed_ms", elapsed,
		"delivered", delivered,
		"error", lastErr)
}

// terminalSend pushes the terminal reply through the sender contract — the
// single choke point for success content and fallback alike — and, when the
// bridge accepts it, records the reply in the ledger and mirrors it to the
// live connections. A bridge refusal becomes a delivery-failure event for
// the operators; it is never retried automatically and never silently
// dropped.
func (s *Service) terminalSend(ctx context.Context, workerID, content string, channel domain.Channel) bool {
	logger := observability.WithTraceID(ctx, s.logger)

	sent, err := s.sender.SendToWorker(ctx, workerID, content, SendOptions{
		Channel:        channel,
		ReplyToChannel: channel,
	})
	if err != nil || sent == nil || !sent.Success {
		if err == nil {
			err = fmt.Errorf("%w: channel %s", domain.ErrSendFailed, channel)
		}
		logger.ErrorContext(ctx, "gateway.terminal_send_failed",
			"error", err, "worker_id", workerID, "channel", string(channel))

		deliveryFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(channel))))
		s.broadcastToObservers(ctx, protocol.FrameTypeNotification, protocol.Notification{
			WorkerID:                   workerID,
			Title:                      deliveryFailureTitle,
			Body:                       content,
			RequiresManualIntervention: true,
		})
		if qErr := s.notifier.Queue(ctx, workerID, deliveryFailureTitle, content); qErr != nil {
			logger.ErrorContext(ctx, "gateway.notification_queue_failed",
				"error", qErr, "worker_id", workerID)
		}
		return false
	}

	record, err := s.AppendMessage(ctx, MessageRecord{
		WorkerID:   workerID,
		Sender:     domain.SenderAdmin,
		Content:    content,
		Channel:    sent.Channel,
		ExternalID: sent.ProviderMessageID,
	})
	if err != nil {
		// The worker already has the reply; history is short one row.
		logger.ErrorContext(ctx, "gateway.reply_append_failed",
			"error", err, "worker_id", workerID)
		return true
	}

	if chatFrame, ferr := protocol.NewFrame(protocol.FrameTypeChatMessage, messagePayload(record)); ferr == nil {
		s.ToWorker(ctx, workerID, chatFrame)
	}
	s.broadcastToObservers(ctx, protocol.FrameTypeNewMessage, messagePayload(record))
	return true
}

func (s *Service) trackStatus(st *ProcessingStatus) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if len(s.statuses) >= maxTrackedStatuses {
		s.sweepStatuses()
	}
	s.statuses[st.ProcessingID] = st
}

func (s *Service) updateStatus(pid domain.ProcessingID, mutate func(*ProcessingStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st, ok := s.statuses[pid]; ok {
		mutate(st)
	}
}

// sweepStatuses drops terminal runs older than the retention window.
// Caller holds statusMu.
func (s *Service) sweepStatuses() {
	cutoff := domain.NowUTCMillis(s.clock) - statusRetentionMs
	for pid, st := range s.statuses {
		if st.State.IsTerminal() && st.FinishedAtMs < cutoff {
			delete(s.statuses, pid)
		}
	}
}
