package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

func frameTypeAttr(t protocol.FrameType) attribute.KeyValue {
	return attribute.String("frame_type", string(t))
}

// ToAllObservers sends frame to every registered observer. Best-effort:
// connections that cannot take the frame are skipped and counted, never
// waited on. Returns the number of connections that accepted it.
func (s *Service) ToAllObservers(ctx context.Context, frame *protocol.Frame) int {
	return s.deliver(ctx, s.registry.Observers(), frame)
}

// ToWorker sends frame to the worker's live connection. Returns false when
// the worker has no registered connection or it could not take the frame;
// the caller decides the fallback (typically the offline notification
// queue).
func (s *Service) ToWorker(ctx context.Context, workerID string, frame *protocol.Frame) bool {
	c, ok := s.registry.Worker(workerID)
	if !ok {
		return false
	}
	if !c.Send(frame) {
		framesDroppedTotal.Add(ctx, 1, metric.WithAttributes(frameTypeAttr(frame.Type)))
		return false
	}
	return true
}

// ToWorkers sends frame to each named worker that has a live connection.
// Returns the number of workers that accepted it.
func (s *Service) ToWorkers(ctx context.Context, workerIDs []string, frame *protocol.Frame) int {
	delivered := 0
	for _, id := range workerIDs {
		if s.ToWorker(ctx, id, frame) {
			delivered++
		}
	}
	return delivered
}

// ToEveryone sends frame to every registered connection, observers and
// workers alike. Returns the number that accepted it.
func (s *Service) ToEveryone(ctx context.Context, frame *protocol.Frame) int {
	return s.deliver(ctx, s.registry.All(), frame)
}

func (s *Service) deliver(ctx context.Context, conns []Conn, frame *protocol.Frame) int {
	delivered := 0
	for _, c := range conns {
		if c.Send(frame) {
			delivered++
			continue
		}
		framesDroppedTotal.Add(ctx, 1, metric.WithAttributes(frameTypeAttr(frame.Type)))
	}
	return delivered
}

// broadcastToObservers is the event-payload convenience over ToAllObservers
// used by connect, dispatch, and the pipeline.
func (s *Service) broadcastToObservers(ctx context.Context, frameType protocol.FrameType, payload any) {
	frame, err := protocol.NewFrame(frameType, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "gateway.frame_encode_failed",
			"error", err, "frame_type", string(frameType))
		return
	}
	s.ToAllObservers(ctx, frame)
}
