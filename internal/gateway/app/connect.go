package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/observability"
	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

// ConnectParams carries the handshake inputs the transport extracted from
// the upgrade request.
type ConnectParams struct {
	Token     string
	Role      string
	WorkerID  string
	OriginKey string // admission key, normally the client IP
	Conn      Conn
}

// Session is one authenticated connection's bound identity. The transport
// holds it for the connection's lifetime and passes it back into dispatch
// and disconnect.
type Session struct {
	ConnectionID domain.ConnectionID
	Role         domain.Role
	WorkerID     string // empty for observers
	Conn         Conn
}

// Connect admits, authenticates, and registers one connection, then sends
// the connected acknowledgement. On error the caller closes the transport
// with the mapped close code; nothing has been registered.
func (s *Service) Connect(ctx context.Context, p ConnectParams) (*Session, error) {
	ctx, span := tracer.Start(ctx, "gateway.connect")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Connection admission (fail-open — log and continue if the
	// backend fails; a limiter outage must not take down connects).
	allowed, err := s.admission.AdmitConnection(ctx, p.OriginKey)
	if err != nil {
		logger.WarnContext(ctx, "connection admission check failed, proceeding (fail-open)",
			"error", err, "origin_key", p.OriginKey)
	} else if !allowed {
		admissionDeniedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", "connection")))
		span.SetStatus(codes.Error, "connection rate limited")
		return nil, fmt.Errorf("%w: origin %s", domain.ErrRateLimited, p.OriginKey)
	}

	// 2. Required handshake parameters.
	role := domain.Role(p.Role)
	switch {
	case p.Role == "":
		return nil, fmt.Errorf("%w: role", domain.ErrMissingParams)
	case !domain.IsValidRole(role):
		return nil, fmt.Errorf("%w: role %q", domain.ErrMissingParams, p.Role)
	case p.Token == "":
		return nil, fmt.Errorf("%w: token", domain.ErrMissingParams)
	case role == domain.RoleWorker && p.WorkerID == "":
		return nil, fmt.Errorf("%w: worker_id", domain.ErrMissingParams)
	}

	workerID := ""
	if role == domain.RoleWorker {
		id, err := domain.NewWorkerID(p.WorkerID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		workerID = id.String()
	}

	// 3. Authenticate and bind: the token must claim the requested role,
	// and a worker token must be issued for the claimed identity.
	claims, err := s.validator.ValidateAccessToken(p.Token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token validation failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if claims.Role != string(role) {
		span.SetStatus(codes.Error, "role mismatch")
		return nil, fmt.Errorf("%w: token role %q, requested %q", domain.ErrRoleMismatch, claims.Role, role)
	}
	if role == domain.RoleWorker && claims.Subject != workerID {
		span.SetStatus(codes.Error, "subject mismatch")
		return nil, fmt.Errorf("%w: token subject does not match worker_id", domain.ErrUnauthorized)
	}

	// 4. Worker identities must exist in the directory.
	if role == domain.RoleWorker {
		exists, err := s.directory.Exists(ctx, workerID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("directory lookup: %w", err)
		}
		if !exists {
			span.SetStatus(codes.Error, "unknown worker")
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownWorker, workerID)
		}
	}

	// 5. Register. RegisterWorker closes a prior connection for the same
	// identity before storing this one.
	sess := &Session{
		ConnectionID: domain.GenerateConnectionID(),
		Role:         role,
		WorkerID:     workerID,
		Conn:         p.Conn,
	}
	superseded := false
	if role == domain.RoleWorker {
		superseded = s.registry.RegisterWorker(workerID, p.Conn)
	} else {
		s.registry.AddObserver(p.Conn)
	}

	// 6. Acknowledge with the bound identity and heartbeat cadence.
	s.sendFrame(ctx, p.Conn, protocol.FrameTypeConnected, protocol.Connected{
		ConnectionID:        sess.ConnectionID.String(),
		Role:                string(role),
		WorkerID:            workerID,
		HeartbeatIntervalMs: int(domain.HeartbeatInterval.Milliseconds()),
	})

	// 7. Observers track worker presence; a superseded connection was
	// already online so no transition is announced.
	if role == domain.RoleWorker && !superseded {
		s.broadcastToObservers(ctx, protocol.FrameTypeStatusChange, protocol.StatusChange{
			WorkerID: workerID,
			Online:   true,
		})
	}

	connectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(role))))
	connectionsActive.Add(ctx, 1)
	logger.InfoContext(ctx, "gateway.connected",
		"connection_id", sess.ConnectionID.String(),
		"role", string(role),
		"worker_id", workerID,
		"superseded_prior", superseded)

	return sess, nil
}

// Disconnect deregisters a closed connection. For workers whose connection
// is still the registered one this announces the presence change and stamps
// last-seen; a connection that was superseded earlier must not touch the
// successor's registration or presence.
func (s *Service) Disconnect(ctx context.Context, sess *Session) {
	ctx, span := tracer.Start(ctx, "gateway.disconnect")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)
	connectionsActive.Add(ctx, -1)

	if sess.Role != domain.RoleWorker {
		s.registry.RemoveObserver(sess.Conn)
		logger.InfoContext(ctx, "gateway.disconnected",
			"connection_id", sess.ConnectionID.String(), "role", string(sess.Role))
		return
	}

	if !s.registry.RemoveWorker(sess.WorkerID, sess.Conn) {
		logger.InfoContext(ctx, "gateway.disconnected",
			"connection_id", sess.ConnectionID.String(),
			"role", string(sess.Role),
			"worker_id", sess.WorkerID,
			"stale", true)
		return
	}

	seenAt := domain.NowUTCMillis(s.clock)

	s.broadcastToObservers(ctx, protocol.FrameTypeStatusChange, protocol.StatusChange{
		WorkerID: sess.WorkerID,
		Online:   false,
		LastSeen: seenAt,
	})

	// Last-seen persistence is detached from the closing connection's
	// context so teardown cannot cancel the write mid-flight.
	bgCtx := context.WithoutCancel(ctx)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.directory.TouchLastSeen(bgCtx, sess.WorkerID, seenAt); err != nil {
			s.logger.ErrorContext(bgCtx, "gateway.last_seen_update_failed",
				"error", err, "worker_id", sess.WorkerID)
		}
	}()

	logger.InfoContext(ctx, "gateway.disconnected",
		"connection_id", sess.ConnectionID.String(),
		"role", string(sess.Role),
		"worker_id", sess.WorkerID)
}
