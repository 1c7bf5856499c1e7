package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/augustinebeh/worklink-gateway/internal/auth"
	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/errmap"
	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

var tracer = otel.Tracer("gateway/app")

var (
	connectionsTotal      metric.Int64Counter
	connectionsActive     metric.Int64UpDownCounter
	admissionDeniedTotal  metric.Int64Counter
	framesInTotal         metric.Int64Counter
	framesDroppedTotal    metric.Int64Counter
	messagesStoredTotal   metric.Int64Counter
	pipelineAttemptsTotal metric.Int64Counter
	pipelineOutcomesTotal metric.Int64Counter
	deliveryFailuresTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("gateway/app")

	connectionsTotal, _ = m.Int64Counter("gateway_connections_total",
		metric.WithDescription("Total connections accepted past the handshake"))
	connectionsActive, _ = m.Int64UpDownCounter("gateway_connections_active",
		metric.WithDescription("Currently registered connections"))
	admissionDeniedTotal, _ = m.Int64Counter("gateway_admission_denied_total",
		metric.WithDescription("Total admission denials"))
	framesInTotal, _ = m.Int64Counter("gateway_frames_in_total",
		metric.WithDescription("Total inbound frames dispatched"))
	framesDroppedTotal, _ = m.Int64Counter("gateway_frames_dropped_total",
		metric.WithDescription("Total outbound frames skipped by fan-out"))
	messagesStoredTotal, _ = m.Int64Counter("gateway_messages_stored_total",
		metric.WithDescription("Total chat messages appended to the ledger"))
	pipelineAttemptsTotal, _ = m.Int64Counter("gateway_pipeline_attempts_total",
		metric.WithDescription("Total responder attempts"))
	pipelineOutcomesTotal, _ = m.Int64Counter("gateway_pipeline_outcomes_total",
		metric.WithDescription("Total pipeline terminal outcomes"))
	deliveryFailuresTotal, _ = m.Int64Counter("gateway_delivery_failures_total",
		metric.WithDescription("Total terminal sends the sender could not deliver"))
}

// MessageRecord represents one chat message in a worker's conversation.
// Structurally mirrors the adapter record; the wiring layer converts between
// them. The conversation is keyed by worker: every message a worker exchanges
// with the operations team lives under their worker ID.
type MessageRecord struct {
	MessageID   string
	WorkerID    string
	Sender      domain.SenderRole
	Content     string
	Channel     domain.Channel
	CreatedAtMs int64
	Read        bool
	ReadAtMs    int64
	ExternalID  string // provider message id for bridge-delivered replies
}

// WorkerProfile is the subset of a worker directory record the gateway reads.
type WorkerProfile struct {
	WorkerID         string
	Phone            domain.PhoneNumber
	PreferredChannel domain.Channel
	LastSeenMs       int64
}

// ProcessingStatus tracks one inbound worker message through the response
// pipeline. Mutated only by the pipeline goroutine that owns it; readers get
// copies. Terminal once Completed or Failed, never reused.
type ProcessingStatus struct {
	ProcessingID domain.ProcessingID
	WorkerID     string
	MessageID    string
	State        domain.ProcessingState
	Attempts     int
	StartedAtMs  int64
	FinishedAtMs int64
	LastError    string
}

// ResponderResult is the reply produced by the response service for one
// inbound worker message.
type ResponderResult struct {
	Content    string
	Source     string
	Confidence float64
}

// SendOptions selects the delivery channel for an outbound worker message.
type SendOptions struct {
	Channel        domain.Channel
	ReplyToChannel domain.Channel
}

// SendResult reports the outcome of one channel delivery attempt.
type SendResult struct {
	Success           bool
	Channel           domain.Channel
	ProviderMessageID string
}

// MessageStore persists and retrieves chat messages. Writes for one
// conversation are serialized by the store's atomic single-item operations;
// the gateway never wraps them in transactions or in-process locks.
type MessageStore interface {
	Append(ctx context.Context, record MessageRecord) error
	MarkRead(ctx context.Context, workerID string, sender domain.SenderRole, readAtMs int64) (int, error)
	UnreadCount(ctx context.Context, workerID string, sender domain.SenderRole) (int, error)
	ListRecent(ctx context.Context, workerID string, limit int) ([]MessageRecord, error)
	LastWorkerChannel(ctx context.Context, workerID string) (domain.Channel, error)
}

// WorkerDirectory reads and updates worker records owned by the core
// platform. The gateway only ever checks existence, reads contact details,
// and stamps last-seen times.
type WorkerDirectory interface {
	Exists(ctx context.Context, workerID string) (bool, error)
	Profile(ctx context.Context, workerID string) (*WorkerProfile, error)
	TouchLastSeen(ctx context.Context, workerID string, seenAtMs int64) error
}

// Responder produces a reply for an inbound worker message. May be slow or
// fail; the pipeline tolerates both.
type Responder interface {
	ProcessMessage(ctx context.Context, workerID, content string, channel domain.Channel) (*ResponderResult, error)
}

// Sender delivers a message to a worker over their messaging channel. It is
// the single choke point for terminal sends, success content and fallback
// alike.
type Sender interface {
	SendToWorker(ctx context.Context, workerID, content string, opts SendOptions) (*SendResult, error)
}

// Notifier queues an operator notification for out-of-band follow-up when
// live delivery is not possible.
type Notifier interface {
	Queue(ctx context.Context, workerID, title, body string) error
}

// ActionHandler executes worker-initiated platform actions (shift
// applications, availability updates) against the core platform API. The
// gateway routes and reports errors; it never interprets the action.
type ActionHandler interface {
	HandleAction(ctx context.Context, workerID, action string, payload json.RawMessage) error
}

// Admission enforces the connection and message rate limits.
type Admission interface {
	AdmitConnection(ctx context.Context, key string) (bool, error)
	AdmitMessage(ctx context.Context, key string) (bool, error)
}

// SleepFunc blocks for d or until ctx is done. Injected so pipeline tests can
// run full retry schedules without real timers.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ServiceConfig holds the dependencies for Service.
type ServiceConfig struct {
	MessageStore MessageStore
	Directory    WorkerDirectory
	Responder    Responder
	Sender       Sender
	Notifier     Notifier
	Actions      ActionHandler
	Admission    Admission
	Validator    *auth.Validator
	Clock        domain.Clock
	Sleep        SleepFunc
	Logger       *slog.Logger

	// AttemptTimeout and MaxAttempts bound the response pipeline. Zero
	// values take the domain defaults.
	AttemptTimeout time.Duration
	MaxAttempts    int
}

// Service is the gateway core: admission, registry, dispatch, fan-out,
// ledger, and the response pipeline, behind one injectable instance. All
// state is owned here so tests can construct an isolated Service per case.
type Service struct {
	store     MessageStore
	directory WorkerDirectory
	responder Responder
	sender    Sender
	notifier  Notifier
	actions   ActionHandler
	admission Admission
	validator *auth.Validator
	clock     domain.Clock
	sleep     SleepFunc
	logger    *slog.Logger

	attemptTimeout time.Duration
	maxAttempts    int

	registry *Registry

	statusMu sync.Mutex
	statuses map[domain.ProcessingID]*ProcessingStatus

	bgWG sync.WaitGroup // owns pipeline runs and last-seen writes
}

// NewService creates a new Service with the given dependencies.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = domain.RealClock{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepWithContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = domain.ResponderAttemptTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.ResponderMaxAttempts
	}

	return &Service{
		store:          cfg.MessageStore,
		directory:      cfg.Directory,
		responder:      cfg.Responder,
		sender:         cfg.Sender,
		notifier:       cfg.Notifier,
		actions:        cfg.Actions,
		admission:      cfg.Admission,
		validator:      cfg.Validator,
		clock:          cfg.Clock,
		sleep:          cfg.Sleep,
		logger:         cfg.Logger,
		attemptTimeout: cfg.AttemptTimeout,
		maxAttempts:    cfg.MaxAttempts,
		registry:       NewRegistry(),
		statuses:       make(map[domain.ProcessingID]*ProcessingStatus),
	}
}

// Wait blocks until all background goroutines owned by this service complete.
// The caller (wiring layer) must invoke this during graceful shutdown to
// satisfy the goroutine ownership contract.
func (s *Service) Wait() {
	s.bgWG.Wait()
}

// OnlineWorkers returns the identities with a live connection.
func (s *Service) OnlineWorkers() []string {
	return s.registry.WorkerIDs()
}

// ConnectionCounts returns the registered observer and worker counts.
func (s *Service) ConnectionCounts() (observers, workers int) {
	return s.registry.Counts()
}

// DrainConnections closes every live connection with the server-shutdown
// close. The server calls this during graceful drain, before Wait.
func (s *Service) DrainConnections() {
	s.registry.CloseAll(errmap.CloseServerShutdown.Code, errmap.CloseServerShutdown.Reason)
}

// senderForRole maps a connection role to the message sender role its chat
// frames carry: observers write as the operations team.
func senderForRole(role domain.Role) domain.SenderRole {
	if role == domain.RoleObserver {
		return domain.SenderAdmin
	}
	return domain.SenderWorker
}

// Frame send helper shared by connect, dispatch, and the pipeline. Builds
// the frame and hands it to the connection; a false return means the build
// failed or the connection could not take it.
func (s *Service) sendFrame(ctx context.Context, c Conn, frameType protocol.FrameType, payload any) bool {
	frame, err := protocol.NewFrame(frameType, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "gateway.frame_encode_failed",
			"error", err, "frame_type", string(frameType))
		return false
	}
	if !c.Send(frame) {
		framesDroppedTotal.Add(ctx, 1, metric.WithAttributes(frameTypeAttr(frameType)))
		return false
	}
	return true
}

// sendError delivers an error frame describing err to a single connection.
// Best-effort: a dropped error frame is not itself an error.
func (s *Service) sendError(ctx context.Context, c Conn, err error, message string) {
	s.sendFrame(ctx, c, protocol.FrameTypeError, protocol.Error{
		Code:    errmap.ToErrorCode(err),
		Message: message,
	})
}
