package port

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/errmap"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

// opsService is a narrow, consumer-defined interface for the service reads
// the ops endpoints expose. The *app.Service satisfies this.
type opsService interface {
	OnlineWorkers() []string
	ConnectionCounts() (observers, workers int)
	RecentMessages(ctx context.Context, workerID string, limit int) ([]app.MessageRecord, error)
	UnreadCount(ctx context.Context, workerID string, forRole domain.Role) (int, error)
	Status(pid domain.ProcessingID) (*app.ProcessingStatus, bool)
}

// OpsHandler serves the operations data feed: presence snapshots,
// conversation history, and pipeline status. It reads service state; all
// writes go through the WebSocket surface.
type OpsHandler struct {
	svc    opsService
	logger *slog.Logger
}

// NewOpsHandler creates an OpsHandler backed by the given Service.
func NewOpsHandler(svc *app.Service, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{svc: svc, logger: logger}
}

// Register mounts the ops routes on mux.
func (h *OpsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workers", h.handleWorkers)
	mux.HandleFunc("GET /api/workers/{id}/messages", h.handleMessages)
	mux.HandleFunc("GET /api/processing/{id}", h.handleProcessing)
}

// workersResponse is the presence snapshot: which workers are online right
// now, plus connection counts.
type workersResponse struct {
	Online    []string `json:"online"`
	Observers int      `json:"observers"`
	Workers   int      `json:"workers"`
}

func (h *OpsHandler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	online := h.svc.OnlineWorkers()
	if online == nil {
		online = []string{}
	}
	observers, workers := h.svc.ConnectionCounts()

	writeJSON(w, http.StatusOK, workersResponse{
		Online:    online,
		Observers: observers,
		Workers:   workers,
	})
}

// messagesResponse is one worker's conversation page, newest first. Messages
// reuse the wire shape so dashboard and WebSocket clients parse one format.
type messagesResponse struct {
	WorkerID string             `json:"worker_id"`
	Messages []protocol.Message `json:"messages"`
	Unread   int                `json:"unread"`
}

func (h *OpsHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(r.Context(), w, fmt.Errorf("%w: limit %q", domain.ErrInvalidInput, v))
			return
		}
		limit = n
	}

	records, err := h.svc.RecentMessages(r.Context(), workerID, limit)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	// Unread from the operator's perspective: worker-sent messages nobody
	// has read yet. Best-effort; history still renders without it.
	unread, err := h.svc.UnreadCount(r.Context(), workerID, domain.RoleObserver)
	if err != nil {
		h.logger.WarnContext(r.Context(), "gateway.ops_unread_count_failed",
			"error", err, "worker_id", workerID)
		unread = 0
	}

	messages := make([]protocol.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, protocol.Message{
			MessageID: rec.MessageID,
			WorkerID:  rec.WorkerID,
			Sender:    string(rec.Sender),
			Content:   rec.Content,
			Channel:   string(rec.Channel),
			CreatedAt: rec.CreatedAtMs,
			Read:      rec.Read,
		})
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		WorkerID: workerID,
		Messages: messages,
		Unread:   unread,
	})
}

// processingResponse is one pipeline status record.
type processingResponse struct {
	ProcessingID string `json:"processing_id"`
	WorkerID     string `json:"worker_id"`
	MessageID    string `json:"message_id"`
	State        string `json:"state"`
	Attempts     int    `json:"attempts"`
	StartedAt    int64  `json:"started_at"`
	FinishedAt   int64  `json:"finished_at,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

func (h *OpsHandler) handleProcessing(w http.ResponseWriter, r *http.Request) {
	pid, err := domain.NewProcessingID(r.PathValue("id"))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	st, ok := h.svc.Status(pid)
	if !ok {
		h.writeError(r.Context(), w, fmt.Errorf("%w: processing %s", domain.ErrNotFound, pid.String()))
		return
	}

	writeJSON(w, http.StatusOK, processingResponse{
		ProcessingID: st.ProcessingID.String(),
		WorkerID:     st.WorkerID,
		MessageID:    st.MessageID,
		State:        string(st.State),
		Attempts:     st.Attempts,
		StartedAt:    st.StartedAtMs,
		FinishedAt:   st.FinishedAtMs,
		LastError:    st.LastError,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error onto the HTTP surface. Internal errors are
// logged here because the mapping hides their detail from the client.
func (h *OpsHandler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	he := errmap.ToHTTPError(err)
	if he.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "gateway.ops_request_failed", "error", err)
	}
	writeJSON(w, he.StatusCode, he)
}
