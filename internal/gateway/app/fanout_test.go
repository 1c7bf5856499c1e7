package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

func pingFrame(t *testing.T) *protocol.Frame {
	t.Helper()
	frame, err := protocol.NewFrame(protocol.FrameTypePing, protocol.Ping{Timestamp: 1})
	require.NoError(t, err)
	return frame
}

func TestService_ToWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to the worker's live connection", func(t *testing.T) {
		h := newTestHarness(t)
		_, conn := h.connectWorker(t, "W-001")

		ok := h.svc.ToWorker(ctx, "W-001", pingFrame(t))

		assert.True(t, ok)
		assert.Len(t, conn.sentOfType(protocol.FrameTypePing), 1)
	})

	t.Run("reports false for an offline worker", func(t *testing.T) {
		h := newTestHarness(t)

		assert.False(t, h.svc.ToWorker(ctx, "W-404", pingFrame(t)))
	})

	t.Run("reports false when the connection will not accept", func(t *testing.T) {
		h := newTestHarness(t)
		_, conn := h.connectWorker(t, "W-001")
		conn.setReject(true)

		assert.False(t, h.svc.ToWorker(ctx, "W-001", pingFrame(t)))
	})
}

func TestService_ToAllObservers(t *testing.T) {
	ctx := context.Background()

	t.Run("counts only accepted deliveries", func(t *testing.T) {
		h := newTestHarness(t)
		_, obsA := h.connectObserver(t)
		_, obsB := h.connectObserver(t)
		_, workerConn := h.connectWorker(t, "W-001")
		obsB.setReject(true)

		n := h.svc.ToAllObservers(ctx, pingFrame(t))

		assert.Equal(t, 1, n)
		assert.Len(t, obsA.sentOfType(protocol.FrameTypePing), 1)
		assert.Empty(t, workerConn.sentOfType(protocol.FrameTypePing), "workers are not observers")
	})

	t.Run("zero observers is fine", func(t *testing.T) {
		h := newTestHarness(t)

		assert.Zero(t, h.svc.ToAllObservers(ctx, pingFrame(t)))
	})
}

func TestService_ToWorkers(t *testing.T) {
	ctx := context.Background()

	h := newTestHarness(t)
	_, connA := h.connectWorker(t, "W-001")
	_, connB := h.connectWorker(t, "W-002")
	_, connC := h.connectWorker(t, "W-003")

	n := h.svc.ToWorkers(ctx, []string{"W-001", "W-003", "W-404"}, pingFrame(t))

	assert.Equal(t, 2, n, "absent workers are skipped")
	assert.Len(t, connA.sentOfType(protocol.FrameTypePing), 1)
	assert.Empty(t, connB.sentOfType(protocol.FrameTypePing))
	assert.Len(t, connC.sentOfType(protocol.FrameTypePing), 1)
}

func TestService_ToEveryone(t *testing.T) {
	ctx := context.Background()

	h := newTestHarness(t)
	_, obsConn := h.connectObserver(t)
	_, workerConn := h.connectWorker(t, "W-001")

	n := h.svc.ToEveryone(ctx, pingFrame(t))

	assert.Equal(t, 2, n)
	assert.Len(t, obsConn.sentOfType(protocol.FrameTypePing), 1)
	assert.Len(t, workerConn.sentOfType(protocol.FrameTypePing), 1)
}
