package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
	redisclient "github.com/augustinebeh/worklink-gateway/internal/redis"
)

// admissionScript atomically checks the fixed-window counter against the
// limit and increments only when the attempt is admitted. The check comes
// first so denied attempts never consume budget or stretch the window; the
// TTL is set on the first counted attempt, which opens the window.
const admissionScript = `
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
  return 0
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`

// Compile-time check: RedisAdmission satisfies app.Admission.
var _ app.Admission = (*RedisAdmission)(nil)

// RedisAdmissionConfig carries the per-scope limits. Zero values fall back
// to the platform defaults.
type RedisAdmissionConfig struct {
	ConnectionLimit  int
	ConnectionWindow time.Duration
	MessageLimit     int
	MessageWindow    time.Duration
}

// RedisAdmission implements connection and message admission with
// fixed-window counters in Redis, so the budget holds across gateway
// instances. Backend errors are reported to the caller, which decides the
// fail-open/fail-closed policy.
type RedisAdmission struct {
	cmd redisclient.Cmdable
	cfg RedisAdmissionConfig
}

// NewRedisAdmission creates a RedisAdmission that uses cmd for Redis
// operations.
func NewRedisAdmission(cmd redisclient.Cmdable, cfg RedisAdmissionConfig) *RedisAdmission {
	if cfg.ConnectionLimit <= 0 {
		cfg.ConnectionLimit = domain.ConnectionRateLimit
	}
	if cfg.ConnectionWindow <= 0 {
		cfg.ConnectionWindow = domain.ConnectionRateWindow
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = domain.MessageRateLimit
	}
	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = domain.MessageRateWindow
	}
	return &RedisAdmission{cmd: cmd, cfg: cfg}
}

// AdmitConnection reports whether another connection attempt from key fits
// the window.
func (r *RedisAdmission) AdmitConnection(ctx context.Context, key string) (bool, error) {
	return r.admit(ctx, "admission:conn:"+key, r.cfg.ConnectionLimit, r.cfg.ConnectionWindow)
}

// AdmitMessage reports whether another frame from key fits the window.
func (r *RedisAdmission) AdmitMessage(ctx context.Context, key string) (bool, error) {
	return r.admit(ctx, "admission:msg:"+key, r.cfg.MessageLimit, r.cfg.MessageWindow)
}

func (r *RedisAdmission) admit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.admission.admit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	windowSeconds := int(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	allowed, err := r.cmd.Eval(ctx, admissionScript, []string{key}, limit, windowSeconds).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("admission check %q: %w", key, err)
	}

	return allowed == 1, nil
}
