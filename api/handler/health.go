package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/api/transport"
	"github.com/fastygo/opendatahub/internal/infrastructure/monitor"
	"github.com/fastygo/opendatahub/pkg/httpcontext"
)

// StatusSource reports dependency health.
type StatusSource interface {
	GetStatus() monitor.Status
}

// FeedSchedule reports when scheduled feeds run next.
type FeedSchedule interface {
	Scheduled() []string
	Next(name string) (time.Time, bool)
}

type HealthHandler struct {
	baseHandler
	monitor  StatusSource
	schedule FeedSchedule
}

func NewHealthHandler(mon StatusSource, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
	}
}

// WithSchedule adds the next run of every scheduled feed to the report.
func (h *HealthHandler) WithSchedule(s FeedSchedule) *HealthHandler {
	h.schedule = s
	return h
}

// Check answers 503 only when Postgres is down; without Redis the API still serves reads
// and writes, only scheduled imports stop taking locks.
//
// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	payload := map[string]interface{}{
		"timestamp":  time.Now().UTC(),
		"last_check": status.LastCheck,
		"degraded":   status.Degraded(),
		"services": map[string]interface{}{
			"postgresql": status.PostgreSQL,
			"redis":      status.Redis,
			"buffer": map[string]interface{}{
				"online": status.Buffer,
				"size":   status.BufferSize,
			},
		},
	}

	if h.schedule != nil {
		feeds := make(map[string]interface{})
		for _, name := range h.schedule.Scheduled() {
			if next, ok := h.schedule.Next(name); ok {
				feeds[name] = next.UTC()
			}
		}
		payload["feeds"] = feeds
	}

	if status.PostgreSQL {
		h.respondSuccess(ctx, http.StatusOK, payload)
		return
	}
	h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError("DEGRADED", "dependencies unhealthy", payload))
}
