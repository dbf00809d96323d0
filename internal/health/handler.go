package health

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradecore/internal/httputil"
	"tradecore/internal/obs"
	"tradecore/internal/outbox"
)

// OutboxStats is satisfied by the Postgres and in-memory outbox stores.
type OutboxStats interface {
	Stats(ctx context.Context) (outbox.Stats, error)
}

type Handler struct {
	pool        *pgxpool.Pool
	outbox      OutboxStats
	metrics     *obs.Metrics
	startedAt   time.Time
	internalTok string
}

func NewHandler(pool *pgxpool.Pool, ob OutboxStats, metrics *obs.Metrics, startedAt time.Time, internalToken string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		pool:        pool,
		outbox:      ob,
		metrics:     metrics,
		startedAt:   start,
		internalTok: strings.TrimSpace(internalToken),
	}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
}

type readinessResponse struct {
	Status    string     `json:"status"`
	Timestamp string     `json:"timestamp"`
	UptimeSec int64      `json:"uptime_sec"`
	Database  dbReadStat `json:"database"`
}

type dbReadStat struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Handler) requireInternalToken(w http.ResponseWriter, r *http.Request) bool {
	if h.internalTok == "" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
		return false
	}
	provided := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	if !secureTokenEqual(provided, h.internalTok) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
		return false
	}
	return true
}

func (h *Handler) pingDB(ctx context.Context) dbReadStat {
	if h.pool == nil {
		return dbReadStat{Error: "pool is not configured"}
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := h.pool.Ping(pingCtx)
	stat := dbReadStat{PingMs: time.Since(start).Milliseconds()}
	if err != nil {
		stat.Error = err.Error()
	} else {
		stat.Reachable = true
	}
	return stat
}

// Live reports process liveness only.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(h.uptime(now).Seconds()),
	})
}

// Ready checks the database and returns 503 when it is not reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	db := h.pingDB(r.Context())
	status := "ok"
	httpStatus := http.StatusOK
	if !db.Reachable {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, httpStatus, readinessResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(h.uptime(now).Seconds()),
		Database:  db,
	})
}

// Get keeps compatibility: /health is the readiness summary.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.Ready(w, r)
}

// OutboxStats reports backlog depth and service counters, protected by
// X-Internal-Token.
func (h *Handler) OutboxStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	st, err := h.outbox.Stats(r.Context())
	if err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"outbox":   st,
		"counters": h.metrics.Snapshot(),
	})
}

// Metrics returns Prometheus-style text metrics, protected by
// X-Internal-Token.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	now := time.Now().UTC()
	db := h.pingDB(r.Context())
	dbUp := 0
	if db.Reachable {
		dbUp = 1
	}
	snap := h.metrics.Snapshot()
	var st outbox.Stats
	if h.outbox != nil {
		st, _ = h.outbox.Stats(r.Context())
	}
	oldestSec := int64(0)
	if st.OldestPending != nil {
		oldestSec = int64(now.Sub(*st.OldestPending).Seconds())
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "tradecore_up 1\n")
	_, _ = fmt.Fprintf(w, "tradecore_uptime_seconds %d\n", int64(h.uptime(now).Seconds()))
	_, _ = fmt.Fprintf(w, "tradecore_db_up %d\n", dbUp)
	_, _ = fmt.Fprintf(w, "tradecore_db_ping_milliseconds %d\n", db.PingMs)
	_, _ = fmt.Fprintf(w, "tradecore_go_goroutines %d\n", runtime.NumGoroutine())
	_, _ = fmt.Fprintf(w, "tradecore_outbox_pending %d\n", st.Pending)
	_, _ = fmt.Fprintf(w, "tradecore_outbox_published %d\n", st.Published)
	_, _ = fmt.Fprintf(w, "tradecore_outbox_failed %d\n", st.Failed)
	_, _ = fmt.Fprintf(w, "tradecore_outbox_oldest_pending_seconds %d\n", oldestSec)
	_, _ = fmt.Fprintf(w, "tradecore_trades_executed_total %d\n", snap.TradesExecuted)
	_, _ = fmt.Fprintf(w, "tradecore_trades_rejected_total %d\n", snap.TradesRejected)
	_, _ = fmt.Fprintf(w, "tradecore_risk_rejections_total %d\n", snap.RiskRejections)
	_, _ = fmt.Fprintf(w, "tradecore_idempotent_hits_total %d\n", snap.IdempotentHits)
	_, _ = fmt.Fprintf(w, "tradecore_events_published_total %d\n", snap.EventsPublished)
	_, _ = fmt.Fprintf(w, "tradecore_publish_failures_total %d\n", snap.PublishFailures)
	_, _ = fmt.Fprintf(w, "tradecore_events_failed_total %d\n", snap.EventsFailed)
	_, _ = fmt.Fprintf(w, "tradecore_staleness_alerts_total %d\n", snap.StalenessAlerts)
}
