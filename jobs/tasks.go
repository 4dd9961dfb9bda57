package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays the ledger and compares it with current stock.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskReplenishmentRecalculate rewrites stale ROP/EOQ values.
	TaskReplenishmentRecalculate = "replenishment:recalculate"
	// TaskUrgencyRefresh invalidates the cached urgency feed.
	TaskUrgencyRefresh = "urgency:refresh"
	// TaskIdempotencyCleanup prunes expired reference-code claims.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerIntegrityPayload optionally narrows the check to one product.
type LedgerIntegrityPayload struct {
	ProductID int64 `json:"product_id,omitempty"`
}

// RecalculatePayload optionally narrows recalculation to one product.
type RecalculatePayload struct {
	ProductID int64 `json:"product_id,omitempty"`
}

// UrgencyRefreshPayload records why the feed was invalidated.
type UrgencyRefreshPayload struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewLedgerIntegrityTask builds a ledger integrity task.
func NewLedgerIntegrityTask(productID int64) (*asynq.Task, error) {
	return newTask(TaskLedgerIntegrity, LedgerIntegrityPayload{ProductID: productID})
}

// NewRecalculateTask builds a replenishment recalculation task.
func NewRecalculateTask(productID int64) (*asynq.Task, error) {
	return newTask(TaskReplenishmentRecalculate, RecalculatePayload{ProductID: productID})
}

// NewUrgencyRefreshTask builds a feed invalidation task.
func NewUrgencyRefreshTask(reason string, at time.Time) (*asynq.Task, error) {
	return newTask(TaskUrgencyRefresh, UrgencyRefreshPayload{Reason: reason, RequestedAt: at})
}

// IdempotencyCleanupPayload sets how long claimed keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
}

func newTask(kind string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, body, asynq.Queue(QueueDefault)), nil
}
