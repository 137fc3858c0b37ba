package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReconcile compares cached stock with the movement log.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskLedgerIntegrity lists journal entries whose lines do not balance.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconcilePayload selects the branch to reconcile. Zero means every branch.
type ReconcilePayload struct {
	BranchID    int64     `json:"branch_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// IntegrityPayload carries scheduling metadata.
type IntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// CleanupPayload carries scheduling metadata.
type CleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReconcileTask constructs an Asynq task for stock reconciliation.
func NewReconcileTask(payload ReconcilePayload, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)...), nil
}

// NewIntegrityTask constructs an Asynq task for the ledger integrity check.
func NewIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewCleanupTask constructs an Asynq task for idempotency key cleanup.
func NewCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
