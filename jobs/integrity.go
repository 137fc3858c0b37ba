package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-backoffice/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-backoffice/internal/jobs"
)

// LedgerChecker is the part of accounting.Service the job needs.
type LedgerChecker interface {
	CheckIntegrity(ctx context.Context) ([]accounting.UnbalancedEntry, error)
}

// UnbalancedGauge publishes the latest unbalanced entry count.
type UnbalancedGauge interface {
	SetUnbalancedEntries(n int)
}

// IntegrityJob checks that every persisted journal entry still balances.
type IntegrityJob struct {
	Ledger  LedgerChecker
	Gauge   UnbalancedGauge
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityJob wires dependencies for the integrity handler.
func NewIntegrityJob(ledger LedgerChecker, gauge UnbalancedGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{Ledger: ledger, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	issues, err := j.Ledger.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("ledger integrity", slog.Any("error", err))
		return err
	}
	if j.Gauge != nil {
		j.Gauge.SetUnbalancedEntries(len(issues))
	}
	metrics.AddFindings(TaskLedgerIntegrity, len(issues))
	for _, issue := range issues {
		logger.Error("unbalanced journal entry",
			slog.Int64("entry_id", issue.EntryID),
			slog.String("code", issue.Code),
			slog.String("debit", issue.TotalDebit.String()),
			slog.String("credit", issue.TotalCredit.String()))
	}
	logger.Info("ledger integrity check executed", slog.String("job", "ledger_integrity"), slog.Int("unbalanced", len(issues)))
	return nil
}
