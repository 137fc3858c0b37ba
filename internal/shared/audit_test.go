package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql, r.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func TestAuditLoggerRecordsRow(t *testing.T) {
	exec := &recordingExecer{}
	logger := NewAuditLogger(exec)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	err := logger.Record(context.Background(), AuditLog{
		ActorID:  9,
		Action:   "journal.post",
		Entity:   "journal_entry",
		EntityID: "12",
		Meta:     map[string]any{"code": "JE-001"},
		At:       at,
	})
	require.NoError(t, err)
	require.Contains(t, exec.sql, "INSERT INTO audit_logs")
	require.Equal(t, int64(9), exec.args[0])
	require.JSONEq(t, `{"code":"JE-001"}`, string(exec.args[4].([]byte)))
	require.Equal(t, at, exec.args[5])
}

func TestAuditLoggerDefaults(t *testing.T) {
	exec := &recordingExecer{}
	logger := NewAuditLogger(exec)
	stamp := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return stamp }

	require.NoError(t, logger.Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}))
	require.Nil(t, exec.args[0])
	require.JSONEq(t, `{}`, string(exec.args[4].([]byte)))
	require.Equal(t, stamp, exec.args[5])
}

func TestAuditLoggerRejectsIncompleteLogs(t *testing.T) {
	exec := &recordingExecer{}
	logger := NewAuditLogger(exec)

	err := logger.Record(context.Background(), AuditLog{Entity: "e", EntityID: "1"})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, exec.sql)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}))

	exec.err = errors.New("down")
	require.ErrorContains(t, logger.Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}), "down")
}
