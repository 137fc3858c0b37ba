package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit_logs from PostgreSQL. Reads are single statements and
// run outside the retrying transaction runner.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL audit reader.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const timelineColumns = `id, occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta`

func (r *PgRepository) Timeline(ctx context.Context, filters TimelineFilters) ([]TimelineRow, int, error) {
	if r == nil || r.pool == nil {
		return nil, 0, errors.New("audit repository not initialised")
	}
	where, args := filters.where()
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := filters.PageRequest.Normalize()
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		timelineColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectRows(rows)
	return out, total, err
}

func (r *PgRepository) Export(ctx context.Context, filters TimelineFilters, limit int) ([]TimelineRow, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("audit repository not initialised")
	}
	where, args := filters.where()
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT $%d`,
		timelineColumns, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (f TimelineFilters) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID > 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func collectRows(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	out := []TimelineRow{}
	for rows.Next() {
		var (
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta of %d: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
