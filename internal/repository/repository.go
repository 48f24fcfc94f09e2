package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

// 数据库中的唯一约束名，用于把约束冲突转换为业务错误
const (
	constraintOneOpenCorrection = "time_correction_requests_one_open_per_assignment"
	constraintOnePerWorker      = "shift_assignments_one_per_worker"
	pgUniqueViolation           = "23505"
)

type Repository struct {
	cfg    *config.Config
	dbpool *sql.DB
}

func NewRepository(cfg *config.Config, dbpool *sql.DB) *Repository {
	return &Repository{
		cfg:    cfg,
		dbpool: dbpool,
	}
}

func (r *Repository) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
}

func (r *Repository) txContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
}

// execer 同时被 *sql.DB 和 *sql.Tx 实现
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// expectOneRow 带条件的更新没有命中时返回 notFound
func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func insertAudit(ctx context.Context, db execer, ev *domain.AuditEvent) error {
	before, err := json.Marshal(ev.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(ev.After)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_events (org_id, action, entity_type, entity_id, actor_id, before, after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	params := []any{ev.OrgID, ev.Action, ev.EntityType, ev.EntityID, ev.ActorID, string(before), string(after), string(metadata)}
	return db.QueryRowContext(ctx, query, params...).Scan(&ev.ID, &ev.CreatedAt)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
	}
	return false
}
