package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

const correctionColumns = `
	c.id, c.org_id, c.assignment_id, c.worker_id,
	c.requested_clock_in, c.requested_clock_out, c.requested_break_minutes,
	c.original_clock_in, c.original_clock_out, c.original_break_minutes,
	c.reason, c.status, c.reviewed_by, c.reviewed_at, c.review_notes,
	c.escalated_at, c.escalation_reason, c.created_at
`

func scanCorrection(row scanner) (*domain.TimeCorrectionRequest, error) {
	var c domain.TimeCorrectionRequest
	dst := []any{
		&c.ID, &c.OrgID, &c.AssignmentID, &c.WorkerID,
		&c.RequestedClockIn, &c.RequestedClockOut, &c.RequestedBreakMinutes,
		&c.OriginalClockIn, &c.OriginalClockOut, &c.OriginalBreakMinutes,
		&c.Reason, &c.Status, &c.ReviewedBy, &c.ReviewedAt, &c.ReviewNotes,
		&c.EscalatedAt, &c.EscalationReason, &c.CreatedAt,
	}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCorrections(rows *sql.Rows) ([]*domain.TimeCorrectionRequest, error) {
	defer rows.Close()

	corrections := []*domain.TimeCorrectionRequest{}
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		corrections = append(corrections, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return corrections, nil
}

func (r *Repository) GetCorrection(ctx context.Context, orgID, correctionID int64) (*domain.TimeCorrectionRequest, error) {
	query := `SELECT ` + correctionColumns + ` FROM time_correction_requests c WHERE c.id = $1 AND c.org_id = $2`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return scanCorrection(r.dbpool.QueryRowContext(ctx, query, correctionID, orgID))
}

func (r *Repository) ListCorrections(ctx context.Context, assignmentID int64) ([]*domain.TimeCorrectionRequest, error) {
	query := `SELECT ` + correctionColumns + ` FROM time_correction_requests c WHERE c.assignment_id = $1 ORDER BY c.created_at DESC`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, assignmentID)
	if err != nil {
		return nil, err
	}

	return scanCorrections(rows)
}

func (r *Repository) HasOpenCorrection(ctx context.Context, assignmentID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM time_correction_requests
			WHERE assignment_id = $1 AND status IN ('pending', 'escalated')
		)
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var exists bool
	if err := r.dbpool.QueryRowContext(ctx, query, assignmentID).Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

// CreateCorrection 同一个分配同时只能有一条未结束的申请，由部分唯一索引保证
func (r *Repository) CreateCorrection(ctx context.Context, w *CorrectionWrite) error {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	c := w.Request
	query := `
		INSERT INTO time_correction_requests (
			org_id,
			assignment_id,
			worker_id,
			requested_clock_in,
			requested_clock_out,
			requested_break_minutes,
			original_clock_in,
			original_clock_out,
			original_break_minutes,
			reason,
			status,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	params := []any{
		c.OrgID,
		c.AssignmentID,
		c.WorkerID,
		c.RequestedClockIn,
		c.RequestedClockOut,
		c.RequestedBreakMinutes,
		c.OriginalClockIn,
		c.OriginalClockOut,
		c.OriginalBreakMinutes,
		c.Reason,
		c.Status,
		c.CreatedAt,
	}
	if err := tx.QueryRowContext(ctx, query, params...).Scan(&c.ID); err != nil {
		if isUniqueViolation(err, constraintOneOpenCorrection) {
			return ErrDuplicatePending
		}
		return err
	}

	// 已经被标记为待复核的分配保留原来的原因
	query = `
		UPDATE shift_assignments
		SET needs_review = TRUE, review_reason = 'disputed', version = version + 1
		WHERE id = $1 AND needs_review = FALSE
	`
	if _, err := tx.ExecContext(ctx, query, c.AssignmentID); err != nil {
		return err
	}

	if err := insertAudit(ctx, tx, w.Audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (r *Repository) ResolveCorrection(ctx context.Context, w *ResolveCorrectionWrite) error {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE time_correction_requests
		SET status = $1, reviewed_by = $2, reviewed_at = $3, review_notes = $4
		WHERE id = $5 AND status IN ('pending', 'escalated')
	`
	res, err := tx.ExecContext(ctx, query, w.Status, w.ReviewerID, w.At, w.Notes, w.CorrectionID)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, ErrNoRowsAffected); err != nil {
		return err
	}

	if err := updateAssignment(ctx, tx, w.Assignment); err != nil {
		return err
	}

	if err := insertAudit(ctx, tx, w.Audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

// EscalatePendingBefore 只会选中仍处于 pending 的申请，重复执行不会重复升级
func (r *Repository) EscalatePendingBefore(ctx context.Context, cutoff, now time.Time, reason string) ([]*domain.TimeCorrectionRequest, error) {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE time_correction_requests c
		SET status = 'escalated', escalated_at = $1, escalation_reason = $2
		WHERE c.status = 'pending' AND c.created_at <= $3
		RETURNING ` + correctionColumns

	rows, err := tx.QueryContext(ctx, query, now, reason, cutoff)
	if err != nil {
		return nil, err
	}
	escalated, err := scanCorrections(rows)
	if err != nil {
		return nil, err
	}

	for _, c := range escalated {
		ev := &domain.AuditEvent{
			OrgID:      c.OrgID,
			Action:     domain.AuditCorrectionEscalate,
			EntityType: domain.EntityCorrection,
			EntityID:   c.ID,
			ActorID:    domain.SystemActorID,
			Before:     map[string]any{"status": domain.CorrectionPending},
			After:      map[string]any{"status": domain.CorrectionEscalated},
			Metadata:   map[string]any{"reason": reason},
		}
		if err := insertAudit(ctx, tx, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return escalated, nil
}

// ListEscalatedBefore 已经结算或取消的班次上的申请不会被自动批准
func (r *Repository) ListEscalatedBefore(ctx context.Context, cutoff time.Time) ([]*domain.TimeCorrectionRequest, error) {
	query := `
		SELECT ` + correctionColumns + `
		FROM time_correction_requests c
		JOIN shift_assignments a ON a.id = c.assignment_id
		JOIN shifts s ON s.id = a.shift_id
		WHERE c.status = 'escalated'
			AND c.escalated_at <= $1
			AND s.status NOT IN ('approved', 'cancelled')
		ORDER BY c.escalated_at
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}

	return scanCorrections(rows)
}
