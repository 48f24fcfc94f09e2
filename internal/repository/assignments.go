package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

const assignmentColumns = `
	a.id, a.shift_id, a.worker_id, a.status,
	a.actual_clock_in, a.actual_clock_out, a.effective_clock_in, a.effective_clock_out,
	a.clock_in_verified, a.clock_out_verified, a.clock_in_method, a.clock_out_method,
	a.break_minutes, a.budget_rate_snapshot, a.estimated_cost,
	a.needs_review, a.review_reason,
	a.last_known_latitude, a.last_known_longitude, a.last_known_at,
	a.created_at, a.version
`

type scanner interface {
	Scan(dest ...any) error
}

func assignmentDst(a *domain.ShiftAssignment) []any {
	return []any{
		&a.ID, &a.ShiftID, &a.WorkerID, &a.Status,
		&a.ActualClockIn, &a.ActualClockOut, &a.EffectiveClockIn, &a.EffectiveClockOut,
		&a.ClockInVerified, &a.ClockOutVerified, &a.ClockInMethod, &a.ClockOutMethod,
		&a.BreakMinutes, &a.BudgetRateSnapshot, &a.EstimatedCostCents,
		&a.NeedsReview, &a.ReviewReason,
		&a.LastKnownLatitude, &a.LastKnownLongitude, &a.LastKnownAt,
		&a.CreatedAt, &a.Version,
	}
}

func scanAssignment(row scanner) (*domain.ShiftAssignment, error) {
	var a domain.ShiftAssignment
	if err := row.Scan(assignmentDst(&a)...); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) GetAssignment(ctx context.Context, assignmentID int64) (*domain.ShiftAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM shift_assignments a WHERE a.id = $1`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return scanAssignment(r.dbpool.QueryRowContext(ctx, query, assignmentID))
}

func (r *Repository) GetAssignmentByWorker(ctx context.Context, shiftID, workerID int64) (*domain.ShiftAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM shift_assignments a WHERE a.shift_id = $1 AND a.worker_id = $2`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return scanAssignment(r.dbpool.QueryRowContext(ctx, query, shiftID, workerID))
}

func (r *Repository) ListAssignmentsByShift(ctx context.Context, shiftID int64) ([]*domain.ShiftAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM shift_assignments a WHERE a.shift_id = $1 ORDER BY a.id`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := []*domain.ShiftAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assignments, nil
}

// FindRelevantAssignment 查找员工在 now 前后 window 范围内的班次分配，已签到的优先
func (r *Repository) FindRelevantAssignment(ctx context.Context, orgID, workerID int64, now time.Time, window time.Duration) (*domain.ShiftAssignment, *domain.Shift, error) {
	query := `
		SELECT ` + assignmentColumns + `,
			s.venue_id, s.status, s.start_time, s.end_time, s.price, s.created_at, s.version
		FROM shift_assignments a
		JOIN shifts s ON s.id = a.shift_id
		WHERE a.worker_id = $1
			AND s.org_id = $2
			AND a.status IN ('active', 'in-progress')
			AND s.status IN ('assigned', 'in-progress', 'completed')
			AND s.start_time <= $3
			AND s.end_time >= $4
		ORDER BY (a.status = 'in-progress') DESC, s.start_time
		LIMIT 1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var a domain.ShiftAssignment
	shift := &domain.Shift{OrgID: orgID}
	dst := append(assignmentDst(&a),
		&shift.VenueID, &shift.Status, &shift.StartTime, &shift.EndTime, &shift.PriceCents, &shift.CreatedAt, &shift.Version)

	if err := r.dbpool.QueryRowContext(ctx, query, workerID, orgID, now.Add(window), now.Add(-window)).Scan(dst...); err != nil {
		return nil, nil, err
	}
	shift.ID = a.ShiftID

	return &a, shift, nil
}

// ClockIn 只有尚未签到的分配会被更新，并发的第二次签到会得到 ErrNoRowsAffected
func (r *Repository) ClockIn(ctx context.Context, w *ClockInWrite) error {
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
		UPDATE shift_assignments
		SET
			actual_clock_in = $1,
			effective_clock_in = $2,
			clock_in_verified = TRUE,
			clock_in_method = 'geofence',
			status = 'in-progress',
			last_known_latitude = $3,
			last_known_longitude = $4,
			last_known_at = $1,
			version = version + 1
		WHERE id = $5 AND actual_clock_in IS NULL AND status = 'active'
	`
	params := []any{w.At, w.EffectiveClockIn, w.Ping.Latitude, w.Ping.Longitude, w.Assignment.ID}
	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, ErrNoRowsAffected); err != nil {
		return err
	}

	if w.StartShift {
		if err := startShift(ctx, tx, w.Assignment.ShiftID); err != nil {
			return err
		}
	}

	if err := insertPing(ctx, tx, w.Ping); err != nil {
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

// ClockOut 以 actual_clock_out IS NULL 作为乐观并发条件，两个并发签退只有一个会成功
func (r *Repository) ClockOut(ctx context.Context, w *ClockOutWrite) error {
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
		UPDATE shift_assignments
		SET
			actual_clock_out = $1,
			effective_clock_out = $2,
			clock_out_verified = TRUE,
			clock_out_method = 'geofence',
			status = 'completed',
			last_known_latitude = $3,
			last_known_longitude = $4,
			last_known_at = $1,
			version = version + 1
		WHERE id = $5 AND actual_clock_in IS NOT NULL AND actual_clock_out IS NULL
	`
	params := []any{w.At, w.EffectiveClockOut, w.Ping.Latitude, w.Ping.Longitude, w.Assignment.ID}
	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, ErrNoRowsAffected); err != nil {
		return err
	}

	if err := insertPing(ctx, tx, w.Ping); err != nil {
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

func (r *Repository) SaveAssignmentTimes(ctx context.Context, w *AssignmentTimesWrite) error {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := updateAssignment(ctx, tx, w.Assignment); err != nil {
		return err
	}

	if w.StartShift {
		if err := startShift(ctx, tx, w.Assignment.ShiftID); err != nil {
			return err
		}
	}

	if err := insertAudit(ctx, tx, w.Audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (r *Repository) CreateAssignment(ctx context.Context, a *domain.ShiftAssignment) error {
	query := `
		INSERT INTO shift_assignments (shift_id, worker_id, status, budget_rate_snapshot)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, version
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	params := []any{a.ShiftID, a.WorkerID, a.Status, a.BudgetRateSnapshot}
	dst := []any{&a.ID, &a.CreatedAt, &a.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, params...).Scan(dst...); err != nil {
		if isUniqueViolation(err, constraintOnePerWorker) {
			return ErrDuplicateAssignment
		}
		return err
	}

	return nil
}

// updateAssignment 以 version 作为乐观锁覆盖打卡相关字段，成功后 a.Version 为新版本
func updateAssignment(ctx context.Context, db execer, a *domain.ShiftAssignment) error {
	query := `
		UPDATE shift_assignments
		SET
			status = $1,
			actual_clock_in = $2,
			actual_clock_out = $3,
			effective_clock_in = $4,
			effective_clock_out = $5,
			clock_in_verified = $6,
			clock_out_verified = $7,
			clock_in_method = $8,
			clock_out_method = $9,
			break_minutes = $10,
			needs_review = $11,
			review_reason = $12,
			version = version + 1
		WHERE id = $13 AND version = $14
		RETURNING version
	`
	params := []any{
		a.Status,
		a.ActualClockIn,
		a.ActualClockOut,
		a.EffectiveClockIn,
		a.EffectiveClockOut,
		a.ClockInVerified,
		a.ClockOutVerified,
		a.ClockInMethod,
		a.ClockOutMethod,
		a.BreakMinutes,
		a.NeedsReview,
		a.ReviewReason,
		a.ID,
		a.Version,
	}
	if err := db.QueryRowContext(ctx, query, params...).Scan(&a.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVersionConflict
		}
		return err
	}

	return nil
}

func startShift(ctx context.Context, db execer, shiftID int64) error {
	query := `
		UPDATE shifts
		SET status = 'in-progress', version = version + 1
		WHERE id = $1 AND status = 'assigned'
	`
	_, err := db.ExecContext(ctx, query, shiftID)
	return err
}
