package repository

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

func (r *Repository) GetShift(ctx context.Context, orgID, shiftID int64) (*domain.Shift, error) {
	query := `
		SELECT venue_id, status, start_time, end_time, price, created_at, version
		FROM shifts WHERE id = $1 AND org_id = $2
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	shift := &domain.Shift{
		ID:    shiftID,
		OrgID: orgID,
	}

	dst := []any{&shift.VenueID, &shift.Status, &shift.StartTime, &shift.EndTime, &shift.PriceCents, &shift.CreatedAt, &shift.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, shiftID, orgID).Scan(dst...); err != nil {
		return nil, err
	}

	return shift, nil
}

func (r *Repository) GetVenue(ctx context.Context, venueID int64) (*domain.Venue, error) {
	query := `
		SELECT org_id, name, latitude, longitude, geofence_radius
		FROM venues WHERE id = $1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	venue := &domain.Venue{
		ID: venueID,
	}

	dst := []any{&venue.OrgID, &venue.Name, &venue.Latitude, &venue.Longitude, &venue.GeofenceRadius}
	if err := r.dbpool.QueryRowContext(ctx, query, venueID).Scan(dst...); err != nil {
		return nil, err
	}

	return venue, nil
}

func (r *Repository) GetOrgSettings(ctx context.Context, orgID int64) (*domain.OrgSettings, error) {
	query := `
		SELECT clock_in_buffer_minutes, grace_minutes
		FROM org_settings WHERE org_id = $1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	settings := &domain.OrgSettings{
		OrgID: orgID,
	}

	if err := r.dbpool.QueryRowContext(ctx, query, orgID).Scan(&settings.ClockInBufferMinutes, &settings.GraceMinutes); err != nil {
		return nil, err
	}

	return settings, nil
}

// CompleteShiftIfDone 当班次下所有未取消的分配都已经结束时，把班次流转到 completed
func (r *Repository) CompleteShiftIfDone(ctx context.Context, shiftID int64) (bool, error) {
	query := `
		UPDATE shifts
		SET status = 'completed', version = version + 1
		WHERE id = $1 AND status = 'in-progress' AND NOT EXISTS (
			SELECT 1 FROM shift_assignments
			WHERE shift_id = $1 AND status NOT IN ('completed', 'no_show', 'cancelled')
		)
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, shiftID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// CompleteEndedShifts 把计划结束时间加宽限期已经过去的 in-progress 班次流转到 completed。
// 没有签退和缺勤的分配保持原状，由审批统一结算
func (r *Repository) CompleteEndedShifts(ctx context.Context, now time.Time, defaultGrace time.Duration) (int64, error) {
	query := `
		UPDATE shifts s
		SET status = 'completed', version = s.version + 1
		WHERE s.status = 'in-progress' AND s.end_time + make_interval(mins => COALESCE(
			(SELECT o.grace_minutes FROM org_settings o WHERE o.org_id = s.org_id AND o.grace_minutes >= 0),
			$2
		)) <= $1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, now, int(defaultGrace/time.Minute))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// ApproveShift 在一个事务中更新班次状态和所有分配的结算结果
func (r *Repository) ApproveShift(ctx context.Context, w *ApprovalWrite) error {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 先抢占班次状态，重复的审批会在这里失败
	query := `
		UPDATE shifts
		SET status = 'approved', version = version + 1
		WHERE id = $1 AND status = 'completed'
	`
	res, err := tx.ExecContext(ctx, query, w.ShiftID)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, ErrNoRowsAffected); err != nil {
		return err
	}

	for _, st := range w.Settlements {
		query = `
			UPDATE shift_assignments
			SET
				status = $1,
				effective_clock_in = $2,
				effective_clock_out = $3,
				clock_out_method = $4,
				estimated_cost = $5,
				version = version + 1
			WHERE id = $6 AND version = $7
		`
		params := []any{st.Status, st.EffectiveClockIn, st.EffectiveClockOut, st.ClockOutMethod, st.EstimatedCostCents, st.Assignment.ID, st.Assignment.Version}
		res, err := tx.ExecContext(ctx, query, params...)
		if err != nil {
			return err
		}
		if err := expectOneRow(res, ErrVersionConflict); err != nil {
			return err
		}
	}

	for _, ev := range w.Audits {
		if err := insertAudit(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (r *Repository) CreateVenue(ctx context.Context, venue *domain.Venue) error {
	query := `
		INSERT INTO venues (org_id, name, latitude, longitude, geofence_radius)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	params := []any{venue.OrgID, venue.Name, venue.Latitude, venue.Longitude, venue.GeofenceRadius}
	if err := r.dbpool.QueryRowContext(ctx, query, params...).Scan(&venue.ID); err != nil {
		return err
	}

	return nil
}

func (r *Repository) CreateShift(ctx context.Context, shift *domain.Shift) error {
	query := `
		INSERT INTO shifts (org_id, venue_id, status, start_time, end_time, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, version
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	params := []any{shift.OrgID, shift.VenueID, shift.Status, shift.StartTime, shift.EndTime, shift.PriceCents}
	dst := []any{&shift.ID, &shift.CreatedAt, &shift.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, params...).Scan(dst...); err != nil {
		return err
	}

	return nil
}

func (r *Repository) UpsertOrgSettings(ctx context.Context, settings *domain.OrgSettings) error {
	query := `
		INSERT INTO org_settings (org_id, clock_in_buffer_minutes, grace_minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id) DO UPDATE
		SET clock_in_buffer_minutes = EXCLUDED.clock_in_buffer_minutes, grace_minutes = EXCLUDED.grace_minutes
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	if _, err := r.dbpool.ExecContext(ctx, query, settings.OrgID, settings.ClockInBufferMinutes, settings.GraceMinutes); err != nil {
		return err
	}

	return nil
}
