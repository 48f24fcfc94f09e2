package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

func (r *Repository) GetLastPing(ctx context.Context, assignmentID int64) (*domain.LastPing, error) {
	query := `
		SELECT recorded_at, is_on_site
		FROM worker_location_pings
		WHERE assignment_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var last domain.LastPing
	if err := r.dbpool.QueryRowContext(ctx, query, assignmentID).Scan(&last.RecordedAt, &last.IsOnSite); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &last, nil
}

// RecordPing 写入定位记录，离开场地时同时标记分配待复核。返回值表示这次是否是新的离开标记
func (r *Repository) RecordPing(ctx context.Context, w *PingWrite) (bool, error) {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertPing(ctx, tx, w.Ping); err != nil {
		return false, err
	}

	newlyFlagged := false
	if d := w.Departure; d != nil {
		query := `
			UPDATE shift_assignments
			SET last_known_latitude = $1, last_known_longitude = $2, last_known_at = $3
			WHERE id = $4
		`
		if _, err := tx.ExecContext(ctx, query, d.Latitude, d.Longitude, d.At, d.AssignmentID); err != nil {
			return false, err
		}

		// 已经因为离开场地被标记过的分配不会再次命中
		query = `
			UPDATE shift_assignments
			SET needs_review = TRUE, review_reason = 'left_geofence', version = version + 1
			WHERE id = $1 AND review_reason IS DISTINCT FROM 'left_geofence'
		`
		res, err := tx.ExecContext(ctx, query, d.AssignmentID)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		newlyFlagged = n == 1

		if err := insertAudit(ctx, tx, d.Audit); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return newlyFlagged, nil
}

// DeletePingsBefore 清理超过保留期的定位记录
func (r *Repository) DeletePingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM worker_location_pings WHERE recorded_at < $1`

	ctx, cancel := r.txContext(ctx)
	defer cancel()

	res, err := r.dbpool.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func insertPing(ctx context.Context, db execer, p *domain.WorkerLocationPing) error {
	query := `
		INSERT INTO worker_location_pings (
			assignment_id,
			shift_id,
			worker_id,
			latitude,
			longitude,
			accuracy_meters,
			distance_to_venue,
			is_on_site,
			event_type,
			recorded_at,
			device_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	params := []any{
		p.AssignmentID,
		p.ShiftID,
		p.WorkerID,
		p.Latitude,
		p.Longitude,
		p.AccuracyMeters,
		p.DistanceToVenue,
		p.IsOnSite,
		p.EventType,
		p.RecordedAt,
		p.DeviceTimestamp,
	}
	return db.QueryRowContext(ctx, query, params...).Scan(&p.ID)
}
