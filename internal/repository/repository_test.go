package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *Repository) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.Database.QueryTimeout = 5
	cfg.Database.TransactionTimeout = 5

	return mock, NewRepository(cfg, db)
}

var clockedAt = time.Date(2026, 3, 2, 13, 1, 0, 0, time.UTC)

func auditRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(900), clockedAt)
}

func clockOutWrite() *ClockOutWrite {
	return &ClockOutWrite{
		Assignment:        &domain.ShiftAssignment{ID: 100, ShiftID: 1, WorkerID: 10},
		At:                clockedAt,
		EffectiveClockOut: clockedAt,
		Ping: &domain.WorkerLocationPing{
			AssignmentID: 100,
			ShiftID:      1,
			WorkerID:     10,
			Latitude:     23.0646,
			Longitude:    113.3925,
			IsOnSite:     true,
			EventType:    domain.EventClockOut,
			RecordedAt:   clockedAt,
		},
		Audit: &domain.AuditEvent{OrgID: 1, Action: domain.AuditClockOut, EntityType: domain.EntityAssignment, EntityID: 100, ActorID: 10},
	}
}

func TestClockOut_Success(t *testing.T) {
	mock, repo := setupMockDB(t)
	w := clockOutWrite()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE shift_assignments`).
		WithArgs(clockedAt, clockedAt, 23.0646, 113.3925, int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO worker_location_pings`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(`INSERT INTO audit_events`).
		WillReturnRows(auditRows())
	mock.ExpectCommit()

	require.NoError(t, repo.ClockOut(context.Background(), w))
	assert.Equal(t, int64(7), w.Ping.ID)
	assert.Equal(t, int64(900), w.Audit.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClockOut_GuardMissRollsBack(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE shift_assignments`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ClockOut(context.Background(), clockOutWrite())
	assert.ErrorIs(t, err, ErrNoRowsAffected)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClockIn_StartsAssignedShift(t *testing.T) {
	mock, repo := setupMockDB(t)
	cw := clockOutWrite()
	w := &ClockInWrite{
		Assignment:       cw.Assignment,
		At:               clockedAt,
		EffectiveClockIn: clockedAt,
		StartShift:       true,
		Ping:             cw.Ping,
		Audit:            cw.Audit,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE shift_assignments`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE shifts`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO worker_location_pings`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectQuery(`INSERT INTO audit_events`).
		WillReturnRows(auditRows())
	mock.ExpectCommit()

	require.NoError(t, repo.ClockIn(context.Background(), w))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCorrection_DuplicatePending(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{name: "open request exists", constraint: constraintOneOpenCorrection, want: ErrDuplicatePending},
		{name: "other constraint", constraint: "time_correction_requests_pkey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, repo := setupMockDB(t)
			pgErr := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: tt.constraint}

			mock.ExpectBegin()
			mock.ExpectQuery(`INSERT INTO time_correction_requests`).
				WillReturnError(pgErr)
			mock.ExpectRollback()

			w := &CorrectionWrite{
				Request: &domain.TimeCorrectionRequest{OrgID: 1, AssignmentID: 100, WorkerID: 10, Status: domain.CorrectionPending, CreatedAt: clockedAt},
				Audit:   &domain.AuditEvent{OrgID: 1, Action: domain.AuditCorrectionSubmit},
			}
			err := repo.CreateCorrection(context.Background(), w)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			} else {
				assert.ErrorIs(t, err, pgErr)
				assert.NotErrorIs(t, err, ErrDuplicatePending)
			}

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateCorrection_FlagsAssignment(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO time_correction_requests`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(55)))
	mock.ExpectExec(`UPDATE shift_assignments`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO audit_events`).
		WillReturnRows(auditRows())
	mock.ExpectCommit()

	w := &CorrectionWrite{
		Request: &domain.TimeCorrectionRequest{OrgID: 1, AssignmentID: 100, WorkerID: 10, Status: domain.CorrectionPending, CreatedAt: clockedAt},
		Audit:   &domain.AuditEvent{OrgID: 1, Action: domain.AuditCorrectionSubmit},
	}
	require.NoError(t, repo.CreateCorrection(context.Background(), w))
	assert.Equal(t, int64(55), w.Request.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveCorrection_Guards(t *testing.T) {
	write := func() *ResolveCorrectionWrite {
		return &ResolveCorrectionWrite{
			CorrectionID: 55,
			Status:       domain.CorrectionApproved,
			ReviewerID:   2,
			At:           clockedAt,
			Assignment:   &domain.ShiftAssignment{ID: 100, Status: domain.AssignmentCompleted, Version: 3},
			Audit:        &domain.AuditEvent{OrgID: 1, Action: domain.AuditCorrectionApprove},
		}
	}

	t.Run("already reviewed", func(t *testing.T) {
		mock, repo := setupMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE time_correction_requests`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.ResolveCorrection(context.Background(), write()), ErrNoRowsAffected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("assignment changed", func(t *testing.T) {
		mock, repo := setupMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE time_correction_requests`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE shift_assignments`).
			WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.ResolveCorrection(context.Background(), write()), ErrVersionConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success", func(t *testing.T) {
		mock, repo := setupMockDB(t)
		w := write()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE time_correction_requests`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE shift_assignments`).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))
		mock.ExpectQuery(`INSERT INTO audit_events`).
			WillReturnRows(auditRows())
		mock.ExpectCommit()

		require.NoError(t, repo.ResolveCorrection(context.Background(), w))
		assert.Equal(t, int64(4), w.Assignment.Version)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApproveShift(t *testing.T) {
	write := func() *ApprovalWrite {
		return &ApprovalWrite{
			ShiftID: 1,
			Settlements: []AssignmentSettlement{
				{Assignment: &domain.ShiftAssignment{ID: 100, Version: 2}, Status: domain.AssignmentCompleted, EstimatedCostCents: 12000},
				{Assignment: &domain.ShiftAssignment{ID: 101, Version: 5}, Status: domain.AssignmentNoShow},
			},
			Audits: []*domain.AuditEvent{{OrgID: 1, Action: domain.AuditShiftApproved}},
		}
	}

	t.Run("shift already approved", func(t *testing.T) {
		mock, repo := setupMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE shifts`).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.ApproveShift(context.Background(), write()), ErrNoRowsAffected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("assignment modified concurrently", func(t *testing.T) {
		mock, repo := setupMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE shifts`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE shift_assignments`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE shift_assignments`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.ApproveShift(context.Background(), write()), ErrVersionConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success", func(t *testing.T) {
		mock, repo := setupMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE shifts`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE shift_assignments`).
			WithArgs(domain.AssignmentCompleted, nil, nil, nil, int64(12000), int64(100), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE shift_assignments`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO audit_events`).
			WillReturnRows(auditRows())
		mock.ExpectCommit()

		require.NoError(t, repo.ApproveShift(context.Background(), write()))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordPing_Departure(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "first departure", affected: 1, want: true},
		{name: "already flagged", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, repo := setupMockDB(t)

			mock.ExpectBegin()
			mock.ExpectQuery(`INSERT INTO worker_location_pings`).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
			mock.ExpectExec(`SET last_known_latitude`).
				WithArgs(23.0746, 113.3925, clockedAt, int64(100)).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`SET needs_review = TRUE, review_reason = 'left_geofence'`).
				WithArgs(int64(100)).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectQuery(`INSERT INTO audit_events`).
				WillReturnRows(auditRows())
			mock.ExpectCommit()

			w := &PingWrite{
				Ping: &domain.WorkerLocationPing{AssignmentID: 100, EventType: domain.EventDeparture, RecordedAt: clockedAt},
				Departure: &DepartureWrite{
					AssignmentID: 100,
					Latitude:     23.0746,
					Longitude:    113.3925,
					At:           clockedAt,
					Audit:        &domain.AuditEvent{OrgID: 1, Action: domain.AuditLeftGeofence},
				},
			}
			flagged, err := repo.RecordPing(context.Background(), w)
			require.NoError(t, err)
			assert.Equal(t, tt.want, flagged)

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRecordPing_PlainPing(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO worker_location_pings`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectCommit()

	flagged, err := repo.RecordPing(context.Background(), &PingWrite{
		Ping: &domain.WorkerLocationPing{AssignmentID: 100, EventType: domain.EventPing, RecordedAt: clockedAt},
	})
	require.NoError(t, err)
	assert.False(t, flagged)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteShiftIfDone(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectExec(`UPDATE shifts`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE shifts`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	done, err := repo.CompleteShiftIfDone(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = repo.CompleteShiftIfDone(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLastPing(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectQuery(`FROM worker_location_pings`).
		WithArgs(int64(100)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM worker_location_pings`).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"recorded_at", "is_on_site"}).AddRow(clockedAt, true))

	last, err := repo.GetLastPing(context.Background(), 100)
	require.NoError(t, err)
	assert.Nil(t, last)

	last, err = repo.GetLastPing(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, clockedAt, last.RecordedAt)
	assert.True(t, last.IsOnSite)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAssignment_Duplicate(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectQuery(`INSERT INTO shift_assignments`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: constraintOnePerWorker})

	err := repo.CreateAssignment(context.Background(), &domain.ShiftAssignment{ShiftID: 1, WorkerID: 10, Status: domain.AssignmentActive})
	assert.ErrorIs(t, err, ErrDuplicateAssignment)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePingsBefore(t *testing.T) {
	mock, repo := setupMockDB(t)
	cutoff := clockedAt.AddDate(0, 0, -30)

	mock.ExpectExec(`DELETE FROM worker_location_pings`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.DeletePingsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteEndedShifts(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectExec(`UPDATE shifts s\s+SET status = 'completed'.+WHERE s.status = 'in-progress'`).
		WithArgs(clockedAt, 5).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.CompleteEndedShifts(context.Background(), clockedAt, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, mock.ExpectationsWereMet())
}
