// Package clock 管理分配的签到/签退状态流转：unclocked -> in-progress -> completed
package clock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/geo"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/timerules"
)

type Store interface {
	GetShift(ctx context.Context, orgID, shiftID int64) (*domain.Shift, error)
	GetVenue(ctx context.Context, venueID int64) (*domain.Venue, error)
	GetOrgSettings(ctx context.Context, orgID int64) (*domain.OrgSettings, error)
	GetAssignment(ctx context.Context, assignmentID int64) (*domain.ShiftAssignment, error)
	GetAssignmentByWorker(ctx context.Context, shiftID, workerID int64) (*domain.ShiftAssignment, error)
	ClockIn(ctx context.Context, w *repository.ClockInWrite) error
	ClockOut(ctx context.Context, w *repository.ClockOutWrite) error
	CompleteShiftIfDone(ctx context.Context, shiftID int64) (bool, error)
	SaveAssignmentTimes(ctx context.Context, w *repository.AssignmentTimesWrite) error
}

type Notifier interface {
	Dispatch(msgs ...domain.NotificationMessage)
}

type Options struct {
	ReplayWindow         time.Duration
	MaxAccuracyMeters    float64
	DefaultClockInBuffer time.Duration
	DefaultGrace         time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReplayWindow:         time.Duration(cfg.Clock.ReplayWindow) * time.Second,
		MaxAccuracyMeters:    float64(cfg.Clock.MaxAccuracy),
		DefaultClockInBuffer: time.Duration(cfg.Clock.ClockInBufferMinutes) * time.Minute,
		DefaultGrace:         time.Duration(cfg.Clock.GraceMinutes) * time.Minute,
	}
}

type Service struct {
	store    Store
	notifier Notifier
	opts     Options
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, opts Options) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock 替换时间来源，测试中使用
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type Request struct {
	OrgID           int64
	ShiftID         int64
	WorkerID        int64
	Position        geo.Point
	AccuracyMeters  float64
	DeviceTimestamp time.Time
}

type Result struct {
	AssignmentID      int64                    `json:"assignmentID"`
	ActualClockIn     *time.Time               `json:"actualClockIn,omitempty"`
	EffectiveClockIn  *time.Time               `json:"effectiveClockIn,omitempty"`
	ActualClockOut    *time.Time               `json:"actualClockOut,omitempty"`
	EffectiveClockOut *time.Time               `json:"effectiveClockOut,omitempty"`
	Distance          int                      `json:"distance"`
	Radius            int                      `json:"radius"`
	Timing            timerules.Classification `json:"timing"`
	ShiftCompleted    bool                     `json:"shiftCompleted"`
}

// Settings 读取组织配置，没有配置时使用默认值
func (s *Service) Settings(ctx context.Context, orgID int64) domain.OrgSettings {
	return ResolveSettings(ctx, s.store, orgID, s.opts.DefaultClockInBuffer, s.opts.DefaultGrace)
}

type settingsReader interface {
	GetOrgSettings(ctx context.Context, orgID int64) (*domain.OrgSettings, error)
}

// ResolveSettings 在 tracking 和 approval 中同样使用，保证所有模块对提前量和宽限期的理解一致
func ResolveSettings(ctx context.Context, store settingsReader, orgID int64, defaultBuffer, defaultGrace time.Duration) domain.OrgSettings {
	settings := domain.OrgSettings{
		OrgID:                orgID,
		ClockInBufferMinutes: int(defaultBuffer / time.Minute),
		GraceMinutes:         int(defaultGrace / time.Minute),
	}

	stored, err := store.GetOrgSettings(ctx, orgID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("无法读取组织配置，使用默认值", "orgID", orgID, "error", err)
		}
		return settings
	}
	if stored.ClockInBufferMinutes > 0 {
		settings.ClockInBufferMinutes = stored.ClockInBufferMinutes
	}
	if stored.GraceMinutes >= 0 {
		settings.GraceMinutes = stored.GraceMinutes
	}
	return settings
}

func (s *Service) ClockIn(ctx context.Context, req Request) (*Result, error) {
	now := s.now()

	if err := s.checkDevice(req, now); err != nil {
		return nil, err
	}

	shift, a, err := s.loadAssignment(ctx, req)
	if err != nil {
		return nil, err
	}
	if a.ActualClockIn != nil {
		return nil, domain.ErrAlreadyClockedIn
	}
	if err := checkClockable(shift, a); err != nil {
		return nil, err
	}

	verdict, err := s.verifyPosition(ctx, shift, req.Position)
	if err != nil {
		return nil, err
	}

	settings := s.Settings(ctx, req.OrgID)
	earliest := shift.StartTime.Add(-settings.ClockInBuffer())
	if now.Before(earliest) {
		return nil, domain.ErrTooEarly.WithDetails(map[string]any{
			"earliestClockIn": earliest,
			"scheduledStart":  shift.StartTime,
		})
	}

	effective := timerules.EffectiveClockIn(now, shift.StartTime)
	timing := timerules.Classify(now, shift.StartTime, settings.Grace())

	write := &repository.ClockInWrite{
		Assignment:       a,
		At:               now,
		EffectiveClockIn: effective,
		StartShift:       shift.Status == domain.ShiftAssigned,
		Ping:             clockPing(a, req, verdict, domain.EventClockIn, now),
		Audit: &domain.AuditEvent{
			OrgID:      req.OrgID,
			Action:     domain.AuditClockIn,
			EntityType: domain.EntityAssignment,
			EntityID:   a.ID,
			ActorID:    req.WorkerID,
			Before:     map[string]any{"actualClockIn": nil, "status": a.Status},
			After:      map[string]any{"actualClockIn": now, "effectiveClockIn": effective, "status": domain.AssignmentInProgress},
			Metadata: map[string]any{
				"distance": verdict.DistanceMeters,
				"radius":   verdict.RadiusMeters,
				"accuracy": req.AccuracyMeters,
				"timing":   timing.Timing,
				"minutes":  timing.Minutes,
			},
		},
	}

	if err := s.store.ClockIn(ctx, write); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, domain.ErrAlreadyClockedIn
		}
		return nil, err
	}

	// 以下为提交之后的副作用，失败不影响签到结果
	s.notifier.Dispatch(
		domain.CancelReminders(req.OrgID, a.ID, domain.ReminderShiftStart, domain.ReminderLateWarning),
		domain.NotifyManagers(req.OrgID, "员工已签到", clockInMessage(a.WorkerID, shift, timing)),
	)

	return &Result{
		AssignmentID:     a.ID,
		ActualClockIn:    &now,
		EffectiveClockIn: &effective,
		Distance:         verdict.DistanceMeters,
		Radius:           verdict.RadiusMeters,
		Timing:           timing,
	}, nil
}

func (s *Service) ClockOut(ctx context.Context, req Request) (*Result, error) {
	now := s.now()

	if err := s.checkDevice(req, now); err != nil {
		return nil, err
	}

	shift, a, err := s.loadAssignment(ctx, req)
	if err != nil {
		return nil, err
	}
	if a.ActualClockIn == nil {
		return nil, domain.ErrNotClockedIn
	}
	if a.ActualClockOut != nil {
		return nil, domain.ErrAlreadyClockedOut
	}

	verdict, err := s.verifyPosition(ctx, shift, req.Position)
	if err != nil {
		return nil, err
	}

	settings := s.Settings(ctx, req.OrgID)
	timing := timerules.Classify(now, shift.EndTime, settings.Grace())

	// 签退时不做取整，取整在审批时统一处理
	write := &repository.ClockOutWrite{
		Assignment:        a,
		At:                now,
		EffectiveClockOut: now,
		Ping:              clockPing(a, req, verdict, domain.EventClockOut, now),
		Audit: &domain.AuditEvent{
			OrgID:      req.OrgID,
			Action:     domain.AuditClockOut,
			EntityType: domain.EntityAssignment,
			EntityID:   a.ID,
			ActorID:    req.WorkerID,
			Before:     map[string]any{"actualClockOut": nil, "status": a.Status},
			After:      map[string]any{"actualClockOut": now, "effectiveClockOut": now, "status": domain.AssignmentCompleted},
			Metadata: map[string]any{
				"distance": verdict.DistanceMeters,
				"radius":   verdict.RadiusMeters,
				"accuracy": req.AccuracyMeters,
				"timing":   timing.Timing,
				"minutes":  timing.Minutes,
			},
		},
	}

	if err := s.store.ClockOut(ctx, write); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, domain.ErrRaceCondition
		}
		return nil, err
	}

	completed, err := s.store.CompleteShiftIfDone(ctx, shift.ID)
	if err != nil {
		// 签退已经提交，班次会在下一次签退或者后台结束班次任务中完成
		slog.Error("无法更新班次完成状态", "shiftID", shift.ID, "error", err)
	}

	s.notifier.Dispatch(domain.NotifyManagers(req.OrgID, "员工已签退", clockOutMessage(a.WorkerID, shift, timing)))

	return &Result{
		AssignmentID:      a.ID,
		ActualClockIn:     a.ActualClockIn,
		EffectiveClockIn:  a.EffectiveClockIn,
		ActualClockOut:    &now,
		EffectiveClockOut: &now,
		Distance:          verdict.DistanceMeters,
		Radius:            verdict.RadiusMeters,
		Timing:            timing,
		ShiftCompleted:    completed,
	}, nil
}

func (s *Service) checkDevice(req Request, now time.Time) error {
	if !req.Position.Valid() {
		return domain.NewValidationError("经纬度不合法")
	}
	if req.DeviceTimestamp.IsZero() {
		return domain.NewValidationError("缺少设备时间")
	}

	skew := now.Sub(req.DeviceTimestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.opts.ReplayWindow {
		return domain.ErrReplayDetected.WithDetails(map[string]any{"skewSeconds": int(skew / time.Second)})
	}

	if req.AccuracyMeters < 0 || math.IsNaN(req.AccuracyMeters) {
		return domain.NewValidationError("定位精度不合法")
	}
	if req.AccuracyMeters > s.opts.MaxAccuracyMeters {
		return domain.ErrLowAccuracy.WithDetails(map[string]any{
			"accuracy":    req.AccuracyMeters,
			"maxAccuracy": s.opts.MaxAccuracyMeters,
		})
	}
	return nil
}

func (s *Service) loadAssignment(ctx context.Context, req Request) (*domain.Shift, *domain.ShiftAssignment, error) {
	shift, err := s.store.GetShift(ctx, req.OrgID, req.ShiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.NewNotFoundError("班次不存在")
		}
		return nil, nil, err
	}

	a, err := s.store.GetAssignmentByWorker(ctx, shift.ID, req.WorkerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.ErrForbidden.WithDetails(map[string]any{"reason": "not_assigned"})
		}
		return nil, nil, err
	}

	return shift, a, nil
}

func (s *Service) verifyPosition(ctx context.Context, shift *domain.Shift, position geo.Point) (geo.Verdict, error) {
	venue, err := s.store.GetVenue(ctx, shift.VenueID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return geo.Verdict{}, domain.ErrVenueNotConfigured
		}
		return geo.Verdict{}, err
	}
	if !venue.IsGeocoded() {
		return geo.Verdict{}, domain.ErrVenueNotConfigured
	}

	verdict := geo.Verify(position, VenuePoint(venue), venue.GeofenceRadius)
	if !verdict.Within {
		return verdict, domain.NewOutsideGeofenceError(verdict.DistanceMeters, verdict.RadiusMeters)
	}
	return verdict, nil
}

// checkClockable 只允许在 assigned 和 in-progress 的班次上签到。published 的班次还没有完成排班，
// 不能直接跳到 in-progress
func checkClockable(shift *domain.Shift, a *domain.ShiftAssignment) error {
	switch shift.Status {
	case domain.ShiftAssigned, domain.ShiftInProgress:
	default:
		return domain.NewInvalidTransitionError(shift.Status, domain.ShiftInProgress)
	}
	if a.Status != domain.AssignmentActive {
		return domain.ErrInvalidTransition.WithDetails(map[string]any{"assignmentStatus": a.Status})
	}
	return nil
}

// VenuePoint 调用前需确认场地已完成地理编码
func VenuePoint(v *domain.Venue) geo.Point {
	return geo.Point{Latitude: *v.Latitude, Longitude: *v.Longitude}
}

func clockPing(a *domain.ShiftAssignment, req Request, verdict geo.Verdict, event domain.PingEventType, now time.Time) *domain.WorkerLocationPing {
	device := req.DeviceTimestamp
	return &domain.WorkerLocationPing{
		AssignmentID:    a.ID,
		ShiftID:         a.ShiftID,
		WorkerID:        a.WorkerID,
		Latitude:        req.Position.Latitude,
		Longitude:       req.Position.Longitude,
		AccuracyMeters:  req.AccuracyMeters,
		DistanceToVenue: verdict.DistanceMeters,
		IsOnSite:        verdict.Within,
		EventType:       event,
		RecordedAt:      now,
		DeviceTimestamp: &device,
	}
}

func clockInMessage(workerID int64, shift *domain.Shift, timing timerules.Classification) string {
	switch timing.Timing {
	case timerules.Late:
		return fmt.Sprintf("员工 %d 已签到班次 %d，迟到 %d 分钟", workerID, shift.ID, timing.Minutes)
	case timerules.Early:
		return fmt.Sprintf("员工 %d 已签到班次 %d，提前 %d 分钟", workerID, shift.ID, timing.Minutes)
	default:
		return fmt.Sprintf("员工 %d 已准时签到班次 %d", workerID, shift.ID)
	}
}

func clockOutMessage(workerID int64, shift *domain.Shift, timing timerules.Classification) string {
	switch timing.Timing {
	case timerules.Early:
		return fmt.Sprintf("员工 %d 已签退班次 %d，早退 %d 分钟", workerID, shift.ID, timing.Minutes)
	case timerules.Late:
		return fmt.Sprintf("员工 %d 已签退班次 %d，超时 %d 分钟", workerID, shift.ID, timing.Minutes)
	default:
		return fmt.Sprintf("员工 %d 已签退班次 %d", workerID, shift.ID)
	}
}
