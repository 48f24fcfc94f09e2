// Package tracking 处理员工客户端周期性上报的定位，判断到达/离开场地并控制写入频率
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/clock"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/geo"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
)

type Store interface {
	FindRelevantAssignment(ctx context.Context, orgID, workerID int64, now time.Time, window time.Duration) (*domain.ShiftAssignment, *domain.Shift, error)
	GetVenue(ctx context.Context, venueID int64) (*domain.Venue, error)
	GetOrgSettings(ctx context.Context, orgID int64) (*domain.OrgSettings, error)
	GetLastPing(ctx context.Context, assignmentID int64) (*domain.LastPing, error)
	RecordPing(ctx context.Context, w *repository.PingWrite) (bool, error)
}

// LastPingCache 缓存每个分配最近一次写入的定位，未命中时返回 nil, nil
type LastPingCache interface {
	GetLastPing(ctx context.Context, assignmentID int64) (*domain.LastPing, error)
	SetLastPing(ctx context.Context, assignmentID int64, ping domain.LastPing) error
}

type Notifier interface {
	Dispatch(msgs ...domain.NotificationMessage)
}

type Options struct {
	Window               time.Duration
	Throttle             time.Duration
	DefaultClockInBuffer time.Duration
	DefaultGrace         time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Window:               time.Duration(cfg.Tracking.WindowMinutes) * time.Minute,
		Throttle:             time.Duration(cfg.Tracking.ThrottleMinutes) * time.Minute,
		DefaultClockInBuffer: time.Duration(cfg.Clock.ClockInBufferMinutes) * time.Minute,
		DefaultGrace:         time.Duration(cfg.Clock.GraceMinutes) * time.Minute,
	}
}

type Service struct {
	store    Store
	cache    LastPingCache
	notifier Notifier
	opts     Options
	now      func() time.Time
}

func NewService(store Store, cache LastPingCache, notifier Notifier, opts Options) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type Ping struct {
	OrgID           int64
	WorkerID        int64
	Position        geo.Point
	AccuracyMeters  float64
	DeviceTimestamp *time.Time
}

// Result 中的 CanClockIn/CanClockOut 只是给客户端界面的提示，真正的打卡操作会重新校验
type Result struct {
	Discarded    bool                 `json:"discarded"`
	Throttled    bool                 `json:"throttled"`
	AssignmentID int64                `json:"assignmentID,omitempty"`
	IsOnSite     bool                 `json:"isOnSite"`
	Distance     int                  `json:"distance"`
	Radius       int                  `json:"radius"`
	EventType    domain.PingEventType `json:"eventType,omitempty"`
	CanClockIn   bool                 `json:"canClockIn"`
	CanClockOut  bool                 `json:"canClockOut"`
}

func (s *Service) Ingest(ctx context.Context, p Ping) (*Result, error) {
	now := s.now()

	if !p.Position.Valid() {
		return nil, domain.NewValidationError("经纬度不合法")
	}
	if p.AccuracyMeters < 0 || math.IsNaN(p.AccuracyMeters) {
		return nil, domain.NewValidationError("定位精度不合法")
	}

	a, shift, err := s.store.FindRelevantAssignment(ctx, p.OrgID, p.WorkerID, now, s.opts.Window)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// 不在任何班次时间窗口内的定位直接丢弃，不写库
			return &Result{Discarded: true}, nil
		}
		return nil, err
	}

	venue, err := s.store.GetVenue(ctx, shift.VenueID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil || !venue.IsGeocoded() {
		return nil, domain.ErrVenueNotConfigured
	}

	verdict := geo.Verify(p.Position, clock.VenuePoint(venue), venue.GeofenceRadius)

	prev, err := s.lastPing(ctx, a)
	if err != nil {
		return nil, err
	}

	event := classify(verdict.Within, a.IsClockedIn(), prev)
	settings := clock.ResolveSettings(ctx, s.store, p.OrgID, s.opts.DefaultClockInBuffer, s.opts.DefaultGrace)

	result := &Result{
		AssignmentID: a.ID,
		IsOnSite:     verdict.Within,
		Distance:     verdict.DistanceMeters,
		Radius:       verdict.RadiusMeters,
		EventType:    event,
		CanClockIn:   verdict.Within && a.ActualClockIn == nil && !now.Before(shift.StartTime.Add(-settings.ClockInBuffer())),
		CanClockOut:  verdict.Within && a.IsClockedIn(),
	}

	// 已签到且在场地内时，每个节流周期最多写入一条普通定位
	if event == domain.EventPing && a.IsClockedIn() && verdict.Within && prev != nil && now.Sub(prev.RecordedAt) < s.opts.Throttle {
		result.Throttled = true
		return result, nil
	}

	write := &repository.PingWrite{
		Ping: &domain.WorkerLocationPing{
			AssignmentID:    a.ID,
			ShiftID:         a.ShiftID,
			WorkerID:        a.WorkerID,
			Latitude:        p.Position.Latitude,
			Longitude:       p.Position.Longitude,
			AccuracyMeters:  p.AccuracyMeters,
			DistanceToVenue: verdict.DistanceMeters,
			IsOnSite:        verdict.Within,
			EventType:       event,
			RecordedAt:      now,
			DeviceTimestamp: p.DeviceTimestamp,
		},
	}
	if event == domain.EventDeparture {
		write.Departure = &repository.DepartureWrite{
			AssignmentID: a.ID,
			Latitude:     p.Position.Latitude,
			Longitude:    p.Position.Longitude,
			At:           now,
			Audit: &domain.AuditEvent{
				OrgID:      p.OrgID,
				Action:     domain.AuditLeftGeofence,
				EntityType: domain.EntityAssignment,
				EntityID:   a.ID,
				ActorID:    p.WorkerID,
				Before:     map[string]any{"needsReview": a.NeedsReview, "reviewReason": a.ReviewReason},
				After:      map[string]any{"needsReview": true, "reviewReason": domain.ReviewReasonLeftGeofence},
				Metadata:   map[string]any{"distance": verdict.DistanceMeters, "radius": verdict.RadiusMeters},
			},
		}
	}

	newlyFlagged, err := s.store.RecordPing(ctx, write)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetLastPing(ctx, a.ID, domain.LastPing{RecordedAt: now, IsOnSite: verdict.Within}); err != nil {
		slog.Warn("无法更新定位缓存", "assignmentID", a.ID, "error", err)
	}

	switch event {
	case domain.EventArrival:
		if a.ActualClockIn == nil {
			s.notifier.Dispatch(domain.SMSToUser(p.OrgID, a.WorkerID, fmt.Sprintf("您已到达班次 %d 的场地，请记得签到", shift.ID)))
		}
	case domain.EventDeparture:
		// 同一次离开只提醒一次，直到管理员处理或者工时更正被审核
		if newlyFlagged {
			s.notifier.Dispatch(domain.SMSToUser(p.OrgID, a.WorkerID, fmt.Sprintf("您已离开班次 %d 的场地范围，如已下班请记得签退", shift.ID)))
		}
	}

	return result, nil
}

func (s *Service) lastPing(ctx context.Context, a *domain.ShiftAssignment) (*domain.LastPing, error) {
	cached, err := s.cache.GetLastPing(ctx, a.ID)
	if err != nil {
		slog.Warn("无法读取定位缓存，回退到数据库", "assignmentID", a.ID, "error", err)
	}
	// 签到/签退也会写入定位记录但不经过缓存，缓存早于这两个时间点时视为过期
	if err == nil && cached != nil && !stale(cached, a.ActualClockIn) && !stale(cached, a.ActualClockOut) {
		return cached, nil
	}

	return s.store.GetLastPing(ctx, a.ID)
}

func stale(cached *domain.LastPing, t *time.Time) bool {
	return t != nil && cached.RecordedAt.Before(*t)
}

func classify(onSite, clockedIn bool, prev *domain.LastPing) domain.PingEventType {
	switch {
	case onSite && (prev == nil || !prev.IsOnSite):
		return domain.EventArrival
	case !onSite && clockedIn && prev != nil && prev.IsOnSite:
		return domain.EventDeparture
	default:
		return domain.EventPing
	}
}
