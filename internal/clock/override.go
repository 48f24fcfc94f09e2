package clock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/authz"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/geo"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/timerules"
)

// OverrideRequest 管理员手动补录打卡时间。这是唯一允许在场地范围外完成打卡的途径
type OverrideRequest struct {
	Actor        domain.Actor
	AssignmentID int64
	ClockIn      *time.Time
	ClockOut     *time.Time
	BreakMinutes *int
	Reason       string
	Position     *geo.Point // 可选，管理员当时所在的位置，只记录在审计中
}

func (s *Service) Override(ctx context.Context, req OverrideRequest) (*domain.ShiftAssignment, error) {
	if err := authz.RequireRole(req.Actor, req.Actor.OrgID, domain.ReviewerRoles); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domain.NewValidationError("必须填写补录原因")
	}
	if req.ClockIn == nil && req.ClockOut == nil && req.BreakMinutes == nil {
		return nil, domain.NewValidationError("至少需要修改一项")
	}
	if req.BreakMinutes != nil && *req.BreakMinutes < 0 {
		return nil, domain.NewValidationError("休息时长不能为负数")
	}

	a, err := s.store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("分配不存在")
		}
		return nil, err
	}
	shift, err := s.store.GetShift(ctx, req.Actor.OrgID, a.ShiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("分配不存在")
		}
		return nil, err
	}
	if shift.Status == domain.ShiftApproved || shift.Status == domain.ShiftCancelled {
		return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{"shiftStatus": shift.Status})
	}
	if a.Status == domain.AssignmentCancelled {
		return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{"assignmentStatus": a.Status})
	}

	before := Snapshot(a)
	updated := *a
	method := domain.MethodManualOverride

	if req.ClockIn != nil {
		in := *req.ClockIn
		effective := timerules.EffectiveClockIn(in, shift.StartTime)
		updated.ActualClockIn = &in
		updated.EffectiveClockIn = &effective
		updated.ClockInVerified = false
		updated.ClockInMethod = &method
	}
	if req.ClockOut != nil {
		out := *req.ClockOut
		updated.ActualClockOut = &out
		updated.EffectiveClockOut = &out
		updated.ClockOutVerified = false
		updated.ClockOutMethod = &method
	}
	if req.BreakMinutes != nil {
		updated.BreakMinutes = *req.BreakMinutes
	}

	if updated.ActualClockOut != nil {
		if updated.ActualClockIn == nil {
			return nil, domain.NewValidationError("没有签到时间时不能补录签退时间")
		}
		if !updated.ActualClockOut.After(*updated.ActualClockIn) {
			return nil, domain.NewValidationError("签退时间必须晚于签到时间")
		}
	}

	updated.Status = domain.AssignmentStatusFor(updated.ActualClockIn, updated.ActualClockOut)
	updated.NeedsReview = false
	updated.ReviewReason = nil

	metadata := map[string]any{"reason": req.Reason}
	if req.Position != nil {
		venue, err := s.store.GetVenue(ctx, shift.VenueID)
		if err == nil && venue.IsGeocoded() {
			verdict := geo.Verify(*req.Position, VenuePoint(venue), venue.GeofenceRadius)
			metadata["distance"] = verdict.DistanceMeters
			metadata["radius"] = verdict.RadiusMeters
			metadata["isOnSite"] = verdict.Within
		}
	}

	write := &repository.AssignmentTimesWrite{
		Assignment: &updated,
		StartShift: shift.Status == domain.ShiftAssigned && updated.ActualClockIn != nil,
		Audit: &domain.AuditEvent{
			OrgID:      req.Actor.OrgID,
			Action:     domain.AuditManualOverride,
			EntityType: domain.EntityAssignment,
			EntityID:   a.ID,
			ActorID:    req.Actor.ID,
			Before:     before,
			After:      Snapshot(&updated),
			Metadata:   metadata,
		},
	}
	if err := s.store.SaveAssignmentTimes(ctx, write); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, domain.ErrRaceCondition
		}
		return nil, err
	}

	if updated.Status == domain.AssignmentCompleted {
		if _, err := s.store.CompleteShiftIfDone(ctx, shift.ID); err != nil {
			slog.Error("无法更新班次完成状态", "shiftID", shift.ID, "error", err)
		}
	}

	s.notifier.Dispatch(domain.NotifyUser(req.Actor.OrgID, a.WorkerID, "打卡记录已被管理员修改",
		fmt.Sprintf("您在班次 %d 的打卡记录已被管理员修改，原因：%s", shift.ID, req.Reason)))

	return &updated, nil
}

// Snapshot 用于审计记录的前后对比
func Snapshot(a *domain.ShiftAssignment) map[string]any {
	return map[string]any{
		"status":            a.Status,
		"actualClockIn":     a.ActualClockIn,
		"actualClockOut":    a.ActualClockOut,
		"effectiveClockIn":  a.EffectiveClockIn,
		"effectiveClockOut": a.EffectiveClockOut,
		"breakMinutes":      a.BreakMinutes,
		"needsReview":       a.NeedsReview,
		"reviewReason":      a.ReviewReason,
	}
}
