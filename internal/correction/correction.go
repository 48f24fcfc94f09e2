// Package correction 处理员工提交的工时更正申请：提交、审核以及超时升级/自动批准
package correction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/authz"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/clock"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/timerules"
)

const MinReasonLength = 10

// 升级后的申请只能由 admin 或 owner 审核
var escalatedReviewerRoles = []domain.Role{domain.RoleAdmin, domain.RoleOwner}

type Store interface {
	GetShift(ctx context.Context, orgID, shiftID int64) (*domain.Shift, error)
	GetAssignment(ctx context.Context, assignmentID int64) (*domain.ShiftAssignment, error)
	GetCorrection(ctx context.Context, orgID, correctionID int64) (*domain.TimeCorrectionRequest, error)
	ListCorrections(ctx context.Context, assignmentID int64) ([]*domain.TimeCorrectionRequest, error)
	HasOpenCorrection(ctx context.Context, assignmentID int64) (bool, error)
	CreateCorrection(ctx context.Context, w *repository.CorrectionWrite) error
	ResolveCorrection(ctx context.Context, w *repository.ResolveCorrectionWrite) error
	CompleteShiftIfDone(ctx context.Context, shiftID int64) (bool, error)
	EscalatePendingBefore(ctx context.Context, cutoff, now time.Time, reason string) ([]*domain.TimeCorrectionRequest, error)
	ListEscalatedBefore(ctx context.Context, cutoff time.Time) ([]*domain.TimeCorrectionRequest, error)
}

type Notifier interface {
	Dispatch(msgs ...domain.NotificationMessage)
}

type Options struct {
	EscalateAfter    time.Duration
	AutoApproveAfter time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		EscalateAfter:    time.Duration(cfg.Correction.EscalateAfterHours) * time.Hour,
		AutoApproveAfter: time.Duration(cfg.Correction.AutoApproveAfterHours) * time.Hour,
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

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type SubmitRequest struct {
	Actor                 domain.Actor
	AssignmentID          int64
	Reason                string
	RequestedClockIn      *time.Time
	RequestedClockOut     *time.Time
	RequestedBreakMinutes *int
}

func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.TimeCorrectionRequest, error) {
	reason := strings.TrimSpace(req.Reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		return nil, domain.NewValidationError(fmt.Sprintf("更正原因至少需要 %d 个字符", MinReasonLength))
	}
	if req.RequestedClockIn == nil && req.RequestedClockOut == nil && req.RequestedBreakMinutes == nil {
		return nil, domain.NewValidationError("至少需要申请修改一项")
	}
	if req.RequestedBreakMinutes != nil && *req.RequestedBreakMinutes < 0 {
		return nil, domain.NewValidationError("休息时长不能为负数")
	}

	a, shift, err := s.load(ctx, req.Actor.OrgID, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a.WorkerID != req.Actor.ID {
		return nil, domain.ErrForbidden.WithDetails(map[string]any{"reason": "not_owner"})
	}
	if shift.Status == domain.ShiftApproved || shift.Status == domain.ShiftCancelled {
		return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{"shiftStatus": shift.Status})
	}

	// 按照申请修改之后的结果校验时间先后
	in, out := a.ActualClockIn, a.ActualClockOut
	if req.RequestedClockIn != nil {
		in = req.RequestedClockIn
	}
	if req.RequestedClockOut != nil {
		out = req.RequestedClockOut
	}
	if err := checkTimes(in, out); err != nil {
		return nil, err
	}

	open, err := s.store.HasOpenCorrection(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, domain.ErrCorrectionPending
	}

	now := s.now()
	c := &domain.TimeCorrectionRequest{
		OrgID:                 req.Actor.OrgID,
		AssignmentID:          a.ID,
		WorkerID:              a.WorkerID,
		RequestedClockIn:      req.RequestedClockIn,
		RequestedClockOut:     req.RequestedClockOut,
		RequestedBreakMinutes: req.RequestedBreakMinutes,
		OriginalClockIn:       a.ActualClockIn,
		OriginalClockOut:      a.ActualClockOut,
		OriginalBreakMinutes:  a.BreakMinutes,
		Reason:                reason,
		Status:                domain.CorrectionPending,
		CreatedAt:             now,
	}
	write := &repository.CorrectionWrite{
		Request: c,
		Audit: &domain.AuditEvent{
			OrgID:      req.Actor.OrgID,
			Action:     domain.AuditCorrectionSubmit,
			EntityType: domain.EntityAssignment,
			EntityID:   a.ID,
			ActorID:    req.Actor.ID,
			Before:     clock.Snapshot(a),
			After:      requested(c),
			Metadata:   map[string]any{"reason": reason},
		},
	}
	if err := s.store.CreateCorrection(ctx, write); err != nil {
		if errors.Is(err, repository.ErrDuplicatePending) {
			return nil, domain.ErrCorrectionPending
		}
		return nil, err
	}

	s.notifier.Dispatch(domain.NotifyManagers(req.Actor.OrgID, "新的工时更正申请",
		fmt.Sprintf("员工 %d 对班次 %d 提交了工时更正申请：%s", a.WorkerID, shift.ID, reason)))

	return c, nil
}

type ReviewRequest struct {
	Actor        domain.Actor
	CorrectionID int64
	Action       domain.CorrectionAction
	Notes        string
}

func (s *Service) Review(ctx context.Context, req ReviewRequest) (*domain.TimeCorrectionRequest, error) {
	if err := authz.RequireRole(req.Actor, req.Actor.OrgID, domain.ReviewerRoles); err != nil {
		return nil, err
	}
	if req.Action != domain.ActionApprove && req.Action != domain.ActionReject {
		return nil, domain.NewValidationError("审核操作只能是 approve 或 reject")
	}

	c, err := s.store.GetCorrection(ctx, req.Actor.OrgID, req.CorrectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("工时更正申请不存在")
		}
		return nil, err
	}
	if !c.IsOpen() {
		return nil, domain.ErrAlreadyReviewed.WithDetails(map[string]any{"status": c.Status})
	}
	if c.Status == domain.CorrectionEscalated {
		if err := authz.RequireRole(req.Actor, req.Actor.OrgID, escalatedReviewerRoles); err != nil {
			return nil, err
		}
	}

	return s.resolve(ctx, c, req.Actor.ID, req.Action, req.Notes, s.now())
}

// List 返回某个分配的全部更正申请，员工只能查看自己的分配
func (s *Service) List(ctx context.Context, actor domain.Actor, assignmentID int64) ([]*domain.TimeCorrectionRequest, error) {
	a, _, err := s.load(ctx, actor.OrgID, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.WorkerID != actor.ID {
		if err := authz.RequireRole(actor, actor.OrgID, domain.ReviewerRoles); err != nil {
			return nil, err
		}
	}
	return s.store.ListCorrections(ctx, a.ID)
}

// EscalateStale 将提交超过 EscalateAfter 仍未审核的申请升级
func (s *Service) EscalateStale(ctx context.Context, now time.Time) (int, error) {
	reason := fmt.Sprintf("超过 %d 小时未审核，自动升级", int(s.opts.EscalateAfter/time.Hour))
	escalated, err := s.store.EscalatePendingBefore(ctx, now.Add(-s.opts.EscalateAfter), now, reason)
	if err != nil {
		return 0, err
	}

	for _, c := range escalated {
		s.notifier.Dispatch(domain.NotifyAdmins(c.OrgID, "工时更正申请已升级",
			fmt.Sprintf("员工 %d 的工时更正申请 %d 已超时未审核，请尽快处理", c.WorkerID, c.ID)))
	}
	return len(escalated), nil
}

// AutoApproveEscalated 以系统身份批准升级后超过 AutoApproveAfter 仍未处理的申请
func (s *Service) AutoApproveEscalated(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListEscalatedBefore(ctx, now.Add(-s.opts.AutoApproveAfter))
	if err != nil {
		return 0, err
	}

	approved := 0
	for _, c := range stale {
		_, err := s.resolve(ctx, c, domain.SystemActorID, domain.ActionApprove, "超时未审核，系统自动批准", now)
		if err != nil {
			// 已被人工处理或者分配被并发修改，下一轮再看
			if errors.Is(err, domain.ErrAlreadyReviewed) || errors.Is(err, domain.ErrRaceCondition) {
				continue
			}
			slog.Error("无法自动批准工时更正申请", "correctionID", c.ID, "error", err)
			continue
		}
		approved++
	}
	return approved, nil
}

func (s *Service) resolve(ctx context.Context, c *domain.TimeCorrectionRequest, reviewerID int64, action domain.CorrectionAction, notes string, now time.Time) (*domain.TimeCorrectionRequest, error) {
	a, shift, err := s.load(ctx, c.OrgID, c.AssignmentID)
	if err != nil {
		return nil, err
	}

	var updated *domain.ShiftAssignment
	status := domain.CorrectionRejected
	auditAction := domain.AuditCorrectionReject
	if action == domain.ActionApprove {
		if shift.Status == domain.ShiftApproved || shift.Status == domain.ShiftCancelled {
			return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{"shiftStatus": shift.Status})
		}
		updated, err = Apply(a, shift, c)
		if err != nil {
			return nil, err
		}
		status = domain.CorrectionApproved
		auditAction = domain.AuditCorrectionApprove
	} else {
		cp := *a
		cp.NeedsReview = false
		cp.ReviewReason = nil
		updated = &cp
	}

	write := &repository.ResolveCorrectionWrite{
		CorrectionID: c.ID,
		Status:       status,
		ReviewerID:   reviewerID,
		At:           now,
		Notes:        notes,
		Assignment:   updated,
		Audit: &domain.AuditEvent{
			OrgID:      c.OrgID,
			Action:     auditAction,
			EntityType: domain.EntityCorrection,
			EntityID:   c.ID,
			ActorID:    reviewerID,
			Before:     clock.Snapshot(a),
			After:      clock.Snapshot(updated),
			Metadata:   map[string]any{"notes": notes, "assignmentID": a.ID, "previousStatus": c.Status},
		},
	}
	if err := s.store.ResolveCorrection(ctx, write); err != nil {
		switch {
		case errors.Is(err, repository.ErrNoRowsAffected):
			return nil, domain.ErrAlreadyReviewed
		case errors.Is(err, repository.ErrVersionConflict):
			return nil, domain.ErrRaceCondition
		default:
			return nil, err
		}
	}

	if action == domain.ActionApprove && updated.Status == domain.AssignmentCompleted {
		if _, err := s.store.CompleteShiftIfDone(ctx, shift.ID); err != nil {
			slog.Error("无法更新班次完成状态", "shiftID", shift.ID, "error", err)
		}
	}

	resolved := *c
	resolved.Status = status
	resolved.ReviewedBy = &reviewerID
	resolved.ReviewedAt = &now
	resolved.ReviewNotes = notes

	verdict := "已批准"
	if status == domain.CorrectionRejected {
		verdict = "已被拒绝"
	}
	s.notifier.Dispatch(domain.NotifyUser(c.OrgID, c.WorkerID, "工时更正申请审核结果",
		fmt.Sprintf("您对班次 %d 提交的工时更正申请%s", shift.ID, verdict)))

	return &resolved, nil
}

// Apply 将申请中提供的字段写到分配上，未提供的字段保持不变
func Apply(a *domain.ShiftAssignment, shift *domain.Shift, c *domain.TimeCorrectionRequest) (*domain.ShiftAssignment, error) {
	updated := *a
	method := domain.MethodCorrection

	if c.RequestedClockIn != nil {
		in := *c.RequestedClockIn
		effective := timerules.EffectiveClockIn(in, shift.StartTime)
		updated.ActualClockIn = &in
		updated.EffectiveClockIn = &effective
		updated.ClockInVerified = false
		updated.ClockInMethod = &method
	}
	if c.RequestedClockOut != nil {
		out := *c.RequestedClockOut
		updated.ActualClockOut = &out
		updated.EffectiveClockOut = &out
		updated.ClockOutVerified = false
		updated.ClockOutMethod = &method
	}
	if c.RequestedBreakMinutes != nil {
		updated.BreakMinutes = *c.RequestedBreakMinutes
	}

	if err := checkTimes(updated.ActualClockIn, updated.ActualClockOut); err != nil {
		return nil, err
	}

	updated.Status = domain.AssignmentStatusFor(updated.ActualClockIn, updated.ActualClockOut)
	updated.NeedsReview = false
	updated.ReviewReason = nil
	return &updated, nil
}

func (s *Service) load(ctx context.Context, orgID, assignmentID int64) (*domain.ShiftAssignment, *domain.Shift, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.NewNotFoundError("分配不存在")
		}
		return nil, nil, err
	}
	shift, err := s.store.GetShift(ctx, orgID, a.ShiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.NewNotFoundError("分配不存在")
		}
		return nil, nil, err
	}
	return a, shift, nil
}

func checkTimes(in, out *time.Time) error {
	if out == nil {
		return nil
	}
	if in == nil {
		return domain.NewValidationError("没有签到时间时不能设置签退时间")
	}
	if !out.After(*in) {
		return domain.NewValidationError("签退时间必须晚于签到时间")
	}
	return nil
}

func requested(c *domain.TimeCorrectionRequest) map[string]any {
	return map[string]any{
		"requestedClockIn":      c.RequestedClockIn,
		"requestedClockOut":     c.RequestedClockOut,
		"requestedBreakMinutes": c.RequestedBreakMinutes,
	}
}
