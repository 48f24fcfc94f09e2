// Package approval 将已完成的班次结算为带审计记录、锁定时薪的工资数据
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/authz"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/clock"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/timerules"
)

type Store interface {
	GetShift(ctx context.Context, orgID, shiftID int64) (*domain.Shift, error)
	GetOrgSettings(ctx context.Context, orgID int64) (*domain.OrgSettings, error)
	ListAssignmentsByShift(ctx context.Context, shiftID int64) ([]*domain.ShiftAssignment, error)
	ApproveShift(ctx context.Context, w *repository.ApprovalWrite) error
}

type Notifier interface {
	Dispatch(msgs ...domain.NotificationMessage)
}

type Options struct {
	DefaultClockInBuffer time.Duration
	DefaultGrace         time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultClockInBuffer: time.Duration(cfg.Clock.ClockInBufferMinutes) * time.Minute,
		DefaultGrace:         time.Duration(cfg.Clock.GraceMinutes) * time.Minute,
	}
}

type Service struct {
	store    Store
	notifier Notifier
	opts     Options
}

func NewService(store Store, notifier Notifier, opts Options) *Service {
	return &Service{store: store, notifier: notifier, opts: opts}
}

type Summary struct {
	ShiftID         int64               `json:"shiftID"`
	Status          domain.ShiftStatus  `json:"status"`
	TotalCostCents  int64               `json:"totalCost"`
	AssignmentCount int                 `json:"assignmentCount"`
	NoShowCount     int                 `json:"noShowCount"`
	Assignments     []AssignmentSummary `json:"assignments"`
}

type AssignmentSummary struct {
	AssignmentID       int64                   `json:"assignmentID"`
	WorkerID           int64                   `json:"workerID"`
	Status             domain.AssignmentStatus `json:"status"`
	EffectiveClockIn   *time.Time              `json:"effectiveClockIn"`
	EffectiveClockOut  *time.Time              `json:"effectiveClockOut"`
	BillableMinutes    int                     `json:"billableMinutes"`
	EstimatedCostCents int64                   `json:"estimatedCost"`
}

// Approve 要么整个班次全部结算成功，要么不修改任何数据
func (s *Service) Approve(ctx context.Context, actor domain.Actor, shiftID int64) (*Summary, error) {
	if err := authz.RequireRole(actor, actor.OrgID, domain.ReviewerRoles); err != nil {
		return nil, err
	}

	shift, err := s.store.GetShift(ctx, actor.OrgID, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("班次不存在")
		}
		return nil, err
	}
	if !shift.Status.CanTransitionTo(domain.ShiftApproved) {
		return nil, domain.NewInvalidTransitionError(shift.Status, domain.ShiftApproved)
	}

	assignments, err := s.store.ListAssignmentsByShift(ctx, shift.ID)
	if err != nil {
		return nil, err
	}

	settings := clock.ResolveSettings(ctx, s.store, actor.OrgID, s.opts.DefaultClockInBuffer, s.opts.DefaultGrace)

	settlements, dirty := reconcile(shift, assignments, settings.Grace())
	if len(dirty) > 0 {
		return nil, domain.NewDirtyDataError(dirty)
	}

	summary := &Summary{ShiftID: shift.ID, Status: domain.ShiftApproved}
	audits := make([]*domain.AuditEvent, 0, len(settlements)+1)
	for _, st := range settlements {
		summary.TotalCostCents += st.EstimatedCostCents
		summary.AssignmentCount++
		summary.Assignments = append(summary.Assignments, AssignmentSummary{
			AssignmentID:       st.Assignment.ID,
			WorkerID:           st.Assignment.WorkerID,
			Status:             st.Status,
			EffectiveClockIn:   st.EffectiveClockIn,
			EffectiveClockOut:  st.EffectiveClockOut,
			BillableMinutes:    st.billableMinutes,
			EstimatedCostCents: st.EstimatedCostCents,
		})

		if st.Status == domain.AssignmentNoShow {
			summary.NoShowCount++
			audits = append(audits, &domain.AuditEvent{
				OrgID:      actor.OrgID,
				Action:     domain.AuditNoShow,
				EntityType: domain.EntityAssignment,
				EntityID:   st.Assignment.ID,
				ActorID:    actor.ID,
				Before:     map[string]any{"status": st.Assignment.Status},
				After:      map[string]any{"status": domain.AssignmentNoShow, "estimatedCost": 0},
				Metadata:   map[string]any{"shiftID": shift.ID, "workerID": st.Assignment.WorkerID},
			})
		}
		if st.rateFallback {
			slog.Warn("分配缺少时薪快照，使用班次当前价格结算",
				"shiftID", shift.ID, "assignmentID", st.Assignment.ID, "price", shift.PriceCents)
		}
	}

	audits = append([]*domain.AuditEvent{{
		OrgID:      actor.OrgID,
		Action:     domain.AuditShiftApproved,
		EntityType: domain.EntityShift,
		EntityID:   shift.ID,
		ActorID:    actor.ID,
		Before:     map[string]any{"status": shift.Status},
		After:      map[string]any{"status": domain.ShiftApproved},
		Metadata: map[string]any{
			"totalCost":       summary.TotalCostCents,
			"assignmentCount": summary.AssignmentCount,
			"noShowCount":     summary.NoShowCount,
		},
	}}, audits...)

	write := &repository.ApprovalWrite{
		ShiftID:     shift.ID,
		Settlements: make([]repository.AssignmentSettlement, 0, len(settlements)),
		Audits:      audits,
	}
	for _, st := range settlements {
		write.Settlements = append(write.Settlements, st.AssignmentSettlement)
	}

	if err := s.store.ApproveShift(ctx, write); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) || errors.Is(err, repository.ErrVersionConflict) {
			return nil, domain.ErrRaceCondition
		}
		return nil, err
	}

	for _, st := range settlements {
		if st.Status == domain.AssignmentNoShow {
			continue
		}
		s.notifier.Dispatch(domain.NotifyUser(actor.OrgID, st.Assignment.WorkerID, "班次工时已确认",
			fmt.Sprintf("班次 %d 已结算，计费时长 %d 分钟", shift.ID, st.billableMinutes)))
	}

	return summary, nil
}

type settlement struct {
	repository.AssignmentSettlement
	billableMinutes int
	rateFallback    bool
}

// reconcile 计算每个分配的结算结果，返回存在异常数据的员工 ID。已取消的分配不参与结算
func reconcile(shift *domain.Shift, assignments []*domain.ShiftAssignment, grace time.Duration) ([]settlement, []int64) {
	var (
		settlements []settlement
		dirty       []int64
	)

	for _, a := range assignments {
		if a.Status == domain.AssignmentCancelled {
			continue
		}

		st := settlement{AssignmentSettlement: repository.AssignmentSettlement{Assignment: a}}

		switch {
		case a.ActualClockIn == nil && a.ActualClockOut == nil:
			st.Status = domain.AssignmentNoShow
			settlements = append(settlements, st)
			continue

		case a.ActualClockIn == nil:
			// 有签退没有签到，无法确定工时
			dirty = append(dirty, a.WorkerID)
			continue

		case a.ActualClockOut == nil:
			// 忘记签退：从实际签到计到计划结束时间，签到不做宽限取整
			start := timerules.EffectiveClockIn(*a.ActualClockIn, shift.StartTime)
			end := shift.EndTime
			method := domain.MethodSystemAutoFinalized
			st.EffectiveClockIn = &start
			st.EffectiveClockOut = &end
			st.ClockOutMethod = &method

		default:
			start := timerules.SnapStart(*a.ActualClockIn, shift.StartTime, grace)
			end := timerules.SnapEnd(*a.ActualClockOut, shift.EndTime, grace)
			st.EffectiveClockIn = &start
			st.EffectiveClockOut = &end
			st.ClockOutMethod = a.ClockOutMethod
			if a.ActualClockOut.Before(*a.ActualClockIn) {
				dirty = append(dirty, a.WorkerID)
				continue
			}
		}

		total := timerules.TotalMinutes(*st.EffectiveClockIn, *st.EffectiveClockOut)
		if total < 0 || a.BreakMinutes >= total {
			dirty = append(dirty, a.WorkerID)
			continue
		}

		rate := shift.PriceCents
		if a.BudgetRateSnapshot != nil {
			rate = *a.BudgetRateSnapshot
		} else {
			st.rateFallback = true
		}

		st.Status = domain.AssignmentCompleted
		st.billableMinutes = timerules.BillableMinutes(total, a.BreakMinutes)
		st.EstimatedCostCents = timerules.Pay(st.billableMinutes, rate)
		settlements = append(settlements, st)
	}

	return settlements, dirty
}
