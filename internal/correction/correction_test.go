package correction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository/memstore"
)

type recorder struct {
	mu   sync.Mutex
	msgs []domain.NotificationMessage
}

func (r *recorder) Dispatch(msgs ...domain.NotificationMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
}

func (r *recorder) audience(audience string) []domain.NotificationMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.NotificationMessage
	for _, m := range r.msgs {
		if m.Audience == audience {
			out = append(out, m)
		}
	}
	return out
}

var (
	manager = domain.Actor{ID: 2, OrgID: 1, Role: domain.RoleManager}
	admin   = domain.Actor{ID: 3, OrgID: 1, Role: domain.RoleAdmin}
)

type fixture struct {
	store      *memstore.Store
	notifier   *recorder
	svc        *Service
	now        time.Time
	shift      *domain.Shift
	assignment *domain.ShiftAssignment
	worker     domain.Actor
}

func hhmm(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

// newFixture 创建一个 09:00-13:00 的班次，员工 09:02 签到后忘记签退
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	shift := store.AddShift(domain.Shift{
		OrgID:      1,
		VenueID:    1,
		Status:     domain.ShiftInProgress,
		StartTime:  hhmm(9, 0),
		EndTime:    hhmm(13, 0),
		PriceCents: 3000,
	})

	in := hhmm(9, 2)
	a := store.AddAssignment(domain.ShiftAssignment{
		ID:               100,
		ShiftID:          shift.ID,
		WorkerID:         10,
		Status:           domain.AssignmentInProgress,
		ActualClockIn:    &in,
		EffectiveClockIn: &in,
	})

	f := &fixture{
		store:      store,
		notifier:   &recorder{},
		now:        hhmm(14, 0),
		shift:      shift,
		assignment: a,
		worker:     domain.Actor{ID: 10, OrgID: 1, Role: domain.RoleWorker},
	}
	opts := Options{EscalateAfter: 72 * time.Hour, AutoApproveAfter: 48 * time.Hour}
	f.svc = NewService(store, f.notifier, opts).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) submitClockOut(t *testing.T, out time.Time) *domain.TimeCorrectionRequest {
	t.Helper()
	c, err := f.svc.Submit(context.Background(), SubmitRequest{
		Actor:             f.worker,
		AssignmentID:      f.assignment.ID,
		Reason:            "下班时手机没电，忘记签退",
		RequestedClockOut: &out,
	})
	require.NoError(t, err)
	return c
}

func TestSubmit_CreatesPendingRequest(t *testing.T) {
	f := newFixture(t)

	c := f.submitClockOut(t, hhmm(13, 0))

	assert.Equal(t, domain.CorrectionPending, c.Status)
	assert.Equal(t, hhmm(9, 2), *c.OriginalClockIn)
	assert.Nil(t, c.OriginalClockOut)
	assert.Equal(t, f.now, c.CreatedAt)

	stored := f.store.Correction(c.ID)
	require.NotNil(t, stored)
	assert.Equal(t, hhmm(13, 0), *stored.RequestedClockOut)

	a := f.store.Assignment(f.assignment.ID)
	assert.True(t, a.NeedsReview)
	assert.Equal(t, domain.ReviewReasonDisputed, *a.ReviewReason)
	// 提交申请不修改打卡时间
	assert.Nil(t, a.ActualClockOut)

	assert.Len(t, f.store.Audits(domain.AuditCorrectionSubmit), 1)
	assert.Len(t, f.notifier.audience(domain.AudienceOrgManagers), 1)
}

func TestSubmit_ReasonLength(t *testing.T) {
	f := newFixture(t)
	out := hhmm(13, 0)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		Actor:             f.worker,
		AssignmentID:      f.assignment.ID,
		Reason:            "   忘记签退了     ",
		RequestedClockOut: &out,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// 按字符而不是字节计算长度
	_, err = f.svc.Submit(context.Background(), SubmitRequest{
		Actor:             f.worker,
		AssignmentID:      f.assignment.ID,
		Reason:            "忘记签退了手机没电啦",
		RequestedClockOut: &out,
	})
	assert.NoError(t, err)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t)
	early := hhmm(9, 0)
	brk := -5

	tests := []struct {
		name string
		req  SubmitRequest
		want *domain.Error
	}{
		{
			name: "nothing requested",
			req:  SubmitRequest{Actor: f.worker, AssignmentID: f.assignment.ID, Reason: "下班时手机没电，忘记签退"},
			want: domain.ErrValidation,
		},
		{
			name: "negative break",
			req:  SubmitRequest{Actor: f.worker, AssignmentID: f.assignment.ID, Reason: "下班时手机没电，忘记签退", RequestedBreakMinutes: &brk},
			want: domain.ErrValidation,
		},
		{
			name: "clock out before clock in",
			req:  SubmitRequest{Actor: f.worker, AssignmentID: f.assignment.ID, Reason: "下班时手机没电，忘记签退", RequestedClockOut: &early},
			want: domain.ErrValidation,
		},
		{
			name: "not the owner",
			req:  SubmitRequest{Actor: domain.Actor{ID: 11, OrgID: 1, Role: domain.RoleWorker}, AssignmentID: f.assignment.ID, Reason: "下班时手机没电，忘记签退", RequestedBreakMinutes: new(int)},
			want: domain.ErrForbidden,
		},
		{
			name: "unknown assignment",
			req:  SubmitRequest{Actor: f.worker, AssignmentID: 999, Reason: "下班时手机没电，忘记签退", RequestedBreakMinutes: new(int)},
			want: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.store.Audits(domain.AuditCorrectionSubmit))
}

func TestSubmit_OneOpenRequestPerAssignment(t *testing.T) {
	f := newFixture(t)
	f.submitClockOut(t, hhmm(13, 0))

	out := hhmm(12, 58)
	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		Actor:             f.worker,
		AssignmentID:      f.assignment.ID,
		Reason:            "上一条申请的时间写错了",
		RequestedClockOut: &out,
	})
	assert.ErrorIs(t, err, domain.ErrCorrectionPending)
}

func TestSubmit_KeepsExistingReviewReason(t *testing.T) {
	f := newFixture(t)
	reason := domain.ReviewReasonLeftGeofence
	in := hhmm(9, 2)
	a := f.store.AddAssignment(domain.ShiftAssignment{
		ShiftID:       f.shift.ID,
		WorkerID:      f.worker.ID,
		Status:        domain.AssignmentInProgress,
		ActualClockIn: &in,
		NeedsReview:   true,
		ReviewReason:  &reason,
	})

	brk := 15
	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		Actor:                 f.worker,
		AssignmentID:          a.ID,
		Reason:                "中途去隔壁楼取了资料",
		RequestedBreakMinutes: &brk,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewReasonLeftGeofence, *f.store.Assignment(a.ID).ReviewReason)
}

func TestReview_ApproveAppliesRequestedTimes(t *testing.T) {
	f := newFixture(t)
	c := f.submitClockOut(t, hhmm(13, 0))

	f.now = hhmm(15, 0)
	resolved, err := f.svc.Review(context.Background(), ReviewRequest{
		Actor:        manager,
		CorrectionID: c.ID,
		Action:       domain.ActionApprove,
		Notes:        "已与现场确认",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CorrectionApproved, resolved.Status)
	assert.Equal(t, manager.ID, *resolved.ReviewedBy)

	stored := f.store.Correction(c.ID)
	assert.Equal(t, domain.CorrectionApproved, stored.Status)
	assert.Equal(t, hhmm(15, 0), *stored.ReviewedAt)
	assert.Equal(t, "已与现场确认", stored.ReviewNotes)

	a := f.store.Assignment(f.assignment.ID)
	assert.Equal(t, hhmm(13, 0), *a.ActualClockOut)
	assert.Equal(t, hhmm(13, 0), *a.EffectiveClockOut)
	assert.Equal(t, domain.MethodCorrection, *a.ClockOutMethod)
	assert.False(t, a.ClockOutVerified)
	assert.Equal(t, domain.AssignmentCompleted, a.Status)
	assert.False(t, a.NeedsReview)
	assert.Nil(t, a.ReviewReason)

	// 唯一的分配已经完成，班次随之完成
	assert.Equal(t, domain.ShiftCompleted, f.store.Shift(f.shift.ID).Status)

	audits := f.store.Audits(domain.AuditCorrectionApprove)
	require.Len(t, audits, 1)
	assert.Equal(t, domain.EntityCorrection, audits[0].EntityType)

	notices := f.notifier.audience(domain.AudienceUser)
	require.Len(t, notices, 1)
	assert.Equal(t, f.worker.ID, notices[0].RecipientID)

	_, err = f.svc.Review(context.Background(), ReviewRequest{Actor: admin, CorrectionID: c.ID, Action: domain.ActionReject})
	assert.ErrorIs(t, err, domain.ErrAlreadyReviewed)
}

func TestReview_RejectClearsFlagOnly(t *testing.T) {
	f := newFixture(t)
	c := f.submitClockOut(t, hhmm(13, 0))

	resolved, err := f.svc.Review(context.Background(), ReviewRequest{
		Actor:        manager,
		CorrectionID: c.ID,
		Action:       domain.ActionReject,
		Notes:        "监控显示 12:30 已离开",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CorrectionRejected, resolved.Status)

	a := f.store.Assignment(f.assignment.ID)
	assert.Nil(t, a.ActualClockOut)
	assert.Equal(t, domain.AssignmentInProgress, a.Status)
	assert.False(t, a.NeedsReview)
	assert.Len(t, f.store.Audits(domain.AuditCorrectionReject), 1)

	// 拒绝之后可以重新提交
	f.submitClockOut(t, hhmm(12, 30))
}

func TestReview_Permissions(t *testing.T) {
	f := newFixture(t)
	c := f.submitClockOut(t, hhmm(13, 0))

	_, err := f.svc.Review(context.Background(), ReviewRequest{Actor: f.worker, CorrectionID: c.ID, Action: domain.ActionApprove})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Review(context.Background(), ReviewRequest{Actor: manager, CorrectionID: c.ID, Action: "maybe"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	other := domain.Actor{ID: 2, OrgID: 2, Role: domain.RoleManager}
	_, err = f.svc.Review(context.Background(), ReviewRequest{Actor: other, CorrectionID: c.ID, Action: domain.ActionApprove})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, domain.CorrectionPending, f.store.Correction(c.ID).Status)
}

func TestReview_EscalatedRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	c := f.submitClockOut(t, hhmm(13, 0))

	n, err := f.svc.EscalateStale(context.Background(), c.CreatedAt.Add(72*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.svc.Review(context.Background(), ReviewRequest{Actor: manager, CorrectionID: c.ID, Action: domain.ActionApprove})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	resolved, err := f.svc.Review(context.Background(), ReviewRequest{Actor: admin, CorrectionID: c.ID, Action: domain.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, domain.CorrectionApproved, resolved.Status)
}

func TestReview_ApprovedShiftIsFrozen(t *testing.T) {
	f := newFixture(t)
	shift := f.store.AddShift(domain.Shift{OrgID: 1, Status: domain.ShiftApproved, StartTime: hhmm(9, 0), EndTime: hhmm(13, 0)})
	in, out := hhmm(9, 0), hhmm(13, 0)
	a := f.store.AddAssignment(domain.ShiftAssignment{ShiftID: shift.ID, WorkerID: f.worker.ID, Status: domain.AssignmentCompleted, ActualClockIn: &in, ActualClockOut: &out})
	later := hhmm(13, 30)
	c := f.store.AddCorrection(domain.TimeCorrectionRequest{
		OrgID:             1,
		AssignmentID:      a.ID,
		WorkerID:          f.worker.ID,
		RequestedClockOut: &later,
		Reason:            "审批前提交的申请",
		Status:            domain.CorrectionPending,
		CreatedAt:         hhmm(13, 5),
	})

	_, err := f.svc.Review(context.Background(), ReviewRequest{Actor: manager, CorrectionID: c.ID, Action: domain.ActionApprove})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// 拒绝仍然可以结束这条申请
	_, err = f.svc.Review(context.Background(), ReviewRequest{Actor: manager, CorrectionID: c.ID, Action: domain.ActionReject})
	assert.NoError(t, err)
}

func TestEscalateStale_Boundary(t *testing.T) {
	f := newFixture(t)
	c := f.submitClockOut(t, hhmm(13, 0))
	ctx := context.Background()

	n, err := f.svc.EscalateStale(ctx, c.CreatedAt.Add(72*time.Hour-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, domain.CorrectionPending, f.store.Correction(c.ID).Status)

	at := c.CreatedAt.Add(72 * time.Hour)
	n, err = f.svc.EscalateStale(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.store.Correction(c.ID)
	assert.Equal(t, domain.CorrectionEscalated, stored.Status)
	assert.Equal(t, at, *stored.EscalatedAt)
	assert.Contains(t, stored.EscalationReason, "72")

	escalations := f.store.Audits(domain.AuditCorrectionEscalate)
	require.Len(t, escalations, 1)
	assert.Equal(t, domain.SystemActorID, escalations[0].ActorID)
	assert.Len(t, f.notifier.audience(domain.AudienceOrgAdmins), 1)

	// 重复执行不会再次升级
	n, err = f.svc.EscalateStale(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 升级后的申请仍然阻止新的申请
	brk := 10
	_, err = f.svc.Submit(ctx, SubmitRequest{Actor: f.worker, AssignmentID: f.assignment.ID, Reason: "再补充一条休息时间", RequestedBreakMinutes: &brk})
	assert.ErrorIs(t, err, domain.ErrCorrectionPending)
}

func TestAutoApproveEscalated_Boundary(t *testing.T) {
	f := newFixture(t)
	c := f.submitClockOut(t, hhmm(13, 0))
	ctx := context.Background()

	escalatedAt := c.CreatedAt.Add(72 * time.Hour)
	_, err := f.svc.EscalateStale(ctx, escalatedAt)
	require.NoError(t, err)

	n, err := f.svc.AutoApproveEscalated(ctx, escalatedAt.Add(48*time.Hour-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	at := escalatedAt.Add(48 * time.Hour)
	n, err = f.svc.AutoApproveEscalated(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.store.Correction(c.ID)
	assert.Equal(t, domain.CorrectionApproved, stored.Status)
	assert.Equal(t, domain.SystemActorID, *stored.ReviewedBy)
	assert.Equal(t, at, *stored.ReviewedAt)

	a := f.store.Assignment(f.assignment.ID)
	assert.Equal(t, hhmm(13, 0), *a.ActualClockOut)
	assert.Equal(t, domain.MethodCorrection, *a.ClockOutMethod)

	n, err = f.svc.AutoApproveEscalated(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAutoApproveEscalated_SkipsApprovedShift(t *testing.T) {
	f := newFixture(t)
	shift := f.store.AddShift(domain.Shift{OrgID: 1, Status: domain.ShiftApproved, StartTime: hhmm(9, 0), EndTime: hhmm(13, 0)})
	in, out := hhmm(9, 0), hhmm(13, 0)
	a := f.store.AddAssignment(domain.ShiftAssignment{ShiftID: shift.ID, WorkerID: f.worker.ID, Status: domain.AssignmentCompleted, ActualClockIn: &in, ActualClockOut: &out})
	escalatedAt := hhmm(14, 0)
	c := f.store.AddCorrection(domain.TimeCorrectionRequest{
		OrgID:        1,
		AssignmentID: a.ID,
		WorkerID:     f.worker.ID,
		Reason:       "审批前提交的申请",
		Status:       domain.CorrectionEscalated,
		EscalatedAt:  &escalatedAt,
		CreatedAt:    hhmm(13, 5),
	})

	n, err := f.svc.AutoApproveEscalated(context.Background(), escalatedAt.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, domain.CorrectionEscalated, f.store.Correction(c.ID).Status)
}

func TestList_Visibility(t *testing.T) {
	f := newFixture(t)
	f.submitClockOut(t, hhmm(13, 0))
	ctx := context.Background()

	list, err := f.svc.List(ctx, f.worker, f.assignment.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.svc.List(ctx, manager, f.assignment.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.List(ctx, domain.Actor{ID: 11, OrgID: 1, Role: domain.RoleWorker}, f.assignment.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestApply_KeepsUnrequestedFields(t *testing.T) {
	in, out := hhmm(9, 10), hhmm(12, 0)
	a := &domain.ShiftAssignment{ActualClockIn: &in, ActualClockOut: &out, BreakMinutes: 20, Status: domain.AssignmentCompleted}
	shift := &domain.Shift{StartTime: hhmm(9, 0), EndTime: hhmm(13, 0)}

	early := hhmm(8, 45)
	updated, err := Apply(a, shift, &domain.TimeCorrectionRequest{RequestedClockIn: &early})
	require.NoError(t, err)

	assert.Equal(t, early, *updated.ActualClockIn)
	assert.Equal(t, hhmm(9, 0), *updated.EffectiveClockIn)
	assert.Equal(t, out, *updated.ActualClockOut)
	assert.Equal(t, 20, updated.BreakMinutes)
	assert.Equal(t, domain.AssignmentCompleted, updated.Status)
	// 原分配不会被修改
	assert.Equal(t, in, *a.ActualClockIn)

	late := hhmm(12, 30)
	_, err = Apply(a, shift, &domain.TimeCorrectionRequest{RequestedClockIn: &late})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
