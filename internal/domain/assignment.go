package domain

import "time"

type AssignmentStatus string

const (
	AssignmentActive     AssignmentStatus = "active"
	AssignmentInProgress AssignmentStatus = "in-progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentNoShow     AssignmentStatus = "no_show"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

type ClockMethod string

const (
	MethodGeofence            ClockMethod = "geofence"
	MethodManualOverride      ClockMethod = "manual_override"
	MethodCorrection          ClockMethod = "correction"
	MethodSystemAutoFinalized ClockMethod = "system_auto_finalized"
)

const (
	ReviewReasonLeftGeofence = "left_geofence"
	ReviewReasonDisputed     = "disputed"
)

type ShiftAssignment struct {
	ID       int64            `json:"id"`
	ShiftID  int64            `json:"shiftID"`
	WorkerID int64            `json:"workerID"`
	Status   AssignmentStatus `json:"status"`

	// actual* 是审计用的原始时间，effective* 是经过取整规则之后用于结算的时间
	ActualClockIn     *time.Time   `json:"actualClockIn"`
	ActualClockOut    *time.Time   `json:"actualClockOut"`
	EffectiveClockIn  *time.Time   `json:"effectiveClockIn"`
	EffectiveClockOut *time.Time   `json:"effectiveClockOut"`
	ClockInVerified   bool         `json:"clockInVerified"`
	ClockOutVerified  bool         `json:"clockOutVerified"`
	ClockInMethod     *ClockMethod `json:"clockInMethod"`
	ClockOutMethod    *ClockMethod `json:"clockOutMethod"`

	BreakMinutes       int    `json:"breakMinutes"`
	BudgetRateSnapshot *int64 `json:"budgetRateSnapshot"` // 分配时锁定的时薪（分）
	EstimatedCostCents *int64 `json:"estimatedCostCents"`

	NeedsReview  bool    `json:"needsReview"`
	ReviewReason *string `json:"reviewReason"`

	LastKnownLatitude  *float64   `json:"lastKnownLatitude"`
	LastKnownLongitude *float64   `json:"lastKnownLongitude"`
	LastKnownAt        *time.Time `json:"lastKnownAt"`

	CreatedAt time.Time `json:"createdAt"`
	Version   int32     `json:"-"`
}

func (a *ShiftAssignment) IsClockedIn() bool {
	return a.ActualClockIn != nil && a.ActualClockOut == nil
}

func (a *ShiftAssignment) HasReviewReason(reason string) bool {
	return a.ReviewReason != nil && *a.ReviewReason == reason
}

// AssignmentStatusFor 根据打卡记录推导分配的状态
func AssignmentStatusFor(clockIn, clockOut *time.Time) AssignmentStatus {
	switch {
	case clockIn != nil && clockOut != nil:
		return AssignmentCompleted
	case clockIn != nil:
		return AssignmentInProgress
	default:
		return AssignmentActive
	}
}
