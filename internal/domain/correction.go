package domain

import "time"

type CorrectionStatus string

const (
	CorrectionPending   CorrectionStatus = "pending"
	CorrectionApproved  CorrectionStatus = "approved"
	CorrectionRejected  CorrectionStatus = "rejected"
	CorrectionEscalated CorrectionStatus = "escalated"
)

type CorrectionAction string

const (
	ActionApprove CorrectionAction = "approve"
	ActionReject  CorrectionAction = "reject"
)

type TimeCorrectionRequest struct {
	ID           int64 `json:"id"`
	OrgID        int64 `json:"orgID"`
	AssignmentID int64 `json:"assignmentID"`
	WorkerID     int64 `json:"workerID"`

	RequestedClockIn      *time.Time `json:"requestedClockIn"`
	RequestedClockOut     *time.Time `json:"requestedClockOut"`
	RequestedBreakMinutes *int       `json:"requestedBreakMinutes"`

	// 提交时的原始打卡记录快照
	OriginalClockIn      *time.Time `json:"originalClockIn"`
	OriginalClockOut     *time.Time `json:"originalClockOut"`
	OriginalBreakMinutes int        `json:"originalBreakMinutes"`

	Reason           string           `json:"reason"`
	Status           CorrectionStatus `json:"status"`
	ReviewedBy       *int64           `json:"reviewedBy"`
	ReviewedAt       *time.Time       `json:"reviewedAt"`
	ReviewNotes      string           `json:"reviewNotes"`
	EscalatedAt      *time.Time       `json:"escalatedAt"`
	EscalationReason string           `json:"escalationReason"`
	CreatedAt        time.Time        `json:"createdAt"`
}

func (c *TimeCorrectionRequest) IsOpen() bool {
	return c.Status == CorrectionPending || c.Status == CorrectionEscalated
}
