package domain

import "time"

const (
	AuditClockIn            = "clock_in"
	AuditClockOut           = "clock_out"
	AuditManualOverride     = "manual_override"
	AuditLeftGeofence       = "left_geofence"
	AuditCorrectionSubmit   = "correction_submitted"
	AuditCorrectionApprove  = "correction_approved"
	AuditCorrectionReject   = "correction_rejected"
	AuditCorrectionEscalate = "correction_escalated"
	AuditShiftApproved      = "shift_approved"
	AuditNoShow             = "assignment_no_show"
)

const (
	EntityShift      = "shift"
	EntityAssignment = "shift_assignment"
	EntityCorrection = "time_correction_request"
)

type AuditEvent struct {
	ID         int64          `json:"id"`
	OrgID      int64          `json:"orgID"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   int64          `json:"entityID"`
	ActorID    int64          `json:"actorID"`
	Before     any            `json:"before"`
	After      any            `json:"after"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"createdAt"`
}
