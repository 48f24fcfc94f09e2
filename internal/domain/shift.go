package domain

import (
	"slices"
	"time"
)

type ShiftStatus string

const (
	ShiftDraft      ShiftStatus = "draft"
	ShiftPublished  ShiftStatus = "published"
	ShiftAssigned   ShiftStatus = "assigned"
	ShiftInProgress ShiftStatus = "in-progress"
	ShiftCompleted  ShiftStatus = "completed"
	ShiftApproved   ShiftStatus = "approved"
	ShiftCancelled  ShiftStatus = "cancelled"
)

// 班次状态的合法流转，cancelled 可以从任意非终止状态进入
var shiftTransitions = map[ShiftStatus][]ShiftStatus{
	ShiftDraft:      {ShiftPublished, ShiftCancelled},
	ShiftPublished:  {ShiftAssigned, ShiftCancelled},
	ShiftAssigned:   {ShiftInProgress, ShiftCancelled},
	ShiftInProgress: {ShiftCompleted, ShiftCancelled},
	ShiftCompleted:  {ShiftApproved, ShiftCancelled},
	ShiftApproved:   {},
	ShiftCancelled:  {},
}

func (s ShiftStatus) CanTransitionTo(next ShiftStatus) bool {
	return slices.Contains(shiftTransitions[s], next)
}

func (s ShiftStatus) IsTerminal() bool {
	return len(shiftTransitions[s]) == 0
}

type Shift struct {
	ID         int64       `json:"id"`
	OrgID      int64       `json:"orgID"`
	VenueID    int64       `json:"venueID"`
	Status     ShiftStatus `json:"status"`
	StartTime  time.Time   `json:"startTime"`
	EndTime    time.Time   `json:"endTime"`
	PriceCents int64       `json:"price"` // 每小时的价格，单位为分
	CreatedAt  time.Time   `json:"createdAt"`
	Version    int32       `json:"-"`
}

type Venue struct {
	ID             int64    `json:"id"`
	OrgID          int64    `json:"orgID"`
	Name           string   `json:"name"`
	Latitude       *float64 `json:"latitude"` // 未完成地理编码时为空
	Longitude      *float64 `json:"longitude"`
	GeofenceRadius int      `json:"geofenceRadius"` // 米
}

func (v *Venue) IsGeocoded() bool {
	return v.Latitude != nil && v.Longitude != nil && v.GeofenceRadius > 0
}

type OrgSettings struct {
	OrgID                int64 `json:"orgID"`
	ClockInBufferMinutes int   `json:"clockInBufferMinutes"`
	GraceMinutes         int   `json:"graceMinutes"`
}

func (s OrgSettings) ClockInBuffer() time.Duration {
	return time.Duration(s.ClockInBufferMinutes) * time.Minute
}

func (s OrgSettings) Grace() time.Duration {
	return time.Duration(s.GraceMinutes) * time.Minute
}
