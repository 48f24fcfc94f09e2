package domain

import "time"

type PingEventType string

const (
	EventPing      PingEventType = "ping"
	EventArrival   PingEventType = "arrival"
	EventDeparture PingEventType = "departure"
	EventClockIn   PingEventType = "clock_in"
	EventClockOut  PingEventType = "clock_out"
)

type WorkerLocationPing struct {
	ID              int64         `json:"id"`
	AssignmentID    int64         `json:"assignmentID"`
	ShiftID         int64         `json:"shiftID"`
	WorkerID        int64         `json:"workerID"`
	Latitude        float64       `json:"latitude"`
	Longitude       float64       `json:"longitude"`
	AccuracyMeters  float64       `json:"accuracyMeters"`
	DistanceToVenue int           `json:"distanceToVenue"`
	IsOnSite        bool          `json:"isOnSite"`
	EventType       PingEventType `json:"eventType"`
	RecordedAt      time.Time     `json:"recordedAt"`
	DeviceTimestamp *time.Time    `json:"deviceTimestamp"`
}

// LastPing 是判断到达/离开以及写入节流时所需的上一条定位记录
type LastPing struct {
	RecordedAt time.Time `json:"recordedAt"`
	IsOnSite   bool      `json:"isOnSite"`
}
