package repository

import (
	"errors"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

var (
	// ErrNoRowsAffected 表示带条件的更新没有命中任何行，即乐观并发检查失败
	ErrNoRowsAffected = errors.New("没有记录被更新")
	// ErrVersionConflict 表示记录在读取之后已被其他请求修改
	ErrVersionConflict = errors.New("记录已被修改")
	// ErrDuplicatePending 表示该分配已经存在待审核的工时更正申请
	ErrDuplicatePending = errors.New("已存在待审核的申请")
	// ErrDuplicateAssignment 表示员工已经被分配到该班次
	ErrDuplicateAssignment = errors.New("员工已被分配到该班次")
)

type ClockInWrite struct {
	Assignment       *domain.ShiftAssignment
	At               time.Time
	EffectiveClockIn time.Time
	StartShift       bool // 班次处于 assigned 时同时流转到 in-progress
	Ping             *domain.WorkerLocationPing
	Audit            *domain.AuditEvent
}

type ClockOutWrite struct {
	Assignment        *domain.ShiftAssignment
	At                time.Time
	EffectiveClockOut time.Time
	Ping              *domain.WorkerLocationPing
	Audit             *domain.AuditEvent
}

// AssignmentTimesWrite 以 version 作为乐观锁，整体覆盖分配的打卡相关字段
type AssignmentTimesWrite struct {
	Assignment *domain.ShiftAssignment
	StartShift bool
	Audit      *domain.AuditEvent
}

type PingWrite struct {
	Ping *domain.WorkerLocationPing
	// 仅在判定为离开场地时设置
	Departure *DepartureWrite
}

type DepartureWrite struct {
	AssignmentID int64
	Latitude     float64
	Longitude    float64
	At           time.Time
	Audit        *domain.AuditEvent
}

type CorrectionWrite struct {
	Request *domain.TimeCorrectionRequest
	Audit   *domain.AuditEvent
}

// ResolveCorrectionWrite 只会作用于 pending 或 escalated 状态的申请
type ResolveCorrectionWrite struct {
	CorrectionID int64
	Status       domain.CorrectionStatus
	ReviewerID   int64
	At           time.Time
	Notes        string
	// 批准时为更新后的分配，拒绝时只清除待复核标记
	Assignment *domain.ShiftAssignment
	Audit      *domain.AuditEvent
}

type AssignmentSettlement struct {
	Assignment         *domain.ShiftAssignment
	Status             domain.AssignmentStatus
	EffectiveClockIn   *time.Time
	EffectiveClockOut  *time.Time
	ClockOutMethod     *domain.ClockMethod
	EstimatedCostCents int64
}

type ApprovalWrite struct {
	ShiftID     int64
	Settlements []AssignmentSettlement
	Audits      []*domain.AuditEvent
}
