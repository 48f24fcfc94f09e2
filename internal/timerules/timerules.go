// Package timerules 负责打卡时间相关的纯函数：早到/迟到判定、宽限期取整以及工资计算
package timerules

import "time"

type Timing string

const (
	Early  Timing = "early"
	OnTime Timing = "on_time"
	Late   Timing = "late"
)

type Classification struct {
	Timing  Timing `json:"timing"`
	Minutes int    `json:"minutes"` // 与计划时间相差的分钟数（绝对值）
}

// Classify 判断一次打卡相对计划时间是早还是晚，差值在 tolerance 以内视为准时
func Classify(actual, scheduled time.Time, tolerance time.Duration) Classification {
	diff := actual.Sub(scheduled)
	minutes := int(absDuration(diff) / time.Minute)

	switch {
	case diff > tolerance:
		return Classification{Timing: Late, Minutes: minutes}
	case diff < -tolerance:
		return Classification{Timing: Early, Minutes: minutes}
	default:
		return Classification{Timing: OnTime, Minutes: minutes}
	}
}

// EffectiveClockIn 提前到达不计入工时
func EffectiveClockIn(actual, scheduledStart time.Time) time.Time {
	if actual.Before(scheduledStart) {
		return scheduledStart
	}
	return actual
}

// SnapStart 在计划开始之后宽限期内的签到取整到计划开始时间
func SnapStart(actualIn, scheduledStart time.Time, grace time.Duration) time.Time {
	start := EffectiveClockIn(actualIn, scheduledStart)
	if start.After(scheduledStart) && start.Sub(scheduledStart) <= grace {
		return scheduledStart
	}
	return start
}

// SnapEnd 在计划结束之前宽限期内的签退取整到计划结束时间，加班（晚于计划结束）永远不会被向下取整
func SnapEnd(actualOut, scheduledEnd time.Time, grace time.Duration) time.Time {
	if actualOut.Before(scheduledEnd) && scheduledEnd.Sub(actualOut) <= grace {
		return scheduledEnd
	}
	return actualOut
}

// TotalMinutes 不足一分钟的部分舍去，结束早于开始时返回负数
func TotalMinutes(start, end time.Time) int {
	return int(end.Sub(start) / time.Minute)
}

func BillableMinutes(totalMinutes, breakMinutes int) int {
	return max(0, totalMinutes-breakMinutes)
}

// Pay 按分钟计算工资并向上取整到分：ceil(minutes * rate / 60)
func Pay(minutes int, rateCents int64) int64 {
	if minutes <= 0 || rateCents <= 0 {
		return 0
	}
	return (int64(minutes)*rateCents + 59) / 60
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
