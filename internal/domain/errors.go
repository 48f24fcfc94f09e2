package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeReplayDetected     ErrorCode = "REPLAY_DETECTED"
	CodeLowAccuracy        ErrorCode = "LOW_ACCURACY"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeAlreadyClockedIn   ErrorCode = "ALREADY_CLOCKED_IN"
	CodeAlreadyClockedOut  ErrorCode = "ALREADY_CLOCKED_OUT"
	CodeNotClockedIn       ErrorCode = "NOT_CLOCKED_IN"
	CodeOutsideGeofence    ErrorCode = "OUTSIDE_GEOFENCE"
	CodeTooEarly           ErrorCode = "TOO_EARLY"
	CodeVenueNotConfigured ErrorCode = "VENUE_NOT_CONFIGURED"
	CodeRaceCondition      ErrorCode = "RACE_CONDITION"
	CodeDirtyData          ErrorCode = "DIRTY_DATA"
	CodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	CodeAlreadyReviewed    ErrorCode = "ALREADY_REVIEWED"
	CodeCorrectionPending  ErrorCode = "CORRECTION_PENDING"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
)

// Error 是业务层返回给调用方的错误，HTTPStatus 只是提示，由 handler 决定如何使用
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"httpStatus"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is 让 errors.Is 可以按照错误码进行比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Benign 表示该错误是幂等条件已满足，调用方不需要重试
func (e *Error) Benign() bool {
	return e.Code == CodeRaceCondition || e.Code == CodeAlreadyClockedIn
}

func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func newError(code ErrorCode, status int, msg string) *Error {
	return &Error{Code: code, Message: msg, HTTPStatus: status}
}

// 用于 errors.Is 比较的哨兵错误
var (
	ErrValidation         = newError(CodeValidation, http.StatusBadRequest, "参数错误")
	ErrReplayDetected     = newError(CodeReplayDetected, http.StatusBadRequest, "设备时间与服务器时间相差过大")
	ErrLowAccuracy        = newError(CodeLowAccuracy, http.StatusBadRequest, "定位精度不足")
	ErrNotFound           = newError(CodeNotFound, http.StatusNotFound, "资源不存在")
	ErrForbidden          = newError(CodeForbidden, http.StatusForbidden, "权限不足")
	ErrAlreadyClockedIn   = newError(CodeAlreadyClockedIn, http.StatusConflict, "已经签到")
	ErrAlreadyClockedOut  = newError(CodeAlreadyClockedOut, http.StatusConflict, "已经签退")
	ErrNotClockedIn       = newError(CodeNotClockedIn, http.StatusConflict, "尚未签到")
	ErrOutsideGeofence    = newError(CodeOutsideGeofence, http.StatusForbidden, "不在场地范围内")
	ErrTooEarly           = newError(CodeTooEarly, http.StatusBadRequest, "距离班次开始时间过早")
	ErrVenueNotConfigured = newError(CodeVenueNotConfigured, http.StatusUnprocessableEntity, "场地尚未配置定位")
	ErrRaceCondition      = newError(CodeRaceCondition, http.StatusConflict, "操作已被其他请求完成")
	ErrDirtyData          = newError(CodeDirtyData, http.StatusUnprocessableEntity, "班次存在异常的打卡数据")
	ErrInvalidTransition  = newError(CodeInvalidTransition, http.StatusConflict, "当前状态不允许该操作")
	ErrAlreadyReviewed    = newError(CodeAlreadyReviewed, http.StatusConflict, "该申请已被审核")
	ErrCorrectionPending  = newError(CodeCorrectionPending, http.StatusConflict, "已有待审核的工时更正申请")
	ErrTimeout            = newError(CodeTimeout, http.StatusGatewayTimeout, "请求超时")
	ErrUnauthorized       = newError(CodeUnauthorized, http.StatusUnauthorized, "用户未登录或令牌无效")
)

func NewValidationError(msg string) *Error {
	return newError(CodeValidation, http.StatusBadRequest, msg)
}

func NewNotFoundError(msg string) *Error {
	return newError(CodeNotFound, http.StatusNotFound, msg)
}

func NewInvalidTransitionError(from, to ShiftStatus) *Error {
	return ErrInvalidTransition.WithDetails(map[string]any{"from": from, "to": to})
}

func NewOutsideGeofenceError(distance, radius int) *Error {
	return ErrOutsideGeofence.WithDetails(map[string]any{"distance": distance, "radius": radius})
}

func NewDirtyDataError(workerIDs []int64) *Error {
	return ErrDirtyData.WithDetails(map[string]any{"workerIDs": workerIDs})
}

// AsError 取出错误链中的业务错误
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
