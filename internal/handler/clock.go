package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/clock"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/geo"
)

type clockRequest struct {
	Latitude        *float64  `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude       *float64  `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy        *float64  `json:"accuracy" validate:"required,gte=0"`
	DeviceTimestamp time.Time `json:"deviceTimestamp" validate:"required"`
}

func (h *Handler) readClockRequest(w http.ResponseWriter, r *http.Request) (*clock.Request, bool) {
	shiftID, err := h.idParam(r, "shiftID")
	if err != nil {
		h.serviceError(w, r, err)
		return nil, false
	}

	var req clockRequest
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return nil, false
	}

	actor := actorFrom(r)
	return &clock.Request{
		OrgID:           actor.OrgID,
		ShiftID:         shiftID,
		WorkerID:        actor.ID,
		Position:        geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude},
		AccuracyMeters:  *req.Accuracy,
		DeviceTimestamp: req.DeviceTimestamp,
	}, true
}

func (h *Handler) ClockIn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readClockRequest(w, r)
	if !ok {
		return
	}

	result, err := h.services.Clock.ClockIn(r.Context(), *req)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "签到成功", result)
}

func (h *Handler) ClockOut(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readClockRequest(w, r)
	if !ok {
		return
	}

	result, err := h.services.Clock.ClockOut(r.Context(), *req)
	if err != nil {
		// 并发的签退已经完成，对调用方来说结果是一样的
		if errors.Is(err, domain.ErrRaceCondition) {
			h.successResponse(w, r, "签退已由其他请求完成", map[string]any{"alreadyDone": true})
			return
		}
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "签退成功", result)
}

func (h *Handler) OverrideClock(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := h.idParam(r, "assignmentID")
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	var req struct {
		ClockIn      *time.Time `json:"clockIn"`
		ClockOut     *time.Time `json:"clockOut"`
		BreakMinutes *int       `json:"breakMinutes" validate:"omitempty,gte=0"`
		Reason       string     `json:"reason" validate:"required"`
		Latitude     *float64   `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
		Longitude    *float64   `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	}
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	override := clock.OverrideRequest{
		Actor:        actorFrom(r),
		AssignmentID: assignmentID,
		ClockIn:      req.ClockIn,
		ClockOut:     req.ClockOut,
		BreakMinutes: req.BreakMinutes,
		Reason:       req.Reason,
	}
	if req.Latitude != nil && req.Longitude != nil {
		override.Position = &geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	assignment, err := h.services.Clock.Override(r.Context(), override)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "补录打卡成功", assignment)
}
