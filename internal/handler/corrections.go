package handler

import (
	"net/http"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/correction"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

func (h *Handler) SubmitCorrection(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := h.idParam(r, "assignmentID")
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	var req struct {
		Reason                string     `json:"reason" validate:"required"`
		RequestedClockIn      *time.Time `json:"requestedClockIn"`
		RequestedClockOut     *time.Time `json:"requestedClockOut"`
		RequestedBreakMinutes *int       `json:"requestedBreakMinutes" validate:"omitempty,gte=0"`
	}
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	c, err := h.services.Corrections.Submit(r.Context(), correction.SubmitRequest{
		Actor:                 actorFrom(r),
		AssignmentID:          assignmentID,
		Reason:                req.Reason,
		RequestedClockIn:      req.RequestedClockIn,
		RequestedClockOut:     req.RequestedClockOut,
		RequestedBreakMinutes: req.RequestedBreakMinutes,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "提交工时更正申请成功", c)
}

func (h *Handler) ListCorrections(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := h.idParam(r, "assignmentID")
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	corrections, err := h.services.Corrections.List(r.Context(), actorFrom(r), assignmentID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取工时更正申请成功", corrections)
}

func (h *Handler) ReviewCorrection(w http.ResponseWriter, r *http.Request) {
	correctionID, err := h.idParam(r, "correctionID")
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	var req struct {
		Action string `json:"action" validate:"required,oneof=approve reject"`
		Notes  string `json:"notes"`
	}
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	c, err := h.services.Corrections.Review(r.Context(), correction.ReviewRequest{
		Actor:        actorFrom(r),
		CorrectionID: correctionID,
		Action:       domain.CorrectionAction(req.Action),
		Notes:        req.Notes,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "审核工时更正申请成功", c)
}
