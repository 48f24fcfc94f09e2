package handler

import (
	"net/http"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/geo"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/tracking"
)

func (h *Handler) IngestPing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude        *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
		Longitude       *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
		Accuracy        *float64   `json:"accuracy" validate:"required,gte=0"`
		DeviceTimestamp *time.Time `json:"deviceTimestamp"`
	}
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	actor := actorFrom(r)
	result, err := h.services.Tracking.Ingest(r.Context(), tracking.Ping{
		OrgID:           actor.OrgID,
		WorkerID:        actor.ID,
		Position:        geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude},
		AccuracyMeters:  *req.Accuracy,
		DeviceTimestamp: req.DeviceTimestamp,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "定位已接收", result)
}
