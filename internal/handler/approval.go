package handler

import "net/http"

func (h *Handler) ApproveShift(w http.ResponseWriter, r *http.Request) {
	shiftID, err := h.idParam(r, "shiftID")
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	summary, err := h.services.Approval.Approve(r.Context(), actorFrom(r), shiftID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "班次审批成功", summary)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.successResponse(w, r, "ok", nil)
}
