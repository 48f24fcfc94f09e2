package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

func (h *Handler) logInternalServerError(r *http.Request, err error) {
	slog.Error("服务器内部错误", "requestID", requestIDFrom(r), "method", r.Method, "path", r.URL.Path, "error", err)
}

func (h *Handler) readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logInternalServerError(r, err)
	}
}

type Response struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	Data       any              `json:"data,omitempty"`
	Code       domain.ErrorCode `json:"code,omitempty"`
	HTTPStatus int              `json:"httpStatus,omitempty"`
	Details    map[string]any   `json:"details,omitempty"`
}

func (h *Handler) errorResponse(w http.ResponseWriter, r *http.Request, e *domain.Error) {
	h.writeJSON(w, r, e.HTTPStatus, Response{
		Success:    false,
		Message:    e.Message,
		Code:       e.Code,
		HTTPStatus: e.HTTPStatus,
		Details:    e.Details,
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		h.errorResponse(w, r, domain.NewValidationError(validationErrors[0].Translate(h.translator)))
		return
	}

	h.errorResponse(w, r, domain.NewValidationError("请求格式错误"))
}

// serviceError 把业务层返回的错误转换为响应，非业务错误一律按内部错误处理，不向调用方暴露细节
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := domain.AsError(err); ok {
		h.errorResponse(w, r, e)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("请求超时", "requestID", requestIDFrom(r), "method", r.Method, "path", r.URL.Path)
		h.errorResponse(w, r, domain.ErrTimeout)
		return
	}

	h.internalServerError(w, r, err)
}

func (h *Handler) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	h.logInternalServerError(r, err)
	h.writeJSON(w, r, http.StatusInternalServerError, Response{
		Success:    false,
		Message:    "服务器内部错误",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"requestID": requestIDFrom(r)},
	})
}

func (h *Handler) successResponse(w http.ResponseWriter, r *http.Request, msg string, data any) {
	h.writeJSON(w, r, http.StatusOK, Response{
		Success: true,
		Message: msg,
		Data:    data,
	})
}

func (h *Handler) idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("ID 无效")
	}
	return id, nil
}
