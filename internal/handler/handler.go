package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/approval"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/clock"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/correction"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/tracking"
)

// Services 是 handler 依赖的业务服务
type Services struct {
	Clock       *clock.Service
	Tracking    *tracking.Service
	Corrections *correction.Service
	Approval    *approval.Service
}

type Handler struct {
	validate   *validator.Validate
	config     *config.Config
	translator ut.Translator
	services   Services

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, services Services) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:   validate,
		config:     cfg,
		translator: trans,
		services:   services,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.requestID)
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)
	h.Mux.Use(h.timeout)

	h.Mux.Get("/healthz", h.Healthz)

	// 以下 API 必须携带有效的令牌
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)

		r.Route("/shifts/{shiftID}", func(r chi.Router) {
			r.Post("/clock-in", h.ClockIn)
			r.Post("/clock-out", h.ClockOut)
			r.Post("/approve", h.ApproveShift)
		})

		r.Route("/assignments/{assignmentID}", func(r chi.Router) {
			r.Post("/override", h.OverrideClock)
			r.Post("/corrections", h.SubmitCorrection)
			r.Get("/corrections", h.ListCorrections)
		})

		r.Post("/corrections/{correctionID}/review", h.ReviewCorrection)
		r.Post("/location/pings", h.IngestPing)
	})
}
