package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/usecase"
	xhttp "AlertGate/pkg/http"
	xlogger "AlertGate/pkg/logger"
)

// AlertsEchoHandler serves the operator API.
type AlertsEchoHandler struct {
	logger *xlogger.Logger
	ops    *usecase.Operations
}

var _ xhttp.Handler = (*AlertsEchoHandler)(nil)

func NewAlertsEchoHandler(logger *xlogger.Logger, ops *usecase.Operations) *AlertsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &AlertsEchoHandler{logger: logger.Component("api"), ops: ops}
}

func (h *AlertsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/rounds", h.TriggerRound)
	g.GET("/stats", h.Stats)
	g.GET("/effectiveness", h.Effectiveness)
	g.DELETE("/strategies/:name", h.ResetStrategy)
	g.GET("/queue/failed", h.Failed)
	g.POST("/outcomes", h.RecordOutcome)
	g.GET("/streams", h.Streams)
	g.POST("/resume", h.Resume)
}

type healthBody struct {
	Halted     bool                  `json:"halted"`
	HaltReason string                `json:"halt_reason,omitempty"`
	Streams    []models.StreamStatus `json:"streams"`
	Queue      models.QueueCounts    `json:"queue"`
}

// Health reports 503 while emission is halted.
func (h *AlertsEchoHandler) Health(c echo.Context) error {
	st, err := h.ops.Stats(c.Request().Context(), 1)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	body := healthBody{Halted: st.Halted, HaltReason: st.HaltReason, Streams: st.Streams, Queue: st.Queue}
	if st.Halted {
		return xhttp.Respond(c, http.StatusServiceUnavailable, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *AlertsEchoHandler) TriggerRound(c echo.Context) error {
	rep, err := h.ops.TriggerRound(c.Request().Context())
	if err != nil {
		h.logger.Error("on-demand round failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *AlertsEchoHandler) Stats(c echo.Context) error {
	req := &models.StatsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.ops.Stats(c.Request().Context(), req.Days)
	if err != nil {
		h.logger.Error("stats failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, st)
}

// Effectiveness answers 204 until an outcome has been recorded.
func (h *AlertsEchoHandler) Effectiveness(c echo.Context) error {
	days := xhttp.ParseIntDefault(c.QueryParam("days"), 7)
	if days < 1 || days > 90 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("days must be between 1 and 90").WithParam("days", days))
	}
	eff, err := h.ops.Effectiveness(c.Request().Context(), days)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if eff == nil {
		return xhttp.NoContentResponse(c)
	}
	return xhttp.SuccessResponse(c, eff)
}

func (h *AlertsEchoHandler) ResetStrategy(c echo.Context) error {
	req := &models.ResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.ops.ResetStrategy(c.Request().Context(), req.Name); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.NoContentResponse(c)
}

func (h *AlertsEchoHandler) Failed(c echo.Context) error {
	req := &models.FailedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries, err := h.ops.FailedEntries(c.Request().Context(), req.Limit)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, entries)
}

func (h *AlertsEchoHandler) RecordOutcome(c echo.Context) error {
	req := &models.OutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.ops.RecordOutcome(c.Request().Context(), req.CandidateID, *req.Actionable); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"candidate_id": req.CandidateID})
}

func (h *AlertsEchoHandler) Streams(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.ops.Streams())
}

func (h *AlertsEchoHandler) Resume(c echo.Context) error {
	h.ops.Resume()
	h.logger.Warn("emission resumed by operator", xlogger.String("remote", c.RealIP()))
	return xhttp.NoContentResponse(c)
}

func toAppError(err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrStoreCorruption):
		return xhttp.UnavailableError("alert emission halted").WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
