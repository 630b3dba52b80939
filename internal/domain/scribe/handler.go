package scribe

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/scribe/internal/dotphrase"
	"github.com/ehr/scribe/internal/platform/auth"
)

// PatientHeader carries the active patient when the body does not.
const PatientHeader = "X-Patient-ID"

type patientKey struct{}

// WithPatient attaches the active patient to ctx for RequestPatient.
func WithPatient(ctx context.Context, patientID string) context.Context {
	return context.WithValue(ctx, patientKey{}, patientID)
}

// RequestPatient is the engine's PatientContext for HTTP requests: the
// patient the handler resolved for this request, if any.
var RequestPatient = dotphrase.PatientContextFunc(func(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(patientKey{}).(string)
	return id, id != ""
})

type ExpandRequest struct {
	Text      string `json:"text"`
	PatientID string `json:"patient_id,omitempty"`
}

type ReplaceResponse struct {
	Text string `json:"text"`
}

type ScanResponse struct {
	Tokens []dotphrase.Token `json:"tokens"`
}

type Handler struct {
	engine *dotphrase.Engine
	logger zerolog.Logger
}

// NewHandler builds an engine over providers that reads the active patient
// from each request.
func NewHandler(providers dotphrase.Providers, logger zerolog.Logger, opts ...dotphrase.Option) *Handler {
	opts = append([]dotphrase.Option{dotphrase.WithLogger(logger)}, opts...)
	return &Handler{
		engine: dotphrase.NewEngine(providers, RequestPatient, opts...),
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dotphrase", auth.RequireRole(auth.ChartReaders...))
	g.POST("/expand", h.Expand)
	g.POST("/replace", h.Replace)
	g.POST("/scan", h.Scan)
}

// activePatient picks the patient from the body, then the header, then the
// SMART launch context. A SMART-scoped token may only name its own patient.
func activePatient(c echo.Context, body string) (string, error) {
	ctx := c.Request().Context()
	id := strings.TrimSpace(body)
	if id == "" {
		id = strings.TrimSpace(c.Request().Header.Get(PatientHeader))
	}
	if id == "" {
		return auth.SMARTPatientIDFromContext(ctx), nil
	}
	if err := auth.CheckPatientAccess(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Handler) bind(c echo.Context) (*ExpandRequest, context.Context, error) {
	var req ExpandRequest
	if err := c.Bind(&req); err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := activePatient(c, req.PatientID)
	if err != nil {
		return nil, nil, err
	}
	ctx := c.Request().Context()
	if id != "" {
		ctx = WithPatient(ctx, id)
	}
	return &req, ctx, nil
}

func (h *Handler) Expand(c echo.Context) error {
	req, ctx, err := h.bind(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.engine.Expand(ctx, req.Text))
}

func (h *Handler) Replace(c echo.Context) error {
	req, ctx, err := h.bind(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReplaceResponse{Text: h.engine.Replace(ctx, req.Text)})
}

func (h *Handler) Scan(c echo.Context) error {
	var req ExpandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tokens := h.engine.Scan(req.Text)
	if tokens == nil {
		tokens = []dotphrase.Token{}
	}
	return c.JSON(http.StatusOK, ScanResponse{Tokens: tokens})
}
