package chart

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/scribe/internal/dotphrase"
	"github.com/ehr/scribe/internal/platform/auth"
)

// Handler exposes the provider endpoints the engine (or a remote chartapi
// client) reads from.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients/:patient_id",
		auth.RequireRole(auth.ChartReaders...),
		auth.RequirePatientParam("patient_id"),
	)
	g.GET("/demographics", h.GetDemographics)
	g.GET("/medications", h.ListMedications)
	g.GET("/problems", h.ListProblems)
	g.GET("/allergies", h.ListAllergies)
	g.GET("/vitals", h.GetVitals)
	g.GET("/labs", h.ListLabs)
	g.GET("/orders/:status/:type/:days", h.ListOrders)
}

func httpError(err error) error {
	if errors.Is(err, ErrPatientNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func queryBool(c echo.Context, name string) bool {
	v := strings.ToLower(c.QueryParam(name))
	return v == "1" || v == "true" || v == "yes"
}

func queryWindow(c echo.Context) *dotphrase.DateWindow {
	w := dotphrase.DateWindow{Start: c.QueryParam("start"), End: c.QueryParam("end")}
	if d, err := strconv.Atoi(c.QueryParam("days")); err == nil && d > 0 {
		w.Days = d
	}
	if w == (dotphrase.DateWindow{}) {
		return nil
	}
	return &w
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handler) GetDemographics(c echo.Context) error {
	d, err := h.svc.GetDemographics(c.Request().Context(), c.Param("patient_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListMedications(c echo.Context) error {
	f := dotphrase.MedsFilter{
		ActiveOnly: queryBool(c, "active"),
		Name:       c.QueryParam("name"),
		Window:     queryWindow(c),
	}
	if f.Window != nil {
		r := f.Window.Resolve(h.svc.now())
		f.Window = &r
	}
	meds, err := h.svc.ListMedications(c.Request().Context(), c.Param("patient_id"), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, meds)
}

func (h *Handler) ListProblems(c echo.Context) error {
	f := dotphrase.ProblemsFilter{ActiveOnly: c.QueryParam("active") == "" || queryBool(c, "active")}
	problems, err := h.svc.ListProblems(c.Request().Context(), c.Param("patient_id"), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, problems)
}

func (h *Handler) ListAllergies(c echo.Context) error {
	allergies, err := h.svc.ListAllergies(c.Request().Context(), c.Param("patient_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, allergies)
}

func (h *Handler) GetVitals(c echo.Context) error {
	var w dotphrase.DateWindow
	if qw := queryWindow(c); qw != nil {
		w = qw.Resolve(h.svc.now())
	}
	bundle, err := h.svc.GetVitals(c.Request().Context(), c.Param("patient_id"), w)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) ListLabs(c echo.Context) error {
	f := dotphrase.LabsFilter{
		Names:       splitList(c.QueryParam("names")),
		Mode:        dotphrase.LabsModeAll,
		FullHistory: queryBool(c, "all"),
		Window:      queryWindow(c),
	}
	if f.Window != nil {
		r := f.Window.Resolve(h.svc.now())
		f.Window = &r
	}
	labs, err := h.svc.ListLabs(c.Request().Context(), c.Param("patient_id"), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, labs)
}

func (h *Handler) ListOrders(c echo.Context) error {
	days, err := strconv.Atoi(c.Param("days"))
	if err != nil || days < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "days must be a non-negative integer")
	}
	status := dotphrase.NormalizeOrderStatus(c.Param("status"))
	orderType := dotphrase.NormalizeOrderType(c.Param("type"))
	orders, err := h.svc.ListOrders(c.Request().Context(), c.Param("patient_id"), status, orderType, days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, orders)
}
