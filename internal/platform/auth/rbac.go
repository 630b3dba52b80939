package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ChartReaders may read the chart and expand dot-phrases.
var ChartReaders = []string{"admin", "physician", "nurse", "scribe"}

// RequireRole passes callers holding any of roles. admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasRole(userRoles []string, roles ...string) bool {
	for _, has := range userRoles {
		if has == "admin" {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

const SMARTPatientIDKey contextKey = "smart_patient_id"

// SMARTPatientIDFromContext returns the launch context patient, if the token
// carried one.
func SMARTPatientIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(SMARTPatientIDKey).(string)
	return v
}

// CheckPatientAccess rejects patientID when the token is scoped to a
// different SMART launch patient. Unscoped tokens pass.
func CheckPatientAccess(ctx context.Context, patientID string) error {
	if scoped := SMARTPatientIDFromContext(ctx); scoped != "" && patientID != scoped {
		return echo.NewHTTPError(http.StatusForbidden, "token is scoped to a different patient")
	}
	return nil
}

// RequirePatientParam applies CheckPatientAccess to the named path parameter.
func RequirePatientParam(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := CheckPatientAccess(c.Request().Context(), c.Param(param)); err != nil {
				return err
			}
			return next(c)
		}
	}
}
