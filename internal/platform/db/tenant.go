package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const TenantIDKey contextKey = "tenant_id"

// TenantHeader selects the tenant when the token does not carry one.
const TenantHeader = "X-Tenant-ID"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var ErrInvalidTenant = fmt.Errorf("invalid tenant identifier")

// SchemaFor returns the schema that holds tenantID's chart.
func SchemaFor(tenantID string) (string, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return "tenant_" + tenantID, nil
}

// WithTenant validates tenantID and attaches it to ctx.
func WithTenant(ctx context.Context, tenantID string) (context.Context, error) {
	if _, err := SchemaFor(tenantID); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, TenantIDKey, tenantID), nil
}

func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// Qualify prefixes table with the tenant schema carried by ctx. Without a
// tenant the name is returned as is and resolves through search_path.
func Qualify(ctx context.Context, table string) string {
	if tid := TenantFromContext(ctx); tid != "" {
		return "tenant_" + tid + "." + table
	}
	return table
}

// TenantMiddleware resolves the tenant for the request. It does not pin a
// connection: repositories qualify tables with the tenant schema and share
// the pool, so one request may run several queries at once.
func TenantMiddleware(defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			ctx, err := WithTenant(c.Request().Context(), tenantID)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)
			return next(c)
		}
	}
}

// extractTenantID prefers the token claim, then the header, then the
// default.
func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get(TenantHeader); tid != "" {
		return tid
	}
	return defaultTenant
}

// CreateTenantSchema creates the tenant schema and applies every migration
// in m to it. A nil migrator only creates the schema.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, m *Migrator) error {
	schema, err := SchemaFor(tenantID)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if m != nil {
		if _, err := m.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
