package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTenantContext(header string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(TenantHeader, header)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		jwt    interface{}
		header string
		want   string
	}{
		{"default", nil, "", "default"},
		{"header", nil, "clinic_a", "clinic_a"},
		{"jwt wins over header", "hospital_b", "clinic_a", "hospital_b"},
		{"empty jwt falls through", "", "clinic_a", "clinic_a"},
		{"wrong type ignored", 42, "", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTenantContext(tt.header)
			if tt.jwt != nil {
				c.Set("jwt_tenant_id", tt.jwt)
			}
			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSchemaFor(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abc", "tenant_abc"},
		{"Tenant_1", "tenant_Tenant_1"},
		{"a-b", ""},
		{"a.b", ""},
		{"'; DROP TABLE patient", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := SchemaFor(tt.input)
		if tt.want == "" {
			if !errors.Is(err, ErrInvalidTenant) {
				t.Errorf("SchemaFor(%q): expected ErrInvalidTenant, got %v", tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("SchemaFor(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
		}
	}
}

func TestTenantMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode int
		want     string
	}{
		{"default tenant", "", 0, "default"},
		{"header tenant", "clinic_a", 0, "clinic_a"},
		{"invalid tenant", "bad-tenant", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTenantContext(tt.header)
			var seen string
			err := TenantMiddleware("default")(func(c echo.Context) error {
				seen = TenantFromContext(c.Request().Context())
				return nil
			})(c)
			if tt.wantCode != 0 {
				he, ok := err.(*echo.HTTPError)
				if !ok || he.Code != tt.wantCode {
					t.Fatalf("expected %d, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen != tt.want || c.Get("tenant_id") != tt.want {
				t.Errorf("expected tenant %q, got %q / %v", tt.want, seen, c.Get("tenant_id"))
			}
		})
	}
}

func TestQualify(t *testing.T) {
	if got := Qualify(context.Background(), "patient"); got != "patient" {
		t.Errorf("expected unqualified name, got %q", got)
	}
	ctx, err := WithTenant(context.Background(), "clinic_a")
	if err != nil {
		t.Fatalf("WithTenant: %v", err)
	}
	if got := Qualify(ctx, "patient"); got != "tenant_clinic_a.patient" {
		t.Errorf("expected qualified name, got %q", got)
	}
	if _, err := WithTenant(context.Background(), "x;drop"); !errors.Is(err, ErrInvalidTenant) {
		t.Errorf("expected ErrInvalidTenant, got %v", err)
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"tenant-with-dash", "ten ant", "drop;table"} {
		if err := CreateTenantSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestTenantFromContext(t *testing.T) {
	if got := TenantFromContext(context.WithValue(context.Background(), TenantIDKey, "clinic_a")); got != "clinic_a" {
		t.Errorf("expected clinic_a, got %q", got)
	}
	if got := TenantFromContext(context.WithValue(context.Background(), TenantIDKey, 12345)); got != "" {
		t.Errorf("expected empty tenant for wrong type, got %q", got)
	}
}
