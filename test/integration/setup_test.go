package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/scribe/internal/platform/db"
	"github.com/ehr/scribe/migrations"
)

// globalPool is nil when no database could be started; tests then skip.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	connStr := os.Getenv("INTEGRATION_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		if _, err := exec.LookPath("docker"); err != nil {
			fmt.Fprintln(os.Stderr, "docker not found; integration tests will be skipped")
			os.Exit(m.Run())
		}
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 10, ApplicationName: "scribe-integration"})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	globalPool = pool

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

func requireDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if globalPool == nil {
		t.Skip("no database available")
	}
	return globalPool
}

func uniqueTenantID(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

// newTenant creates a migrated tenant schema, drops it when the test ends and
// returns a context scoped to it.
func newTenant(t *testing.T, prefix string) context.Context {
	t.Helper()
	pool := requireDB(t)
	ctx := context.Background()
	tenantID := uniqueTenantID(prefix)

	if err := db.CreateTenantSchema(ctx, pool, tenantID, db.NewMigrator(pool, migrations.FS)); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS tenant_"+tenantID+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema for %s: %v", tenantID, err)
		}
	})

	tctx, err := db.WithTenant(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	return tctx
}

// seedExec runs sql against the tenant schema carried by ctx. Table names are
// written as {name} and qualified here.
func seedExec(t *testing.T, ctx context.Context, sql string, args ...interface{}) {
	t.Helper()
	for _, name := range []string{"patient", "medication_request", "condition", "allergy_intolerance", "observation", "service_request"} {
		sql = strings.ReplaceAll(sql, "{"+name+"}", db.Qualify(ctx, name))
	}
	if _, err := globalPool.Exec(ctx, sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

type seededPatient struct {
	ID   uuid.UUID
	MRN  string
	FHIR string
}

func seedPatient(t *testing.T, ctx context.Context, first, last, mrn string) seededPatient {
	t.Helper()
	p := seededPatient{ID: uuid.New(), MRN: mrn, FHIR: "pt-" + mrn}
	seedExec(t, ctx, `INSERT INTO {patient} (id, fhir_id, mrn, first_name, last_name, birth_date, gender, phone)
		VALUES ($1, $2, $3, $4, $5, $6, 'female', '555-0100')`,
		p.ID, p.FHIR, mrn, first, last, time.Date(1980, 3, 10, 0, 0, 0, 0, time.UTC))
	return p
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
