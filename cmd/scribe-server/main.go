package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/scribe/internal/chartapi"
	"github.com/ehr/scribe/internal/config"
	"github.com/ehr/scribe/internal/domain/chart"
	"github.com/ehr/scribe/internal/domain/scribe"
	"github.com/ehr/scribe/internal/dotphrase"
	"github.com/ehr/scribe/internal/platform/auth"
	"github.com/ehr/scribe/internal/platform/db"
	"github.com/ehr/scribe/internal/platform/middleware"
	"github.com/ehr/scribe/migrations"
)

const maxBodySize = "1M"

func main() {
	rootCmd := &cobra.Command{
		Use:          "scribe-server",
		Short:        "Dot-phrase expansion service for clinical notes",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(expandCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the expansion API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for this command")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "scribe-server",
	})
}

// chartProviders reads from the remote chart API when one is configured and
// from the local database otherwise.
func chartProviders(cfg *config.Config, pool *pgxpool.Pool) (dotphrase.Providers, error) {
	if cfg.UsesChartAPI() {
		client, err := chartapi.NewClient(cfg.ChartAPIURL)
		if err != nil {
			return dotphrase.Providers{}, err
		}
		return dotphrase.ProvidersFrom(client), nil
	}
	if pool == nil {
		return dotphrase.Providers{}, fmt.Errorf("no chart source: set DATABASE_URL or CHART_API_URL")
	}
	return dotphrase.ProvidersFrom(chart.NewPGService(pool)), nil
}

func engineOptions(cfg *config.Config) []dotphrase.Option {
	return []dotphrase.Option{
		dotphrase.WithTimeout(cfg.ProviderTimeout),
		dotphrase.WithMaxConcurrency(cfg.MaxTokenConcurrency),
	}
}

// newServer builds the HTTP surface. pool is nil when charts come from the
// remote API; the chart read routes and the database health check are then
// not mounted.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, providers dotphrase.Providers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.TenantHeader, scribe.PatientHeader},
	}))
	e.Use(echomw.BodyLimit(maxBodySize))

	if cfg.IsDev() && !cfg.HasAuth() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(db.TenantMiddleware(cfg.DefaultTenant))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.UsesChartAPI() {
		apiV1.Use(chartapi.ForwardAuth())
	}
	if pool != nil && !cfg.UsesChartAPI() {
		chart.NewHandler(chart.NewPGService(pool)).RegisterRoutes(apiV1)
	}
	scribe.NewHandler(providers, logger, engineOptions(cfg)...).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = openPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	providers, err := chartProviders(cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure chart providers")
	}
	if cfg.UsesChartAPI() {
		logger.Info().Str("chart_api", cfg.ChartAPIURL).Msg("reading charts from remote API")
	}

	e := newServer(cfg, logger, pool, providers)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func expandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand the dot-phrases in a note for one patient",
		Long:  "Reads the note from --text or standard input and prints the expanded note.",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetString("patient")
			text, _ := cmd.Flags().GetString("text")
			tenant, _ := cmd.Flags().GetString("tenant")
			asJSON, _ := cmd.Flags().GetBool("json")

			if text == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read note: %w", err)
				}
				text = string(b)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx, err := db.WithTenant(cmd.Context(), tenant)
			if err != nil {
				return err
			}

			var pool *pgxpool.Pool
			if !cfg.UsesChartAPI() {
				pool, err = openPool(ctx, cfg)
				if err != nil {
					return err
				}
				defer pool.Close()
			}
			providers, err := chartProviders(cfg, pool)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Env, cmd.ErrOrStderr()).Level(zerolog.WarnLevel)
			opts := append(engineOptions(cfg), dotphrase.WithLogger(logger))
			return runExpand(ctx, cmd.OutOrStdout(), providers, patient, text, asJSON, opts...)
		},
	}
	cmd.Flags().String("patient", "", "Patient ID, MRN or FHIR ID")
	cmd.Flags().String("text", "", "Note text (defaults to standard input)")
	cmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.Flags().Bool("json", false, "Print the replaced text and every replacement as JSON")
	return cmd
}

func runExpand(ctx context.Context, out io.Writer, providers dotphrase.Providers, patient, text string, asJSON bool, opts ...dotphrase.Option) error {
	engine := dotphrase.NewEngine(providers, dotphrase.StaticPatient(strings.TrimSpace(patient)), opts...)

	if !asJSON {
		_, err := io.WriteString(out, engine.Replace(ctx, text))
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(engine.Expand(ctx, text))
}

// migrationSource returns the embedded migrations unless dir overrides them.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			printMigrationStatus(out, statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "tenant_default", "Target schema for migrations")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func printMigrationStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply the chart migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema, err := db.SchemaFor(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", schema)
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric and underscore)")

	cmd.AddCommand(createCmd)
	return cmd
}
