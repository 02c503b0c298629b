package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caresync/caresync/internal/config"
	"github.com/caresync/caresync/internal/domain/audit"
	"github.com/caresync/caresync/internal/domain/feedback"
	"github.com/caresync/caresync/internal/domain/mapping"
	"github.com/caresync/caresync/internal/domain/review"
	"github.com/caresync/caresync/internal/domain/safeguard"
	"github.com/caresync/caresync/internal/platform/auth"
	"github.com/caresync/caresync/internal/platform/db"
	"github.com/caresync/caresync/internal/platform/embedding"
	"github.com/caresync/caresync/internal/platform/middleware"
	"github.com/caresync/caresync/internal/platform/vectorstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "caresync-server",
		Short: "NAMASTE to ICD-11 term resolution service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(mappingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the resolution API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// mappingCmd is the only path that writes the curated mapping table. It
// runs out-of-band by an operator; the HTTP surface has no equivalent.
func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage curated mapping versions",
	}

	withApplier := func(fn func(ctx context.Context, applier *mapping.Applier, repo *mapping.RepoPG, fb *feedback.Service) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := mapping.NewRepoPG(pool)
			auditSvc := audit.NewService(audit.NewRepoPG(pool), logger)
			fbSvc := feedback.NewService(feedback.NewRepoPG(pool), logger)
			runTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
				return db.WithTx(ctx, pool, fn)
			}
			applier := mapping.NewApplier(repo, runTx, auditSvc, logger)
			return fn(ctx, applier, repo, fbSvc)
		}
	}

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a new mapping version from a CSV file or approved proposals",
	}
	var csvPath, note, actor string
	var fromProposals bool
	applyCmd.Flags().StringVar(&csvPath, "csv", "", "CSV file with term,icd_code,icd_title,system columns")
	applyCmd.Flags().BoolVar(&fromProposals, "proposals", false, "Extend the current version with approved proposals")
	applyCmd.Flags().StringVar(&note, "note", "", "Source note recorded on the version")
	applyCmd.Flags().StringVar(&actor, "by", "", "Operator applying the version")
	applyCmd.RunE = withApplier(func(ctx context.Context, applier *mapping.Applier, repo *mapping.RepoPG, fb *feedback.Service) error {
		if actor == "" {
			return fmt.Errorf("--by is required")
		}
		if csvPath == "" && !fromProposals {
			return fmt.Errorf("one of --csv or --proposals is required")
		}

		var rows []mapping.EntryInput
		if csvPath != "" {
			var err error
			rows, err = mapping.ReadCSV(csvPath)
			if err != nil {
				return err
			}
		}
		if fromProposals {
			proposals, err := fb.ListProposals(ctx, feedback.StatusApproved)
			if err != nil {
				return err
			}
			if len(proposals) == 0 && csvPath == "" {
				return fmt.Errorf("no approved proposals to apply")
			}
			for _, p := range proposals {
				rows = append(rows, mapping.EntryInput{
					Term:     p.Term,
					ICDCode:  p.ICDCode,
					ICDTitle: p.ICDTitle,
					System:   "proposal",
				})
			}
		}

		version, err := applier.Apply(ctx, actor, note, rows, fromProposals)
		if err != nil {
			return err
		}
		fmt.Printf("Applied mapping version %d with %d entries.\n", version.Number, version.EntryCount)
		fmt.Println("Restart or signal running servers to pick up the new snapshot.")
		return nil
	})
	cmd.AddCommand(applyCmd)

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Point the current mapping at an earlier version",
	}
	var toVersion int
	var rollbackActor string
	rollbackCmd.Flags().IntVar(&toVersion, "to", 0, "Version number to roll back to")
	rollbackCmd.Flags().StringVar(&rollbackActor, "by", "", "Operator performing the rollback")
	rollbackCmd.RunE = withApplier(func(ctx context.Context, applier *mapping.Applier, repo *mapping.RepoPG, fb *feedback.Service) error {
		if rollbackActor == "" {
			return fmt.Errorf("--by is required")
		}
		if toVersion <= 0 {
			return fmt.Errorf("--to is required")
		}
		version, err := applier.Rollback(ctx, rollbackActor, toVersion)
		if err != nil {
			return err
		}
		fmt.Printf("Mapping rolled back to version %d (%d entries).\n", version.Number, version.EntryCount)
		return nil
	})
	cmd.AddCommand(rollbackCmd)

	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "List applied mapping versions",
	}
	versionsCmd.RunE = withApplier(func(ctx context.Context, applier *mapping.Applier, repo *mapping.RepoPG, fb *feedback.Service) error {
		versions, err := repo.ListVersions(ctx)
		if err != nil {
			return err
		}
		current, err := repo.CurrentVersion(ctx)
		if err != nil && !errors.Is(err, mapping.ErrVersionNotFound) {
			return err
		}

		fmt.Printf("%-8s %-8s %-20s %-10s %s\n", "VERSION", "ENTRIES", "APPLIED BY", "CURRENT", "CREATED AT")
		for _, v := range versions {
			marker := ""
			if v.ID == current.ID {
				marker = "*"
			}
			fmt.Printf("%-8d %-8d %-20s %-10s %s\n", v.Number, v.EntryCount, v.AppliedBy, marker, v.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	})
	cmd.AddCommand(versionsCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Pipeline state and audit
	state := safeguard.NewState()
	auditSvc := audit.NewService(audit.NewRepoPG(pool), logger)
	protected := append([]string{}, cfg.ProtectedResources...)
	if cfg.RulesPath != "" {
		protected = append(protected, cfg.RulesPath)
	}
	if cfg.RerankerWeightsPath != "" {
		protected = append(protected, cfg.RerankerWeightsPath)
	}
	guard := safeguard.NewGuard(state, auditSvc, protected, int64(cfg.PauseThreshold), cfg.PauseWindow, logger)
	go func() {
		for status := range guard.PauseEvents() {
			logger.Error().
				Int64("blocked_writes", status.BlockedWrites).
				Msg("pipeline auto-paused; resume requires an operator")
		}
	}()

	// Mapping snapshot
	mappingRepo := mapping.NewRepoPG(pool)
	snapshots := mapping.NewSnapshotStore(nil)

	// Keyword rules
	rules, err := mapping.LoadRules(cfg.RulesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("failed to load rules")
	}
	logger.Info().Int("rules", rules.Len()).Msg("keyword rules loaded")

	// Reranker model
	model := mapping.DefaultModel()
	if cfg.RerankerWeightsPath != "" {
		model, err = mapping.LoadModel(cfg.RerankerWeightsPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RerankerWeightsPath).Msg("failed to load reranker model")
		}
	}
	models := mapping.NewModelStore(model)
	logger.Info().Str("model", models.Current().Version).Msg("reranker model loaded")

	// Semantic stack
	embedClient := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingModelVer)
	store, err := vectorstore.New(cfg.WeaviateURL, cfg.WeaviateClass)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vector store client")
	}

	// Feedback and review
	feedbackSvc := feedback.NewService(feedback.NewRepoPG(pool), logger)
	reviewSvc := review.NewService(review.NewRepoPG(pool), feedbackSvc, cfg.ReviewThreshold, logger)

	// Resolution pipeline
	semantic := mapping.NewSemanticResolver(embedClient, store, cfg.EmbeddingModelVer, cfg.SemanticTopK)
	reranker := mapping.NewReranker(models, feedbackSvc, cfg.RerankTopN)
	mappingSvc := mapping.NewService(mapping.ServiceParams{
		Exact:            mapping.NewExactResolver(snapshots),
		Rule:             mapping.NewRuleResolver(rules),
		Semantic:         semantic,
		Reranker:         reranker,
		State:            state,
		Audit:            auditSvc,
		Review:           reviewSvc,
		Reader:           mappingRepo,
		Snapshots:        snapshots,
		Log:              logger,
		ReviewThreshold:  cfg.ReviewThreshold,
		RuleShortCircuit: cfg.RuleShortCircuit,
		SemanticTimeout:  cfg.SemanticTimeout,
	})

	// Initial snapshot. Missing is fine on a fresh database; every lookup
	// just misses until a version is applied.
	if _, err := mappingSvc.RefreshSnapshot(ctx); err != nil {
		if errors.Is(err, mapping.ErrVersionNotFound) {
			logger.Warn().Msg("no mapping version applied yet, serving an empty snapshot")
		} else {
			logger.Fatal().Err(err).Msg("failed to load mapping snapshot")
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(cfg.AuthSecret))
	}

	// Health check
	e.GET("/healthz", healthHandler(pool, embedClient, store, snapshots))

	// API routes
	apiV1 := e.Group("/api/v1")
	mapping.NewHandler(mappingSvc).Register(apiV1)
	audit.NewHandler(auditSvc).Register(apiV1)
	safeguard.NewHandler(state, auditSvc).Register(apiV1)
	review.NewHandler(reviewSvc).Register(apiV1)
	feedback.NewHandler(feedbackSvc).Register(apiV1)

	// The mapping table has no write routes. Any client trying anyway is
	// funneled through the guard so the attempt is audited and counted.
	rejectWrite := func(c echo.Context) error {
		actor := auth.ActorFromContext(c.Request().Context())
		resource := c.Request().URL.Path
		if err := guard.CheckWrite(c.Request().Context(), actor, resource); err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "the mapping table is immutable; propose a change and apply it out-of-band")
		}
		return echo.NewHTTPError(http.StatusMethodNotAllowed, "write not supported")
	}
	for _, path := range []string{"/mapping_entries", "/mapping_entries/:id", "/mapping_current", "/mapping/versions", "/mapping/versions/:id"} {
		apiV1.POST(path, rejectWrite)
		apiV1.PUT(path, rejectWrite)
		apiV1.PATCH(path, rejectWrite)
		apiV1.DELETE(path, rejectWrite)
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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

// healthHandler reports the state of every dependency the pipeline needs.
// Semantic dependencies being down is reported but not fatal: the service
// still serves degraded results.
func healthHandler(pool interface{ Ping(context.Context) error }, embedClient *embedding.Client, store *vectorstore.Store, snapshots *mapping.SnapshotStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{
			"database":  "ok",
			"embedding": "ok",
			"vector":    "ok",
		}
		healthy := true

		if err := pool.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
		if _, err := embedClient.Model(ctx); err != nil {
			checks["embedding"] = "unavailable"
		}
		if err := store.Ready(ctx); err != nil {
			checks["vector"] = "unavailable"
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]interface{}{
			"status":          checks,
			"mapping_version": snapshots.Current().Version().Number,
			"mapping_terms":   snapshots.Current().Len(),
		})
	}
}
