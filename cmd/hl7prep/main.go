package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CDCgov/NEDSS-Infrastructure/internal/config"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/ingest"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/blobstore"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/db"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/errorlog"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/notification"
	"github.com/CDCgov/NEDSS-Infrastructure/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hl7prep",
		Short:        "HL7 preprocessing functions for the SFTP inbox",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(lambdaCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func lambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Start the Lambda runtime for FUNCTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			ctx := context.Background()

			awsCfg, err := loadAWSConfig(ctx, cfg)
			if err != nil {
				return err
			}

			ledger, closeLedger, err := openLedger(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeLedger()

			metrics := newMetrics(cfg)
			proc, err := ingest.NewProcessor(cfg.Function, cfg, metrics, logger)
			if err != nil {
				return err
			}

			store := blobstore.NewRetrying(blobstore.NewS3StoreFromConfig(awsCfg), cfg.S3MaxAttempt, cfg.S3RetryDelay, logger)
			notifier := notification.NewNotifier(notification.NewSNSPublisherFromConfig(awsCfg), nil, topics(cfg), logger)
			runner := ingest.NewRunner(proc, store, ledger, notifier, metrics, logger)

			var sink telemetry.Sink
			if metrics.Enabled() {
				sink = telemetry.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg), cfg.MetricsNamespace)
			}
			handler := ingest.NewLambdaHandler(runner, metrics, sink, logger)

			logger.Info().Str("function", cfg.Function).Msg("starting lambda runtime")
			lambda.Start(handler.Handle)
			return nil
		},
	}
}

// kindFunctions maps the convert argument to a function name.
var kindFunctions = map[string]string{
	"csv": config.FunctionSplitCSV,
	"dat": config.FunctionSplitDAT,
	"obr": config.FunctionSplitOBR,
	"ext": config.FunctionAddExt,
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <csv|dat|obr|ext> FILE",
		Short: "Run one transform on a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			user, _ := cmd.Flags().GetString("user")

			function, ok := kindFunctions[args[0]]
			if !ok {
				return fmt.Errorf("unknown transform %q, want csv, dat, obr or ext", args[0])
			}

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			res, err := convertFile(cmd.Context(), cfg, function, args[1], out, user, logger)
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().String("out", "./out", "Directory the artifacts are written to")
	cmd.Flags().String("user", "local", "User directory used to name the artifacts")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the transform HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			ctx := context.Background()
			var pool *pgxpool.Pool
			var ledger errorlog.Store = errorlog.NewMemoryStore()
			if cfg.DatabaseURL != "" {
				pool, err = db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
				if err != nil {
					logger.Fatal().Err(err).Msg("failed to connect to database")
				}
				defer pool.Close()
				ledger = errorlog.NewPGStore(pool)
				logger.Info().Msg("connected to database")
			}

			e := newServer(cfg, pool, ledger, newMetrics(cfg), logger)

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
		},
	}
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Publish the error summary of the last 24 hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for the summary")
			}
			ledger, closeLedger, err := openLedger(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeLedger()

			report, sites, err := errorlog.Report(ctx, ledger, time.Now())
			if err != nil {
				return fmt.Errorf("build summary: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), report)

			if dryRun {
				logger.Info().Int("sites", len(sites)).Bool("dry_run", dryRun).Msg("summary not published")
				return nil
			}
			awsCfg, err := loadAWSConfig(ctx, cfg)
			if err != nil {
				return err
			}
			notifier := notification.NewNotifier(notification.NewSNSPublisherFromConfig(awsCfg), nil, topics(cfg), logger)
			if n := notifier.DailySummary(ctx, report); n != nil && n.Status != "sent" {
				return fmt.Errorf("publish summary: %s", n.Error)
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Print the summary without publishing it")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run error ledger migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			migrator, closePool, err := openMigrator(schema)
			if err != nil {
				return err
			}
			defer closePool()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(context.Background())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			migrator, closePool, err := openMigrator(schema)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(schema string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(context.Background(), db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, errorlog.Migrations(), schema), pool.Close, nil
}

// convertFile runs function over a local file and writes the artifacts
// under out with the names the Lambda would give them. The input is read
// in place, never copied into out.
func convertFile(ctx context.Context, cfg *config.Config, function, path, out, user string, logger zerolog.Logger) (*ingest.Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	key := localKey(user, filepath.Base(path))
	metrics := newMetrics(cfg)
	proc, err := ingest.NewProcessor(function, cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	store := &inputOverlay{Store: blobstore.NewDir(out), key: key, content: content}
	runner := ingest.NewRunner(proc, store, errorlog.NewMemoryStore(), nil, metrics, logger)
	return runner.Run(ctx, "", key)
}

// localKey places a file where every function accepts it.
func localKey(user, file string) string {
	return "local/" + user + "/" + ingest.DirIncoming + "/" + file
}

// inputOverlay serves one in-memory object and delegates everything else.
type inputOverlay struct {
	blobstore.Store
	key     string
	content []byte
}

func (o *inputOverlay) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if key == o.key {
		return o.content, nil
	}
	return o.Store.Get(ctx, bucket, key)
}
