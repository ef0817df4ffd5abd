package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aaronromeo.com/mailsweep/handlers"
	"aaronromeo.com/mailsweep/internal/config"
	"aaronromeo.com/mailsweep/internal/sweeprunner"
	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/models/adapter"
	"aaronromeo.com/mailsweep/pkg/models/archive"
	"aaronromeo.com/mailsweep/pkg/models/auditlog"
	"aaronromeo.com/mailsweep/pkg/models/executor"
	"aaronromeo.com/mailsweep/pkg/models/scanner"
	"aaronromeo.com/mailsweep/pkg/utils"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const defaultEnvFile = ".env"

var tracer = otel.Tracer("mailsweep/cmd")

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if err := loadEnvFile(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(ctx)

	app := &cli.App{
		Name:  "mailsweep",
		Usage: "search and clean up messages across mailbox accounts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to YAML config file",
				EnvVars: []string{config.EnvConfigPath},
			},
		},
		Commands: []*cli.Command{
			searchCommand(logger),
			sweepCommand(logger),
			auditCommand(logger),
			watchCommand(logger),
			serveCommand(logger),
		},
	}

	return app.RunContext(ctx, args)
}

func loadEnvFile() error {
	if _, err := os.Stat(defaultEnvFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(defaultEnvFile)
}

func newLogger(ctx context.Context) *slog.Logger {
	if os.Getenv(utils.OTLPDSNEnvVar) == "" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	shutdown, err := utils.SetupOTelSDK(ctx)
	if err != nil {
		log.Printf("Telemetry setup failed, falling back to stdout logging: %v", err)
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	go func() {
		<-ctx.Done()
		if err := shutdown(context.Background()); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}()
	return slog.New(otelslog.NewHandler(utils.ServiceName))
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Config{}, fmt.Errorf("config path is required via --config or %s", config.EnvConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

type runtimeDeps struct {
	cfg      config.Config
	engine   *scanner.ScanEngine
	sink     *auditlog.FileLog
	archiver *auditlog.S3Archiver
}

func buildDeps(c *cli.Context, logger *slog.Logger, archiveMessages bool) (runtimeDeps, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return runtimeDeps{}, err
	}

	fileManager := &utils.OSFileManager{}
	sink, err := auditlog.NewFileLog(config.AuditPath(cfg), fileManager, logger)
	if err != nil {
		return runtimeDeps{}, err
	}

	exec, err := executor.NewExecutor(
		executor.WithAuditLog(sink),
		executor.WithLogger(logger),
	)
	if err != nil {
		return runtimeDeps{}, err
	}

	mailboxClient, err := adapter.NewImapAdapter(adapter.WithLogger(logger))
	if err != nil {
		return runtimeDeps{}, err
	}

	engineOpts := []scanner.ScanEngineOption{
		scanner.WithMailboxClient(mailboxClient),
		scanner.WithExecutor(exec),
		scanner.WithLogger(logger),
	}
	if cfg.Defaults.Concurrency > 0 {
		engineOpts = append(engineOpts, scanner.WithConcurrency(cfg.Defaults.Concurrency))
	}
	if archiveMessages && cfg.Audit.ArchiveDir != "" {
		messageArchiver, err := archive.NewArchiver(
			archive.WithFileManager(fileManager),
			archive.WithLogger(logger),
			archive.WithBaseFolder(cfg.Audit.ArchiveDir),
		)
		if err != nil {
			return runtimeDeps{}, err
		}
		engineOpts = append(engineOpts, scanner.WithArchiver(messageArchiver))
	}

	engine, err := scanner.NewScanEngine(engineOpts...)
	if err != nil {
		return runtimeDeps{}, err
	}

	deps := runtimeDeps{cfg: cfg, engine: engine, sink: sink}

	s3env, ok, err := config.S3FromEnv()
	if err != nil {
		return runtimeDeps{}, err
	}
	if ok {
		awsCfg := &aws.Config{
			Region:      aws.String(s3env.Region),
			Credentials: credentials.NewStaticCredentials(s3env.Key, s3env.Secret, ""),
		}
		if s3env.Endpoint != "" {
			awsCfg.Endpoint = aws.String(s3env.Endpoint)
			awsCfg.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return runtimeDeps{}, err
		}
		deps.archiver, err = auditlog.NewS3Archiver(
			auditlog.WithUploader(s3manager.NewUploader(sess)),
			auditlog.WithBucket(s3env.Bucket, "mailsweep"),
			auditlog.WithFileManager(fileManager),
			auditlog.WithArchiverLogger(logger),
		)
		if err != nil {
			return runtimeDeps{}, err
		}
	}

	return deps, nil
}

func criteriaFromFlags(c *cli.Context, cfg config.Config, requireAge bool) (base.MatchCriteria, error) {
	minAge, err := config.ParseRelativeDuration(c.String("min-age"))
	if err != nil {
		return base.MatchCriteria{}, fmt.Errorf("invalid --min-age: %w", err)
	}
	if minAge == 0 && requireAge {
		minAge, err = config.MinAge(cfg)
		if err != nil {
			return base.MatchCriteria{}, err
		}
	}

	criteria := base.MatchCriteria{
		Sender:      c.String("sender"),
		SenderExact: c.Bool("exact"),
		Subject:     c.String("subject"),
		MinAge:      minAge,
	}
	if criteria.Empty() {
		return base.MatchCriteria{}, fmt.Errorf("at least one of --sender, --subject or --min-age is required")
	}
	return criteria, nil
}

func searchCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search messages across all configured accounts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sender", Usage: "Sender substring (or exact address with --exact)"},
			&cli.BoolFlag{Name: "exact", Usage: "Match the sender exactly"},
			&cli.StringFlag{Name: "subject", Usage: "Subject substring"},
			&cli.StringFlag{Name: "min-age", Usage: "Only messages at least this old (e.g. 60m, 2d)"},
		},
		Action: func(c *cli.Context) error {
			ctx, span := tracer.Start(c.Context, "search")
			defer span.End()

			deps, err := buildDeps(c, logger, false)
			if err != nil {
				return err
			}

			criteria, err := criteriaFromFlags(c, deps.cfg, false)
			if err != nil {
				return err
			}

			result, err := deps.engine.Run(ctx, scanner.RunRequest{
				Accounts: deps.cfg.Accounts,
				Criteria: criteria,
				Mode:     base.ModeSearch,
			})
			if err != nil {
				return err
			}

			return printJSON(c, result)
		},
	}
}

func sweepCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete (or dry-run delete) matching messages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sender", Usage: "Sender substring (or exact address with --exact)"},
			&cli.BoolFlag{Name: "exact", Usage: "Match the sender exactly"},
			&cli.StringFlag{Name: "subject", Usage: "Subject substring"},
			&cli.StringFlag{Name: "min-age", Usage: "Only messages at least this old (defaults to config)"},
			&cli.BoolFlag{Name: "live", Usage: "Actually delete instead of dry-run"},
			&cli.StringFlag{Name: "confirm", Usage: "Confirmation code required for --live"},
			&cli.BoolFlag{Name: "archive", Usage: "Archive message bodies before deleting"},
		},
		Action: func(c *cli.Context) error {
			ctx, span := tracer.Start(c.Context, "sweep")
			defer span.End()

			deps, err := buildDeps(c, logger, c.Bool("archive"))
			if err != nil {
				return err
			}

			criteria, err := criteriaFromFlags(c, deps.cfg, true)
			if err != nil {
				return err
			}

			mode := resolveMode(c, deps.cfg, logger)
			result, err := deps.engine.Run(ctx, scanner.RunRequest{
				Accounts: deps.cfg.Accounts,
				Criteria: criteria,
				Mode:     mode,
			})
			if err != nil {
				return err
			}

			if deps.archiver != nil {
				if _, err := deps.archiver.Archive(ctx, deps.sink.Path()); err != nil {
					logger.Error("Audit archive failed", slog.Any("error", err))
				}
			}

			return printJSON(c, result)
		},
	}
}

// resolveMode defaults to dry-run; live mode needs both the flag and a
// matching confirmation code.
func resolveMode(c *cli.Context, cfg config.Config, logger *slog.Logger) base.Mode {
	if !c.Bool("live") {
		if config.DryRunDefault(cfg) {
			return base.ModeDryRun
		}
	}
	if !config.ConfirmCodeMatches(c.String("confirm")) {
		logger.Warn("Live mode requested without a valid confirmation code, downgrading to dry-run")
		return base.ModeDryRun
	}
	logger.Warn("DELETION MODE ENABLED - messages will be permanently deleted")
	return base.ModeLive
}

func auditCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect the deletion audit log",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Filter by account id"},
			&cli.StringFlag{Name: "run", Usage: "Filter by run id"},
			&cli.StringFlag{Name: "outcome", Usage: "Filter by outcome (deleted, skipped_dry_run, failed)"},
			&cli.TimestampFlag{Name: "since", Layout: time.RFC3339, Usage: "Only records at or after this time"},
		},
		Action: func(c *cli.Context) error {
			ctx, span := tracer.Start(c.Context, "audit")
			defer span.End()

			deps, err := buildDeps(c, logger, false)
			if err != nil {
				return err
			}

			filter := auditlog.Filter{
				AccountID: c.String("account"),
				RunID:     c.String("run"),
				Outcome:   base.Outcome(c.String("outcome")),
			}
			if since := c.Timestamp("since"); since != nil {
				filter.Since = *since
			}

			records, err := deps.sink.Query(ctx, filter)
			if err != nil {
				return err
			}

			return printJSON(c, records)
		},
	}
}

func watchCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Run scheduled cleanup passes until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sender", Usage: "Sender substring (or exact address with --exact)"},
			&cli.BoolFlag{Name: "exact", Usage: "Match the sender exactly"},
			&cli.StringFlag{Name: "subject", Usage: "Subject substring"},
			&cli.StringFlag{Name: "min-age", Usage: "Only messages at least this old (defaults to config)"},
			&cli.BoolFlag{Name: "live", Usage: "Actually delete instead of dry-run"},
			&cli.StringFlag{Name: "confirm", Usage: "Confirmation code required for --live"},
			&cli.BoolFlag{Name: "archive", Usage: "Archive message bodies before deleting"},
		},
		Action: func(c *cli.Context) error {
			deps, err := buildDeps(c, logger, c.Bool("archive"))
			if err != nil {
				return err
			}

			criteria, err := criteriaFromFlags(c, deps.cfg, true)
			if err != nil {
				return err
			}

			interval, err := config.Interval(deps.cfg)
			if err != nil {
				return err
			}

			runnerDeps := sweeprunner.Deps{
				Engine:   deps.engine,
				Accounts: deps.cfg.Accounts,
				Criteria: criteria,
				Mode:     resolveMode(c, deps.cfg, logger),
				Interval: interval,
				Log:      logger,
			}
			if deps.archiver != nil {
				sink := deps.sink
				archiver := deps.archiver
				runnerDeps.Archive = func(ctx context.Context) error {
					_, err := archiver.Archive(ctx, sink.Path())
					return err
				}
			}

			err = sweeprunner.Run(c.Context, runnerDeps)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func serveCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the search and audit HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8000", Usage: "Listen address"},
		},
		Action: func(c *cli.Context) error {
			deps, err := buildDeps(c, logger, false)
			if err != nil {
				return err
			}

			app := fiber.New()
			app.Use(func(fc *fiber.Ctx) error {
				fc.SetUserContext(c.Context)
				fc.Locals("engine", handlers.ScanRunner(deps.engine))
				fc.Locals("auditlog", auditlog.Sink(deps.sink))
				fc.Locals("accounts", deps.cfg.Accounts)
				return fc.Next()
			})

			app.Get("/api/health", handlers.Health)
			app.Get("/api/accounts", handlers.Accounts)
			app.Post("/api/search", handlers.Search)
			app.Get("/api/audit", handlers.AuditLog)

			go func() {
				<-c.Context.Done()
				if err := app.Shutdown(); err != nil {
					logger.Error("HTTP shutdown failed", slog.Any("error", err))
				}
			}()

			logger.Info("Serving HTTP API", slog.String("addr", c.String("addr")))
			return app.Listen(c.String("addr"))
		},
	}
}

func printJSON(c *cli.Context, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(encoded))
	return nil
}
