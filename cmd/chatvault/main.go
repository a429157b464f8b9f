package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basket/chatvault/internal/audit"
	"github.com/basket/chatvault/internal/bus"
	"github.com/basket/chatvault/internal/config"
	gatewaypkg "github.com/basket/chatvault/internal/gateway"
	"github.com/basket/chatvault/internal/ingest"
	"github.com/basket/chatvault/internal/maintenance"
	otelx "github.com/basket/chatvault/internal/otel"
	"github.com/basket/chatvault/internal/pathroot"
	"github.com/basket/chatvault/internal/telemetry"
	"github.com/basket/chatvault/internal/vault"
)

// Version and CommitSHA are set via ldflags at build time:
// -ldflags "-X main.Version=... -X main.CommitSHA=..."
var (
	Version   = "v0.3-dev"
	CommitSHA = ""
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE:
  %s -daemon                  Serve the local RPC surface for the host shell

SUBCOMMANDS:
  %s import --provider <tag> <file>
                              Ingest one export bundle (chatgpt|claude|gemini)
  %s search <query>           Full-text search over archived messages
  %s status                   Show vault status
  %s wipe --yes               Remove every artifact and all relational rows
  %s doctor [-json]           Run diagnostic checks

SMOKE DRIVER:
  %s --smoke --vault-dir <path> --import <file> --sentinel <string> \
     --provider <tag> --smoke-out <file>

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  CHATVAULT_HOME                   Data directory (default: ~/.chatvault)
  VAULT_ZIP_MAX_ENTRIES            Override archive entry-count limit
  VAULT_ZIP_MAX_SINGLE_FILE_BYTES  Override per-entry uncompressed limit
  VAULT_ZIP_MAX_TOTAL_BYTES        Override total uncompressed limit
`)
}

func main() {
	daemon := flag.Bool("daemon", false, "run the gateway daemon")
	smoke := flag.Bool("smoke", false, "run the headless smoke driver")
	smokeVaultDir := flag.String("vault-dir", "", "smoke: user-data directory override")
	smokeImport := flag.String("import", "", "smoke: export file to ingest")
	smokeSentinel := flag.String("sentinel", "", "smoke: canary string expected in search results")
	smokeProvider := flag.String("provider", "", "smoke: provider tag")
	smokeOut := flag.String("smoke-out", "", "smoke: report output file")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *smoke {
		os.Exit(runSmoke(ctx, smokeArgs{
			VaultDir: *smokeVaultDir,
			Import:   *smokeImport,
			Sentinel: *smokeSentinel,
			Provider: *smokeProvider,
			Out:      *smokeOut,
		}))
	}

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "import":
			os.Exit(runImportCommand(ctx, args[1:]))
		case "search":
			os.Exit(runSearchCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "wipe":
			os.Exit(runWipeCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	if !*daemon {
		printUsage()
		os.Exit(2)
	}
	os.Exit(runDaemon(ctx))
}

// env is everything a subcommand needs: config, logger, open store.
type env struct {
	cfg        config.Config
	logger     *slog.Logger
	logCloser  io.Closer
	store      *vault.Store
	bus        *bus.Bus
	otel       *otelx.Provider
	metrics    *otelx.Metrics
	controller *ingest.Controller
}

func (e *env) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = e.otel.Shutdown(shutdownCtx)
		cancel()
	}
	_ = audit.Close()
	if e.logCloser != nil {
		_ = e.logCloser.Close()
	}
}

// bootstrap wires the process: config, audit, logger, frozen paths, otel,
// store, controller. homeDir overrides the resolved home (smoke runs).
func bootstrap(ctx context.Context, homeDir string, quietLogs bool) (*env, error) {
	if homeDir == "" {
		homeDir = config.HomeDir()
	}
	cfg, err := config.LoadFrom(homeDir)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, fmt.Errorf("audit init: %w", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	slog.SetDefault(logger)

	paths, err := pathroot.Init(cfg.HomeDir)
	if err != nil {
		return nil, err
	}

	provider, err := otelx.Init(ctx, otelx.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("otel init: %w", err)
	}
	metrics, err := otelx.NewMetrics(provider.Meter)
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	eventBus := bus.New()
	store, err := vault.Open(ctx, paths, eventBus, logger)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:       cfg,
		logger:    logger,
		logCloser: closer,
		store:     store,
		bus:       eventBus,
		otel:      provider,
		metrics:   metrics,
	}
	e.controller = ingest.New(store, e.currentZipLimits, logger, provider.Tracer, metrics)
	return e, nil
}

// currentZipLimits re-reads the config so a daemon reload takes effect on
// the next import.
func (e *env) currentZipLimits() config.ZipLimits {
	cfg, err := config.LoadFrom(e.cfg.HomeDir)
	if err != nil {
		return e.cfg.Zip
	}
	return cfg.Zip
}

func runDaemon(ctx context.Context) int {
	e, err := bootstrap(ctx, "", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return 1
	}
	defer e.Close()
	e.logger.Info("startup phase", "phase", "store_open", "version", Version)

	watcher := config.NewWatcher(e.cfg.HomeDir, e.logger)
	if err := watcher.Start(ctx); err != nil {
		e.logger.Warn("config watcher unavailable", "error", err)
	}

	sweeper, err := maintenance.NewSweeper(maintenance.Config{
		Store:        e.store,
		Logger:       e.logger,
		Schedule:     e.cfg.Maintenance.SweepSchedule,
		OrphanMaxAge: time.Duration(e.cfg.Maintenance.OrphanRunMaxAgeMinutes) * time.Minute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "maintenance schedule: %v\n", err)
		return 1
	}
	if sweeper != nil {
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	server := gatewaypkg.New(gatewaypkg.Config{
		Store:      e.store,
		Controller: e.controller,
		Bus:        e.bus,
		Logger:     e.logger,
		Tracer:     e.otel.Tracer,
		Metrics:    e.metrics,
		AppVersion: Version,
		IsPackaged: CommitSHA != "",
	})
	if err := server.ListenAndServe(ctx, e.cfg.BindAddr); err != nil {
		e.logger.Error("gateway", "error", err)
		return 1
	}
	return 0
}
