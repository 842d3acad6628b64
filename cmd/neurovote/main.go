package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/neurovote/internal/analysis"
	"github.com/basket/neurovote/internal/audit"
	"github.com/basket/neurovote/internal/channels"
	"github.com/basket/neurovote/internal/config"
	"github.com/basket/neurovote/internal/governance"
	"github.com/basket/neurovote/internal/orchestrator"
	otelPkg "github.com/basket/neurovote/internal/otel"
	"github.com/basket/neurovote/internal/persistence"
	"github.com/basket/neurovote/internal/scheduler"
	"github.com/basket/neurovote/internal/service"
	"github.com/basket/neurovote/internal/syncer"
	"github.com/basket/neurovote/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                         Run the voting agent daemon
  %s -sync-once              Run one proposal sync and exit
  %s -set log_level=debug    Write a config.yaml value and exit
  %s -version                Print the version and exit

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  NEUROVOTE_HOME           Data directory (default: ~/.neurovote)
  NEUROVOTE_GOVERNANCE_URL Governance gateway endpoint
  GEMINI_API_KEY           API key for the google provider
  ANTHROPIC_API_KEY        API key for the anthropic provider
  TELEGRAM_TOKEN           Token for the operator channel
`)
}

func main() {
	loadDotEnv(".env")

	syncOnce := flag.Bool("sync-once", false, "run a single proposal sync and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	setValue := flag.String("set", "", "write a config.yaml value as key=value and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("neurovote", Version)
		return
	}
	if *setValue != "" {
		key, value, ok := strings.Cut(*setValue, "=")
		if !ok || key == "" {
			fmt.Fprintln(os.Stderr, "usage: -set key=value")
			os.Exit(1)
		}
		if err := config.SetConfigValue(config.HomeDir(), key, value); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s set\n", key)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	pretty := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false, pretty)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version, "home", cfg.HomeDir)

	otelProvider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "neurovote.db"))
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	client := governance.NewHTTPClient(governance.Opts{
		Endpoint: cfg.Governance.Endpoint,
		Timeout:  time.Duration(cfg.Governance.TimeoutSeconds) * time.Second,
		Identity: loadIdentity(logger, cfg.Governance.IdentityPEM),
	})

	sync := syncer.New(store, client, logger, metrics)
	if *syncOnce {
		result := sync.SyncNewProposals(ctx)
		logger.Info("sync-once finished", "fetched", result.Fetched, "new", result.New)
		return
	}

	provider, model, apiKey := cfg.ResolveLLMConfig()
	brain := analysis.NewGenkitBrain(ctx, analysis.BrainConfig{
		Provider: provider,
		Model:    model,
		APIKey:   apiKey,
	})
	pipeline, err := analysis.NewPipeline(store, brain, logger, metrics, cfg.PROMPT)
	if err != nil {
		fatalStartup(logger, "E_PIPELINE_INIT", err)
	}

	notifier := &scheduler.SwitchNotifier{}
	sched := scheduler.New(store, logger, metrics, notifier)
	executor := scheduler.NewExecutor(store, client, logger, metrics, notifier)
	svc := service.New(store, client, pipeline, sched, sync, logger)

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		telegram := channels.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.AllowedIDs, svc, logger)
		notifier.Bind(telegram)
		go func() {
			if err := telegram.Start(ctx); err != nil {
				logger.Error("telegram channel stopped", "error", err)
			}
		}()
	}

	// PROMPT.md edits take effect without a restart.
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				reloaded, err := config.Load()
				if err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				pipeline.SetDefaultPrompt(reloaded.PROMPT)
				logger.Info("config reloaded")
			}
		}()
	}

	orch := orchestrator.New(orchestrator.Config{
		SyncInterval:    cfg.SyncInterval(),
		AnalyzeInterval: cfg.AnalyzeInterval(),
		ExecuteInterval: cfg.ExecuteInterval(),
	}, orchestrator.Jobs{
		Sync:    func(ctx context.Context) { sync.SyncNewProposals(ctx) },
		Analyze: svc.AnalyzeUnprocessed,
		Execute: executor.Sweep,
	}, logger)
	if err := orch.Start(ctx); err != nil {
		fatalStartup(logger, "E_ORCHESTRATOR_INIT", err)
	}
	logger.Info("startup phase", "phase", "running")

	<-ctx.Done()
	logger.Info("shutdown requested")
	orch.Stop()
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fail", "runtime.startup", reasonCode+": "+message, "")

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// loadIdentity reads the voting identity credential. The agent keeps running
// without one; votes stay pending until a credential is configured.
func loadIdentity(logger *slog.Logger, path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("voting identity unavailable", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

// loadDotEnv loads KEY=VALUE pairs from a local .env without overriding
// variables already in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
