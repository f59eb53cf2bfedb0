package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relay/internal/config"
	"relay/internal/dispatch"
	"relay/internal/execlog"
	"relay/internal/fetch"
	"relay/internal/llm"
	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/pipeline"
	"relay/internal/scheduler"
	"relay/internal/server"
	"relay/internal/transform"
	"relay/internal/trigger"
	"relay/internal/vision"
	"relay/internal/workflow"
	"relay/internal/workflow/postgresstore"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Configure(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	log := logging.NewComponentLogger("serve")
	log.Info("relay %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	// Workflow stores: local files always, Postgres mirror when configured.
	local, err := workflow.NewLocalStore(cfg.Workflows.Dir, logging.NewComponentLogger("workflow"))
	if err != nil {
		return fmt.Errorf("open workflow store: %w", err)
	}
	var remote workflow.RemoteStore
	if cfg.Workflows.PostgresDSN != "" {
		pg, err := postgresstore.Connect(ctx, cfg.Workflows.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect workflow database: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare workflow schema: %w", err)
		}
		remote = pg
	}
	store := workflow.NewStore(local, remote, logging.NewComponentLogger("workflow"))

	// Execution log sinks.
	var sinks []execlog.Sink
	if cfg.ExecLog.Path != "" {
		sinks = append(sinks, execlog.NewFileSink(cfg.ExecLog.Path))
	}
	if cfg.ExecLog.PostgresDSN != "" {
		pg, err := postgresstore.Connect(ctx, cfg.ExecLog.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect execlog database: %w", err)
		}
		defer pg.Close()
		sink := execlog.NewPostgresSink(pg.Pool())
		if err := sink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare execlog schema: %w", err)
		}
		sinks = append(sinks, sink)
	}
	recorder := execlog.NewRecorder(logging.NewComponentLogger("execlog"), sinks...)

	// Inference engine shared by transform and photo decisions.
	engine := llm.NewOllamaEngine(llm.OllamaConfig{
		BaseURL:         cfg.LLM.BaseURL,
		TextModel:       cfg.LLM.TextModel,
		MultimodalModel: cfg.LLM.MultimodalModel,
		Timeout:         cfg.LLM.Timeout(),
	})
	generator := llm.NewSessionManager(engine, metrics, logging.NewComponentLogger("llm"))
	defer generator.Close()

	// Delivery clients.
	var mail fetch.MailClient
	if cfg.Gmail.Token != "" {
		mail = fetch.NewGmailClient(cfg.Gmail.BaseURL, fetch.StaticToken(cfg.Gmail.Token), logging.NewComponentLogger("gmail"))
	}
	var telegram dispatch.TelegramClient
	if cfg.Telegram.BotToken != "" {
		telegram = dispatch.NewBotClient(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, logging.NewComponentLogger("telegram"))
	}

	runner := pipeline.NewRunner(
		store,
		fetch.NewFetcher(mail, logging.NewComponentLogger("fetch")),
		transform.NewTransformer(generator, logging.NewComponentLogger("transform")),
		dispatch.NewDispatcher(mail, telegram, metrics, logging.NewComponentLogger("dispatch")),
		recorder,
		metrics,
		logging.NewComponentLogger("pipeline"),
	)
	photoRunner := pipeline.NewPhotoRunner(
		runner,
		vision.NewPersonMatcher(vision.NewUnavailableFaceClient(), logging.NewComponentLogger("vision")),
		vision.NewDecisionMaker(generator, cfg.Triggers.DecisionTimeout, logging.NewComponentLogger("vision")),
	)

	// Triggers.
	notifications := trigger.NewNotificationTrigger(
		trigger.NewDebouncer(cfg.Triggers.DebounceWindow()),
		cfg.Triggers.PackageSources,
		runner,
		metrics,
		logging.NewComponentLogger("trigger"),
	)
	geofences := trigger.NewGeofenceTrigger(store, trigger.NewMemoryRegistrar(), runner, metrics, logging.NewComponentLogger("trigger"))
	geofences.ReregisterAll(ctx)

	var photos *trigger.PhotoWatcher
	if cfg.Triggers.PhotoDir != "" {
		photos, err = trigger.NewPhotoWatcher(cfg.Triggers.PhotoDir, photoRunner, nil, logging.NewComponentLogger("trigger"))
		if err != nil {
			return fmt.Errorf("open photo watcher: %w", err)
		}
		if err := photos.Start(ctx); err != nil {
			return fmt.Errorf("start photo watcher: %w", err)
		}
		defer photos.Close()
	}

	// Recovery jobs.
	sched := scheduler.New(scheduler.Config{
		Enabled:       cfg.Scheduler.Enabled,
		GeofenceCron:  cfg.Scheduler.GeofenceCron,
		PhotoCron:     cfg.Scheduler.PhotoCron,
		FixedLatitude: cfg.Scheduler.FixedLatitude,
		FixedLongitud: cfg.Scheduler.FixedLongitud,
	}, geofences, photos, logging.NewComponentLogger("scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := server.NewServer(server.Config{Addr: cfg.Server.Addr}, notifications, geofences, photos, store, metrics, logging.NewComponentLogger("server"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Println(green("relay listening on " + cfg.Server.Addr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown: %v", err)
	}
	log.Info("relay stopped")
	return nil
}
