package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/research-agent-backend/internal/agent"
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos"
	apphttp "github.com/yungbote/research-agent-backend/internal/http"
	httpH "github.com/yungbote/research-agent-backend/internal/http/handlers"
	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/platform/openai"
	"github.com/yungbote/research-agent-backend/internal/realtime"
	"github.com/yungbote/research-agent-backend/internal/realtime/bus"
	"github.com/yungbote/research-agent-backend/internal/services"
)

type Services struct {
	Chats   services.ChatService
	Chain   services.ChainStore
	History services.HistoryService
}

type App struct {
	Log       *logger.Logger
	Cfg       Config
	Store     docstore.Store
	Metrics   *observability.Metrics
	Publisher *realtime.Publisher
	Bus       bus.Bus
	Services  Services
	Runner    *agent.Runner
	Server    *apphttp.Server

	storage      *storage
	rdb          *goredis.Client
	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, cfg.Tracing)
	a.Metrics = observability.Init(log)

	if cfg.needsRedis() {
		if a.rdb, err = openRedis(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.storage, err = OpenStore(log, cfg, a.rdb); err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = a.storage.store

	a.Publisher = realtime.NewPublisher(log, a.Metrics)
	emitter := realtime.Emitter(a.Publisher)
	if cfg.EventBus == BusRedis {
		if a.Bus, err = bus.NewRedisBus(log, a.rdb, cfg.RedisChannel); err != nil {
			a.Close()
			return nil, fmt.Errorf("event bus: %w", err)
		}
		emitter = &bus.Emitter{Bus: a.Bus, Local: a.Publisher, Log: log, Metrics: a.Metrics}
	}

	a.Services = wireServices(log, cfg, a.Store, emitter, a.Metrics)

	llm, err := openai.NewClient(log, cfg.LLM, a.Metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm client: %w", err)
	}
	pipeline, err := agent.NewPipeline(log, a.Metrics, agent.ResearchSteps(log, llm, cfg.Agent)...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Runner = agent.NewRunner(log, a.Metrics, pipeline,
		a.Services.Chain, a.Services.History, a.Services.Chats,
		a.Publisher, emitter,
		agent.RunnerConfig{HistoryWindow: cfg.Agent.HistoryWindow, Retention: cfg.RunRetention},
	)

	a.Server = apphttp.NewServer(cfg.HTTPAddr, a.routerConfig())
	return a, nil
}

func wireServices(log *logger.Logger, cfg Config, store docstore.Store, emit realtime.Emitter, metrics *observability.Metrics) Services {
	log.Info("Wiring services...")
	chatRepo := repos.NewChatRepo(store, log)
	msgRepo := repos.NewMessageRepo(store, log)
	return Services{
		Chats: services.NewChatService(log, chatRepo),
		Chain: services.NewChainStore(log, chatRepo, msgRepo, services.NewChainNotifier(emit), metrics,
			services.ChainStoreConfig{MaxRetries: cfg.AppendMaxRetries}),
		History: services.NewHistoryService(log, chatRepo, msgRepo, metrics),
	}
}

func (a *App) routerConfig() apphttp.RouterConfig {
	a.Log.Info("Wiring handlers...")
	hb := a.Cfg.SSEHeartbeat
	rc := apphttp.RouterConfig{
		Log:         a.Log,
		Metrics:     a.Metrics,
		ServiceName: a.Cfg.ServiceName,
		CORSOrigins: a.Cfg.CORSOrigins,

		ChatHandler: httpH.NewChatHandler(httpH.ChatHandlerDeps{
			Log:       a.Log,
			Chats:     a.Services.Chats,
			History:   a.Services.History,
			Runner:    a.Runner,
			Heartbeat: hb,
		}),
		MessageHandler:  httpH.NewMessageHandler(a.Services.Chain),
		AgentHandler:    httpH.NewAgentHandler(a.Log, a.Runner, hb),
		RealtimeHandler: httpH.NewRealtimeHandler(a.Log, a.Publisher, a.Services.Chats, hb),
		HealthHandler:   httpH.NewHealthHandler(a.storage.ping),
	}
	if a.Metrics != nil {
		rc.MetricsHandler = a.Metrics.Handler()
	}
	return rc
}

// Run serves HTTP until ctx is cancelled or the server fails, then drains
// live runs and shuts the server down.
func (a *App) Run(ctx context.Context) error {
	// The bus forwarder outlives ctx. Runs cancelled during shutdown publish
	// their terminal event through the bus, and local streams only close once
	// it comes back.
	fwdCtx, stopForwarding := context.WithCancel(context.WithoutCancel(ctx))
	defer stopForwarding()
	if a.Bus != nil {
		if err := a.Bus.StartForwarder(fwdCtx, a.Publisher.Publish); err != nil {
			return fmt.Errorf("start event forwarder: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.storage != nil {
		a.Metrics.StartPostgresCollector(gctx, a.Log, a.storage.gdb)
	}
	a.Metrics.StartRedisCollector(gctx, a.Log, a.rdb)

	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Server.Addr())
		return a.Server.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopForwarding()
		return a.shutdown()
	})
	return g.Wait()
}

// shutdown cancels live runs, waits for their terminal events and then stops
// the HTTP server, whose open streams end with those events.
func (a *App) shutdown() error {
	a.Log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Runner.Shutdown(ctx); err != nil {
		a.Log.Warn("agent runs did not finish before shutdown", "error", err)
	}
	return a.Server.Shutdown(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("store close failed", "error", err)
		}
	}
	// The redis store owns the client it was given.
	if a.rdb != nil && a.Cfg.DocstoreDriver != DriverRedis {
		_ = a.rdb.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	a.Log.Sync()
}
