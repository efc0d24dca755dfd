package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"switchboard/internal/agentloop"
	"switchboard/internal/aggregator"
	"switchboard/internal/config"
	"switchboard/internal/history"
	"switchboard/internal/mcpserver"
	"switchboard/internal/router"
	"switchboard/internal/server"
	"switchboard/internal/transformer"
	"switchboard/internal/usage"
	"switchboard/pkg/logging"
)

// Version is stamped by the build; the default marks dev builds.
var Version = "dev"

// drainTimeout is how long in-flight streams may finish on shutdown
// and restart.
const drainTimeout = 10 * time.Second

// Config carries the command-line level settings for one run.
type Config struct {
	// ConfigPath is the YAML config file. Empty uses the default path.
	ConfigPath string
	// Host and Port override the config file when non-zero.
	Host string
	Port int
	// Debug lowers the log filter to debug.
	Debug bool
}

// Application is the assembled process.
type Application struct {
	cfg   *Config
	store *config.Store

	transformers *transformer.Registry
	usage        *usage.Cache
	history      *history.Log
	router       *router.Router
	loop         *agentloop.Loop
	manager      *mcpserver.Manager
	aggregator   *aggregator.Aggregator
	http         *server.Server

	restartMu sync.Mutex
}

// NewApplication loads configuration and wires every component. Nothing
// connects or listens yet; that happens in Run.
func NewApplication(appCfg *Config) (*Application, error) {
	level := logging.LevelInfo
	if appCfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stdout)

	path := appCfg.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if appCfg.Host != "" {
		cfg.Host = appCfg.Host
	}
	if appCfg.Port != 0 {
		cfg.Port = appCfg.Port
	}

	a := &Application{cfg: appCfg}
	a.store = config.NewStore(cfg, path)

	a.transformers = transformer.NewRegistry()
	transformer.RegisterBuiltins(a.transformers)

	a.usage = usage.NewCache(cfg.UsageCacheSize)
	a.history = history.NewLog(0, 0)

	a.router = router.New(a.store, a.transformers, a.usage)
	agents := agentloop.NewRegistry(cfg.Agents)
	a.loop = agentloop.New(agents, cfg.MaxToolRounds)
	a.router.SetInterceptor(a.loop)

	a.manager = mcpserver.NewManager()
	a.aggregator = aggregator.New(a.manager, cfg.SessionIdleDuration())

	a.http = server.New(server.Options{
		Store:        a.store,
		Dispatcher:   a.router,
		Transformers: a.transformers,
		Manager:      a.manager,
		Aggregator:   a.aggregator,
		Usage:        a.usage,
		History:      a.history,
		Restart:      a.restart,
		Version:      Version,
	})

	logging.Info("Bootstrap", "Assembled switchboard %s with %d providers, %d MCP servers, %d local tools",
		Version, len(cfg.Providers), len(cfg.MCPServers), agents.Len())
	return a, nil
}

// Run connects the upstreams and serves HTTP until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshot := a.store.Snapshot()
	if err := a.manager.Start(ctx, snapshot.MCPServers); err != nil {
		return fmt.Errorf("starting MCP manager: %w", err)
	}
	defer a.manager.Stop()

	a.aggregator.Start(ctx)
	defer a.aggregator.Stop()

	if err := config.Watch(ctx, a.store); err != nil {
		logging.Warn("Bootstrap", "Config file watch unavailable: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", snapshot.Host, snapshot.Port)
	return a.http.ListenAndServe(ctx, addr, drainTimeout)
}

// restart reconnects every upstream MCP client against the current
// configuration. The HTTP surface stays up; in-flight messages streams
// are untouched because they do not hold manager connections.
func (a *Application) restart(ctx context.Context) error {
	a.restartMu.Lock()
	defer a.restartMu.Unlock()

	logging.Info("Bootstrap", "Restarting upstream MCP clients")
	a.manager.Stop()

	// ctx bounds the reconnect attempts only; the manager detaches its
	// own lifetime from it.
	if err := a.manager.Start(ctx, a.store.Snapshot().MCPServers); err != nil {
		return fmt.Errorf("restarting MCP manager: %w", err)
	}
	logging.Info("Bootstrap", "Restart complete")
	return nil
}
