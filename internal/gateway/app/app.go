package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"respec/internal/dataset"
	"respec/internal/extract"
	"respec/internal/gateway/config"
	"respec/internal/gateway/handler/rpc"
	"respec/internal/gateway/server"
	"respec/internal/gateway/service/session"
	llmclient "respec/internal/llmClient"
	"respec/internal/specgraph"
)

type App struct {
	cfg         *config.Config
	graph       *specgraph.Handle
	source      *dataset.CachedSource
	loader      *dataset.Loader
	sessions    *session.Service
	server      *server.Server
	closeSource func() error
}

// New wires the dataset, the session service and the HTTP surface, and
// performs the initial dataset load. reg receives the session metrics and
// backs /metrics.
func New(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	// Dependencies
	source, closeSource, err := openDatasetSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:         cfg,
		graph:       specgraph.NewHandle(),
		source:      source,
		loader:      dataset.NewLoader(source, dataset.WithParallel(cfg.Dataset.Parallel)),
		closeSource: closeSource,
	}
	if err := a.Reload(ctx); err != nil {
		_ = closeSource()
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	extractor, err := newExtractor(ctx, cfg.Extractor, a.graph)
	if err != nil {
		_ = closeSource()
		return nil, err
	}
	a.sessions = session.New(a.graph,
		session.WithExtractor(extractor),
		session.WithRegisterer(reg),
	)

	// Routing & Server
	mux := server.NewMux(rpc.NewSessionHandler(a.sessions), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.AllowedOrigins)
	a.server = server.New(cfg.Port, mux)
	return a, nil
}

func newExtractor(ctx context.Context, cfg config.ExtractorConfig, g specgraph.Graph) (extract.Extractor, error) {
	if cfg.Kind != config.ExtractorGemini {
		log.Printf("extractor: static")
		return extract.NewStatic(g), nil
	}
	cli, err := llmclient.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize extractor: %w", err)
	}
	log.Printf("extractor: %s retries=%d", cli.Name(), cfg.Retries)
	return extract.NewGemini(llmclient.WithRetry(cli, cfg.Retries, cfg.RetryBackoff), g), nil
}

// Reload drops cached documents and republishes the dataset. Live sessions
// see the new index on their next operation; a failed reload keeps the old
// one.
func (a *App) Reload(ctx context.Context) error {
	a.source.Invalidate()
	idx, err := a.loader.Load(ctx, a.cfg.Dataset.Documents...)
	if err != nil {
		return err
	}
	a.graph.Publish(idx)
	return nil
}

func (a *App) Sessions() *session.Service {
	return a.sessions
}

func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.closeSource(); err == nil {
		err = cerr
	}
	return err
}
