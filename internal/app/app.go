// Package app wires every memory-engine subsystem into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the background maintenance loops, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithLLM,
// WithGraphStore, etc.). When an option is not provided, New creates a real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/memorybear/engine/internal/activation"
	"github.com/memorybear/engine/internal/api"
	"github.com/memorybear/engine/internal/capability/chunker"
	"github.com/memorybear/engine/internal/capability/embedder"
	embedderollama "github.com/memorybear/engine/internal/capability/embedder/ollama"
	embedderopenai "github.com/memorybear/engine/internal/capability/embedder/openai"
	"github.com/memorybear/engine/internal/capability/kvcache"
	kvcachepostgres "github.com/memorybear/engine/internal/capability/kvcache/postgres"
	"github.com/memorybear/engine/internal/capability/llm"
	"github.com/memorybear/engine/internal/capability/llm/anyllm"
	"github.com/memorybear/engine/internal/capability/reranker"
	"github.com/memorybear/engine/internal/config"
	"github.com/memorybear/engine/internal/dedup"
	"github.com/memorybear/engine/internal/extract"
	"github.com/memorybear/engine/internal/forgetting"
	"github.com/memorybear/engine/internal/health"
	"github.com/memorybear/engine/internal/mcp"
	"github.com/memorybear/engine/internal/mcp/mcphost"
	"github.com/memorybear/engine/internal/mcp/tools/memorytool"
	"github.com/memorybear/engine/internal/observe"
	"github.com/memorybear/engine/internal/ontology"
	"github.com/memorybear/engine/internal/perceptual"
	"github.com/memorybear/engine/internal/preprocess"
	"github.com/memorybear/engine/internal/readgraph"
	"github.com/memorybear/engine/internal/reflection"
	"github.com/memorybear/engine/internal/resilience"
	"github.com/memorybear/engine/internal/retrieval"
	"github.com/memorybear/engine/internal/sessionstore"
	"github.com/memorybear/engine/internal/summarize"
	"github.com/memorybear/engine/internal/views"
	"github.com/memorybear/engine/internal/writecoord"
	"github.com/memorybear/engine/pkg/graph"
	graphpostgres "github.com/memorybear/engine/pkg/graph/postgres"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

// App owns all subsystem lifetimes and orchestrates the memory engine.
type App struct {
	cfg *config.Config

	// Capability ports (C1) — concrete instances selected by cfg.Providers.
	llm      llm.LLM
	embedder embedder.Embedder
	reranker reranker.Reranker

	// Storage.
	store graph.Store
	cache kvcache.KVCache

	// rawStore is the concrete store New connected, before it was wrapped in
	// a resilience.GraphStoreFallback, so initCache can still reach its
	// connection pool. Unset when a graph.Store was injected via
	// WithGraphStore.
	rawStore *graphpostgres.Store

	ontology *ontology.Registry
	mcpHost  mcp.Host

	// Pipeline stages (C3-C15).
	pipeline     *preprocess.Pipeline
	extractor    *extract.Extractor
	resolver     *dedup.Resolver
	summariser   summarize.Summariser
	coordinator  *writecoord.Coordinator
	merger       *forgetting.LLMMerger
	scheduler    *forgetting.Scheduler
	retriever    retrieval.Retriever
	sessions     *sessionstore.KVStore
	runtime      *readgraph.Runtime
	salience     *perceptual.Views
	projections  *views.Views
	reflectionJob *reflection.Job

	// metrics and httpServer back the JSON/health/metrics surface (internal/api).
	metrics    *observe.Metrics
	httpServer *http.Server

	// configPath is the file New's caller loaded cfg from, if any. A blank
	// path (e.g. in tests constructing cfg in-process) disables the
	// hot-reload watcher entirely.
	configPath         string
	configWatcher      *config.Watcher
	configWatchInterval time.Duration

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLLM injects an LLM model instead of creating one from config.
func WithLLM(m llm.LLM) Option {
	return func(a *App) { a.llm = m }
}

// WithEmbedder injects an embedder instead of creating one from config.
func WithEmbedder(e embedder.Embedder) Option {
	return func(a *App) { a.embedder = e }
}

// WithReranker injects a reranker instead of creating one from config.
func WithReranker(r reranker.Reranker) Option {
	return func(a *App) { a.reranker = r }
}

// WithGraphStore injects a graph store instead of connecting to PostgreSQL.
func WithGraphStore(s graph.Store) Option {
	return func(a *App) { a.store = s }
}

// WithKVCache injects a KV cache instead of creating one from config.
func WithKVCache(c kvcache.KVCache) Option {
	return func(a *App) { a.cache = c }
}

// WithOntology injects an ontology registry instead of loading one from
// Server.OntologyPath.
func WithOntology(r *ontology.Registry) Option {
	return func(a *App) { a.ontology = r }
}

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithConfigPath records the file cfg was loaded from, enabling the
// background config watcher that hot-reloads non-structural fields (see
// initConfigWatcher). Without it New never starts the watcher — the path
// is not recoverable from cfg itself.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithConfigWatchInterval overrides the config watcher's polling interval
// (default 5s, per [config.NewWatcher]). Tests use a short interval so a
// hot-reload can be asserted on without a multi-second sleep.
func WithConfigWatchInterval(d time.Duration) Option {
	return func(a *App) { a.configWatchInterval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: capability provider
// construction, graph store connection, ontology loading, pipeline stage
// construction, and MCP server registration + calibration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	if err := a.initOntology(); err != nil {
		return nil, fmt.Errorf("app: init ontology: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	a.initPipeline()
	a.initCoordinator()
	a.initForgetting()
	a.initRetrieval()
	a.initReadGraph()
	a.initViews()

	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}
	if err := a.initObservability(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}
	a.initHTTPServer()
	a.initConfigWatcher()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProviders constructs the LLM, embedder and reranker capability ports
// named by cfg.Providers, unless they were injected via Option. Ports built
// from config are wrapped in a resilience.*Fallback so a failing provider
// fails fast (circuit breaker) and, if cfg.Providers.<Port>.Fallbacks names
// alternates, transparently fails over to the next one. Ports injected via
// Option (test doubles) are left unwrapped.
func (a *App) initProviders() error {
	reg := config.NewRegistry()
	registerProviderFactories(reg)

	cbCfg := circuitBreakerConfigFromCfg(a.cfg.Providers.CircuitBreaker)

	if a.llm == nil {
		entry := a.cfg.Providers.LLM
		m, err := reg.CreateLLM(entry)
		if err != nil {
			return fmt.Errorf("llm provider %q: %w", entry.Name, err)
		}
		fb := resilience.NewLLMFallback(m, entry.Name, resilience.FallbackConfig{CircuitBreaker: cbCfg})
		for _, alt := range entry.Fallbacks {
			backend, err := reg.CreateLLM(alt)
			if err != nil {
				return fmt.Errorf("llm fallback provider %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, backend)
		}
		a.llm = fb
	}

	if a.embedder == nil {
		entry := a.cfg.Providers.Embeddings
		e, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return fmt.Errorf("embeddings provider %q: %w", entry.Name, err)
		}
		fb := resilience.NewEmbedderFallback(e, entry.Name, resilience.FallbackConfig{CircuitBreaker: cbCfg})
		for _, alt := range entry.Fallbacks {
			backend, err := reg.CreateEmbeddings(alt)
			if err != nil {
				return fmt.Errorf("embeddings fallback provider %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, backend)
		}
		a.embedder = fb
	}

	if a.reranker == nil && a.cfg.Providers.Reranker.Name != "" {
		entry := a.cfg.Providers.Reranker
		r, err := reg.CreateReranker(entry)
		if err != nil {
			return fmt.Errorf("reranker provider %q: %w", entry.Name, err)
		}
		fb := resilience.NewRerankerFallback(r, entry.Name, resilience.FallbackConfig{CircuitBreaker: cbCfg})
		for _, alt := range entry.Fallbacks {
			backend, err := reg.CreateReranker(alt)
			if err != nil {
				return fmt.Errorf("reranker fallback provider %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, backend)
		}
		a.reranker = fb
	}

	return nil
}

// circuitBreakerConfigFromCfg translates cfg into a
// resilience.CircuitBreakerConfig; zero-value fields are left at zero so
// resilience.NewCircuitBreaker applies its own defaults.
func circuitBreakerConfigFromCfg(cfg config.CircuitBreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.ResetTimeout,
		HalfOpenMax:  cfg.HalfOpenMax,
	}
}

// anyLLMBackends lists the any-llm-go-backed provider names usable for both
// the LLM and reranker provider slots.
var anyLLMBackends = []string{
	"openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerProviderFactories registers every concrete capability
// implementation this engine ships with, keyed by the provider name used in
// config.ProviderEntry.Name.
func registerProviderFactories(reg *config.Registry) {
	for _, name := range anyLLMBackends {
		name := name
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.LLM, error) {
			return anyllm.New(name, e.Model, anyLLMOptions(e)...)
		})
		reg.RegisterReranker(name, func(e config.ProviderEntry) (reranker.Reranker, error) {
			m, err := anyllm.New(name, e.Model, anyLLMOptions(e)...)
			if err != nil {
				return nil, err
			}
			return reranker.NewLLMReranker(m), nil
		})
	}

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embedder.Embedder, error) {
		var opts []embedderopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embedderopenai.WithBaseURL(e.BaseURL))
		}
		return embedderopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embedder.Embedder, error) {
		return embedderollama.New(e.BaseURL, e.Model)
	})
}

// anyLLMOptions translates a ProviderEntry's common fields into any-llm-go
// backend options.
func anyLLMOptions(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

// initOntology loads the entity-type/relation-predicate vocabulary used by
// the extractor (C4), unless one was injected.
func (a *App) initOntology() error {
	if a.ontology != nil {
		return nil
	}
	if a.cfg.Server.OntologyPath == "" {
		return fmt.Errorf("server.ontology_path is required when no ontology registry is injected")
	}
	reg, err := ontology.Load(a.cfg.Server.OntologyPath)
	if err != nil {
		return fmt.Errorf("load ontology %q: %w", a.cfg.Server.OntologyPath, err)
	}
	a.ontology = reg
	return nil
}

// defaultEmbeddingDimensions is used when Memory.EmbeddingDimensions is
// unset, matching OpenAI's text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// initStore connects to the pgvector-backed graph store, unless one was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("memory.postgres_dsn is required when no store is injected")
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = defaultEmbeddingDimensions
	}

	store, err := graphpostgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.rawStore = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	// No replica DSN is configured, so the fallback chain is a single entry —
	// it still buys every call site a circuit breaker that fails fast once
	// the store is unhealthy, instead of piling up on its own query timeout.
	cbCfg := circuitBreakerConfigFromCfg(a.cfg.Providers.CircuitBreaker)
	a.store = resilience.NewGraphStoreFallback(store, "primary", resilience.FallbackConfig{CircuitBreaker: cbCfg})
	return nil
}

// initCache sets up the PostgreSQL-backed KV cache, sharing the graph
// store's connection pool when possible, unless a cache was injected.
func (a *App) initCache(ctx context.Context) error {
	if a.cache != nil {
		return nil
	}

	if a.rawStore == nil {
		return fmt.Errorf("kvcache: postgres cache requires a store built from config; inject a WithKVCache instead")
	}

	c, err := kvcachepostgres.New(ctx, a.rawStore.Pool())
	if err != nil {
		return err
	}
	a.cache = c
	return nil
}

// buildChunker selects the sub-chunking strategy named by cfg.Chunker.Strategy.
func buildChunker(cfg config.ChunkerConfig, emb embedder.Embedder, model llm.LLM) (chunker.Chunker, error) {
	switch cfg.Strategy {
	case config.ChunkerSemantic:
		return chunker.NewSemanticChunker(emb, defaultSemanticThreshold, cfg.ChunkSize), nil
	case config.ChunkerLLM:
		return chunker.NewLLMChunker(model, cfg.ChunkSize), nil
	case config.ChunkerRecursive, "":
		return chunker.NewRecursiveChunker(cfg.ChunkSize, cfg.MinCharactersPerChunk), nil
	default:
		return nil, fmt.Errorf("unknown chunker strategy %q", cfg.Strategy)
	}
}

// defaultSemanticThreshold is the cosine-similarity cutoff the semantic
// chunker uses to decide whether two adjacent sentences belong in the same
// chunk; not exposed via config since it rarely needs tuning per deployment.
const defaultSemanticThreshold = 0.75

// initPipeline builds the ingestion preprocessor (C3).
func (a *App) initPipeline() {
	chunk, err := buildChunker(a.cfg.Chunker, a.embedder, a.llm)
	if err != nil {
		slog.Warn("chunker selection failed, falling back to recursive", "err", err)
		chunk = chunker.NewRecursiveChunker(a.cfg.Chunker.ChunkSize, a.cfg.Chunker.MinCharactersPerChunk)
	}

	opts := []preprocess.Option{
		preprocess.WithChunkSize(a.cfg.Chunker.ChunkSize),
		preprocess.WithChunker(chunk),
	}
	if a.cfg.Pruning.Switch {
		opts = append(opts, preprocess.WithSemanticPruning(preprocess.Scene(a.cfg.Pruning.Scene), a.cfg.Pruning.Threshold))
	}

	a.pipeline = preprocess.NewPipeline(opts...)
}

// dedupThresholds builds dedup.Thresholds from cfg, falling back to
// dedup.DefaultThresholds for any field left at its zero value.
func dedupThresholds(cfg config.DedupConfig) dedup.Thresholds {
	t := dedup.DefaultThresholds()
	if cfg.Alpha != 0 {
		t.Alpha = cfg.Alpha
	}
	if cfg.Beta != 0 {
		t.Beta = cfg.Beta
	}
	if cfg.FuzzyOverallThreshold != 0 {
		t.FuzzyOverallThreshold = cfg.FuzzyOverallThreshold
	}
	if cfg.StrictFieldThreshold != 0 {
		t.StrictFieldThreshold = cfg.StrictFieldThreshold
	}
	if cfg.LLMBorderlineDelta != 0 {
		t.LLMBorderlineDelta = cfg.LLMBorderlineDelta
	}
	if cfg.LLMBlockSize != 0 {
		t.LLMBlockSize = cfg.LLMBlockSize
	}
	if cfg.LLMConfidenceThreshold != 0 {
		t.LLMConfidenceThreshold = cfg.LLMConfidenceThreshold
	}
	if cfg.SearchLimit != 0 {
		t.SearchLimit = cfg.SearchLimit
	}
	return t
}

// initCoordinator builds extraction (C4), deduplication (C5), summarisation
// (C6) and the write coordinator (C7).
func (a *App) initCoordinator() {
	var extractOpts []extract.Option
	if a.cfg.Memory.ExtractionConcurrency > 0 {
		extractOpts = append(extractOpts, extract.WithConcurrency(int64(a.cfg.Memory.ExtractionConcurrency)))
	}
	a.extractor = extract.New(a.llm, a.ontology, extractOpts...)

	dedupOpts := []dedup.Option{dedup.WithThresholds(dedupThresholds(a.cfg.Dedup))}
	if a.cfg.Dedup.EnableLLMArbitration {
		dedupOpts = append(dedupOpts, dedup.WithLLMArbitration(a.llm))
	}
	a.resolver = dedup.New(a.store, dedupOpts...)

	a.summariser = summarize.New(a.llm)

	a.coordinator = writecoord.New(a.pipeline, a.extractor, a.summariser, a.resolver, a.embedder, a.store)
}

// initForgetting builds the consolidation merger and scheduler (C9).
func (a *App) initForgetting() {
	a.merger = forgetting.NewMerger(a.llm)

	opts := []forgetting.Option{forgetting.WithConfig(forgettingConfigFromCfg(a.cfg.Forgetting))}
	if locker, ok := a.cache.(forgetting.Locker); ok {
		opts = append(opts, forgetting.WithLocker(locker))
	}

	a.scheduler = forgetting.New(a.store, a.merger, a.embedder, opts...)
}

// initRetrieval builds the hybrid retriever (C10).
func (a *App) initRetrieval() {
	a.retriever = retrieval.New(a.store, a.embedder, a.reranker)
}

// activationConfigFromCfg builds an activation.Config from cfg, falling back
// to activation.DefaultConfig for any field left at its zero value.
func activationConfigFromCfg(cfg config.ActivationConfig) activation.Config {
	actCfg := activation.DefaultConfig()
	if cfg.DecayConstant != 0 {
		actCfg.DecayConstant = cfg.DecayConstant
	}
	if cfg.ForgettingRate != 0 {
		actCfg.ForgettingRate = cfg.ForgettingRate
	}
	if cfg.Offset != 0 {
		actCfg.Offset = cfg.Offset
	}
	if cfg.MaxHistory != 0 {
		actCfg.MaxHistory = cfg.MaxHistory
	}
	return actCfg
}

// forgettingConfigFromCfg builds a forgetting.Config from cfg.
func forgettingConfigFromCfg(cfg config.ForgettingConfig) forgetting.Config {
	return forgetting.Config{
		MaxMergeBatchSize:  cfg.MaxMergeBatchSize,
		MinDaysSinceAccess: cfg.MinDaysSinceAccess,
		LockTTL:            cfg.LockTTL,
	}
}

// initReadGraph builds the session store (C12) and the read-graph runtime
// (C11).
func (a *App) initReadGraph() {
	a.sessions = sessionstore.New(a.cache)

	var opts []readgraph.Option
	opts = append(opts, readgraph.WithActivationConfig(activationConfigFromCfg(a.cfg.Activation)))
	if a.cfg.Memory.RetrievalConcurrency > 0 {
		opts = append(opts, readgraph.WithSubQuestionConcurrency(int64(a.cfg.Memory.RetrievalConcurrency)))
	}

	a.runtime = readgraph.New(a.retriever, a.llm, a.sessions, a.store, opts...)
}

// initViews builds the cache-backed perceptual views (C13), the read-only
// episodic projections (C15), and the self-reflection job (C14).
func (a *App) initViews() {
	a.salience = perceptual.New(a.store, a.cache)
	a.projections = views.New(a.store)
	a.reflectionJob = reflection.New(a.store, a.llm)
}

// initMCP sets up the MCP host, registers configured servers, calibrates,
// and registers the built-in memory-projection tools.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost == nil {
		a.mcpHost = mcphost.New()
	}
	a.closers = append(a.closers, a.mcpHost.Close)

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: mcp.Transport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.mcpHost.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	if registrar, ok := a.mcpHost.(builtinRegistrar); ok {
		for _, t := range memorytool.NewTools(a.projections) {
			err := registrar.RegisterBuiltin(mcphost.BuiltinTool{
				Definition:  t.Definition,
				Handler:     t.Handler,
				DeclaredP50: t.DeclaredP50,
				DeclaredMax: t.DeclaredMax,
			})
			if err != nil {
				return fmt.Errorf("register builtin tool %q: %w", t.Definition.Name, err)
			}
		}
	}

	if err := a.mcpHost.Calibrate(ctx); err != nil {
		slog.Warn("MCP calibration failed, using declared latencies", "err", err)
	}

	return nil
}

// builtinRegistrar is satisfied by *mcphost.Host; it is not part of the
// abstract mcp.Host interface since in-process tool registration is a
// concrete-host concern, not something every transport needs to support.
type builtinRegistrar interface {
	RegisterBuiltin(mcphost.BuiltinTool) error
}

// initObservability wires the OTel SDK (Prometheus metrics bridge + tracer
// provider) as the process's global providers and builds the package-level
// Metrics instance the HTTP middleware and future call-site instrumentation
// record against.
func (a *App) initObservability(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		return shutdown(context.Background())
	})

	a.metrics = observe.DefaultMetrics()
	return nil
}

// initHTTPServer builds the JSON API + health + metrics surface
// (internal/api) and starts it listening on cfg.Server.ListenAddr. A blank
// ListenAddr disables the HTTP surface entirely — useful for tests and for
// deployments driving the engine through an in-process App reference only.
func (a *App) initHTTPServer() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := []health.Checker{
		{Name: "graph_store", Check: func(ctx context.Context) error {
			_, err := a.store.CountNodes(ctx, "")
			return err
		}},
	}
	healthHandler := health.New(checkers...)

	router := api.NewRouter(a.coordinator, a.runtime, a.scheduler, a.projections, a.salience, healthHandler, a.metrics)

	a.httpServer = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: router.Handler(),
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})
}

// initConfigWatcher starts the background poller that hot-reloads
// non-structural config fields (dedup thresholds, pruning, forgetting-cycle
// tuning, activation decay) without a restart. Structural fields — providers,
// storage DSNs, listen address, MCP server list — are read once at New and
// require a restart to change, so a blank configPath (tests constructing cfg
// in-process, or a caller that never loaded from a file) simply skips this
// entirely.
func (a *App) initConfigWatcher() {
	if a.configPath == "" {
		return
	}

	var watcherOpts []config.WatcherOption
	if a.configWatchInterval > 0 {
		watcherOpts = append(watcherOpts, config.WithInterval(a.configWatchInterval))
	}

	w, err := config.NewWatcher(a.configPath, a.onConfigChange, watcherOpts...)
	if err != nil {
		slog.Warn("config watcher: failed to start, hot-reload disabled", "path", a.configPath, "err", err)
		return
	}
	a.configWatcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
}

// onConfigChange propagates the non-structural fields of a reloaded config
// into the already-running subsystems that support it. It never touches
// a.cfg itself, since the structural fields app.New read from it at startup
// (providers, storage, listen address, MCP servers) cannot be changed without
// reconstructing those subsystems.
func (a *App) onConfigChange(old, new *config.Config) {
	a.resolver.SetThresholds(dedupThresholds(new.Dedup))
	a.pipeline.SetPruning(preprocess.Scene(new.Pruning.Scene), new.Pruning.Switch, new.Pruning.Threshold)
	a.scheduler.SetConfig(forgettingConfigFromCfg(new.Forgetting))
	a.runtime.SetActivationConfig(activationConfigFromCfg(new.Activation))
	slog.Info("config hot-reload applied", "path", a.configPath)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// GraphStore returns the knowledge graph store.
func (a *App) GraphStore() graph.Store { return a.store }

// Coordinator returns the write coordinator used to ingest dialogues.
func (a *App) Coordinator() *writecoord.Coordinator { return a.coordinator }

// ReadGraph returns the read-graph runtime used to answer queries.
func (a *App) ReadGraph() *readgraph.Runtime { return a.runtime }

// Retriever returns the hybrid retriever.
func (a *App) Retriever() retrieval.Retriever { return a.retriever }

// Views returns the read-only episodic projections (C15).
func (a *App) Views() *views.Views { return a.projections }

// Salience returns the cache-backed perceptual views (C13).
func (a *App) Salience() *perceptual.Views { return a.salience }

// Scheduler returns the forgetting/consolidation scheduler (C9).
func (a *App) Scheduler() *forgetting.Scheduler { return a.scheduler }

// ReflectionJob returns the self-reflection job (C14).
func (a *App) ReflectionJob() *reflection.Job { return a.reflectionJob }

// MCPHost returns the MCP host.
func (a *App) MCPHost() mcp.Host { return a.mcpHost }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background maintenance loops (forgetting consolidation, and
// self-reflection when enabled) and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runForgettingLoop(ctx)
	}()

	if a.cfg.Reflection.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runReflectionLoop(ctx)
		}()
	}

	if a.httpServer != nil {
		go func() {
			slog.Info("http server listening", "addr", a.httpServer.Addr)
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server failed", "err", err)
			}
		}()
	}

	slog.Info("app running")
	<-ctx.Done()

	wg.Wait()
	return ctx.Err()
}

const defaultForgettingPeriod = time.Hour

// runForgettingLoop periodically runs a whole-deployment forgetting cycle.
func (a *App) runForgettingLoop(ctx context.Context) {
	if !a.cfg.Forgetting.Enabled {
		return
	}
	period := a.cfg.Forgetting.IterationPeriod
	if period <= 0 {
		period = defaultForgettingPeriod
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.scheduler.RunForgettingCycle(ctx, nil, 0, 0)
			if err != nil {
				slog.Warn("forgetting cycle failed", "err", err)
				continue
			}
			slog.Info("forgetting cycle complete", "merged", report.MergedCount)
		}
	}
}

// runReflectionLoop periodically triggers the self-reflection job. Because
// no tenant-enumeration API exists on graph.Store, the loop only logs that a
// cycle is due; per-tenant invocation is expected to be driven externally
// (e.g. by an API handler calling [App.ReflectionJob] for one end user at a
// time) using the Baseline/ReflexionRange this loop reports.
func (a *App) runReflectionLoop(ctx context.Context) {
	period := a.cfg.Reflection.IterationPeriod
	if period <= 0 {
		period = defaultForgettingPeriod
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("reflection cycle due", "reflexion_range", a.cfg.Reflection.ReflexionRange)
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
