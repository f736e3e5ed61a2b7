package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stewmckendry/health-assistant/internal/config"
	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/core/usecase"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/chunking"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/llm/ollama"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/llm/openai"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/repository/postgres"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/repository/sqlite"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/resilience"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/vector/qdrant"
	"github.com/stewmckendry/health-assistant/internal/observability/metrics"
)

// RowWriter loads relational evidence rows.
type RowWriter interface {
	UpsertRows(ctx context.Context, rows []domain.RelationalRow) error
}

// PassageEmbedder embeds passages in batches as well as single queries.
type PassageEmbedder interface {
	ports.Embedder
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Service    string
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type App struct {
	Config  config.Config
	Profile domain.DomainProfile
	Engine  *usecase.Engine

	Rows     RowWriter
	Passages *qdrant.PassageStore
	Embedder PassageEmbedder
	Executor *resilience.Executor
	Splitter *chunking.Splitter

	logger  *slog.Logger
	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	service := opts.Service
	if service == "" {
		service = "evidence"
	}

	profile, err := config.LoadProfile(cfg.DomainProfilePath)
	if err != nil {
		return nil, fmt.Errorf("load domain profile: %w", err)
	}

	executor := resilience.NewExecutorWithLogger(resilienceConfig(cfg), logger)

	relational, rows, closeDB, err := openRelational(ctx, cfg, executor, logger)
	if err != nil {
		return nil, err
	}

	ollamaClient := ollama.New(ollama.Config{
		BaseURL:           cfg.OllamaURL,
		GenModel:          cfg.OllamaJudgeModel,
		EmbedModel:        cfg.OllamaEmbedModel,
		RequestsPerSecond: cfg.JudgeRateLimitRPS,
		Burst:             cfg.JudgeRateBurst,
	}, executor, logger)

	embedder, err := newEmbedder(cfg, ollamaClient, logger)
	if err != nil {
		closeDB()
		return nil, err
	}
	judge, err := newJudge(cfg, ollamaClient, executor, logger)
	if err != nil {
		closeDB()
		return nil, err
	}

	qdrantCfg := qdrant.Config{
		URL:         cfg.QdrantURL,
		Collection:  cfg.QdrantCollection,
		DenseVector: cfg.QdrantDenseVector,
		RRFK:        cfg.QdrantRRFK,
		TitleKey:    profile.Citation.Title,
		SectionKey:  profile.Citation.Location,
		Logger:      logger,
	}
	if cfg.QdrantLexical {
		qdrantCfg.SparseVector = cfg.QdrantLexicalVector
	}
	passages := qdrant.New(qdrantCfg, embedder, executor)

	engine, err := usecase.NewEngine(profile, relational, passages, judge,
		usecase.WithDefaults(domain.AnswerOptions{
			RelationalTimeout: cfg.EngineRelationalTimeout,
			SemanticTimeout:   cfg.EngineSemanticTimeout,
			TopK:              cfg.EngineTopK,
			CandidateLimit:    cfg.EngineCandidateLimit,
		}),
		usecase.WithRerankConcurrency(cfg.EngineRerankConcurrency),
		usecase.WithObserver(metrics.NewEngineMetrics(service, registerer)),
		usecase.WithLogger(logger),
	)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	logger.Info("engine_ready",
		"profile", profile.Name,
		"relational", relational.Name(),
		"semantic", passages.Name(),
		"judge", cfg.JudgeProvider,
		"embedder", cfg.EmbedProvider,
	)

	return &App{
		Config:   cfg,
		Profile:  profile,
		Engine:   engine,
		Rows:     rows,
		Passages: passages,
		Embedder: embedder,
		Executor: executor,
		Splitter: chunking.NewSplitter(cfg.SeedChunkSize, cfg.SeedChunkOverlap),
		logger:   logger,
		closeFn:  closeDB,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Seed loads relational rows and embeds and indexes passages.
func (a *App) Seed(ctx context.Context, rows []domain.RelationalRow, passages []qdrant.PassageRecord) error {
	if len(rows) > 0 {
		if err := a.Rows.UpsertRows(ctx, rows); err != nil {
			return fmt.Errorf("seed rows: %w", err)
		}
	}
	passages = a.chunkPassages(passages)
	if len(passages) == 0 {
		return nil
	}
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	vectors, err := a.Embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed passages: %w", err)
	}
	if err := a.Passages.Upsert(ctx, passages, vectors); err != nil {
		return fmt.Errorf("index passages: %w", err)
	}
	a.logger.Info("seed_completed", "rows", len(rows), "passages", len(passages))
	return nil
}

// chunkPassages splits long passages. Chunks keep the passage metadata and
// get a "chunk" index plus an id derived from the passage id.
func (a *App) chunkPassages(passages []qdrant.PassageRecord) []qdrant.PassageRecord {
	if a.Splitter == nil {
		return passages
	}
	out := make([]qdrant.PassageRecord, 0, len(passages))
	for _, p := range passages {
		chunks := a.Splitter.Split(p.Text)
		if len(chunks) <= 1 {
			out = append(out, p)
			continue
		}
		for i, chunk := range chunks {
			meta := make(map[string]any, len(p.Metadata)+1)
			for k, v := range p.Metadata {
				meta[k] = v
			}
			meta["chunk"] = i
			id := ""
			if p.ID != "" {
				id = fmt.Sprintf("%s#%d", p.ID, i)
			}
			out = append(out, qdrant.PassageRecord{ID: id, Text: chunk, Metadata: meta})
		}
	}
	return out
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.RetryMaxAttempts
	out.RetryInitialBackoff = cfg.RetryInitialBackoff
	out.RetryMaxBackoff = cfg.RetryMaxBackoff
	out.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.BreakerFailureRatio
	out.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	if cfg.BreakerHalfOpenMaxCalls > 0 {
		out.BreakerHalfOpenMaxCalls = uint32(cfg.BreakerHalfOpenMaxCalls)
	}
	return out
}

type relationalStore interface {
	ports.RelationalStore
	RowWriter
}

func openRelational(ctx context.Context, cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (ports.RelationalStore, RowWriter, func(), error) {
	var store relationalStore
	switch cfg.RelationalDriver {
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		pg := postgres.NewRelationalStore(db, executor, logger)
		schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(schemaCtx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = pg
		return store, store, func() { _ = db.Close() }, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		store = sqlite.NewRelationalStore(db, executor, logger)
		return store, store, func() { _ = db.Close() }, nil
	default:
		return nil, nil, nil, domain.WrapError(domain.ErrMisconfigured, "open relational store",
			fmt.Errorf("unknown RELATIONAL_DRIVER %q", cfg.RelationalDriver))
	}
}

func newEmbedder(cfg config.Config, client *ollama.Client, logger *slog.Logger) (PassageEmbedder, error) {
	switch cfg.EmbedProvider {
	case "ollama":
		return ollama.NewEmbedder(client), nil
	case "openai":
		embedder, err := openai.NewEmbedder(openAIConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("init openai embedder: %w", err)
		}
		return embedder, nil
	default:
		return nil, domain.WrapError(domain.ErrMisconfigured, "init embedder",
			fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider))
	}
}

func newJudge(cfg config.Config, client *ollama.Client, executor *resilience.Executor, logger *slog.Logger) (ports.RelevanceJudge, error) {
	switch cfg.JudgeProvider {
	case "ollama":
		return ollama.NewJudge(client), nil
	case "openai":
		judge, err := openai.NewJudge(openAIConfig(cfg), executor, logger)
		if err != nil {
			return nil, fmt.Errorf("init openai judge: %w", err)
		}
		return judge, nil
	case "lexical":
		return usecase.NewLexicalJudge(), nil
	default:
		return nil, domain.WrapError(domain.ErrMisconfigured, "init judge",
			fmt.Errorf("unknown JUDGE_PROVIDER %q", cfg.JudgeProvider))
	}
}

func openAIConfig(cfg config.Config) openai.Config {
	return openai.Config{
		BaseURL:        cfg.OpenAIBaseURL,
		Token:          cfg.OpenAIAPIKey,
		Model:          cfg.OpenAIModel,
		EmbeddingModel: cfg.OpenAIEmbedModel,
	}
}
