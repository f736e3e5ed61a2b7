package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
)

// Engine answers queries from both evidence sources. It keeps no per-query state, so one
// Engine serves concurrent callers.
type Engine struct {
	profile     *domain.DomainProfile
	classifier  *Classifier
	coordinator *Coordinator
	conflicts   *ConflictEngine
	defaults    domain.AnswerOptions
	observer    ports.Observer
	logger      *slog.Logger
}

type engineSettings struct {
	defaults          domain.AnswerOptions
	observer          ports.Observer
	logger            *slog.Logger
	interpreter       ports.FieldInterpreter
	rerankConcurrency int
}

// Option configures an Engine.
type Option func(*engineSettings)

// WithDefaults sets the options used where a call leaves a value at zero.
func WithDefaults(opts domain.AnswerOptions) Option {
	return func(s *engineSettings) {
		s.defaults = opts.Normalize(s.defaults)
	}
}

func WithObserver(observer ports.Observer) Option {
	return func(s *engineSettings) {
		if observer != nil {
			s.observer = observer
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *engineSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInterpreter replaces the profile-driven field interpreter.
func WithInterpreter(interpreter ports.FieldInterpreter) Option {
	return func(s *engineSettings) {
		if interpreter != nil {
			s.interpreter = interpreter
		}
	}
}

// WithRerankConcurrency bounds in-flight judge calls per query.
func WithRerankConcurrency(n int) Option {
	return func(s *engineSettings) {
		if n > 0 {
			s.rerankConcurrency = n
		}
	}
}

// NewEngine wires the engine. A nil judge falls back to the lexical judge.
func NewEngine(
	profile domain.DomainProfile,
	relational ports.RelationalStore,
	semantic ports.SemanticStore,
	judge ports.RelevanceJudge,
	opts ...Option,
) (*Engine, error) {
	if err := profile.Compile(); err != nil {
		return nil, err
	}
	if relational == nil || semantic == nil {
		return nil, domain.WrapError(domain.ErrMisconfigured, "new engine", fmt.Errorf("both evidence stores are required"))
	}
	if judge == nil {
		judge = NewLexicalJudge()
	}

	p := &profile
	settings := engineSettings{
		defaults:          domain.DefaultAnswerOptions(),
		observer:          noopObserver{},
		logger:            slog.Default(),
		rerankConcurrency: defaultRerankConcurrency,
	}
	settings.defaults.CriticalFields = p.CriticalFields
	settings.defaults.JudgeContext = p.JudgeContext
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.interpreter == nil {
		settings.interpreter = NewProfileInterpreter(p)
	}

	logger := settings.logger.With("component", "evidence_engine", "profile", p.Name)
	reranker := NewReranker(judge, settings.rerankConcurrency, settings.observer, logger)
	return &Engine{
		profile:     p,
		classifier:  NewClassifier(p),
		coordinator: NewCoordinator(relational, semantic, reranker, p, settings.observer, logger),
		conflicts:   NewConflictEngine(p, settings.interpreter),
		defaults:    settings.defaults,
		observer:    settings.observer,
		logger:      logger,
	}, nil
}

var _ ports.EvidenceService = (*Engine)(nil)

func (e *Engine) Profile() domain.DomainProfile {
	return *e.profile
}

func (e *Engine) Classify(q domain.Query) domain.Classification {
	return e.classifier.Classify(q)
}

// Answer returns an error only for malformed input, misconfiguration or caller cancellation.
// Evidence-source failures are reported inside the Response.
func (e *Engine) Answer(ctx context.Context, q domain.Query, opts domain.AnswerOptions) (*domain.Response, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	opts = opts.Normalize(e.defaults)

	cls := e.classifier.Classify(q)
	e.observer.ObserveStrategy(cls.Strategy)

	retrieval, err := e.coordinator.Retrieve(ctx, cls, q, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resp *domain.Response
	if retrieval.AllFailed() {
		resp = faultResponse(retrieval)
	} else {
		conflicts := e.conflicts.Reconcile(retrieval.Relational, retrieval.Semantic, opts.CriticalFields)
		score := ScoreConfidence(len(retrieval.Relational), relevantHits(retrieval.Semantic), len(conflicts) > 0, opts.ExtraFactorSum())
		resp = Synthesize(Evidence{Relational: retrieval.Relational, Semantic: retrieval.Semantic}, conflicts, score)
	}
	resp.Strategy = cls.Strategy
	resp.StrategyReason = cls.Reason
	resp.Sources = retrieval.Reports
	resp.Followups = BuildFollowups(resp, cls)

	e.observer.ObserveAnswer(resp)
	e.logger.Info("query_answered",
		"strategy", cls.Strategy,
		"reason", cls.Reason,
		"items", len(resp.Items),
		"conflicts", len(resp.Conflicts),
		"confidence", resp.Confidence,
		"provenance", resp.Provenance,
		"fault", resp.Fault != nil,
	)
	return resp, nil
}

func faultResponse(retrieval *Retrieval) *domain.Response {
	return &domain.Response{
		Items:      []domain.Item{},
		Provenance: []domain.Origin{},
		Confidence: 0,
		Citations:  []domain.Citation{},
		Conflicts:  []domain.ConflictRecord{},
		Fault: &domain.Fault{
			Kind:    domain.FaultAllSourcesFailed,
			Message: "every evidence source invoked for this query failed",
			Origins: retrieval.FailedOrigins(),
		},
	}
}

// relevantHits counts semantic records the judge scored above zero. Records that
// were never reranked count as hits.
func relevantHits(records []domain.EvidenceRecord) int {
	n := 0
	for _, r := range records {
		if r.RelevanceScore == nil || *r.RelevanceScore > 0 {
			n++
		}
	}
	return n
}
