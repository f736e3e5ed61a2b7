package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/resilience"
)

// AnswerRequest is the JSON body a client publishes on the answer subject.
type AnswerRequest struct {
	Query       string            `json:"query"`
	Identifiers []string          `json:"identifiers,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
	TopK        int               `json:"top_k,omitempty"`

	// Per-source deadlines in milliseconds; zero keeps the engine defaults.
	RelationalTimeoutMS int `json:"relational_timeout_ms,omitempty"`
	SemanticTimeoutMS   int `json:"semantic_timeout_ms,omitempty"`
}

func (r AnswerRequest) options() domain.AnswerOptions {
	return domain.AnswerOptions{
		TopK:              r.TopK,
		RelationalTimeout: time.Duration(r.RelationalTimeoutMS) * time.Millisecond,
		SemanticTimeout:   time.Duration(r.SemanticTimeoutMS) * time.Millisecond,
	}
}

// AnswerReply carries either a response or a typed error.
type AnswerReply struct {
	Response *domain.Response `json:"response,omitempty"`
	Error    *ReplyError      `json:"error,omitempty"`
}

type ReplyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Observer receives one call per handled request; metrics implement it.
type Observer interface {
	ObserveRequest(outcome string, duration time.Duration)
}

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

// AnswerQueue serves and issues evidence questions over NATS request-reply.
type AnswerQueue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(url, subject string, options Options) (*AnswerQueue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "health-assistant"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &AnswerQueue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *AnswerQueue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ask sends a request and waits for the worker's reply.
func (q *AnswerQueue) Ask(ctx context.Context, req AnswerRequest) (*domain.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal answer request: %w", err)
	}

	msg, err := resilience.Do(ctx, q.executor, "nats.request", func(callCtx context.Context) (*nats.Msg, error) {
		return q.conn.RequestWithContext(callCtx, q.subject, payload)
	}, classifyNATSError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded(err)
	}
	return decodeReply(msg.Data)
}

func decodeReply(data []byte) (*domain.Response, error) {
	var reply AnswerReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decode answer reply: %w", err)
	}
	if reply.Error != nil {
		return nil, domain.WrapError(kindFromName(reply.Error.Kind), "nats answer", errors.New(reply.Error.Message))
	}
	if reply.Response == nil {
		return nil, fmt.Errorf("decode answer reply: empty response")
	}
	return reply.Response, nil
}

// ServeOptions bound the worker side.
type ServeOptions struct {
	QueueGroup     string
	Concurrency    int
	RequestTimeout time.Duration
	Observer       Observer
}

// Serve answers requests from a queue group until ctx is cancelled, then drains.
func (q *AnswerQueue) Serve(ctx context.Context, service ports.EvidenceService, opts ServeOptions) error {
	if opts.QueueGroup == "" {
		opts.QueueGroup = "evidence-workers"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	handler := &answerHandler{service: service, timeout: opts.RequestTimeout, observer: opts.Observer, logger: q.logger}
	var inflight sync.WaitGroup

	sub, err := q.conn.QueueSubscribe(q.subject, opts.QueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		inflight.Add(1)
		task := func() {
			defer inflight.Done()
			reply := handler.handle(ctx, msg.Data)
			if msg.Reply == "" {
				return
			}
			if err := msg.Respond(reply); err != nil {
				q.logger.Error("nats_respond_failed", "error", err)
			}
		}
		// A saturated pool blocks this callback, which applies backpressure to the subscription.
		if err := pool.Submit(task); err != nil {
			task()
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("worker_subscribed", "subject", q.subject, "queue_group", opts.QueueGroup, "concurrency", opts.Concurrency)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	inflight.Wait()
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

type answerHandler struct {
	service  ports.EvidenceService
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

func (h *answerHandler) handle(ctx context.Context, data []byte) []byte {
	started := time.Now()
	reply, outcome := h.answer(ctx, data)
	if h.observer != nil {
		h.observer.ObserveRequest(outcome, time.Since(started))
	}

	out, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("encode_reply_failed", "error", err)
		out, _ = json.Marshal(AnswerReply{Error: &ReplyError{Kind: "internal", Message: "encode reply"}})
	}
	return out
}

func (h *answerHandler) answer(ctx context.Context, data []byte) (AnswerReply, string) {
	var req AnswerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return AnswerReply{Error: &ReplyError{Kind: kindName(domain.ErrInvalidInput), Message: "invalid request json"}}, "invalid"
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	query := domain.Query{Text: req.Query, Hints: domain.Hints{Identifiers: req.Identifiers}, Filters: req.Filters}
	resp, err := h.service.Answer(callCtx, query, req.options())
	if err != nil {
		kind := classifyAnswerError(err)
		level := slog.LevelError
		if kind == domain.ErrInvalidInput {
			level = slog.LevelInfo
		}
		h.logger.Log(ctx, level, "answer_failed", "error", err)
		return AnswerReply{Error: &ReplyError{Kind: kindName(kind), Message: err.Error()}}, "error"
	}
	if resp.Fault != nil {
		return AnswerReply{Response: resp}, "fault"
	}
	return AnswerReply{Response: resp}, "ok"
}

var replyKinds = []struct {
	name string
	kind error
}{
	{"invalid_input", domain.ErrInvalidInput},
	{"misconfigured", domain.ErrMisconfigured},
	{"temporary", domain.ErrTemporary},
}

func classifyAnswerError(err error) error {
	for _, k := range replyKinds {
		if domain.IsKind(err, k.kind) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrTemporary
	}
	return nil
}

func kindName(kind error) string {
	for _, k := range replyKinds {
		if k.kind == kind {
			return k.name
		}
	}
	return "internal"
}

func kindFromName(name string) error {
	for _, k := range replyKinds {
		if k.name == name {
			return k.kind
		}
	}
	return domain.ErrTemporary
}
