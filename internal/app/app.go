// Package app builds a pipeline.Service and its stores from configuration.
// Both binaries share it so Lambda and yahactl serve run the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"yaha-bot/internal/classifier"
	"yaha-bot/internal/config"
	"yaha-bot/internal/domain"
	"yaha-bot/internal/extraction"
	"yaha-bot/internal/integrations/openai"
	"yaha-bot/internal/integrations/paramstore"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/persistence"
	"yaha-bot/internal/persistence/dynamostore"
	"yaha-bot/internal/persistence/reststore"
	"yaha-bot/internal/persistence/sqlitestore"
	"yaha-bot/internal/pipeline"
	"yaha-bot/internal/reasoning"
	"yaha-bot/internal/shaper"
	"yaha-bot/internal/tracer"
	"yaha-bot/internal/validator"
)

// Backend is what every store backend provides: container rows plus the
// shadow log.
type Backend interface {
	persistence.Store
	tracer.Sink
	tracer.Reader
}

// App is a wired pipeline plus the handles the binaries need.
type App struct {
	Service    *pipeline.Service
	Classifier *classifier.Classifier
	Traces     tracer.Reader

	closers []io.Closer
}

type settings struct {
	adapters map[domain.InputKind]extraction.Adapter
	params   paramstore.Getter
	backend  Backend
	sessions negotiation.Store
}

type Option func(*settings)

// WithAdapter registers an extraction adapter for kind.
func WithAdapter(kind domain.InputKind, a extraction.Adapter) Option {
	return func(s *settings) {
		s.adapters[kind] = a
	}
}

// WithParams replaces the SSM parameter getter.
func WithParams(g paramstore.Getter) Option {
	return func(s *settings) {
		s.params = g
	}
}

// WithBackend replaces the store selected by cfg.Store.Backend.
func WithBackend(b Backend, sessions negotiation.Store) Option {
	return func(s *settings) {
		s.backend = b
		s.sessions = sessions
	}
}

// Build wires the pipeline described by cfg. AWS clients are only created
// when the configuration needs them.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	st := &settings{adapters: make(map[domain.InputKind]extraction.Adapter)}
	for _, opt := range opts {
		opt(st)
	}

	a := &App{}
	clients := &awsClients{}

	needsParams := cfg.Reasoning.Enabled || (st.backend == nil && cfg.Store.Backend == config.BackendREST)
	if needsParams && st.params == nil {
		ssmAPI, err := clients.ssm(ctx)
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(ssmAPI)
		if err != nil {
			return nil, fmt.Errorf("app: create parameter store client: %w", err)
		}
		st.params = ps
	}

	var classifierOpts []classifier.Option
	var shaperOpts []shaper.Option
	var estimator pipeline.Estimator
	if cfg.Reasoning.Enabled {
		var llmOpts []openai.Option
		if cfg.Reasoning.BaseURL != "" {
			llmOpts = append(llmOpts, openai.WithBaseURL(cfg.Reasoning.BaseURL))
		}
		llm, err := openai.NewClient(st.params, cfg.Params.Prefix, cfg.Reasoning.Model, llmOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: create openai client: %w", err)
		}
		rc, err := reasoning.New(llm, llm.Model())
		if err != nil {
			return nil, fmt.Errorf("app: create reasoning client: %w", err)
		}
		timeout := cfg.Pipeline.CallTimeout
		classifierOpts = append(classifierOpts, classifier.WithReasoner(rc), classifier.WithTimeout(timeout))
		shaperOpts = append(shaperOpts, shaper.WithReasoner(rc), shaper.WithTimeout(timeout))
		estimator = rc
	}

	if st.backend == nil {
		if err := a.openBackend(ctx, cfg, st, clients); err != nil {
			return nil, err
		}
	}
	a.Traces = st.backend

	writer, err := persistence.NewWriter(st.backend, cfg.Pipeline.CallTimeout)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create writer: %w", err)
	}
	tr, err := tracer.New(st.backend)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create tracer: %w", err)
	}

	registry := extraction.NewRegistry(cfg.Pipeline.CallTimeout)
	for kind, adapter := range st.adapters {
		registry.Register(kind, adapter)
	}

	a.Classifier = classifier.New(cfg.Pipeline.AmbiguityThreshold, classifierOpts...)
	deps := pipeline.Deps{
		Extractor:  registry,
		Classifier: a.Classifier,
		Shaper:     shaper.New(shaperOpts...),
		Validator:  validator.New(validator.DefaultLimits()),
		Estimator:  estimator,
		Writer:     writer,
		Sessions:   st.sessions,
		Tracer:     tr,
	}
	svc, err := pipeline.New(deps, cfg.PipelineOptions())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create pipeline: %w", err)
	}
	a.Service = svc
	return a, nil
}

func (a *App) openBackend(ctx context.Context, cfg *config.Config, st *settings, clients *awsClients) error {
	switch cfg.Store.Backend {
	case config.BackendDynamoDB:
		api, err := clients.dynamodb(ctx)
		if err != nil {
			return err
		}
		c, err := dynamostore.New(api, cfg.Store.Tables, cfg.Store.SessionTable)
		if err != nil {
			return fmt.Errorf("app: create dynamodb store: %w", err)
		}
		st.backend, st.sessions = c, c
	case config.BackendREST:
		c, err := reststore.New(cfg.Store.RestURL, cfg.Store.Tables, st.params, cfg.SupabaseKeyParam())
		if err != nil {
			return fmt.Errorf("app: create rest store: %w", err)
		}
		st.backend, st.sessions = c, negotiation.NewMemoryStore()
	case config.BackendSQLite:
		db, err := sqlitestore.Open(cfg.Store.SQLitePath, cfg.Store.Tables)
		if err != nil {
			return fmt.Errorf("app: open sqlite store: %w", err)
		}
		a.closers = append(a.closers, db)
		st.backend, st.sessions = db, negotiation.NewMemoryStore()
	default:
		return fmt.Errorf("app: unknown store backend %q", cfg.Store.Backend)
	}
	return nil
}

// Close releases the stores opened by Build.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Error("failed to close store", "err", err)
		}
	}
	a.closers = nil
}

// awsClients loads the SDK config at most once.
type awsClients struct {
	cfg    *aws.Config
	cfgErr error
}

func (c *awsClients) config(ctx context.Context) (aws.Config, error) {
	if c.cfg == nil && c.cfgErr == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			c.cfgErr = fmt.Errorf("app: load AWS config: %w", err)
		} else {
			c.cfg = &cfg
		}
	}
	if c.cfgErr != nil {
		return aws.Config{}, c.cfgErr
	}
	return *c.cfg, nil
}

func (c *awsClients) ssm(ctx context.Context) (*awsssm.Client, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, err
	}
	return awsssm.NewFromConfig(cfg), nil
}

func (c *awsClients) dynamodb(ctx context.Context) (*awsdynamodb.Client, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, err
	}
	return awsdynamodb.NewFromConfig(cfg), nil
}
