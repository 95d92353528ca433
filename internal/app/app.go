package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"koffey/internal/auth"
	"koffey/internal/config"
	"koffey/internal/crm"
	"koffey/internal/llm"
	"koffey/internal/observability"
	"koffey/internal/policy"
	"koffey/internal/queue"
	"koffey/internal/ratelimit"
	"koffey/internal/storage"
	"koffey/internal/store"
)

// JobQueue is the part of queue.Queue the HTTP layer needs.
type JobQueue interface {
	PushArchiveJob(ctx context.Context, job queue.ArchiveJob) error
	Depth(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	Config   config.Config
	Logger   *log.Logger
	Storage  storage.Service
	Store    *store.Store
	Queue    JobQueue
	LLM      llm.Completer
	Analyzer *llm.Analyzer
	Coach    *llm.Coach
	Observer *observability.CompletionObserver
	CRM      *crm.Directory
	Policy   *policy.Policy
	Auth     *auth.Service
	Limiter  *ratelimit.Limiter
	Now      func() time.Time
}

func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Observer: observability.NewCompletionObserver(logger),
		CRM:      crm.NewSampleDirectory(),
		Auth:     auth.NewService(cfg),
		Limiter:  ratelimit.New(cfg.RateLimit.RPM),
		Now:      func() time.Time { return time.Now().UTC() },
	}

	if cfg.Policy.Redact {
		pol := policy.Default()
		if cfg.Policy.Path != "" {
			loaded, err := policy.Load(cfg.Policy.Path)
			if err != nil {
				return nil, fmt.Errorf("archive policy: %w", err)
			}
			pol = loaded
		}
		a.Policy = &pol
	}

	svc, st, err := selectStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Storage = svc
	a.Store = st

	if cfg.Redis.URL != "" {
		q, err := queue.New(cfg.Redis.URL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Queue = q
	}

	client := NewCompletionClient(cfg, a.Observer)
	a.useCompleter(client, client.Defaults)
	return a, nil
}

// NewCompletionClient builds the chat completion client from the llm
// config section.
func NewCompletionClient(cfg config.Config, observer llm.Observer) *llm.Client {
	params := llm.DefaultParams()
	if cfg.LLM.Model != "" {
		params.Model = cfg.LLM.Model
	}
	if cfg.LLM.MaxTokens > 0 {
		params.MaxTokens = cfg.LLM.MaxTokens
	}
	params.Temperature = cfg.LLM.Temperature
	params.TopP = cfg.LLM.TopP
	params.PresencePenalty = cfg.LLM.PresencePenalty
	params.FrequencyPenalty = cfg.LLM.FrequencyPenalty
	params.Stop = cfg.LLM.Stop

	client := llm.NewClient(cfg.LLM.BaseURL, params)
	client.APIKey = cfg.LLM.APIKey
	if cfg.LLM.MaxAttempts > 0 {
		client.MaxAttempts = cfg.LLM.MaxAttempts
	}
	if cfg.LLM.BaseDelay > 0 {
		client.BaseDelay = cfg.LLM.BaseDelay
	}
	if cfg.LLM.Timeout > 0 {
		client.Timeout = cfg.LLM.Timeout
	}
	if observer != nil {
		client.Observer = observer
	}
	return client
}

func (a *App) useCompleter(c llm.Completer, defaults llm.GenerationParams) {
	a.LLM = c
	a.Analyzer = llm.NewAnalyzer(c, defaults)
	if a.Observer != nil {
		a.Analyzer.Observer = a.Observer
	}
	a.Coach = llm.NewCoach(c, defaults)
}

func selectStorage(ctx context.Context, cfg config.Config) (storage.Service, *store.Store, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return storage.NewMemory(), nil, nil
	case "none":
		return nil, nil, nil
	case "postgres":
		st, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx, st.DB()); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return st, st, nil
	case "s3":
		s3, err := storage.NewS3(storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Compress:  cfg.S3.Compress,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	return err
}

func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go a.pruneLimiter(ctx)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Limiter.Prune(30 * time.Minute)
		}
	}
}
