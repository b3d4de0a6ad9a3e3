package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-eligibility/internal/cost"
	"github.com/sells-group/trial-eligibility/internal/dashboard"
	"github.com/sells-group/trial-eligibility/internal/eligibility"
	"github.com/sells-group/trial-eligibility/internal/resilience"
	"github.com/sells-group/trial-eligibility/internal/store"
	"github.com/sells-group/trial-eligibility/internal/trials"
	anthropicpkg "github.com/sells-group/trial-eligibility/pkg/anthropic"
	"github.com/sells-group/trial-eligibility/pkg/heidi"
)

// serviceEnv holds the store and dashboard service used by the serve,
// assess and prescreen commands.
type serviceEnv struct {
	Store   store.Store
	Service *dashboard.Service
}

// Close releases resources held by the environment.
func (e *serviceEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "trials.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initHeidi() heidi.Client {
	retry := resilience.DefaultRetryConfig()
	if cfg.Heidi.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Heidi.MaxAttempts
	}
	retry.OnRetry = resilience.RetryLogger("heidi", "get session")

	opts := []heidi.Option{
		heidi.WithRateLimit(cfg.Heidi.RatePerSec),
		heidi.WithRetry(retry),
	}
	if cfg.Heidi.BaseURL != "" {
		opts = append(opts, heidi.WithBaseURL(cfg.Heidi.BaseURL))
	}
	if cfg.Heidi.TimeoutSecs > 0 {
		opts = append(opts, heidi.WithTimeout(cfg.Heidi.Timeout()))
	}
	return heidi.NewClient(opts...)
}

func heidiCredentials() heidi.Credentials {
	return heidi.Credentials{
		APIKey:       cfg.Heidi.APIKey,
		Email:        cfg.Heidi.UserEmail,
		ThirdPartyID: cfg.Heidi.ThirdPartyID,
	}
}

func pricingRates() cost.Rates {
	rates := make(cost.Rates, len(cfg.Pricing.Anthropic))
	for model, p := range cfg.Pricing.Anthropic {
		rates[model] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}

func initAssessor() *eligibility.Assessor {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithTimeout(cfg.Anthropic.Timeout()))
	breaker := resilience.NewCircuitBreaker("anthropic", cfg.Anthropic.FailureThreshold, cfg.Anthropic.ResetTimeout())
	return eligibility.NewAssessor(client, eligibility.Config{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Timeout:   cfg.Anthropic.Timeout(),
	}, breaker, cost.NewCalculator(pricingRates()))
}

// initService validates config for mode, opens and migrates the store, and
// wires the dashboard service with a warm assessment cache. Callers should
// defer env.Close().
func initService(ctx context.Context, mode string) (*serviceEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	catalog, err := trials.Load(cfg.Trials.Path)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	deps := dashboard.Deps{
		Heidi:       initHeidi(),
		Credentials: heidiCredentials(),
		SessionKeys: cfg.Heidi.SessionKeys,
		Store:       st,
		Catalog:     catalog,
	}
	if mode == "assess" || mode == "serve" {
		deps.Assessor = initAssessor()
	}

	svc := dashboard.NewService(deps)
	if _, err := svc.LoadCache(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &serviceEnv{Store: st, Service: svc}, nil
}
