package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
	"github.com/sells-group/funnel-cli/internal/report"
	"github.com/sells-group/funnel-cli/internal/resilience"
	"github.com/sells-group/funnel-cli/internal/store"
	"github.com/sells-group/funnel-cli/internal/tenant"
	anthropicpkg "github.com/sells-group/funnel-cli/pkg/anthropic"
	"github.com/sells-group/funnel-cli/pkg/meta"
	"github.com/sells-group/funnel-cli/pkg/notion"
)

// appEnv holds the pool and the domain services shared by every command.
type appEnv struct {
	Store    *store.PostgresStore
	Pool     db.Pool
	Tenants  *tenant.PostgresStore
	Cache    *tenant.CachedStore // nil when redis is not configured
	Dir      *tenant.Directory
	Contacts *contact.PostgresStore
	Payments *payment.PostgresStore
	Resolver *contact.Resolver
	Linker   *contact.Linker
	Updater  *contact.Updater
	Writer   *payment.Writer

	// BatchResolver and BatchWriter serve import and repair runs. They
	// never back off on NotFound.
	BatchResolver *contact.Resolver
	BatchWriter   *payment.Writer

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens the pool and builds the domain
// services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	env := &appEnv{Store: st, Pool: st.Pool()}
	env.Tenants = tenant.NewPostgresStore(env.Pool)

	var tenants tenant.Store = env.Tenants
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zap.L().Warn("redis unavailable, tenant cache disabled", zap.Error(err))
			_ = rdb.Close()
		} else {
			env.redis = rdb
			env.Cache = tenant.NewCachedStore(env.Tenants, rdb, time.Duration(cfg.Redis.TTLMins)*time.Minute)
			tenants = env.Cache
			zap.L().Info("tenant cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}
	env.Dir = tenant.NewDirectory(tenants, cfg)

	env.Contacts = contact.NewPostgresStore(env.Pool)
	env.Payments = payment.NewPostgresStore(env.Pool)
	env.Resolver = contact.NewResolver(env.Pool,
		contact.WithNameSimilarity(cfg.Matching.NameSimilarity),
		contact.WithRetry(resilience.FromConfig(cfg.Retry), cfg.Matching.RetryOnNotFound),
	)
	env.Linker = contact.NewLinker(env.Contacts, env.Resolver)
	env.Updater = contact.NewUpdater(env.Pool)
	env.Writer = payment.NewWriter(env.Pool, env.Resolver, env.Updater)
	env.BatchResolver = env.Resolver.ForBatch()
	env.BatchWriter = payment.NewWriter(env.Pool, env.BatchResolver, env.Updater)

	return env, nil
}

// activeTenant resolves slug, or the default tenant when it is empty.
func (e *appEnv) activeTenant(ctx context.Context, slug string) (*model.Tenant, error) {
	t, err := e.Dir.Active(ctx, slug)
	if err != nil {
		if eris.Is(err, tenant.ErrNotFound) {
			return nil, eris.Errorf("tenant %q not found or inactive", orDefault(slug))
		}
		return nil, err
	}
	return t, nil
}

func orDefault(slug string) string {
	if slug == "" {
		return cfg.Server.DefaultTenant
	}
	return slug
}

func newMetaClient() meta.Client {
	cb := resilience.DefaultCircuitBreakerConfig()
	cb.OnStateChange = resilience.LogStateChange("meta")
	return meta.NewClient(
		meta.WithBaseURL(cfg.Meta.BaseURL),
		meta.WithAPIVersion(cfg.Meta.APIVersion),
		meta.WithRateLimit(cfg.Meta.RateLimit),
		meta.WithCircuitBreaker(resilience.NewCircuitBreaker(cb)),
	)
}

func (e *appEnv) dispatcher() *metaads.Dispatcher {
	return metaads.NewDispatcher(e.Pool, newMetaClient(), e.Dir, cfg.Meta.MaxAttempts)
}

// reportService builds the report service. deliver enables the mailer and
// the Notion archive; the narrator follows report.narrative.
func (e *appEnv) reportService(deliver bool) (*report.Service, error) {
	loc, err := time.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "load report timezone %q", cfg.Report.Timezone)
	}
	opts := []report.ServiceOption{report.WithLocation(loc), report.WithTestRecipients(cfg.Report.TestRecipients)}

	if cfg.Report.Narrative && cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		opts = append(opts, report.WithNarrator(report.NewNarrator(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)))
	}
	if deliver {
		if cfg.Mail.Host != "" {
			opts = append(opts, report.WithMailer(report.NewMailer(cfg.Mail)))
		} else {
			zap.L().Warn("mail.host not set, reports will not be emailed")
		}
		if cfg.Notion.Token != "" && cfg.Notion.ReportDB != "" {
			opts = append(opts, report.WithArchiver(report.NewArchiver(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReportDB)))
		}
	}

	return report.NewService(report.NewBuilder(e.Pool), e.Dir, opts...), nil
}
