package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/cron"
	"github.com/sells-group/funnel-cli/internal/metaads"
	"github.com/sells-group/funnel-cli/internal/monitoring"
	"github.com/sells-group/funnel-cli/internal/queue"
	"github.com/sells-group/funnel-cli/internal/webhook"
	"github.com/sells-group/funnel-cli/pkg/manychat"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and cron server",
	Long:  "Serves provider webhooks under /api/webhooks/{tenant}, scheduled jobs under /api/cron, the weekly data feed under /api/reports and the report trigger under /api/admin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if serveMigrate {
			if err := env.Store.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		dispatcher := env.dispatcher()

		// The outbox works without RabbitMQ; flush-capi drains it instead.
		var pub metaads.Publisher
		if cfg.Queue.URL != "" {
			mq, err := queue.Dial(cfg.Queue)
			if err != nil {
				return err
			}
			defer mq.Close() //nolint:errcheck
			pub = mq.Publisher()

			deliveries, err := mq.Deliveries("funnel-serve", cfg.Queue.Prefetch)
			if err != nil {
				return err
			}
			go func() {
				if err := dispatcher.Consume(ctx, deliveries); err != nil {
					zap.L().Error("capi consumer stopped", zap.Error(err))
				}
			}()
		}

		reports, err := env.reportService(true)
		if err != nil {
			return err
		}
		metaClient := newMetaClient()

		hooks := webhook.New(webhook.Deps{
			Tenants:  env.Dir,
			Payments: env.Writer,
			Linker:   env.Linker,
			Resolver: env.Resolver,
			Events:   env.Updater,
			Contacts: env.Contacts,
			Logs:     webhook.NewLogStore(env.Pool),
			CAPI:     metaads.NewCAPIQueue(env.Pool, pub),
			ManyChat: manychat.NewClient(
				manychat.WithBaseURL(cfg.ManyChat.BaseURL),
				manychat.WithTimeout(time.Duration(cfg.ManyChat.TimeoutSecs)*time.Second),
				manychat.WithRateLimit(cfg.ManyChat.RateLimit),
			),
			ManyChatTimeout: time.Duration(cfg.ManyChat.TimeoutSecs) * time.Second,
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		})
		jobs := cron.New(cfg.Cron.Secret, cron.Deps{
			Tenants:     env.Dir,
			Reports:     reports,
			Syncer:      metaads.NewSyncer(env.Pool, metaClient),
			Flusher:     dispatcher,
			FlushBatch:  cfg.Meta.FlushBatch,
			AdminSecret: cfg.Cron.AdminSecret,
		})
		if cfg.Cron.Secret == "" {
			zap.L().Warn("cron.secret not set, cron endpoints will reject every request")
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Pool, cfg.Meta.MaxAttempts),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           webhook.NewRouter(cfg.Server, hooks, cfg.Denefits.Enabled, jobs.Routes),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Bool("denefits", cfg.Denefits.Enabled),
			zap.Bool("queue", pub != nil),
			zap.Bool("tenant_cache", env.Cache != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
