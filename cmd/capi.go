package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/queue"
)

var (
	capiFlushLimit int
	capiConsumer   string
)

var capiCmd = &cobra.Command{
	Use:   "capi",
	Short: "Meta Conversions API outbox",
}

var capiFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Send pending outbox events to Meta",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "capi")
		if err != nil {
			return err
		}
		defer env.Close()

		limit := capiFlushLimit
		if limit == 0 {
			limit = cfg.Meta.FlushBatch
		}
		res, err := env.dispatcher().Flush(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d, failed %d\n", res.Sent, res.Failed)
		return nil
	},
}

var capiWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume outbox ids from RabbitMQ and send them to Meta",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Queue.URL == "" {
			return eris.New("queue.url is required for the capi worker")
		}
		env, err := initEnv(ctx, "capi")
		if err != nil {
			return err
		}
		defer env.Close()

		mq, err := queue.Dial(cfg.Queue)
		if err != nil {
			return err
		}
		defer mq.Close() //nolint:errcheck

		deliveries, err := mq.Deliveries(capiConsumer, cfg.Queue.Prefetch)
		if err != nil {
			return err
		}
		zap.L().Info("capi worker started", zap.String("consumer", capiConsumer))
		return env.dispatcher().Consume(ctx, deliveries)
	},
}

func init() {
	capiFlushCmd.Flags().IntVar(&capiFlushLimit, "limit", 0, "maximum events to send (default meta.flush_batch)")
	capiWorkerCmd.Flags().StringVar(&capiConsumer, "consumer", "funnel-capi-worker", "RabbitMQ consumer tag")
	capiCmd.AddCommand(capiFlushCmd, capiWorkerCmd)
	rootCmd.AddCommand(capiCmd)
}
