package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadtrace/internal/enrich"
	"github.com/sells-group/leadtrace/internal/events"
	"github.com/sells-group/leadtrace/internal/monitoring"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the enrichment stage consumers",
	Long:  "Consumes lead events: skiptraces new leads, analyzes completed ones, and runs the pipeline health checker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		skiptracer := enrich.NewSkiptracer(env.Store, initSkiptraceClient(), env.Bus)
		analyzer := enrich.NewAnalyzer(env.Store, initAnalysisClient(), env.Bus)

		collector := monitoring.NewCollector(env.Store,
			time.Duration(cfg.Monitoring.StuckThresholdMins)*time.Minute)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return env.Bus.Consume(gctx, events.CreatedQueue, skiptracer.HandleCreated)
		})
		g.Go(func() error {
			return env.Bus.Consume(gctx, events.UpdatedQueue, analyzer.HandleUpdated)
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		zap.L().Info("worker started",
			zap.String("createdQueue", events.CreatedQueue),
			zap.String("updatedQueue", events.UpdatedQueue),
		)

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
