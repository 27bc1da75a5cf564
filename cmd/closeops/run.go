package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/bariendo/close-ops/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "closeops_job_runs_total",
	Help: "Total scheduled job runs by job name and outcome",
}, []string{"job", "outcome"})

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		Long: `Run the configured jobs on their cron schedules and serve Prometheus
metrics. Each job invokes a closeops subcommand in a child process, so a
crashing job never takes the daemon down.`,
		RunE: runDaemon,
	}

	rootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if len(cfg.Jobs) == 0 {
		return fmt.Errorf("no jobs configured; add a jobs section to the config file")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	for _, job := range cfg.Jobs {
		job := job
		if job.Name == "" || job.Command == "" || job.Schedule == "" {
			return fmt.Errorf("job %+v: name, schedule, and command are required", job)
		}
		if _, err := scheduler.AddFunc(job.Schedule, func() {
			executeJob(ctx, job)
		}); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
		log.Info().
			Str("job", job.Name).
			Str("schedule", job.Schedule).
			Str("command", job.Command).
			Msg("Scheduled job")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Str("listen", cfg.HTTP.Listen).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		scheduler.Start()
		<-groupCtx.Done()

		log.Info().Msg("Shutting down scheduler")
		cronCtx := scheduler.Stop()

		// Let in-flight jobs finish, bounded.
		select {
		case <-cronCtx.Done():
		case <-time.After(30 * time.Second):
			log.Warn().Msg("Timed out waiting for running jobs")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// executeJob runs a configured job as a child closeops process, forwarding
// the daemon's environment selection and config path.
func executeJob(ctx context.Context, job config.JobConfig) {
	start := time.Now()
	log.Info().Str("job", job.Name).Msg("Starting job")

	args := []string{job.Command}
	args = append(args, job.Args...)
	if flagProd {
		args = append(args, "--prod")
	}
	if flagConfig != "" {
		args = append(args, "--config", flagConfig)
	}

	command := exec.CommandContext(ctx, os.Args[0], args...)
	output, err := command.CombinedOutput()

	event := log.Info()
	outcome := "success"
	if err != nil {
		event = log.Error().Err(err)
		outcome = "failure"
	}
	jobRunsTotal.WithLabelValues(job.Name, outcome).Inc()

	event.
		Str("job", job.Name).
		Dur("duration", time.Since(start)).
		Str("output", string(output)).
		Msg("Job finished")
}
