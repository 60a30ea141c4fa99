// Package janitor runs the cache's periodic maintenance on cron schedules:
// purging expired entries and, optionally, generating optimization
// suggestions for operators to review.
package janitor

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// Job names, used as metric labels.
const (
	JobPurge   = "purge"
	JobAdvisor = "advisor"
)

// Runs tracks scheduled job executions
var Runs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_janitor_runs_total",
		Help: "Total number of janitor job runs",
	},
	[]string{"job"},
)

// Config holds the job schedules in standard cron syntax or descriptors
// such as "@every 1m". An empty schedule disables the job.
type Config struct {
	PurgeSchedule   string `mapstructure:"purge_schedule"`
	AdvisorSchedule string `mapstructure:"advisor_schedule"`
}

// Janitor schedules maintenance jobs against a cache manager.
type Janitor struct {
	cron    *cron.Cron
	manager *cache.Manager
	logger  zerolog.Logger
}

// New creates a janitor. Jobs start running after Start.
func New(manager *cache.Manager, cfg Config) (*Janitor, error) {
	logger := log.With().Str("component", "janitor").Logger()
	cl := cronLogger{logger: logger}

	j := &Janitor{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		manager: manager,
		logger:  logger,
	}

	if cfg.PurgeSchedule != "" {
		if _, err := j.cron.AddFunc(cfg.PurgeSchedule, func() { j.Purge(context.Background()) }); err != nil {
			return nil, fmt.Errorf("purge schedule %q: %w", cfg.PurgeSchedule, err)
		}
	}
	if cfg.AdvisorSchedule != "" {
		if _, err := j.cron.AddFunc(cfg.AdvisorSchedule, func() { j.Advise() }); err != nil {
			return nil, fmt.Errorf("advisor schedule %q: %w", cfg.AdvisorSchedule, err)
		}
	}

	return j, nil
}

// Jobs returns the number of scheduled jobs.
func (j *Janitor) Jobs() int {
	return len(j.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().Int("jobs", j.Jobs()).Msg("Janitor started")
}

// Stop halts the scheduler and waits for running jobs or ctx, whichever
// comes first.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		j.logger.Warn().Msg("Janitor stop timed out with jobs still running")
		return
	}
	j.logger.Info().Msg("Janitor stopped")
}

// Purge removes expired entries from every strategy.
func (j *Janitor) Purge(ctx context.Context) int {
	Runs.WithLabelValues(JobPurge).Inc()
	n := j.manager.PurgeExpired(ctx)
	j.logger.Debug().Int("removed", n).Msg("Expired entries purged")
	return n
}

// Advise generates optimization suggestions and logs them. Suggestions are
// never applied automatically.
func (j *Janitor) Advise() []cache.OptimizationSuggestion {
	Runs.WithLabelValues(JobAdvisor).Inc()
	sgs := j.manager.GenerateOptimizations()
	for _, sg := range sgs {
		j.logger.Info().
			Str("suggestion", sg.ID).
			Str("strategy", sg.StrategyID).
			Str("kind", string(sg.Kind)).
			Str("impact", string(sg.EstimatedImpact)).
			Str("rationale", sg.Rationale).
			Msg("Optimization suggested")
	}
	return sgs
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
