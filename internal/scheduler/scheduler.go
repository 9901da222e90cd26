// Package scheduler runs recurring jobs on cron specs in the configured timezone.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var (
	schedulerTracer = otel.Tracer("github.com/satguru/tiffin/scheduler")
	schedulerMeter  = otel.Meter("github.com/satguru/tiffin/scheduler")
)

// RunDurationMetric is the histogram of job run times in seconds.
const RunDurationMetric = "tiffin.scheduler.run.duration"

// Job binds a named task to a cron spec.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Config config.Config
	Logger *zap.Logger
	Jobs   []Job `group:"scheduler.jobs"`
}

// Scheduler owns the cron engine and the job registry.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	enabled bool
	timeout time.Duration
	logger  *zap.Logger
	runs    metric.Int64Counter
	took    metric.Float64Histogram
	mu      sync.Mutex
	running map[string]bool
}

// Module provides the scheduler without starting it.
var Module = fx.Provide(NewScheduler)

// Cron starts the scheduler with the application lifecycle.
var Cron = fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
})

// NewScheduler wires a Scheduler from Fx dependencies.
func NewScheduler(p Params) (*Scheduler, error) {
	s, err := New(p.Config.Schedule.Location, p.Logger, p.Jobs...)
	if err != nil {
		return nil, err
	}
	s.enabled = p.Config.Schedule.Enabled
	return s, nil
}

// New builds an enabled Scheduler for jobs. A nil location means UTC.
func New(loc *time.Location, logger *zap.Logger, jobs ...Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		jobs:    make(map[string]Job, len(jobs)),
		enabled: true,
		timeout: 30 * time.Minute,
		logger:  logger.Named("scheduler"),
		running: make(map[string]bool),
	}
	var err error
	if s.runs, err = schedulerMeter.Int64Counter("tiffin.scheduler.runs",
		metric.WithDescription("Scheduled job executions by outcome")); err != nil {
		s.logger.Warn("create runs counter", zap.Error(err))
	}
	if s.took, err = schedulerMeter.Float64Histogram(RunDurationMetric,
		metric.WithDescription("Scheduled job duration"), metric.WithUnit("s")); err != nil {
		s.logger.Warn("create duration histogram", zap.Error(err))
	}

	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			continue
		}
		if _, dup := s.jobs[job.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", job.Name)
		}
		if job.Spec != "" {
			if _, err := cron.ParseStandard(job.Spec); err != nil {
				return nil, fmt.Errorf("invalid cron spec %q for job %s: %w", job.Spec, job.Name, err)
			}
		}
		s.jobs[job.Name] = job
	}
	return s, nil
}

// Jobs lists the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start registers every job with a spec and starts the cron loop.
func (s *Scheduler) Start(context.Context) error {
	if !s.enabled {
		s.logger.Info("scheduler disabled")
		return nil
	}
	for _, job := range s.Jobs() {
		if job.Spec == "" {
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.Spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			_ = s.run(ctx, job, "cron")
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		s.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop halts the cron loop and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes the named job immediately.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return errorbank.NotFound(fmt.Sprintf("unknown job %q", name))
	}
	return s.run(ctx, job, "manual")
}

func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, job Job, trigger string) (err error) {
	if !s.acquire(job.Name) {
		s.logger.Warn("job already running; skipping", zap.String("job", job.Name))
		s.count(ctx, job.Name, "skipped")
		return errorbank.Conflict(fmt.Sprintf("job %s is already running", job.Name))
	}
	defer s.release(job.Name)

	ctx, span := schedulerTracer.Start(ctx, "scheduler."+job.Name, trace.WithAttributes(
		attribute.String("job.name", job.Name),
		attribute.String("job.trigger", trigger),
	))
	defer span.End()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, "job failed")
			s.logger.Error("job failed",
				zap.String("job", job.Name),
				zap.String("trigger", trigger),
				zap.Duration("took", time.Since(started)),
				zap.Error(err))
		} else {
			s.logger.Info("job finished",
				zap.String("job", job.Name),
				zap.String("trigger", trigger),
				zap.Duration("took", time.Since(started)))
		}
		s.count(ctx, job.Name, outcome)
		if s.took != nil {
			s.took.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attribute.String("job", job.Name)))
		}
	}()

	return job.Run(ctx)
}

func (s *Scheduler) count(ctx context.Context, name, outcome string) {
	if s.runs != nil {
		s.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job", name),
			attribute.String("outcome", outcome),
		))
	}
}
