// Package job registers the recurring order and login maintenance jobs.
package job

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/scheduler"
	authsvc "github.com/satguru/tiffin/internal/service/auth"
	ordersvc "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/pkg/calendar"
)

// Job names, usable with `tiffin scheduler run <name>`.
const (
	DailyTiffinCount = "save_daily_tiffin_count"
	ResumePaused     = "check_paused_orders_hourly"
	ScheduledPauses  = "check_scheduled_pauses"
	RenewalReminders = "satguru_check_renewal_reminders"
	OTPCleanup       = "satguru_cleanup_expired_otps"
)

// Orders is the order surface the jobs drive.
type Orders interface {
	Today() calendar.Date
	SaveDailyTiffinCount(ctx context.Context, day calendar.Date) (*ordersvc.CountReport, error)
	ApplyScheduledPauses(ctx context.Context, today calendar.Date) (*ordersvc.PauseReport, error)
	ResumeExpiredPauses(ctx context.Context, today calendar.Date) (*ordersvc.PauseReport, error)
	SendRenewalReminders(ctx context.Context, today calendar.Date) (*ordersvc.ReminderReport, error)
}

// Challenges sweeps expired login challenges.
type Challenges interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Params defines dependencies for the job registrations.
type Params struct {
	fx.In

	Orders *ordersvc.Service
	Auth   *authsvc.Service
	Config config.Config
	Logger *zap.Logger
}

// Module contributes the jobs to the scheduler group.
var Module = fx.Module("job",
	fx.Provide(
		fx.Annotate(
			NewJobs,
			fx.ResultTags(`group:"scheduler.jobs,flatten"`),
		),
	),
)

// NewJobs wires the job list from Fx dependencies.
func NewJobs(p Params) []scheduler.Job {
	return Jobs(p.Orders, p.Auth, p.Config.Schedule, p.Logger)
}

// Jobs builds the recurring jobs on the specs of cfg.
func Jobs(orders Orders, challenges Challenges, cfg config.Schedule, logger *zap.Logger) []scheduler.Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("job")

	return []scheduler.Job{
		{
			Name: DailyTiffinCount,
			Spec: cfg.DailyTiffinCount,
			Run: func(ctx context.Context) error {
				report, err := orders.SaveDailyTiffinCount(ctx, orders.Today())
				if err != nil {
					return err
				}
				logger.Info("daily tiffin count saved",
					zap.Stringer("date", report.Date),
					zap.Int("snapshots", report.Snapshots),
					zap.Int64s("completed", report.Completed))
				return nil
			},
		},
		{
			Name: ResumePaused,
			Spec: cfg.ResumePaused,
			Run: func(ctx context.Context) error {
				report, err := orders.ResumeExpiredPauses(ctx, orders.Today())
				if err != nil {
					return err
				}
				logPauseReport(logger, "expired pauses checked", report)
				return nil
			},
		},
		{
			Name: ScheduledPauses,
			Spec: cfg.ScheduledPauses,
			Run: func(ctx context.Context) error {
				report, err := orders.ApplyScheduledPauses(ctx, orders.Today())
				if err != nil {
					return err
				}
				logPauseReport(logger, "scheduled pauses checked", report)
				return nil
			},
		},
		{
			Name: RenewalReminders,
			Spec: cfg.RenewalReminders,
			Run: func(ctx context.Context) error {
				report, err := orders.SendRenewalReminders(ctx, orders.Today())
				if err != nil {
					return err
				}
				logger.Info("renewal reminders sent",
					zap.Int("reminded", len(report.Reminded)),
					zap.Int("skipped", len(report.Skipped)))
				return nil
			},
		},
		{
			Name: OTPCleanup,
			Spec: cfg.OTPCleanup,
			Run: func(ctx context.Context) error {
				n, err := challenges.CleanupExpired(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("expired otp challenges removed", zap.Int("count", n))
				}
				return nil
			},
		},
	}
}

func logPauseReport(logger *zap.Logger, msg string, report *ordersvc.PauseReport) {
	fields := []zap.Field{
		zap.Stringer("date", report.Date),
		zap.Int64s("paused", report.Paused),
		zap.Int64s("resumed", report.Resumed),
	}
	if len(report.Failed) > 0 {
		logger.Warn(msg, append(fields, zap.Int64s("failed", report.Failed))...)
		return
	}
	logger.Info(msg, fields...)
}
