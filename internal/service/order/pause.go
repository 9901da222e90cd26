package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/entity"
	repo "github.com/satguru/tiffin/internal/repository/order"
	"github.com/satguru/tiffin/internal/tiffin"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

// Pause types.
const (
	PauseImmediate = "immediate"
	PauseScheduled = "scheduled"
)

// Authors recorded on history notes written by background jobs.
const (
	AuthorSystem    = "system"
	AuthorScheduler = "scheduler"
)

const maxStateAttempts = 3

// errUnchanged tells mutate that the order already has the requested state.
var errUnchanged = errors.New("order unchanged")

// mutate performs a read-modify-write of the order guarded by its version.
// On a version conflict the order is re-read and change re-applied.
func (s *Service) mutate(ctx context.Context, id int64, author string, change func(o *entity.Order) (string, error)) (*entity.Order, bool, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.mutate", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	for attempt := 1; attempt <= maxStateAttempts; attempt++ {
		order, err := s.store.GetFresh(ctx, id)
		if err != nil {
			return nil, false, s.loadErr(span, err)
		}
		expected := order.Version
		note, err := change(order)
		if errors.Is(err, errUnchanged) {
			return order, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		err = s.store.ApplyState(ctx, repo.StateChange{Order: order, ExpectedVersion: expected, Note: note, Author: author})
		if errors.Is(err, repo.ErrVersionConflict) {
			s.logger.Info("order version conflict, retrying", zap.Int64("order_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			failSpan(span, err, "repository error")
			return nil, false, errorbank.Internal("failed to update order", errorbank.WithCause(err))
		}
		s.invalidateToday(ctx)
		return order, true, nil
	}
	span.SetAttributes(attribute.Bool("order.conflict", true))
	return nil, false, errorbank.Conflict("order was modified concurrently, please retry")
}

// PauseRequest asks for deliveries of an order to stop on the given dates.
type PauseRequest struct {
	OrderID int64    `json:"order_id"`
	Dates   []string `json:"dates"`
	Type    string   `json:"pause_type"`
	Actor   string   `json:"-"`
}

// SavePauseDates pauses an order or records dates for the midnight job to apply. An
// immediate pause takes effect now only for the run of consecutive dates starting today;
// later dates wait in the scheduled set so the order keeps delivering in between.
// The number of newly paused dates may not exceed the remaining tiffins.
func (s *Service) SavePauseDates(ctx context.Context, req PauseRequest) (*entity.Order, error) {
	if req.OrderID <= 0 {
		return nil, errorbank.BadRequest("missing order id")
	}
	if len(req.Dates) == 0 {
		return nil, errorbank.BadRequest("no pause dates selected")
	}
	pauseType := strings.ToLower(strings.TrimSpace(req.Type))
	if pauseType == "" {
		pauseType = PauseImmediate
	}
	if pauseType != PauseImmediate && pauseType != PauseScheduled {
		return nil, errorbank.BadRequest(fmt.Sprintf("invalid pause type %q", req.Type))
	}
	dates, err := calendar.ParseDateSet(req.Dates)
	if err != nil {
		return nil, errorbank.BadRequest(err.Error())
	}
	today := s.Today()
	if first, _ := dates.Min(); first.Before(today) {
		return nil, errorbank.BadRequest(fmt.Sprintf("pause date %s is in the past", first))
	}

	var started calendar.DateSet
	order, changed, err := s.mutate(ctx, req.OrderID, req.Actor, func(o *entity.Order) (string, error) {
		if o.Status != entity.StatusProcessing && o.Status != entity.StatusPaused {
			return "", errorbank.Unprocessable(fmt.Sprintf("orders in status %q cannot be paused", o.Status))
		}
		fresh := dates.Difference(o.PausedDates.Union(o.ScheduledPauseDates))
		if fresh.Empty() {
			return "", errUnchanged
		}
		remaining := tiffin.RemainingTiffins(o, today)
		if fresh.Len() > remaining {
			return "", errorbank.Unprocessable("pause dates exceed remaining tiffins",
				errorbank.WithDetail("requested", fresh.Len()),
				errorbank.WithDetail("remaining", remaining))
		}
		o.ScheduledPauseDates = o.ScheduledPauseDates.Union(fresh)
		started = calendar.DateSet{}
		if pauseType == PauseImmediate {
			if moved, ok := activatePauses(o, today); ok {
				started = moved.OnOrAfter(today)
			}
		}
		if started.Empty() {
			return "Pause scheduled for: " + strings.Join(fresh.Strings(), ", "), nil
		}
		note := "Tiffin paused for: " + strings.Join(started.Strings(), ", ")
		if later := fresh.Difference(started); !later.Empty() {
			note += "; scheduled: " + strings.Join(later.Strings(), ", ")
		}
		return note, nil
	})
	if err != nil || !changed {
		return order, err
	}

	if started.Empty() {
		s.publish(ctx, EventPauseScheduled, order, &dates)
	} else {
		s.metrics.recordPaused(ctx, "manual")
		s.publish(ctx, EventOrderPaused, order, &started)
	}
	s.logger.Info("pause dates saved",
		zap.Int64("order_id", order.ID),
		zap.String("type", pauseType),
		zap.Strings("dates", dates.Strings()))
	return order, nil
}

// Resume returns a paused order to processing. Past paused dates stay skipped;
// future ones become delivery days again.
func (s *Service) Resume(ctx context.Context, orderID int64, actor string) (*entity.Order, error) {
	if orderID <= 0 {
		return nil, errorbank.BadRequest("missing order id")
	}
	today := s.Today()
	order, changed, err := s.mutate(ctx, orderID, actor, func(o *entity.Order) (string, error) {
		if o.Status != entity.StatusPaused {
			return "", errorbank.Unprocessable("order is not paused")
		}
		released := o.PausedDates.OnOrAfter(today)
		o.SkippedDates = o.SkippedDates.Union(o.PausedDates.Before(today)).Difference(released)
		o.PausedDates = calendar.DateSet{}
		o.Status = entity.StatusProcessing
		return "Tiffin resumed", nil
	})
	if err != nil || !changed {
		return order, err
	}
	s.metrics.recordResumed(ctx, "manual")
	s.publish(ctx, EventOrderResumed, order, nil)
	return order, nil
}

// CancelScheduledPause drops all scheduled pause dates of an order.
func (s *Service) CancelScheduledPause(ctx context.Context, orderID int64, actor string) (*entity.Order, error) {
	if orderID <= 0 {
		return nil, errorbank.BadRequest("missing order id")
	}
	var cancelled calendar.DateSet
	order, changed, err := s.mutate(ctx, orderID, actor, func(o *entity.Order) (string, error) {
		if o.ScheduledPauseDates.Empty() {
			return "", errorbank.Unprocessable("order has no scheduled pause")
		}
		cancelled = o.ScheduledPauseDates
		o.ScheduledPauseDates = calendar.DateSet{}
		return "Scheduled pause cancelled: " + strings.Join(cancelled.Strings(), ", "), nil
	})
	if err != nil || !changed {
		return order, err
	}
	s.publish(ctx, EventPauseCancelled, order, &cancelled)
	return order, nil
}

// PauseReport lists the orders a pause job acted on.
type PauseReport struct {
	Date    calendar.Date `json:"date"`
	Paused  []int64       `json:"paused"`
	Resumed []int64       `json:"resumed"`
	Failed  []int64       `json:"failed"`
}

// ApplyScheduledPauses activates scheduled pauses whose first date has arrived.
func (s *Service) ApplyScheduledPauses(ctx context.Context, today calendar.Date) (*PauseReport, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ApplyScheduledPauses")
	defer span.End()

	orders, err := s.store.WithScheduledPauses(ctx)
	if err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to load scheduled pauses", errorbank.WithCause(err))
	}
	report := &PauseReport{Date: today}
	for _, candidate := range orders {
		if first, ok := candidate.ScheduledPauseDates.Min(); !ok || first.After(today) {
			continue
		}
		var started bool
		var moved calendar.DateSet
		order, changed, err := s.mutate(ctx, candidate.ID, AuthorScheduler, func(o *entity.Order) (string, error) {
			if o.Status != entity.StatusProcessing && o.Status != entity.StatusPaused {
				return "", errUnchanged
			}
			moved, started = activatePauses(o, today)
			if moved.Empty() {
				return "", errUnchanged
			}
			if !started {
				return "Missed scheduled pause dates skipped: " + strings.Join(moved.Strings(), ", "), nil
			}
			return "Scheduled pause started for: " + strings.Join(moved.OnOrAfter(today).Strings(), ", "), nil
		})
		if err != nil {
			s.logger.Error("apply scheduled pause failed", zap.Int64("order_id", candidate.ID), zap.Error(err))
			report.Failed = append(report.Failed, candidate.ID)
			continue
		}
		if !changed || !started {
			continue
		}
		report.Paused = append(report.Paused, order.ID)
		s.metrics.recordPaused(ctx, "scheduled")
		active := moved.OnOrAfter(today)
		s.publish(ctx, EventOrderPaused, order, &active)
	}
	span.SetAttributes(attribute.Int("orders.paused", len(report.Paused)))
	return report, nil
}

// activatePauses puts the due scheduled dates of o into effect. Dates before today are
// skipped; the run of consecutive dates starting today pauses the order. Dates after a gap
// stay scheduled. It returns the dates taken out of the scheduled set and whether the order
// is paused today.
func activatePauses(o *entity.Order, today calendar.Date) (calendar.DateSet, bool) {
	scheduled := o.ScheduledPauseDates
	past := scheduled.Before(today)
	var run calendar.DateSet
	for d := today; scheduled.Contains(d) || (o.Status == entity.StatusPaused && o.PausedDates.Contains(d)); d = d.AddDays(1) {
		if scheduled.Contains(d) {
			run = run.Add(d)
		}
	}
	moved := past.Union(run)
	if moved.Empty() {
		return moved, false
	}
	o.ScheduledPauseDates = scheduled.Difference(moved)
	o.SkippedDates = o.SkippedDates.Union(moved)
	if run.Empty() {
		return moved, false
	}
	o.PausedDates = o.PausedDates.Union(run)
	o.Status = entity.StatusPaused
	return moved, true
}

// ResumeExpiredPauses resumes paused orders whose last paused date is before today.
func (s *Service) ResumeExpiredPauses(ctx context.Context, today calendar.Date) (*PauseReport, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ResumeExpiredPauses")
	defer span.End()

	orders, err := s.store.ByStatus(ctx, entity.StatusPaused)
	if err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to load paused orders", errorbank.WithCause(err))
	}
	report := &PauseReport{Date: today}
	for _, candidate := range orders {
		if !pauseExpired(candidate, today) {
			continue
		}
		order, changed, err := s.mutate(ctx, candidate.ID, AuthorScheduler, func(o *entity.Order) (string, error) {
			if o.Status != entity.StatusPaused || !pauseExpired(o, today) {
				return "", errUnchanged
			}
			o.SkippedDates = o.SkippedDates.Union(o.PausedDates)
			o.PausedDates = calendar.DateSet{}
			o.Status = entity.StatusProcessing
			return "Tiffin automatically resumed after pause period", nil
		})
		if err != nil {
			s.logger.Error("auto resume failed", zap.Int64("order_id", candidate.ID), zap.Error(err))
			report.Failed = append(report.Failed, candidate.ID)
			continue
		}
		if !changed {
			continue
		}
		report.Resumed = append(report.Resumed, order.ID)
		s.metrics.recordResumed(ctx, "scheduled")
		s.publish(ctx, EventOrderResumed, order, nil)
	}
	span.SetAttributes(attribute.Int("orders.resumed", len(report.Resumed)))
	return report, nil
}

func pauseExpired(o *entity.Order, today calendar.Date) bool {
	last, ok := o.PausedDates.Max()
	return ok && last.Before(today)
}

// CheckPausedOrders runs both pause jobs for today.
func (s *Service) CheckPausedOrders(ctx context.Context) (*PauseReport, error) {
	today := s.Today()
	paused, err := s.ApplyScheduledPauses(ctx, today)
	if err != nil {
		return nil, err
	}
	resumed, err := s.ResumeExpiredPauses(ctx, today)
	if err != nil {
		return nil, err
	}
	paused.Resumed = resumed.Resumed
	paused.Failed = append(paused.Failed, resumed.Failed...)
	return paused, nil
}

// ListPaused pages through paused orders and orders with scheduled pauses.
func (s *Service) ListPaused(ctx context.Context, page, perPage int, search string) (*Page, error) {
	return s.List(ctx, ListQuery{Paused: true, Page: page, PerPage: perPage, Search: search})
}
