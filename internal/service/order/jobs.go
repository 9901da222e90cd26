package order

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/notify"
	"github.com/satguru/tiffin/internal/tiffin"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

// CountReport summarises a daily tiffin count run.
type CountReport struct {
	Date      calendar.Date `json:"date"`
	Snapshots int           `json:"snapshots"`
	Completed []int64       `json:"completed"`
}

// SaveDailyTiffinCount records the end-of-day counters of every active order and
// completes processing orders that have nothing left to deliver.
func (s *Service) SaveDailyTiffinCount(ctx context.Context, day calendar.Date) (*CountReport, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.SaveDailyTiffinCount")
	defer span.End()

	orders, err := s.store.ByStatus(ctx, entity.StatusProcessing, entity.StatusPaused)
	if err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to load orders", errorbank.WithCause(err))
	}

	next := day.AddDays(1)
	report := &CountReport{Date: day}
	snapshots := make([]*entity.TiffinSnapshot, 0, len(orders))
	var exhausted []*entity.Order
	for _, o := range orders {
		summary := tiffin.Summarize(o, next)
		snapshots = append(snapshots, &entity.TiffinSnapshot{
			OrderID:      o.ID,
			SnapshotDate: day,
			Total:        summary.Total,
			Delivered:    summary.Delivered,
			Remaining:    summary.Remaining,
			Boxes:        tiffin.BoxesForDate(o, day),
			Status:       o.Status,
			CreatedAt:    s.now().UTC(),
		})
		if o.Status == entity.StatusProcessing && summary.Total > 0 && summary.Remaining == 0 {
			exhausted = append(exhausted, o)
		}
	}
	if err := s.store.SaveSnapshots(ctx, snapshots); err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to save tiffin counts", errorbank.WithCause(err))
	}
	report.Snapshots = len(snapshots)

	for _, candidate := range exhausted {
		order, changed, err := s.mutate(ctx, candidate.ID, AuthorSystem, func(o *entity.Order) (string, error) {
			if o.Status != entity.StatusProcessing || tiffin.RemainingTiffins(o, next) > 0 {
				return "", errUnchanged
			}
			o.Status = entity.StatusCompleted
			return "All tiffins delivered, order completed", nil
		})
		if err != nil {
			s.logger.Error("auto complete failed", zap.Int64("order_id", candidate.ID), zap.Error(err))
			continue
		}
		if changed {
			report.Completed = append(report.Completed, order.ID)
			s.publish(ctx, EventOrderCompleted, order, nil)
		}
	}
	span.SetAttributes(attribute.Int("snapshots", report.Snapshots), attribute.Int("orders.completed", len(report.Completed)))
	return report, nil
}

// ReminderReport summarises a renewal reminder run.
type ReminderReport struct {
	Reminded []int64 `json:"reminded"`
	Skipped  []int64 `json:"skipped"`
}

// SendRenewalReminders notifies customers whose subscriptions are nearly used up.
// Each order is reminded once.
func (s *Service) SendRenewalReminders(ctx context.Context, today calendar.Date) (*ReminderReport, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.SendRenewalReminders")
	defer span.End()

	orders, err := s.store.ByStatus(ctx, entity.StatusProcessing)
	if err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to load orders", errorbank.WithCause(err))
	}

	report := &ReminderReport{}
	for _, o := range orders {
		if o.RenewalRemindedAt != nil {
			continue
		}
		remaining := tiffin.RemainingTiffins(o, today)
		if remaining == 0 || remaining > s.renewal.threshold {
			continue
		}
		msg, ok := s.reminderMessage(o, remaining)
		if !ok {
			report.Skipped = append(report.Skipped, o.ID)
			continue
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("renewal reminder not delivered", zap.Int64("order_id", o.ID), zap.Error(err))
			report.Skipped = append(report.Skipped, o.ID)
			continue
		}

		sentAt := s.now().UTC()
		_, _, err := s.mutate(ctx, o.ID, AuthorSystem, func(fresh *entity.Order) (string, error) {
			if fresh.RenewalRemindedAt != nil {
				return "", errUnchanged
			}
			fresh.RenewalRemindedAt = &sentAt
			return fmt.Sprintf("Renewal reminder sent via %s", msg.Channel), nil
		})
		if err != nil {
			s.logger.Error("record renewal reminder failed", zap.Int64("order_id", o.ID), zap.Error(err))
			continue
		}
		report.Reminded = append(report.Reminded, o.ID)
	}
	span.SetAttributes(attribute.Int("orders.reminded", len(report.Reminded)))
	return report, nil
}

func (s *Service) reminderMessage(o *entity.Order, remaining int) (notify.Message, bool) {
	body := fmt.Sprintf("Hi %s, your %s order %s has %d tiffin(s) remaining. Reorder any time at %s/account/orders/%d.",
		o.CustomerName, s.renewal.storeName, o.Number, remaining, s.renewal.siteURL, o.ID)
	if s.notifier == nil {
		return notify.Message{}, false
	}
	if o.Phone != "" && s.notifier.Enabled(notify.ChannelWhatsApp) {
		return notify.Message{Channel: notify.ChannelWhatsApp, To: o.Phone, Body: body}, true
	}
	if o.Email != "" && s.notifier.Enabled(notify.ChannelEmail) {
		return notify.Message{
			Channel: notify.ChannelEmail,
			To:      o.Email,
			Subject: fmt.Sprintf("Your %s subscription is almost complete", s.renewal.storeName),
			Body:    body,
		}, true
	}
	return notify.Message{}, false
}
