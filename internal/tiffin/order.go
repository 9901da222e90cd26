package tiffin

import (
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/pkg/calendar"
)

// Summary aggregates the counters of an order.
type Summary struct {
	Total        int           `json:"total_tiffins"`
	Delivered    int           `json:"delivered_tiffins"`
	Remaining    int           `json:"remaining_tiffins"`
	BoxesToday   int           `json:"boxes_today"`
	LastDelivery calendar.Date `json:"last_delivery"`
}

// SkippedDates returns every date on which the order does not deliver because of a pause.
func SkippedDates(order *entity.Order) calendar.DateSet {
	return order.SkippedDates.Union(order.PausedDates).Union(order.ScheduledPauseDates)
}

// Plans returns one plan per order item.
func Plans(order *entity.Order) []Plan {
	skipped := SkippedDates(order)
	plans := make([]Plan, 0, len(order.Items))
	for _, item := range order.Items {
		plans = append(plans, PlanFor(item, skipped))
	}
	return plans
}

// TotalTiffins sums the plan totals of the order.
func TotalTiffins(order *entity.Order) int {
	total := 0
	for _, p := range Plans(order) {
		total += p.Total
	}
	return total
}

// RemainingTiffins returns the deliveries still owed on the order as of d.
func RemainingTiffins(order *entity.Order, d calendar.Date) int {
	remaining := 0
	for _, p := range Plans(order) {
		remaining += p.Remaining(d)
	}
	return remaining
}

// BoxesForDate returns the number of boxes the order needs on d.
func BoxesForDate(order *entity.Order, d calendar.Date) int {
	boxes := 0
	for _, p := range Plans(order) {
		boxes += p.BoxesFor(d)
	}
	return boxes
}

// ShouldDisplay reports whether the order belongs on the delivery list for d.
func ShouldDisplay(order *entity.Order, d calendar.Date) bool {
	if order.Status != entity.StatusProcessing {
		return false
	}
	for _, p := range Plans(order) {
		if p.IsDeliveryDay(d) {
			return true
		}
	}
	return false
}

// Summarize computes all counters for the order as of d.
func Summarize(order *entity.Order, d calendar.Date) Summary {
	var s Summary
	for _, p := range Plans(order) {
		s.Total += p.Total
		s.Delivered += p.DeliveredBefore(d)
		s.Remaining += p.Remaining(d)
		s.BoxesToday += p.BoxesFor(d)
		if last, ok := p.LastDelivery(); ok && last.After(s.LastDelivery) {
			s.LastDelivery = last
		}
	}
	return s
}
