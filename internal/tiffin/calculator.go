// Package tiffin computes delivery schedules and remaining-tiffin counts for subscription orders.
package tiffin

import (
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/pkg/calendar"
)

// Plan is the delivery schedule of a single order item.
type Plan struct {
	Start   calendar.Date
	OneOff  calendar.Date
	Days    calendar.WeekdaySet
	Total   int
	Boxes   int
	Skipped calendar.DateSet
}

// PlanFor derives the plan of item, skipping the supplied dates.
// Items with unparseable preferred days fall back to every day of the week.
func PlanFor(item *entity.OrderItem, skipped calendar.DateSet) Plan {
	days, err := calendar.ParseWeekdays(item.PreferredDays)
	if err != nil {
		days = calendar.Everyday
	}
	boxes := item.Quantity
	if boxes <= 0 {
		boxes = 1
	}
	total := item.NumberOfTiffins
	if total <= 0 && !item.DeliveryDate.IsZero() && item.StartDate.IsZero() {
		total = 1
	}
	return Plan{
		Start:   item.StartDate,
		OneOff:  item.DeliveryDate,
		Days:    days,
		Total:   total,
		Boxes:   boxes,
		Skipped: skipped,
	}
}

func (p Plan) oneOff() bool {
	return p.Start.IsZero() && !p.OneOff.IsZero()
}

func (p Plan) scheduled(d calendar.Date) bool {
	if p.oneOff() {
		return d == p.OneOff && !p.Skipped.Contains(d)
	}
	if p.Start.IsZero() || d.Before(p.Start) {
		return false
	}
	return p.Days.Has(d.Weekday()) && !p.Skipped.Contains(d)
}

// DeliveredBefore counts the deliveries that fall strictly before d, capped at the plan total.
func (p Plan) DeliveredBefore(d calendar.Date) int {
	if p.Total <= 0 {
		return 0
	}
	if p.oneOff() {
		if p.OneOff.Before(d) && !p.Skipped.Contains(p.OneOff) {
			return 1
		}
		return 0
	}
	if p.Start.IsZero() || p.Days == 0 {
		return 0
	}
	count := 0
	for day := p.Start; day.Before(d) && count < p.Total; day = day.AddDays(1) {
		if p.scheduled(day) {
			count++
		}
	}
	return count
}

// Remaining returns the deliveries still owed as of d.
func (p Plan) Remaining(d calendar.Date) int {
	r := p.Total - p.DeliveredBefore(d)
	if r < 0 {
		return 0
	}
	return r
}

// IsDeliveryDay reports whether the plan delivers on d.
func (p Plan) IsDeliveryDay(d calendar.Date) bool {
	if p.Total <= 0 || !p.scheduled(d) {
		return false
	}
	return p.DeliveredBefore(d) < p.Total
}

// BoxesFor returns the number of boxes delivered on d.
func (p Plan) BoxesFor(d calendar.Date) int {
	if p.IsDeliveryDay(d) {
		return p.Boxes
	}
	return 0
}

// LastDelivery returns the date of the final delivery; ok is false when nothing is scheduled.
func (p Plan) LastDelivery() (calendar.Date, bool) {
	if p.Total <= 0 {
		return calendar.Date{}, false
	}
	if p.oneOff() {
		if p.Skipped.Contains(p.OneOff) {
			return calendar.Date{}, false
		}
		return p.OneOff, true
	}
	if p.Start.IsZero() || p.Days == 0 {
		return calendar.Date{}, false
	}
	count := 0
	for day := p.Start; ; day = day.AddDays(1) {
		if p.scheduled(day) {
			count++
			if count == p.Total {
				return day, true
			}
		}
	}
}
