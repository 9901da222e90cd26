package tiffin

import (
	"testing"

	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/pkg/calendar"
)

func d(s string) calendar.Date { return calendar.MustParse(s) }

// 2024-06-03 is a Monday.
func weekdayOrder() *entity.Order {
	return &entity.Order{
		Status: entity.StatusProcessing,
		Items: []*entity.OrderItem{{
			Quantity:        2,
			StartDate:       d("2024-06-03"),
			PreferredDays:   "Monday - Friday",
			NumberOfTiffins: 10,
		}},
	}
}

func TestRemainingSkipsWeekendsAndPauses(t *testing.T) {
	order := weekdayOrder()

	cases := []struct {
		asOf string
		want int
	}{
		{"2024-06-01", 10},
		{"2024-06-03", 10},
		{"2024-06-04", 9},
		{"2024-06-10", 5},
		{"2024-06-17", 0},
		{"2024-07-01", 0},
	}
	for _, tc := range cases {
		if got := RemainingTiffins(order, d(tc.asOf)); got != tc.want {
			t.Errorf("remaining as of %s = %d, want %d", tc.asOf, got, tc.want)
		}
	}

	order.SkippedDates = calendar.NewDateSet(d("2024-06-05"), d("2024-06-06"))
	if got := RemainingTiffins(order, d("2024-06-10")); got != 7 {
		t.Errorf("remaining with two skipped days = %d, want 7", got)
	}
	last, ok := Plans(order)[0].LastDelivery()
	if !ok || last != d("2024-06-18") {
		t.Errorf("last delivery = %s, want 2024-06-18", last)
	}
}

func TestBoxesAndDisplay(t *testing.T) {
	order := weekdayOrder()
	order.PausedDates = calendar.NewDateSet(d("2024-06-04"))

	if got := BoxesForDate(order, d("2024-06-03")); got != 2 {
		t.Errorf("boxes on monday = %d", got)
	}
	if got := BoxesForDate(order, d("2024-06-04")); got != 0 {
		t.Errorf("boxes on paused day = %d", got)
	}
	if got := BoxesForDate(order, d("2024-06-08")); got != 0 {
		t.Errorf("boxes on saturday = %d", got)
	}
	if !ShouldDisplay(order, d("2024-06-05")) {
		t.Errorf("processing order should display on a delivery day")
	}

	order.Status = entity.StatusPaused
	if ShouldDisplay(order, d("2024-06-05")) {
		t.Errorf("paused order must not display")
	}
}

func TestOneOffDelivery(t *testing.T) {
	order := &entity.Order{
		Status: entity.StatusProcessing,
		Items: []*entity.OrderItem{{
			Quantity:     1,
			DeliveryDate: d("2024-06-07"),
		}},
	}
	if !ShouldDisplay(order, d("2024-06-07")) || ShouldDisplay(order, d("2024-06-06")) {
		t.Errorf("one-off order should only display on its delivery date")
	}
	if RemainingTiffins(order, d("2024-06-07")) != 1 || RemainingTiffins(order, d("2024-06-08")) != 0 {
		t.Errorf("one-off remaining count mismatch")
	}
}

func TestSummarize(t *testing.T) {
	order := weekdayOrder()
	order.Items = append(order.Items, &entity.OrderItem{
		Quantity:        1,
		StartDate:       d("2024-06-03"),
		PreferredDays:   "Everyday",
		NumberOfTiffins: 3,
	})

	s := Summarize(order, d("2024-06-05"))
	if s.Total != 13 || s.Delivered != 4 || s.Remaining != 9 || s.BoxesToday != 3 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.LastDelivery != d("2024-06-14") {
		t.Errorf("last delivery = %s", s.LastDelivery)
	}
}
