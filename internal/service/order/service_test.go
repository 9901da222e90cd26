package order

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/cache"
	"github.com/satguru/tiffin/internal/config"
	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/messaging"
	"github.com/satguru/tiffin/internal/notify"
	repo "github.com/satguru/tiffin/internal/repository/order"
	catalogsvc "github.com/satguru/tiffin/internal/service/catalog"
	"github.com/satguru/tiffin/internal/tiffin"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

type fakeStore struct {
	mu        sync.Mutex
	orders    map[int64]*entity.Order
	notes     []*entity.OrderNote
	snapshots []*entity.TiffinSnapshot
	nextID    int64
	conflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[int64]*entity.Order{}}
}

func clone(o *entity.Order) *entity.Order {
	c := *o
	return &c
}

func (f *fakeStore) put(o *entity.Order) *entity.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.ID = f.nextID
	if o.Version == 0 {
		o.Version = 1
	}
	f.orders[o.ID] = clone(o)
	return o
}

func (f *fakeStore) get(id int64) *entity.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clone(f.orders[id])
}

func (f *fakeStore) Create(_ context.Context, o *entity.Order) error {
	f.put(o)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(o), nil
}

func (f *fakeStore) GetFresh(ctx context.Context, id int64) (*entity.Order, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeStore) GetByToken(_ context.Context, token string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.AccessToken == token {
			return clone(o), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) List(_ context.Context, flt repo.Filter) ([]*entity.Order, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Order
	for id := int64(1); id <= f.nextID; id++ {
		o, ok := f.orders[id]
		if !ok {
			continue
		}
		if flt.UserID != nil && (o.UserID == nil || *o.UserID != *flt.UserID) {
			continue
		}
		if flt.Paused && o.Status != entity.StatusPaused && (o.Status != entity.StatusProcessing || o.ScheduledPauseDates.Empty()) {
			continue
		}
		out = append(out, clone(o))
	}
	return out, len(out), nil
}

func (f *fakeStore) ApplyState(_ context.Context, change repo.StateChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[change.Order.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if f.conflicts > 0 {
		f.conflicts--
		stored.Version++
		return repo.ErrVersionConflict
	}
	if stored.Version != change.ExpectedVersion {
		return repo.ErrVersionConflict
	}
	change.Order.Version = change.ExpectedVersion + 1
	f.orders[change.Order.ID] = clone(change.Order)
	if change.Note != "" {
		f.notes = append(f.notes, &entity.OrderNote{OrderID: change.Order.ID, Note: change.Note, Author: change.Author})
	}
	return nil
}

func (f *fakeStore) AddNote(_ context.Context, n *entity.OrderNote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeStore) Notes(_ context.Context, orderID int64) ([]*entity.OrderNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.OrderNote
	for _, n := range f.notes {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) WithScheduledPauses(context.Context) ([]*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Order
	for _, o := range f.orders {
		if !o.ScheduledPauseDates.Empty() {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (f *fakeStore) ByStatus(_ context.Context, statuses ...string) ([]*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Order
	for id := int64(1); id <= f.nextID; id++ {
		o, ok := f.orders[id]
		if !ok {
			continue
		}
		for _, st := range statuses {
			if o.Status == st {
				out = append(out, clone(o))
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) SaveSnapshots(_ context.Context, s []*entity.TiffinSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, s...)
	return nil
}

func (f *fakeStore) Snapshots(_ context.Context, orderID int64, _, _ calendar.Date) ([]*entity.TiffinSnapshot, error) {
	var out []*entity.TiffinSnapshot
	for _, s := range f.snapshots {
		if s.OrderID == orderID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakePricer struct{}

func (fakePricer) Quote(_ context.Context, req catalogsvc.PriceRequest) (*catalogsvc.Quote, error) {
	if req.ProductID == 404 {
		return nil, errorbank.NotFound("product not found")
	}
	unit := decimal.NewFromInt(12)
	return &catalogsvc.Quote{
		ProductID:   req.ProductID,
		ProductName: "Veg Tiffin",
		Quantity:    req.Quantity,
		UnitPrice:   unit,
		LineTotal:   unit.Mul(decimal.NewFromInt(int64(req.Quantity))),
	}, nil
}

type published struct {
	key     string
	value   []byte
	headers map[string]string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(_ context.Context, key, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{key: string(key), value: value, headers: headers})
	return nil
}

func (p *fakePublisher) Consume(context.Context, messaging.Handler) error { return nil }
func (p *fakePublisher) Topic() string                                     { return "orders" }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.headers[messaging.HeaderEventType])
	}
	return out
}

type fakeNotifier struct {
	sent []notify.Message
}

func (n *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) Enabled(ch notify.Channel) bool { return ch == notify.ChannelWhatsApp }

var today = calendar.MustParse("2024-06-10") // Monday

type harness struct {
	svc      *Service
	store    *fakeStore
	pub      *fakePublisher
	notifier *fakeNotifier
	cache    *cache.MemoryStore
}

func newHarness(t *testing.T) harness {
	t.Helper()
	cfg := config.Config{}
	cfg.Messaging.Enabled = true
	cfg.Schedule.Location = time.UTC
	cfg.Schedule.RenewalThreshold = 3
	cfg.Schedule.TodaysOrdersCache = time.Minute
	cfg.Store.Name = "Satguru Tiffin"
	cfg.Store.SiteURL = "https://example.test"

	h := harness{
		store:    newFakeStore(),
		pub:      &fakePublisher{},
		notifier: &fakeNotifier{},
		cache:    cache.NewMemoryStore(time.Minute),
	}
	h.svc = New(h.store, fakePricer{}, h.cache, h.pub, h.notifier, cfg, zaptest.NewLogger(t))
	h.svc.now = func() time.Time { return today.Time(time.UTC).Add(12 * time.Hour) }
	return h
}

// subscription starts Monday 2024-06-03, weekdays only.
func (h harness) subscription(tiffins int) *entity.Order {
	return h.store.put(&entity.Order{
		Number:       "TF-1",
		CustomerName: "Asha",
		Phone:        "4165550100",
		Status:       entity.StatusProcessing,
		Items: []*entity.OrderItem{{
			ProductID:       1,
			Quantity:        1,
			StartDate:       calendar.MustParse("2024-06-03"),
			PreferredDays:   "Monday - Friday",
			NumberOfTiffins: tiffins,
		}},
	})
}

func TestSavePauseDatesImmediate(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)

	got, err := h.svc.SavePauseDates(context.Background(), PauseRequest{
		OrderID: o.ID, Dates: []string{"2024-06-11", "2024-06-10"}, Type: PauseImmediate, Actor: "admin",
	})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got.Status != entity.StatusPaused {
		t.Fatalf("status = %s", got.Status)
	}
	stored := h.store.get(o.ID)
	if stored.PausedDates.Len() != 2 || !stored.SkippedDates.Contains(calendar.MustParse("2024-06-11")) {
		t.Fatalf("pause sets not stored: %+v", stored)
	}
	if stored.Version != 2 {
		t.Fatalf("version = %d", stored.Version)
	}
	if types := h.pub.types(); len(types) != 1 || types[0] != EventOrderPaused {
		t.Fatalf("events = %v", types)
	}
	var event OrderEvent
	if err := json.Unmarshal(h.pub.msgs[0].value, &event); err != nil {
		t.Fatal(err)
	}
	if len(event.Dates) != 2 || event.Dates[0] != "2024-06-10" {
		t.Fatalf("event dates = %v", event.Dates)
	}
	if len(h.store.notes) != 1 || h.store.notes[0].Author != "admin" {
		t.Fatalf("notes = %+v", h.store.notes)
	}
}

func TestPauseLeavesGapDaysOnTheDeliveryList(t *testing.T) {
	tests := []struct {
		name      string
		dates     []string
		pauseType string
		delivered []string
	}{
		{
			name:      "immediate pause starting later",
			dates:     []string{"2024-06-13", "2024-06-14"},
			pauseType: PauseImmediate,
			delivered: []string{"2024-06-10", "2024-06-11", "2024-06-12", "2024-06-17", "2024-06-18"},
		},
		{
			name:      "scheduled pause with a gap",
			dates:     []string{"2024-06-11", "2024-06-13"},
			pauseType: PauseScheduled,
			delivered: []string{"2024-06-10", "2024-06-12", "2024-06-14", "2024-06-17", "2024-06-18"},
		},
		{
			name:      "immediate pause from today with a gap",
			dates:     []string{"2024-06-10", "2024-06-12"},
			pauseType: PauseImmediate,
			delivered: []string{"2024-06-11", "2024-06-13", "2024-06-14", "2024-06-17", "2024-06-18"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			o := h.subscription(10) // five delivered in the week of 2024-06-03
			ctx := context.Background()

			if _, err := h.svc.SavePauseDates(ctx, PauseRequest{OrderID: o.ID, Dates: tc.dates, Type: tc.pauseType}); err != nil {
				t.Fatalf("pause: %v", err)
			}

			var delivered []string
			for d := today; d.Before(calendar.MustParse("2024-07-01")); d = d.AddDays(1) {
				if _, err := h.svc.ResumeExpiredPauses(ctx, d); err != nil {
					t.Fatal(err)
				}
				if _, err := h.svc.ApplyScheduledPauses(ctx, d); err != nil {
					t.Fatal(err)
				}
				if tiffin.ShouldDisplay(h.store.get(o.ID), d) {
					delivered = append(delivered, d.String())
				}
			}
			if strings.Join(delivered, ",") != strings.Join(tc.delivered, ",") {
				t.Fatalf("delivered on %v, want %v", delivered, tc.delivered)
			}
			stored := h.store.get(o.ID)
			if got := tiffin.RemainingTiffins(stored, calendar.MustParse("2024-07-01")); got != 0 {
				t.Fatalf("remaining after schedule = %d", got)
			}
			if stored.Status != entity.StatusProcessing || !stored.PausedDates.Empty() || !stored.ScheduledPauseDates.Empty() {
				t.Fatalf("pause state left behind: %+v", stored)
			}
		})
	}
}

func TestSavePauseDatesValidation(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10) // 5 remaining on 2024-06-10

	cases := []struct {
		name string
		req  PauseRequest
		want errorbank.Kind
	}{
		{"missing order", PauseRequest{Dates: []string{"2024-06-11"}}, errorbank.KindBadRequest},
		{"no dates", PauseRequest{OrderID: o.ID}, errorbank.KindBadRequest},
		{"bad date", PauseRequest{OrderID: o.ID, Dates: []string{"11/06/2024"}}, errorbank.KindBadRequest},
		{"past date", PauseRequest{OrderID: o.ID, Dates: []string{"2024-06-07"}}, errorbank.KindBadRequest},
		{"bad type", PauseRequest{OrderID: o.ID, Dates: []string{"2024-06-11"}, Type: "later"}, errorbank.KindBadRequest},
		{"unknown order", PauseRequest{OrderID: 99, Dates: []string{"2024-06-11"}}, errorbank.KindNotFound},
		{"exceeds remaining", PauseRequest{OrderID: o.ID, Dates: []string{
			"2024-06-11", "2024-06-12", "2024-06-13", "2024-06-14", "2024-06-17", "2024-06-18",
		}}, errorbank.KindUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.SavePauseDates(context.Background(), tc.req)
			if errorbank.KindOf(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
	if h.store.get(o.ID).Status != entity.StatusProcessing {
		t.Fatalf("rejected pause must not change the order")
	}

	done := h.subscription(10)
	completed := h.store.get(done.ID)
	completed.Status = entity.StatusCompleted
	h.store.orders[done.ID] = completed
	_, err := h.svc.SavePauseDates(context.Background(), PauseRequest{OrderID: done.ID, Dates: []string{"2024-06-11"}})
	if errorbank.KindOf(err) != errorbank.KindUnprocessableEntity {
		t.Fatalf("completed order: got %v", err)
	}
}

func TestScheduledPauseActivatesOnFirstDate(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)
	ctx := context.Background()

	got, err := h.svc.SavePauseDates(ctx, PauseRequest{OrderID: o.ID, Dates: []string{"2024-06-12", "2024-06-13"}, Type: PauseScheduled})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != entity.StatusProcessing || got.ScheduledPauseDates.Len() != 2 {
		t.Fatalf("scheduled pause must leave the order processing: %+v", got)
	}

	report, err := h.svc.ApplyScheduledPauses(ctx, calendar.MustParse("2024-06-11"))
	if err != nil || len(report.Paused) != 0 {
		t.Fatalf("early run: %+v %v", report, err)
	}

	report, err = h.svc.ApplyScheduledPauses(ctx, calendar.MustParse("2024-06-12"))
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Paused) != 1 {
		t.Fatalf("report = %+v", report)
	}
	stored := h.store.get(o.ID)
	if stored.Status != entity.StatusPaused || !stored.ScheduledPauseDates.Empty() || stored.PausedDates.Len() != 2 {
		t.Fatalf("unexpected order state: %+v", stored)
	}

	want := []string{EventPauseScheduled, EventOrderPaused}
	if types := h.pub.types(); len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
		t.Fatalf("events = %v", types)
	}
}

func TestResumeExpiredPausesIsIdempotent(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)
	stored := h.store.get(o.ID)
	stored.Status = entity.StatusPaused
	stored.PausedDates = calendar.NewDateSet(calendar.MustParse("2024-06-06"), calendar.MustParse("2024-06-07"))
	stored.SkippedDates = stored.PausedDates
	h.store.orders[o.ID] = stored

	future := h.subscription(10)
	pending := h.store.get(future.ID)
	pending.Status = entity.StatusPaused
	pending.PausedDates = calendar.NewDateSet(calendar.MustParse("2024-06-10"))
	h.store.orders[future.ID] = pending

	ctx := context.Background()
	report, err := h.svc.ResumeExpiredPauses(ctx, today)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Resumed) != 1 || report.Resumed[0] != o.ID {
		t.Fatalf("report = %+v", report)
	}
	resumed := h.store.get(o.ID)
	if resumed.Status != entity.StatusProcessing || !resumed.PausedDates.Empty() {
		t.Fatalf("order not resumed: %+v", resumed)
	}
	if resumed.SkippedDates.Len() != 2 {
		t.Fatalf("past pause dates must stay skipped: %v", resumed.SkippedDates.Strings())
	}
	if h.store.get(future.ID).Status != entity.StatusPaused {
		t.Fatalf("pause ending today must not be resumed yet")
	}

	again, err := h.svc.ResumeExpiredPauses(ctx, today)
	if err != nil || len(again.Resumed) != 0 {
		t.Fatalf("second run should be a no-op: %+v %v", again, err)
	}
	if v := h.store.get(o.ID).Version; v != 2 {
		t.Fatalf("version = %d, want 2", v)
	}
}

func TestManualResumeReleasesFutureDates(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)
	stored := h.store.get(o.ID)
	stored.Status = entity.StatusPaused
	stored.PausedDates = calendar.NewDateSet(calendar.MustParse("2024-06-07"), calendar.MustParse("2024-06-12"))
	stored.SkippedDates = stored.PausedDates
	h.store.orders[o.ID] = stored

	got, err := h.svc.Resume(context.Background(), o.ID, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != entity.StatusProcessing || !got.PausedDates.Empty() {
		t.Fatalf("not resumed: %+v", got)
	}
	if !got.SkippedDates.Contains(calendar.MustParse("2024-06-07")) || got.SkippedDates.Contains(calendar.MustParse("2024-06-12")) {
		t.Fatalf("skipped = %v", got.SkippedDates.Strings())
	}

	if _, err := h.svc.Resume(context.Background(), o.ID, "admin"); errorbank.KindOf(err) != errorbank.KindUnprocessableEntity {
		t.Fatalf("resuming a processing order: got %v", err)
	}
}

func TestCancelScheduledPause(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)
	ctx := context.Background()
	if _, err := h.svc.SavePauseDates(ctx, PauseRequest{OrderID: o.ID, Dates: []string{"2024-06-14"}, Type: PauseScheduled}); err != nil {
		t.Fatal(err)
	}
	got, err := h.svc.CancelScheduledPause(ctx, o.ID, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if !got.ScheduledPauseDates.Empty() {
		t.Fatalf("scheduled dates remain: %v", got.ScheduledPauseDates.Strings())
	}
	if _, err := h.svc.CancelScheduledPause(ctx, o.ID, "admin"); errorbank.KindOf(err) != errorbank.KindUnprocessableEntity {
		t.Fatalf("second cancel: got %v", err)
	}
}

func TestUpdateDetailsKeepsPauseStateOnItsOwnPath(t *testing.T) {
	str := func(v string) *string { return &v }
	ctx := context.Background()

	t.Run("status rules", func(t *testing.T) {
		h := newHarness(t)
		active := h.subscription(10)
		paused := h.subscription(10)
		stored := h.store.get(paused.ID)
		stored.Status = entity.StatusPaused
		stored.PausedDates = calendar.NewDateSet(today, today.AddDays(1))
		stored.SkippedDates = stored.PausedDates
		h.store.orders[paused.ID] = stored

		tests := []struct {
			name   string
			id     int64
			status string
			want   errorbank.Kind
		}{
			{name: "pause by status", id: active.ID, status: "paused", want: errorbank.KindUnprocessableEntity},
			{name: "resume by status", id: paused.ID, status: "wc-processing", want: errorbank.KindUnprocessableEntity},
			{name: "unknown status", id: active.ID, status: "shipped", want: errorbank.KindBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.svc.UpdateDetails(ctx, tt.id, DetailsUpdate{Status: str(tt.status)}, "admin")
				if got := errorbank.KindOf(err); got != tt.want {
					t.Fatalf("kind = %s (%v), want %s", got, err, tt.want)
				}
			})
		}
		if o := h.store.get(paused.ID); o.Status != entity.StatusPaused || o.Version != 1 {
			t.Fatalf("rejected update was written: %+v", o)
		}
	})

	t.Run("leaving the schedule drops pending pauses", func(t *testing.T) {
		h := newHarness(t)
		o := h.subscription(10)
		if _, err := h.svc.SavePauseDates(ctx, PauseRequest{OrderID: o.ID, Dates: []string{"2024-06-10", "2024-06-13"}, Type: PauseImmediate}); err != nil {
			t.Fatal(err)
		}

		got, err := h.svc.UpdateDetails(ctx, o.ID, DetailsUpdate{Status: str("cancelled")}, "admin")
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.Status != entity.StatusCancelled || !got.PausedDates.Empty() || !got.ScheduledPauseDates.Empty() {
			t.Fatalf("pause state kept: %+v", got)
		}
		if !got.SkippedDates.Contains(today) {
			t.Fatalf("paused day lost from skipped: %v", got.SkippedDates.Strings())
		}
		if _, err := h.svc.ApplyScheduledPauses(ctx, calendar.MustParse("2024-06-13")); err != nil {
			t.Fatal(err)
		}
		if s := h.store.get(o.ID); s.Status != entity.StatusCancelled {
			t.Fatalf("scheduler revived the order: %s", s.Status)
		}
	})

	t.Run("concurrent writer", func(t *testing.T) {
		h := newHarness(t)
		o := h.subscription(10)
		h.store.conflicts = 1

		got, err := h.svc.UpdateDetails(ctx, o.ID, DetailsUpdate{CustomerName: str(" Asha Rao "), City: str("Brampton")}, "admin")
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		stored := h.store.get(o.ID)
		if stored.CustomerName != "Asha Rao" || stored.City != "Brampton" || stored.Version != 3 {
			t.Fatalf("stored = %+v", stored)
		}
		if got.Version != stored.Version {
			t.Fatalf("returned version %d, stored %d", got.Version, stored.Version)
		}
	})
}

func TestMutateRetriesVersionConflicts(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)

	h.store.conflicts = maxStateAttempts - 1
	if _, err := h.svc.SavePauseDates(context.Background(), PauseRequest{OrderID: o.ID, Dates: []string{"2024-06-11"}}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}

	other := h.subscription(10)
	h.store.conflicts = maxStateAttempts
	_, err := h.svc.SavePauseDates(context.Background(), PauseRequest{OrderID: other.ID, Dates: []string{"2024-06-11"}})
	if errorbank.KindOf(err) != errorbank.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSaveDailyTiffinCountCompletesExhaustedOrders(t *testing.T) {
	h := newHarness(t)
	finished := h.subscription(5)  // last delivery Friday 2024-06-07
	ongoing := h.subscription(10) // five left after 2024-06-07

	early, err := h.svc.SaveDailyTiffinCount(context.Background(), calendar.MustParse("2024-06-06"))
	if err != nil {
		t.Fatal(err)
	}
	if len(early.Completed) != 0 {
		t.Fatalf("order with a delivery left was completed: %v", early.Completed)
	}

	// the final delivery day itself closes the order once its count is taken
	report, err := h.svc.SaveDailyTiffinCount(context.Background(), calendar.MustParse("2024-06-07"))
	if err != nil {
		t.Fatal(err)
	}
	if report.Snapshots != 2 {
		t.Fatalf("snapshots = %d", report.Snapshots)
	}
	if len(report.Completed) != 1 || report.Completed[0] != finished.ID {
		t.Fatalf("completed = %v", report.Completed)
	}
	if h.store.get(ongoing.ID).Status != entity.StatusProcessing {
		t.Fatalf("ongoing order must stay processing")
	}
	for _, s := range h.store.snapshots {
		if s.OrderID == ongoing.ID && s.SnapshotDate == calendar.MustParse("2024-06-07") && (s.Delivered != 5 || s.Remaining != 5 || s.Boxes != 1) {
			t.Fatalf("snapshot = %+v", s)
		}
	}
}

func TestSendRenewalRemindersOnce(t *testing.T) {
	h := newHarness(t)
	low := h.subscription(7)   // 2 remaining on 2024-06-10
	plenty := h.subscription(20)

	ctx := context.Background()
	report, err := h.svc.SendRenewalReminders(ctx, today)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Reminded) != 1 || report.Reminded[0] != low.ID {
		t.Fatalf("report = %+v", report)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].Channel != notify.ChannelWhatsApp {
		t.Fatalf("sent = %+v", h.notifier.sent)
	}
	if h.store.get(low.ID).RenewalRemindedAt == nil {
		t.Fatalf("reminder not recorded")
	}
	if h.store.get(plenty.ID).RenewalRemindedAt != nil {
		t.Fatalf("order with plenty remaining was reminded")
	}

	again, err := h.svc.SendRenewalReminders(ctx, today)
	if err != nil || len(again.Reminded) != 0 || len(h.notifier.sent) != 1 {
		t.Fatalf("second run should not remind again: %+v %v", again, err)
	}
}

func TestTodaysOrdersCachedAndInvalidated(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)
	ctx := context.Background()

	rows, err := h.svc.TodaysOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Boxes != 1 || rows[0].Remaining != 5 {
		t.Fatalf("rows = %+v", rows)
	}
	if _, err := h.cache.Get(ctx, "orders:today:2024-06-10"); err != nil {
		t.Fatalf("expected cached rows: %v", err)
	}

	if _, err := h.svc.SavePauseDates(ctx, PauseRequest{OrderID: o.ID, Dates: []string{"2024-06-10"}}); err != nil {
		t.Fatal(err)
	}
	rows, err = h.svc.TodaysOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("paused order still listed: %+v", rows)
	}
}

func TestOrdersForOtherDaysAreNotCached(t *testing.T) {
	h := newHarness(t)
	o := h.subscription(10)
	ctx := context.Background()
	tomorrow := today.AddDays(1)

	rows, err := h.svc.OrdersFor(ctx, tomorrow)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %+v, %v", rows, err)
	}
	if _, err := h.cache.Get(ctx, "orders:today:2024-06-11"); err != cache.ErrCacheMiss {
		t.Fatalf("list for another day was cached: %v", err)
	}

	if _, err := h.svc.SavePauseDates(ctx, PauseRequest{OrderID: o.ID, Dates: []string{tomorrow.String()}}); err != nil {
		t.Fatal(err)
	}
	rows, err = h.svc.OrdersFor(ctx, tomorrow)
	if err != nil || len(rows) != 0 {
		t.Fatalf("order pausing tomorrow still listed: %+v, %v", rows, err)
	}
}

func TestCreateAndReorder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := int64(7)

	order, err := h.svc.Create(ctx, CheckoutRequest{
		UserID:       &owner,
		CustomerName: "Asha",
		Phone:        "4165550100",
		Items: []CheckoutItem{{
			ProductID:       1,
			Quantity:        2,
			StartDate:       calendar.MustParse("2024-06-10"),
			NumberOfTiffins: 10,
		}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Status != entity.StatusProcessing || order.AccessToken == "" || order.Number == "" {
		t.Fatalf("order = %+v", order)
	}
	if !order.Total.Equal(decimal.NewFromInt(24)) {
		t.Fatalf("total = %s", order.Total)
	}
	if order.Items[0].PreferredDays != "Everyday" {
		t.Fatalf("preferred days default = %q", order.Items[0].PreferredDays)
	}
	if byToken, err := h.svc.GetByToken(ctx, order.AccessToken); err != nil || byToken.ID != order.ID {
		t.Fatalf("by token: %v", err)
	}

	if _, err := h.svc.ReorderDetails(ctx, 8, order.ID); errorbank.KindOf(err) != errorbank.KindNotFound {
		t.Fatalf("other customer: got %v", err)
	}
	if _, err := h.svc.ProcessReorder(ctx, owner, order.ID, calendar.MustParse("2024-06-01")); errorbank.KindOf(err) != errorbank.KindBadRequest {
		t.Fatalf("past start: got %v", err)
	}

	again, err := h.svc.ProcessReorder(ctx, owner, order.ID, calendar.MustParse("2024-06-17"))
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if again.ID == order.ID || again.Items[0].StartDate != calendar.MustParse("2024-06-17") || again.Items[0].Quantity != 2 {
		t.Fatalf("reorder = %+v", again.Items[0])
	}
	if types := h.pub.types(); len(types) != 2 || types[1] != EventOrderCreated {
		t.Fatalf("events = %v", types)
	}

	_, err = h.svc.Create(ctx, CheckoutRequest{CustomerName: "X", Phone: "1", Items: []CheckoutItem{{ProductID: 1, StartDate: today}}})
	if errorbank.KindOf(err) != errorbank.KindBadRequest {
		t.Fatalf("missing tiffin count: got %v", err)
	}
}
