package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

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

var serviceTracer = otel.Tracer("github.com/satguru/tiffin/service/order")

// Store is the persistence surface used by the service.
type Store interface {
	Create(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	GetFresh(ctx context.Context, id int64) (*entity.Order, error)
	GetByToken(ctx context.Context, token string) (*entity.Order, error)
	List(ctx context.Context, f repo.Filter) ([]*entity.Order, int, error)
	ApplyState(ctx context.Context, change repo.StateChange) error
	AddNote(ctx context.Context, note *entity.OrderNote) error
	Notes(ctx context.Context, orderID int64) ([]*entity.OrderNote, error)
	WithScheduledPauses(ctx context.Context) ([]*entity.Order, error)
	ByStatus(ctx context.Context, statuses ...string) ([]*entity.Order, error)
	SaveSnapshots(ctx context.Context, snapshots []*entity.TiffinSnapshot) error
	Snapshots(ctx context.Context, orderID int64, from, to calendar.Date) ([]*entity.TiffinSnapshot, error)
}

// Pricer quotes configured line items.
type Pricer interface {
	Quote(ctx context.Context, req catalogsvc.PriceRequest) (*catalogsvc.Quote, error)
}

// Service encapsulates business logic around orders.
type Service struct {
	store     Store
	pricer    Pricer
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	notifier  notify.Notifier
	metrics   *metrics
	loc       *time.Location
	now       func() time.Time
	messaging messagingConfig
	renewal   renewalConfig
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

type renewalConfig struct {
	threshold int
	storeName string
	siteURL   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Catalog    *catalogsvc.Service
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
	Notifier   notify.Notifier
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return New(p.Repository, p.Catalog, p.Cache, p.Publisher, p.Notifier, p.Config, p.Logger)
}

// New builds a Service over explicit collaborators.
func New(store Store, pricer Pricer, c cache.Store, publisher messaging.Client, notifier notify.Notifier, cfg config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Schedule.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:     store,
		pricer:    pricer,
		cache:     c,
		cacheTTL:  cfg.Schedule.TodaysOrdersCache,
		logger:    logger.Named("orders"),
		publisher: publisher,
		notifier:  notifier,
		metrics:   newMetrics(logger),
		loc:       loc,
		now:       time.Now,
		messaging: messagingConfig{
			enabled: cfg.Messaging.Enabled,
			topic:   cfg.Messaging.Kafka.Topic,
		},
		renewal: renewalConfig{
			threshold: cfg.Schedule.RenewalThreshold,
			storeName: cfg.Store.Name,
			siteURL:   cfg.Store.SiteURL,
		},
	}
}

// Today returns the current civil date in the store's timezone.
func (s *Service) Today() calendar.Date {
	return calendar.DateOf(s.now().In(s.loc))
}

func failSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

func (s *Service) loadErr(span trace.Span, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return errorbank.NotFound("order not found")
	}
	failSpan(span, err, "repository error")
	return errorbank.Internal("failed to load order", errorbank.WithCause(err))
}

// Get retrieves an order by id.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.loadErr(span, err)
	}
	return order, nil
}

// GetForCustomer retrieves an order owned by userID. Orders of other customers are reported missing.
func (s *Service) GetForCustomer(ctx context.Context, userID, id int64) (*entity.Order, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID == nil || *order.UserID != userID {
		return nil, errorbank.NotFound("order not found")
	}
	return order, nil
}

// GetByToken resolves the order behind a customer access link.
func (s *Service) GetByToken(ctx context.Context, token string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.GetByToken")
	defer span.End()

	if _, err := uuid.Parse(token); err != nil {
		return nil, errorbank.NotFound("order not found")
	}
	order, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, s.loadErr(span, err)
	}
	return order, nil
}

// ListQuery narrows an order listing.
type ListQuery struct {
	Statuses     []string
	Search       string
	UserID       *int64
	CreatedFrom  calendar.Date
	CreatedTo    calendar.Date
	DeliveryDate calendar.Date
	IDs          []int64
	Paused       bool
	Page         int
	PerPage      int
}

// Page is one page of a listing.
type Page struct {
	Orders  []*entity.Order `json:"orders"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// List returns orders matching q. A delivery date filter keeps only orders delivering on it.
func (s *Service) List(ctx context.Context, q ListQuery) (*Page, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.List")
	defer span.End()

	for _, st := range q.Statuses {
		if !entity.ValidStatus(st) {
			return nil, errorbank.BadRequest(fmt.Sprintf("invalid status %q", st))
		}
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}

	f := repo.Filter{
		Statuses: q.Statuses,
		Search:   q.Search,
		UserID:   q.UserID,
		IDs:      q.IDs,
		Paused:   q.Paused,
	}
	if !q.CreatedFrom.IsZero() {
		f.CreatedFrom = q.CreatedFrom.Time(s.loc)
	}
	if !q.CreatedTo.IsZero() {
		f.CreatedTo = q.CreatedTo.AddDays(1).Time(s.loc)
	}
	if q.DeliveryDate.IsZero() {
		f.Limit = q.PerPage
		f.Offset = (q.Page - 1) * q.PerPage
	}

	orders, total, err := s.store.List(ctx, f)
	if err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}

	if !q.DeliveryDate.IsZero() {
		kept := orders[:0]
		for _, o := range orders {
			if tiffin.BoxesForDate(o, q.DeliveryDate) > 0 {
				kept = append(kept, o)
			}
		}
		total = len(kept)
		start := min((q.Page-1)*q.PerPage, total)
		end := min(start+q.PerPage, total)
		orders = kept[start:end]
	}

	return &Page{Orders: orders, Total: total, Page: q.Page, PerPage: q.PerPage}, nil
}

// Find returns every order matching the filter without paging.
func (s *Service) Find(ctx context.Context, f repo.Filter) ([]*entity.Order, error) {
	f.Limit, f.Offset = 0, 0
	orders, _, err := s.store.List(ctx, f)
	if err != nil {
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// CheckoutItem is a line of a new order.
type CheckoutItem struct {
	ProductID       int64                       `json:"product_id"`
	Quantity        int                         `json:"quantity"`
	StartDate       calendar.Date               `json:"start_date"`
	DeliveryDate    calendar.Date               `json:"delivery_date"`
	PreferredDays   string                      `json:"preferred_days"`
	NumberOfTiffins int                         `json:"number_of_tiffins"`
	Customize       string                      `json:"customize"`
	MealType        string                      `json:"meal_type"`
	Options         []catalogsvc.Selection      `json:"options"`
	Addons          []catalogsvc.AddonSelection `json:"addons"`
}

// CheckoutRequest places a new order.
type CheckoutRequest struct {
	UserID          *int64         `json:"-"`
	CustomerName    string         `json:"customer_name"`
	Phone           string         `json:"phone"`
	Email           string         `json:"email"`
	Address         string         `json:"address"`
	City            string         `json:"city"`
	PostalCode      string         `json:"postal_code"`
	BillingAddress  string         `json:"billing_address"`
	ShippingAddress string         `json:"shipping_address"`
	DeliveryMethod  string         `json:"delivery_method"`
	PaymentMethod   string         `json:"payment_method"`
	CustomerNote    string         `json:"customer_note"`
	Items           []CheckoutItem `json:"items"`
	Note            string         `json:"-"`
}

func validateItem(i int, item CheckoutItem) error {
	if item.ProductID <= 0 {
		return errorbank.BadRequest(fmt.Sprintf("item %d: product is required", i+1))
	}
	if item.StartDate.IsZero() && item.DeliveryDate.IsZero() {
		return errorbank.BadRequest(fmt.Sprintf("item %d: start date or delivery date is required", i+1))
	}
	if item.StartDate.IsZero() {
		return nil
	}
	if item.NumberOfTiffins <= 0 {
		return errorbank.BadRequest(fmt.Sprintf("item %d: number of tiffins must be positive", i+1))
	}
	if strings.TrimSpace(item.PreferredDays) == "" {
		return nil
	}
	if _, err := calendar.ParseWeekdays(item.PreferredDays); err != nil {
		return errorbank.BadRequest(fmt.Sprintf("item %d: %v", i+1, err))
	}
	return nil
}

// Create prices and stores a new order, then announces it.
func (s *Service) Create(ctx context.Context, req CheckoutRequest) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create")
	defer span.End()

	if strings.TrimSpace(req.CustomerName) == "" {
		return nil, errorbank.BadRequest("customer name is required")
	}
	if strings.TrimSpace(req.Phone) == "" && strings.TrimSpace(req.Email) == "" {
		return nil, errorbank.BadRequest("phone or email is required")
	}
	if len(req.Items) == 0 {
		return nil, errorbank.BadRequest("order has no items")
	}

	now := s.now().UTC()
	order := &entity.Order{
		Number:          newOrderNumber(),
		UserID:          req.UserID,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		Phone:           strings.TrimSpace(req.Phone),
		Email:           strings.TrimSpace(req.Email),
		Address:         req.Address,
		City:            req.City,
		PostalCode:      req.PostalCode,
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		DeliveryMethod:  req.DeliveryMethod,
		PaymentMethod:   req.PaymentMethod,
		CustomerNote:    req.CustomerNote,
		Status:          entity.StatusProcessing,
		Total:           decimal.Zero,
		AccessToken:     uuid.NewString(),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for i, item := range req.Items {
		if err := validateItem(i, item); err != nil {
			return nil, err
		}
		quote, err := s.pricer.Quote(ctx, catalogsvc.PriceRequest{
			ProductID: item.ProductID,
			Quantity:  max(item.Quantity, 1),
			Options:   item.Options,
			Addons:    item.Addons,
		})
		if err != nil {
			return nil, err
		}
		preferred := strings.TrimSpace(item.PreferredDays)
		if preferred == "" && !item.StartDate.IsZero() {
			preferred = "Everyday"
		}
		order.Items = append(order.Items, &entity.OrderItem{
			ProductID:       quote.ProductID,
			ProductName:     quote.ProductName,
			Quantity:        quote.Quantity,
			StartDate:       item.StartDate,
			DeliveryDate:    item.DeliveryDate,
			PreferredDays:   preferred,
			NumberOfTiffins: item.NumberOfTiffins,
			Customize:       item.Customize,
			MealType:        item.MealType,
			Addons:          quote.Addons,
			Options:         quote.Options,
			UnitPrice:       quote.UnitPrice,
			LineTotal:       quote.LineTotal,
		})
		order.Total = order.Total.Add(quote.LineTotal)
	}

	if err := s.store.Create(ctx, order); err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.String("order.number", order.Number))

	if req.Note != "" {
		s.addNote(ctx, order.ID, req.Note, "system")
	}
	s.invalidateToday(ctx)
	s.publish(ctx, EventOrderCreated, order, nil)
	return order, nil
}

func newOrderNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TF-" + strings.ToUpper(id[:10])
}

// DetailsUpdate carries the editable contact and status fields of an order.
type DetailsUpdate struct {
	CustomerName    *string
	Phone           *string
	Email           *string
	Address         *string
	City            *string
	PostalCode      *string
	BillingAddress  *string
	ShippingAddress *string
	CustomerNote    *string
	Status          *string
}

// UpdateDetails applies the non-nil fields of u. Pausing and resuming go through
// SavePauseDates and Resume, so u.Status may not enter or leave the paused state.
func (s *Service) UpdateDetails(ctx context.Context, id int64, u DetailsUpdate, author string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateDetails", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	var status string
	if u.Status != nil {
		status = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(*u.Status)), "wc-")
		if !entity.ValidStatus(status) {
			return nil, errorbank.BadRequest(fmt.Sprintf("invalid status %q", *u.Status))
		}
	}

	order, _, err := s.mutate(ctx, id, author, func(o *entity.Order) (string, error) {
		if status != "" && status != o.Status {
			switch {
			case status == entity.StatusPaused:
				return "", errorbank.Unprocessable("orders are paused with pause dates, not by status")
			case o.Status == entity.StatusPaused && status == entity.StatusProcessing:
				return "", errorbank.Unprocessable("paused orders are resumed through resume")
			}
			if status != entity.StatusProcessing {
				// the order leaves the delivery schedule; pending pauses no longer apply
				o.SkippedDates = o.SkippedDates.Union(o.PausedDates)
				o.PausedDates = calendar.DateSet{}
				o.ScheduledPauseDates = calendar.DateSet{}
			}
			o.Status = status
		}
		set := func(dst *string, v *string) {
			if v != nil {
				*dst = strings.TrimSpace(*v)
			}
		}
		set(&o.CustomerName, u.CustomerName)
		set(&o.Phone, u.Phone)
		set(&o.Email, u.Email)
		set(&o.Address, u.Address)
		set(&o.City, u.City)
		set(&o.PostalCode, u.PostalCode)
		set(&o.BillingAddress, u.BillingAddress)
		set(&o.ShippingAddress, u.ShippingAddress)
		set(&o.CustomerNote, u.CustomerNote)
		return "Order details updated", nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "update rejected")
		return nil, err
	}
	return order, nil
}

func (s *Service) addNote(ctx context.Context, orderID int64, note, author string) {
	err := s.store.AddNote(ctx, &entity.OrderNote{OrderID: orderID, Note: note, Author: author, CreatedAt: s.now().UTC()})
	if err != nil {
		s.logger.Warn("order note write failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// History returns the notes recorded against an order.
func (s *Service) History(ctx context.Context, id int64) ([]*entity.OrderNote, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	notes, err := s.store.Notes(ctx, id)
	if err != nil {
		return nil, errorbank.Internal("failed to load order history", errorbank.WithCause(err))
	}
	return notes, nil
}

// TiffinReport describes the delivery accounting of an order.
type TiffinReport struct {
	OrderID             int64                    `json:"order_id"`
	Status              string                   `json:"status"`
	AsOf                calendar.Date            `json:"as_of"`
	Summary             tiffin.Summary           `json:"summary"`
	PausedDates         calendar.DateSet         `json:"paused_dates"`
	ScheduledPauseDates calendar.DateSet         `json:"scheduled_pause_dates"`
	SkippedDates        calendar.DateSet         `json:"skipped_dates"`
	History             []*entity.TiffinSnapshot `json:"history"`
}

// Tiffins reports the counters of an order and its recorded daily snapshots.
func (s *Service) Tiffins(ctx context.Context, id int64) (*TiffinReport, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	today := s.Today()
	history, err := s.store.Snapshots(ctx, id, calendar.Date{}, calendar.Date{})
	if err != nil {
		return nil, errorbank.Internal("failed to load tiffin history", errorbank.WithCause(err))
	}
	return &TiffinReport{
		OrderID:             order.ID,
		Status:              order.Status,
		AsOf:                today,
		Summary:             tiffin.Summarize(order, today),
		PausedDates:         order.PausedDates,
		ScheduledPauseDates: order.ScheduledPauseDates,
		SkippedDates:        order.SkippedDates,
		History:             history,
	}, nil
}

// DailyOrder is an order on a delivery list together with its counters for that day.
type DailyOrder struct {
	Order     *entity.Order `json:"order"`
	Boxes     int           `json:"boxes"`
	Total     int           `json:"total_tiffins"`
	Remaining int           `json:"remaining_tiffins"`
}

func (s *Service) todayKey(d calendar.Date) string {
	return "orders:today:" + d.String()
}

// OrdersFor lists the processing orders that deliver on d. Only today's list is cached;
// order mutations evict that key.
func (s *Service) OrdersFor(ctx context.Context, d calendar.Date) ([]DailyOrder, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.OrdersFor", trace.WithAttributes(attribute.String("date", d.String())))
	defer span.End()

	cached := s.cache != nil && s.cacheTTL > 0 && d == s.Today()
	if !cached {
		return s.dailyRows(ctx, span, d)
	}
	if rows, err := s.cachedDaily(ctx, d); err == nil {
		return rows, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("daily orders cache read failed", zap.Error(err))
	}

	rows, err := s.dailyRows(ctx, span, d)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rows); err == nil {
		if err := s.cache.Set(ctx, s.todayKey(d), payload, s.cacheTTL); err != nil {
			s.logger.Warn("daily orders cache write failed", zap.Error(err))
		}
	}
	return rows, nil
}

func (s *Service) dailyRows(ctx context.Context, span trace.Span, d calendar.Date) ([]DailyOrder, error) {
	orders, err := s.store.ByStatus(ctx, entity.StatusProcessing)
	if err != nil {
		failSpan(span, err, "repository error")
		return nil, errorbank.Internal("failed to load orders", errorbank.WithCause(err))
	}
	rows := make([]DailyOrder, 0, len(orders))
	for _, o := range orders {
		if !tiffin.ShouldDisplay(o, d) {
			continue
		}
		rows = append(rows, DailyOrder{
			Order:     o,
			Boxes:     tiffin.BoxesForDate(o, d),
			Total:     tiffin.TotalTiffins(o),
			Remaining: tiffin.RemainingTiffins(o, d),
		})
	}
	return rows, nil
}

// TodaysOrders lists the orders delivering today.
func (s *Service) TodaysOrders(ctx context.Context) ([]DailyOrder, error) {
	return s.OrdersFor(ctx, s.Today())
}

func (s *Service) cachedDaily(ctx context.Context, d calendar.Date) ([]DailyOrder, error) {
	payload, err := s.cache.Get(ctx, s.todayKey(d))
	if err != nil {
		return nil, err
	}
	var rows []DailyOrder
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) invalidateToday(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.todayKey(s.Today())); err != nil {
		s.logger.Warn("daily orders cache invalidation failed", zap.Error(err))
	}
}
