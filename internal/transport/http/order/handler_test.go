package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/entity"
	authsvc "github.com/satguru/tiffin/internal/service/auth"
	service "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var today = calendar.MustParse("2024-06-10")

type fakeOrders struct {
	order      *entity.Order
	lastQuery  service.ListQuery
	lastPause  service.PauseRequest
	pauseErr   error
	customerID int64
	checked    int
}

func (f *fakeOrders) Today() calendar.Date { return today }

func (f *fakeOrders) Get(_ context.Context, id int64) (*entity.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, errorbank.NotFound("order not found")
	}
	return f.order, nil
}

func (f *fakeOrders) GetForCustomer(ctx context.Context, userID, id int64) (*entity.Order, error) {
	f.customerID = userID
	return f.Get(ctx, id)
}

func (f *fakeOrders) GetByToken(_ context.Context, token string) (*entity.Order, error) {
	if f.order == nil || f.order.AccessToken != token {
		return nil, errorbank.NotFound("order not found")
	}
	return f.order, nil
}

func (f *fakeOrders) List(_ context.Context, q service.ListQuery) (*service.Page, error) {
	f.lastQuery = q
	return &service.Page{Orders: []*entity.Order{f.order}, Total: 1, Page: max(q.Page, 1), PerPage: 20}, nil
}

func (f *fakeOrders) Create(_ context.Context, req service.CheckoutRequest) (*entity.Order, error) {
	return &entity.Order{ID: 2, Number: "TF-NEW", UserID: req.UserID, CustomerName: req.CustomerName}, nil
}

func (f *fakeOrders) UpdateDetails(_ context.Context, _ int64, u service.DetailsUpdate, _ string) (*entity.Order, error) {
	if u.City != nil {
		f.order.City = *u.City
	}
	return f.order, nil
}

func (f *fakeOrders) History(context.Context, int64) ([]*entity.OrderNote, error) { return nil, nil }

func (f *fakeOrders) Tiffins(context.Context, int64) (*service.TiffinReport, error) {
	return &service.TiffinReport{}, nil
}

func (f *fakeOrders) OrdersFor(_ context.Context, _ calendar.Date) ([]service.DailyOrder, error) {
	return nil, nil
}

func (f *fakeOrders) TodaysOrders(context.Context) ([]service.DailyOrder, error) {
	return []service.DailyOrder{{Order: f.order, Boxes: 2, Total: 10, Remaining: 5}}, nil
}

func (f *fakeOrders) SavePauseDates(_ context.Context, req service.PauseRequest) (*entity.Order, error) {
	f.lastPause = req
	if f.pauseErr != nil {
		return nil, f.pauseErr
	}
	return f.order, nil
}

func (f *fakeOrders) Resume(context.Context, int64, string) (*entity.Order, error) { return f.order, nil }

func (f *fakeOrders) CancelScheduledPause(context.Context, int64, string) (*entity.Order, error) {
	return f.order, nil
}

func (f *fakeOrders) CheckPausedOrders(context.Context) (*service.PauseReport, error) {
	f.checked++
	return &service.PauseReport{Date: today, Resumed: []int64{9}}, nil
}

func (f *fakeOrders) ListPaused(ctx context.Context, page, perPage int, search string) (*service.Page, error) {
	return f.List(ctx, service.ListQuery{Paused: true, Page: page, PerPage: perPage, Search: search})
}

func (f *fakeOrders) ReorderDetails(context.Context, int64, int64) (*service.ReorderDetails, error) {
	return &service.ReorderDetails{OrderID: f.order.ID}, nil
}

func (f *fakeOrders) ProcessReorder(_ context.Context, _, _ int64, start calendar.Date) (*entity.Order, error) {
	if start.IsZero() {
		return nil, errorbank.BadRequest("start date is required")
	}
	return &entity.Order{ID: 3}, nil
}

type fakeTokens map[string]*authsvc.Claims

func (f fakeTokens) ParseToken(raw string) (*authsvc.Claims, error) {
	if c, ok := f[raw]; ok {
		return c, nil
	}
	return nil, errorbank.Unauthorized("invalid session token")
}

type fakeKeys string

func (f fakeKeys) VerifyAPIKey(_ context.Context, key string) (bool, error) {
	return key == string(f), nil
}

func setup(t *testing.T) (*echo.Echo, *fakeOrders) {
	t.Helper()
	enforcer, err := authz.New()
	if err != nil {
		t.Fatal(err)
	}
	guard := middleware.New(fakeTokens{
		"admin":    {UserID: 1, Role: entity.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}},
		"customer": {UserID: 7, Role: entity.RoleCustomer, RegisteredClaims: jwt.RegisteredClaims{Subject: "7"}},
	}, fakeKeys("feed-key"), enforcer, zaptest.NewLogger(t))

	orders := &fakeOrders{order: &entity.Order{
		ID:           42,
		Number:       "TF-42",
		CustomerName: "Asha Patel",
		Status:       entity.StatusProcessing,
		AccessToken:  "3f8a1c3e-2f4b-4d8e-9c1a-1b2c3d4e5f60",
		Items: []*entity.OrderItem{{
			ProductName:     "Veg Tiffin",
			Quantity:        1,
			StartDate:       calendar.MustParse("2024-06-03"),
			PreferredDays:   "Monday - Friday",
			NumberOfTiffins: 10,
		}},
	}}
	e := echo.New()
	Register(e, guard, New(orders))
	return e, orders
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Error   struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, e *echo.Echo, method, path, token, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec.Code, env
}

func TestCustomerOrderByToken(t *testing.T) {
	e, _ := setup(t)

	code, env := do(t, e, http.MethodGet, "/customer-order/3f8a1c3e-2f4b-4d8e-9c1a-1b2c3d4e5f60", "", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var got CustomerOrder
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Order.Number != "TF-42" || got.Summary.Remaining != 5 || got.Summary.Delivered != 5 {
		t.Fatalf("got %+v", got.Summary)
	}

	if code, env := do(t, e, http.MethodGet, "/customer-order/unknown", "", ""); code != http.StatusNotFound || env.Error.Kind != "not_found" {
		t.Fatalf("unknown token: %d %+v", code, env.Error)
	}
}

func TestAdminListParsesFilters(t *testing.T) {
	e, orders := setup(t)

	code, env := do(t, e, http.MethodGet, "/admin/orders?status=processing,paused&search=asha&delivery_date=2024-06-11&page=2", "admin", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d (%+v)", code, env.Error)
	}
	q := orders.lastQuery
	if len(q.Statuses) != 2 || q.Search != "asha" || q.DeliveryDate != calendar.MustParse("2024-06-11") || q.Page != 2 {
		t.Fatalf("query = %+v", q)
	}
	if env.Meta["total"] != float64(1) {
		t.Fatalf("meta = %v", env.Meta)
	}

	if code, _ := do(t, e, http.MethodGet, "/admin/orders?created_from=06/01/2024", "admin", ""); code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", code)
	}
	if code, _ := do(t, e, http.MethodGet, "/admin/orders", "customer", ""); code != http.StatusForbidden {
		t.Fatalf("customer status = %d", code)
	}
}

func TestPauseRoutes(t *testing.T) {
	e, orders := setup(t)

	code, _ := do(t, e, http.MethodPost, "/admin/orders/42/pause", "admin", `{"dates":["2024-06-12"],"pause_type":"immediate"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	p := orders.lastPause
	if p.OrderID != 42 || p.Type != "immediate" || len(p.Dates) != 1 || p.Actor != "admin:1" {
		t.Fatalf("pause request = %+v", p)
	}

	orders.pauseErr = errorbank.Unprocessable("pause dates exceed remaining tiffins")
	code, env := do(t, e, http.MethodPost, "/admin/orders/42/pause", "admin", `{"dates":["2024-06-12"]}`)
	if code != http.StatusUnprocessableEntity || env.Error.Message != "pause dates exceed remaining tiffins" {
		t.Fatalf("over-pause: %d %+v", code, env.Error)
	}

	if code, _ := do(t, e, http.MethodPost, "/admin/orders/abc/pause", "admin", `{}`); code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", code)
	}
	if code, _ := do(t, e, http.MethodPost, "/admin/orders/42/resume", "customer", ""); code != http.StatusForbidden {
		t.Fatalf("customer resume status = %d", code)
	}
	if code, _ := do(t, e, http.MethodDelete, "/admin/orders/42/scheduled-pause", "admin", ""); code != http.StatusOK {
		t.Fatalf("cancel status = %d", code)
	}
}

func TestAccountRoutes(t *testing.T) {
	e, orders := setup(t)

	if code, _ := do(t, e, http.MethodGet, "/account/orders/42", "customer", ""); code != http.StatusOK || orders.customerID != 7 {
		t.Fatalf("status = %d, customer = %d", code, orders.customerID)
	}
	if code, _ := do(t, e, http.MethodGet, "/account/orders", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", code)
	}

	code, env := do(t, e, http.MethodPost, "/account/orders", "customer", `{"customer_name":"Asha","items":[{"product_id":1}]}`)
	if code != http.StatusCreated {
		t.Fatalf("checkout status = %d", code)
	}
	var created entity.Order
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	if created.UserID == nil || *created.UserID != 7 {
		t.Fatalf("checkout user = %v", created.UserID)
	}

	if code, _ := do(t, e, http.MethodPost, "/account/orders/42/reorder", "customer", `{"start_date":"2024-06-17"}`); code != http.StatusCreated {
		t.Fatalf("reorder status = %d", code)
	}
	if code, _ := do(t, e, http.MethodPost, "/account/orders/42/reorder", "customer", `{}`); code != http.StatusBadRequest {
		t.Fatalf("reorder without date status = %d", code)
	}
}

func TestFeed(t *testing.T) {
	e, orders := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/satguru/v1/todays-orders-with-check", nil)
	req.Header.Set(middleware.HeaderAPIKey, "feed-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	var rows []FeedRow
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Boxes != 2 || rows[0].Products[0] != "Veg Tiffin" || orders.checked != 1 {
		t.Fatalf("rows = %+v, checked = %d", rows, orders.checked)
	}

	if code, _ := do(t, e, http.MethodGet, "/satguru/v1/todays-orders", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous feed status = %d", code)
	}
}
