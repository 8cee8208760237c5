package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/payment"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/service"
	"kasirinaja/dinein/internal/settlement"
	"kasirinaja/dinein/internal/store/memory"
)

const testSettlementSecret = "settle-secret"

// newTestAPI builds a full API with an in-memory store, a running hub, real
// AuthManager and real Service so handler tests exercise the complete path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	svc := service.New(repo, hub)
	reconciler := payment.NewReconciler(repo, settlement.NewRepoSource(repo), realtime.NewManager(hub), svc, 20*time.Millisecond)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, hub, reconciler, Options{
		AllowedOrigin:    "*",
		SettlementSecret: testSettlementSecret,
		WaitTimeout:      2 * time.Second,
	})
}

var loginSeq atomic.Int32

// login signs in a seeded account from its own address so the login limiter
// does not trip across helpers.
func login(t *testing.T, api *API, username string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: username + "123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = fmt.Sprintf("10.9.0.%d:4000", loginSeq.Add(1)%250+1)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func call(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d (body: %s)", want, rec.Code, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)

	body := decode[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "manager", Password: "wrongpassword"})
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestRoutesRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := call(t, api, http.MethodGet, "/api/v1/kitchen/board", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestOrderToPaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	waiter := login(t, api, "waiter")
	chef := login(t, api, "kitchen")
	cashier := login(t, api, "cashier")

	rec := call(t, api, http.MethodPost, "/api/v1/orders", waiter, domain.OpenOrderRequest{TableID: "T01"})
	expectStatus(t, rec, http.StatusCreated)
	order := decode[domain.Order](t, rec)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/items", waiter, domain.AddItemsRequest{
		Items: []domain.AddItemInput{{MenuItemID: "menu-soto", Qty: 2}},
	})
	expectStatus(t, rec, http.StatusOK)
	order = decode[domain.Order](t, rec)
	itemID := order.Items[0].ID

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/kitchen", waiter, domain.NotifyKitchenRequest{Note: "no chili"})
	expectStatus(t, rec, http.StatusOK)
	ticket := decode[domain.Ticket](t, rec)

	rec = call(t, api, http.MethodGet, "/api/v1/kitchen/board", chef, nil)
	expectStatus(t, rec, http.StatusOK)
	board := decode[domain.KitchenBoard](t, rec)
	if len(board.New) != 1 || board.New[0].Note != "no chili" {
		t.Fatalf("expected ticket in new lane, got %+v", board)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/tickets/"+ticket.ID+"/start", waiter, nil)
	expectStatus(t, rec, http.StatusForbidden)

	for _, action := range []string{"start", "ready"} {
		rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/tickets/"+ticket.ID+"/"+action, chef, nil)
		expectStatus(t, rec, http.StatusOK)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/items/"+itemID+"/void", chef, domain.VoidRequest{Qty: 3, Reason: "spill"})
	expectStatus(t, rec, http.StatusConflict)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/checkout", cashier, domain.CheckoutRequest{})
	expectStatus(t, rec, http.StatusConflict)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/tickets/"+ticket.ID+"/serve", waiter, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/checkout", chef, domain.CheckoutRequest{})
	expectStatus(t, rec, http.StatusForbidden)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/checkout", cashier, domain.CheckoutRequest{})
	expectStatus(t, rec, http.StatusCreated)
	inv := decode[domain.Invoice](t, rec)
	if inv.TotalCents != 76000 {
		t.Fatalf("expected total 76000, got %d", inv.TotalCents)
	}

	pay := domain.PaymentRequest{Method: "card", AmountCents: 76000, IdempotencyKey: "till-1-0001"}
	rec = call(t, api, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/payments", cashier, pay)
	expectStatus(t, rec, http.StatusCreated)
	rec = call(t, api, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/payments", cashier, pay)
	expectStatus(t, rec, http.StatusOK)
	if res := decode[domain.PaymentResult](t, rec); !res.Duplicate {
		t.Fatalf("expected replayed payment to be flagged duplicate")
	}

	rec = call(t, api, http.MethodGet, "/api/v1/invoices/"+inv.ID+"/wait", cashier, nil)
	expectStatus(t, rec, http.StatusOK)
	waited := decode[struct {
		Result payment.Result `json:"result"`
		State  string         `json:"state"`
	}](t, rec)
	if waited.Result.Via != payment.ViaLedger || waited.State != domain.SettlementSettled {
		t.Fatalf("expected ledger settlement, got %+v", waited)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/items", waiter, domain.AddItemsRequest{
		Items: []domain.AddItemInput{{MenuItemID: "menu-kopi", Qty: 1}},
	})
	expectStatus(t, rec, http.StatusConflict)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	waiter := login(t, api, "waiter")

	rec := call(t, api, http.MethodGet, "/api/v1/orders/order-missing", waiter, nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = call(t, api, http.MethodPost, "/api/v1/orders", waiter, domain.OpenOrderRequest{TableID: "T02"})
	expectStatus(t, rec, http.StatusCreated)
	order := decode[domain.Order](t, rec)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/items", waiter, domain.AddItemsRequest{
		Items: []domain.AddItemInput{{MenuItemID: "menu-soto", Qty: 0}},
	})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/items", waiter, domain.AddItemsRequest{
		Items:           []domain.AddItemInput{{MenuItemID: "menu-soto", Qty: 1}},
		ExpectedVersion: order.Version + 5,
	})
	expectStatus(t, rec, http.StatusConflict)

	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/items", waiter, map[string]any{"items": []any{}, "unexpected": true})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestSettlementNoticeRequiresSecretAndSettlesOnce(t *testing.T) {
	api := newTestAPI(t)
	waiter := login(t, api, "waiter")
	chef := login(t, api, "kitchen")
	manager := login(t, api, "manager")

	rec := call(t, api, http.MethodPost, "/api/v1/orders", waiter, domain.OpenOrderRequest{TableID: "T03"})
	order := decode[domain.Order](t, rec)
	call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/items", waiter, domain.AddItemsRequest{
		Items: []domain.AddItemInput{{MenuItemID: "menu-kopi", Qty: 1}},
	})
	ticket := decode[domain.Ticket](t, call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/kitchen", waiter, nil))
	expectStatus(t, call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/tickets/"+ticket.ID+"/serve", chef, nil), http.StatusOK)
	rec = call(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/checkout", manager, domain.CheckoutRequest{})
	expectStatus(t, rec, http.StatusCreated)
	inv := decode[domain.Invoice](t, rec)

	notice := map[string]any{"invoice_id": inv.ID, "status": "PAID", "paid_amount": inv.TotalCents, "method": "qris"}
	raw, _ := json.Marshal(notice)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements/notify", bytes.NewReader(raw))
	req.Header.Set("X-Settlement-Secret", "wrong")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	expectStatus(t, res, http.StatusUnauthorized)

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/settlements/notify", bytes.NewReader(raw))
		req.Header.Set("X-Settlement-Secret", testSettlementSecret)
		res = httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		expectStatus(t, res, http.StatusOK)
		result := decode[domain.PaymentResult](t, res)
		if result.Invoice.Status != domain.InvoiceStatusPaid || result.Invoice.PaidCents != inv.TotalCents {
			t.Fatalf("notice %d: expected paid invoice, got %+v", i+1, result.Invoice)
		}
		if result.Duplicate != (i == 1) {
			t.Fatalf("notice %d: unexpected duplicate flag %t", i+1, result.Duplicate)
		}
	}
}
