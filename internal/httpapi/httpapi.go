package httpapi

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/payment"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/service"
	"kasirinaja/dinein/internal/store"
)

type Options struct {
	AllowedOrigin    string
	SettlementSecret string
	// WaitTimeout caps how long GET /invoices/{id}/wait blocks.
	WaitTimeout time.Duration
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	hub          *realtime.Hub
	payments     *payment.Reconciler
	opts         Options
	loginLimiter *attemptLimiter
	pinLimiter   *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, hub *realtime.Hub, payments *payment.Reconciler, opts Options) *API {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Minute
	}
	return &API{
		service:      svc,
		auth:         auth,
		hub:          hub,
		payments:     payments,
		opts:         opts,
		loginLimiter: newAttemptLimiter(5, time.Minute),
		pinLimiter:   newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

const (
	roleCashier = domain.RoleCashier
	roleWaiter  = domain.RoleWaiter
	roleKitchen = domain.RoleKitchen
	roleManager = domain.RoleManager
)

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.opts.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)
	r.Post("/api/v1/settlements/notify", a.handleSettlementNotice)
	r.Get("/ws", a.handleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireAuth)

		floor := a.requireRole(roleCashier, roleWaiter, roleManager)
		everyone := a.requireRole(roleCashier, roleWaiter, roleKitchen, roleManager)
		kitchen := a.requireRole(roleKitchen, roleManager)
		till := a.requireRole(roleCashier, roleManager)
		manager := a.requireRole(roleManager)

		r.With(everyone).Get("/menu", a.handleMenu)

		r.Route("/orders", func(r chi.Router) {
			r.With(everyone).Get("/", a.handleListOrders)
			r.With(floor).Post("/", a.handleOpenOrder)

			r.Route("/{orderID}", func(r chi.Router) {
				r.With(everyone).Get("/", a.handleGetOrder)
				r.With(floor).Post("/items", a.handleAddItems)
				r.With(floor).Delete("/items/{itemID}", a.handleRemoveItem)
				r.With(everyone).Post("/items/{itemID}/void", a.handleVoidItem)
				r.With(floor).Post("/confirm", a.handleConfirmItems)
				r.With(floor).Post("/kitchen", a.handleNotifyKitchen)
				r.With(till).Post("/cancel", a.handleCancelOrder)
				r.With(everyone).Get("/voids", a.handleListVoids)
				r.With(floor).Post("/split", a.handleSplit)
				r.With(floor).Post("/merge", a.handleMerge)
				r.With(everyone).Get("/tickets", a.handleOrderTickets)
				r.With(kitchen).Post("/tickets/{ticketID}/start", a.handleTicketAction(a.service.StartCooking))
				r.With(kitchen).Post("/tickets/{ticketID}/ready", a.handleTicketAction(a.service.MarkReady))
				r.With(everyone).Post("/tickets/{ticketID}/serve", a.handleTicketAction(a.service.MarkServed))
				r.With(till).Post("/checkout", a.handleCheckout)
				r.With(everyone).Get("/invoice", a.handleOrderInvoice)
			})
		})

		r.With(everyone).Patch("/items/{itemID}/status", a.handleItemStatus)
		r.With(everyone).Get("/kitchen/board", a.handleKitchenBoard)

		r.Route("/invoices/{invoiceID}", func(r chi.Router) {
			r.With(till).Get("/", a.handleGetInvoice)
			r.With(till).Get("/payments", a.handleListPayments)
			r.With(till).Post("/payments", a.handleRecordPayment)
			r.With(till).Get("/wait", a.handleWaitPaid)
			r.With(till).Get("/returns", a.handleListReturns)
			r.With(till).Post("/returns", a.handleCreateReturn)
			r.With(till).Get("/returns/summary", a.handleReturnSummary)
		})

		r.With(manager).Get("/audit-logs", a.handleAuditLogs)
		r.With(manager).Get("/staff", a.handleListStaff)
		r.With(manager).Post("/staff", a.handleCreateStaff)
	})

	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWS upgrades an authenticated connection. Browsers cannot set headers
// on a websocket handshake, so the token travels as a query parameter.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing token"))
		return
	}
	actor, err := a.auth.ParseToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	realtime.ServeWS(a.hub, actor.Username, w, r)
}

type settlementNotice struct {
	InvoiceID  string `json:"invoice_id"`
	Status     string `json:"status"`
	PaidAmount int64  `json:"paid_amount"`
	Method     string `json:"method"`
	Reference  string `json:"reference,omitempty"`
}

func (a *API) handleSettlementNotice(w http.ResponseWriter, r *http.Request) {
	if a.opts.SettlementSecret == "" {
		writeError(w, http.StatusNotFound, errors.New("settlement notifications are disabled"))
		return
	}
	secret := strings.TrimSpace(r.Header.Get("X-Settlement-Secret"))
	if !hmac.Equal([]byte(secret), []byte(a.opts.SettlementSecret)) {
		writeError(w, http.StatusUnauthorized, errors.New("invalid settlement secret"))
		return
	}

	var req settlementNotice
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("invoice_id is required"))
		return
	}

	ctx := service.WithActor(r.Context(), domain.Actor{Username: "settlement", Role: "system"})
	res, err := a.service.ApplySettlement(ctx, req.InvoiceID, domain.SettlementNotice{
		Status:          req.Status,
		PaidAmountCents: req.PaidAmount,
		Method:          req.Method,
		Reference:       req.Reference,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMenu(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListMenu(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var states []string
	for _, state := range strings.Split(r.URL.Query().Get("state"), ",") {
		if state = strings.ToLower(strings.TrimSpace(state)); state != "" {
			states = append(states, state)
		}
	}
	orders, err := a.service.ListOrders(r.Context(), states...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleOpenOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.OpenOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.AddItems(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.RemoveItem(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleVoidItem(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.VoidItem(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "itemID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleConfirmItems(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.ConfirmItems(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleNotifyKitchen(w http.ResponseWriter, r *http.Request) {
	var req domain.NotifyKitchenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	ticket, err := a.service.NotifyKitchen(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.CancelOrder(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleListVoids(w http.ResponseWriter, r *http.Request) {
	voids, err := a.service.ListVoids(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voids": voids})
}

func (a *API) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req domain.SplitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.SplitOrder(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req domain.MergeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.MergeOrder(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleOrderTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.service.OrderTickets(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

type ticketAction func(ctx context.Context, orderID string, ticketID string) (domain.TicketTransitionResult, error)

func (a *API) handleTicketAction(action ticketAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := action(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "ticketID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *API) handleItemStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.SetItemStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.SetItemStatus(r.Context(), chi.URLParam(r, "itemID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleKitchenBoard(w http.ResponseWriter, r *http.Request) {
	board, err := a.service.KitchenBoard(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	inv, err := a.service.Checkout(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) handleOrderInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.InvoiceForOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.GetInvoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListPayments(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	res, err := a.service.RecordPayment(r.Context(), chi.URLParam(r, "invoiceID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// handleWaitPaid blocks until the invoice settles, the timeout passes or the
// client goes away.
func (a *API) handleWaitPaid(w http.ResponseWriter, r *http.Request) {
	if a.payments == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("payment confirmation is not configured"))
		return
	}
	timeout := a.opts.WaitTimeout
	if secs := parsePositiveLimit(r.URL.Query().Get("timeout_seconds"), 0, int(a.opts.WaitTimeout/time.Second)); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	invoiceID := chi.URLParam(r, "invoiceID")
	res, err := a.payments.WaitUntilPaid(r.Context(), invoiceID, timeout)
	if err != nil {
		if errors.Is(err, payment.ErrTimeout) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{
				"error": err.Error(),
				"state": a.payments.State(invoiceID),
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"state":  a.payments.State(invoiceID),
	})
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.ListReturns(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": list})
}

func (a *API) handleReturnSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.ReturnSummary(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleCreateReturn needs the manager PIN unless a manager is signed in.
func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	if actor.Role != roleManager {
		if !a.pinLimiter.Allow("pin:return:" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
			return
		}
	}

	ret, err := a.service.CreateReturn(r.Context(), chi.URLParam(r, "invoiceID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), strings.TrimSpace(query.Get("entity_type")), strings.TrimSpace(query.Get("entity_id")), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"staff": a.auth.ListStaff(r.Context())})
}

func (a *API) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateStaff(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// statusFor maps domain errors onto HTTP statuses. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, payment.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrOverVoid),
		errors.Is(err, store.ErrOverReturn),
		errors.Is(err, store.ErrStaleAggregate),
		errors.Is(err, store.ErrItemDispatched),
		errors.Is(err, store.ErrOrderNotOpen):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, store.ErrInvalidQuantity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic so storage errors do not leak to clients.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
