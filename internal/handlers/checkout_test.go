package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tiann-Paete/Nars-web/internal/cartstore"
	"github.com/Tiann-Paete/Nars-web/internal/domain"
	"github.com/Tiann-Paete/Nars-web/internal/geo"
	"github.com/Tiann-Paete/Nars-web/internal/services"
)

const testSessionHeader = "X-Test-Session"

type stubStockSource struct {
	levels map[string]int
}

func (s stubStockSource) FetchStock(context.Context) (domain.StockSnapshot, error) {
	return domain.StockSnapshot{Levels: s.levels}, nil
}

type stubPlacer struct {
	mu        sync.Mutex
	creds     []string
	requests  []domain.OrderRequest
	placeFunc func(ctx context.Context, credential string, req domain.OrderRequest) (domain.PlaceOrderResponse, error)
}

func (s *stubPlacer) PlaceOrder(ctx context.Context, credential string, req domain.OrderRequest) (domain.PlaceOrderResponse, error) {
	s.mu.Lock()
	s.creds = append(s.creds, credential)
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.placeFunc != nil {
		return s.placeFunc(ctx, credential, req)
	}
	return domain.PlaceOrderResponse{Success: true, OrderID: "ORD-1"}, nil
}

type recordingRegistry struct {
	*services.SessionRegistry
	released []string
}

func (r *recordingRegistry) Release(ctx context.Context, sessionID string) {
	r.released = append(r.released, sessionID)
	r.SessionRegistry.Release(ctx, sessionID)
}

type checkoutServer struct {
	router     http.Handler
	placer     *stubPlacer
	registry   *recordingRegistry
	terminated int
}

func newCheckoutServer(t *testing.T) *checkoutServer {
	t.Helper()
	srv := &checkoutServer{placer: &stubPlacer{}}
	registry, err := services.NewSessionRegistry(services.SessionRegistryDeps{
		Factory: func(string) (*services.CheckoutOrchestrator, error) {
			catalog, err := services.NewStockCatalog(services.StockCatalogDeps{
				Source: stubStockSource{levels: map[string]int{"1": 5, "2": 4}},
			})
			if err != nil {
				return nil, err
			}
			catalog.Fetch(context.Background())
			return services.NewCheckoutOrchestrator(services.CheckoutOrchestratorDeps{
				Cart: cartstore.NewMemoryCart(domain.CartLine{
					ID:       "1",
					Name:     "Lipstick",
					Price:    decimal.RequireFromString("100.00"),
					Quantity: 2,
				}),
				Stock:       catalog,
				Cities:      geo.Default(),
				Placer:      srv.placer,
				Credentials: services.ContextCredential{},
				DeliveryFee: decimal.RequireFromString("60.00"),
			})
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.registry = &recordingRegistry{SessionRegistry: registry}

	handlers := NewCheckoutHandlers(srv.registry,
		WithSessionResolver(func(r *http.Request) (string, bool) {
			id := r.Header.Get(testSessionHeader)
			return id, id != ""
		}),
		WithSessionTerminator(func(http.ResponseWriter) { srv.terminated++ }),
	)
	srv.router = NewRouter(WithCheckoutRoutes(handlers.Routes))
	return srv
}

func (s *checkoutServer) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/v1/checkout"+path, strings.NewReader(body))
	req.Header.Set(testSessionHeader, "sess-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func checkoutOf(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	checkout, ok := payload["checkout"].(map[string]any)
	if !ok {
		t.Fatalf("expected checkout payload, got %v", payload)
	}
	return checkout
}

const filledBillingBody = `{"fullName":"Juan Dela Cruz","phoneNumber":"09171234567","address":"123 Rizal St","city":"Davao City","postalCode":"8000"}`

func TestCheckoutHandlersGetView(t *testing.T) {
	srv := newCheckoutServer(t)

	rr, payload := srv.do(t, http.MethodGet, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("expected no-store, got %q", cc)
	}
	checkout := checkoutOf(t, payload)
	amounts := checkout["amounts"].(map[string]any)
	if amounts["subtotal"] != "200.00" || amounts["delivery"] != "60.00" || amounts["total"] != "260.00" {
		t.Fatalf("unexpected amounts %v", amounts)
	}
	if checkout["paymentMethod"] != "GCash" || checkout["state"] != "IDLE" {
		t.Fatalf("unexpected defaults %v", checkout)
	}
	items := checkout["items"].([]any)
	item := items[0].(map[string]any)
	if item["stock"] != float64(5) || item["canIncrement"] != true || item["lineTotal"] != "200.00" {
		t.Fatalf("unexpected item %v", item)
	}
	billing := checkout["billing"].(map[string]any)
	if billing["deliveryAddress"] != "Home" {
		t.Fatalf("expected Home label, got %v", billing["deliveryAddress"])
	}
}

func TestCheckoutHandlersRequireSession(t *testing.T) {
	srv := newCheckoutServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "session_required" {
		t.Fatalf("expected session_required, got %v", body)
	}
}

func TestCheckoutHandlersCashOnDeliveryFlow(t *testing.T) {
	srv := newCheckoutServer(t)

	rr, payload := srv.do(t, http.MethodPatch, "/billing", filledBillingBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch billing: %d %s", rr.Code, rr.Body.String())
	}
	billing := checkoutOf(t, payload)["billing"].(map[string]any)
	if billing["stateProvince"] != "Davao del Sur" {
		t.Fatalf("expected derived province, got %v", billing)
	}

	if rr, _ := srv.do(t, http.MethodPut, "/payment", `{"paymentMethod":"COD"}`); rr.Code != http.StatusOK {
		t.Fatalf("put payment: %d %s", rr.Code, rr.Body.String())
	}

	rr, payload = srv.do(t, http.MethodPost, "/submit", "", "Authorization", "Bearer shopper-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	checkout := checkoutOf(t, payload)
	if checkout["state"] != "CONFIRMED" || checkout["orderId"] != "ORD-1" {
		t.Fatalf("expected confirmed order, got %v", checkout)
	}
	if len(checkout["items"].([]any)) != 0 {
		t.Fatalf("expected cart cleared, got %v", checkout["items"])
	}
	if len(srv.placer.creds) != 1 || srv.placer.creds[0] != "shopper-token" {
		t.Fatalf("expected bearer token forwarded, got %v", srv.placer.creds)
	}

	rr, payload = srv.do(t, http.MethodGet, "/navigation/track", "")
	if rr.Code != http.StatusOK || payload["path"] != "/order-tracking/ORD-1" {
		t.Fatalf("unexpected tracking response %d %v", rr.Code, payload)
	}
	_, payload = srv.do(t, http.MethodGet, "/navigation/continue", "")
	if payload["path"] != "/home" {
		t.Fatalf("unexpected continue path %v", payload)
	}

	rr, payload = srv.do(t, http.MethodPost, "/reset", "")
	if rr.Code != http.StatusOK || checkoutOf(t, payload)["state"] != "IDLE" {
		t.Fatalf("unexpected reset response %d %v", rr.Code, payload)
	}
}

func TestCheckoutHandlersSubmitWithoutCredentialFails(t *testing.T) {
	srv := newCheckoutServer(t)
	srv.do(t, http.MethodPatch, "/billing", filledBillingBody)
	srv.do(t, http.MethodPut, "/payment", `{"paymentMethod":"COD"}`)

	rr, payload := srv.do(t, http.MethodPost, "/submit", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	checkout := checkoutOf(t, payload)
	if checkout["state"] != "FAILED" || checkout["reason"] != services.ReasonSignInRequired {
		t.Fatalf("expected sign-in failure, got %v", checkout)
	}
	if len(srv.placer.requests) != 0 {
		t.Fatalf("expected no order call")
	}
}

func TestCheckoutHandlersValidationErrors(t *testing.T) {
	srv := newCheckoutServer(t)

	rr, payload := srv.do(t, http.MethodPost, "/submit", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if payload["error"] != "validation_failed" {
		t.Fatalf("expected validation_failed, got %v", payload)
	}
	fields, ok := payload["fields"].(map[string]any)
	if !ok || fields["fullName"] != services.RequiredFieldMessage || fields["stateProvince"] != services.RequiredFieldMessage {
		t.Fatalf("expected field errors, got %v", payload["fields"])
	}
	if _, ok := fields["deliveryAddress"]; ok {
		t.Fatalf("label has a default and should not be reported")
	}

	rr, payload = srv.do(t, http.MethodPatch, "/billing", `{"stateProvince":"Bukidnon"}`)
	if rr.Code != http.StatusBadRequest || payload["error"] != "invalid_request" {
		t.Fatalf("expected read-only field rejected, got %d %v", rr.Code, payload)
	}
	rr, _ = srv.do(t, http.MethodPut, "/billing/city", `{"city":"Manila"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown city rejected, got %d", rr.Code)
	}
	rr, _ = srv.do(t, http.MethodPatch, "/billing", `{"fullName":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed JSON rejected, got %d", rr.Code)
	}
}

func TestCheckoutHandlersWalletFlow(t *testing.T) {
	srv := newCheckoutServer(t)
	srv.do(t, http.MethodPatch, "/billing", filledBillingBody)

	rr, payload := srv.do(t, http.MethodPost, "/submit", "", "Authorization", "Bearer shopper-token")
	if rr.Code != http.StatusOK || checkoutOf(t, payload)["state"] != "AWAITING_WALLET_CONFIRMATION" {
		t.Fatalf("expected wallet dialog, got %d %v", rr.Code, payload)
	}

	rr, payload = srv.do(t, http.MethodPost, "/wallet/confirm", `{"fullName":"","gcashNumber":""}`, "Authorization", "Bearer shopper-token")
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "wallet_details_required" {
		t.Fatalf("expected wallet details error, got %d %v", rr.Code, payload)
	}

	rr, payload = srv.do(t, http.MethodPost, "/wallet/confirm", `{"fullName":"Juan Dela Cruz","gcashNumber":"09170000000"}`, "Authorization", "Bearer shopper-token")
	if rr.Code != http.StatusOK || checkoutOf(t, payload)["state"] != "CONFIRMED" {
		t.Fatalf("expected confirmed order, got %d %v", rr.Code, payload)
	}
	wallet, ok := srv.placer.requests[0].Payment.(domain.GCashWallet)
	if !ok || wallet.WalletNumber != "09170000000" {
		t.Fatalf("unexpected payment %#v", srv.placer.requests[0].Payment)
	}

	rr, payload = srv.do(t, http.MethodPost, "/wallet/cancel", "")
	if rr.Code != http.StatusConflict || payload["error"] != "invalid_checkout_state" {
		t.Fatalf("expected cancel after confirmation to conflict, got %d %v", rr.Code, payload)
	}
}

func TestCheckoutHandlersQuantityChanges(t *testing.T) {
	srv := newCheckoutServer(t)

	quantity := func(payload map[string]any) float64 {
		items := checkoutOf(t, payload)["items"].([]any)
		return items[0].(map[string]any)["quantity"].(float64)
	}

	_, payload := srv.do(t, http.MethodPost, "/items/1/increment", "")
	if quantity(payload) != 3 {
		t.Fatalf("expected quantity 3, got %v", quantity(payload))
	}
	_, payload = srv.do(t, http.MethodPut, "/items/1", `{"quantity":99}`)
	if quantity(payload) != 3 {
		t.Fatalf("expected out-of-range change ignored, got %v", quantity(payload))
	}
	_, payload = srv.do(t, http.MethodPut, "/items/1", `{"quantity":5}`)
	if quantity(payload) != 5 {
		t.Fatalf("expected quantity 5, got %v", quantity(payload))
	}
	_, payload = srv.do(t, http.MethodPost, "/items/1/decrement", "")
	if quantity(payload) != 4 {
		t.Fatalf("expected quantity 4, got %v", quantity(payload))
	}

	rr, payload := srv.do(t, http.MethodPut, "/items/missing", `{"quantity":1}`)
	if rr.Code != http.StatusNotFound || payload["error"] != "cart_item_not_found" {
		t.Fatalf("expected missing item 404, got %d %v", rr.Code, payload)
	}

	rr, payload = srv.do(t, http.MethodDelete, "/items/1", "")
	if rr.Code != http.StatusOK || len(checkoutOf(t, payload)["items"].([]any)) != 0 {
		t.Fatalf("expected item removed, got %d %v", rr.Code, payload)
	}
	rr, payload = srv.do(t, http.MethodPost, "/submit", "")
	if rr.Code != http.StatusConflict || payload["error"] != "cart_empty" {
		t.Fatalf("expected cart_empty, got %d %v", rr.Code, payload)
	}
}

func TestCheckoutHandlersAddItemAndReview(t *testing.T) {
	srv := newCheckoutServer(t)

	rr, _ := srv.do(t, http.MethodPost, "/items", `{"id":"2","name":"<b>Blush</b>","price":"35.50","quantity":1}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add item: %d %s", rr.Code, rr.Body.String())
	}
	rr, _ = srv.do(t, http.MethodPost, "/items", `{"id":"3","name":"Bad","price":"abc","quantity":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad price rejected, got %d", rr.Code)
	}

	srv.do(t, http.MethodPatch, "/billing", filledBillingBody)
	rr, payload := srv.do(t, http.MethodPost, "/review", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("review: %d %s", rr.Code, rr.Body.String())
	}
	receipt := payload["receipt"].(map[string]any)
	if receipt["amounts"].(map[string]any)["total"] != "295.50" {
		t.Fatalf("unexpected receipt amounts %v", receipt["amounts"])
	}
	items := receipt["items"].([]any)
	if len(items) != 2 || items[1].(map[string]any)["name"] != "Blush" {
		t.Fatalf("expected sanitised second item, got %v", items)
	}
}

func TestCheckoutHandlersAddItemBeyondStockIsIgnored(t *testing.T) {
	srv := newCheckoutServer(t)

	rr, payload := srv.do(t, http.MethodPost, "/items", `{"id":"1","name":"Lipstick","price":"100.00","quantity":40}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add item: %d %s", rr.Code, rr.Body.String())
	}
	items := checkoutOf(t, payload)["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["quantity"] != float64(2) {
		t.Fatalf("expected quantity to stay at 2, got %v", items)
	}

	_, payload = srv.do(t, http.MethodPost, "/items", `{"id":"9","name":"Sold out","price":"10.00","quantity":1}`)
	if items := checkoutOf(t, payload)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected out-of-stock item to be ignored, got %v", items)
	}
}

func TestCheckoutHandlersCities(t *testing.T) {
	srv := newCheckoutServer(t)
	rr, payload := srv.do(t, http.MethodGet, "/cities", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	regions := payload["regions"].([]any)
	if len(regions) != 6 {
		t.Fatalf("expected 6 regions, got %d", len(regions))
	}
	if regions[0].(map[string]any)["name"] != "Davao Region" {
		t.Fatalf("unexpected first region %v", regions[0])
	}
}

func TestCheckoutHandlersEndSession(t *testing.T) {
	srv := newCheckoutServer(t)
	srv.do(t, http.MethodGet, "", "")

	rr, _ := srv.do(t, http.MethodDelete, "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(srv.registry.released) != 1 || srv.registry.released[0] != "sess-1" {
		t.Fatalf("expected session released, got %v", srv.registry.released)
	}
	if srv.terminated != 1 {
		t.Fatalf("expected session cookie terminated")
	}
	if srv.registry.Len() != 0 {
		t.Fatalf("expected no live sessions")
	}
}

func TestBearerCredentialIgnoresOtherSchemes(t *testing.T) {
	srv := newCheckoutServer(t)
	srv.do(t, http.MethodPatch, "/billing", filledBillingBody)
	srv.do(t, http.MethodPut, "/payment", `{"paymentMethod":"COD"}`)

	_, payload := srv.do(t, http.MethodPost, "/submit", "", "Authorization", "Basic dXNlcjpwYXNz")
	if checkoutOf(t, payload)["reason"] != services.ReasonSignInRequired {
		t.Fatalf("expected basic auth to be ignored, got %v", payload)
	}
}

func TestCheckoutHandlersLimitSubmitAttempts(t *testing.T) {
	srv := newCheckoutServer(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	handlers := NewCheckoutHandlers(srv.registry,
		WithSessionResolver(func(r *http.Request) (string, bool) {
			id := r.Header.Get(testSessionHeader)
			return id, id != ""
		}),
		WithSubmitRateLimit(2, time.Minute, func() time.Time { return now }),
	)
	srv.router = NewRouter(WithCheckoutRoutes(handlers.Routes))

	for i := 0; i < 2; i++ {
		if rr, _ := srv.do(t, http.MethodPost, "/submit", ""); rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("attempt %d: expected validation error, got %d", i, rr.Code)
		}
	}
	rr, payload := srv.do(t, http.MethodPost, "/submit", "")
	if rr.Code != http.StatusTooManyRequests || payload["error"] != "rate_limited" {
		t.Fatalf("expected rate limit, got %d %v", rr.Code, payload)
	}
	if rr, _ := srv.do(t, http.MethodGet, "", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr, _ := srv.do(t, http.MethodPost, "/submit", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected limit to reset after the window, got %d", rr.Code)
	}
}
