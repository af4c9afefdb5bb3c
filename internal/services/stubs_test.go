package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tiann-Paete/Nars-web/internal/cartstore"
	"github.com/Tiann-Paete/Nars-web/internal/domain"
	"github.com/Tiann-Paete/Nars-web/internal/geo"
)

type stubStockSource struct {
	calls     int32
	fetchFunc func(ctx context.Context) (domain.StockSnapshot, error)
}

func (s *stubStockSource) FetchStock(ctx context.Context) (domain.StockSnapshot, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.fetchFunc != nil {
		return s.fetchFunc(ctx)
	}
	return domain.StockSnapshot{}, nil
}

func (s *stubStockSource) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func stockOf(levels map[string]int) *stubStockSource {
	return &stubStockSource{fetchFunc: func(context.Context) (domain.StockSnapshot, error) {
		return domain.StockSnapshot{Levels: levels}, nil
	}}
}

type stubPlacer struct {
	mu        sync.Mutex
	calls     int32
	requests  []domain.OrderRequest
	creds     []string
	placeFunc func(ctx context.Context, credential string, req domain.OrderRequest) (domain.PlaceOrderResponse, error)
}

func (s *stubPlacer) PlaceOrder(ctx context.Context, credential string, req domain.OrderRequest) (domain.PlaceOrderResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.creds = append(s.creds, credential)
	s.mu.Unlock()
	if s.placeFunc != nil {
		return s.placeFunc(ctx, credential, req)
	}
	return domain.PlaceOrderResponse{Success: true, OrderID: "ORD-1"}, nil
}

func (s *stubPlacer) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func (s *stubPlacer) LastRequest() domain.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type stubCredentials struct {
	credFunc func(ctx context.Context) (string, error)
}

func (s stubCredentials) Credential(ctx context.Context) (string, error) {
	if s.credFunc != nil {
		return s.credFunc(ctx)
	}
	return "token-123", nil
}

type countingRecorder struct {
	mu                sync.Mutex
	orders            map[string]int
	stockOK           int
	stockFailed       int
	quantityRejected  int
	validationBlocked int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{orders: make(map[string]int)}
}

func (r *countingRecorder) OrderSubmitted(kind domain.PaymentKind, succeeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome := "failed"
	if succeeded {
		outcome = "confirmed"
	}
	r.orders[string(kind)+":"+outcome]++
}

func (r *countingRecorder) StockFetched(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.stockOK++
	} else {
		r.stockFailed++
	}
}

func (r *countingRecorder) QuantityRejected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quantityRejected++
}

func (r *countingRecorder) ValidationBlocked() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validationBlocked++
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{name: event, fields: fields})
}

func (l *eventLog) has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.name == name {
			return true
		}
	}
	return false
}

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func cartLine(id, unitPrice string, qty int) domain.CartLine {
	return domain.CartLine{ID: id, Name: "Item " + id, Price: price(unitPrice), Quantity: qty}
}

func fixedClock() func() time.Time {
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func loadedCatalog(levels map[string]int) *StockCatalog {
	catalog, err := NewStockCatalog(StockCatalogDeps{Source: stockOf(levels), Clock: fixedClock()})
	if err != nil {
		panic(err)
	}
	catalog.Fetch(context.Background())
	return catalog
}

type checkoutFixture struct {
	checkout  *CheckoutOrchestrator
	cart      *cartstore.MemoryCart
	placer    *stubPlacer
	events    *eventLog
	recorder  *countingRecorder
	confirmed []string
	failed    []string
}

func filledBilling(o *CheckoutOrchestrator) error {
	fields := map[string]string{
		FieldFullName:    "Juan Dela Cruz",
		FieldPhoneNumber: "09171234567",
		FieldAddress:     "123 Rizal St",
		FieldPostalCode:  "8000",
	}
	for field, value := range fields {
		if err := o.SetBillingField(field, value); err != nil {
			return err
		}
	}
	return o.SelectCity("Davao City")
}

func newCheckoutFixture(placer *stubPlacer, creds CredentialProvider, lines ...domain.CartLine) *checkoutFixture {
	if placer == nil {
		placer = &stubPlacer{}
	}
	if creds == nil {
		creds = stubCredentials{}
	}
	if len(lines) == 0 {
		lines = []domain.CartLine{cartLine("1", "100.00", 2)}
	}
	f := &checkoutFixture{
		cart:     cartstore.NewMemoryCart(lines...),
		placer:   placer,
		events:   &eventLog{},
		recorder: newCountingRecorder(),
	}
	var mu sync.Mutex
	checkout, err := NewCheckoutOrchestrator(CheckoutOrchestratorDeps{
		Cart:        f.cart,
		Stock:       loadedCatalog(map[string]int{"1": 5, "2": 3}),
		Cities:      geo.Default(),
		Placer:      placer,
		Credentials: creds,
		DeliveryFee: price("60.00"),
		Clock:       fixedClock(),
		Logger:      f.events.log,
		Recorder:    f.recorder,
		OnOrderConfirmed: func(_ context.Context, orderID string) {
			mu.Lock()
			defer mu.Unlock()
			f.confirmed = append(f.confirmed, orderID)
		},
		OnOrderFailed: func(_ context.Context, reason string) {
			mu.Lock()
			defer mu.Unlock()
			f.failed = append(f.failed, reason)
		},
	})
	if err != nil {
		panic(err)
	}
	f.checkout = checkout
	return f
}
