package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

// ErrFakeOrderRejected is returned by the fake when an order failure was scripted.
var ErrFakeOrderRejected = errors.New("backend: order rejected by fake")

// Fake serves stock levels and accepts orders in process. It backs the client when no
// backend URL is configured and doubles as a scriptable collaborator in tests.
type Fake struct {
	mu       sync.Mutex
	stock    map[string]int
	orders   []domain.OrderRequest
	failNext int
	seq      int
}

// NewFake returns a fake seeded with demo stock levels.
func NewFake() *Fake {
	return &Fake{stock: map[string]int{
		"1": 12,
		"2": 5,
		"3": 0,
		"4": 30,
	}}
}

// SetStock replaces the stock level of a single item.
func (f *Fake) SetStock(itemID string, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[itemID] = qty
}

// FailNextOrders makes the next n order placements report success=false.
func (f *Fake) FailNextOrders(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

// Orders returns the orders accepted so far.
func (f *Fake) Orders() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderRequest(nil), f.orders...)
}

// FetchStock returns a copy of the fake stock table.
func (f *Fake) FetchStock(ctx context.Context) (domain.StockSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockSnapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	levels := make(map[string]int, len(f.stock))
	for id, qty := range f.stock {
		levels[id] = qty
	}
	return domain.StockSnapshot{Levels: levels, FetchedAt: time.Now().UTC()}, nil
}

// PlaceOrder records the order and deducts stock.
func (f *Fake) PlaceOrder(ctx context.Context, credential string, req domain.OrderRequest) (domain.PlaceOrderResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.PlaceOrderResponse{}, err
	}
	if strings.TrimSpace(credential) == "" {
		return domain.PlaceOrderResponse{}, ErrMissingCredential
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return domain.PlaceOrderResponse{Success: false}, nil
	}
	for _, line := range req.Lines {
		if f.stock[line.ID] < line.Quantity {
			return domain.PlaceOrderResponse{}, fmt.Errorf("%w: insufficient stock for %s", ErrFakeOrderRejected, line.ID)
		}
	}
	for _, line := range req.Lines {
		f.stock[line.ID] -= line.Quantity
	}
	f.orders = append(f.orders, req)
	f.seq++
	return domain.PlaceOrderResponse{Success: true, OrderID: randomID(f.seq)}, nil
}

func randomID(seq int) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err == nil {
		return fmt.Sprintf("%d%s", seq, hex.EncodeToString(b))
	}
	return fmt.Sprintf("%d%d", seq, time.Now().UnixNano())
}
