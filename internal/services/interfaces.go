package services

import (
	"context"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

// CartStore is the shopper's cart. Items returns lines in insertion order.
type CartStore interface {
	Items(ctx context.Context) ([]domain.CartLine, error)
	Add(ctx context.Context, line domain.CartLine, ceiling int) error
	UpdateQuantity(ctx context.Context, itemID string, quantity, ceiling int) error
	Remove(ctx context.Context, itemID string) error
	Clear(ctx context.Context) error
}

// StockSource loads the stock level of every catalog item.
type StockSource interface {
	FetchStock(ctx context.Context) (domain.StockSnapshot, error)
}

// OrderPlacer submits an order to the order-placement endpoint.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, credential string, req domain.OrderRequest) (domain.PlaceOrderResponse, error)
}

// CredentialProvider supplies the bearer credential used when placing orders.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// CheckoutRecorder receives checkout outcome counters.
type CheckoutRecorder interface {
	OrderSubmitted(kind domain.PaymentKind, succeeded bool)
	StockFetched(ok bool)
	QuantityRejected()
	ValidationBlocked()
}

type noopRecorder struct{}

func (noopRecorder) OrderSubmitted(domain.PaymentKind, bool) {}
func (noopRecorder) StockFetched(bool)                       {}
func (noopRecorder) QuantityRejected()                       {}
func (noopRecorder) ValidationBlocked()                      {}

func recorderOrNoop(r CheckoutRecorder) CheckoutRecorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}

func loggerOrNoop(logger func(ctx context.Context, event string, fields map[string]any)) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}
