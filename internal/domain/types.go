package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AddressLabel tags a billing address as a home or work address.
type AddressLabel string

const (
	// AddressLabelHome marks a residential delivery address.
	AddressLabelHome AddressLabel = "Home"
	// AddressLabelWork marks an office delivery address.
	AddressLabelWork AddressLabel = "Work"
)

// Valid reports whether the label is one of the supported values.
func (l AddressLabel) Valid() bool {
	return l == AddressLabelHome || l == AddressLabelWork
}

// BillingInfo is the contact and address record collected during checkout. The province is not
// stored; it is always derived from City through the city table.
type BillingInfo struct {
	FullName    string
	PhoneNumber string
	Address     string
	City        string
	PostalCode  string
	Label       AddressLabel
}

// NewBillingInfo returns an empty billing record with the default address label.
func NewBillingInfo() BillingInfo {
	return BillingInfo{Label: AddressLabelHome}
}

// ResolvedBillingInfo is a BillingInfo with its derived province attached, as sent to the backend.
type ResolvedBillingInfo struct {
	BillingInfo
	Province string
}

// CartLine is a single item in the shopper's cart.
type CartLine struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int
	ImageURL string
}

// LineTotal returns price multiplied by quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// StockSnapshot maps item identifiers to the available stock known at FetchedAt.
type StockSnapshot struct {
	Levels    map[string]int
	FetchedAt time.Time
}

// Loaded reports whether the snapshot was populated by a successful fetch.
func (s StockSnapshot) Loaded() bool {
	return !s.FetchedAt.IsZero()
}

// Available returns the stock for the item, treating unknown items as out of stock.
func (s StockSnapshot) Available(itemID string) int {
	if s.Levels == nil {
		return 0
	}
	qty := s.Levels[itemID]
	if qty < 0 {
		return 0
	}
	return qty
}

// OrderRequest is the payload handed to the order-placement endpoint.
type OrderRequest struct {
	Billing        ResolvedBillingInfo
	Payment        PaymentMethod
	Lines          []CartLine
	Amounts        Amounts
	IdempotencyKey string
}

// PlaceOrderResponse mirrors the order endpoint response body.
type PlaceOrderResponse struct {
	Success bool
	OrderID string
}

// OrderResult is the terminal outcome of one submission attempt.
type OrderResult struct {
	OrderID string
	Reason  string
}

// Succeeded reports whether the result carries a confirmed order.
func (r OrderResult) Succeeded() bool {
	return r.OrderID != "" && r.Reason == ""
}

// OrderSucceeded builds a successful result.
func OrderSucceeded(orderID string) OrderResult {
	return OrderResult{OrderID: orderID}
}

// OrderFailed builds a failed result carrying a reason for the presentation layer.
func OrderFailed(reason string) OrderResult {
	return OrderResult{Reason: reason}
}
