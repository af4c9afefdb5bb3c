package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

var (
	// ErrUnknownPaymentMethod indicates the payment kind is not supported.
	ErrUnknownPaymentMethod = errors.New("checkout: unknown payment method")
	// ErrWalletDetailsRequired indicates the wallet holder name or number is blank.
	ErrWalletDetailsRequired = errors.New("checkout: wallet holder name and number are required")
	// ErrPaymentMethodMismatch indicates wallet details were supplied for a non-wallet method.
	ErrPaymentMethodMismatch = errors.New("checkout: payment method mismatch")
)

// PaymentMethodSelector holds the chosen payment kind. Wallet details are not part of it;
// they produce a separate GCashWallet value once confirmed.
type PaymentMethodSelector struct {
	kind domain.PaymentKind
}

// NewPaymentMethodSelector returns a selector defaulting to GCash.
func NewPaymentMethodSelector() *PaymentMethodSelector {
	return &PaymentMethodSelector{kind: domain.PaymentKindGCash}
}

// Kind returns the selected payment kind.
func (s *PaymentMethodSelector) Kind() domain.PaymentKind {
	return s.kind
}

// Select switches the payment kind.
func (s *PaymentMethodSelector) Select(kind domain.PaymentKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, kind)
	}
	s.kind = kind
	return nil
}

// Resolve returns the payment method when no further details are needed.
func (s *PaymentMethodSelector) Resolve() (domain.PaymentMethod, bool) {
	if s.kind == domain.PaymentKindCOD {
		return domain.CashOnDelivery{}, true
	}
	return nil, false
}

// WithWallet builds the confirmed wallet payment from the dialog input.
func (s *PaymentMethodSelector) WithWallet(holderName, walletNumber string) (domain.PaymentMethod, error) {
	if s.kind != domain.PaymentKindGCash {
		return nil, fmt.Errorf("%w: %s selected", ErrPaymentMethodMismatch, s.kind)
	}
	holderName = strings.TrimSpace(holderName)
	walletNumber = strings.TrimSpace(walletNumber)
	if holderName == "" || walletNumber == "" {
		return nil, ErrWalletDetailsRequired
	}
	return domain.GCashWallet{HolderName: holderName, WalletNumber: walletNumber}, nil
}
