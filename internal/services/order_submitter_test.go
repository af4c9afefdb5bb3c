package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Tiann-Paete/Nars-web/internal/cartstore"
	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

func newTestSubmitter(t *testing.T, placer *stubPlacer) *OrderSubmitter {
	t.Helper()
	if placer == nil {
		placer = &stubPlacer{}
	}
	submitter, err := NewOrderSubmitter(OrderSubmitterDeps{
		Cart:        cartstore.NewMemoryCart(cartLine("1", "100.00", 1)),
		Placer:      placer,
		Credentials: stubCredentials{},
		DeliveryFee: price("60.00"),
		Clock:       fixedClock(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return submitter
}

func TestOrderSubmitterRejectsSubmitFromIdle(t *testing.T) {
	placer := &stubPlacer{}
	submitter := newTestSubmitter(t, placer)

	_, err := submitter.Submit(context.Background(), domain.ResolvedBillingInfo{}, domain.CashOnDelivery{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if placer.Calls() != 0 {
		t.Fatalf("expected no order call")
	}
}

func TestOrderSubmitterWalletRequiresAwaitingState(t *testing.T) {
	submitter := newTestSubmitter(t, nil)
	if err := submitter.BeginValidation(); err != nil {
		t.Fatalf("begin validation: %v", err)
	}
	wallet := domain.GCashWallet{HolderName: "Juan", WalletNumber: "0917"}
	if _, err := submitter.Submit(context.Background(), domain.ResolvedBillingInfo{}, wallet); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected wallet submit from validating to fail, got %v", err)
	}
	if err := submitter.AwaitWallet(); err != nil {
		t.Fatalf("await wallet: %v", err)
	}
	result, err := submitter.Submit(context.Background(), domain.ResolvedBillingInfo{}, wallet)
	if err != nil || !result.Succeeded() {
		t.Fatalf("expected confirmed wallet order, got %+v err=%v", result, err)
	}
}

func TestOrderSubmitterTransitions(t *testing.T) {
	submitter := newTestSubmitter(t, nil)

	if err := submitter.AwaitWallet(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected await from idle to fail, got %v", err)
	}
	if err := submitter.BeginValidation(); err != nil {
		t.Fatalf("begin validation: %v", err)
	}
	if err := submitter.BeginValidation(); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("expected second begin to fail, got %v", err)
	}
	if err := submitter.Reset(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected reset mid-attempt to fail, got %v", err)
	}
	submitter.ValidationFailed()
	if submitter.Status().State != domain.SubmissionIdle {
		t.Fatalf("expected idle after validation failure")
	}

	submitter.Dispose()
	if err := submitter.BeginValidation(); !errors.Is(err, ErrCheckoutClosed) {
		t.Fatalf("expected ErrCheckoutClosed, got %v", err)
	}
}

func TestNewOrderSubmitterValidatesDeps(t *testing.T) {
	cases := map[string]OrderSubmitterDeps{
		"cart":        {Placer: &stubPlacer{}, Credentials: stubCredentials{}},
		"placer":      {Cart: cartstore.NewMemoryCart(), Credentials: stubCredentials{}},
		"credentials": {Cart: cartstore.NewMemoryCart(), Placer: &stubPlacer{}},
		"fee":         {Cart: cartstore.NewMemoryCart(), Placer: &stubPlacer{}, Credentials: stubCredentials{}, DeliveryFee: price("-1")},
	}
	for name, deps := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewOrderSubmitter(deps); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestOrderSubmitterRefusesEditsWhileSubmitting(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	placer := &stubPlacer{placeFunc: func(context.Context, string, domain.OrderRequest) (domain.PlaceOrderResponse, error) {
		close(entered)
		<-release
		return domain.PlaceOrderResponse{Success: true, OrderID: "ORD-7"}, nil
	}}
	submitter := newTestSubmitter(t, placer)
	if err := submitter.BeginValidation(); err != nil {
		t.Fatalf("begin validation: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := submitter.Submit(context.Background(), domain.ResolvedBillingInfo{}, domain.CashOnDelivery{})
		done <- err
	}()
	<-entered

	ran := false
	err := submitter.WhileEditable(func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrSubmissionInProgress) || ran {
		t.Fatalf("expected edit refused during submission, got %v ran=%t", err, ran)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := submitter.WhileEditable(func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("expected edit allowed after confirmation, got %v", err)
	}
}
