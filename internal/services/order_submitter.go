package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

// Failure reasons shown to the shopper. Details go to the log.
const (
	ReasonOrderRejected    = "The order was not accepted. Please try again."
	ReasonOrderUnreachable = "We could not reach the order service. Please try again."
	ReasonSignInRequired   = "Please sign in again to place your order."
	ReasonCartUnavailable  = "Your cart could not be read. Please try again."
	ReasonCartEmpty        = "Your cart is empty."
)

var (
	// ErrSubmissionInProgress indicates an order call is already running for this checkout.
	ErrSubmissionInProgress = errors.New("checkout: submission in progress")
	// ErrInvalidTransition indicates the operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("checkout: invalid state transition")
	// ErrCheckoutClosed indicates the checkout was disposed; late results are discarded.
	ErrCheckoutClosed = errors.New("checkout: closed")
)

// SubmissionStatus is a point-in-time view of the submission state machine.
type SubmissionStatus struct {
	State   domain.SubmissionState
	Reason  string
	OrderID string
}

// OrderSubmitterDeps wires the dependencies of an OrderSubmitter.
type OrderSubmitterDeps struct {
	Cart        CartStore
	Placer      OrderPlacer
	Credentials CredentialProvider
	DeliveryFee decimal.Decimal
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Recorder    CheckoutRecorder
	OnConfirmed func(ctx context.Context, orderID string)
	OnFailed    func(ctx context.Context, reason string)
}

// OrderSubmitter places orders and owns the submission state machine.
type OrderSubmitter struct {
	cart        CartStore
	placer      OrderPlacer
	credentials CredentialProvider
	delivery    decimal.Decimal
	now         func() time.Time
	newKey      func() string
	logger      func(ctx context.Context, event string, fields map[string]any)
	recorder    CheckoutRecorder
	onConfirmed func(ctx context.Context, orderID string)
	onFailed    func(ctx context.Context, reason string)

	// edits is held shared by checkout edits and exclusively while entering Submitting, so an
	// edit either lands before the order reads the cart or is refused.
	edits sync.RWMutex

	mu       sync.Mutex
	status   SubmissionStatus
	disposed bool
}

// NewOrderSubmitter constructs an OrderSubmitter validating required dependencies.
func NewOrderSubmitter(deps OrderSubmitterDeps) (*OrderSubmitter, error) {
	if deps.Cart == nil {
		return nil, errors.New("order submitter: cart store is required")
	}
	if deps.Placer == nil {
		return nil, errors.New("order submitter: order placer is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("order submitter: credential provider is required")
	}
	if deps.DeliveryFee.IsNegative() {
		return nil, errors.New("order submitter: delivery fee must not be negative")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newKey := deps.IDGenerator
	if newKey == nil {
		newKey = func() string { return ulid.Make().String() }
	}
	return &OrderSubmitter{
		cart:        deps.Cart,
		placer:      deps.Placer,
		credentials: deps.Credentials,
		delivery:    deps.DeliveryFee,
		now:         func() time.Time { return clock().UTC() },
		newKey:      newKey,
		logger:      loggerOrNoop(deps.Logger),
		recorder:    recorderOrNoop(deps.Recorder),
		onConfirmed: deps.OnConfirmed,
		onFailed:    deps.OnFailed,
		status:      SubmissionStatus{State: domain.SubmissionIdle},
	}, nil
}

// Status returns the current state, failure reason and order identifier.
func (s *OrderSubmitter) Status() SubmissionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// BeginValidation moves Idle or Failed to FormValidating.
func (s *OrderSubmitter) BeginValidation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrCheckoutClosed
	}
	switch s.status.State {
	case domain.SubmissionSubmitting, domain.SubmissionFormValidating:
		return ErrSubmissionInProgress
	}
	if !s.status.State.CanStartCheckout() {
		return fmt.Errorf("%w: checkout from %s", ErrInvalidTransition, s.status.State)
	}
	s.status = SubmissionStatus{State: domain.SubmissionFormValidating}
	return nil
}

// ValidationFailed returns FormValidating to Idle.
func (s *OrderSubmitter) ValidationFailed() {
	s.transition(domain.SubmissionFormValidating, domain.SubmissionIdle)
}

// AwaitWallet moves FormValidating to AwaitingWalletConfirmation.
func (s *OrderSubmitter) AwaitWallet() error {
	if !s.transition(domain.SubmissionFormValidating, domain.SubmissionAwaitingWalletConfirmation) {
		return fmt.Errorf("%w: await wallet from %s", ErrInvalidTransition, s.Status().State)
	}
	return nil
}

// CancelWallet closes the wallet dialog and returns to Idle.
func (s *OrderSubmitter) CancelWallet() error {
	if !s.transition(domain.SubmissionAwaitingWalletConfirmation, domain.SubmissionIdle) {
		return fmt.Errorf("%w: cancel wallet from %s", ErrInvalidTransition, s.Status().State)
	}
	return nil
}

// Reset starts over after a finished attempt.
func (s *OrderSubmitter) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrCheckoutClosed
	}
	if !s.status.State.IsTerminal() && s.status.State != domain.SubmissionIdle {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, s.status.State)
	}
	s.status = SubmissionStatus{State: domain.SubmissionIdle}
	return nil
}

// WhileEditable runs edit unless a submission is in progress. No submission can start until
// edit returns.
func (s *OrderSubmitter) WhileEditable(edit func() error) error {
	s.edits.RLock()
	defer s.edits.RUnlock()
	if s.Status().State == domain.SubmissionSubmitting {
		return ErrSubmissionInProgress
	}
	return edit()
}

// Dispose marks the submitter closed. A result arriving afterwards is dropped.
func (s *OrderSubmitter) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

// Submit places the order. It is accepted from FormValidating (cash on delivery) or
// AwaitingWalletConfirmation (wallet), and rejected without a remote call while another
// submission runs. Amounts are computed from the cart at this moment.
func (s *OrderSubmitter) Submit(ctx context.Context, billing domain.ResolvedBillingInfo, payment domain.PaymentMethod) (domain.OrderResult, error) {
	if payment == nil {
		return domain.OrderResult{}, fmt.Errorf("%w: payment method is required", ErrInvalidTransition)
	}
	if err := s.startSubmitting(payment); err != nil {
		return domain.OrderResult{}, err
	}

	result, detail := s.place(ctx, billing, payment)
	return s.finish(ctx, payment.Kind(), result, detail)
}

func (s *OrderSubmitter) startSubmitting(payment domain.PaymentMethod) error {
	s.edits.Lock()
	defer s.edits.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrCheckoutClosed
	}
	state := s.status.State
	switch {
	case state == domain.SubmissionSubmitting:
		return ErrSubmissionInProgress
	case state == domain.SubmissionFormValidating && payment.Kind() == domain.PaymentKindCOD:
	case state == domain.SubmissionAwaitingWalletConfirmation && payment.Kind() == domain.PaymentKindGCash:
	default:
		return fmt.Errorf("%w: submit %s from %s", ErrInvalidTransition, payment.Kind(), state)
	}
	s.status = SubmissionStatus{State: domain.SubmissionSubmitting}
	return nil
}

func (s *OrderSubmitter) place(ctx context.Context, billing domain.ResolvedBillingInfo, payment domain.PaymentMethod) (domain.OrderResult, error) {
	lines, err := s.cart.Items(ctx)
	if err != nil {
		return domain.OrderFailed(ReasonCartUnavailable), fmt.Errorf("read cart: %w", err)
	}
	if len(lines) == 0 {
		return domain.OrderFailed(ReasonCartEmpty), ErrCartEmpty
	}
	credential, err := s.credentials.Credential(ctx)
	if err != nil {
		return domain.OrderFailed(ReasonSignInRequired), fmt.Errorf("credential: %w", err)
	}

	req := domain.OrderRequest{
		Billing:        billing,
		Payment:        payment,
		Lines:          lines,
		Amounts:        domain.ComputeAmounts(lines, s.delivery),
		IdempotencyKey: s.newKey(),
	}
	resp, err := s.placer.PlaceOrder(ctx, credential, req)
	if err != nil {
		return domain.OrderFailed(ReasonOrderUnreachable), fmt.Errorf("place order: %w", err)
	}
	if !resp.Success || resp.OrderID == "" {
		return domain.OrderFailed(ReasonOrderRejected), fmt.Errorf("place order: success=%t order_id=%q", resp.Success, resp.OrderID)
	}

	if err := s.cart.Clear(ctx); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"order_id": resp.OrderID,
			"error":    err.Error(),
		})
	}
	return domain.OrderSucceeded(resp.OrderID), nil
}

func (s *OrderSubmitter) finish(ctx context.Context, kind domain.PaymentKind, result domain.OrderResult, detail error) (domain.OrderResult, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.logger(ctx, "checkout.result_discarded", map[string]any{
			"payment_method": string(kind),
			"order_id":       result.OrderID,
		})
		return result, ErrCheckoutClosed
	}
	if result.Succeeded() {
		s.status = SubmissionStatus{State: domain.SubmissionConfirmed, OrderID: result.OrderID}
	} else {
		s.status = SubmissionStatus{State: domain.SubmissionFailed, Reason: result.Reason}
	}
	s.mu.Unlock()

	s.recorder.OrderSubmitted(kind, result.Succeeded())
	if result.Succeeded() {
		s.logger(ctx, "checkout.order_confirmed", map[string]any{
			"payment_method": string(kind),
			"order_id":       result.OrderID,
			"confirmed_at":   s.now(),
		})
		if s.onConfirmed != nil {
			s.onConfirmed(ctx, result.OrderID)
		}
		return result, nil
	}

	fields := map[string]any{
		"payment_method": string(kind),
		"reason":         result.Reason,
	}
	if detail != nil {
		fields["error"] = detail.Error()
	}
	s.logger(ctx, "checkout.order_failed", fields)
	if s.onFailed != nil {
		s.onFailed(ctx, result.Reason)
	}
	return result, nil
}

func (s *OrderSubmitter) transition(from, to domain.SubmissionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.status.State != from {
		return false
	}
	s.status = SubmissionStatus{State: to}
	return true
}
