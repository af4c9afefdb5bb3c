package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
	"github.com/Tiann-Paete/Nars-web/internal/geo"
)

const (
	// HomePath is where "continue shopping" leads.
	HomePath = "/home"
	// OrderTrackingPath prefixes the order-tracking page of a confirmed order.
	OrderTrackingPath = "/order-tracking/"
)

var (
	// ErrValidationFailed indicates required billing fields are empty; see CheckoutView.Errors.
	ErrValidationFailed = errors.New("checkout: billing validation failed")
	// ErrCartEmpty indicates there is nothing to check out.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrNoConfirmedOrder indicates order tracking was requested before an order was confirmed.
	ErrNoConfirmedOrder = errors.New("checkout: no confirmed order")
	// ErrInvalidCartLine indicates a product cannot be added as given.
	ErrInvalidCartLine = errors.New("checkout: invalid cart line")
)

// CheckoutLine is a cart line with its stock-driven affordances.
type CheckoutLine struct {
	domain.CartLine
	LineTotal    decimal.Decimal
	Stock        int
	CanIncrement bool
	CanDecrement bool
}

// CheckoutView is everything the presentation layer renders.
type CheckoutView struct {
	Billing     domain.ResolvedBillingInfo
	Errors      ErrorMap
	PaymentKind domain.PaymentKind
	Lines       []CheckoutLine
	Amounts     domain.Amounts
	State       domain.SubmissionState
	Reason      string
	OrderID     string
	StockLoaded bool
}

// Receipt is the order summary reviewed before placing the order.
type Receipt struct {
	Billing     domain.ResolvedBillingInfo
	PaymentKind domain.PaymentKind
	Lines       []domain.CartLine
	Amounts     domain.Amounts
}

// NavigationIntent asks the presentation layer to move to another page.
type NavigationIntent struct {
	Path string
}

// CheckoutOrchestratorDeps wires the dependencies of a CheckoutOrchestrator.
type CheckoutOrchestratorDeps struct {
	Cart             CartStore
	Stock            *StockCatalog
	Cities           *geo.Table
	Placer           OrderPlacer
	Credentials      CredentialProvider
	DeliveryFee      decimal.Decimal
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)
	Recorder         CheckoutRecorder
	OnOrderConfirmed func(ctx context.Context, orderID string)
	OnOrderFailed    func(ctx context.Context, reason string)
}

// CheckoutOrchestrator drives one shopper's checkout. Its methods are safe for concurrent use;
// the order call itself runs without holding the orchestrator lock.
type CheckoutOrchestrator struct {
	cart       CartStore
	stock      *StockCatalog
	validator  *AddressValidator
	quantities *CartQuantityController
	submitter  *OrderSubmitter
	delivery   decimal.Decimal
	recorder   CheckoutRecorder

	mu      sync.Mutex
	billing domain.BillingInfo
	errs    ErrorMap
	payment *PaymentMethodSelector
}

// NewCheckoutOrchestrator composes the checkout components.
func NewCheckoutOrchestrator(deps CheckoutOrchestratorDeps) (*CheckoutOrchestrator, error) {
	if deps.Stock == nil {
		return nil, errors.New("checkout orchestrator: stock catalog is required")
	}
	validator, err := NewAddressValidator(deps.Cities)
	if err != nil {
		return nil, fmt.Errorf("checkout orchestrator: %w", err)
	}
	quantities, err := NewCartQuantityController(CartQuantityControllerDeps{
		Cart:     deps.Cart,
		Stock:    deps.Stock,
		Recorder: deps.Recorder,
		Logger:   deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout orchestrator: %w", err)
	}
	submitter, err := NewOrderSubmitter(OrderSubmitterDeps{
		Cart:        deps.Cart,
		Placer:      deps.Placer,
		Credentials: deps.Credentials,
		DeliveryFee: deps.DeliveryFee,
		Clock:       deps.Clock,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
		Recorder:    deps.Recorder,
		OnConfirmed: deps.OnOrderConfirmed,
		OnFailed:    deps.OnOrderFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout orchestrator: %w", err)
	}
	return &CheckoutOrchestrator{
		cart:       deps.Cart,
		stock:      deps.Stock,
		validator:  validator,
		quantities: quantities,
		submitter:  submitter,
		delivery:   deps.DeliveryFee,
		recorder:   recorderOrNoop(deps.Recorder),
		billing:    domain.NewBillingInfo(),
		errs:       ErrorMap{},
		payment:    NewPaymentMethodSelector(),
	}, nil
}

// Start primes the stock snapshot in the background.
func (o *CheckoutOrchestrator) Start(ctx context.Context) <-chan struct{} {
	return o.stock.Prime(ctx)
}

// View returns the current checkout state. Amounts are recomputed from the cart on every call.
func (o *CheckoutOrchestrator) View(ctx context.Context) (CheckoutView, error) {
	lines, err := o.cart.Items(ctx)
	if err != nil {
		return CheckoutView{}, fmt.Errorf("read cart: %w", err)
	}
	snapshot := o.stock.Current(ctx)
	status := o.submitter.Status()

	o.mu.Lock()
	billing := o.validator.Resolve(o.billing)
	errs := o.errs.Clone()
	kind := o.payment.Kind()
	o.mu.Unlock()

	view := CheckoutView{
		Billing:     billing,
		Errors:      errs,
		PaymentKind: kind,
		Lines:       make([]CheckoutLine, 0, len(lines)),
		Amounts:     domain.ComputeAmounts(lines, o.delivery),
		State:       status.State,
		Reason:      status.Reason,
		OrderID:     status.OrderID,
		StockLoaded: snapshot.Loaded(),
	}
	for _, line := range lines {
		view.Lines = append(view.Lines, CheckoutLine{
			CartLine:     line,
			LineTotal:    line.LineTotal(),
			Stock:        snapshot.Available(line.ID),
			CanIncrement: CanIncrement(line, snapshot),
			CanDecrement: CanDecrement(line),
		})
	}
	return view, nil
}

// Cities returns the table backing the city picker.
func (o *CheckoutOrchestrator) Cities() *geo.Table {
	return o.validator.Cities()
}

// SetBillingField edits one billing field and clears its error.
func (o *CheckoutOrchestrator) SetBillingField(field, value string) error {
	return o.submitter.WhileEditable(func() error {
		o.mu.Lock()
		defer o.mu.Unlock()
		updated, err := o.validator.SetField(o.billing, field, value)
		if err != nil {
			return err
		}
		o.billing = updated
		o.errs = o.validator.ClearField(o.errs, field)
		if field == FieldCity {
			o.errs = o.validator.ClearField(o.errs, FieldStateProvince)
		}
		return nil
	})
}

// SelectCity picks a city from the table; the province follows.
func (o *CheckoutOrchestrator) SelectCity(city string) error {
	return o.submitter.WhileEditable(func() error {
		o.mu.Lock()
		defer o.mu.Unlock()
		updated, err := o.validator.SelectCity(o.billing, city)
		if err != nil {
			return err
		}
		o.billing = updated
		o.errs = o.validator.ClearField(o.errs, FieldCity)
		o.errs = o.validator.ClearField(o.errs, FieldStateProvince)
		return nil
	})
}

// SelectPaymentMethod switches the payment kind. Leaving GCash while the wallet dialog is
// open closes the dialog.
func (o *CheckoutOrchestrator) SelectPaymentMethod(kind domain.PaymentKind) error {
	return o.submitter.WhileEditable(func() error {
		o.mu.Lock()
		defer o.mu.Unlock()
		if err := o.payment.Select(kind); err != nil {
			return err
		}
		if kind != domain.PaymentKindGCash && o.submitter.Status().State == domain.SubmissionAwaitingWalletConfirmation {
			_ = o.submitter.CancelWallet()
		}
		return nil
	})
}

// ChangeQuantity requests a new quantity; out-of-range values are ignored.
func (o *CheckoutOrchestrator) ChangeQuantity(ctx context.Context, itemID string, quantity int) (int, error) {
	var current int
	err := o.submitter.WhileEditable(func() error {
		var err error
		current, err = o.quantities.RequestQuantityChange(ctx, itemID, quantity)
		return err
	})
	return current, err
}

// Increment adds one unit when stock allows.
func (o *CheckoutOrchestrator) Increment(ctx context.Context, itemID string) (int, error) {
	var current int
	err := o.submitter.WhileEditable(func() error {
		var err error
		current, err = o.quantities.Increment(ctx, itemID)
		return err
	})
	return current, err
}

// Decrement removes one unit, never going below one.
func (o *CheckoutOrchestrator) Decrement(ctx context.Context, itemID string) (int, error) {
	var current int
	err := o.submitter.WhileEditable(func() error {
		var err error
		current, err = o.quantities.Decrement(ctx, itemID)
		return err
	})
	return current, err
}

// RemoveItem deletes a line from the cart.
func (o *CheckoutOrchestrator) RemoveItem(ctx context.Context, itemID string) error {
	return o.submitter.WhileEditable(func() error {
		return o.quantities.Remove(ctx, itemID)
	})
}

// AddItem puts a product into the cart. Like a quantity change, an add that would take the
// line past the item's stock is ignored.
func (o *CheckoutOrchestrator) AddItem(ctx context.Context, line domain.CartLine) error {
	if line.ID == "" || line.Price.IsNegative() || line.Quantity < 1 {
		return fmt.Errorf("%w: %q", ErrInvalidCartLine, line.ID)
	}
	return o.submitter.WhileEditable(func() error {
		return o.quantities.Add(ctx, line)
	})
}

// RefreshStock reloads the stock snapshot.
func (o *CheckoutOrchestrator) RefreshStock(ctx context.Context) error {
	return o.stock.Refresh(ctx)
}

// Review validates the form and returns the receipt shown before the order is placed.
func (o *CheckoutOrchestrator) Review(ctx context.Context) (Receipt, error) {
	lines, err := o.cart.Items(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("read cart: %w", err)
	}
	if len(lines) == 0 {
		return Receipt{}, ErrCartEmpty
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if errs := o.validator.Validate(o.billing); len(errs) > 0 {
		o.errs = errs
		return Receipt{}, ErrValidationFailed
	}
	o.errs = ErrorMap{}
	return Receipt{
		Billing:     o.validator.Resolve(o.billing),
		PaymentKind: o.payment.Kind(),
		Lines:       lines,
		Amounts:     domain.ComputeAmounts(lines, o.delivery),
	}, nil
}

// Checkout runs an attempt: validation, then either the cash-on-delivery submission or the
// wallet dialog. It returns the state reached.
func (o *CheckoutOrchestrator) Checkout(ctx context.Context) (domain.SubmissionState, error) {
	lines, err := o.cart.Items(ctx)
	if err != nil {
		return o.submitter.Status().State, fmt.Errorf("read cart: %w", err)
	}
	if len(lines) == 0 {
		return o.submitter.Status().State, ErrCartEmpty
	}
	if err := o.submitter.BeginValidation(); err != nil {
		return o.submitter.Status().State, err
	}

	o.mu.Lock()
	errs := o.validator.Validate(o.billing)
	o.errs = errs
	if len(errs) > 0 {
		o.mu.Unlock()
		o.submitter.ValidationFailed()
		o.recorder.ValidationBlocked()
		return domain.SubmissionIdle, ErrValidationFailed
	}
	billing := o.validator.Resolve(o.billing)
	payment, ready := o.payment.Resolve()
	if !ready {
		err := o.submitter.AwaitWallet()
		o.mu.Unlock()
		return o.submitter.Status().State, err
	}
	o.mu.Unlock()

	if _, err := o.submitter.Submit(ctx, billing, payment); err != nil {
		return o.submitter.Status().State, err
	}
	return o.submitter.Status().State, nil
}

// ConfirmWallet attaches the wallet details and submits. Blank details keep the dialog open.
func (o *CheckoutOrchestrator) ConfirmWallet(ctx context.Context, holderName, walletNumber string) (domain.OrderResult, error) {
	o.mu.Lock()
	if state := o.submitter.Status().State; state != domain.SubmissionAwaitingWalletConfirmation {
		o.mu.Unlock()
		if state == domain.SubmissionSubmitting {
			return domain.OrderResult{}, ErrSubmissionInProgress
		}
		return domain.OrderResult{}, fmt.Errorf("%w: confirm wallet from %s", ErrInvalidTransition, state)
	}
	wallet, err := o.payment.WithWallet(holderName, walletNumber)
	if err != nil {
		o.mu.Unlock()
		return domain.OrderResult{}, err
	}
	if errs := o.validator.Validate(o.billing); len(errs) > 0 {
		o.errs = errs
		o.mu.Unlock()
		_ = o.submitter.CancelWallet()
		o.recorder.ValidationBlocked()
		return domain.OrderResult{}, ErrValidationFailed
	}
	billing := o.validator.Resolve(o.billing)
	o.mu.Unlock()

	return o.submitter.Submit(ctx, billing, wallet)
}

// CancelWallet closes the wallet dialog without submitting.
func (o *CheckoutOrchestrator) CancelWallet() error {
	return o.submitter.CancelWallet()
}

// ContinueShopping returns the intent to go back to the product listing.
func (o *CheckoutOrchestrator) ContinueShopping() NavigationIntent {
	return NavigationIntent{Path: HomePath}
}

// TrackOrder returns the intent to open the tracking page of the confirmed order.
func (o *CheckoutOrchestrator) TrackOrder() (NavigationIntent, error) {
	status := o.submitter.Status()
	if status.State != domain.SubmissionConfirmed || status.OrderID == "" {
		return NavigationIntent{}, ErrNoConfirmedOrder
	}
	return NavigationIntent{Path: OrderTrackingPath + url.PathEscape(status.OrderID)}, nil
}

// Reset starts a fresh checkout after a confirmed or failed attempt. Billing info is kept.
func (o *CheckoutOrchestrator) Reset() error {
	if err := o.submitter.Reset(); err != nil {
		return err
	}
	o.mu.Lock()
	o.errs = ErrorMap{}
	o.mu.Unlock()
	return nil
}

// Close disposes the orchestrator. An order call still in flight completes but its result is dropped.
func (o *CheckoutOrchestrator) Close() {
	o.submitter.Dispose()
}

// Status returns the submission state machine's current status.
func (o *CheckoutOrchestrator) Status() SubmissionStatus {
	return o.submitter.Status()
}
