package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
	"github.com/Tiann-Paete/Nars-web/internal/geo"
	"github.com/Tiann-Paete/Nars-web/internal/platform/httpx"
	"github.com/Tiann-Paete/Nars-web/internal/platform/requestctx"
	"github.com/Tiann-Paete/Nars-web/internal/platform/session"
	"github.com/Tiann-Paete/Nars-web/internal/platform/textutil"
	"github.com/Tiann-Paete/Nars-web/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutRegistry resolves the orchestrator of a shopper session.
type CheckoutRegistry interface {
	Get(ctx context.Context, sessionID string) (*services.CheckoutOrchestrator, error)
	Release(ctx context.Context, sessionID string)
}

// CheckoutHandlers exposes the checkout of the current session as JSON endpoints.
type CheckoutHandlers struct {
	registry  CheckoutRegistry
	sessionID func(r *http.Request) (string, bool)
	endSess   func(w http.ResponseWriter)
	submits   *windowLimiter
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithSessionResolver overrides how the session identifier is read from a request.
func WithSessionResolver(fn func(r *http.Request) (string, bool)) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if fn != nil {
			h.sessionID = fn
		}
	}
}

// WithSessionTerminator sets the function that invalidates the session cookie on logout.
func WithSessionTerminator(fn func(w http.ResponseWriter)) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.endSess = fn
	}
}

// WithSubmitRateLimit caps order-placing requests per session. A zero limit disables the cap.
func WithSubmitRateLimit(limit int, every time.Duration, now func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.submits = newWindowLimiter(limit, every, now)
	}
}

// NewCheckoutHandlers constructs checkout handlers backed by the session registry.
func NewCheckoutHandlers(registry CheckoutRegistry, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		registry:  registry,
		sessionID: sessionFromContext,
		submits:   newWindowLimiter(defaultSubmitLimit, defaultSubmitWindow, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(BearerCredential)
	r.Get("/", h.getCheckout)
	r.Delete("/", h.endSession)
	r.Get("/cities", h.listCities)
	r.Patch("/billing", h.patchBilling)
	r.Put("/billing/city", h.putCity)
	r.Put("/payment", h.putPayment)
	r.Post("/items", h.addItem)
	r.Put("/items/{itemID}", h.putQuantity)
	r.Post("/items/{itemID}/increment", h.increment)
	r.Post("/items/{itemID}/decrement", h.decrement)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/stock/refresh", h.refreshStock)
	r.Post("/review", h.review)
	r.With(h.limitSubmits).Post("/submit", h.submit)
	r.With(h.limitSubmits).Post("/wallet/confirm", h.confirmWallet)
	r.Post("/wallet/cancel", h.cancelWallet)
	r.Post("/reset", h.reset)
	r.Get("/navigation/continue", h.continueShopping)
	r.Get("/navigation/track", h.trackOrder)
}

// BearerCredential copies the Authorization bearer token onto the request context so the
// order call can forward it.
func BearerCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && strings.TrimSpace(token) != "" {
			r = r.WithContext(requestctx.WithCredential(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *CheckoutHandlers) limitSubmits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := h.sessionID(r); ok && !h.submits.Allow(id) {
			w.Header().Set("Retry-After", "60")
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many order attempts; please wait", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(r *http.Request) (string, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		return "", false
	}
	return sess.ID(), sess.ID() != ""
}

func (h *CheckoutHandlers) checkout(w http.ResponseWriter, r *http.Request) (*services.CheckoutOrchestrator, bool) {
	ctx := r.Context()
	if h.registry == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	id, ok := h.sessionID(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "a shopper session is required", http.StatusUnauthorized))
		return nil, false
	}
	checkout, err := h.registry.Get(ctx, id)
	if err != nil {
		writeCheckoutError(ctx, w, err, nil)
		return nil, false
	}
	return checkout, true
}

func (h *CheckoutHandlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

func (h *CheckoutHandlers) endSession(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.sessionID(r); ok && h.registry != nil {
		h.registry.Release(r.Context(), id)
	}
	if h.endSess != nil {
		h.endSess(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) listCities(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"regions": buildRegions(checkout.Cities())})
}

func (h *CheckoutHandlers) patchBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body map[string]string
	if !decodeBody(w, r, &body) {
		return
	}
	fields := textutil.NormalizeStringMap(body)
	if len(fields) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one billing field is required", http.StatusBadRequest))
		return
	}
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := checkout.SetBillingField(name, fields[name]); err != nil {
			writeCheckoutError(ctx, w, err, checkout)
			return
		}
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

type cityRequest struct {
	City string `json:"city"`
}

func (h *CheckoutHandlers) putCity(w http.ResponseWriter, r *http.Request) {
	var body cityRequest
	if !decodeBody(w, r, &body) {
		return
	}
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if err := checkout.SelectCity(body.City); err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

type paymentRequest struct {
	Method string `json:"paymentMethod"`
}

func (h *CheckoutHandlers) putPayment(w http.ResponseWriter, r *http.Request) {
	var body paymentRequest
	if !decodeBody(w, r, &body) {
		return
	}
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if err := checkout.SelectPaymentMethod(domain.PaymentKind(strings.TrimSpace(body.Method))); err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

type addItemRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
	ImageURL string `json:"image_url"`
}

func (h *CheckoutHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body addItemRequest
	if !decodeBody(w, r, &body) {
		return
	}
	price, err := decimal.NewFromString(strings.TrimSpace(body.Price))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "price must be a decimal number", http.StatusBadRequest))
		return
	}
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	line := domain.CartLine{
		ID:       strings.TrimSpace(body.ID),
		Name:     textutil.PlainText(body.Name),
		Price:    price,
		Quantity: body.Quantity,
		ImageURL: strings.TrimSpace(body.ImageURL),
	}
	if err := checkout.AddItem(ctx, line); err != nil {
		writeCheckoutError(ctx, w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusCreated)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *CheckoutHandlers) putQuantity(w http.ResponseWriter, r *http.Request) {
	var body quantityRequest
	if !decodeBody(w, r, &body) {
		return
	}
	h.changeQuantity(w, r, func(ctx context.Context, c *services.CheckoutOrchestrator, id string) error {
		_, err := c.ChangeQuantity(ctx, id, body.Quantity)
		return err
	})
}

func (h *CheckoutHandlers) increment(w http.ResponseWriter, r *http.Request) {
	h.changeQuantity(w, r, func(ctx context.Context, c *services.CheckoutOrchestrator, id string) error {
		_, err := c.Increment(ctx, id)
		return err
	})
}

func (h *CheckoutHandlers) decrement(w http.ResponseWriter, r *http.Request) {
	h.changeQuantity(w, r, func(ctx context.Context, c *services.CheckoutOrchestrator, id string) error {
		_, err := c.Decrement(ctx, id)
		return err
	})
}

func (h *CheckoutHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.changeQuantity(w, r, func(ctx context.Context, c *services.CheckoutOrchestrator, id string) error {
		return c.RemoveItem(ctx, id)
	})
}

func (h *CheckoutHandlers) changeQuantity(w http.ResponseWriter, r *http.Request, apply func(context.Context, *services.CheckoutOrchestrator, string) error) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if err := apply(r.Context(), checkout, itemID); err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

func (h *CheckoutHandlers) refreshStock(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if err := checkout.RefreshStock(r.Context()); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("stock_unavailable", "stock levels could not be refreshed", http.StatusBadGateway))
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

func (h *CheckoutHandlers) review(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	receipt, err := checkout.Review(r.Context())
	if err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"receipt": buildReceipt(receipt)})
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if _, err := checkout.Checkout(r.Context()); err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

type walletRequest struct {
	HolderName   string `json:"fullName"`
	WalletNumber string `json:"gcashNumber"`
}

func (h *CheckoutHandlers) confirmWallet(w http.ResponseWriter, r *http.Request) {
	var body walletRequest
	if !decodeBody(w, r, &body) {
		return
	}
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if _, err := checkout.ConfirmWallet(r.Context(), textutil.PlainText(body.HolderName), body.WalletNumber); err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

func (h *CheckoutHandlers) cancelWallet(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if err := checkout.CancelWallet(); err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

func (h *CheckoutHandlers) reset(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	if err := checkout.Reset(); err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	h.writeView(w, r, checkout, http.StatusOK)
}

func (h *CheckoutHandlers) continueShopping(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, navigationPayload{Path: checkout.ContinueShopping().Path})
}

func (h *CheckoutHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	checkout, ok := h.checkout(w, r)
	if !ok {
		return
	}
	intent, err := checkout.TrackOrder()
	if err != nil {
		writeCheckoutError(r.Context(), w, err, checkout)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, navigationPayload{Path: intent.Path})
}

func (h *CheckoutHandlers) writeView(w http.ResponseWriter, r *http.Request, checkout *services.CheckoutOrchestrator, status int) {
	view, err := checkout.View(r.Context())
	if err != nil {
		writeCheckoutError(r.Context(), w, err, nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, status, map[string]any{"checkout": buildCheckoutPayload(view)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, dst); err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error, checkout *services.CheckoutOrchestrator) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidationFailed):
		apiErr := httpx.NewError("validation_failed", "please fill in the required fields", http.StatusUnprocessableEntity)
		if checkout != nil {
			if view, viewErr := checkout.View(ctx); viewErr == nil {
				apiErr = apiErr.WithDetails(map[string]any{"fields": map[string]string(view.Errors)})
			}
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrWalletDetailsRequired):
		httpx.WriteError(ctx, w, httpx.NewError("wallet_details_required", "GCash holder name and number are required", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "your cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrSubmissionInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_progress", "your order is being placed", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_checkout_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrNoConfirmedOrder):
		httpx.WriteError(ctx, w, httpx.NewError("no_confirmed_order", "no order has been confirmed yet", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutClosed):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_closed", "this checkout has ended", http.StatusGone))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "item is not in the cart", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionRequired):
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "a shopper session is required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUnknownCity),
		errors.Is(err, services.ErrUnknownBillingField),
		errors.Is(err, services.ErrReadOnlyBillingField),
		errors.Is(err, services.ErrInvalidAddressLabel),
		errors.Is(err, services.ErrUnknownPaymentMethod),
		errors.Is(err, services.ErrPaymentMethodMismatch),
		errors.Is(err, services.ErrInvalidCartLine):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		requestctx.Logger(ctx).Error("checkout request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout request failed", http.StatusInternalServerError))
	}
}

type navigationPayload struct {
	Path string `json:"path"`
}

type billingPayload struct {
	FullName        string `json:"fullName"`
	PhoneNumber     string `json:"phoneNumber"`
	Address         string `json:"address"`
	City            string `json:"city"`
	StateProvince   string `json:"stateProvince"`
	PostalCode      string `json:"postalCode"`
	DeliveryAddress string `json:"deliveryAddress"`
}

type linePayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        string `json:"price"`
	Quantity     int    `json:"quantity"`
	ImageURL     string `json:"image_url,omitempty"`
	LineTotal    string `json:"lineTotal"`
	Stock        *int   `json:"stock,omitempty"`
	CanIncrement bool   `json:"canIncrement"`
	CanDecrement bool   `json:"canDecrement"`
}

type amountsPayload struct {
	Subtotal string `json:"subtotal"`
	Delivery string `json:"delivery"`
	Total    string `json:"total"`
}

type checkoutPayload struct {
	Billing       billingPayload    `json:"billing"`
	Errors        map[string]string `json:"errors"`
	PaymentMethod string            `json:"paymentMethod"`
	Items         []linePayload     `json:"items"`
	Amounts       amountsPayload    `json:"amounts"`
	State         string            `json:"state"`
	Reason        string            `json:"reason,omitempty"`
	OrderID       string            `json:"orderId,omitempty"`
	StockLoaded   bool              `json:"stockLoaded"`
}

type receiptPayload struct {
	Billing       billingPayload `json:"billing"`
	PaymentMethod string         `json:"paymentMethod"`
	Items         []linePayload  `json:"items"`
	Amounts       amountsPayload `json:"amounts"`
}

func buildCheckoutPayload(view services.CheckoutView) checkoutPayload {
	payload := checkoutPayload{
		Billing:       buildBilling(view.Billing),
		Errors:        map[string]string(view.Errors.Clone()),
		PaymentMethod: string(view.PaymentKind),
		Items:         make([]linePayload, 0, len(view.Lines)),
		Amounts:       buildAmounts(view.Amounts),
		State:         view.State.String(),
		Reason:        view.Reason,
		OrderID:       view.OrderID,
		StockLoaded:   view.StockLoaded,
	}
	for _, line := range view.Lines {
		item := buildLine(line.CartLine)
		if view.StockLoaded {
			stock := line.Stock
			item.Stock = &stock
		}
		item.CanIncrement = line.CanIncrement
		item.CanDecrement = line.CanDecrement
		payload.Items = append(payload.Items, item)
	}
	return payload
}

func buildReceipt(receipt services.Receipt) receiptPayload {
	payload := receiptPayload{
		Billing:       buildBilling(receipt.Billing),
		PaymentMethod: string(receipt.PaymentKind),
		Items:         make([]linePayload, 0, len(receipt.Lines)),
		Amounts:       buildAmounts(receipt.Amounts),
	}
	for _, line := range receipt.Lines {
		payload.Items = append(payload.Items, buildLine(line))
	}
	return payload
}

func buildBilling(info domain.ResolvedBillingInfo) billingPayload {
	return billingPayload{
		FullName:        info.FullName,
		PhoneNumber:     info.PhoneNumber,
		Address:         info.Address,
		City:            info.City,
		StateProvince:   info.Province,
		PostalCode:      info.PostalCode,
		DeliveryAddress: string(info.Label),
	}
}

func buildLine(line domain.CartLine) linePayload {
	return linePayload{
		ID:        line.ID,
		Name:      line.Name,
		Price:     domain.FormatMoney(line.Price),
		Quantity:  line.Quantity,
		ImageURL:  line.ImageURL,
		LineTotal: domain.FormatMoney(line.LineTotal()),
	}
}

func buildAmounts(a domain.Amounts) amountsPayload {
	return amountsPayload{
		Subtotal: domain.FormatMoney(a.Subtotal),
		Delivery: domain.FormatMoney(a.Delivery),
		Total:    domain.FormatMoney(a.Total),
	}
}

func buildRegions(table *geo.Table) []geo.Region {
	regions := table.Regions()
	if regions == nil {
		return []geo.Region{}
	}
	return regions
}
