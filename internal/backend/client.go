package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

const (
	defaultTimeout     = 10 * time.Second
	idempotencyHeader  = "Idempotency-Key"
	productsPath       = "/api/products"
	placeOrderPath     = "/api/place-order"
	maxErrorBodyLength = 256
)

var (
	// ErrMissingCredential is returned when an order is placed without a bearer credential.
	ErrMissingCredential = errors.New("backend: missing credential")
	// ErrUnavailable is returned while a circuit breaker is open.
	ErrUnavailable = errors.New("backend: temporarily unavailable")
	// ErrMalformedResponse is returned when the backend answers with an unreadable body.
	ErrMalformedResponse = errors.New("backend: malformed response")
)

var tracer = otel.Tracer("github.com/Tiann-Paete/Nars-web/internal/backend")

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: %s status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("backend: %s status %d: %s", e.Endpoint, e.Status, e.Body)
}

// BreakerSettings tunes the per-endpoint circuit breakers.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
}

// Config configures the backend client. An empty BaseURL serves data from the in-process fake.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Breaker    BreakerSettings
	HTTPClient *http.Client
	Fake       *Fake
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Client talks to the storefront backend's product and order endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	fake    *Fake
	logger  func(ctx context.Context, event string, fields map[string]any)
	now     func() time.Time

	stockBreaker *gobreaker.CircuitBreaker[domain.StockSnapshot]
	orderBreaker *gobreaker.CircuitBreaker[domain.PlaceOrderResponse]
}

// NewClient constructs a backend client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	fake := cfg.Fake
	if fake == nil {
		fake = NewFake()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    httpClient,
		fake:    fake,
		logger:  logger,
		now:     time.Now,
	}
	c.stockBreaker = gobreaker.NewCircuitBreaker[domain.StockSnapshot](c.breakerSettings("backend.products", cfg.Breaker))
	c.orderBreaker = gobreaker.NewCircuitBreaker[domain.PlaceOrderResponse](c.breakerSettings("backend.place_order", cfg.Breaker))
	return c
}

// Offline reports whether the client serves fake data.
func (c *Client) Offline() bool {
	return c == nil || c.baseURL == ""
}

// FetchStock loads the current stock level of every product.
func (c *Client) FetchStock(ctx context.Context) (domain.StockSnapshot, error) {
	if c.Offline() {
		return c.fake.FetchStock(ctx)
	}

	ctx, span := tracer.Start(ctx, "backend.FetchStock", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	snapshot, err := c.stockBreaker.Execute(func() (domain.StockSnapshot, error) {
		return c.fetchStock(ctx)
	})
	err = translateBreakerError(err)
	recordSpan(span, err)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	span.SetAttributes(attribute.Int("stock.items", len(snapshot.Levels)))
	return snapshot, nil
}

// PlaceOrder submits the order using the shopper's bearer credential.
func (c *Client) PlaceOrder(ctx context.Context, credential string, req domain.OrderRequest) (domain.PlaceOrderResponse, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.PlaceOrderResponse{}, ErrMissingCredential
	}
	if c.Offline() {
		return c.fake.PlaceOrder(ctx, credential, req)
	}

	ctx, span := tracer.Start(ctx, "backend.PlaceOrder", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	if req.Payment != nil {
		span.SetAttributes(attribute.String("order.payment_method", string(req.Payment.Kind())))
	}
	span.SetAttributes(attribute.Int("order.lines", len(req.Lines)))

	payload, err := json.Marshal(newOrderPayload(req))
	if err != nil {
		recordSpan(span, err)
		return domain.PlaceOrderResponse{}, fmt.Errorf("backend: encode order: %w", err)
	}

	resp, err := c.orderBreaker.Execute(func() (domain.PlaceOrderResponse, error) {
		return c.placeOrder(ctx, credential, req.IdempotencyKey, payload)
	})
	err = translateBreakerError(err)
	recordSpan(span, err)
	if err != nil {
		return domain.PlaceOrderResponse{}, err
	}
	span.SetAttributes(attribute.Bool("order.success", resp.Success))
	return resp, nil
}

func (c *Client) fetchStock(ctx context.Context) (domain.StockSnapshot, error) {
	endpoint, err := url.JoinPath(c.baseURL, productsPath)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.StockSnapshot{}, &StatusError{Endpoint: productsPath, Status: resp.StatusCode, Body: drainError(resp.Body)}
	}

	var products []productPayload
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return domain.StockSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	levels := make(map[string]int, len(products))
	for _, p := range products {
		id := strings.TrimSpace(string(p.ID))
		if id == "" {
			continue
		}
		qty := p.StockQuantity
		if qty < 0 {
			qty = 0
		}
		levels[id] = qty
	}
	return domain.StockSnapshot{Levels: levels, FetchedAt: c.now().UTC()}, nil
}

func (c *Client) placeOrder(ctx context.Context, credential, idempotencyKey string, payload []byte) (domain.PlaceOrderResponse, error) {
	endpoint, err := url.JoinPath(c.baseURL, placeOrderPath)
	if err != nil {
		return domain.PlaceOrderResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.PlaceOrderResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		httpReq.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.PlaceOrderResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.PlaceOrderResponse{}, &StatusError{Endpoint: placeOrderPath, Status: resp.StatusCode, Body: drainError(resp.Body)}
	}

	var out placeOrderPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.PlaceOrderResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return domain.PlaceOrderResponse{Success: out.Success, OrderID: strings.TrimSpace(string(out.OrderID))}, nil
}

func (c *Client) breakerSettings(name string, cfg BreakerSettings) gobreaker.Settings {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Status < http.StatusInternalServerError
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger(context.Background(), "backend.breaker_state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
}

func translateBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func recordSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyLength))
	return strings.TrimSpace(string(b))
}

// flexibleID accepts identifiers encoded as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type productPayload struct {
	ID            flexibleID `json:"id"`
	StockQuantity int        `json:"stock_quantity"`
}

type placeOrderPayload struct {
	Success bool       `json:"success"`
	OrderID flexibleID `json:"orderId"`
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

type paymentDetailsPayload struct {
	FullName    string `json:"fullName"`
	GCashNumber string `json:"gcashNumber"`
}

type cartItemPayload struct {
	ID       json.RawMessage `json:"id"`
	Name     string          `json:"name"`
	Price    json.Number     `json:"price"`
	Quantity int             `json:"quantity"`
	ImageURL string          `json:"image_url,omitempty"`
}

type orderPayload struct {
	BillingInfo    billingPayload         `json:"billingInfo"`
	PaymentMethod  string                 `json:"paymentMethod"`
	PaymentDetails *paymentDetailsPayload `json:"paymentDetails,omitempty"`
	CartItems      []cartItemPayload      `json:"cartItems"`
	Subtotal       json.Number            `json:"subtotal"`
	Delivery       json.Number            `json:"delivery"`
	Total          json.Number            `json:"total"`
}

func newOrderPayload(req domain.OrderRequest) orderPayload {
	out := orderPayload{
		BillingInfo: billingPayload{
			FullName:        req.Billing.FullName,
			PhoneNumber:     req.Billing.PhoneNumber,
			Address:         req.Billing.Address,
			City:            req.Billing.City,
			StateProvince:   req.Billing.Province,
			PostalCode:      req.Billing.PostalCode,
			DeliveryAddress: string(req.Billing.Label),
		},
		CartItems: make([]cartItemPayload, 0, len(req.Lines)),
		Subtotal:  json.Number(domain.FormatMoney(req.Amounts.Subtotal)),
		Delivery:  json.Number(domain.FormatMoney(req.Amounts.Delivery)),
		Total:     json.Number(domain.FormatMoney(req.Amounts.Total)),
	}
	switch method := req.Payment.(type) {
	case domain.GCashWallet:
		out.PaymentMethod = string(domain.PaymentKindGCash)
		out.PaymentDetails = &paymentDetailsPayload{FullName: method.HolderName, GCashNumber: method.WalletNumber}
	case domain.CashOnDelivery:
		out.PaymentMethod = string(domain.PaymentKindCOD)
	}
	for _, line := range req.Lines {
		out.CartItems = append(out.CartItems, cartItemPayload{
			ID:       encodeItemID(line.ID),
			Name:     line.Name,
			Price:    json.Number(domain.FormatMoney(line.Price)),
			Quantity: line.Quantity,
			ImageURL: line.ImageURL,
		})
	}
	return out
}

// encodeItemID keeps numeric identifiers numeric on the wire.
func encodeItemID(id string) json.RawMessage {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && strconv.FormatInt(n, 10) == id {
		return json.RawMessage(id)
	}
	encoded, _ := json.Marshal(id)
	return encoded
}
