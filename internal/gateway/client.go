// Package gateway talks to the remote cart and coupon API on behalf of the
// signed-in session.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	"github.com/angelmondragon/packfinderz-cart/internal/pricing"
	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
	"github.com/angelmondragon/packfinderz-cart/pkg/metrics"
)

const (
	defaultTimeout             = 10 * time.Second
	responseBodyReadLimit int64 = 1 << 20
	errorBodyReadLimit    int64 = 1024
	fetchFlightKey              = "cart.fetch"
)

var errBaseURLRequired = errors.New("remote cart base url is required")

// TokenSource supplies the bearer token for outgoing calls.
type TokenSource interface {
	Token() string
}

// Client implements cart.Gateway over HTTP/JSON.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	metrics    *metrics.CartMetrics
	logg       *logger.Logger
	breaker    *gobreaker.CircuitBreaker[*reply]
	settings   gobreaker.Settings
	fetches    singleflight.Group
}

var _ cart.Gateway = (*Client)(nil)

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

func WithMetrics(m *metrics.CartMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logg = logg
	}
}

// WithBreakerSettings replaces the circuit breaker settings. Name and
// IsSuccessful are always set by the client.
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(c *Client) {
		c.settings = settings
	}
}

// NewClient builds a gateway client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		settings:   breakerSettings(5, 30*time.Second),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	settings := client.settings
	settings.Name = "cart-gateway"
	settings.IsSuccessful = func(err error) bool {
		// Rejections by the API are answers, not outages. Abandoned calls
		// never reached a verdict.
		if err == nil || errors.Is(err, errAbandoned) {
			return true
		}
		var status *statusError
		return errors.As(err, &status) && status.code < http.StatusInternalServerError
	}
	if client.logg != nil {
		logg := client.logg
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "remote cart breaker state changed")
		}
	}
	client.breaker = gobreaker.NewCircuitBreaker[*reply](settings)
	return client, nil
}

// NewFromConfig wires a client with an instrumented transport and the
// configured timeout and breaker thresholds.
func NewFromConfig(cfg config.RemoteConfig, tokens TokenSource, logg *logger.Logger, m *metrics.CartMetrics) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewClient(cfg.BaseURL,
		WithHTTPClient(&http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		WithTokenSource(tokens),
		WithLogger(logg),
		WithMetrics(m),
		WithBreakerSettings(breakerSettings(cfg.BreakerMaxFailures, cfg.BreakerOpenTimeout)),
	)
}

func breakerSettings(maxFailures uint32, openTimeout time.Duration) gobreaker.Settings {
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
}

type itemEnvelope struct {
	Item *cart.CartItem `json:"item"`
}

type itemsEnvelope struct {
	Items []cart.CartItem `json:"items"`
}

type wireLine struct {
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Variant   cart.Variant `json:"variant,omitempty"`
}

// Fetch returns the server cart. Concurrent fetches share one request. The
// shared request is detached from any single caller, so a caller that gives
// up only stops waiting.
func (c *Client) Fetch(ctx context.Context) ([]cart.CartItem, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	flight := c.fetches.DoChan(fetchFlightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout())
		defer cancel()
		var out itemsEnvelope
		if err := c.call(flightCtx, "fetch", http.MethodGet, "cart", nil, &out); err != nil {
			return nil, err
		}
		return out.Items, nil
	})

	select {
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", errAbandoned, ctx.Err()), "fetch remote cart")
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return cart.CloneItems(res.Val.([]cart.CartItem)), nil
	}
}

func (c *Client) flightTimeout() time.Duration {
	if c.httpClient != nil && c.httpClient.Timeout > 0 {
		return c.httpClient.Timeout
	}
	return defaultTimeout
}

func (c *Client) Add(ctx context.Context, productID string, quantity int, variant cart.Variant) (*cart.CartItem, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var out itemEnvelope
	body := wireLine{ProductID: productID, Quantity: quantity, Variant: variant}
	if err := c.call(ctx, "add", http.MethodPost, "cart/add", body, &out); err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "add response missing item")
	}
	return out.Item, nil
}

func (c *Client) Remove(ctx context.Context, itemID string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	return c.call(ctx, "remove", http.MethodDelete, "cart/remove/"+url.PathEscape(itemID), nil, nil)
}

func (c *Client) Update(ctx context.Context, itemID string, quantity int) (*cart.CartItem, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var out itemEnvelope
	body := map[string]int{"quantity": quantity}
	if err := c.call(ctx, "update", http.MethodPut, "cart/update/"+url.PathEscape(itemID), body, &out); err != nil {
		return nil, err
	}
	return out.Item, nil
}

func (c *Client) Clear(ctx context.Context) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	return c.call(ctx, "clear", http.MethodDelete, "cart/clear", nil, nil)
}

// Merge uploads guest lines into the server cart.
func (c *Client) Merge(ctx context.Context, items []cart.CartItem) error {
	body := map[string][]cart.CartItem{"items": cart.CloneItems(items)}
	return c.call(ctx, "merge", http.MethodPost, "cart/merge", body, nil)
}

type wireIssue struct {
	Kind              string           `json:"kind"`
	Type              string           `json:"type"`
	ItemID            string           `json:"item_id"`
	ProductID         string           `json:"product_id"`
	Variant           cart.Variant     `json:"variant"`
	Message           string           `json:"message"`
	AvailableQuantity *int             `json:"available_quantity"`
	CurrentPrice      *decimal.Decimal `json:"current_price"`
}

type validateResponse struct {
	Valid  bool        `json:"valid"`
	Issues []wireIssue `json:"issues"`
}

// Validate checks lines against live stock and prices. Unknown issue kinds
// are dropped with a warning.
func (c *Client) Validate(ctx context.Context, lines []cart.ValidationLine) (*cart.ValidationReport, error) {
	wire := make([]wireLine, 0, len(lines))
	for _, line := range lines {
		wire = append(wire, wireLine{ProductID: line.ProductID, Quantity: line.Quantity, Variant: line.Variant})
	}

	var out validateResponse
	if err := c.call(ctx, "validate", http.MethodPost, "cart/validate", map[string][]wireLine{"items": wire}, &out); err != nil {
		return nil, err
	}

	report := &cart.ValidationReport{Valid: out.Valid, Issues: make([]cart.ValidationIssue, 0, len(out.Issues))}
	for _, raw := range out.Issues {
		kindRaw := raw.Kind
		if kindRaw == "" {
			kindRaw = raw.Type
		}
		kind, err := enums.ParseValidationIssueKind(kindRaw)
		if err != nil {
			c.warn(ctx, "validate", "dropping unknown validation issue kind", err)
			continue
		}
		report.Issues = append(report.Issues, cart.ValidationIssue{
			Kind:              kind,
			ItemID:            raw.ItemID,
			ProductID:         raw.ProductID,
			Variant:           raw.Variant,
			Message:           raw.Message,
			AvailableQuantity: raw.AvailableQuantity,
			CurrentPrice:      raw.CurrentPrice,
		})
	}
	return report, nil
}

type wireDiscount struct {
	Code              string           `json:"code"`
	DiscountKind      string           `json:"discount_kind"`
	Type              string           `json:"type"`
	DiscountValue     *decimal.Decimal `json:"discount_value"`
	Value             *decimal.Decimal `json:"value"`
	Description       string           `json:"description"`
	MinimumOrderValue *decimal.Decimal `json:"minimum_order_value"`
}

type couponResponse struct {
	Valid    bool          `json:"valid"`
	Discount *wireDiscount `json:"discount"`
	Message  string        `json:"message"`
}

// ApplyCoupon asks the API to grant code against subtotal.
func (c *Client) ApplyCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (*cart.CouponGrant, error) {
	body := map[string]any{
		"code":       code,
		"cart_total": json.Number(subtotal.String()),
	}
	var out couponResponse
	if err := c.call(ctx, "apply_coupon", http.MethodPost, "cart/apply-coupon", body, &out); err != nil {
		return nil, err
	}
	if !out.Valid || out.Discount == nil {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "coupon is not valid"
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, msg)
	}

	promotion, err := out.Discount.promotion()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode coupon discount")
	}
	if promotion.Code == "" {
		promotion.Code = code
	}
	return &cart.CouponGrant{Promotion: promotion, Message: out.Message}, nil
}

func (d wireDiscount) promotion() (pricing.Promotion, error) {
	kindRaw := d.DiscountKind
	if kindRaw == "" {
		kindRaw = d.Type
	}
	kind, err := enums.ParseDiscountKind(kindRaw)
	if err != nil {
		return pricing.Promotion{}, err
	}
	value := decimal.Zero
	switch {
	case d.DiscountValue != nil:
		value = *d.DiscountValue
	case d.Value != nil:
		value = *d.Value
	}
	return pricing.Promotion{
		Code:              d.Code,
		Kind:              kind,
		Value:             value,
		Description:       d.Description,
		MinimumOrderValue: d.MinimumOrderValue,
	}, nil
}
