package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
	"github.com/angelmondragon/packfinderz-cart/pkg/metrics"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, token string, rt roundTripFunc, opts ...Option) *Client {
	t.Helper()
	all := append([]Option{
		WithHTTPClient(&http.Client{Transport: rt}),
		WithTokenSource(staticToken(token)),
	}, opts...)
	client, err := NewClient("https://api.example.test/", all...)
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	require.ErrorIs(t, err, errBaseURLRequired)
}

func TestFetchSendsBearerAndDecodesItems(t *testing.T) {
	client := newTestClient(t, "tok", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "https://api.example.test/cart", req.URL.String())
		assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		return jsonResponse(http.StatusOK, `{"items":[{"id":"srv-1","product_id":"p1","name":"Shirt","unit_price":"1200","quantity":2,"variant":{"size":"M"}}]}`), nil
	})

	items, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "srv-1", items[0].ID)
	assert.True(t, items[0].UnitPrice.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, "M", items[0].Variant["size"])
}

func TestAuthenticatedOperationsRequireToken(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, "", func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusOK, `{}`), nil
	})
	ctx := context.Background()

	_, err := client.Fetch(ctx)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	_, err = client.Add(ctx, "p1", 1, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.True(t, pkgerrors.IsCode(client.Remove(ctx, "x"), pkgerrors.CodeUnauthorized))
	_, err = client.Update(ctx, "x", 2)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.True(t, pkgerrors.IsCode(client.Clear(ctx), pkgerrors.CodeUnauthorized))
	assert.Zero(t, calls.Load())
}

func TestAddPostsLineAndReturnsItem(t *testing.T) {
	client := newTestClient(t, "tok", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/cart/add", req.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "p1", body["product_id"])
		assert.EqualValues(t, 3, body["quantity"])
		assert.Equal(t, map[string]any{"color": "red"}, body["variant"])
		return jsonResponse(http.StatusCreated, `{"item":{"id":"srv-9","product_id":"p1","quantity":3}}`), nil
	})

	item, err := client.Add(context.Background(), "p1", 3, cart.Variant{"color": "red"})
	require.NoError(t, err)
	assert.Equal(t, "srv-9", item.ID)
}

func TestRemoveEscapesItemID(t *testing.T) {
	client := newTestClient(t, "tok", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodDelete, req.Method)
		assert.Equal(t, "/cart/remove/a%2Fb", req.URL.EscapedPath())
		return jsonResponse(http.StatusNoContent, ``), nil
	})
	require.NoError(t, client.Remove(context.Background(), "a/b"))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		code   pkgerrors.Code
		msg    string
	}{
		{http.StatusBadRequest, `{"message":"bad quantity"}`, pkgerrors.CodeValidation, "bad quantity"},
		{http.StatusConflict, `{"error":"out of stock"}`, pkgerrors.CodeValidation, "out of stock"},
		{http.StatusUnprocessableEntity, `nope`, pkgerrors.CodeValidation, "nope"},
		{http.StatusUnauthorized, ``, pkgerrors.CodeUnauthorized, "Unauthorized"},
		{http.StatusForbidden, ``, pkgerrors.CodeForbidden, "Forbidden"},
		{http.StatusNotFound, `{"message":"no such item"}`, pkgerrors.CodeNotFound, "no such item"},
		{http.StatusTooManyRequests, ``, pkgerrors.CodeRateLimit, "Too Many Requests"},
		{http.StatusBadGateway, ``, pkgerrors.CodeDependency, "Bad Gateway"},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newTestClient(t, "tok", func(*http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			})
			err := client.Clear(context.Background())
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, tc.code, typed.Code())
			assert.Equal(t, tc.msg, typed.Message())
		})
	}
}

func TestTransportErrorIsDependency(t *testing.T) {
	client := newTestClient(t, "tok", func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := client.Fetch(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestValidateWorksAnonymouslyAndParsesIssues(t *testing.T) {
	client := newTestClient(t, "", func(req *http.Request) (*http.Response, error) {
		assert.Empty(t, req.Header.Get("Authorization"))
		var body struct {
			Items []map[string]any `json:"items"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.Equal(t, "p1", body.Items[0]["product_id"])
		_, hasName := body.Items[0]["name"]
		assert.False(t, hasName, "only product, quantity and variant are sent")
		return jsonResponse(http.StatusOK, `{"valid":false,"issues":[
			{"kind":"quantity_clamped","product_id":"p1","available_quantity":2},
			{"type":"priceChanged","item_id":"i2","current_price":"750.50"},
			{"kind":"mystery","product_id":"p3"}
		]}`), nil
	})

	report, err := client.Validate(context.Background(), []cart.ValidationLine{{ProductID: "p1", Quantity: 5}})
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, enums.ValidationIssueQuantityClamped, report.Issues[0].Kind)
	require.NotNil(t, report.Issues[0].AvailableQuantity)
	assert.Equal(t, 2, *report.Issues[0].AvailableQuantity)
	assert.Equal(t, enums.ValidationIssuePriceChanged, report.Issues[1].Kind)
	assert.True(t, report.Issues[1].CurrentPrice.Equal(decimal.RequireFromString("750.5")))
}

func TestApplyCoupon(t *testing.T) {
	client := newTestClient(t, "", func(req *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(req.Body)
		assert.JSONEq(t, `{"code":"SAVE10","cart_total":5500}`, string(raw))
		return jsonResponse(http.StatusOK, `{"valid":true,"message":"10% off","discount":{"type":"percentage","value":0.1,"description":"Ten off","minimum_order_value":"1000"}}`), nil
	})

	grant, err := client.ApplyCoupon(context.Background(), "SAVE10", decimal.NewFromInt(5500))
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", grant.Promotion.Code)
	assert.Equal(t, enums.DiscountKindPercentage, grant.Promotion.Kind)
	assert.True(t, grant.Promotion.Value.Equal(decimal.RequireFromString("0.1")))
	require.NotNil(t, grant.Promotion.MinimumOrderValue)
	assert.Equal(t, "10% off", grant.Message)
}

func TestApplyCouponRejected(t *testing.T) {
	client := newTestClient(t, "", func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"valid":false,"message":"Coupon expired"}`), nil
	})
	_, err := client.ApplyCoupon(context.Background(), "OLD", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, "Coupon expired", pkgerrors.As(err).Message())
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	status := http.StatusNotFound
	client := newTestClient(t, "tok", func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(status, ``), nil
	}, WithBreakerSettings(breakerSettings(2, time.Minute)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, pkgerrors.IsCode(client.Remove(ctx, "x"), pkgerrors.CodeNotFound))
	}
	assert.EqualValues(t, 3, calls.Load(), "client errors must not trip the breaker")

	status = http.StatusServiceUnavailable
	_ = client.Clear(ctx)
	_ = client.Clear(ctx)
	before := calls.Load()

	err := client.Clear(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, before, calls.Load())
}

func TestConcurrentFetchesShareOneRequest(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	client := newTestClient(t, "tok", func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		<-release
		return jsonResponse(http.StatusOK, `{"items":[{"id":"srv-1","product_id":"p1","quantity":1,"variant":{"size":"S"}}]}`), nil
	})

	const callers = 5
	results := make([][]cart.CartItem, callers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			items, err := client.Fetch(context.Background())
			assert.NoError(t, err)
			results[i] = items
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(callers))
	require.Len(t, results[0], 1)
	results[0][0].Variant["size"] = "XL"
	for i := 1; i < callers; i++ {
		require.Len(t, results[i], 1)
		assert.Equal(t, "S", results[i][0].Variant["size"], "callers must not share item state")
	}
}

func TestAbandonedCallsDoNotTripBreaker(t *testing.T) {
	var hang atomic.Bool
	hang.Store(true)
	var calls atomic.Int32
	client := newTestClient(t, "tok", func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		if hang.Load() {
			<-req.Context().Done()
			return nil, req.Context().Err()
		}
		return jsonResponse(http.StatusOK, ``), nil
	}, WithBreakerSettings(breakerSettings(2, time.Minute)))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := client.Clear(ctx)
		cancel()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errAbandoned))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	}
	assert.EqualValues(t, 5, calls.Load())
	assert.Equal(t, gobreaker.StateClosed, client.breaker.State())

	hang.Store(false)
	require.NoError(t, client.Clear(context.Background()))
}

func TestTransportFailuresStillTripBreaker(t *testing.T) {
	client := newTestClient(t, "tok", func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}, WithBreakerSettings(breakerSettings(2, time.Minute)))
	ctx := context.Background()

	_ = client.Clear(ctx)
	_ = client.Clear(ctx)
	err := client.Clear(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestFetchCallerCancelLeavesJoinedCallers(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	client := newTestClient(t, "tok", func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
		return jsonResponse(http.StatusOK, `{"items":[{"id":"srv-1","product_id":"p1","quantity":2}]}`), nil
	})

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.Fetch(first)
		firstErr <- err
	}()
	<-entered

	type fetched struct {
		items []cart.CartItem
		err   error
	}
	second := make(chan fetched, 1)
	go func() {
		items, err := client.Fetch(context.Background())
		second <- fetched{items: items, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	close(release)
	res := <-second
	require.NoError(t, res.err)
	require.Len(t, res.items, 1)
	assert.Equal(t, 2, res.items[0].Quantity)
	assert.Equal(t, gobreaker.StateClosed, client.breaker.State())
}

func TestNewFromConfigAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/cart/merge":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	client, err := NewFromConfig(config.RemoteConfig{
		BaseURL:            srv.URL + "/v1",
		Timeout:            time.Second,
		BreakerMaxFailures: 3,
		BreakerOpenTimeout: time.Second,
	}, staticToken(""), nil, metrics.NewCartMetrics(reg))
	require.NoError(t, err)

	require.NoError(t, client.Merge(context.Background(), []cart.CartItem{{ID: "l1", ProductID: "p1", Quantity: 1}}))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "cart_remote_calls_total" {
			found = true
		}
	}
	assert.True(t, found, "remote call counter should be exported")
}
