package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

// errAbandoned marks a request whose caller cancelled or timed out. It says
// nothing about the health of the API.
var errAbandoned = errors.New("remote cart request abandoned by caller")

type reply struct {
	status int
	body   []byte
}

// statusError is a non-2xx answer from the API.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.message)
}

func (c *Client) requireToken() error {
	if c.token() == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "remote cart requires a signed-in session")
	}
	return nil
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return strings.TrimSpace(c.tokens.Token())
}

// call performs one request through the breaker and decodes a 2xx body into
// out when out is non-nil.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	err := c.do(ctx, method, path, body, out)
	c.metrics.ObserveRemote(op, time.Since(start), err)
	if err != nil {
		c.warn(ctx, op, "remote cart call failed", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal remote cart request")
		}
		payload = raw
	}

	res, err := c.breaker.Execute(func() (*reply, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		return mapError(err)
	}

	if out == nil || len(bytes.TrimSpace(res.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode remote cart response")
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (*reply, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build remote cart request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", errAbandoned, ctxErr), "execute remote cart request")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute remote cart request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, &statusError{code: resp.StatusCode, message: errorMessage(raw)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read remote cart response")
	}
	return &reply{status: resp.StatusCode, body: raw}, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(raw))
}

func mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remote cart unavailable")
	}

	var status *statusError
	if !errors.As(err, &status) {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remote cart request failed")
	}

	msg := status.message
	if msg == "" {
		msg = http.StatusText(status.code)
	}
	switch {
	case status.code == http.StatusUnauthorized:
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, status, msg)
	case status.code == http.StatusForbidden:
		return pkgerrors.Wrap(pkgerrors.CodeForbidden, status, msg)
	case status.code == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, status, msg)
	case status.code == http.StatusTooManyRequests:
		return pkgerrors.Wrap(pkgerrors.CodeRateLimit, status, msg)
	case status.code == http.StatusBadRequest,
		status.code == http.StatusConflict,
		status.code == http.StatusUnprocessableEntity:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, status, msg)
	case status.code >= http.StatusInternalServerError:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, status, msg)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, status, msg)
	}
}

func (c *Client) warn(ctx context.Context, op, msg string, err error) {
	if c.logg == nil {
		return
	}
	ctx = c.logg.WithFields(ctx, map[string]any{
		"remote_op":  op,
		"error_code": string(pkgerrors.CodeOf(err)),
		"retryable":  pkgerrors.Retryable(err),
		"error":      err.Error(),
	})
	c.logg.Warn(ctx, msg)
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
}
