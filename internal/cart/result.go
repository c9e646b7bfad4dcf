package cart

import (
	"github.com/angelmondragon/packfinderz-cart/internal/pricing"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

// Result is the outcome of a cart operation. Failures are values, not
// panics or returned errors.
type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Code    pkgerrors.Code `json:"code,omitempty"`
}

// Err converts a failed result back into a typed error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return pkgerrors.New(r.Code, r.Error)
}

// ValidationResult is the outcome of ValidateCart and Reconcile.
type ValidationResult struct {
	Success bool              `json:"success"`
	Valid   bool              `json:"valid"`
	Issues  []ValidationIssue `json:"issues"`
	Error   string            `json:"error,omitempty"`
	Code    pkgerrors.Code    `json:"code,omitempty"`
}

// Err mirrors Result.Err.
func (r ValidationResult) Err() error {
	if r.Success {
		return nil
	}
	return pkgerrors.New(r.Code, r.Error)
}

// CouponResult is the outcome of ApplyCoupon.
type CouponResult struct {
	Success  bool               `json:"success"`
	Discount *pricing.Promotion `json:"discount,omitempty"`
	Message  string             `json:"message,omitempty"`
	Error    string             `json:"error,omitempty"`
	Code     pkgerrors.Code     `json:"code,omitempty"`
}

// Err mirrors Result.Err.
func (r CouponResult) Err() error {
	if r.Success {
		return nil
	}
	return pkgerrors.New(r.Code, r.Error)
}

func succeeded() Result {
	return Result{Success: true}
}

func failed(err error) Result {
	code, msg := describe(err)
	return Result{Error: msg, Code: code}
}

func describe(err error) (pkgerrors.Code, string) {
	if typed := pkgerrors.As(err); typed != nil {
		msg := typed.Message()
		if msg == "" {
			msg = pkgerrors.MetadataFor(typed.Code()).PublicMessage
		}
		return typed.Code(), msg
	}
	return pkgerrors.CodeInternal, err.Error()
}
