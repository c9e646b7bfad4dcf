package cart

import (
	"context"
	"slices"
	"strings"

	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

// ValidateCart asks the server to check the current lines. Only product,
// quantity and variant are sent. Items are never modified.
func (s *Store) ValidateCart(ctx context.Context) ValidationResult {
	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return ValidationResult{Success: true, Valid: true, Issues: []ValidationIssue{}}
	}
	lines := make([]ValidationLine, 0, len(s.items))
	ids := make(map[string]string, len(s.items))
	for _, item := range s.items {
		lines = append(lines, ValidationLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Variant:   item.Variant.Clone(),
		})
		ids[item.LineKey()] = item.ID
	}
	s.inflight++
	s.mu.Unlock()

	report, err := s.gateway.Validate(ctx, lines)
	if err == nil && report == nil {
		err = pkgerrors.New(pkgerrors.CodeDependency, "empty validation response")
	}
	s.settle(ctx, "cart.validate", err, !pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	if err != nil {
		code, msg := describe(err)
		return ValidationResult{Error: msg, Code: code}
	}

	issues := make([]ValidationIssue, 0, len(report.Issues))
	for _, issue := range report.Issues {
		if issue.ItemID == "" {
			issue.ItemID = ids[LineKey(issue.ProductID, issue.Variant)]
		}
		issues = append(issues, issue)
	}
	return ValidationResult{
		Success: true,
		Valid:   report.Valid && len(issues) == 0,
		Issues:  issues,
	}
}

// ApplyCoupon asks the server to accept code against the current subtotal.
// The promotion is returned to the caller and not stored on the cart.
func (s *Store) ApplyCoupon(ctx context.Context, code string) CouponResult {
	code = strings.TrimSpace(code)
	if code == "" {
		return couponFailed(pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required"))
	}

	subtotal := s.CartTotals().Subtotal
	s.begin()
	grant, err := s.gateway.ApplyCoupon(ctx, code, subtotal)
	if err == nil && grant == nil {
		err = pkgerrors.New(pkgerrors.CodeDependency, "empty coupon response")
	}
	if err == nil && !grant.Promotion.MeetsMinimum(subtotal) {
		err = pkgerrors.New(pkgerrors.CodeValidation, "order total is below the coupon minimum")
	}
	s.settle(s.logCtx(ctx, "coupon", code), "cart.coupon", err, !pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	if err != nil {
		return couponFailed(err)
	}

	promotion := grant.Promotion
	if promotion.Code == "" {
		promotion.Code = code
	}
	return CouponResult{Success: true, Discount: &promotion, Message: grant.Message}
}

// Reconcile brings the cart in line with the server. Signed-in carts are
// reloaded from the server and then validated. Guest carts are validated and
// the reported corrections are applied locally and stored.
func (s *Store) Reconcile(ctx context.Context) ValidationResult {
	authed, _ := s.syncAuth(ctx)
	if authed {
		if res := s.LoadCartFromAPI(ctx); !res.Success {
			return ValidationResult{Error: res.Error, Code: res.Code}
		}
		return s.ValidateCart(ctx)
	}

	res := s.ValidateCart(ctx)
	if !res.Success || res.Valid {
		return res
	}
	if !s.applyCorrections(res.Issues) {
		return res
	}

	s.begin()
	if out := s.finish(ctx, "cart.reconcile", s.persist(ctx)); !out.Success {
		res.Success = false
		res.Error = out.Error
		res.Code = out.Code
	}
	return res
}

func (s *Store) applyCorrections(issues []ValidationIssue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, issue := range issues {
		idx := s.indexByID(issue.ItemID)
		if idx < 0 {
			idx = s.indexOf(issue.ProductID, issue.Variant)
		}
		if idx < 0 {
			continue
		}
		s.touch(s.items[idx].LineKey())
		switch issue.Kind {
		case enums.ValidationIssueOutOfStock, enums.ValidationIssueUnavailable:
			s.items = slices.Delete(s.items, idx, idx+1)
			changed = true
		case enums.ValidationIssueQuantityClamped:
			if issue.AvailableQuantity == nil {
				continue
			}
			available := *issue.AvailableQuantity
			if available <= 0 {
				s.items = slices.Delete(s.items, idx, idx+1)
				changed = true
				continue
			}
			stock := available
			s.items[idx].Stock = &stock
			if s.items[idx].Quantity != available {
				s.items[idx].Quantity = available
				changed = true
			}
		case enums.ValidationIssuePriceChanged:
			if issue.CurrentPrice == nil || issue.CurrentPrice.Equal(s.items[idx].UnitPrice) {
				continue
			}
			s.items[idx].UnitPrice = *issue.CurrentPrice
			changed = true
		}
	}
	return changed
}

func (s *Store) logCtx(ctx context.Context, key string, value any) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithField(ctx, key, value)
}

func couponFailed(err error) CouponResult {
	code, msg := describe(err)
	return CouponResult{Error: msg, Code: code}
}
