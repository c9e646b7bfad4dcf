package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/packfinderz-cart/api/responses"
	"github.com/angelmondragon/packfinderz-cart/api/validators"
	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	"github.com/angelmondragon/packfinderz-cart/internal/pricing"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
)

const (
	displayPlaces     = 2
	couponCodeMaxLen  = 64
	productIDMaxLen   = 128
	itemIDParam       = "itemID"
	productIDQueryKey = "product_id"
	variantQueryKey   = "variant"
)

// CartStore is the cart surface the HTTP controllers drive.
type CartStore interface {
	Snapshot() cart.Snapshot
	Totals(promotion *pricing.Promotion) pricing.Snapshot
	AddToCart(ctx context.Context, product cart.Product, quantity int, variant cart.Variant) cart.Result
	UpdateQuantity(ctx context.Context, itemID string, quantity int) cart.Result
	RemoveFromCart(ctx context.Context, itemID string) cart.Result
	ClearCart(ctx context.Context) cart.Result
	IsInCart(productID string, variant cart.Variant) bool
	ItemQuantity(productID string, variant cart.Variant) int
	ValidateCart(ctx context.Context) cart.ValidationResult
	ApplyCoupon(ctx context.Context, code string) cart.CouponResult
	MergeGuestCart(ctx context.Context) cart.Result
	LoadCartFromAPI(ctx context.Context) cart.Result
	Reconcile(ctx context.Context) cart.ValidationResult
	SyncAuth(ctx context.Context) cart.Result
}

type cartResponse struct {
	cart.Snapshot
	Totals pricing.Snapshot `json:"totals"`
}

func newCartResponse(store CartStore, promotion *pricing.Promotion) cartResponse {
	return cartResponse{
		Snapshot: store.Snapshot(),
		Totals:   store.Totals(promotion).Round(displayPlaces),
	}
}

// CartGet returns the cart with totals before any promotion.
func CartGet(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		responses.WriteSuccess(w, newCartResponse(store, nil))
	}
}

type addItemRequest struct {
	Product  cart.Product `json:"product"`
	Quantity int          `json:"quantity" validate:"gte=0"`
	Variant  cart.Variant `json:"variant"`
}

// CartAddItem adds a product line. A missing quantity adds one.
func CartAddItem(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.Product.ID = validators.SanitizeString(payload.Product.ID, productIDMaxLen)
		if payload.Product.ID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id is required"))
			return
		}

		ctx := withLogField(r.Context(), logg, "product_id", payload.Product.ID)
		res := store.AddToCart(ctx, payload.Product, payload.Quantity, payload.Variant)
		writeCartResult(ctx, w, store, logg, res, http.StatusCreated)
	}
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// CartUpdateItem sets a line's quantity. Zero or less removes the line.
func CartUpdateItem(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		itemID, ok := itemIDFromPath(w, r, logg)
		if !ok {
			return
		}
		var payload updateItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := withLogField(r.Context(), logg, "item_id", itemID)
		writeCartResult(ctx, w, store, logg, store.UpdateQuantity(ctx, itemID, *payload.Quantity), http.StatusOK)
	}
}

func CartRemoveItem(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		itemID, ok := itemIDFromPath(w, r, logg)
		if !ok {
			return
		}
		ctx := withLogField(r.Context(), logg, "item_id", itemID)
		writeCartResult(ctx, w, store, logg, store.RemoveFromCart(ctx, itemID), http.StatusOK)
	}
}

func CartClear(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		writeCartResult(r.Context(), w, store, logg, store.ClearCart(r.Context()), http.StatusOK)
	}
}

type totalsRequest struct {
	Promotion *pricing.Promotion `json:"promotion"`
}

// CartTotals prices the cart with an optional promotion previously granted
// by the coupon endpoint.
func CartTotals(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		var payload totalsRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Promotion != nil && !payload.Promotion.Kind.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown discount kind").
				WithDetails(map[string]any{"discount_kind": payload.Promotion.Kind}))
			return
		}
		responses.WriteSuccess(w, store.Totals(payload.Promotion).Round(displayPlaces))
	}
}

type lookupResponse struct {
	InCart   bool `json:"in_cart"`
	Quantity int  `json:"quantity"`
}

// CartLookup reports whether a product/variant is in the cart. The variant
// query parameter is a JSON object.
func CartLookup(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		query := r.URL.Query()
		productID := validators.SanitizeString(query.Get(productIDQueryKey), productIDMaxLen)
		if productID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required").
				WithDetails(map[string]any{"field": productIDQueryKey}))
			return
		}

		var variant cart.Variant
		if raw := strings.TrimSpace(query.Get(variantQueryKey)); raw != "" {
			if err := json.Unmarshal([]byte(raw), &variant); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "variant must be a JSON object").
					WithDetails(map[string]any{"field": variantQueryKey}))
				return
			}
		}

		responses.WriteSuccess(w, lookupResponse{
			InCart:   store.IsInCart(productID, variant),
			Quantity: store.ItemQuantity(productID, variant),
		})
	}
}

type validationResponse struct {
	Valid  bool                   `json:"valid"`
	Issues []cart.ValidationIssue `json:"issues"`
	Cart   cartResponse           `json:"cart"`
}

// CartValidate checks the cart with the server without changing it.
func CartValidate(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		writeValidation(r.Context(), w, store, logg, store.ValidateCart(r.Context()))
	}
}

// CartReconcile validates and applies corrections.
func CartReconcile(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		writeValidation(r.Context(), w, store, logg, store.Reconcile(r.Context()))
	}
}

type couponRequest struct {
	Code string `json:"code" validate:"required"`
}

type couponResponse struct {
	Discount *pricing.Promotion `json:"discount"`
	Message  string             `json:"message,omitempty"`
	Totals   pricing.Snapshot   `json:"totals"`
}

// CartApplyCoupon asks the server for a promotion and prices the cart with
// it. The promotion is not remembered; clients send it back to the totals
// endpoint.
func CartApplyCoupon(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		var payload couponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		code := validators.SanitizeString(payload.Code, couponCodeMaxLen)

		res := store.ApplyCoupon(r.Context(), code)
		if !res.Success {
			responses.WriteError(r.Context(), logg, w, res.Err())
			return
		}
		responses.WriteSuccess(w, couponResponse{
			Discount: res.Discount,
			Message:  res.Message,
			Totals:   store.Totals(res.Discount).Round(displayPlaces),
		})
	}
}

// CartMerge folds the stored guest cart into the signed-in cart.
func CartMerge(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		writeCartResult(r.Context(), w, store, logg, store.MergeGuestCart(r.Context()), http.StatusOK)
	}
}

// CartReload replaces the cart with the server copy.
func CartReload(store CartStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !storeReady(w, r, store, logg) {
			return
		}
		writeCartResult(r.Context(), w, store, logg, store.LoadCartFromAPI(r.Context()), http.StatusOK)
	}
}

func writeCartResult(ctx context.Context, w http.ResponseWriter, store CartStore, logg *logger.Logger, res cart.Result, status int) {
	if !res.Success {
		responses.WriteError(ctx, logg, w, res.Err())
		return
	}
	responses.WriteSuccessStatus(w, status, newCartResponse(store, nil))
}

func writeValidation(ctx context.Context, w http.ResponseWriter, store CartStore, logg *logger.Logger, res cart.ValidationResult) {
	if !res.Success {
		responses.WriteError(ctx, logg, w, res.Err())
		return
	}
	issues := res.Issues
	if issues == nil {
		issues = []cart.ValidationIssue{}
	}
	responses.WriteSuccess(w, validationResponse{
		Valid:  res.Valid,
		Issues: issues,
		Cart:   newCartResponse(store, nil),
	})
}

func storeReady(w http.ResponseWriter, r *http.Request, store CartStore, logg *logger.Logger) bool {
	if store == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart store unavailable"))
		return false
	}
	return true
}

func itemIDFromPath(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (string, bool) {
	itemID := strings.TrimSpace(chi.URLParam(r, itemIDParam))
	if itemID == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "item id is required"))
		return "", false
	}
	return itemID, true
}

func withLogField(ctx context.Context, logg *logger.Logger, key string, value any) context.Context {
	if logg == nil {
		return ctx
	}
	return logg.WithField(ctx, key, value)
}
