package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ilive/checkout/internal/cart"
	"github.com/ilive/checkout/internal/checkout"
	"github.com/ilive/checkout/internal/redisx"
	"github.com/ilive/checkout/internal/reservation"
	"github.com/ilive/checkout/internal/settlement"
)

// Handler exposes the checkout core over HTTP. Identity is upstream's
// problem: the gateway authenticates and passes the user id in X-User-ID.
type Handler struct {
	Reservations *reservation.Service
	Settlements  *settlement.Service
	Cart         cart.Store
	Ledger       checkout.Ledger
	Redis        *redis.Client // nil disables the status cache fast path
	Log          *zap.Logger
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Post("/orders/{id}/pay", h.payOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)

	r.Get("/cart", h.getCart)
	r.Put("/cart/items", h.setCartItem)
	r.Delete("/cart", h.clearCart)

	r.Get("/products/{id}", h.getProduct)
}

type createOrderReq struct {
	ShippingAddress string `json:"shipping_address"`
}

type createOrderResp struct {
	OrderID string `json:"order_id"`
}

type payReq struct {
	PaymentMethod string `json:"payment_method"`
	Proof         string `json:"proof"`
}

type setCartItemReq struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type orderView struct {
	OrderID         string          `json:"order_id"`
	State           string          `json:"state"`
	TotalCents      int64           `json:"total_cents"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	OrderDate       *time.Time      `json:"order_date,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []orderItemView `json:"items"`
}

type orderItemView struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

func toOrderView(o *checkout.Order) orderView {
	v := orderView{
		OrderID:         o.ID,
		State:           string(o.State),
		TotalCents:      o.TotalCents,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		OrderDate:       o.OrderDate,
		CreatedAt:       o.CreatedAt,
		Items:           make([]orderItemView, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{ProductID: it.ProductID, Qty: it.Qty, PriceCents: it.PriceCents})
	}
	return v
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID, err := h.Reservations.ReserveFromCart(ctx, userID, req.ShippingAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResp{OrderID: orderID})
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "id")
	var req payReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Settlements.Pay(ctx, orderID, userID, req.PaymentMethod, req.Proof); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "state": string(checkout.StatePaid)})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Settlements.Cancel(ctx, orderID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "state": string(checkout.StateCancelled)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ord, err := h.Settlements.GetOrder(ctx, orderID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(ord))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orders, err := h.Settlements.ListOrders(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, toOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// orderStatus serves the cached state when the projector has one, falling
// back to the ledger and filling the cache.
func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	ord, err := h.Settlements.GetOrder(ctx, orderID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	body, _ := json.Marshal(map[string]any{"status": ord.State})
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	lines, err := h.Cart.Lines(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *Handler) setCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req setCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing product_id"})
		return
	}
	if err := h.Cart.SetItem(r.Context(), userID, req.ProductID, req.Qty); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	if err := h.Cart.Clear(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Ledger.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":      p.ID,
		"name":            p.Name,
		"price_cents":     p.PriceCents,
		"available_stock": p.AvailableStock(),
	})
}

func userFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing user"})
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var insufficient *checkout.InsufficientStockError
	switch {
	case errors.As(err, &insufficient),
		errors.Is(err, checkout.ErrInvalidOrderState),
		errors.Is(err, checkout.ErrStockReconciliation):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrOrderNotFound),
		errors.Is(err, checkout.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrPaymentRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidShippingAddress),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrUnknownPaymentMethod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
