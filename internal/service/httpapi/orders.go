package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/returns"
)

var errOrderStatusUnavailable = errors.New("order status service is not configured")

type markOrderRequest struct {
	ItemIDs     []string `json:"itemIds" validate:"max=100"`
	RequestType string   `json:"requestType" validate:"required,oneof=return refund replacement"`
	ReasonID    string   `json:"reasonId" validate:"required"`
	Description string   `json:"description" validate:"max=2000"`
}

type orderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) markOrderForReturn(w http.ResponseWriter, r *http.Request) {
	var body markOrderRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.returns.MarkOrderForReturn(r.Context(), actorID(r.Context()), chi.URLParam(r, "orderId"), returns.BulkInput{
		ItemIDs:     body.ItemIDs,
		RequestType: domain.RequestType(body.RequestType),
		ReasonID:    body.ReasonID,
		Description: body.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created() > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toBulkResult(res))
}

// changeOrderStatus доступна администраторам и продавцам заказа.
func (h *Handler) changeOrderStatus(w http.ResponseWriter, r *http.Request) {
	if h.orderStatus == nil {
		h.writeError(w, r, errOrderStatusUnavailable)
		return
	}
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderId")

	status, ok := h.decodeOrderStatus(w, r)
	if !ok {
		return
	}
	user, err := h.currentUser(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !user.Role.IsAdmin() && !order.HasSeller(user.ID) {
		h.writeError(w, r, &domain.AccessDeniedError{ActorID: user.ID, Action: "change order status"})
		return
	}

	updated, err := h.orderStatus.ChangeOrderStatus(ctx, orderID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(updated))
}

// changeItemStatus доступна администраторам и продавцу позиции.
func (h *Handler) changeItemStatus(w http.ResponseWriter, r *http.Request) {
	if h.orderStatus == nil {
		h.writeError(w, r, errOrderStatusUnavailable)
		return
	}
	ctx := r.Context()
	itemID := chi.URLParam(r, "itemId")

	status, ok := h.decodeOrderStatus(w, r)
	if !ok {
		return
	}
	user, err := h.currentUser(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.orders.GetItem(ctx, itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !user.Role.IsAdmin() && item.SellerID != user.ID {
		h.writeError(w, r, &domain.AccessDeniedError{ActorID: user.ID, Action: "change order item status"})
		return
	}

	if err := h.orderStatus.ChangeItemStatus(ctx, itemID, status); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.orders.Get(ctx, item.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (h *Handler) decodeOrderStatus(w http.ResponseWriter, r *http.Request) (domain.OrderStatus, bool) {
	var body orderStatusRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	status, err := domain.ParseOrderStatus(body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return status, true
}
