package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/returns"
)

const maxListLimit = 200

type createReturnRequest struct {
	OrderID     string   `json:"orderId" validate:"required"`
	OrderItemID string   `json:"orderItemId" validate:"required"`
	RequestType string   `json:"requestType" validate:"required,oneof=return refund replacement"`
	ReasonID    string   `json:"reasonId" validate:"required"`
	Description string   `json:"description" validate:"max=2000"`
	MediaURLs   []string `json:"mediaUrls" validate:"max=10,dive,url"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=1000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type trackingRequest struct {
	TrackingNumber string     `json:"trackingNumber" validate:"required,max=100"`
	CourierName    string     `json:"courierName" validate:"required,max=100"`
	TrackingURL    string     `json:"trackingUrl" validate:"omitempty,url"`
	ShippedAt      *time.Time `json:"shippedAt"`
}

type markReceivedRequest struct {
	Condition string `json:"condition" validate:"required,oneof=new good damaged defective"`
	Notes     string `json:"notes" validate:"max=1000"`
}

type completeRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type messageRequest struct {
	Message   string   `json:"message" validate:"required,max=4000"`
	MediaURLs []string `json:"mediaUrls" validate:"max=10,dive,url"`
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var body createReturnRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.returns.Create(r.Context(), returns.CreateInput{
		BuyerID:     actorID(r.Context()),
		OrderID:     body.OrderID,
		OrderItemID: body.OrderItemID,
		RequestType: domain.RequestType(body.RequestType),
		ReasonID:    body.ReasonID,
		Description: body.Description,
		MediaURLs:   body.MediaURLs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReturnRequest(req))
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ReturnFilter{
		OrderID: q.Get("orderId"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseReturnStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter.Limit = limit

	entries, err := h.returns.ListEntries(r.Context(), actorID(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntry(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// checkEligibility доступна покупателю заказа и администраторам.
func (h *Handler) checkEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderId")
	itemID := chi.URLParam(r, "orderItemId")

	requestType := domain.RequestTypeReturn
	if raw := r.URL.Query().Get("requestType"); raw != "" {
		t, err := domain.ParseRequestType(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		requestType = t
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
	if !user.Role.IsAdmin() && order.BuyerID != user.ID {
		h.writeError(w, r, &domain.AccessDeniedError{ActorID: user.ID, Action: "check return eligibility"})
		return
	}

	res, err := h.returns.CheckEligibility(ctx, orderID, itemID, requestType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEligibility(res))
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	details, err := h.returns.GetDetails(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetails(details))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	target, err := domain.ParseReturnStatus(body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.returns.UpdateStatus(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()), target, body.Notes)
	h.respondRequest(w, r, req, err)
}

func (h *Handler) cancelReturn(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.returns.Cancel(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()), body.Reason)
	h.respondRequest(w, r, req, err)
}

func (h *Handler) addReturnTracking(w http.ResponseWriter, r *http.Request) {
	tracking, ok := h.decodeTracking(w, r)
	if !ok {
		return
	}
	req, err := h.returns.AddReturnTracking(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()), tracking)
	h.respondRequest(w, r, req, err)
}

func (h *Handler) addReplacementTracking(w http.ResponseWriter, r *http.Request) {
	tracking, ok := h.decodeTracking(w, r)
	if !ok {
		return
	}
	req, err := h.returns.AddReplacementTracking(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()), tracking)
	h.respondRequest(w, r, req, err)
}

func (h *Handler) decodeTracking(w http.ResponseWriter, r *http.Request) (domain.Tracking, bool) {
	var body trackingRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return domain.Tracking{}, false
	}
	tracking := domain.Tracking{
		TrackingNumber: body.TrackingNumber,
		CourierName:    body.CourierName,
		TrackingURL:    body.TrackingURL,
	}
	if body.ShippedAt != nil {
		tracking.ShippedAt = body.ShippedAt.UTC()
	}
	return tracking, true
}

func (h *Handler) markReceived(w http.ResponseWriter, r *http.Request) {
	var body markReceivedRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	condition, err := domain.ParseItemCondition(body.Condition)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.returns.MarkReceived(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()), condition, body.Notes)
	h.respondRequest(w, r, req, err)
}

func (h *Handler) completeReturn(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.returns.Complete(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()), body.Notes)
	h.respondRequest(w, r, req, err)
}

func (h *Handler) retryRefund(w http.ResponseWriter, r *http.Request) {
	req, err := h.returns.RetryRefund(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()))
	h.respondRequest(w, r, req, err)
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.returns.PostMessage(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()), body.Message, body.MediaURLs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessage(msg))
}

func (h *Handler) markThreadRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.returns.MarkThreadRead(r.Context(), chi.URLParam(r, "id"), actorID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *Handler) respondRequest(w http.ResponseWriter, r *http.Request, req domain.ReturnRequest, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnRequest(req))
}

// currentUser загружает профиль аутентифицированного пользователя.
// Неизвестный пользователь не имеет прав.
func (h *Handler) currentUser(r *http.Request) (domain.User, error) {
	id := actorID(r.Context())
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.User{}, &domain.AccessDeniedError{ActorID: id, Action: "access the api"}
		}
		return domain.User{}, err
	}
	return user, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, &domain.ValidationError{Field: "limit", Message: "must be a non-negative integer"}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
