package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const walletHistoryLimit = 50

var (
	errNotificationsUnavailable = errors.New("notification service is not configured")
	errWalletUnavailable        = errors.New("wallet repository is not configured")
	errRealtimeUnavailable      = errors.New("realtime server is not configured")
)

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		h.writeError(w, r, errNotificationsUnavailable)
		return
	}
	q := r.URL.Query()
	unreadOnly, _ := strconv.ParseBool(q.Get("unread"))
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.notifications.List(r.Context(), actorID(r.Context()), unreadOnly, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]notificationDTO, 0, len(items))
	for _, n := range items {
		out = append(out, toNotification(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		h.writeError(w, r, errNotificationsUnavailable)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), actorID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		h.writeError(w, r, errNotificationsUnavailable)
		return
	}
	n, err := h.notifications.MarkAllRead(r.Context(), actorID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	if h.wallets == nil {
		h.writeError(w, r, errWalletUnavailable)
		return
	}
	ctx := r.Context()
	userID := actorID(ctx)
	wallet, err := h.wallets.Get(ctx, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := h.wallets.Transactions(ctx, userID, walletHistoryLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWallet(wallet, txs))
}

// serveWS поднимает websocket; после апгрейда ошибки только логируются.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	if h.realtime == nil {
		h.writeError(w, r, errRealtimeUnavailable)
		return
	}
	if err := h.realtime.ServeWS(w, r, actorID(r.Context())); err != nil {
		h.logger.WithError(err).WithField("user_id", actorID(r.Context())).Debug("websocket session ended")
	}
}
