// Package webhooks receives gateway notifications. The raw body is passed
// to the reconciler untouched because signature verification runs over the
// exact bytes delivered.
package webhooks

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tannaco/paygate/internal/webhook"
)

// signatureHeader is the gateway's HMAC header name.
const signatureHeader = "verif-hash"

// maxBodySize bounds webhook payloads. Gateway events are small; anything
// larger is not a legitimate delivery.
const maxBodySize = 1 << 20

type Handler struct {
	reconciler *webhook.Reconciler
}

func NewHandler(reconciler *webhook.Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/gateway", h.receive)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.Process(r.Context(), body, r.Header.Get(signatureHeader)); err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusOK)
}
