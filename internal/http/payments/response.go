package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tannaco/paygate/internal/card"
	"github.com/tannaco/paygate/internal/flow"
	"github.com/tannaco/paygate/internal/gateway"
	"github.com/tannaco/paygate/internal/payment"
)

type transactionResponse struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Type          payment.Type    `json:"type"`
	Kind          payment.Kind    `json:"kind"`
	Status        payment.Status  `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Fee           decimal.Decimal `json:"fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	CustomerEmail string          `json:"customer_email"`
	CustomerName  string          `json:"customer_name"`
	OrderID       *uuid.UUID      `json:"order_id,omitempty"`
	InvoiceID     *uuid.UUID      `json:"invoice_id,omitempty"`
	EventID       *uuid.UUID      `json:"event_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

type paymentResponse struct {
	Transaction  transactionResponse `json:"transaction"`
	Status       payment.Status      `json:"status"`
	ChargeID     string              `json:"charge_id,omitempty"`
	RedirectURL  string              `json:"redirect_url,omitempty"`
	Instructions string              `json:"instructions,omitempty"`
	NextAction   *gateway.NextAction `json:"next_action,omitempty"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

func toTransactionResponse(tx *payment.Transaction) transactionResponse {
	return transactionResponse{
		ID:            tx.ID,
		TransactionID: tx.TransactionID,
		Reference:     tx.Reference,
		Type:          tx.Type,
		Kind:          tx.Kind,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Fee:           tx.Fee,
		NetAmount:     tx.NetAmount,
		CustomerEmail: tx.CustomerEmail,
		CustomerName:  tx.CustomerName,
		OrderID:       tx.OrderID,
		InvoiceID:     tx.InvoiceID,
		EventID:       tx.EventID,
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		PaidAt:        tx.PaidAt,
		ExpiresAt:     tx.ExpiresAt,
	}
}

func toTransactionResponseList(txs []*payment.Transaction) []transactionResponse {
	resp := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		resp[i] = toTransactionResponse(tx)
	}

	return resp
}

func toPaymentResponse(tx *payment.Transaction, out *flow.Outcome) paymentResponse {
	// The outcome's status is fresher than the snapshot taken at create
	// time. Only the response copy gets it; tx stays as persisted.
	txResp := toTransactionResponse(tx)
	txResp.Status = out.Status

	return paymentResponse{
		Transaction:  txResp,
		Status:       out.Status,
		ChargeID:     out.ChargeID,
		RedirectURL:  out.RedirectURL,
		Instructions: out.Instructions,
		NextAction:   out.NextAction,
	}
}

// writeError maps service and gateway errors onto HTTP status codes. The
// gateway's own classification carries through unchanged.
func writeError(w http.ResponseWriter, err error) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		writeJSON(w, gwErr.StatusCode, errorResponse{
			Error: gwErr.UserMessage(),
			Code:  gwErr.Code,
		})

		return
	}

	var cardErr *card.ValidationError
	if errors.As(err, &cardErr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "invalid card data",
			Fields: cardErr.Problems,
		})

		return
	}

	switch {
	case errors.Is(err, payment.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transaction not found"})
	case errors.Is(err, payment.ErrTerminal):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "transaction is in a terminal state"})
	case errors.Is(err, flow.ErrAwaitingAuthorization):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no charge awaiting authorization"})
	case errors.Is(err, card.ErrKeyNotConfigured):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "payment processing unavailable"})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
}

// writeFlowError reports a flow failure without losing the created
// transaction: the client gets the transaction id back so it can verify
// or retry later.
func writeFlowError(w http.ResponseWriter, tx *payment.Transaction, err error) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		writeJSON(w, gwErr.StatusCode, struct {
			errorResponse
			TransactionID string `json:"transaction_id"`
		}{
			errorResponse: errorResponse{Error: gwErr.UserMessage(), Code: gwErr.Code},
			TransactionID: tx.TransactionID,
		})

		return
	}

	writeError(w, err)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, len(verrs))
		for i, fe := range verrs {
			fields[i] = fe.Field() + ": failed " + fe.Tag() + " validation"
		}

		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request",
			Fields: fields,
		})

		return
	}

	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}
