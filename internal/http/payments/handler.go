// Package payments exposes the payment flow over REST.
package payments

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tannaco/paygate/internal/card"
	"github.com/tannaco/paygate/internal/flow"
	"github.com/tannaco/paygate/internal/gateway"
	"github.com/tannaco/paygate/internal/payment"
)

type Handler struct {
	payments  *payment.Service
	engine    *flow.Engine
	encryptor *card.Encryptor
	validate  *validator.Validate
}

func NewHandler(payments *payment.Service, engine *flow.Engine, encryptor *card.Encryptor) *Handler {
	return &Handler{
		payments:  payments,
		engine:    engine,
		encryptor: encryptor,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/authorize", h.authorize)
	r.Post("/{id}/verify", h.verify)
}

type customerRequest struct {
	Email            string `json:"email" validate:"required,email"`
	FirstName        string `json:"first_name" validate:"required"`
	LastName         string `json:"last_name"`
	Phone            string `json:"phone"`
	PhoneCountryCode string `json:"phone_country_code"`
}

type cardRequest struct {
	Number         string `json:"number" validate:"required"`
	CVV            string `json:"cvv" validate:"required"`
	ExpiryMonth    string `json:"expiry_month" validate:"required"`
	ExpiryYear     string `json:"expiry_year" validate:"required"`
	CardholderName string `json:"cardholder_name" validate:"required"`
}

type mobileMoneyRequest struct {
	CountryCode string `json:"country_code" validate:"required"`
	Network     string `json:"network" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`
}

type createPaymentRequest struct {
	Amount      decimal.Decimal     `json:"amount" validate:"required"`
	Currency    string              `json:"currency" validate:"required,len=3,uppercase"`
	Type        payment.Type        `json:"type" validate:"omitempty,oneof=order invoice event subscription refund transfer"`
	Kind        payment.Kind        `json:"kind" validate:"required,oneof=card mobile_money bank cash"`
	Customer    customerRequest     `json:"customer" validate:"required"`
	Card        *cardRequest        `json:"card" validate:"required_if=Kind card"`
	MobileMoney *mobileMoneyRequest `json:"mobile_money" validate:"required_if=Kind mobile_money"`
	OrderID     *uuid.UUID          `json:"order_id"`
	InvoiceID   *uuid.UUID          `json:"invoice_id"`
	EventID     *uuid.UUID          `json:"event_id"`
	ScenarioKey string              `json:"scenario_key"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	if req.Type == "" {
		req.Type = payment.TypeOrder
	}

	customerPhone := req.Customer.Phone
	if req.Kind == payment.KindMobileMoney && req.MobileMoney != nil && customerPhone == "" {
		customerPhone = req.MobileMoney.PhoneNumber
	}

	tx, err := h.payments.Create(r.Context(), payment.CreateParams{
		Type:          req.Type,
		Kind:          req.Kind,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerEmail: req.Customer.Email,
		CustomerName:  customerName(req.Customer),
		CustomerPhone: customerPhone,
		OrderID:       req.OrderID,
		InvoiceID:     req.InvoiceID,
		EventID:       req.EventID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	strategy, err := h.strategyFor(&req)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.engine.Run(r.Context(), strategy, flow.Request{
		Transaction: tx,
		Customer:    flowCustomer(req.Customer),
		ScenarioKey: req.ScenarioKey,
	})
	if err != nil {
		// The transaction exists and will expire if never completed;
		// surface it alongside the failure so the client can retry or
		// verify later.
		writeFlowError(w, tx, err)

		return
	}

	writeJSON(w, http.StatusCreated, toPaymentResponse(tx, outcome))
}

func (h *Handler) strategyFor(req *createPaymentRequest) (flow.KindStrategy, error) {
	switch req.Kind {
	case payment.KindCard:
		return flow.NewCardStrategy(h.encryptor, flow.CardDetails{
			Details: card.Details{
				Number:         req.Card.Number,
				CVV:            req.Card.CVV,
				ExpiryMonth:    req.Card.ExpiryMonth,
				ExpiryYear:     req.Card.ExpiryYear,
				CardholderName: req.Card.CardholderName,
			},
		}), nil

	case payment.KindMobileMoney:
		return flow.NewMobileMoneyStrategy(flow.MobileMoneyDetails{
			CountryCode: req.MobileMoney.CountryCode,
			Network:     req.MobileMoney.Network,
			PhoneNumber: req.MobileMoney.PhoneNumber,
		}), nil

	case payment.KindBank:
		return flow.NewGenericStrategy(req.Kind, "bank_transfer"), nil

	default:
		return flow.NewGenericStrategy(req.Kind, string(req.Kind)), nil
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	tx, err := h.payments.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := payment.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status := payment.Status(s)
		filter.Status = &status
	}

	if s := r.URL.Query().Get("kind"); s != "" {
		kind := payment.Kind(s)
		filter.Kind = &kind
	}

	txs, err := h.payments.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponseList(txs))
}

type authorizeRequest struct {
	Type string `json:"type" validate:"required,oneof=pin otp avs"`
	Pin  string `json:"pin" validate:"required_if=Type pin"`
	OTP  string `json:"otp" validate:"required_if=Type otp"`
	AVS  *struct {
		City       string `json:"city"`
		Country    string `json:"country"`
		Line1      string `json:"line1"`
		Line2      string `json:"line2"`
		PostalCode string `json:"postal_code"`
		State      string `json:"state"`
	} `json:"avs" validate:"required_if=Type avs"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	tx, err := h.payments.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	auth, err := h.buildAuthorization(req)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.engine.Authorize(r.Context(), tx, auth)
	if err != nil {
		writeFlowError(w, tx, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(tx, outcome))
}

func (h *Handler) buildAuthorization(req authorizeRequest) (gateway.Authorization, error) {
	switch req.Type {
	case "pin":
		nonce, encrypted, err := h.encryptor.EncryptValue(req.Pin)
		if err != nil {
			return gateway.Authorization{}, err
		}

		return gateway.Authorization{
			Type: "pin",
			Pin:  &gateway.PinAuthorization{Nonce: nonce, EncryptedPin: encrypted},
		}, nil

	case "otp":
		return gateway.Authorization{
			Type: "otp",
			OTP:  &gateway.OTPAuthorization{Code: req.OTP},
		}, nil

	default:
		addr := gateway.Address{}
		if req.AVS != nil {
			addr = gateway.Address{
				City:       req.AVS.City,
				Country:    req.AVS.Country,
				Line1:      req.AVS.Line1,
				Line2:      req.AVS.Line2,
				PostalCode: req.AVS.PostalCode,
				State:      req.AVS.State,
			}
		}

		return gateway.Authorization{Type: "avs", AVS: &gateway.AVSAuthorization{Address: addr}}, nil
	}
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	tx, err := h.payments.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.engine.Verify(r.Context(), tx)
	if err != nil {
		writeFlowError(w, tx, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(tx, outcome))
}

func customerName(c customerRequest) string {
	if c.LastName == "" {
		return c.FirstName
	}

	return c.FirstName + " " + c.LastName
}

func flowCustomer(c customerRequest) flow.CustomerDetails {
	details := flow.CustomerDetails{
		Email: c.Email,
		Name:  &gateway.CustomerName{First: c.FirstName, Last: c.LastName},
	}

	if c.Phone != "" {
		details.Phone = &gateway.CustomerPhone{
			CountryCode: c.PhoneCountryCode,
			Number:      c.Phone,
		}
	}

	return details
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
