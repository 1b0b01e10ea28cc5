// Package flow runs the 5-step payment protocol against the gateway:
// create customer, create payment method, initiate charge, authorize while
// the gateway keeps asking, verify. One engine serves every payment kind;
// a KindStrategy supplies the kind-specific payload shaping and the
// validation that runs before anything touches the network.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tannaco/paygate/internal/gateway"
	"github.com/tannaco/paygate/internal/payment"
)

// maxAuthorizationRounds bounds the authorize loop. The gateway may chain
// authorization requirements (PIN then OTP) but never legitimately needs
// more than a handful of rounds.
const maxAuthorizationRounds = 5

var ErrAwaitingAuthorization = errors.New("flow: charge requires authorization data")

type Engine struct {
	client   Gateway
	payments *payment.Service
	now      func() time.Time
}

// Gateway is the slice of the API client the engine depends on.
type Gateway interface {
	CreateCustomer(ctx context.Context, req gateway.CustomerRequest, opts gateway.CallOptions) (*gateway.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*gateway.Customer, error)
	CreatePaymentMethod(ctx context.Context, req gateway.PaymentMethodRequest, opts gateway.CallOptions) (*gateway.PaymentMethod, error)
	CreateCharge(ctx context.Context, req gateway.ChargeRequest, opts gateway.CallOptions) (*gateway.Charge, bool, error)
	AuthorizeCharge(ctx context.Context, chargeID string, auth gateway.Authorization, opts gateway.CallOptions) (*gateway.Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*gateway.Charge, error)
}

func NewEngine(client Gateway, payments *payment.Service) *Engine {
	return &Engine{client: client, payments: payments, now: time.Now}
}

// CustomerDetails is the customer slice of a payment request.
type CustomerDetails struct {
	Email   string
	Name    *gateway.CustomerName
	Phone   *gateway.CustomerPhone
	Address *gateway.Address
}

// Request drives one flow run for an already-created pending transaction.
type Request struct {
	Transaction *payment.Transaction
	Customer    CustomerDetails

	// Authorization, when set, satisfies the first requires_* action the
	// gateway raises. Further requirements are handed back to the caller.
	Authorization *gateway.Authorization

	// ScenarioKey selects sandbox test behavior; stripped on API versions
	// without scenario support.
	ScenarioKey string
}

// Outcome is what a flow run reports back. Status pending with a
// RedirectURL or Instructions means completion arrives later through the
// webhook channel or an explicit verify.
type Outcome struct {
	Status        payment.Status
	GatewayStatus string
	ChargeID      string
	RedirectURL   string
	Instructions  string
	NextAction    *gateway.NextAction
	CacheHit      bool
}

// Run executes the full flow for the request's transaction. Any step
// failure short-circuits: the classified error is returned unchanged and
// no further step runs. Upstream handles acquired before the failure stay
// on the transaction, so a fresh run can reuse them upstream (customer and
// payment-method creation are idempotent-safe).
func (e *Engine) Run(ctx context.Context, strategy KindStrategy, req Request) (*Outcome, error) {
	tx := req.Transaction

	if err := tx.ValidateRequired(); err != nil {
		return nil, err
	}

	if err := strategy.Validate(&req); err != nil {
		return nil, err
	}

	if err := e.ensureCustomer(ctx, strategy, &req); err != nil {
		return nil, err
	}

	if err := e.ensurePaymentMethod(ctx, strategy, &req); err != nil {
		return nil, err
	}

	charge, cacheHit, err := e.initiateCharge(ctx, &req)
	if err != nil {
		return nil, err
	}

	charge, outcome, err := e.resolveNextActions(ctx, charge, req.Authorization, req.ScenarioKey)
	if err != nil {
		return nil, err
	}

	if outcome != nil {
		outcome.CacheHit = cacheHit
		if err := e.payments.MarkProcessing(ctx, tx.ID); err != nil && !errors.Is(err, payment.ErrTerminal) {
			return nil, err
		}

		return outcome, nil
	}

	out, err := e.Verify(ctx, tx)
	if err != nil {
		return nil, err
	}

	out.CacheHit = cacheHit

	return out, nil
}

func (e *Engine) ensureCustomer(ctx context.Context, strategy KindStrategy, req *Request) error {
	tx := req.Transaction
	if tx.CustomerID != "" {
		return nil
	}

	if strategy.ReuseExistingCustomer() {
		existing, err := e.client.FindCustomerByEmail(ctx, req.Customer.Email)
		if err != nil {
			return err
		}

		if existing != nil {
			slog.Info("reusing existing gateway customer",
				"customer_id", existing.ID, "reference", tx.Reference)

			tx.CustomerID = existing.ID

			return e.payments.Update(ctx, tx)
		}
	}

	cust, err := e.client.CreateCustomer(ctx, gateway.CustomerRequest{
		Email:   req.Customer.Email,
		Name:    req.Customer.Name,
		Phone:   req.Customer.Phone,
		Address: req.Customer.Address,
		Meta:    map[string]string{"source": string(strategy.Kind())},
	}, gateway.CallOptions{IdempotencyKey: "customer" + tx.Reference})
	if err != nil {
		return err
	}

	tx.CustomerID = cust.ID

	return e.payments.Update(ctx, tx)
}

func (e *Engine) ensurePaymentMethod(ctx context.Context, strategy KindStrategy, req *Request) error {
	tx := req.Transaction
	if tx.PaymentMethodID != "" {
		return nil
	}

	pmReq, err := strategy.PaymentMethod(req)
	if err != nil {
		return err
	}

	pmReq.CustomerID = tx.CustomerID

	pm, err := e.client.CreatePaymentMethod(ctx, pmReq,
		gateway.CallOptions{IdempotencyKey: "method" + tx.Reference})
	if err != nil {
		return err
	}

	tx.PaymentMethodID = pm.ID

	return e.payments.Update(ctx, tx)
}

func (e *Engine) initiateCharge(ctx context.Context, req *Request) (*gateway.Charge, bool, error) {
	tx := req.Transaction

	charge, cacheHit, err := e.client.CreateCharge(ctx, gateway.ChargeRequest{
		Currency:        tx.Currency,
		CustomerID:      tx.CustomerID,
		PaymentMethodID: tx.PaymentMethodID,
		Amount:          MinorUnits(tx.Amount, tx.Currency),
		Reference:       payment.SanitizeReference(tx.Reference),
	}, gateway.CallOptions{
		IdempotencyKey: "charge" + tx.Reference,
		ScenarioKey:    req.ScenarioKey,
	})
	if err != nil {
		return nil, false, err
	}

	if cacheHit {
		slog.Info("charge served from gateway idempotency cache", "reference", tx.Reference)
	}

	tx.ChargeID = charge.ID
	tx.UpstreamRef = charge.Reference
	tx.IdempotencyCacheHit = cacheHit

	if err := e.payments.Update(ctx, tx); err != nil {
		return nil, false, err
	}

	return charge, cacheHit, nil
}

// resolveNextActions drives the authorization loop. It returns a non-nil
// Outcome when the flow must hand control back to the caller (redirect,
// offline instructions, or an unsatisfied authorization requirement); a
// nil Outcome means the charge has no outstanding action and verification
// should proceed.
func (e *Engine) resolveNextActions(ctx context.Context, charge *gateway.Charge, auth *gateway.Authorization, scenarioKey string) (*gateway.Charge, *Outcome, error) {
	for round := 0; charge.NextAction != nil; round++ {
		if round >= maxAuthorizationRounds {
			return nil, nil, fmt.Errorf("flow: authorization did not converge after %d rounds", round)
		}

		action := charge.NextAction

		switch {
		case action.Type.RequiresAuthorization():
			if auth == nil {
				return charge, &Outcome{
					Status:        payment.StatusPending,
					GatewayStatus: charge.Status,
					ChargeID:      charge.ID,
					NextAction:    action,
				}, nil
			}

			authorized, err := e.client.AuthorizeCharge(ctx, charge.ID, *auth,
				gateway.CallOptions{ScenarioKey: scenarioKey})
			if err != nil {
				return nil, nil, err
			}

			charge = authorized
			auth = nil // a supplied authorization satisfies one round only

		case action.Type == gateway.ActionRedirectURL:
			out := &Outcome{
				Status:        payment.StatusPending,
				GatewayStatus: charge.Status,
				ChargeID:      charge.ID,
				NextAction:    action,
			}
			if action.RedirectURL != nil {
				out.RedirectURL = action.RedirectURL.URL
			}

			return charge, out, nil

		case action.Type == gateway.ActionPaymentInstruction:
			out := &Outcome{
				Status:        payment.StatusPending,
				GatewayStatus: charge.Status,
				ChargeID:      charge.ID,
				NextAction:    action,
				Instructions:  "Please follow the payment instructions",
			}
			if action.PaymentInstruction != nil && action.PaymentInstruction.Note != "" {
				out.Instructions = action.PaymentInstruction.Note
			}

			return charge, out, nil

		default:
			slog.Warn("unknown next action type, leaving charge pending", "type", action.Type)

			return charge, &Outcome{
				Status:        payment.StatusPending,
				GatewayStatus: charge.Status,
				ChargeID:      charge.ID,
				NextAction:    action,
			}, nil
		}
	}

	return charge, nil, nil
}

// Authorize submits authorization data for a transaction whose charge is
// waiting on it, then continues the flow to verification if nothing else
// is pending.
func (e *Engine) Authorize(ctx context.Context, tx *payment.Transaction, auth gateway.Authorization) (*Outcome, error) {
	if tx.ChargeID == "" {
		return nil, ErrAwaitingAuthorization
	}

	charge, err := e.client.AuthorizeCharge(ctx, tx.ChargeID, auth, gateway.CallOptions{})
	if err != nil {
		return nil, err
	}

	charge, outcome, err := e.resolveNextActions(ctx, charge, nil, "")
	if err != nil {
		return nil, err
	}

	if outcome != nil {
		return outcome, nil
	}

	return e.Verify(ctx, tx)
}

// Verify fetches the charge and reconciles the local transaction with the
// gateway's authoritative status. It is exposed standalone so callers and
// scheduled jobs can re-verify charges whose authorization path was
// asynchronous.
func (e *Engine) Verify(ctx context.Context, tx *payment.Transaction) (*Outcome, error) {
	if tx.ChargeID == "" {
		return nil, fmt.Errorf("flow: transaction %s has no charge to verify", tx.TransactionID)
	}

	charge, err := e.client.GetCharge(ctx, tx.ChargeID)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		GatewayStatus: charge.Status,
		ChargeID:      charge.ID,
		NextAction:    charge.NextAction,
	}

	switch charge.Status {
	case "succeeded", "successful", "completed":
		if err := e.payments.MarkSuccessful(ctx, tx.ID); err != nil {
			if errors.Is(err, payment.ErrTerminal) {
				fresh, gerr := e.payments.Get(ctx, tx.ID)
				if gerr != nil {
					return nil, gerr
				}

				out.Status = fresh.Status

				return out, nil
			}

			return nil, err
		}

		out.Status = payment.StatusSuccessful

	case "failed", "cancelled":
		if err := e.payments.MarkFailed(ctx, tx.ID, "gateway reported "+charge.Status); err != nil &&
			!errors.Is(err, payment.ErrTerminal) {
			return nil, err
		}

		out.Status = payment.StatusFailed

	default:
		// A pending transaction past its window expires here rather than
		// waiting for the sweep, so a late verify never reports it as
		// still chargeable.
		if tx.Status == payment.StatusPending && tx.Expired(e.now()) {
			if err := e.payments.MarkExpired(ctx, tx.ID); err != nil &&
				!errors.Is(err, payment.ErrTerminal) {
				return nil, err
			}

			slog.Info("expired pending transaction during verify",
				"transaction_id", tx.TransactionID, "gateway_status", charge.Status)

			out.Status = payment.StatusExpired

			return out, nil
		}

		out.Status = payment.StatusPending
	}

	return out, nil
}

// zeroDecimalCurrencies are ISO 4217 currencies without minor units; their
// wire amount equals the major amount.
var zeroDecimalCurrencies = map[string]struct{}{
	"UGX": {}, "XOF": {}, "XAF": {}, "RWF": {}, "KRW": {}, "JPY": {}, "VND": {},
}

// MinorUnits coerces a decimal amount to the integer value the charge
// endpoint requires.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return amount.Round(0).IntPart()
	}

	return amount.Shift(2).Round(0).IntPart()
}
