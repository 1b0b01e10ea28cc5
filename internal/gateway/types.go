package gateway

import "encoding/json"

// Wire types for the gateway REST API. Field names follow the upstream
// JSON contract, not local conventions.

type CustomerName struct {
	First  string `json:"first,omitempty"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last,omitempty"`
}

type CustomerPhone struct {
	CountryCode string `json:"country_code,omitempty"`
	Number      string `json:"number,omitempty"`
}

type Address struct {
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	State      string `json:"state,omitempty"`
}

type CustomerRequest struct {
	Email   string            `json:"email"`
	Name    *CustomerName     `json:"name,omitempty"`
	Phone   *CustomerPhone    `json:"phone,omitempty"`
	Address *Address          `json:"address,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// EncryptedCard is the card shape the gateway accepts: every sensitive
// field AES-GCM encrypted under a shared nonce, cardholder name in clear
// per the upstream contract.
type EncryptedCard struct {
	Nonce                string `json:"nonce"`
	EncryptedCardNumber  string `json:"encrypted_card_number"`
	EncryptedCVV         string `json:"encrypted_cvv"`
	EncryptedExpiryMonth string `json:"encrypted_expiry_month"`
	EncryptedExpiryYear  string `json:"encrypted_expiry_year"`
	CardholderName       string `json:"cardholder_name,omitempty"`
}

type MobileMoney struct {
	CountryCode string `json:"country_code"`
	Network     string `json:"network"`
	PhoneNumber string `json:"phone_number"`
}

type PaymentMethodRequest struct {
	Type        string         `json:"type"`
	CustomerID  string         `json:"customer_id,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	Card        *EncryptedCard `json:"card,omitempty"`
	MobileMoney *MobileMoney   `json:"mobile_money,omitempty"`
}

type PaymentMethod struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type ChargeRequest struct {
	Currency        string `json:"currency"`
	CustomerID      string `json:"customer_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Amount          int64  `json:"amount"`
	Reference       string `json:"reference"`
}

// NextActionType enumerates the follow-up actions a charge can demand
// before it completes.
type NextActionType string

const (
	ActionRequiresPin              NextActionType = "requires_pin"
	ActionRequiresOTP              NextActionType = "requires_otp"
	ActionRequiresAdditionalFields NextActionType = "requires_additional_fields"
	ActionRedirectURL              NextActionType = "redirect_url"
	ActionPaymentInstruction       NextActionType = "payment_instruction"
)

// RequiresAuthorization reports whether the action is satisfied by an
// authorization submission on the charge, as opposed to an out-of-band
// completion (redirect, offline instructions).
func (t NextActionType) RequiresAuthorization() bool {
	switch t {
	case ActionRequiresPin, ActionRequiresOTP, ActionRequiresAdditionalFields:
		return true
	}

	return false
}

type NextAction struct {
	Type        NextActionType `json:"type"`
	RedirectURL *struct {
		URL string `json:"url"`
	} `json:"redirect_url,omitempty"`
	PaymentInstruction *PaymentInstruction `json:"payment_instruction,omitempty"`
}

type PaymentInstruction struct {
	Note string `json:"note"`
}

type Charge struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Amount     int64       `json:"amount"`
	Currency   string      `json:"currency"`
	Reference  string      `json:"reference"`
	NextAction *NextAction `json:"next_action,omitempty"`
}

// Authorization is the payload submitted to satisfy a requires_* action.
// Exactly one of Pin, OTP, AVS is set, matching Type.
type Authorization struct {
	Type string            `json:"type"`
	Pin  *PinAuthorization `json:"pin,omitempty"`
	OTP  *OTPAuthorization `json:"otp,omitempty"`
	AVS  *AVSAuthorization `json:"avs,omitempty"`
}

type PinAuthorization struct {
	Nonce        string `json:"nonce"`
	EncryptedPin string `json:"encrypted_pin"`
}

type OTPAuthorization struct {
	Code string `json:"code"`
}

type AVSAuthorization struct {
	Address Address `json:"address"`
}

// envelope is the success wrapper every endpoint shares.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}
