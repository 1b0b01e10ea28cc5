package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/tannaco/paygate/internal/card"
	"github.com/tannaco/paygate/internal/gateway"
	"github.com/tannaco/paygate/internal/mobilemoney"
	"github.com/tannaco/paygate/internal/payment"
)

// KindStrategy supplies the kind-specific pieces of a flow run. Everything
// else, step order included, is the engine's.
type KindStrategy interface {
	Kind() payment.Kind

	// Validate runs local checks before any gateway call is made.
	Validate(req *Request) error

	// ReuseExistingCustomer reports whether the flow should look the
	// customer up by email before creating one.
	ReuseExistingCustomer() bool

	// PaymentMethod builds the payment method payload for the gateway.
	// The engine fills in CustomerID.
	PaymentMethod(req *Request) (gateway.PaymentMethodRequest, error)
}

// CardDetails is the card slice of a payment request, kept off the shared
// Request so non-card kinds never carry card data.
type CardDetails struct {
	Details card.Details
}

// MobileMoneyDetails identifies the wallet to charge.
type MobileMoneyDetails struct {
	CountryCode string
	Network     string
	PhoneNumber string
}

// CardStrategy validates card details locally and encrypts them before
// they cross the wire.
type CardStrategy struct {
	Encryptor *card.Encryptor
	Card      CardDetails
	now       func() time.Time
}

func NewCardStrategy(enc *card.Encryptor, details CardDetails) *CardStrategy {
	return &CardStrategy{Encryptor: enc, Card: details, now: time.Now}
}

func (s *CardStrategy) Kind() payment.Kind { return payment.KindCard }

func (s *CardStrategy) ReuseExistingCustomer() bool { return false }

func (s *CardStrategy) Validate(req *Request) error {
	if problems := card.Validate(s.Card.Details, s.now()); len(problems) > 0 {
		return &card.ValidationError{Problems: problems}
	}

	return nil
}

func (s *CardStrategy) PaymentMethod(req *Request) (gateway.PaymentMethodRequest, error) {
	encrypted, err := s.Encryptor.EncryptCardData(s.Card.Details)
	if err != nil {
		return gateway.PaymentMethodRequest{}, fmt.Errorf("encrypting card data: %w", err)
	}

	return gateway.PaymentMethodRequest{
		Type: "card",
		Card: encrypted,
	}, nil
}

// MobileMoneyStrategy validates the country and network pairing against
// the supported table and reuses gateway customers by email, since wallet
// payers commonly repeat purchases.
type MobileMoneyStrategy struct {
	MobileMoney MobileMoneyDetails
}

func NewMobileMoneyStrategy(details MobileMoneyDetails) *MobileMoneyStrategy {
	return &MobileMoneyStrategy{MobileMoney: details}
}

func (s *MobileMoneyStrategy) Kind() payment.Kind { return payment.KindMobileMoney }

func (s *MobileMoneyStrategy) ReuseExistingCustomer() bool { return true }

func (s *MobileMoneyStrategy) Validate(req *Request) error {
	mm := s.MobileMoney

	country, err := mobilemoney.Validate(mm.CountryCode, mm.Network)
	if err != nil {
		return err
	}

	if req.Transaction.Currency != country.Currency {
		return fmt.Errorf("currency %s not valid for country code %s, expected %s",
			req.Transaction.Currency, mm.CountryCode, country.Currency)
	}

	if strings.TrimSpace(mm.PhoneNumber) == "" {
		return fmt.Errorf("phone number is required for mobile money")
	}

	return nil
}

func (s *MobileMoneyStrategy) PaymentMethod(req *Request) (gateway.PaymentMethodRequest, error) {
	return gateway.PaymentMethodRequest{
		Type: "mobile_money",
		MobileMoney: &gateway.MobileMoney{
			CountryCode: s.MobileMoney.CountryCode,
			Network:     strings.ToLower(s.MobileMoney.Network),
			PhoneNumber: s.MobileMoney.PhoneNumber,
		},
	}, nil
}

// GenericStrategy covers bank transfers and other kinds whose payment
// method needs nothing beyond a type and a currency. The gateway answers
// with payment instructions or a redirect.
type GenericStrategy struct {
	MethodType string
	kind       payment.Kind
}

func NewGenericStrategy(kind payment.Kind, methodType string) *GenericStrategy {
	return &GenericStrategy{MethodType: methodType, kind: kind}
}

func (s *GenericStrategy) Kind() payment.Kind { return s.kind }

func (s *GenericStrategy) ReuseExistingCustomer() bool { return false }

func (s *GenericStrategy) Validate(req *Request) error {
	if s.MethodType == "" {
		return fmt.Errorf("payment method type is required")
	}

	return nil
}

func (s *GenericStrategy) PaymentMethod(req *Request) (gateway.PaymentMethodRequest, error) {
	return gateway.PaymentMethodRequest{
		Type:     s.MethodType,
		Currency: req.Transaction.Currency,
	}, nil
}
