package card_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tannaco/paygate/internal/card"
)

func TestValidNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   bool
	}{
		{name: "ValidTestCard", number: "4084084084084081", want: true},
		{name: "ChecksumOffByOne", number: "4084084084084082", want: false},
		{name: "ValidVisa", number: "4111111111111111", want: true},
		{name: "SpacesTolerated", number: "4111 1111 1111 1111", want: true},
		{name: "DashesTolerated", number: "4111-1111-1111-1111", want: true},
		{name: "TooShort", number: "411111111111", want: false},
		{name: "TooLong", number: "41111111111111111111", want: false},
		{name: "NonDigits", number: "4111x11111111111", want: false},
		{name: "Empty", number: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, card.ValidNumber(tt.number))
		})
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	valid := card.Details{
		Number:         "4084084084084081",
		CVV:            "123",
		ExpiryMonth:    "12",
		ExpiryYear:     "2028",
		CardholderName: "Jane Doe",
	}

	t.Run("Valid", func(t *testing.T) {
		assert.Empty(t, card.Validate(valid, now))
	})

	t.Run("CollectsEveryProblem", func(t *testing.T) {
		problems := card.Validate(card.Details{
			Number:         "1234",
			CVV:            "12",
			ExpiryMonth:    "13",
			ExpiryYear:     "1999",
			CardholderName: "J",
		}, now)

		assert.Len(t, problems, 5)
	})

	t.Run("ExpiryYearInPast", func(t *testing.T) {
		d := valid
		d.ExpiryYear = "2025"

		problems := card.Validate(d, now)
		assert.Contains(t, problems, "invalid expiry year")
	})

	t.Run("ExpiryYearTooFarOut", func(t *testing.T) {
		d := valid
		d.ExpiryYear = "2050"

		problems := card.Validate(d, now)
		assert.Contains(t, problems, "invalid expiry year")
	})

	t.Run("FourDigitCVV", func(t *testing.T) {
		d := valid
		d.CVV = "1234"

		assert.Empty(t, card.Validate(d, now))
	})
}
