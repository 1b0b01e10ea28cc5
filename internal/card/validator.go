package card

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxExpiryYears bounds how far in the future an expiry year may be.
const maxExpiryYears = 20

// Validate checks card details before any encryption or network call.
// It returns every problem found, not just the first.
func Validate(d Details, now time.Time) []string {
	var errs []string

	if !ValidNumber(d.Number) {
		errs = append(errs, "invalid card number")
	}

	if !validCVV(d.CVV) {
		errs = append(errs, "invalid CVV (must be 3-4 digits)")
	}

	if !validExpiryMonth(d.ExpiryMonth) {
		errs = append(errs, "invalid expiry month (must be 1-12)")
	}

	if !validExpiryYear(d.ExpiryYear, now) {
		errs = append(errs, "invalid expiry year")
	}

	if len(strings.TrimSpace(d.CardholderName)) < 2 {
		errs = append(errs, "invalid cardholder name")
	}

	return errs
}

// ValidNumber reports whether the card number is 13-19 digits and passes
// the Luhn checksum. Spaces and dashes are tolerated.
func ValidNumber(number string) bool {
	number = strings.ReplaceAll(number, " ", "")
	number = strings.ReplaceAll(number, "-", "")

	if len(number) < 13 || len(number) > 19 {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}

		digit := int(c - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		double = !double
	}

	return sum%10 == 0
}

func validCVV(cvv string) bool {
	if len(cvv) != 3 && len(cvv) != 4 {
		return false
	}

	return allDigits(cvv)
}

func validExpiryMonth(month string) bool {
	m, err := strconv.Atoi(month)
	if err != nil {
		return false
	}

	return m >= 1 && m <= 12
}

func validExpiryYear(year string, now time.Time) bool {
	y, err := strconv.Atoi(year)
	if err != nil {
		return false
	}

	current := now.Year()

	return y >= current && y <= current+maxExpiryYears
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// ValidationError wraps validator output as a single error for callers
// that want one.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid card data: %s", strings.Join(e.Problems, "; "))
}
