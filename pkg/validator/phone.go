package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and a leading +")

	// ErrInvalidLength indicates the number has too few or too many digits
	ErrInvalidLength = errors.New("phone number must have 10 to 15 digits")
)

var (
	digitsRegex = regexp.MustCompile(`^\+?\d+$`)
	phoneRegex  = regexp.MustCompile(`^\+[1-9]\d{9,14}$`)
)

// PhoneValidator normalizes contact numbers to E.164
type PhoneValidator struct {
	defaultCountryCode string
}

// NewPhoneValidator creates a validator; local 10-digit numbers get
// defaultCountryCode (digits only, e.g. "91") prefixed.
func NewPhoneValidator(defaultCountryCode string) *PhoneValidator {
	return &PhoneValidator{defaultCountryCode: strings.TrimPrefix(defaultCountryCode, "+")}
}

// Validate returns the E.164 form of phone.
// Accepts +919876543210, 919876543210, 09876543210, 98765 43210 and 98765-43210.
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)
	if !digitsRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	normalized := sanitized
	switch {
	case strings.HasPrefix(normalized, "+"):
	case v.defaultCountryCode != "" && strings.HasPrefix(normalized, "0"):
		// trunk prefix: 0771234567 -> +94771234567
		normalized = "+" + v.defaultCountryCode + strings.TrimPrefix(normalized, "0")
	case v.defaultCountryCode != "" && len(normalized) == 10:
		normalized = "+" + v.defaultCountryCode + normalized
	default:
		normalized = "+" + normalized
	}

	if !phoneRegex.MatchString(normalized) {
		return "", ErrInvalidLength
	}

	return normalized, nil
}

// Sanitize removes common separators from a phone number
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return replacer.Replace(strings.TrimSpace(phone))
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
