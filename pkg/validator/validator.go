package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var seatNumberRegex = regexp.MustCompile(`^[A-Za-z0-9]{1,6}$`)

// FieldError is the first failing field of a validated struct
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validator wraps go-playground/validator with the booking tags
// ("phone", "seatno") registered and JSON field names in errors.
type Validator struct {
	validate *validator.Validate
	phones   *PhoneValidator
}

// New builds a Validator. defaultCountryCode is used for local phone numbers.
func New(defaultCountryCode string) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	phones := NewPhoneValidator(defaultCountryCode)

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	// registration only fails for empty tags or nil funcs
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phones.IsValid(fl.Field().String())
	})
	_ = v.RegisterValidation("seatno", func(fl validator.FieldLevel) bool {
		return seatNumberRegex.MatchString(fl.Field().String())
	})

	return &Validator{validate: v, phones: phones}
}

// Struct validates s and returns a *FieldError for the first failure
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &FieldError{Field: "request", Msg: err.Error()}
	}

	first := verrs[0]
	return &FieldError{Field: fieldPath(first), Msg: message(first)}
}

// NormalizePhone returns the E.164 form of phone
func (v *Validator) NormalizePhone(phone string) (string, error) {
	return v.phones.Validate(phone)
}

// fieldPath drops the top-level struct name from the namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be formatted YYYY-MM-DD"
	case "phone":
		return "must be a valid phone number"
	case "seatno":
		return "must be an alphanumeric seat number"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
