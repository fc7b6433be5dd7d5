// Package validator wraps go-playground/validator with the pool's custom rules.
package validator

import (
	"fmt"
	"html"
	"reflect"
	"strings"

	"pawpool/pkg/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for frontend usage
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "min":
					msg = fmt.Sprintf("Must be at least %s characters", e.Param())
				case "max":
					msg = fmt.Sprintf("Must be at most %s characters", e.Param())
				case "gt":
					msg = fmt.Sprintf("Must be greater than %s", e.Param())
				case "oneof":
					msg = fmt.Sprintf("Must be one of: %s", e.Param())
				case "resolution_type":
					msg = "Unknown resolution type"
				case "money":
					msg = "Must be a positive amount with at most 2 decimal places"
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v *Validator) registerCustomValidations() {
	// Register decimal.Decimal to be validated as float64 for gt/lt checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("resolution_type", func(fl validator.FieldLevel) bool {
		switch domain.ResolutionType(strings.TrimSpace(fl.Field().String())) {
		case domain.ResolutionRefundFull, domain.ResolutionRefundPartial,
			domain.ResolutionReleaseFunds, domain.ResolutionForfeit:
			return true
		}
		return false
	})

	// money accepts positive decimal strings with at most two fractional digits.
	_ = v.validate.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		raw := strings.TrimSpace(fl.Field().String())
		if raw == "" {
			return true
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return false
		}
		return d.IsPositive() && d.Exponent() >= -2
	})
}

// Sanitize cleans string input to prevent XSS attacks
func Sanitize(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}
