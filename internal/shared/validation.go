package shared

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the shared struct validator. Safe for concurrent use.
var Validate = validator.New()

// ValidateStruct runs struct tag validation and reports failures as ErrValidation.
func ValidateStruct(v any) error {
	if err := Validate.Struct(v); err != nil {
		return ValidationError(err)
	}
	return nil
}

// ValidationError converts validator output into an ErrValidation error naming each field.
func ValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// RequireFinite rejects NaN and infinite quantities, which tag validation lets through.
func RequireFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrValidation, field)
	}
	return nil
}
