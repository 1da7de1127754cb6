package core

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"minhafloresta/internal/types"
)

// Validator wraps go-playground/validator and translates validation failures
// into structured AppErrors with per-field details.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the domain rules registered.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// project_id values are lowercase slugs ("mata-atlantica"). Reject anything
	// that would not round-trip through a URL path or an S3 key.
	_ = v.RegisterValidation("projectslug", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return false
		}
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= '0' && r <= '9':
			case r == '-' || r == '_':
			default:
				return false
			}
		}
		return true
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct runs the registered rules against s. On failure it returns a
// *types.AppError with code validation_missing_field and a details map of
// field name to the failed rule.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError means the caller passed a non-struct; that is
		// a programming error, not client input.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not be performed", err)
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[fieldKey(fe)] = fe.Tag()
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request failed validation",
		err,
		details,
	)
}

// fieldKey converts the validator namespace ("BackfillParams.Email") into the
// bare lowered field name clients recognize ("email").
func fieldKey(fe validator.FieldError) string {
	name := fe.Field()
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.ToLower(name)
}
