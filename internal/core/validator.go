package core

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"zecu/internal/types"
)

// Validator wraps go-playground/validator and registers domain-specific
// rules. A single instance is shared by all handlers; the underlying
// validate instance caches struct metadata and is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// plan_tier: value must be a known subscription tier.
	_ = v.RegisterValidation("plan_tier", func(fl validator.FieldLevel) bool {
		return types.PlanTier(fl.Field().String()).IsValid()
	})

	// consulta_tipo: value must be a known consulta category.
	_ = v.RegisterValidation("consulta_tipo", func(fl validator.FieldLevel) bool {
		return types.ConsultaTipo(fl.Field().String()).IsValid()
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct runs the registered rules against a decoded request DTO.
// Violations are flattened into a validation_failed AppError whose details
// map each offending field (JSON name, lowercased) to a short description.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed a non-struct. That is a
		// programming error, not client input.
		v.logger.Error("validator invoked with non-struct value", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[strings.ToLower(fe.Field())] = describeRule(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationFailed,
		"request validation failed",
		err,
		details,
	)
}

// describeRule renders one failed rule as a client-facing message.
func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "plan_tier":
		return "must be a known plan"
	case "consulta_tipo":
		return "must be a known consulta type"
	default:
		return "failed rule: " + fe.Tag()
	}
}
