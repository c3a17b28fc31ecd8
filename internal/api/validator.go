package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// FieldError describes one rejected request parameter
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value string `json:"value,omitempty"`
}

// ValidationError lists the rejected parameters of a request
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := lo.Map(e.Fields, func(f FieldError, _ int) string {
		return f.Field + " (" + f.Rule + ")"
	})
	return "invalid parameters: " + strings.Join(names, ", ")
}

// CustomValidator validates bound request parameters, reporting them by their query or JSON name
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new custom validator
func NewValidator() *CustomValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	return &CustomValidator{
		validator: v,
	}
}

// Validate validates a struct, returning a *ValidationError for rejected fields
func (cv *CustomValidator) Validate(i interface{}) error {
	err := cv.validator.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	return &ValidationError{
		Fields: lo.Map(verrs, func(fe validator.FieldError, _ int) FieldError {
			return FieldError{
				Field: fe.Field(),
				Rule:  fe.Tag(),
				Value: fe.Param(),
			}
		}),
	}
}
