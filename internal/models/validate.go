package models

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// A secret of only whitespace cannot sign anything.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// Validate checks the endpoint's destination, secret and retry policy.
func (e *Endpoint) Validate() error {
	return validate.Struct(e)
}
