// Package validation validates decoded request bodies with
// go-playground/validator. Field names in messages use the JSON names the
// client sent, so {"userId": 0} fails with "userId must be greater than 0".
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// RequestValidationError collects every failed rule of one request.
type RequestValidationError struct {
	Fields []FieldError
}

func (ve *RequestValidationError) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve.Fields))
	for i, f := range ve.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the shared validator. It is safe for concurrent use
// and caches struct metadata across calls.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

// ValidateStruct returns nil when s passes, or a *RequestValidationError.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &RequestValidationError{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := make([]FieldError, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: translate(fe)}
	}
	return &RequestValidationError{Fields: out}
}

var paramMessages = map[string]string{
	"gt":  "%s must be greater than %s",
	"gte": "%s must be greater than or equal to %s",
	"lt":  "%s must be less than %s",
	"lte": "%s must be less than or equal to %s",
	"min": "%s must be at least %s",
	"max": "%s must be at most %s",
}

func translate(fe validator.FieldError) string {
	if fe.Tag() == "required" {
		return fmt.Sprintf("%s is required", fe.Field())
	}
	if tmpl, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
