// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package validation wraps a shared go-playground/validator instance.
//
// Filters, node definitions and API request bodies are all validated through
// ValidateStruct so that range errors read the same everywhere:
//
//	type seekRequest struct {
//	    Position int64 `json:"position" validate:"gte=0"`
//	}
//	if err := validation.ValidateStruct(&req); err != nil {
//	    // err.Error() == "Position must be greater than or equal to 0"
//	}
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
	Field   string
	Tag     string
	Param   string
	Value   interface{}
	Message string
}

// Error implements error.
func (e FieldError) Error() string {
	return e.Message
}

// Errors is the set of rules that failed for one struct.
type Errors []FieldError

// Error joins the individual messages.
func (ve Errors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve))
	for i, fe := range ve {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a field -> message map for API responses.
func (ve Errors) Fields() map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field] = fe.Message
	}
	return out
}

// GetValidator returns the shared validator. Safe for concurrent use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report json names when a struct has them so API clients see their own keys.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})

		// snowflake: a Discord id, a non-empty string of decimal digits.
		_ = validate.RegisterValidation("snowflake", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			if s == "" || len(s) > 20 {
				return false
			}
			for _, r := range s {
				if r < '0' || r > '9' {
					return false
				}
			}
			return true
		})
	})
	return validate
}

// ValidateStruct validates s and returns Errors, or nil when s is valid.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Errors{{Field: "unknown", Tag: "unknown", Message: err.Error()}}
	}

	out := make(Errors, len(verrs))
	for i, fe := range verrs {
		out[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Value:   fe.Value(),
			Message: translate(fe),
		}
	}
	return out
}

var plainMessages = map[string]string{
	"required":  "%s is required",
	"snowflake": "%s must be a Discord snowflake id",
	"hostname":  "%s must be a valid hostname",
	"url":       "%s must be a valid URL",
}

var paramMessages = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
	"len":   "%s must have length %s",
}

func translate(fe validator.FieldError) string {
	if tmpl, ok := plainMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field())
	}
	if tmpl, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
