package web

import (
	"fmt"
	"net/http"

	"github.com/gorilla/schema"
)

// ------------------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------------------

// Validator holds a map of validation errors, keyed by the form field name.
type Validator struct {
	Errors map[string]string
}

// NewValidator creates a new, initialized Validator.
func NewValidator() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid returns true if the Errors map is empty.
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError adds an error message to the map for a given field if one
// doesn't already exist for that field.
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Check is a helper for conditional validation. If `ok` is false, it
// calls AddError with the provided key and message.
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// ------------------------------------------------------------------------------
// Forms
// ------------------------------------------------------------------------------

// TestForm represents the URL query parameter overrides for the test
// trigger endpoint. Fields left empty keep the synthetic sample
// opportunity's values.
type TestForm struct {
	Name    string  `schema:"name"`
	Value   float64 `schema:"value"`
	Account string  `schema:"account"`
}

// Validate checks TestForm fields and populates Validator with any
// errors. Note that the `Check` is like an assertion of truth, if that
// fails, the provided message is recorded against the field.
func (f *TestForm) Validate(v *Validator) {
	v.Check(f.Value >= 0, "value", "Value cannot be negative.")
}

// ------------------------------------------------------------------------------
// General decoding funcs
// ------------------------------------------------------------------------------

// newSchemaDecoder creates a new schema.Decoder instance. Unknown keys
// are ignored so callers can decorate test urls freely.
func newSchemaDecoder() *schema.Decoder {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return decoder
}

// DecodeURLParams is helper that decodes URL query parameters from a request
// into a destination struct (dst).
func DecodeURLParams(r *http.Request, dst any) error {
	decoder := newSchemaDecoder()
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("url parameter decoding error: %v", err)
	}
	return nil
}
