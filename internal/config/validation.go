package config

import (
	"fmt"
	"net/url"
	"strings"

	"irisctl/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// validateURL checks that value is an absolute URL with one of schemes.
func validateURL(field, value string, schemes ...string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return ValidationError{Field: field, Value: value, Message: "must be an absolute URL"}
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must use %s", strings.Join(schemes, " or ")),
	}
}

// Validate checks c and returns ValidationErrors listing every bad field.
// Debug mode needs no server, so baseURL is only required outside it.
func (c Config) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.BaseURL) == "" {
		if !c.Debug {
			errs.Add("baseURL", "is required", c.BaseURL)
		}
	} else if err := validateURL("baseURL", c.BaseURL, "https", "http"); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if c.APIPath != "" && !strings.HasPrefix(c.APIPath, "/") {
		errs.Add("apiPath", "must start with /", c.APIPath)
	}

	if c.LoginURL != "" {
		if err := validateURL("loginURL", c.LoginURL, "https", "http"); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	}

	if err := validateURL("redirectURL", c.RedirectURL, "http"); err != nil {
		errs = append(errs, err.(ValidationError))
	} else if u, _ := url.Parse(c.RedirectURL); u.Port() == "" {
		errs.Add("redirectURL", "must include a port for the login relay", c.RedirectURL)
	}

	if err := ValidateOneOf("store.backend", c.Store.Backend, []string{"file", "sqlite", "memory"}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if c.HTTP.Timeout < 0 {
		errs.Add("http.timeout", "must not be negative", c.HTTP.Timeout)
	}
	if c.Login.Timeout < 0 {
		errs.Add("login.timeout", "must not be negative", c.Login.Timeout)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs.Add("logLevel", err.Error(), c.LogLevel)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
