// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package core

import (
	"errors"
	"fmt"
	"strings"
)

// This error type is returned when a caller supplies malformed or mutually
// exclusive parameters, unknown field names, files outside an allowed root,
// or IDs that were never downloaded into the workspace.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// indicates that a backend service returned a non-success response
type BackendError struct {
	Method, URL string
	Status      int
	Message     string
}

func (e BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s request to %s failed: %s", e.Method, e.URL, e.Message)
	}
	return fmt.Sprintf("%s request to %s returned with status %d. %s",
		e.Method, e.URL, e.Status, e.Message)
}

// indicates that a record's shape matches none of the cases the normalizer
// understands
type SchemaError struct {
	// the key (or path) of the offending value within the record
	Key     string
	Message string
}

func (e SchemaError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("Unrecognized record shape at '%s': %s", e.Key, e.Message)
	}
	return fmt.Sprintf("Unrecognized record shape: %s", e.Message)
}

// this error type is returned when a field name matches more than one
// collection
type AmbiguousFieldError struct {
	Field       string
	Collections []string
}

func (e AmbiguousFieldError) Error() string {
	return fmt.Sprintf("The field '%s' is ambiguous: it belongs to %s",
		e.Field, strings.Join(e.Collections, ", "))
}

// this error type is returned when a field name matches no queryable field
type UnknownFieldError struct {
	Field string
	Valid []string
}

func (e UnknownFieldError) Error() string {
	return fmt.Sprintf("The field '%s' is not queryable. Valid fields are: %s",
		e.Field, strings.Join(e.Valid, ", "))
}

// returns true if the given error is (or wraps) a validation failure,
// including ambiguous and unknown fields
func IsValidation(err error) bool {
	var ve *ValidationError
	var ae *AmbiguousFieldError
	var ue *UnknownFieldError
	return errors.As(err, &ve) || errors.As(err, &ae) || errors.As(err, &ue)
}

// returns true if the given error is (or wraps) a backend failure
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// returns true if the given error is (or wraps) a schema failure
func IsSchema(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// creates a validation error with a formatted message
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
