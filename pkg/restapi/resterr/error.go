/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resterr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrDataNotFound = errors.New("data not found")

// Code identifies one kind from the consent error taxonomy.
type Code string

const (
	// CodeAuthenticationFailed - session material could not be produced or is
	// expired; recoverable by re-authenticating.
	CodeAuthenticationFailed Code = "authentication_failed"
	// CodeCapacityUnavailable - the capacity/gas sponsorship delegation step
	// could not be satisfied. Distinct from authentication failure.
	CodeCapacityUnavailable Code = "capacity_unavailable"
	// CodeReadFailed - on-chain or off-chain read error. Grant status is
	// unknown, never "not granted".
	CodeReadFailed Code = "read_failed"
	// CodeReconciliationStepFailed - a specific reconciliation write step
	// failed. Safe to retry from the top.
	CodeReconciliationStepFailed Code = "reconciliation_step_failed"
	// CodeIssuanceFailed - token could not be produced after successful
	// reconciliation; retry should skip reconciliation.
	CodeIssuanceFailed Code = "issuance_failed"
	// CodeConfigurationError - malformed inbound request (app id, referrer
	// origin, redirect target). Fatal for the current flow.
	CodeConfigurationError Code = "configuration_error"
	// CodeSystemError - anything that escaped translation at a component
	// boundary.
	CodeSystemError Code = "system_error"
)

// Error is a taxonomy error with component/operation context attached at the
// boundary where the underlying error was caught.
type Error struct {
	Code           Code
	ErrorComponent Component
	Operation      string
	IncorrectValue string
	Err            error
}

type errorJSON struct {
	Code           Code      `json:"error"`
	Component      Component `json:"component,omitempty"`
	Operation      string    `json:"operation,omitempty"`
	IncorrectValue string    `json:"incorrect_value,omitempty"`
	Description    string    `json:"error_description,omitempty"`
}

func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

func NewAuthenticationFailed(err error) *Error {
	return New(CodeAuthenticationFailed, err)
}

func NewCapacityUnavailable(err error) *Error {
	return New(CodeCapacityUnavailable, err)
}

func NewReadFailed(err error) *Error {
	return New(CodeReadFailed, err)
}

func NewReconciliationStepFailed(err error) *Error {
	return New(CodeReconciliationStepFailed, err)
}

func NewIssuanceFailed(err error) *Error {
	return New(CodeIssuanceFailed, err)
}

func NewConfigurationError(err error) *Error {
	return New(CodeConfigurationError, err)
}

func NewSystemError(err error) *Error {
	return New(CodeSystemError, err)
}

func (e *Error) WithComponent(component Component) *Error {
	e.ErrorComponent = component

	return e
}

func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation

	return e
}

func (e *Error) WithIncorrectValue(incorrectValue string) *Error {
	e.IncorrectValue = incorrectValue

	return e
}

func (e *Error) Error() string {
	var description []string

	if e.ErrorComponent != "" {
		description = append(description, fmt.Sprintf("component: %s", e.ErrorComponent))
	}

	if e.Operation != "" {
		description = append(description, fmt.Sprintf("operation: %s", e.Operation))
	}

	if e.IncorrectValue != "" {
		description = append(description, fmt.Sprintf("incorrect value: %s", e.IncorrectValue))
	}

	return fmt.Sprintf("%s[%s]: %v", e.Code, strings.Join(description, "; "), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) MarshalJSON() ([]byte, error) {
	j := &errorJSON{
		Code:           e.Code,
		Component:      e.ErrorComponent,
		Operation:      e.Operation,
		IncorrectValue: e.IncorrectValue,
	}

	if e.Err != nil {
		j.Description = e.Err.Error()
	}

	return json.Marshal(j)
}

// HTTPStatus maps the taxonomy code to the response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case CodeCapacityUnavailable:
		return http.StatusServiceUnavailable
	case CodeConfigurationError:
		return http.StatusBadRequest
	case CodeReadFailed, CodeReconciliationStepFailed, CodeIssuanceFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may usefully retry the failed action.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeAuthenticationFailed, CodeReadFailed, CodeReconciliationStepFailed, CodeIssuanceFailed:
		return true
	default:
		return false
	}
}

// FromError translates err into a taxonomy error. Already-translated errors
// pass through unchanged; anything else becomes a system error.
func FromError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	return NewSystemError(err)
}
