package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict  = new(ErrCodeVersionConflict, "version conflict")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// discount resolution, recoverable by the caller
	ErrNotApplicable      = new(ErrCodeNotApplicable, "discount not applicable")
	ErrExpiredOrExhausted = new(ErrCodeExpiredOrExhausted, "discount expired or exhausted")

	// stored-value ledger state machine
	ErrInsufficientBalance = new(ErrCodeInsufficientBalance, "insufficient balance")
	ErrCapExceeded         = new(ErrCodeCapExceeded, "balance cap exceeded")
	ErrInvalidState        = new(ErrCodeInvalidState, "invalid state")

	// internal reconciliation failure, always fatal
	ErrRoundingInvariant = new(ErrCodeRoundingInvariant, "rounding invariant violated")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrDatabase:            http.StatusInternalServerError,
		ErrNotFound:            http.StatusNotFound,
		ErrAlreadyExists:       http.StatusConflict,
		ErrVersionConflict:     http.StatusConflict,
		ErrValidation:          http.StatusBadRequest,
		ErrInvalidOperation:    http.StatusBadRequest,
		ErrSystem:              http.StatusInternalServerError,
		ErrNotApplicable:       http.StatusUnprocessableEntity,
		ErrExpiredOrExhausted:  http.StatusUnprocessableEntity,
		ErrInsufficientBalance: http.StatusConflict,
		ErrCapExceeded:         http.StatusConflict,
		ErrInvalidState:        http.StatusConflict,
		ErrRoundingInvariant:   http.StatusInternalServerError,
	}
)

const (
	ErrCodeSystemError         = "system_error"
	ErrCodeNotFound            = "not_found"
	ErrCodeAlreadyExists       = "already_exists"
	ErrCodeVersionConflict     = "version_conflict"
	ErrCodeValidation          = "validation_error"
	ErrCodeInvalidOperation    = "invalid_operation"
	ErrCodeDatabase            = "database_error"
	ErrCodeNotApplicable       = "not_applicable"
	ErrCodeExpiredOrExhausted  = "expired_or_exhausted"
	ErrCodeInsufficientBalance = "insufficient_balance"
	ErrCodeCapExceeded         = "cap_exceeded"
	ErrCodeInvalidState        = "invalid_state"
	ErrCodeRoundingInvariant   = "rounding_invariant"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotApplicable(err error) bool {
	return errors.Is(err, ErrNotApplicable)
}

func IsExpiredOrExhausted(err error) bool {
	return errors.Is(err, ErrExpiredOrExhausted)
}

// IsRecoverableDiscount reports whether a discount failure lets the caller
// continue without the discount.
func IsRecoverableDiscount(err error) bool {
	return IsNotApplicable(err) || IsExpiredOrExhausted(err)
}

func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

func IsCapExceeded(err error) bool {
	return errors.Is(err, ErrCapExceeded)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsRoundingInvariant(err error) bool {
	return errors.Is(err, ErrRoundingInvariant)
}

// sentinels is the lookup order for CodeFromErr and HTTPStatusFromErr, the
// most specific first
var sentinels = []*InternalError{
	ErrRoundingInvariant,
	ErrInsufficientBalance,
	ErrCapExceeded,
	ErrInvalidState,
	ErrNotApplicable,
	ErrExpiredOrExhausted,
	ErrVersionConflict,
	ErrAlreadyExists,
	ErrNotFound,
	ErrValidation,
	ErrInvalidOperation,
	ErrDatabase,
	ErrSystem,
}

func sentinelOf(err error) *InternalError {
	for _, e := range sentinels {
		if errors.Is(err, e) {
			return e
		}
	}
	return nil
}

// CodeFromErr returns the machine readable code err is marked with
func CodeFromErr(err error) string {
	if e := sentinelOf(err); e != nil {
		return e.Code
	}
	return ErrCodeSystemError
}

func HTTPStatusFromErr(err error) int {
	if e := sentinelOf(err); e != nil {
		return statusCodeMap[e]
	}
	return http.StatusInternalServerError
}
