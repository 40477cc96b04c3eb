package veil

import (
	"fmt"
)

type ErrorCode string

const (
	BadRequest            ErrorCode = "bad-request"
	NotAvailable          ErrorCode = "not-available"
	NotFound              ErrorCode = "not-found"
	AlreadyExists         ErrorCode = "already-exists"
	DBConflict            ErrorCode = "db-conflict"
	UnknownError          ErrorCode = "unknown-error"
	RemoteServer          ErrorCode = "remote-server"
	LoggedOut             ErrorCode = "logged-out"
	WrongPIN              ErrorCode = "wrong-pin"
	InvalidInvoice        ErrorCode = "invalid-invoice"
	InvalidAddress        ErrorCode = "invalid-address"
	InvalidReference      ErrorCode = "invalid-reference"
	InsufficientBalance   ErrorCode = "insufficient-balance"
	InsufficientFee       ErrorCode = "insufficient-fee"
	MaxSpendingCount      ErrorCode = "max-spending-count"
	OutputNotConfirmed    ErrorCode = "output-not-confirmed"
	AlreadyPaid           ErrorCode = "already-paid"
	PendingTransaction    ErrorCode = "pending-transaction"
	AddressDust           ErrorCode = "address-dust"
	MissingResponse       ErrorCode = "missing-response"
	InconsistentBroadcast ErrorCode = "inconsistent-broadcast"
)

type ErrorInfo struct {
	Code    ErrorCode // machine-readable ErrorCode enumeration
	Message string    // human-readable debug message (logged locally only)
}

func (e *ErrorInfo) Error() string {
	return string(e.Message)
}

func NewErr(code ErrorCode, format string, args ...any) error {
	return &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}
}

func IsNotFoundError(err error) bool {
	return IsError(err, NotFound)
}

// IsServerError reports whether err is a transient server-class failure
// that the broadcast retry policy is allowed to retry.
func IsServerError(err error) bool {
	return IsError(err, RemoteServer)
}

func IsDBConflictError(err error) bool {
	return IsError(err, DBConflict)
}

func IsError(err error, ofType ErrorCode) bool {
	if e, ok := err.(*ErrorInfo); ok {
		return e.Code == ofType
	}
	return false
}

// CodeOf extracts the ErrorCode from an engine error, or UnknownError
// for anything raised outside the engine.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*ErrorInfo); ok {
		return e.Code
	}
	return UnknownError
}
