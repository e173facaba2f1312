package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError carries an operator-facing message alongside the display text shown
// on the machine front panel.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewInvalidCodeError reports a product code with no configured shelf.
func NewInvalidCodeError(code int, cause error) *AppError {
	return &AppError{
		Code:        "E101",
		Message:     fmt.Sprintf("invalid product code: %d", code),
		UserMessage: "Invalid code. Please choose another product",
		Severity:    SeverityLow,
		Retryable:   true,
		cause:       cause,
	}
}

// NewSoldOutError reports a shelf with nothing left to dispense.
func NewSoldOutError(code int, cause error) *AppError {
	return &AppError{
		Code:        "E102",
		Message:     fmt.Sprintf("product %d is sold out", code),
		UserMessage: "Sold out. Please choose another product",
		Severity:    SeverityLow,
		Retryable:   true,
		cause:       cause,
	}
}

// NewInsufficientPaymentError reports an underpayment; the coins have already
// been refunded by the machine.
func NewInsufficientPaymentError(paidCents, requiredCents int, cause error) *AppError {
	return &AppError{
		Code:        "E103",
		Message:     fmt.Sprintf("insufficient payment: paid %d cents, need %d cents", paidCents, requiredCents),
		UserMessage: "Not enough money inserted. Coins returned",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

// NewInventoryError reports an inventory-level failure during setup or restock.
func NewInventoryError(msg string, cause error) *AppError {
	return &AppError{
		Code:        "E104",
		Message:     msg,
		UserMessage: "Machine temporarily unavailable",
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       cause,
	}
}

// NewJournalError reports a failure writing the sales audit journal.
func NewJournalError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("journal error: %s", underlyingMsg),
		UserMessage: "Machine temporarily unavailable",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewShelfLockError reports a dispense blocked by a held shelf lock.
func NewShelfLockError(code int, cause error) *AppError {
	return &AppError{
		Code:        "E300",
		Message:     fmt.Sprintf("shelf %d is locked by another dispense", code),
		UserMessage: "Please try again in a moment",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}
