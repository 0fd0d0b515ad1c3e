package bybit

import (
	"errors"
	"fmt"
)

// BybitError represents a Bybit API error with additional context
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *BybitError) Error() string {
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeOrderNotFound       = 110001
	ErrCodeInsufficientBalance = 110007
	ErrCodeInvalidQuantity     = 110020
)

// IsRejection reports whether the venue refused the order itself, as opposed
// to a connectivity or availability problem
func IsRejection(err error) bool {
	var be *BybitError
	if !errors.As(err, &be) {
		return false
	}
	switch be.Code {
	case ErrCodeInsufficientBalance, ErrCodeInvalidQuantity, ErrCodeOrderNotFound:
		return true
	}
	return false
}

// ParseAPIError converts a non-zero retCode into a BybitError
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return &BybitError{Code: retCode, Message: retMsg}
}

// WrapAPIError adds the operation name to an API error
func WrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("bybit %s: %w", operation, err)
}
