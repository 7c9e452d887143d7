package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	TypeMalformedEnvelope ErrorType = "MalformedEnvelope" // Sealed blob shorter than its fixed header
	TypeAuthentication    ErrorType = "Authentication"    // Wrong password or tampered ciphertext
	TypeCorruptArchive    ErrorType = "CorruptArchive"    // Unparsable zip, missing or invalid manifest
	TypeIntegrity         ErrorType = "Integrity"         // Extracted file digest mismatch
	TypeRelocation        ErrorType = "Relocation"        // Snapshot, remove or move failed at a destination
	TypeConfig            ErrorType = "Config"            // Invalid flags, missing required params
	TypeResource          ErrorType = "Resource"          // Permission denied, out of space, file not found
	TypeInternal          ErrorType = "Internal"          // Unexpected internal failure
)

// AppError is a rich error type that provides a category and a hint for users.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Hint    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches sentinel AppErrors by type so errors.Is(err, ErrIntegrityMismatch)
// holds for any integrity failure.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return isSentinel(t) && t.Type == e.Type
}

// New creates a new AppError
func New(t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Hint:    hint,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
		Hint:    hint,
	}
}

// IsType reports whether any AppError in err's chain has type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Err
	}
	return false
}

// Hint returns the first non-empty hint in err's chain.
func Hint(err error) string {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Hint != "" {
			return appErr.Hint
		}
		err = appErr.Err
	}
	return ""
}

var (
	ErrMalformedEnvelope = New(TypeMalformedEnvelope, "Malformed envelope", "The file is truncated or is not a sealed dotvault archive.")
	ErrAuthentication    = New(TypeAuthentication, "Authentication failed", "The password is wrong or the archive was tampered with.")
	ErrCorruptArchive    = New(TypeCorruptArchive, "Corrupt archive", "The archive cannot be read. If it is sealed, make sure the file name ends in .enc.")
	ErrIntegrityMismatch = New(TypeIntegrity, "Integrity failure", "The backup file may be corrupt or tampered with. Verify the source integrity.")
	ErrRelocation        = New(TypeRelocation, "Relocation failed", "Earlier moves were kept. The scratch directory holds the remaining files for a manual retry.")
)

func isSentinel(e *AppError) bool {
	switch e {
	case ErrMalformedEnvelope, ErrAuthentication, ErrCorruptArchive, ErrIntegrityMismatch, ErrRelocation:
		return true
	}
	return false
}
