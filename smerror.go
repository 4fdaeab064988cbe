package secmon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// SBI return codes written back into a0 by the dispatch layer.
const (
	SBI_SUCCESS               int64 = 0
	SBI_ERR_FAILED            int64 = -1
	SBI_ERR_NOT_SUPPORTED     int64 = -2
	SBI_ERR_INVALID_PARAM     int64 = -3
	SBI_ERR_DENIED            int64 = -4
	SBI_ERR_INVALID_ADDRESS   int64 = -5
	SBI_ERR_ALREADY_AVAILABLE int64 = -6
	SBI_ERR_ALREADY_STARTED   int64 = -7
	SBI_ERR_ALREADY_STOPPED   int64 = -8
)

// SBIError wraps an SBI error code.
type SBIError struct {
	Code    int64
	message string // Optional custom message for specific errors
}

func (e SBIError) Error() string {
	if e.message != "" {
		return e.message
	}

	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

// Is matches a bare code (SBIError{Code: c}) against any error carrying that
// code, and a named error only against itself.
func (e SBIError) Is(target error) bool {
	var t SBIError
	switch v := target.(type) {
	case SBIError:
		t = v
	case *SBIError:
		if v == nil {
			return false
		}
		t = *v
	default:
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.message == "" || t.message == e.message
}

// detailedError provides full error context for development
func (e SBIError) detailedError() string {
	switch e.Code {
	case SBI_SUCCESS:
		return "sm: success"
	case SBI_ERR_FAILED:
		return "sm: failed (SBI_ERR_FAILED) - monitor operation did not complete"
	case SBI_ERR_NOT_SUPPORTED:
		return "sm: not supported (SBI_ERR_NOT_SUPPORTED) - unknown function or test id"
	case SBI_ERR_INVALID_PARAM:
		return "sm: invalid parameter (SBI_ERR_INVALID_PARAM) - check pool geometry, sizes and indices"
	case SBI_ERR_DENIED:
		return "sm: denied (SBI_ERR_DENIED) - monitor state or resources do not allow the request"
	case SBI_ERR_INVALID_ADDRESS:
		return "sm: invalid address (SBI_ERR_INVALID_ADDRESS) - address is not a monitor allocation"
	case SBI_ERR_ALREADY_AVAILABLE:
		return "sm: already available (SBI_ERR_ALREADY_AVAILABLE)"
	case SBI_ERR_ALREADY_STARTED:
		return "sm: already started (SBI_ERR_ALREADY_STARTED) - enclave is executing on another hart"
	case SBI_ERR_ALREADY_STOPPED:
		return "sm: already stopped (SBI_ERR_ALREADY_STOPPED) - enclave is not executing"
	default:
		return fmt.Sprintf("sm: unknown error code %d", e.Code)
	}
}

// sanitizedError provides minimal error information for production
func (e SBIError) sanitizedError() string {
	switch e.Code {
	case SBI_SUCCESS:
		return "sm: success"
	case SBI_ERR_FAILED:
		return "sm: failed"
	case SBI_ERR_NOT_SUPPORTED:
		return "sm: not supported"
	case SBI_ERR_INVALID_PARAM:
		return "sm: invalid parameter"
	case SBI_ERR_DENIED:
		return "sm: denied"
	case SBI_ERR_INVALID_ADDRESS:
		return "sm: invalid address"
	case SBI_ERR_ALREADY_AVAILABLE:
		return "sm: already available"
	case SBI_ERR_ALREADY_STARTED:
		return "sm: already started"
	case SBI_ERR_ALREADY_STOPPED:
		return "sm: already stopped"
	default:
		return "sm: monitor error"
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("SM_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	if debug := os.Getenv("SM_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

// ErrorCode maps err onto the SBI code returned to the caller.
func ErrorCode(err error) int64 {
	if err == nil {
		return SBI_SUCCESS
	}
	var sbiErr SBIError
	if errors.As(err, &sbiErr) {
		return sbiErr.Code
	}
	var sbiPtr *SBIError
	if errors.As(err, &sbiPtr) && sbiPtr != nil {
		return sbiPtr.Code
	}
	return SBI_ERR_FAILED
}

// Common specific errors for API consumers
var (
	ErrFailed              = &SBIError{Code: SBI_ERR_FAILED, message: "sm: operation failed"}
	ErrInvalidPoolGeometry = &SBIError{Code: SBI_ERR_INVALID_PARAM, message: "sm: invalid pool address or size"}
	ErrAlreadyInitialized  = &SBIError{Code: SBI_ERR_DENIED, message: "sm: already initialized"}
	ErrNotInitialized      = &SBIError{Code: SBI_ERR_DENIED, message: "sm: not initialized"}
	ErrInvalidSize         = &SBIError{Code: SBI_ERR_INVALID_PARAM, message: "sm: invalid allocation size"}
	ErrNoFrames            = &SBIError{Code: SBI_ERR_DENIED, message: "sm: no contiguous frames available"}
	ErrInvalidAddress      = &SBIError{Code: SBI_ERR_INVALID_ADDRESS, message: "sm: address is not an allocation start"}
	ErrNotOwner            = &SBIError{Code: SBI_ERR_DENIED, message: "sm: allocation owned by another enclave"}
	ErrUnknownTest         = &SBIError{Code: SBI_ERR_NOT_SUPPORTED, message: "sm: unknown self test"}
	ErrUnknownFunction     = &SBIError{Code: SBI_ERR_NOT_SUPPORTED, message: "sm: unknown function"}
	ErrEnclaveNotFound     = &SBIError{Code: SBI_ERR_INVALID_PARAM, message: "sm: enclave not found"}
	ErrVCPUNotFound        = &SBIError{Code: SBI_ERR_INVALID_PARAM, message: "sm: vcpu not found"}
	ErrVCPULimit           = &SBIError{Code: SBI_ERR_DENIED, message: "sm: enclave vcpu limit reached"}
	ErrInvalidEntry        = &SBIError{Code: SBI_ERR_INVALID_PARAM, message: "sm: entry point not instruction aligned"}
	ErrEnclaveRunning      = &SBIError{Code: SBI_ERR_ALREADY_STARTED, message: "sm: enclave already running"}
	ErrEnclaveStopped      = &SBIError{Code: SBI_ERR_ALREADY_STOPPED, message: "sm: enclave not running"}
)
