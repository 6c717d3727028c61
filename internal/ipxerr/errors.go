// Package ipxerr defines the request-scoped failure kinds shared by the
// storage backends, the transformation pipeline and the orchestrator.
//
// Failures are plain sentinel errors. Call sites wrap them with detail using
// fmt.Errorf("%w: ...") and adapters classify them with errors.Is or Code.
// None of these failures are retried by the core.
package ipxerr

import (
	"errors"
	"fmt"
)

var (
	ErrMissingID        = errors.New("resource id is missing")
	ErrNoStorage        = errors.New("no storage configured")
	ErrResourceNotFound = errors.New("resource not found")
	ErrInvalidImage     = errors.New("cannot parse image metadata")
	ErrInvalidModifier  = errors.New("invalid modifier")
)

var (
	ErrMissingHostname = errors.New("hostname is missing")
	ErrForbiddenHost   = errors.New("forbidden host")
	ErrForbiddenPath   = errors.New("forbidden path")
)

// Codes, one per failure kind. CodeInternal covers anything that is not one
// of the sentinels above (engine and I/O failures).
const (
	CodeMissingID        = "IPX_MISSING_ID"
	CodeNoStorage        = "IPX_NO_STORAGE"
	CodeResourceNotFound = "IPX_RESOURCE_NOT_FOUND"
	CodeInvalidImage     = "IPX_INVALID_IMAGE"
	CodeInvalidModifier  = "IPX_INVALID_MODIFIER"
	CodeMissingHostname  = "IPX_MISSING_HOSTNAME"
	CodeForbiddenHost    = "IPX_FORBIDDEN_HOST"
	CodeForbiddenPath    = "IPX_FORBIDDEN_PATH"
	CodeInternal         = "IPX_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrMissingID, CodeMissingID},
	{ErrNoStorage, CodeNoStorage},
	{ErrResourceNotFound, CodeResourceNotFound},
	{ErrInvalidImage, CodeInvalidImage},
	{ErrInvalidModifier, CodeInvalidModifier},
	{ErrMissingHostname, CodeMissingHostname},
	{ErrForbiddenHost, CodeForbiddenHost},
	{ErrForbiddenPath, CodeForbiddenPath},
}

// Code returns the category code for err, or CodeInternal when err does not
// wrap any of the package sentinels. A nil error has no code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Errorf wraps base with a formatted detail message.
func Errorf(base error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
