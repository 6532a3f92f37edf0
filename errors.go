package authclient

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeEmptyToken       = "AUTH_TOKEN_EMPTY"
	TextCodeMalformedToken   = "AUTH_TOKEN_MALFORMED"
	TextCodeIllegalToken     = "AUTH_TOKEN_ILLEGAL"
	TextCodeStorageNotFound  = "AUTH_STORAGE_ENTRY_NOT_FOUND"
	TextCodeStorageUnusable  = "AUTH_STORAGE_UNAVAILABLE"
	TextCodeRequestFailed    = "AUTH_REQUEST_FAILED"
	TextCodeRequestTransport = "AUTH_REQUEST_TRANSPORT"
	TextCodeInvalidConfig    = "AUTH_INVALID_CONFIG"
)

// ErrEmptyToken is returned when a token was required but the raw value is empty
var ErrEmptyToken = errors.New("token value is empty", errors.CategoryAuth).
	WithTextCode(TextCodeEmptyToken).
	WithCode(errors.CodeUnauthorized)

// ErrMalformedToken is returned when a token payload cannot be decoded
var ErrMalformedToken = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeMalformedToken).
	WithCode(errors.CodeUnauthorized)

// ErrIllegalToken is returned when a response does not carry a usable token
var ErrIllegalToken = errors.New("response did not contain a valid token", errors.CategoryAuth).
	WithTextCode(TextCodeIllegalToken).
	WithCode(errors.CodeUnauthorized)

// ErrStorageEntryNotFound is returned by Storage implementations for missing keys
var ErrStorageEntryNotFound = errors.New("storage entry not found", errors.CategoryNotFound).
	WithTextCode(TextCodeStorageNotFound).
	WithCode(errors.CodeNotFound)

// ErrStorageUnavailable signals that no durable storage is configured
var ErrStorageUnavailable = errors.New("token storage is not available", errors.CategoryInternal).
	WithTextCode(TextCodeStorageUnusable)

// ErrRequestFailed wraps non successful HTTP responses
var ErrRequestFailed = errors.New("request failed", errors.CategoryExternal).
	WithTextCode(TextCodeRequestFailed)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("invalid auth client configuration", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(errors.CodeBadRequest)

// IsEmptyTokenError reports whether err is (or wraps) ErrEmptyToken
func IsEmptyTokenError(err error) bool {
	return hasTextCode(err, TextCodeEmptyToken)
}

// IsMalformedTokenError reports whether err is (or wraps) ErrMalformedToken
func IsMalformedTokenError(err error) bool {
	return hasTextCode(err, TextCodeMalformedToken)
}

// IsIllegalTokenError reports whether err is (or wraps) ErrIllegalToken
func IsIllegalTokenError(err error) bool {
	return hasTextCode(err, TextCodeIllegalToken)
}

// IsTokenError reports any of the token format errors
func IsTokenError(err error) bool {
	return IsEmptyTokenError(err) || IsMalformedTokenError(err) || IsIllegalTokenError(err)
}

// IsNotFoundError reports a missing storage entry
func IsNotFoundError(err error) bool {
	return hasTextCode(err, TextCodeStorageNotFound)
}

// IsRequestError reports a failed HTTP exchange
func IsRequestError(err error) bool {
	return hasTextCode(err, TextCodeRequestFailed) || hasTextCode(err, TextCodeRequestTransport)
}

// sentinels are cloned before being returned so callers can attach
// metadata, which means identity checks do not work. Match on text code.
func hasTextCode(err error, code string) bool {
	for err != nil {
		var rich *errors.Error
		if !errors.As(err, &rich) {
			return false
		}
		if rich.TextCode == code {
			return true
		}
		err = rich.Source
	}
	return false
}

func malformedToken(source error, raw string) error {
	e := ErrMalformedToken.Clone()
	e.Source = source
	return e.WithMetadata(map[string]any{"token": maskToken(raw)})
}

func maskToken(raw string) string {
	if len(raw) <= 8 {
		return "****"
	}
	return raw[:4] + "****" + raw[len(raw)-4:]
}
