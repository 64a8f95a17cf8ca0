package domain

import "errors"

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrTokenRecordNotFound = errors.New("token record not found")
	ErrStoreFailure        = errors.New("token store unavailable")
	ErrUnauthorized        = errors.New("unauthorized")
)

// Rejections of the unauthorized family. Each wraps ErrUnauthorized so callers
// can classify with errors.Is(err, ErrUnauthorized).
var (
	ErrMissingBearer   = newUnauthorized("missing bearer token")
	ErrMalformedBearer = newUnauthorized("malformed authorization header")
	ErrInvalidToken    = newUnauthorized("invalid token")
	ErrTokenExpired    = newUnauthorized("token expired")
	ErrTokenRevoked    = newUnauthorized("token revoked")
	ErrRefreshRejected = newUnauthorized("refresh rejected")
)

type unauthorizedError struct{ msg string }

func (e *unauthorizedError) Error() string { return e.msg }

func (e *unauthorizedError) Unwrap() error { return ErrUnauthorized }

func newUnauthorized(msg string) error { return &unauthorizedError{msg: msg} }
