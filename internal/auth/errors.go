package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
)

var (
	// ErrConfiguration means the signing key is missing or unusable. Fatal at startup.
	ErrConfiguration = errors.New("auth: invalid token configuration")
	// ErrTokenMalformed covers bad structure, bad signature and unexpected algorithms.
	ErrTokenMalformed = errors.New("auth: malformed token")
	ErrTokenExpired   = errors.New("auth: token expired")
	// ErrPrincipalNotFound is returned when a token names an account that no longer exists.
	ErrPrincipalNotFound   = errors.New("auth: principal not found")
	ErrRefreshTokenInvalid = errors.New("auth: invalid refresh token")
)
