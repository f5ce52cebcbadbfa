// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across api/store/view layers.
var (
	// ErrUnauthorized indicates the server rejected the credentials or session (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated principal lacks the privilege (403).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested entity does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the server refused a state change (400/409), e.g. stock or a taken email.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates rejected input: client-side (no request sent) or a 422 from the server.
	ErrValidation = errors.New("validation")

	// ErrTransport indicates the server could not be reached.
	ErrTransport = errors.New("transport")

	// ErrPaymentDeclined indicates the payment processor refused the payment.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrNotAuthenticated indicates a route guard refused access.
	ErrNotAuthenticated = errors.New("not authenticated")
)
