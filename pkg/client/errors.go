package client

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by the client and the retry governor.
var (
	// ErrRetryExhausted is returned when a bounded governor runs out of attempts.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a cooldown.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrMalformedResponse is returned when a response body does not have the
	// expected search result shape.
	ErrMalformedResponse = errors.New("malformed search response")

	// ErrRateLimited is returned when every credential is known to be out of
	// quota, or the remote answers with a rate-limit status.
	ErrRateLimited = errors.New("rate limited")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than rate limits.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 and quota-exhausted 403 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents a 200 response with an unexpected body.
	ErrorClassMalformed ErrorClass = "malformed"
)

// APIError is a classified fetch failure.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("search %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassOf returns the error class of err. Errors that are not an *APIError
// are treated as network failures.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassNetwork
}

// isPermanent reports whether an error class will fail the same way on
// every attempt. Only consulted when the governor is told to give up on
// permanent failures.
func isPermanent(class ErrorClass) bool {
	return class == ErrorClassClient
}

// isContextErr reports whether err comes from the caller's context ending.
func isContextErr(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
