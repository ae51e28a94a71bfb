package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindRateLimited        Kind = "rate_limited"
	KindTimeout            Kind = "timeout"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUpstreamFailure    Kind = "upstream_failure"
)

// Error is a classified provider failure. Detail may echo provider text and is
// meant for operator logs; Message is safe to hand to API callers.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTimeout
}

// Message is a caller-facing description without provider internals.
func (e *Error) Message() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("%s rate limit reached, try again later", e.Provider)
	case KindTimeout:
		return fmt.Sprintf("%s did not respond in time", e.Provider)
	case KindInvalidCredentials:
		return fmt.Sprintf("%s rejected the configured credentials", e.Provider)
	default:
		return fmt.Sprintf("%s generation failed", e.Provider)
	}
}

// KindForStatus maps an HTTP status code from a provider onto a Kind.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindInvalidCredentials
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindUpstreamFailure
	}
}

// classifyTransport wraps an error from http.Client.Do.
func classifyTransport(provider string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Error{Kind: KindUpstreamFailure, Provider: provider, Err: err}
}

func upstream(provider, detail string) *Error {
	return &Error{Kind: KindUpstreamFailure, Provider: provider, Detail: detail}
}
