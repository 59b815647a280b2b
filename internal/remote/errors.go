package remote

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by gateway errors.
const (
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeCredentialsInvalidated = "CREDENTIALS_INVALIDATED"
	CodeRateLimited            = "RATE_LIMITED"
	CodeNotFound               = "NOT_FOUND"
	CodeTimeout                = "TIMEOUT"
	CodeTransport              = "TRANSPORT"
	CodeRemoteStatus           = "REMOTE_STATUS"
	CodeDecode                 = "DECODE"
)

func gatewayError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func gatewayWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return gatewayError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// NotFound builds the error a gateway returns when a lookup has no match.
func NotFound(system, what string) error {
	return gatewayError(
		fmt.Sprintf("%s: %s not found", system, what),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		CodeNotFound,
		map[string]any{"system": system},
	)
}

// StatusError builds the error for an unexpected HTTP status.
func StatusError(system string, resp *Response) error {
	return gatewayError(
		fmt.Sprintf("%s: %s %s returned HTTP %d: %s", system, resp.Method, resp.Path, resp.StatusCode, snippet(resp.Body)),
		categoryForStatus(resp.StatusCode),
		resp.StatusCode,
		CodeRemoteStatus,
		map[string]any{"system": system, "method": resp.Method, "path": resp.Path, "attempts": resp.Attempts},
	)
}

// DecodeError wraps a JSON decoding failure of a successful response.
func DecodeError(system string, resp *Response, err error) error {
	return gatewayWrapError(
		err,
		goerrors.CategoryExternal,
		fmt.Sprintf("%s: decode %s %s response", system, resp.Method, resp.Path),
		resp.StatusCode,
		CodeDecode,
		map[string]any{"system": system, "path": resp.Path},
	)
}

func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return goerrors.CategoryAuth
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryExternal
	}
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func rich(err error) (*goerrors.Error, bool) {
	var e *goerrors.Error
	if err == nil || !goerrors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// IsAuth reports whether err is an authentication failure or a call refused
// because credentials were invalidated.
func IsAuth(err error) bool {
	e, ok := rich(err)
	return ok && e.Category == goerrors.CategoryAuth
}

// IsNotFound reports whether err means the remote record does not exist.
func IsNotFound(err error) bool {
	e, ok := rich(err)
	return ok && e.Category == goerrors.CategoryNotFound
}

// IsRateLimited reports whether err is an exhausted rate-limit retry.
func IsRateLimited(err error) bool {
	e, ok := rich(err)
	return ok && e.Category == goerrors.CategoryRateLimit
}

// TextCode returns the gateway text code of err, or "" for foreign errors.
func TextCode(err error) string {
	if e, ok := rich(err); ok {
		return e.TextCode
	}
	return ""
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if e, ok := rich(err); ok {
		return e.Code
	}
	return 0
}
