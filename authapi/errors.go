package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx reply of the auth API. It unwraps to its error category.
type APIError struct {
	Op          string
	Status      int
	Code        string
	Description string
	RetryAfter  time.Duration
	category    error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v (status %d", e.Op, e.category, e.Status)
	if e.Code != "" {
		msg += ", " + e.Code
	}
	msg += ")"
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.category
}

// classify maps an HTTP status and OAuth error code to an error category.
// Gateway errors are transient. A 401 on an authenticated call means the access token
// was rejected, on a grant call it means the code or refresh token is no good.
func classify(status int, code string, authenticated bool) error {
	switch {
	case status == http.StatusTooManyRequests:
		return autherrors.ErrRateLimited
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return autherrors.ErrNetwork
	case status == http.StatusUnauthorized && authenticated:
		return autherrors.ErrUnauthorized
	case code == "invalid_grant", status == http.StatusBadRequest, status == http.StatusUnauthorized:
		return autherrors.ErrInvalidGrant
	default:
		return autherrors.ErrAuthFailed
	}
}

func errorFromResponse(op string, resp *http.Response, authenticated bool) error {
	var body oauth2.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(data, &body)

	apiErr := &APIError{
		Op:          op,
		Status:      resp.StatusCode,
		Code:        body.Error,
		Description: body.Message(),
		category:    classify(resp.StatusCode, body.Error, authenticated),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
	}
	return apiErr
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// networkError marks transport failures as retryable. Cancellation by the caller is passed through.
func networkError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, autherrors.ErrNetwork, err)
}
