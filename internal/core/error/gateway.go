package errx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// WrapGateway classifies an LLM gateway failure as transient or permanent.
// Cancellation is never transient: the caller gave up on the query.
func WrapGateway(err error) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) && ae.Message == GatewayErrorMessage {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Err: err, Status: http.StatusRequestTimeout, Message: GatewayErrorMessage, Kind: KindStale}
	}

	status := http.StatusBadGateway
	kind := KindPermanent

	var sc StatusCoder
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status, kind = http.StatusGatewayTimeout, KindTransient
	case errors.As(err, &sc):
		status = sc.StatusCode()
		if status == http.StatusTooManyRequests || status >= 500 {
			kind = KindTransient
		}
	case errors.As(err, &netErr):
		kind = KindTransient
	case looksTransient(err.Error()):
		kind = KindTransient
	}

	return &AppError{Err: err, Status: status, Message: GatewayErrorMessage, Kind: kind}
}

// provider SDKs often only expose the status in the message text
func looksTransient(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"unavailable", "overloaded", "rate limit", "resource_exhausted", "timeout", "503", "502", "429", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
