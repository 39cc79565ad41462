package errx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// WrapModel marks err as a model invocation failure. The result matches
// ErrModelInvocation with errors.Is while keeping the cause reachable.
// Context cancellation is reported as a gateway timeout.
func WrapModel(stage string, err error) error {
	if err == nil {
		return nil
	}
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = http.StatusGatewayTimeout
	}
	return New(fmt.Errorf("%w: stage %s: %w", ErrModelInvocation, stage, err), status, ModelErrorMessage)
}

// WrapSearch marks err as an evidence source failure.
func WrapSearch(kind string, err error) error {
	if err == nil {
		return nil
	}
	return New(fmt.Errorf("%w: %s: %w", ErrSearchFailed, kind, err), http.StatusBadGateway, SearchErrorMessage)
}
