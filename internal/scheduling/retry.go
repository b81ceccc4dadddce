package scheduling

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
)

// callTimeout bounds a single provider call. The voice channel cannot
// tolerate long stalls, so the budget per attempt is tight.
const callTimeout = 10 * time.Second

// retryBackoff is the pause before the single retry of a transient
// provider failure.
const retryBackoff = 500 * time.Millisecond

// callProvider runs one calendar API call with a per-attempt timeout,
// retrying exactly once on transient failure. Client errors (4xx) are
// never retried: the request will not get better. The returned error is
// already classified into the domain taxonomy.
func (e *Engine) callProvider(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func() error {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return fn(cctx)
	}

	err := attempt()
	if err == nil {
		return nil
	}
	if !isTransient(err) {
		return classifyProviderError(err)
	}

	e.logger.Warn("transient calendar error, retrying once",
		logging.Operation(op), logging.Err(err))

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return model.WrapDomainError(model.KindCalendarUnavailable,
			"calendar call abandoned", ctx.Err())
	}

	if err = attempt(); err == nil {
		return nil
	}
	return classifyProviderError(err)
}

// isTransient reports whether a provider error is worth one retry:
// server-side failures, timeouts, and network errors.
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyProviderError maps a raw provider error into the domain
// taxonomy, keeping the cause wrapped for call sites that need the
// HTTP status (notFound checks).
func classifyProviderError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return model.WrapDomainError(model.KindCalendarUnavailable,
				"calendar provider unavailable", err)
		}
		return model.WrapDomainError(model.KindProviderRejected,
			"calendar provider rejected the request", err)
	}
	return model.WrapDomainError(model.KindCalendarUnavailable,
		"calendar provider unreachable", err)
}

// isNotFound reports whether a classified error wraps a provider 404,
// which on event lookups means the booking ID is not valid.
func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
