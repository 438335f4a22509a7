package federation

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// RetryPolicy bounds how often a transient exchange failure is retried.
type RetryPolicy struct {
	// RetryCount excludes the first attempt.
	RetryCount     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy gives two attempts in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{RetryCount: 1, InitialBackoff: 120 * time.Millisecond, MaxBackoff: time.Second}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// retryTransient runs op until it succeeds, fails non-transiently or the
// attempts run out. Only ProviderTransientError is retried.
func retryTransient[T any](ctx context.Context, provider string, p RetryPolicy, op func() (T, error)) (T, error) {
	attempts := p.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	res, err := backoff.Retry(ctx,
		func() (T, error) {
			v, err := op()
			if err != nil && !serrors.IsKind(err, serrors.ProviderTransientError) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.ProviderExchangeRetries.WithLabelValues(provider).Inc()
			log.Warn().Err(err).Str("provider", provider).Dur("backoff", next).Msg("Retrying provider exchange")
		}),
	)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	metrics.ProviderExchangeFailures.WithLabelValues(provider, string(serrors.KindOf(err))).Inc()

	var authErr *serrors.AuthError
	if !errors.As(err, &authErr) {
		// Context cancellation while waiting between attempts.
		err = serrors.Wrap(serrors.ProviderTransientError, err)
	}
	return res, err
}

// classify maps a transport or token endpoint failure onto a provider kind.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return serrors.Wrap(serrors.ProviderTransientError, err)
		}
		return serrors.Wrap(serrors.ProviderRejected, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return serrors.Wrap(serrors.ProviderTransientError, err)
	}

	return serrors.Wrap(serrors.ProviderRejected, err)
}
