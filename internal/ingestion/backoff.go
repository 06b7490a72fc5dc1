package ingestion

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/docrag-go/internal/rag"
)

// errCancelled ends a job whose cancellation was requested mid-flight.
var errCancelled = errors.New("ingestion: job cancelled")

// decision is what happens to a job after an attempt.
type decision int

const (
	decideSucceed decision = iota
	decideRetry
	decideFail
	decideCancel
)

// String implements fmt.Stringer.
func (d decision) String() string {
	switch d {
	case decideSucceed:
		return outcomeSucceeded
	case decideRetry:
		return outcomeRetried
	case decideFail:
		return outcomeFailed
	case decideCancel:
		return outcomeCancelled
	default:
		return "unknown"
	}
}

// classify maps the result of attempt number attempts to a decision.
// Recoverable errors are retried until maxAttempts; fatal and unknown errors
// fail the job.
func classify(err error, attempts, maxAttempts int) decision {
	switch {
	case err == nil:
		return decideSucceed
	case errors.Is(err, errCancelled):
		return decideCancel
	case rag.Recoverable(err) && attempts < maxAttempts:
		return decideRetry
	default:
		return decideFail
	}
}

// retryDelay returns the jittered exponential delay before attempt
// attempts+1, capped at maxDelay.
func retryDelay(attempts int, initial, maxDelay time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	d := initial
	for range max(attempts, 1) {
		d = b.NextBackOff()
	}
	return min(d, maxDelay)
}
