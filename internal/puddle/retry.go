package puddle

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. It holds no state and is safe to share.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; 1 disables retries.
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	RetryStatuses []int
	// Jitter in [0,1) spreads each delay uniformly over
	// [d*(1-Jitter), d*(1+Jitter)], leaving the mean at d.
	Jitter float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BackoffBase:   500 * time.Millisecond,
		BackoffFactor: 2,
		RetryStatuses: []int{500, 502, 503, 504},
	}
}

func (p RetryPolicy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be >= 1"))
	}
	if p.BackoffBase <= 0 {
		errs = append(errs, errors.New("backoff base must be > 0"))
	}
	if p.BackoffFactor < 1 {
		errs = append(errs, errors.New("backoff factor must be >= 1"))
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		errs = append(errs, errors.New("jitter must be in [0,1)"))
	}
	for _, s := range p.RetryStatuses {
		if s < 100 || s > 599 {
			errs = append(errs, fmt.Errorf("invalid retry status %d", s))
		}
	}
	return errors.Join(errs...)
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeStatus
	OutcomeTransport
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeStatus:
		return "status"
	case OutcomeTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Outcome is the result of one attempt.
type Outcome struct {
	Kind   OutcomeKind
	Status int
	Err    error
}

func Success(status int) Outcome { return Outcome{Kind: OutcomeSuccess, Status: status} }

func StatusFailure(status int) Outcome { return Outcome{Kind: OutcomeStatus, Status: status} }

func TransportFailure(err error) Outcome { return Outcome{Kind: OutcomeTransport, Err: err} }

type Decision struct {
	Retry bool
	Delay time.Duration
}

func (p RetryPolicy) Retryable(status int) bool {
	return slices.Contains(p.RetryStatuses, status)
}

// Decide is called after attempt (1-based) produced o.
func (p RetryPolicy) Decide(attempt int, o Outcome) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{}
	}
	switch o.Kind {
	case OutcomeTransport:
		return Decision{Retry: true, Delay: p.Delay(attempt)}
	case OutcomeStatus:
		if o.Status >= 200 && o.Status < 300 {
			return Decision{}
		}
		if p.Retryable(o.Status) {
			return Decision{Retry: true, Delay: p.Delay(attempt)}
		}
	}
	return Decision{}
}

// Delay returns the wait after attempt: BackoffBase * BackoffFactor^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BackoffBase) * math.Pow(factor, float64(attempt-1))
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
