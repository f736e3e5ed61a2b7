package resilience

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestDoReturnsValueAfterRetry(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	got, err := Do(context.Background(), exec, "qdrant.search", func(context.Context) ([]string, error) {
		attempts++
		if attempts == 1 {
			return nil, &HTTPStatusError{Service: "qdrant", Operation: "search", StatusCode: 503, Status: "503 Service Unavailable"}
		}
		return []string{"passage"}, nil
	}, ClassifyTransportError)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(got) != 1 || got[0] != "passage" {
		t.Fatalf("unexpected result %v", got)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoWithoutExecutorCallsOnce(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), nil, "op", func(context.Context) (int, error) {
		calls++
		return 7, nil
	}, nil)
	if err != nil || got != 7 || calls != 1 {
		t.Fatalf("Do(nil) = %d, %v after %d calls", got, err, calls)
	}
}

func TestExecuteSkipsRetryPastDeadline(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     200 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(ctx, "op", func(context.Context) error {
		attempts++
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry past the deadline, got %d attempts", attempts)
	}
}

func TestClassifyTransportError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"deadline", context.DeadlineExceeded, ErrorClassification{}},
		{"retryable status", &HTTPStatusError{StatusCode: 502}, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"client status", &HTTPStatusError{StatusCode: 404}, ErrorClassification{}},
		{"bad conn", driver.ErrBadConn, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"open breaker", gobreaker.ErrOpenState, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"other", errors.New("syntax error"), ErrorClassification{RecordFailure: true}},
	}
	for _, tc := range cases {
		if got := ClassifyTransportError(tc.err); got != tc.want {
			t.Fatalf("%s: ClassifyTransportError() = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestSourceErrorKinds(t *testing.T) {
	if err := SourceError("query", context.DeadlineExceeded); !domain.IsKind(err, domain.ErrSourceTimeout) {
		t.Fatalf("expected timeout kind, got %v", err)
	}
	if err := SourceError("query", errors.New("refused")); !domain.IsKind(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected unavailable kind, got %v", err)
	}
	if err := JudgeError("score", errors.New("bad json")); !domain.IsKind(err, domain.ErrJudgeUnavailable) {
		t.Fatalf("expected judge kind, got %v", err)
	}
	if SourceError("query", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}
