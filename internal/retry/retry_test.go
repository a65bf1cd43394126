package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/featurescope/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

var fastPolicy = Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fastPolicy, "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoReturnsOperationErrorForPermanentFailure(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fastPolicy, "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" || opErr.RequestID != "req-2" {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestDoReturnsExpectedErrorsQuietly(t *testing.T) {
	miss := errors.New("miss")
	core, logs := observer.New(zapcore.DebugLevel)

	attempts := 0
	err := Do(context.Background(), zap.New(core), fastPolicy.Expecting(miss), "cache.get", "req-3", func() error {
		attempts++
		return fmt.Errorf("lookup: %w", miss)
	})

	if !errors.Is(err, miss) {
		t.Fatalf("expected miss through the wrapper, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %v", logs.All())
	}
}

func TestDoLogsUnexpectedFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	_ = Do(context.Background(), zap.New(core), fastPolicy.Expecting(errors.New("other")), "cache.get", "", func() error {
		return errors.New("boom")
	})

	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("expected one error entry, got %v", logs.All())
	}
}

func TestPolicyExpectingDoesNotShareState(t *testing.T) {
	base := Policy{Attempts: 2, Expected: make([]error, 0, 4)}
	a := base.Expecting(errors.New("a"))
	b := base.Expecting(errors.New("b"))

	if len(base.Expected) != 0 || len(a.Expected) != 1 || len(b.Expected) != 1 {
		t.Fatalf("unexpected expected lists: base=%v a=%v b=%v", base.Expected, a.Expected, b.Expected)
	}
	if a.Expected[0] == b.Expected[0] {
		t.Fatal("derived policies share their expected list")
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fastPolicy, "test.operation", "", func() error {
		attempts++
		return transientTestError{}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != fastPolicy.Attempts {
		t.Fatalf("expected %d attempts, got %d", fastPolicy.Attempts, attempts)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, zap.NewNop(), Policy{Attempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, "test.operation", "", func() error {
		attempts++
		cancel()
		return transientTestError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoSingleAttemptPolicy(t *testing.T) {
	if err := Do(context.Background(), zap.NewNop(), Policy{Attempts: 1}, "op", "", func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	err := Do(context.Background(), zap.NewNop(), Policy{Attempts: 1}, "op", "", func() error { return transientTestError{} })
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":      {nil, false},
		"deadline": {fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		"timeout":  {transientTestError{}, true},
		"plain":    {errors.New("plain"), false},
	}
	for name, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransient = %v, want %v", name, got, tc.want)
		}
	}
}
