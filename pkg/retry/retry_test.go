package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %f", cfg.Multiplier)
	}
}

func TestStartupConfig(t *testing.T) {
	cfg := StartupConfig()
	if cfg.MaxRetries <= DefaultConfig().MaxRetries {
		t.Errorf("startup should retry more than the default, got %d", cfg.MaxRetries)
	}
	if cfg.MaxSameErrorType != 0 {
		t.Errorf("startup should not escalate repeated errors, got %d", cfg.MaxSameErrorType)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	expectedErr := errors.New("persistent error")
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return expectedErr
	})

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	// MaxRetries=2 means: initial attempt + 2 retries = 3 total calls
	if callCount != 3 {
		t.Errorf("expected 3 calls (1 initial + 2 retries), got %d", callCount)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}

	callCount := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		callCount++
		return errors.New("error")
	})

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_BackoffDoublesUpToMax(t *testing.T) {
	cfg := fastConfig(4)
	var delays []time.Duration
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("error") })

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d waits, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("wait %d: expected %v, got %v", i, want[i], delays[i])
		}
		if attempts[i] != i+1 {
			t.Errorf("wait %d: expected attempt %d, got %d", i, i+1, attempts[i])
		}
	}
}

func TestApplyJitter(t *testing.T) {
	if got := applyJitter(time.Second, 0); got != time.Second {
		t.Errorf("no jitter expected, got %v", got)
	}
	for i := 0; i < 50; i++ {
		got := applyJitter(time.Second, 0.1)
		if got < 900*time.Millisecond || got > 1100*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}

func TestDo_NilConfig(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), nil, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error with nil config, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDoWithResult_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		callCount++
		if callCount < 2 {
			return "", errors.New("connection refused")
		}
		return "pool", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "pool" {
		t.Errorf("expected result 'pool', got %q", result)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
}

func TestDoWithResult_KeepsLastResultOnError(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), fastConfig(1), func() (int, error) {
		callCount++
		return callCount, errors.New("error")
	})

	if err == nil {
		t.Error("expected error")
	}
	if result != 2 {
		t.Errorf("expected last result 2, got %d", result)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"Connection Refused (uppercase)", errors.New("Connection Refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"no such host", errors.New("dial tcp: lookup db: no such host"), true},
		{"i/o timeout", errors.New("i/o timeout"), true},
		{"postgres starting", errors.New("FATAL: the database system is starting up (SQLSTATE 57P03)"), true},
		{"too many connections", errors.New("too many connections for role"), true},
		{"deadlock", errors.New("deadlock detected"), true},
		{"sql server login timeout", errors.New("Login timeout expired"), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"redis loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"auth error", errors.New("password authentication failed for user \"app\""), false},
		{"unknown database", errors.New("database \"cars\" does not exist"), false},
		{"syntax error", errors.New("syntax error at or near \"selec\""), false},
		{"rate limit is not a database concern", errors.New("429 too many requests"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

type declaredError struct{ retry bool }

func (e declaredError) Error() string     { return "declared" }
func (e declaredError) IsRetryable() bool { return e.retry }

func TestIsRetryable_DeclaredByError(t *testing.T) {
	if !IsRetryable(declaredError{retry: true}) {
		t.Error("expected declared retryable error to be retried")
	}
	if IsRetryable(declaredError{retry: false}) {
		t.Error("expected declared permanent error not to be retried")
	}
}

func TestDoIfRetryable_NonRetryableError(t *testing.T) {
	expectedErr := errors.New("password authentication failed")
	callCount := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		callCount++
		return expectedErr
	})

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call (no retries), got %d", callCount)
	}
}

func TestDoIfRetryable_RetryableError(t *testing.T) {
	callCount := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("connection timeout")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDoIfRetryable_EscalatesRepeatedErrors(t *testing.T) {
	cfg := fastConfig(10)
	cfg.MaxSameErrorType = 3

	callCount := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		callCount++
		return errors.New("connection refused")
	})

	if err == nil || !strings.Contains(err.Error(), "repeated error (3 times, type=connection)") {
		t.Errorf("expected escalation error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDoWithResultIfRetryable(t *testing.T) {
	callCount := 0
	result, err := DoWithResultIfRetryable(context.Background(), fastConfig(3), func() (bool, error) {
		callCount++
		if callCount == 1 {
			return false, errors.New("database is locked")
		}
		return true, nil
	})

	if err != nil || !result {
		t.Errorf("expected success, got %v, %v", result, err)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
}

func TestClassifyErrorType(t *testing.T) {
	tests := map[string]string{
		"connection refused":                 "connection",
		"i/o timeout":                        "timeout",
		"write: broken pipe":                 "broken_pipe",
		"database is locked":                 "locked",
		"the database system is starting up": "starting",
		"something else":                     "unknown",
	}
	for msg, want := range tests {
		if got := classifyErrorType(errors.New(msg)); got != want {
			t.Errorf("classifyErrorType(%q) = %q, want %q", msg, got, want)
		}
	}
	if got := classifyErrorType(nil); got != "nil" {
		t.Errorf("classifyErrorType(nil) = %q", got)
	}
}
