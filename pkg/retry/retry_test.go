package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/facilityhub/maintenance-engine/pkg/apperrors"
)

// fastConfig keeps retry tests quick and deterministic.
func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	attempts := 0
	wantErr := errors.New("persistent")
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want initial try + 3 retries", attempts)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastConfig()
	cfg.InitialDelay = time.Second

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 before cancellation", attempts)
	}
}

func TestOnConflict_RetriesConflictsOnly(t *testing.T) {
	attempts := 0
	err := OnConflict(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("entity x: %w", apperrors.ErrConcurrencyConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("OnConflict failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestOnConflict_TerminalOnOtherErrors(t *testing.T) {
	attempts := 0
	err := OnConflict(context.Background(), fastConfig(), func() error {
		attempts++
		return fmt.Errorf("entity x: %w", apperrors.ErrNotFound)
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, non-conflict errors must not be retried", attempts)
	}
}

func TestOnConflict_ExhaustsRetries(t *testing.T) {
	attempts := 0
	err := OnConflict(context.Background(), fastConfig(), func() error {
		attempts++
		return fmt.Errorf("entity x: %w", apperrors.ErrConcurrencyConflict)
	})
	if !errors.Is(err, apperrors.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want ErrConcurrencyConflict", err)
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want initial try + 3 retries", attempts)
	}
}

func TestApplyJitter(t *testing.T) {
	base := 100 * time.Millisecond

	if got := applyJitter(base, 0); got != base {
		t.Errorf("zero jitter changed delay: %v", got)
	}
	for i := 0; i < 50; i++ {
		got := applyJitter(base, 0.1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside +/-10%% band", got)
		}
	}
}
