package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("catalog: connection closed")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoNonTransientFailsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("no such table: query_records")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("database is locked")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("store not initialized")
		}
		return "answer", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	assert.Equal(t, 2, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error {
		return errors.New("connection closed")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	whitelisted := errors.New("whitelisted")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection closed", errors.New("This Connection is closed"), true},
		{"not initialized", errors.New("catalog not initialized"), true},
		{"assertion", errors.New("assertion failed: current conn is nil"), true},
		{"wrapped transient", fmt.Errorf("insert: %w", errors.New("transaction aborted")), true},
		{"plain failure", errors.New("syntax error"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err, nil))
		})
	}

	assert.True(t, IsTransient(fmt.Errorf("op: %w", whitelisted), []error{whitelisted}))
}
