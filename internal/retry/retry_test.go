package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("provider timeout")

func TestPolicy_Do(t *testing.T) {
	errGone := errors.New("HTTP 404")

	tests := []struct {
		name      string
		policy    Policy
		failures  int   // calls that fail before success
		permanent error // returned wrapped on every call when set
		wantCalls int
		wantErr   error
	}{
		{"first attempt succeeds", Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, 0, nil, 1, nil},
		{"succeeds on third attempt", Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, 2, nil, 3, nil},
		{"attempts exhausted", Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, 10, nil, 3, errTransient},
		{"permanent stops at once", Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, 0, errGone, 1, errGone},
		{"zero value makes one attempt", Policy{}, 10, nil, 1, errTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := tt.policy.Do(context.Background(), func() error {
				calls++
				if tt.permanent != nil {
					return Permanent(fmt.Errorf("lookup: %w", tt.permanent))
				}
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, IsPermanent(err), "Do unwraps permanent errors")
			}
		})
	}
}

func TestPolicy_DoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	time.AfterFunc(30*time.Millisecond, cancel)
	err := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond}.Do(ctx, func() error {
		calls.Add(1)
		return errTransient
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestPolicy_MaxDelayCapsBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond}

	start := time.Now()
	_ = p.Do(context.Background(), func() error { return errTransient })

	// four waits of at most 12.5ms; uncapped the waits alone exceed 110ms
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDo_Shorthand(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	inner := errors.New("HTTP 401")
	wrapped := fmt.Errorf("zipcodestack: %w", Permanent(inner))
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, inner)
	assert.False(t, IsPermanent(errTransient))
}

func TestRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
		http.StatusNotFound:            false,
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
	} {
		assert.Equal(t, want, RetryableStatus(code), "status %d", code)
	}
}

func TestJitterStaysInBand(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(40 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jitter(0))
}
