package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Execute(func() error { return nil }))
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}
	time.Sleep(60 * time.Millisecond)

	assert.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerLimitsHalfOpenProbes(t *testing.T) {
	b := New("test", testConfig(), zap.NewNop())
	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}
	time.Sleep(60 * time.Millisecond)

	block := make(chan struct{})
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			done <- b.Execute(func() error {
				<-block
				return nil
			})
		}()
	}
	// wait for both probes to be admitted
	time.Sleep(20 * time.Millisecond)
	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)

	close(block)
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}
}
