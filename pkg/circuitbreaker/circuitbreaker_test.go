package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/apperrors"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3, CooldownPeriod: time.Hour})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := b.Call(func() (any, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}

	_, err := b.Call(func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, "open", b.State())
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, CooldownPeriod: 20 * time.Millisecond})

	_, err := b.Call(func() (any, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	require.Equal(t, "open", b.State())

	time.Sleep(30 * time.Millisecond)

	_, err = b.Call(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, CooldownPeriod: time.Hour})

	_, err := b.Call(func() (any, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	require.Equal(t, "open", b.State())

	b.Reset()
	assert.Equal(t, "closed", b.State())

	_, err = b.Call(func() (any, error) { return "ok", nil })
	assert.NoError(t, err)
}
