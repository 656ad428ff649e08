package temporal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/flowcore/flowcore/internal/engine"
)

func TestNormalizeTemporalError(t *testing.T) {
	require.NoError(t, normalizeTemporalError(nil))

	canceled := temporal.NewCanceledError("branch cancelled")
	require.ErrorIs(t, normalizeTemporalError(canceled), context.Canceled)

	other := errors.New("activity failed")
	require.Same(t, other, normalizeTemporalError(other))
}

func TestConvertRetryPolicy_ZeroValueIsNil(t *testing.T) {
	require.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
}

func TestConvertRetryPolicy_CarriesFields(t *testing.T) {
	rp := convertRetryPolicy(engine.RetryPolicy{MaxAttempts: 5, BackoffCoefficient: 2})
	require.NotNil(t, rp)
	require.EqualValues(t, 5, rp.MaximumAttempts)
	require.Equal(t, 2.0, rp.BackoffCoefficient)
}
