package consumerd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModeString(t *testing.T) {
	require.Equal(t, "all", ModeAll.String())
	require.Equal(t, "flight-only", ModeFlightOnly.String())
	require.Equal(t, "normal-only", ModeNormalOnly.String())
}

func TestErrorWrapsKindAndCause(t *testing.T) {
	cause := errors.New("open /trace: permission denied")
	err := NewError(ErrNoEntry, cause)

	require.Equal(t, "no-entry: open /trace: permission denied", err.Error())
	require.ErrorIs(t, err, cause)

	var cerr *Error
	require.ErrorAs(t, error(err), &cerr)
	require.Equal(t, ErrNoEntry, cerr.Kind)
}

func TestErrorWithoutCause(t *testing.T) {
	err := NewError(ErrNoChannel, nil)
	require.Equal(t, "no-channel", err.Error())
	require.Nil(t, err.Unwrap())
}

func TestWorkerNumRoundTripsThroughContext(t *testing.T) {
	ctx := WithWorkerNum(context.Background(), 3)
	n, ok := WorkerNumFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, 3, n)

	_, ok = WorkerNumFromContext(context.Background())
	require.False(t, ok)
}
