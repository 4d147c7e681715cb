package recordsessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRequestComplete(t *testing.T) {
	h := NewHandshake()

	go func() {
		signal := <-h.Requests()
		if signal == SignalCleanupRequested {
			h.Complete(CleanupReport{Finalized: 2})
		}
	}()

	report, err := h.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Finalized)

	_, err = h.Request(context.Background())
	require.ErrorIs(t, err, ErrCleanupAlreadyRequested)
}

func TestHandshakeTimesOutWithoutListener(t *testing.T) {
	h := NewHandshake()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := h.Request(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandshakeCompleteOnce(t *testing.T) {
	h := NewHandshake()

	h.Complete(CleanupReport{Finalized: 1})
	h.Complete(CleanupReport{Finalized: 5})

	report, err := h.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Finalized)
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "cleanup_requested", SignalCleanupRequested.String())
	assert.Equal(t, "cleanup_complete", SignalCleanupComplete.String())
}
