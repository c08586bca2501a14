package events

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcekit/testutil"
)

type sourceFunc func(ctx context.Context, obs Observer) error

func (f sourceFunc) Run(ctx context.Context, obs Observer) error { return f(ctx, obs) }

func TestDispatch(t *testing.T) {
	obs := testutil.NewRecordingObserver()
	ctx := context.Background()

	assert.True(t, Dispatch(ctx, obs, KindMemoryWarning))
	assert.True(t, Dispatch(ctx, obs, KindBackground))
	assert.False(t, Dispatch(ctx, obs, "reboot"))

	assert.Equal(t, int64(1), obs.WarningCount())
	assert.Equal(t, int64(1), obs.BackgroundCount())
}

func TestRunAll_FailureCancelsOthers(t *testing.T) {
	boom := stderrors.New("watch failed")
	stopped := make(chan struct{})

	blocking := sourceFunc(func(ctx context.Context, _ Observer) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})
	failing := sourceFunc(func(context.Context, Observer) error { return boom })

	err := RunAll(context.Background(), testutil.NewRecordingObserver(), blocking, failing)

	assert.Same(t, boom, err)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("blocking source was not cancelled")
	}
}

func TestRunAll_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunAll(ctx, testutil.NewRecordingObserver(), sourceFunc(func(ctx context.Context, _ Observer) error {
			<-ctx.Done()
			return nil
		}))
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunAll did not return after cancel")
	}
}
