package loupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupe-ci/loupe/runner"
)

func TestAppStartTestModePassing(t *testing.T) {
	h := newHarness(t, passStats())

	shutdown := make(chan error, 1)
	app := NewApp(h.loupe, ModeTest, PathSource("tests"), nil, func(err error) { shutdown <- err })

	require.NoError(t, app.Start(context.Background()))

	select {
	case err := <-shutdown:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestAppStartTestModeFailing(t *testing.T) {
	h := newHarness(t, &runner.Stats{
		RunID: "fake-run", Status: runner.StatusFail, Total: 2, Passed: 1, Failed: 1,
	})

	app := NewApp(h.loupe, ModeTest, PathSource("tests"), nil, func(error) {})

	err := app.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestAppStartListMode(t *testing.T) {
	h := newHarness(t, nil)

	shutdown := make(chan error, 1)
	app := NewApp(h.loupe, ModeList, PathSource("tests"), nil, func(err error) { shutdown <- err })

	require.NoError(t, app.Start(context.Background()))
	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestAppStartWrapsRunnerFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.runErr = assert.AnError

	app := NewApp(h.loupe, ModeUpdate, PathSource("tests"), nil, func(error) {})

	err := app.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestAppStopCancelsActiveRun(t *testing.T) {
	h := newHarness(t, passStats())
	h.runner.release = make(chan struct{})

	app := NewApp(h.loupe, ModeTest, PathSource("tests"), nil, func(error) {})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Start(context.Background())
	}()

	<-h.runner.started
	assert.False(t, app.Stopped())
	require.NoError(t, app.Stop(context.Background()))
	assert.True(t, app.Stopped())
	assert.Equal(t, 1, h.runner.cancelCount())

	close(h.runner.release)
	<-done

	// A second Stop is a no-op.
	require.NoError(t, app.Stop(context.Background()))
	assert.Equal(t, 1, h.runner.cancelCount())
}
