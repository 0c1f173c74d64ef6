package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/service"
)

type countingRunner struct {
	calls int32
	err   error
}

func (r *countingRunner) Run(context.Context) (*service.BatchResult, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}
	return &service.BatchResult{Selected: 1, Processed: 1, Sent: 1}, nil
}

func TestRunOnce(t *testing.T) {
	log := zap.NewNop()

	assert.NoError(t, runOnce(context.Background(), &countingRunner{}, log))
	assert.NoError(t, runOnce(context.Background(), &countingRunner{err: appErrors.ErrBatchInProgress}, log))
	assert.Error(t, runOnce(context.Background(), &countingRunner{err: errors.New("db down")}, log))
}

func TestRunEvery_StopsOnCancel(t *testing.T) {
	r := &countingRunner{err: errors.New("db down")}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runEvery(ctx, r, 5*time.Millisecond, zap.NewNop()) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.calls) >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "schedule"}, names)

	schedule, _, err := root.Find([]string{"schedule"})
	require.NoError(t, err)
	assert.NotNil(t, schedule.Flags().Lookup("interval"))
}
