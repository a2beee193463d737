package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxserve/fluxruntime"
)

func TestRecorderFlushesOnClose(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	rec := NewRecorder(repo, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Record(ctx, sampleRecord("r", true, time.Now())))
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(closeCtx))
	assert.Zero(t, rec.Pending())

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestRecorderWritesInlineAfterClose(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	rec := NewRecorder(repo, nil)
	require.NoError(t, rec.Close(context.Background()))

	require.NoError(t, rec.Record(context.Background(), sampleRecord("late", false, time.Now())))
	g, err := repo.GetByRequestID(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, StatusError, g.Status)
}

func TestRecorderSatisfiesInterface(t *testing.T) {
	var _ fluxruntime.Recorder = NewRecorder(NewRepository(openTestDB(t)), nil)
}

func TestAsyncWriterOrderAndStop(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	w := NewAsyncWriter(func(_ context.Context, n int) error {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		if n == 2 {
			return errors.New("ignored")
		}
		return nil
	}, 10, nil)

	assert.False(t, w.Write(0), "Write before Start should be refused")
	w.Start()
	w.Start()
	assert.True(t, w.IsStarted())
	for i := 1; i <= 4; i++ {
		require.True(t, w.Write(i))
	}

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, []int{1, 2, 3, 4}, got)
	assert.False(t, w.Write(5))
	assert.False(t, w.IsStarted())
	assert.NoError(t, w.Stop(context.Background()))
}

func TestAsyncWriterFullQueue(t *testing.T) {
	block := make(chan struct{})
	w := NewAsyncWriter(func(context.Context, int) error {
		<-block
		return nil
	}, 1, nil)
	w.Start()

	require.True(t, w.Write(1))
	require.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, time.Millisecond)
	require.True(t, w.Write(2))
	assert.False(t, w.Write(3), "full queue should refuse")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(ctx), context.DeadlineExceeded)

	close(block)
	assert.NoError(t, w.Stop(context.Background()))
}

func TestAsyncWriterStopWithoutStart(t *testing.T) {
	w := NewAsyncWriter(func(context.Context, string) error { return nil }, 0, nil)
	assert.NoError(t, w.Stop(context.Background()))
}
