package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteReturnsResult(t *testing.T) {
	p := New(2)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := p.Execute(ctx, func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestExecutePropagatesError(t *testing.T) {
	p := New(1)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	wantErr := errors.New("boom")
	_, err := p.Execute(ctx, func() (interface{}, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestPoolRunsJobsConcurrently(t *testing.T) {
	p := New(4)
	defer p.Stop()

	var counter int64
	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		p.Submit(func() {
			atomic.AddInt64(&counter, 1)
			done <- struct{}{}
		})
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int64(8), atomic.LoadInt64(&counter))
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	p := New(1)
	defer p.Stop()

	block := make(chan struct{})
	p.Submit(func() {
		<-block
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, func() (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}

func TestStopDrainsAndExits(t *testing.T) {
	p := New(2)
	ran := make(chan struct{}, 1)
	p.Submit(func() {
		ran <- struct{}{}
	})
	<-ran
	p.Stop()
}
