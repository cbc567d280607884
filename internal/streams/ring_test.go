package streams

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_FIFO(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 3; i++ {
		require.True(t, r.Push(i))
	}
	assert.Equal(t, 3, r.Len())

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		v, ok := r.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, r.Len())
}

func TestRing_OverflowDropsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, int64(2), r.Dropped())
	assert.Equal(t, []int{3, 4, 5}, r.Drain())
	assert.Nil(t, r.Drain())
}

func TestRing_NextBlocksUntilPush(t *testing.T) {
	r := NewRing[string](2)
	got := make(chan string, 1)
	go func() {
		v, ok := r.Next(context.Background())
		require.True(t, ok)
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	r.Push("hello")

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on Push")
	}
}

func TestRing_CloseWakesNext(t *testing.T) {
	r := NewRing[int](2)
	done := make(chan bool, 1)
	go func() {
		_, ok := r.Next(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on Close")
	}
}

func TestRing_CloseKeepsQueuedEntries(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)
	r.Close()

	assert.False(t, r.Push(3))

	v, ok := r.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = r.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = r.Next(context.Background())
	assert.False(t, ok)
	r.Close()
}

func TestRing_ContextCancelUnblocksNext(t *testing.T) {
	r := NewRing[int](2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := r.Next(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on context cancel")
	}
}

func TestRing_ForwardDrainsIntoChannel(t *testing.T) {
	r := NewRing[int](8)
	for i := 1; i <= 4; i++ {
		r.Push(i)
	}
	r.Close()

	dst := make(chan int, 8)
	done := make(chan struct{})
	go func() {
		r.Forward(context.Background(), dst)
		close(dst)
		close(done)
	}()

	var got []int
	for v := range dst {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, got)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after close")
	}
}

func TestRing_ClampsCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, int64(1), r.Dropped())
	assert.Equal(t, []int{2}, r.Drain())
}
