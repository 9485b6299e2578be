package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New[int](4)
	for i := 0; i < 4; i++ {
		dropped := q.Enqueue(i)
		assert.False(t, dropped)
	}

	for i := 0; i < 4; i++ {
		v, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestEnqueueDropsOnFullWithoutBlocking(t *testing.T) {
	q := New[int](2)
	assert.False(t, q.Enqueue(1))
	assert.False(t, q.Enqueue(2))

	done := make(chan struct{})
	go func() {
		dropped := q.Enqueue(3) // must not block
		assert.True(t, dropped)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	assert.Equal(t, 1, q.Dropped)

	v, _ := q.Dequeue()
	assert.Equal(t, 1, v) // oldest item, not dropped
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New[string](4)
	result := make(chan string, 1)

	go func() {
		v, err := q.Dequeue()
		require.NoError(t, err)
		result <- v
	}()

	select {
	case <-result:
		t.Fatal("Dequeue returned before any item was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue("hello")
	select {
	case v := <-result:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Dequeue never woke up after Enqueue")
	}
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q := New[int](4)
	errCh := make(chan error, 1)

	go func() {
		_, err := q.Dequeue()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Dequeue")
	}

	_, err := q.Dequeue()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentProducerConsumerPreservesTotals(t *testing.T) {
	q := New[int](64)
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for q.Enqueue(i) {
				// retry on drop; capacity is large enough this shouldn't spin long
			}
		}
	}()

	got := make([]int, 0, n)
	for len(got) < n {
		v, err := q.Dequeue()
		require.NoError(t, err)
		got = append(got, v)
	}
	wg.Wait()

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
