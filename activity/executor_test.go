package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialQueue_PreservesOrder(t *testing.T) {
	q := NewSerialQueue()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		q.Execute(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerialQueue_ExecuteAfterClose(t *testing.T) {
	q := NewSerialQueue()
	q.Close()

	ran := make(chan struct{})
	q.Execute(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task submitted after Close was dropped")
	}
}

func TestSerialQueue_DoesNotBlockSubmitter(t *testing.T) {
	q := NewSerialQueue()
	defer q.Close()

	release := make(chan struct{})
	q.Execute(func() { <-release })

	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Execute(func() {})
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Execute blocked behind a running task")
	}
	close(release)
}

func TestPool_Execute(t *testing.T) {
	p, err := NewPool(4, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		p.Execute(func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 50, count)
	assert.NoError(t, p.Close())
}

func TestPool_FallsBackAfterClose(t *testing.T) {
	p, err := NewPool(1, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	ran := make(chan struct{})
	p.Execute(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task dropped by closed pool")
	}
}

func TestRegistry_DeliversOnSerialQueue(t *testing.T) {
	q := NewSerialQueue()
	reg := NewRegistry(newFakeProvider(), WithExecutor(q))

	var mu sync.Mutex
	var order []string
	record := func(name string) func(EndReason) {
		return func(EndReason) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	reg.Start("k", StartOptions{OnEnd: record("first")})
	reg.Start("k", StartOptions{OnEnd: record("second")})
	reg.Start("k", StartOptions{OnEnd: record("third")})
	reg.Expire("k")
	q.Close()

	assert.Equal(t, []string{"first", "second", "third"}, order)
}
