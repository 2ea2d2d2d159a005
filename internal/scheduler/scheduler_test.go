package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompileEagerPublishesEveryFunction(t *testing.T) {
	var calls int32
	compile := func(i int) (int64, error) {
		atomic.AddInt32(&calls, 1)
		return int64(1000 + i), nil
	}
	st, err := CompileEager(4, compile)
	require.NoError(t, err)
	require.EqualValues(t, 4, calls)
	for i := 0; i < 4; i++ {
		require.Equal(t, StatusDone, st.Load(i))
		require.Equal(t, int64(1000+i), st.CodeAddr(i))
	}
}

func TestCompileEagerShortCircuitsOnError(t *testing.T) {
	boom := errors.New("boom")
	compile := func(i int) (int64, error) {
		if i == 2 {
			return 0, boom
		}
		return int64(i), nil
	}
	st, err := CompileEager(5, compile)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StatusFailed, st.Load(2))
	require.Equal(t, StatusFailed, st.Load(3))
	require.Equal(t, StatusFailed, st.Load(4))
}

func TestResolveStubHitCompilesOnceUnderConcurrency(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	compile := func(i int) (int64, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-block
		}
		return 42, nil
	}
	d := NewDriver(1, compile, 0x1000, 2)
	defer d.Shutdown()

	done := make(chan int64, 3)
	for i := 0; i < 3; i++ {
		go func() {
			addr, err := d.ResolveStubHit(0)
			require.NoError(t, err)
			done <- addr
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(block)

	for i := 0; i < 3; i++ {
		require.Equal(t, int64(42), <-done)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "only one goroutine should have actually compiled function 0")
}

func TestPoolRespectsBoundedCapacity(t *testing.T) {
	release := make(chan struct{})
	var started int32
	p := NewPool(1, 1)
	defer p.Shutdown()

	// First task is picked up by the sole worker immediately and blocks
	// it on release; second fills the capacity-1 queue; a third must
	// block in Submit until the worker drains the queue.
	p.Submit(Task{Run: func() {
		atomic.AddInt32(&started, 1)
		<-release
	}})
	p.Submit(Task{Run: func() { atomic.AddInt32(&started, 1) }})

	submitted := make(chan struct{})
	go func() {
		p.Submit(Task{Run: func() { atomic.AddInt32(&started, 1) }})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("third submit should have blocked while the queue (capacity 1) is already full and the worker is busy")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-submitted
}

func TestPoolWaitForTasksDrainsQueue(t *testing.T) {
	var done int32
	p := NewPool(2, 4)
	defer p.Shutdown()
	for i := 0; i < 8; i++ {
		p.Submit(Task{Run: func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&done, 1)
		}})
	}
	p.WaitForTasks()
	require.EqualValues(t, 8, atomic.LoadInt32(&done))
}

func TestPoolTailTaskRunsOncePerWorker(t *testing.T) {
	var tails int32
	p := NewPool(3, 4)
	p.SetTailTask(func() { atomic.AddInt32(&tails, 1) })
	for i := 0; i < 5; i++ {
		p.Submit(Task{Run: func() {}})
	}
	p.Shutdown()
	require.EqualValues(t, 3, atomic.LoadInt32(&tails), "each worker runs the tail task exactly once after the queue drains")
}
