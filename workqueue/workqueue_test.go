package workqueue

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueue(t *testing.T) {
	w := NewWorkQueue(8)
	defer w.Close()

	c := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(8)
	for i := 0; i < 20; i++ {
		w.Schedule(strconv.Itoa(i), func() error {
			wg.Done()
			<-c
			return nil
		})
	}

	// Wait for first 8 workers to run (and block on `c`).
	wg.Wait()
	assert.Equal(t, 12, w.Length(), "should have 12 tasks blocked")

	wg.Add(12)
	close(c)
	assert.Empty(t, w.Wait())
	assert.Equal(t, 0, w.Length(), "all tasks should have run")
}

func TestWorkQueueErrors(t *testing.T) {
	w := NewWorkQueue(2)
	defer w.Close()

	boom := errors.New("boom")
	w.Schedule("ok", func() error { return nil })
	w.Schedule("bad", func() error { return boom })

	errs := w.Wait()
	require.Len(t, errs, 1)

	var taskErr *TaskError
	require.True(t, errors.As(errs[0], &taskErr))
	assert.Equal(t, "bad", taskErr.Name)
	assert.True(t, errors.Is(errs[0], boom))
	assert.Equal(t, "bad: boom", errs[0].Error())

	assert.Empty(t, w.Wait(), "errors should only be returned once")
}

func TestWorkQueueRecover(t *testing.T) {
	w := NewWorkQueue(8)
	defer w.Close()

	for i := 0; i < 8; i++ {
		w.Schedule("womp", func() error {
			panic("womp")
		})
	}

	assert.Len(t, w.Wait(), 8, "panics should be reported as errors")

	// If the recover logic was broken, all of the work queue's goroutines
	// would be dead, and this would never finish.
	ran := false
	w.Schedule("after", func() error {
		ran = true
		return nil
	})

	assert.Empty(t, w.Wait())
	assert.True(t, ran)
}

func TestWorkQueueClose(t *testing.T) {
	w := NewWorkQueue(1)

	n := 0
	for i := 0; i < 5; i++ {
		w.Schedule("count", func() error {
			n++
			return nil
		})
	}

	w.Close()
	assert.Equal(t, 5, n, "closing should finish queued work first")
	assert.Panics(t, func() { w.Schedule("late", func() error { return nil }) })
}
