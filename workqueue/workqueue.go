// Package workqueue runs tasks on a fixed number of goroutines. The warctools
// command uses it to work through several containers at once, one stream per
// task.
package workqueue

import (
	"fmt"
	"sync"

	"github.com/stripe/warctools/log"
)

type task struct {
	name string
	work func() error
}

// A TaskError is the failure of a single task.
type TaskError struct {
	Name string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type WorkQueue struct {
	queue   []*task
	cond    *sync.Cond
	running int
	closed  bool
	errs    []error
	workers sync.WaitGroup
}

func NewWorkQueue(num int) *WorkQueue {
	if num < 1 {
		num = 1
	}

	w := &WorkQueue{
		queue: make([]*task, 0),
		cond:  sync.NewCond(&sync.Mutex{}),
	}

	w.workers.Add(num)
	for i := 0; i < num; i++ {
		go w.work()
	}

	return w
}

// Length returns the number of tasks that haven't started yet.
func (w *WorkQueue) Length() int {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()
	return len(w.queue)
}

// Schedule queues a task. Scheduling on a closed queue panics.
func (w *WorkQueue) Schedule(name string, work func() error) {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()

	if w.closed {
		panic("workqueue: Schedule on a closed queue")
	}

	w.queue = append(w.queue, &task{name, work})
	w.cond.Broadcast()
}

// Wait blocks until every scheduled task has finished, and returns the
// failed ones as *TaskErrors, in the order they failed.
func (w *WorkQueue) Wait() []error {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()

	for len(w.queue) > 0 || w.running > 0 {
		w.cond.Wait()
	}

	errs := w.errs
	w.errs = nil
	return errs
}

// Close stops the workers once the queue is empty.
func (w *WorkQueue) Close() {
	w.cond.L.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.cond.L.Unlock()

	w.workers.Wait()
}

func (w *WorkQueue) work() {
	defer w.workers.Done()

	w.cond.L.Lock()
	defer w.cond.L.Unlock()
	for {
		if len(w.queue) > 0 {
			w.doWork()
		} else if w.closed {
			return
		} else {
			w.cond.Wait()
		}
	}
}

// Must be called with `w.cond.L` locked.
func (w *WorkQueue) doWork() {
	task := w.queue[0]
	w.queue = w.queue[1:]
	w.running++

	w.cond.L.Unlock()
	err := run(task)
	w.cond.L.Lock()

	if err != nil {
		w.errs = append(w.errs, &TaskError{Name: task.name, Err: err})
	}

	w.running--
	w.cond.Broadcast()
}

func run(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.LogWithKVs("recovered from a panic in a work task", log.KeyValue{
				"task":  t.name,
				"panic": r,
			})

			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return t.work()
}
