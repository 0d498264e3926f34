package software

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type fence struct {
	gpu     *GPU
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

func (g *GPU) NewFence(initial uint64) (driver.Fence, error) {
	if err := g.Removed(); err != nil {
		return nil, err
	}
	return &fence{gpu: g, value: initial, changed: make(chan struct{})}, nil
}

func asFence(f driver.Fence) (*fence, error) {
	sf, ok := f.(*fence)
	if !ok || sf == nil {
		return nil, errors.Newf("software: foreign fence %T", f)
	}
	return sf, nil
}

func (f *fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fence) set(value uint64) {
	f.mu.Lock()
	if value < f.value {
		f.gpu.validate("fence value decreased from %d to %d", f.value, value)
	}
	f.value = value
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

func (f *fence) Signal(value uint64) error {
	if err := f.gpu.Removed(); err != nil {
		return err
	}
	f.set(value)
	return nil
}

func (f *fence) Wait(value uint64, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		f.mu.Lock()
		done := f.value >= value
		ch := f.changed
		f.mu.Unlock()
		if done {
			return nil
		}
		if err := f.gpu.Removed(); err != nil {
			return err
		}
		if timeout == 0 {
			return errors.Wrapf(driver.ErrTimeout, "software: fence at %d, want %d", f.CompletedValue(), value)
		}
		select {
		case <-ch:
		case <-f.gpu.lostCh:
			return f.gpu.Removed()
		case <-deadline:
			return errors.Wrapf(driver.ErrTimeout, "software: fence at %d, want %d after %s", f.CompletedValue(), value, timeout)
		}
	}
}

func (f *fence) Destroy() {}

// job is a unit of queue work. Inline jobs run under the queue lock, so a
// fence they signal is never observed while the queue still reports itself
// busy with them.
type job struct {
	run    func()
	inline bool
}

// queue runs submitted jobs in order on its own goroutine.
type queue struct {
	gpu  *GPU
	kind driver.QueueKind

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []job
	running bool
	stopped bool
}

func newQueue(g *GPU, kind driver.QueueKind) *queue {
	q := &queue{gpu: g, kind: kind}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *queue) Kind() driver.QueueKind { return q.kind }

func (q *queue) loop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for len(q.jobs) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.jobs = nil
			q.cond.Broadcast()
			return
		}
		j := q.jobs[0]
		q.jobs[0] = job{}
		q.jobs = q.jobs[1:]
		if j.inline {
			j.run()
			q.cond.Broadcast()
			continue
		}
		q.running = true
		q.mu.Unlock()

		j.run()

		q.mu.Lock()
		q.running = false
		q.cond.Broadcast()
	}
}

func (q *queue) push(run func()) error {
	return q.enqueue(job{run: run})
}

func (q *queue) enqueue(j job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return errors.New("software: queue is closed")
	}
	q.jobs = append(q.jobs, j)
	q.cond.Broadcast()
	return nil
}

// busy reports whether jobs are queued or running.
func (q *queue) busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || len(q.jobs) > 0
}

func (q *queue) idle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (q.running || len(q.jobs) > 0) && !q.stopped {
		q.cond.Wait()
	}
}

func (q *queue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// sleep waits out the simulated execution latency. It returns false if the
// device was lost meanwhile.
func (q *queue) sleep() bool {
	d := q.gpu.opts.ExecutionDelay
	if d <= 0 {
		return q.gpu.Removed() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return q.gpu.Removed() == nil
	case <-q.gpu.lostCh:
		return false
	}
}

func (q *queue) ExecuteCommandLists(lists ...driver.CommandList) error {
	if err := q.gpu.Removed(); err != nil {
		return err
	}
	cls := make([]*commandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok || cl == nil {
			return errors.Newf("software: foreign command list %T", l)
		}
		if cl.recording {
			return errors.New("software: command list submitted while recording")
		}
		if cl.err != nil {
			return errors.Wrap(cl.err, "software: command list closed with errors")
		}
		if cl.kind != q.kind {
			return errors.Newf("software: %s command list submitted to the %s queue", cl.kind, q.kind)
		}
		cls = append(cls, cl)
	}
	for _, cl := range cls {
		cl.alloc.pending.Add(1)
		cmds := cl.cmds
		alloc := cl.alloc
		err := q.push(func() {
			defer alloc.pending.Add(-1)
			if !q.sleep() {
				return
			}
			q.gpu.exec.Lock()
			for _, cmd := range cmds {
				cmd()
			}
			q.gpu.exec.Unlock()
			q.gpu.count(func(s *Stats) { s.ExecutedLists++ })
		})
		if err != nil {
			alloc.pending.Add(-1)
			return err
		}
	}
	return nil
}

func (q *queue) Signal(f driver.Fence, value uint64) error {
	sf, err := asFence(f)
	if err != nil {
		return err
	}
	if err := q.gpu.Removed(); err != nil {
		return err
	}
	return q.enqueue(job{inline: true, run: func() {
		if q.gpu.Removed() != nil {
			return
		}
		sf.set(value)
	}})
}

func (q *queue) Wait(f driver.Fence, value uint64) error {
	sf, err := asFence(f)
	if err != nil {
		return err
	}
	if err := q.gpu.Removed(); err != nil {
		return err
	}
	return q.push(func() {
		_ = sf.Wait(value, driver.Infinite)
	})
}
