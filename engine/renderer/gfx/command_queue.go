package gfx

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/containers"
	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// maxInFlight bounds the submissions a queue tracks before it blocks on the
// oldest one.
const maxInFlight = 64

type submission struct {
	value    uint64
	retained []*Resource
}

// deferred is cleanup that has to wait for a fence value.
type deferred struct {
	value uint64
	fn    func()
}

// CommandQueue submits command lists to one native queue and signals its own
// fence after every submission. Resources used by a submission stay alive
// until the fence passes its value.
type CommandQueue struct {
	device   *Device
	kind     driver.QueueKind
	native   driver.Queue
	fence    *Fence
	inFlight *containers.RingQueue[submission]
	deferred []deferred
}

func (d *Device) CreateCommandQueue(kind driver.QueueKind) (*CommandQueue, error) {
	native, err := d.gpu.Queue(kind)
	if err != nil {
		return nil, d.fail(err, "failed to get %s queue", kind)
	}
	fence, err := d.NewFence()
	if err != nil {
		return nil, err
	}
	return &CommandQueue{
		device:   d,
		kind:     kind,
		native:   native,
		fence:    fence,
		inFlight: containers.NewRingQueue[submission](maxInFlight),
	}, nil
}

func (q *CommandQueue) Kind() driver.QueueKind { return q.kind }
func (q *CommandQueue) Native() driver.Queue   { return q.native }
func (q *CommandQueue) Fence() *Fence          { return q.fence }

// CreateCommandList creates a closed list that submits to this queue.
func (q *CommandQueue) CreateCommandList(name string) (*CommandList, error) {
	return newCommandList(q, name)
}

// Submit executes closed lists in order and signals the queue fence. The
// returned value completes once all of them finished.
func (q *CommandQueue) Submit(lists ...*CommandList) (uint64, error) {
	if err := q.device.Removed(); err != nil {
		return 0, err
	}
	natives := make([]driver.CommandList, len(lists))
	for i, cl := range lists {
		if cl.queue != q {
			return 0, errors.Wrapf(core.ErrInvalidArgument, "%s belongs to the %s queue, not %s", cl.name, cl.queue.kind, q.kind)
		}
		if cl.state != CommandListClosed {
			return 0, errors.Wrapf(core.ErrInvalidState, "submit of %s list %s", cl.state, cl.name)
		}
		natives[i] = cl.native
	}
	if err := q.native.ExecuteCommandLists(natives...); err != nil {
		return 0, q.device.fail(err, "failed to execute %d command lists on the %s queue", len(lists), q.kind)
	}
	for _, cl := range lists {
		cl.commitStates()
	}
	value, err := q.Signal()
	if err != nil {
		return 0, err
	}

	var retained []*Resource
	for _, cl := range lists {
		retained = append(retained, cl.takeRetained()...)
		cl.state = CommandListSubmitted
		cl.fenceValue = value
	}
	if err := q.track(submission{value: value, retained: retained}); err != nil {
		return value, err
	}
	return value, nil
}

func (q *CommandQueue) track(s submission) error {
	if q.inFlight.IsFull() {
		q.RetireCompleted()
	}
	if q.inFlight.IsFull() {
		oldest, _ := q.inFlight.Peek()
		if err := q.WaitForValue(oldest.value, q.device.waitTimeout()).Err(); err != nil {
			// keep the references rather than free memory the GPU may use
			core.LogError("%s queue: %d submissions in flight: %s", q.kind, q.inFlight.Len(), err)
			return err
		}
		q.RetireCompleted()
	}
	return q.inFlight.Enqueue(s)
}

// Signal increments the fence and asks the queue to signal it once the work
// submitted so far is done.
func (q *CommandQueue) Signal() (uint64, error) {
	value := q.fence.Increment()
	if err := q.native.Signal(q.fence.native, value); err != nil {
		return 0, q.device.fail(err, "failed to signal %s queue fence to %d", q.kind, value)
	}
	return value, nil
}

// WaitForQueue makes work submitted to q after this call wait for everything
// other has been signaled for so far.
func (q *CommandQueue) WaitForQueue(other *CommandQueue) error {
	if err := q.native.Wait(other.fence.native, other.fence.Value()); err != nil {
		return q.device.fail(err, "%s queue failed to wait for %s queue", q.kind, other.kind)
	}
	return nil
}

func (q *CommandQueue) CompletedValue() uint64 { return q.fence.CompletedValue() }

// LastSignaled is the most recent value handed to the fence.
func (q *CommandQueue) LastSignaled() uint64 { return q.fence.Value() }

func (q *CommandQueue) IsComplete(value uint64) bool { return q.fence.IsComplete(value) }

func (q *CommandQueue) WaitForValue(value uint64, timeout time.Duration) WaitResult {
	return q.fence.Wait(value, timeout)
}

// Wait blocks until value completes, bounded by the device wait timeout.
func (q *CommandQueue) Wait(value uint64) WaitResult {
	return q.WaitForValue(value, q.device.waitTimeout())
}

// Flush signals the queue and waits for it to drain, bounded by the device
// wait timeout.
func (q *CommandQueue) Flush() error {
	return q.FlushTimeout(q.device.waitTimeout())
}

func (q *CommandQueue) FlushTimeout(timeout time.Duration) error {
	value, err := q.Signal()
	if err != nil {
		return err
	}
	if err := q.WaitForValue(value, timeout).Err(); err != nil {
		return errors.Wrapf(err, "flush of the %s queue at %d", q.kind, value)
	}
	q.RetireCompleted()
	return nil
}

// RetireCompleted releases the resources of every finished submission and
// returns how many retired.
func (q *CommandQueue) RetireCompleted() int {
	completed := q.fence.CompletedValue()
	n := 0
	for !q.inFlight.IsEmpty() {
		s, _ := q.inFlight.Peek()
		if s.value > completed {
			break
		}
		_, _ = q.inFlight.Dequeue()
		for _, r := range s.retained {
			r.Release()
		}
		n++
	}
	kept := q.deferred[:0]
	for _, d := range q.deferred {
		if d.value > completed {
			kept = append(kept, d)
			continue
		}
		d.fn()
	}
	clear(q.deferred[len(kept):])
	q.deferred = kept
	return n
}

// retireLater runs fn from RetireCompleted once value completed.
func (q *CommandQueue) retireLater(value uint64, fn func()) {
	q.deferred = append(q.deferred, deferred{value: value, fn: fn})
}

// InFlight is the number of submissions not yet retired.
func (q *CommandQueue) InFlight() int { return q.inFlight.Len() }

// Destroy drains the queue and releases its fence.
func (q *CommandQueue) Destroy() {
	if q.fence == nil {
		return
	}
	if err := q.Flush(); err != nil {
		core.LogWarn("%s queue destroyed with work in flight, leaking %d deferred objects: %s", q.kind, len(q.deferred), err)
		q.deferred = nil
	}
	q.fence.Destroy()
	q.fence = nil
}
