package vulkan

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// fenceSignal is a queue signal that lands once submission serial is done.
type fenceSignal struct {
	value  uint64
	serial uint64
}

// fence is a 64-bit counter. Queue signals ride on the submission fences of
// the device, so the value only advances when the work ahead of the signal
// has finished.
type fence struct {
	gpu *GPU

	mu      sync.Mutex
	value   uint64
	pending []fenceSignal
	changed chan struct{}
}

func (g *GPU) NewFence(initial uint64) (driver.Fence, error) {
	if err := g.Removed(); err != nil {
		return nil, err
	}
	return &fence{gpu: g, value: initial, changed: make(chan struct{})}, nil
}

func asFence(f driver.Fence) (*fence, error) {
	vf, ok := f.(*fence)
	if !ok || vf == nil {
		return nil, errors.Newf("vulkan: foreign fence %T", f)
	}
	return vf, nil
}

// update promotes the queue signals whose submissions completed.
func (f *fence) update() uint64 {
	f.gpu.poll()
	done := f.gpu.completed.Load()
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := f.pending[:0]
	advanced := false
	for _, p := range f.pending {
		if p.serial <= done {
			f.value = max(f.value, p.value)
			advanced = true
		} else {
			keep = append(keep, p)
		}
	}
	f.pending = keep
	if advanced {
		f.notifyLocked()
	}
	return f.value
}

func (f *fence) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// enqueue records a signal of value behind submission serial.
func (f *fence) enqueue(value, serial uint64) {
	f.mu.Lock()
	f.pending = append(f.pending, fenceSignal{value: value, serial: serial})
	f.notifyLocked()
	f.mu.Unlock()
}

// covered reports whether value is reached or promised by a queue signal.
// Everything submitted later executes after that signal.
func (f *fence) covered(value uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value >= value {
		return true
	}
	for _, p := range f.pending {
		if p.value >= value {
			return true
		}
	}
	return false
}

func (f *fence) CompletedValue() uint64 {
	return f.update()
}

func (f *fence) Signal(value uint64) error {
	if err := f.gpu.Removed(); err != nil {
		return err
	}
	f.mu.Lock()
	f.value = value
	f.notifyLocked()
	f.mu.Unlock()
	return nil
}

// serialFor returns the first queued submission that brings the fence to
// value, or zero.
func (f *fence) serialFor(value uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pending {
		if p.value >= value {
			return p.serial
		}
	}
	return 0
}

func (f *fence) Wait(value uint64, timeout time.Duration) error {
	var deadline time.Time
	var timer <-chan time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		if f.update() >= value {
			return nil
		}
		if err := f.gpu.Removed(); err != nil {
			return err
		}
		if timeout == 0 {
			return errors.Wrapf(driver.ErrTimeout, "vulkan: fence at %d, want %d", f.CompletedValue(), value)
		}

		if serial := f.serialFor(value); serial != 0 {
			ns := uint64(math.MaxUint64)
			if timeout > 0 {
				left := time.Until(deadline)
				if left <= 0 {
					return errors.Wrapf(driver.ErrTimeout, "vulkan: fence at %d, want %d after %s", f.CompletedValue(), value, timeout)
				}
				ns = uint64(left.Nanoseconds())
			}
			if err := f.gpu.waitSerial(serial, ns); err != nil {
				if errors.Is(err, driver.ErrTimeout) {
					return errors.Wrapf(driver.ErrTimeout, "vulkan: fence at %d, want %d after %s", f.CompletedValue(), value, timeout)
				}
				return err
			}
			continue
		}

		// Nothing queued reaches value yet. Wait for a new signal.
		f.mu.Lock()
		ch := f.changed
		f.mu.Unlock()
		if f.serialFor(value) != 0 {
			continue
		}
		select {
		case <-ch:
		case <-f.gpu.lostCh:
			return f.gpu.Removed()
		case <-timer:
			return errors.Wrapf(driver.ErrTimeout, "vulkan: fence at %d, want %d after %s", f.CompletedValue(), value, timeout)
		}
	}
}

func (f *fence) Destroy() {}
