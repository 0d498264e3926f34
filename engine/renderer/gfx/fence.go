package gfx

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// Infinite makes a wait block until the GPU gets there.
const Infinite = driver.Infinite

// WaitResult is the outcome of a CPU wait on the GPU.
type WaitResult int

const (
	WaitCompleted WaitResult = iota
	WaitTimedOut
	WaitDeviceLost
)

func (r WaitResult) String() string {
	switch r {
	case WaitCompleted:
		return "completed"
	case WaitTimedOut:
		return "timed out"
	case WaitDeviceLost:
		return "device lost"
	}
	return "unknown"
}

// Err maps the outcome onto the engine sentinels, nil when completed.
func (r WaitResult) Err() error {
	switch r {
	case WaitCompleted:
		return nil
	case WaitTimedOut:
		return core.ErrWaitTimeout
	case WaitDeviceLost:
		return core.ErrDeviceLost
	}
	return core.ErrUnknown
}

// Fence pairs a native fence with the last value the CPU asked for. The
// target value only grows.
type Fence struct {
	device *Device
	native driver.Fence
	value  uint64
}

func (f *Fence) Native() driver.Fence { return f.native }

// Value is the last value handed out by Increment.
func (f *Fence) Value() uint64 { return f.value }

func (f *Fence) CompletedValue() uint64 { return f.native.CompletedValue() }

// Increment advances the target value. Call it once per submission the CPU
// may wait on.
func (f *Fence) Increment() uint64 {
	f.value++
	return f.value
}

func (f *Fence) IsComplete(value uint64) bool {
	return f.native.CompletedValue() >= value
}

// Wait blocks until the GPU reached value or timeout elapsed. It returns
// immediately when the value is already complete.
func (f *Fence) Wait(value uint64, timeout time.Duration) WaitResult {
	if f.IsComplete(value) {
		return WaitCompleted
	}
	err := f.native.Wait(value, timeout)
	switch {
	case err == nil:
		return WaitCompleted
	case errors.Is(err, driver.ErrTimeout):
		core.LogWarn("timed out after %s waiting for fence value %d (completed %d)", timeout, value, f.CompletedValue())
		return WaitTimedOut
	case errors.Is(err, driver.ErrDeviceLost):
		core.LogError("device lost while waiting for fence value %d: %s", value, err)
		return WaitDeviceLost
	}
	core.LogError("fence wait for %d failed: %s", value, err)
	if f.device != nil && f.device.Removed() != nil {
		return WaitDeviceLost
	}
	return WaitTimedOut
}

// WaitForGPU waits for the current target value.
func (f *Fence) WaitForGPU(timeout time.Duration) WaitResult {
	return f.Wait(f.value, timeout)
}

func (f *Fence) Destroy() {
	if f.native != nil {
		f.native.Destroy()
		f.native = nil
	}
}
