package gfx

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// DeviceConfig sizes the device wide allocators.
type DeviceConfig struct {
	Heaps HeapCapacities
	// UploadBufferSize is the capacity of the upload buffer attached to
	// each command list.
	UploadBufferSize uint64
	// WaitTimeout bounds every CPU wait on the GPU. Zero or negative waits
	// forever.
	WaitTimeout time.Duration
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Heaps:            DefaultHeapCapacities(),
		UploadBufferSize: 8 << 20,
		WaitTimeout:      5 * time.Second,
	}
}

// Device creates resources, views and pipelines, and owns the descriptor
// manager every view is allocated from.
type Device struct {
	gpu         driver.GPU
	limits      driver.Limits
	config      DeviceConfig
	descriptors *DescriptorManager
}

func NewDevice(gpu driver.GPU, config DeviceConfig) (*Device, error) {
	if config.UploadBufferSize == 0 {
		return nil, errors.Wrap(core.ErrInvalidArgument, "upload buffer size must not be zero")
	}
	descriptors, err := NewDescriptorManager(gpu, config.Heaps)
	if err != nil {
		return nil, err
	}
	d := &Device{
		gpu:         gpu,
		limits:      gpu.Limits(),
		config:      config,
		descriptors: descriptors,
	}
	core.LogInfo("device created on %s (%s driver)", gpu.Name(), gpu.Driver().Name())
	return d, nil
}

func (d *Device) GPU() driver.GPU                 { return d.gpu }
func (d *Device) Limits() driver.Limits           { return d.limits }
func (d *Device) Config() DeviceConfig            { return d.config }
func (d *Device) Descriptors() *DescriptorManager { return d.descriptors }

// Removed returns an error matching core.ErrDeviceLost once the device is
// gone.
func (d *Device) Removed() error {
	return translate(d.gpu.Removed())
}

// waitTimeout converts the configured timeout into a driver timeout.
func (d *Device) waitTimeout() time.Duration {
	if d.config.WaitTimeout <= 0 {
		return Infinite
	}
	return d.config.WaitTimeout
}

func (d *Device) CreateSampler(desc driver.SamplerDesc) (*Sampler, error) {
	slot, err := d.descriptors.AllocateSampler()
	if err != nil {
		return nil, err
	}
	if err := d.gpu.CreateSampler(desc, slot.CPU); err != nil {
		return nil, d.fail(err, "failed to create sampler")
	}
	return &Sampler{descriptor: slot, desc: desc}, nil
}

// NewFence creates a fence starting at zero.
func (d *Device) NewFence() (*Fence, error) {
	native, err := d.gpu.NewFence(0)
	if err != nil {
		return nil, d.fail(err, "failed to create fence")
	}
	return &Fence{device: d, native: native}, nil
}

// Destroy releases the descriptor heaps. Resources must be released first.
func (d *Device) Destroy() {
	if d.descriptors != nil {
		d.descriptors.Destroy()
		d.descriptors = nil
	}
}

// fail wraps a driver error with context, maps it onto the engine sentinels
// and logs it.
func (d *Device) fail(err error, format string, args ...any) error {
	err = errors.Wrap(translate(err), fmt.Sprintf(format, args...))
	core.LogError(err.Error())
	return err
}

// translate marks driver errors with the matching engine sentinel so callers
// only need to test for core errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driver.ErrDeviceLost):
		return errors.Mark(err, core.ErrDeviceLost)
	case errors.Is(err, driver.ErrTimeout):
		return errors.Mark(err, core.ErrWaitTimeout)
	case errors.Is(err, driver.ErrNotSupported):
		return errors.Mark(err, core.ErrUnsupported)
	case errors.Is(err, driver.ErrInUse):
		return errors.Mark(err, core.ErrCommandListInFlight)
	case errors.Is(err, driver.ErrSurfaceOutOfDate):
		return errors.Mark(err, core.ErrSwapchainBooting)
	}
	return err
}
