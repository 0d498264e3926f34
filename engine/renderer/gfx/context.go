package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// GraphicsContext bundles the device with one queue per kind. It is passed
// explicitly to whoever records GPU work.
type GraphicsContext struct {
	Device  *Device
	Direct  *CommandQueue
	Compute *CommandQueue
	Copy    *CommandQueue

	drv driver.Driver
}

// Open opens the named driver and builds a context on its GPU.
func Open(backend string, opts driver.OpenOptions, config DeviceConfig) (*GraphicsContext, error) {
	drv, err := driver.Find(backend)
	if err != nil {
		return nil, errors.Wrapf(core.ErrUnsupported, "backend %q: %s", backend, err)
	}
	gpu, err := drv.Open(opts)
	if err != nil {
		err = errors.Wrapf(translate(err), "failed to open the %s driver", backend)
		core.LogError(err.Error())
		return nil, err
	}
	ctx, err := NewGraphicsContext(gpu, config)
	if err != nil {
		gpu.Close()
		drv.Close()
		return nil, err
	}
	ctx.drv = drv
	return ctx, nil
}

// NewGraphicsContext builds a context on an already opened GPU.
func NewGraphicsContext(gpu driver.GPU, config DeviceConfig) (*GraphicsContext, error) {
	device, err := NewDevice(gpu, config)
	if err != nil {
		return nil, err
	}
	ctx := &GraphicsContext{Device: device}
	queues := []**CommandQueue{&ctx.Direct, &ctx.Compute, &ctx.Copy}
	for kind := driver.QueueDirect; kind < driver.QueueKindCount; kind++ {
		q, err := device.CreateCommandQueue(kind)
		if err != nil {
			ctx.Destroy()
			return nil, err
		}
		*queues[kind] = q
	}
	return ctx, nil
}

func (c *GraphicsContext) Descriptors() *DescriptorManager { return c.Device.descriptors }

func (c *GraphicsContext) Queue(kind driver.QueueKind) *CommandQueue {
	switch kind {
	case driver.QueueCompute:
		return c.Compute
	case driver.QueueCopy:
		return c.Copy
	}
	return c.Direct
}

func (c *GraphicsContext) NewCommandList(kind driver.QueueKind, name string) (*CommandList, error) {
	return c.Queue(kind).CreateCommandList(name)
}

// Immediate records fn into a throwaway direct list, submits it and waits for
// it. Meant for one-off uploads at load time.
func (c *GraphicsContext) Immediate(name string, fn func(cl *CommandList) error) error {
	cl, err := c.Direct.CreateCommandList(name)
	if err != nil {
		return err
	}
	defer cl.Destroy()
	if err := cl.Reset(nil); err != nil {
		return err
	}
	if err := fn(cl); err != nil {
		_ = cl.Close()
		return err
	}
	_, err = cl.ExecuteCommandList(true)
	return err
}

// Flush drains every queue.
func (c *GraphicsContext) Flush() error {
	for _, q := range []*CommandQueue{c.Direct, c.Compute, c.Copy} {
		if q == nil {
			continue
		}
		if err := q.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (c *GraphicsContext) Removed() error { return c.Device.Removed() }

// Destroy drains the queues and releases the device. The driver is closed
// when the context opened it.
func (c *GraphicsContext) Destroy() {
	for _, q := range []*CommandQueue{c.Direct, c.Compute, c.Copy} {
		if q != nil {
			q.Destroy()
		}
	}
	c.Direct, c.Compute, c.Copy = nil, nil, nil
	if c.Device != nil {
		gpu := c.Device.gpu
		c.Device.Destroy()
		c.Device = nil
		if c.drv != nil {
			gpu.Close()
			c.drv.Close()
		}
	}
}
