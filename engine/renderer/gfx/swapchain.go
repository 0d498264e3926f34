package gfx

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type SwapChainConfig struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      driver.Format
	VSync       bool
}

// SwapChain owns the back buffers of a presentation surface and one render
// target view per buffer. The view slots are allocated once and rewritten in
// place on resize, so indices held by the caller stay meaningful.
type SwapChain struct {
	device  *Device
	queue   *CommandQueue
	native  driver.SwapChain
	config  SwapChainConfig
	buffers []*TextureResource
	rtvs    []*RenderTargetView
	slots   []Descriptor
	// stale is set when the surface reported itself out of date.
	stale bool
}

func (d *Device) CreateSwapChain(queue *CommandQueue, config SwapChainConfig) (*SwapChain, error) {
	if queue.kind != driver.QueueDirect {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "swap chains present from the direct queue, not %s", queue.kind)
	}
	native, err := d.gpu.NewSwapChain(queue.native, driver.SwapChainDesc{
		Width:       config.Width,
		Height:      config.Height,
		BufferCount: config.BufferCount,
		Format:      config.Format,
	})
	if err != nil {
		return nil, d.fail(err, "failed to create %dx%d swap chain with %d buffers", config.Width, config.Height, config.BufferCount)
	}
	sc := &SwapChain{device: d, queue: queue, native: native, config: config}
	if err := sc.acquire(); err != nil {
		sc.Destroy()
		return nil, err
	}
	core.LogInfo("swap chain created: %dx%d, %d buffers, %s", config.Width, config.Height, config.BufferCount, config.Format)
	return sc, nil
}

// acquire wraps every native back buffer and writes its render target view.
func (sc *SwapChain) acquire() error {
	desc := sc.native.Desc()
	sc.config.Width, sc.config.Height = desc.Width, desc.Height
	sc.config.BufferCount, sc.config.Format = desc.BufferCount, desc.Format
	for uint32(len(sc.slots)) < desc.BufferCount {
		slot, err := sc.device.descriptors.AllocateRTV()
		if err != nil {
			return err
		}
		sc.slots = append(sc.slots, slot)
	}
	sc.buffers = make([]*TextureResource, desc.BufferCount)
	sc.rtvs = make([]*RenderTargetView, desc.BufferCount)
	for i := range sc.buffers {
		native, err := sc.native.Buffer(uint32(i))
		if err != nil {
			return sc.device.fail(err, "failed to get back buffer %d", i)
		}
		buf := sc.device.wrapTexture(fmt.Sprintf("back-buffer-%d", i), native, driver.StatePresent, TextureFlagRenderTarget)
		rtv, err := buf.createRTVAt(sc.slots[i], 0, 0)
		if err != nil {
			buf.Release()
			return err
		}
		sc.buffers[i] = buf
		sc.rtvs[i] = rtv
	}
	return nil
}

func (sc *SwapChain) release() {
	for _, b := range sc.buffers {
		if b != nil {
			b.Release()
		}
	}
	sc.buffers = nil
	sc.rtvs = nil
}

func (sc *SwapChain) Config() SwapChainConfig { return sc.config }
func (sc *SwapChain) Width() uint32           { return sc.config.Width }
func (sc *SwapChain) Height() uint32          { return sc.config.Height }
func (sc *SwapChain) BufferCount() uint32     { return sc.config.BufferCount }
func (sc *SwapChain) Queue() *CommandQueue    { return sc.queue }

func (sc *SwapChain) SetVSync(enabled bool) { sc.config.VSync = enabled }

func (sc *SwapChain) CurrentBackBufferIndex() uint32 { return sc.native.CurrentBackBufferIndex() }

func (sc *SwapChain) CurrentBuffer() *TextureResource {
	return sc.buffers[sc.CurrentBackBufferIndex()]
}

func (sc *SwapChain) CurrentRTV() *RenderTargetView {
	return sc.rtvs[sc.CurrentBackBufferIndex()]
}

func (sc *SwapChain) Buffer(i uint32) *TextureResource { return sc.buffers[i] }

func (sc *SwapChain) RTV(i uint32) *RenderTargetView { return sc.rtvs[i] }

// Present queues the current back buffer for display. The buffer must have
// been transitioned back to the present state.
func (sc *SwapChain) Present() error {
	buf := sc.CurrentBuffer()
	if s := buf.State(); s != driver.StatePresent {
		return errors.Wrapf(core.ErrInvalidState, "present of %s in state %s", buf.name, s)
	}
	interval := uint32(0)
	if sc.config.VSync {
		interval = 1
	}
	if err := sc.native.Present(interval); err != nil {
		err = sc.device.fail(err, "failed to present")
		if errors.Is(err, core.ErrSwapchainBooting) {
			sc.stale = true
		}
		return err
	}
	return nil
}

// Stale reports whether the surface went out of date and the buffers must be
// recreated before the next frame.
func (sc *SwapChain) Stale() bool { return sc.stale }

// ResizeBuffers drains the queue, drops every reference to the old back
// buffers and recreates them at the new size. Zero keeps a dimension.
func (sc *SwapChain) ResizeBuffers(width, height uint32) error {
	if !sc.stale && width == sc.config.Width && height == sc.config.Height {
		return nil
	}
	if err := sc.queue.Flush(); err != nil {
		return errors.Wrap(err, "swap chain resize")
	}
	sc.release()
	if err := sc.native.ResizeBuffers(0, width, height, driver.FormatUnknown); err != nil {
		err = sc.device.fail(err, "failed to resize swap chain to %dx%d", width, height)
		if aerr := sc.acquire(); aerr != nil {
			core.LogError("failed to reacquire back buffers: %s", aerr)
		}
		return err
	}
	if err := sc.acquire(); err != nil {
		return err
	}
	sc.stale = false
	core.LogDebug("swap chain resized to %dx%d", sc.config.Width, sc.config.Height)
	return nil
}

func (sc *SwapChain) Destroy() {
	sc.release()
	if sc.native != nil {
		sc.native.Destroy()
		sc.native = nil
	}
}
