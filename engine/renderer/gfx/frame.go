package gfx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// FrameContext is the per back buffer state of the frame ring.
type FrameContext struct {
	Index       uint32
	CommandList *CommandList
	// BackBuffer and RenderTarget are valid between BeginFrame and EndFrame.
	BackBuffer   *TextureResource
	RenderTarget *RenderTargetView
	// FenceValue completes when the last frame recorded with this context
	// finished on the GPU.
	FenceValue uint64
}

// FrameRing keeps one command list per back buffer so the CPU can record
// frame N+1 while the GPU still renders frame N. Beginning a frame waits for
// the previous use of the same back buffer.
type FrameRing struct {
	device    *Device
	queue     *CommandQueue
	swapChain *SwapChain
	frames    []*FrameContext
	current   *FrameContext
	count     uint64
}

func NewFrameRing(sc *SwapChain) (*FrameRing, error) {
	fr := &FrameRing{device: sc.device, queue: sc.queue, swapChain: sc}
	if err := fr.grow(); err != nil {
		fr.Destroy()
		return nil, err
	}
	return fr, nil
}

func (fr *FrameRing) grow() error {
	for uint32(len(fr.frames)) < fr.swapChain.BufferCount() {
		i := uint32(len(fr.frames))
		cl, err := fr.queue.CreateCommandList(fmt.Sprintf("frame-%d", i))
		if err != nil {
			return err
		}
		fr.frames = append(fr.frames, &FrameContext{Index: i, CommandList: cl})
	}
	return nil
}

func (fr *FrameRing) SwapChain() *SwapChain { return fr.swapChain }

// Current is the frame between BeginFrame and EndFrame, nil otherwise.
func (fr *FrameRing) Current() *FrameContext { return fr.current }

// FrameCount is the number of frames ended so far.
func (fr *FrameRing) FrameCount() uint64 { return fr.count }

func (fr *FrameRing) Frame(i uint32) *FrameContext { return fr.frames[i] }

// BeginFrame waits until the current back buffer is free, resets its list
// and transitions the buffer into a render target.
func (fr *FrameRing) BeginFrame() (*FrameContext, error) {
	if fr.current != nil {
		return nil, errors.Wrapf(core.ErrInvalidState, "frame %d was not ended", fr.current.Index)
	}
	idx := fr.swapChain.CurrentBackBufferIndex()
	f := fr.frames[idx]
	if res := fr.queue.WaitForValue(f.FenceValue, fr.device.waitTimeout()); res != WaitCompleted {
		return nil, errors.Wrapf(res.Err(), "waiting for frame %d (fence value %d)", idx, f.FenceValue)
	}
	fr.queue.RetireCompleted()
	if err := f.CommandList.Reset(nil); err != nil {
		return nil, err
	}
	sc := fr.swapChain
	f.CommandList.Transition(sc.Buffer(idx), driver.StateRenderTarget)
	f.CommandList.SetViewportAndScissor(sc.Width(), sc.Height())
	f.BackBuffer, f.RenderTarget = sc.Buffer(idx), sc.RTV(idx)
	fr.current = f
	return f, nil
}

// EndFrame transitions the back buffer for presentation, submits the frame
// and presents it.
func (fr *FrameRing) EndFrame() error {
	f := fr.current
	if f == nil {
		return errors.Wrap(core.ErrInvalidState, "no frame in progress")
	}
	fr.current = nil
	f.CommandList.Transition(fr.swapChain.Buffer(f.Index), driver.StatePresent)
	value, err := f.CommandList.ExecuteCommandList(false)
	if err != nil {
		return errors.Wrapf(err, "submit of frame %d", f.Index)
	}
	f.FenceValue = value
	fr.count++
	return fr.swapChain.Present()
}

// Resize resizes the swap chain between frames.
func (fr *FrameRing) Resize(width, height uint32) error {
	if fr.current != nil {
		return errors.Wrap(core.ErrInvalidState, "resize during a frame")
	}
	if err := fr.swapChain.ResizeBuffers(width, height); err != nil {
		return err
	}
	return fr.grow()
}

func (fr *FrameRing) Destroy() {
	if err := fr.queue.Flush(); err != nil {
		core.LogWarn("frame ring destroyed while the GPU is busy: %s", err)
	}
	for _, f := range fr.frames {
		f.CommandList.Destroy()
	}
	fr.frames = nil
}

// PerFrameBuffer is a constant buffer with one element per frame in flight,
// so the CPU never writes the element the GPU may still read.
type PerFrameBuffer struct {
	buffer *BufferResource
	views  []*ConstantBufferView
}

func (d *Device) CreatePerFrameBuffer(name string, size, frames uint32) (*PerFrameBuffer, error) {
	buf, err := d.CreateBuffer(BufferConfig{Name: name, ElementSize: size, ElementCount: frames},
		BufferFlagConstantBuffer|BufferFlagDynamic)
	if err != nil {
		return nil, err
	}
	pf := &PerFrameBuffer{buffer: buf, views: make([]*ConstantBufferView, frames)}
	for i := range pf.views {
		if pf.views[i], err = buf.CreateCBV(uint32(i)); err != nil {
			buf.Release()
			return nil, err
		}
	}
	return pf, nil
}

func (p *PerFrameBuffer) Buffer() *BufferResource { return p.buffer }

func (p *PerFrameBuffer) Write(frame uint32, data []byte) error {
	return p.buffer.Write(frame, data)
}

// WriteValue encodes a fixed size value in little endian order into the
// element of frame.
func (p *PerFrameBuffer) WriteValue(frame uint32, v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return errors.Wrapf(core.ErrInvalidArgument, "encode %T: %s", v, err)
	}
	return p.Write(frame, buf.Bytes())
}

func (p *PerFrameBuffer) View(frame uint32) *ConstantBufferView { return p.views[frame] }

func (p *PerFrameBuffer) Address(frame uint32) uint64 { return p.buffer.ElementAddress(frame) }

func (p *PerFrameBuffer) HeapIndex(frame uint32) uint32 { return p.views[frame].HeapIndex() }

func (p *PerFrameBuffer) Release() { p.buffer.Release() }
