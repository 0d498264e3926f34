package gfx

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
	"github.com/spaghettifunk/benzin/engine/renderer/software"
)

func newTestFrameRing(t *testing.T, ctx *GraphicsContext, width, height uint32) (*SwapChain, *FrameRing) {
	t.Helper()
	sc, err := ctx.Device.CreateSwapChain(ctx.Direct, SwapChainConfig{
		Width:       width,
		Height:      height,
		BufferCount: 2,
		Format:      driver.FormatBGRA8Unorm,
	})
	require.NoError(t, err)
	fr, err := NewFrameRing(sc)
	require.NoError(t, err)
	t.Cleanup(func() {
		fr.Destroy()
		sc.Destroy()
	})
	return sc, fr
}

func TestFenceOrdering(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 20 * time.Millisecond
	ctx, _ := newTestContext(t, opts, testConfig())

	var values []uint64
	for i := 0; i < 3; i++ {
		cl, err := ctx.NewCommandList(driver.QueueDirect, "ordered")
		require.NoError(t, err)
		defer cl.Destroy()
		require.NoError(t, cl.Reset(nil))
		v, err := cl.ExecuteCommandList(false)
		require.NoError(t, err)
		values = append(values, v)
	}
	assert.Less(t, values[0], values[1])
	assert.Less(t, values[1], values[2])

	assert.Equal(t, WaitCompleted, ctx.Direct.WaitForValue(values[1], 5*time.Second))
	assert.GreaterOrEqual(t, ctx.Direct.CompletedValue(), values[1])
	assert.True(t, ctx.Direct.IsComplete(values[0]), "values complete in submission order")
	require.NoError(t, ctx.Direct.Flush())
	assert.GreaterOrEqual(t, ctx.Direct.CompletedValue(), values[2])
}

func TestFenceImmediateReturn(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	f, err := ctx.Device.NewFence()
	require.NoError(t, err)
	defer f.Destroy()
	assert.Equal(t, WaitCompleted, f.Wait(0, 0))
	assert.Equal(t, WaitCompleted, f.WaitForGPU(0), "nothing was asked for yet")
	assert.Equal(t, WaitTimedOut, f.Wait(1, 0))

	assert.Equal(t, uint64(1), f.Increment())
	require.NoError(t, f.Native().Signal(1))
	assert.Equal(t, WaitCompleted, f.WaitForGPU(Infinite))
}

func TestWaitTimeout(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 500 * time.Millisecond
	ctx, _ := newTestContext(t, opts, testConfig())

	cl, err := ctx.NewCommandList(driver.QueueDirect, "slow")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))
	v, err := cl.ExecuteCommandList(false)
	require.NoError(t, err)

	res := ctx.Direct.WaitForValue(v, 10*time.Millisecond)
	assert.Equal(t, WaitTimedOut, res)
	assert.True(t, errors.Is(res.Err(), core.ErrWaitTimeout))
	assert.Equal(t, WaitCompleted, ctx.Direct.WaitForValue(v, Infinite))
}

func TestWaitDeviceLost(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = time.Second
	ctx, gpu := newTestContext(t, opts, testConfig())

	cl, err := ctx.NewCommandList(driver.QueueDirect, "doomed")
	require.NoError(t, err)
	defer cl.Destroy()
	require.NoError(t, cl.Reset(nil))
	v, err := cl.ExecuteCommandList(false)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		gpu.Lose("test")
	}()
	assert.Equal(t, WaitDeviceLost, ctx.Direct.WaitForValue(v, Infinite))
	assert.True(t, errors.Is(ctx.Removed(), core.ErrDeviceLost))
	assert.True(t, errors.Is(ctx.Direct.Flush(), core.ErrDeviceLost))
}

// Every frame snapshots the per frame constant into a readback slot. If the
// CPU overwrote an element the GPU had not consumed yet, a slot would hold a
// later frame number.
func TestFramesInFlightDoNotCorrupt(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 30 * time.Millisecond
	ctx, gpu := newTestContext(t, opts, testConfig())
	sc, fr := newTestFrameRing(t, ctx, 8, 8)

	pf, err := ctx.Device.CreatePerFrameBuffer("frame-constants", 16, sc.BufferCount())
	require.NoError(t, err)
	defer pf.Release()
	assert.Equal(t, pf.Buffer().GPUAddress()+256, pf.Address(1))

	const frames = 6
	rb, err := ctx.Device.CreateBuffer(BufferConfig{Name: "snapshots", ElementSize: 4, ElementCount: frames}, BufferFlagReadback)
	require.NoError(t, err)
	defer rb.Release()

	clearColor := [4]float32{0, 0.5, 1, 1}
	for frame := uint32(0); frame < frames; frame++ {
		f, err := fr.BeginFrame()
		require.NoError(t, err)
		assert.Equal(t, sc.CurrentBackBufferIndex(), f.Index)
		require.NoError(t, pf.WriteValue(f.Index, frame))

		f.CommandList.ClearRenderTarget(sc.CurrentRTV(), clearColor)
		f.CommandList.CopyBufferRegion(rb, uint64(frame)*4, pf.Buffer(), uint64(f.Index)*256, 4)
		require.NoError(t, fr.EndFrame())
	}
	require.NoError(t, ctx.Direct.Flush())

	for frame := uint32(0); frame < frames; frame++ {
		got := binary.LittleEndian.Uint32(rb.Mapped()[frame*4:])
		assert.Equal(t, frame, got, "snapshot of frame %d", frame)
	}
	stats := gpu.Stats()
	assert.Equal(t, uint64(frames), stats.Presents)
	assert.Equal(t, uint64(frames), stats.Clears)
	assert.Equal(t, uint64(frames), fr.FrameCount())
	assert.Empty(t, gpu.ValidationErrors())

	last := sc.Buffer((frames - 1) % sc.BufferCount())
	img, err := ctx.ReadTexture(last)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0, G: 128, B: 255, A: 255}, img.RGBAAt(3, 3))
	assert.Equal(t, driver.StatePresent, last.State(), "readback restores the tracked state")

	var out bytes.Buffer
	require.NoError(t, EncodeBMP(&out, img))
	decoded, err := bmp.Decode(&out)
	require.NoError(t, err)
	r, g, b, _ := decoded.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0, 128, 255}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestFrameRingMisuse(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())
	_, fr := newTestFrameRing(t, ctx, 4, 4)

	assert.True(t, errors.Is(fr.EndFrame(), core.ErrInvalidState))
	_, err := fr.BeginFrame()
	require.NoError(t, err)
	_, err = fr.BeginFrame()
	assert.True(t, errors.Is(err, core.ErrInvalidState))
	assert.True(t, errors.Is(fr.Resize(8, 8), core.ErrInvalidState))
	require.NoError(t, fr.EndFrame())
	assert.Nil(t, fr.Current())
}

func TestPresentRequiresPresentState(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())
	sc, _ := newTestFrameRing(t, ctx, 4, 4)

	require.NoError(t, ctx.Immediate("to-rt", func(cl *CommandList) error {
		cl.Transition(sc.CurrentBuffer(), driver.StateRenderTarget)
		return nil
	}))
	assert.True(t, errors.Is(sc.Present(), core.ErrInvalidState))

	require.NoError(t, ctx.Immediate("to-present", func(cl *CommandList) error {
		cl.Transition(sc.CurrentBuffer(), driver.StatePresent)
		return nil
	}))
	assert.NoError(t, sc.Present())
}

func TestResizeSafety(t *testing.T) {
	opts := software.DefaultOptions()
	opts.ExecutionDelay = 10 * time.Millisecond
	ctx, gpu := newTestContext(t, opts, testConfig())
	sc, fr := newTestFrameRing(t, ctx, 8, 8)

	render := func() {
		f, err := fr.BeginFrame()
		require.NoError(t, err)
		f.CommandList.ClearRenderTarget(sc.CurrentRTV(), [4]float32{1, 0, 0, 1})
		require.NoError(t, fr.EndFrame())
	}
	for i := 0; i < 3; i++ {
		render()
	}

	slots := []uint32{sc.RTV(0).HeapIndex(), sc.RTV(1).HeapIndex()}
	allocated := ctx.Descriptors().Heap(driver.HeapRTV).Allocated()
	last := ctx.Direct.LastSignaled()

	require.NoError(t, fr.Resize(16, 12))
	assert.GreaterOrEqual(t, ctx.Direct.CompletedValue(), last)
	assert.Equal(t, uint32(16), sc.Width())
	assert.Equal(t, uint32(12), sc.Height())
	assert.Equal(t, uint32(16), sc.Buffer(0).Width())
	assert.Equal(t, slots, []uint32{sc.RTV(0).HeapIndex(), sc.RTV(1).HeapIndex()}, "render target views reuse their slots")
	assert.Equal(t, allocated, ctx.Descriptors().Heap(driver.HeapRTV).Allocated())

	// a reference held across the resize makes it fail
	held := sc.Buffer(0).AddRef()
	err := fr.Resize(32, 32)
	assert.True(t, errors.Is(err, core.ErrCommandListInFlight))
	assert.Equal(t, uint32(16), sc.Width())
	held.Release()
	require.NoError(t, fr.Resize(32, 32))

	render()
	require.NoError(t, ctx.Direct.Flush())
	assert.Empty(t, gpu.ValidationErrors())
}
