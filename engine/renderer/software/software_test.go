package software

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

func openGPU(t *testing.T, opts Options) *GPU {
	t.Helper()
	g, err := New(opts).OpenGPU()
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestRegistered(t *testing.T) {
	d, err := driver.Find("software")
	require.NoError(t, err)
	gpu, err := d.Open(driver.OpenOptions{AppName: "test"})
	require.NoError(t, err)
	defer gpu.Close()
	assert.Equal(t, uint32(32), gpu.DescriptorIncrementSize(driver.HeapRTV))
	assert.Equal(t, uint32(8), gpu.DescriptorIncrementSize(driver.HeapDSV))
}

func TestDescriptorHandles(t *testing.T) {
	opts := DefaultOptions()
	opts.IncrementSizes[driver.HeapCBVSRVUAV] = 48
	g := openGPU(t, opts)

	h, err := g.NewDescriptorHeap(driver.DescriptorHeapDesc{Kind: driver.HeapCBVSRVUAV, Capacity: 4, ShaderVisible: true})
	require.NoError(t, err)
	assert.False(t, h.GPUStart().IsNull())

	rtv, err := g.NewDescriptorHeap(driver.DescriptorHeapDesc{Kind: driver.HeapRTV, Capacity: 2})
	require.NoError(t, err)
	assert.True(t, rtv.GPUStart().IsNull())

	_, err = g.NewDescriptorHeap(driver.DescriptorHeapDesc{Kind: driver.HeapRTV, Capacity: 2, ShaderVisible: true})
	assert.True(t, errors.Is(err, driver.ErrNotSupported))

	buf, err := g.NewCommittedResource(driver.HeapTypeUpload, driver.BufferDesc(1024, 0), driver.StateGenericRead, nil)
	require.NoError(t, err)

	cbv := driver.ConstantBufferViewDesc{BufferLocation: buf.GPUVirtualAddress() + 256, SizeInBytes: 256}
	require.NoError(t, g.CreateConstantBufferView(cbv, h.CPUStart().Offset(3, 48)))

	// misaligned slot
	err = g.CreateConstantBufferView(cbv, driver.CPUHandle{Ptr: h.CPUStart().Ptr + 10})
	assert.True(t, errors.Is(err, driver.ErrInvalidHandle))
	// past the end
	err = g.CreateConstantBufferView(cbv, h.CPUStart().Offset(4, 48))
	assert.True(t, errors.Is(err, driver.ErrInvalidHandle))
	// wrong heap kind
	err = g.CreateConstantBufferView(cbv, rtv.CPUStart())
	assert.True(t, errors.Is(err, driver.ErrInvalidHandle))
	// unaligned size
	assert.Error(t, g.CreateConstantBufferView(driver.ConstantBufferViewDesc{BufferLocation: buf.GPUVirtualAddress(), SizeInBytes: 100}, h.CPUStart()))
}

func TestResourceHeapRules(t *testing.T) {
	g := openGPU(t, DefaultOptions())

	_, err := g.NewCommittedResource(driver.HeapTypeUpload, driver.BufferDesc(64, 0), driver.StateCommon, nil)
	assert.Error(t, err)
	_, err = g.NewCommittedResource(driver.HeapTypeReadback, driver.BufferDesc(64, 0), driver.StateCopyDest, nil)
	assert.NoError(t, err)

	tex := driver.ResourceDesc{Dimension: driver.DimensionTexture2D, Width: 4, Height: 4, DepthOrArraySize: 1, MipLevels: 1,
		Format: driver.FormatRGBA8Unorm, Flags: driver.ResourceFlagAllowRenderTarget}
	_, err = g.NewCommittedResource(driver.HeapTypeDefault, tex, driver.StateRenderTarget,
		&driver.ClearValue{Format: driver.FormatBGRA8Unorm})
	assert.Error(t, err)
	_, err = g.NewCommittedResource(driver.HeapTypeDefault, tex, driver.StateRenderTarget,
		&driver.ClearValue{Format: driver.FormatRGBA8Unorm})
	assert.NoError(t, err)

	def, err := g.NewCommittedResource(driver.HeapTypeDefault, driver.BufferDesc(64, 0), driver.StateCommon, nil)
	require.NoError(t, err)
	_, err = def.Map()
	assert.True(t, errors.Is(err, driver.ErrNotSupported))
}

func record(t *testing.T, g *GPU, kind driver.QueueKind) driver.CommandList {
	t.Helper()
	alloc, err := g.NewCommandAllocator(kind)
	require.NoError(t, err)
	cl, err := g.NewCommandList(kind, alloc, nil)
	require.NoError(t, err)
	return cl
}

func submit(t *testing.T, g *GPU, cl driver.CommandList) {
	t.Helper()
	require.NoError(t, cl.Close())
	q, err := g.Queue(cl.Kind())
	require.NoError(t, err)
	require.NoError(t, q.ExecuteCommandLists(cl))
	f, err := g.NewFence(0)
	require.NoError(t, err)
	require.NoError(t, q.Signal(f, 1))
	require.NoError(t, f.Wait(1, time.Second))
}

func TestCopyAndBarrierValidation(t *testing.T) {
	g := openGPU(t, DefaultOptions())

	up, err := g.NewCommittedResource(driver.HeapTypeUpload, driver.BufferDesc(16, 0), driver.StateGenericRead, nil)
	require.NoError(t, err)
	dst, err := g.NewCommittedResource(driver.HeapTypeDefault, driver.BufferDesc(16, 0), driver.StateCommon, nil)
	require.NoError(t, err)
	rb, err := g.NewCommittedResource(driver.HeapTypeReadback, driver.BufferDesc(16, 0), driver.StateCopyDest, nil)
	require.NoError(t, err)

	data, err := up.Map()
	require.NoError(t, err)
	copy(data, "0123456789abcdef")

	cl := record(t, g, driver.QueueDirect)
	cl.ResourceBarrier(driver.TransitionBarrier(dst, driver.StateCommon, driver.StateCopyDest))
	cl.CopyBufferRegion(dst, 0, up, 0, 16)
	cl.ResourceBarrier(driver.TransitionBarrier(dst, driver.StateCopyDest, driver.StateCopySource))
	cl.CopyBufferRegion(rb, 0, dst, 0, 16)
	submit(t, g, cl)

	out, err := rb.Map()
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(out))
	assert.Empty(t, g.ValidationErrors())

	// a stale before state is reported but still applied
	cl = record(t, g, driver.QueueDirect)
	cl.ResourceBarrier(driver.TransitionBarrier(dst, driver.StateCopyDest, driver.StateGenericRead))
	submit(t, g, cl)
	require.Len(t, g.ValidationErrors(), 1)
	assert.Contains(t, g.ValidationErrors()[0], "does not match current state COPY_SOURCE")
}

func TestRecordingErrors(t *testing.T) {
	g := openGPU(t, DefaultOptions())
	buf, err := g.NewCommittedResource(driver.HeapTypeDefault, driver.BufferDesc(16, 0), driver.StateCommon, nil)
	require.NoError(t, err)

	cl := record(t, g, driver.QueueDirect)
	cl.CopyBufferRegion(buf, 8, buf, 0, 16)
	assert.Error(t, cl.Close())

	alloc, err := g.NewCommandAllocator(driver.QueueDirect)
	require.NoError(t, err)
	require.NoError(t, cl.Reset(alloc, nil))
	cl.DrawInstanced(3, 1, 0, 0)
	assert.Error(t, cl.Close())

	require.NoError(t, cl.Reset(alloc, nil))
	require.NoError(t, cl.Close())
	// recording on a closed list
	cl.Dispatch(1, 1, 1)
	q, _ := g.Queue(driver.QueueDirect)
	assert.Error(t, q.ExecuteCommandLists(cl))
}

func TestTextureRoundTrip(t *testing.T) {
	g := openGPU(t, DefaultOptions())
	desc := driver.ResourceDesc{Dimension: driver.DimensionTexture2D, Width: 5, Height: 3, DepthOrArraySize: 1, MipLevels: 1, Format: driver.FormatRGBA8Unorm}
	tex, err := g.NewCommittedResource(driver.HeapTypeDefault, desc, driver.StateCopyDest, nil)
	require.NoError(t, err)

	fp := g.CopyableFootprints(desc, 0, 1, 0)
	up, err := g.NewCommittedResource(driver.HeapTypeUpload, driver.BufferDesc(fp.TotalBytes, 0), driver.StateGenericRead, nil)
	require.NoError(t, err)
	rb, err := g.NewCommittedResource(driver.HeapTypeReadback, driver.BufferDesc(fp.TotalBytes, 0), driver.StateCopyDest, nil)
	require.NoError(t, err)

	src, _ := up.Map()
	pitch := uint64(fp.Layouts[0].Footprint.RowPitch)
	for r := uint64(0); r < 3; r++ {
		for i := uint64(0); i < 20; i++ {
			src[r*pitch+i] = byte(r*20 + i)
		}
	}

	cl := record(t, g, driver.QueueDirect)
	cl.CopyTextureRegion(driver.TextureCopyLocation{Resource: tex}, driver.TextureCopyLocation{Resource: up, Footprint: fp.Layouts[0]})
	cl.ResourceBarrier(driver.TransitionBarrier(tex, driver.StateCopyDest, driver.StateCopySource))
	cl.CopyTextureRegion(driver.TextureCopyLocation{Resource: rb, Footprint: fp.Layouts[0]}, driver.TextureCopyLocation{Resource: tex})
	submit(t, g, cl)

	out, _ := rb.Map()
	for r := uint64(0); r < 3; r++ {
		assert.Equal(t, src[r*pitch:r*pitch+20], out[r*pitch:r*pitch+20])
	}
	assert.Empty(t, g.ValidationErrors())
}

func TestClearRenderTarget(t *testing.T) {
	g := openGPU(t, DefaultOptions())
	heap, err := g.NewDescriptorHeap(driver.DescriptorHeapDesc{Kind: driver.HeapRTV, Capacity: 1})
	require.NoError(t, err)
	desc := driver.ResourceDesc{Dimension: driver.DimensionTexture2D, Width: 2, Height: 2, DepthOrArraySize: 1, MipLevels: 1,
		Format: driver.FormatBGRA8Unorm, Flags: driver.ResourceFlagAllowRenderTarget}
	tex, err := g.NewCommittedResource(driver.HeapTypeDefault, desc, driver.StateRenderTarget, nil)
	require.NoError(t, err)
	require.NoError(t, g.CreateRenderTargetView(tex, nil, heap.CPUStart()))

	cl := record(t, g, driver.QueueDirect)
	cl.ClearRenderTargetView(heap.CPUStart(), [4]float32{1, 0.5, 0, 1})
	submit(t, g, cl)

	px := tex.(*resource).subs[0]
	assert.Equal(t, []byte{0, 128, 255, 255}, px[:4])
	assert.Equal(t, []byte{0, 128, 255, 255}, px[12:16])
	assert.Equal(t, uint64(1), g.Stats().Clears)
}

func TestFenceWait(t *testing.T) {
	opts := DefaultOptions()
	opts.ExecutionDelay = 50 * time.Millisecond
	g := openGPU(t, opts)
	q, _ := g.Queue(driver.QueueDirect)
	f, err := g.NewFence(0)
	require.NoError(t, err)

	// already complete
	require.NoError(t, f.Wait(0, 0))

	cl := record(t, g, driver.QueueDirect)
	require.NoError(t, cl.Close())
	require.NoError(t, q.ExecuteCommandLists(cl))
	require.NoError(t, q.Signal(f, 1))

	err = f.Wait(1, time.Millisecond)
	assert.True(t, errors.Is(err, driver.ErrTimeout))
	require.NoError(t, f.Wait(1, driver.Infinite))
	assert.Equal(t, uint64(1), f.CompletedValue())
}

func TestAllocatorInUse(t *testing.T) {
	opts := DefaultOptions()
	opts.ExecutionDelay = 50 * time.Millisecond
	g := openGPU(t, opts)
	q, _ := g.Queue(driver.QueueDirect)
	alloc, err := g.NewCommandAllocator(driver.QueueDirect)
	require.NoError(t, err)
	cl, err := g.NewCommandList(driver.QueueDirect, alloc, nil)
	require.NoError(t, err)
	require.NoError(t, cl.Close())
	require.NoError(t, q.ExecuteCommandLists(cl))

	assert.True(t, errors.Is(alloc.Reset(), driver.ErrInUse))
	g.Idle()
	assert.NoError(t, alloc.Reset())
}

func TestDeviceLost(t *testing.T) {
	opts := DefaultOptions()
	opts.ExecutionDelay = time.Second
	g := openGPU(t, opts)
	q, _ := g.Queue(driver.QueueDirect)
	f, _ := g.NewFence(0)

	cl := record(t, g, driver.QueueDirect)
	require.NoError(t, cl.Close())
	require.NoError(t, q.ExecuteCommandLists(cl))
	require.NoError(t, q.Signal(f, 1))

	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Lose("hang")
	}()
	err := f.Wait(1, driver.Infinite)
	assert.True(t, errors.Is(err, driver.ErrDeviceLost))
	assert.True(t, errors.Is(g.Removed(), driver.ErrDeviceLost))
	assert.True(t, errors.Is(q.ExecuteCommandLists(cl), driver.ErrDeviceLost))
}

func TestSwapChainResize(t *testing.T) {
	g := openGPU(t, DefaultOptions())
	q, _ := g.Queue(driver.QueueDirect)
	sc, err := g.NewSwapChain(q, driver.SwapChainDesc{Width: 8, Height: 8, BufferCount: 2, Format: driver.FormatBGRA8Unorm})
	require.NoError(t, err)

	assert.Equal(t, uint32(0), sc.CurrentBackBufferIndex())
	require.NoError(t, sc.Present(0))
	assert.Equal(t, uint32(1), sc.CurrentBackBufferIndex())

	buf, err := sc.Buffer(1)
	require.NoError(t, err)
	err = sc.ResizeBuffers(0, 16, 16, driver.FormatUnknown)
	assert.True(t, errors.Is(err, driver.ErrInUse))

	buf.Destroy()
	g.Idle()
	require.NoError(t, sc.ResizeBuffers(0, 16, 16, driver.FormatUnknown))
	assert.Equal(t, uint32(16), sc.Desc().Width)
	assert.Equal(t, uint32(2), sc.Desc().BufferCount)
	assert.Equal(t, uint32(0), sc.CurrentBackBufferIndex())

	buf, err = sc.Buffer(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), buf.Desc().Width)
	assert.Equal(t, uint64(1), g.Stats().Presents)
}
