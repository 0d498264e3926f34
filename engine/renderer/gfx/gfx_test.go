package gfx

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
	"github.com/spaghettifunk/benzin/engine/renderer/software"
)

func testConfig() DeviceConfig {
	return DeviceConfig{
		Heaps:            HeapCapacities{CBVSRVUAV: 64, Sampler: 4, RTV: 8, DSV: 4},
		UploadBufferSize: 64 << 10,
		WaitTimeout:      5 * time.Second,
	}
}

func newTestContext(t *testing.T, opts software.Options, config DeviceConfig) (*GraphicsContext, *software.GPU) {
	t.Helper()
	gpu, err := software.New(opts).OpenGPU()
	require.NoError(t, err)
	ctx, err := NewGraphicsContext(gpu, config)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx.Destroy()
		gpu.Close()
	})
	return ctx, gpu
}

func TestDescriptorMonotonicAndExhaustion(t *testing.T) {
	config := testConfig()
	config.Heaps.CBVSRVUAV = 3
	ctx, _ := newTestContext(t, software.DefaultOptions(), config)
	m := ctx.Descriptors()

	for i := 0; i < 3; i++ {
		idx, err := m.AllocateIndex(driver.HeapCBVSRVUAV)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), idx)
	}
	_, err := m.AllocateSRV()
	assert.True(t, errors.Is(err, core.ErrDescriptorHeapFull))
	assert.Equal(t, uint32(3), m.Heap(driver.HeapCBVSRVUAV).Allocated())
	assert.Zero(t, m.Heap(driver.HeapCBVSRVUAV).Remaining())

	// other kinds are independent
	_, err = m.AllocateRTV()
	assert.NoError(t, err)
}

func TestDescriptorManagerRejectsZeroCapacity(t *testing.T) {
	gpu, err := software.New(software.DefaultOptions()).OpenGPU()
	require.NoError(t, err)
	defer gpu.Close()
	_, err = NewDescriptorManager(gpu, HeapCapacities{CBVSRVUAV: 1, Sampler: 1, RTV: 0, DSV: 1})
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestDescriptorHandleArithmetic(t *testing.T) {
	opts := software.DefaultOptions()
	opts.IncrementSizes[driver.HeapCBVSRVUAV] = 48
	ctx, _ := newTestContext(t, opts, testConfig())

	heap := ctx.Descriptors().Heap(driver.HeapCBVSRVUAV)
	assert.Equal(t, uint32(48), heap.Stride())
	assert.True(t, heap.ShaderVisible())
	first := heap.Descriptor(0)
	for i := uint32(0); i < 5; i++ {
		d := heap.Descriptor(i)
		assert.Equal(t, first.CPU.Ptr+uint64(i)*48, d.CPU.Ptr)
		assert.Equal(t, first.GPU.Ptr+uint64(i)*48, d.GPU.Ptr)
	}

	rtv, err := ctx.Descriptors().AllocateRTV()
	require.NoError(t, err)
	assert.True(t, rtv.IsValid())
	assert.False(t, rtv.IsShaderVisible())
}

func TestConstantBufferRounding(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	buf, err := ctx.Device.CreateBuffer(BufferConfig{Name: "cb", ElementSize: 100, ElementCount: 3},
		BufferFlagConstantBuffer|BufferFlagDynamic)
	require.NoError(t, err)
	defer buf.Release()
	assert.Equal(t, uint32(256), buf.Stride())
	assert.Equal(t, uint64(768), buf.Size())

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, buf.Write(1, data))
	got, err := buf.Read(1)
	require.NoError(t, err)
	assert.Equal(t, data, got[:100])

	cbv, err := buf.CreateCBV(2)
	require.NoError(t, err)
	assert.Equal(t, buf.GPUAddress()+512, cbv.Address)
	assert.Equal(t, uint32(256), cbv.Size)

	assert.Error(t, buf.Write(3, data))
	assert.Error(t, buf.Write(0, make([]byte, 257)))
}

func TestBufferElementAddress(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	buf, err := ctx.Device.CreateBuffer(BufferConfig{Name: "vb", ElementSize: 12, ElementCount: 10}, BufferFlagVertexBuffer)
	require.NoError(t, err)
	defer buf.Release()
	assert.Nil(t, buf.Mapped())
	assert.Equal(t, driver.StateCommon, buf.State())
	for i := uint32(0); i < 10; i++ {
		assert.Equal(t, buf.GPUAddress()+uint64(i)*12, buf.ElementAddress(i))
	}
	vbv := buf.VertexBufferView()
	assert.Equal(t, buf.GPUAddress(), vbv.BufferLocation)
	assert.Equal(t, uint32(120), vbv.SizeInBytes)
	assert.Equal(t, uint32(12), vbv.StrideInBytes)

	_, err = ctx.Device.CreateBuffer(BufferConfig{Name: "bad", ElementSize: 4, ElementCount: 1}, BufferFlagUpload|BufferFlagReadback)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestUploadBufferAllocation(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	u, err := ctx.Device.CreateUploadBuffer("staging", 1024)
	require.NoError(t, err)
	defer u.Release()

	a, err := u.Allocate(10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Offset)
	b, err := u.Allocate(10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), b.Offset, "alignment zero packs back to back")
	c, err := u.Allocate(16, 256)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), c.Offset)
	assert.Equal(t, u.Buffer().GPUAddress()+256, c.GPUAddress)
	assert.Len(t, c.CPU, 16)

	_, err = u.Allocate(1024, 0)
	assert.True(t, errors.Is(err, core.ErrUploadBufferFull))
	assert.Equal(t, uint64(272), u.Used(), "a failed allocation does not move the cursor")

	u.Reset()
	assert.Zero(t, u.Used())
	all, err := u.Allocate(1024, 512)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), all.Offset)
}

func TestTextureClearValue(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())
	dev := ctx.Device

	_, err := dev.CreateTexture(TextureConfig{Name: "rt", Width: 4, Height: 4, Format: driver.FormatRGBA8Unorm, Flags: TextureFlagRenderTarget},
		&driver.ClearValue{Format: driver.FormatBGRA8Unorm})
	assert.True(t, errors.Is(err, core.ErrClearValueMismatch))

	_, err = dev.CreateTexture(TextureConfig{Name: "plain", Width: 4, Height: 4, Format: driver.FormatRGBA8Unorm},
		&driver.ClearValue{Format: driver.FormatRGBA8Unorm})
	assert.True(t, errors.Is(err, core.ErrClearValueMismatch))

	rt, err := dev.CreateTexture(TextureConfig{Name: "rt", Width: 4, Height: 4, Format: driver.FormatRGBA8Unorm, Flags: TextureFlagRenderTarget},
		&driver.ClearValue{Format: driver.FormatRGBA8Unorm, Color: [4]float32{1, 0, 0, 1}})
	require.NoError(t, err)
	defer rt.Release()
	assert.Equal(t, driver.StateRenderTarget, rt.State())

	ds, err := dev.CreateTexture(TextureConfig{Width: 4, Height: 4, Format: driver.FormatD32Float, Flags: TextureFlagDepthStencil},
		&driver.ClearValue{Format: driver.FormatD32Float, Depth: 1})
	require.NoError(t, err)
	defer ds.Release()
	assert.Equal(t, driver.StateDepthWrite, ds.State())
	assert.Contains(t, ds.Name(), "resource-")
}

func TestResourceReleaseInvalidatesViews(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	tex, err := ctx.Device.CreateTexture(TextureConfig{Name: "albedo", Width: 8, Height: 8, Format: driver.FormatRGBA8Unorm}, nil)
	require.NoError(t, err)
	srv, err := tex.CreateSRV()
	require.NoError(t, err)
	assert.True(t, srv.Valid())

	tex.AddRef()
	tex.Release()
	assert.False(t, tex.IsReleased())
	assert.True(t, srv.Valid())

	tex.Release()
	assert.True(t, tex.IsReleased())
	assert.False(t, srv.Valid())
}

func TestSampler(t *testing.T) {
	ctx, _ := newTestContext(t, software.DefaultOptions(), testConfig())

	s, err := ctx.Device.CreateSampler(driver.SamplerDesc{Filter: driver.FilterLinear})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s.HeapIndex())
	assert.True(t, s.Descriptor().IsShaderVisible())
}

func TestWaitResultErr(t *testing.T) {
	assert.NoError(t, WaitCompleted.Err())
	assert.True(t, errors.Is(WaitTimedOut.Err(), core.ErrWaitTimeout))
	assert.True(t, errors.Is(WaitDeviceLost.Err(), core.ErrDeviceLost))
	assert.Equal(t, "timed out", WaitTimedOut.String())
}
