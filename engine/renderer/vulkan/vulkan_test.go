package vulkan

import (
	"math"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

func TestFormats(t *testing.T) {
	for f, v := range formats {
		assert.Equal(t, v, vkFormat(f), f.String())
		assert.Equal(t, f, driverFormat(v), f.String())
	}
	assert.Equal(t, vk.FormatUndefined, vkFormat(driver.FormatUnknown))
	assert.Equal(t, driver.FormatUnknown, driverFormat(vk.FormatBc1RgbUnormBlock))

	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectMask(driver.FormatRGBA8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectMask(driver.FormatD32Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), aspectMask(driver.FormatD24UnormS8Uint))

	assert.Equal(t, vk.IndexTypeUint16, indexType(driver.FormatR16Uint))
	assert.Equal(t, vk.IndexTypeUint32, indexType(driver.FormatR32Uint))
	assert.Equal(t, vk.CompareOpLessOrEqual, compareOp(driver.CompareLessEqual))
	assert.Equal(t, vk.PrimitiveTopologyLineList, topology(driver.TopologyLineList))
	assert.Equal(t, vk.SamplerAddressModeClampToBorder, addressMode(driver.AddressBorder))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), shaderStages(driver.VisibilityPixel))
}

func TestImageLayout(t *testing.T) {
	cases := []struct {
		state     driver.ResourceState
		swapchain bool
		want      vk.ImageLayout
	}{
		{driver.StateCommon, false, vk.ImageLayoutGeneral},
		{driver.StatePresent, true, vk.ImageLayoutPresentSrc},
		{driver.StateRenderTarget, false, vk.ImageLayoutColorAttachmentOptimal},
		{driver.StateDepthWrite, false, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{driver.StateDepthRead | driver.StatePixelShaderResource, false, vk.ImageLayoutDepthStencilReadOnlyOptimal},
		{driver.StatePixelShaderResource, false, vk.ImageLayoutShaderReadOnlyOptimal},
		{driver.StateAllShaderResource, false, vk.ImageLayoutShaderReadOnlyOptimal},
		{driver.StateUnorderedAccess, false, vk.ImageLayoutGeneral},
		{driver.StateCopyDest, false, vk.ImageLayoutTransferDstOptimal},
		{driver.StateCopySource, false, vk.ImageLayoutTransferSrcOptimal},
		{driver.StateCopySource | driver.StatePixelShaderResource, false, vk.ImageLayoutGeneral},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, imageLayout(c.state, c.swapchain), c.state.String())
	}
}

func TestAccessScope(t *testing.T) {
	access, stages := accessScope(driver.StateCommon)
	assert.Equal(t, vk.AccessFlags(vk.AccessMemoryReadBit|vk.AccessMemoryWriteBit), access)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), stages)

	access, stages = accessScope(driver.StateCopyDest)
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferWriteBit), access)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTransferBit), stages)

	access, _ = accessScope(driver.StateIndexBuffer | driver.StateCopySource)
	assert.Equal(t, vk.AccessFlags(vk.AccessIndexReadBit|vk.AccessTransferReadBit), access)
}

func TestSubresources(t *testing.T) {
	desc := driver.Texture2DDesc(driver.FormatRGBA8Unorm, 64, 64, 2, 3, 0)

	all := subresourceRange(desc, driver.AllSubresources)
	assert.Equal(t, uint32(0), all.BaseMipLevel)
	assert.Equal(t, uint32(3), all.LevelCount)
	assert.Equal(t, uint32(2), all.LayerCount)

	one := subresourceRange(desc, desc.SubresourceIndex(1, 1))
	assert.Equal(t, uint32(1), one.BaseMipLevel)
	assert.Equal(t, uint32(1), one.BaseArrayLayer)
	assert.Equal(t, uint32(1), one.LevelCount)
	assert.Equal(t, uint32(1), one.LayerCount)

	layers := subresourceLayers(desc, desc.SubresourceIndex(2, 0))
	assert.Equal(t, uint32(2), layers.MipLevel)
	assert.Equal(t, uint32(0), layers.BaseArrayLayer)

	depth := &image{desc: driver.Texture2DDesc(driver.FormatD24UnormS8Uint, 8, 8, 1, 1, driver.ResourceFlagAllowDepthStencil)}
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), copyLayers(depth, 0).AspectMask)
}

func TestImageBarrier(t *testing.T) {
	im := &image{desc: driver.Texture2DDesc(driver.FormatRGBA8Unorm, 8, 8, 1, 1, 0), undefined: true}

	b, src, dst := imageBarrier(im, driver.AllSubresources, driver.StateCommon, driver.StateCopyDest)
	assert.Equal(t, vk.ImageLayoutUndefined, b.OldLayout)
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, b.NewLayout)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), src)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTransferBit), dst)
	assert.False(t, im.undefined)

	b, _, _ = imageBarrier(im, 0, driver.StateCopyDest, driver.StatePixelShaderResource)
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, b.OldLayout)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, b.NewLayout)
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(vk.Success, "vkTest"))
	assert.NoError(t, resultError(vk.Suboptimal, "vkTest"))

	err := resultError(vk.ErrorDeviceLost, "vkQueueSubmit")
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrDeviceLost))
	assert.Contains(t, err.Error(), "vkQueueSubmit")
	assert.Contains(t, err.Error(), "VK_ERROR_DEVICE_LOST")

	assert.True(t, errors.Is(resultError(vk.ErrorOutOfDeviceMemory, "op"), driver.ErrNoDeviceMemory))
	assert.True(t, errors.Is(resultError(vk.ErrorOutOfDate, "op"), driver.ErrSurfaceOutOfDate))
	assert.True(t, errors.Is(resultError(vk.ErrorFeatureNotPresent, "op"), driver.ErrNotSupported))

	err = resultError(vk.ErrorInitializationFailed, "op")
	require.Error(t, err)
	assert.False(t, errors.Is(err, driver.ErrDeviceLost))
}

func TestAddressSpace(t *testing.T) {
	var a addressSpace
	a.init()
	small, large := &buffer{}, &buffer{}
	base1 := a.reserve(small, 100)
	base2 := a.reserve(large, 0x20000)
	assert.Equal(t, uint64(addressBase), base1)
	assert.Equal(t, base1+addressPage, base2)

	buf, off, ok := a.resolve(base1 + 50)
	require.True(t, ok)
	assert.Same(t, small, buf)
	assert.Equal(t, uint64(50), off)

	_, _, ok = a.resolve(base1 + 100)
	assert.False(t, ok, "gap between reservations")
	_, _, ok = a.resolve(base1 - 1)
	assert.False(t, ok)

	buf, off, ok = a.resolve(base2 + 0x1ffff)
	require.True(t, ok)
	assert.Same(t, large, buf)
	assert.Equal(t, uint64(0x1ffff), off)

	a.release(base1)
	_, _, ok = a.resolve(base1)
	assert.False(t, ok)
	_, _, ok = a.resolve(base2)
	assert.True(t, ok)
}

func TestDescriptorHandles(t *testing.T) {
	ptr := encodeHandle(7, 5)
	heap, index, ok := decodeHandle(ptr)
	require.True(t, ok)
	assert.Equal(t, uint32(7), heap)
	assert.Equal(t, uint32(5), index)

	heap, index, ok = decodeHandle(ptr | gpuHandleBit)
	require.True(t, ok)
	assert.Equal(t, uint32(7), heap)
	assert.Equal(t, uint32(5), index)

	_, _, ok = decodeHandle(ptr + 3)
	assert.False(t, ok)
}

func TestBindlessCaps(t *testing.T) {
	limits := vk.PhysicalDeviceLimits{
		MaxPerStageDescriptorSamplers:       1 << 20,
		MaxPerStageDescriptorUniformBuffers: 1 << 20,
		MaxPerStageDescriptorStorageBuffers: 1 << 20,
		MaxPerStageDescriptorSampledImages:  1 << 20,
		MaxPerStageDescriptorStorageImages:  1 << 20,
		MaxDescriptorSetSamplers:            1 << 20,
		MaxDescriptorSetUniformBuffers:      1 << 20,
		MaxDescriptorSetStorageBuffers:      1 << 20,
		MaxDescriptorSetSampledImages:       1 << 20,
		MaxDescriptorSetStorageImages:       1 << 20,
	}
	c := newBindlessCaps(limits)
	for _, n := range c.bindings {
		assert.Equal(t, uint32(maxBindless), n)
	}
	assert.Equal(t, uint32(maxBindlessSampler), c.samplers)

	// per stage resource limit scales every binding down
	limits.MaxPerStageResources = 8192
	c = newBindlessCaps(limits)
	for _, n := range c.bindings {
		assert.Equal(t, uint32(2048), n)
	}

	// a device reporting tiny limits still gets one slot per binding
	limits = vk.PhysicalDeviceLimits{MaxDescriptorSetUniformBuffers: 12, MaxPerStageDescriptorUniformBuffers: 12}
	c = newBindlessCaps(limits)
	assert.Equal(t, uint32(12), c.bindings[bindingUniform])
	assert.Equal(t, uint32(1), c.bindings[bindingSampled])
	assert.Equal(t, uint32(1), c.samplers)
}

func TestBufferWindow(t *testing.T) {
	buf := &buffer{desc: driver.BufferDesc(1000, 0)}

	off, size, err := bufferWindow(buf, driver.FormatUnknown, 4, 10, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), off)
	assert.Equal(t, uint64(40), size)

	off, size, err = bufferWindow(buf, driver.FormatR32Float, 2, 3, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), off)
	assert.Equal(t, uint64(12), size)

	off, size, err = bufferWindow(buf, driver.FormatUnknown, 0, 0, 16, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(1000), size)

	_, _, err = bufferWindow(buf, driver.FormatUnknown, 100, 1, 16, false)
	assert.Error(t, err)
	_, _, err = bufferWindow(buf, driver.FormatUnknown, 60, 3, 16, false)
	assert.Error(t, err)
}

func TestBorderColor(t *testing.T) {
	assert.Equal(t, vk.BorderColorFloatTransparentBlack, borderColor([4]float32{1, 1, 1, 0}))
	assert.Equal(t, vk.BorderColorFloatOpaqueWhite, borderColor([4]float32{1, 1, 1, 1}))
	assert.Equal(t, vk.BorderColorFloatOpaqueBlack, borderColor([4]float32{0, 0, 0, 1}))
	assert.Equal(t, vk.BorderColorFloatOpaqueBlack, borderColor([4]float32{0.5, 0.2, 0, 1}))
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"VK_KHR_surface", "VK_EXT_debug_report", "VK_KHR_surface"})
	assert.Equal(t, []string{"VK_KHR_surface", "VK_EXT_debug_report"}, got)
	assert.Empty(t, dedupe(nil))
}

func TestLockPool(t *testing.T) {
	p := NewVulkanLockPool()
	boom := errors.New("boom")
	assert.Equal(t, boom, p.SafeCall(DescriptorManagement, func() error { return boom }))

	p.SetQueueFamily(0)
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.SafeQueueCall(0, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, counter)

	// an unknown family gets its own lock
	assert.NoError(t, p.SafeQueueCall(3, func() error { return nil }))
}

func TestPassKey(t *testing.T) {
	key, err := passKey([]driver.Format{driver.FormatRGBA8Unorm, driver.FormatRGBA16Float}, driver.FormatD32Float, true)
	require.NoError(t, err)
	assert.Equal(t, 2, key.count)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, key.colors[0])
	assert.Equal(t, vk.FormatR16g16b16a16Sfloat, key.colors[1])
	assert.True(t, key.hasDepth())
	assert.True(t, key.depthReadOnly)

	key, err = passKey([]driver.Format{driver.FormatBGRA8Unorm}, driver.FormatUnknown, true)
	require.NoError(t, err)
	assert.False(t, key.hasDepth())
	assert.False(t, key.depthReadOnly)

	_, err = passKey(make([]driver.Format, maxRenderTargets+1), driver.FormatUnknown, false)
	assert.Error(t, err)
	_, err = passKey([]driver.Format{driver.FormatUnknown}, driver.FormatUnknown, false)
	assert.True(t, errors.Is(err, driver.ErrNotSupported))
	_, err = passKey(nil, driver.FormatRGBA8Unorm, false)
	assert.Error(t, err)
}

func TestVertexKey(t *testing.T) {
	p := &pipelineState{}
	p.used[0] = true
	p.used[2] = true
	p.base.strides[0] = 12
	p.base.strides[2] = 8

	key := p.keyFor(driver.TopologyTriangleStrip, []uint32{32, 16, 0})
	assert.Equal(t, vk.PrimitiveTopologyTriangleStrip, key.topology)
	assert.Equal(t, uint32(32), key.strides[0])
	assert.Equal(t, uint32(0), key.strides[1], "unused slot")
	assert.Equal(t, uint32(8), key.strides[2], "zero stride keeps the layout stride")

	assert.Equal(t, key, p.keyFor(driver.TopologyTriangleStrip, []uint32{32, 4, 0}))
	assert.NotEqual(t, key, p.keyFor(driver.TopologyTriangleList, []uint32{32, 16, 0}))
}

func TestRootCompatibility(t *testing.T) {
	a := &rootSignature{pushSize: 16}
	b := &rootSignature{pushSize: 16}
	c := &rootSignature{pushSize: 8}
	assert.True(t, compatible(a, a))
	assert.True(t, compatible(a, b))
	assert.False(t, compatible(a, c))
}

func TestBufferImageCopy(t *testing.T) {
	im := &image{desc: driver.Texture2DDesc(driver.FormatRGBA8Unorm, 100, 20, 1, 2, 0)}
	fp := driver.PlacedFootprint{
		Offset:    512,
		Footprint: driver.SubresourceFootprint{Format: driver.FormatRGBA8Unorm, Width: 50, Height: 10, Depth: 1, RowPitch: 256},
	}
	r := bufferImageCopy(im, 1, fp)
	assert.Equal(t, vk.DeviceSize(512), r.BufferOffset)
	assert.Equal(t, uint32(64), r.BufferRowLength)
	assert.Equal(t, uint32(10), r.BufferImageHeight)
	assert.Equal(t, uint32(1), r.ImageSubresource.MipLevel)
	assert.Equal(t, vk.Extent3D{Width: 50, Height: 10, Depth: 1}, r.ImageExtent)
}

func TestSwapchainChoices(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, chooseSurfaceFormat(formats, vk.FormatR8g8b8a8Unorm).Format)
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, chooseSurfaceFormat(formats, vk.FormatR16g16b16a16Sfloat).Format)
	anyFormat := []vk.SurfaceFormat{{Format: vk.FormatUndefined}}
	assert.Equal(t, vk.FormatR16g16b16a16Sfloat, chooseSurfaceFormat(anyFormat, vk.FormatR16g16b16a16Sfloat).Format)

	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate, vk.PresentModeMailbox}
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(modes, 1))
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(modes, 0))
	assert.Equal(t, vk.PresentModeImmediate, choosePresentMode(modes[:2], 0))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(modes[:1], 0))

	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 2048},
		MinImageCount:  2,
		MaxImageCount:  3,
	}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 2048}, chooseExtent(caps, 800, 4000))
	caps.CurrentExtent = vk.Extent2D{Width: 640, Height: 480}
	assert.Equal(t, vk.Extent2D{Width: 640, Height: 480}, chooseExtent(caps, 800, 600))

	assert.Equal(t, uint32(2), chooseImageCount(caps, 1))
	assert.Equal(t, uint32(3), chooseImageCount(caps, 8))
	caps.MaxImageCount = 0
	assert.Equal(t, uint32(8), chooseImageCount(caps, 8))
}

func TestSwapChainDesc(t *testing.T) {
	ok := driver.SwapChainDesc{Width: 640, Height: 480, BufferCount: 2, Format: driver.FormatBGRA8Unorm}
	assert.NoError(t, validSwapChainDesc(ok))

	bad := ok
	bad.BufferCount = 1
	assert.Error(t, validSwapChainDesc(bad))
	bad = ok
	bad.Height = 0
	assert.Error(t, validSwapChainDesc(bad))
	bad = ok
	bad.Format = driver.FormatD32Float
	assert.True(t, errors.Is(validSwapChainDesc(bad), driver.ErrNotSupported))
}
