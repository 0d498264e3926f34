package vulkan

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/core"
	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// backBuffer is a counted reference to a swap chain image. ResizeBuffers
// fails while any of them is alive.
type backBuffer struct {
	sc       *swapchain
	img      *image
	released atomic.Bool
}

func (b *backBuffer) Desc() driver.ResourceDesc { return b.img.desc }
func (b *backBuffer) HeapType() driver.HeapType { return driver.HeapTypeDefault }
func (b *backBuffer) GPUVirtualAddress() uint64 { return 0 }
func (b *backBuffer) Map() ([]byte, error)      { return b.img.Map() }
func (b *backBuffer) Unmap()                    {}

func (b *backBuffer) Destroy() {
	if b.released.CompareAndSwap(false, true) {
		b.sc.mu.Lock()
		b.sc.refs--
		b.sc.mu.Unlock()
	}
}

// swapchain presents from the graphics queue. One image is always acquired:
// the first submission after an acquisition waits on its semaphore.
type swapchain struct {
	gpu *GPU

	mu      sync.Mutex
	desc    driver.SwapChainDesc
	surface vk.SurfaceFormat
	mode    vk.PresentMode
	handle  vk.Swapchain
	images  []*image

	// acquireSems has one more entry than there are images. semSerial is
	// the submission that consumed each of them.
	acquireSems []vk.Semaphore
	semSerial   []uint64
	nextSem     int
	curSem      int
	renderDone  []vk.Semaphore

	current   uint32
	acquired  bool
	interval  uint32
	refs      int
	destroyed bool
}

func (g *GPU) NewSwapChain(q driver.Queue, desc driver.SwapChainDesc) (driver.SwapChain, error) {
	if g.Surface == vk.NullSurface {
		return nil, errors.Wrap(driver.ErrNotSupported, "vulkan: device was opened without a window surface")
	}
	vq, ok := q.(*queue)
	if !ok || vq == nil || vq.kind != driver.QueueDirect {
		return nil, errors.New("vulkan: swap chains present from the direct queue")
	}
	if err := validSwapChainDesc(desc); err != nil {
		return nil, err
	}
	sc := &swapchain{gpu: g, interval: 1}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.create(desc); err != nil {
		return nil, err
	}
	if err := sc.acquireNext(); err != nil {
		sc.release()
		return nil, err
	}
	core.LogInfo("Swapchain created: %dx%d, %d images.", sc.desc.Width, sc.desc.Height, sc.desc.BufferCount)
	return sc, nil
}

func validSwapChainDesc(desc driver.SwapChainDesc) error {
	if desc.BufferCount < 2 || desc.BufferCount > 16 {
		return errors.Newf("vulkan: swap chain needs 2 to 16 buffers, got %d", desc.BufferCount)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return errors.Newf("vulkan: swap chain extent %dx%d", desc.Width, desc.Height)
	}
	switch desc.Format {
	case driver.FormatRGBA8Unorm, driver.FormatBGRA8Unorm, driver.FormatRGBA16Float,
		driver.FormatRGBA8UnormSRGB, driver.FormatBGRA8UnormSRGB:
	default:
		return errors.Wrapf(driver.ErrNotSupported, "vulkan: swap chain format %s", desc.Format)
	}
	return nil
}

// chooseSurfaceFormat prefers want in the sRGB non linear color space and
// falls back to the first format the surface offers.
func chooseSurfaceFormat(formats []vk.SurfaceFormat, want vk.Format) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == want && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: want, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	}
	return formats[0]
}

// choosePresentMode maps a sync interval to a present mode. FIFO is always
// available.
func choosePresentMode(modes []vk.PresentMode, interval uint32) vk.PresentMode {
	if interval > 0 {
		return vk.PresentModeFifo
	}
	for _, want := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, m := range modes {
			if m == want {
				return m
			}
		}
	}
	return vk.PresentModeFifo
}

// chooseExtent uses the surface extent when the surface dictates one.
func chooseExtent(caps vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return vk.Extent2D{
		Width:  bmath.Clamp(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: bmath.Clamp(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func chooseImageCount(caps vk.SurfaceCapabilities, want uint32) uint32 {
	n := max(want, caps.MinImageCount)
	if caps.MaxImageCount > 0 && n > caps.MaxImageCount {
		n = caps.MaxImageCount
	}
	return n
}

func (g *GPU) createSemaphore() (vk.Semaphore, error) {
	var s vk.Semaphore
	res := vk.CreateSemaphore(g.device(), &vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}, g.Allocator, &s)
	if err := g.check(res, "vkCreateSemaphore"); err != nil {
		return vk.NullSemaphore, err
	}
	return s, nil
}

func (g *GPU) destroySemaphores(sems []vk.Semaphore) {
	for _, s := range sems {
		if s != vk.NullSemaphore {
			vk.DestroySemaphore(g.device(), s, g.Allocator)
		}
	}
}

// create builds the swap chain for desc, retiring the current one. The
// caller holds sc.mu and has drained the device.
func (sc *swapchain) create(desc driver.SwapChainDesc) error {
	g := sc.gpu
	support := &g.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(g.Device.PhysicalDevice, g.Surface, support); err != nil {
		return err
	}
	if len(support.Formats) == 0 {
		return errors.Wrap(driver.ErrNotSupported, "vulkan: surface reports no formats")
	}
	caps := support.Capabilities
	surface := chooseSurfaceFormat(support.Formats, vkFormat(desc.Format))
	mode := choosePresentMode(support.PresentModes, sc.interval)
	extent := chooseExtent(caps, desc.Width, desc.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return errors.Wrapf(driver.ErrSurfaceOutOfDate, "vulkan: surface extent is %dx%d", extent.Width, extent.Height)
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          g.Surface,
		MinImageCount:    chooseImageCount(caps, desc.BufferCount),
		ImageFormat:      surface.Format,
		ImageColorSpace:  surface.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit |
			vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit),
		PreTransform:   caps.CurrentTransform,
		CompositeAlpha: vk.CompositeAlphaOpaqueBit,
		PresentMode:    mode,
		Clipped:        vk.True,
		OldSwapchain:   sc.handle,
	}
	if g.Device.GraphicsQueueIndex != g.Device.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			uint32(g.Device.GraphicsQueueIndex),
			uint32(g.Device.PresentQueueIndex),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	err := g.locks.SafeCall(SwapchainManagement, func() error {
		return g.check(vk.CreateSwapchain(g.device(), &createInfo, g.Allocator, &handle), "vkCreateSwapchainKHR")
	})
	if err != nil {
		return err
	}
	sc.release()
	sc.handle = handle

	var count uint32
	if err := g.check(vk.GetSwapchainImages(g.device(), handle, &count, nil), "vkGetSwapchainImagesKHR"); err != nil {
		return err
	}
	handles := make([]vk.Image, count)
	if err := g.check(vk.GetSwapchainImages(g.device(), handle, &count, handles), "vkGetSwapchainImagesKHR"); err != nil {
		return err
	}

	format := driverFormat(surface.Format)
	if format == driver.FormatUnknown {
		format = desc.Format
	}
	sc.images = make([]*image, count)
	for i, h := range handles {
		sc.images[i] = &image{
			gpu:       g,
			desc:      driver.Texture2DDesc(format, uint64(extent.Width), extent.Height, 1, 1, driver.ResourceFlagAllowRenderTarget),
			handle:    h,
			format:    surface.Format,
			swapchain: true,
			undefined: true,
		}
	}
	// Back buffers start out presentable.
	err = g.EndSingleUse(func(cb vk.CommandBuffer) {
		barriers := make([]vk.ImageMemoryBarrier, 0, len(sc.images))
		for _, im := range sc.images {
			b, _, _ := imageBarrier(im, driver.AllSubresources, driver.StateCommon, driver.StatePresent)
			b.SrcAccessMask, b.DstAccessMask = 0, 0
			barriers = append(barriers, b)
		}
		vk.CmdPipelineBarrier(cb,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
	})
	if err != nil {
		return err
	}

	sc.acquireSems = make([]vk.Semaphore, count+1)
	sc.semSerial = make([]uint64, count+1)
	sc.renderDone = make([]vk.Semaphore, count)
	for i := range sc.acquireSems {
		if sc.acquireSems[i], err = g.createSemaphore(); err != nil {
			return err
		}
	}
	for i := range sc.renderDone {
		if sc.renderDone[i], err = g.createSemaphore(); err != nil {
			return err
		}
	}
	sc.nextSem = 0
	sc.current = 0
	sc.acquired = false
	sc.mode = mode
	sc.desc = driver.SwapChainDesc{
		Width:       extent.Width,
		Height:      extent.Height,
		BufferCount: count,
		Format:      format,
	}
	return nil
}

// release drops the images, semaphores and handle of the current swap
// chain. The device must be idle.
func (sc *swapchain) release() {
	g := sc.gpu
	for _, im := range sc.images {
		g.fbs.purgeImage(g, im)
	}
	sc.images = nil
	g.destroySemaphores(sc.acquireSems)
	g.destroySemaphores(sc.renderDone)
	sc.acquireSems, sc.semSerial, sc.renderDone = nil, nil, nil
	if sc.handle != vk.NullSwapchain {
		handle := sc.handle
		_ = g.locks.SafeCall(SwapchainManagement, func() error {
			vk.DestroySwapchain(g.device(), handle, g.Allocator)
			return nil
		})
		sc.handle = vk.NullSwapchain
	}
}

// acquireNext acquires the next image. Its semaphore is waited on by the
// next submission.
func (sc *swapchain) acquireNext() error {
	g := sc.gpu
	i := sc.nextSem
	if s := sc.semSerial[i]; s != 0 {
		// the previous wait on this semaphore has to finish before reuse
		if err := g.waitSerial(s, vk.MaxUint64); err != nil {
			return err
		}
	}
	var index uint32
	res := vk.AcquireNextImage(g.device(), sc.handle, vk.MaxUint64, sc.acquireSems[i], vk.NullFence, &index)
	switch res {
	case vk.Success, vk.Suboptimal:
	case vk.ErrorOutOfDate:
		sc.acquired = false
		return errors.Wrap(driver.ErrSurfaceOutOfDate, "vulkan: acquire")
	default:
		return g.check(res, "vkAcquireNextImageKHR")
	}
	sc.semSerial[i] = 0
	sc.curSem = i
	sc.nextSem = (i + 1) % len(sc.acquireSems)
	sc.current = index
	sc.acquired = true
	g.setAcquireSemaphore(sc.acquireSems[i])
	return nil
}

func (sc *swapchain) Desc() driver.SwapChainDesc {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.desc
}

func (sc *swapchain) CurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

func (sc *swapchain) Buffer(i uint32) (driver.Resource, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed {
		return nil, errors.New("vulkan: use of a destroyed swap chain")
	}
	if i >= uint32(len(sc.images)) {
		return nil, errors.Newf("vulkan: back buffer %d of %d", i, len(sc.images))
	}
	sc.refs++
	return &backBuffer{sc: sc, img: sc.images[i]}, nil
}

// Present queues the current image and acquires the next one. The present
// mode follows the last sync interval the next time the swap chain is
// rebuilt.
func (sc *swapchain) Present(syncInterval uint32) error {
	g := sc.gpu
	if err := g.Removed(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed {
		return errors.New("vulkan: present on a destroyed swap chain")
	}
	sc.interval = syncInterval
	if !sc.acquired {
		if err := sc.acquireNext(); err != nil {
			return err
		}
	}

	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{sc.renderDone[sc.current]},
	}
	if sem := g.takeAcquireSemaphore(); sem != vk.NullSemaphore {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sem}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)}
	}
	serial, err := g.submit([]vk.SubmitInfo{info})
	if err != nil {
		return err
	}
	sc.semSerial[sc.curSem] = serial
	sc.acquired = false

	var res vk.Result
	_ = g.locks.SafeQueueCall(uint32(g.Device.PresentQueueIndex), func() error {
		res = vk.QueuePresent(g.Device.PresentQueue, &vk.PresentInfo{
			SType:              vk.StructureTypePresentInfo,
			WaitSemaphoreCount: 1,
			PWaitSemaphores:    []vk.Semaphore{sc.renderDone[sc.current]},
			SwapchainCount:     1,
			PSwapchains:        []vk.Swapchain{sc.handle},
			PImageIndices:      []uint32{sc.current},
		})
		return nil
	})
	switch res {
	case vk.Success:
	case vk.Suboptimal:
		core.LogDebug("vulkan: swap chain is suboptimal for the surface")
	case vk.ErrorOutOfDate:
		return errors.Wrap(driver.ErrSurfaceOutOfDate, "vulkan: present")
	default:
		return g.check(res, "vkQueuePresentKHR")
	}
	return sc.acquireNext()
}

// drain consumes a pending acquisition so its semaphore can be destroyed.
func (sc *swapchain) drain() {
	g := sc.gpu
	if sem := g.takeAcquireSemaphore(); sem != vk.NullSemaphore {
		_, _ = g.submit([]vk.SubmitInfo{{
			SType:              vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount: 1,
			PWaitSemaphores:    []vk.Semaphore{sem},
			PWaitDstStageMask:  []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)},
		}})
	}
	g.idle()
}

func (sc *swapchain) ResizeBuffers(count, width, height uint32, format driver.Format) error {
	g := sc.gpu
	if err := g.Removed(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed {
		return errors.New("vulkan: resize of a destroyed swap chain")
	}
	if sc.refs > 0 {
		return errors.Wrapf(driver.ErrInUse, "vulkan: %d back buffer references alive", sc.refs)
	}
	desc := sc.desc
	if count != 0 {
		desc.BufferCount = count
	}
	if width != 0 && height != 0 {
		desc.Width, desc.Height = width, height
	}
	if format != driver.FormatUnknown {
		desc.Format = format
	}
	if err := validSwapChainDesc(desc); err != nil {
		return err
	}
	sc.drain()
	if err := sc.create(desc); err != nil {
		return err
	}
	core.LogDebug("Swapchain resized to %dx%d.", sc.desc.Width, sc.desc.Height)
	return sc.acquireNext()
}

func (sc *swapchain) Destroy() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed {
		return
	}
	sc.destroyed = true
	sc.drain()
	sc.release()
}
