package vulkan

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// GPU is an open Vulkan device. Every queue kind is served by the graphics
// queue, so submission order is global.
type GPU struct {
	drv *Driver

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface
	Device    *VulkanDevice

	debugMessenger vk.DebugReportCallback

	locks  *VulkanLockPool
	limits driver.Limits
	caps   bindlessCaps

	queues [driver.QueueKindCount]*queue

	// submission tracking
	subMu      sync.Mutex
	submitted  uint64
	completed  atomic.Uint64
	inflight   []*submission
	freeFences []vk.Fence
	garbage    []retired

	heapsMu  sync.RWMutex
	heaps    map[uint32]*descriptorHeap
	nextHeap uint32

	addresses addressSpace
	passes    renderPassCache
	fbs       framebufferCache
	bindless  bindlessLayouts
	null      nullDescriptors

	// acquire is the semaphore signaled by the last image acquisition. The
	// next submission waits on it.
	acquireMu sync.Mutex
	acquire   vk.Semaphore

	lost    atomic.Pointer[error]
	lostCh  chan struct{}
	lostOne sync.Once
	closed  atomic.Bool
}

type submission struct {
	serial  uint64
	fence   vk.Fence
	waiters int
	done    bool
}

type retired struct {
	serial  uint64
	destroy func()
}

func newGPU(d *Driver, instance vk.Instance, messenger vk.DebugReportCallback, surface vk.Surface, device *VulkanDevice) (*GPU, error) {
	g := &GPU{
		drv:            d,
		Instance:       instance,
		Surface:        surface,
		Device:         device,
		debugMessenger: messenger,
		locks:          NewVulkanLockPool(),
		limits:         driver.DefaultLimits(),
		heaps:          make(map[uint32]*descriptorHeap),
		nextHeap:       1,
		lostCh:         make(chan struct{}),
	}
	g.locks.SetQueueFamily(uint32(device.GraphicsQueueIndex))
	g.addresses.init()
	g.passes.init()
	g.fbs.init()

	limits := device.Properties.Limits
	limits.Deref()
	g.limits.MaxTextureDimension2D = min(g.limits.MaxTextureDimension2D, limits.MaxImageDimension2D)
	g.limits.MaxTextureArrayLayers = min(g.limits.MaxTextureArrayLayers, limits.MaxImageArrayLayers)
	g.caps = newBindlessCaps(limits)

	for k := driver.QueueKind(0); k < driver.QueueKindCount; k++ {
		g.queues[k] = &queue{gpu: g, kind: k}
	}
	if err := g.bindless.create(g); err != nil {
		g.Close()
		return nil, err
	}
	if err := g.null.create(g); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *GPU) Driver() driver.Driver { return g.drv }

func (g *GPU) Name() string {
	return cString(g.Device.Properties.DeviceName[:])
}

func (g *GPU) Limits() driver.Limits { return g.limits }

func (g *GPU) CopyableFootprints(desc driver.ResourceDesc, first, num uint32, base uint64) driver.Footprints {
	return driver.ComputeFootprints(g.limits, desc, first, num, base)
}

func (g *GPU) Queue(kind driver.QueueKind) (driver.Queue, error) {
	if kind < 0 || kind >= driver.QueueKindCount {
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: queue kind %d", kind)
	}
	return g.queues[kind], nil
}

func (g *GPU) device() vk.Device { return g.Device.LogicalDevice }

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every property in propertyFlags, or -1.
func (g *GPU) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	memoryProperties := g.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	return -1
}

// allocateMemory tries each property set in order and allocates from the
// first memory type that matches.
func (g *GPU) allocateMemory(reqs vk.MemoryRequirements, candidates ...vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	reqs.Deref()
	index := int32(-1)
	for _, c := range candidates {
		if index = g.FindMemoryIndex(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(c)); index >= 0 {
			break
		}
	}
	if index < 0 {
		return vk.NullDeviceMemory, errors.Wrapf(driver.ErrNoDeviceMemory, "vulkan: no memory type for filter %#x", reqs.MemoryTypeBits)
	}
	var mem vk.DeviceMemory
	res := vk.AllocateMemory(g.device(), &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}, g.Allocator, &mem)
	if err := g.check(res, "vkAllocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	return mem, nil
}

// check converts res into an error and records a device loss.
func (g *GPU) check(res vk.Result, op string) error {
	err := resultError(res, op)
	if err != nil && res == vk.ErrorDeviceLost {
		g.lose(err)
	}
	return err
}

func (g *GPU) lose(err error) {
	g.lostOne.Do(func() {
		err = errors.Mark(err, driver.ErrDeviceLost)
		g.lost.Store(&err)
		close(g.lostCh)
		core.LogError("vulkan device lost: %s", err)
	})
}

func (g *GPU) Removed() error {
	if p := g.lost.Load(); p != nil {
		return *p
	}
	return nil
}

// submit hands batches to the graphics queue together with a fence that
// tracks their completion. An empty batch list only signals the fence once
// the work submitted before it is done.
func (g *GPU) submit(batches []vk.SubmitInfo) (uint64, error) {
	if err := g.Removed(); err != nil {
		return 0, err
	}
	g.subMu.Lock()
	defer g.subMu.Unlock()
	fence, err := g.fenceLocked()
	if err != nil {
		return 0, err
	}
	err = g.locks.SafeQueueCall(uint32(g.Device.GraphicsQueueIndex), func() error {
		return g.check(vk.QueueSubmit(g.Device.GraphicsQueue, uint32(len(batches)), batches, fence), "vkQueueSubmit")
	})
	if err != nil {
		g.freeFences = append(g.freeFences, fence)
		return 0, err
	}
	g.submitted++
	g.inflight = append(g.inflight, &submission{serial: g.submitted, fence: fence})
	return g.submitted, nil
}

func (g *GPU) fenceLocked() (vk.Fence, error) {
	if n := len(g.freeFences); n > 0 {
		f := g.freeFences[n-1]
		g.freeFences = g.freeFences[:n-1]
		return f, nil
	}
	var f vk.Fence
	res := vk.CreateFence(g.device(), &vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}, g.Allocator, &f)
	if err := g.check(res, "vkCreateFence"); err != nil {
		return vk.NullFence, err
	}
	return f, nil
}

func (g *GPU) recycleLocked(s *submission) {
	if res := vk.ResetFences(g.device(), 1, []vk.Fence{s.fence}); res != vk.Success {
		vk.DestroyFence(g.device(), s.fence, g.Allocator)
		return
	}
	g.freeFences = append(g.freeFences, s.fence)
}

// poll retires finished submissions in order and runs the destructors that
// were waiting for them.
func (g *GPU) poll() {
	g.subMu.Lock()
	for len(g.inflight) > 0 {
		s := g.inflight[0]
		res := vk.GetFenceStatus(g.device(), s.fence)
		if res == vk.NotReady {
			break
		}
		if res != vk.Success {
			g.subMu.Unlock()
			_ = g.check(res, "vkGetFenceStatus")
			return
		}
		g.inflight[0] = nil
		g.inflight = g.inflight[1:]
		g.completed.Store(s.serial)
		if s.waiters > 0 {
			s.done = true
		} else {
			g.recycleLocked(s)
		}
	}
	done := g.completed.Load()
	var run []func()
	keep := g.garbage[:0]
	for _, r := range g.garbage {
		if r.serial <= done {
			run = append(run, r.destroy)
		} else {
			keep = append(keep, r)
		}
	}
	g.garbage = keep
	g.subMu.Unlock()

	for _, fn := range run {
		fn()
	}
}

// waitSerial blocks until the submission with the given serial finished.
func (g *GPU) waitSerial(serial uint64, timeoutNs uint64) error {
	g.poll()
	g.subMu.Lock()
	if serial <= g.completed.Load() {
		g.subMu.Unlock()
		return nil
	}
	var s *submission
	for _, in := range g.inflight {
		if in.serial >= serial {
			s = in
			break
		}
	}
	if s == nil {
		g.subMu.Unlock()
		return errors.Newf("vulkan: serial %d was never submitted", serial)
	}
	s.waiters++
	g.subMu.Unlock()

	res := vk.WaitForFences(g.device(), 1, []vk.Fence{s.fence}, vk.True, timeoutNs)

	g.subMu.Lock()
	s.waiters--
	if s.done && s.waiters == 0 {
		g.recycleLocked(s)
	}
	g.subMu.Unlock()

	switch res {
	case vk.Success:
		g.poll()
		return nil
	case vk.Timeout:
		return errors.Wrapf(driver.ErrTimeout, "vulkan: submission %d still running", serial)
	}
	return g.check(res, "vkWaitForFences")
}

// retire runs destroy once the work submitted so far has finished.
func (g *GPU) retire(destroy func()) {
	g.subMu.Lock()
	g.garbage = append(g.garbage, retired{serial: g.submitted, destroy: destroy})
	g.subMu.Unlock()
	g.poll()
}

// idle waits for the device to drain and runs every pending destructor.
func (g *GPU) idle() {
	_ = g.locks.SafeQueueCall(uint32(g.Device.GraphicsQueueIndex), func() error {
		return g.check(vk.DeviceWaitIdle(g.device()), "vkDeviceWaitIdle")
	})
	g.poll()
}

func (g *GPU) takeAcquireSemaphore() vk.Semaphore {
	g.acquireMu.Lock()
	defer g.acquireMu.Unlock()
	s := g.acquire
	g.acquire = vk.NullSemaphore
	return s
}

func (g *GPU) setAcquireSemaphore(s vk.Semaphore) {
	g.acquireMu.Lock()
	g.acquire = s
	g.acquireMu.Unlock()
}

// EndSingleUse records fn into a one time command buffer, submits it and
// waits for the queue to go idle.
func (g *GPU) EndSingleUse(fn func(cb vk.CommandBuffer)) error {
	pool, err := g.createCommandPool(vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit))
	if err != nil {
		return err
	}
	defer vk.DestroyCommandPool(g.device(), pool, g.Allocator)

	cbs := make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(g.device(), &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cbs)
	if err := g.check(res, "vkAllocateCommandBuffers"); err != nil {
		return err
	}
	cb := cbs[0]
	res = vk.BeginCommandBuffer(cb, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := g.check(res, "vkBeginCommandBuffer"); err != nil {
		return err
	}
	fn(cb)
	if err := g.check(vk.EndCommandBuffer(cb), "vkEndCommandBuffer"); err != nil {
		return err
	}
	if _, err := g.submit([]vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cbs,
	}}); err != nil {
		return err
	}
	return g.locks.SafeQueueCall(uint32(g.Device.GraphicsQueueIndex), func() error {
		return g.check(vk.QueueWaitIdle(g.Device.GraphicsQueue), "vkQueueWaitIdle")
	})
}

func (g *GPU) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	if g.Device == nil || g.Device.LogicalDevice == nil {
		return
	}
	g.idle()
	g.null.destroy(g)
	g.bindless.destroy(g)
	g.fbs.destroy(g)
	g.passes.destroy(g)

	g.subMu.Lock()
	for _, s := range g.inflight {
		vk.DestroyFence(g.device(), s.fence, g.Allocator)
	}
	for _, f := range g.freeFences {
		vk.DestroyFence(g.device(), f, g.Allocator)
	}
	g.inflight, g.freeFences = nil, nil
	g.subMu.Unlock()

	DeviceDestroy(g)
	g.drv.release(g)
	core.LogInfo("Vulkan device closed.")
}

var (
	_ driver.GPU            = (*GPU)(nil)
	_ driver.Queue          = (*queue)(nil)
	_ driver.Fence          = (*fence)(nil)
	_ driver.CommandList    = (*commandList)(nil)
	_ driver.SwapChain      = (*swapchain)(nil)
	_ driver.Resource       = (*buffer)(nil)
	_ driver.Resource       = (*image)(nil)
	_ driver.DescriptorHeap = (*descriptorHeap)(nil)
)
