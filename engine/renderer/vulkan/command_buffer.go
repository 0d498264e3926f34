package vulkan

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func (g *GPU) createCommandPool(flags vk.CommandPoolCreateFlags) (vk.CommandPool, error) {
	var pool vk.CommandPool
	res := vk.CreateCommandPool(g.device(), &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            flags,
		QueueFamilyIndex: uint32(g.Device.GraphicsQueueIndex),
	}, g.Allocator, &pool)
	if err := g.check(res, "vkCreateCommandPool"); err != nil {
		return vk.NullCommandPool, err
	}
	return pool, nil
}

func NewVulkanCommandBuffer(g *GPU, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := g.check(vk.AllocateCommandBuffers(g.device(), &allocateInfo, handles), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY
	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Begin(g *GPU) error {
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := g.check(vk.BeginCommandBuffer(v.Handle, vBeginInfo), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End(g *GPU) error {
	if err := g.check(vk.EndCommandBuffer(v.Handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// commandAllocator owns a command pool. Every list reset against it takes a
// fresh command buffer, buffers are recycled when the allocator is reset.
type commandAllocator struct {
	gpu  *GPU
	kind driver.QueueKind

	mu      sync.Mutex
	pool    vk.CommandPool
	buffers []*VulkanCommandBuffer
	next    int

	// lastSerial is the submission that last executed a list recorded
	// from this allocator.
	lastSerial atomic.Uint64
	// open counts lists recording from this allocator.
	open      atomic.Int32
	destroyed atomic.Bool
}

func (a *commandAllocator) Kind() driver.QueueKind { return a.kind }

func (a *commandAllocator) Reset() error {
	if n := a.open.Load(); n > 0 {
		return errors.Wrapf(driver.ErrInUse, "vulkan: allocator reset with %d lists recording", n)
	}
	g := a.gpu
	g.poll()
	if s := a.lastSerial.Load(); s > g.completed.Load() {
		return errors.Wrapf(driver.ErrInUse, "vulkan: allocator reset while submission %d is executing", s)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err := g.locks.SafeCall(CommandPoolManagement, func() error {
		return g.check(vk.ResetCommandPool(g.device(), a.pool, 0), "vkResetCommandPool")
	})
	if err != nil {
		return err
	}
	for _, cb := range a.buffers {
		cb.State = COMMAND_BUFFER_STATE_READY
	}
	a.next = 0
	return nil
}

// acquire hands out a command buffer that is not referenced by any list
// since the last reset.
func (a *commandAllocator) acquire() (*VulkanCommandBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed.Load() {
		return nil, errors.New("vulkan: use of a destroyed command allocator")
	}
	if a.next < len(a.buffers) {
		cb := a.buffers[a.next]
		a.next++
		return cb, nil
	}
	var cb *VulkanCommandBuffer
	err := a.gpu.locks.SafeCall(CommandPoolManagement, func() error {
		var err error
		cb, err = NewVulkanCommandBuffer(a.gpu, a.pool)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.buffers = append(a.buffers, cb)
	a.next++
	return cb, nil
}

func (a *commandAllocator) Destroy() {
	if !a.destroyed.CompareAndSwap(false, true) {
		return
	}
	g := a.gpu
	a.mu.Lock()
	pool := a.pool
	a.buffers = nil
	a.mu.Unlock()
	// destroying the pool frees its buffers
	g.retire(func() {
		vk.DestroyCommandPool(g.device(), pool, g.Allocator)
	})
}

func (g *GPU) NewCommandAllocator(kind driver.QueueKind) (driver.CommandAllocator, error) {
	if kind < 0 || kind >= driver.QueueKindCount {
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: queue kind %d", kind)
	}
	if err := g.Removed(); err != nil {
		return nil, err
	}
	pool, err := g.createCommandPool(0)
	if err != nil {
		return nil, err
	}
	return &commandAllocator{gpu: g, kind: kind, pool: pool}, nil
}
