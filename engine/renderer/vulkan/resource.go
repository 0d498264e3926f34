package vulkan

import (
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

const (
	addressBase = 0x1_0000_0000
	addressPage = 0x1_0000
)

type buffer struct {
	gpu    *GPU
	desc   driver.ResourceDesc
	heap   driver.HeapType
	handle vk.Buffer
	memory vk.DeviceMemory
	va     uint64

	// mapped is the persistent mapping of upload and readback buffers.
	mapped []byte

	destroyed atomic.Bool
}

func (b *buffer) Desc() driver.ResourceDesc { return b.desc }
func (b *buffer) HeapType() driver.HeapType { return b.heap }
func (b *buffer) GPUVirtualAddress() uint64 { return b.va }

func (b *buffer) Map() ([]byte, error) {
	if b.destroyed.Load() {
		return nil, errors.New("vulkan: map of a destroyed buffer")
	}
	if b.mapped == nil {
		return nil, errors.Wrap(driver.ErrNotSupported, "vulkan: only upload and readback buffers can be mapped")
	}
	return b.mapped, nil
}

// Unmap is a no-op, host visible memory stays mapped until Destroy.
func (b *buffer) Unmap() {}

func (b *buffer) Destroy() {
	if !b.destroyed.CompareAndSwap(false, true) {
		return
	}
	g := b.gpu
	g.addresses.release(b.va)
	handle, memory, mapped := b.handle, b.memory, b.mapped != nil
	b.mapped = nil
	g.retire(func() {
		if mapped {
			vk.UnmapMemory(g.device(), memory)
		}
		vk.DestroyBuffer(g.device(), handle, g.Allocator)
		vk.FreeMemory(g.device(), memory, g.Allocator)
	})
}

func (g *GPU) NewCommittedResource(heap driver.HeapType, desc driver.ResourceDesc, initial driver.ResourceState, clear *driver.ClearValue) (driver.Resource, error) {
	if err := g.Removed(); err != nil {
		return nil, err
	}
	if !initial.Valid() {
		return nil, errors.Newf("vulkan: invalid initial state %s", initial)
	}
	switch heap {
	case driver.HeapTypeUpload:
		if initial != driver.StateGenericRead {
			return nil, errors.Newf("vulkan: upload heap resources must start in GENERIC_READ, got %s", initial)
		}
	case driver.HeapTypeReadback:
		if initial != driver.StateCopyDest {
			return nil, errors.Newf("vulkan: readback heap resources must start in COPY_DEST, got %s", initial)
		}
	}
	if clear != nil {
		if desc.Flags&(driver.ResourceFlagAllowRenderTarget|driver.ResourceFlagAllowDepthStencil) == 0 {
			return nil, errors.New("vulkan: clear value given for a resource that is neither render target nor depth stencil")
		}
		if clear.Format != desc.Format {
			return nil, errors.Newf("vulkan: clear value format %s does not match resource format %s", clear.Format, desc.Format)
		}
	}

	switch desc.Dimension {
	case driver.DimensionBuffer:
		return g.newBuffer(heap, desc)
	case driver.DimensionTexture2D:
		if heap != driver.HeapTypeDefault {
			return nil, errors.Wrap(driver.ErrNotSupported, "vulkan: textures must live in the default heap")
		}
		return g.newImage(desc, initial)
	}
	return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: dimension %d", desc.Dimension)
}

func (g *GPU) newBuffer(heap driver.HeapType, desc driver.ResourceDesc) (*buffer, error) {
	if desc.Width == 0 {
		return nil, errors.New("vulkan: zero sized buffer")
	}
	usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit
	var candidates []vk.MemoryPropertyFlagBits
	switch heap {
	case driver.HeapTypeDefault:
		usage |= vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit |
			vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit | vk.BufferUsageIndirectBufferBit
		candidates = []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit}
	case driver.HeapTypeUpload:
		usage |= vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit |
			vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit
		candidates = []vk.MemoryPropertyFlagBits{vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit}
	case driver.HeapTypeReadback:
		candidates = []vk.MemoryPropertyFlagBits{
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit,
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
		}
	default:
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: heap type %s", heap)
	}

	var handle vk.Buffer
	res := vk.CreateBuffer(g.device(), &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Width),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}, g.Allocator, &handle)
	if err := g.check(res, "vkCreateBuffer"); err != nil {
		return nil, err
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(g.device(), handle, &reqs)
	memory, err := g.allocateMemory(reqs, candidates...)
	if err != nil {
		vk.DestroyBuffer(g.device(), handle, g.Allocator)
		return nil, err
	}
	if err := g.check(vk.BindBufferMemory(g.device(), handle, memory, 0), "vkBindBufferMemory"); err != nil {
		vk.DestroyBuffer(g.device(), handle, g.Allocator)
		vk.FreeMemory(g.device(), memory, g.Allocator)
		return nil, err
	}

	b := &buffer{gpu: g, desc: desc, heap: heap, handle: handle, memory: memory}
	if heap != driver.HeapTypeDefault {
		var ptr unsafe.Pointer
		res := vk.MapMemory(g.device(), memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr)
		if err := g.check(res, "vkMapMemory"); err != nil {
			vk.DestroyBuffer(g.device(), handle, g.Allocator)
			vk.FreeMemory(g.device(), memory, g.Allocator)
			return nil, err
		}
		b.mapped = unsafe.Slice((*byte)(ptr), desc.Width)
	}
	b.va = g.addresses.reserve(b, desc.Width)
	return b, nil
}

func asBuffer(r driver.Resource) (*buffer, error) {
	b, ok := r.(*buffer)
	if !ok {
		return nil, errors.Newf("vulkan: %T is not a buffer", r)
	}
	if b.destroyed.Load() {
		return nil, errors.New("vulkan: use of a destroyed buffer")
	}
	return b, nil
}

// addressSpace hands out GPU virtual addresses and maps them back to
// buffers. Vulkan 1.1 has no buffer device address, so addresses are only
// meaningful to this driver.
type addressSpace struct {
	mu     sync.RWMutex
	next   uint64
	ranges []vaRange
}

type vaRange struct {
	base, size uint64
	buf        *buffer
}

func (a *addressSpace) init() {
	a.next = addressBase
}

func (a *addressSpace) reserve(b *buffer, size uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	base := a.next
	a.next += bmath.AlignUp(size, addressPage)
	a.ranges = append(a.ranges, vaRange{base: base, size: size, buf: b})
	return base
}

func (a *addressSpace) release(base uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].base >= base })
	if i < len(a.ranges) && a.ranges[i].base == base {
		a.ranges = append(a.ranges[:i], a.ranges[i+1:]...)
	}
}

// resolve returns the buffer containing va and the offset of va in it.
func (a *addressSpace) resolve(va uint64) (*buffer, uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].base > va }) - 1
	if i < 0 {
		return nil, 0, false
	}
	rg := a.ranges[i]
	if va-rg.base >= rg.size {
		return nil, 0, false
	}
	return rg.buf, va - rg.base, true
}
