package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// Handles encode the heap id in the upper half and the slot times the
// increment in the lower half. GPU handles additionally set gpuHandleBit.
const (
	descriptorSize = 32
	gpuHandleBit   = 1 << 62

	maxBindless        = 4096
	maxBindlessSampler = 2048

	lodClampNone = 1000
)

// Bindings of the resource set (set 0). The sampler set (set 1) has a single
// sampler array at binding 0.
const (
	bindingUniform uint32 = iota
	bindingSampled
	bindingStorageBuffer
	bindingStorageImage
	bindingCount
)

const (
	setResources = 0
	setSamplers  = 1
	setStatic    = 2
)

var bindingTypes = [bindingCount]vk.DescriptorType{
	bindingUniform:       vk.DescriptorTypeUniformBuffer,
	bindingSampled:       vk.DescriptorTypeSampledImage,
	bindingStorageBuffer: vk.DescriptorTypeStorageBuffer,
	bindingStorageImage:  vk.DescriptorTypeStorageImage,
}

func encodeHandle(heap, index uint32) uint64 {
	return uint64(heap)<<32 | uint64(index)*descriptorSize
}

func decodeHandle(ptr uint64) (heap, index uint32, ok bool) {
	ptr &^= gpuHandleBit
	off := uint32(ptr)
	if off%descriptorSize != 0 {
		return 0, 0, false
	}
	return uint32(ptr >> 32), off / descriptorSize, true
}

// bindlessCaps are the array sizes of the bindless bindings. Slots past a
// cap can hold descriptors but cannot be written into a shader visible heap.
type bindlessCaps struct {
	bindings [bindingCount]uint32
	samplers uint32
}

func newBindlessCaps(limits vk.PhysicalDeviceLimits) bindlessCaps {
	var c bindlessCaps
	c.bindings[bindingUniform] = max(1, min(maxBindless, limits.MaxPerStageDescriptorUniformBuffers, limits.MaxDescriptorSetUniformBuffers))
	c.bindings[bindingSampled] = max(1, min(maxBindless, limits.MaxPerStageDescriptorSampledImages, limits.MaxDescriptorSetSampledImages))
	c.bindings[bindingStorageBuffer] = max(1, min(maxBindless, limits.MaxPerStageDescriptorStorageBuffers, limits.MaxDescriptorSetStorageBuffers))
	c.bindings[bindingStorageImage] = max(1, min(maxBindless, limits.MaxPerStageDescriptorStorageImages, limits.MaxDescriptorSetStorageImages))
	c.samplers = max(1, min(maxBindlessSampler, limits.MaxPerStageDescriptorSamplers, limits.MaxDescriptorSetSamplers))

	var total uint64
	for _, n := range c.bindings {
		total += uint64(n)
	}
	if limit := uint64(limits.MaxPerStageResources); limit > 0 && total > limit {
		for i, n := range c.bindings {
			c.bindings[i] = max(1, uint32(uint64(n)*limit/total))
		}
	}
	return c
}

// bindlessLayouts are shared by every shader visible heap and root signature.
type bindlessLayouts struct {
	resources vk.DescriptorSetLayout
	samplers  vk.DescriptorSetLayout
}

func (l *bindlessLayouts) create(g *GPU) error {
	stages := shaderStages(driver.VisibilityAll)
	bindings := make([]vk.DescriptorSetLayoutBinding, bindingCount)
	for b := range bindings {
		bindings[b] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(b),
			DescriptorType:  bindingTypes[b],
			DescriptorCount: g.caps.bindings[b],
			StageFlags:      stages,
		}
	}
	var err error
	if l.resources, err = g.createSetLayout(bindings); err != nil {
		return err
	}
	l.samplers, err = g.createSetLayout([]vk.DescriptorSetLayoutBinding{{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeSampler,
		DescriptorCount: g.caps.samplers,
		StageFlags:      stages,
	}})
	return err
}

func (l *bindlessLayouts) destroy(g *GPU) {
	if l.resources != nil {
		vk.DestroyDescriptorSetLayout(g.device(), l.resources, g.Allocator)
		l.resources = nil
	}
	if l.samplers != nil {
		vk.DestroyDescriptorSetLayout(g.device(), l.samplers, g.Allocator)
		l.samplers = nil
	}
}

func (g *GPU) createSetLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	var layout vk.DescriptorSetLayout
	res := vk.CreateDescriptorSetLayout(g.device(), &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, g.Allocator, &layout)
	if err := g.check(res, "vkCreateDescriptorSetLayout"); err != nil {
		return nil, err
	}
	return layout, nil
}

// allocateSet creates a pool holding exactly one set of layout.
func (g *GPU) allocateSet(layout vk.DescriptorSetLayout, sizes []vk.DescriptorPoolSize) (vk.DescriptorPool, vk.DescriptorSet, error) {
	var pool vk.DescriptorPool
	res := vk.CreateDescriptorPool(g.device(), &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, g.Allocator, &pool)
	if err := g.check(res, "vkCreateDescriptorPool"); err != nil {
		return nil, nil, err
	}
	var set vk.DescriptorSet
	res = vk.AllocateDescriptorSets(g.device(), &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}, &set)
	if err := g.check(res, "vkAllocateDescriptorSets"); err != nil {
		vk.DestroyDescriptorPool(g.device(), pool, g.Allocator)
		return nil, nil, err
	}
	return pool, set, nil
}

func (g *GPU) resourceSet() (vk.DescriptorPool, vk.DescriptorSet, error) {
	sizes := make([]vk.DescriptorPoolSize, bindingCount)
	for b := range sizes {
		sizes[b] = vk.DescriptorPoolSize{Type: bindingTypes[b], DescriptorCount: g.caps.bindings[b]}
	}
	return g.allocateSet(g.bindless.resources, sizes)
}

func (g *GPU) samplerSet() (vk.DescriptorPool, vk.DescriptorSet, error) {
	return g.allocateSet(g.bindless.samplers, []vk.DescriptorPoolSize{{
		Type:            vk.DescriptorTypeSampler,
		DescriptorCount: g.caps.samplers,
	}})
}

// nullDescriptors back every bindless slot that holds nothing, so the sets
// are always fully written. They also serve draws recorded without a bound
// heap.
type nullDescriptors struct {
	buf     *buffer
	img     *image
	view    vk.ImageView
	sampler vk.Sampler

	pools     []vk.DescriptorPool
	resources vk.DescriptorSet
	samplers  vk.DescriptorSet
}

const nullBufferSize = 256

func (n *nullDescriptors) create(g *GPU) error {
	var err error
	if n.buf, err = g.newBuffer(driver.HeapTypeDefault, driver.BufferDesc(nullBufferSize, driver.ResourceFlagAllowUnordered)); err != nil {
		return err
	}
	n.img, err = g.newImage(driver.ResourceDesc{
		Dimension:        driver.DimensionTexture2D,
		Width:            1,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           driver.FormatRGBA8Unorm,
		Flags:            driver.ResourceFlagAllowUnordered,
	}, driver.StateUnorderedAccess)
	if err != nil {
		return err
	}
	if n.view, err = g.createImageView(n.img, n.img.format, vk.ImageViewType2d, subresourceRange(n.img.desc, driver.AllSubresources)); err != nil {
		return err
	}
	if n.sampler, err = g.createSampler(driver.SamplerDesc{}); err != nil {
		return err
	}

	pool, set, err := g.resourceSet()
	if err != nil {
		return err
	}
	n.pools = append(n.pools, pool)
	n.resources = set
	if pool, set, err = g.samplerSet(); err != nil {
		return err
	}
	n.pools = append(n.pools, pool)
	n.samplers = set
	n.fill(g, n.resources, n.samplers)
	return nil
}

func (n *nullDescriptors) bufferInfo() vk.DescriptorBufferInfo {
	return vk.DescriptorBufferInfo{Buffer: n.buf.handle, Offset: 0, Range: nullBufferSize}
}

func (n *nullDescriptors) imageInfo() vk.DescriptorImageInfo {
	return vk.DescriptorImageInfo{ImageView: n.view, ImageLayout: vk.ImageLayoutGeneral}
}

// fill writes the null descriptor into every element of the given sets.
// Either set may be nil.
func (n *nullDescriptors) fill(g *GPU, resources, samplers vk.DescriptorSet) {
	var writes []vk.WriteDescriptorSet
	if resources != nil {
		for b := uint32(0); b < bindingCount; b++ {
			count := g.caps.bindings[b]
			w := vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          resources,
				DstBinding:      b,
				DescriptorCount: count,
				DescriptorType:  bindingTypes[b],
			}
			switch b {
			case bindingUniform, bindingStorageBuffer:
				infos := make([]vk.DescriptorBufferInfo, count)
				for i := range infos {
					infos[i] = n.bufferInfo()
				}
				w.PBufferInfo = infos
			default:
				infos := make([]vk.DescriptorImageInfo, count)
				for i := range infos {
					infos[i] = n.imageInfo()
				}
				w.PImageInfo = infos
			}
			writes = append(writes, w)
		}
	}
	if samplers != nil {
		infos := make([]vk.DescriptorImageInfo, g.caps.samplers)
		for i := range infos {
			infos[i] = vk.DescriptorImageInfo{Sampler: n.sampler}
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          samplers,
			DstBinding:      0,
			DescriptorCount: g.caps.samplers,
			DescriptorType:  vk.DescriptorTypeSampler,
			PImageInfo:      infos,
		})
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(g.device(), uint32(len(writes)), writes, 0, nil)
	}
}

func (n *nullDescriptors) destroy(g *GPU) {
	for _, p := range n.pools {
		vk.DestroyDescriptorPool(g.device(), p, g.Allocator)
	}
	n.pools = nil
	if n.sampler != nil {
		vk.DestroySampler(g.device(), n.sampler, g.Allocator)
		n.sampler = nil
	}
	if n.view != nil {
		vk.DestroyImageView(g.device(), n.view, g.Allocator)
		n.view = nil
	}
	if n.img != nil {
		vk.DestroyImage(g.device(), n.img.handle, g.Allocator)
		vk.FreeMemory(g.device(), n.img.memory, g.Allocator)
		n.img = nil
	}
	if n.buf != nil {
		g.addresses.release(n.buf.va)
		vk.DestroyBuffer(g.device(), n.buf.handle, g.Allocator)
		vk.FreeMemory(g.device(), n.buf.memory, g.Allocator)
		n.buf = nil
	}
}

type viewKind int

const (
	viewNone viewKind = iota
	viewCBV
	viewSRV
	viewUAV
	viewRTV
	viewDSV
	viewSampler
)

// descriptor is what a heap slot holds. Image views and samplers are owned
// by the slot and destroyed when it is overwritten.
type descriptor struct {
	kind viewKind

	buf    *buffer
	offset uint64
	size   uint64

	img     *image
	view    vk.ImageView
	rng     vk.ImageSubresourceRange
	layout  vk.ImageLayout
	sampler vk.Sampler

	format   driver.Format
	extent   vk.Extent2D
	readOnly bool
}

// binding returns the resource set binding the descriptor is written to.
func (d descriptor) binding() (uint32, bool) {
	switch d.kind {
	case viewCBV:
		return bindingUniform, true
	case viewSRV:
		if d.buf != nil {
			return bindingStorageBuffer, true
		}
		return bindingSampled, true
	case viewUAV:
		if d.buf != nil {
			return bindingStorageBuffer, true
		}
		return bindingStorageImage, true
	}
	return 0, false
}

type descriptorHeap struct {
	gpu  *GPU
	desc driver.DescriptorHeapDesc
	id   uint32

	mu    sync.RWMutex
	slots []descriptor
	dead  bool

	pool vk.DescriptorPool
	set  vk.DescriptorSet
}

func (h *descriptorHeap) Desc() driver.DescriptorHeapDesc { return h.desc }

func (h *descriptorHeap) CPUStart() driver.CPUHandle {
	return driver.CPUHandle{Ptr: encodeHandle(h.id, 0)}
}

func (h *descriptorHeap) GPUStart() driver.GPUHandle {
	if !h.desc.ShaderVisible {
		return driver.GPUHandle{}
	}
	return driver.GPUHandle{Ptr: encodeHandle(h.id, 0) | gpuHandleBit}
}

func (h *descriptorHeap) Destroy() {
	h.mu.Lock()
	if h.dead {
		h.mu.Unlock()
		return
	}
	h.dead = true
	slots := h.slots
	h.slots = nil
	pool := h.pool
	h.mu.Unlock()

	g := h.gpu
	g.heapsMu.Lock()
	delete(g.heaps, h.id)
	g.heapsMu.Unlock()

	for _, d := range slots {
		g.releaseDescriptor(d)
	}
	if pool != nil {
		g.retire(func() { vk.DestroyDescriptorPool(g.device(), pool, g.Allocator) })
	}
}

func (g *GPU) DescriptorIncrementSize(kind driver.HeapKind) uint32 {
	return descriptorSize
}

func (g *GPU) NewDescriptorHeap(desc driver.DescriptorHeapDesc) (driver.DescriptorHeap, error) {
	if desc.Capacity == 0 {
		return nil, errors.Wrap(driver.ErrNotSupported, "vulkan: descriptor heap capacity must not be zero")
	}
	if desc.ShaderVisible && !desc.Kind.ShaderVisible() {
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: %s heaps cannot be shader visible", desc.Kind)
	}
	h := &descriptorHeap{gpu: g, desc: desc, slots: make([]descriptor, desc.Capacity)}
	if desc.ShaderVisible {
		var err error
		switch desc.Kind {
		case driver.HeapCBVSRVUAV:
			h.pool, h.set, err = g.resourceSet()
			if err == nil {
				g.null.fill(g, h.set, nil)
			}
		case driver.HeapSampler:
			h.pool, h.set, err = g.samplerSet()
			if err == nil {
				g.null.fill(g, nil, h.set)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	g.heapsMu.Lock()
	h.id = g.nextHeap
	g.nextHeap++
	g.heaps[h.id] = h
	g.heapsMu.Unlock()
	return h, nil
}

// resolveHandle maps a CPU or GPU handle to its heap and slot.
func (g *GPU) resolveHandle(ptr uint64) (*descriptorHeap, uint32, error) {
	id, index, ok := decodeHandle(ptr)
	if !ok {
		return nil, 0, errors.Wrapf(driver.ErrInvalidHandle, "vulkan: handle %#x", ptr)
	}
	g.heapsMu.RLock()
	h := g.heaps[id]
	g.heapsMu.RUnlock()
	if h == nil || index >= h.desc.Capacity {
		return nil, 0, errors.Wrapf(driver.ErrInvalidHandle, "vulkan: handle %#x is not a slot of a live heap", ptr)
	}
	return h, index, nil
}

// lookup returns the descriptor held at handle, which must be of kind want.
func (g *GPU) lookup(handle driver.CPUHandle, want viewKind) (descriptor, error) {
	h, i, err := g.resolveHandle(handle.Ptr)
	if err != nil {
		return descriptor{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.dead || h.slots[i].kind != want {
		return descriptor{}, errors.Wrapf(driver.ErrInvalidHandle, "vulkan: handle %#x holds no view of the expected kind", handle.Ptr)
	}
	return h.slots[i], nil
}

// write stores d at dst and mirrors it into the descriptor set of shader
// visible heaps. The previous content of the slot is released.
func (g *GPU) write(dst driver.CPUHandle, kind driver.HeapKind, d descriptor) error {
	h, i, err := g.resolveHandle(dst.Ptr)
	if err != nil {
		g.releaseDescriptor(d)
		return err
	}
	if h.desc.Kind != kind {
		g.releaseDescriptor(d)
		return errors.Wrapf(driver.ErrInvalidHandle, "vulkan: handle %#x is in a %s heap, want %s", dst.Ptr, h.desc.Kind, kind)
	}

	h.mu.Lock()
	if h.dead {
		h.mu.Unlock()
		g.releaseDescriptor(d)
		return errors.Wrap(driver.ErrInvalidHandle, "vulkan: write into a destroyed heap")
	}
	if h.set != nil {
		if err := g.writeSet(h.set, i, h.slots[i], d); err != nil {
			h.mu.Unlock()
			g.releaseDescriptor(d)
			return err
		}
	}
	old := h.slots[i]
	h.slots[i] = d
	h.mu.Unlock()

	g.releaseDescriptor(old)
	return nil
}

// writeSet updates element i of set from old to d. When d lands in another
// binding than old, old's element is reset to the null descriptor.
func (g *GPU) writeSet(set vk.DescriptorSet, i uint32, old, d descriptor) error {
	if d.kind == viewSampler {
		if i >= g.caps.samplers {
			return errors.Wrapf(driver.ErrNotSupported, "vulkan: sampler slot %d exceeds the %d bindable samplers", i, g.caps.samplers)
		}
		vk.UpdateDescriptorSets(g.device(), 1, []vk.WriteDescriptorSet{{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      0,
			DstArrayElement: i,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeSampler,
			PImageInfo:      []vk.DescriptorImageInfo{{Sampler: d.sampler}},
		}}, 0, nil)
		return nil
	}

	b, ok := d.binding()
	if !ok {
		return nil
	}
	if i >= g.caps.bindings[b] {
		return errors.Wrapf(driver.ErrNotSupported, "vulkan: slot %d exceeds the %d descriptors of binding %d", i, g.caps.bindings[b], b)
	}
	writes := []vk.WriteDescriptorSet{g.elementWrite(set, b, i, d)}
	if ob, ok := old.binding(); ok && ob != b && i < g.caps.bindings[ob] {
		writes = append(writes, g.elementWrite(set, ob, i, descriptor{}))
	}
	vk.UpdateDescriptorSets(g.device(), uint32(len(writes)), writes, 0, nil)
	return nil
}

// elementWrite writes d, or the null descriptor when d is empty, to one
// array element.
func (g *GPU) elementWrite(set vk.DescriptorSet, b, i uint32, d descriptor) vk.WriteDescriptorSet {
	w := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      b,
		DstArrayElement: i,
		DescriptorCount: 1,
		DescriptorType:  bindingTypes[b],
	}
	switch b {
	case bindingUniform, bindingStorageBuffer:
		info := g.null.bufferInfo()
		if d.buf != nil {
			info = vk.DescriptorBufferInfo{Buffer: d.buf.handle, Offset: vk.DeviceSize(d.offset), Range: vk.DeviceSize(d.size)}
		}
		w.PBufferInfo = []vk.DescriptorBufferInfo{info}
	default:
		info := g.null.imageInfo()
		if d.view != nil {
			info = vk.DescriptorImageInfo{ImageView: d.view, ImageLayout: d.layout}
		}
		w.PImageInfo = []vk.DescriptorImageInfo{info}
	}
	return w
}

// releaseDescriptor destroys what d owns once pending work is done.
func (g *GPU) releaseDescriptor(d descriptor) {
	view, sampler := d.view, d.sampler
	if view == nil && sampler == nil {
		return
	}
	if view != nil {
		g.fbs.purgeView(g, view)
	}
	g.retire(func() {
		if view != nil {
			vk.DestroyImageView(g.device(), view, g.Allocator)
		}
		if sampler != nil {
			vk.DestroySampler(g.device(), sampler, g.Allocator)
		}
	})
}

func (g *GPU) createImageView(im *image, format vk.Format, viewType vk.ImageViewType, rng vk.ImageSubresourceRange) (vk.ImageView, error) {
	var view vk.ImageView
	res := vk.CreateImageView(g.device(), &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    im.handle,
		ViewType: viewType,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: rng,
	}, g.Allocator, &view)
	if err := g.check(res, "vkCreateImageView"); err != nil {
		return nil, err
	}
	return view, nil
}

// viewFormat resolves the format of a view, FormatUnknown meaning the
// resource's own format.
func viewFormat(im *image, f driver.Format) (driver.Format, vk.Format, error) {
	if f == driver.FormatUnknown {
		f = im.desc.Format
	}
	vf := vkFormat(f)
	if vf == vk.FormatUndefined {
		return f, vf, errors.Wrapf(driver.ErrNotSupported, "vulkan: view format %s", f)
	}
	return f, vf, nil
}

// subrange clamps a mip and slice window to the image. Zero counts mean
// every remaining mip or slice.
func subrange(im *image, aspect vk.ImageAspectFlags, mip, mips, slice, slices uint32) (vk.ImageSubresourceRange, error) {
	total, layers := uint32(im.desc.MipLevels), uint32(im.desc.DepthOrArraySize)
	if mip >= total || slice >= layers {
		return vk.ImageSubresourceRange{}, errors.Newf("vulkan: view of mip %d slice %d is outside %d mips and %d slices", mip, slice, total, layers)
	}
	if mips == 0 || mip+mips > total {
		mips = total - mip
	}
	if slices == 0 || slice+slices > layers {
		slices = layers - slice
	}
	return vk.ImageSubresourceRange{
		AspectMask:     aspect,
		BaseMipLevel:   mip,
		LevelCount:     mips,
		BaseArrayLayer: slice,
		LayerCount:     slices,
	}, nil
}

func (g *GPU) CreateConstantBufferView(desc driver.ConstantBufferViewDesc, dst driver.CPUHandle) error {
	align := g.limits.ConstantBufferAlignment
	if uint64(desc.SizeInBytes)%align != 0 {
		return errors.Newf("vulkan: constant buffer view size %d is not a multiple of %d", desc.SizeInBytes, align)
	}
	if desc.BufferLocation%align != 0 {
		return errors.Newf("vulkan: constant buffer view address %#x is not %d byte aligned", desc.BufferLocation, align)
	}
	buf, off, ok := g.addresses.resolve(desc.BufferLocation)
	if !ok || off+uint64(desc.SizeInBytes) > buf.desc.Width {
		return errors.Wrapf(driver.ErrInvalidHandle, "vulkan: constant buffer view [%#x, +%d) is outside any buffer", desc.BufferLocation, desc.SizeInBytes)
	}
	return g.write(dst, driver.HeapCBVSRVUAV, descriptor{
		kind:   viewCBV,
		buf:    buf,
		offset: off,
		size:   uint64(desc.SizeInBytes),
	})
}

// bufferWindow is the byte range of a structured, raw or typed buffer view.
func bufferWindow(buf *buffer, format driver.Format, first uint64, num, stride uint32, raw bool) (uint64, uint64, error) {
	switch {
	case raw:
		stride = 4
	case stride == 0:
		stride = max(format.BytesPerPixel(), 1)
	}
	offset := first * uint64(stride)
	size := uint64(num) * uint64(stride)
	if num == 0 {
		size = bmath.AlignUp(buf.desc.Width, 4) - offset
	}
	if offset >= buf.desc.Width || offset+size > bmath.AlignUp(buf.desc.Width, 4) {
		return 0, 0, errors.Newf("vulkan: buffer view [%d, +%d) is outside the %d byte buffer", offset, size, buf.desc.Width)
	}
	return offset, min(size, buf.desc.Width-offset), nil
}

func (g *GPU) CreateShaderResourceView(r driver.Resource, desc *driver.ShaderResourceViewDesc, dst driver.CPUHandle) error {
	if r == nil {
		return errors.New("vulkan: nil resource")
	}
	if r.Desc().Flags&driver.ResourceFlagDenyShaderResource != 0 {
		return errors.Newf("vulkan: resource %p denies shader resource views", r)
	}
	var v driver.ShaderResourceViewDesc
	if desc != nil {
		v = *desc
	}

	if r.Desc().Dimension == driver.DimensionBuffer {
		buf, err := asBuffer(r)
		if err != nil {
			return err
		}
		offset, size, err := bufferWindow(buf, v.Format, v.FirstElement, v.NumElements, v.StructureByteStride, v.Raw)
		if err != nil {
			return err
		}
		return g.write(dst, driver.HeapCBVSRVUAV, descriptor{kind: viewSRV, buf: buf, offset: offset, size: size})
	}

	im, err := asImage(r)
	if err != nil {
		return err
	}
	format, vf, err := viewFormat(im, v.Format)
	if err != nil {
		return err
	}
	viewType := vk.ImageViewType2d
	switch {
	case desc == nil && im.desc.DepthOrArraySize > 1:
		viewType = vk.ImageViewType2dArray
	case v.Dimension == driver.SRVDimensionTexture2DArray:
		viewType = vk.ImageViewType2dArray
	case v.Dimension == driver.SRVDimensionTextureCube:
		viewType = vk.ImageViewTypeCube
	}
	// depth is sampled through the depth aspect only
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	layout := vk.ImageLayoutShaderReadOnlyOptimal
	if format.IsDepth() {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
	}
	slices := v.ArraySize
	if viewType == vk.ImageViewType2d {
		slices = 1
	}
	rng, err := subrange(im, aspect, v.MostDetailedMip, v.MipLevels, v.FirstArraySlice, slices)
	if err != nil {
		return err
	}
	if viewType == vk.ImageViewTypeCube {
		rng.LayerCount = 6
	}
	view, err := g.createImageView(im, vf, viewType, rng)
	if err != nil {
		return err
	}
	return g.write(dst, driver.HeapCBVSRVUAV, descriptor{kind: viewSRV, img: im, view: view, layout: layout, format: format})
}

func (g *GPU) CreateUnorderedAccessView(r driver.Resource, desc *driver.UnorderedAccessViewDesc, dst driver.CPUHandle) error {
	if r == nil {
		return errors.New("vulkan: nil resource")
	}
	if r.Desc().Flags&driver.ResourceFlagAllowUnordered == 0 {
		return errors.Newf("vulkan: resource %p was not created with unordered access", r)
	}
	var v driver.UnorderedAccessViewDesc
	if desc != nil {
		v = *desc
	}

	if r.Desc().Dimension == driver.DimensionBuffer {
		buf, err := asBuffer(r)
		if err != nil {
			return err
		}
		offset, size, err := bufferWindow(buf, v.Format, v.FirstElement, v.NumElements, v.StructureByteStride, v.Raw)
		if err != nil {
			return err
		}
		return g.write(dst, driver.HeapCBVSRVUAV, descriptor{kind: viewUAV, buf: buf, offset: offset, size: size})
	}

	im, err := asImage(r)
	if err != nil {
		return err
	}
	format, vf, err := viewFormat(im, v.Format)
	if err != nil {
		return err
	}
	viewType, slices := vk.ImageViewType2d, uint32(1)
	if v.Dimension == driver.UAVDimensionTexture2DArray || (desc == nil && im.desc.DepthOrArraySize > 1) {
		viewType, slices = vk.ImageViewType2dArray, v.ArraySize
	}
	rng, err := subrange(im, aspectMask(format), v.MipSlice, 1, v.FirstArraySlice, slices)
	if err != nil {
		return err
	}
	view, err := g.createImageView(im, vf, viewType, rng)
	if err != nil {
		return err
	}
	return g.write(dst, driver.HeapCBVSRVUAV, descriptor{kind: viewUAV, img: im, view: view, layout: vk.ImageLayoutGeneral, format: format})
}

func (g *GPU) CreateRenderTargetView(r driver.Resource, desc *driver.RenderTargetViewDesc, dst driver.CPUHandle) error {
	im, err := asImage(r)
	if err != nil {
		return err
	}
	if im.desc.Flags&driver.ResourceFlagAllowRenderTarget == 0 {
		return errors.Newf("vulkan: resource %p was not created as a render target", r)
	}
	var v driver.RenderTargetViewDesc
	if desc != nil {
		v = *desc
	}
	format, vf, err := viewFormat(im, v.Format)
	if err != nil {
		return err
	}
	view, extent, rng, err := g.attachmentView(im, vf, aspectMask(format), v.MipSlice, v.FirstArraySlice, v.ArraySize)
	if err != nil {
		return err
	}
	return g.write(dst, driver.HeapRTV, descriptor{kind: viewRTV, img: im, view: view, rng: rng, format: format, extent: extent})
}

func (g *GPU) CreateDepthStencilView(r driver.Resource, desc *driver.DepthStencilViewDesc, dst driver.CPUHandle) error {
	im, err := asImage(r)
	if err != nil {
		return err
	}
	if im.desc.Flags&driver.ResourceFlagAllowDepthStencil == 0 {
		return errors.Newf("vulkan: resource %p was not created as a depth stencil", r)
	}
	var v driver.DepthStencilViewDesc
	if desc != nil {
		v = *desc
	}
	format, vf, err := viewFormat(im, v.Format)
	if err != nil {
		return err
	}
	if !format.IsDepth() {
		return errors.Newf("vulkan: depth stencil view format %s is not a depth format", format)
	}
	view, extent, rng, err := g.attachmentView(im, vf, aspectMask(format), v.MipSlice, v.FirstArraySlice, v.ArraySize)
	if err != nil {
		return err
	}
	return g.write(dst, driver.HeapDSV, descriptor{kind: viewDSV, img: im, view: view, rng: rng, format: format, extent: extent, readOnly: v.ReadOnly})
}

// attachmentView views one mip of a slice range for use in a framebuffer.
func (g *GPU) attachmentView(im *image, vf vk.Format, aspect vk.ImageAspectFlags, mip, slice, slices uint32) (vk.ImageView, vk.Extent2D, vk.ImageSubresourceRange, error) {
	if slices == 0 {
		slices = 1
	}
	rng, err := subrange(im, aspect, mip, 1, slice, slices)
	if err != nil {
		return nil, vk.Extent2D{}, rng, err
	}
	viewType := vk.ImageViewType2d
	if rng.LayerCount > 1 {
		viewType = vk.ImageViewType2dArray
	}
	view, err := g.createImageView(im, vf, viewType, rng)
	if err != nil {
		return nil, vk.Extent2D{}, rng, err
	}
	extent := vk.Extent2D{
		Width:  bmath.MipExtent(uint32(im.desc.Width), mip),
		Height: bmath.MipExtent(im.desc.Height, mip),
	}
	return view, extent, rng, nil
}

func (g *GPU) createSampler(desc driver.SamplerDesc) (vk.Sampler, error) {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterNearest,
		MinFilter:               vk.FilterNearest,
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            addressMode(desc.AddressU),
		AddressModeV:            addressMode(desc.AddressV),
		AddressModeW:            addressMode(desc.AddressW),
		MipLodBias:              desc.MipLODBias,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  desc.MinLOD,
		MaxLod:                  desc.MaxLOD,
		BorderColor:             borderColor(desc.BorderColor),
		UnnormalizedCoordinates: vk.False,
	}
	if desc.MaxLOD <= desc.MinLOD {
		info.MaxLod = lodClampNone
	}
	if desc.Filter != driver.FilterPoint {
		info.MagFilter = vk.FilterLinear
		info.MinFilter = vk.FilterLinear
		info.MipmapMode = vk.SamplerMipmapModeLinear
	}
	if desc.Filter == driver.FilterAnisotropic && g.Device.Features.SamplerAnisotropy == vk.True {
		limits := g.Device.Properties.Limits
		limits.Deref()
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = bmath.Clamp(float32(max(desc.MaxAnisotropy, 1)), 1, limits.MaxSamplerAnisotropy)
	}

	var sampler vk.Sampler
	if err := g.check(vk.CreateSampler(g.device(), &info, g.Allocator, &sampler), "vkCreateSampler"); err != nil {
		return nil, err
	}
	return sampler, nil
}

func borderColor(c [4]float32) vk.BorderColor {
	switch {
	case c[3] == 0:
		return vk.BorderColorFloatTransparentBlack
	case c[0] == 1 && c[1] == 1 && c[2] == 1:
		return vk.BorderColorFloatOpaqueWhite
	}
	return vk.BorderColorFloatOpaqueBlack
}

func (g *GPU) CreateSampler(desc driver.SamplerDesc, dst driver.CPUHandle) error {
	sampler, err := g.createSampler(desc)
	if err != nil {
		return err
	}
	return g.write(dst, driver.HeapSampler, descriptor{kind: viewSampler, sampler: sampler})
}
