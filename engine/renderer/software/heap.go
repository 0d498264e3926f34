package software

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

const (
	cpuHandleBase = 0x1000_0000
	gpuHandleBase = 0x7f00_0000_0000
	handlePage    = 0x1_0000
)

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

// descriptor is what a heap slot holds after a Create*View call.
type descriptor struct {
	kind    viewKind
	res     *resource
	cbv     driver.ConstantBufferViewDesc
	srv     driver.ShaderResourceViewDesc
	uav     driver.UnorderedAccessViewDesc
	rtv     driver.RenderTargetViewDesc
	dsv     driver.DepthStencilViewDesc
	sampler driver.SamplerDesc
}

type descriptorHeap struct {
	gpu  *GPU
	desc driver.DescriptorHeapDesc
	inc  uint32
	cpu  driver.CPUHandle
	gpuH driver.GPUHandle
	size uint64

	mu    sync.RWMutex
	slots []descriptor
	dead  bool
}

func (h *descriptorHeap) Desc() driver.DescriptorHeapDesc { return h.desc }
func (h *descriptorHeap) CPUStart() driver.CPUHandle      { return h.cpu }
func (h *descriptorHeap) GPUStart() driver.GPUHandle      { return h.gpuH }

func (h *descriptorHeap) Destroy() {
	h.mu.Lock()
	h.dead = true
	h.slots = nil
	h.mu.Unlock()
	h.gpu.heaps.remove(h)
}

// Descriptor returns a copy of slot i.
func (h *descriptorHeap) load(i uint32) (descriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.dead || i >= uint32(len(h.slots)) {
		return descriptor{}, false
	}
	return h.slots[i], true
}

func (h *descriptorHeap) store(i uint32, d descriptor) {
	h.mu.Lock()
	if !h.dead {
		h.slots[i] = d
	}
	h.mu.Unlock()
}

// heapSpace hands out handle ranges and maps handles back to heaps.
type heapSpace struct {
	mu      sync.RWMutex
	nextCPU uint64
	nextGPU uint64
	heaps   []*descriptorHeap // sorted by CPU start
}

func (s *heapSpace) init() {
	s.nextCPU = cpuHandleBase
	s.nextGPU = gpuHandleBase
}

func (s *heapSpace) add(h *descriptorHeap, shaderVisible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := bmath.AlignUp(h.size, handlePage) + handlePage
	h.cpu = driver.CPUHandle{Ptr: s.nextCPU}
	s.nextCPU += span
	if shaderVisible {
		h.gpuH = driver.GPUHandle{Ptr: s.nextGPU}
		s.nextGPU += span
	}
	s.heaps = append(s.heaps, h)
}

func (s *heapSpace) remove(h *descriptorHeap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.heaps {
		if s.heaps[i] == h {
			s.heaps = append(s.heaps[:i], s.heaps[i+1:]...)
			return
		}
	}
}

// resolve maps a CPU handle to its heap and slot.
func (s *heapSpace) resolve(handle driver.CPUHandle) (*descriptorHeap, uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.heaps), func(i int) bool { return s.heaps[i].cpu.Ptr > handle.Ptr }) - 1
	if i < 0 {
		return nil, 0, errors.Wrapf(driver.ErrInvalidHandle, "software: handle %#x", handle.Ptr)
	}
	h := s.heaps[i]
	off := handle.Ptr - h.cpu.Ptr
	if off >= h.size || off%uint64(h.inc) != 0 {
		return nil, 0, errors.Wrapf(driver.ErrInvalidHandle, "software: handle %#x is not a slot of heap %s", handle.Ptr, h.desc.Kind)
	}
	return h, uint32(off / uint64(h.inc)), nil
}

func (g *GPU) NewDescriptorHeap(desc driver.DescriptorHeapDesc) (driver.DescriptorHeap, error) {
	if desc.Capacity == 0 {
		return nil, errors.Wrap(driver.ErrNotSupported, "software: descriptor heap capacity must not be zero")
	}
	if desc.ShaderVisible && !desc.Kind.ShaderVisible() {
		return nil, errors.Wrapf(driver.ErrNotSupported, "software: %s heaps cannot be shader visible", desc.Kind)
	}
	inc := g.DescriptorIncrementSize(desc.Kind)
	h := &descriptorHeap{
		gpu:   g,
		desc:  desc,
		inc:   inc,
		size:  uint64(desc.Capacity) * uint64(inc),
		slots: make([]descriptor, desc.Capacity),
	}
	g.heaps.add(h, desc.ShaderVisible)
	return h, nil
}

// write stores d at dst after checking that dst lives in a heap of kind.
func (g *GPU) write(dst driver.CPUHandle, kind driver.HeapKind, d descriptor) error {
	h, i, err := g.heaps.resolve(dst)
	if err != nil {
		return err
	}
	if h.desc.Kind != kind {
		return errors.Wrapf(driver.ErrInvalidHandle, "software: handle %#x is in a %s heap, want %s", dst.Ptr, h.desc.Kind, kind)
	}
	h.store(i, d)
	return nil
}

// lookup resolves a handle into the descriptor it holds.
func (g *GPU) lookup(handle driver.CPUHandle, want viewKind) (descriptor, error) {
	h, i, err := g.heaps.resolve(handle)
	if err != nil {
		return descriptor{}, err
	}
	d, ok := h.load(i)
	if !ok || d.kind != want {
		return descriptor{}, errors.Wrapf(driver.ErrInvalidHandle, "software: handle %#x holds no view of the expected kind", handle.Ptr)
	}
	return d, nil
}

func (g *GPU) CreateConstantBufferView(desc driver.ConstantBufferViewDesc, dst driver.CPUHandle) error {
	if desc.SizeInBytes%uint32(g.opts.Limits.ConstantBufferAlignment) != 0 {
		return errors.Newf("software: constant buffer view size %d is not a multiple of %d", desc.SizeInBytes, g.opts.Limits.ConstantBufferAlignment)
	}
	if desc.BufferLocation%g.opts.Limits.ConstantBufferAlignment != 0 {
		return errors.Newf("software: constant buffer view address %#x is not %d byte aligned", desc.BufferLocation, g.opts.Limits.ConstantBufferAlignment)
	}
	res, off, ok := g.memory.resolve(desc.BufferLocation)
	if !ok || off+uint64(desc.SizeInBytes) > res.desc.Width {
		return errors.Wrapf(driver.ErrInvalidHandle, "software: constant buffer view [%#x, +%d) is outside any buffer", desc.BufferLocation, desc.SizeInBytes)
	}
	return g.write(dst, driver.HeapCBVSRVUAV, descriptor{kind: viewCBV, res: res, cbv: desc})
}

func (g *GPU) CreateShaderResourceView(r driver.Resource, desc *driver.ShaderResourceViewDesc, dst driver.CPUHandle) error {
	res, err := asResource(r)
	if err != nil {
		return err
	}
	if res.desc.Flags&driver.ResourceFlagDenyShaderResource != 0 {
		return errors.Newf("software: resource %p denies shader resource views", res)
	}
	d := descriptor{kind: viewSRV, res: res}
	if desc != nil {
		d.srv = *desc
	}
	return g.write(dst, driver.HeapCBVSRVUAV, d)
}

func (g *GPU) CreateUnorderedAccessView(r driver.Resource, desc *driver.UnorderedAccessViewDesc, dst driver.CPUHandle) error {
	res, err := asResource(r)
	if err != nil {
		return err
	}
	if res.desc.Flags&driver.ResourceFlagAllowUnordered == 0 {
		return errors.Newf("software: resource %p was not created with unordered access", res)
	}
	d := descriptor{kind: viewUAV, res: res}
	if desc != nil {
		d.uav = *desc
	}
	return g.write(dst, driver.HeapCBVSRVUAV, d)
}

func (g *GPU) CreateRenderTargetView(r driver.Resource, desc *driver.RenderTargetViewDesc, dst driver.CPUHandle) error {
	res, err := asResource(r)
	if err != nil {
		return err
	}
	if res.desc.Flags&driver.ResourceFlagAllowRenderTarget == 0 {
		return errors.Newf("software: resource %p was not created as a render target", res)
	}
	d := descriptor{kind: viewRTV, res: res}
	if desc != nil {
		d.rtv = *desc
	}
	return g.write(dst, driver.HeapRTV, d)
}

func (g *GPU) CreateDepthStencilView(r driver.Resource, desc *driver.DepthStencilViewDesc, dst driver.CPUHandle) error {
	res, err := asResource(r)
	if err != nil {
		return err
	}
	if res.desc.Flags&driver.ResourceFlagAllowDepthStencil == 0 {
		return errors.Newf("software: resource %p was not created as a depth stencil", res)
	}
	d := descriptor{kind: viewDSV, res: res}
	if desc != nil {
		d.dsv = *desc
	}
	return g.write(dst, driver.HeapDSV, d)
}

func (g *GPU) CreateSampler(desc driver.SamplerDesc, dst driver.CPUHandle) error {
	return g.write(dst, driver.HeapSampler, descriptor{kind: viewSampler, sampler: desc})
}
