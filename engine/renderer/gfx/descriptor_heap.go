package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// Descriptor is a slot of a descriptor heap. It is copied into every view
// and never handed back to the heap.
type Descriptor struct {
	Kind  driver.HeapKind
	Index uint32
	CPU   driver.CPUHandle
	// GPU is null unless the heap is shader visible.
	GPU driver.GPUHandle
}

func (d Descriptor) IsValid() bool { return !d.CPU.IsNull() }

func (d Descriptor) IsShaderVisible() bool { return !d.GPU.IsNull() }

// DescriptorHeap is an append-only bump allocator over a native heap.
// Allocated slots are never reused.
type DescriptorHeap struct {
	native   driver.DescriptorHeap
	kind     driver.HeapKind
	capacity uint32
	stride   uint32
	marker   uint32
	cpuStart driver.CPUHandle
	gpuStart driver.GPUHandle
}

func NewDescriptorHeap(gpu driver.GPU, kind driver.HeapKind, capacity uint32, shaderVisible bool) (*DescriptorHeap, error) {
	native, err := gpu.NewDescriptorHeap(driver.DescriptorHeapDesc{
		Kind:          kind,
		Capacity:      capacity,
		ShaderVisible: shaderVisible,
	})
	if err != nil {
		err = errors.Wrapf(translate(err), "failed to create %s descriptor heap of %d", kind, capacity)
		core.LogError(err.Error())
		return nil, err
	}
	return &DescriptorHeap{
		native:   native,
		kind:     kind,
		capacity: capacity,
		stride:   gpu.DescriptorIncrementSize(kind),
		cpuStart: native.CPUStart(),
		gpuStart: native.GPUStart(),
	}, nil
}

// AllocateIndex returns the next free slot. Exhaustion is an error, the heap
// never wraps around.
func (h *DescriptorHeap) AllocateIndex() (uint32, error) {
	if h.marker >= h.capacity {
		return 0, errors.Wrapf(core.ErrDescriptorHeapFull, "%s heap: all %d descriptors in use", h.kind, h.capacity)
	}
	i := h.marker
	h.marker++
	return i, nil
}

// Allocate reserves a slot and computes its handles.
func (h *DescriptorHeap) Allocate() (Descriptor, error) {
	i, err := h.AllocateIndex()
	if err != nil {
		return Descriptor{}, err
	}
	return h.Descriptor(i), nil
}

// Descriptor returns the handles of slot i whether or not it was allocated.
func (h *DescriptorHeap) Descriptor(i uint32) Descriptor {
	return Descriptor{
		Kind:  h.kind,
		Index: i,
		CPU:   h.CPUHandle(i),
		GPU:   h.GPUHandle(i),
	}
}

func (h *DescriptorHeap) CPUHandle(i uint32) driver.CPUHandle {
	return h.cpuStart.Offset(i, h.stride)
}

func (h *DescriptorHeap) GPUHandle(i uint32) driver.GPUHandle {
	if h.gpuStart.IsNull() {
		return driver.GPUHandle{}
	}
	return h.gpuStart.Offset(i, h.stride)
}

func (h *DescriptorHeap) Kind() driver.HeapKind         { return h.kind }
func (h *DescriptorHeap) Capacity() uint32              { return h.capacity }
func (h *DescriptorHeap) Stride() uint32                { return h.stride }
func (h *DescriptorHeap) Allocated() uint32             { return h.marker }
func (h *DescriptorHeap) Remaining() uint32             { return h.capacity - h.marker }
func (h *DescriptorHeap) ShaderVisible() bool           { return !h.gpuStart.IsNull() }
func (h *DescriptorHeap) Native() driver.DescriptorHeap { return h.native }

func (h *DescriptorHeap) Destroy() {
	if h.native != nil {
		h.native.Destroy()
		h.native = nil
	}
}
