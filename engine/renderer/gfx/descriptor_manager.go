package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// HeapCapacities is the fixed number of descriptors of each kind.
type HeapCapacities struct {
	CBVSRVUAV uint32
	Sampler   uint32
	RTV       uint32
	DSV       uint32
}

func DefaultHeapCapacities() HeapCapacities {
	return HeapCapacities{CBVSRVUAV: 4096, Sampler: 64, RTV: 100, DSV: 100}
}

func (c HeapCapacities) of(kind driver.HeapKind) uint32 {
	switch kind {
	case driver.HeapCBVSRVUAV:
		return c.CBVSRVUAV
	case driver.HeapSampler:
		return c.Sampler
	case driver.HeapRTV:
		return c.RTV
	case driver.HeapDSV:
		return c.DSV
	}
	return 0
}

// DescriptorManager owns one heap per descriptor kind. The CBV/SRV/UAV and
// sampler heaps are shader visible and indexed directly by shaders, which
// receive heap indices as root constants.
type DescriptorManager struct {
	heaps [driver.HeapKindCount]*DescriptorHeap
}

func NewDescriptorManager(gpu driver.GPU, caps HeapCapacities) (*DescriptorManager, error) {
	m := &DescriptorManager{}
	for kind := driver.HeapKind(0); kind < driver.HeapKindCount; kind++ {
		n := caps.of(kind)
		if n == 0 {
			m.Destroy()
			return nil, errors.Wrapf(core.ErrInvalidArgument, "%s heap capacity must not be zero", kind)
		}
		h, err := NewDescriptorHeap(gpu, kind, n, kind.ShaderVisible())
		if err != nil {
			m.Destroy()
			return nil, err
		}
		m.heaps[kind] = h
	}
	core.LogDebug("descriptor heaps created: cbv_srv_uav=%d sampler=%d rtv=%d dsv=%d",
		caps.CBVSRVUAV, caps.Sampler, caps.RTV, caps.DSV)
	return m, nil
}

func (m *DescriptorManager) Heap(kind driver.HeapKind) *DescriptorHeap {
	return m.heaps[kind]
}

func (m *DescriptorManager) AllocateIndex(kind driver.HeapKind) (uint32, error) {
	return m.heaps[kind].AllocateIndex()
}

func (m *DescriptorManager) allocate(kind driver.HeapKind) (Descriptor, error) {
	return m.heaps[kind].Allocate()
}

func (m *DescriptorManager) AllocateRTV() (Descriptor, error) { return m.allocate(driver.HeapRTV) }

func (m *DescriptorManager) AllocateDSV() (Descriptor, error) { return m.allocate(driver.HeapDSV) }

func (m *DescriptorManager) AllocateSampler() (Descriptor, error) {
	return m.allocate(driver.HeapSampler)
}

// AllocateSRV, AllocateCBV and AllocateUAV share the bindless heap.
func (m *DescriptorManager) AllocateSRV() (Descriptor, error) { return m.allocate(driver.HeapCBVSRVUAV) }

func (m *DescriptorManager) AllocateCBV() (Descriptor, error) { return m.allocate(driver.HeapCBVSRVUAV) }

func (m *DescriptorManager) AllocateUAV() (Descriptor, error) { return m.allocate(driver.HeapCBVSRVUAV) }

// ShaderVisibleHeaps returns the native heaps to bind on a command list.
func (m *DescriptorManager) ShaderVisibleHeaps() []driver.DescriptorHeap {
	return []driver.DescriptorHeap{
		m.heaps[driver.HeapCBVSRVUAV].Native(),
		m.heaps[driver.HeapSampler].Native(),
	}
}

func (m *DescriptorManager) Destroy() {
	for i, h := range m.heaps {
		if h != nil {
			h.Destroy()
			m.heaps[i] = nil
		}
	}
}
