package gfx

import (
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// ResourceView is a descriptor bound to a resource, or to a sub range of it.
// It does not own the resource and is invalid once the resource is released.
type ResourceView struct {
	descriptor Descriptor
	resource   *Resource
}

func (v *ResourceView) Descriptor() Descriptor      { return v.descriptor }
func (v *ResourceView) CPUHandle() driver.CPUHandle { return v.descriptor.CPU }
func (v *ResourceView) GPUHandle() driver.GPUHandle { return v.descriptor.GPU }
func (v *ResourceView) Resource() *Resource         { return v.resource }

// HeapIndex is the bindless index shaders use to reach this view.
func (v *ResourceView) HeapIndex() uint32 { return v.descriptor.Index }

func (v *ResourceView) Valid() bool {
	return v != nil && v.resource != nil && !v.resource.IsReleased()
}

type RenderTargetView struct {
	ResourceView
	MipSlice   uint32
	ArraySlice uint32
}

// Subresource is the subresource the view renders into.
func (v *RenderTargetView) Subresource() uint32 {
	return v.resource.desc.SubresourceIndex(v.MipSlice, v.ArraySlice)
}

type DepthStencilView struct {
	ResourceView
	MipSlice   uint32
	ArraySlice uint32
	ReadOnly   bool
}

type ShaderResourceView struct {
	ResourceView
	Desc driver.ShaderResourceViewDesc
}

type UnorderedAccessView struct {
	ResourceView
	Desc driver.UnorderedAccessViewDesc
}

// ConstantBufferView addresses one element of a constant buffer.
type ConstantBufferView struct {
	ResourceView
	Address uint64
	Size    uint32
}

// Sampler is a sampler descriptor. It has no resource.
type Sampler struct {
	descriptor Descriptor
	desc       driver.SamplerDesc
}

func (s *Sampler) Descriptor() Descriptor   { return s.descriptor }
func (s *Sampler) HeapIndex() uint32        { return s.descriptor.Index }
func (s *Sampler) Desc() driver.SamplerDesc { return s.desc }
