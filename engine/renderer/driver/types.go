package driver

import (
	"fmt"
	"strings"
)

// HeapKind is the kind of descriptors a heap holds.
type HeapKind int

const (
	HeapCBVSRVUAV HeapKind = iota
	HeapSampler
	HeapRTV
	HeapDSV
	HeapKindCount
)

func (k HeapKind) String() string {
	switch k {
	case HeapCBVSRVUAV:
		return "CBV_SRV_UAV"
	case HeapSampler:
		return "SAMPLER"
	case HeapRTV:
		return "RTV"
	case HeapDSV:
		return "DSV"
	}
	return fmt.Sprintf("HeapKind(%d)", int(k))
}

// ShaderVisible reports whether heaps of this kind can be bound to shaders.
func (k HeapKind) ShaderVisible() bool {
	return k == HeapCBVSRVUAV || k == HeapSampler
}

// CPUHandle addresses a descriptor for CPU-side writes.
type CPUHandle struct {
	Ptr uint64
}

// Offset returns the handle index descriptors past h.
func (h CPUHandle) Offset(index, increment uint32) CPUHandle {
	return CPUHandle{Ptr: h.Ptr + uint64(index)*uint64(increment)}
}

func (h CPUHandle) IsNull() bool { return h.Ptr == 0 }

// GPUHandle addresses a descriptor in a shader visible heap.
type GPUHandle struct {
	Ptr uint64
}

func (h GPUHandle) Offset(index, increment uint32) GPUHandle {
	return GPUHandle{Ptr: h.Ptr + uint64(index)*uint64(increment)}
}

func (h GPUHandle) IsNull() bool { return h.Ptr == 0 }

type DescriptorHeapDesc struct {
	Kind          HeapKind
	Capacity      uint32
	ShaderVisible bool
}

// HeapType is the memory a committed resource lives in.
type HeapType int

const (
	// HeapTypeDefault is device local and not CPU accessible.
	HeapTypeDefault HeapType = iota
	// HeapTypeUpload is CPU writable and GPU readable.
	HeapTypeUpload
	// HeapTypeReadback is GPU writable and CPU readable.
	HeapTypeReadback
)

func (t HeapType) String() string {
	switch t {
	case HeapTypeDefault:
		return "default"
	case HeapTypeUpload:
		return "upload"
	case HeapTypeReadback:
		return "readback"
	}
	return fmt.Sprintf("HeapType(%d)", int(t))
}

// ResourceState is a bitmask of how the GPU is using a resource.
type ResourceState uint32

const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << 0
	StateIndexBuffer             ResourceState = 1 << 1
	StateRenderTarget            ResourceState = 1 << 2
	StateUnorderedAccess         ResourceState = 1 << 3
	StateDepthWrite              ResourceState = 1 << 4
	StateDepthRead               ResourceState = 1 << 5
	StateNonPixelShaderResource  ResourceState = 1 << 6
	StatePixelShaderResource     ResourceState = 1 << 7
	StateIndirectArgument        ResourceState = 1 << 9
	StateCopyDest                ResourceState = 1 << 10
	StateCopySource              ResourceState = 1 << 11

	StatePresent           = StateCommon
	StateAllShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
	StateGenericRead       = StateVertexAndConstantBuffer | StateIndexBuffer | StateNonPixelShaderResource |
		StatePixelShaderResource | StateIndirectArgument | StateCopySource
)

var stateNames = []struct {
	s    ResourceState
	name string
}{
	{StateVertexAndConstantBuffer, "VERTEX_AND_CONSTANT_BUFFER"},
	{StateIndexBuffer, "INDEX_BUFFER"},
	{StateRenderTarget, "RENDER_TARGET"},
	{StateUnorderedAccess, "UNORDERED_ACCESS"},
	{StateDepthWrite, "DEPTH_WRITE"},
	{StateDepthRead, "DEPTH_READ"},
	{StateNonPixelShaderResource, "NON_PIXEL_SHADER_RESOURCE"},
	{StatePixelShaderResource, "PIXEL_SHADER_RESOURCE"},
	{StateIndirectArgument, "INDIRECT_ARGUMENT"},
	{StateCopyDest, "COPY_DEST"},
	{StateCopySource, "COPY_SOURCE"},
}

func (s ResourceState) String() string {
	if s == StateCommon {
		return "COMMON"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// IsWrite reports whether the state allows GPU writes. Write states cannot be
// combined with any other state.
func (s ResourceState) IsWrite() bool {
	return s&(StateRenderTarget|StateUnorderedAccess|StateDepthWrite|StateCopyDest) != 0
}

// Valid reports whether the combination of bits is legal.
func (s ResourceState) Valid() bool {
	if !s.IsWrite() {
		return true
	}
	// exactly one write bit and nothing else
	return s&(s-1) == 0
}

type Dimension int

const (
	DimensionBuffer Dimension = iota
	DimensionTexture2D
)

type ResourceFlags uint32

const (
	ResourceFlagNone               ResourceFlags = 0
	ResourceFlagAllowRenderTarget  ResourceFlags = 1 << 0
	ResourceFlagAllowDepthStencil  ResourceFlags = 1 << 1
	ResourceFlagAllowUnordered     ResourceFlags = 1 << 2
	ResourceFlagDenyShaderResource ResourceFlags = 1 << 3
)

// ResourceDesc describes a buffer (Width is the byte size) or a 2D texture
// (array).
type ResourceDesc struct {
	Dimension        Dimension
	Width            uint64
	Height           uint32
	DepthOrArraySize uint16
	MipLevels        uint16
	Format           Format
	Flags            ResourceFlags
}

// BufferDesc is a convenience constructor for buffer descriptions.
func BufferDesc(size uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        DimensionBuffer,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           FormatUnknown,
		Flags:            flags,
	}
}

// Texture2DDesc is a convenience constructor for 2D texture descriptions.
func Texture2DDesc(format Format, width uint64, height uint32, arraySize, mipLevels uint16, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        DimensionTexture2D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: arraySize,
		MipLevels:        mipLevels,
		Format:           format,
		Flags:            flags,
	}
}

// SubresourceCount is the number of mip levels times the array size.
func (d ResourceDesc) SubresourceCount() uint32 {
	if d.Dimension == DimensionBuffer {
		return 1
	}
	return uint32(d.MipLevels) * uint32(d.DepthOrArraySize)
}

// SubresourceIndex follows mip-major ordering within each array slice.
func (d ResourceDesc) SubresourceIndex(mip, slice uint32) uint32 {
	return mip + slice*uint32(d.MipLevels)
}

// AllSubresources targets every subresource in a barrier.
const AllSubresources uint32 = 0xffffffff

// ClearValue is the optimized clear value of a render target or depth buffer.
type ClearValue struct {
	Format  Format
	Color   [4]float32
	Depth   float32
	Stencil uint8
}

type BarrierType int

const (
	BarrierTransition BarrierType = iota
	// BarrierUAV orders unordered access writes against later accesses.
	BarrierUAV
)

type Barrier struct {
	Type        BarrierType
	Resource    Resource
	Subresource uint32
	Before      ResourceState
	After       ResourceState
}

// TransitionBarrier builds a transition of every subresource of res.
func TransitionBarrier(res Resource, before, after ResourceState) Barrier {
	return Barrier{
		Type:        BarrierTransition,
		Resource:    res,
		Subresource: AllSubresources,
		Before:      before,
		After:       after,
	}
}

type ConstantBufferViewDesc struct {
	BufferLocation uint64
	SizeInBytes    uint32
}

type SRVDimension int

const (
	SRVDimensionBuffer SRVDimension = iota
	SRVDimensionTexture2D
	SRVDimensionTexture2DArray
	SRVDimensionTextureCube
)

type ShaderResourceViewDesc struct {
	Format    Format
	Dimension SRVDimension
	// buffer views
	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
	Raw                 bool
	// texture views
	MostDetailedMip uint32
	MipLevels       uint32
	FirstArraySlice uint32
	ArraySize       uint32
}

type UAVDimension int

const (
	UAVDimensionBuffer UAVDimension = iota
	UAVDimensionTexture2D
	UAVDimensionTexture2DArray
)

type UnorderedAccessViewDesc struct {
	Format              Format
	Dimension           UAVDimension
	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
	Raw                 bool
	MipSlice            uint32
	FirstArraySlice     uint32
	ArraySize           uint32
}

type RenderTargetViewDesc struct {
	Format          Format
	MipSlice        uint32
	FirstArraySlice uint32
	ArraySize       uint32
}

type DepthStencilViewDesc struct {
	Format          Format
	MipSlice        uint32
	FirstArraySlice uint32
	ArraySize       uint32
	ReadOnly        bool
}

type Filter int

const (
	FilterPoint Filter = iota
	FilterLinear
	FilterAnisotropic
)

type AddressMode int

const (
	AddressWrap AddressMode = iota
	AddressMirror
	AddressClamp
	AddressBorder
)

type SamplerDesc struct {
	Filter        Filter
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MipLODBias    float32
	MaxAnisotropy uint32
	MinLOD        float32
	MaxLOD        float32
	BorderColor   [4]float32
}

// TextureCopyLocation is either a texture subresource or a placed footprint
// inside a buffer.
type TextureCopyLocation struct {
	Resource Resource
	// Subresource is used when Resource is a texture.
	Subresource uint32
	// Footprint is used when Resource is a buffer.
	Footprint PlacedFootprint
}

type QueueKind int

const (
	QueueDirect QueueKind = iota
	QueueCompute
	QueueCopy
	QueueKindCount
)

func (k QueueKind) String() string {
	switch k {
	case QueueDirect:
		return "direct"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	}
	return fmt.Sprintf("QueueKind(%d)", int(k))
}

type PrimitiveTopology int

const (
	TopologyTriangleList PrimitiveTopology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

type VertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type IndexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	// Format is FormatR16Uint or FormatR32Uint.
	Format Format
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

type ClearFlags uint32

const (
	ClearDepth   ClearFlags = 1 << 0
	ClearStencil ClearFlags = 1 << 1
)

type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
}

// Limits are the fixed alignment rules and maxima of a GPU.
type Limits struct {
	ConstantBufferAlignment   uint64
	TexturePitchAlignment     uint64
	TexturePlacementAlignment uint64
	MaxTextureDimension2D     uint32
	MaxTextureArrayLayers     uint32
	MaxRootConstants          uint32
}

// DefaultLimits are the values every driver must at least honour.
func DefaultLimits() Limits {
	return Limits{
		ConstantBufferAlignment:   256,
		TexturePitchAlignment:     256,
		TexturePlacementAlignment: 512,
		MaxTextureDimension2D:     16384,
		MaxTextureArrayLayers:     2048,
		MaxRootConstants:          32,
	}
}
