package driver

// RootParameterType selects how a root signature slot is bound.
type RootParameterType int

const (
	RootParamConstants RootParameterType = iota
	RootParamCBV
	RootParamSRV
	RootParamUAV
	RootParamDescriptorTable
)

type DescriptorRangeType int

const (
	RangeSRV DescriptorRangeType = iota
	RangeUAV
	RangeCBV
	RangeSampler
)

type DescriptorRange struct {
	Type               DescriptorRangeType
	NumDescriptors     uint32
	BaseShaderRegister uint32
	RegisterSpace      uint32
	// OffsetInTable is the offset in descriptors from the table start.
	OffsetInTable uint32
}

type ShaderVisibility int

const (
	VisibilityAll ShaderVisibility = iota
	VisibilityVertex
	VisibilityPixel
	VisibilityCompute
)

type RootParameter struct {
	Type       RootParameterType
	Visibility ShaderVisibility
	// Register and Space address constants and root descriptors.
	Register uint32
	Space    uint32
	// Num32BitValues is the number of root constants.
	Num32BitValues uint32
	Ranges         []DescriptorRange
}

type StaticSampler struct {
	Sampler    SamplerDesc
	Register   uint32
	Space      uint32
	Visibility ShaderVisibility
}

type RootSignatureFlags uint32

const (
	RootSignatureAllowInputLayout RootSignatureFlags = 1 << 0
	// RootSignatureBindless lets shaders index the bound CBV/SRV/UAV and
	// sampler heaps directly.
	RootSignatureBindless RootSignatureFlags = 1 << 1
)

type RootSignatureDesc struct {
	Parameters     []RootParameter
	StaticSamplers []StaticSampler
	Flags          RootSignatureFlags
}

// ShaderBytecode is compiled shader code. Entry defaults to "main".
type ShaderBytecode struct {
	Code  []byte
	Entry string
}

type InputElement struct {
	Semantic string
	Index    uint32
	Format   Format
	Slot     uint32
	Offset   uint32
}

type CullMode int

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

type FillMode int

const (
	FillSolid FillMode = iota
	FillWireframe
)

type RasterizerDesc struct {
	Fill                  FillMode
	Cull                  CullMode
	FrontCounterClockwise bool
	DepthBias             int32
	DepthClipEnable       bool
}

type CompareFunc int

const (
	CompareNever CompareFunc = iota
	CompareLess
	CompareEqual
	CompareLessEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterEqual
	CompareAlways
)

type DepthStencilDesc struct {
	DepthEnable bool
	DepthWrite  bool
	DepthFunc   CompareFunc
}

type BlendDesc struct {
	Enable bool
	// Alpha selects standard src-alpha/one-minus-src-alpha blending.
	Alpha bool
}

type GraphicsPipelineDesc struct {
	RootSignature RootSignature
	VS            ShaderBytecode
	PS            ShaderBytecode
	InputLayout   []InputElement
	Topology      PrimitiveTopology
	Rasterizer    RasterizerDesc
	DepthStencil  DepthStencilDesc
	Blend         BlendDesc
	RTVFormats    []Format
	DSVFormat     Format
	SampleCount   uint32
}

type ComputePipelineDesc struct {
	RootSignature RootSignature
	CS            ShaderBytecode
}
