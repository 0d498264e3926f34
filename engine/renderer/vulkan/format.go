package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

var formats = map[driver.Format]vk.Format{
	driver.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	driver.FormatRGBA8UnormSRGB: vk.FormatR8g8b8a8Srgb,
	driver.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	driver.FormatBGRA8UnormSRGB: vk.FormatB8g8r8a8Srgb,
	driver.FormatR8Unorm:        vk.FormatR8Unorm,
	driver.FormatRG8Unorm:       vk.FormatR8g8Unorm,
	driver.FormatR16Uint:        vk.FormatR16Uint,
	driver.FormatR32Uint:        vk.FormatR32Uint,
	driver.FormatR32Float:       vk.FormatR32Sfloat,
	driver.FormatRG32Float:      vk.FormatR32g32Sfloat,
	driver.FormatRGB32Float:     vk.FormatR32g32b32Sfloat,
	driver.FormatRGBA32Float:    vk.FormatR32g32b32a32Sfloat,
	driver.FormatRGBA16Float:    vk.FormatR16g16b16a16Sfloat,
	driver.FormatD16Unorm:       vk.FormatD16Unorm,
	driver.FormatD32Float:       vk.FormatD32Sfloat,
	driver.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
	driver.FormatD32FloatS8Uint: vk.FormatD32SfloatS8Uint,
}

// vkFormat returns vk.FormatUndefined for formats without a Vulkan match.
func vkFormat(f driver.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// driverFormat is the reverse of vkFormat, used for surface formats.
func driverFormat(f vk.Format) driver.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return driver.FormatUnknown
}

func aspectMask(f driver.Format) vk.ImageAspectFlags {
	if !f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	mask := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if f.HasStencil() {
		mask |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return mask
}

func indexType(f driver.Format) vk.IndexType {
	if f == driver.FormatR16Uint {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func compareOp(f driver.CompareFunc) vk.CompareOp {
	switch f {
	case driver.CompareNever:
		return vk.CompareOpNever
	case driver.CompareLess:
		return vk.CompareOpLess
	case driver.CompareEqual:
		return vk.CompareOpEqual
	case driver.CompareLessEqual:
		return vk.CompareOpLessOrEqual
	case driver.CompareGreater:
		return vk.CompareOpGreater
	case driver.CompareNotEqual:
		return vk.CompareOpNotEqual
	case driver.CompareGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

func topology(t driver.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case driver.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case driver.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case driver.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func addressMode(m driver.AddressMode) vk.SamplerAddressMode {
	switch m {
	case driver.AddressMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case driver.AddressClamp:
		return vk.SamplerAddressModeClampToEdge
	case driver.AddressBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func shaderStages(v driver.ShaderVisibility) vk.ShaderStageFlags {
	switch v {
	case driver.VisibilityVertex:
		return vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	case driver.VisibilityPixel:
		return vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	case driver.VisibilityCompute:
		return vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return vk.ShaderStageFlags(vk.ShaderStageAllGraphics) | vk.ShaderStageFlags(vk.ShaderStageComputeBit)
}
