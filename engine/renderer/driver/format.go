package driver

import "fmt"

// Format is a texel or element format.
type Format int

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatRGBA8UnormSRGB
	FormatBGRA8Unorm
	FormatBGRA8UnormSRGB
	FormatR8Unorm
	FormatRG8Unorm
	FormatR16Uint
	FormatR32Uint
	FormatR32Float
	FormatRG32Float
	FormatRGB32Float
	FormatRGBA32Float
	FormatRGBA16Float
	FormatD16Unorm
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8Uint
)

var formatInfo = map[Format]struct {
	name  string
	bytes uint32
	depth bool
}{
	FormatUnknown:        {"UNKNOWN", 0, false},
	FormatRGBA8Unorm:     {"R8G8B8A8_UNORM", 4, false},
	FormatRGBA8UnormSRGB: {"R8G8B8A8_UNORM_SRGB", 4, false},
	FormatBGRA8Unorm:     {"B8G8R8A8_UNORM", 4, false},
	FormatBGRA8UnormSRGB: {"B8G8R8A8_UNORM_SRGB", 4, false},
	FormatR8Unorm:        {"R8_UNORM", 1, false},
	FormatRG8Unorm:       {"R8G8_UNORM", 2, false},
	FormatR16Uint:        {"R16_UINT", 2, false},
	FormatR32Uint:        {"R32_UINT", 4, false},
	FormatR32Float:       {"R32_FLOAT", 4, false},
	FormatRG32Float:      {"R32G32_FLOAT", 8, false},
	FormatRGB32Float:     {"R32G32B32_FLOAT", 12, false},
	FormatRGBA32Float:    {"R32G32B32A32_FLOAT", 16, false},
	FormatRGBA16Float:    {"R16G16B16A16_FLOAT", 8, false},
	FormatD16Unorm:       {"D16_UNORM", 2, true},
	FormatD32Float:       {"D32_FLOAT", 4, true},
	FormatD24UnormS8Uint: {"D24_UNORM_S8_UINT", 4, true},
	FormatD32FloatS8Uint: {"D32_FLOAT_S8X24_UINT", 8, true},
}

func (f Format) String() string {
	if i, ok := formatInfo[f]; ok {
		return i.name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// BytesPerPixel returns the size of one texel, or zero for FormatUnknown.
func (f Format) BytesPerPixel() uint32 {
	return formatInfo[f].bytes
}

// IsDepth reports whether f is a depth or depth/stencil format.
func (f Format) IsDepth() bool {
	return formatInfo[f].depth
}

// HasStencil reports whether f carries a stencil aspect.
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32FloatS8Uint
}

// IsSRGB reports whether f applies the sRGB transfer function.
func (f Format) IsSRGB() bool {
	return f == FormatRGBA8UnormSRGB || f == FormatBGRA8UnormSRGB
}
