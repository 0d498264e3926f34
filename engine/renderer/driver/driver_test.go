package driver

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct{ name string }

func (d *fakeDriver) Open(OpenOptions) (GPU, error) { return nil, ErrNoDevice }
func (d *fakeDriver) Name() string                  { return d.name }
func (d *fakeDriver) Close()                        {}

func TestRegistry(t *testing.T) {
	b := &fakeDriver{name: "test-b"}
	a := &fakeDriver{name: "test-a"}
	Register(b)
	Register(a)

	var names []string
	for _, d := range Drivers() {
		names = append(names, d.Name())
	}
	ia := indexOf(names, "test-a")
	ib := indexOf(names, "test-b")
	require.NotEqual(t, -1, ia)
	require.NotEqual(t, -1, ib)
	assert.Less(t, ia, ib)

	// registering the same name replaces the previous driver
	a2 := &fakeDriver{name: "test-a"}
	Register(a2)
	d, err := Find("test-a")
	require.NoError(t, err)
	assert.Same(t, a2, d)

	_, err = Find("nope")
	assert.True(t, errors.Is(err, ErrNoDevice))
}

func indexOf(s []string, v string) int {
	for i := range s {
		if s[i] == v {
			return i
		}
	}
	return -1
}

func TestHandleOffset(t *testing.T) {
	cpu := CPUHandle{Ptr: 0x1000}
	gpu := GPUHandle{Ptr: 0x8000}
	for i := uint32(0); i < 10; i++ {
		assert.Equal(t, uint64(0x1000)+uint64(i)*32, cpu.Offset(i, 32).Ptr)
		assert.Equal(t, uint64(0x8000)+uint64(i)*32, gpu.Offset(i, 32).Ptr)
	}
	assert.True(t, CPUHandle{}.IsNull())
	assert.False(t, cpu.IsNull())
}

func TestResourceState(t *testing.T) {
	assert.Equal(t, "COMMON", StatePresent.String())
	assert.Equal(t, "RENDER_TARGET", StateRenderTarget.String())
	assert.Equal(t, "NON_PIXEL_SHADER_RESOURCE|PIXEL_SHADER_RESOURCE", StateAllShaderResource.String())

	assert.True(t, StateRenderTarget.Valid())
	assert.True(t, StateGenericRead.Valid())
	assert.False(t, (StateRenderTarget | StatePixelShaderResource).Valid())
	assert.False(t, (StateCopyDest | StateCopySource).Valid())
	assert.True(t, StateCopyDest.IsWrite())
	assert.False(t, StateCopySource.IsWrite())
}

func TestSubresourceIndex(t *testing.T) {
	desc := ResourceDesc{Dimension: DimensionTexture2D, Width: 64, Height: 64, DepthOrArraySize: 6, MipLevels: 4}
	assert.Equal(t, uint32(24), desc.SubresourceCount())
	assert.Equal(t, uint32(0), desc.SubresourceIndex(0, 0))
	assert.Equal(t, uint32(3), desc.SubresourceIndex(3, 0))
	assert.Equal(t, uint32(9), desc.SubresourceIndex(1, 2))
	assert.Equal(t, uint32(1), BufferDesc(16, ResourceFlagNone).SubresourceCount())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, uint32(4), FormatRGBA8Unorm.BytesPerPixel())
	assert.Equal(t, uint32(16), FormatRGBA32Float.BytesPerPixel())
	assert.Equal(t, uint32(0), FormatUnknown.BytesPerPixel())
	assert.True(t, FormatD32Float.IsDepth())
	assert.False(t, FormatD32Float.HasStencil())
	assert.True(t, FormatD24UnormS8Uint.HasStencil())
	assert.False(t, FormatBGRA8Unorm.IsDepth())
	assert.Equal(t, "B8G8R8A8_UNORM", FormatBGRA8Unorm.String())
}

func TestComputeFootprints(t *testing.T) {
	limits := DefaultLimits()

	t.Run("padded rows", func(t *testing.T) {
		// 10 texels * 4 bytes = 40 byte rows, padded to 256.
		desc := ResourceDesc{Dimension: DimensionTexture2D, Width: 10, Height: 3, DepthOrArraySize: 1, MipLevels: 1, Format: FormatRGBA8Unorm}
		fp := ComputeFootprints(limits, desc, 0, 1, 0)
		require.Len(t, fp.Layouts, 1)
		assert.Equal(t, uint32(256), fp.Layouts[0].Footprint.RowPitch)
		assert.Equal(t, uint32(3), fp.NumRows[0])
		assert.Equal(t, uint64(40), fp.RowSizeInBytes[0])
		assert.Equal(t, uint64(2*256+40), fp.TotalBytes)
	})

	t.Run("mip chain placement", func(t *testing.T) {
		desc := ResourceDesc{Dimension: DimensionTexture2D, Width: 128, Height: 128, DepthOrArraySize: 2, MipLevels: 3, Format: FormatRGBA8Unorm}
		fp := ComputeFootprints(limits, desc, 0, desc.SubresourceCount(), 100)
		require.Len(t, fp.Layouts, 6)
		for i, l := range fp.Layouts {
			assert.Zero(t, l.Offset%limits.TexturePlacementAlignment, "subresource %d", i)
			assert.Zero(t, uint64(l.Footprint.RowPitch)%limits.TexturePitchAlignment, "subresource %d", i)
			if i > 0 {
				prev := fp.Layouts[i-1]
				assert.GreaterOrEqual(t, l.Offset, prev.Offset+uint64(prev.Footprint.RowPitch)*uint64(fp.NumRows[i-1]))
			}
		}
		// mip 2 of slice 1
		assert.Equal(t, uint32(32), fp.Layouts[5].Footprint.Width)
		assert.Equal(t, uint32(32), fp.NumRows[5])
		assert.Equal(t, uint64(512), fp.Layouts[0].Offset)
	})

	t.Run("buffer", func(t *testing.T) {
		fp := ComputeFootprints(limits, BufferDesc(1000, ResourceFlagNone), 0, 1, 0)
		assert.Equal(t, uint64(1000), fp.TotalBytes)
		assert.Equal(t, uint32(1000), fp.Layouts[0].Footprint.Width)
	})
}
