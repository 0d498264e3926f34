package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type TextureFlags uint32

const (
	TextureFlagNone         TextureFlags = 0
	TextureFlagRenderTarget TextureFlags = 1 << iota
	TextureFlagDepthStencil
	TextureFlagUnorderedAccess
	// TextureFlagCube makes shader resource views cube maps. The array size
	// must be a multiple of six.
	TextureFlagCube
)

type TextureConfig struct {
	Name      string
	Width     uint32
	Height    uint32
	ArraySize uint16
	MipLevels uint16
	Format    driver.Format
	Flags     TextureFlags
}

type TextureResource struct {
	Resource
	config TextureConfig
	clear  *driver.ClearValue
}

func (t *TextureResource) Config() TextureConfig { return t.config }
func (t *TextureResource) Width() uint32         { return t.config.Width }
func (t *TextureResource) Height() uint32        { return t.config.Height }
func (t *TextureResource) Format() driver.Format { return t.config.Format }

func (t *TextureResource) SubresourceCount() uint32 { return t.desc.SubresourceCount() }

func (t *TextureResource) Subresource(mip, slice uint32) uint32 {
	return t.desc.SubresourceIndex(mip, slice)
}

// ClearValue is the optimized clear value given at creation, if any.
func (t *TextureResource) ClearValue() *driver.ClearValue { return t.clear }

func (t *TextureResource) CreateRTV(mip, slice uint32) (*RenderTargetView, error) {
	d, err := t.device.descriptors.AllocateRTV()
	if err != nil {
		return nil, err
	}
	return t.createRTVAt(d, mip, slice)
}

// createRTVAt writes a render target view into an already allocated slot.
func (t *TextureResource) createRTVAt(d Descriptor, mip, slice uint32) (*RenderTargetView, error) {
	if t.config.Flags&TextureFlagRenderTarget == 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "texture %s is not a render target", t.name)
	}
	if err := t.checkSubresource(mip, slice); err != nil {
		return nil, err
	}
	desc := driver.RenderTargetViewDesc{Format: t.config.Format, MipSlice: mip, FirstArraySlice: slice, ArraySize: 1}
	if err := t.device.gpu.CreateRenderTargetView(t.native, &desc, d.CPU); err != nil {
		return nil, t.device.fail(err, "failed to create render target view of %s", t.name)
	}
	return &RenderTargetView{
		ResourceView: ResourceView{descriptor: d, resource: &t.Resource},
		MipSlice:     mip,
		ArraySlice:   slice,
	}, nil
}

func (t *TextureResource) CreateDSV(mip, slice uint32, readOnly bool) (*DepthStencilView, error) {
	if t.config.Flags&TextureFlagDepthStencil == 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "texture %s is not a depth stencil", t.name)
	}
	if err := t.checkSubresource(mip, slice); err != nil {
		return nil, err
	}
	d, err := t.device.descriptors.AllocateDSV()
	if err != nil {
		return nil, err
	}
	desc := driver.DepthStencilViewDesc{Format: t.config.Format, MipSlice: mip, FirstArraySlice: slice, ArraySize: 1, ReadOnly: readOnly}
	if err := t.device.gpu.CreateDepthStencilView(t.native, &desc, d.CPU); err != nil {
		return nil, t.device.fail(err, "failed to create depth stencil view of %s", t.name)
	}
	return &DepthStencilView{
		ResourceView: ResourceView{descriptor: d, resource: &t.Resource},
		MipSlice:     mip,
		ArraySlice:   slice,
		ReadOnly:     readOnly,
	}, nil
}

// CreateSRV views every mip and slice. Cube textures are viewed as cubes.
func (t *TextureResource) CreateSRV() (*ShaderResourceView, error) {
	desc := driver.ShaderResourceViewDesc{
		Format:    t.config.Format,
		Dimension: driver.SRVDimensionTexture2D,
		MipLevels: uint32(t.config.MipLevels),
		ArraySize: uint32(t.config.ArraySize),
	}
	switch {
	case t.config.Flags&TextureFlagCube != 0:
		desc.Dimension = driver.SRVDimensionTextureCube
	case t.config.ArraySize > 1:
		desc.Dimension = driver.SRVDimensionTexture2DArray
	}
	d, err := t.device.descriptors.AllocateSRV()
	if err != nil {
		return nil, err
	}
	if err := t.device.gpu.CreateShaderResourceView(t.native, &desc, d.CPU); err != nil {
		return nil, t.device.fail(err, "failed to create shader resource view of %s", t.name)
	}
	return &ShaderResourceView{ResourceView: ResourceView{descriptor: d, resource: &t.Resource}, Desc: desc}, nil
}

func (t *TextureResource) CreateUAV(mip uint32) (*UnorderedAccessView, error) {
	if t.config.Flags&TextureFlagUnorderedAccess == 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "texture %s does not allow unordered access", t.name)
	}
	if err := t.checkSubresource(mip, 0); err != nil {
		return nil, err
	}
	desc := driver.UnorderedAccessViewDesc{
		Format:    t.config.Format,
		Dimension: driver.UAVDimensionTexture2D,
		MipSlice:  mip,
		ArraySize: uint32(t.config.ArraySize),
	}
	if t.config.ArraySize > 1 {
		desc.Dimension = driver.UAVDimensionTexture2DArray
	}
	d, err := t.device.descriptors.AllocateUAV()
	if err != nil {
		return nil, err
	}
	if err := t.device.gpu.CreateUnorderedAccessView(t.native, &desc, d.CPU); err != nil {
		return nil, t.device.fail(err, "failed to create unordered access view of %s", t.name)
	}
	return &UnorderedAccessView{ResourceView: ResourceView{descriptor: d, resource: &t.Resource}, Desc: desc}, nil
}

func (t *TextureResource) checkSubresource(mip, slice uint32) error {
	if mip >= uint32(t.config.MipLevels) || slice >= uint32(t.config.ArraySize) {
		return errors.Wrapf(core.ErrInvalidArgument, "texture %s: mip %d slice %d out of %d mips and %d slices",
			t.name, mip, slice, t.config.MipLevels, t.config.ArraySize)
	}
	return nil
}

func (c *TextureConfig) normalize() error {
	if c.ArraySize == 0 {
		c.ArraySize = 1
	}
	if c.MipLevels == 0 {
		c.MipLevels = 1
	}
	if c.Width == 0 || c.Height == 0 {
		return errors.Wrapf(core.ErrInvalidArgument, "texture %q: extent %dx%d", c.Name, c.Width, c.Height)
	}
	if c.Format.BytesPerPixel() == 0 {
		return errors.Wrapf(core.ErrInvalidArgument, "texture %q: format %s", c.Name, c.Format)
	}
	if c.Flags&TextureFlagCube != 0 && c.ArraySize%6 != 0 {
		return errors.Wrapf(core.ErrInvalidArgument, "texture %q: cube maps need a multiple of 6 slices, got %d", c.Name, c.ArraySize)
	}
	rt, ds := c.Flags&TextureFlagRenderTarget != 0, c.Flags&TextureFlagDepthStencil != 0
	if rt && ds {
		return errors.Wrapf(core.ErrInvalidArgument, "texture %q cannot be render target and depth stencil", c.Name)
	}
	if ds != c.Format.IsDepth() {
		return errors.Wrapf(core.ErrInvalidArgument, "texture %q: format %s does not match its depth stencil usage", c.Name, c.Format)
	}
	return nil
}

// CreateTexture allocates a device local 2D texture (array). Render targets
// start in the render target state, depth buffers in depth write, everything
// else in the common state. A clear value must use the texture's format.
func (d *Device) CreateTexture(config TextureConfig, clear *driver.ClearValue) (*TextureResource, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}
	var flags driver.ResourceFlags
	state := driver.StateCommon
	switch {
	case config.Flags&TextureFlagRenderTarget != 0:
		flags |= driver.ResourceFlagAllowRenderTarget
		state = driver.StateRenderTarget
	case config.Flags&TextureFlagDepthStencil != 0:
		flags |= driver.ResourceFlagAllowDepthStencil
		state = driver.StateDepthWrite
	}
	if config.Flags&TextureFlagUnorderedAccess != 0 {
		flags |= driver.ResourceFlagAllowUnordered
	}
	if clear != nil {
		if flags&(driver.ResourceFlagAllowRenderTarget|driver.ResourceFlagAllowDepthStencil) == 0 {
			return nil, errors.Wrapf(core.ErrClearValueMismatch, "texture %q has a clear value but is not a render target or depth stencil", config.Name)
		}
		if clear.Format != config.Format {
			return nil, errors.Wrapf(core.ErrClearValueMismatch, "texture %q: clear format %s, texture format %s", config.Name, clear.Format, config.Format)
		}
	}

	desc := driver.ResourceDesc{
		Dimension:        driver.DimensionTexture2D,
		Width:            uint64(config.Width),
		Height:           config.Height,
		DepthOrArraySize: config.ArraySize,
		MipLevels:        config.MipLevels,
		Format:           config.Format,
		Flags:            flags,
	}
	native, err := d.gpu.NewCommittedResource(driver.HeapTypeDefault, desc, state, clear)
	if err != nil {
		return nil, d.fail(err, "failed to create texture %q (%dx%d %s)", config.Name, config.Width, config.Height, config.Format)
	}
	t := &TextureResource{config: config}
	if clear != nil {
		c := *clear
		t.clear = &c
	}
	t.init(d, config.Name, native, state)
	core.LogDebug("texture %s created: %dx%d x%d, %d mips, %s", t.name, config.Width, config.Height, config.ArraySize, config.MipLevels, config.Format)
	return t, nil
}

// wrapTexture adopts a native texture owned elsewhere, like a back buffer.
func (d *Device) wrapTexture(name string, native driver.Resource, state driver.ResourceState, flags TextureFlags) *TextureResource {
	desc := native.Desc()
	t := &TextureResource{config: TextureConfig{
		Name:      name,
		Width:     uint32(desc.Width),
		Height:    desc.Height,
		ArraySize: desc.DepthOrArraySize,
		MipLevels: desc.MipLevels,
		Format:    desc.Format,
		Flags:     flags,
	}}
	t.init(d, name, native, state)
	return t
}
