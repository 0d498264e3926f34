package vulkan

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type image struct {
	gpu    *GPU
	desc   driver.ResourceDesc
	handle vk.Image
	memory vk.DeviceMemory
	format vk.Format

	// swapchain images are owned by the swap chain and present from the
	// common state.
	swapchain bool
	// undefined is set until the first barrier. The contents are discarded
	// by that transition.
	undefined bool

	destroyed atomic.Bool
}

func (im *image) Desc() driver.ResourceDesc { return im.desc }
func (im *image) HeapType() driver.HeapType { return driver.HeapTypeDefault }
func (im *image) GPUVirtualAddress() uint64 { return 0 }

func (im *image) Map() ([]byte, error) {
	return nil, errors.Wrap(driver.ErrNotSupported, "vulkan: textures cannot be mapped")
}

func (im *image) Unmap() {}

func (im *image) Destroy() {
	if im.swapchain || !im.destroyed.CompareAndSwap(false, true) {
		return
	}
	g := im.gpu
	g.fbs.purgeImage(g, im)
	handle, memory := im.handle, im.memory
	g.retire(func() {
		vk.DestroyImage(g.device(), handle, g.Allocator)
		vk.FreeMemory(g.device(), memory, g.Allocator)
	})
}

func imageUsage(flags driver.ResourceFlags) vk.ImageUsageFlags {
	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if flags&driver.ResourceFlagDenyShaderResource == 0 {
		usage |= vk.ImageUsageSampledBit
	}
	if flags&driver.ResourceFlagAllowRenderTarget != 0 {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if flags&driver.ResourceFlagAllowDepthStencil != 0 {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if flags&driver.ResourceFlagAllowUnordered != 0 {
		usage |= vk.ImageUsageStorageBit
	}
	return vk.ImageUsageFlags(usage)
}

func (g *GPU) newImage(desc driver.ResourceDesc, initial driver.ResourceState) (*image, error) {
	if desc.Width == 0 || desc.Height == 0 || desc.DepthOrArraySize == 0 || desc.MipLevels == 0 {
		return nil, errors.Newf("vulkan: invalid texture extent %dx%dx%d with %d mips", desc.Width, desc.Height, desc.DepthOrArraySize, desc.MipLevels)
	}
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: texture format %s", desc.Format)
	}
	if uint32(desc.Width) > g.limits.MaxTextureDimension2D || desc.Height > g.limits.MaxTextureDimension2D {
		return nil, errors.Wrapf(driver.ErrNoDeviceMemory, "vulkan: texture %dx%d exceeds %d", desc.Width, desc.Height, g.limits.MaxTextureDimension2D)
	}

	var flags vk.ImageCreateFlags
	if desc.DepthOrArraySize >= 6 && desc.DepthOrArraySize%6 == 0 && desc.Width == uint64(desc.Height) {
		flags |= vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	var handle vk.Image
	res := vk.CreateImage(g.device(), &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(desc.Width),
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     uint32(desc.MipLevels),
		ArrayLayers:   uint32(desc.DepthOrArraySize),
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc.Flags),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, g.Allocator, &handle)
	if err := g.check(res, "vkCreateImage"); err != nil {
		return nil, err
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(g.device(), handle, &reqs)
	memory, err := g.allocateMemory(reqs, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(g.device(), handle, g.Allocator)
		return nil, err
	}
	if err := g.check(vk.BindImageMemory(g.device(), handle, memory, 0), "vkBindImageMemory"); err != nil {
		vk.DestroyImage(g.device(), handle, g.Allocator)
		vk.FreeMemory(g.device(), memory, g.Allocator)
		return nil, err
	}

	im := &image{gpu: g, desc: desc, handle: handle, memory: memory, format: format, undefined: true}
	// Move the image into the layout of its initial state so the first
	// barrier recorded against it has a known source layout.
	err = g.EndSingleUse(func(cb vk.CommandBuffer) {
		barrier, _, dst := imageBarrier(im, driver.AllSubresources, driver.StateCommon, initial)
		barrier.SrcAccessMask = 0
		vk.CmdPipelineBarrier(cb,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), dst,
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	})
	if err != nil {
		vk.DestroyImage(g.device(), handle, g.Allocator)
		vk.FreeMemory(g.device(), memory, g.Allocator)
		return nil, err
	}
	return im, nil
}

// asImage accepts textures and back buffers.
func asImage(r driver.Resource) (*image, error) {
	switch v := r.(type) {
	case *image:
		if v.destroyed.Load() {
			return nil, errors.New("vulkan: use of a destroyed texture")
		}
		return v, nil
	case *backBuffer:
		if v.released.Load() {
			return nil, errors.New("vulkan: use of a released back buffer")
		}
		return v.img, nil
	case nil:
		return nil, errors.New("vulkan: nil resource")
	}
	return nil, errors.Newf("vulkan: %T is not a texture", r)
}
