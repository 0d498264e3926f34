package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// imageLayout is the layout an image is kept in while in state. Swap chain
// images in the common state are ready for presentation.
func imageLayout(state driver.ResourceState, swapchain bool) vk.ImageLayout {
	switch {
	case state == driver.StateCommon:
		if swapchain {
			return vk.ImageLayoutPresentSrc
		}
		return vk.ImageLayoutGeneral
	case state == driver.StateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case state == driver.StateDepthWrite:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case state == driver.StateUnorderedAccess:
		return vk.ImageLayoutGeneral
	case state == driver.StateCopyDest:
		return vk.ImageLayoutTransferDstOptimal
	case state == driver.StateCopySource:
		return vk.ImageLayoutTransferSrcOptimal
	case state&driver.StateDepthRead != 0 && state&^(driver.StateDepthRead|driver.StateAllShaderResource) == 0:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case state&^driver.StateAllShaderResource == 0:
		return vk.ImageLayoutShaderReadOnlyOptimal
	}
	// combined read states
	return vk.ImageLayoutGeneral
}

var stateAccess = []struct {
	state  driver.ResourceState
	access vk.AccessFlagBits
	stages vk.PipelineStageFlagBits
}{
	{driver.StateVertexAndConstantBuffer, vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit,
		vk.PipelineStageVertexInputBit | vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit},
	{driver.StateIndexBuffer, vk.AccessIndexReadBit, vk.PipelineStageVertexInputBit},
	{driver.StateRenderTarget, vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit, vk.PipelineStageColorAttachmentOutputBit},
	{driver.StateUnorderedAccess, vk.AccessShaderReadBit | vk.AccessShaderWriteBit,
		vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit},
	{driver.StateDepthWrite, vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit,
		vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{driver.StateDepthRead, vk.AccessDepthStencilAttachmentReadBit,
		vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{driver.StateNonPixelShaderResource, vk.AccessShaderReadBit, vk.PipelineStageVertexShaderBit | vk.PipelineStageComputeShaderBit},
	{driver.StatePixelShaderResource, vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit},
	{driver.StateIndirectArgument, vk.AccessIndirectCommandReadBit, vk.PipelineStageDrawIndirectBit},
	{driver.StateCopyDest, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit},
	{driver.StateCopySource, vk.AccessTransferReadBit, vk.PipelineStageTransferBit},
}

// accessScope returns the memory accesses and pipeline stages state covers.
func accessScope(state driver.ResourceState) (vk.AccessFlags, vk.PipelineStageFlags) {
	if state == driver.StateCommon {
		return vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit), vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	var access vk.AccessFlagBits
	var stages vk.PipelineStageFlagBits
	for _, s := range stateAccess {
		if state&s.state != 0 {
			access |= s.access
			stages |= s.stages
		}
	}
	return vk.AccessFlags(access), vk.PipelineStageFlags(stages)
}

// subresourceRange maps a driver subresource index onto mip and layer.
func subresourceRange(desc driver.ResourceDesc, sub uint32) vk.ImageSubresourceRange {
	rng := vk.ImageSubresourceRange{
		AspectMask:     aspectMask(desc.Format),
		BaseMipLevel:   0,
		LevelCount:     uint32(desc.MipLevels),
		BaseArrayLayer: 0,
		LayerCount:     uint32(desc.DepthOrArraySize),
	}
	if sub != driver.AllSubresources {
		mips := uint32(max(desc.MipLevels, 1))
		rng.BaseMipLevel = sub % mips
		rng.BaseArrayLayer = sub / mips
		rng.LevelCount = 1
		rng.LayerCount = 1
	}
	return rng
}

func subresourceLayers(desc driver.ResourceDesc, sub uint32) vk.ImageSubresourceLayers {
	mips := uint32(max(desc.MipLevels, 1))
	return vk.ImageSubresourceLayers{
		AspectMask:     aspectMask(desc.Format),
		MipLevel:       sub % mips,
		BaseArrayLayer: sub / mips,
		LayerCount:     1,
	}
}

// imageBarrier builds the layout transition from before to after.
func imageBarrier(img *image, sub uint32, before, after driver.ResourceState) (vk.ImageMemoryBarrier, vk.PipelineStageFlags, vk.PipelineStageFlags) {
	srcAccess, srcStages := accessScope(before)
	dstAccess, dstStages := accessScope(after)
	oldLayout := imageLayout(before, img.swapchain)
	if img.undefined {
		oldLayout = vk.ImageLayoutUndefined
		img.undefined = false
	}
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           imageLayout(after, img.swapchain),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.handle,
		SubresourceRange:    subresourceRange(img.desc, sub),
	}, srcStages, dstStages
}
