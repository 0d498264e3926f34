package vulkan

import (
	vk "github.com/goki/vulkan"
)

const maxRenderTargets = 8

// renderPassKey identifies a render pass by its attachment formats. Every
// pass loads and stores its attachments. Clears run in a pass of their own.
type renderPassKey struct {
	colors        [maxRenderTargets]vk.Format
	count         int
	depth         vk.Format
	depthReadOnly bool
}

func (k renderPassKey) hasDepth() bool { return k.depth != vk.FormatUndefined }

type renderPassCache struct {
	passes map[renderPassKey]vk.RenderPass
}

func (c *renderPassCache) init() {
	c.passes = make(map[renderPassKey]vk.RenderPass)
}

func (c *renderPassCache) get(g *GPU, key renderPassKey) (vk.RenderPass, error) {
	var pass vk.RenderPass
	err := g.locks.SafeCall(RenderpassManagement, func() error {
		if p, ok := c.passes[key]; ok {
			pass = p
			return nil
		}
		p, err := RenderpassCreate(g, key)
		if err != nil {
			return err
		}
		c.passes[key] = p
		pass = p
		return nil
	})
	return pass, err
}

func (c *renderPassCache) destroy(g *GPU) {
	_ = g.locks.SafeCall(RenderpassManagement, func() error {
		for k, p := range c.passes {
			vk.DestroyRenderPass(g.device(), p, g.Allocator)
			delete(c.passes, k)
		}
		return nil
	})
}

func RenderpassCreate(g *GPU, key renderPassKey) (vk.RenderPass, error) {
	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, 0, key.count+1)
	colorAttachmentReferences := make([]vk.AttachmentReference, key.count)
	for i := 0; i < key.count; i++ {
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         key.colors[i],
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorAttachmentReferences[i] = vk.AttachmentReference{
			Attachment: uint32(i), // Attachment description array index
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
	}
	subpass.ColorAttachmentCount = uint32(key.count)
	subpass.PColorAttachments = colorAttachmentReferences

	// Depth attachment, if there is one
	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	if key.hasDepth() {
		layout := vk.ImageLayoutDepthStencilAttachmentOptimal
		if key.depthReadOnly {
			layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpLoad,
			StencilStoreOp: vk.AttachmentStoreOpStore,
			InitialLayout:  layout,
			FinalLayout:    layout,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.count),
			Layout:     layout,
		}
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		SrcAccessMask: access,
		DstStageMask:  stages,
		DstAccessMask: access,
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	if err := g.check(vk.CreateRenderPass(g.device(), &renderpassCreateInfo, g.Allocator, &pRenderPass), "vkCreateRenderPass"); err != nil {
		return nil, err
	}
	return pRenderPass, nil
}
