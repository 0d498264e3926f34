package vulkan

import (
	vk "github.com/goki/vulkan"
)

type framebufferKey struct {
	pass   vk.RenderPass
	views  [maxRenderTargets + 1]vk.ImageView
	count  int
	width  uint32
	height uint32
}

type VulkanFramebuffer struct {
	Handle vk.Framebuffer
	images []*image
}

// framebufferCache keeps a framebuffer per render pass and attachment set.
// Entries are dropped when one of their views or images goes away.
type framebufferCache struct {
	entries map[framebufferKey]*VulkanFramebuffer
}

func (c *framebufferCache) init() {
	c.entries = make(map[framebufferKey]*VulkanFramebuffer)
}

func (c *framebufferCache) get(g *GPU, key framebufferKey, images []*image) (vk.Framebuffer, error) {
	var handle vk.Framebuffer
	err := g.locks.SafeCall(FramebufferManagement, func() error {
		if fb, ok := c.entries[key]; ok {
			handle = fb.Handle
			return nil
		}
		fb, err := FramebufferCreate(g, key, images)
		if err != nil {
			return err
		}
		c.entries[key] = fb
		handle = fb.Handle
		return nil
	})
	return handle, err
}

func (c *framebufferCache) purge(g *GPU, match func(key framebufferKey, fb *VulkanFramebuffer) bool) {
	var dead []vk.Framebuffer
	_ = g.locks.SafeCall(FramebufferManagement, func() error {
		for k, fb := range c.entries {
			if match(k, fb) {
				dead = append(dead, fb.Handle)
				delete(c.entries, k)
			}
		}
		return nil
	})
	if len(dead) == 0 {
		return
	}
	g.retire(func() {
		for _, fb := range dead {
			vk.DestroyFramebuffer(g.device(), fb, g.Allocator)
		}
	})
}

func (c *framebufferCache) purgeView(g *GPU, view vk.ImageView) {
	c.purge(g, func(key framebufferKey, _ *VulkanFramebuffer) bool {
		for i := 0; i < key.count; i++ {
			if key.views[i] == view {
				return true
			}
		}
		return false
	})
}

func (c *framebufferCache) purgeImage(g *GPU, im *image) {
	c.purge(g, func(_ framebufferKey, fb *VulkanFramebuffer) bool {
		for _, i := range fb.images {
			if i == im {
				return true
			}
		}
		return false
	})
}

func (c *framebufferCache) destroy(g *GPU) {
	_ = g.locks.SafeCall(FramebufferManagement, func() error {
		for k, fb := range c.entries {
			vk.DestroyFramebuffer(g.device(), fb.Handle, g.Allocator)
			delete(c.entries, k)
		}
		return nil
	})
}

func FramebufferCreate(g *GPU, key framebufferKey, images []*image) (*VulkanFramebuffer, error) {
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      key.pass,
		AttachmentCount: uint32(key.count),
		PAttachments:    append([]vk.ImageView(nil), key.views[:key.count]...),
		Width:           key.width,
		Height:          key.height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if err := g.check(vk.CreateFramebuffer(g.device(), &framebufferCreateInfo, g.Allocator, &pFramebuffer), "vkCreateFramebuffer"); err != nil {
		return nil, err
	}
	return &VulkanFramebuffer{Handle: pFramebuffer, images: images}, nil
}
