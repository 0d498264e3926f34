package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// VulkanShaderStage is a shader module ready to be plugged into a pipeline.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderStage creates a module from SPIR-V bytecode for one stage.
func NewShaderStage(g *GPU, code driver.ShaderBytecode, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	if len(code.Code) == 0 || len(code.Code)%4 != 0 {
		return nil, errors.Newf("vulkan: shader bytecode of %d bytes is not SPIR-V", len(code.Code))
	}
	words := sliceUint32(code.Code)
	if words[0] != spirvMagic {
		return nil, errors.Newf("vulkan: shader bytecode starts with %#x, not the SPIR-V magic", words[0])
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code.Code)),
		PCode:    words,
	}
	var handle vk.ShaderModule
	if err := g.check(vk.CreateShaderModule(g.device(), &createInfo, g.Allocator, &handle), "vkCreateShaderModule"); err != nil {
		return nil, err
	}

	entry := code.Entry
	if entry == "" {
		entry = "main"
	}
	return &VulkanShaderStage{
		Handle: handle,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: handle,
			PName:  VulkanSafeString(entry),
		},
	}, nil
}

// Destroy releases the module. Pipelines built from it stay valid.
func (s *VulkanShaderStage) Destroy(g *GPU) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(g.device(), s.Handle, g.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
