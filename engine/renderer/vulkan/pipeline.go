package vulkan

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

const (
	// maxPushConstants is the push constant space every device guarantees.
	maxPushConstants = 128
	maxVertexSlots   = 16
)

// rootSignature maps root parameters onto one push constant block. Root
// constants take their values in place, descriptor tables take the heap
// index of their first descriptor. Static samplers live in set 2.
type rootSignature struct {
	gpu  *GPU
	desc driver.RootSignatureDesc

	layout   vk.PipelineLayout
	offsets  []uint32
	pushSize uint32

	static     vk.DescriptorSetLayout
	staticPool vk.DescriptorPool
	staticSet  vk.DescriptorSet
	samplers   []vk.Sampler

	destroyed atomic.Bool
}

func (rs *rootSignature) Desc() driver.RootSignatureDesc { return rs.desc }

func (rs *rootSignature) Destroy() {
	if !rs.destroyed.CompareAndSwap(false, true) {
		return
	}
	g := rs.gpu
	layout, static, pool, samplers := rs.layout, rs.static, rs.staticPool, rs.samplers
	g.retire(func() {
		if layout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(g.device(), layout, g.Allocator)
		}
		if pool != nil {
			vk.DestroyDescriptorPool(g.device(), pool, g.Allocator)
		}
		if static != nil {
			vk.DestroyDescriptorSetLayout(g.device(), static, g.Allocator)
		}
		for _, s := range samplers {
			vk.DestroySampler(g.device(), s, g.Allocator)
		}
	})
}

func (g *GPU) NewRootSignature(desc driver.RootSignatureDesc) (driver.RootSignature, error) {
	if err := g.Removed(); err != nil {
		return nil, err
	}
	rs := &rootSignature{gpu: g, desc: desc, offsets: make([]uint32, len(desc.Parameters))}
	var constants uint32
	for i, p := range desc.Parameters {
		rs.offsets[i] = rs.pushSize
		switch p.Type {
		case driver.RootParamConstants:
			if p.Num32BitValues == 0 {
				return nil, errors.Newf("vulkan: root parameter %d declares no constants", i)
			}
			constants += p.Num32BitValues
			rs.pushSize += 4 * p.Num32BitValues
		case driver.RootParamDescriptorTable:
			if len(p.Ranges) == 0 {
				return nil, errors.Newf("vulkan: root parameter %d is an empty descriptor table", i)
			}
			rs.pushSize += 4
		default:
			return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: root parameter %d is a root descriptor, use a descriptor table", i)
		}
	}
	if constants > g.limits.MaxRootConstants {
		return nil, errors.Newf("vulkan: %d root constants exceed the limit of %d", constants, g.limits.MaxRootConstants)
	}
	if rs.pushSize > maxPushConstants {
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: root signature needs %d bytes of push constants, %d available", rs.pushSize, maxPushConstants)
	}

	layouts := []vk.DescriptorSetLayout{g.bindless.resources, g.bindless.samplers}
	if len(desc.StaticSamplers) > 0 {
		if err := rs.createStaticSamplers(); err != nil {
			rs.Destroy()
			return nil, err
		}
		layouts = append(layouts, rs.static)
	}

	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	if rs.pushSize > 0 {
		info.PushConstantRangeCount = 1
		info.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: shaderStages(driver.VisibilityAll),
			Offset:     0,
			Size:       rs.pushSize,
		}}
	}
	if err := g.check(vk.CreatePipelineLayout(g.device(), &info, g.Allocator, &rs.layout), "vkCreatePipelineLayout"); err != nil {
		rs.Destroy()
		return nil, err
	}
	return rs, nil
}

// createStaticSamplers builds set 2, one immutable sampler per register.
func (rs *rootSignature) createStaticSamplers() error {
	g := rs.gpu
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(rs.desc.StaticSamplers))
	seen := make(map[uint32]bool, len(rs.desc.StaticSamplers))
	for _, s := range rs.desc.StaticSamplers {
		if seen[s.Register] {
			return errors.Newf("vulkan: two static samplers at register %d", s.Register)
		}
		seen[s.Register] = true
		sampler, err := g.createSampler(s.Sampler)
		if err != nil {
			return err
		}
		rs.samplers = append(rs.samplers, sampler)
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:            s.Register,
			DescriptorType:     vk.DescriptorTypeSampler,
			DescriptorCount:    1,
			StageFlags:         shaderStages(s.Visibility),
			PImmutableSamplers: []vk.Sampler{sampler},
		})
	}
	var err error
	if rs.static, err = g.createSetLayout(bindings); err != nil {
		return err
	}
	rs.staticPool, rs.staticSet, err = g.allocateSet(rs.static, []vk.DescriptorPoolSize{{
		Type:            vk.DescriptorTypeSampler,
		DescriptorCount: uint32(len(bindings)),
	}})
	return err
}

// parameter returns the push constant offset of param if it has type want.
func (rs *rootSignature) parameter(param uint32, want driver.RootParameterType) (*driver.RootParameter, uint32, error) {
	if int(param) >= len(rs.desc.Parameters) {
		return nil, 0, errors.Newf("vulkan: root parameter %d out of range", param)
	}
	p := &rs.desc.Parameters[param]
	if p.Type != want {
		return nil, 0, errors.Newf("vulkan: root parameter %d has type %d, not %d", param, p.Type, want)
	}
	return p, rs.offsets[param], nil
}

// sets are the descriptor sets bound for rs, the static set last.
func (rs *rootSignature) sets(resources, samplers vk.DescriptorSet) []vk.DescriptorSet {
	if rs.staticSet != nil {
		return []vk.DescriptorSet{resources, samplers, rs.staticSet}
	}
	return []vk.DescriptorSet{resources, samplers}
}

// vertexKey selects a pipeline variant. Vertex strides and the exact
// topology are baked into Vulkan pipelines.
type vertexKey struct {
	topology vk.PrimitiveTopology
	strides  [maxVertexSlots]uint32
}

type pipelineState struct {
	gpu       *GPU
	rs        *rootSignature
	compute   bool
	bindPoint vk.PipelineBindPoint
	handle    vk.Pipeline

	// graphics only
	desc     driver.GraphicsPipelineDesc
	stages   []*VulkanShaderStage
	pass     renderPassKey
	used     [maxVertexSlots]bool
	base     vertexKey
	variants map[vertexKey]vk.Pipeline

	destroyed atomic.Bool
}

func (p *pipelineState) Compute() bool { return p.compute }

func (p *pipelineState) Destroy() {
	if !p.destroyed.CompareAndSwap(false, true) {
		return
	}
	g := p.gpu
	var handles []vk.Pipeline
	_ = g.locks.SafeCall(PipelineManagement, func() error {
		for k, h := range p.variants {
			handles = append(handles, h)
			delete(p.variants, k)
		}
		return nil
	})
	if p.compute {
		handles = append(handles, p.handle)
	}
	stages := p.stages
	p.stages = nil
	g.retire(func() {
		for _, h := range handles {
			vk.DestroyPipeline(g.device(), h, g.Allocator)
		}
		for _, s := range stages {
			s.Destroy(g)
		}
	})
}

// variant returns the pipeline for the bound vertex strides and topology.
func (p *pipelineState) variant(key vertexKey) (vk.Pipeline, error) {
	if p.compute {
		return p.handle, nil
	}
	var handle vk.Pipeline
	err := p.gpu.locks.SafeCall(PipelineManagement, func() error {
		if h, ok := p.variants[key]; ok {
			handle = h
			return nil
		}
		h, err := p.createGraphics(key)
		if err != nil {
			return err
		}
		p.variants[key] = h
		handle = h
		return nil
	})
	return handle, err
}

// keyFor merges the strides bound by a command list into the base key.
// Slots the pipeline does not read keep their default stride.
func (p *pipelineState) keyFor(topo driver.PrimitiveTopology, strides []uint32) vertexKey {
	key := p.base
	key.topology = topology(topo)
	for s := range strides {
		if s < maxVertexSlots && p.used[s] && strides[s] != 0 {
			key.strides[s] = strides[s]
		}
	}
	return key
}

// passKey builds the render pass key of a set of attachment formats.
func passKey(rtvs []driver.Format, dsv driver.Format, depthReadOnly bool) (renderPassKey, error) {
	var key renderPassKey
	if len(rtvs) > maxRenderTargets {
		return key, errors.Newf("vulkan: %d render targets", len(rtvs))
	}
	for i, f := range rtvs {
		key.colors[i] = vkFormat(f)
		if key.colors[i] == vk.FormatUndefined {
			return key, errors.Wrapf(driver.ErrNotSupported, "vulkan: render target format %s", f)
		}
	}
	key.count = len(rtvs)
	if dsv != driver.FormatUnknown {
		if !dsv.IsDepth() {
			return key, errors.Newf("vulkan: depth format %s", dsv)
		}
		key.depth = vkFormat(dsv)
		key.depthReadOnly = depthReadOnly
	}
	return key, nil
}

func asRootSignature(rs driver.RootSignature) (*rootSignature, error) {
	r, ok := rs.(*rootSignature)
	if !ok || r == nil {
		return nil, errors.Newf("vulkan: foreign root signature %T", rs)
	}
	if r.destroyed.Load() {
		return nil, errors.New("vulkan: use of a destroyed root signature")
	}
	return r, nil
}

func (g *GPU) NewGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.PipelineState, error) {
	if err := g.Removed(); err != nil {
		return nil, err
	}
	if desc.RootSignature == nil {
		return nil, errors.New("vulkan: graphics pipeline without root signature")
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	if len(desc.VS.Code) == 0 {
		return nil, errors.New("vulkan: graphics pipeline without vertex shader")
	}
	if desc.SampleCount > 1 {
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: %d samples", desc.SampleCount)
	}
	pass, err := passKey(desc.RTVFormats, desc.DSVFormat, false)
	if err != nil {
		return nil, err
	}

	p := &pipelineState{
		gpu:       g,
		rs:        rs,
		bindPoint: vk.PipelineBindPointGraphics,
		desc:      desc,
		pass:      pass,
		variants:  make(map[vertexKey]vk.Pipeline),
	}
	p.base.topology = topology(desc.Topology)
	for i, e := range desc.InputLayout {
		if e.Slot >= maxVertexSlots {
			return nil, errors.Newf("vulkan: input element %d uses vertex slot %d", i, e.Slot)
		}
		if vkFormat(e.Format) == vk.FormatUndefined {
			return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: input element %d format %s", i, e.Format)
		}
		p.used[e.Slot] = true
		p.base.strides[e.Slot] = max(p.base.strides[e.Slot], e.Offset+e.Format.BytesPerPixel())
	}

	vs, err := NewShaderStage(g, desc.VS, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, err
	}
	p.stages = append(p.stages, vs)
	if len(desc.PS.Code) > 0 {
		ps, err := NewShaderStage(g, desc.PS, vk.ShaderStageFragmentBit)
		if err != nil {
			vs.Destroy(g)
			return nil, err
		}
		p.stages = append(p.stages, ps)
	}

	if _, err := p.variant(p.base); err != nil {
		for _, s := range p.stages {
			s.Destroy(g)
		}
		return nil, err
	}
	core.LogDebug("vulkan graphics pipeline created with %d render targets", pass.count)
	return p, nil
}

func (p *pipelineState) createGraphics(key vertexKey) (vk.Pipeline, error) {
	g, desc := p.gpu, p.desc

	renderPass, err := g.passes.get(g, p.pass)
	if err != nil {
		return nil, err
	}

	// Vertex input
	var bindings []vk.VertexInputBindingDescription
	for s := uint32(0); s < maxVertexSlots; s++ {
		if p.used[s] {
			bindings = append(bindings, vk.VertexInputBindingDescription{
				Binding:   s,
				Stride:    key.strides[s],
				InputRate: vk.VertexInputRateVertex,
			})
		}
	}
	// Attributes take the location of their place in the input layout.
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.InputLayout))
	for i, e := range desc.InputLayout {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  e.Slot,
			Format:   vkFormat(e.Format),
			Offset:   e.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               key.topology,
		PrimitiveRestartEnable: vk.False,
	}

	// Viewport and scissor are dynamic
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		FrontFace:               vk.FrontFaceClockwise,
		DepthBiasEnable:         vk.False,
	}
	if desc.Rasterizer.Fill == driver.FillWireframe {
		if g.Device.Features.FillModeNonSolid != vk.True {
			return nil, errors.Wrap(driver.ErrNotSupported, "vulkan: wireframe fill")
		}
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}
	if desc.Rasterizer.FrontCounterClockwise {
		rasterizerCreateInfo.FrontFace = vk.FrontFaceCounterClockwise
	}
	switch desc.Rasterizer.Cull {
	case driver.CullNone:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeNone)
	case driver.CullFront:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	default:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}
	if !desc.Rasterizer.DepthClipEnable && g.Device.Features.DepthClamp == vk.True {
		rasterizerCreateInfo.DepthClampEnable = vk.True
	}
	if desc.Rasterizer.DepthBias != 0 {
		rasterizerCreateInfo.DepthBiasEnable = vk.True
		rasterizerCreateInfo.DepthBiasConstantFactor = float32(desc.Rasterizer.DepthBias)
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		DepthCompareOp:    vk.CompareOpAlways,
		StencilTestEnable: vk.False,
	}
	if desc.DepthStencil.DepthEnable && p.pass.hasDepth() {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = compareOp(desc.DepthStencil.DepthFunc)
		if desc.DepthStencil.DepthWrite {
			depthStencil.DepthWriteEnable = vk.True
		}
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if desc.Blend.Enable {
		colorBlendAttachmentState.BlendEnable = vk.True
		colorBlendAttachmentState.ColorBlendOp = vk.BlendOpAdd
		colorBlendAttachmentState.AlphaBlendOp = vk.BlendOpAdd
		if desc.Blend.Alpha {
			colorBlendAttachmentState.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
			colorBlendAttachmentState.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			colorBlendAttachmentState.SrcAlphaBlendFactor = vk.BlendFactorOne
			colorBlendAttachmentState.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		} else {
			// additive
			colorBlendAttachmentState.SrcColorBlendFactor = vk.BlendFactorOne
			colorBlendAttachmentState.DstColorBlendFactor = vk.BlendFactorOne
			colorBlendAttachmentState.SrcAlphaBlendFactor = vk.BlendFactorOne
			colorBlendAttachmentState.DstAlphaBlendFactor = vk.BlendFactorOne
		}
	}
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, p.pass.count)
	for i := range blendAttachments {
		blendAttachments[i] = colorBlendAttachmentState
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(p.stages))
	for i, s := range p.stages {
		stages[i] = s.ShaderStageCreateInfo
	}

	// Pipeline create
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              p.rs.layout,
		RenderPass:          renderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(g.device(), vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, g.Allocator, pPipelines)
	if err := g.check(res, "vkCreateGraphicsPipelines"); err != nil {
		return nil, err
	}
	return pPipelines[0], nil
}

func (g *GPU) NewComputePipeline(desc driver.ComputePipelineDesc) (driver.PipelineState, error) {
	if err := g.Removed(); err != nil {
		return nil, err
	}
	if desc.RootSignature == nil {
		return nil, errors.New("vulkan: compute pipeline without root signature")
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	if len(desc.CS.Code) == 0 {
		return nil, errors.New("vulkan: compute pipeline without compute shader")
	}
	cs, err := NewShaderStage(g, desc.CS, vk.ShaderStageComputeBit)
	if err != nil {
		return nil, err
	}
	// the module is not needed once the pipeline exists
	defer cs.Destroy(g)

	pPipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(g.device(), vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              cs.ShaderStageCreateInfo,
		Layout:             rs.layout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}}, g.Allocator, pPipelines)
	if err := g.check(res, "vkCreateComputePipelines"); err != nil {
		return nil, err
	}
	core.LogDebug("vulkan compute pipeline created")
	return &pipelineState{
		gpu:       g,
		rs:        rs,
		compute:   true,
		bindPoint: vk.PipelineBindPointCompute,
		handle:    pPipelines[0],
	}, nil
}

func asPipeline(pso driver.PipelineState) (*pipelineState, error) {
	p, ok := pso.(*pipelineState)
	if !ok || p == nil {
		return nil, errors.Newf("vulkan: foreign pipeline %T", pso)
	}
	if p.destroyed.Load() {
		return nil, errors.New("vulkan: use of a destroyed pipeline")
	}
	return p, nil
}
