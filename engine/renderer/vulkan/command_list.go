package vulkan

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

const (
	bindGraphics = iota
	bindCompute
)

var bindPoints = [2]vk.PipelineBindPoint{
	bindGraphics: vk.PipelineBindPointGraphics,
	bindCompute:  vk.PipelineBindPointCompute,
}

// commandList records straight into a Vulkan command buffer. Render passes
// are opened lazily by the first draw after the targets change and closed by
// anything that cannot run inside one.
type commandList struct {
	gpu       *GPU
	kind      driver.QueueKind
	alloc     *commandAllocator
	cb        *VulkanCommandBuffer
	recording bool
	err       error

	pso       *pipelineState
	roots     [2]*rootSignature
	push      [2][maxPushConstants / 4]uint32
	dirty     [2]bool
	bound     [2]vk.Pipeline
	resources *descriptorHeap
	samplers  *descriptorHeap

	topology driver.PrimitiveTopology
	strides  [maxVertexSlots]uint32
	indexed  bool
	rtvs     []descriptor
	dsv      *descriptor

	inPass bool
	pass   renderPassKey
}

func (g *GPU) NewCommandList(kind driver.QueueKind, alloc driver.CommandAllocator, pso driver.PipelineState) (driver.CommandList, error) {
	if kind < 0 || kind >= driver.QueueKindCount {
		return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: queue kind %d", kind)
	}
	cl := &commandList{gpu: g, kind: kind}
	if err := cl.Reset(alloc, pso); err != nil {
		return nil, err
	}
	return cl, nil
}

func (cl *commandList) Kind() driver.QueueKind { return cl.kind }

// Destroy is a no-op, command buffers belong to their allocator.
func (cl *commandList) Destroy() {}

func (cl *commandList) Reset(alloc driver.CommandAllocator, pso driver.PipelineState) error {
	if cl.recording {
		return errors.New("vulkan: reset of a recording command list")
	}
	a, ok := alloc.(*commandAllocator)
	if !ok || a == nil {
		return errors.Newf("vulkan: foreign command allocator %T", alloc)
	}
	if a.kind != cl.kind {
		return errors.Newf("vulkan: %s allocator used for a %s list", a.kind, cl.kind)
	}
	if err := cl.gpu.Removed(); err != nil {
		return err
	}
	cb, err := a.acquire()
	if err != nil {
		return err
	}
	if err := cb.Begin(cl.gpu); err != nil {
		return err
	}
	*cl = commandList{gpu: cl.gpu, kind: cl.kind, alloc: a, cb: cb, recording: true, rtvs: cl.rtvs[:0]}
	a.open.Add(1)
	if pso != nil {
		cl.SetPipelineState(pso)
	}
	return nil
}

func (cl *commandList) Close() error {
	if !cl.recording {
		return errors.New("vulkan: close of a command list that is not recording")
	}
	cl.endPass()
	cl.recording = false
	cl.alloc.open.Add(-1)
	if err := cl.cb.End(cl.gpu); err != nil {
		cl.fail(err)
	}
	return cl.err
}

// fail keeps the first recording error; it is returned by Close.
func (cl *commandList) fail(err error) {
	if cl.err == nil {
		cl.err = err
	}
}

func (cl *commandList) ready(name string) bool {
	if !cl.recording {
		cl.fail(errors.Newf("vulkan: %s recorded outside of the recording state", name))
		return false
	}
	return true
}

func (cl *commandList) endPass() {
	if cl.inPass {
		vk.CmdEndRenderPass(cl.cb.Handle)
		cl.inPass = false
		cl.cb.State = COMMAND_BUFFER_STATE_RECORDING
	}
}

// beginPass opens a render pass over the given attachments.
func (cl *commandList) beginPass(rtvs []descriptor, dsv *descriptor) error {
	g := cl.gpu
	var (
		key    renderPassKey
		fbKey  framebufferKey
		images []*image
	)
	extent := vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	for i, d := range rtvs {
		key.colors[i] = vkFormat(d.format)
		fbKey.views[i] = d.view
		images = append(images, d.img)
		extent.Width = min(extent.Width, d.extent.Width)
		extent.Height = min(extent.Height, d.extent.Height)
	}
	key.count = len(rtvs)
	fbKey.count = len(rtvs)
	if dsv != nil {
		key.depth = vkFormat(dsv.format)
		key.depthReadOnly = dsv.readOnly
		fbKey.views[fbKey.count] = dsv.view
		fbKey.count++
		images = append(images, dsv.img)
		extent.Width = min(extent.Width, dsv.extent.Width)
		extent.Height = min(extent.Height, dsv.extent.Height)
	}
	if fbKey.count == 0 {
		return errors.Wrap(driver.ErrNotSupported, "vulkan: rendering without render targets")
	}

	pass, err := g.passes.get(g, key)
	if err != nil {
		return err
	}
	fbKey.pass = pass
	fbKey.width, fbKey.height = extent.Width, extent.Height
	fb, err := g.fbs.get(g, fbKey, images)
	if err != nil {
		return err
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
	}
	vk.CmdBeginRenderPass(cl.cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cl.cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	cl.inPass = true
	cl.pass = key
	return nil
}

func (cl *commandList) ResourceBarrier(barriers ...driver.Barrier) {
	if !cl.ready("ResourceBarrier") {
		return
	}
	type pending struct {
		b   driver.Barrier
		buf *buffer
		img *image
	}
	ps := make([]pending, 0, len(barriers))
	for _, b := range barriers {
		switch b.Type {
		case driver.BarrierUAV:
			ps = append(ps, pending{b: b})
		case driver.BarrierTransition:
			if b.Resource == nil {
				cl.fail(errors.New("vulkan: transition barrier without a resource"))
				return
			}
			if !b.Before.Valid() || !b.After.Valid() {
				cl.fail(errors.Newf("vulkan: invalid barrier states %s -> %s", b.Before, b.After))
				return
			}
			desc := b.Resource.Desc()
			if b.Subresource != driver.AllSubresources && b.Subresource >= desc.SubresourceCount() {
				cl.fail(errors.Newf("vulkan: barrier subresource %d out of range", b.Subresource))
				return
			}
			if desc.Dimension == driver.DimensionBuffer {
				buf, err := asBuffer(b.Resource)
				if err != nil {
					cl.fail(err)
					return
				}
				if buf.heap != driver.HeapTypeDefault {
					cl.fail(errors.Newf("vulkan: barrier on a %s heap buffer, whose state is fixed", buf.heap))
					return
				}
				ps = append(ps, pending{b: b, buf: buf})
				continue
			}
			img, err := asImage(b.Resource)
			if err != nil {
				cl.fail(err)
				return
			}
			ps = append(ps, pending{b: b, img: img})
		default:
			cl.fail(errors.Newf("vulkan: barrier type %d", b.Type))
			return
		}
	}
	if len(ps) == 0 {
		return
	}

	var (
		srcStages, dstStages vk.PipelineStageFlags
		global               vk.MemoryBarrier
		hasGlobal            bool
		images               []vk.ImageMemoryBarrier
	)
	global.SType = vk.StructureTypeMemoryBarrier
	for _, p := range ps {
		switch {
		case p.img != nil:
			ib, src, dst := imageBarrier(p.img, p.b.Subresource, p.b.Before, p.b.After)
			images = append(images, ib)
			srcStages |= src
			dstStages |= dst
		case p.buf != nil:
			srcAccess, src := accessScope(p.b.Before)
			dstAccess, dst := accessScope(p.b.After)
			global.SrcAccessMask |= srcAccess
			global.DstAccessMask |= dstAccess
			srcStages |= src
			dstStages |= dst
			hasGlobal = true
		default:
			// unordered access writes against any later access
			access, stages := accessScope(driver.StateUnorderedAccess)
			global.SrcAccessMask |= access
			global.DstAccessMask |= access
			srcStages |= stages
			dstStages |= stages
			hasGlobal = true
		}
	}
	if srcStages == 0 {
		srcStages = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	if dstStages == 0 {
		dstStages = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	var globals []vk.MemoryBarrier
	if hasGlobal {
		globals = []vk.MemoryBarrier{global}
	}

	cl.endPass()
	vk.CmdPipelineBarrier(cl.cb.Handle, srcStages, dstStages, 0,
		uint32(len(globals)), globals, 0, nil, uint32(len(images)), images)
}

func (cl *commandList) CopyBufferRegion(dst driver.Resource, dstOffset uint64, src driver.Resource, srcOffset, size uint64) {
	if !cl.ready("CopyBufferRegion") {
		return
	}
	d, err := asBuffer(dst)
	if err != nil {
		cl.fail(err)
		return
	}
	s, err := asBuffer(src)
	if err != nil {
		cl.fail(err)
		return
	}
	if dstOffset+size > d.desc.Width || srcOffset+size > s.desc.Width {
		cl.fail(errors.Newf("vulkan: buffer copy of %d bytes out of bounds (dst %d/%d, src %d/%d)",
			size, dstOffset, d.desc.Width, srcOffset, s.desc.Width))
		return
	}
	if d.heap == driver.HeapTypeUpload {
		cl.fail(errors.New("vulkan: copy into an upload heap buffer"))
		return
	}
	if size == 0 {
		return
	}
	cl.endPass()
	vk.CmdCopyBuffer(cl.cb.Handle, s.handle, d.handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// checkFootprint validates a placed footprint against the buffer it lives in
// and the texture subresource it mirrors.
func (cl *commandList) checkFootprint(buf *buffer, im *image, sub uint32, fp driver.PlacedFootprint) bool {
	lim := cl.gpu.limits
	if fp.Offset%lim.TexturePlacementAlignment != 0 {
		cl.fail(errors.Newf("vulkan: footprint offset %d is not %d byte aligned", fp.Offset, lim.TexturePlacementAlignment))
		return false
	}
	if uint64(fp.Footprint.RowPitch)%lim.TexturePitchAlignment != 0 {
		cl.fail(errors.Newf("vulkan: row pitch %d is not %d byte aligned", fp.Footprint.RowPitch, lim.TexturePitchAlignment))
		return false
	}
	if sub >= im.desc.SubresourceCount() {
		cl.fail(errors.Newf("vulkan: subresource %d out of range", sub))
		return false
	}
	mip := sub % uint32(im.desc.MipLevels)
	width := bmath.MipExtent(uint32(im.desc.Width), mip)
	rows := bmath.MipExtent(im.desc.Height, mip)
	bpp := im.desc.Format.BytesPerPixel()
	rowSize := uint64(width) * uint64(bpp)
	if fp.Footprint.Width != width || fp.Footprint.Height != rows {
		cl.fail(errors.Newf("vulkan: footprint %dx%d does not cover subresource %d", fp.Footprint.Width, fp.Footprint.Height, sub))
		return false
	}
	if uint64(fp.Footprint.RowPitch) < rowSize || fp.Footprint.RowPitch%bpp != 0 {
		cl.fail(errors.Newf("vulkan: row pitch %d does not fit rows of %d bytes", fp.Footprint.RowPitch, rowSize))
		return false
	}
	if end := fp.Offset + uint64(fp.Footprint.RowPitch)*uint64(rows-1) + rowSize; end > buf.desc.Width {
		cl.fail(errors.Newf("vulkan: footprint ends at %d past buffer size %d", end, buf.desc.Width))
		return false
	}
	return true
}

// copyLayers selects the aspect a copy touches. Depth formats copy their
// depth aspect only.
func copyLayers(im *image, sub uint32) vk.ImageSubresourceLayers {
	layers := subresourceLayers(im.desc, sub)
	if im.desc.Format.IsDepth() {
		layers.AspectMask = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return layers
}

func bufferImageCopy(im *image, sub uint32, fp driver.PlacedFootprint) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(fp.Offset),
		BufferRowLength:   fp.Footprint.RowPitch / im.desc.Format.BytesPerPixel(),
		BufferImageHeight: fp.Footprint.Height,
		ImageSubresource:  copyLayers(im, sub),
		ImageOffset:       vk.Offset3D{},
		ImageExtent: vk.Extent3D{
			Width:  fp.Footprint.Width,
			Height: fp.Footprint.Height,
			Depth:  1,
		},
	}
}

func (cl *commandList) CopyTextureRegion(dst, src driver.TextureCopyLocation) {
	if !cl.ready("CopyTextureRegion") {
		return
	}
	if dst.Resource == nil || src.Resource == nil {
		cl.fail(errors.New("vulkan: CopyTextureRegion with a nil resource"))
		return
	}
	dstBuf := dst.Resource.Desc().Dimension == driver.DimensionBuffer
	srcBuf := src.Resource.Desc().Dimension == driver.DimensionBuffer
	switch {
	case !dstBuf && srcBuf:
		// upload: buffer footprint to texture
		d, err := asImage(dst.Resource)
		if err != nil {
			cl.fail(err)
			return
		}
		s, err := asBuffer(src.Resource)
		if err != nil {
			cl.fail(err)
			return
		}
		if !cl.checkFootprint(s, d, dst.Subresource, src.Footprint) {
			return
		}
		cl.endPass()
		vk.CmdCopyBufferToImage(cl.cb.Handle, s.handle, d.handle, vk.ImageLayoutTransferDstOptimal, 1,
			[]vk.BufferImageCopy{bufferImageCopy(d, dst.Subresource, src.Footprint)})
	case dstBuf && !srcBuf:
		// readback: texture to buffer footprint
		d, err := asBuffer(dst.Resource)
		if err != nil {
			cl.fail(err)
			return
		}
		s, err := asImage(src.Resource)
		if err != nil {
			cl.fail(err)
			return
		}
		if d.heap == driver.HeapTypeUpload {
			cl.fail(errors.New("vulkan: copy into an upload heap buffer"))
			return
		}
		if !cl.checkFootprint(d, s, src.Subresource, dst.Footprint) {
			return
		}
		cl.endPass()
		vk.CmdCopyImageToBuffer(cl.cb.Handle, s.handle, vk.ImageLayoutTransferSrcOptimal, d.handle, 1,
			[]vk.BufferImageCopy{bufferImageCopy(s, src.Subresource, dst.Footprint)})
	case !dstBuf && !srcBuf:
		d, err := asImage(dst.Resource)
		if err != nil {
			cl.fail(err)
			return
		}
		s, err := asImage(src.Resource)
		if err != nil {
			cl.fail(err)
			return
		}
		ds, ss := dst.Subresource, src.Subresource
		if ds >= d.desc.SubresourceCount() || ss >= s.desc.SubresourceCount() {
			cl.fail(errors.New("vulkan: texture copy subresource out of range"))
			return
		}
		dm, sm := ds%uint32(d.desc.MipLevels), ss%uint32(s.desc.MipLevels)
		extent := vk.Extent3D{
			Width:  bmath.MipExtent(uint32(s.desc.Width), sm),
			Height: bmath.MipExtent(s.desc.Height, sm),
			Depth:  1,
		}
		if extent.Width != bmath.MipExtent(uint32(d.desc.Width), dm) || extent.Height != bmath.MipExtent(d.desc.Height, dm) ||
			d.desc.Format.BytesPerPixel() != s.desc.Format.BytesPerPixel() {
			cl.fail(errors.New("vulkan: texture copy between mismatched subresources"))
			return
		}
		cl.endPass()
		vk.CmdCopyImage(cl.cb.Handle, s.handle, vk.ImageLayoutTransferSrcOptimal, d.handle, vk.ImageLayoutTransferDstOptimal, 1,
			[]vk.ImageCopy{{
				SrcSubresource: copyLayers(s, ss),
				DstSubresource: copyLayers(d, ds),
				Extent:         extent,
			}})
	default:
		cl.fail(errors.New("vulkan: CopyTextureRegion between two buffers"))
	}
}

func (cl *commandList) SetDescriptorHeaps(heaps ...driver.DescriptorHeap) {
	if !cl.ready("SetDescriptorHeaps") {
		return
	}
	var resources, samplers *descriptorHeap
	for _, h := range heaps {
		dh, ok := h.(*descriptorHeap)
		if !ok || dh == nil {
			cl.fail(errors.Newf("vulkan: foreign descriptor heap %T", h))
			return
		}
		if !dh.desc.ShaderVisible {
			cl.fail(errors.Newf("vulkan: %s heap bound but not shader visible", dh.desc.Kind))
			return
		}
		switch dh.desc.Kind {
		case driver.HeapCBVSRVUAV:
			if resources != nil {
				cl.fail(errors.Newf("vulkan: two %s heaps bound", dh.desc.Kind))
				return
			}
			resources = dh
		case driver.HeapSampler:
			if samplers != nil {
				cl.fail(errors.Newf("vulkan: two %s heaps bound", dh.desc.Kind))
				return
			}
			samplers = dh
		}
	}
	cl.resources, cl.samplers = resources, samplers
	cl.dirty = [2]bool{true, true}
}

func (cl *commandList) SetPipelineState(pso driver.PipelineState) {
	if !cl.ready("SetPipelineState") {
		return
	}
	p, err := asPipeline(pso)
	if err != nil {
		cl.fail(err)
		return
	}
	cl.pso = p
}

func (cl *commandList) setRoot(point int, rs driver.RootSignature) {
	r, err := asRootSignature(rs)
	if err != nil {
		cl.fail(err)
		return
	}
	if cl.roots[point] != r {
		cl.roots[point] = r
		cl.push[point] = [maxPushConstants / 4]uint32{}
	}
	cl.dirty[point] = true
}

func (cl *commandList) SetGraphicsRootSignature(rs driver.RootSignature) {
	if cl.ready("SetGraphicsRootSignature") {
		cl.setRoot(bindGraphics, rs)
	}
}

func (cl *commandList) SetComputeRootSignature(rs driver.RootSignature) {
	if cl.ready("SetComputeRootSignature") {
		cl.setRoot(bindCompute, rs)
	}
}

func (cl *commandList) constants(point int, param uint32, values []uint32, offset uint32, name string) {
	if !cl.ready(name) {
		return
	}
	rs := cl.roots[point]
	if rs == nil {
		cl.fail(errors.New("vulkan: root argument set without a root signature"))
		return
	}
	p, base, err := rs.parameter(param, driver.RootParamConstants)
	if err != nil {
		cl.fail(err)
		return
	}
	if offset+uint32(len(values)) > p.Num32BitValues {
		cl.fail(errors.Newf("vulkan: %d root constants at offset %d overflow parameter %d of %d values",
			len(values), offset, param, p.Num32BitValues))
		return
	}
	copy(cl.push[point][base/4+offset:], values)
	cl.dirty[point] = true
}

func (cl *commandList) SetGraphicsRoot32BitConstants(param uint32, values []uint32, offset uint32) {
	cl.constants(bindGraphics, param, values, offset, "SetGraphicsRoot32BitConstants")
}

func (cl *commandList) SetComputeRoot32BitConstants(param uint32, values []uint32, offset uint32) {
	cl.constants(bindCompute, param, values, offset, "SetComputeRoot32BitConstants")
}

// Root descriptors cannot be expressed with push constants, root signatures
// holding them are rejected at creation.
func (cl *commandList) SetGraphicsRootConstantBufferView(param uint32, address uint64) {
	cl.fail(errors.Wrap(driver.ErrNotSupported, "vulkan: root constant buffer views"))
}

func (cl *commandList) SetGraphicsRootShaderResourceView(param uint32, address uint64) {
	cl.fail(errors.Wrap(driver.ErrNotSupported, "vulkan: root shader resource views"))
}

func (cl *commandList) table(point int, param uint32, base driver.GPUHandle, name string) {
	if !cl.ready(name) {
		return
	}
	rs := cl.roots[point]
	if rs == nil {
		cl.fail(errors.New("vulkan: root argument set without a root signature"))
		return
	}
	_, offset, err := rs.parameter(param, driver.RootParamDescriptorTable)
	if err != nil {
		cl.fail(err)
		return
	}
	if base.Ptr&gpuHandleBit == 0 {
		cl.fail(errors.Wrapf(driver.ErrInvalidHandle, "vulkan: %#x is not a GPU descriptor handle", base.Ptr))
		return
	}
	h, index, err := cl.gpu.resolveHandle(base.Ptr)
	if err != nil {
		cl.fail(err)
		return
	}
	if h != cl.resources && h != cl.samplers {
		cl.fail(errors.Newf("vulkan: descriptor table %#x is not in a bound heap", base.Ptr))
		return
	}
	cl.push[point][offset/4] = index
	cl.dirty[point] = true
}

func (cl *commandList) SetGraphicsRootDescriptorTable(param uint32, base driver.GPUHandle) {
	cl.table(bindGraphics, param, base, "SetGraphicsRootDescriptorTable")
}

func (cl *commandList) SetComputeRootDescriptorTable(param uint32, base driver.GPUHandle) {
	cl.table(bindCompute, param, base, "SetComputeRootDescriptorTable")
}

func (cl *commandList) IASetPrimitiveTopology(topology driver.PrimitiveTopology) {
	if cl.ready("IASetPrimitiveTopology") {
		cl.topology = topology
	}
}

func (cl *commandList) IASetVertexBuffers(startSlot uint32, views ...driver.VertexBufferView) {
	if !cl.ready("IASetVertexBuffers") || len(views) == 0 {
		return
	}
	if int(startSlot)+len(views) > maxVertexSlots {
		cl.fail(errors.Newf("vulkan: vertex buffers up to slot %d, %d available", int(startSlot)+len(views)-1, maxVertexSlots))
		return
	}
	buffers := make([]vk.Buffer, len(views))
	offsets := make([]vk.DeviceSize, len(views))
	for i, v := range views {
		buf, off, ok := cl.gpu.addresses.resolve(v.BufferLocation)
		if !ok || off+uint64(v.SizeInBytes) > buf.desc.Width {
			cl.fail(errors.Newf("vulkan: vertex buffer view %#x+%d is outside any buffer", v.BufferLocation, v.SizeInBytes))
			return
		}
		buffers[i] = buf.handle
		offsets[i] = vk.DeviceSize(off)
		cl.strides[int(startSlot)+i] = v.StrideInBytes
	}
	vk.CmdBindVertexBuffers(cl.cb.Handle, startSlot, uint32(len(views)), buffers, offsets)
}

func (cl *commandList) IASetIndexBuffer(view *driver.IndexBufferView) {
	if !cl.ready("IASetIndexBuffer") {
		return
	}
	cl.indexed = false
	if view == nil {
		return
	}
	if view.Format != driver.FormatR16Uint && view.Format != driver.FormatR32Uint {
		cl.fail(errors.Newf("vulkan: index format %s", view.Format))
		return
	}
	buf, off, ok := cl.gpu.addresses.resolve(view.BufferLocation)
	if !ok || off+uint64(view.SizeInBytes) > buf.desc.Width {
		cl.fail(errors.Newf("vulkan: index buffer view %#x+%d is outside any buffer", view.BufferLocation, view.SizeInBytes))
		return
	}
	vk.CmdBindIndexBuffer(cl.cb.Handle, buf.handle, vk.DeviceSize(off), indexType(view.Format))
	cl.indexed = true
}

// RSSetViewports sets the first viewport. Y is flipped so clip space matches
// the top-left origin of the other backends.
func (cl *commandList) RSSetViewports(viewports ...driver.Viewport) {
	if !cl.ready("RSSetViewports") || len(viewports) == 0 {
		return
	}
	v := viewports[0]
	vk.CmdSetViewport(cl.cb.Handle, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y + v.Height,
		Width:    v.Width,
		Height:   -v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (cl *commandList) RSSetScissorRects(rects ...driver.Rect) {
	if !cl.ready("RSSetScissorRects") || len(rects) == 0 {
		return
	}
	r := rects[0]
	vk.CmdSetScissor(cl.cb.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: max(r.Left, 0), Y: max(r.Top, 0)},
		Extent: vk.Extent2D{
			Width:  uint32(max(r.Right-max(r.Left, 0), 0)),
			Height: uint32(max(r.Bottom-max(r.Top, 0), 0)),
		},
	}})
}

func (cl *commandList) OMSetRenderTargets(rtvs []driver.CPUHandle, dsv *driver.CPUHandle) {
	if !cl.ready("OMSetRenderTargets") {
		return
	}
	if len(rtvs) > maxRenderTargets {
		cl.fail(errors.Newf("vulkan: %d render targets", len(rtvs)))
		return
	}
	targets := make([]descriptor, 0, len(rtvs))
	for _, h := range rtvs {
		d, err := cl.gpu.lookup(h, viewRTV)
		if err != nil {
			cl.fail(err)
			return
		}
		targets = append(targets, d)
	}
	var depth *descriptor
	if dsv != nil {
		d, err := cl.gpu.lookup(*dsv, viewDSV)
		if err != nil {
			cl.fail(err)
			return
		}
		depth = &d
	}
	cl.endPass()
	cl.rtvs, cl.dsv = targets, depth
}

// clearAttachment clears inside a render pass opened over the single view,
// which leaves the image in its attachment layout.
func (cl *commandList) clearAttachment(rtv []descriptor, dsv *descriptor, d descriptor, att vk.ClearAttachment) {
	cl.endPass()
	if err := cl.beginPass(rtv, dsv); err != nil {
		cl.fail(err)
		return
	}
	vk.CmdClearAttachments(cl.cb.Handle, 1, []vk.ClearAttachment{att}, 1, []vk.ClearRect{{
		Rect:           vk.Rect2D{Extent: d.extent},
		BaseArrayLayer: 0,
		LayerCount:     d.rng.LayerCount,
	}})
	cl.endPass()
}

func (cl *commandList) ClearRenderTargetView(rtv driver.CPUHandle, color [4]float32) {
	if !cl.ready("ClearRenderTargetView") {
		return
	}
	d, err := cl.gpu.lookup(rtv, viewRTV)
	if err != nil {
		cl.fail(err)
		return
	}
	att := vk.ClearAttachment{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
	}
	att.ClearValue.SetColor(color[:])
	cl.clearAttachment([]descriptor{d}, nil, d, att)
}

func (cl *commandList) ClearDepthStencilView(dsv driver.CPUHandle, flags driver.ClearFlags, depth float32, stencil uint8) {
	if !cl.ready("ClearDepthStencilView") {
		return
	}
	d, err := cl.gpu.lookup(dsv, viewDSV)
	if err != nil {
		cl.fail(err)
		return
	}
	if d.readOnly {
		cl.fail(errors.New("vulkan: clear through a read only depth stencil view"))
		return
	}
	var aspect vk.ImageAspectFlags
	if flags&driver.ClearDepth != 0 {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if flags&driver.ClearStencil != 0 && d.format.HasStencil() {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	if aspect == 0 {
		return
	}
	att := vk.ClearAttachment{AspectMask: aspect}
	att.ClearValue.SetDepthStencil(depth, uint32(stencil))
	cl.clearAttachment(nil, &d, d, att)
}

// bind flushes the pipeline, descriptor sets and push constants of a bind
// point before a draw or dispatch.
func (cl *commandList) bind(point int, pipeline vk.Pipeline) {
	rs := cl.roots[point]
	if cl.bound[point] != pipeline {
		vk.CmdBindPipeline(cl.cb.Handle, bindPoints[point], pipeline)
		cl.bound[point] = pipeline
	}
	if !cl.dirty[point] {
		return
	}
	g := cl.gpu
	resources, samplers := g.null.resources, g.null.samplers
	if cl.resources != nil {
		resources = cl.resources.set
	}
	if cl.samplers != nil {
		samplers = cl.samplers.set
	}
	sets := rs.sets(resources, samplers)
	vk.CmdBindDescriptorSets(cl.cb.Handle, bindPoints[point], rs.layout, setResources, uint32(len(sets)), sets, 0, nil)
	if rs.pushSize > 0 {
		vk.CmdPushConstants(cl.cb.Handle, rs.layout, shaderStages(driver.VisibilityAll), 0, rs.pushSize, unsafe.Pointer(&cl.push[point][0]))
	}
	cl.dirty[point] = false
}

// compatible reports whether a pipeline built against want can run with
// the arguments of the bound root signature.
func compatible(want, bound *rootSignature) bool {
	if want == bound {
		return true
	}
	return want.pushSize == bound.pushSize && want.staticSet == nil && bound.staticSet == nil
}

func (cl *commandList) draw(name string, indexed bool) bool {
	if !cl.ready(name) {
		return false
	}
	if cl.pso == nil || cl.pso.compute {
		cl.fail(errors.Newf("vulkan: %s without a graphics pipeline", name))
		return false
	}
	rs := cl.roots[bindGraphics]
	if rs == nil {
		cl.fail(errors.Newf("vulkan: %s without a graphics root signature", name))
		return false
	}
	if !compatible(cl.pso.rs, rs) {
		cl.fail(errors.Newf("vulkan: %s with a root signature the pipeline was not built for", name))
		return false
	}
	if indexed && !cl.indexed {
		cl.fail(errors.Newf("vulkan: %s without an index buffer", name))
		return false
	}
	if !cl.inPass {
		if err := cl.beginPass(cl.rtvs, cl.dsv); err != nil {
			cl.fail(err)
			return false
		}
	}
	want, got := cl.pso.pass, cl.pass
	want.depthReadOnly, got.depthReadOnly = false, false
	if want != got {
		cl.fail(errors.Newf("vulkan: %s with render targets that do not match the pipeline formats", name))
		return false
	}
	pipeline, err := cl.pso.variant(cl.pso.keyFor(cl.topology, cl.strides[:]))
	if err != nil {
		cl.fail(err)
		return false
	}
	cl.bind(bindGraphics, pipeline)
	return true
}

func (cl *commandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	if cl.draw("DrawInstanced", false) {
		vk.CmdDraw(cl.cb.Handle, vertexCount, instanceCount, startVertex, startInstance)
	}
}

func (cl *commandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if cl.draw("DrawIndexedInstanced", true) {
		vk.CmdDrawIndexed(cl.cb.Handle, indexCount, instanceCount, startIndex, baseVertex, startInstance)
	}
}

func (cl *commandList) Dispatch(x, y, z uint32) {
	if !cl.ready("Dispatch") {
		return
	}
	if cl.pso == nil || !cl.pso.compute {
		cl.fail(errors.New("vulkan: Dispatch without a compute pipeline"))
		return
	}
	rs := cl.roots[bindCompute]
	if rs == nil {
		cl.fail(errors.New("vulkan: Dispatch without a compute root signature"))
		return
	}
	if !compatible(cl.pso.rs, rs) {
		cl.fail(errors.New("vulkan: Dispatch with a root signature the pipeline was not built for"))
		return
	}
	cl.endPass()
	cl.bind(bindCompute, cl.pso.handle)
	vk.CmdDispatch(cl.cb.Handle, x, y, z)
}
