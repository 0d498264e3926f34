package software

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"

	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// commandList records closures that run on the queue goroutine with the
// GPU execution lock held.
type commandList struct {
	gpu       *GPU
	kind      driver.QueueKind
	alloc     *commandAllocator
	recording bool
	err       error
	cmds      []func()

	pso      *pipeline
	graphics *rootSignature
	compute  *rootSignature
	heaps    []*descriptorHeap
	rtvs     []descriptor
	dsv      *descriptor
	vbs      []*resource
	ib       *resource
}

func (g *GPU) NewCommandList(kind driver.QueueKind, alloc driver.CommandAllocator, pso driver.PipelineState) (driver.CommandList, error) {
	cl := &commandList{gpu: g, kind: kind}
	if err := cl.Reset(alloc, pso); err != nil {
		return nil, err
	}
	return cl, nil
}

func (cl *commandList) Kind() driver.QueueKind { return cl.kind }
func (cl *commandList) Destroy()               {}

func (cl *commandList) Reset(alloc driver.CommandAllocator, pso driver.PipelineState) error {
	if cl.recording {
		return errors.New("software: reset of a recording command list")
	}
	a, ok := alloc.(*commandAllocator)
	if !ok || a == nil {
		return errors.Newf("software: foreign command allocator %T", alloc)
	}
	if a.kind != cl.kind {
		return errors.Newf("software: %s allocator used for a %s list", a.kind, cl.kind)
	}
	*cl = commandList{gpu: cl.gpu, kind: cl.kind, alloc: a, recording: true}
	if pso != nil {
		cl.SetPipelineState(pso)
	}
	return nil
}

func (cl *commandList) Close() error {
	if !cl.recording {
		return errors.New("software: close of a command list that is not recording")
	}
	cl.recording = false
	return cl.err
}

// fail keeps the first recording error; it is returned by Close.
func (cl *commandList) fail(err error) {
	if cl.err == nil {
		cl.err = err
	}
}

// record appends cmd if the list is recording.
func (cl *commandList) record(name string, cmd func()) {
	if !cl.recording {
		cl.fail(errors.Newf("software: %s recorded outside of the recording state", name))
		return
	}
	cl.cmds = append(cl.cmds, cmd)
}

func (cl *commandList) resource(r driver.Resource) *resource {
	res, err := asResource(r)
	if err != nil {
		cl.fail(err)
		return nil
	}
	return res
}

// requireState reports a validation error unless sub of r is in want. Buffers
// in the common state are promoted implicitly. Upload and readback resources
// never change state.
func (g *GPU) requireState(r *resource, sub uint32, want driver.ResourceState, what string) {
	if r.destroyed.Load() {
		g.validate("%s: resource destroyed before execution", what)
		return
	}
	if r.heap != driver.HeapTypeDefault {
		return
	}
	s := r.states[sub]
	if want == driver.StateCommon && s == want {
		return
	}
	if want != driver.StateCommon && s&want == want {
		return
	}
	if r.desc.Dimension == driver.DimensionBuffer && s == driver.StateCommon {
		return
	}
	g.validate("%s: subresource %d is in %s, expected %s", what, sub, s, want)
}

func (cl *commandList) ResourceBarrier(barriers ...driver.Barrier) {
	type pending struct {
		b   driver.Barrier
		res *resource
	}
	ps := make([]pending, 0, len(barriers))
	for _, b := range barriers {
		var res *resource
		if b.Resource != nil || b.Type == driver.BarrierTransition {
			if res = cl.resource(b.Resource); res == nil {
				return
			}
		}
		if b.Type == driver.BarrierTransition {
			if !b.After.Valid() {
				cl.fail(errors.Newf("software: invalid barrier state %s", b.After))
				return
			}
			if b.Subresource != driver.AllSubresources && b.Subresource >= res.desc.SubresourceCount() {
				cl.fail(errors.Newf("software: barrier subresource %d out of range", b.Subresource))
				return
			}
		}
		ps = append(ps, pending{b: b, res: res})
	}
	g := cl.gpu
	cl.record("ResourceBarrier", func() {
		for _, p := range ps {
			g.count(func(s *Stats) { s.Barriers++ })
			if p.b.Type == driver.BarrierUAV {
				continue
			}
			r := p.res
			if r.destroyed.Load() {
				g.validate("barrier on a destroyed resource")
				continue
			}
			if r.heap != driver.HeapTypeDefault {
				g.validate("barrier on a %s heap resource, whose state is fixed", r.heap)
				continue
			}
			if p.b.Before == p.b.After {
				g.validate("barrier with identical before and after state %s", p.b.After)
			}
			first, last := p.b.Subresource, p.b.Subresource
			if p.b.Subresource == driver.AllSubresources {
				first, last = 0, uint32(len(r.states))-1
			}
			for sub := first; sub <= last; sub++ {
				if r.states[sub] != p.b.Before {
					g.validate("barrier before state %s does not match current state %s of subresource %d",
						p.b.Before, r.states[sub], sub)
				}
				r.states[sub] = p.b.After
			}
		}
	})
}

func (cl *commandList) CopyBufferRegion(dst driver.Resource, dstOffset uint64, src driver.Resource, srcOffset, size uint64) {
	d, s := cl.resource(dst), cl.resource(src)
	if d == nil || s == nil {
		return
	}
	if d.desc.Dimension != driver.DimensionBuffer || s.desc.Dimension != driver.DimensionBuffer {
		cl.fail(errors.New("software: CopyBufferRegion on a texture"))
		return
	}
	if dstOffset+size > d.desc.Width || srcOffset+size > s.desc.Width {
		cl.fail(errors.Newf("software: buffer copy of %d bytes out of bounds (dst %d/%d, src %d/%d)",
			size, dstOffset, d.desc.Width, srcOffset, s.desc.Width))
		return
	}
	if d.heap == driver.HeapTypeUpload {
		cl.fail(errors.New("software: copy into an upload heap buffer"))
		return
	}
	g := cl.gpu
	cl.record("CopyBufferRegion", func() {
		g.requireState(d, 0, driver.StateCopyDest, "CopyBufferRegion dst")
		g.requireState(s, 0, driver.StateCopySource, "CopyBufferRegion src")
		copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		g.count(func(st *Stats) { st.Copies++ })
	})
}

// checkFootprint validates a placed footprint against the buffer it lives in
// and the texture subresource it mirrors.
func (cl *commandList) checkFootprint(buf, tex *resource, sub uint32, fp driver.PlacedFootprint) bool {
	lim := cl.gpu.opts.Limits
	if fp.Offset%lim.TexturePlacementAlignment != 0 {
		cl.fail(errors.Newf("software: footprint offset %d is not %d byte aligned", fp.Offset, lim.TexturePlacementAlignment))
		return false
	}
	if uint64(fp.Footprint.RowPitch)%lim.TexturePitchAlignment != 0 {
		cl.fail(errors.Newf("software: row pitch %d is not %d byte aligned", fp.Footprint.RowPitch, lim.TexturePitchAlignment))
		return false
	}
	if sub >= tex.desc.SubresourceCount() {
		cl.fail(errors.Newf("software: subresource %d out of range", sub))
		return false
	}
	rowSize := tex.rowSize(sub)
	rows := tex.rows(sub)
	if fp.Footprint.Width != bmath.MipExtent(uint32(tex.desc.Width), sub%uint32(tex.desc.MipLevels)) || fp.Footprint.Height != rows {
		cl.fail(errors.Newf("software: footprint %dx%d does not cover subresource %d", fp.Footprint.Width, fp.Footprint.Height, sub))
		return false
	}
	if uint64(fp.Footprint.RowPitch) < rowSize {
		cl.fail(errors.Newf("software: row pitch %d smaller than row size %d", fp.Footprint.RowPitch, rowSize))
		return false
	}
	if end := fp.Offset + uint64(fp.Footprint.RowPitch)*uint64(rows-1) + rowSize; end > buf.desc.Width {
		cl.fail(errors.Newf("software: footprint ends at %d past buffer size %d", end, buf.desc.Width))
		return false
	}
	return true
}

func (cl *commandList) CopyTextureRegion(dst, src driver.TextureCopyLocation) {
	d, s := cl.resource(dst.Resource), cl.resource(src.Resource)
	if d == nil || s == nil {
		return
	}
	g := cl.gpu
	dstBuf := d.desc.Dimension == driver.DimensionBuffer
	srcBuf := s.desc.Dimension == driver.DimensionBuffer
	switch {
	case !dstBuf && srcBuf:
		// upload: buffer footprint to texture
		if !cl.checkFootprint(s, d, dst.Subresource, src.Footprint) {
			return
		}
		sub, fp := dst.Subresource, src.Footprint
		cl.record("CopyTextureRegion", func() {
			g.requireState(d, sub, driver.StateCopyDest, "CopyTextureRegion dst")
			g.requireState(s, 0, driver.StateCopySource, "CopyTextureRegion src")
			rowSize := d.rowSize(sub)
			for r := uint64(0); r < uint64(d.rows(sub)); r++ {
				from := fp.Offset + r*uint64(fp.Footprint.RowPitch)
				copy(d.subs[sub][r*rowSize:(r+1)*rowSize], s.data[from:from+rowSize])
			}
			g.count(func(st *Stats) { st.Copies++ })
		})
	case dstBuf && !srcBuf:
		// readback: texture to buffer footprint
		if !cl.checkFootprint(d, s, src.Subresource, dst.Footprint) {
			return
		}
		if d.heap == driver.HeapTypeUpload {
			cl.fail(errors.New("software: copy into an upload heap buffer"))
			return
		}
		sub, fp := src.Subresource, dst.Footprint
		cl.record("CopyTextureRegion", func() {
			g.requireState(d, 0, driver.StateCopyDest, "CopyTextureRegion dst")
			g.requireState(s, sub, driver.StateCopySource, "CopyTextureRegion src")
			rowSize := s.rowSize(sub)
			for r := uint64(0); r < uint64(s.rows(sub)); r++ {
				to := fp.Offset + r*uint64(fp.Footprint.RowPitch)
				copy(d.data[to:to+rowSize], s.subs[sub][r*rowSize:(r+1)*rowSize])
			}
			g.count(func(st *Stats) { st.Copies++ })
		})
	case !dstBuf && !srcBuf:
		ds, ss := dst.Subresource, src.Subresource
		if ds >= d.desc.SubresourceCount() || ss >= s.desc.SubresourceCount() ||
			d.rowSize(ds) != s.rowSize(ss) || d.rows(ds) != s.rows(ss) {
			cl.fail(errors.New("software: texture copy between mismatched subresources"))
			return
		}
		cl.record("CopyTextureRegion", func() {
			g.requireState(d, ds, driver.StateCopyDest, "CopyTextureRegion dst")
			g.requireState(s, ss, driver.StateCopySource, "CopyTextureRegion src")
			copy(d.subs[ds], s.subs[ss])
			g.count(func(st *Stats) { st.Copies++ })
		})
	default:
		cl.fail(errors.New("software: CopyTextureRegion between two buffers"))
	}
}

func (cl *commandList) SetDescriptorHeaps(heaps ...driver.DescriptorHeap) {
	var kinds [driver.HeapKindCount]bool
	cl.heaps = cl.heaps[:0]
	for _, h := range heaps {
		dh, ok := h.(*descriptorHeap)
		if !ok || dh == nil {
			cl.fail(errors.Newf("software: foreign descriptor heap %T", h))
			return
		}
		if !dh.desc.ShaderVisible {
			cl.fail(errors.Newf("software: %s heap bound but not shader visible", dh.desc.Kind))
			return
		}
		if kinds[dh.desc.Kind] {
			cl.fail(errors.Newf("software: two %s heaps bound", dh.desc.Kind))
			return
		}
		kinds[dh.desc.Kind] = true
		cl.heaps = append(cl.heaps, dh)
	}
	cl.record("SetDescriptorHeaps", func() {})
}

func (cl *commandList) SetPipelineState(pso driver.PipelineState) {
	p, ok := pso.(*pipeline)
	if !ok || p == nil {
		cl.fail(errors.Newf("software: foreign pipeline %T", pso))
		return
	}
	cl.pso = p
	cl.record("SetPipelineState", func() {})
}

func (cl *commandList) rootSignature(rs driver.RootSignature) *rootSignature {
	r, ok := rs.(*rootSignature)
	if !ok || r == nil {
		cl.fail(errors.Newf("software: foreign root signature %T", rs))
		return nil
	}
	return r
}

func (cl *commandList) SetGraphicsRootSignature(rs driver.RootSignature) {
	if r := cl.rootSignature(rs); r != nil {
		cl.graphics = r
		cl.record("SetGraphicsRootSignature", func() {})
	}
}

func (cl *commandList) SetComputeRootSignature(rs driver.RootSignature) {
	if r := cl.rootSignature(rs); r != nil {
		cl.compute = r
		cl.record("SetComputeRootSignature", func() {})
	}
}

// param checks that slot param of rs exists and has type want.
func (cl *commandList) param(rs *rootSignature, param uint32, want driver.RootParameterType) *driver.RootParameter {
	if rs == nil {
		cl.fail(errors.New("software: root argument set without a root signature"))
		return nil
	}
	if int(param) >= len(rs.desc.Parameters) {
		cl.fail(errors.Newf("software: root parameter %d out of range", param))
		return nil
	}
	p := &rs.desc.Parameters[param]
	if p.Type != want {
		cl.fail(errors.Newf("software: root parameter %d has type %d, not %d", param, p.Type, want))
		return nil
	}
	return p
}

func (cl *commandList) constants(rs *rootSignature, param uint32, values []uint32, offset uint32, name string) {
	p := cl.param(rs, param, driver.RootParamConstants)
	if p == nil {
		return
	}
	if offset+uint32(len(values)) > p.Num32BitValues {
		cl.fail(errors.Newf("software: %d root constants at offset %d overflow parameter %d of %d values",
			len(values), offset, param, p.Num32BitValues))
		return
	}
	cl.record(name, func() {})
}

func (cl *commandList) SetGraphicsRoot32BitConstants(param uint32, values []uint32, offset uint32) {
	cl.constants(cl.graphics, param, values, offset, "SetGraphicsRoot32BitConstants")
}

func (cl *commandList) SetComputeRoot32BitConstants(param uint32, values []uint32, offset uint32) {
	cl.constants(cl.compute, param, values, offset, "SetComputeRoot32BitConstants")
}

func (cl *commandList) rootView(param uint32, address uint64, want driver.RootParameterType, name string) {
	if cl.param(cl.graphics, param, want) == nil {
		return
	}
	if _, _, ok := cl.gpu.memory.resolve(address); !ok {
		cl.fail(errors.Newf("software: %s address %#x is outside any buffer", name, address))
		return
	}
	if want == driver.RootParamCBV && address%cl.gpu.opts.Limits.ConstantBufferAlignment != 0 {
		cl.fail(errors.Newf("software: root constant buffer address %#x is not aligned", address))
		return
	}
	cl.record(name, func() {})
}

func (cl *commandList) SetGraphicsRootConstantBufferView(param uint32, address uint64) {
	cl.rootView(param, address, driver.RootParamCBV, "SetGraphicsRootConstantBufferView")
}

func (cl *commandList) SetGraphicsRootShaderResourceView(param uint32, address uint64) {
	cl.rootView(param, address, driver.RootParamSRV, "SetGraphicsRootShaderResourceView")
}

func (cl *commandList) table(rs *rootSignature, param uint32, base driver.GPUHandle, name string) {
	if cl.param(rs, param, driver.RootParamDescriptorTable) == nil {
		return
	}
	for _, h := range cl.heaps {
		if base.Ptr >= h.gpuH.Ptr && base.Ptr < h.gpuH.Ptr+h.size {
			cl.record(name, func() {})
			return
		}
	}
	cl.fail(errors.Newf("software: descriptor table %#x is not in a bound heap", base.Ptr))
}

func (cl *commandList) SetGraphicsRootDescriptorTable(param uint32, base driver.GPUHandle) {
	cl.table(cl.graphics, param, base, "SetGraphicsRootDescriptorTable")
}

func (cl *commandList) SetComputeRootDescriptorTable(param uint32, base driver.GPUHandle) {
	cl.table(cl.compute, param, base, "SetComputeRootDescriptorTable")
}

func (cl *commandList) IASetPrimitiveTopology(topology driver.PrimitiveTopology) {
	cl.record("IASetPrimitiveTopology", func() {})
}

func (cl *commandList) IASetVertexBuffers(startSlot uint32, views ...driver.VertexBufferView) {
	need := int(startSlot) + len(views)
	if len(cl.vbs) < need {
		cl.vbs = append(cl.vbs, make([]*resource, need-len(cl.vbs))...)
	}
	for i, v := range views {
		res, off, ok := cl.gpu.memory.resolve(v.BufferLocation)
		if !ok || off+uint64(v.SizeInBytes) > res.desc.Width {
			cl.fail(errors.Newf("software: vertex buffer view %#x+%d is outside any buffer", v.BufferLocation, v.SizeInBytes))
			return
		}
		cl.vbs[int(startSlot)+i] = res
	}
	cl.record("IASetVertexBuffers", func() {})
}

func (cl *commandList) IASetIndexBuffer(view *driver.IndexBufferView) {
	cl.ib = nil
	if view != nil {
		if view.Format != driver.FormatR16Uint && view.Format != driver.FormatR32Uint {
			cl.fail(errors.Newf("software: index format %s", view.Format))
			return
		}
		res, off, ok := cl.gpu.memory.resolve(view.BufferLocation)
		if !ok || off+uint64(view.SizeInBytes) > res.desc.Width {
			cl.fail(errors.Newf("software: index buffer view %#x+%d is outside any buffer", view.BufferLocation, view.SizeInBytes))
			return
		}
		cl.ib = res
	}
	cl.record("IASetIndexBuffer", func() {})
}

func (cl *commandList) RSSetViewports(viewports ...driver.Viewport) {
	cl.record("RSSetViewports", func() {})
}

func (cl *commandList) RSSetScissorRects(rects ...driver.Rect) {
	cl.record("RSSetScissorRects", func() {})
}

func (cl *commandList) OMSetRenderTargets(rtvs []driver.CPUHandle, dsv *driver.CPUHandle) {
	cl.rtvs = cl.rtvs[:0]
	cl.dsv = nil
	for _, h := range rtvs {
		d, err := cl.gpu.lookup(h, viewRTV)
		if err != nil {
			cl.fail(err)
			return
		}
		cl.rtvs = append(cl.rtvs, d)
	}
	if dsv != nil {
		d, err := cl.gpu.lookup(*dsv, viewDSV)
		if err != nil {
			cl.fail(err)
			return
		}
		cl.dsv = &d
	}
	cl.record("OMSetRenderTargets", func() {})
}

func rtvSubresource(d descriptor) uint32 {
	return d.res.desc.SubresourceIndex(d.rtv.MipSlice, d.rtv.FirstArraySlice)
}

func dsvSubresource(d descriptor) uint32 {
	return d.res.desc.SubresourceIndex(d.dsv.MipSlice, d.dsv.FirstArraySlice)
}

func (cl *commandList) ClearRenderTargetView(rtv driver.CPUHandle, color [4]float32) {
	d, err := cl.gpu.lookup(rtv, viewRTV)
	if err != nil {
		cl.fail(err)
		return
	}
	g := cl.gpu
	cl.record("ClearRenderTargetView", func() {
		sub := rtvSubresource(d)
		g.requireState(d.res, sub, driver.StateRenderTarget, "ClearRenderTargetView")
		format := d.rtv.Format
		if format == driver.FormatUnknown {
			format = d.res.desc.Format
		}
		fill(d.res.subs[sub], encodeColor(format, color))
		g.count(func(s *Stats) { s.Clears++ })
	})
}

func (cl *commandList) ClearDepthStencilView(dsv driver.CPUHandle, flags driver.ClearFlags, depth float32, stencil uint8) {
	d, err := cl.gpu.lookup(dsv, viewDSV)
	if err != nil {
		cl.fail(err)
		return
	}
	g := cl.gpu
	cl.record("ClearDepthStencilView", func() {
		sub := dsvSubresource(d)
		g.requireState(d.res, sub, driver.StateDepthWrite, "ClearDepthStencilView")
		px := d.res.subs[sub]
		bpp := int(d.res.desc.Format.BytesPerPixel())
		for i := 0; i+bpp <= len(px); i += bpp {
			encodeDepth(d.res.desc.Format, px[i:i+bpp], flags, depth, stencil)
		}
		g.count(func(s *Stats) { s.Clears++ })
	})
}

func (cl *commandList) drawCheck(name string) bool {
	if cl.pso == nil || cl.pso.compute {
		cl.fail(errors.Newf("software: %s without a graphics pipeline", name))
		return false
	}
	if cl.graphics == nil {
		cl.fail(errors.Newf("software: %s without a graphics root signature", name))
		return false
	}
	return true
}

func (cl *commandList) draw(name string, indexed bool) {
	if !cl.drawCheck(name) {
		return
	}
	if indexed && cl.ib == nil {
		cl.fail(errors.Newf("software: %s without an index buffer", name))
		return
	}
	g := cl.gpu
	rtvs := append([]descriptor(nil), cl.rtvs...)
	dsv := cl.dsv
	vbs := append([]*resource(nil), cl.vbs...)
	ib := cl.ib
	cl.record(name, func() {
		for _, d := range rtvs {
			g.requireState(d.res, rtvSubresource(d), driver.StateRenderTarget, name)
		}
		if dsv != nil {
			g.requireState(dsv.res, dsvSubresource(*dsv), driver.StateDepthWrite, name)
		}
		for _, vb := range vbs {
			if vb != nil {
				g.requireState(vb, 0, driver.StateVertexAndConstantBuffer, name+" vertex buffer")
			}
		}
		if indexed {
			g.requireState(ib, 0, driver.StateIndexBuffer, name+" index buffer")
		}
		g.count(func(s *Stats) { s.Draws++ })
	})
}

func (cl *commandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	cl.draw("DrawInstanced", false)
}

func (cl *commandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	cl.draw("DrawIndexedInstanced", true)
}

func (cl *commandList) Dispatch(x, y, z uint32) {
	if cl.pso == nil || !cl.pso.compute {
		cl.fail(errors.New("software: Dispatch without a compute pipeline"))
		return
	}
	if cl.compute == nil {
		cl.fail(errors.New("software: Dispatch without a compute root signature"))
		return
	}
	g := cl.gpu
	cl.record("Dispatch", func() {
		g.count(func(s *Stats) { s.Dispatches++ })
	})
}

func fill(dst, pattern []byte) {
	if len(pattern) == 0 {
		return
	}
	for i := 0; i+len(pattern) <= len(dst); i += len(pattern) {
		copy(dst[i:], pattern)
	}
}

func unorm8(v float32) byte {
	return byte(math.Round(float64(bmath.Clamp(v, 0, 1)) * 255))
}

// encodeColor returns one texel of color in format.
func encodeColor(format driver.Format, c [4]float32) []byte {
	switch format {
	case driver.FormatRGBA8Unorm, driver.FormatRGBA8UnormSRGB:
		return []byte{unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])}
	case driver.FormatBGRA8Unorm, driver.FormatBGRA8UnormSRGB:
		return []byte{unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])}
	case driver.FormatR8Unorm:
		return []byte{unorm8(c[0])}
	case driver.FormatRG8Unorm:
		return []byte{unorm8(c[0]), unorm8(c[1])}
	case driver.FormatR32Float, driver.FormatRG32Float, driver.FormatRGB32Float, driver.FormatRGBA32Float:
		n := int(format.BytesPerPixel() / 4)
		b := make([]byte, 4*n)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(c[i]))
		}
		return b
	}
	return make([]byte, format.BytesPerPixel())
}

func encodeDepth(format driver.Format, px []byte, flags driver.ClearFlags, depth float32, stencil uint8) {
	switch format {
	case driver.FormatD32Float:
		if flags&driver.ClearDepth != 0 {
			binary.LittleEndian.PutUint32(px, math.Float32bits(depth))
		}
	case driver.FormatD16Unorm:
		if flags&driver.ClearDepth != 0 {
			binary.LittleEndian.PutUint16(px, uint16(math.Round(float64(bmath.Clamp(depth, 0, 1))*0xffff)))
		}
	case driver.FormatD24UnormS8Uint:
		v := binary.LittleEndian.Uint32(px)
		if flags&driver.ClearDepth != 0 {
			v = v&0xff000000 | uint32(math.Round(float64(bmath.Clamp(depth, 0, 1))*0xffffff))
		}
		if flags&driver.ClearStencil != 0 {
			v = v&0x00ffffff | uint32(stencil)<<24
		}
		binary.LittleEndian.PutUint32(px, v)
	case driver.FormatD32FloatS8Uint:
		if flags&driver.ClearDepth != 0 {
			binary.LittleEndian.PutUint32(px, math.Float32bits(depth))
		}
		if flags&driver.ClearStencil != 0 {
			px[4] = stencil
		}
	}
}
