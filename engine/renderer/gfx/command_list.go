package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type CommandListState int

const (
	CommandListClosed CommandListState = iota
	CommandListRecording
	CommandListSubmitted
)

func (s CommandListState) String() string {
	switch s {
	case CommandListClosed:
		return "closed"
	case CommandListRecording:
		return "recording"
	case CommandListSubmitted:
		return "submitted"
	}
	return "unknown"
}

// SubresourceData is the CPU side source of one texture subresource.
type SubresourceData struct {
	Data []byte
	// RowPitch is the distance between rows in Data. Zero means tightly
	// packed rows.
	RowPitch uint64
}

// CommandList records GPU work. It owns a native list, its allocator and a
// linear upload buffer for CPU to GPU copies.
//
// A list goes Closed -> Recording (Reset) -> Closed (Close) -> Submitted. Any
// recording call outside the recording state is dropped and reported by
// Close as core.ErrInvalidState.
type CommandList struct {
	device *Device
	queue  *CommandQueue
	name   string
	native driver.CommandList
	alloc  driver.CommandAllocator
	upload *UploadBuffer

	state      CommandListState
	err        error
	fenceValue uint64
	retained   map[*Resource]struct{}
	// pending holds the recorded transitions until the queue accepts the list.
	pending    map[*Resource]pendingState
	mismatches int

	pso      *PipelineState
	graphics *RootSignature
	compute  *RootSignature
}

// pendingState is the net effect of a list's barriers on one resource.
type pendingState struct {
	before driver.ResourceState
	after  driver.ResourceState
}

func newCommandList(q *CommandQueue, name string) (*CommandList, error) {
	d := q.device
	alloc, err := d.gpu.NewCommandAllocator(q.kind)
	if err != nil {
		return nil, d.fail(err, "failed to create command allocator for %s", name)
	}
	native, err := d.gpu.NewCommandList(q.kind, alloc, nil)
	if err != nil {
		alloc.Destroy()
		return nil, d.fail(err, "failed to create command list %s", name)
	}
	// lists are created recording, ours start closed
	if err := native.Close(); err != nil {
		native.Destroy()
		alloc.Destroy()
		return nil, d.fail(err, "failed to close command list %s", name)
	}
	upload, err := d.CreateUploadBuffer(name+"-upload", d.config.UploadBufferSize)
	if err != nil {
		native.Destroy()
		alloc.Destroy()
		return nil, err
	}
	return &CommandList{
		device:   d,
		queue:    q,
		name:     name,
		native:   native,
		alloc:    alloc,
		upload:   upload,
		retained: make(map[*Resource]struct{}),
		pending:  make(map[*Resource]pendingState),
	}, nil
}

func (cl *CommandList) Name() string                { return cl.name }
func (cl *CommandList) Kind() driver.QueueKind      { return cl.queue.kind }
func (cl *CommandList) State() CommandListState     { return cl.state }
func (cl *CommandList) Native() driver.CommandList  { return cl.native }
func (cl *CommandList) Queue() *CommandQueue        { return cl.queue }
func (cl *CommandList) UploadBuffer() *UploadBuffer { return cl.upload }

// FenceValue is the value signaled when the last submission of the list
// completes.
func (cl *CommandList) FenceValue() uint64 { return cl.fenceValue }

// BarrierMismatches counts explicit barriers whose from state disagreed with
// the tracked state.
func (cl *CommandList) BarrierMismatches() int { return cl.mismatches }

// Reset starts recording. The previous submission must have completed. The
// upload buffer is rewound, which is only safe for that reason.
func (cl *CommandList) Reset(pso *PipelineState) error {
	switch cl.state {
	case CommandListRecording:
		return errors.Wrapf(core.ErrInvalidState, "reset of %s while recording", cl.name)
	case CommandListSubmitted:
		if !cl.queue.IsComplete(cl.fenceValue) {
			return errors.Wrapf(core.ErrCommandListInFlight, "%s: fence value %d not reached (completed %d)",
				cl.name, cl.fenceValue, cl.queue.CompletedValue())
		}
	}
	cl.releaseRetained()
	clear(cl.pending)
	if err := cl.alloc.Reset(); err != nil {
		return cl.device.fail(err, "failed to reset allocator of %s", cl.name)
	}
	var native driver.PipelineState
	if pso != nil {
		native = pso.native
	}
	if err := cl.native.Reset(cl.alloc, native); err != nil {
		return cl.device.fail(err, "failed to reset %s", cl.name)
	}
	cl.upload.Reset()
	cl.state = CommandListRecording
	cl.err = nil
	cl.mismatches = 0
	cl.pso, cl.graphics, cl.compute = nil, nil, nil
	if pso != nil {
		cl.bindRootSignature(pso)
	}
	return nil
}

// Close ends recording and returns the first error recorded since Reset.
func (cl *CommandList) Close() error {
	if cl.state != CommandListRecording {
		return errors.Wrapf(core.ErrInvalidState, "close of %s list %s", cl.state, cl.name)
	}
	err := cl.native.Close()
	cl.state = CommandListClosed
	if cl.err != nil {
		return cl.err
	}
	if err != nil {
		return cl.device.fail(err, "failed to close %s", cl.name)
	}
	return nil
}

// ExecuteCommandList closes the list if needed, submits it to its queue and,
// with flush, waits for the GPU to finish it.
func (cl *CommandList) ExecuteCommandList(flush bool) (uint64, error) {
	if cl.state == CommandListRecording {
		if err := cl.Close(); err != nil {
			return 0, err
		}
	}
	v, err := cl.queue.Submit(cl)
	if err != nil {
		return 0, err
	}
	if flush {
		if err := cl.queue.WaitForValue(v, cl.device.waitTimeout()).Err(); err != nil {
			return v, errors.Wrapf(err, "flush of %s", cl.name)
		}
		cl.queue.RetireCompleted()
	}
	return v, nil
}

// Err returns the first recording error since Reset.
func (cl *CommandList) Err() error { return cl.err }

func (cl *CommandList) fail(err error) {
	core.LogWarn("%s: %s", cl.name, err)
	if cl.err == nil {
		cl.err = err
	}
}

func (cl *CommandList) check(op string) bool {
	if cl.state != CommandListRecording {
		cl.fail(errors.Wrapf(core.ErrInvalidState, "%s on %s list %s", op, cl.state, cl.name))
		return false
	}
	return true
}

// use keeps r alive until the submission recording it retires.
func (cl *CommandList) use(r *Resource) bool {
	if r == nil || r.IsReleased() {
		cl.fail(errors.Wrapf(core.ErrResourceReleased, "%s uses a released resource", cl.name))
		return false
	}
	if _, ok := cl.retained[r]; !ok {
		r.AddRef()
		cl.retained[r] = struct{}{}
	}
	return true
}

func (cl *CommandList) releaseRetained() {
	for r := range cl.retained {
		r.Release()
	}
	clear(cl.retained)
}

// takeRetained hands the retained resources to the queue at submission.
func (cl *CommandList) takeRetained() []*Resource {
	out := make([]*Resource, 0, len(cl.retained))
	for r := range cl.retained {
		out = append(out, r)
	}
	clear(cl.retained)
	return out
}

// StateOf is the state ref is in at this point of the recording. Resources
// only take it on when the list is submitted.
func (cl *CommandList) StateOf(ref ResourceRef) driver.ResourceState {
	r := ref.Base()
	if p, ok := cl.pending[r]; ok {
		return p.after
	}
	return r.state
}

func (cl *CommandList) setState(r *Resource, to driver.ResourceState) {
	p, ok := cl.pending[r]
	if !ok {
		p.before = r.state
	}
	p.after = to
	cl.pending[r] = p
}

// commitStates publishes the recorded transitions to the resources. Called
// once the native queue accepted the list.
func (cl *CommandList) commitStates() {
	for r, p := range cl.pending {
		if r.state != p.before {
			core.LogWarn("%s: %s was recorded from %s but is in %s at submission", cl.name, r.name, p.before, r.state)
		}
		r.state = p.after
	}
	clear(cl.pending)
}

// Transition moves a resource into state to, deriving the from state from
// what the resource tracks. Upload and readback resources have a fixed
// state and are left alone.
func (cl *CommandList) Transition(ref ResourceRef, to driver.ResourceState) {
	r := ref.Base()
	if !cl.check("Transition") || !cl.use(r) {
		return
	}
	from := cl.StateOf(r)
	if r.heapType != driver.HeapTypeDefault || from == to {
		return
	}
	cl.native.ResourceBarrier(driver.TransitionBarrier(r.native, from, to))
	cl.setState(r, to)
}

// SetResourceBarrier records an explicit transition. A from state that does
// not match the tracked one is logged and counted; the tracked state becomes
// to either way.
func (cl *CommandList) SetResourceBarrier(ref ResourceRef, from, to driver.ResourceState) {
	r := ref.Base()
	if !cl.check("SetResourceBarrier") || !cl.use(r) {
		return
	}
	if tracked := cl.StateOf(r); tracked != from {
		cl.mismatches++
		core.LogWarn("%s: barrier on %s from %s, but it is tracked in %s", cl.name, r.name, from, tracked)
	}
	cl.native.ResourceBarrier(driver.TransitionBarrier(r.native, from, to))
	cl.setState(r, to)
}

// UAVBarrier orders unordered access writes to ref before later accesses.
func (cl *CommandList) UAVBarrier(ref ResourceRef) {
	r := ref.Base()
	if !cl.check("UAVBarrier") || !cl.use(r) {
		return
	}
	cl.native.ResourceBarrier(driver.Barrier{Type: driver.BarrierUAV, Resource: r.native})
}

// UploadToBuffer stages data in the upload buffer and records a copy into
// dst at dstOffset. CPU visible buffers are written directly.
func (cl *CommandList) UploadToBuffer(dst *BufferResource, dstOffset uint64, data []byte) error {
	if !cl.check("UploadToBuffer") {
		return cl.err
	}
	size := uint64(len(data))
	if dstOffset+size > dst.Size() {
		return errors.Wrapf(core.ErrInvalidArgument, "upload of %d bytes at %d into %s of %d bytes", size, dstOffset, dst.name, dst.Size())
	}
	if dst.mapped != nil {
		return dst.WriteAt(dstOffset, data)
	}
	alloc, err := cl.upload.Allocate(size, 0)
	if err != nil {
		return err
	}
	copy(alloc.CPU, data)
	cl.Transition(dst, driver.StateCopyDest)
	if !cl.use(&dst.Resource) || !cl.use(&cl.upload.buffer.Resource) {
		return cl.err
	}
	cl.native.CopyBufferRegion(dst.native, dstOffset, cl.upload.buffer.native, alloc.Offset, size)
	return nil
}

// UploadToTexture copies subresources first, first+1, ... of dst. Each source
// is copied row by row into the device's copyable layout, whose rows are
// padded to the pitch alignment and whose subresources start on the
// placement alignment. One GPU copy is recorded per subresource.
func (cl *CommandList) UploadToTexture(dst *TextureResource, first uint32, subresources []SubresourceData) error {
	if !cl.check("UploadToTexture") {
		return cl.err
	}
	n := uint32(len(subresources))
	if n == 0 || first+n > dst.SubresourceCount() {
		return errors.Wrapf(core.ErrInvalidArgument, "%s: subresources [%d, %d) of %d", dst.name, first, first+n, dst.SubresourceCount())
	}
	fp := cl.device.gpu.CopyableFootprints(dst.desc, first, n, 0)
	for i, sub := range subresources {
		rows, rowSize := uint64(fp.NumRows[i]), fp.RowSizeInBytes[i]
		pitch := sub.RowPitch
		if pitch == 0 {
			pitch = rowSize
		}
		if pitch < rowSize || uint64(len(sub.Data)) < pitch*(rows-1)+rowSize {
			return errors.Wrapf(core.ErrInvalidArgument, "%s subresource %d: %d bytes with pitch %d, need %d rows of %d",
				dst.name, first+uint32(i), len(sub.Data), pitch, rows, rowSize)
		}
	}

	alloc, err := cl.upload.Allocate(fp.TotalBytes, cl.device.limits.TexturePlacementAlignment)
	if err != nil {
		return err
	}
	for i, sub := range subresources {
		layout := fp.Layouts[i]
		rows, rowSize := uint64(fp.NumRows[i]), fp.RowSizeInBytes[i]
		dstPitch := uint64(layout.Footprint.RowPitch)
		srcPitch := sub.RowPitch
		if srcPitch == 0 {
			srcPitch = rowSize
		}
		for r := uint64(0); r < rows; r++ {
			to := layout.Offset + r*dstPitch
			from := r * srcPitch
			copy(alloc.CPU[to:to+rowSize], sub.Data[from:from+rowSize])
		}
	}

	cl.Transition(dst, driver.StateCopyDest)
	if !cl.use(&dst.Resource) || !cl.use(&cl.upload.buffer.Resource) {
		return cl.err
	}
	for i := uint32(0); i < n; i++ {
		placed := fp.Layouts[i]
		placed.Offset += alloc.Offset
		cl.native.CopyTextureRegion(
			driver.TextureCopyLocation{Resource: dst.native, Subresource: first + i},
			driver.TextureCopyLocation{Resource: cl.upload.buffer.native, Footprint: placed},
		)
	}
	return nil
}

// CopyBufferRegion copies between buffers, transitioning both ends.
func (cl *CommandList) CopyBufferRegion(dst *BufferResource, dstOffset uint64, src *BufferResource, srcOffset, size uint64) {
	if !cl.check("CopyBufferRegion") {
		return
	}
	if dstOffset+size > dst.Size() || srcOffset+size > src.Size() {
		cl.fail(errors.Wrapf(core.ErrInvalidArgument, "copy of %d bytes from %s+%d to %s+%d out of bounds",
			size, src.name, srcOffset, dst.name, dstOffset))
		return
	}
	cl.Transition(dst, driver.StateCopyDest)
	cl.Transition(src, driver.StateCopySource)
	if !cl.use(&dst.Resource) || !cl.use(&src.Resource) {
		return
	}
	cl.native.CopyBufferRegion(dst.native, dstOffset, src.native, srcOffset, size)
}

// CopyBuffer copies the whole of src into dst.
func (cl *CommandList) CopyBuffer(dst, src *BufferResource) {
	cl.CopyBufferRegion(dst, 0, src, 0, min(dst.Size(), src.Size()))
}

// CopyTextureToBuffer copies subresource sub of src into dst at dstOffset in
// the copyable layout and returns that layout.
func (cl *CommandList) CopyTextureToBuffer(dst *BufferResource, dstOffset uint64, src *TextureResource, sub uint32) (driver.Footprints, error) {
	if !cl.check("CopyTextureToBuffer") {
		return driver.Footprints{}, cl.err
	}
	if sub >= src.SubresourceCount() {
		return driver.Footprints{}, errors.Wrapf(core.ErrInvalidArgument, "%s: subresource %d of %d", src.name, sub, src.SubresourceCount())
	}
	fp := cl.device.gpu.CopyableFootprints(src.desc, sub, 1, dstOffset)
	if dstOffset+fp.TotalBytes > dst.Size() {
		return driver.Footprints{}, errors.Wrapf(core.ErrInvalidArgument, "%s: %d bytes at %d do not fit %s",
			src.name, fp.TotalBytes, dstOffset, dst.name)
	}
	cl.Transition(src, driver.StateCopySource)
	cl.Transition(dst, driver.StateCopyDest)
	if !cl.use(&src.Resource) || !cl.use(&dst.Resource) {
		return driver.Footprints{}, cl.err
	}
	cl.native.CopyTextureRegion(
		driver.TextureCopyLocation{Resource: dst.native, Footprint: fp.Layouts[0]},
		driver.TextureCopyLocation{Resource: src.native, Subresource: sub},
	)
	return fp, nil
}

// SetPipelineState binds pso and its root signature.
func (cl *CommandList) SetPipelineState(pso *PipelineState) {
	if !cl.check("SetPipelineState") {
		return
	}
	cl.native.SetPipelineState(pso.native)
	cl.bindRootSignature(pso)
}

func (cl *CommandList) bindRootSignature(pso *PipelineState) {
	cl.pso = pso
	if pso.rootSignature == nil {
		return
	}
	if pso.compute {
		cl.SetComputeRootSignature(pso.rootSignature)
	} else {
		cl.SetGraphicsRootSignature(pso.rootSignature)
	}
}

func (cl *CommandList) SetGraphicsRootSignature(rs *RootSignature) {
	if !cl.check("SetGraphicsRootSignature") || cl.graphics == rs {
		return
	}
	cl.graphics = rs
	cl.native.SetGraphicsRootSignature(rs.native)
}

func (cl *CommandList) SetComputeRootSignature(rs *RootSignature) {
	if !cl.check("SetComputeRootSignature") || cl.compute == rs {
		return
	}
	cl.compute = rs
	cl.native.SetComputeRootSignature(rs.native)
}

// SetDescriptorHeaps binds the shader visible heaps of the device.
func (cl *CommandList) SetDescriptorHeaps() {
	if !cl.check("SetDescriptorHeaps") {
		return
	}
	cl.native.SetDescriptorHeaps(cl.device.descriptors.ShaderVisibleHeaps()...)
}

// SetRootConstant sets one graphics root constant, typically a heap index.
func (cl *CommandList) SetRootConstant(param, value, offset uint32) {
	cl.SetGraphicsRootConstants(param, []uint32{value}, offset)
}

func (cl *CommandList) SetGraphicsRootConstants(param uint32, values []uint32, offset uint32) {
	if !cl.check("SetGraphicsRootConstants") {
		return
	}
	cl.native.SetGraphicsRoot32BitConstants(param, values, offset)
}

func (cl *CommandList) SetComputeRootConstants(param uint32, values []uint32, offset uint32) {
	if !cl.check("SetComputeRootConstants") {
		return
	}
	cl.native.SetComputeRoot32BitConstants(param, values, offset)
}

// SetGraphicsRawConstantBuffer binds element i of buf as a root constant
// buffer.
func (cl *CommandList) SetGraphicsRawConstantBuffer(param uint32, buf *BufferResource, i uint32) {
	if !cl.check("SetGraphicsRawConstantBuffer") || !cl.use(&buf.Resource) {
		return
	}
	cl.native.SetGraphicsRootConstantBufferView(param, buf.ElementAddress(i))
}

func (cl *CommandList) SetGraphicsRawShaderResource(param uint32, buf *BufferResource) {
	if !cl.check("SetGraphicsRawShaderResource") || !cl.use(&buf.Resource) {
		return
	}
	cl.native.SetGraphicsRootShaderResourceView(param, buf.GPUAddress())
}

// SetGraphicsDescriptorTable binds a table starting at the view's slot.
func (cl *CommandList) SetGraphicsDescriptorTable(param uint32, view *ResourceView) {
	if !cl.check("SetGraphicsDescriptorTable") || !cl.use(view.resource) {
		return
	}
	cl.native.SetGraphicsRootDescriptorTable(param, view.GPUHandle())
}

func (cl *CommandList) SetComputeDescriptorTable(param uint32, view *ResourceView) {
	if !cl.check("SetComputeDescriptorTable") || !cl.use(view.resource) {
		return
	}
	cl.native.SetComputeRootDescriptorTable(param, view.GPUHandle())
}

func (cl *CommandList) IASetPrimitiveTopology(topology driver.PrimitiveTopology) {
	if !cl.check("IASetPrimitiveTopology") {
		return
	}
	cl.native.IASetPrimitiveTopology(topology)
}

func (cl *CommandList) IASetVertexBuffer(slot uint32, buf *BufferResource) {
	if !cl.check("IASetVertexBuffer") || !cl.use(&buf.Resource) {
		return
	}
	cl.native.IASetVertexBuffers(slot, buf.VertexBufferView())
}

func (cl *CommandList) IASetIndexBuffer(buf *BufferResource) {
	if !cl.check("IASetIndexBuffer") || !cl.use(&buf.Resource) {
		return
	}
	view := buf.IndexBufferView()
	cl.native.IASetIndexBuffer(&view)
}

func (cl *CommandList) SetViewport(vp driver.Viewport) {
	if !cl.check("SetViewport") {
		return
	}
	cl.native.RSSetViewports(vp)
}

func (cl *CommandList) SetScissor(rect driver.Rect) {
	if !cl.check("SetScissor") {
		return
	}
	cl.native.RSSetScissorRects(rect)
}

// SetViewportAndScissor covers a width x height target.
func (cl *CommandList) SetViewportAndScissor(width, height uint32) {
	cl.SetViewport(driver.Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1})
	cl.SetScissor(driver.Rect{Right: int32(width), Bottom: int32(height)})
}

func (cl *CommandList) SetRenderTargets(rtvs []*RenderTargetView, dsv *DepthStencilView) {
	if !cl.check("SetRenderTargets") {
		return
	}
	handles := make([]driver.CPUHandle, 0, len(rtvs))
	for _, v := range rtvs {
		if !v.Valid() || !cl.use(v.resource) {
			cl.fail(errors.Wrapf(core.ErrResourceReleased, "%s: render target view is stale", cl.name))
			return
		}
		handles = append(handles, v.CPUHandle())
	}
	var dh *driver.CPUHandle
	if dsv != nil {
		if !dsv.Valid() || !cl.use(dsv.resource) {
			cl.fail(errors.Wrapf(core.ErrResourceReleased, "%s: depth stencil view is stale", cl.name))
			return
		}
		h := dsv.CPUHandle()
		dh = &h
	}
	cl.native.OMSetRenderTargets(handles, dh)
}

func (cl *CommandList) ClearRenderTarget(rtv *RenderTargetView, color [4]float32) {
	if !cl.check("ClearRenderTarget") {
		return
	}
	if !rtv.Valid() || !cl.use(rtv.resource) {
		cl.fail(errors.Wrapf(core.ErrResourceReleased, "%s: render target view is stale", cl.name))
		return
	}
	cl.native.ClearRenderTargetView(rtv.CPUHandle(), color)
}

func (cl *CommandList) ClearDepthStencil(dsv *DepthStencilView, flags driver.ClearFlags, depth float32, stencil uint8) {
	if !cl.check("ClearDepthStencil") {
		return
	}
	if !dsv.Valid() || !cl.use(dsv.resource) {
		cl.fail(errors.Wrapf(core.ErrResourceReleased, "%s: depth stencil view is stale", cl.name))
		return
	}
	cl.native.ClearDepthStencilView(dsv.CPUHandle(), flags, depth, stencil)
}

func (cl *CommandList) DrawVertexed(vertexCount, instanceCount, startVertex, startInstance uint32) {
	if !cl.check("DrawVertexed") {
		return
	}
	cl.native.DrawInstanced(vertexCount, instanceCount, startVertex, startInstance)
}

func (cl *CommandList) DrawIndexed(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if !cl.check("DrawIndexed") {
		return
	}
	cl.native.DrawIndexedInstanced(indexCount, instanceCount, startIndex, baseVertex, startInstance)
}

func (cl *CommandList) Dispatch(x, y, z uint32) {
	if !cl.check("Dispatch") {
		return
	}
	cl.native.Dispatch(x, y, z)
}

// Destroy releases the native objects. A list still in flight is handed to
// its queue and destroyed once its submission retires.
func (cl *CommandList) Destroy() {
	if cl.native == nil {
		return
	}
	if cl.state == CommandListSubmitted && !cl.queue.IsComplete(cl.fenceValue) {
		core.LogDebug("%s destroyed in flight, deferring to fence value %d", cl.name, cl.fenceValue)
		cl.queue.retireLater(cl.fenceValue, cl.destroy)
		return
	}
	cl.destroy()
}

func (cl *CommandList) destroy() {
	cl.releaseRetained()
	clear(cl.pending)
	if cl.upload != nil {
		cl.upload.Release()
		cl.upload = nil
	}
	if cl.native != nil {
		cl.native.Destroy()
		cl.alloc.Destroy()
		cl.native = nil
	}
}
