package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type BufferFlags uint32

const (
	BufferFlagNone BufferFlags = 0
	// BufferFlagDynamic places the buffer in the upload heap, persistently
	// mapped for CPU writes.
	BufferFlagDynamic BufferFlags = 1 << iota
	// BufferFlagUpload is a staging buffer, also in the upload heap.
	BufferFlagUpload
	// BufferFlagReadback places the buffer in the readback heap.
	BufferFlagReadback
	// BufferFlagConstantBuffer rounds the element size up to the constant
	// buffer alignment.
	BufferFlagConstantBuffer
	BufferFlagVertexBuffer
	BufferFlagIndexBuffer
	BufferFlagStructured
	BufferFlagUnorderedAccess
)

// BufferConfig describes a buffer as an array of elements.
type BufferConfig struct {
	Name         string
	ElementSize  uint32
	ElementCount uint32
	// Format is the index format for index buffers.
	Format driver.Format
}

type BufferResource struct {
	Resource
	config BufferConfig
	flags  BufferFlags
	stride uint32
	mapped []byte
}

func (b *BufferResource) Config() BufferConfig { return b.config }
func (b *BufferResource) Flags() BufferFlags   { return b.flags }

// Stride is the distance between elements, which differs from the element
// size for constant buffers.
func (b *BufferResource) Stride() uint32       { return b.stride }
func (b *BufferResource) ElementCount() uint32 { return b.config.ElementCount }
func (b *BufferResource) Size() uint64         { return uint64(b.stride) * uint64(b.config.ElementCount) }
func (b *BufferResource) GPUAddress() uint64   { return b.native.GPUVirtualAddress() }

// ElementAddress is the GPU address of element i.
func (b *BufferResource) ElementAddress(i uint32) uint64 {
	return b.GPUAddress() + uint64(i)*uint64(b.stride)
}

// Mapped returns the persistently mapped memory of upload and readback
// buffers, nil otherwise.
func (b *BufferResource) Mapped() []byte { return b.mapped }

// Write copies data into element i of a mapped buffer.
func (b *BufferResource) Write(i uint32, data []byte) error {
	if i >= b.config.ElementCount {
		return errors.Wrapf(core.ErrInvalidArgument, "buffer %s: element %d of %d", b.name, i, b.config.ElementCount)
	}
	if uint32(len(data)) > b.stride {
		return errors.Wrapf(core.ErrInvalidArgument, "buffer %s: %d bytes do not fit an element of %d", b.name, len(data), b.stride)
	}
	return b.WriteAt(uint64(i)*uint64(b.stride), data)
}

// WriteAt copies data at a byte offset of a mapped buffer.
func (b *BufferResource) WriteAt(offset uint64, data []byte) error {
	if b.IsReleased() {
		return errors.Wrapf(core.ErrResourceReleased, "buffer %s", b.name)
	}
	if b.mapped == nil {
		return errors.Wrapf(core.ErrInvalidArgument, "buffer %s is not CPU visible", b.name)
	}
	if offset+uint64(len(data)) > uint64(len(b.mapped)) {
		return errors.Wrapf(core.ErrInvalidArgument, "buffer %s: write of %d bytes at %d overflows %d", b.name, len(data), offset, len(b.mapped))
	}
	copy(b.mapped[offset:], data)
	return nil
}

// Read returns element i of a mapped buffer. The slice aliases the mapping.
func (b *BufferResource) Read(i uint32) ([]byte, error) {
	if b.IsReleased() {
		return nil, errors.Wrapf(core.ErrResourceReleased, "buffer %s", b.name)
	}
	if b.mapped == nil {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %s is not CPU visible", b.name)
	}
	if i >= b.config.ElementCount {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %s: element %d of %d", b.name, i, b.config.ElementCount)
	}
	off := uint64(i) * uint64(b.stride)
	return b.mapped[off : off+uint64(b.stride)], nil
}

func (b *BufferResource) VertexBufferView() driver.VertexBufferView {
	return driver.VertexBufferView{
		BufferLocation: b.GPUAddress(),
		SizeInBytes:    uint32(b.Size()),
		StrideInBytes:  b.stride,
	}
}

func (b *BufferResource) IndexBufferView() driver.IndexBufferView {
	format := b.config.Format
	if format == driver.FormatUnknown {
		if b.config.ElementSize == 2 {
			format = driver.FormatR16Uint
		} else {
			format = driver.FormatR32Uint
		}
	}
	return driver.IndexBufferView{
		BufferLocation: b.GPUAddress(),
		SizeInBytes:    uint32(b.Size()),
		Format:         format,
	}
}

// CreateCBV creates a constant buffer view over element i.
func (b *BufferResource) CreateCBV(i uint32) (*ConstantBufferView, error) {
	if b.flags&BufferFlagConstantBuffer == 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %s is not a constant buffer", b.name)
	}
	if i >= b.config.ElementCount {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %s: element %d of %d", b.name, i, b.config.ElementCount)
	}
	d, err := b.device.descriptors.AllocateCBV()
	if err != nil {
		return nil, err
	}
	v := &ConstantBufferView{
		ResourceView: ResourceView{descriptor: d, resource: &b.Resource},
		Address:      b.ElementAddress(i),
		Size:         b.stride,
	}
	desc := driver.ConstantBufferViewDesc{BufferLocation: v.Address, SizeInBytes: v.Size}
	if err := b.device.gpu.CreateConstantBufferView(desc, d.CPU); err != nil {
		return nil, b.device.fail(err, "failed to create constant buffer view of %s", b.name)
	}
	return v, nil
}

// CreateSRV creates a structured (or raw, when the element size is not set
// per element) shader resource view over the whole buffer.
func (b *BufferResource) CreateSRV() (*ShaderResourceView, error) {
	desc := driver.ShaderResourceViewDesc{
		Dimension:           driver.SRVDimensionBuffer,
		NumElements:         b.config.ElementCount,
		StructureByteStride: b.stride,
	}
	if b.flags&BufferFlagStructured == 0 {
		desc.Raw = true
		desc.Format = driver.FormatR32Uint
		desc.NumElements = uint32(b.Size() / 4)
		desc.StructureByteStride = 0
	}
	d, err := b.device.descriptors.AllocateSRV()
	if err != nil {
		return nil, err
	}
	if err := b.device.gpu.CreateShaderResourceView(b.native, &desc, d.CPU); err != nil {
		return nil, b.device.fail(err, "failed to create shader resource view of %s", b.name)
	}
	return &ShaderResourceView{ResourceView: ResourceView{descriptor: d, resource: &b.Resource}, Desc: desc}, nil
}

func (b *BufferResource) CreateUAV() (*UnorderedAccessView, error) {
	if b.flags&BufferFlagUnorderedAccess == 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %s does not allow unordered access", b.name)
	}
	desc := driver.UnorderedAccessViewDesc{
		Dimension:           driver.UAVDimensionBuffer,
		NumElements:         b.config.ElementCount,
		StructureByteStride: b.stride,
	}
	d, err := b.device.descriptors.AllocateUAV()
	if err != nil {
		return nil, err
	}
	if err := b.device.gpu.CreateUnorderedAccessView(b.native, &desc, d.CPU); err != nil {
		return nil, b.device.fail(err, "failed to create unordered access view of %s", b.name)
	}
	return &UnorderedAccessView{ResourceView: ResourceView{descriptor: d, resource: &b.Resource}, Desc: desc}, nil
}

// CreateBuffer allocates a buffer. Dynamic and upload buffers live in the
// upload heap and stay mapped, readback buffers live in the readback heap,
// everything else is device local and filled through a command list.
func (d *Device) CreateBuffer(config BufferConfig, flags BufferFlags) (*BufferResource, error) {
	if config.ElementSize == 0 || config.ElementCount == 0 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %q: %d elements of %d bytes", config.Name, config.ElementCount, config.ElementSize)
	}
	cpuWrite := flags&(BufferFlagDynamic|BufferFlagUpload) != 0
	cpuRead := flags&BufferFlagReadback != 0
	if cpuWrite && cpuRead {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %q cannot be both upload and readback", config.Name)
	}
	if flags&BufferFlagUnorderedAccess != 0 && (cpuWrite || cpuRead) {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "buffer %q: unordered access needs the default heap", config.Name)
	}

	stride := config.ElementSize
	if flags&BufferFlagConstantBuffer != 0 {
		stride = uint32(bmath.AlignUp(uint64(stride), d.limits.ConstantBufferAlignment))
	}
	size := uint64(stride) * uint64(config.ElementCount)

	heap, state := driver.HeapTypeDefault, driver.StateCommon
	switch {
	case cpuWrite:
		heap, state = driver.HeapTypeUpload, driver.StateGenericRead
	case cpuRead:
		heap, state = driver.HeapTypeReadback, driver.StateCopyDest
	}
	var rflags driver.ResourceFlags
	if flags&BufferFlagUnorderedAccess != 0 {
		rflags |= driver.ResourceFlagAllowUnordered
	}

	native, err := d.gpu.NewCommittedResource(heap, driver.BufferDesc(size, rflags), state, nil)
	if err != nil {
		return nil, d.fail(err, "failed to create buffer %q of %d bytes", config.Name, size)
	}
	b := &BufferResource{config: config, flags: flags, stride: stride}
	b.init(d, config.Name, native, state)
	if heap != driver.HeapTypeDefault {
		if b.mapped, err = native.Map(); err != nil {
			native.Destroy()
			return nil, d.fail(err, "failed to map buffer %q", config.Name)
		}
		b.onFree = native.Unmap
	}
	core.LogDebug("buffer %s created: %d x %d bytes in the %s heap", b.name, config.ElementCount, stride, heap)
	return b, nil
}
