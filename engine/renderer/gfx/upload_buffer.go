package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	bmath "github.com/spaghettifunk/benzin/engine/math"
)

// UploadAllocation is a range of an upload buffer.
type UploadAllocation struct {
	Offset     uint64
	Size       uint64
	CPU        []byte
	GPUAddress uint64
}

// UploadBuffer is a linear allocator over a mapped upload heap buffer. The
// cursor only moves forward until Reset, which is legal only once the GPU
// consumed every copy sourced from the buffer.
type UploadBuffer struct {
	buffer *BufferResource
	offset uint64
}

func (d *Device) CreateUploadBuffer(name string, size uint64) (*UploadBuffer, error) {
	if size == 0 || size > 1<<32-1 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "upload buffer size %d", size)
	}
	buf, err := d.CreateBuffer(BufferConfig{Name: name, ElementSize: 1, ElementCount: uint32(size)}, BufferFlagUpload)
	if err != nil {
		return nil, err
	}
	return &UploadBuffer{buffer: buf}, nil
}

// Allocate reserves size bytes. An alignment of zero packs allocations back
// to back, otherwise the returned offset is a multiple of alignment.
func (u *UploadBuffer) Allocate(size, alignment uint64) (UploadAllocation, error) {
	off := bmath.AlignUp(u.offset, alignment)
	capacity := u.Capacity()
	if off > capacity || size > capacity-off {
		return UploadAllocation{}, errors.Wrapf(core.ErrUploadBufferFull,
			"%s: %d bytes at offset %d exceed capacity %d", u.buffer.name, size, off, capacity)
	}
	u.offset = off + size
	return UploadAllocation{
		Offset:     off,
		Size:       size,
		CPU:        u.buffer.mapped[off : off+size : off+size],
		GPUAddress: u.buffer.GPUAddress() + off,
	}, nil
}

func (u *UploadBuffer) Reset()                  { u.offset = 0 }
func (u *UploadBuffer) Used() uint64            { return u.offset }
func (u *UploadBuffer) Capacity() uint64        { return u.buffer.Size() }
func (u *UploadBuffer) Buffer() *BufferResource { return u.buffer }

func (u *UploadBuffer) Release() {
	u.buffer.Release()
}
