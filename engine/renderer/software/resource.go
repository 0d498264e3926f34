package software

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	bmath "github.com/spaghettifunk/benzin/engine/math"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

const (
	addressBase = 0x1_0000_0000
	addressPage = 0x1_0000
)

type resource struct {
	gpu   *GPU
	heap  driver.HeapType
	desc  driver.ResourceDesc
	clear *driver.ClearValue
	va    uint64

	// data backs buffers, subs backs texture subresources with tightly
	// packed rows.
	data []byte
	subs [][]byte

	// states is the per subresource state as seen by executed work. Only
	// touched while holding gpu.exec.
	states []driver.ResourceState

	mapped    atomic.Int32
	destroyed atomic.Bool
}

func (r *resource) Desc() driver.ResourceDesc { return r.desc }
func (r *resource) HeapType() driver.HeapType { return r.heap }
func (r *resource) GPUVirtualAddress() uint64 { return r.va }

func (r *resource) Map() ([]byte, error) {
	if r.destroyed.Load() {
		return nil, errors.New("software: map of a destroyed resource")
	}
	if r.heap == driver.HeapTypeDefault || r.desc.Dimension != driver.DimensionBuffer {
		return nil, errors.Wrapf(driver.ErrNotSupported, "software: only upload and readback buffers can be mapped")
	}
	r.mapped.Add(1)
	return r.data, nil
}

func (r *resource) Unmap() {
	if r.mapped.Load() > 0 {
		r.mapped.Add(-1)
	}
}

func (r *resource) Destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}
	if r.va != 0 {
		r.gpu.memory.release(r.va)
	}
}

// rowSize is the packed byte size of a row of subresource sub.
func (r *resource) rowSize(sub uint32) uint64 {
	mip := sub % uint32(max(r.desc.MipLevels, 1))
	return uint64(bmath.MipExtent(uint32(r.desc.Width), mip)) * uint64(r.desc.Format.BytesPerPixel())
}

func (r *resource) rows(sub uint32) uint32 {
	mip := sub % uint32(max(r.desc.MipLevels, 1))
	return bmath.MipExtent(r.desc.Height, mip)
}

func asResource(r driver.Resource) (*resource, error) {
	switch v := r.(type) {
	case *resource:
		if v.destroyed.Load() {
			return nil, errors.New("software: use of a destroyed resource")
		}
		return v, nil
	case *backBuffer:
		if v.released.Load() {
			return nil, errors.New("software: use of a released back buffer")
		}
		return v.res, nil
	case nil:
		return nil, errors.New("software: nil resource")
	}
	return nil, errors.Newf("software: foreign resource %T", r)
}

func (g *GPU) NewCommittedResource(heap driver.HeapType, desc driver.ResourceDesc, initial driver.ResourceState, clear *driver.ClearValue) (driver.Resource, error) {
	r, err := g.newResource(heap, desc, initial, clear)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (g *GPU) newResource(heap driver.HeapType, desc driver.ResourceDesc, initial driver.ResourceState, clear *driver.ClearValue) (*resource, error) {
	if err := g.Removed(); err != nil {
		return nil, err
	}
	if !initial.Valid() {
		return nil, errors.Newf("software: invalid initial state %s", initial)
	}
	switch heap {
	case driver.HeapTypeUpload:
		if initial != driver.StateGenericRead {
			return nil, errors.Newf("software: upload heap resources must start in GENERIC_READ, got %s", initial)
		}
	case driver.HeapTypeReadback:
		if initial != driver.StateCopyDest {
			return nil, errors.Newf("software: readback heap resources must start in COPY_DEST, got %s", initial)
		}
	}
	if clear != nil {
		if desc.Flags&(driver.ResourceFlagAllowRenderTarget|driver.ResourceFlagAllowDepthStencil) == 0 {
			return nil, errors.New("software: clear value given for a resource that is neither render target nor depth stencil")
		}
		if clear.Format != desc.Format {
			return nil, errors.Newf("software: clear value format %s does not match resource format %s", clear.Format, desc.Format)
		}
	}

	r := &resource{gpu: g, heap: heap, desc: desc}
	if clear != nil {
		c := *clear
		r.clear = &c
	}
	switch desc.Dimension {
	case driver.DimensionBuffer:
		if desc.Width == 0 {
			return nil, errors.New("software: zero sized buffer")
		}
		r.data = make([]byte, desc.Width)
		r.va = g.memory.reserve(r, desc.Width)
	case driver.DimensionTexture2D:
		if heap != driver.HeapTypeDefault {
			return nil, errors.Wrap(driver.ErrNotSupported, "software: textures must live in the default heap")
		}
		if desc.Width == 0 || desc.Height == 0 || desc.DepthOrArraySize == 0 || desc.MipLevels == 0 {
			return nil, errors.Newf("software: invalid texture extent %dx%dx%d with %d mips", desc.Width, desc.Height, desc.DepthOrArraySize, desc.MipLevels)
		}
		if desc.Format.BytesPerPixel() == 0 {
			return nil, errors.Newf("software: texture format %s", desc.Format)
		}
		lim := g.opts.Limits
		if uint32(desc.Width) > lim.MaxTextureDimension2D || desc.Height > lim.MaxTextureDimension2D {
			return nil, errors.Wrapf(driver.ErrNoDeviceMemory, "software: texture %dx%d exceeds %d", desc.Width, desc.Height, lim.MaxTextureDimension2D)
		}
		r.subs = make([][]byte, desc.SubresourceCount())
		for i := range r.subs {
			sub := uint32(i)
			r.subs[i] = make([]byte, r.rowSize(sub)*uint64(r.rows(sub)))
		}
	default:
		return nil, errors.Wrapf(driver.ErrNotSupported, "software: dimension %d", desc.Dimension)
	}
	r.states = make([]driver.ResourceState, desc.SubresourceCount())
	for i := range r.states {
		r.states[i] = initial
	}
	return r, nil
}

// addressSpace maps GPU virtual addresses back to buffers.
type addressSpace struct {
	mu     sync.RWMutex
	next   uint64
	ranges []vaRange
}

type vaRange struct {
	base, size uint64
	res        *resource
}

func (a *addressSpace) init() {
	a.next = addressBase
}

func (a *addressSpace) reserve(r *resource, size uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	base := a.next
	a.next += bmath.AlignUp(size, addressPage)
	// addresses only grow, so ranges stay sorted
	a.ranges = append(a.ranges, vaRange{base: base, size: size, res: r})
	return base
}

func (a *addressSpace) release(base uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].base >= base })
	if i < len(a.ranges) && a.ranges[i].base == base {
		a.ranges = append(a.ranges[:i], a.ranges[i+1:]...)
	}
}

// resolve returns the buffer containing va and the offset of va in it.
func (a *addressSpace) resolve(va uint64) (*resource, uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].base > va }) - 1
	if i < 0 {
		return nil, 0, false
	}
	rg := a.ranges[i]
	if va-rg.base >= rg.size {
		return nil, 0, false
	}
	return rg.res, va - rg.base, true
}
