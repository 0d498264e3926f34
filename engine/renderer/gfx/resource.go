package gfx

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// ResourceRef is implemented by Resource and by every type embedding it, so
// buffers and textures can be passed wherever a resource is expected.
type ResourceRef interface {
	Base() *Resource
}

// Resource wraps one native allocation. It tracks the state the resource is
// left in by the last recorded barrier and is reference counted: the native
// allocation is destroyed when the last reference is released.
type Resource struct {
	device   *Device
	name     string
	native   driver.Resource
	heapType driver.HeapType
	desc     driver.ResourceDesc
	state    driver.ResourceState

	refs     atomic.Int32
	released atomic.Bool
	onFree   func()
}

func (r *Resource) init(device *Device, name string, native driver.Resource, state driver.ResourceState) {
	if name == "" {
		name = "resource-" + uuid.NewString()
	}
	r.device = device
	r.name = name
	r.native = native
	r.heapType = native.HeapType()
	r.desc = native.Desc()
	r.state = state
	r.refs.Store(1)
}

func (r *Resource) Base() *Resource { return r }

func (r *Resource) Name() string                { return r.name }
func (r *Resource) Desc() driver.ResourceDesc   { return r.desc }
func (r *Resource) HeapType() driver.HeapType   { return r.heapType }
func (r *Resource) Native() driver.Resource     { return r.native }
func (r *Resource) IsReleased() bool            { return r.released.Load() }
func (r *Resource) RefCount() int32             { return r.refs.Load() }
func (r *Resource) GPUVirtualAddress() uint64   { return r.native.GPUVirtualAddress() }
func (r *Resource) State() driver.ResourceState { return r.state }

// AddRef takes an additional reference.
func (r *Resource) AddRef() *Resource {
	r.refs.Add(1)
	return r
}

// Release drops a reference. The native resource is destroyed with the last
// one, after which every view of it is invalid.
func (r *Resource) Release() {
	n := r.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		core.LogWarn("resource %s released more often than referenced", r.name)
		return
	}
	if r.released.CompareAndSwap(false, true) {
		if r.onFree != nil {
			r.onFree()
		}
		r.native.Destroy()
	}
}
