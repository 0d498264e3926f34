// Package driver defines the interface between the renderer and the native
// graphics API. It follows an explicit model: descriptor heaps addressed by
// CPU/GPU handles, committed resources placed in default, upload or readback
// heaps, resource states changed with transition barriers, command lists
// recorded against allocators, and monotonic fences signaled by queues.
package driver

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Driver is the interface that provides methods for loading and unloading a
// GPU implementation.
type Driver interface {
	// Open initializes the driver and returns the GPU.
	// It is valid to call Open again after the driver has been closed.
	Open(opts OpenOptions) (GPU, error)

	// Name returns the driver's name.
	Name() string

	// Close deinitializes the driver.
	Close()
}

// OpenOptions configures a driver at Open time.
type OpenOptions struct {
	AppName string
	// Debug enables validation layers where the backend has them.
	Debug bool
	// Window is the presentation target. Backends that present to a
	// native surface type-assert the interface they need.
	Window any
}

var (
	mu      sync.Mutex
	drivers []Driver
)

// Register registers a driver implementation.
// Drivers are expected to register themselves in init functions.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			return
		}
	}
	drivers = append(drivers, drv)
}

// Drivers returns the registered drivers sorted by name.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drvs := make([]Driver, len(drivers))
	copy(drvs, drivers)
	sort.Slice(drvs, func(i, j int) bool { return drvs[i].Name() < drvs[j].Name() })
	return drvs
}

// Find returns the registered driver with the given name.
func Find(name string) (Driver, error) {
	for _, d := range Drivers() {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, errors.Wrapf(ErrNoDevice, "driver %q is not registered", name)
}

// Common errors.
var (
	ErrNoDevice       = errors.New("driver: no suitable device found")
	ErrNoDeviceMemory = errors.New("driver: out of device memory")
	ErrDeviceLost     = errors.New("driver: device lost")
	ErrTimeout        = errors.New("driver: wait timed out")
	ErrNotSupported   = errors.New("driver: not supported")
	ErrInvalidHandle  = errors.New("driver: invalid descriptor handle")
	ErrInUse          = errors.New("driver: object still in use")

	// ErrSurfaceOutOfDate means the presentation surface changed and the
	// swap chain must be resized before it can present again.
	ErrSurfaceOutOfDate = errors.New("driver: surface out of date")
)

// Infinite makes a wait block until the condition is met.
const Infinite time.Duration = -1

// GPU is the device. It creates every other driver object.
type GPU interface {
	Driver() Driver
	Name() string
	Limits() Limits

	// DescriptorIncrementSize is the distance between consecutive handles
	// in a heap of the given kind.
	DescriptorIncrementSize(kind HeapKind) uint32
	NewDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)

	NewCommittedResource(heap HeapType, desc ResourceDesc, initial ResourceState, clear *ClearValue) (Resource, error)
	// CopyableFootprints describes how subresources of desc are laid out
	// in a buffer for copies.
	CopyableFootprints(desc ResourceDesc, firstSubresource, numSubresources uint32, baseOffset uint64) Footprints

	CreateConstantBufferView(desc ConstantBufferViewDesc, dst CPUHandle) error
	CreateShaderResourceView(res Resource, desc *ShaderResourceViewDesc, dst CPUHandle) error
	CreateUnorderedAccessView(res Resource, desc *UnorderedAccessViewDesc, dst CPUHandle) error
	CreateRenderTargetView(res Resource, desc *RenderTargetViewDesc, dst CPUHandle) error
	CreateDepthStencilView(res Resource, desc *DepthStencilViewDesc, dst CPUHandle) error
	CreateSampler(desc SamplerDesc, dst CPUHandle) error

	NewRootSignature(desc RootSignatureDesc) (RootSignature, error)
	NewGraphicsPipeline(desc GraphicsPipelineDesc) (PipelineState, error)
	NewComputePipeline(desc ComputePipelineDesc) (PipelineState, error)

	NewCommandAllocator(kind QueueKind) (CommandAllocator, error)
	// NewCommandList returns a list in the recording state.
	NewCommandList(kind QueueKind, alloc CommandAllocator, pso PipelineState) (CommandList, error)
	NewFence(initial uint64) (Fence, error)
	Queue(kind QueueKind) (Queue, error)
	NewSwapChain(queue Queue, desc SwapChainDesc) (SwapChain, error)

	// Removed returns ErrDeviceLost (possibly wrapped) once the device is
	// gone, nil otherwise.
	Removed() error
	Close()
}

// Destroyer is implemented by every driver object with native storage.
type Destroyer interface {
	Destroy()
}

// DescriptorHeap is a fixed array of descriptors of one kind.
type DescriptorHeap interface {
	Destroyer
	Desc() DescriptorHeapDesc
	CPUStart() CPUHandle
	// GPUStart is zero unless the heap is shader visible.
	GPUStart() GPUHandle
}

// Resource is a committed buffer or texture.
type Resource interface {
	Destroyer
	Desc() ResourceDesc
	HeapType() HeapType
	// GPUVirtualAddress is the base address of a buffer. Zero for textures.
	GPUVirtualAddress() uint64
	// Map returns the backing memory of upload and readback buffers. The
	// slice stays valid until Unmap or Destroy.
	Map() ([]byte, error)
	Unmap()
}

type RootSignature interface {
	Destroyer
	Desc() RootSignatureDesc
}

type PipelineState interface {
	Destroyer
	Compute() bool
}

// CommandAllocator owns the memory commands are recorded into. Resetting it
// while lists recorded from it are still executing is invalid.
type CommandAllocator interface {
	Destroyer
	Kind() QueueKind
	Reset() error
}

// CommandList records GPU commands. Recording errors are deferred and
// returned by Close.
type CommandList interface {
	Destroyer
	Kind() QueueKind
	Reset(alloc CommandAllocator, pso PipelineState) error
	Close() error

	ResourceBarrier(barriers ...Barrier)
	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset, size uint64)
	CopyTextureRegion(dst, src TextureCopyLocation)

	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetPipelineState(pso PipelineState)
	SetGraphicsRootSignature(rs RootSignature)
	SetComputeRootSignature(rs RootSignature)
	SetGraphicsRoot32BitConstants(param uint32, values []uint32, offset uint32)
	SetComputeRoot32BitConstants(param uint32, values []uint32, offset uint32)
	SetGraphicsRootConstantBufferView(param uint32, address uint64)
	SetGraphicsRootShaderResourceView(param uint32, address uint64)
	SetGraphicsRootDescriptorTable(param uint32, base GPUHandle)
	SetComputeRootDescriptorTable(param uint32, base GPUHandle)

	IASetPrimitiveTopology(topology PrimitiveTopology)
	IASetVertexBuffers(startSlot uint32, views ...VertexBufferView)
	IASetIndexBuffer(view *IndexBufferView)
	RSSetViewports(viewports ...Viewport)
	RSSetScissorRects(rects ...Rect)
	OMSetRenderTargets(rtvs []CPUHandle, dsv *CPUHandle)

	ClearRenderTargetView(rtv CPUHandle, color [4]float32)
	ClearDepthStencilView(dsv CPUHandle, flags ClearFlags, depth float32, stencil uint8)

	DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)
}

// Queue executes command lists in submission order.
type Queue interface {
	Kind() QueueKind
	ExecuteCommandLists(lists ...CommandList) error
	// Signal sets fence to value once all previously submitted work is done.
	Signal(fence Fence, value uint64) error
	// Wait makes subsequent work wait until fence reaches value.
	Wait(fence Fence, value uint64) error
}

// Fence is a monotonic 64-bit counter shared by the CPU and GPU.
type Fence interface {
	Destroyer
	CompletedValue() uint64
	// Signal sets the value from the CPU.
	Signal(value uint64) error
	// Wait blocks until CompletedValue >= value. It returns ErrTimeout when
	// timeout elapses first and ErrDeviceLost if the device is removed.
	// A negative timeout waits forever.
	Wait(value uint64, timeout time.Duration) error
}

type SwapChain interface {
	Destroyer
	Desc() SwapChainDesc
	CurrentBackBufferIndex() uint32
	// Buffer returns the i-th back buffer. Every returned resource must be
	// destroyed before ResizeBuffers.
	Buffer(i uint32) (Resource, error)
	Present(syncInterval uint32) error
	// ResizeBuffers fails with ErrInUse while back buffers are referenced
	// or work using them is still pending.
	ResizeBuffers(count, width, height uint32, format Format) error
}
