package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// gate holds back the next submission of a queue until a fence reaches a
// value signaled from outside the device timeline.
type gate struct {
	fence *fence
	value uint64
}

// queue is a view of the graphics queue for one queue kind.
type queue struct {
	gpu  *GPU
	kind driver.QueueKind

	mu    sync.Mutex
	gates []gate
}

func (q *queue) Kind() driver.QueueKind { return q.kind }

// open blocks on the gates recorded by Wait.
func (q *queue) open() error {
	q.mu.Lock()
	gates := q.gates
	q.gates = nil
	q.mu.Unlock()
	for _, g := range gates {
		if err := g.fence.Wait(g.value, driver.Infinite); err != nil {
			return err
		}
	}
	return nil
}

func (q *queue) ExecuteCommandLists(lists ...driver.CommandList) error {
	g := q.gpu
	if err := g.Removed(); err != nil {
		return err
	}
	cls := make([]*commandList, 0, len(lists))
	handles := make([]vk.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok || cl == nil {
			return errors.Newf("vulkan: foreign command list %T", l)
		}
		if cl.recording {
			return errors.New("vulkan: command list submitted while recording")
		}
		if cl.err != nil {
			return errors.Wrap(cl.err, "vulkan: command list closed with errors")
		}
		if cl.kind != q.kind {
			return errors.Newf("vulkan: %s command list submitted to the %s queue", cl.kind, q.kind)
		}
		if cl.cb == nil || cl.cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return errors.New("vulkan: command list was already submitted since its last reset")
		}
		cls = append(cls, cl)
		handles = append(handles, cl.cb.Handle)
	}
	if len(cls) == 0 {
		return nil
	}
	if err := q.open(); err != nil {
		return err
	}

	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(handles)),
		PCommandBuffers:    handles,
	}
	// The first submission after an acquire waits for the image.
	sem := g.takeAcquireSemaphore()
	if sem != vk.NullSemaphore {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sem}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)}
	}
	serial, err := g.submit([]vk.SubmitInfo{info})
	if err != nil {
		if sem != vk.NullSemaphore {
			g.setAcquireSemaphore(sem)
		}
		return err
	}
	for _, cl := range cls {
		cl.alloc.lastSerial.Store(serial)
		cl.cb.UpdateSubmitted()
	}
	return nil
}

func (q *queue) Signal(f driver.Fence, value uint64) error {
	vf, err := asFence(f)
	if err != nil {
		return err
	}
	if err := q.open(); err != nil {
		return err
	}
	serial, err := q.gpu.submit(nil)
	if err != nil {
		return err
	}
	vf.enqueue(value, serial)
	return nil
}

// Wait orders later submissions behind value. A value already promised by a
// queue signal is satisfied by submission order alone, anything else holds
// back the next submission on the CPU.
func (q *queue) Wait(f driver.Fence, value uint64) error {
	vf, err := asFence(f)
	if err != nil {
		return err
	}
	if err := q.gpu.Removed(); err != nil {
		return err
	}
	if vf.covered(value) {
		return nil
	}
	core.LogDebug("vulkan: %s queue gated on fence value %d", q.kind, value)
	q.mu.Lock()
	q.gates = append(q.gates, gate{fence: vf, value: value})
	q.mu.Unlock()
	return nil
}
