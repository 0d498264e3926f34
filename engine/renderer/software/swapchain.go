package software

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// backBuffer is a counted reference to a swap chain buffer. ResizeBuffers
// fails while any of them is alive.
type backBuffer struct {
	sc       *swapChain
	res      *resource
	released atomic.Bool
}

func (b *backBuffer) Desc() driver.ResourceDesc { return b.res.desc }
func (b *backBuffer) HeapType() driver.HeapType { return b.res.heap }
func (b *backBuffer) GPUVirtualAddress() uint64 { return 0 }
func (b *backBuffer) Map() ([]byte, error)      { return b.res.Map() }
func (b *backBuffer) Unmap()                    {}

func (b *backBuffer) Destroy() {
	if b.released.CompareAndSwap(false, true) {
		b.sc.mu.Lock()
		b.sc.refs--
		b.sc.mu.Unlock()
	}
}

type swapChain struct {
	gpu   *GPU
	queue *queue

	mu        sync.Mutex
	desc      driver.SwapChainDesc
	buffers   []*resource
	index     uint32
	refs      int
	destroyed bool
}

func (g *GPU) NewSwapChain(q driver.Queue, desc driver.SwapChainDesc) (driver.SwapChain, error) {
	sq, ok := q.(*queue)
	if !ok || sq == nil || sq.kind != driver.QueueDirect {
		return nil, errors.New("software: swap chains present from the direct queue")
	}
	sc := &swapChain{gpu: g, queue: sq}
	if err := sc.create(desc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *swapChain) create(desc driver.SwapChainDesc) error {
	if desc.BufferCount < 2 || desc.BufferCount > 16 {
		return errors.Newf("software: swap chain needs 2 to 16 buffers, got %d", desc.BufferCount)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return errors.Newf("software: swap chain extent %dx%d", desc.Width, desc.Height)
	}
	switch desc.Format {
	case driver.FormatRGBA8Unorm, driver.FormatBGRA8Unorm, driver.FormatRGBA16Float:
	default:
		return errors.Wrapf(driver.ErrNotSupported, "software: swap chain format %s", desc.Format)
	}
	buffers := make([]*resource, desc.BufferCount)
	for i := range buffers {
		res, err := sc.gpu.newResource(driver.HeapTypeDefault, driver.ResourceDesc{
			Dimension:        driver.DimensionTexture2D,
			Width:            uint64(desc.Width),
			Height:           desc.Height,
			DepthOrArraySize: 1,
			MipLevels:        1,
			Format:           desc.Format,
			Flags:            driver.ResourceFlagAllowRenderTarget,
		}, driver.StatePresent, nil)
		if err != nil {
			return err
		}
		buffers[i] = res
	}
	sc.desc = desc
	sc.buffers = buffers
	sc.index = 0
	return nil
}

func (sc *swapChain) Desc() driver.SwapChainDesc {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.desc
}

func (sc *swapChain) CurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.index
}

func (sc *swapChain) Buffer(i uint32) (driver.Resource, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if i >= uint32(len(sc.buffers)) {
		return nil, errors.Newf("software: back buffer %d of %d", i, len(sc.buffers))
	}
	sc.refs++
	return &backBuffer{sc: sc, res: sc.buffers[i]}, nil
}

func (sc *swapChain) Present(syncInterval uint32) error {
	if err := sc.gpu.Removed(); err != nil {
		return err
	}
	sc.mu.Lock()
	buf := sc.buffers[sc.index]
	sc.index = (sc.index + 1) % uint32(len(sc.buffers))
	sc.mu.Unlock()

	g := sc.gpu
	return sc.queue.push(func() {
		if g.Removed() != nil {
			return
		}
		g.exec.Lock()
		g.requireState(buf, 0, driver.StatePresent, "Present")
		g.exec.Unlock()
		g.count(func(s *Stats) { s.Presents++ })
	})
}

func (sc *swapChain) ResizeBuffers(count, width, height uint32, format driver.Format) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.refs > 0 {
		return errors.Wrapf(driver.ErrInUse, "software: %d back buffer references alive", sc.refs)
	}
	if sc.queue.busy() {
		return errors.Wrap(driver.ErrInUse, "software: resize with work pending on the queue")
	}
	desc := sc.desc
	if count != 0 {
		desc.BufferCount = count
	}
	if width != 0 {
		desc.Width = width
	}
	if height != 0 {
		desc.Height = height
	}
	if format != driver.FormatUnknown {
		desc.Format = format
	}
	old := sc.buffers
	if err := sc.create(desc); err != nil {
		return err
	}
	for _, b := range old {
		b.Destroy()
	}
	return nil
}

func (sc *swapChain) Destroy() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed {
		return
	}
	sc.destroyed = true
	for _, b := range sc.buffers {
		b.Destroy()
	}
}
