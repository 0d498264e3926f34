// Package software implements the driver interface on the CPU. Resources are
// plain byte slices, command lists are executed in submission order by one
// goroutine per queue, and every barrier is checked against the state the
// resource is actually in, the way a debug layer would. Draws and dispatches
// are validated and counted but not rasterized.
package software

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

const driverName = "software"

func init() {
	driver.Register(New(DefaultOptions()))
}

// Options tune the simulated device.
type Options struct {
	// IncrementSizes is the descriptor stride reported for each heap kind.
	IncrementSizes [driver.HeapKindCount]uint32
	// ExecutionDelay is slept by the GPU goroutine before each command list,
	// so tests can keep work in flight.
	ExecutionDelay time.Duration
	Limits         driver.Limits
}

func DefaultOptions() Options {
	return Options{
		IncrementSizes: [driver.HeapKindCount]uint32{32, 32, 32, 8},
		Limits:         driver.DefaultLimits(),
	}
}

// Driver opens software GPUs.
type Driver struct {
	mu   sync.Mutex
	opts Options
	gpus []*GPU
}

// New returns a driver that is not registered. Tests use it to open devices
// with non default options.
func New(opts Options) *Driver {
	return &Driver{opts: opts}
}

func (d *Driver) Name() string { return driverName }

func (d *Driver) Open(opts driver.OpenOptions) (driver.GPU, error) {
	return d.OpenGPU()
}

// OpenGPU is Open with the concrete type.
func (d *Driver) OpenGPU() (*GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, inc := range d.opts.IncrementSizes {
		if inc == 0 {
			return nil, errors.Wrap(driver.ErrNotSupported, "software: descriptor increment size must not be zero")
		}
	}
	g := newGPU(d, d.opts)
	d.gpus = append(d.gpus, g)
	core.LogDebug("software GPU opened (delay %s)", d.opts.ExecutionDelay)
	return g, nil
}

func (d *Driver) Close() {
	d.mu.Lock()
	gpus := d.gpus
	d.gpus = nil
	d.mu.Unlock()
	for _, g := range gpus {
		g.Close()
	}
}

// Stats counts the work the GPU has executed.
type Stats struct {
	ExecutedLists uint64
	Barriers      uint64
	Copies        uint64
	Clears        uint64
	Draws         uint64
	Dispatches    uint64
	Presents      uint64
}

// GPU is the simulated device.
type GPU struct {
	drv  *Driver
	opts Options

	// exec serializes command execution across queues.
	exec sync.Mutex

	heaps   heapSpace
	memory  addressSpace
	queues  [driver.QueueKindCount]*queue
	closed  atomic.Bool
	lost    atomic.Pointer[error]
	lostCh  chan struct{}
	lostOne sync.Once

	statsMu sync.Mutex
	stats   Stats

	validationMu sync.Mutex
	validation   []string
}

func newGPU(d *Driver, opts Options) *GPU {
	g := &GPU{
		drv:    d,
		opts:   opts,
		lostCh: make(chan struct{}),
	}
	g.heaps.init()
	g.memory.init()
	for k := driver.QueueKind(0); k < driver.QueueKindCount; k++ {
		g.queues[k] = newQueue(g, k)
	}
	return g
}

func (g *GPU) Driver() driver.Driver { return g.drv }

func (g *GPU) Name() string { return "Software Rasterizer" }

func (g *GPU) Limits() driver.Limits { return g.opts.Limits }

func (g *GPU) DescriptorIncrementSize(kind driver.HeapKind) uint32 {
	return g.opts.IncrementSizes[kind]
}

func (g *GPU) CopyableFootprints(desc driver.ResourceDesc, first, num uint32, base uint64) driver.Footprints {
	return driver.ComputeFootprints(g.opts.Limits, desc, first, num, base)
}

func (g *GPU) Queue(kind driver.QueueKind) (driver.Queue, error) {
	if kind < 0 || kind >= driver.QueueKindCount {
		return nil, errors.Wrapf(driver.ErrNotSupported, "software: queue kind %d", kind)
	}
	return g.queues[kind], nil
}

// Lose simulates a device removal. Pending and future work is dropped and
// every wait returns driver.ErrDeviceLost.
func (g *GPU) Lose(reason string) {
	g.lostOne.Do(func() {
		err := errors.Wrapf(driver.ErrDeviceLost, "software: %s", reason)
		g.lost.Store(&err)
		close(g.lostCh)
		core.LogError("software GPU lost: %s", reason)
	})
}

func (g *GPU) Removed() error {
	if p := g.lost.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns a snapshot of the execution counters.
func (g *GPU) Stats() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.stats
}

func (g *GPU) count(fn func(s *Stats)) {
	g.statsMu.Lock()
	fn(&g.stats)
	g.statsMu.Unlock()
}

// ValidationErrors returns the messages reported so far by the simulated
// debug layer.
func (g *GPU) ValidationErrors() []string {
	g.validationMu.Lock()
	defer g.validationMu.Unlock()
	return append([]string(nil), g.validation...)
}

// ResetValidation clears the reported messages.
func (g *GPU) ResetValidation() {
	g.validationMu.Lock()
	g.validation = nil
	g.validationMu.Unlock()
}

func (g *GPU) validate(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	g.validationMu.Lock()
	g.validation = append(g.validation, msg)
	g.validationMu.Unlock()
	core.LogWarn("software validation: %s", msg)
}

// Idle blocks until every queue drained its submissions.
func (g *GPU) Idle() {
	for _, q := range g.queues {
		q.idle()
	}
}

func (g *GPU) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	for _, q := range g.queues {
		q.stop()
	}
}

var (
	_ driver.GPU            = (*GPU)(nil)
	_ driver.CommandList    = (*commandList)(nil)
	_ driver.Queue          = (*queue)(nil)
	_ driver.Fence          = (*fence)(nil)
	_ driver.SwapChain      = (*swapChain)(nil)
	_ driver.Resource       = (*backBuffer)(nil)
	_ driver.DescriptorHeap = (*descriptorHeap)(nil)
)
