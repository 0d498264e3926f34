package engine

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/config"
	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/platform"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
	"github.com/spaghettifunk/benzin/engine/renderer/gfx"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Time given back to the OS per loop iteration while minimized.
const suspendedSleepMS = 100

type Engine struct {
	currentStage Stage
	app          *ApplicationConfig
	layers       []Layer
	attached     int
	bus          *core.EventBus
	platform     *platform.Platform
	watcher      *config.Watcher
	ctx          *gfx.GraphicsContext
	swapChain    *gfx.SwapChain
	frames       *gfx.FrameRing
	clock        *core.Clock
	metrics      *core.Metrics
	isRunning    atomic.Bool
	isSuspended  bool
	resized      bool
	captured     bool
	width        uint32
	height       uint32
	lastTime     float64
}

func New(app *ApplicationConfig, layers ...Layer) (*Engine, error) {
	if app == nil {
		app = &ApplicationConfig{}
	}
	if app.Config == nil {
		app.Config = config.Default()
	}
	if err := app.Config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	bus := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageUninitialized,
		app:          app,
		layers:       layers,
		bus:          bus,
		platform:     platform.New(bus),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        app.Config.App.Width,
		height:       app.Config.App.Height,
	}, nil
}

func (e *Engine) Stage() Stage                  { return e.currentStage }
func (e *Engine) Bus() *core.EventBus           { return e.bus }
func (e *Engine) Context() *gfx.GraphicsContext { return e.ctx }
func (e *Engine) SwapChain() *gfx.SwapChain     { return e.swapChain }
func (e *Engine) Frames() *gfx.FrameRing        { return e.frames }
func (e *Engine) Metrics() *core.Metrics        { return e.metrics }
func (e *Engine) Config() *config.Config        { return e.app.Config }

// GetFramebufferSize returns the width and height (in this order) of the
// application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) { return e.width, e.height }

// Initialize opens the window, the graphics context and the swap chain, then
// attaches the layers. Call Shutdown even when it fails.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	cfg := e.app.Config
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return err
	}

	// register some events
	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	e.bus.Register(core.EVENT_CODE_RESIZED, e.onResized)

	if e.app.headless() {
		e.platform.StartupHeadless()
	} else {
		if err := e.platform.Startup(cfg.App.Name, cfg.App.PosX, cfg.App.PosY, cfg.App.Width, cfg.App.Height); err != nil {
			return err
		}
		if w, h := e.platform.FramebufferSize(); w > 0 && h > 0 {
			e.width, e.height = w, h
		}
	}

	if e.app.ConfigPath != "" {
		w, err := config.NewWatcher(e.app.ConfigPath)
		if err != nil {
			core.LogWarn("configuration hot reload disabled: %s", err)
		} else {
			e.watcher = w
		}
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	ctx, err := gfx.Open(cfg.Renderer.Backend, driver.OpenOptions{
		AppName: cfg.App.Name,
		Debug:   cfg.Renderer.Debug,
		Window:  e.platform.Surface(),
	}, e.app.deviceConfig())
	if err != nil {
		return err
	}
	e.ctx = ctx

	sc, err := ctx.Device.CreateSwapChain(ctx.Direct, e.app.swapChainConfig(e.width, e.height))
	if err != nil {
		return err
	}
	e.swapChain = sc
	e.width, e.height = sc.Width(), sc.Height()

	frames, err := gfx.NewFrameRing(sc)
	if err != nil {
		return err
	}
	e.frames = frames

	for _, l := range e.layers {
		if err := l.OnAttach(ctx); err != nil {
			err = errors.Wrapf(err, "attaching %T", l)
			core.LogError(err.Error())
			return err
		}
		e.attached++
	}
	for _, l := range e.layers {
		if err := l.OnResize(e.width, e.height); err != nil {
			return errors.Wrapf(err, "resizing %T", l)
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until the window closes, a quit event arrives,
// the configured frame count is reached or the device is lost.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrapf(core.ErrInvalidState, "engine run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	app := e.app.Config.App
	var runErr error
	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		e.applyConfigChanges()

		if e.isSuspended {
			e.platform.Sleep(suspendedSleepMS)
			continue
		}
		if e.resized || e.swapChain.Stale() {
			if err := e.resize(); err != nil {
				if errors.Is(err, core.ErrSwapchainBooting) {
					core.LogDebug("swap chain not ready: %s", err)
					e.platform.Sleep(1)
					continue
				}
				runErr = e.fail(err)
				break
			}
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		capture := app.Capture != "" && app.Frames > 0 && e.frames.FrameCount()+1 >= app.Frames
		if err := e.frame(delta, capture); err != nil {
			if !errors.Is(err, core.ErrSwapchainBooting) {
				runErr = e.fail(err)
				break
			}
			core.LogDebug("surface out of date, recreating the swap chain")
		}

		// Figure out how long the frame took.
		e.clock.Update()
		e.metrics.Update(e.clock.Elapsed() - currentTime)
		if e.metrics.TotalFrames%300 == 0 {
			fps, ms := e.metrics.Frame()
			core.LogDebug("%.1f fps, %.3f ms/frame", fps, ms)
		}
		e.lastTime = currentTime

		if app.Frames > 0 && e.frames.FrameCount() >= app.Frames {
			core.LogInfo("rendered %d frames, stopping", app.Frames)
			e.isRunning.Store(false)
		}
	}

	if runErr == nil && app.Capture != "" && !e.captured && !e.isSuspended {
		if e.swapChain.Stale() {
			if err := e.resize(); err != nil {
				core.LogWarn("skipping capture: %s", err)
			}
		}
		if err := e.frame(0, true); err != nil {
			runErr = e.fail(err)
		}
	}
	e.clock.Stop()
	fps, ms := e.metrics.Frame()
	core.LogInfo("%d frames rendered (%.1f fps, %.3f ms/frame)", e.frames.FrameCount(), fps, ms)
	return runErr
}

// frame updates the layers, records their work into the next frame context
// and presents it. A capture frame also copies the back buffer to disk once
// the GPU finished it.
func (e *Engine) frame(delta float64, capture bool) error {
	for _, l := range e.layers {
		if err := l.OnUpdate(delta); err != nil {
			return errors.Wrapf(err, "update of %T", l)
		}
	}

	f, err := e.frames.BeginFrame()
	if err != nil {
		return err
	}
	for _, l := range e.layers {
		if err := l.OnRender(f.CommandList, f); err != nil {
			return errors.Wrapf(err, "render of %T", l)
		}
	}

	var rb *gfx.Readback
	if capture {
		if rb, err = e.ctx.Device.NewReadback(f.BackBuffer); err != nil {
			return err
		}
		defer rb.Release()
		if err := rb.Record(f.CommandList); err != nil {
			return err
		}
	}

	err = e.frames.EndFrame()
	// A failed present still submitted the frame.
	if rb != nil && (err == nil || errors.Is(err, core.ErrSwapchainBooting)) {
		if res := e.ctx.Direct.Wait(f.FenceValue); res != gfx.WaitCompleted {
			return errors.Wrapf(res.Err(), "waiting for capture frame %d", f.Index)
		}
		path := e.app.Config.App.Capture
		img := rb.Image()
		if cerr := gfx.WriteBMP(path, img); cerr != nil {
			return cerr
		}
		e.captured = true
		core.LogInfo("captured frame %d (%dx%d) to %s", e.frames.FrameCount(), img.Rect.Dx(), img.Rect.Dy(), path)
	}
	return err
}

func (e *Engine) resize() error {
	e.resized = false
	if err := e.frames.Resize(e.width, e.height); err != nil {
		e.resized = true
		return err
	}
	e.width, e.height = e.swapChain.Width(), e.swapChain.Height()
	for _, l := range e.layers {
		if err := l.OnResize(e.width, e.height); err != nil {
			return errors.Wrapf(err, "resizing %T", l)
		}
	}
	return nil
}

// fail logs a loop ending error. Device loss is broadcast first.
func (e *Engine) fail(err error) error {
	if errors.Is(err, core.ErrDeviceLost) || e.ctx.Removed() != nil {
		e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_DEVICE_LOST, Sender: e, Data: err})
		err = errors.Mark(err, core.ErrDeviceLost)
		core.LogError("graphics device lost, stopping: %s", err)
		return err
	}
	core.LogError("frame loop stopped: %s", err)
	return err
}

// applyConfigChanges applies a reloaded configuration on the frame thread.
func (e *Engine) applyConfigChanges() {
	if e.watcher == nil {
		return
	}
	select {
	case cfg := <-e.watcher.Changes():
		e.applyConfig(cfg)
	default:
	}
}

func (e *Engine) applyConfig(cfg *config.Config) {
	live := *e.app.Config
	if cfg.Log.Level != live.Log.Level {
		if err := core.SetLogLevel(cfg.Log.Level); err != nil {
			core.LogWarn("keeping log level %s: %s", live.Log.Level, err)
		} else {
			live.Log = cfg.Log
			core.LogInfo("log level set to %s", cfg.Log.Level)
		}
	}
	if cfg.Renderer.VSync != live.Renderer.VSync {
		live.Renderer.VSync = cfg.Renderer.VSync
		e.swapChain.SetVSync(cfg.Renderer.VSync)
		core.LogInfo("vsync set to %t", cfg.Renderer.VSync)
	}
	next := cfg.Renderer
	next.VSync = live.Renderer.VSync
	if next != live.Renderer {
		core.LogWarn("renderer settings other than vsync apply on the next start")
	}
	e.app.Config = &live
	e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Sender: e, Data: cfg})
}

// Quit stops the frame loop after the current frame. Safe to call from any
// goroutine.
func (e *Engine) Quit() {
	e.isRunning.Store(false)
}

// Shutdown drains the GPU and releases everything Initialize created, in
// reverse order.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	if e.ctx != nil {
		if err := e.ctx.Flush(); err != nil {
			core.LogWarn("shutting down with GPU work pending: %s", err)
		}
	}
	for i := e.attached - 1; i >= 0; i-- {
		e.layers[i].OnDetach()
	}
	e.attached = 0
	if e.frames != nil {
		e.frames.Destroy()
		e.frames = nil
	}
	if e.swapChain != nil {
		e.swapChain.Destroy()
		e.swapChain = nil
	}
	if e.ctx != nil {
		e.ctx.Destroy()
		e.ctx = nil
	}

	var err error
	if e.watcher != nil {
		err = e.watcher.Close()
		e.watcher = nil
	}
	e.bus.Shutdown()
	if perr := e.platform.Shutdown(); perr != nil {
		err = errors.CombineErrors(err, perr)
	}
	return err
}

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	re, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}

	// Handle minimization
	if re.Width == 0 || re.Height == 0 {
		if !e.isSuspended {
			core.LogInfo("Window minimized, suspending application.")
			e.isSuspended = true
		}
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if re.Width != e.width || re.Height != e.height {
		core.LogDebug("Window resize: %d, %d", re.Width, re.Height)
		e.width, e.height = re.Width, re.Height
		e.resized = true
	}
	return false
}
