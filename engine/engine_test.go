package engine

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/benzin/engine/config"
	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/gfx"
	"github.com/spaghettifunk/benzin/engine/renderer/software"
)

type recordingLayer struct {
	attached, updates, renders, detached int
	sizes                                [][2]uint32
	clear                                [4]float32
	onUpdate                             func(n int) error
}

func (l *recordingLayer) OnAttach(ctx *gfx.GraphicsContext) error {
	l.attached++
	return nil
}

func (l *recordingLayer) OnUpdate(deltaTime float64) error {
	l.updates++
	if l.onUpdate != nil {
		return l.onUpdate(l.updates)
	}
	return nil
}

func (l *recordingLayer) OnRender(cl *gfx.CommandList, frame *gfx.FrameContext) error {
	l.renders++
	cl.ClearRenderTarget(frame.RenderTarget, l.clear)
	return nil
}

func (l *recordingLayer) OnResize(width uint32, height uint32) error {
	l.sizes = append(l.sizes, [2]uint32{width, height})
	return nil
}

func (l *recordingLayer) OnDetach() { l.detached++ }

func testConfig(frames uint64) *config.Config {
	cfg := config.Default()
	cfg.App.Width, cfg.App.Height = 8, 8
	cfg.App.Frames = frames
	cfg.Renderer.Backend = "software"
	cfg.Renderer.UploadBufferSize = 1 << 16
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, layers ...Layer) *Engine {
	t.Helper()
	e, err := New(&ApplicationConfig{Config: cfg}, layers...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	require.NoError(t, e.Initialize())
	return e
}

func TestHeadlessRunCapture(t *testing.T) {
	cfg := testConfig(4)
	cfg.App.Capture = filepath.Join(t.TempDir(), "frame.bmp")
	layer := &recordingLayer{clear: [4]float32{1, 0, 0, 1}}
	e := newTestEngine(t, cfg, layer)

	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, 1, layer.attached)
	assert.Equal(t, [][2]uint32{{8, 8}}, layer.sizes)

	require.NoError(t, e.Run())
	assert.Equal(t, 4, layer.updates)
	assert.Equal(t, 4, layer.renders)
	assert.Equal(t, uint64(4), e.Frames().FrameCount())
	assert.Equal(t, uint64(4), e.Metrics().TotalFrames)

	f, err := os.Open(cfg.App.Capture)
	require.NoError(t, err)
	defer f.Close()
	img, err := bmp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	r, g, b, _ := img.At(4, 4).RGBA()
	assert.Equal(t, []uint32{255, 0, 0}, []uint32{r >> 8, g >> 8, b >> 8})

	gpu := e.Context().Device.GPU().(*software.GPU)
	assert.Empty(t, gpu.ValidationErrors())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, layer.detached)
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestCaptureOnExit(t *testing.T) {
	cfg := testConfig(0)
	cfg.App.Capture = filepath.Join(t.TempDir(), "exit.bmp")
	layer := &recordingLayer{clear: [4]float32{0, 1, 0, 1}}
	var e *Engine
	layer.onUpdate = func(n int) error {
		if n == 2 {
			e.Bus().Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		}
		return nil
	}
	e = newTestEngine(t, cfg, layer)

	require.NoError(t, e.Run())
	// two loop frames plus the capture frame
	assert.Equal(t, 3, layer.renders)

	img, err := e.Context().ReadTexture(e.Frames().Frame(0).BackBuffer)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, img.RGBAAt(0, 0))
	_, err = os.Stat(cfg.App.Capture)
	assert.NoError(t, err)
}

func TestRunStopsOnDeviceLoss(t *testing.T) {
	layer := &recordingLayer{}
	var e *Engine
	layer.onUpdate = func(n int) error {
		if n == 3 {
			e.Context().Device.GPU().(*software.GPU).Lose("test")
		}
		return nil
	}
	e = newTestEngine(t, testConfig(0), layer)

	var lost error
	e.Bus().Register(core.EVENT_CODE_DEVICE_LOST, func(ctx core.EventContext) bool {
		lost, _ = ctx.Data.(error)
		return true
	})

	err := e.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDeviceLost))
	assert.Error(t, lost)
	assert.Equal(t, 3, layer.updates)
	assert.GreaterOrEqual(t, layer.renders, 2)
	assert.Less(t, e.Frames().FrameCount(), uint64(3))
}

func TestResizeEvents(t *testing.T) {
	layer := &recordingLayer{}
	e := newTestEngine(t, testConfig(1), layer)

	e.Bus().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 0, Height: 0}})
	assert.True(t, e.isSuspended)
	e.Bus().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 16, Height: 12}})
	assert.False(t, e.isSuspended)
	assert.True(t, e.resized)

	require.NoError(t, e.Run())
	assert.Equal(t, uint32(16), e.SwapChain().Width())
	assert.Equal(t, uint32(12), e.SwapChain().Height())
	assert.Equal(t, [][2]uint32{{8, 8}, {16, 12}}, layer.sizes)
	w, h := e.GetFramebufferSize()
	assert.Equal(t, []uint32{16, 12}, []uint32{w, h})
	assert.Equal(t, 1, layer.renders)
}

func TestApplyConfig(t *testing.T) {
	t.Cleanup(func() { _ = core.SetLogLevel("info") })
	e := newTestEngine(t, testConfig(0))

	var reloaded *config.Config
	e.Bus().Register(core.EVENT_CODE_CONFIG_RELOADED, func(ctx core.EventContext) bool {
		reloaded, _ = ctx.Data.(*config.Config)
		return true
	})

	next := testConfig(0)
	next.Log.Level = "debug"
	next.Renderer.VSync = false
	next.Renderer.BackBuffers = 3
	e.applyConfig(next)

	assert.Same(t, next, reloaded)
	assert.Equal(t, "debug", core.LogLevel())
	assert.False(t, e.Config().Renderer.VSync)
	assert.False(t, e.SwapChain().Config().VSync)
	assert.Equal(t, uint32(2), e.Config().Renderer.BackBuffers, "buffer count needs a restart")

	bad := testConfig(0)
	bad.Log.Level = "loud"
	e.applyConfig(bad)
	assert.Equal(t, "debug", e.Config().Log.Level)
}

func TestEngineMisuse(t *testing.T) {
	cfg := testConfig(0)
	cfg.Renderer.BackBuffers = 1
	_, err := New(&ApplicationConfig{Config: cfg})
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	e, err := New(&ApplicationConfig{Config: testConfig(1)})
	require.NoError(t, err)
	assert.True(t, errors.Is(e.Run(), core.ErrInvalidState))
	assert.NoError(t, e.Shutdown())
}

func TestGameAdapter(t *testing.T) {
	var calls []string
	g := &Game{
		FnUpdate: func(deltaTime float64) error {
			calls = append(calls, "update")
			return nil
		},
		FnShutdown: func() { calls = append(calls, "shutdown") },
	}
	e := newTestEngine(t, testConfig(2), g)
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, []string{"update", "update", "shutdown"}, calls)
}
