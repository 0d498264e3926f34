package sandbox

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/benzin/engine"
	"github.com/spaghettifunk/benzin/engine/config"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
	"github.com/spaghettifunk/benzin/engine/renderer/software"
)

func runSandbox(t *testing.T, shaderDir string, frames uint64) (*engine.Engine, *Sandbox) {
	t.Helper()
	cfg := config.Default()
	cfg.App.Width, cfg.App.Height = 32, 24
	cfg.App.Frames = frames
	cfg.Renderer.Backend = "software"
	cfg.Renderer.UploadBufferSize = 1 << 16

	s := New(shaderDir)
	e, err := engine.New(&engine.ApplicationConfig{Config: cfg}, s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	return e, s
}

func TestSandboxClearsWithoutShaders(t *testing.T) {
	e, s := runSandbox(t, t.TempDir(), 3)
	assert.Nil(t, s.Pipeline())

	gpu := e.Context().Device.GPU().(*software.GPU)
	stats := gpu.Stats()
	assert.Equal(t, uint64(0), stats.Draws)
	assert.GreaterOrEqual(t, stats.Clears, uint64(3))
	assert.Empty(t, gpu.ValidationErrors())

	img, err := e.Context().ReadTexture(e.Frames().Frame(0).BackBuffer)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 26, G: 26, B: 38, A: 255}, img.RGBAAt(0, 0))
}

func TestSandboxDrawsWithShaders(t *testing.T) {
	dir := t.TempDir()
	// The software driver validates pipelines without compiling them.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sandbox.vert.spv"), []byte{0x03, 0x02, 0x23, 0x07}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sandbox.frag.spv"), []byte{0x03, 0x02, 0x23, 0x07}, 0o644))

	e, s := runSandbox(t, dir, 4)
	require.NotNil(t, s.Pipeline())
	assert.Equal(t, driver.FormatBGRA8Unorm, s.state().pipelineFormat)

	gpu := e.Context().Device.GPU().(*software.GPU)
	assert.Equal(t, uint64(4), gpu.Stats().Draws)
	assert.Empty(t, gpu.ValidationErrors())

	st := s.state()
	assert.NotEqual(t, st.constants.HeapIndex(0), st.constants.HeapIndex(1))
	assert.Equal(t, []uint32{32, 24}, []uint32{st.width, st.height})
	assert.NotEqual(t, mgl32.Mat4{}, st.frame.MVP)
	assert.Equal(t, mgl32.Vec3{0, 0, 2}, s.Camera().Position())
}

func TestSandboxTextureUpload(t *testing.T) {
	e, s := runSandbox(t, t.TempDir(), 1)
	st := s.state()

	img, err := e.Context().ReadTexture(st.texture)
	require.NoError(t, err)
	light := color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	dark := color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}
	assert.Equal(t, light, img.RGBAAt(0, 0))
	assert.Equal(t, dark, img.RGBAAt(checkerCell, 0))
	assert.Equal(t, light, img.RGBAAt(checkerCell, checkerCell))
	assert.Equal(t, driver.StatePixelShaderResource, st.texture.State())
	assert.Equal(t, driver.StateVertexAndConstantBuffer, st.vertices.State())
}

func TestSandboxTextureFromFile(t *testing.T) {
	dir := t.TempDir()
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	src.SetRGBA(3, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	f, err := os.Create(filepath.Join(dir, "sandbox.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	e, s := runSandbox(t, dir, 1)
	st := s.state()
	assert.Equal(t, uint32(4), st.texture.Width())
	assert.Equal(t, uint32(2), st.texture.Height())

	img, err := e.Context().ReadTexture(st.texture)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, img.RGBAAt(3, 1))
}

func TestCheckerboard(t *testing.T) {
	pix := checkerboard(4, 2)
	assert.Len(t, pix, 4*4*4)
	assert.Equal(t, byte(0xe0), pix[0])
	assert.Equal(t, byte(0x30), pix[2*4])
	assert.Equal(t, byte(0xff), pix[3])
}
