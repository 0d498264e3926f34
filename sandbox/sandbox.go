package sandbox

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/benzin/engine"
	"github.com/spaghettifunk/benzin/engine/assets"
	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/components"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
	"github.com/spaghettifunk/benzin/engine/renderer/gfx"
)

const (
	// One constant buffer element per possible back buffer.
	maxBackBuffers = 16
	checkerSize    = 64
	checkerCell    = 8
)

// Root constants read by the shaders, in order.
const (
	rootFrameConstants = iota
	rootTexture
	rootSampler
	rootConstantCount
)

var clearColor = mgl32.Vec4{0.1, 0.1, 0.15, 1}

// frameConstants matches the uniform block of shaders/sandbox.vert.
type frameConstants struct {
	MVP  mgl32.Mat4
	Tint mgl32.Vec4
}

type vertex struct {
	Position mgl32.Vec2
	UV       mgl32.Vec2
}

var triangle = []vertex{
	{Position: mgl32.Vec2{0, 0.6}, UV: mgl32.Vec2{0.5, 0}},
	{Position: mgl32.Vec2{0.6, -0.6}, UV: mgl32.Vec2{1, 1}},
	{Position: mgl32.Vec2{-0.6, -0.6}, UV: mgl32.Vec2{0, 1}},
}

var inputLayout = []driver.InputElement{
	{Semantic: "POSITION", Format: driver.FormatRG32Float, Offset: 0},
	{Semantic: "TEXCOORD", Format: driver.FormatRG32Float, Offset: 8},
}

type Sandbox struct {
	*engine.Game
}

type sandboxState struct {
	assets *assets.Manager

	ctx           *gfx.GraphicsContext
	rootSignature *gfx.RootSignature
	pipeline      *gfx.PipelineState
	// pipelineFormat is the back buffer format the pipeline was built for.
	pipelineFormat driver.Format
	vs, ps         []byte

	constants  *gfx.PerFrameBuffer
	vertices   *gfx.BufferResource
	texture    *gfx.TextureResource
	textureSRV *gfx.ShaderResourceView
	sampler    *gfx.Sampler

	camera  *components.Camera
	width   uint32
	height  uint32
	elapsed float64
	frame   frameConstants
}

// New creates the sandbox layer. Compiled shaders and an optional sandbox.png
// texture are looked up in dir; without shaders the sandbox only clears the
// screen.
func New(dir string) *Sandbox {
	s := &Sandbox{
		Game: &engine.Game{
			Name:  "sandbox",
			State: &sandboxState{assets: assets.NewManager(dir), camera: components.NewCamera()},
		},
	}
	s.FnInitialize = s.Initialize
	s.FnUpdate = s.Update
	s.FnRender = s.Render
	s.FnOnResize = s.OnResize
	s.FnShutdown = s.Shutdown
	return s
}

func (s *Sandbox) state() *sandboxState {
	return s.State.(*sandboxState)
}

// Pipeline is nil until shaders were found and the first frame was recorded.
func (s *Sandbox) Pipeline() *gfx.PipelineState {
	return s.state().pipeline
}

func (s *Sandbox) Camera() *components.Camera {
	return s.state().camera
}

func (s *Sandbox) Initialize(ctx *gfx.GraphicsContext) error {
	core.LogInfo("initializing sandbox...")
	st := s.state()
	st.ctx = ctx
	st.camera.SetPosition(mgl32.Vec3{0, 0, 2})
	d := ctx.Device

	var err error
	if st.rootSignature, err = d.CreateRootSignature(gfx.BindlessRootSignature(rootConstantCount)); err != nil {
		return err
	}
	size := uint32(binary.Size(frameConstants{}))
	if st.constants, err = d.CreatePerFrameBuffer("sandbox-frame-constants", size, maxBackBuffers); err != nil {
		return err
	}

	vertexSize := uint32(binary.Size(vertex{}))
	if st.vertices, err = d.CreateBuffer(gfx.BufferConfig{
		Name:         "sandbox-triangle",
		ElementSize:  vertexSize,
		ElementCount: uint32(len(triangle)),
	}, gfx.BufferFlagVertexBuffer); err != nil {
		return err
	}
	pixels, err := st.loadTexture()
	if err != nil {
		return err
	}
	if st.texture, err = d.CreateTexture(gfx.TextureConfig{
		Name:      "sandbox-texture",
		Width:     pixels.Width,
		Height:    pixels.Height,
		ArraySize: 1,
		MipLevels: 1,
		Format:    driver.FormatRGBA8Unorm,
	}, nil); err != nil {
		return err
	}

	vertices := make([]byte, 0, len(triangle)*int(vertexSize))
	for _, v := range triangle {
		vertices, err = binary.Append(vertices, binary.LittleEndian, v)
		if err != nil {
			return errors.Wrap(err, "encoding vertices")
		}
	}
	err = ctx.Immediate("sandbox-upload", func(cl *gfx.CommandList) error {
		if err := cl.UploadToBuffer(st.vertices, 0, vertices); err != nil {
			return err
		}
		if err := cl.UploadToTexture(st.texture, 0, []gfx.SubresourceData{{Data: pixels.Pixels}}); err != nil {
			return err
		}
		cl.Transition(st.vertices, driver.StateVertexAndConstantBuffer)
		cl.Transition(st.texture, driver.StatePixelShaderResource)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "sandbox upload")
	}

	if st.textureSRV, err = st.texture.CreateSRV(); err != nil {
		return err
	}
	if st.sampler, err = d.CreateSampler(driver.SamplerDesc{
		Filter:   driver.FilterPoint,
		AddressU: driver.AddressWrap,
		AddressV: driver.AddressWrap,
		AddressW: driver.AddressWrap,
		MaxLOD:   math.MaxFloat32,
	}); err != nil {
		return err
	}

	st.vs, st.ps, err = st.loadShaders()
	switch {
	case errors.Is(err, os.ErrNotExist):
		core.LogWarn("no compiled shaders in %s, run `mage build:shaders`; clearing only", st.assets.Dir())
	case err != nil:
		return err
	}
	return nil
}

func (st *sandboxState) loadShaders() ([]byte, []byte, error) {
	vs, err := st.assets.Shader("sandbox.vert.spv")
	if err != nil {
		return nil, nil, err
	}
	ps, err := st.assets.Shader("sandbox.frag.spv")
	if err != nil {
		return nil, nil, err
	}
	return vs, ps, nil
}

// loadTexture falls back to a checkerboard when there is no sandbox.png.
func (st *sandboxState) loadTexture() (*assets.Image, error) {
	img, err := st.assets.Image("sandbox.png")
	if errors.Is(err, os.ErrNotExist) {
		return &assets.Image{
			Width:  checkerSize,
			Height: checkerSize,
			Pixels: checkerboard(checkerSize, checkerCell),
		}, nil
	}
	return img, err
}

// checkerboard returns size x size RGBA8 pixels alternating every cell pixels.
func checkerboard(size, cell int) []byte {
	pix := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := byte(0x30)
			if (x/cell+y/cell)%2 == 0 {
				v = 0xe0
			}
			i := (y*size + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = v, v, v, 0xff
		}
	}
	return pix
}

func (s *Sandbox) Update(deltaTime float64) error {
	st := s.state()
	st.elapsed += deltaTime

	aspect := float32(1)
	if st.height > 0 {
		aspect = float32(st.width) / float32(st.height)
	}
	projection := mgl32.Perspective(mgl32.DegToRad(60), aspect, 0.1, 100)
	model := mgl32.HomogRotate3DY(float32(st.elapsed))
	st.frame.MVP = projection.Mul4(st.camera.View()).Mul4(model)

	pulse := float32(0.75 + 0.25*math.Sin(st.elapsed*2))
	st.frame.Tint = mgl32.Vec4{pulse, 1, pulse, 1}
	return nil
}

func (s *Sandbox) Render(cl *gfx.CommandList, frame *gfx.FrameContext) error {
	st := s.state()
	cl.ClearRenderTarget(frame.RenderTarget, [4]float32(clearColor))
	if st.vs == nil {
		return nil
	}
	if err := s.ensurePipeline(frame.BackBuffer.Format()); err != nil {
		return err
	}
	if err := st.constants.WriteValue(frame.Index, st.frame); err != nil {
		return err
	}

	cl.SetPipelineState(st.pipeline)
	cl.SetDescriptorHeaps()
	cl.SetGraphicsRootConstants(0, []uint32{
		rootFrameConstants: st.constants.HeapIndex(frame.Index),
		rootTexture:        st.textureSRV.HeapIndex(),
		rootSampler:        st.sampler.HeapIndex(),
	}, 0)
	cl.SetRenderTargets([]*gfx.RenderTargetView{frame.RenderTarget}, nil)
	cl.IASetPrimitiveTopology(driver.TopologyTriangleList)
	cl.IASetVertexBuffer(0, st.vertices)
	cl.DrawVertexed(uint32(len(triangle)), 1, 0, 0)
	return cl.Err()
}

// ensurePipeline builds the triangle pipeline for the back buffer format.
func (s *Sandbox) ensurePipeline(format driver.Format) error {
	st := s.state()
	if st.pipeline != nil && st.pipelineFormat == format {
		return nil
	}
	if st.pipeline != nil {
		if err := st.ctx.Direct.Flush(); err != nil {
			return err
		}
		st.pipeline.Destroy()
		st.pipeline = nil
	}
	pso, err := st.ctx.Device.CreateGraphicsPipelineState(gfx.GraphicsPipelineConfig{
		Name:          "sandbox-triangle",
		RootSignature: st.rootSignature,
		VS:            st.vs,
		PS:            st.ps,
		InputLayout:   inputLayout,
		Topology:      driver.TopologyTriangleList,
		Rasterizer:    driver.RasterizerDesc{Cull: driver.CullNone, DepthClipEnable: true},
		RTVFormats:    []driver.Format{format},
	})
	if err != nil {
		return err
	}
	st.pipeline, st.pipelineFormat = pso, format
	core.LogDebug("sandbox pipeline built for %s", format)
	return nil
}

func (s *Sandbox) OnResize(width uint32, height uint32) error {
	st := s.state()
	st.width, st.height = width, height
	return nil
}

func (s *Sandbox) Shutdown() {
	st := s.state()
	if st.pipeline != nil {
		st.pipeline.Destroy()
		st.pipeline = nil
	}
	if st.constants != nil {
		st.constants.Release()
	}
	if st.vertices != nil {
		st.vertices.Release()
	}
	if st.texture != nil {
		st.texture.Release()
	}
	if st.rootSignature != nil {
		st.rootSignature.Destroy()
	}
	core.LogInfo("sandbox shut down")
}
