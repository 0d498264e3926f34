package engine

import (
	"github.com/spaghettifunk/benzin/engine/renderer/gfx"
)

// Layer is a slice of the application driven by the frame loop. Layers are
// attached in order and detached in reverse order.
type Layer interface {
	OnAttach(ctx *gfx.GraphicsContext) error
	OnUpdate(deltaTime float64) error
	// OnRender records into the frame's command list. The back buffer is in
	// the render target state and the viewport covers it.
	OnRender(cl *gfx.CommandList, frame *gfx.FrameContext) error
	OnResize(width uint32, height uint32) error
	OnDetach()
}

type Initialize func(ctx *gfx.GraphicsContext) error
type Update func(deltaTime float64) error
type Render func(cl *gfx.CommandList, frame *gfx.FrameContext) error
type OnResize func(width uint32, height uint32) error
type Shutdown func()

// Game adapts plain functions to a Layer. Nil functions are skipped.
type Game struct {
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

func (g *Game) OnAttach(ctx *gfx.GraphicsContext) error {
	if g.FnInitialize == nil {
		return nil
	}
	return g.FnInitialize(ctx)
}

func (g *Game) OnUpdate(deltaTime float64) error {
	if g.FnUpdate == nil {
		return nil
	}
	return g.FnUpdate(deltaTime)
}

func (g *Game) OnRender(cl *gfx.CommandList, frame *gfx.FrameContext) error {
	if g.FnRender == nil {
		return nil
	}
	return g.FnRender(cl, frame)
}

func (g *Game) OnResize(width uint32, height uint32) error {
	if g.FnOnResize == nil {
		return nil
	}
	return g.FnOnResize(width, height)
}

func (g *Game) OnDetach() {
	if g.FnShutdown != nil {
		g.FnShutdown()
	}
}
