package software

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type rootSignature struct {
	desc driver.RootSignatureDesc
}

func (r *rootSignature) Desc() driver.RootSignatureDesc { return r.desc }
func (r *rootSignature) Destroy()                       {}

func (g *GPU) NewRootSignature(desc driver.RootSignatureDesc) (driver.RootSignature, error) {
	var constants uint32
	for i, p := range desc.Parameters {
		switch p.Type {
		case driver.RootParamConstants:
			if p.Num32BitValues == 0 {
				return nil, errors.Newf("software: root parameter %d declares no constants", i)
			}
			constants += p.Num32BitValues
		case driver.RootParamDescriptorTable:
			if len(p.Ranges) == 0 {
				return nil, errors.Newf("software: root parameter %d is an empty descriptor table", i)
			}
		}
	}
	if constants > g.opts.Limits.MaxRootConstants {
		return nil, errors.Newf("software: %d root constants exceed the limit of %d", constants, g.opts.Limits.MaxRootConstants)
	}
	return &rootSignature{desc: desc}, nil
}

type pipeline struct {
	compute  bool
	graphics driver.GraphicsPipelineDesc
	cs       driver.ComputePipelineDesc
}

func (p *pipeline) Compute() bool { return p.compute }
func (p *pipeline) Destroy()      {}

func (g *GPU) NewGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.PipelineState, error) {
	if desc.RootSignature == nil {
		return nil, errors.New("software: graphics pipeline without root signature")
	}
	if len(desc.VS.Code) == 0 {
		return nil, errors.New("software: graphics pipeline without vertex shader")
	}
	if len(desc.RTVFormats) > 8 {
		return nil, errors.Newf("software: %d render targets", len(desc.RTVFormats))
	}
	if desc.DSVFormat != driver.FormatUnknown && !desc.DSVFormat.IsDepth() {
		return nil, errors.Newf("software: depth format %s", desc.DSVFormat)
	}
	return &pipeline{graphics: desc}, nil
}

func (g *GPU) NewComputePipeline(desc driver.ComputePipelineDesc) (driver.PipelineState, error) {
	if desc.RootSignature == nil {
		return nil, errors.New("software: compute pipeline without root signature")
	}
	if len(desc.CS.Code) == 0 {
		return nil, errors.New("software: compute pipeline without compute shader")
	}
	return &pipeline{compute: true, cs: desc}, nil
}

type commandAllocator struct {
	kind driver.QueueKind
	// pending counts submitted lists recorded from this allocator that have
	// not finished executing.
	pending atomic.Int32
}

func (a *commandAllocator) Kind() driver.QueueKind { return a.kind }
func (a *commandAllocator) Destroy()               {}

func (a *commandAllocator) Reset() error {
	if n := a.pending.Load(); n > 0 {
		return errors.Wrapf(driver.ErrInUse, "software: allocator reset with %d lists executing", n)
	}
	return nil
}

func (g *GPU) NewCommandAllocator(kind driver.QueueKind) (driver.CommandAllocator, error) {
	if kind < 0 || kind >= driver.QueueKindCount {
		return nil, errors.Wrapf(driver.ErrNotSupported, "software: queue kind %d", kind)
	}
	return &commandAllocator{kind: kind}, nil
}
