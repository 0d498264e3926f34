package gfx

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// RootSignatureConfig is the layout of the arguments shaders receive.
type RootSignatureConfig = driver.RootSignatureDesc

type RootSignature struct {
	native driver.RootSignature
	config RootSignatureConfig
}

func (r *RootSignature) Native() driver.RootSignature { return r.native }
func (r *RootSignature) Config() RootSignatureConfig  { return r.config }

func (r *RootSignature) Destroy() {
	if r.native != nil {
		r.native.Destroy()
		r.native = nil
	}
}

// BindlessRootSignature declares a single block of root constants at slot 0
// through which shaders receive heap indices, plus direct heap indexing.
func BindlessRootSignature(numConstants uint32) RootSignatureConfig {
	return RootSignatureConfig{
		Parameters: []driver.RootParameter{{
			Type:           driver.RootParamConstants,
			Visibility:     driver.VisibilityAll,
			Num32BitValues: numConstants,
		}},
		Flags: driver.RootSignatureBindless | driver.RootSignatureAllowInputLayout,
	}
}

func (d *Device) CreateRootSignature(config RootSignatureConfig) (*RootSignature, error) {
	native, err := d.gpu.NewRootSignature(config)
	if err != nil {
		return nil, d.fail(err, "failed to create root signature with %d parameters", len(config.Parameters))
	}
	return &RootSignature{native: native, config: config}, nil
}

// GraphicsPipelineConfig mirrors the driver description with engine level
// root signatures.
type GraphicsPipelineConfig struct {
	Name          string
	RootSignature *RootSignature
	VS            []byte
	PS            []byte
	InputLayout   []driver.InputElement
	Topology      driver.PrimitiveTopology
	Rasterizer    driver.RasterizerDesc
	DepthStencil  driver.DepthStencilDesc
	Blend         driver.BlendDesc
	RTVFormats    []driver.Format
	DSVFormat     driver.Format
}

type ComputePipelineConfig struct {
	Name          string
	RootSignature *RootSignature
	CS            []byte
}

type PipelineState struct {
	name          string
	native        driver.PipelineState
	rootSignature *RootSignature
	compute       bool
}

func (p *PipelineState) Name() string                  { return p.name }
func (p *PipelineState) Native() driver.PipelineState  { return p.native }
func (p *PipelineState) RootSignature() *RootSignature { return p.rootSignature }
func (p *PipelineState) IsCompute() bool               { return p.compute }

func (p *PipelineState) Destroy() {
	if p.native != nil {
		p.native.Destroy()
		p.native = nil
	}
}

func (d *Device) CreateGraphicsPipelineState(config GraphicsPipelineConfig) (*PipelineState, error) {
	if config.RootSignature == nil {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "pipeline %q has no root signature", config.Name)
	}
	native, err := d.gpu.NewGraphicsPipeline(driver.GraphicsPipelineDesc{
		RootSignature: config.RootSignature.native,
		VS:            driver.ShaderBytecode{Code: config.VS, Entry: "main"},
		PS:            driver.ShaderBytecode{Code: config.PS, Entry: "main"},
		InputLayout:   config.InputLayout,
		Topology:      config.Topology,
		Rasterizer:    config.Rasterizer,
		DepthStencil:  config.DepthStencil,
		Blend:         config.Blend,
		RTVFormats:    config.RTVFormats,
		DSVFormat:     config.DSVFormat,
		SampleCount:   1,
	})
	if err != nil {
		return nil, d.fail(err, "failed to create graphics pipeline %q", config.Name)
	}
	core.LogDebug("graphics pipeline %s created", config.Name)
	return &PipelineState{name: config.Name, native: native, rootSignature: config.RootSignature}, nil
}

func (d *Device) CreateComputePipelineState(config ComputePipelineConfig) (*PipelineState, error) {
	if config.RootSignature == nil {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "pipeline %q has no root signature", config.Name)
	}
	native, err := d.gpu.NewComputePipeline(driver.ComputePipelineDesc{
		RootSignature: config.RootSignature.native,
		CS:            driver.ShaderBytecode{Code: config.CS, Entry: "main"},
	})
	if err != nil {
		return nil, d.fail(err, "failed to create compute pipeline %q", config.Name)
	}
	core.LogDebug("compute pipeline %s created", config.Name)
	return &PipelineState{name: config.Name, native: native, rootSignature: config.RootSignature, compute: true}, nil
}
