// Package pipeline builds graphics pipelines from Config values and owns the main render pass.
//
// A Config lists its descriptor sets as role-tagged fragments. Profiles derive from one another by
// copying a Config and appending fragments, so related pipelines agree on set indices, and call sites
// never bind by a bare index: they ask the pipeline for the index of a role.
package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/resource"
)

// Target is the render pass, subpass extent and output a pipeline is built against
type Target struct {
	RenderPass core1_0.RenderPass
	Width      int
	Height     int
}

// Pipeline is a graphics pipeline, its layout and the descriptor set layouts of its config. It is
// immutable once created.
type Pipeline struct {
	ctx    *gpu.Context
	config Config
	target Target

	setLayouts []core1_0.DescriptorSetLayout
	layout     *core1_0.PipelineLayout
	pipeline   *core1_0.Pipeline
}

// New returns a pipeline that has not been created yet
func New(ctx *gpu.Context, config Config, target Target) *Pipeline {
	return &Pipeline{ctx: ctx, config: config, target: target}
}

// Build is New followed by Create
func Build(ctx *gpu.Context, config Config, target Target) (*Pipeline, error) {
	p := New(ctx, config, target)
	err := p.Create()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) Name() string { return p.config.Name }

func (p *Pipeline) Config() Config { return p.config }

func (p *Pipeline) Created() bool { return p.pipeline != nil }

// SetIndex resolves a role to its set index, see Config.SetIndex
func (p *Pipeline) SetIndex(role SetRole) (int, error) {
	return p.config.SetIndex(role)
}

// SetLayout returns the descriptor set layout created for a role, for allocating sets bound with it
func (p *Pipeline) SetLayout(role SetRole) (core1_0.DescriptorSetLayout, error) {
	index, err := p.SetIndex(role)
	if err != nil {
		return core1_0.DescriptorSetLayout{}, err
	}
	if index >= len(p.setLayouts) {
		return core1_0.DescriptorSetLayout{}, errors.AssertionFailedf("pipeline %q has no set layouts, it was not created", p.config.Name)
	}
	return p.setLayouts[index], nil
}

// AllocateSet allocates a descriptor set for the layout of a role
func (p *Pipeline) AllocateSet(role SetRole, name string) (*descriptor.Set, error) {
	layout, err := p.SetLayout(role)
	if err != nil {
		return nil, err
	}
	return descriptor.Allocate(p.ctx, name, layout)
}

// Layout returns the pipeline layout
func (p *Pipeline) Layout() core1_0.PipelineLayout {
	if p.layout == nil {
		return core1_0.PipelineLayout{}
	}
	return *p.layout
}

// CreateSetLayout creates the descriptor set layout of one fragment. Layouts created from the same
// fragment are compatible with the set of every pipeline that declares it, so owners of long lived sets
// can allocate them without depending on a pipeline that may be rebuilt. The caller destroys the layout.
func CreateSetLayout(ctx *gpu.Context, fragment Fragment) (core1_0.DescriptorSetLayout, error) {
	bindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(fragment.Bindings))
	for index, binding := range fragment.Bindings {
		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         index,
			DescriptorType:  binding.Type,
			DescriptorCount: 1,
			StageFlags:      binding.Stages,
		})
	}

	setLayout, _, err := ctx.Driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return core1_0.DescriptorSetLayout{}, errors.Wrapf(err, "failed to create %s set layout", fragment.Role)
	}
	return setLayout, nil
}

// Create builds the descriptor set layouts, the pipeline layout and the pipeline. On failure everything
// created so far is released again.
func (p *Pipeline) Create() error {
	if p.Created() {
		return errors.AssertionFailedf("pipeline %q was already created", p.config.Name)
	}

	err := p.config.Validate()
	if err != nil {
		return err
	}

	err = p.create()
	if err != nil {
		return errors.CombineErrors(err, p.Destroy())
	}
	return nil
}

func (p *Pipeline) create() error {
	driver := p.ctx.Driver

	for _, set := range p.config.Sets {
		setLayout, err := CreateSetLayout(p.ctx, set)
		if err != nil {
			return errors.Wrapf(err, "pipeline %q", p.config.Name)
		}
		p.setLayouts = append(p.setLayouts, setLayout)
	}

	layout, _, err := driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: p.setLayouts,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create layout of pipeline %q", p.config.Name)
	}
	p.layout = &layout

	vertShader, err := p.ctx.LoadShader(p.config.VertexShader, gpu.StageVertex)
	if err != nil {
		return errors.Wrapf(err, "pipeline %q", p.config.Name)
	}
	defer driver.DestroyShaderModule(vertShader, nil)

	fragShader, err := p.ctx.LoadShader(p.config.FragmentShader, gpu.StageFragment)
	if err != nil {
		return errors.Wrapf(err, "pipeline %q", p.config.Name)
	}
	defer driver.DestroyShaderModule(fragShader, nil)

	pipelines, _, err := driver.CreateGraphicsPipelines(nil, nil, p.createInfo(vertShader, fragShader))
	if err != nil {
		return errors.Wrapf(err, "failed to create pipeline %q", p.config.Name)
	}
	if len(pipelines) != 1 {
		return errors.AssertionFailedf("pipeline %q: driver returned %d pipelines", p.config.Name, len(pipelines))
	}
	p.pipeline = &pipelines[0]

	return nil
}

func (p *Pipeline) vertexInput() *core1_0.PipelineVertexInputStateCreateInfo {
	switch p.config.Vertex {
	case VertexMesh:
		return &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   resource.VertexBindings(),
			VertexAttributeDescriptions: resource.VertexAttributes(false),
		}
	case VertexPositionOnly:
		return &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   resource.VertexBindings(),
			VertexAttributeDescriptions: resource.VertexAttributes(true),
		}
	}
	return &core1_0.PipelineVertexInputStateCreateInfo{}
}

func (p *Pipeline) colorBlend() *core1_0.PipelineColorBlendStateCreateInfo {
	attachment := core1_0.PipelineColorBlendAttachmentState{
		ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen |
			core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
	}
	if p.config.Blend == BlendAdditive {
		attachment.BlendEnabled = true
		attachment.SrcColorBlendFactor = core1_0.BlendFactorOne
		attachment.DstColorBlendFactor = core1_0.BlendFactorOne
		attachment.ColorBlendOp = core1_0.BlendOpAdd
		attachment.SrcAlphaBlendFactor = core1_0.BlendFactorOne
		attachment.DstAlphaBlendFactor = core1_0.BlendFactorZero
		attachment.AlphaBlendOp = core1_0.BlendOpAdd
	}

	attachments := make([]core1_0.PipelineColorBlendAttachmentState, p.config.ColorAttachments)
	for i := range attachments {
		attachments[i] = attachment
	}

	return &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOp:     core1_0.LogicOpCopy,
		Attachments: attachments,
	}
}

func (p *Pipeline) createInfo(vertShader, fragShader core1_0.ShaderModule) core1_0.GraphicsPipelineCreateInfo {
	extent := core1_0.Extent2D{Width: p.target.Width, Height: p.target.Height}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    p.config.CullMode,
		FrontFace:   core1_0.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	if p.config.Mirrored {
		rasterization.FrontFace = core1_0.FrontFaceClockwise
	}
	if p.config.Depth.Bias {
		rasterization.DepthBiasEnable = true
		rasterization.DepthBiasConstantFactor = 1.25
		rasterization.DepthBiasSlopeFactor = 1.75
	}

	return core1_0.GraphicsPipelineCreateInfo{
		Stages: []core1_0.PipelineShaderStageCreateInfo{
			{
				Stage:  core1_0.StageVertex,
				Module: vertShader,
				Name:   "main",
			},
			{
				Stage:  core1_0.StageFragment,
				Module: fragShader,
				Name:   "main",
			},
		},
		VertexInputState: p.vertexInput(),
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology: core1_0.PrimitiveTopologyTriangleList,
		},
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{
				{
					Width:    float32(p.target.Width),
					Height:   float32(p.target.Height),
					MinDepth: 0,
					MaxDepth: 1,
				},
			},
			Scissors: []core1_0.Rect2D{
				{Extent: extent},
			},
		},
		RasterizationState: rasterization,
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			RasterizationSamples: core1_0.Samples1,
			MinSampleShading:     1.0,
		},
		DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:  p.config.Depth.Test,
			DepthWriteEnable: p.config.Depth.Write,
			DepthCompareOp:   p.config.Depth.Compare,
		},
		ColorBlendState:   p.colorBlend(),
		Layout:            *p.layout,
		RenderPass:        p.target.RenderPass,
		Subpass:           p.config.Subpass,
		BasePipelineIndex: -1,
	}
}

// Bind records binding the pipeline and nothing else
func (p *Pipeline) Bind(cmd core1_0.CommandBuffer) error {
	if !p.Created() {
		return errors.AssertionFailedf("pipeline %q bound before it was created", p.config.Name)
	}
	p.ctx.Driver.CmdBindPipeline(cmd, core1_0.PipelineBindPointGraphics, *p.pipeline)
	return nil
}

// BindSet records binding a descriptor set at the index of role
func (p *Pipeline) BindSet(cmd core1_0.CommandBuffer, role SetRole, set *descriptor.Set) error {
	index, err := p.SetIndex(role)
	if err != nil {
		return err
	}
	if set == nil || !set.Created() {
		return errors.AssertionFailedf("pipeline %q: %s set bound before it was created", p.config.Name, role)
	}

	p.ctx.Driver.CmdBindDescriptorSets(cmd, core1_0.PipelineBindPointGraphics, p.Layout(), index,
		[]core1_0.DescriptorSet{set.Handle()}, nil)
	return nil
}

// BindSets binds sets by role in set order. Sets for roles the pipeline does not declare are skipped.
func (p *Pipeline) BindSets(cmd core1_0.CommandBuffer, sets map[SetRole]*descriptor.Set) error {
	for _, declared := range p.config.Sets {
		set, ok := sets[declared.Role]
		if !ok {
			continue
		}
		err := p.BindSet(cmd, declared.Role, set)
		if err != nil {
			return err
		}
	}
	return nil
}

// Destroy releases the pipeline, its layout and its set layouts. Destroying twice is a no-op.
func (p *Pipeline) Destroy() error {
	driver := p.ctx.Driver

	if p.pipeline != nil {
		driver.DestroyPipeline(*p.pipeline, nil)
		p.pipeline = nil
	}
	if p.layout != nil {
		driver.DestroyPipelineLayout(*p.layout, nil)
		p.layout = nil
	}
	for _, setLayout := range p.setLayouts {
		driver.DestroyDescriptorSetLayout(setLayout, nil)
	}
	p.setLayouts = nil

	return nil
}
