// Package shadow renders the depth of the scene from the directional light into a shadow map the
// lighting subpass samples with depth comparison.
package shadow

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
)

const (
	DefaultResolution = 2048
	// DefaultExtent is the half size, in world units, of the area around the focus the map covers
	DefaultExtent = 25
	DefaultDepth  = 100
)

type Options struct {
	// Resolution is the width and height of the shadow map. Zero means DefaultResolution.
	Resolution int
	// Extent is the half size of the square the light's orthographic projection covers. Zero means
	// DefaultExtent.
	Extent float32
	// Depth is the distance from the light's eye to its far plane. Zero means DefaultDepth.
	Depth float32
}

func (o Options) withDefaults() Options {
	if o.Resolution == 0 {
		o.Resolution = DefaultResolution
	}
	if o.Extent == 0 {
		o.Extent = DefaultExtent
	}
	if o.Depth == 0 {
		o.Depth = DefaultDepth
	}
	return o
}

// Geometry draws the depth of everything that casts shadows. Implementations bind their own instance
// sets through the pipeline they are handed.
type Geometry interface {
	RenderGeometry(cmd core1_0.CommandBuffer, p *pipeline.Pipeline) error
}

// Caster owns the shadow render pass, its framebuffer, the shadow map and the shadow cast pipeline.
// Everything but the light matrix is created on the first RenderShadows call.
type Caster struct {
	ctx     *gpu.Context
	options Options

	initialized bool
	renderPass  *core1_0.RenderPass
	framebuffer *core1_0.Framebuffer
	depth       *resource.Texture
	pipeline    *pipeline.Pipeline

	lightSpace mgl32.Mat4
}

// New returns an uninitialized caster
func New(ctx *gpu.Context, options Options) (*Caster, error) {
	options = options.withDefaults()
	if options.Resolution < 0 {
		return nil, errors.Newf("invalid shadow map resolution %d", options.Resolution)
	}

	return &Caster{
		ctx:        ctx,
		options:    options,
		lightSpace: mgl32.Ident4(),
	}, nil
}

func (c *Caster) Initialized() bool { return c.initialized }

func (c *Caster) Resolution() int { return c.options.Resolution }

// Map returns the shadow map, or nil before the first RenderShadows call
func (c *Caster) Map() *resource.Texture { return c.depth }

// LightSpace returns the view projection matrix of the light, in Vulkan clip space
func (c *Caster) LightSpace() mgl32.Mat4 { return c.lightSpace }

// Pipeline returns the shadow cast pipeline, or nil before the first RenderShadows call
func (c *Caster) Pipeline() *pipeline.Pipeline { return c.pipeline }

// LightSpaceMatrix looks at focus from the direction the light comes from and projects orthographically
// onto a square of half size extent
func LightSpaceMatrix(direction, focus mgl32.Vec3, extent, depth float32) mgl32.Mat4 {
	direction = direction.Normalize()
	eye := focus.Sub(direction.Mul(depth / 2))

	up := mgl32.Vec3{0, 1, 0}
	if mgl32.Abs(direction.Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}

	view := mgl32.LookAtV(eye, focus, up)
	projection := mgl32.Ortho(-extent, extent, -extent, extent, 0, depth)
	return camera.VulkanClip.Mul4(projection).Mul4(view)
}

// UpdateLight recomputes the light matrix for a light shining along direction, centered on focus
func (c *Caster) UpdateLight(direction, focus mgl32.Vec3) error {
	if direction.Len() == 0 {
		return errors.New("directional light has no direction")
	}
	c.lightSpace = LightSpaceMatrix(direction, focus, c.options.Extent, c.options.Depth)
	return nil
}

func (c *Caster) renderPassInfo() core1_0.RenderPassCreateInfo {
	return core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         c.ctx.DepthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 0,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass:    core1_0.SubpassExternal,
				DstSubpass:    0,
				SrcStageMask:  core1_0.PipelineStageFragmentShader,
				SrcAccessMask: core1_0.AccessShaderRead,
				DstStageMask:  core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessDepthStencilAttachmentWrite,
			},
			{
				SrcSubpass:    0,
				DstSubpass:    core1_0.SubpassExternal,
				SrcStageMask:  core1_0.PipelineStageLateFragmentTests,
				SrcAccessMask: core1_0.AccessDepthStencilAttachmentWrite,
				DstStageMask:  core1_0.PipelineStageFragmentShader,
				DstAccessMask: core1_0.AccessShaderRead,
			},
		},
	}
}

func (c *Caster) initialize() error {
	resolution := c.options.Resolution

	depth, err := resource.Create(c.ctx, resource.CreateInfo{
		Name:    "shadow map",
		Width:   resolution,
		Height:  resolution,
		Format:  c.ctx.DepthFormat,
		Usage:   core1_0.ImageUsageDepthStencilAttachment | core1_0.ImageUsageSampled,
		Sampler: resource.SamplerDepthCompare,
	})
	if err != nil {
		return err
	}
	c.depth = depth

	renderPass, _, err := c.ctx.Driver.CreateRenderPass(nil, c.renderPassInfo())
	if err != nil {
		return errors.Wrap(err, "failed to create shadow render pass")
	}
	c.renderPass = &renderPass

	framebuffer, _, err := c.ctx.Driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  renderPass,
		Attachments: []core1_0.ImageView{depth.View()},
		Width:       resolution,
		Height:      resolution,
		Layers:      1,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create shadow framebuffer")
	}
	c.framebuffer = &framebuffer

	c.pipeline, err = pipeline.Build(c.ctx, pipeline.ShadowCast(), pipeline.Target{
		RenderPass: renderPass,
		Width:      resolution,
		Height:     resolution,
	})
	if err != nil {
		return err
	}

	c.initialized = true
	c.ctx.Logger.Debug("shadow caster initialized", slog.Int("resolution", resolution))
	return nil
}

// RenderShadows records the shadow pass into cmd, initializing the caster on first use. The shadow map
// is left in ShaderReadOnlyOptimal for the lighting subpass. globals is bound at the global set role.
func (c *Caster) RenderShadows(geometry Geometry, cmd core1_0.CommandBuffer, globals *descriptor.Set) error {
	if !c.initialized {
		err := c.initialize()
		if err != nil {
			return errors.CombineErrors(errors.Wrap(err, "failed to initialize shadow caster"), c.Destroy())
		}
	}

	err := c.depth.Transition(cmd, core1_0.ImageLayoutDepthStencilAttachmentOptimal)
	if err != nil {
		return err
	}

	resolution := c.options.Resolution
	err = c.ctx.Driver.CmdBeginRenderPass(cmd, core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  *c.renderPass,
		Framebuffer: *c.framebuffer,
		RenderArea: core1_0.Rect2D{
			Extent: core1_0.Extent2D{Width: resolution, Height: resolution},
		},
		ClearValues: []core1_0.ClearValue{
			core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin shadow render pass")
	}

	err = c.pipeline.Bind(cmd)
	if err == nil {
		err = c.pipeline.BindSet(cmd, pipeline.RoleGlobal, globals)
	}
	if err == nil {
		err = geometry.RenderGeometry(cmd, c.pipeline)
	}
	c.ctx.Driver.CmdEndRenderPass(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to record shadow geometry")
	}

	return c.depth.Transition(cmd, core1_0.ImageLayoutShaderReadOnlyOptimal)
}

// Destroy releases everything the caster created and returns it to the uninitialized state
func (c *Caster) Destroy() error {
	var err error
	if c.pipeline != nil {
		err = errors.CombineErrors(err, c.pipeline.Destroy())
		c.pipeline = nil
	}
	if c.framebuffer != nil {
		c.ctx.Driver.DestroyFramebuffer(*c.framebuffer, nil)
		c.framebuffer = nil
	}
	if c.renderPass != nil {
		c.ctx.Driver.DestroyRenderPass(*c.renderPass, nil)
		c.renderPass = nil
	}
	if c.depth != nil {
		err = errors.CombineErrors(err, c.depth.Destroy())
		c.depth = nil
	}
	c.initialized = false
	return err
}
