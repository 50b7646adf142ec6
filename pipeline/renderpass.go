package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gbuffer"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// Subpasses of the main render pass, in execution order
const (
	SubpassDepth = iota
	SubpassGeometry
	SubpassLighting
	SubpassPost
)

// Attachments of the main render pass. The gbuffer channels follow AttachmentGBuffer in channel order.
const (
	AttachmentFinal = iota
	AttachmentLitColor
	AttachmentDepth
	AttachmentGBuffer
)

// AttachmentCount is the number of attachments of a main render pass framebuffer
const AttachmentCount = AttachmentGBuffer + gbuffer.ChannelCount

// LitColorFormat is the format of the HDR target the lighting subpass accumulates into. Environment
// captures attach cube faces in its place, so captured cubes share it.
const LitColorFormat = core1_0.FormatR16G16B16A16SignedFloat

// MainPass is the four subpass render pass every frame and every environment capture face runs
type MainPass struct {
	ctx         *gpu.Context
	handle      core1_0.RenderPass
	finalFormat core1_0.Format
	created     bool
}

func colorAttachment(format core1_0.Format, storeOp core1_0.AttachmentStoreOp, finalLayout core1_0.ImageLayout) core1_0.AttachmentDescription {
	return core1_0.AttachmentDescription{
		Format:         format,
		Samples:        core1_0.Samples1,
		LoadOp:         core1_0.AttachmentLoadOpClear,
		StoreOp:        storeOp,
		StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
		StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
		InitialLayout:  core1_0.ImageLayoutUndefined,
		FinalLayout:    finalLayout,
	}
}

func reference(attachment int, layout core1_0.ImageLayout) core1_0.AttachmentReference {
	return core1_0.AttachmentReference{Attachment: attachment, Layout: layout}
}

// MainPassInfo returns the create info of the main render pass for a final attachment format
func MainPassInfo(finalFormat, depthFormat core1_0.Format) core1_0.RenderPassCreateInfo {
	attachments := []core1_0.AttachmentDescription{
		AttachmentFinal:    colorAttachment(finalFormat, core1_0.AttachmentStoreOpStore, khr_swapchain.ImageLayoutPresentSrc),
		AttachmentLitColor: colorAttachment(LitColorFormat, core1_0.AttachmentStoreOpStore, core1_0.ImageLayoutShaderReadOnlyOptimal),
		AttachmentDepth: {
			Format:         depthFormat,
			Samples:        core1_0.Samples1,
			LoadOp:         core1_0.AttachmentLoadOpClear,
			StoreOp:        core1_0.AttachmentStoreOpDontCare,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutUndefined,
			FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	var gbufferWrites, gbufferReads []core1_0.AttachmentReference
	for _, channel := range gbuffer.Channels() {
		attachments = append(attachments, colorAttachment(channel.Format(), core1_0.AttachmentStoreOpDontCare,
			core1_0.ImageLayoutColorAttachmentOptimal))

		index := AttachmentGBuffer + int(channel)
		gbufferWrites = append(gbufferWrites, reference(index, core1_0.ImageLayoutColorAttachmentOptimal))
		gbufferReads = append(gbufferReads, reference(index, core1_0.ImageLayoutShaderReadOnlyOptimal))
	}

	depthWrite := reference(AttachmentDepth, core1_0.ImageLayoutDepthStencilAttachmentOptimal)
	depthRead := reference(AttachmentDepth, core1_0.ImageLayoutDepthStencilAttachmentOptimal)

	subpasses := []core1_0.SubpassDescription{
		SubpassDepth: {
			PipelineBindPoint:      core1_0.PipelineBindPointGraphics,
			DepthStencilAttachment: &depthWrite,
		},
		SubpassGeometry: {
			PipelineBindPoint:      core1_0.PipelineBindPointGraphics,
			ColorAttachments:       gbufferWrites,
			DepthStencilAttachment: &depthRead,
		},
		SubpassLighting: {
			PipelineBindPoint: core1_0.PipelineBindPointGraphics,
			InputAttachments:  gbufferReads,
			ColorAttachments:  []core1_0.AttachmentReference{reference(AttachmentLitColor, core1_0.ImageLayoutColorAttachmentOptimal)},
		},
		SubpassPost: {
			PipelineBindPoint: core1_0.PipelineBindPointGraphics,
			InputAttachments:  []core1_0.AttachmentReference{reference(AttachmentLitColor, core1_0.ImageLayoutShaderReadOnlyOptimal)},
			ColorAttachments:  []core1_0.AttachmentReference{reference(AttachmentFinal, core1_0.ImageLayoutColorAttachmentOptimal)},
		},
	}

	dependencies := []core1_0.SubpassDependency{
		{
			SrcSubpass:    core1_0.SubpassExternal,
			DstSubpass:    SubpassDepth,
			SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
			DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
			DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
		},
		{
			SrcSubpass:      SubpassDepth,
			DstSubpass:      SubpassGeometry,
			SrcStageMask:    core1_0.PipelineStageLateFragmentTests,
			SrcAccessMask:   core1_0.AccessDepthStencilAttachmentWrite,
			DstStageMask:    core1_0.PipelineStageEarlyFragmentTests,
			DstAccessMask:   core1_0.AccessDepthStencilAttachmentRead,
			DependencyFlags: core1_0.DependencyByRegion,
		},
		{
			SrcSubpass:      SubpassGeometry,
			DstSubpass:      SubpassLighting,
			SrcStageMask:    core1_0.PipelineStageColorAttachmentOutput,
			SrcAccessMask:   core1_0.AccessColorAttachmentWrite,
			DstStageMask:    core1_0.PipelineStageFragmentShader,
			DstAccessMask:   core1_0.AccessInputAttachmentRead,
			DependencyFlags: core1_0.DependencyByRegion,
		},
		{
			SrcSubpass:      SubpassLighting,
			DstSubpass:      SubpassPost,
			SrcStageMask:    core1_0.PipelineStageColorAttachmentOutput,
			SrcAccessMask:   core1_0.AccessColorAttachmentWrite,
			DstStageMask:    core1_0.PipelineStageFragmentShader,
			DstAccessMask:   core1_0.AccessInputAttachmentRead,
			DependencyFlags: core1_0.DependencyByRegion,
		},
		{
			SrcSubpass:    SubpassPost,
			DstSubpass:    core1_0.SubpassExternal,
			SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
			SrcAccessMask: core1_0.AccessColorAttachmentWrite,
			DstStageMask:  core1_0.PipelineStageFragmentShader,
			DstAccessMask: core1_0.AccessShaderRead,
		},
	}

	return core1_0.RenderPassCreateInfo{
		Attachments:         attachments,
		Subpasses:           subpasses,
		SubpassDependencies: dependencies,
	}
}

// CreateMainPass creates the main render pass for a final attachment format, usually the swapchain's
func CreateMainPass(ctx *gpu.Context, finalFormat core1_0.Format) (*MainPass, error) {
	handle, _, err := ctx.Driver.CreateRenderPass(nil, MainPassInfo(finalFormat, ctx.DepthFormat))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create main render pass")
	}

	return &MainPass{
		ctx:         ctx,
		handle:      handle,
		finalFormat: finalFormat,
		created:     true,
	}, nil
}

func (p *MainPass) Handle() core1_0.RenderPass { return p.handle }

func (p *MainPass) FinalFormat() core1_0.Format { return p.finalFormat }

// Targets are the views one main render pass framebuffer is built from
type Targets struct {
	Final    core1_0.ImageView
	LitColor core1_0.ImageView
	Depth    core1_0.ImageView
	GBuffer  []core1_0.ImageView
}

// CreateFramebuffer creates a framebuffer of the main render pass. The caller owns it.
func (p *MainPass) CreateFramebuffer(targets Targets, width, height int) (core1_0.Framebuffer, error) {
	if len(targets.GBuffer) != gbuffer.ChannelCount {
		return core1_0.Framebuffer{}, errors.AssertionFailedf("main pass framebuffer needs %d gbuffer views, got %d",
			gbuffer.ChannelCount, len(targets.GBuffer))
	}

	attachments := make([]core1_0.ImageView, 0, AttachmentCount)
	attachments = append(attachments, targets.Final, targets.LitColor, targets.Depth)
	attachments = append(attachments, targets.GBuffer...)

	framebuffer, _, err := p.ctx.Driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  p.handle,
		Attachments: attachments,
		Width:       width,
		Height:      height,
		Layers:      1,
	})
	if err != nil {
		return core1_0.Framebuffer{}, errors.Wrap(err, "failed to create main pass framebuffer")
	}
	return framebuffer, nil
}

// ClearValues returns one clear value per attachment, in attachment order
func ClearValues() []core1_0.ClearValue {
	values := make([]core1_0.ClearValue, 0, AttachmentCount)
	values = append(values,
		core1_0.ClearValueFloat{0, 0, 0, 1},
		core1_0.ClearValueFloat{0, 0, 0, 1},
		core1_0.ClearValueDepthStencil{Depth: 1, Stencil: 0},
	)
	for i := 0; i < gbuffer.ChannelCount; i++ {
		values = append(values, core1_0.ClearValueFloat{0, 0, 0, 0})
	}
	return values
}

// Destroy releases the render pass. Destroying twice is a no-op.
func (p *MainPass) Destroy() {
	if !p.created {
		return
	}
	p.created = false
	p.ctx.Driver.DestroyRenderPass(p.handle, nil)
}
