package envcapture

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
)

// irradianceParams is the std140 uniform of the irradiance shader
type irradianceParams struct {
	Face       int32
	SampleStep float32
	_          [2]int32
}

// IrradianceSampleStep is the angular step, in radians, of the hemisphere integration
const IrradianceSampleStep = 0.025

// IrradiancePassInfo returns the single subpass render pass that writes one irradiance face
func IrradiancePassInfo() core1_0.RenderPassCreateInfo {
	return core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         pipeline.LitColorFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpDontCare,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutShaderReadOnlyOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{Attachment: 0, Layout: core1_0.ImageLayoutColorAttachmentOptimal},
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass:    core1_0.SubpassExternal,
				DstSubpass:    0,
				SrcStageMask:  core1_0.PipelineStageFragmentShader,
				SrcAccessMask: core1_0.AccessShaderRead,
				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
			{
				SrcSubpass:    0,
				DstSubpass:    core1_0.SubpassExternal,
				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: core1_0.AccessColorAttachmentWrite,
				DstStageMask:  core1_0.PipelineStageFragmentShader,
				DstAccessMask: core1_0.AccessShaderRead,
			},
		},
	}
}

type convolution struct {
	capture *Capture

	renderPass   *core1_0.RenderPass
	framebuffers []core1_0.Framebuffer
	pipeline     *pipeline.Pipeline
	params       *resource.Buffer
	source       *descriptor.Set
}

func (v *convolution) create() error {
	ctx := v.capture.ctx

	renderPass, _, err := ctx.Driver.CreateRenderPass(nil, IrradiancePassInfo())
	if err != nil {
		return errors.Wrap(err, "failed to create irradiance render pass")
	}
	v.renderPass = &renderPass

	for face := 0; face < camera.FaceCount; face++ {
		view, err := v.capture.irradiance.FaceView(face)
		if err != nil {
			return err
		}

		framebuffer, _, err := ctx.Driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass:  renderPass,
			Attachments: []core1_0.ImageView{view},
			Width:       IrradianceResolution,
			Height:      IrradianceResolution,
			Layers:      1,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to create irradiance framebuffer for face %d", face)
		}
		v.framebuffers = append(v.framebuffers, framebuffer)
	}

	v.pipeline, err = pipeline.Build(ctx, pipeline.Irradiance(), pipeline.Target{
		RenderPass: renderPass,
		Width:      IrradianceResolution,
		Height:     IrradianceResolution,
	})
	if err != nil {
		return err
	}

	v.params, err = resource.NewUniformBuffer(ctx, v.capture.name+" irradiance params", 16)
	if err != nil {
		return err
	}

	v.source, err = v.pipeline.AllocateSet(pipeline.RoleIrradianceSource, v.capture.name+" irradiance source")
	if err != nil {
		return err
	}
	err = v.source.WriteUniform(pipeline.BindingIrradianceFace, v.params)
	if err != nil {
		return err
	}
	return v.source.WriteTexture(pipeline.BindingIrradianceCube, v.capture.cube)
}

func (v *convolution) recordFace(cmd core1_0.CommandBuffer, face int) error {
	driver := v.capture.ctx.Driver

	err := driver.CmdBeginRenderPass(cmd, core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  *v.renderPass,
		Framebuffer: v.framebuffers[face],
		RenderArea: core1_0.Rect2D{
			Extent: core1_0.Extent2D{Width: IrradianceResolution, Height: IrradianceResolution},
		},
		ClearValues: []core1_0.ClearValue{core1_0.ClearValueFloat{0, 0, 0, 1}},
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin irradiance render pass")
	}

	err = v.pipeline.Bind(cmd)
	if err == nil {
		err = v.pipeline.BindSet(cmd, pipeline.RoleIrradianceSource, v.source)
	}
	if err == nil {
		driver.CmdDraw(cmd, 3, 1, 0, 0)
	}
	driver.CmdEndRenderPass(cmd)
	return err
}

func (v *convolution) run() error {
	for face := 0; face < camera.FaceCount; face++ {
		// each face is submitted and waited for before the parameters are rewritten
		err := v.params.WriteData(irradianceParams{Face: int32(face), SampleStep: IrradianceSampleStep})
		if err != nil {
			return err
		}

		err = v.capture.ctx.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
			return v.recordFace(cmd, face)
		})
		if err != nil {
			return errors.Wrapf(err, "face %d", face)
		}
	}

	v.capture.irradiance.MarkLayout(core1_0.ImageLayoutShaderReadOnlyOptimal)
	return nil
}

func (v *convolution) destroy() error {
	driver := v.capture.ctx.Driver

	var err error
	if v.source != nil {
		err = errors.CombineErrors(err, v.source.Free())
		v.source = nil
	}
	if v.params != nil {
		err = errors.CombineErrors(err, v.params.Destroy())
		v.params = nil
	}
	if v.pipeline != nil {
		err = errors.CombineErrors(err, v.pipeline.Destroy())
		v.pipeline = nil
	}
	for _, framebuffer := range v.framebuffers {
		driver.DestroyFramebuffer(framebuffer, nil)
	}
	v.framebuffers = nil
	if v.renderPass != nil {
		driver.DestroyRenderPass(*v.renderPass, nil)
		v.renderPass = nil
	}
	return err
}

// convolve renders every face of the irradiance cube from the captured cube, which must already be
// shader readable
func (c *Capture) convolve() (err error) {
	v := &convolution{capture: c}
	defer func() {
		err = errors.CombineErrors(err, v.destroy())
	}()

	err = v.create()
	if err != nil {
		return err
	}
	return v.run()
}
