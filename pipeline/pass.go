package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
)

// Drawer records the draws of whatever is being rendered. Implementations bind their own instance and
// light sets through the pipeline they are handed, resolving set indices by role.
type Drawer interface {
	RenderGeometry(cmd core1_0.CommandBuffer, p *Pipeline) error
	RenderLightVolumes(cmd core1_0.CommandBuffer, p *Pipeline) error
}

// Pass is one run of the main render pass: the framebuffer it renders into, the pipeline of every
// subpass and the shared descriptor sets. Each pipeline binds the sets whose role it declares.
type Pass struct {
	Framebuffer core1_0.Framebuffer
	Width       int
	Height      int

	EarlyDepth *Pipeline
	Geometry   *Pipeline
	// Lighting is the full screen pipeline of the lighting subpass, the directional light or a debug view
	Lighting *Pipeline
	// Light draws point light volumes after Lighting. It is skipped when nil.
	Light *Pipeline
	// Post is skipped when nil, leaving the final attachment cleared
	Post *Pipeline

	Sets map[SetRole]*descriptor.Set
}

func (p Pass) validate() error {
	if p.EarlyDepth == nil || p.Geometry == nil || p.Lighting == nil {
		return errors.AssertionFailedf("main pass needs early depth, geometry and lighting pipelines")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return errors.AssertionFailedf("main pass has invalid render area %dx%d", p.Width, p.Height)
	}
	return nil
}

const fullScreenVertices = 3

func (p *MainPass) bind(cmd core1_0.CommandBuffer, pl *Pipeline, sets map[SetRole]*descriptor.Set) error {
	err := pl.Bind(cmd)
	if err != nil {
		return err
	}
	return pl.BindSets(cmd, sets)
}

func (p *MainPass) drawFullScreen(cmd core1_0.CommandBuffer, pl *Pipeline, sets map[SetRole]*descriptor.Set) error {
	err := p.bind(cmd, pl, sets)
	if err != nil {
		return err
	}
	p.ctx.Driver.CmdDraw(cmd, fullScreenVertices, 1, 0, 0)
	return nil
}

func (p *MainPass) recordSubpasses(cmd core1_0.CommandBuffer, pass Pass, drawer Drawer) error {
	driver := p.ctx.Driver

	err := p.bind(cmd, pass.EarlyDepth, pass.Sets)
	if err != nil {
		return err
	}
	err = drawer.RenderGeometry(cmd, pass.EarlyDepth)
	if err != nil {
		return errors.Wrap(err, "depth subpass")
	}

	driver.CmdNextSubpass(cmd, core1_0.SubpassContentsInline)
	err = p.bind(cmd, pass.Geometry, pass.Sets)
	if err != nil {
		return err
	}
	err = drawer.RenderGeometry(cmd, pass.Geometry)
	if err != nil {
		return errors.Wrap(err, "geometry subpass")
	}

	driver.CmdNextSubpass(cmd, core1_0.SubpassContentsInline)
	err = p.drawFullScreen(cmd, pass.Lighting, pass.Sets)
	if err != nil {
		return err
	}
	if pass.Light != nil {
		err = p.bind(cmd, pass.Light, pass.Sets)
		if err != nil {
			return err
		}
		err = drawer.RenderLightVolumes(cmd, pass.Light)
		if err != nil {
			return errors.Wrap(err, "lighting subpass")
		}
	}

	driver.CmdNextSubpass(cmd, core1_0.SubpassContentsInline)
	if pass.Post != nil {
		return p.drawFullScreen(cmd, pass.Post, pass.Sets)
	}
	return nil
}

// Record records every subpass of the main render pass into cmd, asking drawer for the geometry and
// light volumes. The render pass is ended even when recording fails.
func (p *MainPass) Record(cmd core1_0.CommandBuffer, pass Pass, drawer Drawer) error {
	if !p.created {
		return errors.AssertionFailedf("main render pass recorded after it was destroyed")
	}
	err := pass.validate()
	if err != nil {
		return err
	}

	err = p.ctx.Driver.CmdBeginRenderPass(cmd, core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  p.handle,
		Framebuffer: pass.Framebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: core1_0.Extent2D{Width: pass.Width, Height: pass.Height},
		},
		ClearValues: ClearValues(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin main render pass")
	}

	err = p.recordSubpasses(cmd, pass, drawer)
	p.ctx.Driver.CmdEndRenderPass(cmd)
	return err
}
