package renderer

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/envcapture"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
)

// NotifyResize makes the next Render recreate the swapchain before drawing
func (r *Renderer) NotifyResize() {
	r.resized = true
}

// Render draws one frame of the bound scene and presents it. Without a scene it does nothing. An out of
// date swapchain is recreated and the frame is skipped without an error.
func (r *Renderer) Render() error {
	if r.state != StateReady {
		return r.invalidState("Render")
	}
	if r.scene == nil {
		return nil
	}

	if r.resized {
		err := r.RecreateSwapchain()
		if err != nil || r.resized {
			return err
		}
	}

	r.state = StateRendering
	err := r.renderFrame()
	r.state = StateReady

	if errors.Is(err, ErrSwapchainOutOfDate) {
		r.logger.Debug("swapchain out of date, skipping frame")
		return r.RecreateSwapchain()
	}
	return err
}

func (r *Renderer) renderFrame() error {
	driver := r.ctx.Driver

	index, err := r.presenter.AcquireImage(*r.imageAvailable)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(r.framebuffers) {
		return errors.AssertionFailedf("acquired swapchain image %d of %d", index, len(r.framebuffers))
	}

	cmd := r.commandBuffers[0]
	_, err = driver.ResetCommandBuffer(cmd, 0)
	if err != nil {
		return errors.Wrap(err, "failed to reset frame command buffer")
	}
	_, err = driver.BeginCommandBuffer(cmd, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin frame command buffer")
	}

	err = r.recordFrame(cmd, index)
	_, endErr := driver.EndCommandBuffer(cmd)
	if err != nil {
		return errors.CombineErrors(err, endErr)
	}
	if endErr != nil {
		return errors.Wrap(endErr, "failed to end frame command buffer")
	}

	_, err = driver.QueueSubmit(r.ctx.GraphicsQueue, nil, core1_0.SubmitInfo{
		WaitSemaphores:   []core1_0.Semaphore{*r.imageAvailable},
		WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
		CommandBuffers:   []core1_0.CommandBuffer{cmd},
		SignalSemaphores: []core1_0.Semaphore{*r.renderFinished},
	})
	if err != nil {
		return errors.Wrap(err, "failed to submit frame")
	}

	presentErr := r.presenter.PresentImage(index, *r.renderFinished)

	_, err = driver.QueueWaitIdle(r.ctx.GraphicsQueue)
	if err != nil {
		return errors.CombineErrors(errors.Wrap(err, "failed to wait for frame"), presentErr)
	}
	return presentErr
}

// recordFrame records the shadow pass, when the sun casts shadows, followed by the main render pass
// into framebuffer index
func (r *Renderer) recordFrame(cmd core1_0.CommandBuffer, index int) error {
	scene := r.scene
	active := scene.ActiveCamera()
	sun := scene.DirectionalLight()
	castShadows := sun != nil && sun.CastsShadows

	if castShadows {
		var focus mgl32.Vec3
		if active != nil {
			focus = active.Position
		}
		err := r.shadows.UpdateLight(sun.Direction, focus)
		if err != nil {
			return err
		}
	}

	err := r.writeGlobals(r.debugMode)
	if err != nil {
		return err
	}

	if castShadows {
		err = r.shadows.RenderShadows(scene, cmd, r.sets.global)
		if err != nil {
			return err
		}
		err = r.bindShadowMap(r.shadows.Map())
	} else {
		err = r.bindShadowMap(r.defaults.ShadowMap)
	}
	if err != nil {
		return err
	}

	var viewer mgl32.Vec3
	if active != nil {
		viewer = active.Position
	}
	err = r.bindEnvironment(nearestCapture(scene.EnvironmentCaptures(), viewer))
	if err != nil {
		return err
	}

	pass := pipeline.Pass{
		Framebuffer: r.framebuffers[index],
		Width:       r.swapchain.Width,
		Height:      r.swapchain.Height,
		EarlyDepth:  r.pipelines.earlyDepth,
		Geometry:    r.pipelines.geometry,
		Post:        r.pipelines.post,
		Sets: map[pipeline.SetRole]*descriptor.Set{
			pipeline.RoleGlobal:       r.sets.global,
			pipeline.RolePassTextures: r.sets.passTextures,
			pipeline.RoleShadow:       r.sets.shadow,
			pipeline.RoleEnvironment:  r.sets.environment,
			pipeline.RolePostInput:    r.sets.postInput,
		},
	}
	pass.Lighting, pass.Light = r.lightingPipelines()

	return r.mainPass.Record(cmd, pass, scene)
}

// lightingPipelines returns the full screen pipeline of the lighting subpass for the debug mode, and the
// point light pipeline when light volumes are drawn
func (r *Renderer) lightingPipelines() (lighting *pipeline.Pipeline, light *pipeline.Pipeline) {
	switch r.debugMode {
	case DebugShaded:
		return r.pipelines.directionalLight, r.pipelines.light
	case DebugEnvironmentCapture:
		return r.pipelines.environmentDebug, nil
	case DebugShadowMap:
		return r.pipelines.shadowMapDebug, nil
	default:
		return r.pipelines.debugDeferred, nil
	}
}

func (r *Renderer) writeGlobals(mode DebugMode) error {
	data := NewGlobalUniformData(r.scene.ActiveCamera(), r.scene.DirectionalLight(), r.shadows.LightSpace(), r.screenSize, mode)
	return r.globals.WriteData(data)
}

// bindShadowMap points the shadow set at texture unless it already does
func (r *Renderer) bindShadowMap(texture *resource.Texture) error {
	if r.shadowSource == texture {
		return nil
	}
	err := r.sets.shadow.WriteTexture(0, texture)
	if err != nil {
		return err
	}
	r.shadowSource = texture
	return nil
}

// bindEnvironment points the environment set at capture, or at the black cube when capture is nil
func (r *Renderer) bindEnvironment(capture *envcapture.Capture) error {
	if r.environmentBound && r.environmentSource == capture {
		return nil
	}

	var err error
	if capture == nil {
		err = r.writeBlackEnvironment(r.sets.environment)
	} else {
		err = capture.WriteEnvironment(r.sets.environment)
	}
	if err != nil {
		return err
	}

	r.environmentSource = capture
	r.environmentBound = true
	return nil
}

// nearestCapture returns the captured environment closest to position, or nil when nothing has been
// captured
func nearestCapture(captures []*envcapture.Capture, position mgl32.Vec3) *envcapture.Capture {
	var nearest *envcapture.Capture
	var nearestDistance float32
	for _, capture := range captures {
		if capture == nil || !capture.Captured() {
			continue
		}
		distance := capture.Position().Sub(position).Len()
		if nearest == nil || distance < nearestDistance {
			nearest = capture
			nearestDistance = distance
		}
	}
	return nearest
}

// RecreateSwapchain waits for the device, tears down everything sized to the swapchain and rebuilds it
// at the current drawable size. While the window has no drawable area the recreation is deferred to the
// next Render. If rebuilding fails the renderer stays in the swapchain recreating state, where only
// RecreateSwapchain and Destroy are valid.
func (r *Renderer) RecreateSwapchain() error {
	if r.state != StateReady && r.state != StateSwapchainRecreating {
		return r.invalidState("RecreateSwapchain")
	}

	width, height := r.window.DrawableSize()
	if width <= 0 || height <= 0 {
		r.resized = true
		return nil
	}

	previous := r.state
	_, err := r.ctx.Driver.DeviceWaitIdle()
	if err != nil {
		return errors.Wrap(err, "failed to wait for the device before recreating the swapchain")
	}

	r.state = StateSwapchainRecreating
	err = r.releaseSwapchain()
	if err == nil {
		err = r.run(r.swapchainSteps())
	}
	if err != nil {
		err = errors.CombineErrors(err, r.releaseSwapchain())
		return errors.Wrapf(err, "failed to recreate swapchain (previous state %s)", previous)
	}

	r.resized = false
	r.state = StateReady

	if r.scene != nil && r.scene.ActiveCamera() != nil {
		active := r.scene.ActiveCamera()
		active.Aspect = r.screenSize.X() / r.screenSize.Y()
		active.Update()
	}

	r.logger.Info("swapchain recreated",
		slog.Int("width", r.swapchain.Width),
		slog.Int("height", r.swapchain.Height),
	)
	return nil
}
