package envcapture

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gbuffer"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
)

// faceTargets are the temporaries of one Capture call: pipelines sized to the capture resolution and
// mirrored for the face cameras' projection, a gbuffer, a throwaway final attachment and one main pass framebuffer per cube face
type faceTargets struct {
	capture *Capture
	size    int

	gbuffer      *gbuffer.GBuffer
	final        *resource.Texture
	framebuffers []core1_0.Framebuffer

	earlyDepth   *pipeline.Pipeline
	geometry     *pipeline.Pipeline
	lighting     *pipeline.Pipeline
	light        *pipeline.Pipeline
	passTextures *descriptor.Set
}

func newFaceTargets(c *Capture, mainPass *pipeline.MainPass) (*faceTargets, error) {
	f := &faceTargets{capture: c, size: c.resolution}
	err := f.create(mainPass)
	if err != nil {
		return nil, errors.CombineErrors(err, f.destroy())
	}
	return f, nil
}

func (f *faceTargets) create(mainPass *pipeline.MainPass) error {
	ctx := f.capture.ctx
	target := pipeline.Target{RenderPass: mainPass.Handle(), Width: f.size, Height: f.size}

	var err error
	for _, build := range []struct {
		into   **pipeline.Pipeline
		config pipeline.Config
	}{
		{&f.earlyDepth, pipeline.EarlyDepth().Mirror()},
		{&f.geometry, pipeline.Geometry().Mirror()},
		{&f.lighting, pipeline.DirectionalLight().Mirror()},
		{&f.light, pipeline.Light().Mirror()},
	} {
		*build.into, err = pipeline.Build(ctx, build.config, target)
		if err != nil {
			return err
		}
	}

	f.gbuffer, err = gbuffer.Create(ctx, f.capture.name+" gbuffer", f.size, f.size)
	if err != nil {
		return err
	}

	f.passTextures, err = f.lighting.AllocateSet(pipeline.RolePassTextures, f.capture.name+" pass textures")
	if err != nil {
		return err
	}
	err = f.gbuffer.WriteInputs(f.passTextures)
	if err != nil {
		return err
	}

	f.final, err = resource.Create(ctx, resource.CreateInfo{
		Name:    f.capture.name + " final",
		Width:   f.size,
		Height:  f.size,
		Format:  mainPass.FinalFormat(),
		Usage:   core1_0.ImageUsageColorAttachment,
		Sampler: resource.SamplerNone,
	})
	if err != nil {
		return err
	}

	for face := 0; face < camera.FaceCount; face++ {
		view, err := f.capture.cube.FaceView(face)
		if err != nil {
			return err
		}

		framebuffer, err := mainPass.CreateFramebuffer(pipeline.Targets{
			Final:    f.final.View(),
			LitColor: view,
			Depth:    f.capture.depth.View(),
			GBuffer:  f.gbuffer.Views(),
		}, f.size, f.size)
		if err != nil {
			return errors.Wrapf(err, "face %d", face)
		}
		f.framebuffers = append(f.framebuffers, framebuffer)
	}

	return nil
}

// pass describes rendering one face. The shared sets are extended with the gbuffer inputs of this
// capture's gbuffer.
func (f *faceTargets) pass(face int, shared map[pipeline.SetRole]*descriptor.Set) pipeline.Pass {
	sets := make(map[pipeline.SetRole]*descriptor.Set, len(shared)+1)
	for role, set := range shared {
		sets[role] = set
	}
	sets[pipeline.RolePassTextures] = f.passTextures

	return pipeline.Pass{
		Framebuffer: f.framebuffers[face],
		Width:       f.size,
		Height:      f.size,
		EarlyDepth:  f.earlyDepth,
		Geometry:    f.geometry,
		Lighting:    f.lighting,
		Light:       f.light,
		Sets:        sets,
	}
}

func (f *faceTargets) destroy() error {
	driver := f.capture.ctx.Driver

	for _, framebuffer := range f.framebuffers {
		driver.DestroyFramebuffer(framebuffer, nil)
	}
	f.framebuffers = nil

	var err error
	if f.passTextures != nil {
		err = errors.CombineErrors(err, f.passTextures.Free())
		f.passTextures = nil
	}
	if f.final != nil {
		err = errors.CombineErrors(err, f.final.Destroy())
		f.final = nil
	}
	if f.gbuffer != nil {
		err = errors.CombineErrors(err, f.gbuffer.Destroy())
		f.gbuffer = nil
	}
	for _, p := range []*pipeline.Pipeline{f.earlyDepth, f.geometry, f.lighting, f.light} {
		if p != nil {
			err = errors.CombineErrors(err, p.Destroy())
		}
	}
	f.earlyDepth, f.geometry, f.lighting, f.light = nil, nil, nil, nil

	return err
}
