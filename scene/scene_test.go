package scene_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/envcapture"
	"github.com/vkngwrapper/deferred/gpu/gputest"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
	"github.com/vkngwrapper/deferred/scene"
	"go.uber.org/mock/gomock"
)

var target = pipeline.Target{Width: 320, Height: 240}

type fixture struct {
	h         *gputest.Harness
	resources scene.Resources
	mesh      *resource.Mesh
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, gputest.Options{})
}

func newFixtureWith(t *testing.T, options gputest.Options) *fixture {
	h := gputest.New(t, options)

	defaults, err := resource.NewDefaults(h.Context)
	require.NoError(t, err)
	volume, err := resource.NewSphere(h.Context, "light volume", 4, 8)
	require.NoError(t, err)

	vertices, indices := resource.SphereGeometry(4, 8)
	mesh, err := resource.NewMesh(h.Context, "ball", vertices, indices)
	require.NoError(t, err)

	return &fixture{
		h:         h,
		resources: scene.Resources{Defaults: defaults, LightVolume: volume},
		mesh:      mesh,
	}
}

func (f *fixture) release(t *testing.T) {
	require.NoError(t, f.mesh.Destroy())
	require.NoError(t, f.resources.LightVolume.Destroy())
	require.NoError(t, f.resources.Defaults.Destroy())
	require.Equal(t, 0, f.h.LiveAllocations())
}

func checkerboard(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{G: 255, A: 255})
			}
		}
	}
	return img
}

func writesTo(writes []core1_0.WriteDescriptorSet, binding int) int {
	count := 0
	for _, write := range writes {
		if write.DstBinding == binding {
			count++
		}
	}
	return count
}

func TestNewRequiresResources(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	_, err := scene.New(h.Context, scene.Resources{})
	require.Error(t, err)
	require.Equal(t, 0, h.Created["DescriptorSetLayout"])
}

func TestAddAndRemoveActors(t *testing.T) {
	f := newFixture(t)

	s, err := scene.New(f.h.Context, f.resources)
	require.NoError(t, err)
	require.Equal(t, 2, f.h.Live("DescriptorSetLayout"))

	buffers := f.h.Live("Buffer")
	writes := len(f.h.Writes)

	first, err := s.AddActor("first", f.mesh, nil)
	require.NoError(t, err)
	second, err := s.AddActor("second", f.mesh, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())

	require.Equal(t, 2, s.ActorCount())
	require.Equal(t, buffers+2, f.h.Live("Buffer"))
	// one uniform and five material textures per actor
	require.Len(t, f.h.Writes, writes+12)
	for binding := 0; binding <= 5; binding++ {
		require.Equal(t, 2, writesTo(f.h.Writes[writes:], binding), "binding %d", binding)
	}

	found, ok := s.Actor(second.ID())
	require.True(t, ok)
	require.Same(t, second, found)
	require.Equal(t, []*scene.Actor{first, second}, s.Actors())

	removed, err := s.RemoveActor(first.ID())
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, buffers+1, f.h.Live("Buffer"))
	require.Equal(t, []*scene.Actor{second}, s.Actors())

	removed, err = s.RemoveActor(uuid.New())
	require.NoError(t, err)
	require.False(t, removed)

	_, err = s.AddActor("meshless", nil, nil)
	require.Error(t, err)

	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy())
	require.Equal(t, 0, s.ActorCount())
	require.Equal(t, buffers, f.h.Live("Buffer"))
	require.Equal(t, 0, f.h.Live("DescriptorSetLayout"))

	_, err = s.AddActor("late", f.mesh, nil)
	require.Error(t, err)

	f.release(t)
}

func TestActorTransform(t *testing.T) {
	f := newFixture(t)

	s, err := scene.New(f.h.Context, f.resources)
	require.NoError(t, err)

	actor, err := s.AddActor("moved", f.mesh, nil)
	require.NoError(t, err)
	require.True(t, actor.Transform().ApproxEqual(mgl32.Ident4()))

	actor.SetScale(mgl32.Vec3{2, 2, 2})
	actor.SetRotation(mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0}))
	actor.SetPosition(mgl32.Vec3{1, 2, 3})

	// scale, then rotate, then translate
	moved := actor.Transform().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	require.InDelta(t, 1, moved.X(), 1e-5)
	require.InDelta(t, 2, moved.Y(), 1e-5)
	require.InDelta(t, 1, moved.Z(), 1e-5)

	require.NoError(t, s.Destroy())
	f.release(t)
}

func TestRenderGeometryDrawsEveryActor(t *testing.T) {
	var instanceBinds, draws int
	f := newFixtureWith(t, gputest.Options{Setup: func(h *gputest.Harness) {
		h.Driver.EXPECT().CmdBindDescriptorSets(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Do(func(_, _, _, _, _, _ any) { instanceBinds++ }).AnyTimes()
		h.Driver.EXPECT().CmdDrawIndexed(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Do(func(_, _, _, _, _, _ any) { draws++ }).AnyTimes()
	}})

	s, err := scene.New(f.h.Context, f.resources)
	require.NoError(t, err)

	geometry, err := pipeline.Build(f.h.Context, pipeline.Geometry(), target)
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c"} {
		_, err = s.AddActor(name, f.mesh, nil)
		require.NoError(t, err)
	}

	require.NoError(t, s.RenderGeometry(core1_0.CommandBuffer{}, geometry))
	require.Equal(t, 3, instanceBinds)
	require.Equal(t, 3, draws)

	require.NoError(t, geometry.Destroy())
	require.NoError(t, s.Destroy())
	f.release(t)
}

func TestPointLights(t *testing.T) {
	f := newFixture(t)

	s, err := scene.New(f.h.Context, f.resources)
	require.NoError(t, err)

	light, err := s.AddPointLight(scene.PointLightInfo{
		Position:  mgl32.Vec3{1, 2, 3},
		Color:     mgl32.Vec3{1, 0.5, 0},
		Intensity: 2,
	})
	require.NoError(t, err)
	require.Equal(t, float32(scene.DefaultLightRadius), light.Info().Radius)

	uniform := light.Uniform()
	require.Equal(t, mgl32.Vec4{1, 2, 3, scene.DefaultLightRadius}, uniform.PositionRadius)
	require.Equal(t, mgl32.Vec4{1, 0.5, 0, 2}, uniform.ColorIntensity)
	edge := uniform.Model.Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	require.InDelta(t, 1+scene.DefaultLightRadius, edge.X(), 1e-5)

	_, err = s.AddPointLight(scene.PointLightInfo{Radius: -1})
	require.Error(t, err)
	require.Len(t, s.PointLights(), 1)

	lights, err := pipeline.Build(f.h.Context, pipeline.Light(), target)
	require.NoError(t, err)
	require.NoError(t, s.RenderLightVolumes(core1_0.CommandBuffer{}, lights))

	require.NoError(t, lights.Destroy())
	require.NoError(t, s.Destroy())

	// a destroyed scene has released every light set
	require.Empty(t, s.PointLights())
	f.release(t)
}

func TestLightVolumeNeedsLightRole(t *testing.T) {
	f := newFixture(t)

	s, err := scene.New(f.h.Context, f.resources)
	require.NoError(t, err)
	_, err = s.AddPointLight(scene.PointLightInfo{Intensity: 1})
	require.NoError(t, err)

	// the geometry pipeline has no light set
	geometry, err := pipeline.Build(f.h.Context, pipeline.Geometry(), target)
	require.NoError(t, err)
	require.Error(t, s.RenderLightVolumes(core1_0.CommandBuffer{}, geometry))

	require.NoError(t, geometry.Destroy())
	require.NoError(t, s.Destroy())
	f.release(t)
}

func TestSceneOwnsCapturesAndMaterials(t *testing.T) {
	f := newFixture(t)

	s, err := scene.New(f.h.Context, f.resources)
	require.NoError(t, err)

	capture, err := envcapture.New(f.h.Context, mgl32.Vec3{}, envcapture.Options{Name: "lobby", Resolution: 16})
	require.NoError(t, err)
	s.AddEnvironmentCapture(capture)
	require.Equal(t, []*envcapture.Capture{capture}, s.EnvironmentCaptures())

	texture, err := resource.FromImage(f.h.Context, "albedo", checkerboard(4, 4))
	require.NoError(t, err)
	material := scene.NewMaterial("checker")
	require.NoError(t, material.SetTexture(scene.SlotColor, texture))
	s.AddMaterial(material)

	_, err = s.AddActor("checkered", f.mesh, material)
	require.NoError(t, err)

	cam := camera.New(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}, 60, 1, 0.1, 10)
	s.SetActiveCamera(cam)
	require.Same(t, cam, s.ActiveCamera())
	s.Update(0, false)

	images := f.h.Live("Image")
	require.NoError(t, s.Destroy())
	require.Equal(t, images-1, f.h.Live("Image"))
	require.Nil(t, material.Texture(scene.SlotColor))
	f.release(t)
}

func TestRemovedActorIsNotDrawn(t *testing.T) {
	var draws int
	f := newFixtureWith(t, gputest.Options{Setup: func(h *gputest.Harness) {
		h.Driver.EXPECT().CmdDrawIndexed(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Do(func(_, _, _, _, _, _ any) { draws++ }).AnyTimes()
	}})


	s, err := scene.New(f.h.Context, f.resources)
	require.NoError(t, err)
	actor, err := s.AddActor("gone", f.mesh, nil)
	require.NoError(t, err)

	geometry, err := pipeline.Build(f.h.Context, pipeline.Geometry(), target)
	require.NoError(t, err)

	removed, err := s.RemoveActor(actor.ID())
	require.NoError(t, err)
	require.True(t, removed)

	require.NoError(t, s.RenderGeometry(core1_0.CommandBuffer{}, geometry))
	require.Equal(t, 0, draws)

	require.NoError(t, geometry.Destroy())
	require.NoError(t, s.Destroy())
	f.release(t)
}
