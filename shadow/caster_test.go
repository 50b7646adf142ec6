package shadow_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gpu/gputest"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/shadow"
)

type recordingGeometry struct {
	pipelines []*pipeline.Pipeline
	err       error
}

func (g *recordingGeometry) RenderGeometry(_ core1_0.CommandBuffer, p *pipeline.Pipeline) error {
	g.pipelines = append(g.pipelines, p)
	return g.err
}

func globals(t *testing.T, h *gputest.Harness) *descriptor.Set {
	set, err := descriptor.Allocate(h.Context, "globals", core1_0.DescriptorSetLayout{})
	require.NoError(t, err)
	return set
}

func TestInitializesLazily(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	caster, err := shadow.New(h.Context, shadow.Options{Resolution: 512})
	require.NoError(t, err)
	require.False(t, caster.Initialized())
	require.Nil(t, caster.Map())
	require.Equal(t, 0, h.Created["Image"])
	require.Equal(t, 0, h.Created["RenderPass"])

	geometry := &recordingGeometry{}
	require.NoError(t, caster.RenderShadows(geometry, core1_0.CommandBuffer{}, globals(t, h)))
	require.True(t, caster.Initialized())

	require.Len(t, geometry.pipelines, 1)
	require.Equal(t, caster.Pipeline(), geometry.pipelines[0])
	require.Equal(t, "shadow cast", geometry.pipelines[0].Name())

	require.Equal(t, 512, h.Images[0].Extent.Width)
	require.Equal(t, h.Context.DepthFormat, h.Images[0].Format)
	require.Equal(t, 1, h.Live("RenderPass"))
	require.Equal(t, 1, h.Live("Framebuffer"))
	require.Equal(t, 1, h.Live("Pipeline"))
	require.Equal(t, 512, h.Framebuffers[0].Width)

	require.NoError(t, caster.Destroy())
	require.False(t, caster.Initialized())
	require.Equal(t, 0, h.Live("Image"))
	require.Equal(t, 0, h.Live("RenderPass"))
	require.Equal(t, 0, h.Live("Framebuffer"))
	require.Equal(t, 0, h.Live("Pipeline"))
	require.Equal(t, 0, h.LiveAllocations())
}

func TestShadowMapLayoutCycle(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	caster, err := shadow.New(h.Context, shadow.Options{})
	require.NoError(t, err)
	require.Equal(t, shadow.DefaultResolution, caster.Resolution())

	set := globals(t, h)
	geometry := &recordingGeometry{}
	for frame := 0; frame < 2; frame++ {
		require.NoError(t, caster.RenderShadows(geometry, core1_0.CommandBuffer{}, set))
		require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, caster.Map().Layout())
	}

	require.Len(t, h.Barriers, 4)
	require.Equal(t, core1_0.ImageLayoutUndefined, h.Barriers[0].OldLayout)
	require.Equal(t, core1_0.ImageLayoutDepthStencilAttachmentOptimal, h.Barriers[0].NewLayout)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, h.Barriers[1].NewLayout)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, h.Barriers[2].OldLayout)
	require.Equal(t, core1_0.ImageAspectDepth, h.Barriers[2].SubresourceRange.AspectMask)

	// initialized once
	require.Equal(t, 1, h.Created["RenderPass"])

	require.NoError(t, caster.Destroy())
	require.NoError(t, caster.Destroy())
}

func TestGeometryFailureIsReturned(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	caster, err := shadow.New(h.Context, shadow.Options{Resolution: 256})
	require.NoError(t, err)

	geometry := &recordingGeometry{err: errors.New("actor lost its mesh")}
	err = caster.RenderShadows(geometry, core1_0.CommandBuffer{}, globals(t, h))
	require.ErrorContains(t, err, "actor lost its mesh")
	require.Equal(t, core1_0.ImageLayoutDepthStencilAttachmentOptimal, caster.Map().Layout())

	require.NoError(t, caster.Destroy())
}

func TestUnallocatedGlobalsAreRejected(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	caster, err := shadow.New(h.Context, shadow.Options{Resolution: 256})
	require.NoError(t, err)

	err = caster.RenderShadows(&recordingGeometry{}, core1_0.CommandBuffer{}, descriptor.New(h.Context, "globals"))
	require.True(t, errors.HasAssertionFailure(err))

	require.NoError(t, caster.Destroy())
}

func TestLightSpaceMatrix(t *testing.T) {
	focus := mgl32.Vec3{3, 0, -2}
	matrix := shadow.LightSpaceMatrix(mgl32.Vec3{-1, -1, 0}, focus, 10, 40)

	center := matrix.Mul4x1(focus.Vec4(1))
	require.InDelta(t, 0, center.X(), 1e-4)
	require.InDelta(t, 0, center.Y(), 1e-4)
	require.InDelta(t, 0.5, center.Z(), 1e-4)

	edge := matrix.Mul4x1(focus.Add(mgl32.Vec3{0, 0, 10}).Vec4(1))
	require.InDelta(t, 1, mgl32.Abs(edge.X()), 1e-4)

	// straight down does not degenerate
	down := shadow.LightSpaceMatrix(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{}, 10, 40)
	require.False(t, down.ApproxEqual(mgl32.Mat4{}))

	caster, err := shadow.New(gputest.New(t, gputest.Options{}).Context, shadow.Options{})
	require.NoError(t, err)
	require.Error(t, caster.UpdateLight(mgl32.Vec3{}, focus))
	require.Equal(t, mgl32.Ident4(), caster.LightSpace())
	require.NoError(t, caster.UpdateLight(mgl32.Vec3{0, -1, 0.2}, focus))
	require.NotEqual(t, mgl32.Ident4(), caster.LightSpace())
}
