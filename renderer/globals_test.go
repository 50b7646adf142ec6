package renderer_test

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/renderer"
	"github.com/vkngwrapper/deferred/resource"
	"github.com/vkngwrapper/deferred/shadow"
)

func TestGlobalUniformEncodesToStd140Size(t *testing.T) {
	data := renderer.NewGlobalUniformData(nil, nil, mgl32.Ident4(), mgl32.Vec2{1, 1}, renderer.DebugShaded)
	encoded, err := resource.Encode(data)
	require.NoError(t, err)
	require.Len(t, encoded, renderer.GlobalUniformSize)
}

func TestNewGlobalUniformData(t *testing.T) {
	active := camera.New(mgl32.Vec3{1, 2, 3}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}, 60, 1, 0.1, 100)
	sun := &shadow.DirectionalLight{
		Direction:       mgl32.Vec3{0, -4, 0},
		Color:           mgl32.Vec3{1, 0.5, 0.25},
		Intensity:       2,
		ShadowIntensity: 0.7,
	}

	data := renderer.NewGlobalUniformData(active, sun, mgl32.Ident4(), mgl32.Vec2{800, 600}, renderer.DebugRoughness)
	require.Equal(t, active.View(), data.View)
	require.Equal(t, active.Projection(), data.Projection)
	require.Equal(t, mgl32.Vec4{1, 2, 3, 1}, data.ViewPosition)
	require.Equal(t, mgl32.Vec4{0, -1, 0, 0}, data.SunDirection)
	require.Equal(t, mgl32.Vec4{2, 1, 0.5, 1}, data.SunColor)
	require.Equal(t, mgl32.Vec2{800, 600}, data.ScreenSize)
	require.Equal(t, int32(renderer.DebugRoughness), data.Mode)
	// a sun that casts no shadows never darkens anything
	require.Zero(t, data.ShadowIntensity)

	sun.CastsShadows = true
	data = renderer.NewGlobalUniformData(active, sun, mgl32.Ident4(), mgl32.Vec2{800, 600}, renderer.DebugShaded)
	require.Equal(t, float32(0.7), data.ShadowIntensity)

	empty := renderer.NewGlobalUniformData(nil, nil, mgl32.Ident4(), mgl32.Vec2{}, renderer.DebugShaded)
	require.Equal(t, mgl32.Ident4(), empty.View)
	require.Equal(t, mgl32.Vec4{}, empty.SunColor)
}

func TestDebugModeNames(t *testing.T) {
	require.Equal(t, "shaded", renderer.DebugShaded.String())
	require.Equal(t, "shadow map", renderer.DebugShadowMap.String())
	require.Equal(t, "DebugMode(99)", renderer.DebugMode(99).String())
	require.False(t, renderer.DebugMode(-1).Valid())
	require.Equal(t, renderer.DebugShaded, renderer.DebugShadowMap.Next())
}
