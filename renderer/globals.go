package renderer

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/shadow"
)

// GlobalUniformSize is the std140 size of GlobalUniformData
const GlobalUniformSize = 256

// GlobalUniformData is the per frame uniform every pipeline binds at the global set role. The field
// order and the vec4 padding follow std140.
type GlobalUniformData struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	// LightSpace is the view projection of the directional light, for shadow lookups
	LightSpace mgl32.Mat4

	// SunDirection is the direction the sun shines in, w is unused
	SunDirection mgl32.Vec4
	// SunColor is the radiance of the sun, w is unused
	SunColor     mgl32.Vec4
	ViewPosition mgl32.Vec4

	ScreenSize      mgl32.Vec2
	ShadowIntensity float32
	// Mode is the DebugMode of the frame
	Mode int32
}

// NewGlobalUniformData fills the uniform from the active camera and the sun. Either may be nil.
func NewGlobalUniformData(active *camera.Camera, sun *shadow.DirectionalLight, lightSpace mgl32.Mat4, screenSize mgl32.Vec2, mode DebugMode) GlobalUniformData {
	data := GlobalUniformData{
		View:       mgl32.Ident4(),
		Projection: mgl32.Ident4(),
		LightSpace: lightSpace,
		ScreenSize: screenSize,
		Mode:       int32(mode),
	}

	if active != nil {
		data.View = active.View()
		data.Projection = active.Projection()
		data.ViewPosition = active.Position.Vec4(1)
	}

	if sun != nil && sun.Direction.Len() > 0 {
		data.SunDirection = sun.Direction.Normalize().Vec4(0)
		data.SunColor = sun.Radiance().Vec4(1)
		if sun.CastsShadows {
			data.ShadowIntensity = sun.ShadowIntensity
		}
	}

	return data
}
