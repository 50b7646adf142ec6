package shadow

import (
	"github.com/go-gl/mathgl/mgl32"
)

// DirectionalLight is the sun of a scene. Direction points from the light towards the scene.
type DirectionalLight struct {
	Direction mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32

	CastsShadows bool
	// ShadowIntensity is how much light a fully shadowed surface loses, from 0 to 1
	ShadowIntensity float32
}

// Radiance is the color scaled by the intensity
func (l DirectionalLight) Radiance() mgl32.Vec3 {
	return l.Color.Mul(l.Intensity)
}
