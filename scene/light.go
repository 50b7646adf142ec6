package scene

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
)

const (
	// DefaultLightRadius is the radius of point lights created without one
	DefaultLightRadius = 5

	// LightUniformSize is the std140 size of LightUniform
	LightUniformSize = 96
)

type PointLightInfo struct {
	Position  mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32
	// Radius is the distance the light reaches and the scale of its light volume. Zero means
	// DefaultLightRadius.
	Radius float32
}

// LightUniform is binding 0 of a point light's light set
type LightUniform struct {
	// Model places the unit light volume sphere
	Model          mgl32.Mat4
	PositionRadius mgl32.Vec4
	ColorIntensity mgl32.Vec4
}

// PointLight is a light drawn as a sphere volume in the lighting subpass
type PointLight struct {
	scene *Scene
	info  PointLightInfo
	dirty bool

	uniform *resource.Buffer
	set     *descriptor.Set
}

func newPointLight(s *Scene, info PointLightInfo) (*PointLight, error) {
	if info.Radius == 0 {
		info.Radius = DefaultLightRadius
	}
	if info.Radius < 0 || info.Intensity < 0 {
		return nil, errors.Newf("point light has negative radius %g or intensity %g", info.Radius, info.Intensity)
	}

	l := &PointLight{scene: s, info: info, dirty: true}
	err := l.create()
	if err != nil {
		return nil, errors.CombineErrors(err, l.destroy())
	}
	return l, nil
}

func (l *PointLight) create() error {
	ctx := l.scene.ctx

	var err error
	l.uniform, err = resource.NewUniformBuffer(ctx, "point light", LightUniformSize)
	if err != nil {
		return err
	}
	l.set, err = descriptor.Allocate(ctx, "point light", l.scene.lightLayout)
	if err != nil {
		return err
	}
	err = l.set.WriteUniform(0, l.uniform)
	if err != nil {
		return err
	}
	return l.flush()
}

func (l *PointLight) Info() PointLightInfo { return l.info }

func (l *PointLight) SetPosition(position mgl32.Vec3) {
	l.info.Position = position
	l.dirty = true
}

func (l *PointLight) SetColor(color mgl32.Vec3, intensity float32) {
	l.info.Color = color
	l.info.Intensity = intensity
	l.dirty = true
}

// Uniform returns the uniform the light is drawn with
func (l *PointLight) Uniform() LightUniform {
	position := l.info.Position
	radius := l.info.Radius
	return LightUniform{
		Model: mgl32.Translate3D(position.X(), position.Y(), position.Z()).
			Mul4(mgl32.Scale3D(radius, radius, radius)),
		PositionRadius: position.Vec4(radius),
		ColorIntensity: l.info.Color.Vec4(l.info.Intensity),
	}
}

func (l *PointLight) flush() error {
	if !l.dirty {
		return nil
	}
	err := l.uniform.WriteData(l.Uniform())
	if err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func (l *PointLight) draw(cmd core1_0.CommandBuffer, p *pipeline.Pipeline) error {
	if l.set == nil || l.uniform == nil {
		return errors.AssertionFailedf("point light drawn before its resources exist")
	}

	err := l.flush()
	if err != nil {
		return err
	}
	err = p.BindSet(cmd, pipeline.RoleLight, l.set)
	if err != nil {
		return err
	}
	l.scene.resources.LightVolume.Draw(cmd)
	return nil
}

func (l *PointLight) destroy() error {
	var err error
	if l.set != nil {
		err = l.set.Free()
		l.set = nil
	}
	if l.uniform != nil {
		err = errors.CombineErrors(err, l.uniform.Destroy())
		l.uniform = nil
	}
	return err
}
