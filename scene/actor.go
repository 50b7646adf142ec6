package scene

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
)

// InstanceUniformSize is the std140 size of InstanceUniform
const InstanceUniformSize = 128

// InstanceUniform is binding 0 of an actor's instance set
type InstanceUniform struct {
	Model mgl32.Mat4
	// Normal is the inverse transpose of Model
	Normal mgl32.Mat4
}

// Actor is one mesh drawn with one material at one transform
type Actor struct {
	scene    *Scene
	id       uuid.UUID
	name     string
	mesh     *resource.Mesh
	material *Material

	position mgl32.Vec3
	rotation mgl32.Quat
	scale    mgl32.Vec3
	// dirty is set when the transform changed since the uniform was last written
	dirty bool

	uniform *resource.Buffer
	set     *descriptor.Set
}

func newActor(s *Scene, name string, mesh *resource.Mesh, material *Material) (*Actor, error) {
	a := &Actor{
		scene:    s,
		id:       uuid.New(),
		name:     name,
		mesh:     mesh,
		material: material,
		rotation: mgl32.QuatIdent(),
		scale:    mgl32.Vec3{1, 1, 1},
		dirty:    true,
	}

	err := a.create()
	if err != nil {
		return nil, errors.CombineErrors(err, a.destroy())
	}
	return a, nil
}

func (a *Actor) create() error {
	ctx := a.scene.ctx

	var err error
	a.uniform, err = resource.NewUniformBuffer(ctx, a.name+" instance", InstanceUniformSize)
	if err != nil {
		return err
	}

	a.set, err = descriptor.Allocate(ctx, a.name+" instance", a.scene.instanceLayout)
	if err != nil {
		return err
	}
	err = a.set.WriteUniform(0, a.uniform)
	if err != nil {
		return err
	}

	material := a.material
	if material == nil {
		material = NewMaterial(a.name + " default")
	}
	err = material.write(a.set, a.scene.resources.Defaults)
	if err != nil {
		return err
	}

	return a.flush()
}

func (a *Actor) ID() uuid.UUID { return a.id }

func (a *Actor) Name() string { return a.name }

func (a *Actor) Mesh() *resource.Mesh { return a.mesh }

func (a *Actor) Material() *Material { return a.material }

func (a *Actor) Position() mgl32.Vec3 { return a.position }

func (a *Actor) SetPosition(position mgl32.Vec3) {
	a.position = position
	a.dirty = true
}

func (a *Actor) SetRotation(rotation mgl32.Quat) {
	a.rotation = rotation.Normalize()
	a.dirty = true
}

func (a *Actor) SetScale(scale mgl32.Vec3) {
	a.scale = scale
	a.dirty = true
}

// Transform returns the model matrix: scale, then rotation, then translation
func (a *Actor) Transform() mgl32.Mat4 {
	return mgl32.Translate3D(a.position.X(), a.position.Y(), a.position.Z()).
		Mul4(a.rotation.Mat4()).
		Mul4(mgl32.Scale3D(a.scale.X(), a.scale.Y(), a.scale.Z()))
}

func (a *Actor) flush() error {
	if !a.dirty {
		return nil
	}

	model := a.Transform()
	err := a.uniform.WriteData(InstanceUniform{
		Model:  model,
		Normal: model.Inv().Transpose(),
	})
	if err != nil {
		return err
	}
	a.dirty = false
	return nil
}

func (a *Actor) draw(cmd core1_0.CommandBuffer, p *pipeline.Pipeline) error {
	if a.set == nil {
		return errors.AssertionFailedf("actor %q drawn after it was destroyed", a.name)
	}

	err := a.flush()
	if err != nil {
		return err
	}
	err = p.BindSet(cmd, pipeline.RoleInstance, a.set)
	if err != nil {
		return err
	}
	a.mesh.Draw(cmd)
	return nil
}

func (a *Actor) destroy() error {
	var err error
	if a.set != nil {
		err = a.set.Free()
		a.set = nil
	}
	if a.uniform != nil {
		err = errors.CombineErrors(err, a.uniform.Destroy())
		a.uniform = nil
	}
	return err
}
