// Package scene is a small scene graph the renderer can draw: actors with a mesh and a material, point
// lights drawn as light volumes, one directional light and the environment captures of the scene.
//
// A Scene is not safe for concurrent use. Only Load decodes files off the calling goroutine, and it
// does so before any Vulkan call is made.
package scene

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/envcapture"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
	"github.com/vkngwrapper/deferred/shadow"
)

// Resources are the renderer owned objects a scene draws with. They must outlive the scene.
type Resources struct {
	Defaults    *resource.Defaults
	LightVolume *resource.Mesh
}

// Scene owns its actors, point lights, meshes, materials and captures. The active camera and the
// directional light are plain values the caller may change at any time.
type Scene struct {
	ctx       *gpu.Context
	resources Resources

	instanceLayout core1_0.DescriptorSetLayout
	lightLayout    core1_0.DescriptorSetLayout

	actors *swiss.Map[uuid.UUID, *Actor]
	// order is the draw order of actors, which is their insertion order
	order  []uuid.UUID
	lights []*PointLight

	meshes    []*resource.Mesh
	materials []*Material
	captures  []*envcapture.Capture

	active *camera.Camera
	sun    *shadow.DirectionalLight

	destroyed bool
}

// New creates an empty scene. The instance and light set layouts are owned by the scene so that
// actors and lights survive pipeline rebuilds.
func New(ctx *gpu.Context, resources Resources) (*Scene, error) {
	if resources.Defaults == nil || resources.LightVolume == nil {
		return nil, errors.New("scene needs the default textures and the light volume")
	}

	s := &Scene{
		ctx:       ctx,
		resources: resources,
		actors:    swiss.NewMap[uuid.UUID, *Actor](16),
	}

	var err error
	s.instanceLayout, err = pipeline.CreateSetLayout(ctx, pipeline.InstanceSet)
	if err != nil {
		return nil, err
	}
	s.lightLayout, err = pipeline.CreateSetLayout(ctx, pipeline.LightSet)
	if err != nil {
		ctx.Driver.DestroyDescriptorSetLayout(s.instanceLayout, nil)
		return nil, err
	}

	return s, nil
}

func (s *Scene) ActiveCamera() *camera.Camera { return s.active }

func (s *Scene) SetActiveCamera(c *camera.Camera) { s.active = c }

func (s *Scene) DirectionalLight() *shadow.DirectionalLight { return s.sun }

func (s *Scene) SetDirectionalLight(sun *shadow.DirectionalLight) { s.sun = sun }

func (s *Scene) EnvironmentCaptures() []*envcapture.Capture { return s.captures }

// ActorCount returns the number of actors in the scene
func (s *Scene) ActorCount() int { return s.actors.Count() }

// Actor returns the actor with id
func (s *Scene) Actor(id uuid.UUID) (*Actor, bool) {
	return s.actors.Get(id)
}

// Actors returns every actor in draw order
func (s *Scene) Actors() []*Actor {
	actors := make([]*Actor, 0, len(s.order))
	for _, id := range s.order {
		actor, _ := s.actors.Get(id)
		actors = append(actors, actor)
	}
	return actors
}

func (s *Scene) PointLights() []*PointLight { return s.lights }

// AddMesh hands ownership of a mesh to the scene
func (s *Scene) AddMesh(mesh *resource.Mesh) {
	s.meshes = append(s.meshes, mesh)
}

// AddMaterial hands ownership of a material and its textures to the scene
func (s *Scene) AddMaterial(material *Material) {
	s.materials = append(s.materials, material)
}

// AddEnvironmentCapture hands ownership of a capture to the scene
func (s *Scene) AddEnvironmentCapture(capture *envcapture.Capture) {
	s.captures = append(s.captures, capture)
}

// AddActor creates an actor drawing mesh with material. A nil material draws with the default
// textures. The scene does not take ownership of mesh or material, see AddMesh and AddMaterial.
func (s *Scene) AddActor(name string, mesh *resource.Mesh, material *Material) (*Actor, error) {
	if s.destroyed {
		return nil, errors.Newf("actor %q added to a destroyed scene", name)
	}
	if mesh == nil {
		return nil, errors.Newf("actor %q has no mesh", name)
	}

	actor, err := newActor(s, name, mesh, material)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create actor %q", name)
	}

	s.actors.Put(actor.id, actor)
	s.order = append(s.order, actor.id)
	s.ctx.Logger.Debug("actor added", slog.String("actor", name), slog.String("id", actor.id.String()))
	return actor, nil
}

// RemoveActor destroys the actor with id. It reports whether the actor existed.
func (s *Scene) RemoveActor(id uuid.UUID) (bool, error) {
	actor, ok := s.actors.Get(id)
	if !ok {
		return false, nil
	}

	s.actors.Delete(id)
	for i, ordered := range s.order {
		if ordered == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, actor.destroy()
}

// AddPointLight creates a point light and its light set
func (s *Scene) AddPointLight(light PointLightInfo) (*PointLight, error) {
	if s.destroyed {
		return nil, errors.New("point light added to a destroyed scene")
	}

	created, err := newPointLight(s, light)
	if err != nil {
		return nil, err
	}
	s.lights = append(s.lights, created)
	return created, nil
}

// Update refreshes the matrices of the active camera. The scene has no debug input, so
// updateDebugInput is ignored.
func (s *Scene) Update(_ float32, _ bool) {
	if s.active != nil {
		s.active.Update()
	}
}

// RenderGeometry draws every actor with p, binding each actor's instance set at the index p declares
// for it. Instance uniforms of moved actors are rewritten first.
func (s *Scene) RenderGeometry(cmd core1_0.CommandBuffer, p *pipeline.Pipeline) error {
	for _, id := range s.order {
		actor, _ := s.actors.Get(id)
		err := actor.draw(cmd, p)
		if err != nil {
			return errors.Wrapf(err, "actor %q", actor.name)
		}
	}
	return nil
}

// RenderLightVolumes draws the light volume of every point light with p
func (s *Scene) RenderLightVolumes(cmd core1_0.CommandBuffer, p *pipeline.Pipeline) error {
	for index, light := range s.lights {
		err := light.draw(cmd, p)
		if err != nil {
			return errors.Wrapf(err, "point light %d", index)
		}
	}
	return nil
}

// Destroy releases everything the scene owns. Destroying twice is a no-op.
func (s *Scene) Destroy() error {
	if s.destroyed {
		return nil
	}
	s.destroyed = true

	var err error
	for _, id := range s.order {
		actor, _ := s.actors.Get(id)
		err = errors.CombineErrors(err, actor.destroy())
	}
	s.actors = swiss.NewMap[uuid.UUID, *Actor](16)
	s.order = nil

	for _, light := range s.lights {
		err = errors.CombineErrors(err, light.destroy())
	}
	s.lights = nil

	for _, capture := range s.captures {
		err = errors.CombineErrors(err, capture.Destroy())
	}
	s.captures = nil

	for _, material := range s.materials {
		err = errors.CombineErrors(err, material.Destroy())
	}
	s.materials = nil

	for _, mesh := range s.meshes {
		err = errors.CombineErrors(err, mesh.Destroy())
	}
	s.meshes = nil

	s.ctx.Driver.DestroyDescriptorSetLayout(s.lightLayout, nil)
	s.ctx.Driver.DestroyDescriptorSetLayout(s.instanceLayout, nil)
	return err
}
