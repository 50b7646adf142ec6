package scene

import (
	"context"
	"image"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/envcapture"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/resource"
	"golang.org/x/sync/errgroup"
)

// LoadFile reads the scene file at path in fsys and loads it, see Load
func LoadFile(ctx context.Context, gpuCtx *gpu.Context, fsys fs.FS, resources Resources, path string, aspect float32) (*Scene, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scene %s", path)
	}
	description, err := ParseDescription(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scene %s", path)
	}
	return Load(ctx, gpuCtx, fsys, resources, description, aspect)
}

// decodeMeshes decodes every distinct mesh of the description concurrently
func decodeMeshes(ctx context.Context, fsys fs.FS, description Description) (map[string]MeshData, error) {
	var paths []string
	seen := make(map[string]struct{})
	for _, actor := range description.Actors {
		if _, ok := seen[actor.Mesh]; !ok {
			seen[actor.Mesh] = struct{}{}
			paths = append(paths, actor.Mesh)
		}
	}

	decoded := make([]MeshData, len(paths))
	group, ctx := errgroup.WithContext(ctx)
	for index, path := range paths {
		group.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var err error
			decoded[index], err = LoadOBJ(fsys, path)
			return err
		})
	}
	err := group.Wait()
	if err != nil {
		return nil, err
	}

	meshes := make(map[string]MeshData, len(paths))
	for index, path := range paths {
		meshes[path] = decoded[index]
	}
	return meshes, nil
}

// actorTextures returns the texture paths of an actor by slot. The description overrides the diffuse
// map of the mesh's material library.
func actorTextures(actor ActorDescription, mesh MeshData) map[TextureSlot]string {
	textures := make(map[TextureSlot]string, len(actor.Textures)+1)
	if mesh.ColorTexture != "" {
		textures[SlotColor] = mesh.ColorTexture
	}
	for slot, path := range actor.Textures {
		textures[slot] = path
	}
	return textures
}

// Load builds a scene from a description. Meshes and textures are decoded concurrently before anything
// is uploaded; uploads happen on the calling goroutine. Paths are relative to fsys. aspect is the aspect
// ratio of the scene camera.
func Load(ctx context.Context, gpuCtx *gpu.Context, fsys fs.FS, resources Resources, description Description, aspect float32) (*Scene, error) {
	meshData, err := decodeMeshes(ctx, fsys, description)
	if err != nil {
		return nil, err
	}

	var texturePaths []string
	seen := make(map[string]struct{})
	for _, actor := range description.Actors {
		for _, path := range actorTextures(actor, meshData[actor.Mesh]) {
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				texturePaths = append(texturePaths, path)
			}
		}
	}
	sort.Strings(texturePaths)

	decoded, err := DecodeImages(ctx, fsys, texturePaths)
	if err != nil {
		return nil, err
	}
	images := make(map[string]image.Image, len(texturePaths))
	for index, path := range texturePaths {
		images[path] = decoded[index]
	}

	s, err := New(gpuCtx, resources)
	if err != nil {
		return nil, err
	}

	err = s.populate(description, meshData, images, aspect)
	if err != nil {
		return nil, errors.CombineErrors(err, s.Destroy())
	}

	gpuCtx.Logger.Info("scene loaded",
		slog.Int("actors", s.ActorCount()),
		slog.Int("lights", len(s.lights)),
		slog.Int("captures", len(s.captures)),
		slog.Int("textures", len(texturePaths)))
	return s, nil
}

func (s *Scene) populate(description Description, meshData map[string]MeshData, images map[string]image.Image, aspect float32) error {
	meshes := make(map[string]*resource.Mesh, len(meshData))
	for path, data := range meshData {
		mesh, err := resource.NewMesh(s.ctx, path, data.Vertices, data.Indices)
		if err != nil {
			return err
		}
		s.AddMesh(mesh)
		meshes[path] = mesh
	}

	for index, actorDescription := range description.Actors {
		name := actorDescription.Name
		if name == "" {
			name = actorDescription.Mesh
		}

		material := NewMaterial(name)
		s.AddMaterial(material)
		for slot, path := range actorTextures(actorDescription, meshData[actorDescription.Mesh]) {
			texture, err := resource.FromImage(s.ctx, path, images[path])
			if err != nil {
				return errors.Wrapf(err, "actor %d", index)
			}
			err = material.SetTexture(slot, texture)
			if err != nil {
				return err
			}
		}

		actor, err := s.AddActor(name, meshes[actorDescription.Mesh], material)
		if err != nil {
			return err
		}
		actor.SetPosition(actorDescription.Position)
		actor.SetScale(actorDescription.Scale)
	}

	for _, light := range description.Lights {
		_, err := s.AddPointLight(light)
		if err != nil {
			return err
		}
	}

	for _, captureDescription := range description.Captures {
		capture, err := envcapture.New(s.ctx, captureDescription.Position, envcapture.Options{
			Name:       captureDescription.Name,
			Resolution: captureDescription.Resolution,
		})
		if err != nil {
			return errors.Wrapf(err, "capture %q", captureDescription.Name)
		}
		s.AddEnvironmentCapture(capture)
	}

	if description.Sun != nil {
		sun := *description.Sun
		s.SetDirectionalLight(&sun)
	}

	cam := description.Camera
	s.SetActiveCamera(camera.New(cam.Position, cam.Forward, mgl32.Vec3{0, 1, 0}, cam.FOV, aspect, cam.Near, cam.Far))
	return nil
}
