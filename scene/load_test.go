package scene_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/deferred/scene"
)

func sceneFiles(t *testing.T) fstest.MapFS {
	return fstest.MapFS{
		"scene.json":         &fstest.MapFile{Data: []byte(sceneFile)},
		"meshes/quad.obj":    &fstest.MapFile{Data: []byte(quadOBJ)},
		"meshes/quad.mtl":    &fstest.MapFile{Data: []byte(quadMTL)},
		"meshes/tiles.png":   &fstest.MapFile{Data: encodedCheckerboard(t)},
		"textures/bumps.png": &fstest.MapFile{Data: encodedCheckerboard(t)},
	}
}

func TestLoadFile(t *testing.T) {
	f := newFixture(t)
	images := f.h.Live("Image")

	s, err := scene.LoadFile(context.Background(), f.h.Context, sceneFiles(t), f.resources, "scene.json", 2)
	require.NoError(t, err)

	require.Equal(t, 2, s.ActorCount())
	actors := s.Actors()
	require.Equal(t, "floor", actors[0].Name())
	// unnamed actors are named after their mesh
	require.Equal(t, "meshes/quad.obj", actors[1].Name())
	require.Same(t, actors[0].Mesh(), actors[1].Mesh())
	require.Equal(t, mgl32.Vec3{0, 1, 0}, actors[1].Position())

	require.NotNil(t, actors[0].Material().Texture(scene.SlotColor))
	require.Nil(t, actors[0].Material().Texture(scene.SlotNormal))
	require.NotNil(t, actors[1].Material().Texture(scene.SlotNormal))

	// one color texture per actor and the second actor's normal map
	require.Equal(t, images+3, f.h.Live("Image"))

	require.Len(t, s.PointLights(), 2)
	require.Len(t, s.EnvironmentCaptures(), 1)
	require.Equal(t, "middle", s.EnvironmentCaptures()[0].Name())
	require.True(t, s.DirectionalLight().CastsShadows)

	cam := s.ActiveCamera()
	require.NotNil(t, cam)
	require.Equal(t, float32(2), cam.Aspect)
	require.Equal(t, mgl32.Vec3{0, 2, 8}, cam.Position)

	require.NoError(t, s.Destroy())
	require.Equal(t, images, f.h.Live("Image"))
	f.release(t)
}

func TestLoadFailureReleasesEverything(t *testing.T) {
	f := newFixture(t)
	buffers := f.h.Live("Buffer")

	files := sceneFiles(t)
	files["scene.json"] = &fstest.MapFile{Data: []byte(`{
		"actors": [{"mesh": "meshes/quad.obj"}],
		"captures": [{"resolution": 100000}]
	}`)}

	_, err := scene.LoadFile(context.Background(), f.h.Context, files, f.resources, "scene.json", 1)
	require.Error(t, err)
	require.Equal(t, buffers, f.h.Live("Buffer"))
	require.Equal(t, 0, f.h.Live("DescriptorSetLayout"))

	_, err = scene.LoadFile(context.Background(), f.h.Context, files, f.resources, "missing.json", 1)
	require.Error(t, err)

	f.release(t)
}
