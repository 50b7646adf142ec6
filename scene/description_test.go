package scene_test

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/deferred/scene"
)

const sceneFile = `{
	"camera": {"position": [0, 2, 8], "forward": [0, 0, -1], "fov": 45},
	"sun": {"direction": [-1, -1, 0], "color": [1, 0.9, 0.8], "intensity": 3, "castsShadows": true, "shadowIntensity": 0.7},
	"actors": [
		{"name": "floor", "mesh": "meshes/quad.obj", "scale": [10, 1, 10]},
		{"mesh": "meshes/quad.obj", "position": [0, 1, 0], "textures": {"normal": "textures/bumps.png"}}
	],
	"lights": [
		{"position": [1, 1, 1], "color": [1, 0, 0], "radius": 3},
		{"position": [-1, 1, 1]}
	],
	"captures": [{"name": "middle", "position": [0, 1, 0], "resolution": 64}],
	"comment": {"ignored": [1, 2, 3]}
}`

func TestParseDescription(t *testing.T) {
	description, err := scene.ParseDescription([]byte(sceneFile))
	require.NoError(t, err)

	require.Equal(t, mgl32.Vec3{0, 2, 8}, description.Camera.Position)
	require.Equal(t, float32(45), description.Camera.FOV)
	// members missing from the file keep their defaults
	require.Equal(t, float32(0.1), description.Camera.Near)
	require.Equal(t, float32(100), description.Camera.Far)

	require.NotNil(t, description.Sun)
	require.Equal(t, mgl32.Vec3{-1, -1, 0}, description.Sun.Direction)
	require.Equal(t, float32(3), description.Sun.Intensity)
	require.True(t, description.Sun.CastsShadows)
	require.Equal(t, float32(0.7), description.Sun.ShadowIntensity)

	require.Len(t, description.Actors, 2)
	require.Equal(t, "floor", description.Actors[0].Name)
	require.Equal(t, mgl32.Vec3{10, 1, 10}, description.Actors[0].Scale)
	require.Equal(t, mgl32.Vec3{1, 1, 1}, description.Actors[1].Scale)
	require.Equal(t, map[scene.TextureSlot]string{scene.SlotNormal: "textures/bumps.png"}, description.Actors[1].Textures)

	require.Len(t, description.Lights, 2)
	require.Equal(t, float32(3), description.Lights[0].Radius)
	require.Equal(t, mgl32.Vec3{1, 1, 1}, description.Lights[1].Color)
	require.Equal(t, float32(1), description.Lights[1].Intensity)

	require.Equal(t, []scene.CaptureDescription{{Name: "middle", Position: mgl32.Vec3{0, 1, 0}, Resolution: 64}}, description.Captures)
}

func TestParseEmptyDescription(t *testing.T) {
	description, err := scene.ParseDescription([]byte(`{}`))
	require.NoError(t, err)
	require.Nil(t, description.Sun)
	require.Empty(t, description.Actors)
	require.Equal(t, float32(60), description.Camera.FOV)
}

func TestParseDescriptionErrors(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{name: "not json", data: `scene`},
		{name: "not an object", data: `[1, 2]`},
		{name: "short vector", data: `{"camera": {"position": [1, 2]}}`},
		{name: "vector of strings", data: `{"camera": {"position": ["a", "b", "c"]}}`},
		{name: "unknown texture slot", data: `{"actors": [{"mesh": "a.obj", "textures": {"glow": "g.png"}}]}`},
		{name: "actor without mesh", data: `{"actors": [{"name": "nothing"}]}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := scene.ParseDescription([]byte(testCase.data))
			require.Error(t, err)
		})
	}
}
