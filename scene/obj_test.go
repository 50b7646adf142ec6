package scene_test

import (
	"bytes"
	"context"
	"image/png"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/deferred/scene"
)

const quadOBJ = `# unit quad
mtllib quad.mtl
o quad
v -1 0 -1
v 1 0 -1
v 1 0 1
v -1 0 1
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 1 0
usemtl tiles
f 1/1/1 4/4/1 3/3/1 2/2/1
`

const quadMTL = `newmtl tiles
Kd 1 1 1
map_Kd tiles.png
`

const triangleOBJ = `o triangle
v 0 0 0
v 1 0 0
v 0 0 -1
f 1 2 3
`

func TestDecodeOBJFansQuads(t *testing.T) {
	data, err := scene.DecodeOBJ(strings.NewReader(quadOBJ), strings.NewReader(quadMTL))
	require.NoError(t, err)

	require.Len(t, data.Vertices, 4)
	require.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, data.Indices)
	require.Equal(t, "tiles.png", data.ColorTexture)

	require.Equal(t, mgl32.Vec3{-1, 0, -1}, data.Vertices[0].Position)
	require.Equal(t, mgl32.Vec3{0, 1, 0}, data.Vertices[0].Normal)
	// texture coordinates are flipped to Vulkan's top-left origin
	require.Equal(t, mgl32.Vec2{0, 1}, data.Vertices[0].TexCoord)
	require.Equal(t, mgl32.Vec2{0, 0}, data.Vertices[1].TexCoord)
}

func TestDecodeOBJWithoutNormals(t *testing.T) {
	data, err := scene.DecodeOBJ(strings.NewReader(triangleOBJ), nil)
	require.NoError(t, err)

	require.Len(t, data.Vertices, 3)
	require.Empty(t, data.ColorTexture)
	for _, vertex := range data.Vertices {
		require.InDelta(t, 1, vertex.Normal.Y(), 1e-6)
	}
}

func TestDecodeOBJErrors(t *testing.T) {
	_, err := scene.DecodeOBJ(strings.NewReader("v 0 0 0\n"), nil)
	require.Error(t, err)

	_, err = scene.DecodeOBJ(strings.NewReader("o broken\nv 0 0 0\nf 1 2 3\n"), nil)
	require.Error(t, err)
}

func encodedCheckerboard(t *testing.T) []byte {
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, checkerboard(4, 4)))
	return encoded.Bytes()
}

func TestLoadOBJJoinsTexturePath(t *testing.T) {
	files := fstest.MapFS{
		"meshes/quad.obj": &fstest.MapFile{Data: []byte(quadOBJ)},
		"meshes/quad.mtl": &fstest.MapFile{Data: []byte(quadMTL)},
		"meshes/tri.obj":  &fstest.MapFile{Data: []byte(triangleOBJ)},
	}

	data, err := scene.LoadOBJ(files, "meshes/quad.obj")
	require.NoError(t, err)
	require.Equal(t, "meshes/tiles.png", data.ColorTexture)

	data, err = scene.LoadOBJ(files, "meshes/tri.obj")
	require.NoError(t, err)
	require.Empty(t, data.ColorTexture)

	_, err = scene.LoadOBJ(files, "meshes/missing.obj")
	require.Error(t, err)
}

func TestDecodeImages(t *testing.T) {
	files := fstest.MapFS{
		"a.png":      &fstest.MapFile{Data: encodedCheckerboard(t)},
		"b.png":      &fstest.MapFile{Data: encodedCheckerboard(t)},
		"broken.png": &fstest.MapFile{Data: []byte("not an image")},
	}

	images, err := scene.DecodeImages(context.Background(), files, []string{"a.png", "b.png"})
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Equal(t, 4, images[1].Bounds().Dx())

	_, err = scene.DecodeImages(context.Background(), files, []string{"a.png", "broken.png"})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = scene.DecodeImages(ctx, files, []string{"a.png"})
	require.ErrorIs(t, err, context.Canceled)
}
