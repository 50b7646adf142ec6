package scene

import (
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/deferred/resource"
)

// MeshData is the vertex and index data of a mesh before upload
type MeshData struct {
	Vertices []resource.Vertex
	Indices  []uint32
	// ColorTexture is the diffuse map of the first material that names one, relative to the OBJ file
	ColorTexture string
}

type vertexKey struct {
	position int
	uv       int
	normal   int
}

type meshBuilder struct {
	decoder *obj.Decoder
	data    MeshData
	unique  map[vertexKey]uint32
}

// attribute returns the index of an attribute of a face corner, or -1 when the corner has none
func (b *meshBuilder) attribute(indices []int, corner int, stride int, values int) int {
	if corner >= len(indices) {
		return -1
	}
	index := indices[corner]
	if index < 0 || index*stride+stride > values {
		return -1
	}
	return index
}

func (b *meshBuilder) hasNormals(face obj.Face) bool {
	for corner := range face.Vertices {
		if b.attribute(face.Normals, corner, 3, len(b.decoder.Normals)) < 0 {
			return false
		}
	}
	return true
}

func (b *meshBuilder) addCorner(face obj.Face, corner int) error {
	key := vertexKey{
		position: face.Vertices[corner],
		uv:       b.attribute(face.Uvs, corner, 2, len(b.decoder.Uvs)),
		normal:   b.attribute(face.Normals, corner, 3, len(b.decoder.Normals)),
	}

	index, ok := b.unique[key]
	if !ok {
		positions := b.decoder.Vertices
		if key.position < 0 || key.position*3+2 >= len(positions) {
			return errors.Newf("face references position %d of %d", key.position, len(positions)/3)
		}

		vertex := resource.Vertex{
			Position: mgl32.Vec3{positions[key.position*3], positions[key.position*3+1], positions[key.position*3+2]},
		}
		if key.uv >= 0 {
			vertex.TexCoord = mgl32.Vec2{b.decoder.Uvs[key.uv*2], 1.0 - b.decoder.Uvs[key.uv*2+1]}
		}
		if key.normal >= 0 {
			normals := b.decoder.Normals
			vertex.Normal = mgl32.Vec3{normals[key.normal*3], normals[key.normal*3+1], normals[key.normal*3+2]}
		}

		index = uint32(len(b.data.Vertices))
		b.data.Vertices = append(b.data.Vertices, vertex)
		b.unique[key] = index
	}

	b.data.Indices = append(b.data.Indices, index)
	return nil
}

// faceNormal is used for the corners of faces without normals
func faceNormal(vertices []resource.Vertex, a, b, c uint32) mgl32.Vec3 {
	normal := vertices[b].Position.Sub(vertices[a].Position).Cross(vertices[c].Position.Sub(vertices[a].Position))
	if normal.Len() == 0 {
		return mgl32.Vec3{0, 1, 0}
	}
	return normal.Normalize()
}

// DecodeOBJ reads a Wavefront OBJ mesh and its material library. Faces are fanned into triangles and
// vertices shared by faces are deduplicated. mtl may be nil.
func DecodeOBJ(mesh io.Reader, mtl io.Reader) (MeshData, error) {
	decoder, err := obj.DecodeReader(mesh, mtl)
	if err != nil {
		return MeshData{}, errors.Wrap(err, "failed to decode OBJ")
	}

	b := &meshBuilder{decoder: decoder, unique: make(map[vertexKey]uint32)}
	for _, object := range decoder.Objects {
		for _, face := range object.Faces {
			if b.data.ColorTexture == "" && face.Material != "" {
				material, ok := decoder.Materials[face.Material]
				if ok && material.MapKd != "" {
					b.data.ColorTexture = material.MapKd
				}
			}

			for corner := 2; corner < len(face.Vertices); corner++ {
				first := len(b.data.Indices)
				for _, c := range []int{0, corner - 1, corner} {
					err = b.addCorner(face, c)
					if err != nil {
						return MeshData{}, errors.Wrapf(err, "object %q", object.Name)
					}
				}

				if !b.hasNormals(face) {
					indices := b.data.Indices[first:]
					normal := faceNormal(b.data.Vertices, indices[0], indices[1], indices[2])
					for _, index := range indices {
						b.data.Vertices[index].Normal = normal
					}
				}
			}
		}
	}

	if len(b.data.Indices) == 0 {
		return MeshData{}, errors.New("OBJ has no faces")
	}
	return b.data, nil
}

// LoadOBJ decodes the OBJ file at name in fsys, with the material library next to it when one exists.
// The color texture path of the result is relative to fsys.
func LoadOBJ(fsys fs.FS, name string) (MeshData, error) {
	meshFile, err := fsys.Open(name)
	if err != nil {
		return MeshData{}, errors.Wrapf(err, "failed to open mesh %s", name)
	}
	defer meshFile.Close()

	var mtl io.Reader
	mtlName := strings.TrimSuffix(name, path.Ext(name)) + ".mtl"
	mtlFile, err := fsys.Open(mtlName)
	if err == nil {
		defer mtlFile.Close()
		mtl = mtlFile
	}

	data, err := DecodeOBJ(meshFile, mtl)
	if err != nil {
		return MeshData{}, errors.Wrapf(err, "mesh %s", name)
	}
	if data.ColorTexture != "" {
		data.ColorTexture = path.Join(path.Dir(name), data.ColorTexture)
	}
	return data, nil
}
