package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
)

// Vertex is the vertex format of every mesh the renderer draws
type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	TexCoord mgl32.Vec2
}

// VertexBindings describes the single interleaved vertex buffer meshes are drawn from
func VertexBindings() []core1_0.VertexInputBindingDescription {
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(Vertex{})),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

// VertexAttributes describes position, normal and texture coordinate at locations 0, 1 and 2. When
// positionOnly is true only the position attribute is returned, for depth-only passes.
func VertexAttributes(positionOnly bool) []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	attributes := []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
	}
	if positionOnly {
		return attributes
	}

	return append(attributes,
		core1_0.VertexInputAttributeDescription{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Normal)),
		},
		core1_0.VertexInputAttributeDescription{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	)
}

// Mesh is an indexed triangle list in device local vertex and index buffers
type Mesh struct {
	name       string
	ctx        *gpu.Context
	vertices   *Buffer
	indices    *Buffer
	indexCount int
}

// NewMesh uploads vertices and indices. It fails for empty meshes.
func NewMesh(ctx *gpu.Context, name string, vertices []Vertex, indices []uint32) (*Mesh, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, errors.Newf("mesh %q has no vertex or index data", name)
	}
	for _, index := range indices {
		if int(index) >= len(vertices) {
			return nil, errors.Newf("mesh %q references vertex %d but has %d vertices", name, index, len(vertices))
		}
	}

	vertexData, err := Encode(vertices)
	if err != nil {
		return nil, err
	}
	indexData, err := Encode(indices)
	if err != nil {
		return nil, err
	}

	vertexBuffer, err := UploadBuffer(ctx, name+" vertices", vertexData, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return nil, err
	}

	indexBuffer, err := UploadBuffer(ctx, name+" indices", indexData, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		return nil, errors.CombineErrors(err, vertexBuffer.Destroy())
	}

	return &Mesh{
		name:       name,
		ctx:        ctx,
		vertices:   vertexBuffer,
		indices:    indexBuffer,
		indexCount: len(indices),
	}, nil
}

func (m *Mesh) Name() string { return m.name }

func (m *Mesh) IndexCount() int { return m.indexCount }

// Draw binds the mesh buffers and records one indexed draw
func (m *Mesh) Draw(cmd core1_0.CommandBuffer) {
	driver := m.ctx.Driver
	driver.CmdBindVertexBuffers(cmd, 0, []core1_0.Buffer{m.vertices.Handle()}, []int{0})
	driver.CmdBindIndexBuffer(cmd, m.indices.Handle(), 0, core1_0.IndexTypeUInt32)
	driver.CmdDrawIndexed(cmd, m.indexCount, 1, 0, 0, 0)
}

// Destroy releases both buffers
func (m *Mesh) Destroy() error {
	return errors.CombineErrors(m.vertices.Destroy(), m.indices.Destroy())
}
