package resource

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/deferred/gpu"
)

// SphereGeometry builds a unit UV sphere with rings latitude bands and segments longitude bands. Both
// are clamped to a minimum of 3.
func SphereGeometry(rings, segments int) ([]Vertex, []uint32) {
	rings = max(rings, 3)
	segments = max(segments, 3)

	vertices := make([]Vertex, 0, (rings+1)*(segments+1))
	for ring := 0; ring <= rings; ring++ {
		v := float32(ring) / float32(rings)
		theta := float64(v) * math.Pi

		for segment := 0; segment <= segments; segment++ {
			u := float32(segment) / float32(segments)
			phi := float64(u) * 2 * math.Pi

			normal := mgl32.Vec3{
				float32(math.Sin(theta) * math.Cos(phi)),
				float32(math.Cos(theta)),
				float32(math.Sin(theta) * math.Sin(phi)),
			}
			vertices = append(vertices, Vertex{
				Position: normal,
				Normal:   normal,
				TexCoord: mgl32.Vec2{u, v},
			})
		}
	}

	indices := make([]uint32, 0, rings*segments*6)
	stride := uint32(segments + 1)
	for ring := uint32(0); ring < uint32(rings); ring++ {
		for segment := uint32(0); segment < uint32(segments); segment++ {
			topLeft := ring*stride + segment
			bottomLeft := topLeft + stride

			indices = append(indices,
				topLeft, topLeft+1, bottomLeft,
				bottomLeft, topLeft+1, bottomLeft+1,
			)
		}
	}

	return vertices, indices
}

// NewSphere uploads a unit UV sphere, used as the light volume of point lights
func NewSphere(ctx *gpu.Context, name string, rings, segments int) (*Mesh, error) {
	vertices, indices := SphereGeometry(rings, segments)
	return NewMesh(ctx, name, vertices, indices)
}
