// Package camera holds the perspective camera shared by the scene, environment captures and the
// renderer, and the six cube face cameras captures render with.
package camera

import (
	"github.com/go-gl/mathgl/mgl32"
)

// VulkanClip converts OpenGL clip space, as produced by mgl32.Perspective and mgl32.Ortho, to Vulkan
// clip space: y points down and depth runs from 0 to 1.
var VulkanClip = mgl32.Mat4{1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 0.5, 0, 0, 0, 0.5, 1}

// CubeClip only remaps depth to Vulkan's 0 to 1 range. Cube face cameras use it so the first row of a
// face image is the top of the face as cube map sampling reads it (t = 0). The image is mirrored
// compared to VulkanClip, which reverses triangle winding: pipelines drawing into cube faces must use
// clockwise front faces.
var CubeClip = mgl32.Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0.5, 0, 0, 0, 0.5, 1}

// Camera is a perspective camera. View and Projection are recomputed by Update, so changes to the
// exported fields take effect on the next Update.
type Camera struct {
	Position mgl32.Vec3
	Forward  mgl32.Vec3
	Up       mgl32.Vec3

	// FOV is the vertical field of view in radians
	FOV    float32
	Aspect float32
	Near   float32
	Far    float32

	cubeFace   bool
	view       mgl32.Mat4
	projection mgl32.Mat4
}

// New creates a camera and computes its matrices
func New(position, forward, up mgl32.Vec3, fovDegrees, aspect, near, far float32) *Camera {
	c := &Camera{
		Position: position,
		Forward:  forward,
		Up:       up,
		FOV:      mgl32.DegToRad(fovDegrees),
		Aspect:   aspect,
		Near:     near,
		Far:      far,
	}
	c.Update()
	return c
}

// Update recomputes the view and projection matrices from the exported fields
func (c *Camera) Update() {
	forward := c.Forward
	if forward.Len() == 0 {
		forward = mgl32.Vec3{0, 0, -1}
	}
	c.view = mgl32.LookAtV(c.Position, c.Position.Add(forward.Normalize()), c.Up)
	clip := VulkanClip
	if c.cubeFace {
		clip = CubeClip
	}
	c.projection = clip.Mul4(mgl32.Perspective(c.FOV, c.Aspect, c.Near, c.Far))
}

// IsCubeFace reports whether the camera was created by Face and projects with CubeClip
func (c *Camera) IsCubeFace() bool { return c.cubeFace }

func (c *Camera) View() mgl32.Mat4 { return c.view }

// Projection returns the projection matrix, already in Vulkan clip space
func (c *Camera) Projection() mgl32.Mat4 { return c.projection }

func (c *Camera) ViewProjection() mgl32.Mat4 { return c.projection.Mul4(c.view) }

// Move translates the camera along its own axes: x to the right, y up and z forward
func (c *Camera) Move(delta mgl32.Vec3) {
	forward := c.Forward.Normalize()
	right := forward.Cross(c.Up).Normalize()
	up := right.Cross(forward)

	c.Position = c.Position.
		Add(right.Mul(delta.X())).
		Add(up.Mul(delta.Y())).
		Add(forward.Mul(delta.Z()))
}

// Rotate turns the camera by yaw around its up vector, then by pitch around its right vector. Both are
// in radians. Pitch stops short of the up vector so the view never flips.
func (c *Camera) Rotate(yaw, pitch float32) {
	up := c.Up.Normalize()
	forward := mgl32.HomogRotate3D(yaw, up).Mul4x1(c.Forward.Normalize().Vec4(0)).Vec3()

	right := forward.Cross(up).Normalize()
	pitched := mgl32.HomogRotate3D(pitch, right).Mul4x1(forward.Vec4(0)).Vec3()
	if mgl32.Abs(pitched.Normalize().Dot(up)) < 0.99 {
		forward = pitched
	}

	c.Forward = forward.Normalize()
}

// Clone returns a copy of the camera
func (c *Camera) Clone() *Camera {
	clone := *c
	return &clone
}

// FaceCount is the number of faces of a cube
const FaceCount = 6

type faceAxes struct {
	forward mgl32.Vec3
	up      mgl32.Vec3
}

// Forward and up vectors of +X, -X, +Y, -Y, +Z and -Z in cube map layer order. The up vectors point
// at the bottom row of each face (t = 1), which CubeClip maps to the last row of the image.
var faces = [FaceCount]faceAxes{
	{forward: mgl32.Vec3{1, 0, 0}, up: mgl32.Vec3{0, -1, 0}},
	{forward: mgl32.Vec3{-1, 0, 0}, up: mgl32.Vec3{0, -1, 0}},
	{forward: mgl32.Vec3{0, 1, 0}, up: mgl32.Vec3{0, 0, 1}},
	{forward: mgl32.Vec3{0, -1, 0}, up: mgl32.Vec3{0, 0, -1}},
	{forward: mgl32.Vec3{0, 0, 1}, up: mgl32.Vec3{0, -1, 0}},
	{forward: mgl32.Vec3{0, 0, -1}, up: mgl32.Vec3{0, -1, 0}},
}

// Face returns a camera at position looking through one face of a cube: a 90 degree field of view with
// a square aspect, so the six faces cover every direction exactly once. It projects with CubeClip.
func Face(face int, position mgl32.Vec3, near, far float32) *Camera {
	axes := faces[((face%FaceCount)+FaceCount)%FaceCount]
	c := New(position, axes.forward, axes.up, 90, 1, near, far)
	c.cubeFace = true
	c.Update()
	return c
}
