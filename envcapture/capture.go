// Package envcapture renders the scene into a cube map from a fixed point by replaying the main render
// pass once per cube face, then convolves the captured cube into an irradiance cube for diffuse
// ambient lighting.
package envcapture

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
)

const (
	MaxResolution     = 2048
	DefaultResolution = 512
	// IrradianceResolution is the face size of every irradiance cube
	IrradianceResolution = 32

	DefaultNear = 0.1
	DefaultFar  = 100
)

// ErrInvalidResolution is returned for a capture resolution outside (0, MaxResolution]
var ErrInvalidResolution = errors.New("invalid environment capture resolution")

// CubeUsage is the usage of captured cubes: lit color attachment of the main pass, input attachment of
// its post subpass and sampled by the lighting of everything else
const CubeUsage = core1_0.ImageUsageColorAttachment | core1_0.ImageUsageInputAttachment | core1_0.ImageUsageSampled

// Scene is what a capture renders. The active camera is swapped for each face and restored afterwards.
type Scene interface {
	pipeline.Drawer
	ActiveCamera() *camera.Camera
	SetActiveCamera(c *camera.Camera)
	Update(deltaTime float32, updateDebugInput bool)
}

// Host is the part of the renderer a capture drives
type Host interface {
	MainPass() *pipeline.MainPass
	Scene() Scene
	// CaptureSets returns the shared sets every capture face binds. The environment set must not
	// reference the cube being captured.
	CaptureSets() map[pipeline.SetRole]*descriptor.Set
	// ScreenSize returns the screen dimensions of the global uniform
	ScreenSize() mgl32.Vec2
	// SetScreenSize changes the screen dimensions and rewrites the global uniform, including the view and
	// projection of the active camera
	SetScreenSize(size mgl32.Vec2) error
	// UpdateGlobals rewrites the global uniform from the active camera
	UpdateGlobals() error
}

type Options struct {
	Name string
	// Resolution is the face size of the captured cube. Zero means DefaultResolution.
	Resolution int
	// Near and Far are the clip planes of the face cameras. Zero means DefaultNear and DefaultFar.
	Near float32
	Far  float32
}

// Capture is an environment probe at a fixed world position. Its cube and irradiance cube persist
// between captures; everything else Capture needs is created for the duration of the call.
type Capture struct {
	ctx  *gpu.Context
	id   uuid.UUID
	name string

	position mgl32.Vec3
	near     float32
	far      float32

	resolution int
	// targetResolution is the face size cube, irradiance and depth were created at, zero before the
	// first capture
	targetResolution int
	captureCount     int

	cube       *resource.Texture
	irradiance *resource.Texture
	depth      *resource.Texture
}

func checkResolution(resolution int) error {
	if resolution <= 0 || resolution > MaxResolution {
		return errors.Wrapf(ErrInvalidResolution, "%d is outside 1..%d", resolution, MaxResolution)
	}
	return nil
}

// New creates a capture at position. Nothing is allocated until the first Capture call.
func New(ctx *gpu.Context, position mgl32.Vec3, options Options) (*Capture, error) {
	if options.Resolution == 0 {
		options.Resolution = DefaultResolution
	}
	if options.Near == 0 {
		options.Near = DefaultNear
	}
	if options.Far == 0 {
		options.Far = DefaultFar
	}
	err := checkResolution(options.Resolution)
	if err != nil {
		return nil, err
	}
	if options.Near >= options.Far {
		return nil, errors.Newf("environment capture near plane %g is not in front of far plane %g", options.Near, options.Far)
	}

	id := uuid.New()
	name := options.Name
	if name == "" {
		name = fmt.Sprintf("environment capture %s", id)
	}

	return &Capture{
		ctx:        ctx,
		id:         id,
		name:       name,
		position:   position,
		near:       options.Near,
		far:        options.Far,
		resolution: options.Resolution,
	}, nil
}

func (c *Capture) ID() uuid.UUID { return c.id }

func (c *Capture) Name() string { return c.name }

func (c *Capture) Position() mgl32.Vec3 { return c.position }

func (c *Capture) SetPosition(position mgl32.Vec3) { c.position = position }

// Resolution returns the face size the next capture renders at
func (c *Capture) Resolution() int { return c.resolution }

// SetResolution changes the face size of the next capture. The cubes are recreated by Capture.
func (c *Capture) SetResolution(resolution int) error {
	err := checkResolution(resolution)
	if err != nil {
		return err
	}
	c.resolution = resolution
	return nil
}

// Captured reports whether the cubes hold a completed capture
func (c *Capture) Captured() bool { return c.captureCount > 0 && c.cube != nil }

// CaptureCount returns how many captures completed
func (c *Capture) CaptureCount() int { return c.captureCount }

// Cube returns the captured cube, or nil before the first capture
func (c *Capture) Cube() *resource.Texture { return c.cube }

// Irradiance returns the irradiance cube, or nil before the first capture
func (c *Capture) Irradiance() *resource.Texture { return c.irradiance }

// WriteEnvironment points the cube and irradiance bindings of an environment set at this capture
func (c *Capture) WriteEnvironment(set *descriptor.Set) error {
	if !c.Captured() {
		return errors.Newf("environment capture %q has not been captured", c.name)
	}
	err := set.WriteTexture(pipeline.BindingEnvironmentCube, c.cube)
	if err != nil {
		return err
	}
	return set.WriteTexture(pipeline.BindingEnvironmentIrradiance, c.irradiance)
}

func (c *Capture) destroyTargets() error {
	var err error
	for _, texture := range []*resource.Texture{c.cube, c.irradiance, c.depth} {
		if texture != nil {
			err = errors.CombineErrors(err, texture.Destroy())
		}
	}
	c.cube = nil
	c.irradiance = nil
	c.depth = nil
	c.targetResolution = 0
	return err
}

// ensureTargets recreates the cubes and the depth target when the resolution changed since they were
// created
func (c *Capture) ensureTargets() error {
	if c.targetResolution == c.resolution {
		return nil
	}

	c.captureCount = 0
	err := c.destroyTargets()
	if err != nil {
		return err
	}

	c.cube, err = resource.CreateCube(c.ctx, c.name+" cube", c.resolution, pipeline.LitColorFormat, CubeUsage)
	if err == nil {
		c.irradiance, err = resource.CreateCube(c.ctx, c.name+" irradiance", IrradianceResolution,
			pipeline.LitColorFormat, core1_0.ImageUsageColorAttachment|core1_0.ImageUsageSampled)
	}
	if err == nil {
		c.depth, err = resource.Create(c.ctx, resource.CreateInfo{
			Name:    c.name + " depth",
			Width:   c.resolution,
			Height:  c.resolution,
			Format:  c.ctx.DepthFormat,
			Usage:   core1_0.ImageUsageDepthStencilAttachment,
			Sampler: resource.SamplerNone,
		})
	}
	if err != nil {
		return errors.CombineErrors(err, c.destroyTargets())
	}

	c.targetResolution = c.resolution
	return nil
}

// Capture renders the scene into the six faces of the cube from the capture position, then convolves
// the irradiance cube. The scene's active camera and the global screen size are restored on every exit
// path, and a restore failure is combined with the capture error.
func (c *Capture) Capture(host Host) (err error) {
	scene := host.Scene()
	if scene == nil {
		return errors.Newf("environment capture %q has no scene to capture", c.name)
	}

	err = c.ensureTargets()
	if err != nil {
		return errors.Wrapf(err, "failed to create targets of environment capture %q", c.name)
	}

	faces, err := newFaceTargets(c, host.MainPass())
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary targets of environment capture %q", c.name)
	}
	defer func() {
		err = errors.CombineErrors(err, faces.destroy())
	}()

	savedCamera := scene.ActiveCamera()
	savedSize := host.ScreenSize()
	defer func() {
		scene.SetActiveCamera(savedCamera)
		err = errors.CombineErrors(err, host.SetScreenSize(savedSize))
	}()

	resolution := float32(c.resolution)
	err = host.SetScreenSize(mgl32.Vec2{resolution, resolution})
	if err != nil {
		return err
	}

	for face := 0; face < camera.FaceCount; face++ {
		scene.SetActiveCamera(camera.Face(face, c.position, c.near, c.far))
		scene.Update(0, false)

		err = host.UpdateGlobals()
		if err != nil {
			return err
		}

		err = c.ctx.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
			return host.MainPass().Record(cmd, faces.pass(face, host.CaptureSets()), scene)
		})
		if err != nil {
			return errors.Wrapf(err, "failed to capture face %d of %q", face, c.name)
		}
	}

	c.cube.MarkLayout(core1_0.ImageLayoutShaderReadOnlyOptimal)
	c.depth.MarkLayout(core1_0.ImageLayoutDepthStencilAttachmentOptimal)

	err = c.convolve()
	if err != nil {
		return errors.Wrapf(err, "failed to convolve irradiance of %q", c.name)
	}

	c.captureCount++
	c.ctx.Logger.Debug("environment captured",
		slog.String("capture", c.name),
		slog.Int("resolution", c.resolution),
		slog.Any("position", c.position),
	)
	return nil
}

// Destroy releases the cubes and the depth target. The capture can be captured again afterwards.
func (c *Capture) Destroy() error {
	c.captureCount = 0
	return c.destroyTargets()
}
