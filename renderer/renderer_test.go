package renderer_test

import (
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/camera"
	"github.com/vkngwrapper/deferred/envcapture"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/gpu/gputest"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/renderer"
	"github.com/vkngwrapper/deferred/shadow"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"go.uber.org/mock/gomock"
)

const swapchainImages = 3

type fakeWindow struct {
	width  int
	height int
}

func (w *fakeWindow) VulkanDriver() (core1_0.GlobalDriver, error) {
	return nil, errors.New("no vulkan in tests")
}

func (w *fakeWindow) RequiredInstanceExtensions() []string { return nil }

func (w *fakeWindow) CreateSurface(core1_0.Instance, khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return khr_surface.Surface{}, errors.New("no surfaces in tests")
}

func (w *fakeWindow) DrawableSize() (int, int) { return w.width, w.height }

type fakePresenter struct {
	live      int
	created   []renderer.Swapchain
	acquired  int
	presented []int

	// acquireOutOfDate and presentOutOfDate report an out of date swapchain that many times
	acquireOutOfDate int
	presentOutOfDate int
	createErr        error
}

func (p *fakePresenter) CreateSwapchain(width, height int) (renderer.Swapchain, error) {
	if p.createErr != nil {
		return renderer.Swapchain{}, p.createErr
	}
	p.live++
	swapchain := renderer.Swapchain{
		Format: core1_0.FormatB8G8R8A8SRGB,
		Width:  width,
		Height: height,
		Views:  make([]core1_0.ImageView, swapchainImages),
	}
	p.created = append(p.created, swapchain)
	return swapchain, nil
}

func (p *fakePresenter) DestroySwapchain() {
	if p.live > 0 {
		p.live--
	}
}

func (p *fakePresenter) AcquireImage(core1_0.Semaphore) (int, error) {
	if p.acquireOutOfDate > 0 {
		p.acquireOutOfDate--
		return 0, renderer.ErrSwapchainOutOfDate
	}
	index := p.acquired % swapchainImages
	p.acquired++
	return index, nil
}

func (p *fakePresenter) PresentImage(index int, _ core1_0.Semaphore) error {
	p.presented = append(p.presented, index)
	if p.presentOutOfDate > 0 {
		p.presentOutOfDate--
		return renderer.ErrSwapchainOutOfDate
	}
	return nil
}

type fakeDevice struct {
	ctx       *gpu.Context
	presenter *fakePresenter
	destroyed int
}

func (d *fakeDevice) Context() *gpu.Context { return d.ctx }

func (d *fakeDevice) Presenter() renderer.Presenter { return d.presenter }

func (d *fakeDevice) Destroy() error {
	d.destroyed++
	return d.ctx.Allocator.Destroy()
}

type fakeScene struct {
	active    *camera.Camera
	sun       *shadow.DirectionalLight
	captures  []*envcapture.Capture
	geometry  int
	volumes   int
	pipelines []string
}

func (s *fakeScene) RenderGeometry(_ core1_0.CommandBuffer, p *pipeline.Pipeline) error {
	s.geometry++
	s.pipelines = append(s.pipelines, p.Name())
	return nil
}

func (s *fakeScene) RenderLightVolumes(_ core1_0.CommandBuffer, p *pipeline.Pipeline) error {
	s.volumes++
	s.pipelines = append(s.pipelines, p.Name())
	return nil
}

func (s *fakeScene) ActiveCamera() *camera.Camera { return s.active }

func (s *fakeScene) SetActiveCamera(c *camera.Camera) { s.active = c }

func (s *fakeScene) Update(float32, bool) {}

func (s *fakeScene) DirectionalLight() *shadow.DirectionalLight { return s.sun }

func (s *fakeScene) EnvironmentCaptures() []*envcapture.Capture { return s.captures }

type fixture struct {
	h         *gputest.Harness
	window    *fakeWindow
	device    *fakeDevice
	presenter *fakePresenter
	renderer  *renderer.Renderer
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, gputest.Options{})
}

func newFixtureWith(t *testing.T, options gputest.Options) *fixture {
	f := &fixture{
		h:         gputest.New(t, options),
		window:    &fakeWindow{width: 1280, height: 720},
		presenter: &fakePresenter{},
	}
	f.device = &fakeDevice{ctx: f.h.Context, presenter: f.presenter}

	f.renderer = renderer.New(f.window, renderer.Options{
		Logger: f.h.Context.Logger,
		OpenDevice: func(window renderer.Window, _ *slog.Logger, _ renderer.Options) (renderer.Device, error) {
			return f.device, nil
		},
		Shadow:         shadow.Options{Resolution: 256},
		SphereRings:    4,
		SphereSegments: 8,
	})
	return f
}

func newScene() *fakeScene {
	return &fakeScene{
		active: camera.New(mgl32.Vec3{0, 2, 8}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}, 60, 16.0/9.0, 0.1, 100),
		sun: &shadow.DirectionalLight{
			Direction:       mgl32.Vec3{-1, -2, -1},
			Color:           mgl32.Vec3{1, 1, 1},
			Intensity:       3,
			CastsShadows:    true,
			ShadowIntensity: 0.8,
		},
	}
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t)
	r := f.renderer

	require.Equal(t, renderer.StateUninitialized, r.State())
	require.ErrorIs(t, r.Render(), renderer.ErrInvalidState)
	require.ErrorIs(t, r.RecreateSwapchain(), renderer.ErrInvalidState)
	require.ErrorIs(t, r.CaptureEnvironments(), renderer.ErrInvalidState)

	require.NoError(t, r.Initialize())
	require.Equal(t, renderer.StateReady, r.State())
	require.ErrorIs(t, r.Initialize(), renderer.ErrInvalidState)

	// without a scene nothing is drawn
	require.NoError(t, r.Render())
	require.Zero(t, f.presenter.acquired)

	require.NoError(t, r.Destroy())
	require.Equal(t, renderer.StateDestroyed, r.State())
	require.NoError(t, r.Destroy())
	require.Equal(t, 1, f.device.destroyed)

	require.ErrorIs(t, r.Render(), renderer.ErrInvalidState)
	require.ErrorIs(t, r.Initialize(), renderer.ErrInvalidState)
	require.Equal(t, "destroyed", r.State().String())
}

func TestInitializeAndDestroyReleaseEverything(t *testing.T) {
	f := newFixture(t)
	r := f.renderer

	require.NoError(t, r.Initialize())
	require.Same(t, f.h.Context, r.Context())
	require.Equal(t, mgl32.Vec2{1280, 720}, r.ScreenSize())
	require.Equal(t, 1, f.presenter.live)
	require.NotNil(t, r.LightVolume())

	require.Equal(t, 1, f.h.Live("CommandPool"))
	require.Equal(t, 1, f.h.Live("DescriptorPool"))
	require.Equal(t, 2, f.h.Live("Semaphore"))
	// one main render pass, one framebuffer per swapchain image
	require.Equal(t, 1, f.h.Live("RenderPass"))
	require.Equal(t, swapchainImages, f.h.Live("Framebuffer"))
	require.Equal(t, 8, f.h.Live("Pipeline"))

	require.NoError(t, r.Destroy())
	for _, kind := range []string{
		"Image", "ImageView", "Sampler", "Buffer", "Framebuffer", "RenderPass", "Pipeline",
		"PipelineLayout", "DescriptorSetLayout", "Semaphore", "CommandPool", "DescriptorPool",
	} {
		require.Zero(t, f.h.Live(kind), kind)
	}
	require.Zero(t, f.h.LiveAllocations())
	require.Zero(t, f.presenter.live)
	require.Nil(t, r.Context())
	require.Zero(t, f.h.Context.CommandPool.Handle())
	require.Zero(t, f.h.Context.DescriptorPool.Handle())
}

func TestFailedPoolIsNotDestroyed(t *testing.T) {
	f := newFixtureWith(t, gputest.Options{Setup: func(h *gputest.Harness) {
		h.Driver.EXPECT().CreateDescriptorPool(gomock.Any(), gomock.Any()).
			Return(core1_0.DescriptorPool{}, core1_0.VKErrorOutOfDeviceMemory, errors.New("out of device memory"))
	}})

	err := f.renderer.Initialize()
	require.ErrorContains(t, err, "out of device memory")
	require.Equal(t, 1, f.h.Created["CommandPool"])
	require.Zero(t, f.h.Live("CommandPool"))
	require.Zero(t, f.h.Created["DescriptorPool"])
	require.Zero(t, f.h.Destroyed["DescriptorPool"])
}

func TestInitializeFailureReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.presenter.createErr = errors.New("surface lost")

	err := f.renderer.Initialize()
	require.ErrorContains(t, err, "surface lost")
	require.Equal(t, renderer.StateUninitialized, f.renderer.State())
	require.Equal(t, 1, f.device.destroyed)
	require.Zero(t, f.h.Live("CommandPool"))
}

func TestRenderSubmitsAndPresents(t *testing.T) {
	f := newFixture(t)
	r := f.renderer
	scene := newScene()

	require.NoError(t, r.Initialize())
	r.SetScene(scene)
	require.NoError(t, r.Render())
	require.NoError(t, r.Render())

	require.Equal(t, []int{0, 1}, f.presenter.presented)
	require.Equal(t, renderer.StateReady, r.State())

	frames := f.h.Submitted[len(f.h.Submitted)-2:]
	for _, frame := range frames {
		require.Len(t, frame.WaitSemaphores, 1)
		require.Len(t, frame.SignalSemaphores, 1)
		require.Equal(t, []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}, frame.WaitDstStageMask)
		require.Len(t, frame.CommandBuffers, 1)
	}

	// shadow cast, early depth and geometry draw the scene, the point light pipeline draws the volumes
	require.Equal(t, 6, scene.geometry)
	require.Equal(t, 2, scene.volumes)
	require.Equal(t, []string{"shadow cast", "early depth", "geometry", "point light"}, scene.pipelines[:4])
	require.True(t, r.ShadowCaster().Initialized())

	require.NoError(t, r.Destroy())
	require.Zero(t, f.h.LiveAllocations())
}

func TestRenderWithoutShadows(t *testing.T) {
	f := newFixture(t)
	r := f.renderer
	scene := newScene()
	scene.sun.CastsShadows = false

	require.NoError(t, r.Initialize())
	r.SetScene(scene)
	require.NoError(t, r.Render())

	require.Equal(t, []string{"early depth", "geometry", "point light"}, scene.pipelines)
	require.False(t, r.ShadowCaster().Initialized())
	require.Same(t, r.Defaults().ShadowMap, r.BoundShadowMap())
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, r.BoundShadowMap().Layout())

	scene.sun.CastsShadows = true
	require.NoError(t, r.Render())
	require.Same(t, r.ShadowCaster().Map(), r.BoundShadowMap())
	require.NoError(t, r.Destroy())
}

func TestDebugModesSelectLightingPipeline(t *testing.T) {
	f := newFixture(t)
	r := f.renderer
	scene := newScene()

	require.NoError(t, r.Initialize())
	r.SetScene(scene)

	require.NoError(t, r.SetDebugMode(renderer.DebugNormal))
	require.NoError(t, r.Render())
	// debug views skip the light volumes
	require.Zero(t, scene.volumes)

	require.NoError(t, r.SetDebugMode(renderer.DebugShadowMap))
	require.NoError(t, r.Render())
	require.Zero(t, scene.volumes)

	require.NoError(t, r.SetDebugMode(renderer.DebugShaded))
	require.NoError(t, r.Render())
	require.Equal(t, 1, scene.volumes)

	require.Error(t, r.SetDebugMode(renderer.DebugMode(42)))
	require.Equal(t, renderer.DebugShaded, r.DebugMode())
	require.NoError(t, r.Destroy())
}

func TestOutOfDateSwapchainIsRecreated(t *testing.T) {
	f := newFixture(t)
	r := f.renderer
	scene := newScene()

	require.NoError(t, r.Initialize())
	r.SetScene(scene)

	f.window.width, f.window.height = 800, 600
	f.presenter.acquireOutOfDate = 1
	require.NoError(t, r.Render())

	// the frame was skipped
	require.Empty(t, f.presenter.presented)
	require.Len(t, f.presenter.created, 2)
	require.Equal(t, 800, r.Swapchain().Width)
	require.Equal(t, mgl32.Vec2{800, 600}, r.ScreenSize())
	require.InDelta(t, 800.0/600.0, scene.active.Aspect, 1e-6)
	require.Equal(t, 1, f.presenter.live)
	require.Equal(t, swapchainImages, f.h.Live("Framebuffer"))
	require.Equal(t, 8, f.h.Live("Pipeline"))

	f.presenter.presentOutOfDate = 1
	require.NoError(t, r.Render())
	require.Len(t, f.presenter.created, 3)
	require.Equal(t, renderer.StateReady, r.State())

	require.NoError(t, r.Render())
	require.NoError(t, r.Destroy())
	require.Zero(t, f.h.LiveAllocations())
}

func TestResizeWhileMinimizedIsDeferred(t *testing.T) {
	f := newFixture(t)
	r := f.renderer

	require.NoError(t, r.Initialize())
	r.SetScene(newScene())

	f.window.width, f.window.height = 0, 0
	r.NotifyResize()
	require.NoError(t, r.Render())
	require.Len(t, f.presenter.created, 1)
	require.Empty(t, f.presenter.presented)

	f.window.width, f.window.height = 640, 480
	require.NoError(t, r.Render())
	require.Len(t, f.presenter.created, 2)
	require.Equal(t, []int{0}, f.presenter.presented)
	require.NoError(t, r.Destroy())
}

func TestCaptureEnvironments(t *testing.T) {
	f := newFixture(t)
	r := f.renderer
	scene := newScene()

	require.NoError(t, r.Initialize())
	r.SetScene(scene)

	near, err := envcapture.New(r.Context(), mgl32.Vec3{0, 2, 6}, envcapture.Options{Name: "near", Resolution: 16})
	require.NoError(t, err)
	far, err := envcapture.New(r.Context(), mgl32.Vec3{50, 0, 0}, envcapture.Options{Name: "far", Resolution: 16})
	require.NoError(t, err)
	scene.captures = []*envcapture.Capture{far, near}

	original := scene.active
	require.NoError(t, r.CaptureEnvironments())
	require.True(t, near.Captured())
	require.True(t, far.Captured())
	require.Same(t, original, scene.active)
	require.Equal(t, mgl32.Vec2{1280, 720}, r.ScreenSize())

	// the nearest capture is bound on the next frame
	writes := len(f.h.Writes)
	require.NoError(t, r.Render())
	irradianceWrites := 0
	for _, write := range f.h.Writes[writes:] {
		if write.DstBinding == pipeline.BindingEnvironmentIrradiance {
			irradianceWrites++
		}
	}
	require.Equal(t, 1, irradianceWrites)

	// and not rewritten while it stays the nearest
	writes = len(f.h.Writes)
	require.NoError(t, r.Render())
	for _, write := range f.h.Writes[writes:] {
		require.NotEqual(t, pipeline.BindingEnvironmentIrradiance, write.DstBinding)
	}

	require.NoError(t, near.Destroy())
	require.NoError(t, far.Destroy())
	require.NoError(t, r.Destroy())
	require.Zero(t, f.h.LiveAllocations())
}

func TestCycleDebugMode(t *testing.T) {
	r := renderer.New(&fakeWindow{}, renderer.Options{})

	seen := map[renderer.DebugMode]bool{}
	for i := 0; i < 9; i++ {
		seen[r.CycleDebugMode()] = true
	}
	require.Len(t, seen, 9)
	require.Equal(t, renderer.DebugShaded, r.DebugMode())
}
