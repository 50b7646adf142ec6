// Package renderer owns the device, the swapchain and everything the deferred pipeline needs to draw a
// frame, and drives the per frame sequence: shadow map, then the four subpasses of the main render
// pass, then presentation.
//
// A Renderer is not safe for concurrent use. Every method must be called from the thread that owns the
// window.
package renderer

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/envcapture"
	"github.com/vkngwrapper/deferred/gbuffer"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/pipeline"
	"github.com/vkngwrapper/deferred/resource"
	"github.com/vkngwrapper/deferred/shadow"
)

// ErrInvalidState is returned when a method is called in a state that does not allow it
var ErrInvalidState = errors.New("invalid renderer state")

// State is the lifecycle state of a Renderer
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRendering
	StateSwapchainRecreating
	StateDestroyed
)

var stateNames = map[State]string{
	StateUninitialized:       "uninitialized",
	StateInitializing:        "initializing",
	StateReady:               "ready",
	StateRendering:           "rendering",
	StateSwapchainRecreating: "swapchain recreating",
	StateDestroyed:           "destroyed",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return name
}

// Scene is what the renderer draws
type Scene interface {
	envcapture.Scene
	// DirectionalLight returns the sun, or nil when the scene has none
	DirectionalLight() *shadow.DirectionalLight
	EnvironmentCaptures() []*envcapture.Capture
}

const (
	DefaultSphereRings    = 16
	DefaultSphereSegments = 32
	// DefaultMaxDescriptorSets is the capacity of the shared descriptor pool
	DefaultMaxDescriptorSets = 1024
)

type Options struct {
	ApplicationName string
	// Root is the directory Shaders/bin is read from
	Root string
	// Shaders replaces the file system rooted at Root
	Shaders fs.FS
	// Validation enables the validation layers and routes their messages into the logger
	Validation bool

	Logger *slog.Logger
	// OpenDevice replaces OpenVulkanDevice
	OpenDevice DeviceOpener

	// BlockSize is the device memory block size, zero means vam.DefaultBlockSize
	BlockSize int
	Shadow    shadow.Options

	// SphereRings and SphereSegments tessellate the point light volume. Zero means the defaults.
	SphereRings    int
	SphereSegments int

	MaxDescriptorSets int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.OpenDevice == nil {
		o.OpenDevice = OpenVulkanDevice
	}
	if o.SphereRings == 0 {
		o.SphereRings = DefaultSphereRings
	}
	if o.SphereSegments == 0 {
		o.SphereSegments = DefaultSphereSegments
	}
	if o.MaxDescriptorSets == 0 {
		o.MaxDescriptorSets = DefaultMaxDescriptorSets
	}
	return o
}

// pipelines are every pipeline of the main render pass
type pipelines struct {
	earlyDepth       *pipeline.Pipeline
	geometry         *pipeline.Pipeline
	directionalLight *pipeline.Pipeline
	light            *pipeline.Pipeline
	debugDeferred    *pipeline.Pipeline
	environmentDebug *pipeline.Pipeline
	shadowMapDebug   *pipeline.Pipeline
	post             *pipeline.Pipeline
}

func (p *pipelines) all() []**pipeline.Pipeline {
	return []**pipeline.Pipeline{
		&p.earlyDepth, &p.geometry, &p.directionalLight, &p.light,
		&p.debugDeferred, &p.environmentDebug, &p.shadowMapDebug, &p.post,
	}
}

// frameSets are the descriptor sets shared by every draw of a frame
type frameSets struct {
	global       *descriptor.Set
	passTextures *descriptor.Set
	shadow       *descriptor.Set
	environment  *descriptor.Set
	// captureEnvironment is bound while capturing environments and never references a captured cube
	captureEnvironment *descriptor.Set
	postInput          *descriptor.Set
}

func (s *frameSets) all() []**descriptor.Set {
	return []**descriptor.Set{
		&s.global, &s.passTextures, &s.shadow, &s.environment, &s.captureEnvironment, &s.postInput,
	}
}

type step struct {
	name string
	run  func() error
}

// Renderer is the deferred renderer. Create one with New, then Initialize it.
type Renderer struct {
	window  Window
	options Options
	logger  *slog.Logger
	state   State

	device    Device
	ctx       *gpu.Context
	presenter Presenter
	swapchain Swapchain

	defaults  *resource.Defaults
	litColor  *resource.Texture
	depth     *resource.Texture
	gbuffer   *gbuffer.GBuffer
	mainPass  *pipeline.MainPass
	pipelines pipelines
	shadows   *shadow.Caster

	globals      *resource.Buffer
	sets         frameSets
	framebuffers []core1_0.Framebuffer

	commandBuffers []core1_0.CommandBuffer
	imageAvailable *core1_0.Semaphore
	renderFinished *core1_0.Semaphore

	lightVolume *resource.Mesh

	scene      Scene
	debugMode  DebugMode
	screenSize mgl32.Vec2
	resized    bool

	// what the shadow and environment sets currently reference
	shadowSource      *resource.Texture
	environmentSource *envcapture.Capture
	environmentBound  bool
}

// New returns an uninitialized renderer for window
func New(window Window, options Options) *Renderer {
	options = options.withDefaults()
	return &Renderer{
		window:  window,
		options: options,
		logger:  options.Logger,
	}
}

func (r *Renderer) State() State { return r.state }

// Context returns the device context, or nil before Initialize
func (r *Renderer) Context() *gpu.Context { return r.ctx }

func (r *Renderer) Scene() Scene { return r.scene }

// SetScene binds the scene Render draws. A nil scene makes Render a no-op.
func (r *Renderer) SetScene(scene Scene) {
	r.scene = scene
	r.environmentSource = nil
	r.environmentBound = false
}

func (r *Renderer) DebugMode() DebugMode { return r.debugMode }

func (r *Renderer) SetDebugMode(mode DebugMode) error {
	if !mode.Valid() {
		return errors.Newf("unknown debug mode %d", int(mode))
	}
	r.debugMode = mode
	return nil
}

// CycleDebugMode switches to the next debug mode and returns it
func (r *Renderer) CycleDebugMode() DebugMode {
	r.debugMode = r.debugMode.Next()
	r.logger.Info("debug mode changed", slog.String("mode", r.debugMode.String()))
	return r.debugMode
}

// ScreenSize returns the screen dimensions written to the global uniform
func (r *Renderer) ScreenSize() mgl32.Vec2 { return r.screenSize }

// Swapchain describes the current swapchain
func (r *Renderer) Swapchain() Swapchain { return r.swapchain }

// LightVolume returns the sphere point lights are drawn with, or nil before Initialize
func (r *Renderer) LightVolume() *resource.Mesh { return r.lightVolume }

// Defaults returns the default textures, or nil before Initialize
func (r *Renderer) Defaults() *resource.Defaults { return r.defaults }

// ShadowCaster returns the caster of the directional light's shadow map
func (r *Renderer) ShadowCaster() *shadow.Caster { return r.shadows }

// BoundShadowMap returns the texture the lighting subpass samples for shadows: the caster's map while the
// sun casts shadows, and the default shadow map otherwise.
func (r *Renderer) BoundShadowMap() *resource.Texture { return r.shadowSource }

func (r *Renderer) invalidState(operation string) error {
	return errors.Wrapf(ErrInvalidState, "%s called while %s", operation, r.state)
}

func (r *Renderer) initializeSteps() []step {
	return []step{
		{"device", r.openDevice},
		{"swapchain", r.createSwapchain},
		{"command pool", r.createCommandPool},
		{"default textures", r.createDefaults},
		{"lit color target", r.createLitColor},
		{"depth target", r.createDepth},
		{"descriptor pool", r.createDescriptorPool},
		{"gbuffer", r.createGBuffer},
		{"render pass", r.createRenderPass},
		{"pipelines", r.createPipelines},
		{"shadow caster", r.createShadowCaster},
		{"global descriptor sets", r.createSets},
		{"framebuffers", r.createFramebuffers},
		{"command buffers", r.createCommandBuffers},
		{"semaphores", r.createSemaphores},
		{"shared meshes", r.createMeshes},
	}
}

// swapchainSteps rebuild everything that depends on the swapchain extent or format
func (r *Renderer) swapchainSteps() []step {
	return []step{
		{"swapchain", r.createSwapchain},
		{"lit color target", r.createLitColor},
		{"depth target", r.createDepth},
		{"gbuffer", r.createGBuffer},
		{"render pass", r.createRenderPass},
		{"pipelines", r.createPipelines},
		{"global descriptor sets", r.createSets},
		{"framebuffers", r.createFramebuffers},
		{"command buffers", r.createCommandBuffers},
	}
}

func (r *Renderer) run(steps []step) error {
	for _, step := range steps {
		err := step.run()
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", step.name)
		}
		r.logger.Debug("renderer step complete", slog.String("step", step.name))
	}
	return nil
}

// Initialize creates everything the renderer draws with, in dependency order. On failure everything
// created so far is released and the renderer returns to the uninitialized state.
func (r *Renderer) Initialize() error {
	if r.state != StateUninitialized {
		return r.invalidState("Initialize")
	}
	r.state = StateInitializing

	err := r.run(r.initializeSteps())
	if err != nil {
		r.state = StateUninitialized
		return errors.CombineErrors(err, r.release())
	}

	r.state = StateReady
	r.logger.Info("renderer initialized",
		slog.Int("width", r.swapchain.Width),
		slog.Int("height", r.swapchain.Height),
	)
	return nil
}

func (r *Renderer) openDevice() error {
	device, err := r.options.OpenDevice(r.window, r.logger, r.options)
	if err != nil {
		return err
	}
	r.device = device
	r.ctx = device.Context()
	r.presenter = device.Presenter()
	return r.ctx.Validate()
}

func (r *Renderer) createSwapchain() error {
	width, height := r.window.DrawableSize()
	swapchain, err := r.presenter.CreateSwapchain(width, height)
	if err != nil {
		return err
	}
	if len(swapchain.Views) == 0 {
		r.presenter.DestroySwapchain()
		return errors.New("swapchain has no images")
	}
	r.swapchain = swapchain
	r.screenSize = mgl32.Vec2{float32(swapchain.Width), float32(swapchain.Height)}
	return nil
}

func (r *Renderer) createCommandPool() error {
	pool, _, err := r.ctx.Driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: r.ctx.GraphicsQueueFamily,
	})
	if err != nil {
		return err
	}
	r.ctx.CommandPool = pool
	return nil
}

func (r *Renderer) createDefaults() error {
	var err error
	r.defaults, err = resource.NewDefaults(r.ctx)
	return err
}

func (r *Renderer) createLitColor() error {
	var err error
	r.litColor, err = resource.Create(r.ctx, resource.CreateInfo{
		Name:    "lit color",
		Width:   r.swapchain.Width,
		Height:  r.swapchain.Height,
		Format:  pipeline.LitColorFormat,
		Usage:   core1_0.ImageUsageColorAttachment | core1_0.ImageUsageInputAttachment,
		Sampler: resource.SamplerNone,
	})
	return err
}

func (r *Renderer) createDepth() error {
	var err error
	r.depth, err = resource.Create(r.ctx, resource.CreateInfo{
		Name:    "depth",
		Width:   r.swapchain.Width,
		Height:  r.swapchain.Height,
		Format:  r.ctx.DepthFormat,
		Usage:   core1_0.ImageUsageDepthStencilAttachment,
		Sampler: resource.SamplerNone,
	})
	return err
}

func (r *Renderer) createDescriptorPool() error {
	count := r.options.MaxDescriptorSets
	pool, _, err := r.ctx.Driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		Flags:   core1_0.DescriptorPoolCreateFreeDescriptorSet,
		MaxSets: count,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: count},
			{Type: core1_0.DescriptorTypeCombinedImageSampler, DescriptorCount: 4 * count},
			{Type: core1_0.DescriptorTypeInputAttachment, DescriptorCount: count},
		},
	})
	if err != nil {
		return err
	}
	r.ctx.DescriptorPool = pool
	return nil
}

func (r *Renderer) createGBuffer() error {
	var err error
	r.gbuffer, err = gbuffer.Create(r.ctx, "gbuffer", r.swapchain.Width, r.swapchain.Height)
	return err
}

func (r *Renderer) createRenderPass() error {
	var err error
	r.mainPass, err = pipeline.CreateMainPass(r.ctx, r.swapchain.Format)
	return err
}

func (r *Renderer) createPipelines() error {
	target := pipeline.Target{
		RenderPass: r.mainPass.Handle(),
		Width:      r.swapchain.Width,
		Height:     r.swapchain.Height,
	}

	var err error
	for _, build := range []struct {
		into   **pipeline.Pipeline
		config pipeline.Config
	}{
		{&r.pipelines.earlyDepth, pipeline.EarlyDepth()},
		{&r.pipelines.geometry, pipeline.Geometry()},
		{&r.pipelines.directionalLight, pipeline.DirectionalLight()},
		{&r.pipelines.light, pipeline.Light()},
		{&r.pipelines.debugDeferred, pipeline.DebugDeferred()},
		{&r.pipelines.environmentDebug, pipeline.EnvironmentCaptureDebug()},
		{&r.pipelines.shadowMapDebug, pipeline.ShadowMapDebug()},
		{&r.pipelines.post, pipeline.PostProcess()},
	} {
		*build.into, err = pipeline.Build(r.ctx, build.config, target)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) createShadowCaster() error {
	var err error
	r.shadows, err = shadow.New(r.ctx, r.options.Shadow)
	return err
}

func (r *Renderer) createSets() error {
	var err error
	if r.globals == nil {
		r.globals, err = resource.NewUniformBuffer(r.ctx, "global uniform", GlobalUniformSize)
		if err != nil {
			return err
		}
	}

	lighting := r.pipelines.directionalLight
	for _, allocation := range []struct {
		into **descriptor.Set
		from *pipeline.Pipeline
		role pipeline.SetRole
		name string
	}{
		{&r.sets.global, r.pipelines.geometry, pipeline.RoleGlobal, "global"},
		{&r.sets.passTextures, lighting, pipeline.RolePassTextures, "pass textures"},
		{&r.sets.shadow, lighting, pipeline.RoleShadow, "shadow"},
		{&r.sets.environment, lighting, pipeline.RoleEnvironment, "environment"},
		{&r.sets.captureEnvironment, lighting, pipeline.RoleEnvironment, "capture environment"},
		{&r.sets.postInput, r.pipelines.post, pipeline.RolePostInput, "post input"},
	} {
		*allocation.into, err = allocation.from.AllocateSet(allocation.role, allocation.name)
		if err != nil {
			return err
		}
	}

	err = r.sets.global.WriteUniform(0, r.globals)
	if err != nil {
		return err
	}
	err = r.gbuffer.WriteInputs(r.sets.passTextures)
	if err != nil {
		return err
	}
	err = r.sets.postInput.WriteInputAttachment(0, r.litColor.View())
	if err != nil {
		return err
	}

	for _, set := range []*descriptor.Set{r.sets.environment, r.sets.captureEnvironment} {
		err = r.writeBlackEnvironment(set)
		if err != nil {
			return err
		}
	}
	r.environmentSource = nil
	r.environmentBound = true

	r.shadowSource = nil
	return r.bindShadowMap(r.defaults.ShadowMap)
}

func (r *Renderer) writeBlackEnvironment(set *descriptor.Set) error {
	err := set.WriteTexture(pipeline.BindingEnvironmentCube, r.defaults.BlackCube)
	if err != nil {
		return err
	}
	return set.WriteTexture(pipeline.BindingEnvironmentIrradiance, r.defaults.BlackCube)
}

func (r *Renderer) createFramebuffers() error {
	for index, view := range r.swapchain.Views {
		framebuffer, err := r.mainPass.CreateFramebuffer(pipeline.Targets{
			Final:    view,
			LitColor: r.litColor.View(),
			Depth:    r.depth.View(),
			GBuffer:  r.gbuffer.Views(),
		}, r.swapchain.Width, r.swapchain.Height)
		if err != nil {
			return errors.Wrapf(err, "swapchain image %d", index)
		}
		r.framebuffers = append(r.framebuffers, framebuffer)
	}
	return nil
}

func (r *Renderer) createCommandBuffers() error {
	buffers, _, err := r.ctx.Driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.ctx.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return err
	}
	if len(buffers) != 1 {
		return errors.AssertionFailedf("requested 1 frame command buffer but received %d", len(buffers))
	}
	r.commandBuffers = buffers
	return nil
}

func (r *Renderer) createSemaphores() error {
	for _, into := range []**core1_0.Semaphore{&r.imageAvailable, &r.renderFinished} {
		semaphore, _, err := r.ctx.Driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		*into = &semaphore
	}
	return nil
}

func (r *Renderer) createMeshes() error {
	var err error
	r.lightVolume, err = resource.NewSphere(r.ctx, "light volume", r.options.SphereRings, r.options.SphereSegments)
	return err
}

// releaseSwapchain destroys everything swapchainSteps creates, in reverse order
func (r *Renderer) releaseSwapchain() error {
	var err error
	driver := r.ctx.Driver

	if len(r.commandBuffers) > 0 {
		driver.FreeCommandBuffers(r.commandBuffers...)
		r.commandBuffers = nil
	}

	for _, framebuffer := range r.framebuffers {
		driver.DestroyFramebuffer(framebuffer, nil)
	}
	r.framebuffers = nil

	for _, set := range r.sets.all() {
		if *set != nil {
			err = errors.CombineErrors(err, (*set).Free())
			*set = nil
		}
	}
	r.shadowSource = nil
	r.environmentSource = nil
	r.environmentBound = false

	for _, p := range r.pipelines.all() {
		if *p != nil {
			err = errors.CombineErrors(err, (*p).Destroy())
			*p = nil
		}
	}

	if r.mainPass != nil {
		r.mainPass.Destroy()
		r.mainPass = nil
	}

	if r.gbuffer != nil {
		err = errors.CombineErrors(err, r.gbuffer.Destroy())
		r.gbuffer = nil
	}

	for _, texture := range []**resource.Texture{&r.depth, &r.litColor} {
		if *texture != nil {
			err = errors.CombineErrors(err, (*texture).Destroy())
			*texture = nil
		}
	}

	if r.presenter != nil {
		r.presenter.DestroySwapchain()
	}
	r.swapchain = Swapchain{}

	return err
}

// release destroys everything Initialize creates, in reverse order. It tolerates partially created
// renderers.
func (r *Renderer) release() error {
	if r.ctx == nil {
		if r.device != nil {
			err := r.device.Destroy()
			r.device = nil
			return err
		}
		return nil
	}

	var err error
	driver := r.ctx.Driver

	if r.lightVolume != nil {
		err = errors.CombineErrors(err, r.lightVolume.Destroy())
		r.lightVolume = nil
	}

	for _, semaphore := range []**core1_0.Semaphore{&r.renderFinished, &r.imageAvailable} {
		if *semaphore != nil {
			driver.DestroySemaphore(**semaphore, nil)
			*semaphore = nil
		}
	}

	err = errors.CombineErrors(err, r.releaseSwapchain())

	if r.shadows != nil {
		err = errors.CombineErrors(err, r.shadows.Destroy())
		r.shadows = nil
	}

	if r.globals != nil {
		err = errors.CombineErrors(err, r.globals.Destroy())
		r.globals = nil
	}

	if r.ctx.DescriptorPool.Handle() != 0 {
		driver.DestroyDescriptorPool(r.ctx.DescriptorPool, nil)
		r.ctx.DescriptorPool = core1_0.DescriptorPool{}
	}

	if r.defaults != nil {
		err = errors.CombineErrors(err, r.defaults.Destroy())
		r.defaults = nil
	}

	if r.ctx.CommandPool.Handle() != 0 {
		driver.DestroyCommandPool(r.ctx.CommandPool, nil)
		r.ctx.CommandPool = core1_0.CommandPool{}
	}

	if r.ctx.Allocator != nil {
		r.logger.Debug("device memory at shutdown", slog.String("stats", r.ctx.Allocator.BuildStatsString(true)))
	}

	err = errors.CombineErrors(err, r.device.Destroy())
	r.device = nil
	r.ctx = nil
	r.presenter = nil

	return err
}

// Destroy waits for the device to finish and releases everything in reverse creation order. Resources
// created from the context by others, such as the scene's meshes and captures, must be released
// first. Destroying twice is a no-op.
func (r *Renderer) Destroy() error {
	switch r.state {
	case StateDestroyed:
		return nil
	case StateRendering, StateInitializing:
		return r.invalidState("Destroy")
	}

	var err error
	if r.ctx != nil {
		_, err = r.ctx.Driver.DeviceWaitIdle()
		if err != nil {
			err = errors.Wrap(err, "failed to wait for the device before destroying the renderer")
		}
	}

	err = errors.CombineErrors(err, r.release())
	r.state = StateDestroyed
	return err
}
