package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/vam"
)

// TextureState is the lifecycle stage of a Texture. The image layout is tracked separately and is only
// meaningful while the texture is Created.
type TextureState int

const (
	TextureUninitialized TextureState = iota
	TextureCreated
	TextureDestroyed
)

var textureStateNames = map[TextureState]string{
	TextureUninitialized: "Uninitialized",
	TextureCreated:       "Created",
	TextureDestroyed:     "Destroyed",
}

func (s TextureState) String() string {
	return textureStateNames[s]
}

// CubeFaces is the number of array layers in a cube texture
const CubeFaces = 6

// SamplerMode selects how a texture's sampler is built
type SamplerMode int

const (
	// SamplerLinearRepeat filters linearly across mips and wraps coordinates
	SamplerLinearRepeat SamplerMode = iota
	// SamplerLinearClamp filters linearly and clamps coordinates to the edge
	SamplerLinearClamp
	// SamplerDepthCompare is a comparison sampler for shadow maps
	SamplerDepthCompare
	// SamplerNone creates no sampler, for textures only used as attachments
	SamplerNone
)

// CreateInfo describes a texture to create. Width, Height and Format are required.
type CreateInfo struct {
	Name   string
	Width  int
	Height int
	Format core1_0.Format
	Usage  core1_0.ImageUsageFlags
	// MipLevels defaults to 1
	MipLevels int
	// Cube creates a cube compatible image with six layers, a cube view and one 2D view per face
	Cube    bool
	Sampler SamplerMode
}

// Texture owns an image, the device memory bound to it, its views and its sampler. It is the single
// source of truth for the layout its image is in: every layout change goes through Transition or is
// recorded with MarkLayout.
type Texture struct {
	ctx  *gpu.Context
	name string

	format     core1_0.Format
	width      int
	height     int
	mipLevels  int
	layerCount int
	usage      core1_0.ImageUsageFlags
	aspect     core1_0.ImageAspectFlags
	cube       bool

	state  TextureState
	layout core1_0.ImageLayout

	image      core1_0.Image
	allocation *vam.Allocation
	views      []core1_0.ImageView
	faceViews  []core1_0.ImageView
	sampler    *core1_0.Sampler
}

// Create builds an image of the requested size and format, backs it with device local memory and
// creates its views and sampler. The new texture is in the Undefined layout.
func Create(ctx *gpu.Context, info CreateInfo) (*Texture, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, errors.Newf("texture %q has invalid size %dx%d", info.Name, info.Width, info.Height)
	}
	if info.Cube && info.Width != info.Height {
		return nil, errors.Newf("cube texture %q must be square but is %dx%d", info.Name, info.Width, info.Height)
	}

	t := &Texture{
		ctx:        ctx,
		name:       info.Name,
		format:     info.Format,
		width:      info.Width,
		height:     info.Height,
		mipLevels:  max(info.MipLevels, 1),
		layerCount: 1,
		usage:      info.Usage,
		aspect:     aspectFor(info.Format),
		cube:       info.Cube,
		layout:     core1_0.ImageLayoutUndefined,
	}
	if info.Cube {
		t.layerCount = CubeFaces
	}

	err := t.create(info.Sampler)
	if err != nil {
		return nil, errors.CombineErrors(err, t.release())
	}

	t.state = TextureCreated
	return t, nil
}

// CreateCube builds a square cube texture of the given size
func CreateCube(ctx *gpu.Context, name string, size int, format core1_0.Format, usage core1_0.ImageUsageFlags) (*Texture, error) {
	return Create(ctx, CreateInfo{
		Name:    name,
		Width:   size,
		Height:  size,
		Format:  format,
		Usage:   usage,
		Cube:    true,
		Sampler: SamplerLinearClamp,
	})
}

func aspectFor(format core1_0.Format) core1_0.ImageAspectFlags {
	if !gpu.IsDepthFormat(format) {
		return core1_0.ImageAspectColor
	}

	aspect := core1_0.ImageAspectDepth
	if gpu.HasStencilComponent(format) {
		aspect |= core1_0.ImageAspectStencil
	}
	return aspect
}

func (t *Texture) create(samplerMode SamplerMode) error {
	driver := t.ctx.Driver

	var flags core1_0.ImageCreateFlags
	if t.cube {
		flags = core1_0.ImageCreateCubeCompatible
	}

	image, _, err := driver.CreateImage(nil, core1_0.ImageCreateInfo{
		Flags:     flags,
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  t.width,
			Height: t.height,
			Depth:  1,
		},
		MipLevels:     t.mipLevels,
		ArrayLayers:   t.layerCount,
		Format:        t.format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         t.usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create image for texture %q", t.name)
	}
	t.image = image

	t.allocation, err = t.ctx.Allocator.AllocateForImage(image, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return errors.Wrapf(err, "failed to allocate memory for texture %q", t.name)
	}
	t.allocation.SetName(t.name)

	viewType := core1_0.ImageViewType2D
	if t.cube {
		viewType = core1_0.ImageViewTypeCube
	}
	view, err := t.createView(viewType, 0, t.layerCount, t.mipLevels)
	if err != nil {
		return err
	}
	t.views = append(t.views, view)

	if t.cube {
		for face := 0; face < CubeFaces; face++ {
			faceView, err := t.createView(core1_0.ImageViewType2D, face, 1, 1)
			if err != nil {
				return err
			}
			t.faceViews = append(t.faceViews, faceView)
		}
	}

	if samplerMode == SamplerNone {
		return nil
	}

	sampler, _, err := driver.CreateSampler(nil, t.samplerInfo(samplerMode))
	if err != nil {
		return errors.Wrapf(err, "failed to create sampler for texture %q", t.name)
	}
	t.sampler = &sampler

	return nil
}

func (t *Texture) createView(viewType core1_0.ImageViewType, baseLayer, layerCount, levelCount int) (core1_0.ImageView, error) {
	view, _, err := t.ctx.Driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    t.image,
		ViewType: viewType,
		Format:   t.format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			// views used for sampling or as attachments only see the depth aspect
			AspectMask:     t.aspect &^ core1_0.ImageAspectStencil,
			BaseMipLevel:   0,
			LevelCount:     levelCount,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	})
	if err != nil {
		return core1_0.ImageView{}, errors.Wrapf(err, "failed to create image view for texture %q", t.name)
	}

	return view, nil
}

func (t *Texture) samplerInfo(mode SamplerMode) core1_0.SamplerCreateInfo {
	info := core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: t.ctx.Limits.SamplerAnisotropy,
		MaxAnisotropy:    t.ctx.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     float32(t.mipLevels),
	}
	if !info.AnisotropyEnable {
		info.MaxAnisotropy = 1
	}

	switch mode {
	case SamplerLinearClamp:
		info.AddressModeU = core1_0.SamplerAddressModeClampToEdge
		info.AddressModeV = core1_0.SamplerAddressModeClampToEdge
		info.AddressModeW = core1_0.SamplerAddressModeClampToEdge
	case SamplerDepthCompare:
		info.AddressModeU = core1_0.SamplerAddressModeClampToBorder
		info.AddressModeV = core1_0.SamplerAddressModeClampToBorder
		info.AddressModeW = core1_0.SamplerAddressModeClampToBorder
		info.BorderColor = core1_0.BorderColorFloatOpaqueWhite
		info.AnisotropyEnable = false
		info.MaxAnisotropy = 1
		info.CompareEnable = true
		info.CompareOp = core1_0.CompareOpLessOrEqual
	}

	return info
}

func (t *Texture) Name() string { return t.name }
func (t *Texture) Format() core1_0.Format { return t.format }
func (t *Texture) Width() int { return t.width }
func (t *Texture) Height() int { return t.height }
func (t *Texture) MipLevels() int { return t.mipLevels }
func (t *Texture) LayerCount() int { return t.layerCount }
func (t *Texture) Usage() core1_0.ImageUsageFlags { return t.usage }
func (t *Texture) IsCube() bool { return t.cube }
func (t *Texture) State() TextureState { return t.state }
func (t *Texture) Image() core1_0.Image { return t.image }

// Layout is the layout the texture's image is in once every recorded command has executed
func (t *Texture) Layout() core1_0.ImageLayout { return t.layout }

// View returns the view covering every layer and mip level, a cube view for cube textures
func (t *Texture) View() core1_0.ImageView {
	if len(t.views) == 0 {
		return core1_0.ImageView{}
	}
	return t.views[0]
}

// FaceView returns the single-level 2D view of one face of a cube texture
func (t *Texture) FaceView(face int) (core1_0.ImageView, error) {
	if !t.cube {
		return core1_0.ImageView{}, errors.Newf("texture %q is not a cube", t.name)
	}
	if face < 0 || face >= len(t.faceViews) {
		return core1_0.ImageView{}, errors.Newf("cube texture %q has no face %d", t.name, face)
	}
	return t.faceViews[face], nil
}

// Sampler returns the texture's sampler. It is the zero sampler for textures created with SamplerNone.
func (t *Texture) Sampler() core1_0.Sampler {
	if t.sampler == nil {
		return core1_0.Sampler{}
	}
	return *t.sampler
}

// DescriptorInfo describes the texture for a combined image sampler write, as read by shaders
func (t *Texture) DescriptorInfo() core1_0.DescriptorImageInfo {
	return core1_0.DescriptorImageInfo{
		ImageView:   t.View(),
		Sampler:     t.Sampler(),
		ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	}
}

func (t *Texture) subresourceRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     t.aspect,
		BaseMipLevel:   0,
		LevelCount:     t.mipLevels,
		BaseArrayLayer: 0,
		LayerCount:     t.layerCount,
	}
}

func (t *Texture) barrier(from, to core1_0.ImageLayout, transition Transition, subresource core1_0.ImageSubresourceRange) core1_0.ImageMemoryBarrier {
	return core1_0.ImageMemoryBarrier{
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		Image:               t.image,
		SubresourceRange:    subresource,
		SrcAccessMask:       transition.SrcAccess,
		DstAccessMask:       transition.DstAccess,
	}
}

// Transition records a barrier moving every subresource of the texture to layout and records the new
// layout. Transitioning to the current layout records nothing. A pair outside the transition table
// returns an error wrapping ErrUnsupportedTransition and leaves the layout unchanged.
func (t *Texture) Transition(cmd core1_0.CommandBuffer, layout core1_0.ImageLayout) error {
	if t.state != TextureCreated {
		return errors.Newf("cannot transition texture %q in state %s", t.name, t.state)
	}
	if layout == t.layout {
		return nil
	}

	transition, err := LookupTransition(t.layout, layout)
	if err != nil {
		return errors.Wrapf(err, "texture %q", t.name)
	}

	err = t.ctx.Driver.CmdPipelineBarrier(cmd, transition.SrcStage, transition.DstStage, 0, nil, nil,
		[]core1_0.ImageMemoryBarrier{t.barrier(t.layout, layout, transition, t.subresourceRange())})
	if err != nil {
		return errors.Wrapf(err, "failed to record layout transition for texture %q", t.name)
	}

	t.layout = layout
	return nil
}

// TransitionNow performs Transition in a single-time submission and waits for it to complete
func (t *Texture) TransitionNow(layout core1_0.ImageLayout) error {
	previous := t.layout
	err := t.ctx.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
		return t.Transition(cmd, layout)
	})
	if err != nil {
		t.layout = previous
	}
	return err
}

// MarkLayout records a layout change performed outside of Transition, such as the final layout of a
// render pass attachment.
func (t *Texture) MarkLayout(layout core1_0.ImageLayout) {
	t.layout = layout
}

// Clear fills every subresource with color and then returns the texture to the layout it was in. A
// texture in the Undefined layout ends up ShaderReadOnly instead.
func (t *Texture) Clear(color [4]float32) error {
	if t.aspect != core1_0.ImageAspectColor {
		return errors.Newf("cannot clear depth texture %q with a color", t.name)
	}

	return t.clear(func(cmd core1_0.CommandBuffer) {
		t.ctx.Driver.CmdClearColorImage(cmd, t.image, core1_0.ImageLayoutTransferDstOptimal,
			core1_0.ClearValueFloat{color[0], color[1], color[2], color[3]},
			t.subresourceRange())
	})
}

// ClearDepth is Clear for depth textures. The stencil aspect, when there is one, is cleared to 0.
func (t *Texture) ClearDepth(depth float32) error {
	if t.aspect == core1_0.ImageAspectColor {
		return errors.Newf("cannot clear color texture %q with a depth", t.name)
	}

	return t.clear(func(cmd core1_0.CommandBuffer) {
		t.ctx.Driver.CmdClearDepthStencilImage(cmd, t.image, core1_0.ImageLayoutTransferDstOptimal,
			&core1_0.ClearValueDepthStencil{Depth: depth},
			t.subresourceRange())
	})
}

func (t *Texture) clear(record func(cmd core1_0.CommandBuffer)) error {
	if t.state != TextureCreated {
		return errors.Newf("cannot clear texture %q in state %s", t.name, t.state)
	}
	if t.usage&core1_0.ImageUsageTransferDst == 0 {
		return errors.Newf("texture %q was not created with transfer destination usage", t.name)
	}

	previous := t.layout
	restore := previous
	if restore == core1_0.ImageLayoutUndefined {
		restore = core1_0.ImageLayoutShaderReadOnlyOptimal
	}

	err := t.ctx.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
		err := t.Transition(cmd, core1_0.ImageLayoutTransferDstOptimal)
		if err != nil {
			return err
		}

		record(cmd)

		return t.Transition(cmd, restore)
	})
	if err != nil {
		t.layout = previous
		return errors.Wrapf(err, "failed to clear texture %q", t.name)
	}

	return nil
}

// Destroy releases the sampler, views, image and memory. Destroying twice is a no-op.
func (t *Texture) Destroy() error {
	if t.state == TextureDestroyed {
		return nil
	}

	err := t.release()
	t.state = TextureDestroyed
	t.layout = core1_0.ImageLayoutUndefined
	return err
}

func (t *Texture) release() error {
	driver := t.ctx.Driver

	if t.sampler != nil {
		driver.DestroySampler(*t.sampler, nil)
		t.sampler = nil
	}

	for _, view := range t.faceViews {
		driver.DestroyImageView(view, nil)
	}
	t.faceViews = nil

	for _, view := range t.views {
		driver.DestroyImageView(view, nil)
	}
	t.views = nil

	if t.image.Initialized() {
		driver.DestroyImage(t.image, nil)
		t.image = core1_0.Image{}
	}

	var err error
	if t.allocation != nil {
		err = t.allocation.Free()
		t.allocation = nil
	}

	return err
}
