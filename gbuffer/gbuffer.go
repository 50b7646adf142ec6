// Package gbuffer owns the render targets the geometry subpass writes and the lighting subpass reads
package gbuffer

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/resource"
)

// Channel is one gbuffer render target. The channel value is also its color attachment index within
// the geometry subpass and its binding index within the pass textures set.
type Channel int

const (
	Position Channel = iota
	Normal
	Color
	Specular
	Metallic
	Roughness
)

// ChannelCount is the number of gbuffer channels
const ChannelCount = int(Roughness) + 1

var channelNames = [ChannelCount]string{"position", "normal", "color", "specular", "metallic", "roughness"}

func (c Channel) String() string {
	if c < 0 || int(c) >= ChannelCount {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// Format returns the fixed format of a channel. Position and normal need the range of half floats,
// the rest fit normalized bytes.
func (c Channel) Format() core1_0.Format {
	switch c {
	case Position, Normal:
		return core1_0.FormatR16G16B16A16SignedFloat
	case Color, Specular:
		return core1_0.FormatR8G8B8A8UnsignedNormalized
	case Metallic, Roughness:
		return core1_0.FormatR8UnsignedNormalized
	}
	return core1_0.FormatUndefined
}

// Channels returns every channel in attachment order
func Channels() []Channel {
	channels := make([]Channel, ChannelCount)
	for i := range channels {
		channels[i] = Channel(i)
	}
	return channels
}

// Usage is the image usage of every channel texture
const Usage = core1_0.ImageUsageColorAttachment | core1_0.ImageUsageSampled | core1_0.ImageUsageInputAttachment

// GBuffer is the set of channel textures at one resolution and the sampler they share
type GBuffer struct {
	ctx    *gpu.Context
	name   string
	width  int
	height int

	channels []*resource.Texture
	sampler  *core1_0.Sampler
}

// Create allocates every channel at width x height and transitions them to ColorAttachmentOptimal
func Create(ctx *gpu.Context, name string, width, height int) (*GBuffer, error) {
	g := &GBuffer{ctx: ctx, name: name}
	err := g.create(width, height)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GBuffer) create(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Newf("gbuffer %q has invalid size %dx%d", g.name, width, height)
	}
	g.width = width
	g.height = height

	for _, channel := range Channels() {
		texture, err := resource.Create(g.ctx, resource.CreateInfo{
			Name:    fmt.Sprintf("%s %s", g.name, channel),
			Width:   width,
			Height:  height,
			Format:  channel.Format(),
			Usage:   Usage,
			Sampler: resource.SamplerNone,
		})
		if err != nil {
			return errors.CombineErrors(err, g.Destroy())
		}
		g.channels = append(g.channels, texture)
	}

	sampler, _, err := g.ctx.Driver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterNearest,
		MinFilter:    core1_0.FilterNearest,
		AddressModeU: core1_0.SamplerAddressModeClampToEdge,
		AddressModeV: core1_0.SamplerAddressModeClampToEdge,
		AddressModeW: core1_0.SamplerAddressModeClampToEdge,
		BorderColor:  core1_0.BorderColorIntOpaqueBlack,
		MipmapMode:   core1_0.SamplerMipmapModeNearest,
	})
	if err != nil {
		return errors.CombineErrors(errors.Wrapf(err, "failed to create sampler for gbuffer %q", g.name), g.Destroy())
	}
	g.sampler = &sampler

	err = g.ctx.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
		for _, texture := range g.channels {
			err := texture.Transition(cmd, core1_0.ImageLayoutColorAttachmentOptimal)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.CombineErrors(errors.Wrapf(err, "failed to prepare gbuffer %q", g.name), g.Destroy())
	}

	return nil
}

func (g *GBuffer) Width() int { return g.width }

func (g *GBuffer) Height() int { return g.height }

// Created reports whether the channels exist
func (g *GBuffer) Created() bool { return len(g.channels) == ChannelCount }

// Channel returns the texture of one channel, or nil once the gbuffer is destroyed
func (g *GBuffer) Channel(channel Channel) *resource.Texture {
	if int(channel) < 0 || int(channel) >= len(g.channels) {
		return nil
	}
	return g.channels[channel]
}

// Views returns the channel views in attachment order
func (g *GBuffer) Views() []core1_0.ImageView {
	views := make([]core1_0.ImageView, 0, len(g.channels))
	for _, texture := range g.channels {
		views = append(views, texture.View())
	}
	return views
}

// WriteInputs writes every channel to its binding of a pass textures set
func (g *GBuffer) WriteInputs(set *descriptor.Set) error {
	if !g.Created() {
		return errors.AssertionFailedf("gbuffer %q written to a descriptor set after it was destroyed", g.name)
	}
	for channel, texture := range g.channels {
		err := set.WriteInputAttachment(channel, texture.View())
		if err != nil {
			return err
		}
	}
	return nil
}

// Resize destroys the channels and creates them again at a new resolution
func (g *GBuffer) Resize(width, height int) error {
	err := g.Destroy()
	if err != nil {
		return err
	}
	return g.create(width, height)
}

// Destroy releases every channel and the shared sampler. Destroying twice is a no-op.
func (g *GBuffer) Destroy() error {
	var err error
	for _, texture := range g.channels {
		err = errors.CombineErrors(err, texture.Destroy())
	}
	g.channels = nil

	if g.sampler != nil {
		g.ctx.Driver.DestroySampler(*g.sampler, nil)
		g.sampler = nil
	}
	return err
}
