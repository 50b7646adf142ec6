package resource

import (
	"image"
	"image/color"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
)

// Defaults are the 1x1 textures bound wherever a material or pass has nothing better to sample, so
// shaders never have to branch on a missing texture.
type Defaults struct {
	Black     *Texture
	White     *Texture
	BlackCube *Texture
	// ShadowMap is a depth texture at the far plane with a comparison sampler, so every lookup
	// passes and nothing is shadowed
	ShadowMap *Texture
}

func solidImage(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, c)
	return img
}

// NewDefaults creates the default textures, all in the ShaderReadOnly layout
func NewDefaults(ctx *gpu.Context) (*Defaults, error) {
	defaults := &Defaults{}

	var err error
	defaults.Black, err = FromImage(ctx, "default black", solidImage(color.RGBA{A: 255}))
	if err != nil {
		return nil, err
	}

	defaults.White, err = FromImage(ctx, "default white", solidImage(color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	if err != nil {
		return nil, errors.CombineErrors(err, defaults.Destroy())
	}

	defaults.BlackCube, err = CreateCube(ctx, "default black cube", 1, TextureFormat,
		core1_0.ImageUsageTransferDst|core1_0.ImageUsageSampled)
	if err != nil {
		return nil, errors.CombineErrors(err, defaults.Destroy())
	}

	err = defaults.BlackCube.Clear([4]float32{0, 0, 0, 1})
	if err != nil {
		return nil, errors.CombineErrors(err, defaults.Destroy())
	}

	defaults.ShadowMap, err = Create(ctx, CreateInfo{
		Name:    "default shadow map",
		Width:   1,
		Height:  1,
		Format:  ctx.DepthFormat,
		Usage:   core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		Sampler: SamplerDepthCompare,
	})
	if err != nil {
		return nil, errors.CombineErrors(err, defaults.Destroy())
	}

	err = defaults.ShadowMap.ClearDepth(1)
	if err != nil {
		return nil, errors.CombineErrors(err, defaults.Destroy())
	}

	return defaults, nil
}

// Destroy releases every default texture that was created
func (d *Defaults) Destroy() error {
	var err error
	for _, texture := range []*Texture{d.Black, d.White, d.BlackCube, d.ShadowMap} {
		if texture != nil {
			err = errors.CombineErrors(err, texture.Destroy())
		}
	}
	return err
}
