package resource

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"math/bits"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TextureFormat is the format decoded image files are uploaded in
const TextureFormat = core1_0.FormatR8G8B8A8SRGB

// Load decodes an image file from disk and uploads it, see FromImage
func Load(ctx *gpu.Context, path string) (*Texture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open texture %s", path)
	}
	defer file.Close()

	return decodeAndUpload(ctx, path, file)
}

// LoadFS decodes an image file from fsys and uploads it, see FromImage
func LoadFS(ctx *gpu.Context, fsys fs.FS, path string) (*Texture, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open texture %s", path)
	}
	defer file.Close()

	return decodeAndUpload(ctx, path, file)
}

// Decode reads an image in any of the registered formats: PNG, JPEG, BMP, TIFF and WebP
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return img, nil
}

func decodeAndUpload(ctx *gpu.Context, name string, r io.Reader) (*Texture, error) {
	img, err := Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "texture %s", name)
	}

	return FromImage(ctx, name, img)
}

// MipLevelsFor returns the length of a full mip chain for an image of the given size
func MipLevelsFor(width, height int) int {
	return bits.Len(uint(max(width, height)))
}

// FromImage uploads img through a staging buffer, generates a full mip chain with linear blits and
// leaves the texture in the ShaderReadOnly layout. Devices that cannot blit the texture format linearly
// get a single mip level.
func FromImage(ctx *gpu.Context, name string, img image.Image) (*Texture, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, errors.Newf("texture %s has no pixels", name)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	mipLevels := 1
	if ctx.Limits.LinearBlit {
		mipLevels = MipLevelsFor(width, height)
	}

	staging, err := NewStagingBuffer(ctx, name+" staging", len(rgba.Pix))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = staging.Destroy()
	}()

	err = staging.Write(rgba.Pix)
	if err != nil {
		return nil, err
	}

	texture, err := Create(ctx, CreateInfo{
		Name:      name,
		Width:     width,
		Height:    height,
		Format:    TextureFormat,
		Usage:     core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		MipLevels: mipLevels,
		Sampler:   SamplerLinearRepeat,
	})
	if err != nil {
		return nil, err
	}

	err = ctx.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
		err := texture.Transition(cmd, core1_0.ImageLayoutTransferDstOptimal)
		if err != nil {
			return err
		}

		err = ctx.Driver.CmdCopyBufferToImage(cmd, staging.Handle(), texture.image, core1_0.ImageLayoutTransferDstOptimal,
			core1_0.BufferImageCopy{
				ImageSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       0,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
				ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: 1},
			})
		if err != nil {
			return errors.Wrapf(err, "failed to record upload of texture %s", name)
		}

		return texture.generateMipmaps(cmd)
	})
	if err != nil {
		return nil, errors.CombineErrors(err, texture.Destroy())
	}

	return texture, nil
}

// generateMipmaps expects every level in TransferDst and leaves every level in ShaderReadOnly. Each
// level is blitted from the one above it, with a barrier pair per level.
func (t *Texture) generateMipmaps(cmd core1_0.CommandBuffer) error {
	if t.layout != core1_0.ImageLayoutTransferDstOptimal {
		return errors.AssertionFailedf("mip generation for texture %q started in layout %s", t.name, t.layout)
	}
	if t.mipLevels == 1 {
		return t.Transition(cmd, core1_0.ImageLayoutShaderReadOnlyOptimal)
	}

	toSrc, err := LookupTransition(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal)
	if err != nil {
		return err
	}
	srcToRead, err := LookupTransition(core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	if err != nil {
		return err
	}
	dstToRead, err := LookupTransition(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	if err != nil {
		return err
	}

	level := func(mip int) core1_0.ImageSubresourceRange {
		return core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   mip,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     t.layerCount,
		}
	}

	mipWidth := t.width
	mipHeight := t.height
	for i := 1; i < t.mipLevels; i++ {
		err = t.ctx.Driver.CmdPipelineBarrier(cmd, toSrc.SrcStage, toSrc.DstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
			t.barrier(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal, toSrc, level(i-1)),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to record mip barrier for texture %q", t.name)
		}

		nextMipWidth := max(mipWidth/2, 1)
		nextMipHeight := max(mipHeight/2, 1)

		err = t.ctx.Driver.CmdBlitImage(cmd, t.image, core1_0.ImageLayoutTransferSrcOptimal, t.image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
			{
				SrcSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       i - 1,
					BaseArrayLayer: 0,
					LayerCount:     t.layerCount,
				},
				SrcOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: mipWidth, Y: mipHeight, Z: 1},
				},
				DstSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       i,
					BaseArrayLayer: 0,
					LayerCount:     t.layerCount,
				},
				DstOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: nextMipWidth, Y: nextMipHeight, Z: 1},
				},
			},
		}, core1_0.FilterLinear)
		if err != nil {
			return errors.Wrapf(err, "failed to record mip blit for texture %q", t.name)
		}

		err = t.ctx.Driver.CmdPipelineBarrier(cmd, srcToRead.SrcStage, srcToRead.DstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
			t.barrier(core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal, srcToRead, level(i-1)),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to record mip barrier for texture %q", t.name)
		}

		mipWidth = nextMipWidth
		mipHeight = nextMipHeight
	}

	err = t.ctx.Driver.CmdPipelineBarrier(cmd, dstToRead.SrcStage, dstToRead.DstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		t.barrier(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal, dstToRead, level(t.mipLevels-1)),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to record mip barrier for texture %q", t.name)
	}

	t.layout = core1_0.ImageLayoutShaderReadOnlyOptimal
	return nil
}
