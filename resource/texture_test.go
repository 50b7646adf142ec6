package resource

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu/gputest"
	"go.uber.org/mock/gomock"
)

func TestCreateAndDestroyTexture(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	texture := colorTarget(t, h)
	require.Equal(t, TextureCreated, texture.State())
	require.Equal(t, core1_0.ImageLayoutUndefined, texture.Layout())
	require.Equal(t, 64, texture.Width())
	require.Equal(t, 32, texture.Height())
	require.Equal(t, 1, texture.MipLevels())

	require.Len(t, h.Images, 1)
	require.Equal(t, core1_0.Extent3D{Width: 64, Height: 32, Depth: 1}, h.Images[0].Extent)
	require.Equal(t, core1_0.FormatR16G16B16A16SignedFloat, h.Images[0].Format)
	require.Equal(t, 1, h.Live("Image"))
	require.Equal(t, 1, h.Live("ImageView"))
	require.Equal(t, 1, h.Live("Sampler"))
	require.Equal(t, 1, h.LiveAllocations())

	require.NoError(t, texture.Destroy())
	require.Equal(t, TextureDestroyed, texture.State())
	require.Equal(t, 0, h.Live("Image"))
	require.Equal(t, 0, h.Live("ImageView"))
	require.Equal(t, 0, h.Live("Sampler"))
	require.Equal(t, 0, h.LiveAllocations())

	require.NoError(t, texture.Destroy())
	require.Equal(t, 0, h.Live("Image"))
}

func TestCreateRejectsInvalidSizes(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	_, err := Create(h.Context, CreateInfo{Name: "empty", Format: TextureFormat})
	require.Error(t, err)

	_, err = Create(h.Context, CreateInfo{Name: "cube", Width: 4, Height: 2, Format: TextureFormat, Cube: true})
	require.Error(t, err)

	require.Empty(t, h.Images)
}

func TestCreateCube(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	cube, err := CreateCube(h.Context, "environment", 8, core1_0.FormatR16G16B16A16SignedFloat,
		core1_0.ImageUsageColorAttachment|core1_0.ImageUsageSampled)
	require.NoError(t, err)
	require.True(t, cube.IsCube())
	require.Equal(t, CubeFaces, cube.LayerCount())

	require.Equal(t, CubeFaces, h.Images[0].ArrayLayers)
	require.Equal(t, core1_0.ImageCreateCubeCompatible, h.Images[0].Flags)
	require.Len(t, h.Views, 1+CubeFaces)
	require.Equal(t, core1_0.ImageViewTypeCube, h.Views[0].ViewType)
	require.Equal(t, CubeFaces, h.Views[0].SubresourceRange.LayerCount)
	for face := 0; face < CubeFaces; face++ {
		view := h.Views[face+1]
		require.Equal(t, core1_0.ImageViewType2D, view.ViewType)
		require.Equal(t, face, view.SubresourceRange.BaseArrayLayer)
		require.Equal(t, 1, view.SubresourceRange.LayerCount)

		_, err = cube.FaceView(face)
		require.NoError(t, err)
	}

	_, err = cube.FaceView(CubeFaces)
	require.Error(t, err)

	require.NoError(t, cube.Destroy())
	require.Equal(t, 0, h.Live("ImageView"))
}

func TestFaceViewOnFlatTexture(t *testing.T) {
	h := gputest.New(t, gputest.Options{})
	texture := colorTarget(t, h)

	_, err := texture.FaceView(0)
	require.Error(t, err)
	require.NoError(t, texture.Destroy())
}

func checkerboard(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			}
		}
	}
	return img
}

func TestFromImageGeneratesMips(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	texture, err := FromImage(h.Context, "checker", checkerboard(4, 2))
	require.NoError(t, err)
	require.Equal(t, 3, texture.MipLevels())
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, texture.Layout())
	require.Equal(t, 1, h.Submissions)

	// undefined -> transfer dst, a pair per generated level, then the last level
	require.Len(t, h.Barriers, 1+2*2+1)
	require.Equal(t, core1_0.ImageLayoutUndefined, h.Barriers[0].OldLayout)
	require.Equal(t, 3, h.Barriers[0].SubresourceRange.LevelCount)
	last := h.Barriers[len(h.Barriers)-1]
	require.Equal(t, 2, last.SubresourceRange.BaseMipLevel)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, last.NewLayout)

	// the staging buffer does not outlive the upload
	require.Equal(t, 0, h.Live("Buffer"))

	require.NoError(t, texture.Destroy())
	require.Equal(t, 0, h.LiveAllocations())
}

func TestFromImageWithoutLinearBlit(t *testing.T) {
	h := gputest.New(t, gputest.Options{})
	h.Context.Limits.LinearBlit = false

	texture, err := FromImage(h.Context, "checker", checkerboard(16, 16))
	require.NoError(t, err)
	require.Equal(t, 1, texture.MipLevels())
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, texture.Layout())
	require.Len(t, h.Barriers, 2)

	require.NoError(t, texture.Destroy())
}

func TestFromImageRejectsEmptyImage(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	_, err := FromImage(h.Context, "empty", image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.Error(t, err)
	require.Equal(t, 0, h.LiveAllocations())
}

func TestLoadFS(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, checkerboard(8, 8)))

	files := fstest.MapFS{
		"textures/checker.png": &fstest.MapFile{Data: encoded.Bytes()},
		"textures/broken.png":  &fstest.MapFile{Data: []byte("not an image")},
	}

	texture, err := LoadFS(h.Context, files, "textures/checker.png")
	require.NoError(t, err)
	require.Equal(t, 8, texture.Width())
	require.Equal(t, 4, texture.MipLevels())
	require.Equal(t, "textures/checker.png", texture.Name())
	require.NoError(t, texture.Destroy())

	_, err = LoadFS(h.Context, files, "textures/broken.png")
	require.Error(t, err)

	_, err = LoadFS(h.Context, files, "textures/missing.png")
	require.Error(t, err)

	require.Equal(t, 0, h.LiveAllocations())
}

func TestMipLevelsFor(t *testing.T) {
	require.Equal(t, 1, MipLevelsFor(1, 1))
	require.Equal(t, 3, MipLevelsFor(4, 2))
	require.Equal(t, 11, MipLevelsFor(1024, 512))
	require.Equal(t, 10, MipLevelsFor(600, 800))
}

func TestClearRestoresPriorLayout(t *testing.T) {
	h := gputest.New(t, gputest.Options{})
	texture := colorTarget(t, h)
	texture.MarkLayout(core1_0.ImageLayoutColorAttachmentOptimal)

	require.NoError(t, texture.Clear([4]float32{0, 0, 0, 1}))
	require.Equal(t, core1_0.ImageLayoutColorAttachmentOptimal, texture.Layout())
	require.Len(t, h.Barriers, 2)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, h.Barriers[0].NewLayout)
	require.Equal(t, core1_0.ImageLayoutColorAttachmentOptimal, h.Barriers[1].NewLayout)
	require.Equal(t, 1, h.Submissions)

	require.NoError(t, texture.Destroy())
}

func TestClearFromUndefinedEndsShaderReadable(t *testing.T) {
	h := gputest.New(t, gputest.Options{})
	texture := colorTarget(t, h)

	require.NoError(t, texture.Clear([4]float32{1, 1, 1, 1}))
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, texture.Layout())

	require.NoError(t, texture.Destroy())
}

func TestClearFromEveryReachableLayout(t *testing.T) {
	reachable := map[core1_0.ImageLayout]bool{}
	for _, pair := range SupportedTransitions() {
		reachable[pair[0]] = true
		reachable[pair[1]] = true
	}

	for layout := range reachable {
		t.Run(layout.String(), func(t *testing.T) {
			h := gputest.New(t, gputest.Options{})
			texture := colorTarget(t, h)
			texture.MarkLayout(layout)

			require.NoError(t, texture.Clear([4]float32{0.5, 0.5, 0.5, 1}))

			expected := layout
			if layout == core1_0.ImageLayoutUndefined {
				expected = core1_0.ImageLayoutShaderReadOnlyOptimal
			}
			require.Equal(t, expected, texture.Layout())
			require.Equal(t, 1, h.Submissions)

			require.NoError(t, texture.Destroy())
		})
	}
}

func TestClearGeneralStorageTarget(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	texture, err := Create(h.Context, CreateInfo{
		Name:   "storage",
		Width:  8,
		Height: 8,
		Format: core1_0.FormatR8G8B8A8UnsignedNormalized,
		Usage:  core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled | core1_0.ImageUsageStorage,
	})
	require.NoError(t, err)

	require.NoError(t, texture.TransitionNow(core1_0.ImageLayoutGeneral))
	require.NoError(t, texture.Clear([4]float32{1, 0, 0, 1}))
	require.Equal(t, core1_0.ImageLayoutGeneral, texture.Layout())

	require.Len(t, h.Barriers, 3)
	require.Equal(t, core1_0.ImageLayoutGeneral, h.Barriers[1].OldLayout)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, h.Barriers[1].NewLayout)
	require.Equal(t, core1_0.ImageLayoutGeneral, h.Barriers[2].NewLayout)

	require.NoError(t, texture.Destroy())
}

func TestClearDepth(t *testing.T) {
	var cleared []float32
	h := gputest.New(t, gputest.Options{Setup: func(h *gputest.Harness) {
		h.Driver.EXPECT().CmdClearDepthStencilImage(gomock.Any(), gomock.Any(), core1_0.ImageLayoutTransferDstOptimal, gomock.Any(), gomock.Any()).
			Do(func(_, _, _ any, value *core1_0.ClearValueDepthStencil, _ ...any) {
				cleared = append(cleared, value.Depth)
			}).Times(1)
	}})

	depth, err := Create(h.Context, CreateInfo{
		Name:    "depth",
		Width:   4,
		Height:  4,
		Format:  core1_0.FormatD32SignedFloat,
		Usage:   core1_0.ImageUsageDepthStencilAttachment | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		Sampler: SamplerDepthCompare,
	})
	require.NoError(t, err)
	depth.MarkLayout(core1_0.ImageLayoutDepthStencilAttachmentOptimal)

	require.NoError(t, depth.ClearDepth(1))
	require.Equal(t, []float32{1}, cleared)
	require.Equal(t, core1_0.ImageLayoutDepthStencilAttachmentOptimal, depth.Layout())
	require.Error(t, depth.Clear([4]float32{}))

	color := colorTarget(t, h)
	require.Error(t, color.ClearDepth(1))

	require.NoError(t, depth.Destroy())
	require.NoError(t, color.Destroy())
}

func TestClearRequiresTransferDestination(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	texture, err := Create(h.Context, CreateInfo{
		Name:   "attachment",
		Width:  4,
		Height: 4,
		Format: core1_0.FormatR8G8B8A8UnsignedNormalized,
		Usage:  core1_0.ImageUsageColorAttachment,
	})
	require.NoError(t, err)

	require.Error(t, texture.Clear([4]float32{}))
	require.Equal(t, core1_0.ImageLayoutUndefined, texture.Layout())
	require.Equal(t, 0, h.Submissions)

	require.NoError(t, texture.Destroy())
}

func TestDefaults(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	defaults, err := NewDefaults(h.Context)
	require.NoError(t, err)
	for _, texture := range []*Texture{defaults.Black, defaults.White, defaults.BlackCube, defaults.ShadowMap} {
		require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, texture.Layout(), texture.Name())
	}
	require.True(t, defaults.BlackCube.IsCube())

	require.Equal(t, h.Context.DepthFormat, defaults.ShadowMap.Format())
	shadowSampler := h.Samplers[len(h.Samplers)-1]
	require.True(t, shadowSampler.CompareEnable)
	require.Equal(t, core1_0.CompareOpLessOrEqual, shadowSampler.CompareOp)
	last := h.Barriers[len(h.Barriers)-1]
	require.Equal(t, core1_0.ImageAspectDepth, last.SubresourceRange.AspectMask)

	require.NoError(t, defaults.Destroy())
	require.Equal(t, 0, h.Live("Image"))
	require.Equal(t, 0, h.LiveAllocations())
}
