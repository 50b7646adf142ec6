package descriptor_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gpu/gputest"
	"github.com/vkngwrapper/deferred/resource"
)

func TestCreateTwiceIsAssertion(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	set := descriptor.New(h.Context, "globals")
	require.False(t, set.Created())
	require.NoError(t, set.Create(core1_0.DescriptorSetLayout{}))
	require.True(t, set.Created())

	err := set.Create(core1_0.DescriptorSetLayout{})
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))
	require.Equal(t, 1, h.Created["DescriptorSet"])
}

func TestWriteBeforeCreate(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	set := descriptor.New(h.Context, "pass textures")
	err := set.WriteImage(0, core1_0.ImageView{}, core1_0.Sampler{})
	require.True(t, errors.HasAssertionFailure(err))
	require.Empty(t, h.Writes)
}

func TestWrites(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	set, err := descriptor.Allocate(h.Context, "lighting", core1_0.DescriptorSetLayout{})
	require.NoError(t, err)

	uniform, err := resource.NewUniformBuffer(h.Context, "globals", 256)
	require.NoError(t, err)
	texture, err := resource.Create(h.Context, resource.CreateInfo{
		Name:   "albedo",
		Width:  4,
		Height: 4,
		Format: resource.TextureFormat,
		Usage:  core1_0.ImageUsageSampled,
	})
	require.NoError(t, err)

	require.NoError(t, set.WriteUniform(0, uniform))
	require.NoError(t, set.WriteTexture(1, texture))
	require.NoError(t, set.WriteInputAttachment(2, core1_0.ImageView{}))
	require.NoError(t, set.WriteImage(3, core1_0.ImageView{}, core1_0.Sampler{}))

	require.Len(t, h.Writes, 4)
	require.Equal(t, core1_0.DescriptorTypeUniformBuffer, h.Writes[0].DescriptorType)
	require.Equal(t, 256, h.Writes[0].BufferInfo[0].Range)
	require.Equal(t, core1_0.DescriptorTypeCombinedImageSampler, h.Writes[1].DescriptorType)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, h.Writes[1].ImageInfo[0].ImageLayout)
	require.Equal(t, core1_0.DescriptorTypeInputAttachment, h.Writes[2].DescriptorType)
	require.Equal(t, core1_0.DescriptorTypeCombinedImageSampler, h.Writes[3].DescriptorType)
	for i, write := range h.Writes {
		require.Equal(t, i, write.DstBinding)
	}

	require.Error(t, set.WriteTexture(4, nil))
	require.Error(t, set.WriteUniform(4, nil))

	require.NoError(t, texture.Destroy())
	require.NoError(t, uniform.Destroy())
}

func TestFree(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	set, err := descriptor.Allocate(h.Context, "instance", core1_0.DescriptorSetLayout{})
	require.NoError(t, err)

	require.NoError(t, set.Free())
	require.False(t, set.Created())
	require.NoError(t, set.Free())

	err = set.WriteInputAttachment(0, core1_0.ImageView{})
	require.True(t, errors.HasAssertionFailure(err))

	// a freed set can be allocated again, e.g. after a resize
	require.NoError(t, set.Create(core1_0.DescriptorSetLayout{}))
	require.Equal(t, 2, h.Created["DescriptorSet"])
}
