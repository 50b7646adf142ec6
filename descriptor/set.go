// Package descriptor wraps descriptor sets allocated from the shared descriptor pool of a gpu.Context.
//
// A Set owns only its allocation in the pool. The textures and buffers written into it are references;
// their owners must keep them alive for as long as the set may be bound.
package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/resource"
)

// Set is one descriptor set allocated for one descriptor set layout
type Set struct {
	ctx  *gpu.Context
	name string

	layout core1_0.DescriptorSetLayout
	set    core1_0.DescriptorSet

	created bool
	freed   bool
}

// New returns a set that has not been allocated yet. Call Create to allocate it.
func New(ctx *gpu.Context, name string) *Set {
	return &Set{ctx: ctx, name: name}
}

// Allocate is New followed by Create
func Allocate(ctx *gpu.Context, name string, layout core1_0.DescriptorSetLayout) (*Set, error) {
	set := New(ctx, name)
	err := set.Create(layout)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Create allocates the set from the context's descriptor pool. Creating a set twice is a programming
// error.
func (s *Set) Create(layout core1_0.DescriptorSetLayout) error {
	if s.created {
		return errors.AssertionFailedf("descriptor set %q was already created", s.name)
	}

	sets, _, err := s.ctx.Driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: s.ctx.DescriptorPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to allocate descriptor set %q", s.name)
	}
	if len(sets) != 1 {
		return errors.AssertionFailedf("descriptor set %q: pool returned %d sets for one layout", s.name, len(sets))
	}

	s.layout = layout
	s.set = sets[0]
	s.created = true
	s.freed = false
	return nil
}

func (s *Set) Name() string { return s.name }

func (s *Set) Handle() core1_0.DescriptorSet { return s.set }

func (s *Set) Layout() core1_0.DescriptorSetLayout { return s.layout }

// Created reports whether the set has been allocated and not freed
func (s *Set) Created() bool { return s.created && !s.freed }

func (s *Set) write(write core1_0.WriteDescriptorSet) error {
	if !s.Created() {
		return errors.AssertionFailedf("descriptor set %q written before it was created", s.name)
	}

	write.DstSet = s.set
	err := s.ctx.Driver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{write}, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to write binding %d of descriptor set %q", write.DstBinding, s.name)
	}
	return nil
}

// WriteImage writes a combined image sampler to binding
func (s *Set) WriteImage(binding int, view core1_0.ImageView, sampler core1_0.Sampler) error {
	return s.write(core1_0.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,
		ImageInfo: []core1_0.DescriptorImageInfo{
			{
				ImageView:   view,
				Sampler:     sampler,
				ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
			},
		},
	})
}

// WriteTexture writes a texture's full view and sampler to binding
func (s *Set) WriteTexture(binding int, texture *resource.Texture) error {
	if texture == nil {
		return errors.AssertionFailedf("nil texture written to binding %d of descriptor set %q", binding, s.name)
	}

	return s.write(core1_0.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,
		ImageInfo:      []core1_0.DescriptorImageInfo{texture.DescriptorInfo()},
	})
}

// WriteInputAttachment writes an attachment read by a later subpass of the same render pass
func (s *Set) WriteInputAttachment(binding int, view core1_0.ImageView) error {
	return s.write(core1_0.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: core1_0.DescriptorTypeInputAttachment,
		ImageInfo: []core1_0.DescriptorImageInfo{
			{
				ImageView:   view,
				ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
			},
		},
	})
}

// WriteUniform writes a whole uniform buffer to binding
func (s *Set) WriteUniform(binding int, buffer *resource.Buffer) error {
	if buffer == nil {
		return errors.AssertionFailedf("nil buffer written to binding %d of descriptor set %q", binding, s.name)
	}

	return s.write(core1_0.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: core1_0.DescriptorTypeUniformBuffer,
		BufferInfo:     []core1_0.DescriptorBufferInfo{buffer.DescriptorInfo()},
	})
}

// Free returns the set to the pool. Freeing a set that is not allocated is a no-op.
func (s *Set) Free() error {
	if !s.Created() {
		return nil
	}
	s.freed = true
	s.created = false

	s.ctx.Driver.FreeDescriptorSets(s.set)
	s.set = core1_0.DescriptorSet{}
	return nil
}
