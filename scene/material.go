package scene

import (
	"context"
	"fmt"
	"image"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/resource"
	"golang.org/x/sync/errgroup"
)

// TextureSlot is one material texture of the instance set
type TextureSlot int

const (
	SlotColor TextureSlot = iota
	SlotNormal
	SlotSpecular
	SlotMetallic
	SlotRoughness

	slotCount
)

var slotNames = [slotCount]string{"color", "normal", "specular", "metallic", "roughness"}

func (s TextureSlot) String() string {
	if s < 0 || s >= slotCount {
		return fmt.Sprintf("TextureSlot(%d)", int(s))
	}
	return slotNames[s]
}

// Binding returns the instance set binding of the slot. Binding 0 is the instance uniform.
func (s TextureSlot) Binding() int { return int(s) + 1 }

// fallback is bound when a material has no texture in the slot. A black normal map makes the geometry
// shader use the vertex normal.
func (s TextureSlot) fallback(defaults *resource.Defaults) *resource.Texture {
	switch s {
	case SlotColor, SlotRoughness:
		return defaults.White
	}
	return defaults.Black
}

// Material is the set of textures an actor is shaded with. It owns its textures.
type Material struct {
	name     string
	textures [slotCount]*resource.Texture
}

func NewMaterial(name string) *Material {
	return &Material{name: name}
}

func (m *Material) Name() string { return m.name }

// Texture returns the texture in slot, or nil when the slot falls back to a default
func (m *Material) Texture(slot TextureSlot) *resource.Texture {
	return m.textures[slot]
}

// SetTexture hands ownership of texture to the material, destroying the texture it replaces
func (m *Material) SetTexture(slot TextureSlot, texture *resource.Texture) error {
	if slot < 0 || slot >= slotCount {
		return errors.AssertionFailedf("material %q has no texture slot %d", m.name, int(slot))
	}

	var err error
	previous := m.textures[slot]
	if previous != nil && previous != texture {
		err = previous.Destroy()
	}
	m.textures[slot] = texture
	return err
}

// write binds every slot of the material to set
func (m *Material) write(set *descriptor.Set, defaults *resource.Defaults) error {
	for slot := SlotColor; slot < slotCount; slot++ {
		texture := m.textures[slot]
		if texture == nil {
			texture = slot.fallback(defaults)
		}
		err := set.WriteTexture(slot.Binding(), texture)
		if err != nil {
			return errors.Wrapf(err, "material %q %s texture", m.name, slot)
		}
	}
	return nil
}

// Destroy releases every texture of the material
func (m *Material) Destroy() error {
	var err error
	for slot, texture := range m.textures {
		if texture != nil {
			err = errors.CombineErrors(err, texture.Destroy())
			m.textures[slot] = nil
		}
	}
	return err
}

// DecodeImages decodes the image files at paths concurrently. The result holds one image per path,
// in order. No Vulkan call is made, so it is safe to call from any goroutine.
func DecodeImages(ctx context.Context, fsys fs.FS, paths []string) ([]image.Image, error) {
	images := make([]image.Image, len(paths))
	group, ctx := errgroup.WithContext(ctx)
	for index, path := range paths {
		group.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			file, err := fsys.Open(path)
			if err != nil {
				return errors.Wrapf(err, "failed to open texture %s", path)
			}
			defer file.Close()

			images[index], err = resource.Decode(file)
			return errors.Wrapf(err, "texture %s", path)
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, err
	}
	return images, nil
}

// LoadMaterial decodes the textures of a material concurrently and uploads them. Slots missing from
// paths fall back to the default textures.
func LoadMaterial(ctx context.Context, gpuCtx *gpu.Context, fsys fs.FS, name string, paths map[TextureSlot]string) (*Material, error) {
	var slots []TextureSlot
	var files []string
	for slot := SlotColor; slot < slotCount; slot++ {
		path, ok := paths[slot]
		if ok && path != "" {
			slots = append(slots, slot)
			files = append(files, path)
		}
	}

	images, err := DecodeImages(ctx, fsys, files)
	if err != nil {
		return nil, errors.Wrapf(err, "material %q", name)
	}

	material := NewMaterial(name)
	for index, img := range images {
		texture, err := resource.FromImage(gpuCtx, files[index], img)
		if err != nil {
			return nil, errors.CombineErrors(errors.Wrapf(err, "material %q", name), material.Destroy())
		}
		err = material.SetTexture(slots[index], texture)
		if err != nil {
			return nil, errors.CombineErrors(err, material.Destroy())
		}
	}
	return material, nil
}
