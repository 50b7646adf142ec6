package pipeline

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// SetRole names what a descriptor set holds. Call sites bind sets by role and the pipeline resolves the
// role to the set index its config declared.
type SetRole int

const (
	RoleGlobal SetRole = iota
	RolePassTextures
	RoleInstance
	RoleLight
	RoleShadow
	RoleEnvironment
	RolePostInput
	RoleIrradianceSource
)

var roleNames = map[SetRole]string{
	RoleGlobal:           "global",
	RolePassTextures:     "pass textures",
	RoleInstance:         "instance",
	RoleLight:            "light",
	RoleShadow:           "shadow",
	RoleEnvironment:      "environment",
	RolePostInput:        "post input",
	RoleIrradianceSource: "irradiance source",
}

func (r SetRole) String() string {
	name, ok := roleNames[r]
	if !ok {
		return fmt.Sprintf("SetRole(%d)", int(r))
	}
	return name
}

// Binding is one descriptor binding. Its binding index is its position within the set.
type Binding struct {
	Type   core1_0.DescriptorType
	Stages core1_0.ShaderStageFlags
}

// Fragment is a named descriptor set that configs append in order
type Fragment struct {
	Role     SetRole
	Bindings []Binding
}

// FlatBinding is one entry of a flattened config, see Config.Flatten
type FlatBinding struct {
	Set     int
	Binding int
	Role    SetRole
	Type    core1_0.DescriptorType
	Stages  core1_0.ShaderStageFlags
}

// VertexLayout selects the vertex input state of a pipeline
type VertexLayout int

const (
	// VertexNone draws without vertex buffers, e.g. a full screen triangle generated in the shader
	VertexNone VertexLayout = iota
	// VertexMesh reads position, normal and texture coordinates from resource.Vertex buffers
	VertexMesh
	// VertexPositionOnly reads only the position attribute of resource.Vertex buffers
	VertexPositionOnly
)

// BlendMode selects the color blend state shared by every color attachment of a pipeline
type BlendMode int

const (
	BlendOpaque BlendMode = iota
	// BlendAdditive adds the output to the attachment, used to accumulate lights
	BlendAdditive
)

// DepthState is the depth test of a pipeline. The zero value disables depth testing.
type DepthState struct {
	Test    bool
	Write   bool
	Compare core1_0.CompareOp
	// Bias enables the constant and slope depth bias used against shadow acne
	Bias bool
}

// Config is the complete description of one graphics pipeline. Configs are plain values: profiles
// build them by starting from another profile, overriding fields and appending fragments with With.
type Config struct {
	Name string

	VertexShader   string
	FragmentShader string

	Vertex VertexLayout
	// Subpass is the index of the subpass of the render pass the pipeline is used in
	Subpass int
	// ColorAttachments is the number of color attachments the subpass writes
	ColorAttachments int

	Blend    BlendMode
	Depth    DepthState
	CullMode core1_0.CullModeFlags
	// Mirrored pipelines draw through a projection that mirrors the image, such as the one of cube face
	// cameras, so clockwise triangles are front facing
	Mirrored bool

	Sets []Fragment
}

// With returns a copy of the config with fragments appended after its existing sets
func (c Config) With(fragments ...Fragment) Config {
	sets := make([]Fragment, 0, len(c.Sets)+len(fragments))
	sets = append(sets, c.Sets...)
	c.Sets = append(sets, fragments...)
	return c
}

// Mirror returns a copy of the config for drawing through a mirroring projection
func (c Config) Mirror() Config {
	c.Mirrored = !c.Mirrored
	return c
}

// Named returns a copy of the config with a new name and shaders
func (c Config) Named(name, vertexShader, fragmentShader string) Config {
	c.Name = name
	c.VertexShader = vertexShader
	c.FragmentShader = fragmentShader
	return c
}

// Flatten lists every binding of every set in set order, then binding order
func (c Config) Flatten() []FlatBinding {
	var flat []FlatBinding
	for setIndex, set := range c.Sets {
		for bindingIndex, binding := range set.Bindings {
			flat = append(flat, FlatBinding{
				Set:     setIndex,
				Binding: bindingIndex,
				Role:    set.Role,
				Type:    binding.Type,
				Stages:  binding.Stages,
			})
		}
	}
	return flat
}

// SetIndex resolves a role to the index of the set that holds it. Asking for a role the config does
// not declare is a programming error.
func (c Config) SetIndex(role SetRole) (int, error) {
	for index, set := range c.Sets {
		if set.Role == role {
			return index, nil
		}
	}
	return -1, errors.AssertionFailedf("pipeline %q declares no %s set", c.Name, role)
}

// HasRole reports whether the config declares a set for role
func (c Config) HasRole(role SetRole) bool {
	_, err := c.SetIndex(role)
	return err == nil
}

// Validate checks that the config can be built into a pipeline
func (c Config) Validate() error {
	if c.VertexShader == "" || c.FragmentShader == "" {
		return errors.Newf("pipeline %q is missing a shader", c.Name)
	}
	if c.Subpass < 0 || c.ColorAttachments < 0 {
		return errors.Newf("pipeline %q has invalid subpass %d or attachment count %d", c.Name, c.Subpass, c.ColorAttachments)
	}

	seen := make(map[SetRole]struct{}, len(c.Sets))
	for _, set := range c.Sets {
		if _, ok := seen[set.Role]; ok {
			return errors.Newf("pipeline %q declares the %s set twice", c.Name, set.Role)
		}
		seen[set.Role] = struct{}{}

		if len(set.Bindings) == 0 {
			return errors.Newf("pipeline %q declares an empty %s set", c.Name, set.Role)
		}
	}
	return nil
}
