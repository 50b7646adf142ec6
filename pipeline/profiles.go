package pipeline

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gbuffer"
)

const (
	vertexAndFragment = core1_0.StageVertex | core1_0.StageFragment

	fullScreenShader = "FullScreen"
)

func uniform(stages core1_0.ShaderStageFlags) Binding {
	return Binding{Type: core1_0.DescriptorTypeUniformBuffer, Stages: stages}
}

func sampled() Binding {
	return Binding{Type: core1_0.DescriptorTypeCombinedImageSampler, Stages: core1_0.StageFragment}
}

func inputAttachment() Binding {
	return Binding{Type: core1_0.DescriptorTypeInputAttachment, Stages: core1_0.StageFragment}
}

func repeat(binding Binding, count int) []Binding {
	bindings := make([]Binding, count)
	for i := range bindings {
		bindings[i] = binding
	}
	return bindings
}

// Binding indices of the instance set
const (
	BindingInstanceUniform = iota
	BindingInstanceAlbedo
	BindingInstanceNormal
	BindingInstanceSpecular
	BindingInstanceMetallic
	BindingInstanceRoughness
)

// Binding indices of the environment set
const (
	BindingEnvironmentCube = iota
	BindingEnvironmentIrradiance
)

// Binding indices of the irradiance source set
const (
	BindingIrradianceFace = iota
	BindingIrradianceCube
)

// The fragments every profile is composed from. Each is one descriptor set.
var (
	// GlobalSet holds the per-frame GlobalUniformData
	GlobalSet = Fragment{Role: RoleGlobal, Bindings: []Binding{uniform(vertexAndFragment)}}
	// PassTextures holds the gbuffer channels, read as input attachments by the lighting subpass
	PassTextures = Fragment{Role: RolePassTextures, Bindings: repeat(inputAttachment(), gbuffer.ChannelCount)}
	// InstanceSet holds the model matrix and material textures of one actor
	InstanceSet = Fragment{Role: RoleInstance, Bindings: append([]Binding{uniform(vertexAndFragment)}, repeat(sampled(), 5)...)}
	// LightSet holds the parameters of one point light
	LightSet = Fragment{Role: RoleLight, Bindings: []Binding{uniform(vertexAndFragment)}}
	// ShadowSampling holds the shadow map, sampled with depth comparison
	ShadowSampling = Fragment{Role: RoleShadow, Bindings: []Binding{sampled()}}
	// EnvironmentSampling holds an environment cube and its irradiance cube
	EnvironmentSampling = Fragment{Role: RoleEnvironment, Bindings: repeat(sampled(), 2)}
	// PostInput holds the lit color, read as an input attachment by the post process subpass
	PostInput = Fragment{Role: RolePostInput, Bindings: []Binding{inputAttachment()}}
	// IrradianceSource holds the face being convolved and the captured cube
	IrradianceSource = Fragment{Role: RoleIrradianceSource, Bindings: []Binding{uniform(core1_0.StageFragment), sampled()}}
)

// EarlyDepth fills the depth attachment before any shading happens
func EarlyDepth() Config {
	return Config{
		Name:           "early depth",
		VertexShader:   "EarlyDepth",
		FragmentShader: "EarlyDepth",
		Vertex:         VertexPositionOnly,
		Subpass:        SubpassDepth,
		Depth: DepthState{
			Test:    true,
			Write:   true,
			Compare: core1_0.CompareOpLess,
		},
		CullMode: core1_0.CullModeBack,
	}.With(GlobalSet, InstanceSet)
}

// ShadowCast renders depth from the directional light into the shadow map. It is EarlyDepth with its
// own shaders, depth bias and no culling.
func ShadowCast() Config {
	config := EarlyDepth().Named("shadow cast", "ShadowCast", "ShadowCast")
	config.Subpass = 0
	config.Depth.Bias = true
	config.CullMode = core1_0.CullModeNone
	return config
}

// Geometry writes material properties to the gbuffer, testing against the early depth
func Geometry() Config {
	return Config{
		Name:             "geometry",
		VertexShader:     "Geometry",
		FragmentShader:   "Geometry",
		Vertex:           VertexMesh,
		Subpass:          SubpassGeometry,
		ColorAttachments: gbuffer.ChannelCount,
		Depth: DepthState{
			Test:    true,
			Compare: core1_0.CompareOpLessOrEqual,
		},
		CullMode: core1_0.CullModeBack,
	}.With(GlobalSet, InstanceSet)
}

// Deferred is the base of every lighting subpass pipeline: a full screen pass reading the gbuffer
func Deferred() Config {
	return Config{
		Name:             "deferred",
		VertexShader:     fullScreenShader,
		FragmentShader:   "Deferred",
		Vertex:           VertexNone,
		Subpass:          SubpassLighting,
		ColorAttachments: 1,
		CullMode:         core1_0.CullModeNone,
	}.With(GlobalSet, PassTextures)
}

// DirectionalLight shades the sun with shadows and the ambient term from the nearest environment
func DirectionalLight() Config {
	return Deferred().
		Named("directional light", fullScreenShader, "DirectionalLight").
		With(ShadowSampling, EnvironmentSampling)
}

// Light draws a point light volume and adds its contribution to the lit color
func Light() Config {
	config := Deferred().Named("point light", "PointLight", "PointLight").With(LightSet)
	config.Vertex = VertexPositionOnly
	config.Blend = BlendAdditive
	config.CullMode = core1_0.CullModeFront
	return config
}

// DebugDeferred shows one gbuffer channel, selected by the visualization mode of the global uniform
func DebugDeferred() Config {
	return Deferred().Named("debug deferred", fullScreenShader, "DebugDeferred")
}

// BaseDebug shows a texture other than the gbuffer. It is the base of the texture debug views.
func BaseDebug() Config {
	return DebugDeferred().Named("base debug", fullScreenShader, "BaseDebug")
}

// EnvironmentCaptureDebug shows the environment cube nearest to the camera
func EnvironmentCaptureDebug() Config {
	return BaseDebug().
		Named("environment capture debug", fullScreenShader, "EnvironmentCaptureDebug").
		With(EnvironmentSampling)
}

// ShadowMapDebug shows the shadow map
func ShadowMapDebug() Config {
	return BaseDebug().
		Named("shadow map debug", fullScreenShader, "ShadowMapDebug").
		With(ShadowSampling)
}

// PostProcess tone maps the lit color into the final attachment
func PostProcess() Config {
	return Config{
		Name:             "post process",
		VertexShader:     fullScreenShader,
		FragmentShader:   "PostProcess",
		Vertex:           VertexNone,
		Subpass:          SubpassPost,
		ColorAttachments: 1,
		CullMode:         core1_0.CullModeNone,
	}.With(GlobalSet, PostInput)
}

// Irradiance convolves one face of a captured environment cube. It is used with the single subpass
// irradiance render pass, not the main render pass.
func Irradiance() Config {
	return Config{
		Name:             "irradiance",
		VertexShader:     fullScreenShader,
		FragmentShader:   "Irradiance",
		Vertex:           VertexNone,
		ColorAttachments: 1,
		CullMode:         core1_0.CullModeNone,
	}.With(IrradianceSource)
}
