package pipeline

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func TestDerivedProfilesExtendTheirBase(t *testing.T) {
	derived := []struct {
		base    Config
		derived Config
	}{
		{EarlyDepth(), ShadowCast()},
		{Deferred(), DirectionalLight()},
		{Deferred(), Light()},
		{Deferred(), DebugDeferred()},
		{DebugDeferred(), BaseDebug()},
		{BaseDebug(), EnvironmentCaptureDebug()},
		{BaseDebug(), ShadowMapDebug()},
	}

	for _, test := range derived {
		t.Run(test.derived.Name, func(t *testing.T) {
			base := test.base.Flatten()
			flat := test.derived.Flatten()

			require.GreaterOrEqual(t, len(flat), len(base))
			require.Equal(t, base, flat[:len(base)])
			require.Equal(t, 0, flat[0].Set)
			require.Equal(t, 0, flat[0].Binding)
			require.Equal(t, RoleGlobal, flat[0].Role)
		})
	}
}

func TestFlattenOrdersSetsThenBindings(t *testing.T) {
	flat := DirectionalLight().Flatten()

	previous := FlatBinding{Set: -1}
	for _, binding := range flat {
		if binding.Set == previous.Set {
			require.Equal(t, previous.Binding+1, binding.Binding)
		} else {
			require.Equal(t, previous.Set+1, binding.Set)
			require.Equal(t, 0, binding.Binding)
		}
		previous = binding
	}

	// global + gbuffer inputs + shadow map + environment cube and irradiance
	require.Len(t, flat, 1+6+1+2)
}

func TestWithDoesNotAliasTheBase(t *testing.T) {
	base := Deferred()
	first := base.With(LightSet)
	second := base.With(ShadowSampling)

	require.Len(t, base.Sets, 2)
	require.Equal(t, RoleLight, first.Sets[2].Role)
	require.Equal(t, RoleShadow, second.Sets[2].Role)
}

func TestSetIndex(t *testing.T) {
	config := EnvironmentCaptureDebug()

	index, err := config.SetIndex(RoleGlobal)
	require.NoError(t, err)
	require.Equal(t, 0, index)

	index, err = config.SetIndex(RolePassTextures)
	require.NoError(t, err)
	require.Equal(t, 1, index)

	index, err = config.SetIndex(RoleEnvironment)
	require.NoError(t, err)
	require.Equal(t, 2, index)

	_, err = config.SetIndex(RoleInstance)
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))
	require.False(t, config.HasRole(RoleInstance))
}

func TestInstanceSetIsSharedByDepthAndGeometry(t *testing.T) {
	for _, config := range []Config{EarlyDepth(), ShadowCast(), Geometry()} {
		index, err := config.SetIndex(RoleInstance)
		require.NoError(t, err, config.Name)
		require.Equal(t, 1, index, config.Name)
	}
}

func TestEveryProfileValidates(t *testing.T) {
	profiles := []Config{
		EarlyDepth(), ShadowCast(), Geometry(), Deferred(), DirectionalLight(), Light(), DebugDeferred(),
		BaseDebug(), EnvironmentCaptureDebug(), ShadowMapDebug(), PostProcess(), Irradiance(),
	}

	names := map[string]struct{}{}
	for _, config := range profiles {
		require.NoError(t, config.Validate(), config.Name)
		names[config.Name] = struct{}{}
	}
	require.Len(t, names, len(profiles))
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	duplicate := Deferred().With(GlobalSet)
	require.Error(t, duplicate.Validate())

	noShader := Deferred()
	noShader.FragmentShader = ""
	require.Error(t, noShader.Validate())

	empty := Deferred().With(Fragment{Role: RoleLight})
	require.Error(t, empty.Validate())
}

func TestProfileOverrides(t *testing.T) {
	shadow := ShadowCast()
	require.True(t, shadow.Depth.Bias)
	require.Equal(t, VertexPositionOnly, shadow.Vertex)
	require.False(t, EarlyDepth().Depth.Bias)

	light := Light()
	require.Equal(t, BlendAdditive, light.Blend)
	require.Equal(t, core1_0.CullModeFront, light.CullMode)
	require.Equal(t, SubpassLighting, light.Subpass)

	require.Equal(t, SubpassPost, PostProcess().Subpass)
	require.Equal(t, 6, Geometry().ColorAttachments)
}

func TestSetRoleString(t *testing.T) {
	require.Equal(t, "pass textures", RolePassTextures.String())
	require.Equal(t, "SetRole(99)", SetRole(99).String())
}
