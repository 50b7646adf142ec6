package gpu

import (
	"encoding/binary"
	"io/fs"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ShaderStage is the file extension a compiled shader binary is stored under
type ShaderStage string

const (
	StageVertex   ShaderStage = "vert"
	StageFragment ShaderStage = "frag"
)

// Flags returns the pipeline stage flag that matches the stage
func (s ShaderStage) Flags() core1_0.ShaderStageFlags {
	switch s {
	case StageVertex:
		return core1_0.StageVertex
	case StageFragment:
		return core1_0.StageFragment
	}
	return 0
}

// ShaderPath returns the location of a shader binary, <root>/Shaders/bin/<name>.<stage>
func (c *Context) ShaderPath(name string, stage ShaderStage) string {
	return path.Join(c.ShaderRoot, "Shaders", "bin", name+"."+string(stage))
}

// ReadShader reads a SPIR-V binary from the context's shader file system
func (c *Context) ReadShader(name string, stage ShaderStage) ([]uint32, error) {
	if c.Shaders == nil {
		return nil, errors.Newf("no shader file system to read %s.%s from", name, stage)
	}

	shaderPath := c.ShaderPath(name, stage)
	data, err := fs.ReadFile(c.Shaders, shaderPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shader %s", shaderPath)
	}

	code, err := bytesToBytecode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", shaderPath)
	}
	return code, nil
}

// LoadShader reads a shader binary and creates a shader module from it. The caller must destroy the
// module once the pipelines using it have been created.
func (c *Context) LoadShader(name string, stage ShaderStage) (core1_0.ShaderModule, error) {
	code, err := c.ReadShader(name, stage)
	if err != nil {
		return core1_0.ShaderModule{}, err
	}

	module, _, err := c.Driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "failed to create shader module %s.%s", name, stage)
	}

	return module, nil
}

func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("SPIR-V binary of %d bytes is not a whole number of words", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}

	return byteCode, nil
}
