package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ErrUnsupportedTransition is wrapped by errors returned for a layout change that is not in the
// transition table. The texture's recorded layout is left untouched when it is returned.
var ErrUnsupportedTransition = errors.New("unsupported layout transition")

type layoutPair struct {
	from core1_0.ImageLayout
	to   core1_0.ImageLayout
}

// Transition describes the synchronization of one legal layout change
type Transition struct {
	SrcAccess core1_0.AccessFlags
	DstAccess core1_0.AccessFlags
	SrcStage  core1_0.PipelineStageFlags
	DstStage  core1_0.PipelineStageFlags
}

const (
	accessDepthAttachment = core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite
	stageDepthTests       = core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests
)

var transitions = map[layoutPair]Transition{
	// first use
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal}: {
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutColorAttachmentOptimal}: {
		DstAccess: core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutDepthStencilAttachmentOptimal}: {
		DstAccess: accessDepthAttachment,
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  stageDepthTests,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutGeneral}: {
		DstAccess: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},

	// uploads, mip generation and clears
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal}: {
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: core1_0.AccessTransferRead,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutTransferDstOptimal}: {
		SrcAccess: core1_0.AccessTransferRead,
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessTransferRead,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutTransferDstOptimal}: {
		SrcAccess: core1_0.AccessShaderRead,
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutColorAttachmentOptimal}: {
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutTransferDstOptimal}: {
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutDepthStencilAttachmentOptimal}: {
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: accessDepthAttachment,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  stageDepthTests,
	},
	{core1_0.ImageLayoutDepthStencilAttachmentOptimal, core1_0.ImageLayoutTransferDstOptimal}: {
		SrcAccess: core1_0.AccessDepthStencilAttachmentWrite,
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageLateFragmentTests,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutTransferSrcOptimal}: {
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		DstAccess: core1_0.AccessTransferRead,
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		DstStage:  core1_0.PipelineStageTransfer,
	},

	// render targets ping-ponging between passes
	{core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutColorAttachmentOptimal}: {
		SrcAccess: core1_0.AccessShaderRead,
		DstAccess: core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutDepthStencilAttachmentOptimal}: {
		SrcAccess: core1_0.AccessShaderRead,
		DstAccess: accessDepthAttachment,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  stageDepthTests,
	},
	{core1_0.ImageLayoutDepthStencilAttachmentOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessDepthStencilAttachmentWrite,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageLateFragmentTests,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},

	// general
	{core1_0.ImageLayoutGeneral, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessShaderWrite,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutGeneral}: {
		SrcAccess: core1_0.AccessShaderRead,
		DstAccess: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutGeneral, core1_0.ImageLayoutTransferDstOptimal}: {
		SrcAccess: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutGeneral}: {
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
}

// LookupTransition returns the synchronization for changing an image from one layout to another.
// Pairs outside the transition table return an error wrapping ErrUnsupportedTransition.
func LookupTransition(from, to core1_0.ImageLayout) (Transition, error) {
	transition, ok := transitions[layoutPair{from, to}]
	if !ok {
		return Transition{}, errors.Wrapf(ErrUnsupportedTransition, "%s -> %s", from, to)
	}

	return transition, nil
}

// SupportedTransitions lists every legal {from, to} pair
func SupportedTransitions() [][2]core1_0.ImageLayout {
	pairs := make([][2]core1_0.ImageLayout, 0, len(transitions))
	for pair := range transitions {
		pairs = append(pairs, [2]core1_0.ImageLayout{pair.from, pair.to})
	}
	return pairs
}
