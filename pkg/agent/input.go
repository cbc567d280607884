package agent

import (
	"github.com/haasonsaas/loom/pkg/interrupt"
	"github.com/haasonsaas/loom/pkg/message"
)

// Input is what an invocation starts from. Exactly one of the concrete
// input types is passed to Invoke or Stream.
type Input interface {
	isInput()
}

// Prompt starts a turn from a plain text user message.
type Prompt string

func (Prompt) isInput() {}

// Blocks starts a turn from a user message with explicit content blocks,
// for multimodal or pre-assembled input.
type Blocks []message.ContentBlock

func (Blocks) isInput() {}

// Resume answers the pending interrupts of a paused turn. The paused turn
// picks up where it stopped; no new user message is added.
type Resume []interrupt.Response

func (Resume) isInput() {}
