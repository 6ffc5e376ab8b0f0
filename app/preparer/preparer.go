package preparer

import (
	"context"
	"fmt"

	"github.com/mailpool/relay/app/message"
)

// Draft is the in-progress rendering of one outgoing message for a
// particular sender address.
type Draft struct {
	From    string
	Message *message.Outgoing
	Raw     []byte
}

// Step is one stage of the rendering pipeline.
type Step interface {
	Prepare(ctx context.Context, draft *Draft) error
}

type Chain struct {
	steps []Step
}

// NewChain builds a renderer from steps.
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Render runs all steps and returns the final raw message.
func (c *Chain) Render(ctx context.Context, from string, msg *message.Outgoing) ([]byte, error) {
	draft := &Draft{From: from, Message: msg}

	for _, step := range c.steps {
		if err := step.Prepare(ctx, draft); err != nil {
			return nil, err
		}
	}

	if len(draft.Raw) == 0 {
		return nil, fmt.Errorf("rendered raw message is empty")
	}

	return draft.Raw, nil
}
