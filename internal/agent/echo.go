package agent

import (
	"context"
	"fmt"
	"strings"
)

// EchoWorker answers locally without a model. It is used for development and
// demos when no agent service is configured.
type EchoWorker struct{}

var _ Worker = EchoWorker{}

func (EchoWorker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", req.AgentID, req.Problem)
	for _, prior := range req.PriorOutputs {
		fmt.Fprintf(&b, "\n- %s: %s", prior.AgentID, prior.Content)
	}

	return &Result{
		Content:  b.String(),
		Metadata: map[string]interface{}{"worker": "echo", "inputs": len(req.PriorOutputs)},
	}, nil
}
