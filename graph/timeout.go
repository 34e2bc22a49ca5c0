package graph

import (
	"context"
	"fmt"
	"time"
)

// getNodeTimeout resolves the timeout to apply to one node execution:
// per-node NodePolicy.Timeout takes precedence over the engine-wide default;
// zero means unlimited.
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// runNodeWithTimeout executes node against state under the resolved timeout,
// translating a deadline-exceeded context into a NodeError the retry loop
// can inspect.
func runNodeWithTimeout(
	ctx context.Context,
	node Node,
	nodeID string,
	state State,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) NodeResult {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)
	if timeoutCtx.Err() == context.DeadlineExceeded && result.Err == nil {
		result.Err = &NodeError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
			NodeID:  nodeID,
			Cause:   context.DeadlineExceeded,
		}
	}
	return result
}
