package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// idempotencyKey derives a deterministic key for one node's attempt to
// advance one checkpoint, so re-delivery of the same step after a crash
// doesn't double-commit. It folds in committed state so the key also
// changes if an upstream retry altered the inputs the node actually saw.
func idempotencyKey(threadID, checkpointID, nodeID string, state State) (string, error) {
	h := sha256.New()
	h.Write([]byte(threadID))
	h.Write([]byte{0})
	h.Write([]byte(checkpointID))
	h.Write([]byte{0})
	h.Write([]byte(nodeID))

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
