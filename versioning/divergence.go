package versioning

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ComparisonResult is one shadow-vs-baseline output comparison, per
// spec.md §4.6's divergence detection requirement.
type ComparisonResult struct {
	RunID           string
	WorkflowID      string
	SimilarityScore float64 // 1.0 == identical, 0.0 == fully divergent
	BaselineOutput  map[string]any
	ShadowOutput    map[string]any
}

// Similarity scores how close two workflow outputs are, using a
// Levenshtein edit ratio over their canonical JSON serialization. 1.0
// means byte-identical; 0.0 means no shared content at all.
func Similarity(baseline, shadow map[string]any) (float64, error) {
	a, err := json.Marshal(baseline)
	if err != nil {
		return 0, err
	}
	b, err := json.Marshal(shadow)
	if err != nil {
		return 0, err
	}
	if len(a) == 0 && len(b) == 0 {
		return 1.0, nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(a), string(b), false)
	editDistance := dmp.DiffLevenshtein(diffs)

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0, nil
	}
	score := 1.0 - float64(editDistance)/float64(maxLen)
	if score < 0 {
		score = 0
	}
	return score, nil
}

// DivergenceThreshold is the similarity score below which a comparison
// counts as "diverged" for rolling-window alerting purposes.
const DivergenceThreshold = 0.85

// AlertRate is the fraction of diverged comparisons in a window that
// triggers an ALERT audit entry.
const AlertRate = 0.2

// Monitor keeps a rolling window of ComparisonResults per workflow and
// raises an ALERT when too many of the most recent ones have diverged.
type Monitor struct {
	windowSize int
	audit      AuditLog

	mu      sync.Mutex
	windows map[string][]ComparisonResult
}

// NewMonitor returns a divergence monitor keeping the last windowSize
// comparisons per workflow.
func NewMonitor(windowSize int, audit AuditLog) *Monitor {
	return &Monitor{windowSize: windowSize, audit: audit, windows: make(map[string][]ComparisonResult)}
}

// Record appends a comparison to its workflow's window, trims the window
// to windowSize, and audit-logs an ALERT if the window is full (holds
// windowSize comparisons) and the diverged fraction within it now exceeds
// AlertRate. Runs off the shadow goroutine, detached
// from any single run's request context, so it logs against the background
// context rather than one tied to a particular run.
func (m *Monitor) Record(result ComparisonResult) {
	m.mu.Lock()
	win := append(m.windows[result.WorkflowID], result)
	if len(win) > m.windowSize {
		win = win[len(win)-m.windowSize:]
	}
	m.windows[result.WorkflowID] = win

	diverged := 0
	for _, r := range win {
		if r.SimilarityScore < DivergenceThreshold {
			diverged++
		}
	}
	rate := float64(diverged) / float64(len(win))
	shouldAlert := rate > AlertRate && len(win) >= m.windowSize
	m.mu.Unlock()

	if shouldAlert && m.audit != nil {
		_ = m.audit.Log(context.Background(), AuditEntry{
			Action:     AuditAlert,
			WorkflowID: result.WorkflowID,
			Details: map[string]any{
				"diverged_rate": rate,
				"window_size":   len(win),
				"threshold":     DivergenceThreshold,
			},
			At: time.Now(),
		})
	}
}
