package retrieval

import (
	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
)

// Monitor provides hooks to observe the query process.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(req QueryRequest)
	AfterCandidates(keys []core.ContentKey)
	AfterEmbedding(vector []float32)
	AfterSearch(results []core.RankedChunk)
	AfterAnswer(answer *ai.Answer)
	Finish(result *core.QueryResult)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ QueryRequest)                {}
func (n *noopMonitor) AfterCandidates(_ []core.ContentKey) {}
func (n *noopMonitor) AfterEmbedding(_ []float32)          {}
func (n *noopMonitor) AfterSearch(_ []core.RankedChunk)    {}
func (n *noopMonitor) AfterAnswer(_ *ai.Answer)            {}
func (n *noopMonitor) Finish(_ *core.QueryResult)          {}
