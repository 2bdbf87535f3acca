// Package model 定义了流水线记录、分块以及查询相关的数据结构。
package model

// State 是文档在摄取流水线中的处理状态。
type State string

const (
	StateDiscovered        State = "discovered"
	StateExtracting        State = "extracting"
	StateChunking          State = "chunking"
	StateEmbedding         State = "embedding"
	StateEnrichingMetadata State = "enriching_metadata"
	StateIndexing          State = "indexing"
	StateIndexed           State = "indexed"
	StateRetrying          State = "retrying"
	StateFailed            State = "failed"
	StateTombstoned        State = "tombstoned"
)

// Stages 按执行顺序列出所有处理阶段。
var Stages = []State{
	StateExtracting,
	StateChunking,
	StateEmbedding,
	StateEnrichingMetadata,
	StateIndexing,
}

// Terminal 报告该状态是否不再被自动推进。
func (s State) Terminal() bool {
	switch s {
	case StateIndexed, StateFailed, StateTombstoned:
		return true
	}
	return false
}

// IsStage 报告该状态是否是一个处理阶段。
func (s State) IsStage() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}
