package model

// QueryContext 是一次查询的中间结果：问题和经过排序、裁剪后的上下文分块。
type QueryContext struct {
	Question  string
	Category  string
	Candidate int
	Chunks    []ScoredChunk
	Tokens    int
}

// Citation 指向答案所引用的分块，顺序与提供给模型的上下文一致。
type Citation struct {
	Index         int     `json:"index"`
	DocumentID    string  `json:"documentId"`
	ChunkID       string  `json:"chunkId"`
	SourceURI     string  `json:"sourceUri"`
	Category      string  `json:"category,omitempty"`
	SequenceIndex int     `json:"sequenceIndex"`
	Similarity    float64 `json:"similarity"`
}

// Answer 是查询引擎的最终输出。
type Answer struct {
	Question   string     `json:"question"`
	Text       string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Sufficient bool       `json:"sufficient"`
	Reason     string     `json:"reason,omitempty"`
}
