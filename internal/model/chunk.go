package model

import "time"

// Chunk 是流水线内存中流转的分块。
type Chunk struct {
	ChunkID        string
	DocumentID     string
	SequenceIndex  int
	Text           string
	TokenCount     int
	ContentHash    string
	OversizedSplit bool
	Embedding      []float32
	Metadata       map[string][]string
}

// ChunkRecord 对应 document_chunks 表，是已提交分块集合的目录。
// 向量本身只存放在向量索引中。
type ChunkRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ChunkID        string    `gorm:"type:varchar(64);not null;index"`
	DocumentID     string    `gorm:"type:varchar(64);not null;index"`
	Generation     int64     `gorm:"not null"`
	SequenceIndex  int       `gorm:"not null"`
	TokenCount     int       `gorm:"not null"`
	ContentHash    string    `gorm:"type:varchar(64);not null;index"`
	OversizedSplit bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (ChunkRecord) TableName() string {
	return "document_chunks"
}

// IndexedChunk 是写入向量索引的一条记录。
// 同一分块在不同 generation 下以不同的 EntryID 存在，读取时只认已提交的 generation。
type IndexedChunk struct {
	EntryID        string              `json:"entry_id"`
	ChunkID        string              `json:"chunk_id"`
	DocumentID     string              `json:"document_id"`
	Generation     int64               `json:"generation"`
	SequenceIndex  int                 `json:"sequence_index"`
	Text           string              `json:"text"`
	TokenCount     int                 `json:"token_count"`
	ContentHash    string              `json:"content_hash"`
	Category       string              `json:"category"`
	SourceURI      string              `json:"source_uri"`
	OversizedSplit bool                `json:"oversized_split"`
	Metadata       map[string][]string `json:"metadata,omitempty"`
	Vector         []float32           `json:"vector,omitempty"`
	ModelVersion   string              `json:"model_version"`
	IndexedAt      time.Time           `json:"indexed_at"`
}

// ScoredChunk 是一次相似度检索的命中结果。
type ScoredChunk struct {
	IndexedChunk
	Similarity float64 `json:"similarity"`
}
