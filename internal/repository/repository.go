// Package repository 定义了流水线状态、分块目录和扫描水位的持久化接口与 GORM 实现。
package repository

import (
	"context"
	"errors"
	"time"

	"aec-rag-go/internal/model"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// PipelineRepository 是 pipeline_records 表的数据操作接口。
type PipelineRepository interface {
	// Insert 创建记录；document_id 已存在时不修改并返回 false。
	Insert(ctx context.Context, rec *model.PipelineRecord) (bool, error)
	Get(ctx context.Context, documentID string) (*model.PipelineRecord, error)
	Save(ctx context.Context, rec *model.PipelineRecord) error
	// ListActive 返回所有未被墓碑化的记录。
	ListActive(ctx context.Context) ([]*model.PipelineRecord, error)
	// ListNonTerminal 返回所有处于非终态的记录。
	ListNonTerminal(ctx context.Context) ([]*model.PipelineRecord, error)
}

// ChunkCatalog 维护每个文档已提交的分块集合和 generation。
type ChunkCatalog interface {
	// NextGeneration 分配一个该文档从未使用过的 generation。
	NextGeneration(ctx context.Context, documentID string) (int64, error)
	// CommitGeneration 在一个事务内替换文档的分块目录并切换已提交的 generation。
	CommitGeneration(ctx context.Context, documentID string, generation int64, contentHash string, chunks []model.ChunkRecord) error
	// ClearGeneration 清空文档的分块目录，使其不再对读者可见。
	ClearGeneration(ctx context.Context, documentID string) error
	CommittedGenerations(ctx context.Context, documentIDs []string) (map[string]int64, error)
	ListChunks(ctx context.Context, documentID string) ([]model.ChunkRecord, error)
}

// WatermarkRepository 持久化每个数据源的扫描水位。
type WatermarkRepository interface {
	// Load 返回上次保存的水位；从未保存时返回零值。
	Load(ctx context.Context, source string) (time.Time, error)
	Save(ctx context.Context, source string, watermark time.Time) error
}
