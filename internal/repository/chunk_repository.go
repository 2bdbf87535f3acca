package repository

import (
	"context"
	"fmt"

	"aec-rag-go/internal/model"

	"gorm.io/gorm"
)

type chunkCatalog struct {
	db *gorm.DB
}

// NewChunkCatalog 创建一个基于 document_chunks 与 pipeline_records 表的 ChunkCatalog。
func NewChunkCatalog(db *gorm.DB) ChunkCatalog {
	return &chunkCatalog{db: db}
}

// NextGeneration 递增 generation_seq 并返回新值。
func (c *chunkCatalog) NextGeneration(ctx context.Context, documentID string) (int64, error) {
	var gen int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PipelineRecord{}).
			Where("document_id = ?", documentID).
			Update("generation_seq", gorm.Expr("GREATEST(generation_seq, committed_generation) + 1"))
		if res.Error != nil {
			return fmt.Errorf("分配 generation 失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
		}
		return tx.Model(&model.PipelineRecord{}).
			Select("generation_seq").
			Where("document_id = ?", documentID).
			Scan(&gen).Error
	})
	return gen, err
}

// CommitGeneration 在同一事务里替换分块目录并切换 committed_generation，
// 读者要么看到旧的分块集合，要么看到完整的新集合。
func (c *chunkCatalog) CommitGeneration(ctx context.Context, documentID string, generation int64, contentHash string, chunks []model.ChunkRecord) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.ChunkRecord{}).Error; err != nil {
			return fmt.Errorf("清理旧分块目录失败: %w", err)
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
				return fmt.Errorf("写入分块目录失败: %w", err)
			}
		}
		res := tx.Model(&model.PipelineRecord{}).
			Where("document_id = ?", documentID).
			Updates(map[string]interface{}{
				"committed_generation": generation,
				"indexed_hash":         contentHash,
				"chunk_count":          len(chunks),
			})
		if res.Error != nil {
			return fmt.Errorf("切换 committed_generation 失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
		}
		return nil
	})
}

func (c *chunkCatalog) ClearGeneration(ctx context.Context, documentID string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.ChunkRecord{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.PipelineRecord{}).
			Where("document_id = ?", documentID).
			Updates(map[string]interface{}{
				"committed_generation": 0,
				"indexed_hash":         "",
				"chunk_count":          0,
			}).Error
	})
}

func (c *chunkCatalog) CommittedGenerations(ctx context.Context, documentIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		DocumentID          string
		CommittedGeneration int64
	}
	err := c.db.WithContext(ctx).Model(&model.PipelineRecord{}).
		Select("document_id", "committed_generation").
		Where("document_id IN ? AND state <> ?", documentIDs, model.StateTombstoned).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.DocumentID] = row.CommittedGeneration
	}
	return out, nil
}

func (c *chunkCatalog) ListChunks(ctx context.Context, documentID string) ([]model.ChunkRecord, error) {
	var chunks []model.ChunkRecord
	err := c.db.WithContext(ctx).Where("document_id = ?", documentID).Order("sequence_index asc").Find(&chunks).Error
	return chunks, err
}
