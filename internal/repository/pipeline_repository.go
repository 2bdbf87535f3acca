package repository

import (
	"context"
	"errors"

	"aec-rag-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pipelineRepository struct {
	db *gorm.DB
}

// NewPipelineRepository 创建一个新的 PipelineRepository 实例。
func NewPipelineRepository(db *gorm.DB) PipelineRepository {
	return &pipelineRepository{db: db}
}

// Insert 依赖主键唯一约束保证每个 document_id 只有一条记录。
func (r *pipelineRepository) Insert(ctx context.Context, rec *model.PipelineRecord) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pipelineRepository) Get(ctx context.Context, documentID string) (*model.PipelineRecord, error) {
	var rec model.PipelineRecord
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *pipelineRepository) Save(ctx context.Context, rec *model.PipelineRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *pipelineRepository) ListActive(ctx context.Context) ([]*model.PipelineRecord, error) {
	var recs []*model.PipelineRecord
	err := r.db.WithContext(ctx).Where("state <> ?", model.StateTombstoned).Find(&recs).Error
	return recs, err
}

func (r *pipelineRepository) ListNonTerminal(ctx context.Context) ([]*model.PipelineRecord, error) {
	var recs []*model.PipelineRecord
	err := r.db.WithContext(ctx).
		Where("state NOT IN ?", []model.State{model.StateIndexed, model.StateFailed, model.StateTombstoned}).
		Find(&recs).Error
	return recs, err
}
