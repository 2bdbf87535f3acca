package repository

import (
	"context"
	"errors"
	"time"

	"aec-rag-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type watermarkRepository struct {
	db *gorm.DB
}

// NewWatermarkRepository 创建一个基于 scan_watermarks 表的 WatermarkRepository。
func NewWatermarkRepository(db *gorm.DB) WatermarkRepository {
	return &watermarkRepository{db: db}
}

func (r *watermarkRepository) Load(ctx context.Context, source string) (time.Time, error) {
	var wm model.ScanWatermark
	err := r.db.WithContext(ctx).Where("source = ?", source).First(&wm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return wm.Watermark, nil
}

func (r *watermarkRepository) Save(ctx context.Context, source string, watermark time.Time) error {
	wm := model.ScanWatermark{Source: source, Watermark: watermark}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"watermark", "updated_at"}),
	}).Create(&wm).Error
}
