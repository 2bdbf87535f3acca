package model

import (
	"time"

	"aec-rag-go/internal/apperr"
)

// PipelineRecord 对应 pipeline_records 表，每个文档一行。
// processing_state 与 retry_count 只由 Orchestrator 写入。
type PipelineRecord struct {
	DocumentID          string     `gorm:"type:varchar(64);primaryKey" json:"documentId"`
	SourceURI           string     `gorm:"type:varchar(1024);not null" json:"sourceUri"`
	ContentHash         string     `gorm:"type:varchar(64)" json:"contentHash"`
	IndexedHash         string     `gorm:"type:varchar(64)" json:"indexedHash"`
	Category            string     `gorm:"type:varchar(128);index" json:"category"`
	ContentType         string     `gorm:"type:varchar(128)" json:"contentType"`
	State               State      `gorm:"type:varchar(32);not null;index" json:"state"`
	FailedStage         State      `gorm:"type:varchar(32)" json:"failedStage,omitempty"`
	RetryCount          int        `gorm:"not null;default:0" json:"retryCount"`
	LastError           *string    `gorm:"type:text" json:"lastError"`
	ErrorClass          string     `gorm:"type:varchar(32)" json:"errorClass,omitempty"`
	CommittedGeneration int64      `gorm:"not null;default:0" json:"committedGeneration"`
	// GenerationSeq 是已分配过的最大 generation，只增不减，墓碑化也不重置。
	GenerationSeq int64 `gorm:"not null;default:0" json:"-"`
	ChunkCount          int        `gorm:"not null;default:0" json:"chunkCount"`
	LastSeenAt          time.Time  `json:"lastSeenAt"`
	NextAttemptAt       *time.Time `json:"nextAttemptAt,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PipelineRecord) TableName() string {
	return "pipeline_records"
}

// SetError 记录最近一次错误；传入 nil 时清空。
// 只保存 apperr.Public 的描述，外部服务返回的原始内容不落库。
func (r *PipelineRecord) SetError(err error, class string) {
	if err == nil {
		r.LastError = nil
		r.ErrorClass = ""
		return
	}
	msg := apperr.Public(err)
	r.LastError = &msg
	r.ErrorClass = class
}

// ScanWatermark 对应 scan_watermarks 表，记录每个数据源上一次成功扫描的时间。
type ScanWatermark struct {
	Source    string    `gorm:"type:varchar(255);primaryKey"`
	Watermark time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ScanWatermark) TableName() string {
	return "scan_watermarks"
}
