// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/fingerprint"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/pipeline"
	"aec-rag-go/internal/provider"
	"aec-rag-go/internal/repository"
	"aec-rag-go/internal/scheduler"
	"aec-rag-go/pkg/extract"
	"aec-rag-go/pkg/log"
	"aec-rag-go/pkg/tasks"
)

// DocumentStatus 是文档状态查询的结果：处理状态加上已提交的分块目录。
type DocumentStatus struct {
	model.DocumentStatus
	Chunks []model.ChunkRecord `json:"chunks"`
}

// UploadResult 描述一次手动上传。
type UploadResult struct {
	DocumentID  string `json:"documentId"`
	SourceURI   string `json:"sourceUri"`
	ContentHash string `json:"contentHash"`
	Category    string `json:"category"`
}

// Orchestrator 是 DocumentService 需要的编排器操作。
type Orchestrator interface {
	Status(ctx context.Context, documentID string) (*model.PipelineRecord, error)
	ResubmitTask(ctx context.Context, documentID string) (tasks.DocumentTask, error)
	Tombstone(ctx context.Context, documentID string) (*model.PipelineRecord, error)
}

// Scanner 触发一次全量扫描。
type Scanner interface {
	FullScan(ctx context.Context) (scheduler.ScanReport, error)
}

// DocumentService 接口定义了文档运维相关的业务操作。
type DocumentService interface {
	Status(ctx context.Context, documentID string) (*DocumentStatus, error)
	Resubmit(ctx context.Context, documentID string) (*model.PipelineRecord, error)
	Tombstone(ctx context.Context, documentID string) (*model.PipelineRecord, error)
	Upload(ctx context.Context, name, category string, r io.Reader, size int64) (*UploadResult, error)
	Rescan(ctx context.Context) (scheduler.ScanReport, error)
}

type documentService struct {
	orch    Orchestrator
	catalog repository.ChunkCatalog
	queue   pipeline.Enqueuer
	uploads provider.ObjectWriter
	scanner Scanner
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(orch Orchestrator, catalog repository.ChunkCatalog, queue pipeline.Enqueuer, uploads provider.ObjectWriter, scanner Scanner) DocumentService {
	return &documentService{orch: orch, catalog: catalog, queue: queue, uploads: uploads, scanner: scanner}
}

// Status 返回处理记录和已提交的分块目录。
func (s *documentService) Status(ctx context.Context, documentID string) (*DocumentStatus, error) {
	rec, err := s.orch.Status(ctx, documentID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.catalog.ListChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []model.ChunkRecord{}
	}
	return &DocumentStatus{DocumentStatus: model.StatusOf(rec), Chunks: chunks}, nil
}

// Resubmit 强制重新处理文档，用于人工处理终止失败的文档。
func (s *documentService) Resubmit(ctx context.Context, documentID string) (*model.PipelineRecord, error) {
	task, err := s.orch.ResubmitTask(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("投递重新处理任务失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已重新提交, document: %s", documentID)
	return s.orch.Status(ctx, documentID)
}

// Tombstone 让文档对检索不可见。
func (s *documentService) Tombstone(ctx context.Context, documentID string) (*model.PipelineRecord, error) {
	return s.orch.Tombstone(ctx, documentID)
}

// Upload 把文件写入文档来源并投递处理任务。category 为空时放在默认类别目录下。
func (s *documentService) Upload(ctx context.Context, name, category string, r io.Reader, size int64) (*UploadResult, error) {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: 文件名为空", apperr.ErrTerminalInput)
	}
	contentType := extract.ContentTypeFor(name)
	if contentType == "" {
		return nil, fmt.Errorf("%w: 不支持的文件类型 %s", apperr.ErrTerminalInput, path.Ext(name))
	}
	if category == "" {
		category = scheduler.DefaultCategory
	}
	if strings.ContainsAny(category, "/\\") || category == "." || category == ".." {
		return nil, fmt.Errorf("%w: 无效的类别 %q", apperr.ErrTerminalInput, category)
	}

	info, err := s.uploads.Put(ctx, category+"/"+name, r, size, contentType)
	if err != nil {
		return nil, err
	}
	task := tasks.DocumentTask{
		DocumentID:  fingerprint.DocumentID(info.URI),
		SourceURI:   info.URI,
		ContentHash: info.ContentHash,
		ContentType: contentType,
		Category:    category,
		ObservedAt:  time.Now(),
		Trigger:     tasks.TriggerUpload,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("投递上传任务失败: %w", err)
	}
	log.Infof("[DocumentService] 上传完成并已投递, uri: %s, category: %s", info.URI, category)
	return &UploadResult{DocumentID: task.DocumentID, SourceURI: info.URI, ContentHash: info.ContentHash, Category: category}, nil
}

// Rescan 立即执行一次全量扫描。
func (s *documentService) Rescan(ctx context.Context) (scheduler.ScanReport, error) {
	return s.scanner.FullScan(ctx)
}
