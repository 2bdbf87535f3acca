// Package provider 定义了编排器与外部服务之间的窄接口。
//
// 所有实现都必须在返回前把失败归类为 apperr.ProviderError，
// 编排器只根据分类决定重试还是终止。
package provider

import (
	"context"
	"errors"
	"io"
	"time"

	"aec-rag-go/internal/model"
)

// ErrObjectNotFound 表示对象存储中不存在该对象。
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 描述对象存储中的一个对象。
type ObjectInfo struct {
	URI         string
	Key         string
	ContentHash string
	ContentType string
	Size        int64
	ModifiedAt  time.Time
	// Err 非空表示对象已列出但无法读取内容计算哈希，其余字段只有 URI 和 Key 可信。
	Err error
}

// ObjectStore 是文档来源。
type ObjectStore interface {
	// ListChangedSince 列出修改时间不早于 since 的对象；since 为零值时列出全部。
	// 单个对象读取失败时仍返回该对象并设置 ObjectInfo.Err，只有列举本身失败才返回 error。
	ListChangedSince(ctx context.Context, since time.Time) ([]ObjectInfo, error)
	Read(ctx context.Context, uri string) ([]byte, error)
	Stat(ctx context.Context, uri string) (ObjectInfo, error)
	// Name 标识该来源，用作扫描水位的键。
	Name() string
}

// ObjectWriter 支持手动上传。
type ObjectWriter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error)
}

// EventKind 区分对象变更通知的类型。
type EventKind int

const (
	ObjectUpserted EventKind = iota
	ObjectRemoved
)

// ObjectEvent 是一条对象变更通知。
type ObjectEvent struct {
	URI  string
	Kind EventKind
}

// Extraction 是抽取结果：纯文本和结构单元起始的字节偏移。
type Extraction struct {
	Text        string `json:"text"`
	Hints       []int  `json:"hints,omitempty"`
	ContentType string `json:"content_type"`
}

// Extractor 把原始字节转成文本。
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (Extraction, error)
}

// Embedder 把文本转成向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EntityExtractor 识别文本中的命名实体，返回实体类型到取值的映射。
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) (map[string][]string, error)
}

// Completer 根据问题和上下文分块生成答案。
type Completer interface {
	Generate(ctx context.Context, question string, chunks []model.ScoredChunk) (string, error)
}

// StreamingCompleter 以增量方式输出答案，返回完整文本。
type StreamingCompleter interface {
	Completer
	GenerateStream(ctx context.Context, question string, chunks []model.ScoredChunk, onDelta func(string) error) (string, error)
}
