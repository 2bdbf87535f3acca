package provider

import (
	"context"

	"aec-rag-go/internal/model"
	"aec-rag-go/pkg/limiter"
)

// 以下装饰器把每次外部调用放进对应服务的准入窗口。

type limitedExtractor struct {
	next   Extractor
	window *limiter.Window
}

// LimitExtractor 用窗口包装 Extractor。
func LimitExtractor(next Extractor, w *limiter.Window) Extractor {
	return &limitedExtractor{next: next, window: w}
}

func (l *limitedExtractor) Extract(ctx context.Context, data []byte, contentType string) (Extraction, error) {
	var out Extraction
	err := l.window.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.next.Extract(ctx, data, contentType)
		return err
	})
	return out, err
}

type limitedEmbedder struct {
	next   Embedder
	window *limiter.Window
}

// LimitEmbedder 用窗口包装 Embedder。
func LimitEmbedder(next Embedder, w *limiter.Window) Embedder {
	return &limitedEmbedder{next: next, window: w}
}

func (l *limitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := l.window.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.next.Embed(ctx, text)
		return err
	})
	return out, err
}

type limitedEntities struct {
	next   EntityExtractor
	window *limiter.Window
}

// LimitEntityExtractor 用窗口包装 EntityExtractor。
func LimitEntityExtractor(next EntityExtractor, w *limiter.Window) EntityExtractor {
	return &limitedEntities{next: next, window: w}
}

func (l *limitedEntities) ExtractEntities(ctx context.Context, text string) (map[string][]string, error) {
	var out map[string][]string
	err := l.window.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.next.ExtractEntities(ctx, text)
		return err
	})
	return out, err
}

type limitedCompleter struct {
	next   StreamingCompleter
	window *limiter.Window
}

// LimitCompleter 用窗口包装 StreamingCompleter。
func LimitCompleter(next StreamingCompleter, w *limiter.Window) StreamingCompleter {
	return &limitedCompleter{next: next, window: w}
}

func (l *limitedCompleter) Generate(ctx context.Context, question string, chunks []model.ScoredChunk) (string, error) {
	var out string
	err := l.window.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.next.Generate(ctx, question, chunks)
		return err
	})
	return out, err
}

func (l *limitedCompleter) GenerateStream(ctx context.Context, question string, chunks []model.ScoredChunk, onDelta func(string) error) (string, error) {
	var out string
	err := l.window.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.next.GenerateStream(ctx, question, chunks, onDelta)
		return err
	})
	return out, err
}
