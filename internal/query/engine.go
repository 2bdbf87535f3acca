// Package query 实现检索问答：问题向量化 → top-k 检索 → 按文档限额重排 →
// 按 token 预算组装上下文 → 调用补全生成答案并返回引用。
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/chunker"
	"aec-rag-go/internal/config"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/provider"
	"aec-rag-go/internal/vectorstore"
	"aec-rag-go/pkg/log"
)

// ErrEmptyQuestion 表示问题为空。
var ErrEmptyQuestion = fmt.Errorf("%w: question is empty", apperr.ErrTerminalInput)

// ReasonInsufficientContext 是没有足够相关分块时答案的 Reason。
const ReasonInsufficientContext = "insufficient_context"

const defaultInsufficientText = "I couldn't find relevant information in the indexed documents to answer this question."

// Searcher 是向量检索的读端，indexer.Reader 实现了它。
type Searcher interface {
	Search(ctx context.Context, req vectorstore.SearchRequest) ([]model.ScoredChunk, error)
}

// Options 控制检索和上下文组装。
type Options struct {
	TopK                 int
	MinSimilarity        float64
	MaxChunksPerDocument int
	ContextTokenBudget   int
	InsufficientText     string
}

// OptionsFromConfig 从配置构造 Options。
func OptionsFromConfig(cfg config.QueryConfig) Options {
	return Options{
		TopK:                 cfg.TopK,
		MinSimilarity:        cfg.MinSimilarity,
		MaxChunksPerDocument: cfg.MaxChunksPerDocument,
		ContextTokenBudget:   cfg.ContextTokenBudget,
		InsufficientText:     cfg.InsufficientText,
	}
}

// Request 是一次提问。Category 为空时不过滤。
type Request struct {
	Question string `json:"question"`
	Category string `json:"category,omitempty"`
}

// Engine 是只读的查询引擎，可以被任意多个请求并发使用。
type Engine struct {
	embedder  provider.Embedder
	searcher  Searcher
	completer provider.Completer
	opts      Options
}

// NewEngine 创建 Engine。
func NewEngine(embedder provider.Embedder, searcher Searcher, completer provider.Completer, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	if opts.MaxChunksPerDocument <= 0 {
		opts.MaxChunksPerDocument = 3
	}
	if opts.ContextTokenBudget <= 0 {
		opts.ContextTokenBudget = 3000
	}
	if opts.InsufficientText == "" {
		opts.InsufficientText = defaultInsufficientText
	}
	return &Engine{embedder: embedder, searcher: searcher, completer: completer, opts: opts}
}

// Retrieve 返回排序、限额和预算裁剪之后的上下文。
func (e *Engine) Retrieve(ctx context.Context, req Request) (*model.QueryContext, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	vec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %w", apperr.ErrRetrievalFailed, err)
	}
	hits, err := e.searcher.Search(ctx, vectorstore.SearchRequest{
		Vector:        vec,
		K:             e.opts.TopK,
		Category:      req.Category,
		MinSimilarity: e.opts.MinSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrRetrievalFailed, err)
	}

	relevant := make([]model.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= e.opts.MinSimilarity {
			relevant = append(relevant, h)
		}
	}
	rank(relevant)
	capped := capPerDocument(relevant, e.opts.MaxChunksPerDocument)
	chunks, tokens := fitBudget(capped, e.opts.ContextTokenBudget)

	log.Infof("[QueryEngine] 检索完成, 候选: %d, 相关: %d, 去重后: %d, 入选: %d, tokens: %d",
		len(hits), len(relevant), len(capped), len(chunks), tokens)
	return &model.QueryContext{
		Question:  question,
		Category:  req.Category,
		Candidate: len(hits),
		Chunks:    chunks,
		Tokens:    tokens,
	}, nil
}

// Ask 检索并生成答案。没有相关分块时直接返回“上下文不足”的答案，不调用补全。
func (e *Engine) Ask(ctx context.Context, req Request) (*model.Answer, error) {
	return e.answer(ctx, req, func(qc *model.QueryContext) (string, error) {
		return e.completer.Generate(ctx, qc.Question, qc.Chunks)
	})
}

// AskStream 与 Ask 相同，但通过 onDelta 增量输出答案。
// 补全实现不支持流式时，完整答案作为一次增量输出。
func (e *Engine) AskStream(ctx context.Context, req Request, onDelta func(string) error) (*model.Answer, error) {
	return e.answer(ctx, req, func(qc *model.QueryContext) (string, error) {
		if sc, ok := e.completer.(provider.StreamingCompleter); ok {
			return sc.GenerateStream(ctx, qc.Question, qc.Chunks, onDelta)
		}
		text, err := e.completer.Generate(ctx, qc.Question, qc.Chunks)
		if err != nil {
			return "", err
		}
		return text, onDelta(text)
	})
}

func (e *Engine) answer(ctx context.Context, req Request, generate func(*model.QueryContext) (string, error)) (*model.Answer, error) {
	qc, err := e.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(qc.Chunks) == 0 {
		log.Infof("[QueryEngine] 没有高于阈值 %.2f 的分块, 返回上下文不足", e.opts.MinSimilarity)
		return &model.Answer{
			Question:   qc.Question,
			Text:       e.opts.InsufficientText,
			Citations:  []model.Citation{},
			Sufficient: false,
			Reason:     ReasonInsufficientContext,
		}, nil
	}

	text, err := generate(qc)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Warnf("[QueryEngine] 生成答案失败: %v", err)
		return nil, fmt.Errorf("%w: %w", apperr.ErrAnswerGenerationFailed, err)
	}
	return &model.Answer{
		Question:   qc.Question,
		Text:       text,
		Citations:  Citations(qc.Chunks),
		Sufficient: true,
	}, nil
}

// Citations 按上下文顺序生成引用，Index 与提示词中的 [n] 对应。
func Citations(chunks []model.ScoredChunk) []model.Citation {
	out := make([]model.Citation, len(chunks))
	for i, c := range chunks {
		out[i] = model.Citation{
			Index:         i + 1,
			DocumentID:    c.DocumentID,
			ChunkID:       c.ChunkID,
			SourceURI:     c.SourceURI,
			Category:      c.Category,
			SequenceIndex: c.SequenceIndex,
			Similarity:    c.Similarity,
		}
	}
	return out
}

// rank 按相似度降序排序；相同相似度按文档和序号排序，保证结果确定。
func rank(chunks []model.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.SequenceIndex < b.SequenceIndex
	})
}

// capPerDocument 保留每个文档排名最高的 limit 个分块，并去掉重复的分块。
func capPerDocument(chunks []model.ScoredChunk, limit int) []model.ScoredChunk {
	perDoc := make(map[string]int)
	seen := make(map[string]struct{})
	out := make([]model.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if _, dup := seen[c.ChunkID]; dup {
			continue
		}
		if perDoc[c.DocumentID] >= limit {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		perDoc[c.DocumentID]++
		out = append(out, c)
	}
	return out
}

// fitBudget 按排名顺序贪心加入分块；放不下的分块被跳过，后面更小的分块仍可加入。
func fitBudget(chunks []model.ScoredChunk, budget int) ([]model.ScoredChunk, int) {
	out := make([]model.ScoredChunk, 0, len(chunks))
	used := 0
	for _, c := range chunks {
		n := c.TokenCount
		if n <= 0 {
			n = chunker.CountTokens(c.Text)
		}
		if used+n > budget {
			continue
		}
		used += n
		out = append(out, c)
	}
	return out, used
}
