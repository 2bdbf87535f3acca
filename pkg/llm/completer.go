package llm

import (
	"context"
	"fmt"
	"strings"

	"aec-rag-go/internal/config"
	"aec-rag-go/internal/model"
	"aec-rag-go/internal/provider"
)

const (
	defaultRefStart = "<<REF>>"
	defaultRefEnd   = "<<END>>"
	defaultNoResult = "（本轮无检索结果）"
	defaultRules    = "You answer questions about architecture, engineering and construction documents. " +
		"Use only the numbered references between the markers. Cite references as [n]. " +
		"If the references do not contain the answer, say so."
)

// Completer 用检索到的分块组装提示词并调用聊天接口，实现 provider.StreamingCompleter。
type Completer struct {
	client *Client
	prompt config.LLMPromptConfig
	gen    *GenerationParams
}

var _ provider.StreamingCompleter = (*Completer)(nil)

// NewCompleter 创建 Completer。
func NewCompleter(client *Client, cfg config.LLMConfig) *Completer {
	return &Completer{client: client, prompt: cfg.Prompt, gen: DefaultParams(cfg.Generation)}
}

// BuildContextText 把分块按顺序编号为 [n] (来源) 正文。
func BuildContextText(chunks []model.ScoredChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		label := c.SourceURI
		if label == "" {
			label = "unknown"
		}
		b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, label, c.Text))
	}
	return b.String()
}

// BuildSystemMessage 组装系统提示：规则 + 包裹在引用标记之间的上下文。
func BuildSystemMessage(p config.LLMPromptConfig, contextText string) string {
	rules := p.Rules
	if rules == "" {
		rules = defaultRules
	}
	refStart := p.RefStart
	if refStart == "" {
		refStart = defaultRefStart
	}
	refEnd := p.RefEnd
	if refEnd == "" {
		refEnd = defaultRefEnd
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := p.NoResultText
		if noRes == "" {
			noRes = defaultNoResult
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (c *Completer) messages(question string, chunks []model.ScoredChunk) []Message {
	return []Message{
		{Role: "system", Content: BuildSystemMessage(c.prompt, BuildContextText(chunks))},
		{Role: "user", Content: question},
	}
}

func (c *Completer) Generate(ctx context.Context, question string, chunks []model.ScoredChunk) (string, error) {
	return c.client.Chat(ctx, c.messages(question, chunks), c.gen)
}

func (c *Completer) GenerateStream(ctx context.Context, question string, chunks []model.ScoredChunk, onDelta func(string) error) (string, error) {
	return c.client.StreamChatMessages(ctx, c.messages(question, chunks), c.gen, onDelta)
}
