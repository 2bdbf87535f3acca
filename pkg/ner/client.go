// Package ner 调用 OpenAI 兼容的聊天模型识别分块中的命名实体。
package ner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/config"
	"aec-rag-go/internal/provider"
	"aec-rag-go/pkg/log"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const providerName = "ner"

// 模型输出 JSON 不合法时的最大尝试次数。
const maxAttempts = 3

var defaultEntityTypes = []string{
	"project", "organization", "person", "location", "building_element",
	"material", "standard", "specification_section", "drawing_number", "date",
}

// Client 实现 provider.EntityExtractor。
type Client struct {
	model       llms.Model
	entityTypes []string
}

var _ provider.EntityExtractor = (*Client)(nil)

// NewClient 按配置创建 langchaingo 的 OpenAI 客户端。
func NewClient(cfg config.NERConfig) (*Client, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	m, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, apperr.Configuration("初始化 NER 模型失败: %v", err)
	}
	return NewWithModel(m, cfg.EntityTypes), nil
}

// NewWithModel 使用给定的 llms.Model。
func NewWithModel(m llms.Model, entityTypes []string) *Client {
	if len(entityTypes) == 0 {
		entityTypes = defaultEntityTypes
	}
	return &Client{model: m, entityTypes: entityTypes}
}

type entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

type analysis struct {
	Entities []entity `json:"entities"`
}

func (c *Client) systemPrompt() string {
	return "You extract named entities from construction and engineering documents. " +
		"Allowed labels: " + strings.Join(c.entityTypes, ", ") + ". " +
		`Reply with JSON only, in the form {"entities":[{"text":"...","label":"..."}]}. ` +
		`Return {"entities":[]} when nothing matches.`
}

// ExtractEntities 返回实体类型到去重、排序后取值的映射。
func (c *Client) ExtractEntities(ctx context.Context, text string) (map[string][]string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, c.systemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			return nil, apperr.FromTransport(providerName, err)
		}
		if len(resp.Choices) == 0 {
			return map[string][]string{}, nil
		}
		choice := resp.Choices[0]
		if choice.StopReason == "content_filter" {
			return nil, apperr.NewProviderError(providerName, apperr.KindContentFiltered, fmt.Errorf("response blocked by content filter"))
		}
		entities, err := Parse(choice.Content, c.entityTypes)
		if err == nil {
			return entities, nil
		}
		lastErr = err
		log.Warnf("[NER] 第 %d 次解析模型输出失败: %v", attempt, err)
	}
	return nil, apperr.NewProviderError(providerName, apperr.KindUnavailable, fmt.Errorf("模型输出无法解析: %w", lastErr))
}

// Parse 解析模型输出，容忍 Markdown 代码围栏和尾随逗号，丢弃不在 allowed 中的标签。
func Parse(raw string, allowed []string) (map[string][]string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = repairJSON(strings.TrimSpace(s))

	var a analysis
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, err
	}

	ok := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		ok[strings.ToLower(t)] = true
	}
	seen := make(map[string]map[string]bool)
	out := make(map[string][]string)
	for _, e := range a.Entities {
		label := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(e.Label)), " ", "_")
		value := strings.TrimSpace(e.Text)
		if label == "" || value == "" || (len(ok) > 0 && !ok[label]) {
			continue
		}
		if seen[label] == nil {
			seen[label] = make(map[string]bool)
		}
		if seen[label][value] {
			continue
		}
		seen[label][value] = true
		out[label] = append(out[label], value)
	}
	for label := range out {
		sort.Strings(out[label])
	}
	return out, nil
}

// repairJSON 去掉 } 或 ] 之前的尾随逗号。
func repairJSON(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
		}
		if ch == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}
